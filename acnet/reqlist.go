package acnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Maximum number of request ids that fit in an active request list reply
const MaxReqListIds = 2048

// Answer to the active requests query
type ReqList struct {
	Total uint16
	Ids   []ReqId
}

// Adds an id to the list. Returns false if the list is full, in which case the id is dropped
func (rl *ReqList) Add(id ReqId) bool {
	if int(rl.Total) >= MaxReqListIds {
		return false
	}
	rl.Ids = append(rl.Ids, id)
	rl.Total++
	return true
}

// Writes the count followed by the ids
func (rl *ReqList) ToWriter(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.BigEndian, rl.Total); err != nil {
		return 0, err
	}
	if err := binary.Write(w, binary.BigEndian, rl.Ids[:rl.Total]); err != nil {
		return 2, err
	}
	return 2 + 2*int64(rl.Total), nil
}

func (rl *ReqList) MarshalBinary() ([]byte, error) {
	var buffer bytes.Buffer
	if _, err := rl.ToWriter(&buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (rl *ReqList) UnmarshalBinary(data []byte) error {
	reader := bytes.NewReader(data)
	if err := binary.Read(reader, binary.BigEndian, &rl.Total); err != nil {
		return err
	}
	if rl.Total > MaxReqListIds {
		return fmt.Errorf("too many ids in list: %d", rl.Total)
	}
	rl.Ids = make([]ReqId, rl.Total)
	return binary.Read(reader, binary.BigEndian, rl.Ids)
}

// Answer to the request detail query. Times are in seconds since the epoch
type ReqDetail struct {
	Id         ReqId
	RemNode    TrunkNode
	RemName    TaskHandle
	LclName    TaskHandle
	InitTime   uint32
	LastUpdate uint32
}

func (rd *ReqDetail) MarshalBinary() ([]byte, error) {
	var buffer bytes.Buffer
	if err := binary.Write(&buffer, binary.BigEndian, rd); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (rd *ReqDetail) UnmarshalBinary(data []byte) error {
	return binary.Read(bytes.NewReader(data), binary.BigEndian, rd)
}

//////////////////////////////////////////////////////////////////////////////

// Criteria for selecting the requests in the active request list
type SelectorKind uint8

const (
	ByRemoteNode SelectorKind = 0
	ByRemoteTask SelectorKind = 1
	ByLocalTask  SelectorKind = 2
)

var ErrBadSelector = errors.New("unknown selector kind")

// A selector with no values selects all requests
type Selector struct {
	Kind  SelectorKind
	Nodes []TrunkNode
	Tasks []TaskHandle
}

func (s Selector) IsEmpty() bool {
	return len(s.Nodes) == 0 && len(s.Tasks) == 0
}

// Builds the selector from the payload of the query, which is a sequence of 16 bit words.
// Task handles take two words. A trailing odd word is ignored
func ParseSelector(subType uint8, data []byte) (Selector, error) {
	sel := Selector{Kind: SelectorKind(subType)}

	switch sel.Kind {
	case ByRemoteNode:
		for len(data) >= 2 {
			sel.Nodes = append(sel.Nodes, TrunkNode(binary.BigEndian.Uint16(data)))
			data = data[2:]
		}

	case ByRemoteTask, ByLocalTask:
		for len(data) >= 4 {
			sel.Tasks = append(sel.Tasks, TaskHandle(binary.BigEndian.Uint32(data)))
			data = data[4:]
		}

	default:
		if len(data) > 0 {
			return sel, fmt.Errorf("%w: %d", ErrBadSelector, subType)
		}
	}

	return sel, nil
}
