package acnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Size in bytes of the header in the wire
const HeaderSize = 18

// Header of every ACNET packet. The layout of the struct is the layout in the wire, and
// all multibyte fields are sent in network order.
// The "server" side is the node and task that receives the request, the "client" side
// the one that issues it.
type Header struct {
	Flags       uint16
	Status      Status
	SvrNode     TrunkNode
	ClntNode    TrunkNode
	SvrTaskName TaskHandle
	ClntTaskId  uint16
	MsgId       ReqId
	MsgLen      uint16
}

// Builds a header with the length set to the size of the header itself, as used for
// the packets that do not carry data
func NewHeader(flags uint16, status Status, svrNode TrunkNode, clntNode TrunkNode, svrTaskName TaskHandle, clntTaskId uint16, msgId ReqId) Header {
	return Header{
		Flags:       flags,
		Status:      status,
		SvrNode:     svrNode,
		ClntNode:    clntNode,
		SvrTaskName: svrTaskName,
		ClntTaskId:  clntTaskId,
		MsgId:       msgId,
		MsgLen:      HeaderSize,
	}
}

// True if the packet is a reply
func (h *Header) IsReply() bool {
	return h.Flags&FLG_TYPE == FLG_RPY
}

// True if the packet is a request
func (h *Header) IsRequest() bool {
	return h.Flags&FLG_TYPE == FLG_REQ
}

// True if the packet is a cancel message
func (h *Header) IsCancel() bool {
	return h.Flags&FLG_TYPE == FLG_USM && h.Flags&FLG_CAN == FLG_CAN
}

// True if the request wants multiple replies
func (h *Header) IsMultiple() bool {
	return h.Flags&FLG_MLT != 0
}

// Writes the header in wire format
func (h *Header) ToWriter(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.BigEndian, h); err != nil {
		return 0, err
	}
	return HeaderSize, nil
}

// Reads the header from wire format
func (h *Header) FromReader(r io.Reader) (int64, error) {
	if err := binary.Read(r, binary.BigEndian, h); err != nil {
		return 0, err
	}
	if h.MsgLen < HeaderSize {
		return HeaderSize, fmt.Errorf("bad message length %d", h.MsgLen)
	}
	return HeaderSize, nil
}

func (h *Header) MarshalBinary() ([]byte, error) {
	var buffer bytes.Buffer
	if _, err := h.ToWriter(&buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("header too short: %d bytes", len(data))
	}
	_, err := h.FromReader(bytes.NewReader(data))
	return err
}

func (h Header) String() string {
	return fmt.Sprintf("flags: 0x%04x, status: %s, svr: %s/%s, clnt: %s/%d, id: %s, len: %d",
		h.Flags, h.Status, h.SvrNode, h.SvrTaskName, h.ClntNode, h.ClntTaskId, h.MsgId, h.MsgLen)
}
