package acnet

import (
	"fmt"
)

// Identifier of an outstanding request. Bounded by the 16 bit field in the header
type ReqId uint16

func (id ReqId) String() string {
	return fmt.Sprintf("0x%04x", uint16(id))
}

// Address of an ACNET node. The trunk is in the high byte and the node in the low byte
type TrunkNode uint16

func NewTrunkNode(trunk uint8, node uint8) TrunkNode {
	return TrunkNode(uint16(trunk)<<8 | uint16(node))
}

func (tn TrunkNode) Trunk() uint8 {
	return uint8(tn >> 8)
}

func (tn TrunkNode) Node() uint8 {
	return uint8(tn)
}

func (tn TrunkNode) Raw() uint16 {
	return uint16(tn)
}

func (tn TrunkNode) String() string {
	return fmt.Sprintf("%02x%02x", tn.Trunk(), tn.Node())
}

// Rad50 encoded name of a task
type TaskHandle uint32

func (th TaskHandle) Raw() uint32 {
	return uint32(th)
}

func (th TaskHandle) String() string {
	return Rad50Decode(uint32(th))
}

// Rad50 encoded name of a node
type NodeName uint32

func (nn NodeName) Raw() uint32 {
	return uint32(nn)
}

func (nn NodeName) String() string {
	return Rad50Decode(uint32(nn))
}

// Header flags
const (
	FLG_USM  uint16 = 0x0000
	FLG_MLT  uint16 = 0x0001
	FLG_REQ  uint16 = 0x0002
	FLG_RPY  uint16 = 0x0004
	FLG_TYPE uint16 = 0x000e
	FLG_CAN  uint16 = FLG_USM | 0x0200
)

// Status codes. The low byte is the facility (1 for ACNET) and the high byte the error number
type Status int16

func makeStatus(facility int16, err int16) Status {
	return Status(facility + err*256)
}

var (
	ACNET_SUCCESS      = Status(0)
	ACNET_PEND         = makeStatus(1, 1)
	ACNET_ENDMULT      = makeStatus(1, 2)
	ACNET_TMO          = makeStatus(1, -6)
	ACNET_DISCONNECTED = makeStatus(1, -34)
)

func (s Status) Facility() int8 {
	return int8(s & 0xff)
}

// Error number within the facility
func (s Status) ErrorNumber() int8 {
	return int8(s >> 8)
}

func (s Status) IsFatal() bool {
	return s < 0
}

func (s Status) String() string {
	switch s {
	case ACNET_SUCCESS:
		return "ACNET_SUCCESS"
	case ACNET_PEND:
		return "ACNET_PEND"
	case ACNET_ENDMULT:
		return "ACNET_ENDMULT"
	case ACNET_TMO:
		return "ACNET_TMO"
	case ACNET_DISCONNECTED:
		return "ACNET_DISCONNECTED"
	default:
		return fmt.Sprintf("[%d %d]", s.Facility(), s.ErrorNumber())
	}
}
