package acnetserver

import (
	"net"

	"github.com/francistor/acnetd/acnet"
	"github.com/francistor/acnetd/taskpool"
)

//////////////////////////////////////////////////////////////////////////////
// Eventloop messages
//////////////////////////////////////////////////////////////////////////////

// A local task connects to the server. Answered with a TaskConnectedAnswer
type ConnectTaskMsg struct {
	handle acnet.TaskHandle
	sender taskpool.SenderFunc
	rchan  chan interface{}
}

type TaskConnectedAnswer struct {
	TaskId uint16
	Err    error
}

// A local task goes away. Its requests are cancelled
type DisconnectTaskMsg struct {
	taskId uint16
}

// A local task sends a request to a remote node. Answered with a RequestSentAnswer
type SendRequestMsg struct {
	taskId     uint16
	remoteTask acnet.TaskHandle
	remoteNode acnet.TrunkNode
	multiple   bool
	tmoMs      uint32
	data       []byte
	rchan      chan interface{}
}

type RequestSentAnswer struct {
	Id  acnet.ReqId
	Err error
}

// A local task cancels one of its requests. Answered with an error or nil
type CancelRequestMsg struct {
	taskId uint16
	id     acnet.ReqId
	rchan  chan interface{}
}

// The remote node is not reachable. Answered with the number of requests cancelled
type NodeDownMsg struct {
	node  acnet.TrunkNode
	rchan chan interface{}
}

// The readLoop sends this message to the eventLoop when a packet has been received
type PacketReceivedMsg struct {
	remote      net.Addr
	packetBytes []byte
}

// General error reading from the socket
type ReadErrorMsg struct {
	Error error
}

// Terminates the event loop
type CloseCommandMsg struct{}

// Queries

type ActiveRequestsQuery struct {
	selector acnet.Selector
	rchan    chan interface{}
}

type RequestDetailQuery struct {
	id    acnet.ReqId
	rchan chan interface{}
}

type RequestDetailAnswer struct {
	Detail acnet.ReqDetail
	Found  bool
}

type SnapshotQuery struct {
	rchan chan interface{}
}

// Answered with the report as a byte slice or an error
type ReportQuery struct {
	rchan chan interface{}
}

type StatsQuery struct {
	rchan chan interface{}
}

// Counters of the server
type ServerStats struct {
	ActiveRequests    int
	MaxActiveRequests int
	ConnectedTasks    int
	RemovedTasks      uint32
	RepliesReceived   uint32
	UsmsSent          uint32
}
