package reqpool

import (
	"net"
	"time"

	"github.com/francistor/acnetd/acnet"
)

// Local client that issues requests. Owned by the task registry; the RequestPool
// only keeps references to it
type Task interface {
	Id() uint16
	Handle() acnet.TaskHandle

	// Request membership. Return false if the id was already present (add) or
	// not present (remove)
	AddRequest(id acnet.ReqId) bool
	RemoveRequest(id acnet.ReqId) bool

	// Delivers a packet to the client. A false return means that the client
	// connection is broken
	SendDataToClient(hdr *acnet.Header) bool

	// Statistics
	CountReplyReceived()
	CountUsmSent()

	TaskPool() TaskPool
}

// Registry of tasks
type TaskPool interface {
	CountReplyReceived()
	CountUsmSent()

	// Tears down the task. Called when a packet could not be delivered to it
	RemoveTask(task Task)
}

// Sends packets to remote nodes
type Network interface {
	SendDataToNetwork(hdr *acnet.Header, data []byte) bool
}

// Addressing of nodes
type NodeTable interface {
	Address(node acnet.TrunkNode) (net.IP, bool)
	NodeName(node acnet.TrunkNode) (acnet.NodeName, bool)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
