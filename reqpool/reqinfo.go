package reqpool

import (
	"time"

	"github.com/francistor/acnetd/acnet"
	"github.com/francistor/acnetd/expqueue"
)

// An outstanding request issued by a local task to a remote node
type ReqInfo struct {
	id acnet.ReqId

	// Not owned
	task Task

	// Target of the request
	taskName acnet.TaskHandle
	lclNode  acnet.TrunkNode
	remNode  acnet.TrunkNode

	flags uint16

	// Clamped at creation
	tmo time.Duration

	initTime time.Time

	// Zero if no reply has been received
	lastUpdate time.Time

	// The remote node has a multicast address
	mcast bool

	totalPackets uint32

	// Position in the expiration queue. nil if detached
	element *expqueue.Element[*ReqInfo]
}

func (r *ReqInfo) Id() acnet.ReqId {
	return r.id
}

func (r *ReqInfo) Task() Task {
	return r.task
}

func (r *ReqInfo) TaskName() acnet.TaskHandle {
	return r.taskName
}

func (r *ReqInfo) LclNode() acnet.TrunkNode {
	return r.lclNode
}

func (r *ReqInfo) RemNode() acnet.TrunkNode {
	return r.remNode
}

func (r *ReqInfo) Flags() uint16 {
	return r.flags
}

func (r *ReqInfo) WantsMultReplies() bool {
	return r.flags&acnet.FLG_MLT != 0
}

func (r *ReqInfo) Timeout() time.Duration {
	return r.tmo
}

func (r *ReqInfo) InitTime() time.Time {
	return r.initTime
}

func (r *ReqInfo) LastUpdate() time.Time {
	return r.lastUpdate
}

func (r *ReqInfo) IsMulticast() bool {
	return r.mcast
}

func (r *ReqInfo) TotalPackets() uint32 {
	return r.totalPackets
}

// Time at which the request times out, counted from the last reply or, if none, from
// the creation of the request
func (r *ReqInfo) Expiration() time.Time {
	if r.lastUpdate.IsZero() {
		return r.initTime.Add(r.tmo)
	}
	return r.lastUpdate.Add(r.tmo)
}

// Removes the request from the expiration queue. Does nothing if already detached
func (r *ReqInfo) detach(q *expqueue.Queue[*ReqInfo]) {
	q.Remove(r.element)
	r.element = nil
}

func (r *ReqInfo) isQueued() bool {
	return r.element.InQueue()
}
