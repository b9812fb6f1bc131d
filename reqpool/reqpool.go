package reqpool

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/slices"

	"github.com/francistor/acnetd/acnet"
	"github.com/francistor/acnetd/core"
	"github.com/francistor/acnetd/expqueue"
	"github.com/francistor/acnetd/idpool"
	"github.com/francistor/acnetd/reqrecord"
)

// Lower bound of the request timeout
const MinTimeoutMs = 400

// The task already had a request with the id just allocated. This is a programming error
var ErrDuplicateRequestId = errors.New("owning task already has this request id")

type RequestPoolConfig struct {
	// Capacity of the id table
	MaxIds int

	// Upper bound of the request timeout
	MaxTimeoutMs uint32
}

// Keeps track of the requests issued by the local tasks to remote nodes, times them
// out and generates the replies and cancels when they terminate abnormally.
// Not thread safe. To be owned by a single event loop
type RequestPool struct {
	idPool *idpool.IdPool[ReqInfo]

	// Active requests, oldest first
	queue *expqueue.Queue[*ReqInfo]

	maxTimeout time.Duration

	network Network
	nodes   NodeTable
	clock   Clock

	// May be nil
	records reqrecord.RecordWriter
}

// Creates a RequestPool
func NewRequestPool(config RequestPoolConfig, network Network, nodes NodeTable) *RequestPool {
	if config.MaxTimeoutMs < MinTimeoutMs {
		panic(fmt.Sprintf("maximum request timeout %d is lower than %d", config.MaxTimeoutMs, MinTimeoutMs))
	}

	return &RequestPool{
		idPool:     idpool.New[ReqInfo](config.MaxIds),
		queue:      expqueue.New[*ReqInfo](),
		maxTimeout: time.Duration(config.MaxTimeoutMs) * time.Millisecond,
		network:    network,
		nodes:      nodes,
		clock:      SystemClock{},
	}
}

// Replaces the source of time
func (p *RequestPool) SetClock(clock Clock) {
	p.clock = clock
}

// Sets the destination of the records of terminated requests
func (p *RequestPool) SetRecordWriter(w reqrecord.RecordWriter) {
	p.records = w
}

// Creates a request on behalf of the task, with the timeout clamped to the allowed range.
// Returns idpool.ErrIdsExhausted if there are no free ids, or ErrDuplicateRequestId if
// the task already had a request with the allocated id
func (p *RequestPool) Alloc(task Task, taskName acnet.TaskHandle, lclNode acnet.TrunkNode, remNode acnet.TrunkNode, flags uint16, tmoMs uint32) (*ReqInfo, error) {
	if task == nil {
		panic("request allocated without owning task")
	}

	id, req, err := p.idPool.Alloc()
	if err != nil {
		core.RecordRequestIdsExhausted()
		return nil, err
	}

	req.id = id
	req.task = task
	req.taskName = taskName
	req.lclNode = lclNode
	req.remNode = remNode
	req.flags = flags
	req.tmo = p.clampTimeout(tmoMs)
	req.initTime = p.clock.Now()

	if addr, found := p.nodes.Address(remNode); found {
		req.mcast = addr.IsMulticast()
	}

	if !task.AddRequest(id) {
		p.idPool.Release(id)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequestId, id)
	}

	req.element = p.queue.PushBack(req)

	core.RecordRequestCreated(remNode.String())
	core.UpdateActiveRequests(p.idPool.ActiveIdCount())

	return req, nil
}

func (p *RequestPool) clampTimeout(tmoMs uint32) time.Duration {
	tmo := time.Duration(tmoMs) * time.Millisecond
	if tmo < MinTimeoutMs*time.Millisecond {
		tmo = MinTimeoutMs * time.Millisecond
	}
	if tmo > p.maxTimeout {
		tmo = p.maxTimeout
	}
	return tmo
}

// Detaches the request from the expiration queue and frees its id. Membership in the
// task and notifications are responsibility of the caller.
// Releasing a request already released does nothing, even if its id is now in use by
// another request
func (p *RequestPool) Release(req *ReqInfo) {
	if entry, found := p.idPool.Entry(req.id); !found || entry != req {
		return
	}

	req.detach(p.queue)
	p.idPool.Release(req.id)

	core.UpdateActiveRequests(p.idPool.ActiveIdCount())
}

// Registers a reply received for the request, which restarts its timeout
func (p *RequestPool) Touch(req *ReqInfo) {
	req.lastUpdate = p.clock.Now()
	req.totalPackets++

	// Move to the tail
	req.detach(p.queue)
	req.element = p.queue.PushBack(req)
}

// Returns the active request with the specified id
func (p *RequestPool) Entry(id acnet.ReqId) (*ReqInfo, bool) {
	return p.idPool.Entry(id)
}

// Number of active requests
func (p *RequestPool) ActiveCount() int {
	return p.idPool.ActiveIdCount()
}

// Highest number of simultaneously active requests
func (p *RequestPool) MaxActiveCount() int {
	return p.idPool.MaxActiveIdCount()
}

// Terminates the request with the specified id. If xmt is true, a cancel is sent to
// the remote node and, if sendLastReply is also true, the task gets a final
// ACNET_DISCONNECTED reply. Returns false if the request does not exist
func (p *RequestPool) CancelReqId(id acnet.ReqId, xmt bool, sendLastReply bool) bool {
	outcome := reqrecord.OutcomeCancel
	if !xmt {
		outcome = reqrecord.OutcomeComplete
	}
	return p.cancelReqId(id, xmt, sendLastReply, outcome)
}

func (p *RequestPool) cancelReqId(id acnet.ReqId, xmt bool, sendLastReply bool, outcome string) bool {
	req, found := p.idPool.Entry(id)
	if !found {
		return false
	}

	task := req.task
	if !task.RemoveRequest(id) {
		core.GetLogger().Warnf("didn't remove request id %s from task %d", id, task.Id())
	}

	if xmt {
		// When we cancel a request id, we send a cancel USM
		hdr := acnet.NewHeader(acnet.FLG_CAN, acnet.ACNET_SUCCESS, req.remNode, req.lclNode, req.taskName, task.Id(), id)
		p.network.SendDataToNetwork(&hdr, nil)
		task.CountUsmSent()
		task.TaskPool().CountUsmSent()
		core.RecordUsmSent(req.remNode.String())

		if sendLastReply {
			// Tell the requestor that the open request is over
			hdr := acnet.NewHeader(acnet.FLG_RPY, acnet.ACNET_DISCONNECTED, req.remNode, req.lclNode, req.taskName, task.Id(), id)
			task.SendDataToClient(&hdr)
			task.CountReplyReceived()
			task.TaskPool().CountReplyReceived()
			core.RecordReplySynthesized(acnet.ACNET_DISCONNECTED.String())
		}
	}

	if xmt {
		core.GetLogger().Debugf("cancel request: id = %s -- CANCEL packet transmitted", id)
	} else {
		core.GetLogger().Debugf("cancel request: id = %s -- no packet transmitted", id)
	}

	if outcome == reqrecord.OutcomeCancel {
		core.RecordRequestCancelled(outcome)
	}
	p.writeRecord(req, outcome)

	req.task = nil
	p.Release(req)

	return true
}

// Terminates all the requests to the specified node, sending an ACNET_DISCONNECTED
// reply to the owning tasks so that they can clean up. Returns the number of requests
// terminated
func (p *RequestPool) CancelReqToNode(node acnet.TrunkNode) int {
	var nCancelled int

	for {
		// Scan from the start each time, because the list changes after each deletion
		req := p.firstReqToNode(node)
		if req == nil {
			break
		}

		core.GetLogger().Debugf("sending faked ACNET_DISCONNECTED reply for request %s", req.id)

		// Send a faked reply to the local client so that it can gracefully clean up its resources
		task := req.task
		hdr := acnet.NewHeader(acnet.FLG_RPY, acnet.ACNET_DISCONNECTED, req.remNode, req.lclNode, req.taskName, task.Id(), req.id)
		failed := !task.SendDataToClient(&hdr)
		task.CountReplyReceived()
		task.TaskPool().CountReplyReceived()
		core.RecordReplySynthesized(acnet.ACNET_DISCONNECTED.String())
		core.RecordRequestCancelled(reqrecord.OutcomeDisconnect)

		// Clean up our local resources associated with the request
		task.RemoveRequest(req.id)
		p.writeRecord(req, reqrecord.OutcomeDisconnect)
		req.task = nil
		p.Release(req)
		nCancelled++

		if failed {
			task.TaskPool().RemoveTask(task)
		}
	}

	if nCancelled > 0 {
		core.GetLogger().Infof("released %d request structures for node %s -- %d active requests remaining", nCancelled, node, p.idPool.ActiveIdCount())
	}

	return nCancelled
}

func (p *RequestPool) firstReqToNode(node acnet.TrunkNode) *ReqInfo {
	for id, found := p.idPool.Next(0, true); found; id, found = p.idPool.Next(id, false) {
		if req, _ := p.idPool.Entry(id); req.remNode == node {
			return req
		}
	}
	return nil
}

// Terminates the expired requests, oldest first, sending an ACNET_TMO reply to the
// task and a cancel to the remote node. Returns the time until the next request
// expires, or false if there are no active requests
func (p *RequestPool) SendRequestTimeoutsAndGetNextTimeout() (time.Duration, bool) {

	logLines := core.NewLogLines()
	defer logLines.WriteWLog()

	for {
		req, found := p.queue.Front()
		if !found {
			return 0, false
		}

		now := p.clock.Now()
		expiration := req.Expiration()
		if expiration.After(now) {
			return expiration.Sub(now), true
		}

		logLines.WLogEntry(zapcore.DebugLevel, "time-out waiting for reply for request %s ... cancelling", req.id)

		task := req.task
		hdr := acnet.NewHeader(acnet.FLG_RPY, acnet.ACNET_TMO, req.remNode, req.lclNode, req.taskName, task.Id(), req.id)
		failed := !task.SendDataToClient(&hdr)
		task.CountReplyReceived()
		task.TaskPool().CountReplyReceived()
		core.RecordReplySynthesized(acnet.ACNET_TMO.String())
		core.RecordRequestTimeout(req.remNode.String())

		p.cancelReqId(req.id, true, false, reqrecord.OutcomeTimeout)

		if failed {
			logLines.WLogEntry(zapcore.WarnLevel, "could not deliver timeout to task %d. Removing it", task.Id())
			task.TaskPool().RemoveTask(task)
		}
	}
}

// Returns the ids of the active requests that match the selector, or all of them
// if the selector is empty. Ids in excess of the list capacity are dropped
func (p *RequestPool) FillActiveRequests(sel acnet.Selector) acnet.ReqList {
	var rl acnet.ReqList

	for id, found := p.idPool.Next(0, true); found; id, found = p.idPool.Next(id, false) {
		req, _ := p.idPool.Entry(id)
		if sel.IsEmpty() || req.matches(sel) {
			if !rl.Add(id) {
				break
			}
		}
	}

	return rl
}

func (r *ReqInfo) matches(sel acnet.Selector) bool {
	switch sel.Kind {
	case acnet.ByRemoteNode:
		return slices.Contains(sel.Nodes, r.remNode)
	case acnet.ByRemoteTask:
		return slices.Contains(sel.Tasks, r.taskName)
	case acnet.ByLocalTask:
		return slices.Contains(sel.Tasks, r.task.Handle())
	default:
		return false
	}
}

// Returns the details of the active request with the specified id
func (p *RequestPool) FillRequestDetail(id acnet.ReqId) (acnet.ReqDetail, bool) {
	req, found := p.idPool.Entry(id)

	core.GetLogger().Debugf("request detail: looking up %s", id)

	if !found {
		return acnet.ReqDetail{}, false
	}

	detail := acnet.ReqDetail{
		Id:       id,
		RemNode:  req.remNode,
		RemName:  req.taskName,
		LclName:  req.task.Handle(),
		InitTime: uint32(req.initTime.Unix()),
	}
	if !req.lastUpdate.IsZero() {
		detail.LastUpdate = uint32(req.lastUpdate.Unix())
	}

	return detail, true
}

// Writes the record of the terminated request, if there is a writer configured
func (p *RequestPool) writeRecord(req *ReqInfo, outcome string) {
	if p.records == nil {
		return
	}

	remoteNode := req.remNode.String()
	if name, found := p.nodes.NodeName(req.remNode); found {
		remoteNode = name.String()
	}

	p.records.WriteRecord(&reqrecord.Record{
		Id:         uint16(req.id),
		Task:       req.task.Handle().String(),
		TaskId:     req.task.Id(),
		RemoteNode: remoteNode,
		RemoteTask: req.taskName.String(),
		Multicast:  req.mcast,
		Multiple:   req.WantsMultReplies(),
		Outcome:    outcome,
		Start:      req.initTime,
		End:        p.clock.Now(),
		Replies:    req.totalPackets,
	})
}
