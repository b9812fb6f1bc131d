package taskpool

import (
	"errors"

	"github.com/francistor/acnetd/acnet"
	"github.com/francistor/acnetd/core"
	"github.com/francistor/acnetd/idpool"
	"github.com/francistor/acnetd/reqpool"
)

// Maximum number of simultaneously connected tasks
const MaxTasks = 256

var ErrTooManyTasks = errors.New("too many connected tasks")
var ErrDuplicateTask = errors.New("task name already connected")

// Delivers a packet to the client connection of a task. Returns false if the
// connection is broken
type SenderFunc func(hdr *acnet.Header, data []byte) bool

// Terminates requests. Implemented by reqpool.RequestPool
type Canceller interface {
	CancelReqId(id acnet.ReqId, xmt bool, sendLastReply bool) bool
}

type Statistics struct {
	RepliesReceived uint32
	UsmsSent        uint32
}

// A local client connected to this node
type TaskInfo struct {
	id     uint16
	handle acnet.TaskHandle

	// Ids of the outstanding requests
	requests map[acnet.ReqId]struct{}

	sender SenderFunc
	pool   *TaskPool

	stats Statistics
}

func (t *TaskInfo) Id() uint16 {
	return t.id
}

func (t *TaskInfo) Handle() acnet.TaskHandle {
	return t.handle
}

func (t *TaskInfo) AddRequest(id acnet.ReqId) bool {
	if _, found := t.requests[id]; found {
		return false
	}
	t.requests[id] = struct{}{}
	return true
}

func (t *TaskInfo) RemoveRequest(id acnet.ReqId) bool {
	if _, found := t.requests[id]; !found {
		return false
	}
	delete(t.requests, id)
	return true
}

func (t *TaskInfo) HasRequest(id acnet.ReqId) bool {
	_, found := t.requests[id]
	return found
}

// Ids of the outstanding requests, in no particular order
func (t *TaskInfo) Requests() []acnet.ReqId {
	ids := make([]acnet.ReqId, 0, len(t.requests))
	for id := range t.requests {
		ids = append(ids, id)
	}
	return ids
}

func (t *TaskInfo) SendDataToClient(hdr *acnet.Header) bool {
	return t.Deliver(hdr, nil)
}

// Sends the packet, with its payload, to the client
func (t *TaskInfo) Deliver(hdr *acnet.Header, data []byte) bool {
	if t.sender == nil {
		return false
	}
	return t.sender(hdr, data)
}

func (t *TaskInfo) CountReplyReceived() {
	t.stats.RepliesReceived++
}

func (t *TaskInfo) CountUsmSent() {
	t.stats.UsmsSent++
}

func (t *TaskInfo) Stats() Statistics {
	return t.stats
}

func (t *TaskInfo) TaskPool() reqpool.TaskPool {
	return t.pool
}

// Registry of the connected tasks. Not thread safe
type TaskPool struct {
	tasks   *idpool.IdPool[TaskInfo]
	byName  map[acnet.TaskHandle]*TaskInfo
	stats   Statistics
	removed uint32

	// Terminates the requests of removed tasks
	canceller Canceller
}

func NewTaskPool() *TaskPool {
	return &TaskPool{
		tasks:  idpool.New[TaskInfo](MaxTasks),
		byName: make(map[acnet.TaskHandle]*TaskInfo),
	}
}

func (tp *TaskPool) SetCanceller(c Canceller) {
	tp.canceller = c
}

// Registers a new task
func (tp *TaskPool) AddTask(handle acnet.TaskHandle, sender SenderFunc) (*TaskInfo, error) {
	if _, found := tp.byName[handle]; found {
		return nil, ErrDuplicateTask
	}

	id, task, err := tp.tasks.Alloc()
	if err != nil {
		return nil, ErrTooManyTasks
	}

	task.id = uint16(id)
	task.handle = handle
	task.requests = make(map[acnet.ReqId]struct{})
	task.sender = sender
	task.pool = tp
	tp.byName[handle] = task

	core.GetLogger().Infof("task %s connected with id %d", handle, task.id)

	return task, nil
}

func (tp *TaskPool) Task(id uint16) (*TaskInfo, bool) {
	return tp.tasks.Entry(acnet.ReqId(id))
}

func (tp *TaskPool) TaskByName(handle acnet.TaskHandle) (*TaskInfo, bool) {
	task, found := tp.byName[handle]
	return task, found
}

func (tp *TaskPool) ActiveCount() int {
	return tp.tasks.ActiveIdCount()
}

func (tp *TaskPool) CountReplyReceived() {
	tp.stats.RepliesReceived++
}

func (tp *TaskPool) CountUsmSent() {
	tp.stats.UsmsSent++
}

func (tp *TaskPool) Stats() Statistics {
	return tp.stats
}

// Number of tasks removed so far
func (tp *TaskPool) RemovedCount() uint32 {
	return tp.removed
}

// Tears down the task, cancelling its outstanding requests. Does nothing if the task
// is not registered, including a removed task whose id now belongs to another one
func (tp *TaskPool) RemoveTask(task reqpool.Task) {
	ti, found := tp.tasks.Entry(acnet.ReqId(task.Id()))
	if !found || ti != task {
		return
	}

	// Unregister first, so that delivery failures during the cancellation do not recurse
	delete(tp.byName, ti.handle)
	tp.tasks.Release(acnet.ReqId(ti.id))
	tp.removed++

	pending := ti.Requests()
	if tp.canceller != nil {
		for _, id := range pending {
			tp.canceller.CancelReqId(id, true, false)
		}
	}
	ti.sender = nil

	core.GetLogger().Infof("task %s with id %d removed. %d requests cancelled", ti.handle, ti.id, len(pending))
}
