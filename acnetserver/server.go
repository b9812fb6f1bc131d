package acnetserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/francistor/acnetd/acnet"
	"github.com/francistor/acnetd/core"
	"github.com/francistor/acnetd/reqpool"
	"github.com/francistor/acnetd/reqrecord"
	"github.com/francistor/acnetd/taskpool"
)

// Capacity of the event loop channel
const EVENTLOOP_CAPACITY = 1000

// Maximum size of a packet
const MAX_PACKET_SIZE = 8192

const (
	StatusOperational = 0
	StatusTerminated  = 1
)

var ErrUnknownTask = errors.New("task not connected")
var ErrRequestNotFound = errors.New("request not found")
var ErrServerClosed = errors.New("server closed")
var ErrUnknownNode = errors.New("unknown node")

// Server
// Sends the requests of the local tasks to the remote nodes and routes the replies back.
// The outstanding requests are kept in a RequestPool, which is owned by the eventLoop.
// All interaction takes place by sending messages to the eventLoop.
type Server struct {
	instanceName string

	config core.AcnetServerConfig

	// Trunk/node of this server
	localNode acnet.TrunkNode

	nodes core.NodeTable

	// UDP socket
	socket net.PacketConn

	network *udpNetwork

	// Only accessed from the eventLoop
	pool  *reqpool.RequestPool
	tasks *taskpool.TaskPool

	// May be nil
	records reqrecord.RecordWriter

	// Actor model loop
	eventLoopChannel chan interface{}

	// Closed by the readLoop when exiting
	readLoopDoneChannel chan bool

	// Closed by the eventLoop when exiting
	eventLoopDoneChannel chan bool

	status int32
}

// Creates a server using the configuration of the specified instance
func NewAcnetServer(instanceName string) (*Server, error) {
	ci := core.GetAcnetConfigInstance(instanceName)
	config := ci.AcnetServerConf()

	records, err := newRecordWriter(config.RequestRecords)
	if err != nil {
		return nil, err
	}

	server, err := NewServer(instanceName, config, ci.Nodes(), records)
	if err != nil {
		if records != nil {
			records.Close()
		}
		return nil, err
	}

	core.PushRequestReporter(instanceName, server)

	return server, nil
}

// Creates the writer of request records as configured
func newRecordWriter(conf core.RequestRecordsConfig) (reqrecord.RecordWriter, error) {
	switch conf.Type {
	case "file":
		return reqrecord.NewFileRecordWriter(conf.FilePath, conf.FileNameFormat, conf.RotateSeconds)
	case "bigquery":
		return reqrecord.NewBigQueryRecordWriter(conf.Dataset, conf.Table, conf.GlitchSeconds, conf.BackupFileName)
	default:
		return nil, nil
	}
}

// Creates a server with the specified configuration. The records writer may be nil,
// and will be closed together with the server
func NewServer(instanceName string, config core.AcnetServerConfig, nodes core.NodeTable, records reqrecord.RecordWriter) (*Server, error) {

	localNode, found := nodes.TrunkNode(config.NodeName)
	if !found {
		return nil, fmt.Errorf("%w: %s is not in the node table", ErrUnknownNode, config.NodeName)
	}

	socket, err := net.ListenPacket("udp4", fmt.Sprintf("%s:%d", config.BindAddress, config.Port))
	if err != nil {
		return nil, fmt.Errorf("could not bind socket to %s:%d: %w", config.BindAddress, config.Port, err)
	}

	network := newUDPNetwork(socket, nodes, config.Port, config.MulticastTTL)

	pool := reqpool.NewRequestPool(reqpool.RequestPoolConfig{
		MaxIds:       config.MaxRequestIds,
		MaxTimeoutMs: uint32(config.RequestTimeoutSeconds) * 1000,
	}, network, nodes)

	// An interface holding a nil pointer is not nil
	if records != nil {
		pool.SetRecordWriter(records)
	}

	tasks := taskpool.NewTaskPool()
	tasks.SetCanceller(pool)

	s := Server{
		instanceName:         instanceName,
		config:               config,
		localNode:            localNode,
		nodes:                nodes,
		socket:               socket,
		network:              network,
		pool:                 pool,
		tasks:                tasks,
		records:              records,
		eventLoopChannel:     make(chan interface{}, EVENTLOOP_CAPACITY),
		readLoopDoneChannel:  make(chan bool),
		eventLoopDoneChannel: make(chan bool),
	}

	go s.eventLoop()
	go s.readLoop()

	core.GetLogger().Infof("acnet server %s listening on %s as node %s", instanceName, socket.LocalAddr(), localNode)

	return &s, nil
}

// Address where the server is listening
func (s *Server) LocalAddr() net.Addr {
	return s.socket.LocalAddr()
}

// Trunk/node of this server
func (s *Server) LocalNode() acnet.TrunkNode {
	return s.localNode
}

// Terminates the server. The outstanding requests are cancelled
func (s *Server) Close() {
	if !atomic.CompareAndSwapInt32(&s.status, StatusOperational, StatusTerminated) {
		return
	}

	core.RemoveRequestReporter(s.instanceName)

	s.post(CloseCommandMsg{})
	<-s.eventLoopDoneChannel

	// The readLoop finishes when the socket is closed
	<-s.readLoopDoneChannel

	if s.records != nil {
		s.records.Close()
	}

	core.GetLogger().Infof("acnet server %s closed", s.instanceName)
}

// Sends the message to the eventLoop. Returns false if the eventLoop has terminated
func (s *Server) post(msg interface{}) bool {
	select {
	case s.eventLoopChannel <- msg:
		return true
	case <-s.eventLoopDoneChannel:
		return false
	}
}

// Sends the message to the eventLoop and waits for the answer
func (s *Server) query(msg interface{}, rchan chan interface{}) (interface{}, error) {
	if atomic.LoadInt32(&s.status) != StatusOperational {
		return nil, ErrServerClosed
	}
	if !s.post(msg) {
		return nil, ErrServerClosed
	}

	select {
	case answer, ok := <-rchan:
		if !ok {
			return nil, ErrServerClosed
		}
		return answer, nil
	case <-s.eventLoopDoneChannel:
		return nil, ErrServerClosed
	}
}

// Actor model event loop. All interaction with the Server takes place by sending
// messages which are processed here. After each message the expired requests are
// timed out and the timer is set for the next expiration
func (s *Server) eventLoop() {

	defer close(s.eventLoopDoneChannel)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		select {
		case in := <-s.eventLoopChannel:
			if !s.handleMessage(in) {
				timer.Stop()
				return
			}

		case <-timer.C:
		}

		next, found := s.pool.SendRequestTimeoutsAndGetNextTimeout()

		if !timer.Stop() {
			// Drain the channel. https://itnext.io/go-timer-101252c45166
			select {
			case <-timer.C:
			default:
			}
		}
		if found {
			timer.Reset(next)
		}
	}
}

// Returns false if the eventLoop must terminate
func (s *Server) handleMessage(in interface{}) bool {

	switch v := in.(type) {

	case CloseCommandMsg:
		s.cancelAll()
		s.socket.Close()
		return false

	case ReadErrorMsg:
		// No more replies will be received
		core.GetLogger().Errorf("error reading from socket: %s", v.Error)
		s.cancelAll()
		s.socket.Close()

	case PacketReceivedMsg:
		s.handlePacket(v)

	case ConnectTaskMsg:
		task, err := s.tasks.AddTask(v.handle, v.sender)
		if err != nil {
			v.rchan <- TaskConnectedAnswer{Err: err}
		} else {
			v.rchan <- TaskConnectedAnswer{TaskId: task.Id()}
		}
		close(v.rchan)

	case DisconnectTaskMsg:
		if task, found := s.tasks.Task(v.taskId); found {
			s.tasks.RemoveTask(task)
		}

	case SendRequestMsg:
		id, err := s.sendRequest(v)
		v.rchan <- RequestSentAnswer{Id: id, Err: err}
		close(v.rchan)

	case CancelRequestMsg:
		req, found := s.pool.Entry(v.id)
		if !found || req.Task().Id() != v.taskId {
			v.rchan <- ErrRequestNotFound
		} else {
			s.pool.CancelReqId(v.id, true, false)
			v.rchan <- nil
		}
		close(v.rchan)

	case NodeDownMsg:
		v.rchan <- s.pool.CancelReqToNode(v.node)
		close(v.rchan)

	case ActiveRequestsQuery:
		v.rchan <- s.pool.FillActiveRequests(v.selector)
		close(v.rchan)

	case RequestDetailQuery:
		detail, found := s.pool.FillRequestDetail(v.id)
		v.rchan <- RequestDetailAnswer{Detail: detail, Found: found}
		close(v.rchan)

	case SnapshotQuery:
		v.rchan <- s.pool.Snapshot()
		close(v.rchan)

	case ReportQuery:
		var buffer bytes.Buffer
		if err := s.pool.GenerateReqReport(&buffer); err != nil {
			v.rchan <- err
		} else {
			v.rchan <- buffer.Bytes()
		}
		close(v.rchan)

	case StatsQuery:
		tasksStats := s.tasks.Stats()
		v.rchan <- ServerStats{
			ActiveRequests:    s.pool.ActiveCount(),
			MaxActiveRequests: s.pool.MaxActiveCount(),
			ConnectedTasks:    s.tasks.ActiveCount(),
			RemovedTasks:      s.tasks.RemovedCount(),
			RepliesReceived:   tasksStats.RepliesReceived,
			UsmsSent:          tasksStats.UsmsSent,
		}
		close(v.rchan)

	default:
		core.GetLogger().Errorf("unknown message type %T", in)
	}

	return true
}

// Creates the request and sends it to the remote node
func (s *Server) sendRequest(msg SendRequestMsg) (acnet.ReqId, error) {
	task, found := s.tasks.Task(msg.taskId)
	if !found {
		return 0, ErrUnknownTask
	}

	flags := acnet.FLG_REQ
	if msg.multiple {
		flags |= acnet.FLG_MLT
	}

	req, err := s.pool.Alloc(task, msg.remoteTask, s.localNode, msg.remoteNode, flags, msg.tmoMs)
	if err != nil {
		core.GetLogger().Warnf("could not create request for task %s: %s", task.Handle(), err)
		return 0, err
	}

	hdr := acnet.NewHeader(flags, acnet.ACNET_SUCCESS, msg.remoteNode, s.localNode, msg.remoteTask, task.Id(), req.Id())
	if !s.network.SendDataToNetwork(&hdr, msg.data) {
		// Nothing was sent, so no cancel is needed
		s.pool.CancelReqId(req.Id(), false, false)
		return 0, fmt.Errorf("%w: could not send to %s", ErrUnknownNode, msg.remoteNode)
	}

	return req.Id(), nil
}

// Processes a packet received from the network
func (s *Server) handlePacket(msg PacketReceivedMsg) {
	var hdr acnet.Header
	if err := hdr.UnmarshalBinary(msg.packetBytes); err != nil {
		core.GetLogger().Warnf("bad packet from %s: %s", msg.remote, err)
		return
	}

	dataLen := int(hdr.MsgLen) - acnet.HeaderSize
	if dataLen > len(msg.packetBytes)-acnet.HeaderSize {
		core.GetLogger().Warnf("truncated packet from %s: %s", msg.remote, hdr)
		return
	}
	data := msg.packetBytes[acnet.HeaderSize : acnet.HeaderSize+dataLen]

	core.GetLogger().Debugf("<- received %s from %s", hdr, msg.remote)

	switch {
	case hdr.IsReply():
		s.handleReply(&hdr, data)
	default:
		// This server only issues requests
		core.GetLogger().Debugf("ignoring packet from %s with flags 0x%04x", msg.remote, hdr.Flags)
	}
}

// Routes the reply to the task that made the request. The request is terminated if the
// reply is the last one, and its timeout is restarted otherwise
func (s *Server) handleReply(hdr *acnet.Header, data []byte) {
	req, found := s.pool.Entry(hdr.MsgId)

	// Replies to multicast requests come from any node
	if !found || (!req.IsMulticast() && req.RemNode() != hdr.SvrNode) {
		core.GetLogger().Debugf("unsolicited or stalled reply %s", hdr)
		return
	}

	task := req.Task().(*taskpool.TaskInfo)

	isLast := !req.WantsMultReplies() || hdr.Status == acnet.ACNET_ENDMULT || hdr.Status.IsFatal()
	if isLast {
		s.pool.CancelReqId(req.Id(), false, false)
	} else {
		s.pool.Touch(req)
	}

	delivered := task.Deliver(hdr, data)
	task.CountReplyReceived()
	s.tasks.CountReplyReceived()

	if !delivered {
		core.GetLogger().Warnf("could not deliver reply to task %s. Removing it", task.Handle())
		s.tasks.RemoveTask(task)
	}
}

// Cancels all the outstanding requests
func (s *Server) cancelAll() {
	for {
		rl := s.pool.FillActiveRequests(acnet.Selector{})
		if rl.Total == 0 {
			return
		}
		for _, id := range rl.Ids {
			s.pool.CancelReqId(id, true, true)
		}
	}
}

// Loop for receiving packets
func (s *Server) readLoop() {

	defer close(s.readLoopDoneChannel)

	// Single buffer where all incoming packets are read
	buf := make([]byte, MAX_PACKET_SIZE)

	for {
		packetSize, remote, err := s.socket.ReadFrom(buf)
		if err != nil {
			if atomic.LoadInt32(&s.status) != StatusTerminated {
				s.post(ReadErrorMsg{err})
			}
			return
		}

		packetBytes := make([]byte, packetSize)
		copy(packetBytes, buf[:packetSize])

		if !s.post(PacketReceivedMsg{remote: remote, packetBytes: packetBytes}) {
			return
		}
	}
}

///////////////////////////////////////////////////////////////////////////////
// Public API
///////////////////////////////////////////////////////////////////////////////

// Registers a local task. The sender is invoked from the eventLoop, and must not
// call back into the Server
func (s *Server) ConnectTask(handle acnet.TaskHandle, sender taskpool.SenderFunc) (uint16, error) {
	rchan := make(chan interface{}, 1)
	answer, err := s.query(ConnectTaskMsg{handle: handle, sender: sender, rchan: rchan}, rchan)
	if err != nil {
		return 0, err
	}
	a := answer.(TaskConnectedAnswer)
	return a.TaskId, a.Err
}

// Unregisters the task and cancels its outstanding requests
func (s *Server) DisconnectTask(taskId uint16) {
	if atomic.LoadInt32(&s.status) == StatusOperational {
		s.post(DisconnectTaskMsg{taskId: taskId})
	}
}

// Sends a request on behalf of the task. The replies are delivered using the
// sender of the task
func (s *Server) SendRequest(taskId uint16, remoteTask acnet.TaskHandle, remoteNode acnet.TrunkNode, multiple bool, tmoMs uint32, data []byte) (acnet.ReqId, error) {
	rchan := make(chan interface{}, 1)
	answer, err := s.query(SendRequestMsg{
		taskId:     taskId,
		remoteTask: remoteTask,
		remoteNode: remoteNode,
		multiple:   multiple,
		tmoMs:      tmoMs,
		data:       data,
		rchan:      rchan,
	}, rchan)
	if err != nil {
		return 0, err
	}
	a := answer.(RequestSentAnswer)
	return a.Id, a.Err
}

// Cancels a request of the task
func (s *Server) CancelRequest(taskId uint16, id acnet.ReqId) error {
	rchan := make(chan interface{}, 1)
	answer, err := s.query(CancelRequestMsg{taskId: taskId, id: id, rchan: rchan}, rchan)
	if err != nil {
		return err
	}
	if answer == nil {
		return nil
	}
	return answer.(error)
}

// Cancels all the requests to the node, which is known to be down. Returns the
// number of requests cancelled
func (s *Server) NodeDown(node acnet.TrunkNode) (int, error) {
	rchan := make(chan interface{}, 1)
	answer, err := s.query(NodeDownMsg{node: node, rchan: rchan}, rchan)
	if err != nil {
		return 0, err
	}
	return answer.(int), nil
}

// Returns the ids of the active requests matching the selector
func (s *Server) ActiveRequests(selector acnet.Selector) (acnet.ReqList, error) {
	rchan := make(chan interface{}, 1)
	answer, err := s.query(ActiveRequestsQuery{selector: selector, rchan: rchan}, rchan)
	if err != nil {
		return acnet.ReqList{}, err
	}
	return answer.(acnet.ReqList), nil
}

// Answers a request list query in wire format
func (s *Server) ActiveRequestsPacket(subType uint8, selectorData []byte) ([]byte, error) {
	selector, err := acnet.ParseSelector(subType, selectorData)
	if err != nil {
		return nil, err
	}
	rl, err := s.ActiveRequests(selector)
	if err != nil {
		return nil, err
	}
	return rl.MarshalBinary()
}

// Returns the details of the request
func (s *Server) RequestDetail(id acnet.ReqId) (acnet.ReqDetail, bool, error) {
	rchan := make(chan interface{}, 1)
	answer, err := s.query(RequestDetailQuery{id: id, rchan: rchan}, rchan)
	if err != nil {
		return acnet.ReqDetail{}, false, err
	}
	a := answer.(RequestDetailAnswer)
	return a.Detail, a.Found, nil
}

// Returns the counters of the server
func (s *Server) Stats() (ServerStats, error) {
	rchan := make(chan interface{}, 1)
	answer, err := s.query(StatsQuery{rchan: rchan}, rchan)
	if err != nil {
		return ServerStats{}, err
	}
	return answer.(ServerStats), nil
}

// For the instrumentation server
func (s *Server) RequestsSnapshot() (any, error) {
	rchan := make(chan interface{}, 1)
	return s.query(SnapshotQuery{rchan: rchan}, rchan)
}

// For the instrumentation server
func (s *Server) WriteRequestReport(w io.Writer) error {
	rchan := make(chan interface{}, 1)
	answer, err := s.query(ReportQuery{rchan: rchan}, rchan)
	if err != nil {
		return err
	}
	switch v := answer.(type) {
	case error:
		return v
	case []byte:
		_, err := w.Write(v)
		return err
	}
	return nil
}
