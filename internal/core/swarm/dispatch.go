// Package swarm 实现连接群管理与动作/事件分发
//
// 本文件实现宿主输入面与每连接字节管线。
package swarm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-p2pcore/internal/core/muxer"
	"github.com/dep2p/go-p2pcore/internal/core/security/noise"
	"github.com/dep2p/go-p2pcore/internal/core/upgrader"
	"github.com/dep2p/go-p2pcore/internal/protocol/identify"
	"github.com/dep2p/go-p2pcore/internal/protocol/liveness"
	"github.com/dep2p/go-p2pcore/internal/protocol/pubsub"
	pb "github.com/dep2p/go-p2pcore/pkg/lib/proto/gossipsub"
	"github.com/dep2p/go-p2pcore/pkg/types"
)

const (
	// secProtocolID 安全协议 ID
	secProtocolID = "/noise"

	// muxProtocolID 复用器协议 ID
	muxProtocolID = "/mplex/6.7.0"
)

// supportedStreamProtocols 入站子流可协商的协议
var supportedStreamProtocols = []string{
	identify.ProtocolID,
	liveness.ProtocolID,
	pubsub.ProtocolID,
}

// ============================================================================
//                              宿主输入面
// ============================================================================

// OnConnectionOpened 宿主报告传输连接已建立
//
// 出站连接以 Dial 返回的 pending ID 换取正式连接 ID；
// 入站连接 pending 传 0。返回分配的连接 ID。
func (s *Swarm) OnConnectionOpened(pending types.PendingID, remoteAddr string, dir types.Direction) (types.ConnectionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir == types.DirOutbound {
		if _, ok := s.pending[pending]; !ok {
			return 0, ErrUnknownPending
		}
		delete(s.pending, pending)
	} else if len(s.listeners) > 0 {
		// 重新武装监听器，宿主继续接受后续入站连接
		for id := range s.listeners {
			s.actions = append(s.actions, types.ActionAccept{ListenerID: id})
			break
		}
	}

	s.nextConnID++
	c := &conn{
		id:         types.ConnectionID(s.nextConnID),
		remoteAddr: remoteAddr,
		direction:  dir,
		phase:      types.PhaseRawNegotiating,
	}
	s.conns[c.id] = c

	// 明文阶段协商安全协议：拨号方提议，接受方应答
	var out []byte
	if dir == types.DirOutbound {
		c.secNeg, out = upgrader.NewClient([]string{secProtocolID})
	} else {
		c.secNeg, out = upgrader.NewServer([]string{secProtocolID})
	}
	s.sendRaw(c, out)

	c.handshakeTimer = s.armTimer(timerHandshake, c.id, s.cfg.HandshakeTimeout)
	logger.Debugw("连接已打开", "conn", c.id.String(), "addr", remoteAddr, "dir", dir.String())
	return c.id, nil
}

// OnConnectionFailed 宿主报告拨号失败
func (s *Swarm) OnConnectionFailed(pending types.PendingID, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[pending]; !ok {
		return ErrUnknownPending
	}
	delete(s.pending, pending)
	s.events = append(s.events, types.EvtConnectionClosed{
		Reason: types.ReasonDialFailed,
		Err:    err,
	})
	return nil
}

// OnDataReceived 宿主投递连接上的入站字节
//
// 同一连接上字节顺序端到端保持；跨连接无顺序约定。
func (s *Swarm) OnDataReceived(connID types.ConnectionID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}

	if c.frames.Len()+len(data) > s.cfg.MaxInboundBuffer {
		s.closeConn(c, types.ReasonBufferOverflow, ErrBufferOverflow, true)
		return nil
	}

	switch c.phase {
	case types.PhaseRawNegotiating:
		s.feedRawNegotiation(c, data)
	case types.PhaseHandshaking:
		c.frames.Feed(data)
		s.processHandshakeFrames(c)
	case types.PhaseSecured:
		c.frames.Feed(data)
		s.processRecords(c)
	}
	return nil
}

// OnConnectionClosed 宿主报告连接已被对端或传输层关闭
func (s *Swarm) OnConnectionClosed(connID types.ConnectionID, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	s.closeConn(c, types.ReasonRemote, err, false)
	return nil
}

// OnTimer 宿主报告定时器到期
//
// 已取消或未知的定时器被静默忽略（取消与到期可能竞争）。
func (s *Swarm) OnTimer(timerID types.TimerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.timers[timerID]
	if !ok {
		return nil
	}
	delete(s.timers, timerID)

	switch ref.kind {
	case timerHeartbeat:
		s.gossip.Heartbeat()
		s.flushGossip()
		s.armTimer(timerHeartbeat, 0, s.cfg.Pubsub.HeartbeatInterval)

	case timerHandshake:
		c, ok := s.conns[ref.connID]
		if ok && c.phase != types.PhaseSecured {
			s.closeConn(c, types.ReasonHandshakeTimeout, nil, true)
		}

	case timerPing:
		s.handlePingTimer(ref.connID)
	}
	return nil
}

// ============================================================================
//                              阶段 1：明文协商
// ============================================================================

func (s *Swarm) feedRawNegotiation(c *conn, data []byte) {
	out, done, err := c.secNeg.Feed(data)
	if err != nil {
		s.closeConn(c, types.ReasonProtocol, err, true)
		return
	}
	s.sendRaw(c, out)
	if !done {
		return
	}

	// 安全协议协商完成，进入 Noise 握手
	leftover := c.secNeg.Leftover()
	c.secNeg = nil
	c.phase = types.PhaseHandshaking

	var session *noise.Session
	if c.direction == types.DirOutbound {
		session, err = noise.Initiate(s.kp, nil, s.rng)
	} else {
		session, err = noise.Respond(s.kp, nil, s.rng)
	}
	if err != nil {
		s.closeConn(c, types.ReasonProtocol, err, true)
		return
	}
	c.session = session

	if session.NeedsWrite() {
		msg, err := session.WriteMessage()
		if err != nil {
			s.closeConn(c, types.ReasonProtocol, err, true)
			return
		}
		s.sendHandshakeFrame(c, msg)
	}

	c.frames.Feed(leftover)
	s.processHandshakeFrames(c)
}

// ============================================================================
//                              阶段 2：Noise 握手
// ============================================================================

func (s *Swarm) processHandshakeFrames(c *conn) {
	for c.phase == types.PhaseHandshaking {
		frame, ok := c.frames.Next()
		if !ok {
			return
		}

		if err := c.session.ReadMessage(frame); err != nil {
			s.closeConn(c, types.ReasonProtocol, err, true)
			return
		}

		if c.session.NeedsWrite() {
			msg, err := c.session.WriteMessage()
			if err != nil {
				s.closeConn(c, types.ReasonProtocol, err, true)
				return
			}
			s.sendHandshakeFrame(c, msg)
		}

		if c.session.Established() {
			s.finishHandshake(c)
			// 余下的帧属于记录层
			s.processRecords(c)
			return
		}
	}
}

// finishHandshake 握手完成：取出会话密钥并启动复用器协商
func (s *Swarm) finishHandshake(c *conn) {
	out, in, remote, err := c.session.Finish()
	if err != nil {
		s.closeConn(c, types.ReasonProtocol, err, true)
		return
	}
	c.out, c.in = out, in
	c.remotePeer = remote
	c.session = nil
	c.phase = types.PhaseSecured

	s.cancelTimer(c.handshakeTimer)
	c.handshakeTimer = 0

	s.byPeer[remote] = c.id
	s.events = append(s.events, types.EvtConnectionEstablished{
		ConnID:    c.id,
		Peer:      remote,
		Direction: c.direction,
	})
	logger.Infow("安全连接已建立", "conn", c.id.String(), "peer", remote.ShortString(), "dir", c.direction.String())

	// 加密通道内协商复用器
	var initial []byte
	if c.direction == types.DirOutbound {
		c.muxNeg, initial = upgrader.NewClient([]string{muxProtocolID})
	} else {
		c.muxNeg, initial = upgrader.NewServer([]string{muxProtocolID})
	}
	s.sendSecured(c, initial)
}

// ============================================================================
//                              阶段 3：记录层与子流
// ============================================================================

func (s *Swarm) processRecords(c *conn) {
	for c.phase == types.PhaseSecured {
		frame, ok := c.frames.Next()
		if !ok {
			return
		}

		pt, err := c.in.Open(frame)
		if err != nil {
			s.closeConn(c, types.ReasonProtocol, err, true)
			return
		}
		s.handlePlaintext(c, pt)
	}
}

// handlePlaintext 处理一条解密后的记录
func (s *Swarm) handlePlaintext(c *conn, pt []byte) {
	if c.muxNeg != nil {
		out, done, err := c.muxNeg.Feed(pt)
		if err != nil {
			s.closeConn(c, types.ReasonProtocol, err, true)
			return
		}
		s.sendSecured(c, out)
		if !done {
			return
		}

		leftover := c.muxNeg.Leftover()
		c.muxNeg = nil
		c.mux = muxer.New()
		c.streams = make(map[streamKey]*stream)
		s.openOutboundStreams(c)

		if len(leftover) > 0 {
			s.handleMuxBytes(c, leftover)
		}
		return
	}
	s.handleMuxBytes(c, pt)
}

func (s *Swarm) handleMuxBytes(c *conn, data []byte) {
	frames, err := c.mux.Feed(data)
	if err != nil {
		s.closeConn(c, types.ReasonProtocol, err, true)
		return
	}
	for _, f := range frames {
		if c.phase != types.PhaseSecured {
			return
		}
		s.handleMuxFrame(c, f)
	}
}

// openOutboundStreams 复用器就绪后打开本端协议子流
//
// identify 与 gossip 两端都打开；主动 ping 只有拨号方打开。
func (s *Swarm) openOutboundStreams(c *conn) {
	open := func(name string, proto string) *stream {
		id, newStreamFrame := c.mux.OpenStream(name)
		st := &stream{key: streamKey{id: id, local: true}}
		neg, initial := upgrader.NewClient([]string{proto})
		st.neg = neg
		c.streams[st.key] = st
		s.sendSecured(c, newStreamFrame)
		s.sendSecured(c, c.mux.Send(id, true, initial))
		return st
	}

	c.identifyOut = open("identify", identify.ProtocolID)
	c.gossipOut = open("gossipsub", pubsub.ProtocolID)

	if c.direction == types.DirOutbound && !s.cfg.DisablePing {
		c.pingOut = open("ping", liveness.ProtocolID)
		c.pinger = liveness.NewPinger(s.cfg.PingInterval, s.cfg.PingTimeout, s.rng, s.now)
	}
}

func (s *Swarm) handleMuxFrame(c *conn, f muxer.Frame) {
	key := streamKey{id: f.ID, local: f.Local}

	switch f.Type {
	case muxer.FrameNewStream:
		if _, exists := c.streams[key]; exists {
			return
		}
		st := &stream{key: key}
		neg, out := upgrader.NewServer(supportedStreamProtocols)
		st.neg = neg
		c.streams[key] = st
		s.sendStream(c, st, out)

	case muxer.FrameMessage:
		st := c.streams[key]
		if st == nil || st.closed {
			return
		}
		if st.neg != nil {
			out, done, err := st.neg.Feed(f.Data)
			if err != nil {
				s.closeConn(c, types.ReasonProtocol, err, true)
				return
			}
			s.sendStream(c, st, out)
			if !done {
				return
			}
			st.proto = st.neg.Selected()
			leftover := st.neg.Leftover()
			st.neg = nil
			s.onStreamNegotiated(c, st)
			if len(leftover) > 0 && c.phase == types.PhaseSecured {
				s.streamData(c, st, leftover)
			}
			return
		}
		s.streamData(c, st, f.Data)

	case muxer.FrameClose:
		if st := c.streams[key]; st != nil {
			st.closed = true
		}

	case muxer.FrameReset:
		st := c.streams[key]
		if st == nil {
			return
		}
		st.closed = true
		// 远端重置了我们尚未完成的 identify 接收
		if st.identifyRecv != nil && !st.identifyRecv.Done() && !c.identifyReported {
			c.identifyReported = true
			s.events = append(s.events, types.EvtIdentifyFailed{
				Peer: c.remotePeer,
				Err:  fmt.Errorf("identify stream reset"),
			})
		}
	}
}

// onStreamNegotiated 子流协议确定后的绑定
func (s *Swarm) onStreamNegotiated(c *conn, st *stream) {
	if st.key.local {
		switch st {
		case c.gossipOut:
			// gossip 流就绪：注册节点并冲刷积压的 RPC
			s.gossip.AddPeer(c.remotePeer)
			s.flushGossip()
			for _, rpcBytes := range c.gossipQueue {
				s.sendStream(c, st, rpcBytes)
			}
			c.gossipQueue = nil
		case c.pingOut:
			s.startPing(c)
		case c.identifyOut:
			// 发送本端身份记录后半关闭
			s.sendStream(c, st, identify.MarshalRecord(s.localIdentify(c)))
			s.sendSecured(c, c.mux.CloseStream(st.key.id, true))
		}
		return
	}

	// 远端发起的子流
	if st.proto == identify.ProtocolID {
		st.identifyRecv = &identify.Receiver{}
	}
}

// streamData 已协商子流上的协议数据
func (s *Swarm) streamData(c *conn, st *stream, data []byte) {
	switch st.proto {
	case liveness.ProtocolID:
		if st.key.local {
			s.handlePongData(c, data)
			return
		}
		// 被动回显
		s.sendStream(c, st, liveness.Echo(data))

	case identify.ProtocolID:
		if st.key.local || st.identifyRecv == nil {
			return
		}
		info, done, err := st.identifyRecv.Feed(data)
		if err != nil {
			if !c.identifyReported {
				c.identifyReported = true
				s.events = append(s.events, types.EvtIdentifyFailed{Peer: c.remotePeer, Err: err})
			}
			s.sendSecured(c, c.mux.ResetStream(st.key.id, st.key.local))
			st.closed = true
			return
		}
		if done && !c.identifyReported {
			c.identifyReported = true
			s.peerstore[c.remotePeer] = *info
			s.events = append(s.events, types.EvtIdentified{Peer: c.remotePeer, Info: *info})
		}

	case pubsub.ProtocolID:
		s.handleRPCData(c, st, data)
	}
}

// handleRPCData 重组并分发 gossip 流上的 RPC
func (s *Swarm) handleRPCData(c *conn, st *stream, data []byte) {
	if len(st.rpcBuf)+len(data) > s.cfg.MaxInboundBuffer {
		s.closeConn(c, types.ReasonBufferOverflow, ErrBufferOverflow, true)
		return
	}
	st.rpcBuf = append(st.rpcBuf, data...)

	for {
		size, n, err := varint.FromUvarint(st.rpcBuf)
		if err != nil {
			if errors.Is(err, varint.ErrUnderflow) {
				return
			}
			s.closeConn(c, types.ReasonProtocol, err, true)
			return
		}
		if uint64(len(st.rpcBuf)-n) < size {
			return
		}

		body := st.rpcBuf[n : n+int(size)]
		st.rpcBuf = st.rpcBuf[n+int(size):]

		rpc := &pb.RPC{}
		if err := rpc.Unmarshal(body); err != nil {
			s.closeConn(c, types.ReasonProtocol, err, true)
			return
		}
		s.gossip.HandleRPC(c.remotePeer, rpc)
		s.flushGossip()
		if c.phase != types.PhaseSecured {
			return
		}
	}
}

// ============================================================================
//                              Ping
// ============================================================================

func (s *Swarm) startPing(c *conn) {
	payload, timeout, err := c.pinger.Start()
	if err != nil {
		logger.Warnw("启动 ping 失败", "conn", c.id.String(), "err", err)
		return
	}
	s.sendStream(c, c.pingOut, payload)
	c.pingTimer = s.armTimer(timerPing, c.id, timeout)
}

func (s *Swarm) handlePongData(c *conn, data []byte) {
	latency, matched, next, err := c.pinger.HandleData(data)
	if err != nil {
		s.closeConn(c, types.ReasonProtocol, err, true)
		return
	}
	if !matched {
		return
	}
	s.cancelTimer(c.pingTimer)
	s.events = append(s.events, types.EvtPongReceived{
		ConnID:    c.id,
		Peer:      c.remotePeer,
		LatencyMs: latency,
	})
	c.pingTimer = s.armTimer(timerPing, c.id, next)
}

func (s *Swarm) handlePingTimer(connID types.ConnectionID) {
	c, ok := s.conns[connID]
	if !ok || c.pinger == nil {
		return
	}
	c.pingTimer = 0

	payload, timeout, timedOut, err := c.pinger.HandleTimer()
	if err != nil {
		return
	}
	if timedOut {
		s.events = append(s.events, types.EvtPingTimeout{ConnID: c.id, Peer: c.remotePeer})
		s.closeConn(c, types.ReasonPingTimeout, nil, true)
		return
	}
	s.sendStream(c, c.pingOut, payload)
	c.pingTimer = s.armTimer(timerPing, c.id, timeout)
}

// ============================================================================
//                              出站辅助
// ============================================================================

// sendRaw 明文直发（仅限协商与握手阶段）
func (s *Swarm) sendRaw(c *conn, data []byte) {
	if len(data) == 0 {
		return
	}
	s.actions = append(s.actions, types.ActionSend{ConnID: c.id, Data: data})
}

// sendHandshakeFrame 以 u16 长度前缀发送握手消息
func (s *Swarm) sendHandshakeFrame(c *conn, msg []byte) {
	out := make([]byte, 2, 2+len(msg))
	binary.BigEndian.PutUint16(out, uint16(len(msg)))
	out = append(out, msg...)
	s.sendRaw(c, out)
}

// sendSecured 加密并发送一段明文
func (s *Swarm) sendSecured(c *conn, plaintext []byte) {
	if len(plaintext) == 0 || c.phase != types.PhaseSecured {
		return
	}
	rec, err := c.out.Seal(plaintext)
	if err != nil {
		// nonce 溢出等加密失败：关闭连接
		s.closeConn(c, types.ReasonProtocol, err, true)
		return
	}
	s.actions = append(s.actions, types.ActionSend{ConnID: c.id, Data: rec})
}

// sendStream 在子流上发送协议数据
func (s *Swarm) sendStream(c *conn, st *stream, data []byte) {
	if len(data) == 0 {
		return
	}
	s.sendSecured(c, c.mux.Send(st.key.id, st.key.local, data))
}

// sendRPC 将引擎信封发往对应节点的连接
func (s *Swarm) sendRPC(env pubsub.Envelope) {
	connID, ok := s.byPeer[env.To]
	if !ok {
		return
	}
	c, ok := s.conns[connID]
	if !ok {
		return
	}

	body := env.RPC.Marshal()
	rpcBytes := append(varint.ToUvarint(uint64(len(body))), body...)

	if c.gossipReady() {
		s.sendStream(c, c.gossipOut, rpcBytes)
		return
	}
	c.gossipQueue = append(c.gossipQueue, rpcBytes)
}

// ============================================================================
//                              关闭
// ============================================================================

// closeConn 状态机级立即关闭
//
// 取消该连接的全部定时器，丢弃待发数据，从 mesh/fanout 清除节点。
// emitAction 为 true 时入队 CloseConnection 动作（本地发起的关闭）。
func (s *Swarm) closeConn(c *conn, reason types.CloseReason, cause error, emitAction bool) {
	if c.phase == types.PhaseClosed {
		return
	}
	c.phase = types.PhaseClosed

	s.cancelTimer(c.handshakeTimer)
	s.cancelTimer(c.pingTimer)
	c.handshakeTimer, c.pingTimer = 0, 0
	c.gossipQueue = nil

	if emitAction {
		s.actions = append(s.actions, types.ActionCloseConnection{ConnID: c.id})
	}

	if !c.remotePeer.IsEmpty() {
		if id, ok := s.byPeer[c.remotePeer]; ok && id == c.id {
			delete(s.byPeer, c.remotePeer)
		}
		s.gossip.RemovePeer(c.remotePeer)
		s.flushGossip()
	}

	s.events = append(s.events, types.EvtConnectionClosed{
		ConnID: c.id,
		Peer:   c.remotePeer,
		Reason: reason,
		Err:    cause,
	})
	delete(s.conns, c.id)
	logger.Infow("连接已关闭", "conn", c.id.String(), "reason", reason.String(), "err", cause)
}

// localIdentify 构造本端身份记录
func (s *Swarm) localIdentify(c *conn) types.IdentifyInfo {
	return types.IdentifyInfo{
		PublicKey:    s.kp.PublicKey(),
		ListenAddrs:  append([]string(nil), s.listenAddrs...),
		ObservedAddr: c.remoteAddr,
		Protocols:    append([]string(nil), supportedStreamProtocols...),
		AgentVersion: s.cfg.AgentVersion,
	}
}
