// Package pubsub 实现 GossipSub 发布订阅引擎
//
// 引擎是纯状态机：所有出站 RPC 以 (目标节点, RPC) 信封形式缓存，
// 事件以 types.Event 缓存，由 Swarm 在每次输入后通过 Flush 取走。
// 心跳由 Swarm 的定时器分发驱动（Heartbeat 方法），引擎不感知时间。
//
// 网格维护、消息缓存与重复抑制遵循 gossipsub v1.1 规范中
// 本核心覆盖的子集：GRAFT/PRUNE/IHAVE/IWANT、fanout、flood 不启用。
package pubsub

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"github.com/dep2p/go-p2pcore/pkg/lib/log"
	pb "github.com/dep2p/go-p2pcore/pkg/lib/proto/gossipsub"
	"github.com/dep2p/go-p2pcore/pkg/types"
)

var logger = log.Logger("protocol/pubsub")

// Envelope 出站 RPC 信封
type Envelope struct {
	// To 目标节点
	To types.PeerID

	// RPC 待发送的 RPC
	RPC *pb.RPC
}

// Engine GossipSub 引擎
//
// 状态为 Swarm 级（跨连接共享），节点以 PeerID 引用；
// PeerID 到连接的映射由 Swarm 维护。
type Engine struct {
	cfg   Config
	self  types.PeerID
	rng   *rand.Rand
	msgID MsgIDFunc

	seqno uint64

	// peers 已建立 gossip 流的节点
	peers peerSet

	// topics 远端订阅表：topic -> 已知订阅者
	topics map[string]peerSet

	// localSubs 本地订阅集合
	localSubs map[string]struct{}

	// mesh 每订阅主题的全消息转发集合
	mesh map[string]peerSet

	// fanout 未订阅主题的发布集合
	fanout map[string]peerSet

	// fanoutIdle fanout 主题距上次发布的心跳拍数
	fanoutIdle map[string]int

	mcache *messageCache
	seen   *seenCache
	score  *peerScore

	out    []Envelope
	events []types.Event
}

// New 创建引擎
//
// 随机性（节点抽样、初始 seqno）全部来自注入的 PRNG。
func New(self types.PeerID, cfg Config, rng *rand.Rand) *Engine {
	e := &Engine{
		cfg:        cfg,
		self:       self,
		rng:        rng,
		msgID:      cfg.MsgID,
		seqno:      rng.Uint64(),
		peers:      make(peerSet),
		topics:     make(map[string]peerSet),
		localSubs:  make(map[string]struct{}),
		mesh:       make(map[string]peerSet),
		fanout:     make(map[string]peerSet),
		fanoutIdle: make(map[string]int),
		mcache:     newMessageCache(cfg.HistoryLength, cfg.HistoryGossip, cfg.WindowCap),
		seen:       newSeenCache(cfg.SeenCacheSize, cfg.ticks(cfg.SeenTTL)),
		score:      newPeerScore(),
	}
	if e.msgID == nil {
		e.msgID = defaultMsgID
	}
	return e
}

// defaultMsgID 默认消息标识：H(from || seqno)
func defaultMsgID(msg *pb.Message) string {
	h := sha256.New()
	h.Write(msg.From)
	h.Write(msg.Seqno)
	return string(h.Sum(nil))
}

// Flush 取走累积的出站信封与事件
func (e *Engine) Flush() ([]Envelope, []types.Event) {
	out, events := e.out, e.events
	e.out, e.events = nil, nil
	return out, events
}

func (e *Engine) push(to types.PeerID, rpc *pb.RPC) {
	e.out = append(e.out, Envelope{To: to, RPC: rpc})
}

// ============================================================================
//                              节点生命周期
// ============================================================================

// AddPeer 注册新建立 gossip 流的节点
//
// 立即把本地订阅集合作为订阅增量发给对方。
func (e *Engine) AddPeer(p types.PeerID) {
	if e.peers.has(p) {
		return
	}
	e.peers.add(p)

	if len(e.localSubs) == 0 {
		return
	}
	rpc := &pb.RPC{}
	for topic := range e.localSubs {
		rpc.Subscriptions = append(rpc.Subscriptions, &pb.SubOpts{Subscribe: true, TopicID: topic})
	}
	e.push(p, rpc)
}

// RemovePeer 注销节点（连接关闭）
//
// 从所有 mesh、fanout 与订阅表中清除该节点。
func (e *Engine) RemovePeer(p types.PeerID) {
	e.peers.remove(p)
	e.score.Remove(p)
	for _, subs := range e.topics {
		subs.remove(p)
	}
	for _, m := range e.mesh {
		m.remove(p)
	}
	for _, f := range e.fanout {
		f.remove(p)
	}
}

// ============================================================================
//                              订阅
// ============================================================================

// Subscribe 订阅主题
//
// 广播订阅增量；从已知订阅者中 GRAFT 至多 D 个节点。
// 不足 Dlo 时欠配，由心跳补齐。
func (e *Engine) Subscribe(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if _, ok := e.localSubs[topic]; ok {
		return ErrAlreadySubscribed
	}
	e.localSubs[topic] = struct{}{}

	for _, p := range e.peers.sorted() {
		e.push(p, &pb.RPC{Subscriptions: []*pb.SubOpts{{Subscribe: true, TopicID: topic}}})
	}

	// fanout 升级为 mesh 起点
	m := make(peerSet)
	for p := range e.fanout[topic] {
		m.add(p)
	}
	delete(e.fanout, topic)
	delete(e.fanoutIdle, topic)
	e.mesh[topic] = m

	candidates := e.topics[topic]
	for _, p := range selectRandom(e.rng, candidates, m, e.cfg.D-len(m)) {
		m.add(p)
		e.sendGraft(p, topic)
	}
	logger.Debugw("已订阅主题", "topic", topic, "mesh", len(m))
	return nil
}

// Unsubscribe 退订主题
//
// 广播退订增量；向 mesh 成员发送 PRUNE 并清空 mesh。
func (e *Engine) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if _, ok := e.localSubs[topic]; !ok {
		return ErrNotSubscribed
	}
	delete(e.localSubs, topic)

	for _, p := range e.peers.sorted() {
		e.push(p, &pb.RPC{Subscriptions: []*pb.SubOpts{{Subscribe: false, TopicID: topic}}})
	}
	for _, p := range e.mesh[topic].sorted() {
		e.sendPrune(p, topic)
	}
	delete(e.mesh, topic)
	return nil
}

// Subscribed 判断是否订阅了主题
func (e *Engine) Subscribed(topic string) bool {
	_, ok := e.localSubs[topic]
	return ok
}

// MeshPeers 返回主题的 mesh 成员（测试与诊断用）
func (e *Engine) MeshPeers(topic string) []types.PeerID {
	return e.mesh[topic].sorted()
}

// ============================================================================
//                              发布
// ============================================================================

// Publish 发布消息
//
// 已订阅主题投递到 mesh；未订阅主题投递到 fanout（按需补齐到 D
// 并重置 TTL）。两者皆空且未订阅时丢弃并报告 InsufficientPeers。
func (e *Engine) Publish(topic string, data []byte) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if e.cfg.MaxMessageSize > 0 && len(data) > e.cfg.MaxMessageSize {
		return ErrMessageTooLarge
	}

	e.seqno++
	seqno := make([]byte, 8)
	binary.BigEndian.PutUint64(seqno, e.seqno)

	msg := &pb.Message{
		From:  e.self.Bytes(),
		Data:  data,
		Seqno: seqno,
		Topic: topic,
	}
	id := e.msgID(msg)

	var targets []types.PeerID
	if e.Subscribed(topic) {
		targets = e.mesh[topic].sorted()
	} else {
		f, ok := e.fanout[topic]
		if !ok {
			f = make(peerSet)
			e.fanout[topic] = f
		}
		for _, p := range selectRandom(e.rng, e.topics[topic], f, e.cfg.D-len(f)) {
			f.add(p)
		}
		e.fanoutIdle[topic] = 0
		targets = f.sorted()

		if len(targets) == 0 {
			delete(e.fanout, topic)
			delete(e.fanoutIdle, topic)
			e.events = append(e.events, types.EvtInsufficientPeers{Topic: topic})
			return ErrInsufficientPeers
		}
	}

	e.seen.Add(id)
	if err := e.mcache.Put(id, msg); err != nil {
		return err
	}

	for _, p := range targets {
		e.push(p, &pb.RPC{Publish: []*pb.Message{msg}})
	}
	logger.Debugw("已发布消息", "topic", topic, "targets", len(targets), "seqno", e.seqno)
	return nil
}

// ============================================================================
//                              RPC 处理
// ============================================================================

// HandleRPC 处理来自远端的 RPC
//
// 顺序：订阅增量、完整消息、控制帧。
func (e *Engine) HandleRPC(from types.PeerID, rpc *pb.RPC) {
	for _, sub := range rpc.Subscriptions {
		e.handleSubOpt(from, sub)
	}
	for _, msg := range rpc.Publish {
		e.handleMessage(from, msg)
	}
	if !rpc.Control.Empty() {
		e.handleControl(from, rpc.Control)
	}
}

func (e *Engine) handleSubOpt(from types.PeerID, sub *pb.SubOpts) {
	if sub.TopicID == "" {
		return
	}
	subs, ok := e.topics[sub.TopicID]
	if !ok {
		subs = make(peerSet)
		e.topics[sub.TopicID] = subs
	}
	if sub.Subscribe {
		subs.add(from)
		return
	}
	subs.remove(from)
	// 退订者同时离开 mesh 与 fanout
	e.mesh[sub.TopicID].remove(from)
	e.fanout[sub.TopicID].remove(from)
}

func (e *Engine) handleMessage(from types.PeerID, msg *pb.Message) {
	if e.cfg.MaxMessageSize > 0 && len(msg.Data) > e.cfg.MaxMessageSize {
		logger.Warnw("丢弃超大消息", "topic", msg.Topic, "size", len(msg.Data), "from", from.ShortString())
		return
	}

	id := e.msgID(msg)
	if e.seen.Has(id) || e.mcache.Has(id) {
		// 重复消息：静默丢弃，不转发
		return
	}
	e.seen.Add(id)
	if err := e.mcache.Put(id, msg); err != nil {
		logger.Warnw("消息缓存窗口已满，丢弃 gossip 消息", "topic", msg.Topic)
		return
	}
	e.score.Deliver(from)

	source, err := types.PeerIDFromBytes(msg.From)
	if err != nil {
		source = types.EmptyPeerID
	}

	if e.Subscribed(msg.Topic) {
		e.events = append(e.events, types.EvtMessage{
			Topic: msg.Topic,
			From:  source,
			Seqno: msg.Seqno,
			Data:  msg.Data,
		})
	}

	// 转发到 mesh，排除来源与发送方
	for _, p := range e.mesh[msg.Topic].sorted() {
		if p == from || p == source {
			continue
		}
		e.push(p, &pb.RPC{Publish: []*pb.Message{msg}})
	}
}

func (e *Engine) handleControl(from types.PeerID, ctl *pb.ControlMessage) {
	for _, graft := range ctl.Graft {
		e.handleGraft(from, graft.TopicID)
	}
	for _, prune := range ctl.Prune {
		e.handlePrune(from, prune.TopicID)
	}

	iwant := e.handleIHave(ctl.IHave)
	if len(iwant) > 0 {
		e.push(from, &pb.RPC{Control: &pb.ControlMessage{
			IWant: []*pb.ControlIWant{{MessageIDs: iwant}},
		}})
	}

	msgs := e.handleIWant(ctl.IWant)
	if len(msgs) > 0 {
		e.push(from, &pb.RPC{Publish: msgs})
	}
}

// handleGraft GRAFT：订阅且 mesh 未满时接纳，否则回 PRUNE
func (e *Engine) handleGraft(from types.PeerID, topic string) {
	if topic == "" {
		return
	}
	// GRAFT 隐含对方订阅了该主题
	subs, ok := e.topics[topic]
	if !ok {
		subs = make(peerSet)
		e.topics[topic] = subs
	}
	subs.add(from)

	m, meshed := e.mesh[topic]
	if !e.Subscribed(topic) || !meshed || len(m) >= e.cfg.Dhi {
		e.sendPrune(from, topic)
		return
	}
	m.add(from)
}

// handlePrune PRUNE：将发送方移出 mesh
func (e *Engine) handlePrune(from types.PeerID, topic string) {
	e.mesh[topic].remove(from)
}

// handleIHave 对未见过的消息 ID 产生 IWANT 请求
func (e *Engine) handleIHave(ihaves []*pb.ControlIHave) [][]byte {
	var want [][]byte
	for _, ih := range ihaves {
		for _, id := range ih.MessageIDs {
			if len(want) >= e.cfg.MaxIHaveLength {
				return want
			}
			sid := string(id)
			if e.seen.Has(sid) || e.mcache.Has(sid) {
				continue
			}
			want = append(want, id)
		}
	}
	return want
}

// handleIWant 从缓存取出对方请求的完整消息
func (e *Engine) handleIWant(iwants []*pb.ControlIWant) []*pb.Message {
	var msgs []*pb.Message
	for _, iw := range iwants {
		for _, id := range iw.MessageIDs {
			if msg, ok := e.mcache.Get(string(id)); ok {
				msgs = append(msgs, msg)
			}
		}
	}
	return msgs
}

func (e *Engine) sendGraft(p types.PeerID, topic string) {
	e.push(p, &pb.RPC{Control: &pb.ControlMessage{
		Graft: []*pb.ControlGraft{{TopicID: topic}},
	}})
}

func (e *Engine) sendIHave(p types.PeerID, topic string, ids [][]byte) {
	e.push(p, &pb.RPC{Control: &pb.ControlMessage{
		IHave: []*pb.ControlIHave{{TopicID: topic, MessageIDs: ids}},
	}})
}

func (e *Engine) sendPrune(p types.PeerID, topic string) {
	e.push(p, &pb.RPC{Control: &pb.ControlMessage{
		Prune: []*pb.ControlPrune{{TopicID: topic}},
	}})
}
