// Package swarm 实现连接群管理与动作/事件分发
//
// Swarm 是单一所有者聚合：连接、子流、定时器、GossipSub 状态
// 都由它独占持有。核心严格单线程且从不阻塞——所有推进由宿主
// 调用输入方法触发，所有效果经 Poll()/DrainEvents() 取出。
// 公共边界上的互斥锁只为允许宿主从任意 goroutine 调用，
// 内部组件不加锁。
package swarm

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dep2p/go-p2pcore/internal/core/identity"
	"github.com/dep2p/go-p2pcore/internal/protocol/pubsub"
	"github.com/dep2p/go-p2pcore/pkg/lib/log"
	"github.com/dep2p/go-p2pcore/pkg/lib/multiaddr"
	"github.com/dep2p/go-p2pcore/pkg/types"
)

var logger = log.Logger("core/swarm")

// Swarm 连接群管理器
type Swarm struct {
	mu sync.Mutex

	cfg Config
	kp  *identity.Keypair
	rng *rand.Rand
	now func() int64

	local types.PeerID

	conns   map[types.ConnectionID]*conn
	byPeer  map[types.PeerID]types.ConnectionID
	pending map[types.PendingID]string

	listeners   map[types.ListenerID]string
	listenAddrs []string

	// peerstore Identify 交换得到的远端信息
	peerstore map[types.PeerID]types.IdentifyInfo

	gossip *pubsub.Engine

	// 单调分配器；0 保留为无效值
	nextConnID     uint64
	nextPendingID  uint64
	nextListenerID uint64
	nextTimerID    uint64

	timers map[types.TimerID]timerRef

	actions []types.Action
	events  []types.Event
}

// timerKind 定时器归属
type timerKind int

const (
	timerHeartbeat timerKind = iota
	timerHandshake
	timerPing
)

// timerRef 定时器登记项
type timerRef struct {
	kind   timerKind
	connID types.ConnectionID
}

// New 创建 Swarm
//
// identity 为本节点身份，cfg.RandSeed 决定全部协议内随机性。
func New(kp *identity.Keypair, cfg Config) (*Swarm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = func() int64 { return 0 }
	}

	rng := rand.New(rand.NewSource(cfg.RandSeed))
	s := &Swarm{
		cfg:       cfg,
		kp:        kp,
		rng:       rng,
		now:       now,
		local:     kp.PeerID(),
		conns:     make(map[types.ConnectionID]*conn),
		byPeer:    make(map[types.PeerID]types.ConnectionID),
		pending:   make(map[types.PendingID]string),
		listeners: make(map[types.ListenerID]string),
		peerstore: make(map[types.PeerID]types.IdentifyInfo),
		timers:    make(map[types.TimerID]timerRef),
	}
	s.gossip = pubsub.New(s.local, cfg.Pubsub, rng)

	// 心跳定时器常驻，到期后重设
	s.armTimer(timerHeartbeat, 0, cfg.Pubsub.HeartbeatInterval)
	return s, nil
}

// LocalPeer 返回本节点 PeerID
func (s *Swarm) LocalPeer() types.PeerID {
	return s.local
}

// ============================================================================
//                              公共操作
// ============================================================================

// Dial 请求拨号到多地址
//
// 地址非良构返回 ErrBadAddr；成功时入队 Dial 动作并返回待建连接 ID。
func (s *Swarm) Dial(addr string) (types.PendingID, error) {
	if _, err := multiaddr.NewMultiaddr(addr); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPendingID++
	id := types.PendingID(s.nextPendingID)
	s.pending[id] = addr
	s.actions = append(s.actions, types.ActionDial{PendingID: id, Addr: addr})
	logger.Debugw("入队拨号", "pending", uint64(id), "addr", addr)
	return id, nil
}

// Listen 请求在多地址上监听
func (s *Swarm) Listen(addr string) (types.ListenerID, error) {
	if _, err := multiaddr.NewMultiaddr(addr); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextListenerID++
	id := types.ListenerID(s.nextListenerID)
	s.listeners[id] = addr
	s.listenAddrs = append(s.listenAddrs, addr)
	s.actions = append(s.actions,
		types.ActionListen{ListenerID: id, Addr: addr},
		types.ActionAccept{ListenerID: id},
	)
	return id, nil
}

// Close 主动关闭连接
func (s *Swarm) Close(connID types.ConnectionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	s.closeConn(c, types.ReasonLocal, nil, true)
	return nil
}

// Subscribe 订阅主题
func (s *Swarm) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.gossip.Subscribe(topic)
	s.flushGossip()
	return err
}

// Unsubscribe 退订主题
func (s *Swarm) Unsubscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.gossip.Unsubscribe(topic)
	s.flushGossip()
	return err
}

// Publish 发布消息
//
// 未订阅且没有可路由节点时返回 ErrNoRoute，消息被丢弃。
func (s *Swarm) Publish(topic string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.gossip.Publish(topic, data)
	s.flushGossip()
	if errors.Is(err, pubsub.ErrInsufficientPeers) {
		return fmt.Errorf("%w: %s", ErrNoRoute, topic)
	}
	return err
}

// Poll 取走累积的动作（FIFO）
func (s *Swarm) Poll() []types.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.actions
	s.actions = nil
	return out
}

// DrainEvents 取走累积的事件（FIFO）
func (s *Swarm) DrainEvents() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.events
	s.events = nil
	return out
}

// PeerInfo 返回 Identify 交换得到的远端信息
func (s *Swarm) PeerInfo(p types.PeerID) (types.IdentifyInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.peerstore[p]
	return info, ok
}

// Peers 返回当前已安全建连的节点列表
func (s *Swarm) Peers() []types.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.PeerID, 0, len(s.byPeer))
	for p := range s.byPeer {
		out = append(out, p)
	}
	return out
}

// ConnToPeer 返回到指定节点的连接 ID
func (s *Swarm) ConnToPeer(p types.PeerID) (types.ConnectionID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPeer[p]
	return id, ok
}

// ============================================================================
//                              内部辅助
// ============================================================================

// armTimer 分配并登记一个定时器，入队 SetTimer 动作
func (s *Swarm) armTimer(kind timerKind, connID types.ConnectionID, d time.Duration) types.TimerID {
	s.nextTimerID++
	id := types.TimerID(s.nextTimerID)
	s.timers[id] = timerRef{kind: kind, connID: connID}
	s.actions = append(s.actions, types.ActionSetTimer{TimerID: id, Duration: d})
	return id
}

// cancelTimer 注销定时器并入队 CancelTimer 动作
func (s *Swarm) cancelTimer(id types.TimerID) {
	if id == 0 {
		return
	}
	if _, ok := s.timers[id]; !ok {
		return
	}
	delete(s.timers, id)
	s.actions = append(s.actions, types.ActionCancelTimer{TimerID: id})
}

// flushGossip 取走引擎的出站信封与事件并落到动作/事件队列
func (s *Swarm) flushGossip() {
	envelopes, events := s.gossip.Flush()
	for _, env := range envelopes {
		s.sendRPC(env)
	}
	s.events = append(s.events, events...)
}
