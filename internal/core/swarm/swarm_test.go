package swarm

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pcore/internal/core/identity"
	"github.com/dep2p/go-p2pcore/pkg/types"
)

// ============================================================================
//                              内存驱动
//
// 测试宿主：把一个 Swarm 的 Send 动作原样投喂给对端的
// OnDataReceived，记录定时器供测试手动触发。
// ============================================================================

type node struct {
	name   string
	sw     *Swarm
	timers map[types.TimerID]time.Duration
	events []types.Event
}

type route struct {
	to   *node
	conn types.ConnectionID
}

type harness struct {
	t      *testing.T
	nodes  []*node
	routes map[*node]map[types.ConnectionID]route
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, routes: make(map[*node]map[types.ConnectionID]route)}
}

// addNode 创建一个确定性身份与种子的节点
func (h *harness) addNode(name string, seed byte, mutate func(*Config)) *node {
	h.t.Helper()

	kp, err := identity.FromSeed(bytes.Repeat([]byte{seed}, 32))
	require.NoError(h.t, err)

	cfg := DefaultConfig()
	cfg.RandSeed = int64(seed)
	if mutate != nil {
		mutate(&cfg)
	}
	sw, err := New(kp, cfg)
	require.NoError(h.t, err)

	n := &node{name: name, sw: sw, timers: make(map[types.TimerID]time.Duration)}
	h.nodes = append(h.nodes, n)
	h.routes[n] = make(map[types.ConnectionID]route)
	return n
}

// connect 建立 a -> b 的连接并驱动到静止
func (h *harness) connect(a, b *node) (types.ConnectionID, types.ConnectionID) {
	h.t.Helper()

	addr := "/ip4/127.0.0.1/tcp/4001"
	pending, err := a.sw.Dial(addr)
	require.NoError(h.t, err)
	h.pump()

	connB, err := b.sw.OnConnectionOpened(0, "/ip4/127.0.0.1/tcp/53000", types.DirInbound)
	require.NoError(h.t, err)
	connA, err := a.sw.OnConnectionOpened(pending, addr, types.DirOutbound)
	require.NoError(h.t, err)

	h.routes[a][connA] = route{to: b, conn: connB}
	h.routes[b][connB] = route{to: a, conn: connA}

	h.pump()
	return connA, connB
}

// pump 搬运动作直至所有节点静止
func (h *harness) pump() {
	h.t.Helper()

	for i := 0; i < 1000; i++ {
		progressed := false
		for _, n := range h.nodes {
			for _, act := range n.sw.Poll() {
				progressed = true
				h.apply(n, act)
			}
			n.events = append(n.events, n.sw.DrainEvents()...)
		}
		if !progressed {
			return
		}
	}
	h.t.Fatal("pump did not quiesce")
}

// apply 执行一条动作
func (h *harness) apply(n *node, act types.Action) {
	h.t.Helper()

	switch a := act.(type) {
	case types.ActionSend:
		r, ok := h.routes[n][a.ConnID]
		if !ok {
			return
		}
		_ = r.to.sw.OnDataReceived(r.conn, a.Data)

	case types.ActionSetTimer:
		n.timers[a.TimerID] = a.Duration

	case types.ActionCancelTimer:
		delete(n.timers, a.TimerID)

	case types.ActionCloseConnection:
		r, ok := h.routes[n][a.ConnID]
		if !ok {
			return
		}
		delete(h.routes[n], a.ConnID)
		delete(h.routes[r.to], r.conn)
		_ = r.to.sw.OnConnectionClosed(r.conn, nil)

	case types.ActionDial, types.ActionListen, types.ActionAccept:
		// 建连由 connect 显式完成
	}
}

// fireTimers 触发节点当前登记的全部定时器并驱动到静止
func (h *harness) fireTimers(n *node) {
	h.t.Helper()

	ids := make([]types.TimerID, 0, len(n.timers))
	for id := range n.timers {
		ids = append(ids, id)
	}
	for _, id := range ids {
		delete(n.timers, id)
		require.NoError(h.t, n.sw.OnTimer(id))
	}
	h.pump()
}

// eventsOf 过滤某类事件
func eventsOf[T types.Event](n *node) []T {
	var out []T
	for _, e := range n.events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// gossipConfig 小度数、禁 ping 的测试配置
func gossipConfig(cfg *Config) {
	cfg.DisablePing = true
	cfg.Pubsub.D = 2
	cfg.Pubsub.Dlo = 2
	cfg.Pubsub.Dhi = 3
	cfg.Pubsub.Dlazy = 2
}

// ============================================================================
//                              测试
// ============================================================================

func TestSwarm_EstablishAndIdentify(t *testing.T) {
	h := newHarness(t)
	a := h.addNode("a", 1, gossipConfig)
	b := h.addNode("b", 2, gossipConfig)

	connA, connB := h.connect(a, b)

	estA := eventsOf[types.EvtConnectionEstablished](a)
	require.Len(t, estA, 1)
	require.Equal(t, connA, estA[0].ConnID)
	require.True(t, estA[0].Peer.Equal(b.sw.LocalPeer()))
	require.Equal(t, types.DirOutbound, estA[0].Direction)

	estB := eventsOf[types.EvtConnectionEstablished](b)
	require.Len(t, estB, 1)
	require.Equal(t, connB, estB[0].ConnID)
	require.True(t, estB[0].Peer.Equal(a.sw.LocalPeer()))

	// 双向 Identify 各完成一次
	idA := eventsOf[types.EvtIdentified](a)
	require.Len(t, idA, 1)
	require.Equal(t, "go-p2pcore/1.0.0", idA[0].Info.AgentVersion)
	require.Equal(t, []byte(b.sw.kp.PublicKey()), idA[0].Info.PublicKey)

	idB := eventsOf[types.EvtIdentified](b)
	require.Len(t, idB, 1)

	info, ok := a.sw.PeerInfo(b.sw.LocalPeer())
	require.True(t, ok)
	require.Equal(t, "go-p2pcore/1.0.0", info.AgentVersion)

	require.Contains(t, a.sw.Peers(), b.sw.LocalPeer())
	id, ok := a.sw.ConnToPeer(b.sw.LocalPeer())
	require.True(t, ok)
	require.Equal(t, connA, id)
}

func TestSwarm_PingPong(t *testing.T) {
	h := newHarness(t)
	a := h.addNode("a", 1, nil)
	b := h.addNode("b", 2, nil)

	h.connect(a, b)

	// 建连后拨号方自动发出第一个 ping，回显在同一轮完成
	pongs := eventsOf[types.EvtPongReceived](a)
	require.Len(t, pongs, 1)
	require.True(t, pongs[0].Peer.Equal(b.sw.LocalPeer()))

	// 触发冷却定时器，发出下一轮 ping
	h.fireTimers(a)
	pongs = eventsOf[types.EvtPongReceived](a)
	require.Len(t, pongs, 2)

	// 被动方不产生 pong 事件
	require.Empty(t, eventsOf[types.EvtPongReceived](b))
}

func TestSwarm_GossipMesh(t *testing.T) {
	h := newHarness(t)
	a := h.addNode("a", 1, gossipConfig)
	b := h.addNode("b", 2, gossipConfig)
	c := h.addNode("c", 3, gossipConfig)

	h.connect(a, b)
	h.connect(a, c)
	h.connect(b, c)

	require.NoError(t, a.sw.Subscribe("x"))
	require.NoError(t, b.sw.Subscribe("x"))
	require.NoError(t, c.sw.Subscribe("x"))
	h.pump()

	// 一次心跳后每个节点的 mesh 包含另外两个（D=2）
	for _, n := range []*node{a, b, c} {
		h.fireTimers(n)
	}
	for _, n := range []*node{a, b, c} {
		require.Len(t, n.sw.gossip.MeshPeers("x"), 2, "node %s", n.name)
	}

	// A 发布，B 与 C 各收到恰好一次
	require.NoError(t, a.sw.Publish("x", []byte("hello")))
	h.pump()

	for _, n := range []*node{b, c} {
		msgs := eventsOf[types.EvtMessage](n)
		require.Len(t, msgs, 1, "node %s", n.name)
		require.Equal(t, "x", msgs[0].Topic)
		require.Equal(t, []byte("hello"), msgs[0].Data)
		require.True(t, msgs[0].From.Equal(a.sw.LocalPeer()))
	}
	require.Empty(t, eventsOf[types.EvtMessage](a))
}

func TestSwarm_PublishNoRoute(t *testing.T) {
	h := newHarness(t)
	a := h.addNode("a", 1, gossipConfig)

	err := a.sw.Publish("lonely", []byte("m"))
	require.ErrorIs(t, err, ErrNoRoute)

	h.pump()
	require.Len(t, eventsOf[types.EvtInsufficientPeers](a), 1)
}

func TestSwarm_CloseConnection(t *testing.T) {
	h := newHarness(t)
	a := h.addNode("a", 1, gossipConfig)
	b := h.addNode("b", 2, gossipConfig)

	connA, _ := h.connect(a, b)
	require.NoError(t, a.sw.Subscribe("x"))
	require.NoError(t, b.sw.Subscribe("x"))
	h.pump()

	require.NoError(t, a.sw.Close(connA))
	h.pump()

	closedA := eventsOf[types.EvtConnectionClosed](a)
	require.Len(t, closedA, 1)
	require.Equal(t, connA, closedA[0].ConnID)
	require.Equal(t, types.ReasonLocal, closedA[0].Reason)

	closedB := eventsOf[types.EvtConnectionClosed](b)
	require.Len(t, closedB, 1)
	require.Equal(t, types.ReasonRemote, closedB[0].Reason)

	// 关闭后的输入与操作报未知连接
	require.ErrorIs(t, a.sw.OnDataReceived(connA, []byte{1}), ErrUnknownConnection)
	require.ErrorIs(t, a.sw.Close(connA), ErrUnknownConnection)

	// mesh 中的节点被清除
	require.Empty(t, a.sw.gossip.MeshPeers("x"))
	require.Empty(t, a.sw.Peers())

	// 关闭事件之后不再出现引用该连接的动作
	for _, act := range a.sw.Poll() {
		if send, ok := act.(types.ActionSend); ok {
			require.NotEqual(t, connA, send.ConnID)
		}
	}
}

func TestSwarm_DialValidation(t *testing.T) {
	h := newHarness(t)
	a := h.addNode("a", 1, gossipConfig)

	_, err := a.sw.Dial("not-a-multiaddr")
	require.Error(t, err)

	_, err = a.sw.Dial("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	// 未知 pending
	_, err = a.sw.OnConnectionOpened(999, "/ip4/1.2.3.4/tcp/1", types.DirOutbound)
	require.ErrorIs(t, err, ErrUnknownPending)
}

func TestSwarm_DialFailure(t *testing.T) {
	h := newHarness(t)
	a := h.addNode("a", 1, gossipConfig)

	pending, err := a.sw.Dial("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	require.NoError(t, a.sw.OnConnectionFailed(pending, ErrConnectionClosed))
	h.pump()

	closed := eventsOf[types.EvtConnectionClosed](a)
	require.Len(t, closed, 1)
	require.Equal(t, types.ReasonDialFailed, closed[0].Reason)

	require.ErrorIs(t, a.sw.OnConnectionFailed(pending, nil), ErrUnknownPending)
}

func TestSwarm_ListenEmitsAcceptInOrder(t *testing.T) {
	h := newHarness(t)
	a := h.addNode("a", 1, gossipConfig)

	_, err := a.sw.Listen("/ip4/0.0.0.0/tcp/4001/ws")
	require.NoError(t, err)

	acts := a.sw.Poll()
	// 动作按发射顺序出队：先 Listen 后 Accept
	var sawListen bool
	for _, act := range acts {
		switch act.(type) {
		case types.ActionListen:
			require.False(t, sawListen)
			sawListen = true
		case types.ActionAccept:
			require.True(t, sawListen)
		}
	}
	require.True(t, sawListen)
}

func TestSwarm_BufferOverflow(t *testing.T) {
	h := newHarness(t)
	a := h.addNode("a", 1, func(cfg *Config) {
		gossipConfig(cfg)
		cfg.MaxInboundBuffer = 1024
	})

	pending, err := a.sw.Dial("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	conn, err := a.sw.OnConnectionOpened(pending, "/ip4/127.0.0.1/tcp/4001", types.DirOutbound)
	require.NoError(t, err)

	require.NoError(t, a.sw.OnDataReceived(conn, make([]byte, 2048)))
	h.pump()

	closed := eventsOf[types.EvtConnectionClosed](a)
	require.Len(t, closed, 1)
	require.Equal(t, types.ReasonBufferOverflow, closed[0].Reason)
}

func TestSwarm_HandshakeTimeout(t *testing.T) {
	h := newHarness(t)
	a := h.addNode("a", 1, gossipConfig)

	pending, err := a.sw.Dial("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	_, err = a.sw.OnConnectionOpened(pending, "/ip4/127.0.0.1/tcp/4001", types.DirOutbound)
	require.NoError(t, err)

	// 对端毫无响应，触发全部定时器（含握手超时）
	h.pump()
	h.fireTimers(a)

	closed := eventsOf[types.EvtConnectionClosed](a)
	require.Len(t, closed, 1)
	require.Equal(t, types.ReasonHandshakeTimeout, closed[0].Reason)
}

func TestSwarm_IndependentInstances(t *testing.T) {
	// 同进程内多个 Swarm 互不干扰
	h1 := newHarness(t)
	a1 := h1.addNode("a", 1, gossipConfig)
	b1 := h1.addNode("b", 2, gossipConfig)
	h1.connect(a1, b1)

	h2 := newHarness(t)
	a2 := h2.addNode("a", 3, gossipConfig)

	require.Empty(t, a2.sw.Peers())
	require.Len(t, a1.sw.Peers(), 1)
	require.NotEqual(t, a1.sw.LocalPeer(), a2.sw.LocalPeer())
}
