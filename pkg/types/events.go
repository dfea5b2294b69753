// Package types 定义 go-p2pcore 公共类型
//
// 本文件定义事件（Event）类型。事件是核心向宿主/应用层报告的观察，
// 通过 Swarm 的 DrainEvents() 按发生顺序取出。
package types

// Event 事件接口
type Event interface {
	// EventType 返回事件类型名
	EventType() string
}

// ============================================================================
//                              连接事件
// ============================================================================

// EvtConnectionEstablished 连接已建立并完成安全握手
//
// 在此事件之前，远端 PeerID 未知，任何应用字节都不会被发送。
type EvtConnectionEstablished struct {
	// ConnID 连接 ID
	ConnID ConnectionID

	// Peer 远端节点 ID
	Peer PeerID

	// Direction 连接方向
	Direction Direction
}

// EventType 返回事件类型名
func (EvtConnectionEstablished) EventType() string { return "connection-established" }

// EvtConnectionClosed 连接已关闭
//
// 此事件之后不会再出现引用该连接的任何动作。
type EvtConnectionClosed struct {
	// ConnID 连接 ID
	ConnID ConnectionID

	// Peer 远端节点 ID（握手未完成时为空）
	Peer PeerID

	// Reason 关闭原因
	Reason CloseReason

	// Err 触发关闭的错误（可能为 nil）
	Err error
}

// EventType 返回事件类型名
func (EvtConnectionClosed) EventType() string { return "connection-closed" }

// ============================================================================
//                              协议事件
// ============================================================================

// EvtMessage 收到一条订阅主题上的新消息
//
// 同一 message-id 在 seen_ttl 窗口内至多出现一次。
type EvtMessage struct {
	// Topic 主题
	Topic string

	// From 消息源节点
	From PeerID

	// Seqno 源节点序列号
	Seqno []byte

	// Data 消息负载
	Data []byte
}

// EventType 返回事件类型名
func (EvtMessage) EventType() string { return "message" }

// EvtPongReceived 收到匹配的 Pong 响应
type EvtPongReceived struct {
	// ConnID 连接 ID
	ConnID ConnectionID

	// Peer 远端节点 ID
	Peer PeerID

	// LatencyMs 往返延迟（毫秒）
	LatencyMs uint64
}

// EventType 返回事件类型名
func (EvtPongReceived) EventType() string { return "pong-received" }

// EvtPingTimeout Ping 超时，连接将被关闭
type EvtPingTimeout struct {
	// ConnID 连接 ID
	ConnID ConnectionID

	// Peer 远端节点 ID
	Peer PeerID
}

// EventType 返回事件类型名
func (EvtPingTimeout) EventType() string { return "ping-timeout" }

// EvtIdentified 完成与远端的 Identify 交换
type EvtIdentified struct {
	// Peer 远端节点 ID
	Peer PeerID

	// Info 远端身份信息
	Info IdentifyInfo
}

// EventType 返回事件类型名
func (EvtIdentified) EventType() string { return "identified" }

// EvtIdentifyFailed Identify 交换失败
//
// 对连接非致命，仅报告一次。
type EvtIdentifyFailed struct {
	// Peer 远端节点 ID
	Peer PeerID

	// Err 失败原因
	Err error
}

// EventType 返回事件类型名
func (EvtIdentifyFailed) EventType() string { return "identify-failed" }

// EvtInsufficientPeers 发布时没有可用的路由节点
//
// 消息被丢弃，不缓冲。
type EvtInsufficientPeers struct {
	// Topic 主题
	Topic string
}

// EventType 返回事件类型名
func (EvtInsufficientPeers) EventType() string { return "insufficient-peers" }

// ============================================================================
//                              身份信息
// ============================================================================

// IdentifyInfo 节点身份信息
//
// 通过 Identify 协议交换的元数据。
type IdentifyInfo struct {
	// PublicKey Ed25519 公钥（32 字节）
	PublicKey []byte

	// ListenAddrs 监听地址列表
	ListenAddrs []string

	// ObservedAddr 远端观测到的本端地址
	ObservedAddr string

	// Protocols 支持的协议列表
	Protocols []string

	// AgentVersion 代理版本
	AgentVersion string
}
