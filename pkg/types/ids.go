// Package types 定义 go-p2pcore 公共类型
//
// 本文件定义核心标识符类型。连接、待建连接、监听器与定时器标识符由
// Swarm 单调分配，进程生命周期内不复用；StreamID 为连接内局部标识，
// 由流的发起方分配。
package types

import "fmt"

// ============================================================================
//                              标识符类型
// ============================================================================

// ConnectionID 连接标识符
//
// 由 Swarm 在 OnConnectionOpened 时分配，单调递增，永不复用。
type ConnectionID uint64

// String 返回连接 ID 的字符串表示
func (id ConnectionID) String() string {
	return fmt.Sprintf("conn-%d", uint64(id))
}

// PendingID 待建连接标识符
//
// Dial 返回的占位 ID，在 OnConnectionOpened 时换取正式的 ConnectionID。
type PendingID uint64

// ListenerID 监听器标识符
type ListenerID uint64

// StreamID 子流标识符
//
// 连接内局部，由流的发起方分配。
type StreamID uint32

// TimerID 定时器标识符
//
// 由 Swarm 分配。宿主在定时器到期时以相同 ID 调用 OnTimer。
type TimerID uint64

// ============================================================================
//                              枚举类型
// ============================================================================

// Direction 连接方向
type Direction int

const (
	// DirUnknown 未知方向
	DirUnknown Direction = iota
	// DirOutbound 本地发起（拨号方）
	DirOutbound
	// DirInbound 远端发起（接受方）
	DirInbound
)

// String 返回方向的字符串表示
func (d Direction) String() string {
	switch d {
	case DirOutbound:
		return "outbound"
	case DirInbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// ConnPhase 连接阶段
//
// 阶段只能前进：RawNegotiating -> Handshaking -> Secured -> Closed。
// 任何阶段都可以直接进入 Closed。
type ConnPhase int

const (
	// PhaseRawNegotiating 明文协商安全协议
	PhaseRawNegotiating ConnPhase = iota
	// PhaseHandshaking Noise 握手进行中
	PhaseHandshaking
	// PhaseSecured 握手完成，远端身份已知
	PhaseSecured
	// PhaseClosed 连接已关闭
	PhaseClosed
)

// String 返回阶段的字符串表示
func (p ConnPhase) String() string {
	switch p {
	case PhaseRawNegotiating:
		return "raw-negotiating"
	case PhaseHandshaking:
		return "handshaking"
	case PhaseSecured:
		return "secured"
	case PhaseClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// CloseReason 连接关闭原因
type CloseReason int

const (
	// ReasonLocal 本地主动关闭
	ReasonLocal CloseReason = iota
	// ReasonRemote 远端关闭
	ReasonRemote
	// ReasonProtocol 协议违规（握手失败、帧格式错误等）
	ReasonProtocol
	// ReasonHandshakeTimeout 握手超时
	ReasonHandshakeTimeout
	// ReasonPingTimeout Ping 超时
	ReasonPingTimeout
	// ReasonBufferOverflow 入站缓冲区溢出
	ReasonBufferOverflow
	// ReasonDialFailed 拨号失败
	ReasonDialFailed
)

// String 返回关闭原因的字符串表示
func (r CloseReason) String() string {
	switch r {
	case ReasonLocal:
		return "local"
	case ReasonRemote:
		return "remote"
	case ReasonProtocol:
		return "protocol"
	case ReasonHandshakeTimeout:
		return "handshake-timeout"
	case ReasonPingTimeout:
		return "ping-timeout"
	case ReasonBufferOverflow:
		return "buffer-overflow"
	case ReasonDialFailed:
		return "dial-failed"
	default:
		return "unknown"
	}
}
