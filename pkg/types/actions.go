// Package types 定义 go-p2pcore 公共类型
//
// 本文件定义动作（Action）类型。动作是核心向宿主描述的外部效果：
// 核心自身不做任何 I/O，所有网络与定时器操作由宿主按动作执行。
package types

import "time"

// Action 动作接口
//
// 所有动作由 Swarm 的 Poll() 按入队顺序（FIFO）交给宿主。
type Action interface {
	// ActionType 返回动作类型名
	ActionType() string
}

// ActionDial 请求宿主拨号到指定地址
type ActionDial struct {
	// PendingID 待建连接 ID，宿主在 OnConnectionOpened 时回传
	PendingID PendingID

	// Addr 目标多地址（字符串形式）
	Addr string
}

// ActionType 返回动作类型名
func (ActionDial) ActionType() string { return "dial" }

// ActionListen 请求宿主在指定地址上监听
type ActionListen struct {
	// ListenerID 监听器 ID
	ListenerID ListenerID

	// Addr 监听多地址（字符串形式）
	Addr string
}

// ActionType 返回动作类型名
func (ActionListen) ActionType() string { return "listen" }

// ActionAccept 请求宿主接受监听器上的下一个入站连接
type ActionAccept struct {
	// ListenerID 监听器 ID
	ListenerID ListenerID
}

// ActionType 返回动作类型名
func (ActionAccept) ActionType() string { return "accept" }

// ActionCloseConnection 请求宿主关闭连接的底层传输
type ActionCloseConnection struct {
	// ConnID 连接 ID
	ConnID ConnectionID
}

// ActionType 返回动作类型名
func (ActionCloseConnection) ActionType() string { return "close-connection" }

// ActionSend 请求宿主在连接上发送字节
type ActionSend struct {
	// ConnID 连接 ID
	ConnID ConnectionID

	// Data 待发送字节
	Data []byte
}

// ActionType 返回动作类型名
func (ActionSend) ActionType() string { return "send" }

// ActionSetTimer 请求宿主设置一次性定时器
//
// 到期时宿主以相同的 TimerID 调用 OnTimer。
type ActionSetTimer struct {
	// TimerID 定时器 ID
	TimerID TimerID

	// Duration 定时时长
	Duration time.Duration
}

// ActionType 返回动作类型名
func (ActionSetTimer) ActionType() string { return "set-timer" }

// ActionCancelTimer 请求宿主取消尚未到期的定时器
type ActionCancelTimer struct {
	// TimerID 定时器 ID
	TimerID TimerID
}

// ActionType 返回动作类型名
func (ActionCancelTimer) ActionType() string { return "cancel-timer" }
