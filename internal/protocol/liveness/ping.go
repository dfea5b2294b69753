// Package liveness 实现存活检测
//
// libp2p ping 语义（/ipfs/ping/1.0.0）：主动方发送 32 随机字节，
// 被动方原样回显。主动方状态机：
//
//	Idle -> WaitingPong -> Cooldown -> WaitingPong(下一轮)
//
// Idle 仅是第一个 ping 发出前的状态；冷却定时器到期时直接发出下一个
// ping 并回到 WaitingPong。
// 超时与冷却均通过定时器动作表达，由 Swarm 调度。
package liveness

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/dep2p/go-p2pcore/pkg/lib/log"
)

var logger = log.Logger("protocol/liveness")

// ProtocolID Ping 协议 ID
const ProtocolID = "/ipfs/ping/1.0.0"

// PayloadLen Ping 负载长度
const PayloadLen = 32

// 错误定义
var (
	// ErrNonceMismatch Pong 负载与发送的 nonce 不一致
	ErrNonceMismatch = errors.New("liveness: pong nonce mismatch")

	// ErrBadState 状态机处于意外状态
	ErrBadState = errors.New("liveness: unexpected state")
)

// State Ping 状态
type State int

const (
	// StateIdle 空闲，尚未发出第一个 ping
	StateIdle State = iota
	// StateWaitingPong 已发送 ping，等待回显
	StateWaitingPong
	// StateCooldown 已收到 pong，等待下一轮
	StateCooldown
)

// String 返回状态名
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingPong:
		return "waiting-pong"
	case StateCooldown:
		return "cooldown"
	default:
		return "invalid"
	}
}

// Pinger 主动 Ping 状态机（每连接一个）
type Pinger struct {
	state    State
	interval time.Duration
	timeout  time.Duration

	rng io.Reader
	now func() int64 // 单调毫秒时钟（宿主注入）

	nonce  [PayloadLen]byte
	sentAt int64

	// pong 字节可能分片到达，累积到 PayloadLen 再比对
	rbuf []byte
}

// NewPinger 创建主动 Ping 状态机
func NewPinger(interval, timeout time.Duration, rng io.Reader, now func() int64) *Pinger {
	return &Pinger{
		state:    StateIdle,
		interval: interval,
		timeout:  timeout,
		rng:      rng,
		now:      now,
	}
}

// State 返回当前状态
func (p *Pinger) State() State { return p.state }

// Start 发出第一个 ping
//
// 返回要发送的负载与应设置的超时时长。
func (p *Pinger) Start() (payload []byte, timeout time.Duration, err error) {
	if p.state != StateIdle {
		return nil, 0, ErrBadState
	}
	return p.sendPing()
}

// sendPing 生成新 nonce 并进入 WaitingPong
func (p *Pinger) sendPing() ([]byte, time.Duration, error) {
	if _, err := io.ReadFull(p.rng, p.nonce[:]); err != nil {
		return nil, 0, err
	}
	p.sentAt = p.now()
	p.rbuf = p.rbuf[:0]
	p.state = StateWaitingPong
	out := make([]byte, PayloadLen)
	copy(out, p.nonce[:])
	return out, p.timeout, nil
}

// HandleData 消费 ping 流上的入站字节
//
// 凑齐 32 字节后与 nonce 比对：匹配则进入 Cooldown 并返回延迟
// 与下一轮间隔；不匹配返回 ErrNonceMismatch。
func (p *Pinger) HandleData(data []byte) (latencyMs uint64, matched bool, next time.Duration, err error) {
	if p.state != StateWaitingPong {
		// 迟到的 pong（超时后到达），忽略
		logger.Debugw("忽略非等待态的 pong 数据", "state", p.state.String(), "bytes", len(data))
		return 0, false, 0, nil
	}

	p.rbuf = append(p.rbuf, data...)
	if len(p.rbuf) < PayloadLen {
		return 0, false, 0, nil
	}

	got := p.rbuf[:PayloadLen]
	p.rbuf = p.rbuf[PayloadLen:]
	if !bytes.Equal(got, p.nonce[:]) {
		return 0, false, 0, ErrNonceMismatch
	}

	elapsed := p.now() - p.sentAt
	if elapsed < 0 {
		elapsed = 0
	}
	p.state = StateCooldown
	return uint64(elapsed), true, p.interval, nil
}

// HandleTimer 处理定时器到期
//
// WaitingPong 态表示超时（timedOut=true，连接应关闭）；
// Cooldown 态表示冷却结束，发出下一个 ping。
func (p *Pinger) HandleTimer() (payload []byte, timeout time.Duration, timedOut bool, err error) {
	switch p.state {
	case StateWaitingPong:
		return nil, 0, true, nil
	case StateCooldown:
		payload, timeout, err = p.sendPing()
		return payload, timeout, false, err
	default:
		return nil, 0, false, ErrBadState
	}
}

// ============================================================================
//                              被动回显
// ============================================================================

// Echo 被动方回显：收到的字节原样返回，无状态
func Echo(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
