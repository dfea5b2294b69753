// Package swarm 实现连接群管理与动作/事件分发
package swarm

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-p2pcore/internal/protocol/pubsub"
)

// Config Swarm 配置
type Config struct {
	// AgentVersion Identify 中报告的代理版本
	AgentVersion string

	// MaxInboundBuffer 每连接入站缓冲上限，溢出即关闭连接
	MaxInboundBuffer int

	// HandshakeTimeout 握手（含协议协商）超时
	HandshakeTimeout time.Duration

	// PingInterval 两次 ping 之间的冷却时长
	PingInterval time.Duration

	// PingTimeout 等待 pong 的超时
	PingTimeout time.Duration

	// DisablePing 禁用主动 ping（被动回显仍然工作）
	DisablePing bool

	// Pubsub GossipSub 配置
	Pubsub pubsub.Config

	// RandSeed 注入的 PRNG 种子，相同种子产生可复现轨迹
	RandSeed int64

	// Now 单调毫秒时钟（宿主注入，用于 ping 延迟测量）
	// 为 nil 时延迟恒为 0，协议行为不受影响。
	Now func() int64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		AgentVersion:     "go-p2pcore/1.0.0",
		MaxInboundBuffer: 1 << 20,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      5 * time.Second,
		Pubsub:           pubsub.DefaultConfig(),
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	var err error
	if c.MaxInboundBuffer <= 0 {
		err = multierr.Append(err, fmt.Errorf("swarm: MaxInboundBuffer must be positive"))
	}
	if c.HandshakeTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("swarm: HandshakeTimeout must be positive"))
	}
	if !c.DisablePing {
		if c.PingInterval <= 0 || c.PingTimeout <= 0 {
			err = multierr.Append(err, fmt.Errorf("swarm: ping interval/timeout must be positive"))
		}
	}
	err = multierr.Append(err, c.Pubsub.Validate())
	return err
}
