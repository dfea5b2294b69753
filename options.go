package p2pcore

import (
	"fmt"
	"time"
)

// Option 用户配置选项函数
type Option func(*Config) error

// WithConfig 整体替换配置
func WithConfig(cfg Config) Option {
	return func(c *Config) error {
		*c = cfg
		return nil
	}
}

// WithRandSeed 设置注入 PRNG 的种子
//
// 相同种子与相同输入序列产生完全可复现的动作/事件轨迹。
func WithRandSeed(seed int64) Option {
	return func(c *Config) error {
		c.RandSeed = seed
		return nil
	}
}

// WithAgentVersion 设置 Identify 中报告的代理版本
func WithAgentVersion(v string) Option {
	return func(c *Config) error {
		if v == "" {
			return fmt.Errorf("p2pcore: empty agent version")
		}
		c.AgentVersion = v
		return nil
	}
}

// WithGossipSubConfig 替换 GossipSub 配置
func WithGossipSubConfig(cfg GossipSubConfig) Option {
	return func(c *Config) error {
		c.Pubsub = cfg
		return nil
	}
}

// WithPing 设置主动 ping 的冷却间隔与超时
func WithPing(interval, timeout time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 || timeout <= 0 {
			return fmt.Errorf("p2pcore: ping interval/timeout must be positive")
		}
		c.PingInterval = interval
		c.PingTimeout = timeout
		return nil
	}
}

// WithoutPing 禁用主动 ping（被动回显仍然工作）
func WithoutPing() Option {
	return func(c *Config) error {
		c.DisablePing = true
		return nil
	}
}

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("p2pcore: handshake timeout must be positive")
		}
		c.HandshakeTimeout = d
		return nil
	}
}

// WithMaxInboundBuffer 设置每连接入站缓冲上限
func WithMaxInboundBuffer(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("p2pcore: buffer cap must be positive")
		}
		c.MaxInboundBuffer = n
		return nil
	}
}

// WithClock 注入单调毫秒时钟（ping 延迟测量用）
func WithClock(now func() int64) Option {
	return func(c *Config) error {
		c.Now = now
		return nil
	}
}
