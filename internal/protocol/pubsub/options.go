// Package pubsub 实现 GossipSub 发布订阅引擎
package pubsub

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	pb "github.com/dep2p/go-p2pcore/pkg/lib/proto/gossipsub"
)

// ProtocolID GossipSub 协议 ID
const ProtocolID = "/meshsub/1.1.0"

// MsgIDFunc 消息标识函数
//
// 默认实现为 H(from || seqno)，可通过配置替换为负载哈希等。
type MsgIDFunc func(*pb.Message) string

// Config GossipSub 配置
type Config struct {
	// D 目标 Mesh 度数
	D int

	// Dlo Mesh 度数下限
	Dlo int

	// Dhi Mesh 度数上限
	Dhi int

	// Dlazy IHAVE 通告的 gossip 扇出度数
	Dlazy int

	// HeartbeatInterval 心跳间隔
	HeartbeatInterval time.Duration

	// HistoryLength 消息缓存保留的心跳窗口数（>= HistoryGossip）
	HistoryLength int

	// HistoryGossip 参与 IHAVE 通告的窗口数
	HistoryGossip int

	// FanoutTTL 未订阅主题的 fanout 保留时长
	FanoutTTL time.Duration

	// SeenTTL 重复抑制窗口
	SeenTTL time.Duration

	// SeenCacheSize 已见消息缓存容量（有界内存）
	SeenCacheSize int

	// MaxMessageSize 单条消息大小上限
	MaxMessageSize int

	// WindowCap 消息缓存单窗口条目上限
	WindowCap int

	// MaxIHaveLength 单次 IHAVE/IWANT 的消息 ID 数上限
	MaxIHaveLength int

	// MsgID 消息标识函数（nil 时使用默认）
	MsgID MsgIDFunc
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		D:                 6,
		Dlo:               5,
		Dhi:               12,
		Dlazy:             6,
		HeartbeatInterval: time.Second,
		HistoryLength:     5,
		HistoryGossip:     3,
		FanoutTTL:         60 * time.Second,
		SeenTTL:           120 * time.Second,
		SeenCacheSize:     32768,
		MaxMessageSize:    1 << 20,
		WindowCap:         1024,
		MaxIHaveLength:    5000,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	var err error
	if c.D <= 0 {
		err = multierr.Append(err, fmt.Errorf("pubsub: D must be positive, got %d", c.D))
	}
	if c.Dlo > c.D || c.D > c.Dhi {
		err = multierr.Append(err, fmt.Errorf("pubsub: need Dlo <= D <= Dhi, got %d/%d/%d", c.Dlo, c.D, c.Dhi))
	}
	if c.HeartbeatInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("pubsub: heartbeat interval must be positive"))
	}
	if c.HistoryGossip > c.HistoryLength {
		err = multierr.Append(err, fmt.Errorf("pubsub: HistoryGossip %d exceeds HistoryLength %d", c.HistoryGossip, c.HistoryLength))
	}
	if c.HistoryLength <= 0 {
		err = multierr.Append(err, fmt.Errorf("pubsub: HistoryLength must be positive"))
	}
	if c.SeenCacheSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("pubsub: SeenCacheSize must be positive"))
	}
	return err
}

// ticks 将时长换算为心跳拍数（至少 1 拍）
func (c Config) ticks(d time.Duration) int {
	t := int(d / c.HeartbeatInterval)
	if t < 1 {
		t = 1
	}
	return t
}
