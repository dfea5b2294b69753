package p2pcore

import (
	"github.com/dep2p/go-p2pcore/internal/core/identity"
	"github.com/dep2p/go-p2pcore/internal/core/swarm"
	"github.com/dep2p/go-p2pcore/internal/protocol/pubsub"
)

// Swarm 是核心聚合的公开类型
//
// 一个进程内允许多个相互独立的 Swarm 实例。
type Swarm = swarm.Swarm

// Config 核心配置的公开类型
type Config = swarm.Config

// GossipSubConfig GossipSub 配置的公开类型
type GossipSubConfig = pubsub.Config

// Keypair 节点身份的公开类型
type Keypair = identity.Keypair

// GenerateIdentity 使用注入的熵源生成节点身份
var GenerateIdentity = identity.Generate

// IdentityFromSeed 从 32 字节种子恢复节点身份
var IdentityFromSeed = identity.FromSeed

// New 创建一个 Swarm
//
// identity 为节点身份密钥对；选项在默认配置上叠加。
func New(kp *Keypair, opts ...Option) (*Swarm, error) {
	cfg := swarm.DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return swarm.New(kp, cfg)
}
