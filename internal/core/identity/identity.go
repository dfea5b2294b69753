// Package identity 实现节点身份
//
// 身份是一个 Ed25519 密钥对，PeerID 为公钥的规范 32 字节编码。
// 密钥生成消费注入的熵源，核心自身不接触系统随机数。
package identity

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/dep2p/go-p2pcore/pkg/types"
)

var (
	// ErrNilEntropy 未提供熵源
	ErrNilEntropy = errors.New("identity: nil entropy source")

	// ErrBadSeed 种子长度错误
	ErrBadSeed = errors.New("identity: seed must be 32 bytes")

	// ErrBadPrivateKey 私钥长度错误
	ErrBadPrivateKey = errors.New("identity: private key must be 64 bytes")
)

// Keypair 节点身份密钥对
type Keypair struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	peerID types.PeerID
}

// Generate 使用注入的熵源生成新密钥对
func Generate(entropy io.Reader) (*Keypair, error) {
	if entropy == nil {
		return nil, ErrNilEntropy
	}
	pub, priv, err := ed25519.GenerateKey(entropy)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return fromKeys(priv, pub)
}

// FromSeed 从 32 字节种子恢复密钥对
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrBadSeed
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return fromKeys(priv, priv.Public().(ed25519.PublicKey))
}

// FromPrivateKey 从 64 字节私钥恢复密钥对
func FromPrivateKey(priv []byte) (*Keypair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrBadPrivateKey
	}
	key := ed25519.PrivateKey(append([]byte(nil), priv...))
	return fromKeys(key, key.Public().(ed25519.PublicKey))
}

func fromKeys(priv ed25519.PrivateKey, pub ed25519.PublicKey) (*Keypair, error) {
	peerID, err := types.PeerIDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &Keypair{priv: priv, pub: pub, peerID: peerID}, nil
}

// PeerID 返回密钥对对应的节点标识
func (kp *Keypair) PeerID() types.PeerID {
	return kp.peerID
}

// PublicKey 返回 Ed25519 公钥
func (kp *Keypair) PublicKey() ed25519.PublicKey {
	return kp.pub
}

// PrivateKey 返回 Ed25519 私钥
func (kp *Keypair) PrivateKey() ed25519.PrivateKey {
	return kp.priv
}

// Sign 使用身份私钥签名
func (kp *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.priv, msg)
}

// Verify 使用指定公钥验证签名
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
