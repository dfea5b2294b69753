// Package types 定义 go-p2pcore 公共类型
//
// 本文件定义 PeerID：由 Ed25519 公钥派生的 32 字节节点标识。
package types

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点唯一标识符
//
// 内部表示为 Ed25519 公钥的规范 32 字节编码，相等性为字节相等。
// 外部文本表示为 base58btc 编码的 identity multihash
// （即标准的 "12D3KooW..." 形式）。
type PeerID [32]byte

// EmptyPeerID 空节点标识
var EmptyPeerID PeerID

var (
	// ErrBadKey 无效的 Ed25519 公钥编码
	ErrBadKey = errors.New("types: invalid ed25519 public key")

	// ErrBadBase58 无效的 PeerID 文本表示
	ErrBadBase58 = errors.New("types: invalid base58 peer id")
)

// peerIDPrefix 是文本编码使用的 multihash 头部：
//
//	0x00 0x24            identity multihash，长度 36
//	0x08 0x01            protobuf: key type = Ed25519
//	0x12 0x20            protobuf: key data，长度 32
var peerIDPrefix = []byte{0x00, 0x24, 0x08, 0x01, 0x12, 0x20}

// PeerIDFromPublicKey 从 Ed25519 公钥派生 PeerID
//
// 公钥必须是有效的曲线点编码，否则返回 ErrBadKey。
func PeerIDFromPublicKey(pub []byte) (PeerID, error) {
	if len(pub) != ed25519.PublicKeySize {
		return EmptyPeerID, fmt.Errorf("%w: length %d", ErrBadKey, len(pub))
	}
	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return EmptyPeerID, fmt.Errorf("%w: not a curve point", ErrBadKey)
	}

	var id PeerID
	copy(id[:], pub)
	return id, nil
}

// PeerIDFromBytes 从原始字节创建 PeerID（不验证曲线点）
func PeerIDFromBytes(b []byte) (PeerID, error) {
	if len(b) != 32 {
		return EmptyPeerID, fmt.Errorf("%w: length %d", ErrBadKey, len(b))
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

// ParsePeerID 从 base58btc 字符串解析 PeerID
//
// 接受规范的 "12D3KooW..." 形式，验证 multihash 头部。
func ParsePeerID(s string) (PeerID, error) {
	if s == "" {
		return EmptyPeerID, ErrBadBase58
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return EmptyPeerID, fmt.Errorf("%w: %v", ErrBadBase58, err)
	}
	if len(raw) != len(peerIDPrefix)+32 || !bytes.HasPrefix(raw, peerIDPrefix) {
		return EmptyPeerID, fmt.Errorf("%w: not an ed25519 identity multihash", ErrBadBase58)
	}

	var id PeerID
	copy(id[:], raw[len(peerIDPrefix):])
	return id, nil
}

// String 返回 PeerID 的 base58btc 字符串表示
//
// 这是 PeerID 的规范外部表示，用于：
//   - 多地址中的 /p2p/<PeerID>
//   - 日志与诊断输出
func (id PeerID) String() string {
	buf := make([]byte, 0, len(peerIDPrefix)+32)
	buf = append(buf, peerIDPrefix...)
	buf = append(buf, id[:]...)
	return base58.Encode(buf)
}

// ShortString 返回 PeerID 的短字符串表示（日志用）
func (id PeerID) ShortString() string {
	s := id.String()
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

// Bytes 返回 PeerID 的字节切片副本
func (id PeerID) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, id[:])
	return b
}

// Equal 比较两个 PeerID 是否相等
func (id PeerID) Equal(other PeerID) bool {
	return id == other
}

// IsEmpty 检查 PeerID 是否为空
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}
