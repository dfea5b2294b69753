package noise

import (
	"crypto/ed25519"
	"crypto/sha512"

	"filippo.io/edwards25519"
)

// ============================================================================
// 密钥转换（RFC 7748, RFC 8032）
// ============================================================================

// ed25519ToCurve25519Private 将 Ed25519 私钥转换为 Curve25519 私钥
//
//  1. 对私钥种子进行 SHA-512 哈希
//  2. 取哈希前 32 字节
//  3. 进行 "clamping"（清理低 3 位和高 2 位）
func ed25519ToCurve25519Private(edPriv ed25519.PrivateKey) ([]byte, error) {
	if len(edPriv) != ed25519.PrivateKeySize {
		return nil, ErrBadKey
	}
	h := sha512.Sum512(edPriv.Seed())

	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	return h[:32], nil
}

// ed25519ToCurve25519Public 将 Ed25519 公钥转换为 Curve25519 公钥
//
// Edwards -> Montgomery 转换：u = (1 + y) / (1 - y) (mod p)
func ed25519ToCurve25519Public(edPub ed25519.PublicKey) ([]byte, error) {
	if len(edPub) != ed25519.PublicKeySize {
		return nil, ErrBadKey
	}
	point, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, ErrBadKey
	}
	return point.BytesMontgomery(), nil
}
