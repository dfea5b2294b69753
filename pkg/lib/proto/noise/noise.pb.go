// Package noise 包含 Noise 协议的 protobuf 定义
//
// 实现 libp2p-noise 规范的握手 payload 结构。
package noise

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidPayload 表示无效的 payload 数据
var ErrInvalidPayload = errors.New("invalid noise payload data")

// NoiseHandshakePayload 是 Noise 握手的 payload 结构
//
// libp2p-noise 协议要求在握手消息中包含：
//   - IdentityKey: Ed25519 公钥
//   - IdentitySig: 对 "noise-libp2p-static-key:" + Curve25519 静态公钥的签名
type NoiseHandshakePayload struct {
	// Ed25519 身份公钥
	IdentityKey []byte
	// 签名：Sign("noise-libp2p-static-key:" + curve25519_static_pubkey)
	IdentitySig []byte
}

// Marshal 序列化 NoiseHandshakePayload
//
// wire format：
//   - Field 1 (identity_key): length-delimited
//   - Field 2 (identity_sig): length-delimited
func (p *NoiseHandshakePayload) Marshal() []byte {
	b := make([]byte, 0, len(p.IdentityKey)+len(p.IdentitySig)+8)
	if len(p.IdentityKey) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, p.IdentityKey)
	}
	if len(p.IdentitySig) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, p.IdentitySig)
	}
	return b
}

// Unmarshal 反序列化 NoiseHandshakePayload
//
// 未知字段按 protobuf 惯例跳过。
func (p *NoiseHandshakePayload) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidPayload
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ErrInvalidPayload
			}
			p.IdentityKey = append([]byte(nil), v...)
			data = data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ErrInvalidPayload
			}
			p.IdentitySig = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ErrInvalidPayload
			}
			data = data[n:]
		}
	}
	return nil
}
