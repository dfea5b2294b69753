// Package identify 包含 Identify 协议的 protobuf 定义
//
// 与 libp2p identify 规范的字段编号对齐：
//
//	Identify {
//	  bytes  publicKey      = 1;
//	  repeated bytes listenAddrs = 2;
//	  repeated string protocols  = 3;
//	  bytes  observedAddr   = 4;
//	  string agentVersion   = 6;
//	}
package identify

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidRecord 表示无效的 Identify 记录
var ErrInvalidRecord = errors.New("invalid identify record")

// Identify 身份交换记录
type Identify struct {
	// PublicKey Ed25519 公钥
	PublicKey []byte
	// ListenAddrs 监听地址（字符串形式的多地址）
	ListenAddrs []string
	// Protocols 支持的协议 ID 列表
	Protocols []string
	// ObservedAddr 观测到的远端地址
	ObservedAddr string
	// AgentVersion 代理版本
	AgentVersion string
}

// Marshal 序列化 Identify 记录
func (r *Identify) Marshal() []byte {
	var b []byte
	if len(r.PublicKey) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, r.PublicKey)
	}
	for _, a := range r.ListenAddrs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, a)
	}
	for _, p := range r.Protocols {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, p)
	}
	if r.ObservedAddr != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, r.ObservedAddr)
	}
	if r.AgentVersion != "" {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, r.AgentVersion)
	}
	return b
}

// Unmarshal 反序列化 Identify 记录
func (r *Identify) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidRecord
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ErrInvalidRecord
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return ErrInvalidRecord
		}
		data = data[n:]

		switch num {
		case 1:
			r.PublicKey = append([]byte(nil), v...)
		case 2:
			r.ListenAddrs = append(r.ListenAddrs, string(v))
		case 3:
			r.Protocols = append(r.Protocols, string(v))
		case 4:
			r.ObservedAddr = string(v)
		case 6:
			r.AgentVersion = string(v)
		}
	}
	return nil
}
