// Package multiaddr 实现自描述的组合网络地址
//
// 地址文法：("/" protocol ("/" value)?)+，例如
// /ip4/127.0.0.1/tcp/4001/ws/p2p/12D3KooW...
//
// 协议注册表是封闭的（ip4, ip6, tcp, udp, ws, wss, p2p, dns），
// 并强制层叠规则：tcp 必须跟在 ip4/ip6/dns 之后，ws 必须跟在 tcp 之后。
package multiaddr

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/multiformats/go-varint"
)

// Multiaddr 是一个已验证的组合网络地址
//
// 内部表示为规范的二进制形式（varint 协议代码 + 定长或长度前缀的值）。
// 相等性为组件级结构相等，等价于规范字节相等。
type Multiaddr struct {
	raw []byte
}

// Component 是地址中的一个 (协议, 值) 元组
type Component struct {
	// Protocol 协议描述
	Protocol Protocol

	// Value 字符串形式的值（协议无数据时为空）
	Value string

	// RawValue 二进制形式的值
	RawValue []byte
}

// NewMultiaddr 从字符串解析多地址
//
// 对非良构输入返回 ErrBadAddr（包装具体原因）。
func NewMultiaddr(s string) (Multiaddr, error) {
	b, err := stringToBytes(s)
	if err != nil {
		return Multiaddr{}, fmt.Errorf("%w: %v", ErrBadAddr, err)
	}
	return Multiaddr{raw: b}, nil
}

// NewMultiaddrBytes 从二进制形式创建多地址
func NewMultiaddrBytes(b []byte) (Multiaddr, error) {
	if _, err := bytesToComponents(b); err != nil {
		return Multiaddr{}, fmt.Errorf("%w: %v", ErrBadAddr, err)
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	return Multiaddr{raw: buf}, nil
}

// Bytes 返回二进制表示的副本
func (m Multiaddr) Bytes() []byte {
	b := make([]byte, len(m.raw))
	copy(b, m.raw)
	return b
}

// String 返回字符串表示
func (m Multiaddr) String() string {
	comps, err := bytesToComponents(m.raw)
	if err != nil {
		// 构造时已验证，不应发生
		panic(fmt.Errorf("multiaddr: corrupt internal bytes: %w", err))
	}
	var sb strings.Builder
	for _, c := range comps {
		sb.WriteByte('/')
		sb.WriteString(c.Protocol.Name)
		if c.Protocol.Size != 0 {
			sb.WriteByte('/')
			sb.WriteString(c.Value)
		}
	}
	return sb.String()
}

// Equal 判断两个地址是否相等（组件级结构相等）
func (m Multiaddr) Equal(other Multiaddr) bool {
	return bytes.Equal(m.raw, other.raw)
}

// IsZero 判断是否为零值地址
func (m Multiaddr) IsZero() bool {
	return len(m.raw) == 0
}

// Components 返回地址的类型化组件列表
func (m Multiaddr) Components() []Component {
	comps, err := bytesToComponents(m.raw)
	if err != nil {
		panic(fmt.Errorf("multiaddr: corrupt internal bytes: %w", err))
	}
	return comps
}

// Protocols 返回地址包含的协议列表
func (m Multiaddr) Protocols() []Protocol {
	comps := m.Components()
	out := make([]Protocol, len(comps))
	for i, c := range comps {
		out[i] = c.Protocol
	}
	return out
}

// ValueForProtocol 获取指定协议代码的值
func (m Multiaddr) ValueForProtocol(code int) (string, bool) {
	for _, c := range m.Components() {
		if c.Protocol.Code == code {
			return c.Value, true
		}
	}
	return "", false
}

// Encapsulate 在地址尾部封装另一个地址
//
// 拼接结果整体重新验证（层叠规则与各协议值）；验证失败返回错误。
func (m Multiaddr) Encapsulate(inner Multiaddr) (Multiaddr, error) {
	joined := make([]byte, 0, len(m.raw)+len(inner.raw))
	joined = append(joined, m.raw...)
	joined = append(joined, inner.raw...)
	return NewMultiaddrBytes(joined)
}

// ============================================================================
//                              编解码
// ============================================================================

// stringToBytes 将字符串形式转换为规范二进制形式
func stringToBytes(s string) ([]byte, error) {
	s = strings.TrimRight(s, "/")
	if s == "" {
		return nil, fmt.Errorf("empty multiaddr")
	}
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("multiaddr must begin with /")
	}

	var buf bytes.Buffer
	parts := strings.Split(s, "/")[1:]

	prev := 0
	for len(parts) > 0 {
		name := parts[0]
		proto := ProtocolWithName(name)
		if proto.Code == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
		}
		if !validLayering(proto.Code, prev) {
			return nil, fmt.Errorf("%w: %s may not follow %s", ErrBadLayering, name, protocolName(prev))
		}
		buf.Write(proto.VCode)
		parts = parts[1:]
		prev = proto.Code

		if proto.Size == 0 {
			continue
		}
		if len(parts) < 1 || parts[0] == "" {
			return nil, fmt.Errorf("protocol %s requires a value", name)
		}

		valueBytes, err := proto.Transcoder.StringToBytes(parts[0])
		if err != nil {
			return nil, err
		}
		if proto.Size == LengthPrefixedVarSize {
			buf.Write(varint.ToUvarint(uint64(len(valueBytes))))
		}
		buf.Write(valueBytes)
		parts = parts[1:]
	}

	return buf.Bytes(), nil
}

// bytesToComponents 解析并验证二进制形式
func bytesToComponents(b []byte) ([]Component, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty multiaddr")
	}

	var comps []Component
	prev := 0
	for len(b) > 0 {
		code, n, err := varint.FromUvarint(b)
		if err != nil {
			return nil, fmt.Errorf("read protocol code: %w", err)
		}
		b = b[n:]

		proto := ProtocolWithCode(int(code))
		if proto.Code == 0 {
			return nil, fmt.Errorf("%w: code 0x%x", ErrUnknownProtocol, code)
		}
		if !validLayering(proto.Code, prev) {
			return nil, fmt.Errorf("%w: %s may not follow %s", ErrBadLayering, proto.Name, protocolName(prev))
		}
		prev = proto.Code

		var rawValue []byte
		switch {
		case proto.Size == 0:
			// 无数据
		case proto.Size == LengthPrefixedVarSize:
			size, n, err := varint.FromUvarint(b)
			if err != nil {
				return nil, fmt.Errorf("read value length for %s: %w", proto.Name, err)
			}
			b = b[n:]
			if uint64(len(b)) < size {
				return nil, fmt.Errorf("value for %s truncated", proto.Name)
			}
			rawValue, b = b[:size], b[size:]
		default:
			size := proto.Size / 8
			if len(b) < size {
				return nil, fmt.Errorf("value for %s truncated", proto.Name)
			}
			rawValue, b = b[:size], b[size:]
		}

		var value string
		if proto.Transcoder != nil && proto.Size != 0 {
			v, err := proto.Transcoder.BytesToString(rawValue)
			if err != nil {
				return nil, fmt.Errorf("decode value for %s: %w", proto.Name, err)
			}
			value = v
		}
		comps = append(comps, Component{Protocol: proto, Value: value, RawValue: rawValue})
	}
	return comps, nil
}

func protocolName(code int) string {
	if code == 0 {
		return "start"
	}
	return ProtocolWithCode(code).Name
}
