// Package upgrader 实现连接升级协商
//
// multistream-select 的 sans-I/O 状态机：行格式为
// uvarint 长度 || utf8 || '\n'，长度含换行符。
// 客户端发送协议头与提议，服务端回显接受的协议或应答 "na"。
// 协商不消费任何应用字节：接受之后的剩余字节原样交还调用方。
package upgrader

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"
)

const (
	// HeaderLine multistream 协议头
	HeaderLine = "/multistream/1.0.0"

	// naLine 拒绝应答
	naLine = "na"

	// maxLineLen 单行长度上限，防御异常输入
	maxLineLen = 1024
)

// 错误定义
var (
	// ErrBadNegotiation 协商数据非良构
	ErrBadNegotiation = errors.New("upgrader: bad negotiation")

	// ErrUnsupported 所有提议均被拒绝
	ErrUnsupported = errors.New("upgrader: no supported protocol")

	// ErrNegotiationDone 协商已结束
	ErrNegotiationDone = errors.New("upgrader: negotiation already complete")
)

// role 协商角色
type role int

const (
	roleClient role = iota
	roleServer
)

// Negotiator multistream-select 协商状态机
type Negotiator struct {
	role role

	// 客户端：按序提议的协议；服务端：支持的协议集合
	protocols []string

	idx       int
	gotHeader bool
	done      bool
	failed    bool
	selected  string

	buf []byte
}

// NewClient 创建客户端协商器
//
// 返回的初始字节（协议头 + 第一个提议）应立即发送。
func NewClient(proposals []string) (*Negotiator, []byte) {
	n := &Negotiator{role: roleClient, protocols: proposals}
	out := encodeLine(HeaderLine)
	if len(proposals) > 0 {
		out = append(out, encodeLine(proposals[0])...)
	}
	return n, out
}

// NewServer 创建服务端协商器
//
// 返回的初始字节（协议头）应立即发送。
func NewServer(supported []string) (*Negotiator, []byte) {
	n := &Negotiator{role: roleServer, protocols: supported}
	return n, encodeLine(HeaderLine)
}

// Done 判断协商是否完成
func (n *Negotiator) Done() bool { return n.done }

// Selected 返回协商出的协议（完成前为空）
func (n *Negotiator) Selected() string { return n.selected }

// Feed 消费入站字节
//
// 返回应发送的字节与完成标志。完成后缓冲中多余的字节
// 通过 Leftover 交还，属于协商出的协议。
func (n *Negotiator) Feed(data []byte) (out []byte, done bool, err error) {
	if n.failed {
		return nil, false, ErrBadNegotiation
	}
	if n.done {
		// 完成后到达的字节属于上层协议
		n.buf = append(n.buf, data...)
		return nil, true, nil
	}

	n.buf = append(n.buf, data...)
	for !n.done {
		line, ok, err := n.nextLine()
		if err != nil {
			n.failed = true
			return nil, false, err
		}
		if !ok {
			break
		}

		reply, err := n.handleLine(line)
		if err != nil {
			n.failed = true
			return nil, false, err
		}
		out = append(out, reply...)
	}
	return out, n.done, nil
}

// Leftover 返回协商完成后缓冲中剩余的字节并清空缓冲
func (n *Negotiator) Leftover() []byte {
	left := n.buf
	n.buf = nil
	return left
}

// handleLine 处理一行协商数据
func (n *Negotiator) handleLine(line string) ([]byte, error) {
	if !n.gotHeader {
		if line != HeaderLine {
			return nil, fmt.Errorf("%w: expected header, got %q", ErrBadNegotiation, line)
		}
		n.gotHeader = true
		return nil, nil
	}

	switch n.role {
	case roleClient:
		switch {
		case line == naLine:
			// 当前提议被拒绝，尝试下一个
			n.idx++
			if n.idx >= len(n.protocols) {
				return nil, ErrUnsupported
			}
			return encodeLine(n.protocols[n.idx]), nil
		case n.idx < len(n.protocols) && line == n.protocols[n.idx]:
			n.done = true
			n.selected = line
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: unexpected reply %q", ErrBadNegotiation, line)
		}

	default: // roleServer
		for _, p := range n.protocols {
			if p == line {
				n.done = true
				n.selected = line
				return encodeLine(line), nil
			}
		}
		return encodeLine(naLine), nil
	}
}

// nextLine 从缓冲中取出一行
func (n *Negotiator) nextLine() (string, bool, error) {
	s, consumed, ok, err := decodeLine(n.buf)
	if err != nil || !ok {
		return "", ok, err
	}
	n.buf = n.buf[consumed:]
	return s, true, nil
}

// ============================================================================
//                              行编解码
// ============================================================================

// encodeLine 编码一行：uvarint(len+1) || s || '\n'
func encodeLine(s string) []byte {
	out := varint.ToUvarint(uint64(len(s) + 1))
	out = append(out, s...)
	return append(out, '\n')
}

// decodeLine 解码一行，返回 (内容, 消费字节数, 是否完整, 错误)
func decodeLine(buf []byte) (string, int, bool, error) {
	size, n, err := varint.FromUvarint(buf)
	if err != nil {
		if errors.Is(err, varint.ErrUnderflow) {
			return "", 0, false, nil
		}
		return "", 0, false, fmt.Errorf("%w: %v", ErrBadNegotiation, err)
	}
	if size == 0 || size > maxLineLen {
		return "", 0, false, fmt.Errorf("%w: line length %d", ErrBadNegotiation, size)
	}
	if uint64(len(buf)-n) < size {
		return "", 0, false, nil
	}
	body := buf[n : n+int(size)]
	if body[len(body)-1] != '\n' {
		return "", 0, false, fmt.Errorf("%w: missing newline", ErrBadNegotiation)
	}
	return string(bytes.TrimSuffix(body, []byte{'\n'})), n + int(size), true, nil
}
