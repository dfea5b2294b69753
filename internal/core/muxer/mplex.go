// Package muxer 实现子流多路复用
//
// 采用 mplex 线格式（/mplex/6.7.0）：
//
//	帧 = uvarint(streamID<<3 | flag) || uvarint(len) || data
//
// flag：NewStream=0, MessageReceiver=1, MessageInitiator=2,
// CloseReceiver=3, CloseInitiator=4, ResetReceiver=5, ResetInitiator=6。
//
// 子流由 (id, 发起方) 二元组标识，两端各自维护 32 位计数器。
// 本包是纯编解码状态机，流的生命周期语义由 Swarm 维护。
package muxer

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-p2pcore/pkg/types"
)

// 错误定义
var (
	// ErrMalformedFrame 帧格式错误
	ErrMalformedFrame = errors.New("muxer: malformed frame")

	// ErrFrameTooLarge 帧超过大小上限
	ErrFrameTooLarge = errors.New("muxer: frame too large")
)

// maxFrameLen 单帧数据上限（与入站缓冲上限同量级）
const maxFrameLen = 1 << 20

// mplex 帧 flag
const (
	flagNewStream        = 0
	flagMessageReceiver  = 1
	flagMessageInitiator = 2
	flagCloseReceiver    = 3
	flagCloseInitiator   = 4
	flagResetReceiver    = 5
	flagResetInitiator   = 6
)

// FrameType 解码后的帧类型
type FrameType int

const (
	// FrameNewStream 远端打开新流
	FrameNewStream FrameType = iota
	// FrameMessage 流数据
	FrameMessage
	// FrameClose 半关闭
	FrameClose
	// FrameReset 流重置
	FrameReset
)

// String 返回帧类型名
func (t FrameType) String() string {
	switch t {
	case FrameNewStream:
		return "new-stream"
	case FrameMessage:
		return "message"
	case FrameClose:
		return "close"
	case FrameReset:
		return "reset"
	default:
		return "invalid"
	}
}

// Frame 解码后的入站帧
type Frame struct {
	// ID 流 ID
	ID types.StreamID

	// Local true 表示该流由本端发起
	Local bool

	// Type 帧类型
	Type FrameType

	// Data 帧数据（FrameNewStream 时为流名称）
	Data []byte
}

// Muxer 连接内的子流复用器
type Muxer struct {
	nextID uint32
	buf    []byte
}

// New 创建复用器
func New() *Muxer {
	return &Muxer{}
}

// OpenStream 分配本端新流并返回 NewStream 帧
func (m *Muxer) OpenStream(name string) (types.StreamID, []byte) {
	id := types.StreamID(m.nextID)
	m.nextID++
	return id, encodeFrame(uint32(id), flagNewStream, []byte(name))
}

// Send 编码一条流数据帧
//
// local 表示该流是否由本端发起，决定 flag 方向。
// 超长数据自动拆分为多帧。
func (m *Muxer) Send(id types.StreamID, local bool, data []byte) []byte {
	flag := uint32(flagMessageReceiver)
	if local {
		flag = flagMessageInitiator
	}
	var out []byte
	for {
		chunk := data
		if len(chunk) > maxFrameLen {
			chunk = chunk[:maxFrameLen]
		}
		data = data[len(chunk):]
		out = append(out, encodeFrame(uint32(id), flag, chunk)...)
		if len(data) == 0 {
			return out
		}
	}
}

// CloseStream 编码半关闭帧
func (m *Muxer) CloseStream(id types.StreamID, local bool) []byte {
	flag := uint32(flagCloseReceiver)
	if local {
		flag = flagCloseInitiator
	}
	return encodeFrame(uint32(id), flag, nil)
}

// ResetStream 编码重置帧
func (m *Muxer) ResetStream(id types.StreamID, local bool) []byte {
	flag := uint32(flagResetReceiver)
	if local {
		flag = flagResetInitiator
	}
	return encodeFrame(uint32(id), flag, nil)
}

// Feed 消费入站字节，返回完整的帧序列
//
// 远端帧的 flag 方向在解码时翻转为本端视角：
// 远端以 Initiator 方向发送的帧属于远端发起的流（Local=false），
// 以 Receiver 方向发送的帧属于本端发起的流（Local=true）。
func (m *Muxer) Feed(data []byte) ([]Frame, error) {
	m.buf = append(m.buf, data...)

	var frames []Frame
	for {
		frame, consumed, ok, err := decodeFrame(m.buf)
		if err != nil {
			return frames, err
		}
		if !ok {
			return frames, nil
		}
		m.buf = m.buf[consumed:]
		frames = append(frames, frame)
	}
}

// ============================================================================
//                              帧编解码
// ============================================================================

func encodeFrame(id, flag uint32, data []byte) []byte {
	out := varint.ToUvarint(uint64(id)<<3 | uint64(flag))
	out = append(out, varint.ToUvarint(uint64(len(data)))...)
	return append(out, data...)
}

func decodeFrame(buf []byte) (Frame, int, bool, error) {
	header, n1, err := varint.FromUvarint(buf)
	if err != nil {
		if errors.Is(err, varint.ErrUnderflow) {
			return Frame{}, 0, false, nil
		}
		return Frame{}, 0, false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	size, n2, err := varint.FromUvarint(buf[n1:])
	if err != nil {
		if errors.Is(err, varint.ErrUnderflow) {
			return Frame{}, 0, false, nil
		}
		return Frame{}, 0, false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if size > maxFrameLen {
		return Frame{}, 0, false, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	total := n1 + n2 + int(size)
	if len(buf) < total {
		return Frame{}, 0, false, nil
	}

	id := types.StreamID(header >> 3)
	flag := header & 0x7

	frame := Frame{ID: id}
	switch flag {
	case flagNewStream:
		frame.Type, frame.Local = FrameNewStream, false
	case flagMessageInitiator:
		frame.Type, frame.Local = FrameMessage, false
	case flagMessageReceiver:
		frame.Type, frame.Local = FrameMessage, true
	case flagCloseInitiator:
		frame.Type, frame.Local = FrameClose, false
	case flagCloseReceiver:
		frame.Type, frame.Local = FrameClose, true
	case flagResetInitiator:
		frame.Type, frame.Local = FrameReset, false
	case flagResetReceiver:
		frame.Type, frame.Local = FrameReset, true
	default:
		return Frame{}, 0, false, fmt.Errorf("%w: flag %d", ErrMalformedFrame, flag)
	}

	if size > 0 {
		frame.Data = make([]byte, size)
		copy(frame.Data, buf[n1+n2:total])
	}
	return frame, total, true, nil
}
