package muxer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pcore/pkg/types"
)

func TestMuxer_OpenAndSend(t *testing.T) {
	a := New()
	b := New()

	id, newStream := a.OpenStream("ping")
	require.Equal(t, types.StreamID(0), id)

	data := a.Send(id, true, []byte("hello"))

	frames, err := b.Feed(append(newStream, data...))
	require.NoError(t, err)
	require.Len(t, frames, 2)

	require.Equal(t, FrameNewStream, frames[0].Type)
	require.Equal(t, id, frames[0].ID)
	require.False(t, frames[0].Local)
	require.Equal(t, []byte("ping"), frames[0].Data)

	require.Equal(t, FrameMessage, frames[1].Type)
	require.False(t, frames[1].Local)
	require.Equal(t, []byte("hello"), frames[1].Data)
}

func TestMuxer_ReplyDirection(t *testing.T) {
	a := New()
	b := New()

	id, newStream := a.OpenStream("echo")
	_, err := b.Feed(newStream)
	require.NoError(t, err)

	// b 在 a 发起的流上应答：a 端视角 Local=true
	reply := b.Send(id, false, []byte("pong"))
	frames, err := a.Feed(reply)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, FrameMessage, frames[0].Type)
	require.True(t, frames[0].Local)
	require.Equal(t, []byte("pong"), frames[0].Data)
}

func TestMuxer_IndependentIDCounters(t *testing.T) {
	a := New()

	id0, _ := a.OpenStream("s0")
	id1, _ := a.OpenStream("s1")
	require.Equal(t, types.StreamID(0), id0)
	require.Equal(t, types.StreamID(1), id1)

	// 另一端的计数器独立，从 0 开始
	b := New()
	idB, _ := b.OpenStream("s0")
	require.Equal(t, types.StreamID(0), idB)
}

func TestMuxer_CloseAndReset(t *testing.T) {
	a := New()
	b := New()

	id, newStream := a.OpenStream("s")
	_, err := b.Feed(newStream)
	require.NoError(t, err)

	frames, err := b.Feed(a.CloseStream(id, true))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, FrameClose, frames[0].Type)
	require.False(t, frames[0].Local)

	frames, err = a.Feed(b.ResetStream(id, false))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, FrameReset, frames[0].Type)
	require.True(t, frames[0].Local)
}

func TestMuxer_FragmentedFrames(t *testing.T) {
	a := New()
	b := New()

	id, newStream := a.OpenStream("s")
	payload := bytes.Repeat([]byte{0x5a}, 300)
	data := append(newStream, a.Send(id, true, payload)...)

	// 逐字节投喂
	var got []Frame
	for _, c := range data {
		frames, err := b.Feed([]byte{c})
		require.NoError(t, err)
		got = append(got, frames...)
	}
	require.Len(t, got, 2)
	require.Equal(t, payload, got[1].Data)
}

func TestMuxer_SplitsLargeMessages(t *testing.T) {
	a := New()
	b := New()

	id, _ := a.OpenStream("s")
	payload := bytes.Repeat([]byte{0x42}, maxFrameLen+1)
	data := a.Send(id, true, payload)

	frames, err := b.Feed(data)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Len(t, frames[0].Data, maxFrameLen)
	require.Len(t, frames[1].Data, 1)
}

func TestMuxer_OversizeFrameRejected(t *testing.T) {
	b := New()

	// header: stream 0, MessageInitiator；长度声明超过上限
	frame := encodeFrame(0, flagMessageInitiator, nil)
	frame = frame[:1] // 只保留 header
	frame = append(frame, 0x81, 0x80, 0x80, 0x01) // varint 2097153 > maxFrameLen

	_, err := b.Feed(frame)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}
