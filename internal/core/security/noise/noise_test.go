package noise

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pcore/internal/core/identity"
)

// newTestKeypair 从确定性种子生成身份
func newTestKeypair(t *testing.T, seed byte) *identity.Keypair {
	t.Helper()
	s := bytes.Repeat([]byte{seed}, 32)
	kp, err := identity.FromSeed(s)
	require.NoError(t, err)
	return kp
}

// runHandshake 在两个会话之间完成 XX 三条消息
func runHandshake(t *testing.T, ini, res *Session) {
	t.Helper()

	// -> e
	msg1, err := ini.WriteMessage()
	require.NoError(t, err)
	require.Equal(t, StateEphSent, ini.State())
	require.NoError(t, res.ReadMessage(msg1))
	require.Equal(t, StateEphRecv, res.State())

	// <- e, ee, s, es, payload
	msg2, err := res.WriteMessage()
	require.NoError(t, err)
	require.Equal(t, StateStaticSent, res.State())
	require.NoError(t, ini.ReadMessage(msg2))
	require.Equal(t, StateStaticRecv, ini.State())

	// -> s, se, payload
	msg3, err := ini.WriteMessage()
	require.NoError(t, err)
	require.True(t, ini.Established())
	require.NoError(t, res.ReadMessage(msg3))
	require.True(t, res.Established())
}

func TestHandshake_XX(t *testing.T) {
	kpA := newTestKeypair(t, 0x01)
	kpB := newTestKeypair(t, 0x02)

	ini, err := Initiate(kpA, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	res, err := Respond(kpB, nil, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	runHandshake(t, ini, res)

	// 双方得到对端的 PeerID
	require.True(t, ini.RemotePeer().Equal(kpB.PeerID()))
	require.True(t, res.RemotePeer().Equal(kpA.PeerID()))

	iniOut, iniIn, remoteB, err := ini.Finish()
	require.NoError(t, err)
	require.True(t, remoteB.Equal(kpB.PeerID()))
	resOut, resIn, _, err := res.Finish()
	require.NoError(t, err)

	// 发起者 -> 响应者："hi" 解密为 0x68 0x69
	rec, err := iniOut.Seal([]byte("hi"))
	require.NoError(t, err)

	var fb FrameBuffer
	fb.Feed(rec)
	frame, ok := fb.Next()
	require.True(t, ok)
	pt, err := resIn.Open(frame)
	require.NoError(t, err)
	require.Equal(t, []byte{0x68, 0x69}, pt)

	// 反方向
	rec2, err := resOut.Seal([]byte("ok"))
	require.NoError(t, err)
	fb.Feed(rec2)
	frame2, ok := fb.Next()
	require.True(t, ok)
	pt2, err := iniIn.Open(frame2)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), pt2)
}

func TestHandshake_Prologue(t *testing.T) {
	kpA := newTestKeypair(t, 0x01)
	kpB := newTestKeypair(t, 0x02)

	// prologue 不一致时握手认证失败
	ini, err := Initiate(kpA, []byte("p1"), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	res, err := Respond(kpB, []byte("p2"), rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	msg1, err := ini.WriteMessage()
	require.NoError(t, err)
	require.NoError(t, res.ReadMessage(msg1))

	msg2, err := res.WriteMessage()
	require.NoError(t, err)
	err = ini.ReadMessage(msg2)
	require.ErrorIs(t, err, ErrAuthFail)
	require.Equal(t, StateFailed, ini.State())
}

func TestHandshake_OutOfTurn(t *testing.T) {
	kpA := newTestKeypair(t, 0x01)
	kpB := newTestKeypair(t, 0x02)

	ini, err := Initiate(kpA, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	res, err := Respond(kpB, nil, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	// 响应者先写、发起者先读都是回合违规
	_, err = res.WriteMessage()
	require.ErrorIs(t, err, ErrOutOfTurn)
	err = ini.ReadMessage([]byte{0x00})
	require.ErrorIs(t, err, ErrOutOfTurn)

	// 回合违规不改变状态，握手仍可完成
	runHandshake(t, ini, res)
}

func TestHandshake_TamperedMessage(t *testing.T) {
	kpA := newTestKeypair(t, 0x01)
	kpB := newTestKeypair(t, 0x02)

	ini, err := Initiate(kpA, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	res, err := Respond(kpB, nil, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	msg1, err := ini.WriteMessage()
	require.NoError(t, err)
	require.NoError(t, res.ReadMessage(msg1))

	msg2, err := res.WriteMessage()
	require.NoError(t, err)
	msg2[len(msg2)-1] ^= 0xff

	err = ini.ReadMessage(msg2)
	require.ErrorIs(t, err, ErrAuthFail)
	require.Equal(t, StateFailed, ini.State())

	// 失败态不可恢复
	_, err = ini.WriteMessage()
	require.ErrorIs(t, err, ErrSessionFailed)
}

func TestHandshake_FinishBeforeEstablished(t *testing.T) {
	kpA := newTestKeypair(t, 0x01)
	ini, err := Initiate(kpA, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	_, _, _, err = ini.Finish()
	require.ErrorIs(t, err, ErrNotEstablished)
}

func TestCipher_NonceMonotonic(t *testing.T) {
	kpA := newTestKeypair(t, 0x01)
	kpB := newTestKeypair(t, 0x02)

	ini, err := Initiate(kpA, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	res, err := Respond(kpB, nil, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	runHandshake(t, ini, res)

	iniOut, _, _, err := ini.Finish()
	require.NoError(t, err)
	_, resIn, _, err := res.Finish()
	require.NoError(t, err)

	var fb FrameBuffer
	prev := iniOut.Records()
	for i := 0; i < 5; i++ {
		rec, err := iniOut.Seal([]byte{byte(i)})
		require.NoError(t, err)
		require.Equal(t, prev+1, iniOut.Records())
		prev = iniOut.Records()

		fb.Feed(rec)
		frame, ok := fb.Next()
		require.True(t, ok)
		pt, err := resIn.Open(frame)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, pt)
	}
}

func TestCipher_TamperedRecord(t *testing.T) {
	kpA := newTestKeypair(t, 0x01)
	kpB := newTestKeypair(t, 0x02)

	ini, err := Initiate(kpA, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	res, err := Respond(kpB, nil, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	runHandshake(t, ini, res)

	iniOut, _, _, err := ini.Finish()
	require.NoError(t, err)
	_, resIn, _, err := res.Finish()
	require.NoError(t, err)

	rec, err := iniOut.Seal([]byte("payload"))
	require.NoError(t, err)
	rec[len(rec)-1] ^= 0x01

	var fb FrameBuffer
	fb.Feed(rec)
	frame, ok := fb.Next()
	require.True(t, ok)
	_, err = resIn.Open(frame)
	require.ErrorIs(t, err, ErrAuthFail)
}

func TestCipher_SplitsLargePayload(t *testing.T) {
	kpA := newTestKeypair(t, 0x01)
	kpB := newTestKeypair(t, 0x02)

	ini, err := Initiate(kpA, nil, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	res, err := Respond(kpB, nil, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	runHandshake(t, ini, res)

	iniOut, _, _, err := ini.Finish()
	require.NoError(t, err)
	_, resIn, _, err := res.Finish()
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x42}, MaxPlaintextLen+100)
	rec, err := iniOut.Seal(payload)
	require.NoError(t, err)

	var fb FrameBuffer
	fb.Feed(rec)

	var got []byte
	for {
		frame, ok := fb.Next()
		if !ok {
			break
		}
		pt, err := resIn.Open(frame)
		require.NoError(t, err)
		got = append(got, pt...)
	}
	require.Equal(t, payload, got)
}

func TestFrameBuffer_PartialFrames(t *testing.T) {
	var fb FrameBuffer

	// 分片投喂：长度前缀和内容分开到达
	fb.Feed([]byte{0x00})
	_, ok := fb.Next()
	require.False(t, ok)

	fb.Feed([]byte{0x03, 'a'})
	_, ok = fb.Next()
	require.False(t, ok)

	fb.Feed([]byte{'b', 'c'})
	frame, ok := fb.Next()
	require.True(t, ok)
	require.Equal(t, []byte("abc"), frame)
	require.Zero(t, fb.Len())
}
