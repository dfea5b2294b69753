// Package swarm 实现连接群管理与动作/事件分发
package swarm

import (
	"github.com/dep2p/go-p2pcore/internal/core/muxer"
	"github.com/dep2p/go-p2pcore/internal/core/security/noise"
	"github.com/dep2p/go-p2pcore/internal/core/upgrader"
	"github.com/dep2p/go-p2pcore/internal/protocol/identify"
	"github.com/dep2p/go-p2pcore/internal/protocol/liveness"
	"github.com/dep2p/go-p2pcore/pkg/types"
)

// streamKey 子流标识：(流 ID, 是否本端发起)
type streamKey struct {
	id    types.StreamID
	local bool
}

// stream 子流状态
//
// 每条子流先经 multistream 协商出协议，再交给对应的协议处理器。
type stream struct {
	key   streamKey
	neg   *upgrader.Negotiator
	proto string

	// identifyRecv 远端发起的 identify 流上的记录接收器
	identifyRecv *identify.Receiver

	// rpcBuf gossip 流上的 RPC 重组缓冲
	rpcBuf []byte

	closed bool
}

// conn 一条连接的全部状态
//
// 入站字节管线：raw -> noise 解密 -> 记录 -> multistream（至协商完成）
// -> mplex 帧 -> 子流协议处理器。出站为逆序。
type conn struct {
	id         types.ConnectionID
	remoteAddr string
	direction  types.Direction
	phase      types.ConnPhase
	remotePeer types.PeerID

	// secNeg 明文阶段的安全协议协商
	secNeg *upgrader.Negotiator

	// session Noise 握手会话（Handshaking 阶段持有）
	session *noise.Session

	// frames u16 帧缓冲：握手消息与加密记录共用该帧格式
	frames noise.FrameBuffer

	// 会话密钥（Secured 之后）
	out *noise.Cipher
	in  *noise.Cipher

	// muxNeg 加密通道内的复用器协商
	muxNeg *upgrader.Negotiator

	mux     *muxer.Muxer
	streams map[streamKey]*stream

	// 本端打开的协议子流
	gossipOut   *stream
	pingOut     *stream
	identifyOut *stream

	// gossipQueue 出站 gossip 流就绪前缓存的 RPC 帧
	gossipQueue [][]byte

	pinger *liveness.Pinger

	// 定时器（0 表示未设置）
	handshakeTimer types.TimerID
	pingTimer      types.TimerID

	// identifyReported 确保 Identify 结果只报告一次
	identifyReported bool
}

// gossipReady 判断出站 gossip 流是否可用
func (c *conn) gossipReady() bool {
	return c.gossipOut != nil && c.gossipOut.neg == nil
}

// lookupStream 查找子流
func (c *conn) lookupStream(id types.StreamID, local bool) *stream {
	return c.streams[streamKey{id: id, local: local}]
}
