// Package noise 实现 Noise XX 安全握手与记录层
//
// 遵循 libp2p-noise 规范：
// https://github.com/libp2p/specs/blob/master/noise/README.md
//
// Noise XX 握手流程：
//   -> e                                      (发起者发送临时公钥)
//   <- e, ee, s, es, payload                  (响应者发送静态公钥和 payload)
//   -> s, se, payload                         (发起者发送静态公钥和 payload)
//
// payload 包含：
//   - identity_key: Ed25519 身份公钥
//   - identity_sig: Sign("noise-libp2p-static-key:" + curve25519_static_pubkey)
//
// 本包是纯状态机：不读写网络，消息以字节切片进出，
// 回合违规返回 ErrOutOfTurn，认证失败进入 Failed 态。
package noise

import (
	"fmt"
	"io"

	"github.com/flynn/noise"

	"github.com/dep2p/go-p2pcore/internal/core/identity"
	noisepb "github.com/dep2p/go-p2pcore/pkg/lib/proto/noise"
	"github.com/dep2p/go-p2pcore/pkg/types"
)

// payloadSigPrefix 是签名 payload 的前缀，与 libp2p-noise 规范兼容
const payloadSigPrefix = "noise-libp2p-static-key:"

// Role 握手角色
type Role int

const (
	// RoleInitiator 发起者
	RoleInitiator Role = iota
	// RoleResponder 响应者
	RoleResponder
)

// State 握手状态
type State int

const (
	// StateInit 初始态
	StateInit State = iota
	// StateEphSent 已发送临时公钥（发起者，消息 1 之后）
	StateEphSent
	// StateEphRecv 已接收临时公钥（响应者，消息 1 之后）
	StateEphRecv
	// StateStaticSent 已发送静态公钥（响应者，消息 2 之后）
	StateStaticSent
	// StateStaticRecv 已接收静态公钥（发起者，消息 2 之后）
	StateStaticRecv
	// StateEstablished 握手完成
	StateEstablished
	// StateFailed 握手失败（终态）
	StateFailed
)

// String 返回状态名
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateEphSent:
		return "eph-sent"
	case StateEphRecv:
		return "eph-recv"
	case StateStaticSent:
		return "static-sent"
	case StateStaticRecv:
		return "static-recv"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Session Noise XX 握手会话
//
// 密码套件固定为 ChaChaPoly + SHA256 + X25519。
// 静态 DH 密钥由 Ed25519 身份密钥确定性转换而来，
// 身份通过 payload 中的签名绑定到静态密钥。
type Session struct {
	role  Role
	state State

	hs           *noise.HandshakeState
	localPayload []byte

	remoteStatic []byte
	remotePeer   types.PeerID

	sendCS *noise.CipherState
	recvCS *noise.CipherState
}

// newSession 构造会话（发起者与响应者共用）
func newSession(kp *identity.Keypair, prologue []byte, rng io.Reader, role Role) (*Session, error) {
	curvePriv, err := ed25519ToCurve25519Private(kp.PrivateKey())
	if err != nil {
		return nil, err
	}
	curvePub, err := ed25519ToCurve25519Public(kp.PublicKey())
	if err != nil {
		return nil, err
	}

	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cs,
		Pattern:       noise.HandshakeXX,
		Initiator:     role == RoleInitiator,
		Prologue:      prologue,
		StaticKeypair: noise.DHKey{Private: curvePriv, Public: curvePub},
		Random:        rng,
	})
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}

	// 身份绑定 payload：Sign("noise-libp2p-static-key:" + curve25519_pub)
	toSign := append([]byte(payloadSigPrefix), curvePub...)
	payload := &noisepb.NoiseHandshakePayload{
		IdentityKey: kp.PublicKey(),
		IdentitySig: kp.Sign(toSign),
	}

	return &Session{
		role:         role,
		state:        StateInit,
		hs:           hs,
		localPayload: payload.Marshal(),
	}, nil
}

// Initiate 创建发起者会话
func Initiate(kp *identity.Keypair, prologue []byte, rng io.Reader) (*Session, error) {
	return newSession(kp, prologue, rng, RoleInitiator)
}

// Respond 创建响应者会话
func Respond(kp *identity.Keypair, prologue []byte, rng io.Reader) (*Session, error) {
	return newSession(kp, prologue, rng, RoleResponder)
}

// Role 返回握手角色
func (s *Session) Role() Role { return s.role }

// State 返回当前状态
func (s *Session) State() State { return s.state }

// Established 判断握手是否完成
func (s *Session) Established() bool { return s.state == StateEstablished }

// NeedsWrite 判断当前是否轮到本方发送
func (s *Session) NeedsWrite() bool { return s.writeTurn() }

// RemotePeer 返回远端 PeerID（握手完成前为空）
func (s *Session) RemotePeer() types.PeerID { return s.remotePeer }

// writeTurn 判断当前是否轮到本方发送
func (s *Session) writeTurn() bool {
	switch s.state {
	case StateInit:
		return s.role == RoleInitiator
	case StateEphRecv:
		return s.role == RoleResponder
	case StateStaticRecv:
		return s.role == RoleInitiator
	default:
		return false
	}
}

// readTurn 判断当前是否轮到本方接收
func (s *Session) readTurn() bool {
	switch s.state {
	case StateInit:
		return s.role == RoleResponder
	case StateEphSent:
		return s.role == RoleInitiator
	case StateStaticSent:
		return s.role == RoleResponder
	default:
		return false
	}
}

// WriteMessage 产生下一条握手消息（不含长度前缀）
//
// 消息 2 与消息 3 自动携带身份绑定 payload。
// 非本方回合调用返回 ErrOutOfTurn，状态不变。
func (s *Session) WriteMessage() ([]byte, error) {
	if s.state == StateFailed {
		return nil, ErrSessionFailed
	}
	if !s.writeTurn() {
		return nil, ErrOutOfTurn
	}

	var payload []byte
	if s.state != StateInit {
		// 消息 1 (-> e) 不加密，不携带身份
		payload = s.localPayload
	}

	msg, cs1, cs2, err := s.hs.WriteMessage(nil, payload)
	if err != nil {
		s.state = StateFailed
		return nil, fmt.Errorf("noise write: %w", err)
	}

	switch s.state {
	case StateInit:
		s.state = StateEphSent
	case StateEphRecv:
		s.state = StateStaticSent
	case StateStaticRecv:
		// 最后一条消息，CipherState 就绪
		// cs1 = 发起者->响应者方向
		s.sendCS, s.recvCS = cs1, cs2
		s.state = StateEstablished
	}
	return msg, nil
}

// ReadMessage 消费一条握手消息（不含长度前缀）
//
// AEAD 认证失败或身份绑定无效时进入 Failed 态并返回 ErrAuthFail。
func (s *Session) ReadMessage(data []byte) error {
	if s.state == StateFailed {
		return ErrSessionFailed
	}
	if !s.readTurn() {
		return ErrOutOfTurn
	}

	payload, cs1, cs2, err := s.hs.ReadMessage(nil, data)
	if err != nil {
		s.state = StateFailed
		return fmt.Errorf("%w: %v", ErrAuthFail, err)
	}

	switch s.state {
	case StateInit:
		s.state = StateEphRecv
	case StateEphSent:
		// 消息 2 携带响应者的静态公钥与身份 payload
		if err := s.verifyRemote(payload); err != nil {
			s.state = StateFailed
			return err
		}
		s.state = StateStaticRecv
	case StateStaticSent:
		// 消息 3，CipherState 就绪；响应者方向与发起者相反
		if err := s.verifyRemote(payload); err != nil {
			s.state = StateFailed
			return err
		}
		s.sendCS, s.recvCS = cs2, cs1
		s.state = StateEstablished
	}
	return nil
}

// verifyRemote 验证远端身份 payload
//
// 检查签名将远端静态 DH 密钥绑定到其 Ed25519 身份公钥，
// 并由此派生远端 PeerID。
func (s *Session) verifyRemote(payloadBytes []byte) error {
	remoteStatic := s.hs.PeerStatic()
	if len(remoteStatic) != 32 {
		return fmt.Errorf("%w: bad remote static key length %d", ErrAuthFail, len(remoteStatic))
	}

	payload := &noisepb.NoiseHandshakePayload{}
	if err := payload.Unmarshal(payloadBytes); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFail, err)
	}

	toVerify := append([]byte(payloadSigPrefix), remoteStatic...)
	if !identity.Verify(payload.IdentityKey, toVerify, payload.IdentitySig) {
		return fmt.Errorf("%w: static key not bound to identity key", ErrAuthFail)
	}

	peerID, err := types.PeerIDFromPublicKey(payload.IdentityKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFail, err)
	}

	s.remoteStatic = remoteStatic
	s.remotePeer = peerID
	return nil
}

// Finish 取出会话密钥
//
// 仅在 Established 态有效，返回发送方向与接收方向的记录密码器
// 以及远端 PeerID。
func (s *Session) Finish() (out *Cipher, in *Cipher, remote types.PeerID, err error) {
	if s.state != StateEstablished {
		return nil, nil, types.EmptyPeerID, ErrNotEstablished
	}
	return newCipher(s.sendCS), newCipher(s.recvCS), s.remotePeer, nil
}
