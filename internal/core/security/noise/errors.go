// Package noise 实现 Noise XX 安全握手与记录层
package noise

import "errors"

// 错误定义
var (
	// ErrOutOfTurn 在非本方回合调用了读/写
	ErrOutOfTurn = errors.New("noise: out of turn")

	// ErrAuthFail AEAD 认证失败或身份绑定验证失败
	ErrAuthFail = errors.New("noise: authentication failed")

	// ErrNotEstablished 握手尚未完成
	ErrNotEstablished = errors.New("noise: session not established")

	// ErrSessionFailed 会话已进入失败态
	ErrSessionFailed = errors.New("noise: session failed")

	// ErrNonceOverflow 记录 nonce 溢出
	ErrNonceOverflow = errors.New("noise: nonce overflow")

	// ErrRecordTooLarge 单条记录明文超过上限
	ErrRecordTooLarge = errors.New("noise: record too large")

	// ErrBadKey 无效的密钥编码
	ErrBadKey = errors.New("noise: invalid key encoding")
)
