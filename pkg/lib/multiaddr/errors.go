package multiaddr

import "errors"

// 错误定义
var (
	// ErrBadAddr 无效的多地址
	ErrBadAddr = errors.New("multiaddr: bad address")

	// ErrUnknownProtocol 未注册的协议
	ErrUnknownProtocol = errors.New("multiaddr: unknown protocol")

	// ErrBadLayering 协议层叠关系违规
	ErrBadLayering = errors.New("multiaddr: invalid protocol layering")
)
