// Package swarm 实现连接群管理与动作/事件分发
package swarm

import "errors"

// 错误定义
var (
	// ErrUnknownConnection 未知的连接 ID
	ErrUnknownConnection = errors.New("swarm: unknown connection")

	// ErrUnknownPending 未知的待建连接 ID
	ErrUnknownPending = errors.New("swarm: unknown pending dial")

	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New("swarm: connection closed")

	// ErrBufferOverflow 入站缓冲区溢出
	ErrBufferOverflow = errors.New("swarm: inbound buffer overflow")

	// ErrNoRoute 发布失败：未订阅且没有可路由节点
	ErrNoRoute = errors.New("swarm: no route for topic")
)
