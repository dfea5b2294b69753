// Package log 提供 go-p2pcore 统一日志接口
//
// 基于 go.uber.org/zap 封装，按子系统命名 logger。
// 核心是 sans-I/O 的：日志属于可观测性输出，不属于协议 I/O。
//
// 使用方式：
//
//	var logger = log.Logger("protocol/pubsub")
//	logger.Debugw("收到消息", "topic", topic, "peer", peer)
//
// 包级 logger 在 init 时创建，输出目标与级别通过动态查找解析，
// 因此 SetOutput / SetLevel 对已创建的 logger 同样生效。
package log

import (
	"io"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// globalOutput 全局日志输出目标，默认丢弃（库默认静默）
	globalOutput   io.Writer = io.Discard
	globalOutputMu sync.RWMutex

	// globalLevel 全局日志级别，可在运行期调整
	globalLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	buildOnce sync.Once
	base      *zap.Logger
)

// dynamicWriter 动态查找 globalOutput 的 io.Writer
type dynamicWriter struct{}

func (dynamicWriter) Write(p []byte) (int, error) {
	globalOutputMu.RLock()
	w := globalOutput
	globalOutputMu.RUnlock()
	return w.Write(p)
}

func (dynamicWriter) Sync() error { return nil }

// SetOutput 设置全局日志输出目标
//
// 传入 nil 恢复为静默。
func SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	globalOutputMu.Lock()
	globalOutput = w
	globalOutputMu.Unlock()
}

// SetLevel 设置全局日志级别
func SetLevel(l zapcore.Level) {
	globalLevel.SetLevel(l)
}

// baseLogger 返回共享的基础 logger（惰性构建）
func baseLogger() *zap.Logger {
	buildOnce.Do(func() {
		enc := zap.NewDevelopmentEncoderConfig()
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(enc),
			zapcore.Lock(dynamicWriter{}),
			globalLevel,
		)
		base = zap.New(core)
	})
	return base
}

// Logger 返回指定子系统的 SugaredLogger
func Logger(subsystem string) *zap.SugaredLogger {
	return baseLogger().Named(subsystem).Sugar()
}
