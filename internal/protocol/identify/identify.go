// Package identify 实现身份交换
//
// 每条新建安全连接上双向一次性交换：两端各自打开 identify 子流，
// 写入一条长度前缀（uvarint）的记录后半关闭。收到完整记录即完成。
// 失败只报告一次，对连接非致命。
package identify

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"

	identifypb "github.com/dep2p/go-p2pcore/pkg/lib/proto/identify"
	"github.com/dep2p/go-p2pcore/pkg/types"
)

// ProtocolID Identify 协议 ID
const ProtocolID = "/ipfs/id/1.0.0"

// maxRecordLen 记录大小上限，防御异常输入
const maxRecordLen = 8 << 10

// 错误定义
var (
	// ErrBadRecord 记录非良构
	ErrBadRecord = errors.New("identify: bad record")

	// ErrRecordTooLarge 记录超过大小上限
	ErrRecordTooLarge = errors.New("identify: record too large")
)

// MarshalRecord 序列化本端身份记录（含长度前缀）
func MarshalRecord(info types.IdentifyInfo) []byte {
	rec := identifypb.Identify{
		PublicKey:    info.PublicKey,
		ListenAddrs:  info.ListenAddrs,
		Protocols:    info.Protocols,
		ObservedAddr: info.ObservedAddr,
		AgentVersion: info.AgentVersion,
	}
	body := rec.Marshal()
	out := varint.ToUvarint(uint64(len(body)))
	return append(out, body...)
}

// Receiver 接收远端身份记录
//
// 记录可能分片到达，累积到完整长度后解析。
type Receiver struct {
	buf  []byte
	done bool
}

// Done 判断是否已收到完整记录
func (r *Receiver) Done() bool { return r.done }

// Feed 消费入站字节
//
// 收到完整记录时返回解析出的身份信息。
func (r *Receiver) Feed(data []byte) (*types.IdentifyInfo, bool, error) {
	if r.done {
		return nil, true, nil
	}
	r.buf = append(r.buf, data...)

	size, n, err := varint.FromUvarint(r.buf)
	if err != nil {
		if errors.Is(err, varint.ErrUnderflow) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	if size > maxRecordLen {
		return nil, false, ErrRecordTooLarge
	}
	if uint64(len(r.buf)-n) < size {
		return nil, false, nil
	}

	rec := &identifypb.Identify{}
	if err := rec.Unmarshal(r.buf[n : n+int(size)]); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	r.done = true
	r.buf = nil

	return &types.IdentifyInfo{
		PublicKey:    rec.PublicKey,
		ListenAddrs:  rec.ListenAddrs,
		Protocols:    rec.Protocols,
		ObservedAddr: rec.ObservedAddr,
		AgentVersion: rec.AgentVersion,
	}, true, nil
}
