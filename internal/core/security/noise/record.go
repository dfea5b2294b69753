package noise

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/flynn/noise"
)

// 记录格式：u16 大端长度 || 密文（含 16 字节 tag）
const (
	// MaxRecordLen 单条记录密文上限（含 tag）
	MaxRecordLen = 65535

	// TagLen AEAD tag 长度
	TagLen = 16

	// MaxPlaintextLen 单条记录明文上限
	MaxPlaintextLen = MaxRecordLen - TagLen
)

// Cipher 单方向记录密码器
//
// nonce 由底层 CipherState 管理，每条记录严格递增；
// 溢出时返回 ErrNonceOverflow，调用方应关闭连接。
type Cipher struct {
	cs *noise.CipherState

	// records 已处理的记录数（诊断用）
	records uint64
}

func newCipher(cs *noise.CipherState) *Cipher {
	return &Cipher{cs: cs}
}

// Records 返回已处理的记录数
func (c *Cipher) Records() uint64 { return c.records }

// Seal 加密明文并封装为记录（含长度前缀）
//
// 明文超过 MaxPlaintextLen 时自动拆分为多条记录。
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	var out []byte
	for {
		chunk := plaintext
		if len(chunk) > MaxPlaintextLen {
			chunk = chunk[:MaxPlaintextLen]
		}
		plaintext = plaintext[len(chunk):]

		ct, err := c.cs.Encrypt(nil, nil, chunk)
		if err != nil {
			if errors.Is(err, noise.ErrMaxNonce) {
				return nil, ErrNonceOverflow
			}
			return nil, fmt.Errorf("noise encrypt: %w", err)
		}
		c.records++

		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(ct)))
		out = append(out, hdr[:]...)
		out = append(out, ct...)

		if len(plaintext) == 0 {
			return out, nil
		}
	}
}

// Open 解密一条记录密文（不含长度前缀）
//
// 认证失败返回 ErrAuthFail；nonce 溢出返回 ErrNonceOverflow。
func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	pt, err := c.cs.Decrypt(nil, nil, ciphertext)
	if err != nil {
		if errors.Is(err, noise.ErrMaxNonce) {
			return nil, ErrNonceOverflow
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthFail, err)
	}
	c.records++
	return pt, nil
}

// ============================================================================
//                              帧缓冲
// ============================================================================

// FrameBuffer 累积 u16 长度前缀帧的字节流
//
// 握手消息与会话记录共用该帧格式。调用方负责缓冲上限。
type FrameBuffer struct {
	buf []byte
}

// Feed 追加入站字节
func (fb *FrameBuffer) Feed(data []byte) {
	fb.buf = append(fb.buf, data...)
}

// Len 返回缓冲中未消费的字节数
func (fb *FrameBuffer) Len() int { return len(fb.buf) }

// Next 取出下一帧的内容（不含前缀）
//
// 帧不完整时返回 (nil, false)。
func (fb *FrameBuffer) Next() ([]byte, bool) {
	if len(fb.buf) < 2 {
		return nil, false
	}
	size := int(binary.BigEndian.Uint16(fb.buf[:2]))
	if len(fb.buf) < 2+size {
		return nil, false
	}
	frame := make([]byte, size)
	copy(frame, fb.buf[2:2+size])
	fb.buf = fb.buf[2+size:]
	return frame, true
}
