package multiaddr

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/dep2p/go-p2pcore/pkg/types"
)

// Transcoder 定义协议值的字符串/字节编解码
type Transcoder interface {
	// StringToBytes 将字符串值转换为字节
	StringToBytes(string) ([]byte, error)

	// BytesToString 将字节转换为字符串值
	BytesToString([]byte) (string, error)
}

type transcoderFuncs struct {
	s2b func(string) ([]byte, error)
	b2s func([]byte) (string, error)
}

func (t transcoderFuncs) StringToBytes(s string) ([]byte, error) { return t.s2b(s) }
func (t transcoderFuncs) BytesToString(b []byte) (string, error) { return t.b2s(b) }

// TranscoderIP4 IPv4 点分十进制 <-> 4 字节
var TranscoderIP4 = transcoderFuncs{
	s2b: func(s string) ([]byte, error) {
		ip := net.ParseIP(s)
		if ip == nil || strings.Contains(s, ":") {
			return nil, fmt.Errorf("parse ip4 addr: %s", s)
		}
		v4 := ip.To4()
		if v4 == nil {
			return nil, fmt.Errorf("not an ip4 addr: %s", s)
		}
		return v4, nil
	},
	b2s: func(b []byte) (string, error) {
		if len(b) != 4 {
			return "", fmt.Errorf("invalid ip4 length: %d", len(b))
		}
		return net.IP(b).String(), nil
	},
}

// TranscoderIP6 IPv6 <-> 16 字节
var TranscoderIP6 = transcoderFuncs{
	s2b: func(s string) ([]byte, error) {
		ip := net.ParseIP(s)
		if ip == nil || ip.To4() != nil {
			return nil, fmt.Errorf("parse ip6 addr: %s", s)
		}
		return ip.To16(), nil
	},
	b2s: func(b []byte) (string, error) {
		if len(b) != 16 {
			return "", fmt.Errorf("invalid ip6 length: %d", len(b))
		}
		return net.IP(b).String(), nil
	},
}

// TranscoderPort 端口号 <-> 2 字节大端
var TranscoderPort = transcoderFuncs{
	s2b: func(s string) ([]byte, error) {
		port, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("parse port %q: %w", s, err)
		}
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(port))
		return b, nil
	},
	b2s: func(b []byte) (string, error) {
		if len(b) != 2 {
			return "", fmt.Errorf("invalid port length: %d", len(b))
		}
		return strconv.FormatUint(uint64(binary.BigEndian.Uint16(b)), 10), nil
	},
}

// TranscoderDNS 域名 <-> utf8 字节
var TranscoderDNS = transcoderFuncs{
	s2b: func(s string) ([]byte, error) {
		if s == "" || strings.Contains(s, "/") {
			return nil, fmt.Errorf("invalid dns name: %q", s)
		}
		return []byte(s), nil
	},
	b2s: func(b []byte) (string, error) {
		if len(b) == 0 {
			return "", fmt.Errorf("empty dns name")
		}
		return string(b), nil
	},
}

// TranscoderP2P PeerID base58 文本 <-> 32 字节
var TranscoderP2P = transcoderFuncs{
	s2b: func(s string) ([]byte, error) {
		id, err := types.ParsePeerID(s)
		if err != nil {
			return nil, fmt.Errorf("parse p2p value: %w", err)
		}
		return id.Bytes(), nil
	},
	b2s: func(b []byte) (string, error) {
		id, err := types.PeerIDFromBytes(b)
		if err != nil {
			return "", fmt.Errorf("decode p2p value: %w", err)
		}
		return id.String(), nil
	},
}
