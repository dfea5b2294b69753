package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerID_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  []byte
	}{
		{
			name: "全零公钥（有效曲线点）",
			key:  make([]byte, 32),
		},
		{
			name: "基点 y 坐标",
			key: func() []byte {
				b := make([]byte, 32)
				// y = 4/5 的规范编码（Ed25519 基点）
				copy(b, []byte{0x58, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
					0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
					0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
					0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66})
				return b
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := PeerIDFromPublicKey(tt.key)
			require.NoError(t, err)

			s := id.String()
			require.True(t, strings.HasPrefix(s, "12D3KooW"), "canonical form, got %s", s)

			decoded, err := ParsePeerID(s)
			require.NoError(t, err)
			require.True(t, decoded.Equal(id))
		})
	}
}

func TestPeerIDFromPublicKey_BadKey(t *testing.T) {
	tests := []struct {
		name string
		key  []byte
	}{
		{name: "长度不足", key: make([]byte, 31)},
		{name: "长度超出", key: make([]byte, 33)},
		{name: "空输入", key: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PeerIDFromPublicKey(tt.key)
			require.ErrorIs(t, err, ErrBadKey)
		})
	}
}

func TestParsePeerID_BadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "空字符串", input: ""},
		{name: "非法字符", input: "0OIl+/"},
		{name: "合法 base58 但非 multihash", input: "2NEpo7TZRRrLZSi2U"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePeerID(tt.input)
			require.ErrorIs(t, err, ErrBadBase58)
		})
	}
}

func TestPeerID_Accessors(t *testing.T) {
	id, err := PeerIDFromBytes(make([]byte, 32))
	require.NoError(t, err)
	require.True(t, id.IsEmpty())
	require.Len(t, id.Bytes(), 32)

	short := id.ShortString()
	require.Contains(t, short, "…")
}
