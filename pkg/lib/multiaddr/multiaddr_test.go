package multiaddr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiaddr_RoundTrip(t *testing.T) {
	tests := []string{
		"/ip4/127.0.0.1/tcp/4001",
		"/ip4/0.0.0.0/tcp/0",
		"/ip6/::1/tcp/4001",
		"/dns/example.com/tcp/443/wss",
		"/ip4/10.0.0.1/udp/5000",
		"/ip4/127.0.0.1/tcp/8080/ws",
		"/p2p/12D3KooW9tHTtS3inCZiYykw4u5G4frbjVFqhkmJX12gSNCVeH3e",
		"/ip4/127.0.0.1/tcp/4001/ws/p2p/12D3KooW9tHTtS3inCZiYykw4u5G4frbjVFqhkmJX12gSNCVeH3e",
	}

	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			addr, err := NewMultiaddr(s)
			require.NoError(t, err)
			require.Equal(t, s, addr.String())

			// 二进制形式同样可以往返
			again, err := NewMultiaddrBytes(addr.Bytes())
			require.NoError(t, err)
			require.True(t, addr.Equal(again))
		})
	}
}

func TestMultiaddr_BadAddr(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "空字符串", input: ""},
		{name: "缺少前导斜杠", input: "ip4/127.0.0.1"},
		{name: "未知协议", input: "/quic/1234"},
		{name: "tcp 缺少值", input: "/ip4/127.0.0.1/tcp"},
		{name: "端口越界", input: "/ip4/127.0.0.1/tcp/70000"},
		{name: "非法 ip4", input: "/ip4/::1/tcp/80"},
		{name: "非法 p2p 值", input: "/ip4/1.2.3.4/tcp/1/p2p/notbase58!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMultiaddr(tt.input)
			require.ErrorIs(t, err, ErrBadAddr)
		})
	}
}

func TestMultiaddr_Layering(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "tcp 不能开头", input: "/tcp/80"},
		{name: "ws 必须跟在 tcp 后", input: "/ip4/1.2.3.4/ws"},
		{name: "tcp 不能跟在 tcp 后", input: "/ip4/1.2.3.4/tcp/1/tcp/2"},
		{name: "ip4 不能跟在 tcp 后", input: "/ip4/1.2.3.4/tcp/1/ip4/5.6.7.8"},
		{name: "wss 不能跟在 udp 后", input: "/ip4/1.2.3.4/udp/1/wss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMultiaddr(tt.input)
			require.ErrorIs(t, err, ErrBadAddr)
		})
	}
}

func TestMultiaddr_Components(t *testing.T) {
	addr, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001/ws")
	require.NoError(t, err)

	comps := addr.Components()
	require.Len(t, comps, 3)
	require.Equal(t, "ip4", comps[0].Protocol.Name)
	require.Equal(t, "127.0.0.1", comps[0].Value)
	require.Equal(t, []byte{127, 0, 0, 1}, comps[0].RawValue)
	require.Equal(t, "tcp", comps[1].Protocol.Name)
	require.Equal(t, "4001", comps[1].Value)
	require.Equal(t, "ws", comps[2].Protocol.Name)
	require.Empty(t, comps[2].Value)

	port, ok := addr.ValueForProtocol(P_TCP)
	require.True(t, ok)
	require.Equal(t, "4001", port)

	_, ok = addr.ValueForProtocol(P_P2P)
	require.False(t, ok)
}

func TestMultiaddr_Encapsulate(t *testing.T) {
	base, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	tail, err := NewMultiaddr("/p2p/12D3KooW9tHTtS3inCZiYykw4u5G4frbjVFqhkmJX12gSNCVeH3e")
	require.NoError(t, err)

	full, err := base.Encapsulate(tail)
	require.NoError(t, err)
	require.Equal(t,
		"/ip4/127.0.0.1/tcp/4001/p2p/12D3KooW9tHTtS3inCZiYykw4u5G4frbjVFqhkmJX12gSNCVeH3e",
		full.String())
}
