package upgrader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// pump 在客户端与服务端之间来回搬运字节直至双方完成
func pump(t *testing.T, client, server *Negotiator, toServer, toClient []byte) {
	t.Helper()
	for !client.Done() || !server.Done() {
		progressed := false

		if len(toServer) > 0 {
			out, _, err := server.Feed(toServer)
			require.NoError(t, err)
			toServer = nil
			toClient = append(toClient, out...)
			progressed = true
		}
		if len(toClient) > 0 {
			out, _, err := client.Feed(toClient)
			require.NoError(t, err)
			toClient = nil
			toServer = append(toServer, out...)
			progressed = true
		}
		if !progressed {
			t.Fatal("negotiation stalled")
		}
	}
}

func TestNegotiate_FirstProposalAccepted(t *testing.T) {
	client, toServer := NewClient([]string{"/foo/1"})
	server, toClient := NewServer([]string{"/foo/1", "/bar/1"})

	pump(t, client, server, toServer, toClient)

	require.Equal(t, "/foo/1", client.Selected())
	require.Equal(t, "/foo/1", server.Selected())
	require.Empty(t, client.Leftover())
	require.Empty(t, server.Leftover())
}

func TestNegotiate_FallsBackOnNa(t *testing.T) {
	// 服务端只支持 /bar/1，客户端先提议 /foo/1
	client, toServer := NewClient([]string{"/foo/1", "/bar/1"})
	server, toClient := NewServer([]string{"/bar/1"})

	pump(t, client, server, toServer, toClient)

	require.Equal(t, "/bar/1", client.Selected())
	require.Equal(t, "/bar/1", server.Selected())
}

func TestNegotiate_AllRejected(t *testing.T) {
	client, toServer := NewClient([]string{"/foo/1"})
	server, toClient := NewServer([]string{"/bar/1"})

	out, _, err := server.Feed(toServer)
	require.NoError(t, err)
	toClient = append(toClient, out...)

	_, _, err = client.Feed(toClient)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestNegotiate_LeftoverPreserved(t *testing.T) {
	client, toServer := NewClient([]string{"/echo/1"})
	server, toClient := NewServer([]string{"/echo/1"})

	out, done, err := server.Feed(toServer)
	require.NoError(t, err)
	require.True(t, done)
	toClient = append(toClient, out...)

	// 协商应答与上层协议数据同批到达
	toClient = append(toClient, []byte("application-bytes")...)
	_, done, err = client.Feed(toClient)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []byte("application-bytes"), client.Leftover())
}

func TestNegotiate_FragmentedInput(t *testing.T) {
	client, toServer := NewClient([]string{"/foo/1"})
	server, toClient := NewServer([]string{"/foo/1"})

	// 逐字节投喂服务端
	var out []byte
	for _, b := range toServer {
		o, _, err := server.Feed([]byte{b})
		require.NoError(t, err)
		out = append(out, o...)
	}
	require.True(t, server.Done())

	toClient = append(toClient, out...)
	for _, b := range toClient {
		_, _, err := client.Feed([]byte{b})
		require.NoError(t, err)
	}
	require.True(t, client.Done())
	require.Equal(t, "/foo/1", client.Selected())
}

func TestNegotiate_BadHeader(t *testing.T) {
	server, _ := NewServer([]string{"/foo/1"})

	_, _, err := server.Feed(encodeLine("/not-multistream/9.9.9"))
	require.ErrorIs(t, err, ErrBadNegotiation)

	// 失败态粘滞
	_, _, err = server.Feed(encodeLine(HeaderLine))
	require.ErrorIs(t, err, ErrBadNegotiation)
}

func TestNegotiate_MalformedLine(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "零长度行", data: []byte{0x00}},
		{name: "超长行", data: []byte{0xff, 0xff, 0x7f}},
		{name: "缺少换行", data: []byte{0x02, 'a', 'b'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := NewServer([]string{"/foo/1"})
			_, _, err := server.Feed(tt.data)
			require.ErrorIs(t, err, ErrBadNegotiation)
		})
	}
}

func TestLineCodec(t *testing.T) {
	enc := encodeLine("/multistream/1.0.0")
	s, n, ok, err := decodeLine(enc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/multistream/1.0.0", s)
	require.Equal(t, len(enc), n)

	// 不完整输入
	_, _, ok, err = decodeLine(enc[:3])
	require.NoError(t, err)
	require.False(t, ok)
}
