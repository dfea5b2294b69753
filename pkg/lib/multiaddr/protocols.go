package multiaddr

import "github.com/multiformats/go-varint"

// Protocol 描述一个 multiaddr 协议
type Protocol struct {
	// Name 协议名称（如 "ip4", "tcp"）
	Name string

	// Code 协议代码（与 multiformats/multicodec 对齐）
	Code int

	// VCode 预计算的 varint 编码
	VCode []byte

	// Size 协议数据大小（位）
	// 0 表示无数据，LengthPrefixedVarSize 表示变长（length-prefixed）
	Size int

	// Transcoder 值编解码器（Size == 0 时为 nil）
	Transcoder Transcoder
}

// String 返回协议名称
func (p Protocol) String() string {
	return p.Name
}

// LengthPrefixedVarSize 表示变长数据（使用 varint 前缀）
const LengthPrefixedVarSize = -1

// 协议代码常量
// 参考：https://github.com/multiformats/multicodec/blob/master/table.csv
const (
	P_IP4 = 0x0004
	P_TCP = 0x0006
	P_UDP = 0x0111
	P_IP6 = 0x0029
	P_DNS = 0x0035
	P_P2P = 0x01A5
	P_WS  = 0x01DD
	P_WSS = 0x01DE
)

func codeToVarint(code int) []byte {
	return varint.ToUvarint(uint64(code))
}

// 注册的协议集合是封闭的：核心只理解这八种协议。
var protocols = []Protocol{
	{Name: "ip4", Code: P_IP4, VCode: codeToVarint(P_IP4), Size: 32, Transcoder: TranscoderIP4},
	{Name: "ip6", Code: P_IP6, VCode: codeToVarint(P_IP6), Size: 128, Transcoder: TranscoderIP6},
	{Name: "tcp", Code: P_TCP, VCode: codeToVarint(P_TCP), Size: 16, Transcoder: TranscoderPort},
	{Name: "udp", Code: P_UDP, VCode: codeToVarint(P_UDP), Size: 16, Transcoder: TranscoderPort},
	{Name: "dns", Code: P_DNS, VCode: codeToVarint(P_DNS), Size: LengthPrefixedVarSize, Transcoder: TranscoderDNS},
	{Name: "ws", Code: P_WS, VCode: codeToVarint(P_WS), Size: 0},
	{Name: "wss", Code: P_WSS, VCode: codeToVarint(P_WSS), Size: 0},
	{Name: "p2p", Code: P_P2P, VCode: codeToVarint(P_P2P), Size: LengthPrefixedVarSize, Transcoder: TranscoderP2P},
}

var (
	protocolsByName = func() map[string]Protocol {
		m := make(map[string]Protocol, len(protocols))
		for _, p := range protocols {
			m[p.Name] = p
		}
		return m
	}()

	protocolsByCode = func() map[int]Protocol {
		m := make(map[int]Protocol, len(protocols))
		for _, p := range protocols {
			m[p.Code] = p
		}
		return m
	}()
)

// ProtocolWithName 按名称查找协议，未注册时 Code 为 0
func ProtocolWithName(name string) Protocol {
	return protocolsByName[name]
}

// ProtocolWithCode 按代码查找协议，未注册时 Code 为 0
func ProtocolWithCode(code int) Protocol {
	return protocolsByCode[code]
}

// Protocols 返回注册的协议列表副本
func Protocols() []Protocol {
	out := make([]Protocol, len(protocols))
	copy(out, protocols)
	return out
}

// 层叠规则：code -> 允许的前驱协议代码
//
// tcp/udp 必须跟在 ip4/ip6/dns 之后；ws/wss 必须跟在 tcp 之后。
// 首个协议必须是 ip4/ip6/dns。p2p 可以单独出现或作为尾部。
var allowedPredecessors = map[int][]int{
	P_IP4: nil,
	P_IP6: nil,
	P_DNS: nil,
	P_TCP: {P_IP4, P_IP6, P_DNS},
	P_UDP: {P_IP4, P_IP6, P_DNS},
	P_WS:  {P_TCP},
	P_WSS: {P_TCP},
	P_P2P: {P_TCP, P_UDP, P_WS, P_WSS, 0},
}

// validLayering 检查协议 code 是否允许跟在 prev 之后（prev == 0 表示首位）
func validLayering(code, prev int) bool {
	allowed, ok := allowedPredecessors[code]
	if !ok {
		return false
	}
	if allowed == nil {
		return prev == 0
	}
	for _, a := range allowed {
		if a == prev {
			return true
		}
	}
	return false
}
