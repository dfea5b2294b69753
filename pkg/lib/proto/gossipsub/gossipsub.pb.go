// Package gossipsub 包含 GossipSub RPC 的 protobuf 定义
//
// 与 libp2p pubsub 规范的 wire format 对齐（v1.1 使用的字段子集）：
//
//	RPC {
//	  repeated SubOpts subscriptions = 1;
//	  repeated Message publish      = 2;
//	  ControlMessage control        = 3;
//	}
package gossipsub

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidRPC 表示无效的 RPC 数据
var ErrInvalidRPC = errors.New("invalid gossipsub rpc data")

// SubOpts 订阅增量
type SubOpts struct {
	// Subscribe true = 订阅，false = 退订
	Subscribe bool
	// TopicID 主题
	TopicID string
}

// Message 完整消息
type Message struct {
	// From 源节点（32 字节 PeerID 原始形式）
	From []byte
	// Data 负载
	Data []byte
	// Seqno 源节点序列号（8 字节大端）
	Seqno []byte
	// Topic 主题
	Topic string
}

// ControlIHave IHAVE 通告
type ControlIHave struct {
	TopicID    string
	MessageIDs [][]byte
}

// ControlIWant IWANT 请求
type ControlIWant struct {
	MessageIDs [][]byte
}

// ControlGraft GRAFT 请求
type ControlGraft struct {
	TopicID string
}

// ControlPrune PRUNE 通知
type ControlPrune struct {
	TopicID string
}

// ControlMessage 控制帧集合
type ControlMessage struct {
	IHave []*ControlIHave
	IWant []*ControlIWant
	Graft []*ControlGraft
	Prune []*ControlPrune
}

// Empty 判断控制帧集合是否为空
func (c *ControlMessage) Empty() bool {
	return c == nil ||
		(len(c.IHave) == 0 && len(c.IWant) == 0 && len(c.Graft) == 0 && len(c.Prune) == 0)
}

// RPC 每连接 RPC 信封
type RPC struct {
	Subscriptions []*SubOpts
	Publish       []*Message
	Control       *ControlMessage
}

// Empty 判断 RPC 是否为空
func (r *RPC) Empty() bool {
	return len(r.Subscriptions) == 0 && len(r.Publish) == 0 && r.Control.Empty()
}

// ============================================================================
//                              序列化
// ============================================================================

// Marshal 序列化 RPC
//
// 字段按 订阅、消息、控制 的顺序写出，与 RPC 组装顺序一致。
func (r *RPC) Marshal() []byte {
	var b []byte
	for _, s := range r.Subscriptions {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, s.marshal())
	}
	for _, m := range r.Publish {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Marshal())
	}
	if !r.Control.Empty() {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Control.marshal())
	}
	return b
}

func (s *SubOpts) marshal() []byte {
	var b []byte
	if s.Subscribe {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if s.TopicID != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, s.TopicID)
	}
	return b
}

// Marshal 序列化 Message
func (m *Message) Marshal() []byte {
	var b []byte
	if len(m.From) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.From)
	}
	if len(m.Data) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	if len(m.Seqno) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Seqno)
	}
	if m.Topic != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, m.Topic)
	}
	return b
}

func (c *ControlMessage) marshal() []byte {
	var b []byte
	for _, ih := range c.IHave {
		var sub []byte
		if ih.TopicID != "" {
			sub = protowire.AppendTag(sub, 1, protowire.BytesType)
			sub = protowire.AppendString(sub, ih.TopicID)
		}
		for _, id := range ih.MessageIDs {
			sub = protowire.AppendTag(sub, 2, protowire.BytesType)
			sub = protowire.AppendBytes(sub, id)
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	for _, iw := range c.IWant {
		var sub []byte
		for _, id := range iw.MessageIDs {
			sub = protowire.AppendTag(sub, 1, protowire.BytesType)
			sub = protowire.AppendBytes(sub, id)
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	for _, g := range c.Graft {
		var sub []byte
		if g.TopicID != "" {
			sub = protowire.AppendTag(sub, 1, protowire.BytesType)
			sub = protowire.AppendString(sub, g.TopicID)
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	for _, p := range c.Prune {
		var sub []byte
		if p.TopicID != "" {
			sub = protowire.AppendTag(sub, 1, protowire.BytesType)
			sub = protowire.AppendString(sub, p.TopicID)
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

// ============================================================================
//                              反序列化
// ============================================================================

// consumeSubField 读取一个 length-delimited 字段，返回其内容
func consumeSubField(data []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, nil, ErrInvalidRPC
	}
	return v, data[n:], nil
}

// skipField 跳过未知字段
func skipField(num protowire.Number, typ protowire.Type, data []byte) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, data)
	if n < 0 {
		return nil, ErrInvalidRPC
	}
	return data[n:], nil
}

// Unmarshal 反序列化 RPC
func (r *RPC) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidRPC
		}
		data = data[n:]

		if typ != protowire.BytesType {
			var err error
			if data, err = skipField(num, typ, data); err != nil {
				return err
			}
			continue
		}

		v, rest, err := consumeSubField(data)
		if err != nil {
			return err
		}
		data = rest

		switch num {
		case 1:
			s := &SubOpts{}
			if err := s.unmarshal(v); err != nil {
				return err
			}
			r.Subscriptions = append(r.Subscriptions, s)
		case 2:
			m := &Message{}
			if err := m.Unmarshal(v); err != nil {
				return err
			}
			r.Publish = append(r.Publish, m)
		case 3:
			c := &ControlMessage{}
			if err := c.unmarshal(v); err != nil {
				return err
			}
			r.Control = c
		}
	}
	return nil
}

func (s *SubOpts) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidRPC
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return ErrInvalidRPC
			}
			s.Subscribe = v != 0
			data = data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, rest, err := consumeSubField(data)
			if err != nil {
				return err
			}
			s.TopicID = string(v)
			data = rest
		default:
			var err error
			if data, err = skipField(num, typ, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// Unmarshal 反序列化 Message
func (m *Message) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidRPC
		}
		data = data[n:]

		if typ != protowire.BytesType {
			var err error
			if data, err = skipField(num, typ, data); err != nil {
				return err
			}
			continue
		}

		v, rest, err := consumeSubField(data)
		if err != nil {
			return err
		}
		data = rest

		switch num {
		case 1:
			m.From = append([]byte(nil), v...)
		case 2:
			m.Data = append([]byte(nil), v...)
		case 3:
			m.Seqno = append([]byte(nil), v...)
		case 4:
			m.Topic = string(v)
		}
	}
	return nil
}

func (c *ControlMessage) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidRPC
		}
		data = data[n:]

		if typ != protowire.BytesType {
			var err error
			if data, err = skipField(num, typ, data); err != nil {
				return err
			}
			continue
		}

		v, rest, err := consumeSubField(data)
		if err != nil {
			return err
		}
		data = rest

		switch num {
		case 1:
			ih := &ControlIHave{}
			if err := ih.unmarshal(v); err != nil {
				return err
			}
			c.IHave = append(c.IHave, ih)
		case 2:
			iw := &ControlIWant{}
			if err := iw.unmarshal(v); err != nil {
				return err
			}
			c.IWant = append(c.IWant, iw)
		case 3:
			g := &ControlGraft{}
			if err := g.unmarshal(v); err != nil {
				return err
			}
			c.Graft = append(c.Graft, g)
		case 4:
			p := &ControlPrune{}
			if err := p.unmarshal(v); err != nil {
				return err
			}
			c.Prune = append(c.Prune, p)
		}
	}
	return nil
}

func (ih *ControlIHave) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidRPC
		}
		data = data[n:]

		if typ != protowire.BytesType {
			var err error
			if data, err = skipField(num, typ, data); err != nil {
				return err
			}
			continue
		}
		v, rest, err := consumeSubField(data)
		if err != nil {
			return err
		}
		data = rest
		switch num {
		case 1:
			ih.TopicID = string(v)
		case 2:
			ih.MessageIDs = append(ih.MessageIDs, append([]byte(nil), v...))
		}
	}
	return nil
}

func (iw *ControlIWant) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidRPC
		}
		data = data[n:]

		if typ != protowire.BytesType {
			var err error
			if data, err = skipField(num, typ, data); err != nil {
				return err
			}
			continue
		}
		v, rest, err := consumeSubField(data)
		if err != nil {
			return err
		}
		data = rest
		if num == 1 {
			iw.MessageIDs = append(iw.MessageIDs, append([]byte(nil), v...))
		}
	}
	return nil
}

func (g *ControlGraft) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidRPC
		}
		data = data[n:]

		if typ != protowire.BytesType {
			var err error
			if data, err = skipField(num, typ, data); err != nil {
				return err
			}
			continue
		}
		v, rest, err := consumeSubField(data)
		if err != nil {
			return err
		}
		data = rest
		if num == 1 {
			g.TopicID = string(v)
		}
	}
	return nil
}

func (p *ControlPrune) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidRPC
		}
		data = data[n:]

		if typ != protowire.BytesType {
			var err error
			if data, err = skipField(num, typ, data); err != nil {
				return err
			}
			continue
		}
		v, rest, err := consumeSubField(data)
		if err != nil {
			return err
		}
		data = rest
		if num == 1 {
			p.TopicID = string(v)
		}
	}
	return nil
}
