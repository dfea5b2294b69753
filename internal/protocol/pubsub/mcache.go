// Package pubsub 实现 GossipSub 发布订阅引擎
package pubsub

import (
	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	pb "github.com/dep2p/go-p2pcore/pkg/lib/proto/gossipsub"
)

// ============================================================================
//                              消息缓存（时间分片环）
// ============================================================================

// cacheEntry 窗口内的一条消息索引
type cacheEntry struct {
	id    string
	topic string
}

// messageCache 按心跳窗口分片的消息缓存
//
// 环上保留 HistoryLength 个窗口；去重查询使用全部窗口，
// IHAVE 通告只取最近 HistoryGossip 个窗口。
// 每次心跳 Shift：丢弃最旧窗口，在头部压入空窗口。
type messageCache struct {
	msgs    map[string]*pb.Message
	history [][]cacheEntry
	gossip  int
	cap     int
}

// newMessageCache 创建消息缓存
func newMessageCache(historyLen, gossipLen, windowCap int) *messageCache {
	return &messageCache{
		msgs:    make(map[string]*pb.Message),
		history: make([][]cacheEntry, historyLen),
		gossip:  gossipLen,
		cap:     windowCap,
	}
}

// Put 将消息加入当前窗口
//
// 当前窗口已满时返回 ErrMcacheFull，消息被丢弃。
func (mc *messageCache) Put(id string, msg *pb.Message) error {
	if _, dup := mc.msgs[id]; dup {
		return nil
	}
	if len(mc.history[0]) >= mc.cap {
		return ErrMcacheFull
	}
	mc.msgs[id] = msg
	mc.history[0] = append(mc.history[0], cacheEntry{id: id, topic: msg.Topic})
	return nil
}

// Get 按 ID 取出完整消息
func (mc *messageCache) Get(id string) (*pb.Message, bool) {
	m, ok := mc.msgs[id]
	return m, ok
}

// Has 判断消息是否在缓存中
func (mc *messageCache) Has(id string) bool {
	_, ok := mc.msgs[id]
	return ok
}

// GossipIDs 返回最近 gossip 窗口内指定主题的消息 ID
func (mc *messageCache) GossipIDs(topic string) [][]byte {
	var ids [][]byte
	for _, window := range mc.history[:mc.gossip] {
		for _, e := range window {
			if e.topic == topic {
				ids = append(ids, []byte(e.id))
			}
		}
	}
	return ids
}

// Shift 滚动窗口：丢弃最旧窗口，头部压入空窗口
func (mc *messageCache) Shift() {
	last := mc.history[len(mc.history)-1]
	for _, e := range last {
		delete(mc.msgs, e.id)
	}
	copy(mc.history[1:], mc.history[:len(mc.history)-1])
	mc.history[0] = nil
}

// ============================================================================
//                              已见消息缓存
// ============================================================================

// seenCache 重复抑制缓存
//
// 容量由 LRU 约束（有界内存），时效由心跳拍数约束（SeenTTL）。
type seenCache struct {
	lru      *lru.LRU[string, int]
	ttlTicks int
	tick     int
}

// newSeenCache 创建已见消息缓存
func newSeenCache(size, ttlTicks int) *seenCache {
	// 容量为正时构造不会失败
	cache, err := lru.NewLRU[string, int](size, nil)
	if err != nil {
		panic(err)
	}
	return &seenCache{lru: cache, ttlTicks: ttlTicks}
}

// Has 判断消息 ID 是否在时效窗口内出现过
func (sc *seenCache) Has(id string) bool {
	added, ok := sc.lru.Get(id)
	if !ok {
		return false
	}
	if sc.tick-added >= sc.ttlTicks {
		sc.lru.Remove(id)
		return false
	}
	return true
}

// Add 记录消息 ID
func (sc *seenCache) Add(id string) {
	sc.lru.Add(id, sc.tick)
}

// Tick 心跳推进时效
func (sc *seenCache) Tick() {
	sc.tick++
}
