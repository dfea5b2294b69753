// Package pubsub 实现 GossipSub 发布订阅引擎
package pubsub

import (
	"math/rand"
	"sort"

	"github.com/dep2p/go-p2pcore/pkg/types"
)

// peerSet 节点集合
type peerSet map[types.PeerID]struct{}

func (s peerSet) add(p types.PeerID)      { s[p] = struct{}{} }
func (s peerSet) remove(p types.PeerID)   { delete(s, p) }
func (s peerSet) has(p types.PeerID) bool { _, ok := s[p]; return ok }

// sorted 返回确定性排序的成员列表
//
// map 迭代顺序不确定；所有随机选择都先排序再用注入的 PRNG 打乱，
// 保证相同种子下的轨迹可复现。
func (s peerSet) sorted() []types.PeerID {
	out := make([]types.PeerID, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

// selectRandom 从 candidates 中随机选取至多 count 个节点
//
// exclude 中的节点被跳过。
func selectRandom(rng *rand.Rand, candidates peerSet, exclude peerSet, count int) []types.PeerID {
	if count <= 0 {
		return nil
	}
	avail := make([]types.PeerID, 0, len(candidates))
	for _, p := range candidates.sorted() {
		if exclude != nil && exclude.has(p) {
			continue
		}
		avail = append(avail, p)
	}
	rng.Shuffle(len(avail), func(i, j int) {
		avail[i], avail[j] = avail[j], avail[i]
	})
	if len(avail) > count {
		avail = avail[:count]
	}
	return avail
}

// ============================================================================
//                              节点评分
// ============================================================================

// peerScore 最小化节点评分
//
// 首次投递计一分，随心跳衰减。只用于 PRUNE 时优先剔除低分节点。
type peerScore struct {
	scores map[types.PeerID]float64
	decay  float64
}

func newPeerScore() *peerScore {
	return &peerScore{scores: make(map[types.PeerID]float64), decay: 0.9}
}

// Deliver 记录一次首次投递
func (ps *peerScore) Deliver(p types.PeerID) {
	ps.scores[p]++
}

// Remove 清除节点评分
func (ps *peerScore) Remove(p types.PeerID) {
	delete(ps.scores, p)
}

// Decay 心跳衰减，趋零后删除
func (ps *peerScore) Decay() {
	for p, s := range ps.scores {
		s *= ps.decay
		if s < 0.01 {
			delete(ps.scores, p)
			continue
		}
		ps.scores[p] = s
	}
}

// SelectLowest 从 members 中选出评分最低的 count 个节点
//
// 同分时按 PeerID 字典序，保证确定性。
func (ps *peerScore) SelectLowest(members peerSet, count int) []types.PeerID {
	if count <= 0 {
		return nil
	}
	sorted := members.sorted()
	sort.SliceStable(sorted, func(i, j int) bool {
		return ps.scores[sorted[i]] < ps.scores[sorted[j]]
	})
	if len(sorted) > count {
		sorted = sorted[:count]
	}
	return sorted
}
