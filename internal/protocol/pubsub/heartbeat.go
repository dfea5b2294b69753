// Package pubsub 实现 GossipSub 发布订阅引擎
package pubsub

// Heartbeat 执行一次维护拍
//
// 由 Swarm 的心跳定时器分发调用。顺序：
//  1. 评分衰减
//  2. 每订阅主题的 mesh 再平衡（GRAFT 补齐 / PRUNE 裁剪）
//  3. fanout 过期与补齐
//  4. IHAVE gossip 通告
//  5. 消息缓存窗口滚动与重复抑制时效推进
func (e *Engine) Heartbeat() {
	e.score.Decay()

	for topic := range e.localSubs {
		e.rebalanceMesh(topic)
	}

	e.expireFanout()
	e.emitGossip()

	e.mcache.Shift()
	e.seen.Tick()
}

// rebalanceMesh 将主题 mesh 度数拉回 [Dlo, Dhi]
func (e *Engine) rebalanceMesh(topic string) {
	m, ok := e.mesh[topic]
	if !ok {
		m = make(peerSet)
		e.mesh[topic] = m
	}

	if len(m) < e.cfg.Dlo {
		// 欠配：从已知订阅者中随机补齐到 D
		grafted := selectRandom(e.rng, e.topics[topic], m, e.cfg.D-len(m))
		for _, p := range grafted {
			m.add(p)
			e.sendGraft(p, topic)
		}
		if len(grafted) > 0 {
			logger.Debugw("心跳补齐 mesh", "topic", topic, "grafted", len(grafted), "mesh", len(m))
		}
	}

	if len(m) > e.cfg.Dhi {
		// 超配：优先剔除低分节点，裁剪回 D
		pruned := e.score.SelectLowest(m, len(m)-e.cfg.D)
		for _, p := range pruned {
			m.remove(p)
			e.sendPrune(p, topic)
		}
		logger.Debugw("心跳裁剪 mesh", "topic", topic, "pruned", len(pruned), "mesh", len(m))
	}
}

// expireFanout 淘汰闲置超过 FanoutTTL 的 fanout 主题，活跃主题补齐到 D
func (e *Engine) expireFanout() {
	ttl := e.cfg.ticks(e.cfg.FanoutTTL)
	for topic, f := range e.fanout {
		e.fanoutIdle[topic]++
		if e.fanoutIdle[topic] >= ttl {
			delete(e.fanout, topic)
			delete(e.fanoutIdle, topic)
			continue
		}
		// 剔除已退订的节点后补齐
		for p := range f {
			if !e.topics[topic].has(p) {
				f.remove(p)
			}
		}
		for _, p := range selectRandom(e.rng, e.topics[topic], f, e.cfg.D-len(f)) {
			f.add(p)
		}
	}
}

// emitGossip 向 mesh/fanout 之外的订阅者通告最近窗口的消息 ID
func (e *Engine) emitGossip() {
	for topic := range e.gossipTopics() {
		ids := e.mcache.GossipIDs(topic)
		if len(ids) == 0 {
			continue
		}
		if len(ids) > e.cfg.MaxIHaveLength {
			ids = ids[:e.cfg.MaxIHaveLength]
		}

		exclude := make(peerSet)
		for p := range e.mesh[topic] {
			exclude.add(p)
		}
		for p := range e.fanout[topic] {
			exclude.add(p)
		}

		for _, p := range selectRandom(e.rng, e.topics[topic], exclude, e.cfg.Dlazy) {
			e.sendIHave(p, topic, ids)
		}
	}
}

// gossipTopics 返回参与 gossip 的主题集合（mesh ∪ fanout）
func (e *Engine) gossipTopics() map[string]struct{} {
	topics := make(map[string]struct{}, len(e.mesh)+len(e.fanout))
	for t := range e.mesh {
		topics[t] = struct{}{}
	}
	for t := range e.fanout {
		topics[t] = struct{}{}
	}
	return topics
}
