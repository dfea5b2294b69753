// Package p2pcore 是一个 sans-I/O 的最小 libp2p 协议栈
//
// 核心是一组确定性状态机：Noise XX 握手、multistream-select 协商、
// mplex 子流复用、Ping/Identify/GossipSub 协议与统筹一切的 Swarm。
// 核心不做任何网络、定时器或文件操作——所有外部效果以动作（Action）
// 描述返回给宿主驱动，所有外部刺激以输入方法进入。
//
// 基本用法：
//
//	kp, _ := identity.Generate(cryptorand.Reader)
//	sw, _ := p2pcore.New(kp, p2pcore.WithRandSeed(seed))
//	pending, _ := sw.Dial("/ip4/127.0.0.1/tcp/4001/ws")
//	for _, act := range sw.Poll() { /* 宿主执行动作 */ }
//	sw.OnConnectionOpened(pending, addr, types.DirOutbound)
//	sw.OnDataReceived(conn, bytes)
//	for _, evt := range sw.DrainEvents() { /* 应用消费事件 */ }
//
// 宿主必须串行驱动核心：回调内不得重入，所有效果在下一轮驱动中执行。
package p2pcore
