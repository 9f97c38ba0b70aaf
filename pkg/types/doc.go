// Package types 定义 DHT 的基础类型
//
// # 标识符
//
// ID 是 160 位标识符，节点 ID 与条目 ID 共用同一空间，距离按 XOR 计算：
//
//	d := types.Distance(a, b)
//	if types.CompareDistance(a, b, target) < 0 {
//	    // a 比 b 更接近 target
//	}
//
// 路由表用 Midpoint / Increment / ShiftRight 在 ID 空间中划分桶区间。
//
// # 地址族
//
// 每个地址族（IPv4 / IPv6）拥有独立的路由表。Family 的字符串形式
// "n4" / "n6" 与 find_node 的 want 参数一致。
package types
