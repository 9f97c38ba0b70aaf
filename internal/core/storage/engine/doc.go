// Package engine 定义存储引擎接口
//
// DHT 使用存储引擎持久化两类数据：
//   - 路由表快照（按地址族）
//   - 本地存储项（BEP44 不可变 / 可变记录）
//
// 接口只覆盖点读写、批量写入与前缀迭代，默认实现见 engine/badger。
// 所有实现必须保证线程安全。
package engine
