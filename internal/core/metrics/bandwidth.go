package metrics

import (
	"sync/atomic"
)

// BandwidthCounter 报文与字节计数器
//
// 使用原子操作实现并发安全，工作协程与 Pulse 同时写入。
type BandwidthCounter struct {
	totalIn  atomic.Int64
	totalOut atomic.Int64
	msgsIn   atomic.Int64
	msgsOut  atomic.Int64
}

// BandwidthStats 计数快照
type BandwidthStats struct {
	TotalIn  int64
	TotalOut int64
	MsgsIn   int64
	MsgsOut  int64
}

// NewBandwidthCounter 创建新的 BandwidthCounter
func NewBandwidthCounter() *BandwidthCounter {
	return &BandwidthCounter{}
}

// LogSentMessage 记录一个出站报文
func (bwc *BandwidthCounter) LogSentMessage(size int64) {
	bwc.totalOut.Add(size)
	bwc.msgsOut.Add(1)
}

// LogRecvMessage 记录一个入站报文
func (bwc *BandwidthCounter) LogRecvMessage(size int64) {
	bwc.totalIn.Add(size)
	bwc.msgsIn.Add(1)
}

// GetBandwidthTotals 返回当前计数快照
func (bwc *BandwidthCounter) GetBandwidthTotals() BandwidthStats {
	return BandwidthStats{
		TotalIn:  bwc.totalIn.Load(),
		TotalOut: bwc.totalOut.Load(),
		MsgsIn:   bwc.msgsIn.Load(),
		MsgsOut:  bwc.msgsOut.Load(),
	}
}

// Reset 清零所有计数
func (bwc *BandwidthCounter) Reset() {
	bwc.totalIn.Store(0)
	bwc.totalOut.Store(0)
	bwc.msgsIn.Store(0)
	bwc.msgsOut.Store(0)
}
