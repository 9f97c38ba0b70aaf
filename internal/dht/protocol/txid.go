package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"
)

// TransactionIDSize 线上事务 ID 长度
const TransactionIDSize = 4

// TransactionIDs 事务 ID 生成器，随机起点后单调递增
type TransactionIDs struct {
	next atomic.Uint32
}

// NewTransactionIDs 创建生成器
func NewTransactionIDs() *TransactionIDs {
	g := &TransactionIDs{}
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err == nil {
		g.next.Store(binary.BigEndian.Uint32(seed[:]))
	}
	return g
}

// Next 分配下一个事务 ID
func (g *TransactionIDs) Next() uint32 {
	return g.next.Add(1)
}

// EncodeTransactionID 编码为 4 字节大端
func EncodeTransactionID(id uint32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, TransactionIDSize), id)
}

// DecodeTransactionID 解析 4 字节大端事务 ID
func DecodeTransactionID(b []byte) (uint32, error) {
	if len(b) != TransactionIDSize {
		return 0, ErrInvalidTransactionID
	}
	return binary.BigEndian.Uint32(b), nil
}
