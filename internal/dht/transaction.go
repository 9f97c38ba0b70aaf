package dht

import (
	"net/netip"
	"time"

	"github.com/dep2p/go-kdht/internal/dht/protocol"
)

// transaction 等待应答的请求
type transaction struct {
	id      uint32
	to      netip.AddrPort
	method  string
	job     *Job
	expires time.Time
}

// sendQuery 分配事务 ID、登记事务并将请求入队
func (d *DHT) sendQuery(j *Job, method string, args protocol.Args) (uint32, error) {
	args.SetID(protocol.KeyID, d.localID)
	msg := protocol.NewQuery(method, args)

	id := d.txids.Next()
	msg.TransactionID = protocol.EncodeTransactionID(id)

	to := netip.AddrPortFrom(j.Addr.Addr().Unmap(), j.Addr.Port())
	tx := &transaction{
		id:      id,
		to:      to,
		method:  method,
		job:     j,
		expires: d.clock.Now().Add(d.cfg.QueryTimeout),
	}
	d.txMu.Lock()
	d.transactions[id] = tx
	d.txMu.Unlock()

	if err := d.enqueue(to, msg); err != nil {
		d.txMu.Lock()
		delete(d.transactions, id)
		d.txMu.Unlock()
		return 0, err
	}
	return id, nil
}

// takeTransaction 取出与应答匹配的事务
//
// 应答地址与请求目标不一致时视为伪造，事务保留等待真正的应答。
func (d *DHT) takeTransaction(id uint32, from netip.AddrPort) (*transaction, bool) {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	tx, ok := d.transactions[id]
	if !ok {
		return nil, false
	}
	if tx.to != from {
		logger.Debug("应答地址不匹配", "expected", tx.to.String(), "from", from.String())
		return nil, false
	}
	delete(d.transactions, id)
	return tx, true
}

// expireTransactions 移除超时事务，所属作业进入 Expiring
func (d *DHT) expireTransactions(now time.Time) int {
	var expired []*transaction
	d.txMu.Lock()
	for id, tx := range d.transactions {
		if !now.Before(tx.expires) {
			delete(d.transactions, id)
			expired = append(expired, tx)
		}
	}
	d.txMu.Unlock()

	for _, tx := range expired {
		logger.Debug("事务超时", "method", tx.method, "to", tx.to.String())
		tx.job.expire(tx.id)
	}
	return len(expired)
}
