package dht

import (
	"github.com/klauspost/compress/s2"
	"go.uber.org/multierr"

	"github.com/dep2p/go-kdht/internal/core/storage/engine"
	"github.com/dep2p/go-kdht/internal/dht/routing"
	"github.com/dep2p/go-kdht/pkg/types"
)

func snapshotKey(f types.Family) []byte {
	return append(append([]byte(nil), snapshotPrefix...), f.String()...)
}

// SaveSnapshot 将每个路由表的快照压缩后在一个批次中写入存储
func (d *DHT) SaveSnapshot() error {
	if d.kv == nil {
		return nil
	}
	var err error
	batch := d.kv.NewBatch()
	for _, t := range d.Tables() {
		blob, serr := t.Snapshot()
		if serr != nil {
			err = multierr.Append(err, NewDHTError("snapshot", serr, t.Family().String()))
			continue
		}
		batch.Put(snapshotKey(t.Family()), s2.Encode(nil, blob))
		logger.Debug("路由表快照已暂存", "family", t.Family(), "bytes", len(blob))
	}
	if batch.Size() == 0 {
		return err
	}
	if werr := batch.Write(); werr != nil {
		err = multierr.Append(err, NewDHTError("snapshot", werr, "write"))
	}
	return err
}

// LoadSnapshot 从存储恢复已绑定地址族的路由表，返回恢复的节点数
//
// 无法解码的快照以 engine.ErrCorrupted 报告并从存储删除。同时恢复持久化的存储项。
func (d *DHT) LoadSnapshot() (int, error) {
	if d.kv == nil {
		return 0, nil
	}
	total := 0
	var err error
	for _, t := range d.Tables() {
		key := snapshotKey(t.Family())
		data, gerr := d.kv.Get(key)
		if engine.IsNotFound(gerr) {
			continue
		}
		if gerr != nil {
			err = multierr.Append(err, NewDHTError("restore", gerr, t.Family().String()))
			continue
		}
		n, rerr := restoreTable(t, data)
		if rerr != nil {
			err = multierr.Append(err, NewDHTError("restore", engine.Corrupted(key, rerr), t.Family().String()))
			if derr := d.kv.Delete(key); derr != nil {
				err = multierr.Append(err, NewDHTError("restore", derr, t.Family().String()))
			}
			continue
		}
		total += n
		logger.Info("路由表已从快照恢复", "family", t.Family(), "nodes", n)
	}

	n, lerr := d.items.Load()
	if lerr != nil {
		err = multierr.Append(err, NewDHTError("restore", lerr, "items"))
	}
	d.metrics.SetItems(n)
	return total, err
}

func restoreTable(t *routing.Table, data []byte) (int, error) {
	blob, err := s2.Decode(nil, data)
	if err != nil {
		return 0, err
	}
	return t.Restore(blob)
}
