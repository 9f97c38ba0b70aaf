package item

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-kdht/pkg/types"
)

// 持久化记录字段
const (
	fieldID         protowire.Number = 1
	fieldValue      protowire.Number = 2
	fieldMutable    protowire.Number = 3
	fieldPublicKey  protowire.Number = 4
	fieldSalt       protowire.Number = 5
	fieldSeq        protowire.Number = 6
	fieldSig        protowire.Number = 7
	fieldExpiration protowire.Number = 8
)

// marshalRecord 编码持久化记录
func marshalRecord(it *Item) []byte {
	v := it.View()
	exp := it.Expiration()

	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, v.ID[:])
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, v.Value)
	if v.Mutable {
		b = protowire.AppendTag(b, fieldMutable, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
		b = protowire.AppendTag(b, fieldPublicKey, protowire.BytesType)
		b = protowire.AppendBytes(b, v.PublicKey)
		if len(v.Salt) > 0 {
			b = protowire.AppendTag(b, fieldSalt, protowire.BytesType)
			b = protowire.AppendBytes(b, v.Salt)
		}
		b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v.Seq))
		b = protowire.AppendTag(b, fieldSig, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Sig)
	}
	b = protowire.AppendTag(b, fieldExpiration, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(exp.UnixNano()))
	return b
}

// unmarshalRecord 解码持久化记录并重新校验哈希或签名
func unmarshalRecord(b []byte) (*Item, time.Time, error) {
	var (
		id      types.ID
		v       View
		exp     time.Time
		hasID   bool
		mutable bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, exp, ErrCorruptRecord
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			val, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, exp, ErrCorruptRecord
			}
			b = b[n:]
			switch num {
			case fieldID:
				parsed, err := types.IDFromBytes(val)
				if err != nil {
					return nil, exp, ErrCorruptRecord
				}
				id, hasID = parsed, true
			case fieldValue:
				v.Value = append([]byte(nil), val...)
			case fieldPublicKey:
				v.PublicKey = append([]byte(nil), val...)
			case fieldSalt:
				v.Salt = append([]byte(nil), val...)
			case fieldSig:
				v.Sig = append([]byte(nil), val...)
			}
		case protowire.VarintType:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, exp, ErrCorruptRecord
			}
			b = b[n:]
			switch num {
			case fieldMutable:
				mutable = val != 0
			case fieldSeq:
				v.Seq = protowire.DecodeZigZag(val)
			case fieldExpiration:
				exp = time.Unix(0, int64(val))
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, exp, ErrCorruptRecord
			}
			b = b[n:]
		}
	}
	if !hasID {
		return nil, exp, ErrCorruptRecord
	}

	var (
		it  *Item
		err error
	)
	if mutable {
		it, err = NewMutableFromWire(v.PublicKey, v.Salt, v.Value, v.Seq, v.Sig)
	} else {
		it, err = NewImmutableFromWire(id, v.Value)
	}
	if err != nil || it.ID != id {
		return nil, exp, ErrCorruptRecord
	}
	return it, exp, nil
}

// persist 写入持久化记录
func (s *Store) persist(it *Item) {
	if s.kv == nil {
		return
	}
	if err := s.kv.Put(it.ID[:], marshalRecord(it)); err != nil {
		logger.Warn("持久化条目失败", "id", it.ID.ShortString(), "err", err)
	}
}

// unpersist 删除持久化记录
func (s *Store) unpersist(id types.ID) {
	if s.kv == nil {
		return
	}
	if err := s.kv.Delete(id[:]); err != nil {
		logger.Warn("删除持久化条目失败", "id", id.ShortString(), "err", err)
	}
}

// Load 从持久化存储恢复未过期的条目，返回恢复数量
//
// 损坏或已过期的记录被删除。
func (s *Store) Load() (int, error) {
	if s.kv == nil {
		return 0, nil
	}
	now := s.clock.Now()

	var (
		loaded []*Item
		stale  [][]byte
	)
	err := s.kv.PrefixScan(nil, func(key, value []byte) bool {
		it, exp, err := unmarshalRecord(value)
		if err != nil || !now.Before(exp) {
			stale = append(stale, key)
			return true
		}
		it.expiration = exp
		it.keepalive = now.Add(s.keepalive)
		loaded = append(loaded, it)
		return true
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for _, it := range loaded {
		if _, ok := s.items[it.ID]; !ok {
			s.items[it.ID] = it
		}
	}
	s.mu.Unlock()

	if len(stale) > 0 {
		batch := s.kv.NewBatch()
		for _, key := range stale {
			batch.Delete(key)
		}
		if err := batch.Write(); err != nil {
			logger.Warn("删除失效持久化条目失败", "count", batch.Size(), "first", fmt.Sprintf("%x", stale[0]), "err", err)
		}
	}
	logger.Debug("恢复持久化条目", "loaded", len(loaded), "stale", len(stale))
	return len(loaded), nil
}
