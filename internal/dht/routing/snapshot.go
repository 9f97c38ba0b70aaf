package routing

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-kdht/pkg/types"
)

// 快照格式
//
//	magic "KDRT" | version u16 | family u8 | reserved u8 | count u32
//	count 个 field 1 (bytes) 条目，条目内部字段：
//	  1 id (bytes) 2 addr (bytes, netip.AddrPort 二进制) 3 lastSeen (varint, unix 纳秒) 4 touched (varint)
const (
	snapshotMagic   = "KDRT"
	snapshotVersion = 1
	snapshotHeader  = 12
)

const (
	fieldEntry    protowire.Number = 1
	fieldID       protowire.Number = 1
	fieldAddr     protowire.Number = 2
	fieldLastSeen protowire.Number = 3
	fieldTouched  protowire.Number = 4
)

// Snapshot 序列化所有未过期的远端条目
func (t *Table) Snapshot() ([]byte, error) {
	entries := t.Entries()

	buf := make([]byte, snapshotHeader, snapshotHeader+len(entries)*48)
	copy(buf, snapshotMagic)
	binary.BigEndian.PutUint16(buf[4:], snapshotVersion)
	buf[6] = byte(t.family)

	count := 0
	for _, e := range entries {
		if e.Status == StatusExpired {
			continue
		}
		addr, err := e.Addr.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal addr %s: %w", e.Addr, err)
		}
		var rec []byte
		rec = protowire.AppendTag(rec, fieldID, protowire.BytesType)
		rec = protowire.AppendBytes(rec, e.ID[:])
		rec = protowire.AppendTag(rec, fieldAddr, protowire.BytesType)
		rec = protowire.AppendBytes(rec, addr)
		rec = protowire.AppendTag(rec, fieldLastSeen, protowire.VarintType)
		rec = protowire.AppendVarint(rec, uint64(e.LastSeen.UnixNano()))
		if e.Touched {
			rec = protowire.AppendTag(rec, fieldTouched, protowire.VarintType)
			rec = protowire.AppendVarint(rec, 1)
		}

		buf = protowire.AppendTag(buf, fieldEntry, protowire.BytesType)
		buf = protowire.AppendBytes(buf, rec)
		count++
	}
	binary.BigEndian.PutUint32(buf[8:], uint32(count))
	return buf, nil
}

// snapshotEntry 快照条目
type snapshotEntry struct {
	id       types.ID
	addr     netip.AddrPort
	lastSeen time.Time
	touched  bool
}

// Restore 从快照恢复条目，返回插入的节点数
//
// 桶已满的条目被跳过。格式或地址族不匹配时返回错误且不修改路由表。
func (t *Table) Restore(data []byte) (int, error) {
	entries, err := t.decodeSnapshot(data)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, e := range entries {
		if e.id == t.localID || types.FamilyOf(e.addr) != t.family {
			continue
		}
		n, _, err := t.upsert(e.id, e.addr, TouchSeen, e.lastSeen, e.touched)
		if err != nil {
			continue
		}
		n.Release()
		restored++
	}
	logger.Debug("恢复路由表快照", "family", t.family.String(), "entries", len(entries), "restored", restored)
	return restored, nil
}

func (t *Table) decodeSnapshot(data []byte) ([]snapshotEntry, error) {
	if len(data) < snapshotHeader || string(data[:4]) != snapshotMagic {
		return nil, ErrSnapshotHeader
	}
	if v := binary.BigEndian.Uint16(data[4:]); v != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, v)
	}
	if types.Family(data[6]) != t.family {
		return nil, fmt.Errorf("%w: snapshot family %d", ErrFamilyMismatch, data[6])
	}
	count := binary.BigEndian.Uint32(data[8:])

	entries := make([]snapshotEntry, 0, min(int(count), 1024))
	b := data[snapshotHeader:]
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, ErrSnapshotCorrupt
		}
		b = b[n:]
		if num != fieldEntry || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, ErrSnapshotCorrupt
			}
			b = b[n:]
			continue
		}
		rec, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, ErrSnapshotCorrupt
		}
		b = b[n:]
		e, err := decodeEntry(rec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if uint32(len(entries)) != count {
		return nil, fmt.Errorf("%w: count %d, decoded %d", ErrSnapshotCorrupt, count, len(entries))
	}
	return entries, nil
}

func decodeEntry(rec []byte) (snapshotEntry, error) {
	var (
		e       snapshotEntry
		hasID   bool
		hasAddr bool
	)
	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return e, ErrSnapshotCorrupt
		}
		rec = rec[n:]
		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rec)
			if n < 0 {
				return e, ErrSnapshotCorrupt
			}
			id, err := types.IDFromBytes(v)
			if err != nil {
				return e, ErrSnapshotCorrupt
			}
			e.id, hasID = id, true
			rec = rec[n:]
		case num == fieldAddr && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rec)
			if n < 0 {
				return e, ErrSnapshotCorrupt
			}
			if err := e.addr.UnmarshalBinary(v); err != nil || !e.addr.IsValid() {
				return e, ErrSnapshotCorrupt
			}
			hasAddr = true
			rec = rec[n:]
		case num == fieldLastSeen && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return e, ErrSnapshotCorrupt
			}
			e.lastSeen = time.Unix(0, int64(v))
			rec = rec[n:]
		case num == fieldTouched && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return e, ErrSnapshotCorrupt
			}
			e.touched = v != 0
			rec = rec[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, rec)
			if n < 0 {
				return e, ErrSnapshotCorrupt
			}
			rec = rec[n:]
		}
	}
	if !hasID || !hasAddr {
		return e, ErrSnapshotCorrupt
	}
	return e, nil
}
