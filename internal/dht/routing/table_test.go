package routing

import (
	"net/netip"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kdht/pkg/types"
)

// ============================================================================
//                              辅助函数
// ============================================================================

func testAddr(i int) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, byte(i >> 16), byte(i >> 8), byte(i)}), 6881)
}

// idWithKey 返回 XOR localID 后等于 key 的 ID
func idWithKey(local, key types.ID) types.ID {
	return types.Xor(local, key)
}

// randomKey 返回最高位为 top 的非零随机键
func randomKey(top int) types.ID {
	for {
		k := types.RandomID()
		if top == 0 {
			k[0] &= 0x7f
		} else {
			k[0] |= 0x80
		}
		if !k.IsZero() {
			return k
		}
	}
}

func mustInsert(t *testing.T, tbl *Table, id types.ID, i int) *Node {
	t.Helper()
	n, err := tbl.CreateOrTouchNode(id, types.NodeRemote, testAddr(i), TouchSeen)
	require.NoError(t, err)
	return n
}

// bruteClosest 暴力计算最近的 max 个 ID
func bruteClosest(ids []types.ID, target types.ID, max int) []types.ID {
	sorted := append([]types.ID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool {
		return types.CompareDistance(sorted[i], sorted[j], target) < 0
	})
	if len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}

func nodeIDs(nodes []*Node) []types.ID {
	out := make([]types.ID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

// ============================================================================
//                              插入与分裂
// ============================================================================

// TestTable_SingleSplit 25 个节点恰好触发一次分裂
func TestTable_SingleSplit(t *testing.T) {
	local := types.RandomID()
	tbl := NewTable(types.FamilyIPv4, local)

	var ids []types.ID
	for i := 0; i < 25; i++ {
		top := 1
		if i%2 == 0 {
			top = 0
		}
		id := idWithKey(local, randomKey(top))
		ids = append(ids, id)
		mustInsert(t, tbl, id, i).Release()
	}

	stats := tbl.Stats()
	assert.Equal(t, int64(1), stats.Splits)
	assert.Equal(t, 25, stats.Nodes)
	assert.Equal(t, 2, stats.Buckets)
	for _, b := range tbl.Buckets() {
		assert.LessOrEqual(t, b.Size, BucketSize)
	}

	got := tbl.FindClosestNodes(Query{Target: local, Max: 8})
	defer ReleaseAll(got)
	require.Len(t, got, 8)
	assert.Equal(t, bruteClosest(ids, local, 8), nodeIDs(got))
	for i := 1; i < len(got); i++ {
		assert.Equal(t, -1, types.CompareDistance(got[i-1].ID, got[i].ID, local))
	}

	t.Log("✅ 单次分裂后最近节点正确")
}

// TestTable_BucketsPartitionKeySpace 分裂后叶子区间互不相交且覆盖整个键空间
func TestTable_BucketsPartitionKeySpace(t *testing.T) {
	local := types.RandomID()
	tbl := NewTable(types.FamilyIPv4, local)

	for i := 0; i < 300; i++ {
		n, err := tbl.CreateOrTouchNode(types.RandomID(), types.NodeRemote, testAddr(i), TouchSeen)
		if err == nil {
			n.Release()
		} else {
			require.ErrorIs(t, err, ErrBucketFull)
		}
	}

	buckets := tbl.Buckets()
	require.Greater(t, len(buckets), 1)

	sort.Slice(buckets, func(i, j int) bool { return types.Compare(buckets[i].Lo, buckets[j].Lo) < 0 })
	assert.Equal(t, types.EmptyID, buckets[0].Lo)
	assert.Equal(t, types.MaxID, buckets[len(buckets)-1].Mask)

	splittable := 0
	for i, b := range buckets {
		assert.LessOrEqual(t, b.Size, BucketSize)
		assert.True(t, types.LessOrEqual(b.Lo, b.Mask))
		if i > 0 {
			assert.Equal(t, types.Increment(buckets[i-1].Mask), b.Lo)
		}
		if b.Splittable {
			splittable++
			assert.Equal(t, types.EmptyID, b.Lo, "只有最靠近本地的叶子可分裂")
		}
	}
	assert.Equal(t, 1, splittable)
}

// TestTable_FindClosestMatchesBruteForce 随机目标的最近节点与暴力结果一致
func TestTable_FindClosestMatchesBruteForce(t *testing.T) {
	local := types.RandomID()
	tbl := NewTable(types.FamilyIPv4, local)

	for i := 0; i < 400; i++ {
		n, err := tbl.CreateOrTouchNode(types.RandomID(), types.NodeRemote, testAddr(i), TouchSeen)
		if err == nil {
			n.Release()
		}
	}

	var ids []types.ID
	for _, e := range tbl.Entries() {
		ids = append(ids, e.ID)
	}

	targets := []types.ID{local, types.RandomID(), types.RandomID(), ids[0], types.MaxID}
	for _, target := range targets {
		for _, max := range []int{1, 8, 20, 50} {
			got := tbl.FindClosestNodes(Query{Target: target, Max: max})
			assert.Equal(t, bruteClosest(ids, target, max), nodeIDs(got), "target %s max %d", target.ShortString(), max)
			ReleaseAll(got)
		}
	}
}

// TestTable_TouchExisting 重复插入刷新已有条目
func TestTable_TouchExisting(t *testing.T) {
	mock := clock.NewMock()
	tbl := NewTable(types.FamilyIPv4, types.RandomID(), WithClock(mock))

	id := types.RandomID()
	a := mustInsert(t, tbl, id, 1)
	mock.Add(time.Minute)
	b, err := tbl.CreateOrTouchNode(id, types.NodeRemote, testAddr(2), TouchConfirmed)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, testAddr(1), b.Addr, "刷新不改变地址")
	assert.Equal(t, 1, tbl.Size())

	entries := tbl.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Touched)
	assert.Equal(t, mock.Now(), entries[0].LastSeen)

	a.Release()
	b.Release()
}

func TestTable_InvalidInsert(t *testing.T) {
	local := types.RandomID()
	tbl := NewTable(types.FamilyIPv4, local)

	_, err := tbl.CreateOrTouchNode(types.RandomID(), types.NodeRemote, netip.MustParseAddrPort("[2001:db8::1]:6881"), TouchSeen)
	assert.ErrorIs(t, err, ErrFamilyMismatch)

	_, err = tbl.CreateOrTouchNode(local, types.NodeRemote, testAddr(1), TouchSeen)
	assert.ErrorIs(t, err, ErrSelf)

	_, err = tbl.CreateOrTouchNode(types.RandomID(), types.NodeRemote, netip.AddrPort{}, TouchSeen)
	assert.ErrorIs(t, err, ErrInvalidAddr)

	_, err = tbl.CreateOrTouchNode(types.RandomID(), types.NodeLocal, testAddr(1), TouchSeen)
	assert.ErrorIs(t, err, ErrLocalID)

	// IPv4-mapped 地址按 IPv4 处理
	n, err := tbl.CreateOrTouchNode(types.RandomID(), types.NodeRemote, netip.MustParseAddrPort("[::ffff:10.0.0.9]:6881"), TouchSeen)
	require.NoError(t, err)
	assert.True(t, n.Addr.Addr().Is4())
	n.Release()
}

// TestTable_FullBucketEviction 不可分裂的满桶替换最早的过期条目
func TestTable_FullBucketEviction(t *testing.T) {
	mock := clock.NewMock()
	local := types.RandomID()
	tbl := NewTable(types.FamilyIPv4, local, WithClock(mock))

	var ids []types.ID
	for i := 0; i < BucketSize; i++ {
		id := idWithKey(local, randomKey(1))
		ids = append(ids, id)
		mustInsert(t, tbl, id, i).Release()
		mock.Add(time.Second)
	}

	// 右半区已满：分裂一次后右叶子不可分裂
	_, err := tbl.CreateOrTouchNode(idWithKey(local, randomKey(1)), types.NodeRemote, testAddr(100), TouchSeen)
	assert.ErrorIs(t, err, ErrBucketFull)
	assert.Equal(t, int64(1), tbl.Stats().Splits)

	// 两个过期条目中 lastSeen 更早的被替换
	require.True(t, tbl.Expire(ids[3]))
	require.True(t, tbl.Expire(ids[7]))
	assert.Nil(t, tbl.FindNode(ids[3]))

	newID := idWithKey(local, randomKey(1))
	n := mustInsert(t, tbl, newID, 101)
	n.Release()

	entries := map[types.ID]bool{}
	for _, e := range tbl.Entries() {
		entries[e.ID] = true
	}
	assert.False(t, entries[ids[3]])
	assert.True(t, entries[ids[7]])
	assert.True(t, entries[newID])
	assert.Equal(t, BucketSize, tbl.Size())
	assert.Equal(t, 1, tbl.Stats().Expired)
}

// ============================================================================
//                              删除与引用计数
// ============================================================================

// TestTable_DeleteWhileHeld 删除后不可见，但持有者仍可读取
func TestTable_DeleteWhileHeld(t *testing.T) {
	tbl := NewTable(types.FamilyIPv4, types.RandomID())

	id := types.RandomID()
	created := mustInsert(t, tbl, id, 1)
	held := tbl.FindNode(id)
	require.NotNil(t, held)
	assert.Equal(t, int32(3), held.Refs())

	require.NoError(t, tbl.DeleteNode(created))
	assert.Nil(t, tbl.FindNode(id))
	assert.ErrorIs(t, tbl.DeleteNode(created), ErrNodeNotFound)

	assert.True(t, held.Deleted())
	assert.Equal(t, id, held.ID)
	assert.Equal(t, testAddr(1), held.Addr)

	// 仍被持有，不能回收
	assert.Equal(t, 0, tbl.Drain())
	assert.Equal(t, 1, tbl.Stats().Pending)

	created.Release()
	held.Release()
	assert.Equal(t, 1, tbl.Drain())
	assert.Equal(t, 0, tbl.Stats().Pending)

	// 回收的节点被复用，状态重置
	id2 := types.RandomID()
	reused := mustInsert(t, tbl, id2, 2)
	assert.False(t, reused.Deleted())
	assert.Equal(t, id2, reused.ID)
	assert.Equal(t, int32(2), reused.Refs())
	reused.Release()
}

func TestNode_ReleaseUnderflow(t *testing.T) {
	n := NewNode(types.RandomID(), testAddr(1), types.NodeRemote)
	n.Release()
	assert.Panics(t, func() { n.Release() })
}

// ============================================================================
//                              本地节点
// ============================================================================

func TestTable_LocalNodes(t *testing.T) {
	local := types.RandomID()
	tbl := NewTable(types.FamilyIPv4, local)

	a, err := tbl.CreateOrTouchNode(local, types.NodeLocal, testAddr(1), TouchSeen)
	require.NoError(t, err)
	b, err := tbl.CreateOrTouchNode(local, types.NodeLocal, testAddr(1), TouchSeen)
	require.NoError(t, err)
	assert.Same(t, a, b)
	b.Release()

	c, err := tbl.CreateOrTouchNode(local, types.NodeLocal, testAddr(2), TouchSeen)
	require.NoError(t, err)

	locals := tbl.LocalNodes()
	assert.Len(t, locals, 2)
	ReleaseAll(locals)

	// 本地节点不进入桶
	assert.Equal(t, 0, tbl.Size())

	remote := mustInsert(t, tbl, types.RandomID(), 3)
	defer remote.Release()

	got := tbl.FindClosestNodes(Query{Target: local, Max: 8, Types: types.NodeAny})
	require.Len(t, got, 2)
	assert.Equal(t, local, got[0].ID, "本地节点距离为零")
	assert.Equal(t, remote.ID, got[1].ID)
	ReleaseAll(got)

	got = tbl.FindClosestNodes(Query{Target: local, Max: 8, Types: types.NodeLocal})
	require.Len(t, got, 1)
	ReleaseAll(got)

	got = tbl.FindClosestNodes(Query{Target: local, Max: 8, Families: types.FamilyMaskIPv6})
	assert.Empty(t, got)

	require.NoError(t, tbl.DeleteNode(c))
	c.Release()
	a.Release()
}

// ============================================================================
//                              维护
// ============================================================================

// TestTable_ProcessTable 不活跃条目被探测，多次未应答后过期
func TestTable_ProcessTable(t *testing.T) {
	mock := clock.NewMock()
	cfg := DefaultConfig()

	var mu sync.Mutex
	var pinged []types.ID
	tbl := NewTable(types.FamilyIPv4, types.RandomID(), WithClock(mock), WithConfig(cfg), WithHooks(Hooks{
		Ping: func(n *Node) {
			mu.Lock()
			pinged = append(pinged, n.ID)
			mu.Unlock()
			n.Release()
		},
	}))

	id := types.RandomID()
	mustInsert(t, tbl, id, 1).Release()

	assert.True(t, tbl.ProcessTable())
	assert.False(t, tbl.ProcessTable(), "周期未到")
	assert.Empty(t, pinged)

	mock.Add(cfg.InactiveTime + time.Second)
	require.True(t, tbl.ProcessTable())
	assert.Len(t, pinged, 1)
	assert.Equal(t, StatusDubious, tbl.Entries()[0].Status)

	// 未应答时切换为探测周期
	for i := 2; i <= cfg.MaxPings; i++ {
		mock.Add(cfg.ProbeInterval)
		require.True(t, tbl.ProcessTable())
		assert.Len(t, pinged, i)
	}

	mock.Add(cfg.ProbeInterval)
	require.True(t, tbl.ProcessTable())
	assert.Len(t, pinged, cfg.MaxPings)
	assert.Equal(t, StatusExpired, tbl.Entries()[0].Status)
	assert.Nil(t, tbl.FindNode(id))

	// 应答恢复为活跃
	n, err := tbl.CreateOrTouchNode(id, types.NodeRemote, testAddr(1), TouchConfirmed)
	require.NoError(t, err)
	n.Release()
	e := tbl.Entries()[0]
	assert.Equal(t, StatusActive, e.Status)
	assert.Equal(t, 0, e.Pings)
	assert.Equal(t, 0, tbl.Stats().Expired)
}

// TestTable_RefreshEmptyBucket 长时间为空的桶向中点发起刷新
func TestTable_RefreshEmptyBucket(t *testing.T) {
	mock := clock.NewMock()
	local := types.RandomID()

	var targets []types.ID
	tbl := NewTable(types.FamilyIPv4, local, WithClock(mock), WithHooks(Hooks{
		Refresh: func(target types.ID) { targets = append(targets, target) },
	}))

	tbl.ProcessTable()
	assert.Empty(t, targets)

	mock.Add(DefaultConfig().ExpiredTime)
	tbl.ProcessTable()
	require.Len(t, targets, 1)
	assert.Equal(t, types.Xor(types.Midpoint(types.EmptyID, types.MaxID), local), targets[0])
}

func TestTable_ProbeOnDiscovery(t *testing.T) {
	var pings int
	tbl := NewTable(types.FamilyIPv4, types.RandomID(), WithHooks(Hooks{
		Ping: func(n *Node) {
			pings++
			n.Release()
		},
	}))

	id := types.RandomID()
	n, err := tbl.CreateOrTouchNode(id, types.NodeRemote, testAddr(1), TouchProbe)
	require.NoError(t, err)
	n.Release()
	n, err = tbl.CreateOrTouchNode(id, types.NodeRemote, testAddr(1), TouchProbe)
	require.NoError(t, err)
	n.Release()

	assert.Equal(t, 1, pings)
}

func TestTable_SplitHook(t *testing.T) {
	var depths []int
	tbl := NewTable(types.FamilyIPv4, types.RandomID(), WithHooks(Hooks{
		Split: func(depth int) { depths = append(depths, depth) },
	}))
	for i := 0; i < 100; i++ {
		if n, err := tbl.CreateOrTouchNode(types.RandomID(), types.NodeRemote, testAddr(i), TouchSeen); err == nil {
			n.Release()
		}
	}
	assert.Equal(t, int(tbl.Stats().Splits), len(depths))
	assert.Equal(t, 1, depths[0])
}

// ============================================================================
//                              并发
// ============================================================================

func TestTable_Concurrent(t *testing.T) {
	tbl := NewTable(types.FamilyIPv4, types.RandomID())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := types.RandomID()
				n, err := tbl.CreateOrTouchNode(id, types.NodeRemote, testAddr(w*1000+i), TouchSeen)
				if err == nil {
					if i%3 == 0 {
						_ = tbl.DeleteNode(n)
					}
					n.Release()
				}
				ReleaseAll(tbl.FindClosestNodes(Query{Target: id, Max: 8}))
				tbl.ProcessTable()
			}
		}(w)
	}
	wg.Wait()

	for _, b := range tbl.Buckets() {
		assert.LessOrEqual(t, b.Size, BucketSize)
	}
	tbl.Drain()
	assert.Equal(t, 0, tbl.Stats().Pending)
}
