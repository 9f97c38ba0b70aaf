package kdht

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kdht/config"
	"github.com/dep2p/go-kdht/pkg/lib/crypto"
	"github.com/dep2p/go-kdht/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              选项与预设
// ════════════════════════════════════════════════════════════════════════════

// TestOptions_Invalid 测试非法选项被拒绝
func TestOptions_Invalid(t *testing.T) {
	cases := map[string]Option{
		"nil config":     WithConfig(nil),
		"bad listen":     WithListenAddrs("not-an-addr"),
		"empty listen":   WithListenAddrs(),
		"bad port":       WithListenPort(70000),
		"zero id":        WithNodeID(types.EmptyID),
		"empty preset":   WithPreset(Preset{Name: "empty"}),
		"zero timeout":   WithQueryTimeout(0, 1),
		"zero pulse":     WithPulseInterval(0),
		"negative rate":  WithRateLimit(-1, 0),
		"empty data dir": WithDataDir(""),
	}
	for name, opt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(opt)
			assert.Error(t, err)
		})
	}
	t.Log("✅ 非法选项全部被拒绝")
}

// TestOptions_Apply 测试选项作用于统一配置
func TestOptions_Apply(t *testing.T) {
	id := types.RandomID()
	cfg := newNodeConfig()
	for _, opt := range []Option{
		WithPreset(PresetServer),
		WithNodeID(id),
		WithQueryTimeout(3*time.Second, 2),
		WithDataDir(t.TempDir()),
		WithMetrics(true),
	} {
		require.NoError(t, opt(cfg))
	}

	assert.Equal(t, []string{"0.0.0.0:6881", "[::]:6881"}, cfg.config.DHT.ListenAddrs)
	assert.Equal(t, id.String(), cfg.config.DHT.NodeID)
	assert.Equal(t, config.Duration(3*time.Second), cfg.config.DHT.QueryTimeout)
	assert.Equal(t, 2, cfg.config.DHT.QueryAttempts)
	assert.True(t, cfg.config.DHT.Persist)
	assert.False(t, cfg.config.Storage.InMemory)
	assert.True(t, cfg.config.Metrics.Enabled)
	t.Log("✅ 选项按顺序覆盖配置")
}

// TestWithConfig_Clones 测试 WithConfig 不修改调用方的配置
func TestWithConfig_Clones(t *testing.T) {
	base := config.NewConfig()
	base.DHT.ListenAddrs = []string{"127.0.0.1:0"}

	cfg := newNodeConfig()
	require.NoError(t, WithConfig(base)(cfg))
	require.NoError(t, WithListenAddrs("127.0.0.1:7000")(cfg))

	assert.Equal(t, []string{"127.0.0.1:0"}, base.DHT.ListenAddrs)
	assert.Equal(t, []string{"127.0.0.1:7000"}, cfg.config.DHT.ListenAddrs)
	t.Log("✅ WithConfig 复制配置")
}

// TestPresetByName 测试按名称查找预设
func TestPresetByName(t *testing.T) {
	for _, name := range []string{PresetNameServer, PresetNameClient, PresetNameTest} {
		p, ok := PresetByName(name)
		require.True(t, ok, name)
		assert.Equal(t, name, p.Name)
	}
	_, ok := PresetByName("desktop")
	assert.False(t, ok)
	t.Log("✅ 预设查找正确")
}

// TestParseID 测试 ID 解析
func TestParseID(t *testing.T) {
	id := types.RandomID()
	got, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = ParseID("0x" + id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseID("zz")
	assert.Error(t, err)
	t.Log("✅ ID 解析正确")
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// TestNode_Lifecycle 测试状态转换
func TestNode_Lifecycle(t *testing.T) {
	ctx := context.Background()
	node, err := New(WithPreset(PresetTest))
	require.NoError(t, err)
	defer node.Close()

	assert.Equal(t, StateIdle, node.State())
	_, err = node.Search(ctx, types.RandomID(), FamilyIPv4)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, node.Start(ctx))
	assert.Equal(t, StateRunning, node.State())
	assert.True(t, node.IsRunning())
	assert.False(t, node.ID().IsZero())
	require.Len(t, node.Addrs(), 1)
	assert.ErrorIs(t, node.Start(ctx), ErrAlreadyStarted)

	// 没有任何路由节点时查找立即完成
	res, err := node.Search(ctx, types.RandomID(), FamilyIPv4)
	require.NoError(t, err)
	assert.Empty(t, res)

	require.NoError(t, node.Stop(ctx))
	assert.Equal(t, StateStopped, node.State())
	assert.Empty(t, node.Addrs())
	assert.ErrorIs(t, node.Start(ctx), ErrNodeClosed)
	assert.ErrorIs(t, node.Stop(ctx), ErrNodeClosed)
	assert.NoError(t, node.Close())
	t.Log("✅ 生命周期状态转换正确")
}

// TestNode_FixedID 测试固定节点 ID
func TestNode_FixedID(t *testing.T) {
	id := types.RandomID()
	node, err := Start(context.Background(), WithPreset(PresetTest), WithNodeID(id))
	require.NoError(t, err)
	defer node.Close()

	assert.Equal(t, id, node.ID())
	assert.Equal(t, id, node.Stats().LocalID)
	t.Log("✅ 节点使用配置的 ID")
}

// TestNode_BootstrapErrors 测试引导错误
func TestNode_BootstrapErrors(t *testing.T) {
	ctx := context.Background()
	node, err := Start(ctx, WithPreset(PresetTest), WithQueryTimeout(50*time.Millisecond, 1))
	require.NoError(t, err)
	defer node.Close()

	_, err = node.Bootstrap(ctx)
	assert.ErrorIs(t, err, ErrNoSeeds)

	_, err = node.Bootstrap(ctx, "bad seed")
	assert.ErrorIs(t, err, ErrNoSeeds)

	// 没有进程监听的端口不会应答
	sink := newSinkAddr(t)
	_, err = node.Bootstrap(ctx, sink)
	assert.ErrorIs(t, err, ErrNoResponse)
	t.Log("✅ 引导错误正确")
}

// ════════════════════════════════════════════════════════════════════════════
//                              本机网络
// ════════════════════════════════════════════════════════════════════════════

// TestNode_Network 测试三节点网络上的存取
func TestNode_Network(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	nodes := make([]*Node, 3)
	for i := range nodes {
		n, err := Start(ctx, WithPreset(PresetTest))
		require.NoError(t, err)
		t.Cleanup(func() { _ = n.Close() })
		nodes[i] = n
	}
	seed := nodes[0].Addrs()[0].String()

	// Ping
	id, err := nodes[1].Ping(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, nodes[0].ID(), id)

	// 引导
	for _, n := range nodes[1:] {
		responded, err := n.Bootstrap(ctx, seed)
		require.NoError(t, err)
		assert.Equal(t, 1, responded)
	}

	// 不可变条目
	value := []byte("hello kademlia")
	put, err := nodes[1].PutImmutable(ctx, value)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, put.Published, 1)

	got, err := nodes[2].GetImmutable(ctx, put.ID)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	_, err = nodes[2].GetImmutable(ctx, types.RandomID())
	assert.ErrorIs(t, err, ErrNotFound)

	// 可变条目
	priv, err := crypto.GenerateKey(rand.Reader)
	require.NoError(t, err)
	salt := []byte("profile")

	_, err = nodes[1].PutMutable(ctx, priv, salt, []byte("v1"), 1)
	require.NoError(t, err)
	mv, err := nodes[2].GetMutable(ctx, priv.Public().Raw(), salt)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), mv.Value)
	assert.Equal(t, int64(1), mv.Seq)

	_, err = nodes[1].PutMutable(ctx, priv, salt, []byte("v2"), 2)
	require.NoError(t, err)
	mv, err = nodes[0].GetMutable(ctx, priv.Public().Raw(), salt)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), mv.Value)
	assert.Equal(t, int64(2), mv.Seq)

	// 发布者持有条目，Unpublish 后释放
	assert.True(t, nodes[1].Unpublish(put.ID))
	assert.False(t, nodes[1].Unpublish(put.ID))
	t.Log("✅ 三节点网络存取正确")
}
