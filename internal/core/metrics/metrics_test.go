package metrics

import (
	"sync"
	"testing"

	"github.com/dep2p/go-kdht/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// ============================================================================
//                              记录
// ============================================================================

// TestMetrics_Record 测试记录方法同时更新计数器与收集器
func TestMetrics_Record(t *testing.T) {
	m, err := New("test", nil)
	require.NoError(t, err)

	m.MessageIn("q", "ping", 40)
	m.MessageIn("q", "ping", 60)
	m.MessageOut("r", "ping", 30)
	m.ErrorSent(203)
	m.JobFinished("get", "expired")
	m.SetTableNodes("n4", 12)
	m.Split()
	m.SetItems(3)
	m.SearchDone()
	m.Dropped("martian")

	stats := m.Stats()
	assert.Equal(t, int64(100), stats.TotalIn)
	assert.Equal(t, int64(2), stats.MsgsIn)
	assert.Equal(t, int64(30), stats.TotalOut)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesIn.WithLabelValues("q", "ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsSent.WithLabelValues("203")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.tableNodes.WithLabelValues("n4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.splits))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.items))

	t.Log("✅ 指标记录正确")
}

// TestMetrics_Nil 测试 nil 接收者安全
func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MessageIn("q", "ping", 1)
		m.MessageOut("q", "ping", 1)
		m.Dropped("x")
		m.ErrorSent(201)
		m.JobFinished("ping", "success")
		m.SetTableNodes("n6", 1)
		m.Split()
		m.SetItems(1)
		m.SearchDone()
	})
	assert.Equal(t, BandwidthStats{}, m.Stats())
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New("kdht", reg)
	require.NoError(t, err)

	// 重复注册同名指标失败
	_, err = New("kdht", reg)
	assert.Error(t, err)
}

func TestBandwidthCounter_Concurrent(t *testing.T) {
	bwc := NewBandwidthCounter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bwc.LogRecvMessage(10)
			bwc.LogSentMessage(5)
		}()
	}
	wg.Wait()

	stats := bwc.GetBandwidthTotals()
	assert.Equal(t, int64(500), stats.TotalIn)
	assert.Equal(t, int64(250), stats.TotalOut)
	assert.Equal(t, int64(50), stats.MsgsOut)

	bwc.Reset()
	assert.Equal(t, BandwidthStats{}, bwc.GetBandwidthTotals())
}

// ============================================================================
//                              Fx 模块
// ============================================================================

func TestModule_Provides(t *testing.T) {
	var m *Metrics
	app := fxtest.New(t, Module, fx.Populate(&m))
	defer app.RequireStart().RequireStop()

	require.NotNil(t, m)
	m.MessageOut("q", "find_node", 10)
	assert.Equal(t, int64(10), m.Stats().TotalOut)
}

func TestModule_Disabled(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Metrics.Enabled = false

	var m *Metrics
	app := fxtest.New(t, fx.Supply(cfg), Module, fx.Populate(&m))
	defer app.RequireStart().RequireStop()

	assert.Nil(t, m)
}
