package dht

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/pkg/types"
)

// sinkAddr 只接收不应答的 UDP 地址
func sinkAddr(t *testing.T) netip.AddrPort {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func isDone(j *Job) bool {
	select {
	case <-j.Done():
		return true
	default:
		return false
	}
}

// TestJob_ExpiresAfterAttempts 尝试次数耗尽后作业以 Expired 完成
func TestJob_ExpiresAfterAttempts(t *testing.T) {
	mock := clock.NewMock()
	cfg := testConfig(WithQueryTimeout(time.Second), WithQueryAttempts(3))
	d := newTestDHT(t, cfg, WithClock(mock))
	ctx := context.Background()

	calls := 0
	j := d.Ping(sinkAddr(t), func(*Job) { calls++ })
	assert.Equal(t, JobQuerying, j.State())

	require.NoError(t, d.Pulse(ctx, 2*time.Millisecond))
	assert.Equal(t, JobResponding, j.State())
	assert.Equal(t, 1, d.Stats().Transactions)

	for i := 0; i < 2; i++ {
		mock.Add(time.Second)
		require.NoError(t, d.Pulse(ctx, 2*time.Millisecond))
		assert.False(t, isDone(j), "第 %d 次超时后应重试", i+1)
		assert.Equal(t, JobResponding, j.State())
	}

	mock.Add(time.Second)
	require.NoError(t, d.Pulse(ctx, 2*time.Millisecond))
	require.True(t, isDone(j))
	assert.Equal(t, ResultExpired, j.Result())
	assert.ErrorIs(t, j.Err(), ErrExpired)
	assert.Equal(t, 0, j.Attempts())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, d.Stats().Jobs)
	assert.Equal(t, 0, d.Stats().Transactions)
	t.Log("✅ 作业在三次超时后过期")
}

// TestJob_PingSuccess 两个节点之间的 ping
func TestJob_PingSuccess(t *testing.T) {
	a := newTestDHT(t, nil)
	b := newTestDHT(t, nil)

	j := a.Ping(addrOf(b), nil)
	pulseUntil(t, func() bool { return isDone(j) }, a, b)

	assert.Equal(t, ResultSuccess, j.Result())
	require.NoError(t, j.Err())
	id, err := j.Response().SenderID()
	require.NoError(t, err)
	assert.Equal(t, b.LocalID(), id)

	// 应答方进入路由表
	n := a.Table(types.FamilyIPv4).FindNode(b.LocalID())
	require.NotNil(t, n)
	n.Release()
}

// TestJob_ErrorReply 错误回复使作业以 Error 完成并携带错误码
func TestJob_ErrorReply(t *testing.T) {
	a := newTestDHT(t, nil)
	b := newTestDHT(t, nil)

	j := a.FindNode(addrOf(b), a.LocalID(), 0, nil)
	// 替换请求为未知方法
	j.query = func(j *Job) (uint32, error) {
		return a.sendQuery(j, "vote", protocol.Args{})
	}
	pulseUntil(t, func() bool { return isDone(j) }, a, b)

	assert.Equal(t, ResultError, j.Result())
	assert.Equal(t, protocol.CodeMethodUnknown, protocol.CodeOf(j.Err()))
}

// TestJob_Closed 关闭后创建的作业立即以 ErrClosed 完成
func TestJob_Closed(t *testing.T) {
	d := newTestDHT(t, nil)
	require.NoError(t, d.Close())

	called := false
	j := d.Ping(netip.MustParseAddrPort("127.0.0.1:1"), func(*Job) { called = true })
	assert.True(t, isDone(j))
	assert.True(t, called)
	assert.ErrorIs(t, j.Err(), ErrClosed)
	assert.ErrorIs(t, d.Pulse(context.Background(), time.Millisecond), ErrClosed)
}

// TestJob_CloseCompletesPending 关闭时未完成的作业以 Expired 完成并释放资源
func TestJob_CloseCompletesPending(t *testing.T) {
	d := newTestDHT(t, nil)

	released := false
	j := d.Ping(sinkAddr(t), nil, WithRelease(func() { released = true }))
	require.NoError(t, d.Pulse(context.Background(), 2*time.Millisecond))
	require.NoError(t, d.Close())

	assert.True(t, isDone(j))
	assert.Equal(t, ResultExpired, j.Result())
	assert.True(t, released)
}

// ============================================================================
//                              应答地址校验
// ============================================================================

// readQuery 驱动 d 的脉冲直到 conn 收到一个请求
func readQuery(t *testing.T, d *DHT, conn net.PacketConn) *protocol.Message {
	t.Helper()
	buf := make([]byte, protocol.ReadBufferSize)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = d.Pulse(context.Background(), 2*time.Millisecond)
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			continue
		}
		msg, err := protocol.Decode(buf[:n])
		require.NoError(t, err)
		if msg.Type == protocol.TypeQuery {
			return msg
		}
	}
	t.Fatal("no query before deadline")
	return nil
}

// TestJob_ReplyFromWrongAddressIgnored 来自非目标地址的应答被静默丢弃，事务继续等待真正的应答
func TestJob_ReplyFromWrongAddressIgnored(t *testing.T) {
	d := newTestDHT(t, nil)
	peer := newRawClient(t)
	forger := newRawClient(t)
	peerAddr := peer.conn.LocalAddr().(*net.UDPAddr).AddrPort()

	j := d.Ping(peerAddr, nil)
	query := readQuery(t, d, peer.conn)
	require.Equal(t, protocol.MethodPing, query.Method)
	require.Equal(t, JobResponding, j.State())
	before := d.Stats().Transactions
	require.Equal(t, 1, before)

	reply := protocol.NewResponse(query.TransactionID, protocol.Args{}.SetID(protocol.KeyID, peer.id))
	data, err := reply.Encode()
	require.NoError(t, err)

	// 正确的 t，错误的来源端口
	_, err = forger.conn.WriteTo(data, net.UDPAddrFromAddrPort(addrOf(d)))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Pulse(context.Background(), 2*time.Millisecond))
	}
	d.wg.Wait()

	assert.False(t, isDone(j))
	assert.Equal(t, JobResponding, j.State())
	assert.Equal(t, before, d.Stats().Transactions)
	assert.Nil(t, d.Table(types.FamilyIPv4).FindNode(peer.id), "伪造应答不应登记发送方")

	// 真正的应答仍能完成作业
	_, err = peer.conn.WriteTo(data, net.UDPAddrFromAddrPort(addrOf(d)))
	require.NoError(t, err)
	pulseUntil(t, func() bool { return isDone(j) }, d)

	assert.Equal(t, ResultSuccess, j.Result())
	id, err := j.Response().SenderID()
	require.NoError(t, err)
	assert.Equal(t, peer.id, id)
	assert.Equal(t, 0, d.Stats().Transactions)
	t.Log("✅ 伪造应答被丢弃，真实应答完成作业")
}
