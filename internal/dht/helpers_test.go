package dht

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/pkg/types"
)

// testConfig 本机测试配置：接受回环地址，不限流，不持久化
func testConfig(opts ...ConfigOption) *Config {
	base := []ConfigOption{
		WithListenAddrs("127.0.0.1:0"),
		WithAllowMartians(true),
		WithPulseInterval(5 * time.Millisecond),
	}
	cfg := NewConfig(append(base, opts...)...)
	cfg.PollTimeout = 4 * time.Millisecond
	cfg.RateLimit = 0
	cfg.PeerRateLimit = 0
	cfg.Persist = false
	return cfg
}

// newTestDHT 创建绑定在回环地址上的 DHT
func newTestDHT(t *testing.T, cfg *Config, opts ...Option) *DHT {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	d, err := New(cfg, opts...)
	require.NoError(t, err)
	_, err = d.Bind("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// pulseUntil 驱动所有节点的脉冲直到 cond 成立
func pulseUntil(t *testing.T, cond func() bool, nodes ...*DHT) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, d := range nodes {
			_ = d.Pulse(ctx, 2*time.Millisecond)
		}
		if cond() {
			return
		}
	}
	t.Fatal("condition not reached before deadline")
}

// runNodes 在后台运行节点的脉冲循环
func runNodes(t *testing.T, nodes ...*DHT) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, len(nodes))
	for _, d := range nodes {
		go func(d *DHT) {
			_ = d.Run(ctx, 0)
			done <- struct{}{}
		}(d)
	}
	t.Cleanup(func() {
		cancel()
		for range nodes {
			<-done
		}
	})
}

// addrOf 节点第一个端点地址（0.0.0.0 替换为回环）
func addrOf(d *DHT) netip.AddrPort {
	a := d.Addrs()[0]
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), a.Port())
}

// rawClient 直接收发报文的 UDP 客户端
type rawClient struct {
	t    *testing.T
	id   types.ID
	conn net.PacketConn
	tids *protocol.TransactionIDs
}

func newRawClient(t *testing.T) *rawClient {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rawClient{t: t, id: types.RandomID(), conn: conn, tids: protocol.NewTransactionIDs()}
}

// query 发送请求并驱动 d 的脉冲直到收到对应的应答或错误
func (c *rawClient) query(d *DHT, method string, args protocol.Args) *protocol.Message {
	c.t.Helper()
	if args == nil {
		args = protocol.Args{}
	}
	if !args.Has(protocol.KeyID) {
		args.SetID(protocol.KeyID, c.id)
	}
	msg := protocol.NewQuery(method, args)
	msg.TransactionID = protocol.EncodeTransactionID(c.tids.Next())
	return c.send(d, msg)
}

func (c *rawClient) send(d *DHT, msg *protocol.Message) *protocol.Message {
	c.t.Helper()
	data, err := msg.Encode()
	require.NoError(c.t, err)
	_, err = c.conn.WriteTo(data, net.UDPAddrFromAddrPort(addrOf(d)))
	require.NoError(c.t, err)

	buf := make([]byte, protocol.ReadBufferSize)
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = d.Pulse(ctx, 2*time.Millisecond)
		_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			continue
		}
		reply, err := protocol.Decode(buf[:n])
		require.NoError(c.t, err)
		// 跳过 DHT 主动发来的探测请求
		if reply.Type == protocol.TypeQuery || string(reply.TransactionID) != string(msg.TransactionID) {
			continue
		}
		return reply
	}
	c.t.Fatal("no reply before deadline")
	return nil
}
