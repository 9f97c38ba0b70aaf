package dht

import (
	"errors"
	"net"
	"net/netip"
	"os"

	"go.uber.org/multierr"

	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/internal/dht/routing"
	"github.com/dep2p/go-kdht/pkg/types"
)

// endpoint 绑定的本地地址，与路由表中的一个本地节点一一对应
type endpoint struct {
	conn   net.PacketConn
	addr   netip.AddrPort
	family types.Family
	node   *routing.Node
	buf    []byte
}

// Bind 监听 UDP 地址，返回实际绑定的地址
func (d *DHT) Bind(addr string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return netip.AddrPort{}, NewDHTError("bind", ErrInvalidAddress, addr)
	}
	network := "udp6"
	if ap.Addr().Unmap().Is4() {
		network = "udp4"
	}
	conn, err := net.ListenPacket(network, ap.String())
	if err != nil {
		return netip.AddrPort{}, NewDHTError("bind", err, addr)
	}
	bound, err := d.BindConn(conn)
	if err != nil {
		_ = conn.Close()
		return netip.AddrPort{}, err
	}
	return bound, nil
}

// BindConn 使用外部提供的数据报连接作为端点
//
// 端点所属地址族的路由表按需创建，并在其中登记本地节点。
func (d *DHT) BindConn(conn net.PacketConn) (netip.AddrPort, error) {
	if d.closed.Load() {
		return netip.AddrPort{}, ErrClosed
	}
	addr, err := addrPortOf(conn.LocalAddr())
	if err != nil {
		return netip.AddrPort{}, NewDHTError("bind", err, conn.LocalAddr().String())
	}
	family := types.FamilyOf(addr)

	table := d.tableFor(family)
	node, err := table.CreateOrTouchNode(d.localID, types.NodeLocal, addr, routing.TouchSeen)
	if err != nil {
		return netip.AddrPort{}, NewDHTError("bind", err, "register local node")
	}

	ep := &endpoint{
		conn:   conn,
		addr:   addr,
		family: family,
		node:   node,
		buf:    make([]byte, protocol.ReadBufferSize),
	}
	d.endpointsMu.Lock()
	d.endpoints = append(d.endpoints, ep)
	d.endpointsMu.Unlock()

	logger.Info("端点已绑定", "addr", addr.String(), "family", family)
	return addr, nil
}

// Addrs 返回所有已绑定的地址
func (d *DHT) Addrs() []netip.AddrPort {
	d.endpointsMu.RLock()
	defer d.endpointsMu.RUnlock()
	out := make([]netip.AddrPort, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep.addr)
	}
	return out
}

// endpointFor 返回地址族的第一个端点
func (d *DHT) endpointFor(f types.Family) *endpoint {
	d.endpointsMu.RLock()
	defer d.endpointsMu.RUnlock()
	for _, ep := range d.endpoints {
		if ep.family == f {
			return ep
		}
	}
	return nil
}

func (d *DHT) endpointList() []*endpoint {
	d.endpointsMu.RLock()
	defer d.endpointsMu.RUnlock()
	return append([]*endpoint(nil), d.endpoints...)
}

// closeEndpoints 关闭所有端点并释放本地节点
func (d *DHT) closeEndpoints() error {
	d.endpointsMu.Lock()
	eps := d.endpoints
	d.endpoints = nil
	d.endpointsMu.Unlock()

	var err error
	for _, ep := range eps {
		if table := d.Table(ep.family); table != nil {
			if derr := table.DeleteNode(ep.node); derr != nil {
				logger.Debug("删除本地节点失败", "addr", ep.addr.String(), "err", derr)
			}
		}
		ep.node.Release()
		err = multierr.Append(err, ep.conn.Close())
	}
	return err
}

// addrPortOf 将 net.Addr 转换为去除 IPv4 映射的 AddrPort
func addrPortOf(a net.Addr) (netip.AddrPort, error) {
	var ap netip.AddrPort
	switch v := a.(type) {
	case *net.UDPAddr:
		ap = v.AddrPort()
	default:
		parsed, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return netip.AddrPort{}, ErrInvalidAddress
		}
		ap = parsed
	}
	if !ap.IsValid() {
		return netip.AddrPort{}, ErrInvalidAddress
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// isTimeout 是否为读写超时
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
