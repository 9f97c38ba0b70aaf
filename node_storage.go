package kdht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"go.uber.org/multierr"

	"github.com/dep2p/go-kdht/internal/dht"
	"github.com/dep2p/go-kdht/internal/dht/item"
	"github.com/dep2p/go-kdht/pkg/lib/crypto"
)

// ════════════════════════════════════════════════════════════════════════════
//                              节点发现
// ════════════════════════════════════════════════════════════════════════════

// Ping 向地址发送 ping 并返回对端 ID
func (n *Node) Ping(ctx context.Context, addr string) (ID, error) {
	if err := n.ready(); err != nil {
		return ID{}, err
	}
	ap, err := resolveAddr(addr)
	if err != nil {
		return ID{}, err
	}

	j := n.dht.Ping(ap, nil)
	if err := j.Wait(ctx); err != nil {
		return ID{}, err
	}
	if j.Result() != dht.ResultSuccess {
		if jerr := j.Err(); jerr != nil {
			return ID{}, jerr
		}
		return ID{}, dht.ErrExpired
	}
	return j.Response().SenderID()
}

// Search 查找距离 target 最近的节点
//
// 结果按 XOR 距离升序，最多 SearchResults 个。
func (n *Node) Search(ctx context.Context, target ID, family Family) ([]NodeInfo, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	s, err := n.dht.Search(target, family, nil)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx)
}

// Bootstrap 通过种子地址加入网络
//
// 种子可以是 "host:port" 形式的域名或 IP 地址。返回应答的种子数；
// 全部种子都未应答时返回 ErrNoResponse。
func (n *Node) Bootstrap(ctx context.Context, seeds ...string) (int, error) {
	if err := n.ready(); err != nil {
		return 0, err
	}

	var (
		addrs   []netip.AddrPort
		resolve error
	)
	for _, s := range seeds {
		ap, err := resolveAddr(s)
		if err != nil {
			resolve = multierr.Append(resolve, err)
			continue
		}
		addrs = append(addrs, ap)
	}
	if len(addrs) == 0 {
		if resolve != nil {
			return 0, fmt.Errorf("%w: %v", ErrNoSeeds, resolve)
		}
		return 0, ErrNoSeeds
	}
	if resolve != nil {
		logger.Warn("部分种子地址无法解析", "error", resolve)
	}

	done := make(chan int, 1)
	if err := n.dht.Bootstrap(addrs, func(responded int) { done <- responded }); err != nil {
		return 0, err
	}

	select {
	case responded := <-done:
		if responded == 0 {
			return 0, ErrNoResponse
		}
		return responded, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              不可变条目
// ════════════════════════════════════════════════════════════════════════════

// PutImmutable 存储并发布不可变条目
//
// 条目先写入本地存储并由节点持有，之后按 keepalive 周期自动重新发布，
// 直到调用 Unpublish 或节点停止。
func (n *Node) PutImmutable(ctx context.Context, v []byte) (PutResult, error) {
	if err := n.ready(); err != nil {
		return PutResult{}, err
	}
	it, err := item.NewImmutable(v)
	if err != nil {
		return PutResult{}, err
	}
	return n.publish(ctx, it)
}

// GetImmutable 查询不可变条目
//
// 本地存储命中时直接返回；网络返回的值已校验哈希。
func (n *Node) GetImmutable(ctx context.Context, id ID) ([]byte, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	if it := n.dht.Items().Get(id); it != nil && !it.Mutable {
		return it.Value(), nil
	}
	res, err := n.lookup(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	if res.Item.Mutable {
		return nil, ErrNotFound
	}
	return res.Item.Value(), nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              可变条目
// ════════════════════════════════════════════════════════════════════════════

// PutMutable 签名并发布可变条目
//
// seq 必须大于网络中已有的序号，远端会拒绝更旧的值。
func (n *Node) PutMutable(ctx context.Context, priv *crypto.PrivateKey, salt, v []byte, seq int64) (PutResult, error) {
	if err := n.ready(); err != nil {
		return PutResult{}, err
	}
	if priv == nil {
		return PutResult{}, errors.New("private key cannot be nil")
	}
	it, err := item.NewMutable(priv, salt, v, seq)
	if err != nil {
		return PutResult{}, err
	}
	return n.publish(ctx, it)
}

// GetMutable 查询可变条目，返回网络中序号最大的值
func (n *Node) GetMutable(ctx context.Context, pub []byte, salt []byte) (MutableValue, error) {
	if err := n.ready(); err != nil {
		return MutableValue{}, err
	}
	if _, err := crypto.UnmarshalPublicKey(pub); err != nil {
		return MutableValue{}, fmt.Errorf("invalid public key: %w", err)
	}
	res, err := n.lookup(ctx, item.MutableTarget(pub, salt), salt)
	if err != nil {
		return MutableValue{}, err
	}
	v := res.Item.View()
	return MutableValue{Value: v.Value, Seq: v.Seq, Responses: res.Responses}, nil
}

// Unpublish 停止持有并重新发布条目
//
// 条目留在本地存储中，到期后自然删除。返回条目是否由本节点持有。
func (n *Node) Unpublish(id ID) bool {
	n.ownedMu.Lock()
	it, ok := n.owned[id]
	delete(n.owned, id)
	n.ownedMu.Unlock()
	if ok {
		it.Release()
	}
	return ok
}

// ════════════════════════════════════════════════════════════════════════════
//                              内部
// ════════════════════════════════════════════════════════════════════════════

// publish 写入本地存储、持有条目并分发到最近节点
func (n *Node) publish(ctx context.Context, it *item.Item) (PutResult, error) {
	stored, err := n.dht.Items().Put(it, nil)
	if err != nil {
		return PutResult{}, err
	}
	n.own(stored)

	done := make(chan dht.DistributeResult, 1)
	if err := n.dht.Distribute(stored, func(res dht.DistributeResult) { done <- res }); err != nil {
		return PutResult{}, err
	}

	select {
	case res := <-done:
		out := PutResult{ID: stored.ID, Seq: stored.Seq(), Nodes: res.Nodes, Published: res.Published}
		if res.Published == 0 {
			if res.Err != nil {
				return out, fmt.Errorf("%w: %v", ErrNotPublished, res.Err)
			}
			return out, ErrNotPublished
		}
		if res.Err != nil {
			logger.Debug("部分节点发布失败", "id", stored.ID.ShortString(), "error", res.Err)
		}
		return out, nil
	case <-ctx.Done():
		return PutResult{ID: stored.ID, Seq: stored.Seq()}, ctx.Err()
	}
}

// own 记录本节点持有的条目，同一 ID 只持有一次
func (n *Node) own(it *item.Item) {
	n.ownedMu.Lock()
	defer n.ownedMu.Unlock()
	if _, ok := n.owned[it.ID]; ok {
		return
	}
	n.owned[it.ID] = it.Hold()
}

// lookup 在网络中查询条目
func (n *Node) lookup(ctx context.Context, id ID, salt []byte) (dht.LookupResult, error) {
	type result struct {
		res dht.LookupResult
		err error
	}
	done := make(chan result, 1)
	err := n.dht.Lookup(id, salt, func(res dht.LookupResult, err error) {
		done <- result{res, err}
	})
	if err != nil {
		return dht.LookupResult{}, err
	}

	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		return dht.LookupResult{}, ctx.Err()
	}
}

// resolveAddr 解析 "host:port"，IP 字面量不经过 DNS
func resolveAddr(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %q: %w", host, err)
	}
	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("resolve %q: no addresses", host)
	}
	ip, ok := netip.AddrFromSlice(ips[0])
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("resolve %q: invalid address", host)
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(port)), nil
}
