package dht

import (
	"net/netip"

	"github.com/dep2p/go-kdht/internal/dht/item"
	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/pkg/types"
)

// ============================================================================
//                              作业构造
// ============================================================================

// Ping 向地址发送 ping
func (d *DHT) Ping(addr netip.AddrPort, cb JobCallback, opts ...JobOption) *Job {
	j := d.newJob(protocol.MethodPing, addr, types.EmptyID, cb, opts)
	j.query = func(j *Job) (uint32, error) {
		return d.sendQuery(j, protocol.MethodPing, protocol.Args{})
	}
	return d.addJob(j)
}

// FindNode 向地址查询距离 target 最近的节点
//
// want 为 0 时只请求与目标地址同族的节点。
func (d *DHT) FindNode(addr netip.AddrPort, target types.ID, want types.FamilyMask, cb JobCallback, opts ...JobOption) *Job {
	j := d.newJob(protocol.MethodFindNode, addr, target, cb, opts)
	j.query = func(j *Job) (uint32, error) {
		args := protocol.Args{}.SetID(protocol.KeyTarget, target)
		if want != 0 {
			args.SetWant(want)
		}
		return d.sendQuery(j, protocol.MethodFindNode, args)
	}
	j.handle = handleNodes
	return d.addJob(j)
}

// Get 向地址请求存储项
//
// salt 用于校验可变条目的目标；seq 非 nil 时，远端在其序号不大于 *seq 时省略值。
// 应答中的值经过哈希或签名校验后放入 Job.Item。
func (d *DHT) Get(addr netip.AddrPort, target types.ID, salt []byte, seq *int64, cb JobCallback, opts ...JobOption) *Job {
	j := d.newJob(protocol.MethodGet, addr, target, cb, opts)
	j.query = func(j *Job) (uint32, error) {
		args := protocol.Args{}.SetID(protocol.KeyTarget, target)
		if seq != nil {
			args.SetInt(protocol.KeySeq, *seq)
		}
		return d.sendQuery(j, protocol.MethodGet, args)
	}
	j.handle = func(j *Job, msg *protocol.Message) error {
		if err := handleNodes(j, msg); err != nil {
			return err
		}
		return handleGet(j, msg, salt)
	}
	return d.addJob(j)
}

// Put 向地址写入存储项
//
// token 来自此前对同一地址的 get；cas 非 nil 时要求远端当前序号等于 *cas。
// 作业期间条目保持 Hold。
func (d *DHT) Put(addr netip.AddrPort, it *item.Item, token []byte, cas *int64, cb JobCallback, opts ...JobOption) *Job {
	it.Hold()
	opts = append(opts, WithRelease(it.Release))
	j := d.newJob(protocol.MethodPut, addr, it.ID, cb, opts)
	j.query = func(j *Job) (uint32, error) {
		return d.sendQuery(j, protocol.MethodPut, putArgs(it, token, cas))
	}
	return d.addJob(j)
}

func putArgs(it *item.Item, token []byte, cas *int64) protocol.Args {
	v := it.View()
	args := protocol.Args{}.
		SetBytes(protocol.KeyToken, token).
		SetBytes(protocol.KeyV, v.Value)
	if !v.Mutable {
		return args.SetID(protocol.KeyTarget, v.ID)
	}
	args.SetBytes(protocol.KeyK, v.PublicKey).
		SetInt(protocol.KeySeq, v.Seq).
		SetBytes(protocol.KeySig, v.Sig)
	if len(v.Salt) > 0 {
		args.SetBytes(protocol.KeySalt, v.Salt)
	}
	if cas != nil {
		args.SetInt(protocol.KeyCAS, *cas)
	}
	return args
}

// ============================================================================
//                              应答解析
// ============================================================================

// handleNodes 解析 nodes / nodes6
func handleNodes(j *Job, msg *protocol.Message) error {
	for _, f := range types.Families {
		b, ok := msg.Args.Bytes(protocol.NodesKey(f))
		if !ok {
			continue
		}
		nodes, err := protocol.DecodeNodes(b, f)
		if err != nil {
			return protocol.NewError(protocol.CodeProtocol, "invalid %s: %v", protocol.NodesKey(f), err)
		}
		j.Nodes = append(j.Nodes, nodes...)
	}
	return nil
}

// handleGet 解析 get 应答中的 token 与条目
func handleGet(j *Job, msg *protocol.Message, salt []byte) error {
	if token, ok := msg.Args.Bytes(protocol.KeyToken); ok {
		j.Token = token
	}

	seq, hasSeq := msg.Args.Int(protocol.KeySeq)
	pk, mutable := msg.Args.Bytes(protocol.KeyK)
	v, hasValue := msg.Args.Bytes(protocol.KeyV)

	if mutable {
		if !hasSeq {
			return protocol.NewError(protocol.CodeProtocol, "mutable reply without seq")
		}
		j.Seq, j.HasSeq = seq, true
		if item.MutableTarget(pk, salt) != j.Target {
			return protocol.NewError(protocol.CodeProtocol, "public key does not match target")
		}
		if !hasValue {
			return nil
		}
		sig, _ := msg.Args.Bytes(protocol.KeySig)
		it, err := item.NewMutableFromWire(pk, salt, v, seq, sig)
		if err != nil {
			return err
		}
		j.Item = it
		return nil
	}

	if !hasValue {
		return nil
	}
	it, err := item.NewImmutableFromWire(j.Target, v)
	if err != nil {
		return err
	}
	j.Item = it
	return nil
}
