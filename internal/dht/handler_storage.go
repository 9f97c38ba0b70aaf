package dht

import (
	"context"

	"github.com/dep2p/go-kdht/internal/dht/item"
	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/internal/dht/routing"
	"github.com/dep2p/go-kdht/pkg/types"
)

// ============================================================================
//                              ping / find_node
// ============================================================================

func (d *DHT) handlePing(_ context.Context, _ *Request) (protocol.Args, error) {
	return protocol.Args{}, nil
}

func (d *DHT) handleFindNode(_ context.Context, req *Request) (protocol.Args, error) {
	target, err := req.Message.Args.ID(protocol.KeyTarget)
	if err != nil {
		return nil, protocol.ErrMissingTarget
	}
	out := protocol.Args{}
	d.appendClosest(out, target, d.wantOf(req))
	return out, nil
}

// wantOf 请求的 want，缺省为请求方所在地址族
func (d *DHT) wantOf(req *Request) types.FamilyMask {
	if want := req.Message.Args.Want(); want != 0 {
		return want
	}
	return req.Family.Mask()
}

// appendClosest 写入各地址族距离 target 最近的节点
func (d *DHT) appendClosest(out protocol.Args, target types.ID, want types.FamilyMask) {
	for _, f := range types.Families {
		if !want.Has(f) {
			continue
		}
		table := d.Table(f)
		if table == nil {
			continue
		}
		nodes := table.FindClosestNodes(routing.Query{Target: target, Max: d.cfg.SearchResults})
		infos := make([]protocol.NodeInfo, 0, len(nodes))
		for _, n := range nodes {
			infos = append(infos, protocol.NodeInfo{ID: n.ID, Addr: n.Addr})
		}
		routing.ReleaseAll(nodes)
		out.SetBytes(protocol.NodesKey(f), protocol.EncodeNodes(infos, f))
	}
}

// ============================================================================
//                              get / put
// ============================================================================

func (d *DHT) handleGet(_ context.Context, req *Request) (protocol.Args, error) {
	args := req.Message.Args
	target, err := args.ID(protocol.KeyTarget)
	if err != nil {
		return nil, protocol.ErrMissingTarget
	}

	out := protocol.Args{}
	out.SetBytes(protocol.KeyToken, d.tokens.Generate(req.From, target))
	d.appendClosest(out, target, d.wantOf(req))

	it := d.items.Get(target)
	if it == nil {
		return out, nil
	}
	v := it.View()
	if !v.Mutable {
		return out.SetBytes(protocol.KeyV, v.Value), nil
	}

	out.SetBytes(protocol.KeyK, v.PublicKey).
		SetInt(protocol.KeySeq, v.Seq).
		SetBytes(protocol.KeySig, v.Sig)
	if seq, ok := args.Int(protocol.KeySeq); !ok || seq < v.Seq {
		out.SetBytes(protocol.KeyV, v.Value)
	}
	return out, nil
}

// handlePut 校验顺序：token、值大小、salt 大小、签名、CAS 与序号、不可变条目哈希
func (d *DHT) handlePut(_ context.Context, req *Request) (protocol.Args, error) {
	args := req.Message.Args

	v, ok := args.Bytes(protocol.KeyV)
	if !ok {
		return nil, protocol.ErrMissingValue
	}
	token, ok := args.Bytes(protocol.KeyToken)
	if !ok {
		return nil, protocol.ErrMissingToken
	}
	pk, mutable := args.Bytes(protocol.KeyK)
	salt, _ := args.Bytes(protocol.KeySalt)

	var target types.ID
	switch {
	case mutable:
		target = item.MutableTarget(pk, salt)
	case args.Has(protocol.KeyTarget):
		t, err := args.ID(protocol.KeyTarget)
		if err != nil {
			return nil, protocol.ErrMissingTarget
		}
		target = t
	default:
		target = item.ImmutableTarget(v)
	}
	if !d.tokens.Verify(token, req.From, target) {
		return nil, protocol.ErrBadToken
	}

	if len(v) > item.MaxValueSize {
		return nil, protocol.ErrValueTooBig
	}
	if len(salt) > item.MaxSaltSize {
		return nil, protocol.ErrSaltTooBig
	}

	var (
		incoming *item.Item
		cas      *int64
		err      error
	)
	if mutable {
		seq, ok := args.Int(protocol.KeySeq)
		if !ok {
			return nil, protocol.NewError(protocol.CodeProtocol, "missing seq")
		}
		sig, _ := args.Bytes(protocol.KeySig)
		incoming, err = item.NewMutableFromWire(pk, salt, v, seq, sig)
		if err != nil {
			return nil, err
		}
		if c, ok := args.Int(protocol.KeyCAS); ok {
			cas = &c
		}
	} else {
		incoming, err = item.NewImmutableFromWire(target, v)
		if err != nil {
			return nil, err
		}
	}

	if _, err := d.items.Put(incoming, cas); err != nil {
		return nil, err
	}
	d.metrics.SetItems(d.items.Len())
	logger.Debug("存储条目", "id", target.ShortString(), "mutable", mutable, "from", req.From.String())
	return protocol.Args{}, nil
}
