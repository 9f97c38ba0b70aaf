package dht

import (
	"context"
	"errors"
	"net/netip"

	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/internal/dht/routing"
	"github.com/dep2p/go-kdht/pkg/types"
)

// Request 入站请求
type Request struct {
	Message  *protocol.Message
	From     netip.AddrPort
	Family   types.Family
	SenderID types.ID
}

// QueryHandler 查询方法处理器
//
// 返回的 Args 作为应答，引擎补充 id。返回 *protocol.Error 时原样回复，
// 其他错误记录日志并回复 202。
type QueryHandler func(ctx context.Context, req *Request) (protocol.Args, error)

// RegisterQueryHandler 注册查询方法，覆盖同名处理器
func (d *DHT) RegisterQueryHandler(method string, h QueryHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.handlers[method] = h
}

func (d *DHT) handler(method string) QueryHandler {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()
	return d.handlers[method]
}

func (d *DHT) registerDefaultHandlers() {
	d.RegisterQueryHandler(protocol.MethodPing, d.handlePing)
	d.RegisterQueryHandler(protocol.MethodFindNode, d.handleFindNode)
	d.RegisterQueryHandler(protocol.MethodGet, d.handleGet)
	d.RegisterQueryHandler(protocol.MethodPut, d.handlePut)
}

// ============================================================================
//                              入站分发
// ============================================================================

// handleDatagram 处理 via 收到的一个入站数据报，在工作者中执行
func (d *DHT) handleDatagram(via *endpoint, from netip.AddrPort, data []byte) {
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	ip := from.Addr()

	if d.limiter.blocked(ip) {
		d.metrics.Dropped("blacklist")
		return
	}
	if !d.cfg.AllowMartians && isMartian(from) {
		d.metrics.Dropped("martian")
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		if d.limiter.strike(ip) {
			logger.Warn("发送方因畸形报文被拉黑", "ip", ip.String())
		}
		d.metrics.Dropped("malformed")
		return
	}
	d.metrics.MessageIn(string(msg.Type), msg.Method, len(data))

	switch msg.Type {
	case protocol.TypeQuery:
		if !d.limiter.allow(ip) {
			d.metrics.Dropped("ratelimit")
			return
		}
		d.handleQuery(via, from, msg)
	case protocol.TypeResponse, protocol.TypeError:
		d.handleResponse(from, msg)
	}
}

// handleQuery 处理请求
func (d *DHT) handleQuery(via *endpoint, from netip.AddrPort, msg *protocol.Message) {
	id, err := msg.SenderID()
	if err != nil {
		d.replyError(via, from, msg.TransactionID, protocol.ErrMissingID)
		return
	}

	family := types.FamilyOf(from)
	if table := d.Table(family); table != nil {
		node, err := table.CreateOrTouchNode(id, types.NodeRemote, from, routing.TouchProbe)
		if err == nil {
			node.Release()
		} else if !errors.Is(err, routing.ErrBucketFull) && !errors.Is(err, routing.ErrSelf) {
			logger.Debug("登记请求方失败", "from", from.String(), "err", err)
		}
	}

	h := d.handler(msg.Method)
	if h == nil {
		d.replyError(via, from, msg.TransactionID,
			protocol.NewError(protocol.CodeMethodUnknown, "method unknown: %s", msg.Method))
		return
	}

	req := &Request{Message: msg, From: from, Family: family, SenderID: id}
	args, err := h(d.ctx, req)
	if err != nil {
		var pe *protocol.Error
		if !errors.As(err, &pe) {
			logger.Error("处理请求失败", "method", msg.Method, "from", from.String(), "err", err)
			pe = protocol.NewError(protocol.CodeServer, "%s", err.Error())
		}
		d.replyError(via, from, msg.TransactionID, pe)
		return
	}
	if args == nil {
		args = protocol.Args{}
	}
	d.reply(via, from, msg.TransactionID, args)
}

// handleResponse 处理应答与错误回复
func (d *DHT) handleResponse(from netip.AddrPort, msg *protocol.Message) {
	id, err := protocol.DecodeTransactionID(msg.TransactionID)
	if err != nil {
		d.metrics.Dropped("txid")
		return
	}
	tx, ok := d.takeTransaction(id, from)
	if !ok {
		d.metrics.Dropped("unmatched")
		return
	}

	if msg.Type == protocol.TypeResponse {
		sender, err := msg.SenderID()
		if err != nil {
			tx.job.complete(ResultError, protocol.ErrMissingID)
			return
		}
		if table := d.Table(types.FamilyOf(from)); table != nil {
			node, err := table.CreateOrTouchNode(sender, types.NodeRemote, from, routing.TouchConfirmed)
			if err == nil {
				node.Release()
			}
		}
	}
	tx.job.respond(msg)
}
