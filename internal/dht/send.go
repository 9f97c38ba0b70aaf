package dht

import (
	"net"
	"net/netip"
	"time"

	"github.com/dep2p/go-kdht/internal/dht/protocol"
	"github.com/dep2p/go-kdht/pkg/types"
)

// outMessage 已编码、等待发送的报文
type outMessage struct {
	ep     *endpoint
	to     netip.AddrPort
	data   []byte
	typ    protocol.MessageType
	method string
}

// enqueue 编码报文并放入出站队列，经由目标地址族的第一个端点发送
//
// 发送方地址族没有端点时返回 ErrNoEndpoint，队列满时返回 ErrQueueFull。
func (d *DHT) enqueue(to netip.AddrPort, msg *protocol.Message) error {
	return d.enqueueVia(nil, to, msg)
}

// enqueueVia 经由指定端点发送；ep 为 nil 时按目标地址族选择
func (d *DHT) enqueueVia(ep *endpoint, to netip.AddrPort, msg *protocol.Message) error {
	if d.closed.Load() {
		return ErrClosed
	}
	to = netip.AddrPortFrom(to.Addr().Unmap(), to.Port())
	if ep == nil || ep.family != types.FamilyOf(to) {
		ep = d.endpointFor(types.FamilyOf(to))
	}
	if ep == nil {
		return ErrNoEndpoint
	}

	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if len(data) > protocol.MaxDatagramSize {
		return protocol.ErrTooLarge
	}

	om := &outMessage{ep: ep, to: to, data: data, typ: msg.Type, method: msg.Method}
	select {
	case d.outbound <- om:
		return nil
	default:
		return ErrQueueFull
	}
}

// reply 经由收到请求的端点回复
func (d *DHT) reply(via *endpoint, to netip.AddrPort, tid []byte, args protocol.Args) {
	args.SetID(protocol.KeyID, d.localID)
	if err := d.enqueueVia(via, to, protocol.NewResponse(tid, args)); err != nil {
		logger.Debug("回复入队失败", "to", to.String(), "err", err)
	}
}

// replyError 回复错误
func (d *DHT) replyError(via *endpoint, to netip.AddrPort, tid []byte, e *protocol.Error) {
	d.metrics.ErrorSent(e.Code)
	if err := d.enqueueVia(via, to, protocol.NewErrorMessage(tid, e)); err != nil {
		logger.Debug("错误回复入队失败", "to", to.String(), "code", e.Code, "err", err)
	}
}

// drainOutbound 在截止时间前尽量发送出站队列，调用方持有 pulseMu
//
// 写超时的报文保留为 pending，下次脉冲优先发送。
func (d *DHT) drainOutbound(deadline time.Time) int {
	sent := 0
	for {
		om := d.pending
		d.pending = nil
		if om == nil {
			select {
			case om = <-d.outbound:
			default:
				return sent
			}
		}

		if !d.write(om, deadline) {
			d.pending = om
			return sent
		}
		sent++
	}
}

// write 发送单个报文，返回 false 表示需要稍后重试
func (d *DHT) write(om *outMessage, deadline time.Time) bool {
	if err := om.ep.conn.SetWriteDeadline(deadline); err != nil {
		logger.Debug("设置写截止时间失败", "err", err)
	}
	_, err := om.ep.conn.WriteTo(om.data, net.UDPAddrFromAddrPort(om.to))
	if err != nil {
		if isTimeout(err) {
			return false
		}
		logger.Debug("发送报文失败", "to", om.to.String(), "method", om.method, "err", err)
		return true
	}
	d.metrics.MessageOut(string(om.typ), om.method, len(om.data))
	return true
}
