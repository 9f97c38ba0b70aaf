package protocol

import (
	"encoding/binary"
	"net/netip"

	"github.com/dep2p/go-kdht/pkg/types"
)

// 紧凑格式长度
const (
	CompactAddr4Size = 6
	CompactAddr6Size = 18
	CompactNode4Size = types.IDSize + CompactAddr4Size
	CompactNode6Size = types.IDSize + CompactAddr6Size
)

// NodeInfo 紧凑节点记录
type NodeInfo struct {
	ID   types.ID
	Addr netip.AddrPort
}

// CompactNodeSize 返回地址族对应的节点记录长度
func CompactNodeSize(f types.Family) int {
	if f == types.FamilyIPv4 {
		return CompactNode4Size
	}
	return CompactNode6Size
}

// EncodeAddr 编码地址：IPv4 为 4+2 字节，IPv6 为 16+2 字节
func EncodeAddr(addr netip.AddrPort) []byte {
	ip := addr.Addr().Unmap()
	var out []byte
	if ip.Is4() {
		a := ip.As4()
		out = append(make([]byte, 0, CompactAddr4Size), a[:]...)
	} else {
		a := ip.As16()
		out = append(make([]byte, 0, CompactAddr6Size), a[:]...)
	}
	return binary.BigEndian.AppendUint16(out, addr.Port())
}

// DecodeAddr 解析紧凑地址
func DecodeAddr(b []byte) (netip.AddrPort, error) {
	switch len(b) {
	case CompactAddr4Size:
		ip := netip.AddrFrom4([4]byte(b[:4]))
		return netip.AddrPortFrom(ip, binary.BigEndian.Uint16(b[4:])), nil
	case CompactAddr6Size:
		ip := netip.AddrFrom16([16]byte(b[:16]))
		return netip.AddrPortFrom(ip, binary.BigEndian.Uint16(b[16:])), nil
	default:
		return netip.AddrPort{}, ErrInvalidCompact
	}
}

// EncodeNodes 编码属于 family 的节点，其他地址族的节点被跳过
func EncodeNodes(nodes []NodeInfo, f types.Family) []byte {
	out := make([]byte, 0, len(nodes)*CompactNodeSize(f))
	for _, n := range nodes {
		if types.FamilyOf(n.Addr) != f {
			continue
		}
		out = append(out, n.ID[:]...)
		out = append(out, EncodeAddr(n.Addr)...)
	}
	return out
}

// DecodeNodes 解析紧凑节点列表
func DecodeNodes(b []byte, f types.Family) ([]NodeInfo, error) {
	size := CompactNodeSize(f)
	if len(b)%size != 0 {
		return nil, ErrInvalidCompact
	}
	out := make([]NodeInfo, 0, len(b)/size)
	for off := 0; off < len(b); off += size {
		var n NodeInfo
		copy(n.ID[:], b[off:off+types.IDSize])
		addr, err := DecodeAddr(b[off+types.IDSize : off+size])
		if err != nil {
			return nil, err
		}
		n.Addr = addr
		out = append(out, n)
	}
	return out, nil
}

// NodesKey 返回地址族对应的参数键
func NodesKey(f types.Family) string {
	if f == types.FamilyIPv4 {
		return KeyNodes
	}
	return KeyNodes6
}
