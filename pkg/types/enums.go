package types

import "net/netip"

// ============================================================================
//                              Family - 地址族
// ============================================================================

// Family 地址族，每个地址族拥有独立的路由表
type Family uint8

const (
	// FamilyIPv4 IPv4 地址族
	FamilyIPv4 Family = 4
	// FamilyIPv6 IPv6 地址族
	FamilyIPv6 Family = 6
)

// Families 全部支持的地址族
var Families = []Family{FamilyIPv4, FamilyIPv6}

// FamilyOf 返回地址所属的地址族
//
// IPv4-mapped IPv6 地址按 IPv4 处理。
func FamilyOf(addr netip.AddrPort) Family {
	if addr.Addr().Unmap().Is4() {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// String 返回 want 参数使用的名字（n4 / n6）
func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "n4"
	case FamilyIPv6:
		return "n6"
	default:
		return "unknown"
	}
}

// ParseFamily 解析 want 参数中的地址族名
func ParseFamily(s string) (Family, bool) {
	switch s {
	case "n4":
		return FamilyIPv4, true
	case "n6":
		return FamilyIPv6, true
	default:
		return 0, false
	}
}

// FamilyMask 地址族过滤位
type FamilyMask uint8

const (
	// FamilyMaskIPv4 只要 IPv4
	FamilyMaskIPv4 FamilyMask = 1 << iota
	// FamilyMaskIPv6 只要 IPv6
	FamilyMaskIPv6

	// FamilyMaskAll 所有地址族
	FamilyMaskAll = FamilyMaskIPv4 | FamilyMaskIPv6
)

// Mask 返回地址族对应的过滤位
func (f Family) Mask() FamilyMask {
	if f == FamilyIPv4 {
		return FamilyMaskIPv4
	}
	return FamilyMaskIPv6
}

// Has 是否包含指定地址族
func (m FamilyMask) Has(f Family) bool {
	return m&f.Mask() != 0
}

// ============================================================================
//                              NodeType - 节点角色
// ============================================================================

// NodeType 节点角色，可作为位掩码组合用于过滤
type NodeType uint8

const (
	// NodeRemote 远端节点
	NodeRemote NodeType = 1 << iota
	// NodeLocal 本地节点（每个绑定地址一个）
	NodeLocal

	// NodeAny 任意角色
	NodeAny = NodeRemote | NodeLocal
)

// String 返回角色名
func (t NodeType) String() string {
	switch t {
	case NodeRemote:
		return "remote"
	case NodeLocal:
		return "local"
	case NodeAny:
		return "any"
	default:
		return "unknown"
	}
}

// Has 是否包含指定角色
func (t NodeType) Has(other NodeType) bool {
	return t&other != 0
}
