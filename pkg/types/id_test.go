package types

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
//                              ID 基础
// ============================================================================

func TestIDFromBytes(t *testing.T) {
	b := make([]byte, IDSize)
	b[0] = 0xab
	id, err := IDFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), id[0])

	_, err = IDFromBytes(b[:19])
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestIDFromHex(t *testing.T) {
	id, err := IDFromHex("0102030405060708090a0b0c0d0e0f1011121314")
	require.NoError(t, err)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f1011121314", id.String())
	assert.Equal(t, "01020304", id.ShortString())

	_, err = IDFromHex("zz")
	assert.Error(t, err)
}

func TestHashID_SHA1(t *testing.T) {
	// SHA1("") = da39a3ee5e6b4b0d3255bfef95601890afd80709
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", HashID().String())
	assert.Equal(t, HashID([]byte("ab")), HashID([]byte("a"), []byte("b")))
}

// ============================================================================
//                              XOR 距离
// ============================================================================

// TestDistance_Symmetric 测试距离对称且仅对相同 ID 为零
func TestDistance_Symmetric(t *testing.T) {
	for i := 0; i < 100; i++ {
		a, b := RandomID(), RandomID()
		assert.Equal(t, Distance(a, b), Distance(b, a))
		assert.True(t, Distance(a, a).IsZero())
		if a != b {
			assert.False(t, Distance(a, b).IsZero())
		}
	}
}

func TestCompareDistance(t *testing.T) {
	target := EmptyID
	near := MustIDFromHex("0000000000000000000000000000000000000001")
	far := MustIDFromHex("8000000000000000000000000000000000000000")

	assert.Equal(t, -1, CompareDistance(near, far, target))
	assert.Equal(t, 1, CompareDistance(far, near, target))
	assert.Equal(t, 0, CompareDistance(near, near, target))
}

func TestCommonPrefixLen(t *testing.T) {
	a := MustIDFromHex("f000000000000000000000000000000000000000")
	b := MustIDFromHex("f800000000000000000000000000000000000000")
	assert.Equal(t, 4, CommonPrefixLen(a, b))
	assert.Equal(t, IDBits, CommonPrefixLen(a, a))
	assert.Equal(t, 0, CommonPrefixLen(EmptyID, MaxID))
}

// ============================================================================
//                              掩码运算
// ============================================================================

func TestShiftRight(t *testing.T) {
	m := ShiftRight(MaxID)
	assert.Equal(t, "7fffffffffffffffffffffffffffffffffffffff", m.String())
	assert.Equal(t, 1, MaskDepth(m))
	assert.Equal(t, 0, MaskDepth(MaxID))

	m = ShiftRight(ShiftRight(m))
	assert.Equal(t, "1fffffffffffffffffffffffffffffffffffffff", m.String())
	assert.Equal(t, 3, MaskDepth(m))
}

func TestMidpoint(t *testing.T) {
	assert.Equal(t, ShiftRight(MaxID), Midpoint(EmptyID, MaxID))

	lo := MustIDFromHex("0000000000000000000000000000000000000002")
	hi := MustIDFromHex("0000000000000000000000000000000000000004")
	assert.Equal(t, "0000000000000000000000000000000000000003", Midpoint(lo, hi).String())
}

func TestIncrement(t *testing.T) {
	id := MustIDFromHex("00000000000000000000000000000000000000ff")
	assert.Equal(t, "0000000000000000000000000000000000000100", Increment(id).String())
	assert.Equal(t, EmptyID, Increment(MaxID))
}

func TestBit(t *testing.T) {
	id := MustIDFromHex("8000000000000000000000000000000000000001")
	assert.Equal(t, uint8(1), id.Bit(0))
	assert.Equal(t, uint8(0), id.Bit(1))
	assert.Equal(t, uint8(1), id.Bit(IDBits-1))
}

// ============================================================================
//                              Family / NodeType
// ============================================================================

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, FamilyIPv4, FamilyOf(netip.MustParseAddrPort("1.2.3.4:5")))
	assert.Equal(t, FamilyIPv4, FamilyOf(netip.MustParseAddrPort("[::ffff:1.2.3.4]:5")))
	assert.Equal(t, FamilyIPv6, FamilyOf(netip.MustParseAddrPort("[2001:db8::1]:5")))

	f, ok := ParseFamily("n6")
	assert.True(t, ok)
	assert.Equal(t, FamilyIPv6, f)
	assert.Equal(t, "n4", FamilyIPv4.String())

	assert.True(t, FamilyMaskAll.Has(FamilyIPv6))
	assert.False(t, FamilyMaskIPv4.Has(FamilyIPv6))
	assert.True(t, NodeAny.Has(NodeLocal))
	assert.False(t, NodeRemote.Has(NodeLocal))

	t.Log("✅ 地址族与角色过滤正确")
}
