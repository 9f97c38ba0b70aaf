package protocol

import (
	"math"

	"github.com/dep2p/go-kdht/pkg/types"
)

// MessageType 顶层消息类型 y
type MessageType string

const (
	// TypeQuery 请求
	TypeQuery MessageType = "q"
	// TypeResponse 应答
	TypeResponse MessageType = "r"
	// TypeError 错误
	TypeError MessageType = "e"
)

// 查询方法
const (
	MethodPing     = "ping"
	MethodFindNode = "find_node"
	MethodGet      = "get"
	MethodPut      = "put"
)

// 参数键
const (
	KeyID     = "id"
	KeyTarget = "target"
	KeyWant   = "want"
	KeyNodes  = "nodes"
	KeyNodes6 = "nodes6"
	KeyToken  = "token"
	KeyK      = "k"
	KeySalt   = "salt"
	KeySeq    = "seq"
	KeySig    = "sig"
	KeyCAS    = "cas"
	KeyV      = "v"
)

// Message DHT 消息
type Message struct {
	// TransactionID t
	TransactionID []byte

	// Type y
	Type MessageType

	// Method q，仅请求
	Method string

	// Args 请求的 a 或应答的 r
	Args Args

	// Error e，仅错误
	Error *Error

	// Version 客户端版本 v（可选）
	Version string
}

// NewQuery 创建请求
func NewQuery(method string, args Args) *Message {
	if args == nil {
		args = Args{}
	}
	return &Message{Type: TypeQuery, Method: method, Args: args}
}

// NewResponse 创建应答，沿用请求的事务 ID
func NewResponse(tid []byte, args Args) *Message {
	if args == nil {
		args = Args{}
	}
	return &Message{TransactionID: tid, Type: TypeResponse, Args: args}
}

// NewErrorMessage 创建错误回复
func NewErrorMessage(tid []byte, e *Error) *Message {
	return &Message{TransactionID: tid, Type: TypeError, Error: e}
}

// SenderID 读取 id 参数
func (m *Message) SenderID() (types.ID, error) {
	id, err := m.Args.ID(KeyID)
	if err != nil {
		return types.EmptyID, ErrMissingID
	}
	return id, nil
}

// ============================================================================
//                              Args
// ============================================================================

// Args 参数字典
//
// 内部只保存 bencode 可直接编码的类型：string、int64、[]any、map[string]any。
type Args map[string]any

// Has 是否存在参数
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Bytes 读取字节串参数
func (a Args) Bytes(key string) ([]byte, bool) {
	s, ok := a[key].(string)
	if !ok {
		return nil, false
	}
	return []byte(s), true
}

// String 读取字符串参数
func (a Args) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// Int 读取整数参数
func (a Args) Int(key string) (int64, bool) {
	switch v := a[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// ID 读取 20 字节 ID 参数
func (a Args) ID(key string) (types.ID, error) {
	b, ok := a.Bytes(key)
	if !ok {
		return types.EmptyID, types.ErrInvalidID
	}
	return types.IDFromBytes(b)
}

// List 读取列表参数
func (a Args) List(key string) ([]any, bool) {
	l, ok := a[key].([]any)
	return l, ok
}

// Want 解析 want 参数，缺省或无法识别时返回 0
func (a Args) Want() types.FamilyMask {
	l, ok := a.List(KeyWant)
	if !ok {
		return 0
	}
	var mask types.FamilyMask
	for _, v := range l {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if f, ok := types.ParseFamily(s); ok {
			mask |= f.Mask()
		}
	}
	return mask
}

// SetBytes 设置字节串参数
func (a Args) SetBytes(key string, b []byte) Args {
	a[key] = string(b)
	return a
}

// SetString 设置字符串参数
func (a Args) SetString(key, s string) Args {
	a[key] = s
	return a
}

// SetInt 设置整数参数
func (a Args) SetInt(key string, v int64) Args {
	a[key] = v
	return a
}

// SetID 设置 ID 参数
func (a Args) SetID(key string, id types.ID) Args {
	a[key] = string(id[:])
	return a
}

// SetWant 设置 want 参数
func (a Args) SetWant(mask types.FamilyMask) Args {
	var l []any
	for _, f := range types.Families {
		if mask.Has(f) {
			l = append(l, f.String())
		}
	}
	if len(l) > 0 {
		a[KeyWant] = l
	}
	return a
}
