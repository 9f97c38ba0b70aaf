package protocol

import (
	"bytes"
	"fmt"

	bencode "github.com/jackpal/bencode-go"
)

const (
	// MaxDatagramSize 单个数据报上限
	MaxDatagramSize = 1500

	// ReadBufferSize 接收缓冲区大小
	ReadBufferSize = 2048
)

// Encode 编码为 bencode 字典
func (m *Message) Encode() ([]byte, error) {
	d := map[string]any{
		"t": string(m.TransactionID),
		"y": string(m.Type),
	}
	switch m.Type {
	case TypeQuery:
		if m.Method == "" {
			return nil, fmt.Errorf("%w: query without method", ErrMalformed)
		}
		d["q"] = m.Method
		d["a"] = argsOrEmpty(m.Args)
	case TypeResponse:
		d["r"] = argsOrEmpty(m.Args)
	case TypeError:
		if m.Error == nil {
			return nil, fmt.Errorf("%w: error message without body", ErrMalformed)
		}
		d["e"] = []any{int64(m.Error.Code), m.Error.Message}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	if m.Version != "" {
		d["v"] = m.Version
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, d); err != nil {
		return nil, fmt.Errorf("bencode marshal: %w", err)
	}
	if buf.Len() > MaxDatagramSize {
		return nil, ErrTooLarge
	}
	return buf.Bytes(), nil
}

func argsOrEmpty(a Args) map[string]any {
	if a == nil {
		return map[string]any{}
	}
	return a
}

// Decode 解析数据报
//
// 缺少 t 或 y、类型未知、或字段类型错误时返回 ErrMalformed。
// 请求缺少 a 时 Args 为空字典，由处理器以 203 回复。
func Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrMalformed
	}
	if len(data) > ReadBufferSize {
		return nil, ErrTooLarge
	}

	raw, err := bencode.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	d, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrMalformed
	}

	t, ok := d["t"].(string)
	if !ok {
		return nil, ErrMalformed
	}
	y, ok := d["y"].(string)
	if !ok {
		return nil, ErrMalformed
	}

	m := &Message{TransactionID: []byte(t), Type: MessageType(y)}
	if v, ok := d["v"].(string); ok {
		m.Version = v
	}

	switch m.Type {
	case TypeQuery:
		q, ok := d["q"].(string)
		if !ok || q == "" {
			return nil, ErrMalformed
		}
		m.Method = q
		m.Args, err = decodeArgs(d["a"])
	case TypeResponse:
		m.Args, err = decodeArgs(d["r"])
	case TypeError:
		m.Error, err = decodeError(d["e"])
	default:
		return nil, ErrMalformed
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeArgs(v any) (Args, error) {
	if v == nil {
		return Args{}, nil
	}
	d, ok := v.(map[string]any)
	if !ok {
		return nil, ErrMalformed
	}
	return Args(d), nil
}

func decodeError(v any) (*Error, error) {
	l, ok := v.([]any)
	if !ok || len(l) < 2 {
		return nil, ErrMalformed
	}
	code, ok := Args{"c": l[0]}.Int("c")
	if !ok {
		return nil, ErrMalformed
	}
	msg, ok := l[1].(string)
	if !ok {
		return nil, ErrMalformed
	}
	return &Error{Code: int(code), Message: msg}, nil
}
