package config

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Duration 配置文件中的时长
//
// 文本形式使用 time.ParseDuration 的格式（"750ms"、"10s"、"30m"）；
// JSON 中也接受整数，按纳秒解释。负值被拒绝，零值表示沿用默认值。
type Duration time.Duration

var errNegativeDuration = errors.New("duration must not be negative")

// UnmarshalText 解析 "10s" 形式的时长
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	return d.set(v)
}

// MarshalText 输出 time.Duration 的字符串形式
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON 接受带引号的文本或纳秒整数
func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("invalid duration %s: %w", data, err)
		}
		return d.UnmarshalText([]byte(s))
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"10s\" or integer nanoseconds, got %s", data)
	}
	return d.set(time.Duration(n))
}

// MarshalJSON 输出带引号的文本
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Duration) set(v time.Duration) error {
	if v < 0 {
		return fmt.Errorf("%w: %s", errNegativeDuration, v)
	}
	*d = Duration(v)
	return nil
}

// IsSet 配置中显式给出了非零时长
func (d Duration) IsSet() bool { return d > 0 }

// Duration 返回 time.Duration
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }
