package message

import (
	"fmt"
	"strconv"
)

// Config is a round configuration. Values are primitives; numeric values may
// arrive either as JSON numbers or as strings.
type Config map[string]any

func (c Config) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the integer value at key, or def when absent or not numeric.
func (c Config) Int(key string, def int) int {
	v, ok := c.number(key)
	if !ok {
		return def
	}

	return int(v)
}

// Float returns the float value at key, or def when absent or not numeric.
func (c Config) Float(key string, def float64) float64 {
	v, ok := c.number(key)
	if !ok {
		return def
	}

	return v
}

func (c Config) number(key string) (float64, bool) {
	switch t := c[key].(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case Int:
		return float64(t), true
	case string:
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}

		return v, true
	default:
		return 0, false
	}
}

// Clone returns a shallow copy; values are primitives.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}

	return out
}
