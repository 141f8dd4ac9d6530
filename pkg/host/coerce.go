package host

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ToInt converts v to an integer the way host timer APIs read their delay
// argument. Strings yield their leading integer ("100ms" is 100), slices use
// their comma-joined form, durations count milliseconds. ok is false when no
// number can be read.
func ToInt(v any) (n int64, ok bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case time.Duration:
		return x.Milliseconds(), true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return clampUint(uint64(x)), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return clampUint(x), true
	case float32:
		return truncFloat(float64(x))
	case float64:
		return truncFloat(x)
	case string:
		return leadingInt(x)
	case fmt.Stringer:
		return leadingInt(x.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = fmt.Sprint(rv.Index(i).Interface())
		}
		return leadingInt(strings.Join(parts, ","))
	}
	return 0, false
}

func clampUint(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(u)
}

func truncFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64, true
	}
	if f <= math.MinInt64 {
		return math.MinInt64, true
	}
	return int64(f), true
}

// leadingInt parses an optional sign followed by decimal digits, ignoring
// leading whitespace and anything after the digits.
func leadingInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	// Only range errors are possible here, and ParseInt saturates on those.
	n, _ := strconv.ParseInt(s[:end], 10, 64)
	return n, true
}
