package util

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ToFloat converts a numeric value (or a numeric string) to float64.
// It returns false if the value has no numeric interpretation.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case time.Time:
		return float64(n.UnixMilli()), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ToInt64 converts a numeric value to int64, truncating fractions
func ToInt64(v any) (int64, bool) {
	f, ok := ToFloat(v)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	return int64(f), true
}

// IsNumber reports whether v holds one of the go number types
func IsNumber(v any) bool {
	if _, ok := v.(string); ok {
		return false
	}
	_, ok := ToFloat(v)
	return ok
}

// AsSlice returns v as []any if v is a slice or array (other than []byte).
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case nil:
		return nil, false
	case []any:
		return s, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// canonical maps a value onto the representation it has after a JSON round trip,
// so values read from different backends compare consistently
func canonical(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool:
		return x
	case uuid.UUID:
		return x.String()
	}
	if f, ok := ToFloat(v); ok {
		return f
	}
	return v
}

// Equal compares two field values by value. Numbers compare numerically regardless
// of their go type, uuids compare equal to their string form and collections and
// maps compare element wise.
func Equal(a, b any) bool {
	if as, ok := AsSlice(a); ok {
		bs, ok := AsSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if am, ok := a.(map[string]any); ok {
		bm, ok := b.(map[string]any)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	ca, cb := canonical(a), canonical(b)
	if ca == nil || cb == nil {
		return ca == nil && cb == nil
	}
	if reflect.TypeOf(ca).Comparable() && reflect.TypeOf(cb).Comparable() {
		return ca == cb
	}
	return reflect.DeepEqual(ca, cb)
}

// Compare orders two field values. Numbers are compared numerically, everything
// else by its string form. ok is false if one of the values is nil.
func Compare(a, b any) (c int, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if IsNumber(a) && IsNumber(b) {
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	return strings.Compare(ToString(a), ToString(b)), true
}

// ToString renders a field value the way it is compared and matched
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case uuid.UUID:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// DeepCopy copies maps and slices recursively so a stored row never aliases a
// caller owned value. Scalars are returned as is.
func DeepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = DeepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = DeepCopy(e)
		}
		return out
	default:
		return v
	}
}
