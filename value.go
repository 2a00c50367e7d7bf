package rowstore

import (
	"cmp"
	"math"
	"strconv"
)

// coerceValue converts v to the canonical Go type of ft. Integer values of any
// Go integer type are accepted as long as they fit; float32 widens to float64.
func coerceValue(ft FieldType, v any) (any, bool) {
	switch ft {
	case TypeBool:
		b, ok := v.(bool)
		return b, ok
	case TypeString:
		s, ok := v.(string)
		return s, ok
	case TypeDouble:
		switch v := v.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		}
		return nil, false
	case TypeByte:
		if u, ok := asUint64(v); ok && u <= math.MaxUint8 {
			return uint8(u), true
		}
	case TypeUint32:
		if u, ok := asUint64(v); ok && u <= math.MaxUint32 {
			return uint32(u), true
		}
	case TypeUint64:
		if u, ok := asUint64(v); ok {
			return u, true
		}
	case TypeInt32:
		if i, ok := asInt64(v); ok && i >= math.MinInt32 && i <= math.MaxInt32 {
			return int32(i), true
		}
	case TypeInt64:
		if i, ok := asInt64(v); ok {
			return i, true
		}
	}
	return nil, false
}

func asInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint:
		if uint64(v) <= math.MaxInt64 {
			return int64(v), true
		}
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v), true
		}
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch v := v.(type) {
	case uint:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int, int8, int16, int32, int64:
		if i, _ := asInt64(v); i >= 0 {
			return uint64(i), true
		}
	}
	return 0, false
}

// formatValue renders a canonical field value as text, the way column readers
// feed numbers to analyzers.
func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return ""
	}
}

// compareValues orders two canonical values of the same field type. Values of
// different types compare by type tag so the order stays total.
func compareValues(a, b any) int {
	switch a := a.(type) {
	case string:
		if b, ok := b.(string); ok {
			return cmp.Compare(a, b)
		}
	case bool:
		if b, ok := b.(bool); ok {
			switch {
			case a == b:
				return 0
			case !a:
				return -1
			default:
				return 1
			}
		}
	case uint8:
		if b, ok := b.(uint8); ok {
			return cmp.Compare(a, b)
		}
	case int32:
		if b, ok := b.(int32); ok {
			return cmp.Compare(a, b)
		}
	case uint32:
		if b, ok := b.(uint32); ok {
			return cmp.Compare(a, b)
		}
	case int64:
		if b, ok := b.(int64); ok {
			return cmp.Compare(a, b)
		}
	case uint64:
		if b, ok := b.(uint64); ok {
			return cmp.Compare(a, b)
		}
	case float64:
		if b, ok := b.(float64); ok {
			return cmp.Compare(a, b)
		}
	}
	return cmp.Compare(typeOfValue(a), typeOfValue(b))
}

func typeOfValue(v any) FieldType {
	switch v.(type) {
	case bool:
		return TypeBool
	case uint8:
		return TypeByte
	case int32:
		return TypeInt32
	case uint32:
		return TypeUint32
	case int64:
		return TypeInt64
	case uint64:
		return TypeUint64
	case float64:
		return TypeDouble
	case string:
		return TypeString
	default:
		return TypeInvalid
	}
}
