package model

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/c360/semconnect/errors"
)

// Converter maps between model-native values and Go values. Input converters
// produce values to be written into the model, output converters interpret
// values read from it.
type Converter interface {
	ToInt(v any) (int64, error)
	ToFloat(v any) (float64, error)
	ToString(v any) (string, error)
	ToBool(v any) (bool, error)

	FromInt(v int64) any
	FromFloat(v float64) any
	FromString(v string) any
	FromBool(v bool) any
}

// NativeConverter treats Go values as the model representation. Numeric
// widening and string parsing are applied where lossless.
type NativeConverter struct{}

var _ Converter = NativeConverter{}

func mismatch(method string, v any, target string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: cannot convert %T to %s", errors.ErrTypeMismatch, v, target),
		"Converter", method, "value conversion")
}

// ToInt implements Converter.
func (NativeConverter) ToInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, mismatch("ToInt", v, "int64")
		}
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, mismatch("ToInt", v, "int64")
		}
		return int64(x), nil
	case *big.Int:
		if x == nil || !x.IsInt64() {
			return 0, mismatch("ToInt", v, "int64")
		}
		return x.Int64(), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, mismatch("ToInt", v, "int64")
		}
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, mismatch("ToInt", v, "int64")
		}
		return n, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, mismatch("ToInt", v, "int64")
	}
}

// ToFloat implements Converter.
func (c NativeConverter) ToFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, mismatch("ToFloat", v, "float64")
		}
		return f, nil
	default:
		n, err := c.ToInt(v)
		if err != nil {
			return 0, mismatch("ToFloat", v, "float64")
		}
		return float64(n), nil
	}
}

// ToString implements Converter.
func (NativeConverter) ToString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case fmt.Stringer:
		return x.String(), nil
	case nil:
		return "", mismatch("ToString", v, "string")
	default:
		return fmt.Sprint(x), nil
	}
}

// ToBool implements Converter.
func (c NativeConverter) ToBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, mismatch("ToBool", v, "bool")
		}
		return b, nil
	default:
		n, err := c.ToInt(v)
		if err != nil {
			return false, mismatch("ToBool", v, "bool")
		}
		return n != 0, nil
	}
}

// FromInt implements Converter.
func (NativeConverter) FromInt(v int64) any { return v }

// FromFloat implements Converter.
func (NativeConverter) FromFloat(v float64) any { return v }

// FromString implements Converter.
func (NativeConverter) FromString(v string) any { return v }

// FromBool implements Converter.
func (NativeConverter) FromBool(v bool) any { return v }
