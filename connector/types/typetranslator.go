package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// TypeTranslator converts between a source representation S and a typed
// value T in both directions.
type TypeTranslator[S, T any] interface {
	To(source S) (T, error)
	From(value T) (S, error)
}

// FuncTranslator is a TypeTranslator made of two functions.
type FuncTranslator[S, T any] struct {
	ToFn   func(S) (T, error)
	FromFn func(T) (S, error)
}

// To implements TypeTranslator.
func (f FuncTranslator[S, T]) To(source S) (T, error) {
	return f.ToFn(source)
}

// From implements TypeTranslator.
func (f FuncTranslator[S, T]) From(value T) (S, error) {
	return f.FromFn(value)
}

// String returns the identity translator for strings.
func String() TypeTranslator[string, string] {
	return FuncTranslator[string, string]{
		ToFn:   func(s string) (string, error) { return s, nil },
		FromFn: func(s string) (string, error) { return s, nil },
	}
}

// Int parses decimal integers.
func Int() TypeTranslator[string, int] {
	return FuncTranslator[string, int]{
		ToFn: func(s string) (int, error) {
			v, err := strconv.Atoi(s)
			if err != nil {
				return 0, translationFailed(err, "IntTranslator", "To")
			}
			return v, nil
		},
		FromFn: func(v int) (string, error) { return strconv.Itoa(v), nil },
	}
}

// Bool parses the forms accepted by strconv.ParseBool.
func Bool() TypeTranslator[string, bool] {
	return FuncTranslator[string, bool]{
		ToFn: func(s string) (bool, error) {
			v, err := strconv.ParseBool(s)
			if err != nil {
				return false, translationFailed(err, "BoolTranslator", "To")
			}
			return v, nil
		},
		FromFn: func(v bool) (string, error) { return strconv.FormatBool(v), nil },
	}
}

// Float parses decimal floating point numbers.
func Float() TypeTranslator[string, float64] {
	return FuncTranslator[string, float64]{
		ToFn: func(s string) (float64, error) {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return 0, translationFailed(err, "FloatTranslator", "To")
			}
			return v, nil
		},
		FromFn: func(v float64) (string, error) { return strconv.FormatFloat(v, 'g', -1, 64), nil },
	}
}

// Duration parses Go duration strings. Plain integers are milliseconds.
func Duration() TypeTranslator[string, time.Duration] {
	return FuncTranslator[string, time.Duration]{
		ToFn: func(s string) (time.Duration, error) {
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				return time.Duration(ms) * time.Millisecond, nil
			}
			v, err := time.ParseDuration(s)
			if err != nil {
				return 0, translationFailed(err, "DurationTranslator", "To")
			}
			return v, nil
		},
		FromFn: func(v time.Duration) (string, error) { return v.String(), nil },
	}
}

// JSON translates between JSON text and T.
func JSON[T any]() TypeTranslator[string, T] {
	return FuncTranslator[string, T]{
		ToFn: func(s string) (T, error) {
			var v T
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return v, translationFailed(err, "JSONTranslator", "To")
			}
			return v, nil
		},
		FromFn: func(v T) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", translationFailed(err, "JSONTranslator", "From")
			}
			return string(b), nil
		},
	}
}
