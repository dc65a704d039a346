package engine

import (
	"encoding/json"
	"fmt"

	"github.com/c360/semconnect/errors"
)

// Codec converts connector data to and from bus payloads.
type Codec[CO, CI any] struct {
	Encode func(CO) ([]byte, error)
	Decode func([]byte) (CI, error)
}

// JSONCodec encodes output and decodes input as JSON.
func JSONCodec[CO, CI any]() Codec[CO, CI] {
	return Codec[CO, CI]{
		Encode: func(v CO) ([]byte, error) { return json.Marshal(v) },
		Decode: func(b []byte) (CI, error) {
			var v CI
			if err := json.Unmarshal(b, &v); err != nil {
				return v, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidData, err), "Codec", "Decode", "json payload")
			}
			return v, nil
		},
	}
}

// StringCodec passes text through as payload bytes.
func StringCodec() Codec[string, string] {
	return Codec[string, string]{
		Encode: func(s string) ([]byte, error) { return []byte(s), nil },
		Decode: func(b []byte) (string, error) { return string(b), nil },
	}
}

// BytesCodec passes payloads through unchanged.
func BytesCodec() Codec[[]byte, []byte] {
	return Codec[[]byte, []byte]{
		Encode: func(b []byte) ([]byte, error) { return b, nil },
		Decode: func(b []byte) ([]byte, error) { return b, nil },
	}
}
