package types

import (
	"encoding/json"
	"fmt"

	"github.com/c360/semconnect/connector/model"
	"github.com/c360/semconnect/errors"
)

func translationFailed(err error, component, method string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrTranslationFailed, err), component, method, "translate")
}

// JSONOutputTranslator decodes JSON payloads into CO.
func JSONOutputTranslator[CO any]() OutputTranslator[[]byte, CO] {
	return NewOutputFunc(func(_ model.ModelAccess, source []byte) (CO, error) {
		var result CO
		if err := json.Unmarshal(source, &result); err != nil {
			return result, translationFailed(err, "JSONOutputTranslator", "To")
		}
		return result, nil
	})
}

// JSONInputTranslator encodes CI as JSON.
func JSONInputTranslator[CI any]() InputTranslator[[]byte, CI] {
	return NewInputFunc(func(_ model.ModelAccess, data CI) ([]byte, error) {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, translationFailed(err, "JSONInputTranslator", "From")
		}
		return b, nil
	})
}

// StringOutputTranslator interprets payloads as text.
func StringOutputTranslator() OutputTranslator[[]byte, string] {
	return NewOutputFunc(func(_ model.ModelAccess, source []byte) (string, error) {
		return string(source), nil
	})
}

// StringInputTranslator turns text into payloads.
func StringInputTranslator() InputTranslator[[]byte, string] {
	return NewInputFunc(func(_ model.ModelAccess, data string) ([]byte, error) {
		return []byte(data), nil
	})
}

// IdentityOutputTranslator passes values through unchanged.
func IdentityOutputTranslator[T any]() OutputTranslator[T, T] {
	return NewOutputFunc(func(_ model.ModelAccess, source T) (T, error) {
		return source, nil
	})
}

// IdentityInputTranslator passes values through unchanged.
func IdentityInputTranslator[T any]() InputTranslator[T, T] {
	return NewInputFunc(func(_ model.ModelAccess, data T) (T, error) {
		return data, nil
	})
}
