package xjson

import (
	"encoding/json"
)

func MustMarshalString(v any) string {
	return string(MustMarshal(v))
}

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return b
}

func MustTo[T any](v []byte) T {
	t, err := To[T](v)
	if err != nil {
		panic(err)
	}

	return t
}

func To[T any](v []byte) (T, error) {
	var t T

	err := json.Unmarshal(v, &t)
	if err != nil {
		return t, err
	}

	return t, nil
}

// Marshal encodes v as JSON. String and byte inputs that already hold encoded
// JSON are passed through without re-encoding.
func Marshal(v any) (json.RawMessage, error) {
	switch vv := v.(type) {
	case json.RawMessage:
		return vv, nil
	case []byte:
		return json.RawMessage(vv), nil
	case string:
		return json.RawMessage(vv), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}

		return json.RawMessage(b), nil
	}
}
