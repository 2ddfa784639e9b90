package xtest

import (
	"encoding/json"

	"github.com/google/go-cmp/cmp"
)

// Custom comparator for json.RawMessage that compares semantic equality.
func jsonRawMessageComparer(x, y json.RawMessage) bool {
	if len(x) == 0 && len(y) == 0 {
		return true
	}

	if len(x) == 0 || len(y) == 0 {
		return false
	}

	var xVal, yVal any
	if err := json.Unmarshal(x, &xVal); err != nil {
		return false
	}

	if err := json.Unmarshal(y, &yVal); err != nil {
		return false
	}

	return cmp.Equal(xVal, yVal)
}

func nilString(x *string) string {
	if x == nil {
		return ""
	}

	return *x
}

func nilInt(x *int) int {
	if x == nil {
		return 0
	}

	return *x
}

// Equal provides semantic equality comparison with custom transformers and
// comparers: nil pointers compare equal to zero values and raw JSON compares
// by decoded value rather than by bytes.
func Equal(a, b any, opts ...cmp.Option) bool {
	allOpts := append(opts,
		cmp.Transformer("nilString", nilString),
		cmp.Transformer("nilInt", nilInt),
		cmp.Comparer(jsonRawMessageComparer))

	return cmp.Equal(a, b, allOpts...)
}

// Diff reports the differences found by Equal's comparison rules, for test
// failure messages.
func Diff(a, b any, opts ...cmp.Option) string {
	allOpts := append(opts,
		cmp.Transformer("nilString", nilString),
		cmp.Transformer("nilInt", nilInt),
		cmp.Comparer(jsonRawMessageComparer))

	return cmp.Diff(a, b, allOpts...)
}
