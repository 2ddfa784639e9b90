// Package objects contains the value objects shared by the store and biz
// layers. To avoid circular dependencies, we put them here.
package objects

import "encoding/json"

// JSONRawMessage is the raw JSON payload type used by JSON-encoded store
// columns.
type JSONRawMessage = json.RawMessage
