package rooms

import (
	"github.com/goccy/go-json"
)

// jsonCodec replaces connect's protobuf-only JSON codec so plain Go structs can be served.
// It is registered under the "json" name, which maps to the application/json content type.
type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
