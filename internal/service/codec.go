package service

import (
	"encoding/json"
	"fmt"
)

// jsonCodec carries plain Go messages over Connect as JSON. It takes the
// "json" name, so Connect clients speaking application/json interoperate.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON message: %w", err)
	}
	return nil
}
