package pipeline

import "encoding/json"

// JSONSerializer is the default Serializer, wrapping encoding/json.
type JSONSerializer struct{}

// Marshal implements Serializer.
func (JSONSerializer) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements Serializer.
func (JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var _ Serializer = JSONSerializer{}
