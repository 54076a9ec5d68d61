package pipeline

import gojson "github.com/goccy/go-json"

// FastJSONSerializer is an opt-in Serializer backed by goccy/go-json. It is
// a drop-in for encoding/json's Marshal/Unmarshal semantics but avoids
// reflection overhead on the hot path; selected via Settings.Serializer =
// "fastjson".
type FastJSONSerializer struct{}

// Marshal implements Serializer.
func (FastJSONSerializer) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

// Unmarshal implements Serializer.
func (FastJSONSerializer) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

var _ Serializer = FastJSONSerializer{}
