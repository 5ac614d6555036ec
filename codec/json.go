package codec

import "encoding/json"

// JSON round-trips values through encoding/json. Decode always yields
// Go's generic JSON shapes (map[string]any, []any, float64, string,
// bool, nil) since there is no static target type to unmarshal into -
// callers that need a concrete struct should re-unmarshal the returned
// bytes-backed value themselves.
type JSON struct{}

func (JSON) Encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (JSON) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (JSON) Ext() string { return "json" }
