package codec

import "fmt"

// PlainText stores a value as its UTF-8 text. Encode accepts a string, an
// fmt.Stringer or a []byte (passed through unchanged); anything else is an
// error, since plain text has no way to round-trip structured data. Decode
// always returns a string.
type PlainText struct{}

func (PlainText) Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("codec: PlainText cannot encode %T", value)
	}
}

func (PlainText) Decode(data []byte) (any, error) {
	return string(data), nil
}

func (PlainText) Ext() string { return "txt" }
