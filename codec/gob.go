package codec

import (
	"bytes"
	"encoding/gob"
)

// Gob round-trips values through encoding/gob, Go's closest analogue to
// the reference implementation's pickle-based codec: it can carry
// arbitrary registered Go types, not just JSON-shaped data, at the cost
// of portability outside Go programs.
type Gob struct{}

// Encode requires the concrete type of value to be registered with
// gob.Register beforehand if it isn't one of gob's built-in kinds.
func (Gob) Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gob) Decode(data []byte) (any, error) {
	var value any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func (Gob) Ext() string { return "gob" }
