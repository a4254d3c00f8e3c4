package kv

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Codec converts buffer values to and from their stored bytes.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// JSONCodec stores values as JSON.
type JSONCodec[V any] struct{}

// Encode marshals v without HTML escaping.
func (JSONCodec[V]) Encode(v V) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Decode unmarshals data into a fresh V.
func (JSONCodec[V]) Decode(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// BytesCodec stores raw byte slices unchanged.
type BytesCodec struct{}

// Encode returns v as is.
func (BytesCodec) Encode(v []byte) ([]byte, error) { return v, nil }

// Decode returns data as is.
func (BytesCodec) Decode(data []byte) ([]byte, error) { return data, nil }
