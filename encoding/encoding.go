// Package encoding provides the marshaling abstraction used for the bank
// configuration and other JSON documents handled by the updater.
package encoding

import (
	"encoding/json"
)

// Marshaler defines methods to marshal/unmarshal values to/from byte slices.
type Marshaler interface {
	// Marshal encodes any object to a byte slice.
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes data back into the provided object pointer.
	Unmarshal(data []byte, v any) error
}

// DefaultMarshaler is the package-wide default marshaler using JSON encoding.
var DefaultMarshaler = NewMarshaler()

type defaultMarshaler struct{}

// NewMarshaler returns a Marshaler implemented with the standard library JSON package.
func NewMarshaler() Marshaler {
	return &defaultMarshaler{}
}

// Marshal encodes any object to a byte slice.
func (m defaultMarshaler) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a byte slice back to its object type.
func (m defaultMarshaler) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
