// Package jsoncodec centralises JSON encoding for message bodies and
// diagnostics records so every component shares one sonic configuration.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

// codec mirrors encoding/json behaviour (sorted map keys, HTML escaping) so
// records remain stable when compared in tests or logs.
var codec = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return codec.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

// MarshalString encodes v and returns the JSON text, falling back to an
// empty object when encoding fails.
func MarshalString(v any) string {
	out, err := codec.MarshalToString(v)
	if err != nil {
		return "{}"
	}
	return out
}
