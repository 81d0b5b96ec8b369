// Package jsoncodec serialises payloads for the introspection endpoint and
// bridged Watermill messages.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// Codec wraps a sonic configuration.
type Codec struct {
	api sonic.API
}

var (
	// Std behaves like encoding/json (sorted map keys, HTML escaping).
	Std = Codec{api: sonic.ConfigStd}
	// Fastest skips key sorting and escaping; output is not byte-stable across runs.
	Fastest = Codec{api: sonic.ConfigFastest}
)

func (c Codec) Marshal(v any) ([]byte, error) {
	return c.api.Marshal(v)
}

func (c Codec) Unmarshal(data []byte, v any) error {
	return c.api.Unmarshal(data, v)
}

func (c Codec) Encode(w io.Writer, v any) error {
	return c.api.NewEncoder(w).Encode(v)
}

func Marshal(v any) ([]byte, error) {
	return Std.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return Std.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return Std.Encode(w, v)
}
