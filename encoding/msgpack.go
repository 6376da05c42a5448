// Package encoding provides the wire codec for change messages.
// All msgpack operations on the transport path go through this package.
//
// Thread Safety: every function is safe for concurrent use.
//
// Type Preservation: when decoding into interface{}, msgpack strings decode as
// Go strings (not []byte), so filter comparisons against row values behave the
// same on every transport.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// Encode marshals v and optionally zstd compresses the result
func Encode(v interface{}, compress bool) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	if !compress {
		return data, nil
	}
	return Compress(data)
}

// Decode reverses Encode. Compressed payloads are detected by the zstd frame magic.
func Decode(data []byte, v interface{}) error {
	if IsCompressed(data) {
		raw, err := Decompress(data)
		if err != nil {
			return err
		}
		data = raw
	}
	return Unmarshal(data, v)
}
