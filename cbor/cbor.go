// Package cbor wraps the CTAP2 canonical CBOR codec used on the wire and
// adds path queries over decoded responses.
package cbor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	fxcbor "github.com/fxamacker/cbor/v2"
)

// RawMessage is an already encoded CBOR item. It is embedded verbatim when
// marshalled, which lets callers sign the exact bytes they send.
type RawMessage = fxcbor.RawMessage

var encMode = sync.OnceValue(func() fxcbor.EncMode {
	// CTAP2 canonical form: shortest integers, map keys sorted by length
	// then bytewise, which yields ascending order for integer keys.
	mode, err := fxcbor.CTAP2EncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
})

var decMode = sync.OnceValue(func() fxcbor.DecMode {
	mode, err := fxcbor.DecOptions{IntDec: fxcbor.IntDecConvertNone}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
})

// EncMode returns the shared CTAP2 canonical encoder.
func EncMode() fxcbor.EncMode { return encMode() }

func Marshal(v any) ([]byte, error) {
	return encMode().Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode().Unmarshal(data, v)
}

// Decode decodes a single CBOR item into generic Go values: maps become
// map[any]any, unsigned integers uint64 and negative integers int64.
func Decode(data []byte) (any, error) {
	var v any
	if err := decMode().Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MapKeys returns the keys of the CBOR map encoded in data, in the order
// they appear on the wire.
func MapKeys(data []byte) ([]any, error) {
	count, header, err := mapHeader(data)
	if err != nil {
		return nil, err
	}
	dec := decMode().NewDecoder(bytes.NewReader(data[header:]))
	keys := make([]any, 0, count)
	for range count {
		var key any
		if err = dec.Decode(&key); err != nil {
			return nil, err
		}
		var value RawMessage
		if err = dec.Decode(&value); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func mapHeader(data []byte) (count uint64, size int, err error) {
	if len(data) == 0 || data[0]>>5 != 5 {
		return 0, 0, fmt.Errorf("cbor: not a map")
	}
	info := data[0] & 0x1f
	switch {
	case info < 24:
		return uint64(info), 1, nil
	case info == 24 && len(data) >= 2:
		return uint64(data[1]), 2, nil
	case info == 25 && len(data) >= 3:
		return uint64(binary.BigEndian.Uint16(data[1:])), 3, nil
	case info == 26 && len(data) >= 5:
		return uint64(binary.BigEndian.Uint32(data[1:])), 5, nil
	}
	return 0, 0, fmt.Errorf("cbor: unsupported map header 0x%02x", data[0])
}
