// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the modmail-standard CBOR encoding.
//
// The control socket protocol and all stored CBOR use Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer forms, no indefinite-length items. The same logical value
// always produces identical bytes. Consumers import this package
// rather than fxamacker/cbor directly so the configuration lives in
// exactly one place.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	// ref types (UserID, RoomID, EventID) carry their identity in an
	// unexported field and expose it via MarshalText. Without this
	// setting they would encode as empty CBOR maps.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString

	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// All protocol maps use string keys. Any-typed decode targets
		// get map[string]any instead of the CBOR default
		// map[interface{}]interface{}, which nothing downstream can
		// consume.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using the deterministic configuration.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// RawMessage is a raw encoded CBOR value for delayed decoding.
type RawMessage = cbor.RawMessage

// Encoder is a CBOR stream encoder.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// NewEncoder returns a stream encoder writing to w with the
// deterministic configuration.
func NewEncoder(w io.Writer) *Encoder { return encMode.NewEncoder(w) }

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder { return decMode.NewDecoder(r) }
