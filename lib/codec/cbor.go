// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. The same envelope always
// produces identical bytes, which the audit log relies on when it
// digests command payloads.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility with
// newer clients.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Envelope payloads are decoded into any-typed values. The CBOR
		// default map type for an any target is
		// map[interface{}]interface{} (CBOR allows non-string keys),
		// which nothing else in the bridge can consume. Envelopes only
		// ever carry string keys, so force map[string]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Decode integers into int64 when they fit. Without this a
		// client-sent positive integer comes back as uint64 while a
		// negative one comes back as int64, and payload values would
		// not round-trip through encode/decode.
		IntDec: cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
