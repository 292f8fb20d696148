// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifiers
// for the modmail service: user IDs, room IDs, room aliases, and
// event IDs.
//
// All identifiers arrive from the homeserver (or from operator
// configuration) as raw strings and are parsed into these value types
// at the boundary. Once constructed, a ref is immutable and known to
// be structurally valid, so code deeper in the service never
// re-validates or string-splits identifiers.
//
// The zero value of every ref type is invalid; use IsZero to check.
// JSON and CBOR marshaling use the canonical Matrix string form via
// encoding.TextMarshaler.
package ref
