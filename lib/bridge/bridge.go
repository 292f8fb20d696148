// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge maintains the mapping state that ties a user's direct
// message room to their ticket room, and individual mirrored messages
// to their counterparts on the other side.
//
// The Registry holds the user ↔ ticket room mapping with per-user
// serialization: concurrent operations for different users proceed
// independently, while operations for the same user queue behind each
// other. This is what prevents two rapid first messages from the same
// user opening two tickets.
//
// The LinkTable holds the symmetric message link relation: for every
// mirrored message, the origin event and the mirrored event resolve to
// each other. Links drive edit propagation; a message with no link
// (attachment forwards, notices) simply never routes an edit.
//
// Both structures are in-memory with optional write-through to a Store
// backed by SQLite, so a restart resumes with every open ticket and
// link intact.
package bridge

import "errors"

var (
	// ErrEventLinked is returned by LinkTable.Add when either event of
	// the pair already participates in a link.
	ErrEventLinked = errors.New("bridge: event already linked")

	// ErrNoTicket is returned when an operation names a user with no
	// open ticket.
	ErrNoTicket = errors.New("bridge: no open ticket")
)
