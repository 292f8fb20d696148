// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/bureau-foundation/modmail/lib/ref"
)

// ConfigurationError marks an operator misconfiguration discovered at
// operation time: a configured room alias that does not resolve, a
// space the service cannot write to. The specific operation fails and
// the error is logged; no end user sees it.
type ConfigurationError struct {
	// Name is the configured value that failed to resolve.
	Name string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Name, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DeliveryError marks a failed platform call (send, edit, fetch,
// teardown). The step is abandoned and logged; registry and link
// state stay intact.
type DeliveryError struct {
	// Op names the step that failed, e.g. "mirror message" or
	// "upload transcript".
	Op  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery: %s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ConsistencyError marks registry drift: a room that should resolve to
// a ticket owner does not. The operation aborts; there is no automatic
// repair.
type ConsistencyError struct {
	Room    ref.RoomID
	Message string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency: %s: %s", e.Room, e.Message)
}

// NotFoundError marks an operation naming a ticket or room the service
// does not know. Control socket callers get it verbatim; for edits
// with no link the router never constructs it (a missing link is a
// silent no-op).
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.What)
}
