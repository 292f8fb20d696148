// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// splitSigil validates a "<sigil>localpart:server" identifier and
// returns its localpart and server name. All Matrix identifiers except
// event IDs share this shape; only the leading sigil differs.
func splitSigil(sigil byte, raw string) (localpart, server string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty identifier")
	}
	if raw[0] != sigil {
		return "", "", fmt.Errorf("identifier must start with %q: %q", string(sigil), raw)
	}
	rest := raw[1:]
	colon := strings.IndexByte(rest, ':')
	switch {
	case colon < 0:
		return "", "", fmt.Errorf("identifier missing ':server' suffix: %q", raw)
	case colon == 0:
		return "", "", fmt.Errorf("identifier has empty localpart: %q", raw)
	case colon == len(rest)-1:
		return "", "", fmt.Errorf("identifier has empty server name: %q", raw)
	}
	return rest[:colon], rest[colon+1:], nil
}

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
// It accepts any structurally valid user ID; the modmail service makes
// no assumptions about localpart conventions of the users it serves.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := splitSigil('@', raw); err != nil {
		return UserID{}, fmt.Errorf("user ID: %w", err)
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. For tests
// and static initialization with known-valid input.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and ':'. Panics on a zero
// value — callers must not reach here with an unparsed ID.
func (u UserID) Localpart() string {
	localpart, _, err := splitSigil('@', u.id)
	if err != nil {
		panic(fmt.Sprintf("UserID.Localpart on invalid value %q: %v", u.id, err))
	}
	return localpart
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) { return []byte(u.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value so optional JSON fields decode cleanly.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// RoomID is a validated Matrix room ID (e.g., "!abc123:example.org").
// Room IDs are server-assigned and opaque: they come from room
// creation, alias resolution, or /sync responses, never constructed
// by this codebase.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string.
func ParseRoomID(raw string) (RoomID, error) {
	if _, _, err := splitSigil('!', raw); err != nil {
		return RoomID{}, fmt.Errorf("room ID: %w", err)
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error.
func MustParseRoomID(raw string) RoomID {
	r, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return r
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value.
func (r RoomID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) { return []byte(r.id), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoomAlias is a validated Matrix room alias (e.g.,
// "#modmail/archive:example.org"). Aliases name the operator-
// configured rooms (ticket space, staff room, archive room); they are
// resolved to room IDs at startup or at ticket-creation time.
type RoomAlias struct {
	alias string
}

// ParseRoomAlias validates and wraps a raw Matrix room alias string.
func ParseRoomAlias(raw string) (RoomAlias, error) {
	if _, _, err := splitSigil('#', raw); err != nil {
		return RoomAlias{}, fmt.Errorf("room alias: %w", err)
	}
	return RoomAlias{alias: raw}, nil
}

// MustParseRoomAlias is like ParseRoomAlias but panics on error.
func MustParseRoomAlias(raw string) RoomAlias {
	a, err := ParseRoomAlias(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomAlias(%q): %v", raw, err))
	}
	return a
}

// String returns the full alias string.
func (a RoomAlias) String() string { return a.alias }

// IsZero reports whether the RoomAlias is the zero value.
func (a RoomAlias) IsZero() bool { return a.alias == "" }
