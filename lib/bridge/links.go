// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/modmail/lib/ref"
)

// Link is one mirrored message pair. Origin is the event the service
// received; Mirror is the event it sent on the other side. Room is the
// ticket room the pair belongs to, used to drop all of a ticket's
// links when it closes.
type Link struct {
	Room   ref.RoomID
	Origin ref.EventID
	Mirror ref.EventID
}

// LinkTable is the symmetric message link relation. Counterpart
// resolves either event of a pair to the other, so an edit arriving on
// one side finds the event to update on the other side regardless of
// direction.
//
// All methods are safe for concurrent use.
type LinkTable struct {
	store *Store // nil means in-memory only

	mu sync.RWMutex
	// counterpart has two entries per link, one in each direction.
	counterpart map[ref.EventID]ref.EventID
	// byRoom indexes each link's origin event by ticket room for bulk
	// discard on close.
	byRoom map[ref.RoomID][]ref.EventID
}

// NewLinkTable creates a link table. store may be nil, in which case
// links live only in memory.
func NewLinkTable(store *Store) *LinkTable {
	return &LinkTable{
		store:       store,
		counterpart: make(map[ref.EventID]ref.EventID),
		byRoom:      make(map[ref.RoomID][]ref.EventID),
	}
}

// Load replays persisted links from the store. Call once at startup.
// No-op without a store.
func (t *LinkTable) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	links, err := t.store.LoadLinks(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, link := range links {
		t.counterpart[link.Origin] = link.Mirror
		t.counterpart[link.Mirror] = link.Origin
		t.byRoom[link.Room] = append(t.byRoom[link.Room], link.Origin)
	}
	return nil
}

// Add records a mirrored pair. Each event participates in at most one
// link; Add returns ErrEventLinked if either event is already known.
func (t *LinkTable) Add(ctx context.Context, link Link) error {
	t.mu.Lock()
	if _, ok := t.counterpart[link.Origin]; ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEventLinked, link.Origin)
	}
	if _, ok := t.counterpart[link.Mirror]; ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEventLinked, link.Mirror)
	}
	t.counterpart[link.Origin] = link.Mirror
	t.counterpart[link.Mirror] = link.Origin
	t.byRoom[link.Room] = append(t.byRoom[link.Room], link.Origin)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.InsertLink(ctx, link); err != nil {
			// Roll the in-memory entry back so memory and disk agree.
			t.mu.Lock()
			delete(t.counterpart, link.Origin)
			delete(t.counterpart, link.Mirror)
			events := t.byRoom[link.Room]
			if n := len(events); n > 0 && events[n-1] == link.Origin {
				t.byRoom[link.Room] = events[:n-1]
			}
			t.mu.Unlock()
			return fmt.Errorf("persisting link %s: %w", link.Origin, err)
		}
	}
	return nil
}

// Counterpart returns the other event of a linked pair. Reports false
// for events with no link.
func (t *LinkTable) Counterpart(event ref.EventID) (ref.EventID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	other, ok := t.counterpart[event]
	return other, ok
}

// DiscardRoom drops every link belonging to a ticket room. Called when
// the ticket closes; after this, edits to any of the ticket's messages
// no longer route.
func (t *LinkTable) DiscardRoom(ctx context.Context, room ref.RoomID) error {
	t.mu.Lock()
	for _, origin := range t.byRoom[room] {
		mirror := t.counterpart[origin]
		delete(t.counterpart, origin)
		delete(t.counterpart, mirror)
	}
	delete(t.byRoom, room)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.DeleteRoomLinks(ctx, room); err != nil {
			return fmt.Errorf("deleting links for %s: %w", room, err)
		}
	}
	return nil
}

// Len returns the number of links (pairs, not directional entries).
func (t *LinkTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.counterpart) / 2
}
