// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/modmail/lib/ref"
)

// Ticket is one open ticket: a user, the direct message room their
// messages arrive in, and the staff-facing room they are mirrored
// into.
type Ticket struct {
	User     ref.UserID
	Room     ref.RoomID // staff-facing ticket room
	DMRoom   ref.RoomID // user's direct message room
	OpenedAt time.Time
}

// Registry is the authoritative map of open tickets. It answers both
// directions of the mapping and serializes mutations per user.
//
// All methods are safe for concurrent use.
type Registry struct {
	store *Store // nil means in-memory only

	mu       sync.Mutex
	byUser   map[ref.UserID]Ticket
	byRoom   map[ref.RoomID]ref.UserID
	byDMRoom map[ref.RoomID]ref.UserID
	locks    map[ref.UserID]*userLock
}

// userLock serializes ticket operations for a single user. The
// refcount lets the registry drop the entry once no operation holds or
// waits on it.
type userLock struct {
	ch   chan struct{}
	refs int
}

// NewRegistry creates a registry. store may be nil, in which case
// tickets live only in memory.
func NewRegistry(store *Store) *Registry {
	return &Registry{
		store:    store,
		byUser:   make(map[ref.UserID]Ticket),
		byRoom:   make(map[ref.RoomID]ref.UserID),
		byDMRoom: make(map[ref.RoomID]ref.UserID),
		locks:    make(map[ref.UserID]*userLock),
	}
}

// Load replays persisted tickets from the store. Call once at startup,
// before serving traffic. No-op without a store.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	tickets, err := r.store.LoadTickets(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range tickets {
		r.byUser[ticket.User] = ticket
		r.byRoom[ticket.Room] = ticket.User
		r.byDMRoom[ticket.DMRoom] = ticket.User
	}
	return nil
}

// FindOrCreate returns the user's ticket room, invoking create to make
// one if none exists. The second return reports whether create ran.
//
// The call holds the user's lock for its full duration, so concurrent
// calls for the same user observe each other's results instead of
// racing: the first caller creates, the rest find. create runs without
// any registry-wide lock held; other users are not blocked by a slow
// room creation.
//
// If create fails, nothing is recorded and the error is returned
// unwrapped.
func (r *Registry) FindOrCreate(ctx context.Context, user ref.UserID, dmRoom ref.RoomID, create func(context.Context) (ref.RoomID, error)) (ref.RoomID, bool, error) {
	unlock, err := r.lockUser(ctx, user)
	if err != nil {
		return ref.RoomID{}, false, err
	}
	defer unlock()

	r.mu.Lock()
	existing, ok := r.byUser[user]
	r.mu.Unlock()
	if ok {
		return existing.Room, false, nil
	}

	room, err := create(ctx)
	if err != nil {
		return ref.RoomID{}, false, err
	}

	ticket := Ticket{User: user, Room: room, DMRoom: dmRoom, OpenedAt: time.Now().UTC()}
	if r.store != nil {
		if err := r.store.InsertTicket(ctx, ticket); err != nil {
			return ref.RoomID{}, false, fmt.Errorf("persisting ticket for %s: %w", user, err)
		}
	}

	r.mu.Lock()
	r.byUser[user] = ticket
	r.byRoom[room] = user
	r.byDMRoom[dmRoom] = user
	r.mu.Unlock()

	return room, true, nil
}

// Remove closes the user's ticket: the mapping is dropped and, with a
// store attached, the persisted ticket row and its message links are
// deleted. Returns ErrNoTicket if the user has no open ticket.
func (r *Registry) Remove(ctx context.Context, user ref.UserID) error {
	unlock, err := r.lockUser(ctx, user)
	if err != nil {
		return err
	}
	defer unlock()

	r.mu.Lock()
	ticket, ok := r.byUser[user]
	r.mu.Unlock()
	if !ok {
		return ErrNoTicket
	}

	if r.store != nil {
		if err := r.store.DeleteTicket(ctx, user); err != nil {
			return fmt.Errorf("deleting ticket for %s: %w", user, err)
		}
	}

	r.mu.Lock()
	delete(r.byUser, user)
	delete(r.byRoom, ticket.Room)
	delete(r.byDMRoom, ticket.DMRoom)
	r.mu.Unlock()

	return nil
}

// RoomForUser returns the ticket room for a user, if one is open.
func (r *Registry) RoomForUser(user ref.UserID) (ref.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.byUser[user]
	return ticket.Room, ok
}

// UserForRoom returns the user a ticket room belongs to. Reports false
// for rooms that are not ticket rooms.
func (r *Registry) UserForRoom(room ref.RoomID) (ref.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byRoom[room]
	return user, ok
}

// UserForDMRoom returns the user whose open ticket has the given
// direct message room. Reports false for rooms that are not a tracked
// DM room.
func (r *Registry) UserForDMRoom(room ref.RoomID) (ref.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byDMRoom[room]
	return user, ok
}

// TicketForUser returns the full ticket for a user, if one is open.
func (r *Registry) TicketForUser(user ref.UserID) (Ticket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.byUser[user]
	return ticket, ok
}

// Tickets returns a snapshot of all open tickets, ordered by user ID.
func (r *Registry) Tickets() []Ticket {
	r.mu.Lock()
	tickets := make([]Ticket, 0, len(r.byUser))
	for _, ticket := range r.byUser {
		tickets = append(tickets, ticket)
	}
	r.mu.Unlock()

	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].User.String() < tickets[j].User.String()
	})
	return tickets
}

// Len returns the number of open tickets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// lockUser acquires the per-user lock, waiting until the holder
// releases it or ctx is cancelled.
func (r *Registry) lockUser(ctx context.Context, user ref.UserID) (func(), error) {
	r.mu.Lock()
	lock, ok := r.locks[user]
	if !ok {
		lock = &userLock{ch: make(chan struct{}, 1)}
		r.locks[user] = lock
	}
	lock.refs++
	r.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		r.releaseRef(user, lock)
		return nil, ctx.Err()
	}

	return func() {
		<-lock.ch
		r.releaseRef(user, lock)
	}, nil
}

func (r *Registry) releaseRef(user ref.UserID, lock *userLock) {
	r.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.locks, user)
	}
	r.mu.Unlock()
}
