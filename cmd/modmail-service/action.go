// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/bureau-foundation/modmail/lib/ref"
	"github.com/bureau-foundation/modmail/messaging"
)

// Custom event types carried over the Matrix event stream.
const (
	// eventTypeTicket is the state event a fresh ticket room is marked
	// with. Its content records the owning user so the room is
	// identifiable as a ticket independent of the registry.
	eventTypeTicket = ref.EventType("io.modmail.ticket")

	// eventTypeArchive is the archive request event. Staff post it in
	// the ticket room (or anywhere the service listens, naming the
	// room explicitly) to close the ticket.
	eventTypeArchive = ref.EventType("io.modmail.archive")
)

// ticketMarker is the content of the eventTypeTicket state event.
type ticketMarker struct {
	UserID ref.UserID `json:"user_id"`
}

// archiveAction is the decoded archive request: close the ticket
// living in Room.
type archiveAction struct {
	Room ref.RoomID
}

// decodeAction decodes an archive request event into its typed form.
// The room to archive comes from the event content's room_id field;
// when absent the event's own room is the target. Reports false for
// malformed content.
func decodeAction(event *messaging.Event, origin ref.RoomID) (archiveAction, bool) {
	if event.Type != eventTypeArchive {
		return archiveAction{}, false
	}
	raw, present := event.Content["room_id"].(string)
	if !present || raw == "" {
		if origin.IsZero() {
			return archiveAction{}, false
		}
		return archiveAction{Room: origin}, true
	}
	room, err := ref.ParseRoomID(raw)
	if err != nil {
		return archiveAction{}, false
	}
	return archiveAction{Room: room}, true
}
