// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/bureau-foundation/modmail/lib/bridge"
	"github.com/bureau-foundation/modmail/lib/ref"
	"github.com/bureau-foundation/modmail/messaging"
)

// handleUserMessage relays one DM into the user's ticket room, opening
// the ticket first if none exists. Runs on the user's worker, so two
// quick messages from the same user serialize here and exactly one
// room is created.
func (m *Modmail) handleUserMessage(ctx context.Context, user ref.UserID, dmRoom ref.RoomID, event *messaging.Event) {
	ticketRoom, created, err := m.registry.FindOrCreate(ctx, user, dmRoom, func(ctx context.Context) (ref.RoomID, error) {
		return m.createTicketRoom(ctx, user, dmRoom)
	})
	if err != nil {
		m.logger.Error("failed to open ticket", "user_id", user, "error", err)
		return
	}
	if created {
		m.logger.Info("ticket opened", "user_id", user, "room_id", ticketRoom)
	}

	m.mirror(ctx, ticketRoom, ticketRoom, event)
}

// forwardToUser relays a staff reply from the ticket room into the
// user's DM room.
func (m *Modmail) forwardToUser(ctx context.Context, user ref.UserID, event *messaging.Event) {
	ticket, ok := m.registry.TicketForUser(user)
	if !ok {
		// The ticket was archived between classification and this job.
		m.logger.Error("reply for user with no open ticket", "user_id", user)
		return
	}
	m.mirror(ctx, ticket.DMRoom, ticket.Room, event)
}

// mirror delivers one message event into destination and records the
// link. linkRoom is the ticket room the link belongs to (for bulk
// discard at archive), regardless of mirror direction. Attachments are
// forwarded without a link; an attachment-only message cannot be
// edited. The link is recorded only after successful delivery — a
// failed send leaves no partial state.
func (m *Modmail) mirror(ctx context.Context, destination, linkRoom ref.RoomID, event *messaging.Event) {
	// /sync may replay events after a restart when the token was
	// persisted before a queued mirror completed. A message with a
	// link is already mirrored; attachment forwards carry no link and
	// are not deduplicated.
	if _, linked := m.links.Counterpart(event.EventID); linked {
		return
	}

	if mxcURI, filename, ok := messaging.EventFile(event.Content); ok {
		content := messaging.NewFileMessage(filename, mxcURI, "", 0)
		if _, err := m.session.SendMessage(ctx, destination, content); err != nil {
			m.logger.Error("failed to forward attachment",
				"room_id", destination,
				"origin_event", event.EventID,
				"error", err,
			)
		}
		return
	}

	body, ok := messaging.EventBody(event.Content)
	if !ok {
		return
	}

	mirrorID, err := m.session.SendMessage(ctx, destination, messaging.NewTextMessage(body))
	if err != nil {
		m.logger.Error("failed to mirror message",
			"room_id", destination,
			"origin_event", event.EventID,
			"error", err,
		)
		return
	}

	link := bridge.Link{Room: linkRoom, Origin: event.EventID, Mirror: mirrorID}
	if err := m.links.Add(ctx, link); err != nil {
		m.logger.Error("failed to record message link",
			"origin_event", event.EventID,
			"mirror_event", mirrorID,
			"error", err,
		)
	}
}

// applyEdit mirrors an m.replace edit onto the counterpart of its
// target. An edit whose target was never mirrored is a no-op. Matrix
// relates every edit to the original event, so the link stays keyed by
// the original pair and needs no re-keying.
func (m *Modmail) applyEdit(ctx context.Context, user ref.UserID, origin ref.RoomID, event *messaging.Event, target ref.EventID) {
	counterpart, ok := m.links.Counterpart(target)
	if !ok {
		return
	}

	newBody, ok := messaging.EventNewBody(event.Content)
	if !ok {
		return
	}

	ticket, ok := m.registry.TicketForUser(user)
	if !ok {
		m.logger.Error("edit for user with no open ticket", "user_id", user)
		return
	}
	destination := ticket.Room
	if origin == ticket.Room {
		destination = ticket.DMRoom
	}

	if _, err := m.session.SendMessage(ctx, destination, messaging.NewEditMessage(counterpart, newBody)); err != nil {
		m.logger.Error("failed to mirror edit",
			"room_id", destination,
			"target_event", counterpart,
			"error", err,
		)
	}
}
