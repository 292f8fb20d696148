// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/modmail/lib/ref"
	"github.com/bureau-foundation/modmail/lib/transcript"
	"github.com/bureau-foundation/modmail/messaging"
)

// createTicketRoom creates the staff-facing room for a new ticket:
// invite-only under the ticket space, the user at default power, every
// staff-room member at moderator power. Posts the staff notice and
// DMs the user a confirmation. Any failure unwinds — the half-created
// room is left and no record exists, so the next message retries from
// scratch.
func (m *Modmail) createTicketRoom(ctx context.Context, user ref.UserID, dmRoom ref.RoomID) (ref.RoomID, error) {
	staff, err := m.staffMembers(ctx)
	if err != nil {
		return ref.RoomID{}, err
	}

	powerUsers := map[string]any{
		m.session.UserID().String(): 100,
		user.String():               0,
	}
	invite := []ref.UserID{user}
	for _, member := range staff {
		powerUsers[member.String()] = 50
		invite = append(invite, member)
	}

	request := messaging.CreateRoomRequest{
		Name:   "ticket-" + user.Localpart(),
		Topic:  "Modmail ticket for " + user.String(),
		Preset: "private_chat",
		Invite: invite,
		InitialState: []messaging.StateEvent{
			{
				Type:     "m.space.parent",
				StateKey: m.rooms.TicketSpace.String(),
				Content: map[string]any{
					"via":       []string{m.cfg.Homeserver.ServerName},
					"canonical": true,
				},
			},
			{
				Type:    string(eventTypeTicket),
				Content: ticketMarker{UserID: user},
			},
		},
		PowerLevelContentOverride: map[string]any{
			"users":          powerUsers,
			"events_default": 0,
			"state_default":  50,
			"invite":         50,
			"kick":           50,
			"redact":         50,
		},
	}

	response, err := m.session.CreateRoom(ctx, request)
	if err != nil {
		return ref.RoomID{}, &DeliveryError{Op: "create ticket room", Err: err}
	}
	room := response.RoomID

	// Parent linkage so the room appears inside the ticket space.
	_, err = m.session.SendStateEvent(ctx, m.rooms.TicketSpace, "m.space.child", room.String(), map[string]any{
		"via": []string{m.cfg.Homeserver.ServerName},
	})
	if err != nil {
		m.abandonRoom(ctx, room)
		return ref.RoomID{}, &ConfigurationError{Name: m.cfg.Rooms.TicketSpace, Err: err}
	}

	staffNotice := fmt.Sprintf("New ticket for %s. Send an %s event in this room to archive and close it.",
		user, eventTypeArchive)
	if _, err := m.session.SendMessage(ctx, room, messaging.NewNoticeMessage(staffNotice)); err != nil {
		m.abandonRoom(ctx, room)
		return ref.RoomID{}, &DeliveryError{Op: "post opening notice", Err: err}
	}

	if _, err := m.session.SendMessage(ctx, dmRoom, messaging.NewNoticeMessage(m.cfg.Relay.OpeningNotice)); err != nil {
		m.abandonRoom(ctx, room)
		return ref.RoomID{}, &DeliveryError{Op: "confirm ticket to user", Err: err}
	}

	return room, nil
}

// staffMembers returns the joined members of the staff room, excluding
// the service account.
func (m *Modmail) staffMembers(ctx context.Context) ([]ref.UserID, error) {
	members, err := m.session.GetRoomMembers(ctx, m.rooms.StaffRoom)
	if err != nil {
		return nil, &ConfigurationError{Name: m.cfg.Rooms.StaffRoom, Err: err}
	}
	var staff []ref.UserID
	for _, member := range members {
		if member.Membership != "join" {
			continue
		}
		userID, err := ref.ParseUserID(member.UserID)
		if err != nil || userID == m.session.UserID() {
			continue
		}
		staff = append(staff, userID)
	}
	return staff, nil
}

// abandonRoom leaves a half-created ticket room after a creation
// failure. Best effort: the room is orphaned either way and no record
// points at it.
func (m *Modmail) abandonRoom(ctx context.Context, room ref.RoomID) {
	if err := m.session.LeaveRoom(ctx, room); err != nil {
		m.logger.Error("failed to leave abandoned ticket room", "room_id", room, "error", err)
	}
}

// archiveTicket closes the ticket living in room: renders the history
// into an HTML transcript, delivers it to the archive room, keeps a
// compressed local copy, notifies the user, and tears the room down.
// Failures before the transcript is delivered abort and return an
// error; failures after are logged terminal states — archival is never
// retried.
func (m *Modmail) archiveTicket(ctx context.Context, room ref.RoomID) error {
	user, ok := m.registry.UserForRoom(room)
	if !ok {
		return &ConsistencyError{Room: room, Message: "no registered user for ticket room"}
	}
	ticket, ok := m.registry.TicketForUser(user)
	if !ok {
		return &ConsistencyError{Room: room, Message: "ticket vanished during archive"}
	}

	limit := m.cfg.Relay.HistoryLimit
	history, err := m.session.RoomMessages(ctx, room, messaging.RoomMessagesOptions{Limit: limit})
	if err != nil {
		return &DeliveryError{Op: "fetch ticket history", Err: err}
	}

	roomName := "ticket-" + user.Localpart()
	messages := m.buildTranscript(ctx, history.Chunk)
	document, err := transcript.Render(roomName, messages, len(history.Chunk) >= limit)
	if err != nil {
		return fmt.Errorf("rendering transcript for %s: %w", room, err)
	}

	filename := roomName + "-transcript.html"
	mxcURI, err := m.session.UploadMediaNamed(ctx, filename, "text/html", bytes.NewReader(document.HTML))
	if err != nil {
		return &DeliveryError{Op: "upload transcript", Err: err}
	}
	content := messaging.NewFileMessage(filename, mxcURI, "text/html", int64(len(document.HTML)))
	if _, err := m.session.SendMessage(ctx, m.rooms.ArchiveRoom, content); err != nil {
		return &DeliveryError{Op: "deliver transcript", Err: err}
	}

	// The transcript is delivered; everything past this point is
	// logged, never returned, and teardown always completes.
	summary := fmt.Sprintf("Ticket for %s archived: %d messages. Participants: %s.",
		user, document.MessageCount, joinParticipants(document.Participants))
	if _, err := m.session.SendMessage(ctx, m.rooms.ArchiveRoom, messaging.NewNoticeMessage(summary)); err != nil {
		m.logger.Error("failed to post archive summary", "room_id", room, "error", err)
	}

	if m.archives != nil {
		entry, err := m.archives.Put(document.HTML)
		if err != nil {
			m.logger.Error("failed to store local transcript copy", "room_id", room, "error", err)
		} else {
			m.logger.Info("transcript stored", "room_id", room, "transcript_id", entry.ID, "size", entry.Size)
		}
	}

	if _, err := m.session.SendMessage(ctx, ticket.DMRoom, messaging.NewNoticeMessage(m.cfg.Relay.ClosingNotice)); err != nil {
		m.logger.Error("failed to notify user of closure", "user_id", user, "error", err)
	}

	m.teardownRoom(ctx, room, user)

	if err := m.registry.Remove(ctx, user); err != nil {
		m.logger.Error("failed to remove ticket record", "user_id", user, "error", err)
	}
	if err := m.links.DiscardRoom(ctx, room); err != nil {
		m.logger.Error("failed to discard message links", "room_id", room, "error", err)
	}

	m.logger.Info("ticket archived", "user_id", user, "room_id", room, "messages", document.MessageCount)
	return nil
}

// teardownRoom removes the user, tombstones the room, and leaves.
// "Already gone" (M_NOT_FOUND) responses are expected when a step
// raced manual cleanup and are swallowed; other failures are logged.
func (m *Modmail) teardownRoom(ctx context.Context, room ref.RoomID, user ref.UserID) {
	if err := m.session.KickUser(ctx, room, user, "ticket archived"); err != nil && !messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
		m.logger.Error("failed to remove user from ticket room", "room_id", room, "error", err)
	}
	if err := m.session.Tombstone(ctx, room, "This ticket has been archived.", ref.RoomID{}); err != nil && !messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
		m.logger.Error("failed to tombstone ticket room", "room_id", room, "error", err)
	}
	if err := m.session.LeaveRoom(ctx, room); err != nil && !messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
		m.logger.Error("failed to leave ticket room", "room_id", room, "error", err)
	}
}

// buildTranscript converts a newest-first history page into
// chronological transcript messages with edits applied. The newest
// m.replace replacement wins per target; display names are looked up
// once per sender, falling back to the bare user ID.
func (m *Modmail) buildTranscript(ctx context.Context, chunk []messaging.Event) []transcript.Message {
	// chunk is newest-first, so the first replacement seen per target
	// is the latest.
	replacements := make(map[ref.EventID]string)
	var base []messaging.Event
	for _, event := range chunk {
		if event.Type != "m.room.message" {
			continue
		}
		if relType, target, ok := messaging.EventRelation(event.Content); ok && relType == messaging.RelReplace {
			if _, seen := replacements[target]; !seen {
				if newBody, ok := messaging.EventNewBody(event.Content); ok {
					replacements[target] = newBody
				}
			}
			continue
		}
		base = append(base, event)
	}

	names := make(map[ref.UserID]string)
	displayName := func(user ref.UserID) string {
		if name, ok := names[user]; ok {
			return name
		}
		name, err := m.session.GetDisplayName(ctx, user)
		if err != nil {
			name = ""
		}
		names[user] = name
		return name
	}

	messages := make([]transcript.Message, 0, len(base))
	// Reverse to chronological order.
	for i := len(base) - 1; i >= 0; i-- {
		event := base[i]
		message := transcript.Message{
			Sender:     event.Sender,
			SenderName: displayName(event.Sender),
			Timestamp:  time.UnixMilli(event.OriginServerTS).UTC(),
		}
		if body, ok := messaging.EventBody(event.Content); ok {
			message.Body = body
		}
		if replacement, ok := replacements[event.EventID]; ok {
			message.Body = replacement
			message.Edited = true
		}
		if mxcURI, filename, ok := messaging.EventFile(event.Content); ok {
			message.Body = ""
			message.Attachments = []transcript.Attachment{{Name: filename, URL: mxcURI}}
		}
		messages = append(messages, message)
	}
	return messages
}

func joinParticipants(participants []ref.UserID) string {
	names := make([]string, len(participants))
	for i, participant := range participants {
		names[i] = participant.String()
	}
	return strings.Join(names, ", ")
}
