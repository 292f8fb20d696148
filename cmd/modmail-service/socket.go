// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/bureau-foundation/modmail/lib/codec"
	"github.com/bureau-foundation/modmail/lib/ref"
	"github.com/bureau-foundation/modmail/lib/service"
	"github.com/bureau-foundation/modmail/lib/version"
)

// statusResponse is the CBOR payload of the "status" action.
type statusResponse struct {
	Version       string `cbor:"version"`
	UserID        string `cbor:"user_id"`
	OpenTickets   int    `cbor:"open_tickets"`
	MessageLinks  int    `cbor:"message_links"`
	UptimeSeconds int64  `cbor:"uptime_seconds"`
}

// ticketSummary is one entry of the "tickets" action response.
type ticketSummary struct {
	UserID   string `cbor:"user_id"`
	RoomID   string `cbor:"room_id"`
	DMRoomID string `cbor:"dm_room_id"`
	OpenedAt int64  `cbor:"opened_at"`
}

type ticketsResponse struct {
	Tickets []ticketSummary `cbor:"tickets"`
}

// archiveRequest is the CBOR payload of the "archive" action. Exactly
// one of RoomID or UserID names the ticket.
type archiveRequest struct {
	RoomID string `cbor:"room_id,omitempty"`
	UserID string `cbor:"user_id,omitempty"`
}

type archiveResponse struct {
	RoomID string `cbor:"room_id"`
}

// registerActions wires the relay's control actions onto the socket
// server.
func (m *Modmail) registerActions(server *service.SocketServer) {
	server.Handle("status", m.handleStatus)
	server.Handle("tickets", m.handleTickets)
	server.Handle("archive", m.handleArchive)
}

func (m *Modmail) handleStatus(_ context.Context, _ []byte) (any, error) {
	return statusResponse{
		Version:       version.Info(),
		UserID:        m.session.UserID().String(),
		OpenTickets:   m.registry.Len(),
		MessageLinks:  m.links.Len(),
		UptimeSeconds: int64(m.clock.Now().Sub(m.startedAt).Seconds()),
	}, nil
}

func (m *Modmail) handleTickets(_ context.Context, _ []byte) (any, error) {
	tickets := m.registry.Tickets()
	summaries := make([]ticketSummary, len(tickets))
	for i, ticket := range tickets {
		summaries[i] = ticketSummary{
			UserID:   ticket.User.String(),
			RoomID:   ticket.Room.String(),
			DMRoomID: ticket.DMRoom.String(),
			OpenedAt: ticket.OpenedAt.Unix(),
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].UserID < summaries[j].UserID })
	return ticketsResponse{Tickets: summaries}, nil
}

// handleArchive closes a ticket on operator request. The archive runs
// on the owning user's worker so it serializes with in-flight forwards
// for that ticket; the handler waits for the result.
func (m *Modmail) handleArchive(ctx context.Context, raw []byte) (any, error) {
	var request archiveRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}

	room, user, err := m.resolveArchiveTarget(request)
	if err != nil {
		return nil, err
	}

	result := make(chan error, 1)
	queued := m.dispatch(user, func(jobCtx context.Context) {
		result <- m.archiveTicket(jobCtx, room)
	})
	if !queued {
		return nil, fmt.Errorf("archive of %s not queued: worker busy or shutting down", room)
	}
	select {
	case err := <-result:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return archiveResponse{RoomID: room.String()}, nil
}

func (m *Modmail) resolveArchiveTarget(request archiveRequest) (ref.RoomID, ref.UserID, error) {
	switch {
	case request.RoomID != "":
		room, err := ref.ParseRoomID(request.RoomID)
		if err != nil {
			return ref.RoomID{}, ref.UserID{}, err
		}
		user, ok := m.registry.UserForRoom(room)
		if !ok {
			return ref.RoomID{}, ref.UserID{}, &NotFoundError{What: "ticket for room " + request.RoomID}
		}
		return room, user, nil
	case request.UserID != "":
		user, err := ref.ParseUserID(request.UserID)
		if err != nil {
			return ref.RoomID{}, ref.UserID{}, err
		}
		room, ok := m.registry.RoomForUser(user)
		if !ok {
			return ref.RoomID{}, ref.UserID{}, &NotFoundError{What: "ticket for user " + request.UserID}
		}
		return room, user, nil
	default:
		return ref.RoomID{}, ref.UserID{}, &NotFoundError{What: "ticket (room_id or user_id required)"}
	}
}
