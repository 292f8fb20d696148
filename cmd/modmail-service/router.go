// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/modmail/lib/archive"
	"github.com/bureau-foundation/modmail/lib/bridge"
	"github.com/bureau-foundation/modmail/lib/clock"
	"github.com/bureau-foundation/modmail/lib/config"
	"github.com/bureau-foundation/modmail/lib/ref"
	"github.com/bureau-foundation/modmail/lib/service"
	"github.com/bureau-foundation/modmail/messaging"
)

// matrixSession is the platform surface the relay uses. Implemented by
// *messaging.Session; tests substitute a fake.
type matrixSession interface {
	UserID() ref.UserID
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)
	CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error)
	InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error
	KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error
	SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error)
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error)
	RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error)
	UploadMediaNamed(ctx context.Context, filename, contentType string, body io.Reader) (string, error)
	GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]messaging.RoomMember, error)
	GetDisplayName(ctx context.Context, userID ref.UserID) (string, error)
	Tombstone(ctx context.Context, roomID ref.RoomID, body string, replacement ref.RoomID) error
}

// resolvedRooms holds the well-known room IDs after alias resolution
// at startup.
type resolvedRooms struct {
	TicketSpace ref.RoomID
	StaffRoom   ref.RoomID
	ArchiveRoom ref.RoomID
}

// workerQueueSize bounds each per-user event queue. A full queue drops
// the event with a logged error rather than stalling the sync loop for
// every other user.
const workerQueueSize = 256

// Modmail is the relay core: it classifies sync events and runs the
// ticket lifecycle. One instance per daemon.
type Modmail struct {
	session  matrixSession
	registry *bridge.Registry
	links    *bridge.LinkTable
	store    *bridge.Store  // nil: sync token not persisted
	archives *archive.Store // nil: no local transcript copies
	rooms    resolvedRooms
	cfg      *config.Config
	clock    clock.Clock
	logger   *slog.Logger

	startedAt time.Time

	// jobCtx is the context worker jobs run under. Derived from the
	// run context without its cancellation so queued forwards drain
	// cleanly at shutdown.
	jobCtx context.Context

	workerMu sync.Mutex
	workers  map[ref.UserID]chan func(context.Context)
	workerWG sync.WaitGroup
	draining bool
}

func newModmail(session matrixSession, registry *bridge.Registry, links *bridge.LinkTable, store *bridge.Store, archives *archive.Store, rooms resolvedRooms, cfg *config.Config, clk clock.Clock, logger *slog.Logger) *Modmail {
	return &Modmail{
		session:   session,
		registry:  registry,
		links:     links,
		store:     store,
		archives:  archives,
		rooms:     rooms,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
		startedAt: clk.Now(),
		jobCtx:    context.Background(),
		workers:   make(map[ref.UserID]chan func(context.Context)),
	}
}

// syncFilter restricts /sync timeline payloads. The relay only acts on
// room events; presence and account data are noise.
const syncFilter = `{"presence":{"types":[]},"account_data":{"types":[]},"room":{"timeline":{"limit":50}}}`

// run drives the incremental sync loop until ctx is cancelled, then
// drains the per-user workers. sinceToken is the next_batch to resume
// from.
func (m *Modmail) run(ctx context.Context, sinceToken string) {
	m.jobCtx = context.WithoutCancel(ctx)

	service.RunSyncLoop(ctx, m.session, service.SyncConfig{Filter: syncFilter}, sinceToken, m.handleSync, m.clock, m.logger)

	m.drain()
}

// handleSync processes one /sync response: accepts invites, classifies
// every timeline event, and persists the next_batch token.
func (m *Modmail) handleSync(ctx context.Context, response *messaging.SyncResponse) {
	service.AcceptInvites(ctx, m.session, response.Rooms.Invite, m.logger)

	for roomID, joined := range response.Rooms.Join {
		for i := range joined.Timeline.Events {
			m.classify(roomID, &joined.Timeline.Events[i])
		}
	}

	if m.store != nil && response.NextBatch != "" {
		if err := m.store.SetSyncToken(ctx, response.NextBatch); err != nil {
			m.logger.Error("failed to persist sync token", "error", err)
		}
	}
}

// classify routes one timeline event. Everything lands on the owning
// user's ordered queue so forwards, edits, and archives for a ticket
// never race each other; unrelated rooms and the service's own echoes
// are dropped here.
func (m *Modmail) classify(room ref.RoomID, event *messaging.Event) {
	if event.Sender == m.session.UserID() {
		return
	}

	switch event.Type {
	case eventTypeArchive:
		act, ok := decodeAction(event, room)
		if !ok {
			m.logger.Warn("malformed archive request", "room_id", room, "sender", event.Sender)
			return
		}
		owner, ok := m.registry.UserForRoom(act.Room)
		if !ok {
			m.logger.Error("archive request for unknown room", "room_id", act.Room, "sender", event.Sender)
			m.notify(room, "No open ticket for "+act.Room.String())
			return
		}
		m.dispatch(owner, func(ctx context.Context) {
			m.runArchive(ctx, act.Room, room)
		})

	case "m.room.message":
		if relType, target, ok := messaging.EventRelation(event.Content); ok && relType == messaging.RelReplace {
			m.classifyEdit(room, event, target)
			return
		}
		// Notices are bot and system output, never user conversation.
		if msgType, ok := messaging.EventMsgType(event.Content); ok && msgType == "m.notice" {
			return
		}

		if user, ok := m.registry.UserForRoom(room); ok {
			// Staff reply in a ticket room.
			eventCopy := *event
			m.dispatch(user, func(ctx context.Context) {
				m.forwardToUser(ctx, user, &eventCopy)
			})
			return
		}
		if room == m.rooms.StaffRoom || room == m.rooms.ArchiveRoom || room == m.rooms.TicketSpace {
			return
		}
		if owner, ok := m.registry.UserForDMRoom(room); ok {
			// Known DM room: only the owner's messages are relayed.
			if event.Sender != owner {
				return
			}
			eventCopy := *event
			m.dispatch(owner, func(ctx context.Context) {
				m.handleUserMessage(ctx, owner, room, &eventCopy)
			})
			return
		}
		// Unclassified room: a first message from a user we have no
		// ticket for. The room becomes their DM room.
		user := event.Sender
		eventCopy := *event
		m.dispatch(user, func(ctx context.Context) {
			m.handleUserMessage(ctx, user, room, &eventCopy)
		})
	}
}

// classifyEdit resolves the ticket an m.replace edit belongs to from
// its origin room. Edits in rooms the relay does not bridge are
// ignored.
func (m *Modmail) classifyEdit(room ref.RoomID, event *messaging.Event, target ref.EventID) {
	user, ok := m.registry.UserForRoom(room)
	if !ok {
		user, ok = m.registry.UserForDMRoom(room)
	}
	if !ok {
		return
	}
	eventCopy := *event
	m.dispatch(user, func(ctx context.Context) {
		m.applyEdit(ctx, user, room, &eventCopy, target)
	})
}

// dispatch enqueues a job on the user's ordered worker, starting the
// worker on first use. Jobs for one user run strictly in arrival
// order; different users run concurrently. Reports false when the job
// was not enqueued: queue full, or shutdown in progress.
func (m *Modmail) dispatch(user ref.UserID, job func(context.Context)) bool {
	m.workerMu.Lock()
	defer m.workerMu.Unlock()
	if m.draining {
		return false
	}
	queue, ok := m.workers[user]
	if !ok {
		queue = make(chan func(context.Context), workerQueueSize)
		m.workers[user] = queue
		m.workerWG.Add(1)
		go m.runWorker(user, queue)
	}
	select {
	case queue <- job:
		return true
	default:
		m.logger.Error("event queue full, dropping event", "user_id", user)
		return false
	}
}

// runWorker drains one user's queue. A worker with no pending jobs
// retires itself, so the worker map only tracks users with work in
// flight, not every user ever seen. Retirement and enqueue both hold
// workerMu, so no job lands on a retired queue.
func (m *Modmail) runWorker(user ref.UserID, queue chan func(context.Context)) {
	defer m.workerWG.Done()
	for {
		job, ok := <-queue
		if !ok {
			return
		}
		job(m.jobCtx)

		m.workerMu.Lock()
		if len(queue) == 0 && !m.draining {
			delete(m.workers, user)
			m.workerMu.Unlock()
			return
		}
		m.workerMu.Unlock()
	}
}

// drain stops accepting new work and waits for every queued job to
// finish. Jobs run under a non-cancelled context so in-flight forwards
// complete rather than failing mid-send.
func (m *Modmail) drain() {
	m.workerMu.Lock()
	if m.draining {
		m.workerMu.Unlock()
		m.workerWG.Wait()
		return
	}
	m.draining = true
	for _, queue := range m.workers {
		close(queue)
	}
	m.workerMu.Unlock()
	m.workerWG.Wait()
}

// notify sends a best-effort notice; failures are logged, never
// propagated.
func (m *Modmail) notify(room ref.RoomID, text string) {
	if _, err := m.session.SendMessage(m.jobCtx, room, messaging.NewNoticeMessage(text)); err != nil {
		m.logger.Error("failed to send notice", "room_id", room, "error", err)
	}
}

// runArchive performs the archive and reports the outcome to the room
// the request came from. A failed archive leaves the ticket room
// standing, so the failure notice is deliverable even when the request
// was posted there; the success confirmation only goes to other rooms,
// since the archived room is torn down.
func (m *Modmail) runArchive(ctx context.Context, target, replyTo ref.RoomID) {
	if err := m.archiveTicket(ctx, target); err != nil {
		m.logger.Error("archive failed", "room_id", target, "error", err)
		m.notify(replyTo, "Archive of "+target.String()+" failed: "+err.Error())
		return
	}
	if replyTo != target {
		m.notify(replyTo, "Ticket "+target.String()+" archived.")
	}
}
