// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/modmail/lib/bridge"
	"github.com/bureau-foundation/modmail/lib/clock"
	"github.com/bureau-foundation/modmail/lib/config"
	"github.com/bureau-foundation/modmail/lib/ref"
	"github.com/bureau-foundation/modmail/lib/testutil"
	"github.com/bureau-foundation/modmail/messaging"
)

// sentMessage is one message the fake session delivered.
type sentMessage struct {
	EventID ref.EventID
	Content messaging.MessageContent
}

// fakeSession is an in-memory stand-in for the Matrix session. Every
// room keeps an ordered event log fed by both SendMessage and test
// injection, so RoomMessages returns a realistic newest-first history.
type fakeSession struct {
	mu sync.Mutex

	self    ref.UserID
	members map[ref.RoomID][]messaging.RoomMember
	names   map[ref.UserID]string

	logs    map[ref.RoomID][]messaging.Event
	sent    map[ref.RoomID][]sentMessage
	uploads map[string][]byte

	created    []ref.RoomID
	left       []ref.RoomID
	kicked     map[ref.RoomID][]ref.UserID
	tombstoned []ref.RoomID

	// failSendTo forces SendMessage failures per room.
	failSendTo map[ref.RoomID]error
	failCreate error

	nextRoom  int
	nextEvent int
	nextTS    int64
}

var _ matrixSession = (*fakeSession)(nil)

func newFakeSession(self ref.UserID) *fakeSession {
	return &fakeSession{
		self:       self,
		members:    make(map[ref.RoomID][]messaging.RoomMember),
		names:      make(map[ref.UserID]string),
		logs:       make(map[ref.RoomID][]messaging.Event),
		sent:       make(map[ref.RoomID][]sentMessage),
		uploads:    make(map[string][]byte),
		kicked:     make(map[ref.RoomID][]ref.UserID),
		failSendTo: make(map[ref.RoomID]error),
		nextTS:     1700000000000,
	}
}

func (f *fakeSession) UserID() ref.UserID { return f.self }

func (f *fakeSession) Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	return roomID, nil
}

func (f *fakeSession) CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	f.nextRoom++
	room := ref.MustParseRoomID(fmt.Sprintf("!ticket%d:test.local", f.nextRoom))
	f.created = append(f.created, room)
	return &messaging.CreateRoomResponse{RoomID: room}, nil
}

func (f *fakeSession) InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	return nil
}

func (f *fakeSession) KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked[roomID] = append(f.kicked[roomID], userID)
	return nil
}

func (f *fakeSession) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomID)
	return nil
}

func (f *fakeSession) SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failSendTo[roomID]; err != nil {
		return ref.EventID{}, err
	}
	f.nextEvent++
	f.nextTS++
	eventID := ref.MustParseEventID(fmt.Sprintf("$sent%d", f.nextEvent))
	f.sent[roomID] = append(f.sent[roomID], sentMessage{EventID: eventID, Content: content})
	f.logs[roomID] = append(f.logs[roomID], messaging.Event{
		EventID:        eventID,
		Type:           "m.room.message",
		Sender:         f.self,
		OriginServerTS: f.nextTS,
		Content:        contentToMap(content),
	})
	return eventID, nil
}

func (f *fakeSession) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextEvent++
	return ref.MustParseEventID(fmt.Sprintf("$state%d", f.nextEvent)), nil
}

func (f *fakeSession) RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	log := f.logs[roomID]
	limit := options.Limit
	if limit <= 0 || limit > len(log) {
		limit = len(log)
	}
	// Newest first, as the real endpoint delivers with dir=b.
	chunk := make([]messaging.Event, 0, limit)
	for i := len(log) - 1; i >= len(log)-limit; i-- {
		chunk = append(chunk, log[i])
	}
	return &messaging.RoomMessagesResponse{Chunk: chunk}, nil
}

func (f *fakeSession) UploadMediaNamed(ctx context.Context, filename, contentType string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[filename] = data
	return "mxc://test.local/" + filename, nil
}

func (f *fakeSession) GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]messaging.RoomMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[roomID], nil
}

func (f *fakeSession) GetDisplayName(ctx context.Context, userID ref.UserID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[userID], nil
}

func (f *fakeSession) Tombstone(ctx context.Context, roomID ref.RoomID, body string, replacement ref.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tombstoned = append(f.tombstoned, roomID)
	return nil
}

// inject appends an externally-originated event to a room's log and
// returns it, mimicking a message another user sent there.
func (f *fakeSession) inject(roomID ref.RoomID, event messaging.Event) messaging.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTS++
	event.OriginServerTS = f.nextTS
	f.logs[roomID] = append(f.logs[roomID], event)
	return event
}

func (f *fakeSession) sentTo(roomID ref.RoomID) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent[roomID]...)
}

func contentToMap(content messaging.MessageContent) map[string]any {
	result := map[string]any{"msgtype": content.MsgType, "body": content.Body}
	if content.URL != "" {
		result["url"] = content.URL
		result["filename"] = content.Filename
	}
	if content.RelatesTo != nil {
		result["m.relates_to"] = map[string]any{
			"rel_type": content.RelatesTo.RelType,
			"event_id": content.RelatesTo.EventID.String(),
		}
	}
	if content.NewContent != nil {
		result["m.new_content"] = map[string]any{
			"msgtype": content.NewContent.MsgType,
			"body":    content.NewContent.Body,
		}
	}
	return result
}

var (
	serviceUser = ref.MustParseUserID("@modmail:test.local")
	staffUser   = ref.MustParseUserID("@staff:test.local")
	aliceUser   = ref.MustParseUserID("@alice:test.local")

	spaceRoom   = ref.MustParseRoomID("!space:test.local")
	staffRoom   = ref.MustParseRoomID("!staff:test.local")
	archiveRoom = ref.MustParseRoomID("!archive:test.local")
	aliceDMRoom = ref.MustParseRoomID("!dm-alice:test.local")
)

func newTestModmail(t *testing.T) (*Modmail, *fakeSession) {
	t.Helper()

	session := newFakeSession(serviceUser)
	session.members[staffRoom] = []messaging.RoomMember{
		{UserID: staffUser.String(), Membership: "join"},
		{UserID: serviceUser.String(), Membership: "join"},
	}

	cfg := config.Default()
	cfg.Homeserver.ServerName = "test.local"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rooms := resolvedRooms{TicketSpace: spaceRoom, StaffRoom: staffRoom, ArchiveRoom: archiveRoom}
	modmail := newModmail(session, bridge.NewRegistry(nil), bridge.NewLinkTable(nil), nil, nil, rooms, cfg, clock.Real(), logger)
	t.Cleanup(modmail.drain)
	return modmail, session
}

func textEvent(id string, sender ref.UserID, body string) messaging.Event {
	return messaging.Event{
		EventID: ref.MustParseEventID(id),
		Type:    "m.room.message",
		Sender:  sender,
		Content: map[string]any{"msgtype": "m.text", "body": body},
	}
}

func editEvent(id string, sender ref.UserID, target ref.EventID, newBody string) messaging.Event {
	return messaging.Event{
		EventID: ref.MustParseEventID(id),
		Type:    "m.room.message",
		Sender:  sender,
		Content: map[string]any{
			"msgtype": "m.text",
			"body":    "* " + newBody,
			"m.new_content": map[string]any{
				"msgtype": "m.text",
				"body":    newBody,
			},
			"m.relates_to": map[string]any{
				"rel_type": "m.replace",
				"event_id": target.String(),
			},
		},
	}
}

func archiveEvent(id string, sender ref.UserID) messaging.Event {
	return messaging.Event{
		EventID: ref.MustParseEventID(id),
		Type:    eventTypeArchive,
		Sender:  sender,
		Content: map[string]any{},
	}
}

func syncResponse(roomID ref.RoomID, events ...messaging.Event) *messaging.SyncResponse {
	return &messaging.SyncResponse{
		NextBatch: "s1",
		Rooms: messaging.RoomsSection{
			Join: map[ref.RoomID]messaging.JoinedRoom{
				roomID: {Timeline: messaging.TimelineSection{Events: events}},
			},
		},
	}
}

// deliver injects the event into the fake room log and runs it through
// the sync handler, then waits for the affected users' workers to go
// idle.
func deliver(t *testing.T, modmail *Modmail, session *fakeSession, roomID ref.RoomID, event messaging.Event, users ...ref.UserID) {
	t.Helper()
	event = session.inject(roomID, event)
	modmail.handleSync(context.Background(), syncResponse(roomID, event))
	flush(t, modmail, users...)
}

// flush waits until each user's worker has drained its queue.
func flush(t *testing.T, modmail *Modmail, users ...ref.UserID) {
	t.Helper()
	for _, user := range users {
		done := make(chan struct{})
		modmail.dispatch(user, func(context.Context) { close(done) })
		testutil.RequireClosed(t, done, 5*time.Second, "worker for %s", user)
	}
}

func TestDirectMessageOpensTicket(t *testing.T) {
	modmail, session := newTestModmail(t)

	deliver(t, modmail, session, aliceDMRoom, textEvent("$a1", aliceUser, "hello"), aliceUser)

	if len(session.created) != 1 {
		t.Fatalf("created %d rooms, want 1", len(session.created))
	}
	ticketRoom := session.created[0]

	room, ok := modmail.registry.RoomForUser(aliceUser)
	if !ok || room != ticketRoom {
		t.Errorf("RoomForUser = %s, %t; want %s", room, ok, ticketRoom)
	}
	if user, ok := modmail.registry.UserForDMRoom(aliceDMRoom); !ok || user != aliceUser {
		t.Errorf("UserForDMRoom = %s, %t; want %s", user, ok, aliceUser)
	}

	// Staff notice plus the mirrored message in the ticket room.
	ticketMessages := session.sentTo(ticketRoom)
	if len(ticketMessages) != 2 {
		t.Fatalf("ticket room got %d messages, want 2", len(ticketMessages))
	}
	if ticketMessages[0].Content.MsgType != "m.notice" {
		t.Errorf("first ticket message is %q, want m.notice", ticketMessages[0].Content.MsgType)
	}
	if ticketMessages[1].Content.Body != "hello" {
		t.Errorf("mirrored body = %q, want %q", ticketMessages[1].Content.Body, "hello")
	}

	// Confirmation notice to the user.
	dmMessages := session.sentTo(aliceDMRoom)
	if len(dmMessages) != 1 || dmMessages[0].Content.MsgType != "m.notice" {
		t.Fatalf("DM room messages = %+v, want one notice", dmMessages)
	}

	// Link symmetry.
	origin := ref.MustParseEventID("$a1")
	mirror, ok := modmail.links.Counterpart(origin)
	if !ok || mirror != ticketMessages[1].EventID {
		t.Errorf("Counterpart(origin) = %s, %t", mirror, ok)
	}
	if back, ok := modmail.links.Counterpart(mirror); !ok || back != origin {
		t.Errorf("Counterpart(mirror) = %s, %t; want %s", back, ok, origin)
	}
}

func TestSecondMessageReusesTicket(t *testing.T) {
	modmail, session := newTestModmail(t)

	deliver(t, modmail, session, aliceDMRoom, textEvent("$a1", aliceUser, "hello"), aliceUser)
	deliver(t, modmail, session, aliceDMRoom, textEvent("$a2", aliceUser, "anyone there?"), aliceUser)

	if len(session.created) != 1 {
		t.Fatalf("created %d rooms, want 1", len(session.created))
	}
	ticketMessages := session.sentTo(session.created[0])
	last := ticketMessages[len(ticketMessages)-1]
	if last.Content.Body != "anyone there?" {
		t.Errorf("last mirrored body = %q", last.Content.Body)
	}
}

func TestStaffReplyMirroredToUser(t *testing.T) {
	modmail, session := newTestModmail(t)

	deliver(t, modmail, session, aliceDMRoom, textEvent("$a1", aliceUser, "hello"), aliceUser)
	ticketRoom := session.created[0]

	deliver(t, modmail, session, ticketRoom, textEvent("$t1", staffUser, "hi"), aliceUser)

	dmMessages := session.sentTo(aliceDMRoom)
	last := dmMessages[len(dmMessages)-1]
	if last.Content.Body != "hi" {
		t.Fatalf("mirrored reply = %q, want %q", last.Content.Body, "hi")
	}

	origin := ref.MustParseEventID("$t1")
	if mirror, ok := modmail.links.Counterpart(origin); !ok || mirror != last.EventID {
		t.Errorf("Counterpart(%s) = %s, %t; want %s", origin, mirror, ok, last.EventID)
	}
}

func TestEditRoutesToCounterpart(t *testing.T) {
	modmail, session := newTestModmail(t)

	deliver(t, modmail, session, aliceDMRoom, textEvent("$a1", aliceUser, "hello"), aliceUser)
	ticketRoom := session.created[0]
	mirror, _ := modmail.links.Counterpart(ref.MustParseEventID("$a1"))

	before := len(session.sentTo(ticketRoom))
	deliver(t, modmail, session, aliceDMRoom, editEvent("$a2", aliceUser, ref.MustParseEventID("$a1"), "hello there"), aliceUser)

	ticketMessages := session.sentTo(ticketRoom)
	if len(ticketMessages) != before+1 {
		t.Fatalf("ticket room got %d new messages, want 1", len(ticketMessages)-before)
	}
	edit := ticketMessages[len(ticketMessages)-1].Content
	if edit.RelatesTo == nil || edit.RelatesTo.RelType != messaging.RelReplace || edit.RelatesTo.EventID != mirror {
		t.Errorf("edit relates_to = %+v, want m.replace of %s", edit.RelatesTo, mirror)
	}
	if edit.NewContent == nil || edit.NewContent.Body != "hello there" {
		t.Errorf("edit new_content = %+v", edit.NewContent)
	}
}

func TestEditWithoutLinkIsNoOp(t *testing.T) {
	modmail, session := newTestModmail(t)

	deliver(t, modmail, session, aliceDMRoom, textEvent("$a1", aliceUser, "hello"), aliceUser)
	ticketRoom := session.created[0]

	ticketBefore := len(session.sentTo(ticketRoom))
	dmBefore := len(session.sentTo(aliceDMRoom))

	// Edit of an event that was never mirrored.
	deliver(t, modmail, session, aliceDMRoom, editEvent("$a9", aliceUser, ref.MustParseEventID("$unknown"), "nope"), aliceUser)

	if n := len(session.sentTo(ticketRoom)); n != ticketBefore {
		t.Errorf("ticket room grew by %d messages, want 0", n-ticketBefore)
	}
	if n := len(session.sentTo(aliceDMRoom)); n != dmBefore {
		t.Errorf("DM room grew by %d messages, want 0", n-dmBefore)
	}
}

func TestNoticesIgnored(t *testing.T) {
	modmail, session := newTestModmail(t)

	notice := textEvent("$n1", aliceUser, "automated reminder")
	notice.Content["msgtype"] = "m.notice"
	deliver(t, modmail, session, aliceDMRoom, notice, aliceUser)

	if len(session.created) != 0 {
		t.Errorf("notice created %d rooms", len(session.created))
	}
	if modmail.registry.Len() != 0 {
		t.Errorf("registry has %d tickets", modmail.registry.Len())
	}
}

func TestOwnEventsIgnored(t *testing.T) {
	modmail, session := newTestModmail(t)

	modmail.handleSync(context.Background(), syncResponse(aliceDMRoom, textEvent("$s1", serviceUser, "echo")))
	flush(t, modmail, serviceUser)

	if len(session.created) != 0 {
		t.Errorf("own event created %d rooms", len(session.created))
	}
	if modmail.registry.Len() != 0 {
		t.Errorf("registry has %d tickets", modmail.registry.Len())
	}
}

func TestMessagesInWellKnownRoomsIgnored(t *testing.T) {
	modmail, session := newTestModmail(t)

	modmail.handleSync(context.Background(), syncResponse(staffRoom, textEvent("$s1", staffUser, "chatter")))
	flush(t, modmail, staffUser)

	if len(session.created) != 0 || modmail.registry.Len() != 0 {
		t.Error("staff room chatter opened a ticket")
	}
}

func TestArchiveFailureNotifiesActorInRoom(t *testing.T) {
	modmail, session := newTestModmail(t)

	deliver(t, modmail, session, aliceDMRoom, textEvent("$a1", aliceUser, "hello"), aliceUser)
	ticketRoom, ok := modmail.registry.RoomForUser(aliceUser)
	if !ok {
		t.Fatal("no ticket for alice")
	}
	session.failSendTo[archiveRoom] = &messaging.MatrixError{Code: messaging.ErrCodeForbidden, Message: "not in room", StatusCode: 403}
	before := len(session.sentTo(ticketRoom))

	deliver(t, modmail, session, ticketRoom, archiveEvent("$x1", staffUser), aliceUser)

	// The failed archive keeps the ticket; the room still exists and
	// the actor hears about the failure there.
	if modmail.registry.Len() != 1 {
		t.Errorf("registry has %d tickets, want 1", modmail.registry.Len())
	}
	sent := session.sentTo(ticketRoom)
	if len(sent) != before+1 || !strings.Contains(sent[before].Content.Body, "failed") {
		t.Fatalf("ticket room messages after failed archive = %+v, want a failure notice", sent[before:])
	}
}

func TestReplayedMessageNotRemirrored(t *testing.T) {
	modmail, session := newTestModmail(t)

	event := textEvent("$a1", aliceUser, "hello")
	deliver(t, modmail, session, aliceDMRoom, event, aliceUser)
	ticketRoom, ok := modmail.registry.RoomForUser(aliceUser)
	if !ok {
		t.Fatal("no ticket for alice")
	}
	before := len(session.sentTo(ticketRoom))
	linksBefore := modmail.links.Len()

	// The same event again, as /sync replays it when the previous run
	// died after mirroring but before the token was persisted.
	modmail.handleSync(context.Background(), syncResponse(aliceDMRoom, event))
	flush(t, modmail, aliceUser)

	if got := len(session.sentTo(ticketRoom)); got != before {
		t.Errorf("ticket room has %d messages after replay, want %d", got, before)
	}
	if modmail.links.Len() != linksBefore {
		t.Errorf("link table has %d pairs after replay, want %d", modmail.links.Len(), linksBefore)
	}
}

func TestWorkersRetireWhenIdle(t *testing.T) {
	modmail, session := newTestModmail(t)

	deliver(t, modmail, session, aliceDMRoom, textEvent("$a1", aliceUser, "hello"), aliceUser)

	// The retiring worker releases workerMu after its last job, so the
	// map empties shortly after the queue drains.
	deadline := time.Now().Add(5 * time.Second)
	for {
		modmail.workerMu.Lock()
		remaining := len(modmail.workers)
		modmail.workerMu.Unlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d workers still registered after queues drained", remaining)
		}
		time.Sleep(time.Millisecond)
	}

	// A later message starts a fresh worker and still mirrors.
	ticketRoom, _ := modmail.registry.RoomForUser(aliceUser)
	before := len(session.sentTo(ticketRoom))
	deliver(t, modmail, session, aliceDMRoom, textEvent("$a2", aliceUser, "again"), aliceUser)
	if got := len(session.sentTo(ticketRoom)); got != before+1 {
		t.Errorf("ticket room has %d messages, want %d", got, before+1)
	}
}

func TestArchiveActionUnknownRoom(t *testing.T) {
	modmail, session := newTestModmail(t)

	event := archiveEvent("$x1", staffUser)
	event.Content["room_id"] = "!nosuch:test.local"
	modmail.handleSync(context.Background(), syncResponse(staffRoom, event))

	// The failure notice goes back to the room the request came from.
	notices := session.sentTo(staffRoom)
	if len(notices) != 1 || !strings.Contains(notices[0].Content.Body, "No open ticket") {
		t.Fatalf("staff room messages = %+v, want a failure notice", notices)
	}
}

func TestConcurrentFirstMessagesCreateOneTicket(t *testing.T) {
	modmail, session := newTestModmail(t)

	// Two messages in one sync batch land on the same worker queue and
	// serialize through FindOrCreate.
	first := session.inject(aliceDMRoom, textEvent("$a1", aliceUser, "hello"))
	second := session.inject(aliceDMRoom, textEvent("$a2", aliceUser, "hello again"))
	modmail.handleSync(context.Background(), syncResponse(aliceDMRoom, first, second))
	flush(t, modmail, aliceUser)

	if len(session.created) != 1 {
		t.Fatalf("created %d rooms, want 1", len(session.created))
	}
	var mirrored []string
	for _, message := range session.sentTo(session.created[0]) {
		if message.Content.MsgType == "m.text" {
			mirrored = append(mirrored, message.Content.Body)
		}
	}
	if len(mirrored) != 2 || mirrored[0] != "hello" || mirrored[1] != "hello again" {
		t.Errorf("mirrored bodies = %v, want [hello, hello again]", mirrored)
	}
}

func TestAttachmentForwardedWithoutLink(t *testing.T) {
	modmail, session := newTestModmail(t)

	deliver(t, modmail, session, aliceDMRoom, textEvent("$a1", aliceUser, "hello"), aliceUser)
	ticketRoom := session.created[0]
	linksBefore := modmail.links.Len()

	fileEvent := messaging.Event{
		EventID: ref.MustParseEventID("$a2"),
		Type:    "m.room.message",
		Sender:  aliceUser,
		Content: map[string]any{
			"msgtype":  "m.file",
			"body":     "crash.log",
			"url":      "mxc://test.local/crashlog",
			"filename": "crash.log",
		},
	}
	deliver(t, modmail, session, aliceDMRoom, fileEvent, aliceUser)

	ticketMessages := session.sentTo(ticketRoom)
	forwarded := ticketMessages[len(ticketMessages)-1].Content
	if forwarded.MsgType != "m.file" || forwarded.URL != "mxc://test.local/crashlog" {
		t.Errorf("forwarded attachment = %+v", forwarded)
	}
	if modmail.links.Len() != linksBefore {
		t.Errorf("attachment forward recorded a link")
	}
	if _, ok := modmail.links.Counterpart(ref.MustParseEventID("$a2")); ok {
		t.Error("attachment event has a counterpart")
	}
}

func TestDeliveryFailureLeavesNoLink(t *testing.T) {
	modmail, session := newTestModmail(t)

	deliver(t, modmail, session, aliceDMRoom, textEvent("$a1", aliceUser, "hello"), aliceUser)
	ticketRoom := session.created[0]

	session.mu.Lock()
	session.failSendTo[ticketRoom] = &messaging.MatrixError{Code: messaging.ErrCodeUnknown, Message: "send refused", StatusCode: 500}
	session.mu.Unlock()

	deliver(t, modmail, session, aliceDMRoom, textEvent("$a2", aliceUser, "lost"), aliceUser)

	if _, ok := modmail.links.Counterpart(ref.MustParseEventID("$a2")); ok {
		t.Error("failed delivery recorded a link")
	}
}
