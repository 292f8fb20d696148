// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bureau-foundation/modmail/lib/ref"
)

// testSession creates a Session against the given handler. The session
// and its server are torn down when the test completes.
func testSession(t *testing.T, handler http.HandlerFunc) *Session {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.SessionFromToken(ref.MustParseUserID("@modmail:test.local"), "syt_token")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotContent MessageContent
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		gotPath = request.URL.Path
		if request.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", request.Method)
		}
		if request.Header.Get("Authorization") != "Bearer syt_token" {
			t.Errorf("unexpected authorization: %s", request.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(request.Body).Decode(&gotContent); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SendEventResponse{
			EventID: ref.MustParseEventID("$sent1"),
		})
	})

	eventID, err := session.SendMessage(context.Background(),
		ref.MustParseRoomID("!room:test.local"), NewTextMessage("hello"))
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if eventID != ref.MustParseEventID("$sent1") {
		t.Errorf("unexpected event ID: %s", eventID)
	}

	// Idempotent send: PUT to /send/<type>/<txnID>.
	if !strings.HasPrefix(gotPath, "/_matrix/client/v3/rooms/!room:test.local/send/m.room.message/modmail-") {
		t.Errorf("unexpected send path: %s", gotPath)
	}
	if gotContent.MsgType != "m.text" || gotContent.Body != "hello" {
		t.Errorf("unexpected content: %+v", gotContent)
	}
}

func TestSendMessage_EditRelation(t *testing.T) {
	var gotContent MessageContent
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if err := json.NewDecoder(request.Body).Decode(&gotContent); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SendEventResponse{
			EventID: ref.MustParseEventID("$edit1"),
		})
	})

	original := ref.MustParseEventID("$orig1")
	_, err := session.SendMessage(context.Background(),
		ref.MustParseRoomID("!room:test.local"), NewEditMessage(original, "fixed"))
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if gotContent.RelatesTo == nil || gotContent.RelatesTo.RelType != RelReplace {
		t.Fatalf("expected m.replace relation, got %+v", gotContent.RelatesTo)
	}
	if gotContent.RelatesTo.EventID != original {
		t.Errorf("relation targets %s, want %s", gotContent.RelatesTo.EventID, original)
	}
	if gotContent.NewContent == nil || gotContent.NewContent.Body != "fixed" {
		t.Fatalf("expected new content %q, got %+v", "fixed", gotContent.NewContent)
	}
	if gotContent.Body != "* fixed" {
		t.Errorf("fallback body: got %q, want %q", gotContent.Body, "* fixed")
	}
}

func TestCreateRoom(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/createRoom" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		var body CreateRoomRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if body.Name != "Ticket: alice" {
			t.Errorf("unexpected room name: %s", body.Name)
		}
		if body.Preset != "private_chat" {
			t.Errorf("unexpected preset: %s", body.Preset)
		}
		if len(body.Invite) != 1 || body.Invite[0] != ref.MustParseUserID("@alice:test.local") {
			t.Errorf("unexpected invite list: %v", body.Invite)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(CreateRoomResponse{
			RoomID: ref.MustParseRoomID("!new:test.local"),
		})
	})

	response, err := session.CreateRoom(context.Background(), CreateRoomRequest{
		Name:   "Ticket: alice",
		Preset: "private_chat",
		Invite: []ref.UserID{ref.MustParseUserID("@alice:test.local")},
	})
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if response.RoomID != ref.MustParseRoomID("!new:test.local") {
		t.Errorf("unexpected room ID: %s", response.RoomID)
	}
}

func TestRoomMessages(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if query.Get("dir") != "b" {
			t.Errorf("expected default backward direction, got %q", query.Get("dir"))
		}
		if query.Get("limit") != "100" {
			t.Errorf("unexpected limit: %q", query.Get("limit"))
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(RoomMessagesResponse{
			Start: "t1",
			End:   "t2",
			Chunk: []Event{
				{
					EventID: ref.MustParseEventID("$msg1"),
					Type:    "m.room.message",
					Sender:  ref.MustParseUserID("@alice:test.local"),
					Content: map[string]any{"msgtype": "m.text", "body": "hello"},
				},
			},
		})
	})

	response, err := session.RoomMessages(context.Background(),
		ref.MustParseRoomID("!room:test.local"), RoomMessagesOptions{Limit: 100})
	if err != nil {
		t.Fatalf("RoomMessages failed: %v", err)
	}
	if len(response.Chunk) != 1 {
		t.Fatalf("expected 1 event, got %d", len(response.Chunk))
	}
	if body, _ := EventBody(response.Chunk[0].Content); body != "hello" {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestSync(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if query.Get("since") != "s100" {
			t.Errorf("unexpected since token: %q", query.Get("since"))
		}
		if query.Get("timeout") != "30000" {
			t.Errorf("unexpected timeout: %q", query.Get("timeout"))
		}
		writer.Header().Set("Content-Type", "application/json")
		io.WriteString(writer, `{
			"next_batch": "s101",
			"rooms": {
				"join": {
					"!room:test.local": {
						"timeline": {
							"events": [
								{
									"event_id": "$ev1",
									"type": "m.room.message",
									"sender": "@alice:test.local",
									"origin_server_ts": 1000,
									"content": {"msgtype": "m.text", "body": "hi"}
								}
							],
							"prev_batch": "t0"
						}
					}
				}
			}
		}`)
	})

	response, err := session.Sync(context.Background(), SyncOptions{
		Since:      "s100",
		Timeout:    30000,
		SetTimeout: true,
	})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if response.NextBatch != "s101" {
		t.Errorf("unexpected next batch: %s", response.NextBatch)
	}
	joined, ok := response.Rooms.Join[ref.MustParseRoomID("!room:test.local")]
	if !ok {
		t.Fatal("expected joined room in sync response")
	}
	if len(joined.Timeline.Events) != 1 {
		t.Fatalf("expected 1 timeline event, got %d", len(joined.Timeline.Events))
	}
	event := joined.Timeline.Events[0]
	if event.Sender != ref.MustParseUserID("@alice:test.local") {
		t.Errorf("unexpected sender: %s", event.Sender)
	}
}

func TestResolveAlias(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.EscapedPath() != "/_matrix/client/v3/directory/room/%23staff:test.local" {
			t.Errorf("unexpected path: %s", request.URL.EscapedPath())
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(ResolveAliasResponse{
			RoomID: ref.MustParseRoomID("!staff:test.local"),
		})
	})

	roomID, err := session.ResolveAlias(context.Background(), ref.MustParseRoomAlias("#staff:test.local"))
	if err != nil {
		t.Fatalf("ResolveAlias failed: %v", err)
	}
	if roomID != ref.MustParseRoomID("!staff:test.local") {
		t.Errorf("unexpected room ID: %s", roomID)
	}
}

func TestUploadMedia(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/media/v3/upload" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		gotContentType = request.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(request.Body)
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(UploadResponse{
			ContentURI: "mxc://test.local/media1",
		})
	})

	uri, err := session.UploadMedia(context.Background(), "text/html",
		strings.NewReader("<html></html>"))
	if err != nil {
		t.Fatalf("UploadMedia failed: %v", err)
	}
	if uri != "mxc://test.local/media1" {
		t.Errorf("unexpected content URI: %s", uri)
	}
	if gotContentType != "text/html" {
		t.Errorf("unexpected content type: %s", gotContentType)
	}
	if string(gotBody) != "<html></html>" {
		t.Errorf("unexpected body: %q", gotBody)
	}
}

func TestKickUser(t *testing.T) {
	var gotRequest KickRequest
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if !strings.HasSuffix(request.URL.Path, "/kick") {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if err := json.NewDecoder(request.Body).Decode(&gotRequest); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		io.WriteString(writer, "{}")
	})

	err := session.KickUser(context.Background(),
		ref.MustParseRoomID("!room:test.local"),
		ref.MustParseUserID("@alice:test.local"),
		"ticket closed")
	if err != nil {
		t.Fatalf("KickUser failed: %v", err)
	}
	if gotRequest.UserID != ref.MustParseUserID("@alice:test.local") {
		t.Errorf("unexpected user: %s", gotRequest.UserID)
	}
	if gotRequest.Reason != "ticket closed" {
		t.Errorf("unexpected reason: %s", gotRequest.Reason)
	}
}

func TestTombstone(t *testing.T) {
	var gotPath string
	var gotContent map[string]any
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		gotPath = request.URL.Path
		if request.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", request.Method)
		}
		if err := json.NewDecoder(request.Body).Decode(&gotContent); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SendEventResponse{
			EventID: ref.MustParseEventID("$tomb1"),
		})
	})

	err := session.Tombstone(context.Background(),
		ref.MustParseRoomID("!room:test.local"), "archived", ref.RoomID{})
	if err != nil {
		t.Fatalf("Tombstone failed: %v", err)
	}
	if !strings.Contains(gotPath, "/state/m.room.tombstone/") {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotContent["body"] != "archived" {
		t.Errorf("unexpected body: %v", gotContent["body"])
	}
	if _, present := gotContent["replacement_room"]; present {
		t.Error("zero replacement room should be omitted")
	}
}

func TestTransactionIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		parts := strings.Split(request.URL.Path, "/")
		transactionID := parts[len(parts)-1]
		if seen[transactionID] {
			t.Errorf("transaction ID reused: %s", transactionID)
		}
		seen[transactionID] = true
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SendEventResponse{
			EventID: ref.MustParseEventID("$x"),
		})
	})

	room := ref.MustParseRoomID("!room:test.local")
	for range 5 {
		if _, err := session.SendMessage(context.Background(), room, NewTextMessage("x")); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 distinct transaction IDs, got %d", len(seen))
	}
}
