// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/bureau-foundation/modmail/lib/ref"
)

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// CreateRoomRequest holds parameters for creating a Matrix room.
type CreateRoomRequest struct {
	Name                      string         `json:"name,omitempty"`
	Topic                     string         `json:"topic,omitempty"`
	Alias                     string         `json:"room_alias_name,omitempty"` // local alias without # or :server
	Visibility                string         `json:"visibility,omitempty"`      // "public" or "private"
	Preset                    string         `json:"preset,omitempty"`          // "private_chat", "public_chat", "trusted_private_chat"
	Invite                    []ref.UserID   `json:"invite,omitempty"`
	CreationContent           map[string]any `json:"creation_content,omitempty"`
	InitialState              []StateEvent   `json:"initial_state,omitempty"`
	PowerLevelContentOverride map[string]any `json:"power_level_content_override,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// StateEvent represents a Matrix state event for room creation or
// state setting.
type StateEvent struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	Content  any    `json:"content"`
}

// MessageContent is the content body of an m.room.message event.
type MessageContent struct {
	MsgType  string    `json:"msgtype"`
	Body     string    `json:"body"`
	URL      string    `json:"url,omitempty"`      // MXC URI for m.file and m.image
	Filename string    `json:"filename,omitempty"` // original file name for m.file
	Info     *FileInfo `json:"info,omitempty"`

	// NewContent carries the replacement body of an edit (rel_type
	// m.replace).
	NewContent *NewContent `json:"m.new_content,omitempty"`
	RelatesTo  *RelatesTo  `json:"m.relates_to,omitempty"`
}

// FileInfo describes an uploaded file.
type FileInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// NewContent is the replacement content of an edit event.
type NewContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// RelatesTo expresses relationships between events. For edits, RelType
// is "m.replace" and EventID is the event being replaced.
type RelatesTo struct {
	RelType string      `json:"rel_type"`
	EventID ref.EventID `json:"event_id"`
}

// RelReplace is the relation type of an edit event.
const RelReplace = "m.replace"

// NewTextMessage creates a plain text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
	}
}

// NewNoticeMessage creates an m.notice message. Notices are the
// conventional message type for automated senders; clients render them
// without notification noise.
func NewNoticeMessage(body string) MessageContent {
	return MessageContent{
		MsgType: "m.notice",
		Body:    body,
	}
}

// NewFileMessage creates an m.file message pointing at uploaded media.
func NewFileMessage(filename, mxcURI, mimeType string, size int64) MessageContent {
	return MessageContent{
		MsgType:  "m.file",
		Body:     filename,
		Filename: filename,
		URL:      mxcURI,
		Info: &FileInfo{
			MimeType: mimeType,
			Size:     size,
		},
	}
}

// NewEditMessage creates an m.replace edit of a previously sent
// message. The top-level body carries the conventional fallback for
// clients that do not understand edits.
func NewEditMessage(target ref.EventID, newBody string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    "* " + newBody,
		NewContent: &NewContent{
			MsgType: "m.text",
			Body:    newBody,
		},
		RelatesTo: &RelatesTo{
			RelType: RelReplace,
			EventID: target,
		},
	}
}

// Event represents a Matrix event from the server.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// EventBody returns the body field of raw event content.
func EventBody(content map[string]any) (string, bool) {
	body, ok := content["body"].(string)
	return body, ok
}

// EventMsgType returns the msgtype field of raw event content.
func EventMsgType(content map[string]any) (string, bool) {
	msgType, ok := content["msgtype"].(string)
	return msgType, ok
}

// EventRelation decodes the m.relates_to block of raw event content.
// Reports false when there is no relation or the target event ID is
// malformed.
func EventRelation(content map[string]any) (relType string, target ref.EventID, ok bool) {
	relates, isMap := content["m.relates_to"].(map[string]any)
	if !isMap {
		return "", ref.EventID{}, false
	}
	relType, _ = relates["rel_type"].(string)
	rawEventID, _ := relates["event_id"].(string)
	target, err := ref.ParseEventID(rawEventID)
	if err != nil {
		return "", ref.EventID{}, false
	}
	return relType, target, relType != ""
}

// EventNewBody returns the replacement body of an edit event (the
// m.new_content block). Reports false for non-edit events.
func EventNewBody(content map[string]any) (string, bool) {
	newContent, isMap := content["m.new_content"].(map[string]any)
	if !isMap {
		return "", false
	}
	body, ok := newContent["body"].(string)
	return body, ok
}

// EventFile returns the MXC URI and file name of an m.file or m.image
// event. Reports false for other message types.
func EventFile(content map[string]any) (mxcURI, filename string, ok bool) {
	msgType, _ := content["msgtype"].(string)
	if msgType != "m.file" && msgType != "m.image" {
		return "", "", false
	}
	mxcURI, _ = content["url"].(string)
	if mxcURI == "" {
		return "", "", false
	}
	filename, _ = content["filename"].(string)
	if filename == "" {
		filename, _ = content["body"].(string)
	}
	return mxcURI, filename, true
}

// RoomMessagesOptions controls pagination for room message fetching.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from now"
	Direction string // "b" (backward/older) or "f" (forward/newer)
	Limit     int    // max events to return; 0 uses server default
}

// RoomMessagesResponse is returned by RoomMessages.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership
// state. Map keys are room IDs; encoding/json uses ref.RoomID's
// TextUnmarshaler for validation at deserialization.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a room the user was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// InviteRequest holds the user ID to invite to a room.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// KickRequest is the request body for kicking a user from a room.
type KickRequest struct {
	UserID ref.UserID `json:"user_id"`
	Reason string     `json:"reason,omitempty"`
}

// SendEventResponse is returned by SendMessage, SendEvent, and
// SendStateEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// UploadResponse is returned by UploadMedia.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// RoomMember represents a member of a Matrix room.
type RoomMember struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Membership  string `json:"membership"`
}

// RoomMembersResponse is returned by the /members endpoint.
type RoomMembersResponse struct {
	Chunk []RoomMemberEvent `json:"chunk"`
}

// RoomMemberEvent is a member state event from the /members endpoint.
type RoomMemberEvent struct {
	Type     string            `json:"type"`
	StateKey string            `json:"state_key"`
	Sender   ref.UserID        `json:"sender"`
	Content  RoomMemberContent `json:"content"`
}

// RoomMemberContent is the content of an m.room.member state event.
type RoomMemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
}

// DisplayNameResponse is returned by the /profile displayname
// endpoint.
type DisplayNameResponse struct {
	DisplayName string `json:"displayname"`
}

// ServerVersionsResponse is returned by Client.ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}
