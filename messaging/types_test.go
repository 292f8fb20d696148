// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"testing"

	"github.com/bureau-foundation/modmail/lib/ref"
)

func TestEventRelation(t *testing.T) {
	t.Run("replace relation", func(t *testing.T) {
		content := map[string]any{
			"m.relates_to": map[string]any{
				"rel_type": "m.replace",
				"event_id": "$orig1",
			},
		}
		relType, target, ok := EventRelation(content)
		if !ok {
			t.Fatal("expected relation")
		}
		if relType != RelReplace {
			t.Errorf("unexpected rel_type: %s", relType)
		}
		if target != ref.MustParseEventID("$orig1") {
			t.Errorf("unexpected target: %s", target)
		}
	})

	t.Run("no relation", func(t *testing.T) {
		if _, _, ok := EventRelation(map[string]any{"body": "hi"}); ok {
			t.Fatal("expected no relation")
		}
	})

	t.Run("malformed target event ID", func(t *testing.T) {
		content := map[string]any{
			"m.relates_to": map[string]any{
				"rel_type": "m.replace",
				"event_id": "not-an-event-id",
			},
		}
		if _, _, ok := EventRelation(content); ok {
			t.Fatal("expected malformed target to be rejected")
		}
	})
}

func TestEventNewBody(t *testing.T) {
	content := map[string]any{
		"body": "* fixed",
		"m.new_content": map[string]any{
			"msgtype": "m.text",
			"body":    "fixed",
		},
	}
	body, ok := EventNewBody(content)
	if !ok {
		t.Fatal("expected new content")
	}
	if body != "fixed" {
		t.Errorf("got %q, want %q", body, "fixed")
	}

	if _, ok := EventNewBody(map[string]any{"body": "plain"}); ok {
		t.Fatal("expected no new content for plain message")
	}
}

func TestEventFile(t *testing.T) {
	t.Run("file with filename", func(t *testing.T) {
		content := map[string]any{
			"msgtype":  "m.file",
			"body":     "report.pdf",
			"filename": "report.pdf",
			"url":      "mxc://test.local/media1",
		}
		uri, name, ok := EventFile(content)
		if !ok {
			t.Fatal("expected file")
		}
		if uri != "mxc://test.local/media1" {
			t.Errorf("unexpected URI: %s", uri)
		}
		if name != "report.pdf" {
			t.Errorf("unexpected name: %s", name)
		}
	})

	t.Run("image falls back to body for name", func(t *testing.T) {
		content := map[string]any{
			"msgtype": "m.image",
			"body":    "photo.png",
			"url":     "mxc://test.local/media2",
		}
		_, name, ok := EventFile(content)
		if !ok {
			t.Fatal("expected file")
		}
		if name != "photo.png" {
			t.Errorf("unexpected name: %s", name)
		}
	})

	t.Run("text message is not a file", func(t *testing.T) {
		if _, _, ok := EventFile(map[string]any{"msgtype": "m.text", "body": "hi"}); ok {
			t.Fatal("expected no file")
		}
	})

	t.Run("file without URL rejected", func(t *testing.T) {
		if _, _, ok := EventFile(map[string]any{"msgtype": "m.file", "body": "x"}); ok {
			t.Fatal("expected no file without URL")
		}
	})
}

func TestNewEditMessageRoundTrip(t *testing.T) {
	// The wire form of an edit must decode back through the receive-side
	// helpers: the router routes edits with EventRelation + EventNewBody.
	edit := NewEditMessage(ref.MustParseEventID("$orig1"), "fixed")
	encoded, err := json.Marshal(edit)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var content map[string]any
	if err := json.Unmarshal(encoded, &content); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	relType, target, ok := EventRelation(content)
	if !ok || relType != RelReplace {
		t.Fatalf("expected m.replace relation, got %q ok=%v", relType, ok)
	}
	if target != ref.MustParseEventID("$orig1") {
		t.Errorf("unexpected target: %s", target)
	}
	body, ok := EventNewBody(content)
	if !ok || body != "fixed" {
		t.Errorf("new body: got %q ok=%v", body, ok)
	}
}
