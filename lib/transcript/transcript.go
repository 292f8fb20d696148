// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcript renders a closed ticket's message history as a
// self-contained HTML document. Rendering is pure: the same messages
// always produce the same document, and nothing here talks to the
// network.
//
// Message bodies are treated as markdown (GFM) with fenced code blocks
// syntax-highlighted via Chroma. Raw HTML in message bodies is escaped,
// never passed through.
package transcript

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/bureau-foundation/modmail/lib/ref"
)

// Message is one message of a ticket's history.
type Message struct {
	// Sender is the Matrix user that sent the message.
	Sender ref.UserID

	// SenderName is the sender's display name at render time. Falls
	// back to the user ID when empty.
	SenderName string

	// Timestamp is the origin server timestamp.
	Timestamp time.Time

	// Body is the message text, interpreted as markdown. May be empty
	// for attachment-only messages.
	Body string

	// Attachments lists files attached to the message.
	Attachments []Attachment

	// Edited marks messages whose current body came from an edit.
	Edited bool
}

// Attachment is one file attached to a message.
type Attachment struct {
	Name string
	URL  string
}

// Document is a rendered transcript.
type Document struct {
	// HTML is the complete document, ready to write to a file or
	// upload as media.
	HTML []byte

	// Participants lists every distinct sender in order of first
	// appearance.
	Participants []ref.UserID

	// MessageCount is the number of messages rendered.
	MessageCount int

	// Truncated marks transcripts whose history hit the fetch limit;
	// older messages exist but are not included.
	Truncated bool
}

const timestampFormat = "2006-01-02 15:04:05 UTC"

// Render produces the transcript document for a ticket. Messages are
// rendered oldest first regardless of input order; ties keep their
// input order. truncated is recorded verbatim in the document and
// noted in its header.
func Render(roomName string, messages []Message, truncated bool) (*Document, error) {
	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	participants := collectParticipants(sorted)

	var out strings.Builder
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	out.WriteString("<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&out, "<title>Ticket transcript: %s</title>\n", html.EscapeString(roomName))
	out.WriteString(documentStyle)
	out.WriteString("</head>\n<body>\n")

	fmt.Fprintf(&out, "<h1>Ticket transcript: %s</h1>\n", html.EscapeString(roomName))
	out.WriteString("<div class=\"meta\">\n")
	fmt.Fprintf(&out, "<p>%d messages", len(sorted))
	if truncated {
		out.WriteString(" (history truncated; older messages not included)")
	}
	out.WriteString("</p>\n<p>Participants: ")
	for index, participant := range participants {
		if index > 0 {
			out.WriteString(", ")
		}
		out.WriteString(html.EscapeString(participant.String()))
	}
	out.WriteString("</p>\n</div>\n")

	for i := range sorted {
		if err := renderMessage(&out, &sorted[i]); err != nil {
			return nil, err
		}
	}

	out.WriteString("</body>\n</html>\n")

	return &Document{
		HTML:         []byte(out.String()),
		Participants: participants,
		MessageCount: len(sorted),
		Truncated:    truncated,
	}, nil
}

func renderMessage(out *strings.Builder, message *Message) error {
	out.WriteString("<div class=\"message\">\n")

	name := message.SenderName
	if name == "" {
		name = message.Sender.String()
	}
	fmt.Fprintf(out, "<div class=\"header\"><span class=\"sender\">%s</span> <span class=\"timestamp\">%s</span>",
		html.EscapeString(name),
		message.Timestamp.UTC().Format(timestampFormat))
	if message.Edited {
		out.WriteString(" <span class=\"edited\">(edited)</span>")
	}
	out.WriteString("</div>\n")

	if message.Body == "" && len(message.Attachments) == 0 {
		out.WriteString("<div class=\"body empty\">(no content)</div>\n")
	} else if message.Body != "" {
		rendered, err := renderMarkdown(message.Body)
		if err != nil {
			return err
		}
		out.WriteString("<div class=\"body\">\n")
		out.WriteString(rendered)
		out.WriteString("</div>\n")
	}

	if len(message.Attachments) > 0 {
		out.WriteString("<ul class=\"attachments\">\n")
		for _, attachment := range message.Attachments {
			name := attachment.Name
			if name == "" {
				name = "attachment"
			}
			fmt.Fprintf(out, "<li><a href=\"%s\">%s</a></li>\n",
				html.EscapeString(attachment.URL),
				html.EscapeString(name))
		}
		out.WriteString("</ul>\n")
	}

	out.WriteString("</div>\n")
	return nil
}

// collectParticipants returns distinct senders in first-seen order.
func collectParticipants(messages []Message) []ref.UserID {
	seen := make(map[ref.UserID]struct{}, 4)
	var participants []ref.UserID
	for i := range messages {
		sender := messages[i].Sender
		if _, ok := seen[sender]; ok {
			continue
		}
		seen[sender] = struct{}{}
		participants = append(participants, sender)
	}
	return participants
}

const documentStyle = `<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; color: #1f2328; }
.meta { color: #59636e; border-bottom: 1px solid #d1d9e0; padding-bottom: 1rem; }
.message { margin: 1rem 0; }
.header .sender { font-weight: 600; }
.header .timestamp, .header .edited { color: #59636e; font-size: 0.85rem; }
.body.empty { color: #59636e; font-style: italic; }
.body p { margin: 0.25rem 0; }
.attachments { margin: 0.25rem 0; }
pre { padding: 0.5rem; overflow-x: auto; }
</style>
`
