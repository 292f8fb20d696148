// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// modmail-service is the ticket relay daemon. It long-polls the Matrix
// /sync endpoint and bridges direct message conversations into
// staff-facing ticket rooms: a user's first DM opens a ticket room
// under the configured space, subsequent messages are mirrored in, and
// staff replies are mirrored back out. Edits follow their original
// message through the link table in either direction. An archive
// action renders the ticket's history as an HTML transcript, delivers
// it to the archive room, and tears the ticket down.
//
// Runtime state (open tickets, message links, sync token) is persisted
// to SQLite so a restart resumes mid-conversation. A CBOR control
// socket serves status, ticket listing, and archive requests for
// modmailctl.
package main
