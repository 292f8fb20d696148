// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the subset of the Matrix client-server API
// the modmail service uses.
//
// [Client] is an unauthenticated Matrix client holding the homeserver
// URL and HTTP transport. It handles password login and token-based
// session creation, returning authenticated [Session] values that
// share the Client's transport.
//
// [Session] performs the authenticated operations: room management
// (create, join, leave, invite, kick), message and state event sending
// with idempotent transaction IDs, room history pagination, alias
// resolution, media upload, incremental sync with long-polling, and
// profile lookups. The access token lives in mmap-backed
// secret.Buffer memory (locked against swap, excluded from core
// dumps); callers must Close the Session to release it.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_NOT_FOUND, etc.) and HTTP status
// code. [IsMatrixError] tests for a specific code. Request URLs are
// built by string concatenation rather than url.URL to avoid
// double-encoding of path segments such as room aliases.
//
// Edit relations are first-class: [NewEditMessage] produces an
// m.replace event, and the Event* helpers decode relations, bodies,
// and file attachments out of raw event content on the receive side.
package messaging
