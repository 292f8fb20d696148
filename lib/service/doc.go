// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the shared runtime plumbing for the modmail
// daemon: the Matrix /sync long-poll loop (InitialSync, RunSyncLoop)
// and the Unix-socket control protocol (SocketServer, ControlClient).
//
// The control protocol is CBOR request-response over a Unix socket.
// Each connection carries exactly one request and one response. The
// request is a CBOR map with an "action" field naming the registered
// handler; the response is a Response envelope ({ok, error, data}).
// Access control is the socket file's permissions — the socket lives
// in a directory only the operator can reach.
package service
