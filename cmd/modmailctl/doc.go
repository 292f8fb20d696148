// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// modmailctl is the operator CLI for the modmail service. It talks to
// the daemon's control socket for status, ticket listing, and archive
// requests, and performs the one-time Matrix login that provisions the
// daemon's access token file.
package main
