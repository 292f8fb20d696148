// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/modmail/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// control socket. This is separate from the server's read/write
// timeouts — it covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request. Matched to the server's
// readTimeout + writeTimeout to account for handler execution time.
// Archive actions fetch history and render a transcript, which can
// take the full window on a slow homeserver.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
// Matches the server's maxRequestSize for symmetry.
const maxResponseSize = 1024 * 1024

// ControlError is returned by Call when the server responds with
// ok=false. It wraps the server's error message and the action that
// failed.
type ControlError struct {
	Action  string
	Message string
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("control error on %q: %s", e.Action, e.Message)
}

// ControlClient sends CBOR requests to the modmail control socket.
// Each Call opens a new connection (matching the server's one-request-
// per-connection model), sends the request, reads the response, and
// closes the connection.
type ControlClient struct {
	socketPath string
}

// NewControlClient creates a client for the control socket at
// socketPath. No authentication beyond the socket file's permissions.
func NewControlClient(socketPath string) *ControlClient {
	return &ControlClient{socketPath: socketPath}
}

// Call sends a CBOR request to the daemon and decodes the response.
//
// The fields parameter may contain any handler-specific request
// fields; the client adds "action" automatically. Pass nil for
// actions that take no additional parameters. The caller must not
// include an "action" key in the fields map.
//
// On success (response ok=true), if result is non-nil and the
// response contains data, the data is CBOR-decoded into result.
//
// On failure (response ok=false), returns a *ControlError containing
// the server's error message. Connection and encoding errors are
// returned as plain errors (not *ControlError).
func (c *ControlClient) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	var request map[string]any
	if fields != nil {
		request = make(map[string]any, len(fields)+1)
		for key, value := range fields {
			request[key] = value
		}
	} else {
		request = make(map[string]any, 1)
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ControlError{
			Action:  action,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// send connects to the socket, writes the request, and reads the
// response. Each call creates a new connection.
func (c *ControlClient) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	// Write the request.
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side. CBOR is self-delimiting so this
	// isn't strictly necessary, but it lets the server's read side
	// see EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	// Read the response.
	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
