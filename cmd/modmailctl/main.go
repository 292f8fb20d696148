// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/modmail/lib/secret"
	"github.com/bureau-foundation/modmail/lib/service"
	"github.com/bureau-foundation/modmail/lib/version"
	"github.com/bureau-foundation/modmail/messaging"
)

// defaultSocketPath matches the service's control.socket_path default.
const defaultSocketPath = "/run/modmail/control.sock"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch os.Args[1] {
	case "status":
		return runStatus(os.Args[2:])
	case "tickets":
		return runTickets(os.Args[2:])
	case "archive":
		return runArchive(os.Args[2:])
	case "login":
		return runLogin(os.Args[2:])
	case "version":
		fmt.Printf("modmailctl %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: modmailctl <subcommand> [flags]

Subcommands:
  status    Show service status
  tickets   List open tickets
  archive   Archive a ticket by room or user
  login     Log the service account in and write its token file
  version   Print version information

Run 'modmailctl <subcommand> --help' for subcommand flags.
`)
}

// socketFlag registers the shared --socket flag on a flag set.
func socketFlag(flags *pflag.FlagSet) *string {
	return flags.StringP("socket", "s", defaultSocketPath, "path to the service control socket")
}

func controlContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// statusResult mirrors the service's "status" response.
type statusResult struct {
	Version       string `cbor:"version"`
	UserID        string `cbor:"user_id"`
	OpenTickets   int    `cbor:"open_tickets"`
	MessageLinks  int    `cbor:"message_links"`
	UptimeSeconds int64  `cbor:"uptime_seconds"`
}

func runStatus(args []string) error {
	flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
	socketPath := socketFlag(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx, cancel := controlContext()
	defer cancel()

	var status statusResult
	client := service.NewControlClient(*socketPath)
	if err := client.Call(ctx, "status", nil, &status); err != nil {
		return err
	}

	fmt.Printf("version:       %s\n", status.Version)
	fmt.Printf("user:          %s\n", status.UserID)
	fmt.Printf("open tickets:  %d\n", status.OpenTickets)
	fmt.Printf("message links: %d\n", status.MessageLinks)
	fmt.Printf("uptime:        %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	return nil
}

// ticketsResult mirrors the service's "tickets" response.
type ticketsResult struct {
	Tickets []struct {
		UserID   string `cbor:"user_id"`
		RoomID   string `cbor:"room_id"`
		DMRoomID string `cbor:"dm_room_id"`
		OpenedAt int64  `cbor:"opened_at"`
	} `cbor:"tickets"`
}

func runTickets(args []string) error {
	flags := pflag.NewFlagSet("tickets", pflag.ContinueOnError)
	socketPath := socketFlag(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx, cancel := controlContext()
	defer cancel()

	var tickets ticketsResult
	client := service.NewControlClient(*socketPath)
	if err := client.Call(ctx, "tickets", nil, &tickets); err != nil {
		return err
	}

	if len(tickets.Tickets) == 0 {
		fmt.Println("no open tickets")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "USER\tTICKET ROOM\tOPENED")
	for _, ticket := range tickets.Tickets {
		opened := time.Unix(ticket.OpenedAt, 0).UTC().Format(time.RFC3339)
		fmt.Fprintf(writer, "%s\t%s\t%s\n", ticket.UserID, ticket.RoomID, opened)
	}
	return writer.Flush()
}

// archiveResult mirrors the service's "archive" response.
type archiveResult struct {
	RoomID string `cbor:"room_id"`
}

func runArchive(args []string) error {
	flags := pflag.NewFlagSet("archive", pflag.ContinueOnError)
	socketPath := socketFlag(flags)
	roomID := flags.String("room", "", "ticket room ID to archive")
	userID := flags.String("user", "", "user whose ticket to archive")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if (*roomID == "") == (*userID == "") {
		return fmt.Errorf("exactly one of --room or --user is required")
	}

	ctx, cancel := controlContext()
	defer cancel()

	fields := map[string]any{}
	if *roomID != "" {
		fields["room_id"] = *roomID
	}
	if *userID != "" {
		fields["user_id"] = *userID
	}

	var result archiveResult
	client := service.NewControlClient(*socketPath)
	if err := client.Call(ctx, "archive", fields, &result); err != nil {
		return err
	}
	fmt.Printf("archived %s\n", result.RoomID)
	return nil
}

func runLogin(args []string) error {
	flags := pflag.NewFlagSet("login", pflag.ContinueOnError)
	homeserverURL := flags.String("homeserver", "http://localhost:6167", "Matrix homeserver URL")
	passwordFile := flags.String("password-file", "", "path to file containing the password, or - to prompt (default: prompt)")
	tokenFile := flags.String("token-file", "", "path to write the access token to (the service's homeserver.access_token_file)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: modmailctl login <username> [flags]")
	}
	if *tokenFile == "" {
		return fmt.Errorf("--token-file is required")
	}
	username := flags.Arg(0)

	password, err := readPassword(*passwordFile)
	if err != nil {
		return err
	}
	defer password.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: *homeserverURL})
	if err != nil {
		return err
	}
	if _, err := client.ServerVersions(ctx); err != nil {
		return fmt.Errorf("homeserver unreachable: %w", err)
	}
	session, err := client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer session.Close()

	// Verify the session works before writing anything.
	userID, err := session.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("session verification failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(*tokenFile), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(*tokenFile, []byte(session.AccessToken()+"\n"), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Logged in as %s\n", userID)
	fmt.Fprintf(os.Stderr, "Access token written to %s\n", *tokenFile)
	return nil
}

// readPassword reads the login password from a file, or prompts on the
// terminal with echo disabled when no file is given.
func readPassword(passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" && passwordFile != "-" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", passwordFile, err)
		}
		for len(data) > 0 && (data[len(data)-1] == '\n' || data[len(data)-1] == '\r') {
			data = data[:len(data)-1]
		}
		if len(data) == 0 {
			secret.Zero(data)
			return nil, fmt.Errorf("password file %s is empty", passwordFile)
		}
		buffer, err := secret.NewFromBytes(data)
		if err != nil {
			secret.Zero(data)
			return nil, err
		}
		return buffer, nil
	}

	stdinFD := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFD) {
		return nil, fmt.Errorf("no terminal available for password prompt (use --password-file)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(stdinFD)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	buffer, err := secret.NewFromBytes(passwordBytes)
	if err != nil {
		secret.Zero(passwordBytes)
		return nil, err
	}
	return buffer, nil
}
