// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bureau-foundation/modmail/lib/archive"
	"github.com/bureau-foundation/modmail/lib/bridge"
	"github.com/bureau-foundation/modmail/lib/clock"
	"github.com/bureau-foundation/modmail/lib/config"
	"github.com/bureau-foundation/modmail/lib/process"
	"github.com/bureau-foundation/modmail/lib/ref"
	"github.com/bureau-foundation/modmail/lib/secret"
	"github.com/bureau-foundation/modmail/lib/service"
	"github.com/bureau-foundation/modmail/lib/version"
	"github.com/bureau-foundation/modmail/messaging"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "", "path to modmail.yaml (overrides MODMAIL_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("modmail-service")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	session, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	store, err := bridge.OpenStore(bridge.StoreConfig{Path: filepath.Join(cfg.State.Dir, "modmail.db")})
	if err != nil {
		return err
	}
	defer store.Close()

	registry := bridge.NewRegistry(store)
	links := bridge.NewLinkTable(store)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("loading tickets: %w", err)
	}
	if err := links.Load(ctx); err != nil {
		return fmt.Errorf("loading message links: %w", err)
	}

	rooms, err := resolveRooms(ctx, session, cfg)
	if err != nil {
		return err
	}

	codec, err := archive.ParseCodec(cfg.Archive.Compression)
	if err != nil {
		return err
	}
	archives, err := archive.Open(cfg.Archive.Dir, codec)
	if err != nil {
		return err
	}

	modmail := newModmail(session, registry, links, store, archives, rooms, cfg, clock.Real(), logger)

	// Resume from the persisted sync token when there is one; a fresh
	// install takes a full initial sync and starts from its next_batch
	// (history from before the service existed is not replayed).
	sinceToken, err := store.SyncToken(ctx)
	if err != nil {
		return err
	}
	if sinceToken == "" {
		sinceToken, _, err = service.InitialSync(ctx, session, syncFilter)
		if err != nil {
			return err
		}
		if err := store.SetSyncToken(ctx, sinceToken); err != nil {
			return err
		}
	}

	socketServer := service.NewSocketServer(cfg.Control.SocketPath, logger)
	modmail.registerActions(socketServer)
	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("modmail service running",
		"user_id", session.UserID(),
		"staff_room", rooms.StaffRoom,
		"archive_room", rooms.ArchiveRoom,
		"socket", cfg.Control.SocketPath,
		"open_tickets", registry.Len(),
	)

	modmail.run(ctx, sinceToken)

	logger.Info("shutting down")
	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	return nil
}

// openSession builds the authenticated session from the configured
// access token file. The token stays in a locked buffer owned by the
// session.
func openSession(cfg *config.Config) (*messaging.Session, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: cfg.Homeserver.URL})
	if err != nil {
		return nil, err
	}
	userID, err := ref.ParseUserID(cfg.Homeserver.UserID)
	if err != nil {
		return nil, fmt.Errorf("homeserver.user_id: %w", err)
	}
	token, err := secret.ReadFromPath(cfg.Homeserver.AccessTokenFile)
	if err != nil {
		return nil, fmt.Errorf("reading access token: %w", err)
	}
	return client.SessionFromTokenBuffer(userID, token), nil
}

// resolveRooms resolves the three configured aliases. A missing alias
// is an operator misconfiguration and fails startup.
func resolveRooms(ctx context.Context, session *messaging.Session, cfg *config.Config) (resolvedRooms, error) {
	resolve := func(raw string) (ref.RoomID, error) {
		alias, err := ref.ParseRoomAlias(raw)
		if err != nil {
			return ref.RoomID{}, &ConfigurationError{Name: raw, Err: err}
		}
		room, err := session.ResolveAlias(ctx, alias)
		if err != nil {
			return ref.RoomID{}, &ConfigurationError{Name: raw, Err: err}
		}
		return room, nil
	}

	var rooms resolvedRooms
	var err error
	if rooms.TicketSpace, err = resolve(cfg.Rooms.TicketSpace); err != nil {
		return resolvedRooms{}, err
	}
	if rooms.StaffRoom, err = resolve(cfg.Rooms.StaffRoom); err != nil {
		return resolvedRooms{}, err
	}
	if rooms.ArchiveRoom, err = resolve(cfg.Rooms.ArchiveRoom); err != nil {
		return resolvedRooms{}, err
	}
	return rooms, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
