// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/modmail/lib/ref"
	"github.com/bureau-foundation/modmail/lib/sqlitepool"
)

// Store persists tickets, message links, and the sync position in a
// single SQLite database. The Registry and LinkTable write through to
// it on every mutation and replay it at startup, so a restart resumes
// exactly where the previous run stopped.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// StoreConfig holds the parameters for opening a store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to 4
	// if zero or negative.
	PoolSize int

	// Logger receives operational messages.
	Logger *slog.Logger
}

const storeSchema = `
	CREATE TABLE IF NOT EXISTS tickets (
		user_id    TEXT PRIMARY KEY,
		room_id    TEXT NOT NULL UNIQUE,
		dm_room_id TEXT NOT NULL,
		opened_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_links (
		origin_event TEXT PRIMARY KEY,
		mirror_event TEXT NOT NULL UNIQUE,
		room_id      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS message_links_room
		ON message_links (room_id);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

// OpenStore opens (creating if necessary) the bridge database.
func OpenStore(cfg StoreConfig) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		Prepare: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bridge store: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// InsertTicket records a new open ticket.
func (s *Store) InsertTicket(ctx context.Context, ticket Ticket) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO tickets (user_id, room_id, dm_room_id, opened_at) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{ticket.User.String(), ticket.Room.String(), ticket.DMRoom.String(), ticket.OpenedAt.UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("bridge store: insert ticket: %w", err)
	}
	return nil
}

// DeleteTicket removes a ticket and all of its message links in one
// transaction. Deleting a user with no ticket row is a no-op.
func (s *Store) DeleteTicket(ctx context.Context, user ref.UserID) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("bridge store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var roomID string
	err = sqlitex.Execute(conn,
		"SELECT room_id FROM tickets WHERE user_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{user.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				roomID = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("bridge store: find ticket: %w", err)
	}
	if roomID == "" {
		return nil
	}

	err = sqlitex.Execute(conn,
		"DELETE FROM message_links WHERE room_id = ?",
		&sqlitex.ExecOptions{Args: []any{roomID}})
	if err != nil {
		return fmt.Errorf("bridge store: delete links: %w", err)
	}

	err = sqlitex.Execute(conn,
		"DELETE FROM tickets WHERE user_id = ?",
		&sqlitex.ExecOptions{Args: []any{user.String()}})
	if err != nil {
		return fmt.Errorf("bridge store: delete ticket: %w", err)
	}
	return nil
}

// LoadTickets returns every persisted ticket.
func (s *Store) LoadTickets(ctx context.Context) ([]Ticket, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var tickets []Ticket
	err = sqlitex.Execute(conn,
		"SELECT user_id, room_id, dm_room_id, opened_at FROM tickets",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				user, err := ref.ParseUserID(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("row %q: %w", stmt.ColumnText(0), err)
				}
				room, err := ref.ParseRoomID(stmt.ColumnText(1))
				if err != nil {
					return fmt.Errorf("row %q: %w", stmt.ColumnText(1), err)
				}
				dmRoom, err := ref.ParseRoomID(stmt.ColumnText(2))
				if err != nil {
					return fmt.Errorf("row %q: %w", stmt.ColumnText(2), err)
				}
				tickets = append(tickets, Ticket{
					User:     user,
					Room:     room,
					DMRoom:   dmRoom,
					OpenedAt: time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("bridge store: load tickets: %w", err)
	}
	return tickets, nil
}

// InsertLink records a mirrored message pair.
func (s *Store) InsertLink(ctx context.Context, link Link) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO message_links (origin_event, mirror_event, room_id) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{link.Origin.String(), link.Mirror.String(), link.Room.String()},
		})
	if err != nil {
		return fmt.Errorf("bridge store: insert link: %w", err)
	}
	return nil
}

// DeleteRoomLinks removes every link belonging to a ticket room.
func (s *Store) DeleteRoomLinks(ctx context.Context, room ref.RoomID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM message_links WHERE room_id = ?",
		&sqlitex.ExecOptions{Args: []any{room.String()}})
	if err != nil {
		return fmt.Errorf("bridge store: delete room links: %w", err)
	}
	return nil
}

// LoadLinks returns every persisted message link.
func (s *Store) LoadLinks(ctx context.Context) ([]Link, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var links []Link
	err = sqlitex.Execute(conn,
		"SELECT origin_event, mirror_event, room_id FROM message_links",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				origin, err := ref.ParseEventID(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("row %q: %w", stmt.ColumnText(0), err)
				}
				mirror, err := ref.ParseEventID(stmt.ColumnText(1))
				if err != nil {
					return fmt.Errorf("row %q: %w", stmt.ColumnText(1), err)
				}
				room, err := ref.ParseRoomID(stmt.ColumnText(2))
				if err != nil {
					return fmt.Errorf("row %q: %w", stmt.ColumnText(2), err)
				}
				links = append(links, Link{Room: room, Origin: origin, Mirror: mirror})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("bridge store: load links: %w", err)
	}
	return links, nil
}

// SyncToken returns the stored sync position, or "" if none has been
// recorded yet.
func (s *Store) SyncToken(ctx context.Context) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", err
	}
	defer s.pool.Put(conn)

	var token string
	err = sqlitex.Execute(conn,
		"SELECT value FROM state WHERE key = 'sync_token'",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				token = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("bridge store: load sync token: %w", err)
	}
	return token, nil
}

// SetSyncToken records the sync position to resume from after a
// restart.
func (s *Store) SetSyncToken(ctx context.Context, token string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT INTO state (key, value) VALUES ('sync_token', ?) "+
			"ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		&sqlitex.ExecOptions{Args: []any{token}})
	if err != nil {
		return fmt.Errorf("bridge store: save sync token: %w", err)
	}
	return nil
}
