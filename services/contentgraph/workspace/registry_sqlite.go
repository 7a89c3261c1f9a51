// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// SQLiteRegistry keeps workspaces in a SQLite database.
//
// Thread Safety: Safe for concurrent use. Pointer updates run in a
// transaction that re-reads the current pointer.
type SQLiteRegistry struct {
	conn *sql.DB
	path string
}

// OpenSQLiteRegistry opens or creates the database at path. ":memory:"
// opens a private in-memory database.
func OpenSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating registry directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one connection keeps ":memory:" a single database and serializes
	// writers without SQLITE_BUSY retries
	conn.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteRegistry{conn: conn, path: path}, nil
}

// Create stores a new workspace.
func (r *SQLiteRegistry) Create(ctx context.Context, ws Workspace) error {
	if err := ValidateName(ws.Name); err != nil {
		return err
	}
	now := time.Now().UTC()
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = now
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workspaces (name, kind, base, content_stream, owner, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.Name, string(ws.Kind), ws.BaseWorkspace, string(ws.ContentStreamID),
		ws.Owner, ws.Title, ws.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrWorkspaceAlreadyExists, ws.Name)
		}
		return fmt.Errorf("inserting workspace: %w", err)
	}
	if err := insertHistory(ctx, tx, ws.Name, "", ws.ContentStreamID, now); err != nil {
		return err
	}
	return tx.Commit()
}

const selectWorkspace = `SELECT name, kind, base, content_stream, owner, title, created_at, updated_at FROM workspaces`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row rowScanner) (Workspace, error) {
	var (
		ws                 Workspace
		kind, stream       string
		created, updatedAt int64
	)
	if err := row.Scan(&ws.Name, &kind, &ws.BaseWorkspace, &stream, &ws.Owner, &ws.Title, &created, &updatedAt); err != nil {
		return Workspace{}, err
	}
	ws.Kind = Kind(kind)
	ws.ContentStreamID = eventstore.StreamID(stream)
	ws.CreatedAt = time.UnixMilli(created).UTC()
	ws.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return ws, nil
}

// Get returns one workspace.
func (r *SQLiteRegistry) Get(ctx context.Context, name string) (Workspace, error) {
	ws, err := scanWorkspace(r.conn.QueryRowContext(ctx, selectWorkspace+` WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, name)
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("querying workspace: %w", err)
	}
	return ws, nil
}

// List returns all workspaces sorted by name.
func (r *SQLiteRegistry) List(ctx context.Context) ([]Workspace, error) {
	rows, err := r.conn.QueryContext(ctx, selectWorkspace+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// UpdateContentStream swaps the stream pointer if it equals expected.
func (r *SQLiteRegistry) UpdateContentStream(ctx context.Context, name string, expected, next eventstore.StreamID) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT content_stream FROM workspaces WHERE name = ?`, name).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("checking current stream: %w", err)
	}
	if current != string(expected) {
		return fmt.Errorf("%w: workspace %s points at %s, expected %s", ErrConcurrencyConflict, name, current, expected)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE workspaces SET content_stream = ?, updated_at = ? WHERE name = ?`,
		string(next), now.UnixMilli(), name,
	); err != nil {
		return fmt.Errorf("updating workspace: %w", err)
	}
	if err := insertHistory(ctx, tx, name, expected, next, now); err != nil {
		return err
	}
	return tx.Commit()
}

func insertHistory(ctx context.Context, tx *sql.Tx, name string, old, next eventstore.StreamID, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO workspace_history (workspace, old_stream, new_stream, time) VALUES (?, ?, ?, ?)`,
		name, string(old), string(next), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting workspace history: %w", err)
	}
	return nil
}

// History lists the pointer changes of a workspace.
func (r *SQLiteRegistry) History(ctx context.Context, name string) ([]Repoint, error) {
	if _, err := r.Get(ctx, name); err != nil {
		return nil, err
	}
	rows, err := r.conn.QueryContext(ctx,
		`SELECT old_stream, new_stream, time FROM workspace_history WHERE workspace = ? ORDER BY seq`, name)
	if err != nil {
		return nil, fmt.Errorf("querying workspace history: %w", err)
	}
	defer rows.Close()

	var out []Repoint
	for rows.Next() {
		var (
			old, next string
			at        int64
		)
		if err := rows.Scan(&old, &next, &at); err != nil {
			return nil, fmt.Errorf("scanning workspace history: %w", err)
		}
		out = append(out, Repoint{
			Workspace: name,
			Old:       eventstore.StreamID(old),
			New:       eventstore.StreamID(next),
			At:        time.UnixMilli(at).UTC(),
		})
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLiteRegistry) Close() error {
	return r.conn.Close()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
