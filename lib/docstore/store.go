// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/tandem/lib/clock"
	"github.com/bureau-foundation/tandem/lib/sqlitepool"
)

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrNotOwner is returned when an owner-scoped operation names a
	// document that belongs to someone else.
	ErrNotOwner = errors.New("docstore: document belongs to another owner")
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	owner         TEXT NOT NULL,
	title         TEXT NOT NULL,
	compression   INTEGER NOT NULL,
	size          INTEGER NOT NULL,
	digest        BLOB NOT NULL,
	data          BLOB,
	last_modified INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_owner ON documents (owner, last_modified);
`

// Digest is the BLAKE3-256 hash of an uncompressed document blob.
type Digest [32]byte

// String returns the lowercase hex encoding, used as an HTTP ETag.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func digestOf(data []byte) Digest {
	return blake3.Sum256(data)
}

// Summary is the listing view of a document.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Size         int       `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Document is a stored document with its decompressed blob.
type Document struct {
	Summary
	Owner  string `json:"owner"`
	Digest Digest `json:"-"`
	Data   []byte `json:"-"`
}

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. The parent directory must
	// exist.
	Path string

	// PoolSize is passed to sqlitepool; zero takes its default.
	PoolSize int

	// Compression is the algorithm tried for every write. Blobs that
	// do not shrink are stored uncompressed regardless.
	Compression Compression

	// Clock stamps last_modified. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store keeps session documents in SQLite. Blobs are opaque: the store
// compresses them, hashes them and hands them back unchanged.
type Store struct {
	pool        *sqlitepool.Pool
	compression Compression
	clock       clock.Clock
	logger      *slog.Logger
}

// Open opens (creating if needed) the document database.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: %w", err)
	}
	return &Store{
		pool:        pool,
		compression: cfg.Compression,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}, nil
}

// Close closes the connection pool, waiting for borrowed connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Create stores a new document for owner and returns its id.
func (s *Store) Create(ctx context.Context, owner, title string, data []byte) (string, error) {
	id := uuid.NewString()
	stored, compression, err := compress(data, s.compression)
	if err != nil {
		return "", fmt.Errorf("docstore: create: %w", err)
	}
	digest := digestOf(data)

	err = s.pool.WithConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"INSERT INTO documents (id, owner, title, compression, size, digest, data, last_modified) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{
				Args: []any{id, owner, title, int64(compression), int64(len(data)),
					digest[:], stored, s.clock.Now().UnixNano()},
			})
	})
	if err != nil {
		return "", fmt.Errorf("docstore: create: %w", err)
	}
	s.logger.Info("document created",
		"document_id", id,
		"owner", owner,
		"size", len(data),
		"compression", compression.String(),
	)
	return id, nil
}

// Fetch returns the document with its decompressed blob.
func (s *Store) Fetch(ctx context.Context, id string) (Document, error) {
	var document Document
	found := false
	err := s.pool.WithConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT owner, title, compression, size, digest, data, last_modified "+
				"FROM documents WHERE id = ?",
			&sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					// Columns: owner(0), title(1), compression(2), size(3),
					// digest(4), data(5), last_modified(6)
					document.ID = id
					document.Owner = stmt.ColumnText(0)
					document.Title = stmt.ColumnText(1)
					document.Size = stmt.ColumnInt(3)
					stmt.ColumnBytes(4, document.Digest[:])
					document.LastModified = time.Unix(0, stmt.ColumnInt64(6)).UTC()

					stored := make([]byte, stmt.ColumnLen(5))
					stmt.ColumnBytes(5, stored)
					data, err := decompress(stored, Compression(stmt.ColumnInt(2)), document.Size)
					if err != nil {
						return err
					}
					document.Data = data
					return nil
				},
			})
	})
	if err != nil {
		return Document{}, fmt.Errorf("docstore: fetch %s: %w", id, err)
	}
	if !found {
		return Document{}, fmt.Errorf("docstore: fetch %s: %w", id, ErrNotFound)
	}
	return document, nil
}

// Update replaces the blob of document id. Writing a blob identical to
// the stored one does nothing, not even a timestamp bump; leaders
// resend the whole document on every edit, most of which only move a
// cursor.
func (s *Store) Update(ctx context.Context, id string, data []byte) (err error) {
	digest := digestOf(data)
	stored, compression, err := compress(data, s.compression)
	if err != nil {
		return fmt.Errorf("docstore: update %s: %w", id, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("docstore: update %s: %w", id, err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("docstore: update %s: begin transaction: %w", id, err)
	}
	defer endTransaction(&err)

	var current Digest
	found := false
	err = sqlitex.Execute(conn, "SELECT digest FROM documents WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			stmt.ColumnBytes(0, current[:])
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("docstore: update %s: %w", id, err)
	}
	if !found {
		return fmt.Errorf("docstore: update %s: %w", id, ErrNotFound)
	}
	if current == digest {
		s.logger.Debug("document unchanged", "document_id", id)
		return nil
	}

	err = sqlitex.Execute(conn,
		"UPDATE documents SET compression = ?, size = ?, digest = ?, data = ?, last_modified = ? WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{int64(compression), int64(len(data)), digest[:], stored,
				s.clock.Now().UnixNano(), id},
		})
	if err != nil {
		return fmt.Errorf("docstore: update %s: %w", id, err)
	}
	s.logger.Debug("document updated",
		"document_id", id,
		"size", len(data),
		"stored_size", len(stored),
	)
	return nil
}

// OwnerOf returns the owner of document id.
func (s *Store) OwnerOf(ctx context.Context, id string) (string, error) {
	var owner string
	found := false
	err := s.pool.WithConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT owner FROM documents WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				owner = stmt.ColumnText(0)
				return nil
			},
		})
	})
	if err != nil {
		return "", fmt.Errorf("docstore: owner of %s: %w", id, err)
	}
	if !found {
		return "", fmt.Errorf("docstore: owner of %s: %w", id, ErrNotFound)
	}
	return owner, nil
}

// List returns owner's documents, most recently modified first.
func (s *Store) List(ctx context.Context, owner string) ([]Summary, error) {
	summaries := []Summary{}
	err := s.pool.WithConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT id, title, size, last_modified FROM documents "+
				"WHERE owner = ? ORDER BY last_modified DESC, id",
			&sqlitex.ExecOptions{
				Args: []any{owner},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					summaries = append(summaries, Summary{
						ID:           stmt.ColumnText(0),
						Title:        stmt.ColumnText(1),
						Size:         stmt.ColumnInt(2),
						LastModified: time.Unix(0, stmt.ColumnInt64(3)).UTC(),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: list %s: %w", owner, err)
	}
	return summaries, nil
}

// Copy duplicates one of owner's documents under a new id. The copy
// keeps the stored encoding; only the id and timestamp change.
func (s *Store) Copy(ctx context.Context, owner, id string) (newID string, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("docstore: copy %s: %w", id, err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return "", fmt.Errorf("docstore: copy %s: begin transaction: %w", id, err)
	}
	defer endTransaction(&err)

	if err := checkOwner(conn, owner, id); err != nil {
		return "", fmt.Errorf("docstore: copy %s: %w", id, err)
	}

	newID = uuid.NewString()
	err = sqlitex.Execute(conn,
		"INSERT INTO documents (id, owner, title, compression, size, digest, data, last_modified) "+
			"SELECT ?, owner, title, compression, size, digest, data, ? FROM documents WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{newID, s.clock.Now().UnixNano(), id},
		})
	if err != nil {
		return "", fmt.Errorf("docstore: copy %s: %w", id, err)
	}
	s.logger.Info("document copied", "document_id", id, "copy_id", newID, "owner", owner)
	return newID, nil
}

// Delete removes one of owner's documents.
func (s *Store) Delete(ctx context.Context, owner, id string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("docstore: delete %s: %w", id, err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("docstore: delete %s: begin transaction: %w", id, err)
	}
	defer endTransaction(&err)

	if err := checkOwner(conn, owner, id); err != nil {
		return fmt.Errorf("docstore: delete %s: %w", id, err)
	}
	if err := sqlitex.Execute(conn, "DELETE FROM documents WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
	}); err != nil {
		return fmt.Errorf("docstore: delete %s: %w", id, err)
	}
	s.logger.Info("document deleted", "document_id", id, "owner", owner)
	return nil
}

func checkOwner(conn *sqlite.Conn, owner, id string) error {
	var stored string
	found := false
	err := sqlitex.Execute(conn, "SELECT owner FROM documents WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			stored = stmt.ColumnText(0)
			return nil
		},
	})
	switch {
	case err != nil:
		return err
	case !found:
		return ErrNotFound
	case stored != owner:
		return ErrNotOwner
	}
	return nil
}
