// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite connection pool behind the
// document store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies one set
// of pragmas to every connection:
//
//   - journal_mode=WAL: the session pumps write documents while list
//     and export requests read them; WAL keeps readers off the writer.
//   - synchronous=NORMAL: survives process crashes without an fsync per
//     leader patch.
//   - busy_timeout: wait for the write lock instead of failing with
//     SQLITE_BUSY (configurable, 5 seconds by default).
//   - cache_size=-8192 and temp_store=MEMORY.
//
// Callers either Take/Put a connection themselves or use WithConn:
//
//	err := pool.WithConn(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args})
//	})
//
// Connections are not safe for concurrent use; each goroutine holds
// its own for the duration of its work. SQL is written directly with
// sqlitex; there is no query builder.
package sqlitepool
