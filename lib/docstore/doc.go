// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package docstore persists session documents in SQLite.
//
// A document is an opaque blob with an owner, a title and a
// modification time. The store never interprets the blob. Each write
// compresses it with the configured algorithm (LZ4 or zstd, falling
// back to uncompressed storage when that does not help) and records
// its BLAKE3 digest. A leader resends the full document after every
// edit, so [Store.Update] compares digests and skips the write when
// nothing changed.
//
// [Store] satisfies the storage collaborator of the conduct package.
// Owner-scoped operations ([Store.Copy], [Store.Delete]) return
// [ErrNotOwner] for documents owned by someone else; every lookup
// returns [ErrNotFound] for unknown ids.
package docstore
