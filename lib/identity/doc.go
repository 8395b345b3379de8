// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity mints and verifies the bearer tokens that name the
// caller of the document API and the leader websocket.
//
// A token is the caller's identity, base64url encoded, a dot, and the
// hex BLAKE3 keyed hash of the identity under the server's 32-byte
// signing key:
//
//	YWxpY2U.5b1f...
//
// Tokens carry no expiry; rotating the key file invalidates all of
// them. The key lives in a 0600 file created on first start
// ([LoadOrGenerateKey]).
package identity
