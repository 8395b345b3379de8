// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides network and HTTP I/O helpers.
//
// Body helpers (ReadBody, DecodeResponse, ErrorBody) bound every read
// so an oversized upload or response cannot exhaust memory. Document
// uploads use ReadBody with the configured message limit; the JSON
// helpers are used by clients of the document API.
//
// IsExpectedCloseError classifies the errors that show up when a
// websocket peer goes away, so session teardown can log them at debug
// level instead of as failures.
package netutil
