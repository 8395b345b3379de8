// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR configuration for tandem.
//
// Binary websocket frames exchanged with session participants are
// single CBOR data items. Every package encodes through this one
// configuration so the same logical frame always produces the same
// bytes:
//
//	data, err := codec.Marshal(frame)
//	err = codec.Unmarshal(data, &frame)
//
// JSON is reserved for the HTTP document API. Types that only travel
// inside websocket frames carry `cbor` struct tags; types returned by
// the HTTP API carry `json` tags.
package codec
