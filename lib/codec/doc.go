// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration.
//
// JSON is the wire format for the remote gateway. CBOR is used for
// compact local artifacts: session snapshots written by the export
// command. Encoding uses Core Deterministic Encoding (RFC 8949 §4.2),
// so the same snapshot always produces the same bytes and exported
// files can be compared byte for byte.
//
// Types carry `json` tags only. fxamacker/cbor falls back to `json`
// tags when `cbor` tags are absent, so one tag governs both formats.
package codec
