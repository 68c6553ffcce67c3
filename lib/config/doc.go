// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads chatsync configuration.
//
// Configuration comes from one YAML file named by the CHATSYNC_CONFIG
// environment variable or the --config flag. There is no discovery and
// no fallback search path. The file may carry development, staging,
// and production sections whose non-empty fields override the base
// values when environment matches.
//
// String values may reference ${VAR} or ${VAR:-default}; they are
// expanded from the process environment after overrides apply.
//
//	environment: production
//	backend:
//	  kind: rest
//	  url: https://chat.example.com
//	  api_key_file: ${CREDENTIALS_DIRECTORY:-/run/secrets}/chat-api-key
//	session:
//	  user_id: 3f1c...
//	  typing_timeout: 3s
package config
