// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rest implements gateway.Store against a hosted backend's
// PostgREST row API.
//
// Queries map onto PostgREST's URL dialect:
//
//	GET    /rest/v1/messages?select=*&conversation_id=eq.c1&order=created_at.asc,id.asc
//	GET    /rest/v1/profiles?select=*&id=neq.u1&or=(username.ilike.*sam*,full_name.ilike.*sam*)&limit=10
//	POST   /rest/v1/messages                       (Prefer: return=representation)
//	PATCH  /rest/v1/messages?id=eq.m1&sender_id=eq.u1
//	DELETE /rest/v1/messages?id=in.("m1","m2")
//	POST   /rest/v1/rpc/add_reaction
//
// Every request carries the project API key in the apikey header and
// a bearer token (the API key itself unless an access token is
// configured). PostgREST error bodies ({code, message, details, hint})
// become *gateway.Error values: SQLSTATE 23505 maps to
// CodeUniqueViolation, a missing table or function to CodeNotFound,
// other 4xx responses to CodeInvalid, and 5xx or transport failures
// to CodeUnavailable.
//
// Inequality follows SQL semantics on the server: neq does not match
// NULL. Every column the chat core filters with neq is NOT NULL.
package rest
