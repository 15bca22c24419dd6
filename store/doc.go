// Package store defines the persistence contracts for conversation history
// and audit logs, together with the data shapes they move.
//
// Two independent capability interfaces are provided so a deployment can
// mix backends — for example a fast Redis list for history next to a
// durable Postgres table for logs — without coupling their lifecycles:
//
//   - HistoryStore: append, read, trim and clear per-session histories
//   - LogStore: append request/response/error records and query them
//
// # Session isolation
//
// Histories are namespaced by SessionKey, the (user ID, session ID) pair.
// SessionKey.String percent-encodes both fields before joining them, so a
// backend key built from it can never collide across users, whatever the
// IDs contain.
//
// # Available Implementations
//
//   - store/memory: in-process maps, zero configuration, test friendly
//   - store/file: JSON files per session plus a JSON-lines log
//   - store/redis: Redis lists with optional TTL
//   - store/sqlite: lightweight serverless file database
//   - store/postgres: pooled pgx connections with JSONB payloads
//
// All implementations share the same behavior: Initialize is idempotent,
// a missing history reads as empty, clearing a missing history succeeds,
// and every operation after Close fails with ErrClosed.
//
// # Errors
//
// Backend failures are reported as *Error values tagged with an ErrorKind
// (connection, timeout, not_found, serialization) and wrapping the
// underlying error for errors.Is/As inspection.
package store
