// Package memory maintains bounded conversational history per session.
//
// Manager wraps a store.HistoryStore and enforces the history bound on
// every Commit: after appending the new turns it evicts the oldest
// entries beyond MaxHistory in the same operation. Reads fail open — if
// the store is unreachable the session degrades to stateless operation
// and the failure is logged, never surfaced to the caller.
//
// An optional in-process cache (dgraph-io/ristretto) can be enabled via
// Config.CacheSize to absorb repeated history reads for hot sessions. The
// cache is invalidated on Commit and Clear.
package memory
