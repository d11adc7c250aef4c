// Package store defines the [Backend] interface for fixed-window counter
// backends and provides the local implementations:
//
//   - [MemoryStore]: fast, in-memory counters that are lost on restart.
//   - [SQLiteStore]: persistent counters backed by a SQLite database.
//
// Distributed backends live in the upstash and redis subpackages. They share
// [CheckScript] so a request is counted in a single atomic round trip, and
// they report failures as [*BackendError] values classified by [Kind].
// [Breaker] wraps any backend with a circuit breaker.
//
// Custom backends can be created by implementing the [Backend] interface and
// verified with the storetest package.
package store
