// Package kvstore is a typed key/value store with JSON serialization and
// lazy, read-time expiry over pluggable storage areas.
//
// Each value is written as an envelope {"data", "created", "expiry"} under
// prefix+key. An entry is valid while expiry is null or now < created+expiry;
// expired entries read as absent and are removed by the read that finds them.
// No background timer runs: CleanExpired sweeps only when a caller asks.
//
// Store operations never return errors. Storage failures (an unavailable
// area, a failing backend, undecodable data) degrade to false or the
// caller's default and are logged.
//
// Store serializes its own operations, but writers in other processes
// sharing a sqlite file or postgres table race on the same key with last
// write wins. There is no cross-process consistency guarantee.
package kvstore
