// Package storage provides the two storage tiers behind the cache: a
// bounded, TTL-aware in-memory tier and a durable SQLite-backed disk tier.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          Coordinator                │
//	│   (routing, fan-out, merging)       │
//	└─────────────────────────────────────┘
//	          │                │
//	          ▼                ▼
//	┌────────────────┐ ┌────────────────┐
//	│   MemoryTier   │ │    DiskTier    │
//	│ TTL + eviction │ │ SQLite, ACID   │
//	└────────────────┘ └────────────────┘
//
// Both tiers answer the same operation set (Put, Get, GetGroup, DeleteKey,
// DeleteGroup, List) and register handlers for the corresponding request
// types on the bus. A write lands in exactly one tier: the coordinator
// routes on the request's persistent flag. A key reaches both tiers only
// when it is written once with and once without that flag.
//
// # Memory tier
//
// MemoryTier keeps records in a map guarded by a single mutex, giving every
// operation a total order. Each record carries its insertion time, an
// optional absolute expiry, and a handle into the eviction index: an
// insertion-ordered list with exactly one node per record. A background
// reaper wakes on a fixed interval and, under the tier lock, first removes
// expired records, then evicts oldest-first until usage fits the configured
// byte budget. Usage accounting is symmetric: the byte cost charged at
// insertion is stored on the record and refunded verbatim at removal.
//
// # Disk tier
//
// DiskTier stores rows in a single SQLite table
//
//	store(key TEXT PRIMARY KEY, value TEXT, group_name TEXT)
//
// through the pure-Go modernc.org/sqlite driver. Writes run inside an
// explicit transaction and roll back on failure; reads use prepared
// statements held for the life of the tier. Rows have no TTL and survive
// restarts; durability is whatever SQLite guarantees.
//
// # Concurrency
//
// Each tier serializes its operations with its own mutex. Handlers never
// block on anything but that mutex, and never dispatch on the bus, so tier
// handlers cannot deadlock the worker pool.
package storage
