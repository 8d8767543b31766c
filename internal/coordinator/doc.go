// Package coordinator implements the storage policy layer: it receives every
// client operation from the front-end and decides which tier (memory, disk,
// or both) answers it, then merges the tier responses into one reply.
//
// # Routing policy
//
// The policy is the consistency contract the whole cache exposes:
//
//	SET persistent=true    disk tier only
//	SET persistent=false   memory tier only
//	GET KEY                memory first; on empty value, fall back to disk
//	GET GROUP              both tiers in parallel; memory pairs first
//	DELETE KEY             both tiers in parallel; counts summed
//	DELETE GROUP           both tiers in parallel; counts summed
//	LIST                   both tiers in parallel; memory entries first
//
// Writes are tier-disjoint: a single SET touches exactly one tier, so a key
// can live in at most one tier at a time (short of clients flipping the
// persistent flag between writes to the same key). The coordinator never
// back-fills: a GET KEY satisfied by the disk tier does not populate the
// memory tier.
//
// # Validation
//
// Requests are validated before any dispatch: an empty key on a key
// operation, an empty group on a group operation, or an empty key or value
// on SET fail with ErrInvalidArgument and never reach a tier.
//
// # Concurrency
//
// The coordinator's handlers run on bus workers and await nested dispatches
// on the same bus. Fan-out depth is at most 2 (one request per tier), which
// the bus pool size is required to exceed. For the parallel operations both
// tier requests are enqueued before either response is awaited; no ordering
// between the two tier visits is guaranteed.
package coordinator
