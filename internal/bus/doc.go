// Package bus implements the typed request/response dispatcher that connects
// the front-end, the storage coordinator, and the storage tiers.
//
// # Overview
//
// Handlers are registered per (recipient, request type) pair and invoked by a
// fixed pool of workers. Dispatch returns a future the moment the request is
// enqueued; the caller blocks on the future only when it needs the result.
// This keeps every sub-dispatch asynchronous with respect to its caller.
//
//	┌──────────┐ Dispatch ┌─────────────────────┐  run   ┌──────────┐
//	│ caller   │─────────▶│ queue + worker pool │───────▶│ handler  │
//	└──────────┘          └─────────────────────┘        └──────────┘
//	     │                                                    │
//	     └──────────────── Future.Wait ◀──────────────────────┘
//
// # Typing
//
// Registration and dispatch are generic over the request and response structs
// in package message. Internally the handler table is keyed by the request's
// concrete type, so at most one handler can exist per (recipient, request
// type) pair; a second registration fails with ErrHandlerRegistered and a
// dispatch with no matching handler fails with ErrHandlerNotFound.
//
// # Concurrency
//
// The handler table is guarded by a read/write mutex: registration takes the
// write lock, dispatch only the read lock, and no lock is held while a
// handler runs. A handler may therefore dispatch further requests on the same
// bus. Self-deadlock is prevented by sizing the pool (default 20 workers)
// well above the deepest nested fan-out, which is 2 (coordinator waiting on
// both tiers).
//
// # Shutdown
//
// Close marks the bus as shutting down, lets the workers drain every queued
// and in-flight request, and then returns. Dispatch calls made after Close
// fail with ErrShuttingDown.
package bus
