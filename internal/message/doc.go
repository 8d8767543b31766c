// Package message defines the request and response types exchanged over the
// bus between the front-end, the storage coordinator, and the two storage
// tiers.
//
// Every request carries the client-chosen envelope ID and every response
// echoes it, so asynchronous clients can correlate frames. The types here are
// plain data: no behavior, no serialization concerns beyond the JSON tags the
// front-end relies on.
//
// One request struct exists per protocol event:
//
//	SetRequest         SET
//	GetKeyRequest      GET KEY
//	GetGroupRequest    GET GROUP
//	DeleteKeyRequest   DELETE KEY
//	DeleteGroupRequest DELETE GROUP
//	ListRequest        LIST
//
// and one response struct per request. The bus dispatches on the concrete
// request type, so adding an event means adding a pair of structs here and a
// handler per interested recipient.
package message
