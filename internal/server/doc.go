// Package server implements the request front-end: a unix stream socket
// accepting newline-delimited JSON frames and translating them into bus
// requests for the storage coordinator.
//
// # Protocol
//
// Each frame is one JSON object terminated by '\n'. The request envelope
// carries an opaque client-chosen "id", an "event" naming the operation, and
// the event's body fields:
//
//	SET           {"id","event","flags":{"persistent","ttl"},"key","value","group"}
//	GET KEY       {"id","event","key"}
//	GET GROUP     {"id","event","group"}
//	DELETE KEY    {"id","event","key"}
//	DELETE GROUP  {"id","event","group"}
//	LIST          {"id","event"}
//
// Responses echo the id and carry the operation result under "response".
// A malformed frame, an unknown event, or any error raised downstream is
// answered with {"error":"<message>"} and the connection stays open; the
// client owns the connection lifetime. The only exceptions are socket I/O
// errors, a bus shutdown, and a frame longer than the reader limit (which
// is answered with an error frame first); each of these closes the
// connection.
//
// # Connections
//
// Every accepted connection runs in its own goroutine and is independent of
// the others. The server never sends unsolicited frames. A stale socket file
// is unlinked before bind and the live one on Close.
package server
