// Package transport owns the framed TCP client and server.
//
// Ownership boundary:
// - server accept loop, per-connection reader/writer goroutines
// - the broker goroutine, sole writer of the connection table
// - client reader/writer goroutines
// - the event stream handed to the application
//
// Control flow (server):
// - accept -> reader -> broker -> writer -> socket
//
// - readers announce new peers and decoded values on one internal queue.
//
// - the broker assigns slots, spawns writers, and publishes Events.
//
// - a writer that exits reports back to the broker, which frees the slot.
//
// The client has a single connection and no broker.
//
// Every queue is unbounded. A peer that stops reading lets its outbound queue
// grow without limit; frame sizes are bounded by frame.Limits.
package transport
