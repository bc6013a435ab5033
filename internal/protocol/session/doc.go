// Package session owns the websocket transport session for one STOMP connection.
//
// Ownership boundary:
// - lifecycle state machine (resolve, connect, handshake, open, closing)
// - single writer goroutine and the read loop
// - wait signals shared with the client facade
// - transport security and receipt tracking helpers
//
// A Session runs two goroutines once open: the loop goroutine, which performs
// the dial stages and then reads, and the writer goroutine. Callers interact
// only through Send, Close, Wait and the Signals.
package session
