// Package kiosk owns the receiving side of a kiosk display.
//
// Ownership boundary:
// - TCP listener loop (one goroutine per accepted connection)
// - per-connection command handshake, payload decode and ack
// - read-only HTTP rendering surface over the display state
//
// Failures inside one connection never reach the listener or other
// connections; the display falls back to the default image or info text.
package kiosk
