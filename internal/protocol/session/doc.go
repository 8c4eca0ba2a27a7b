// Package session owns transfer timing shared by kiosk listeners and senders.
//
// Ownership boundary:
// - connect/read/write timeouts
// - retry backoff primitives
package session
