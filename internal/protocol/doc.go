// Package protocol groups the kiosk wire contract.
//
// Ownership boundary:
// - frame: command lines, ack lines and the legacy-fallback line reader
// - session: connection timeouts and retry backoff shared by both ends
package protocol
