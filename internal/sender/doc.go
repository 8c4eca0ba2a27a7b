// Package sender pushes images to kiosk receivers.
//
// Each Send is one connection: command line, verbatim file bytes, write
// half-close, then an optional one-line ack. Failures come back as
// *SendError values inside Result and never abort sends to other targets.
package sender
