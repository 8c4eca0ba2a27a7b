// Package display owns the single "currently shown" kiosk state.
//
// Ownership boundary:
// - info / static / timed state transitions
// - the pending revert timer
// - change fan-out to read-only observers
//
// Network handlers, the revert timer and UI code mutate state only through
// Machine's Show* methods. Observers read immutable snapshots.
package display
