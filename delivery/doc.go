// Package delivery advances messages through the Sent/Delivered/Read
// lifecycle.
//
// The state machine is transport-agnostic: it consumes a stream of
// (message, new status) acknowledgement events and enforces that status
// never regresses. The reference event source is a timer that stands in
// for real acknowledgements from the counterpart's client; wiring a
// genuine transport replaces the timer while keeping the monotonic
// contract intact.
package delivery
