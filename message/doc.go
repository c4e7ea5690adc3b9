// Package message implements the ordered per-conversation message log.
//
// The store is append-only: messages are never reordered or deleted, and
// mutation after append is limited to delivery status, reactions, and the
// thread reply counter. Reads always observe the current authoritative
// state; there is no eventual-consistency gap between a write and a
// subsequent query.
package message
