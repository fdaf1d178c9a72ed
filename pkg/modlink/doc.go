// Package modlink provides the module communication protocol.
package modlink

// The protocol is spoken between the host and peripheral control modules
// over a point-to-point serial link which gives no delivery guarantees.
//
// Every transmission is a datagram: a fixed 11-byte header (framing
// bytes, length, addresses, message/reference numbers, packet id), the
// payload and an 8-bit overflowing checksum over everything before it.
//
// Reliability is built on top by Respondable: a command is acknowledged
// (Ack), rejected (Nack) or answered with a response, and is retransmitted
// with the same message number until that happens or a deadline elapses.
// At most one exchange is in flight per destination module, so a reference
// number in an inbound datagram identifies the waiting command without
// ambiguity.
//
// Host: this package
// Peer: module firmware
