package modlink

import (
	"fmt"
	"reflect"
	"sync"
	"time"
)

// Message is a single protocol exchange unit. Concrete commands and
// responses embed Header (or Respondable) and supply the command number
// and payload encoding; capability predicates default to false.
//
// Implementations must be pointer types: a message is used as the key of
// the destination's transmission lock.
type Message interface {
	// CommandNumber identifies the kind of message. Responses report the
	// command number of the command they answer, without ResponseBit.
	CommandNumber() uint16
	// Payload encodes the message specific bytes.
	Payload() []byte
	// LoadPayload decodes message specific bytes.
	LoadPayload([]byte) error
	// MessageHeader exposes the common bookkeeping.
	MessageHeader() *Header

	IsAckable() bool
	IsResponseExpected() bool
	IsAck() bool
	IsNack() bool
	IsResponse() bool
}

// Header is the common state of every message.
type Header struct {
	messageNumber   byte
	referenceNumber byte

	lock          sync.Mutex
	serialization *Datagram
	transmitted   bool
	lastTransmit  time.Time
	receivedAt    time.Time
}

// MessageHeader implements Message.
func (h *Header) MessageHeader() *Header { return h }

// IsAckable implements Message.
func (h *Header) IsAckable() bool { return false }

// IsResponseExpected implements Message. Ackables which don't expect a
// response are answered with an Ack.
func (h *Header) IsResponseExpected() bool { return false }

// IsAck implements Message.
func (h *Header) IsAck() bool { return false }

// IsNack implements Message.
func (h *Header) IsNack() bool { return false }

// IsResponse implements Message.
func (h *Header) IsResponse() bool { return false }

// MessageNumber returns the sender assigned sequence number.
func (h *Header) MessageNumber() byte { return h.messageNumber }

// SetMessageNumber assigns the sequence number.
func (h *Header) SetMessageNumber(n byte) { h.messageNumber = n }

// ReferenceNumber returns the message number this message answers.
func (h *Header) ReferenceNumber() byte { return h.referenceNumber }

// SetReferenceNumber assigns the reference number.
func (h *Header) SetReferenceNumber(n byte) { h.referenceNumber = n }

// Serialization returns the datagram currently representing the message.
func (h *Header) Serialization() *Datagram {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.serialization
}

// SetSerialization remembers the datagram; nil forgets it.
func (h *Header) SetSerialization(d *Datagram) {
	h.lock.Lock()
	h.serialization = d
	h.lock.Unlock()
}

// NoteTransmitted records a (re)transmission at t.
func (h *Header) NoteTransmitted(t time.Time) {
	h.lock.Lock()
	h.transmitted, h.lastTransmit = true, t
	h.lock.Unlock()
}

// HasBeenTransmitted indicates at least one transmission happened.
func (h *Header) HasBeenTransmitted() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.transmitted
}

// LastTransmit returns the time of the latest transmission.
func (h *Header) LastTransmit() time.Time {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.lastTransmit
}

// ReceivedAt returns when the message was received, if it was.
func (h *Header) ReceivedAt() time.Time { return h.receivedAt }

// LoadSerialization repopulates m from a datagram without any network
// activity: payload, message/reference numbers and arrival time.
func LoadSerialization(m Message, d *Datagram) error {
	h := m.MessageHeader()
	if err := m.LoadPayload(d.Payload); err != nil {
		return fmt.Errorf("load %s payload: %w", MessageName(m), err)
	}
	h.messageNumber, h.referenceNumber = d.MessageNumber, d.ReferenceNumber
	h.receivedAt = d.ReceivedAt
	h.SetSerialization(d)
	return nil
}

// Named is implemented by messages with an explicit display name.
type Named interface {
	Name() string
}

// MessageName returns a display name for logging.
func MessageName(m Message) string {
	if n, ok := m.(Named); ok {
		return n.Name()
	}
	return reflect.Indirect(reflect.ValueOf(m)).Type().Name()
}
