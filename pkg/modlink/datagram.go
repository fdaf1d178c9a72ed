package modlink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

const (
	// FrameByte0 is the first framing byte of every datagram.
	FrameByte0 byte = 0x44
	// FrameByte1 is the second framing byte of every datagram.
	FrameByte1 byte = 0x4b

	// HeaderLen is the fixed part of the packet length: framing bytes,
	// length, addresses, numbers, packet id and checksum.
	HeaderLen = 11
	// PrefixLen is the length of framing bytes plus packet length.
	PrefixLen = 4
	// MaxPayloadLen is the largest payload that fits the length field.
	MaxPayloadLen = 0xffff - HeaderLen

	// ResponseBit marks a packet id as a response.
	ResponseBit uint16 = 0x8000

	// BroadcastAddress addresses every module.
	BroadcastAddress byte = 0xff
	// InvalidAddress is never a valid module address.
	InvalidAddress byte = 0
)

var frameBytes = []byte{FrameByte0, FrameByte1}

// Datagram is the quantum of transmission between host and module.
type Datagram struct {
	PacketLength    uint16
	Dest            byte
	Source          byte
	MessageNumber   byte
	ReferenceNumber byte
	PacketID        uint16
	Payload         []byte
	Checksum        byte

	// ReceivedAt is when the transport delivered the datagram, zero for
	// outbound datagrams.
	ReceivedAt time.Time
}

// NewDatagram serializes the message into a datagram addressed to dest.
func NewDatagram(m Message, dest byte) (*Datagram, error) {
	h := m.MessageHeader()
	d := &Datagram{
		Dest:            dest,
		MessageNumber:   h.MessageNumber(),
		ReferenceNumber: h.ReferenceNumber(),
		PacketID:        m.CommandNumber(),
		Payload:         m.Payload(),
	}
	if m.IsResponse() {
		d.PacketID |= ResponseBit
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", MessageName(m), err)
	}
	d.UpdatePacketLength()
	return d, nil
}

// BeginsWithFraming checks if data starts with the framing bytes.
func BeginsWithFraming(data []byte) bool {
	return len(data) >= 2 && data[0] == FrameByte0 && data[1] == FrameByte1
}

// Validate checks the payload fits the length field.
func (d *Datagram) Validate() error {
	if n := len(d.Payload); n > MaxPayloadLen {
		return &PayloadTooLongError{Length: n}
	}
	return nil
}

// UpdatePacketLength recalculates PacketLength from the payload, which
// must have passed Validate.
func (d *Datagram) UpdatePacketLength() int {
	n := HeaderLen + len(d.Payload)
	d.PacketLength = uint16(n)
	return n
}

// CommandNumber returns the packet id with the response bit cleared.
func (d *Datagram) CommandNumber() uint16 {
	return d.PacketID &^ ResponseBit
}

// IsResponse indicates the response bit is set.
func (d *Datagram) IsResponse() bool {
	return d.PacketID&ResponseBit != 0
}

// ComputeChecksum sums every byte preceding the checksum, framing bytes included.
func (d *Datagram) ComputeChecksum() byte {
	var sum byte
	sum = checksumBytes(sum, frameBytes)
	sum += byte(d.PacketLength) + byte(d.PacketLength>>8)
	sum += d.Dest + d.Source + d.MessageNumber + d.ReferenceNumber
	sum += byte(d.PacketID) + byte(d.PacketID>>8)
	return checksumBytes(sum, d.Payload)
}

func checksumBytes(sum byte, data []byte) byte {
	for _, b := range data {
		sum += b
	}
	return sum
}

// IsChecksumValid recomputes and compares the checksum.
func (d *Datagram) IsChecksumValid() bool {
	return d.Checksum == d.ComputeChecksum()
}

// Encode returns encoded bytes without modifying the datagram.
func (d *Datagram) Encode() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	n := HeaderLen + len(d.Payload)
	b := make([]byte, n)
	b[0], b[1] = FrameByte0, FrameByte1
	binary.LittleEndian.PutUint16(b[2:], uint16(n))
	b[4], b[5], b[6], b[7] = d.Dest, d.Source, d.MessageNumber, d.ReferenceNumber
	binary.LittleEndian.PutUint16(b[8:], d.PacketID)
	copy(b[10:], d.Payload)
	b[n-1] = checksumBytes(0, b[:n-1])
	return b, nil
}

// Bytes returns encoded bytes for sending. PacketLength and Checksum are
// updated as a side effect. It returns nil if the payload exceeds
// MaxPayloadLen.
func (d *Datagram) Bytes() []byte {
	b, err := d.Encode()
	if err != nil {
		return nil
	}
	d.PacketLength, d.Checksum = uint16(len(b)), b[len(b)-1]
	return b
}

// WriteTo writes encoded bytes. PacketLength and Checksum are updated as
// with Bytes.
func (d *Datagram) WriteTo(w io.Writer) (int64, error) {
	b, err := d.Encode()
	if err != nil {
		return 0, err
	}
	d.PacketLength, d.Checksum = uint16(len(b)), b[len(b)-1]
	n, err := w.Write(b)
	return int64(n), err
}

// ParseDatagram decodes a complete datagram. The checksum is decoded but
// not validated, see IsChecksumValid.
func ParseDatagram(data []byte) (*Datagram, error) {
	if !BeginsWithFraming(data) {
		return nil, ErrFraming
	}
	if len(data) < HeaderLen {
		return nil, &TruncatedFrameError{Declared: HeaderLen, Available: len(data)}
	}
	d := &Datagram{PacketLength: binary.LittleEndian.Uint16(data[2:])}
	declared := int(d.PacketLength)
	if declared < HeaderLen {
		return nil, fmt.Errorf("packet length %d below header length: %w", declared, ErrFraming)
	}
	if len(data) < declared {
		return nil, &TruncatedFrameError{Declared: declared, Available: len(data)}
	}
	d.Dest, d.Source, d.MessageNumber, d.ReferenceNumber = data[4], data[5], data[6], data[7]
	d.PacketID = binary.LittleEndian.Uint16(data[8:])
	d.Payload = append([]byte{}, data[10:declared-1]...)
	d.Checksum = data[declared-1]
	return d, nil
}

// ParseValidDatagram decodes a complete datagram and validates the checksum.
func ParseValidDatagram(data []byte) (*Datagram, error) {
	d, err := ParseDatagram(data)
	if err != nil {
		return nil, err
	}
	if expected := d.ComputeChecksum(); d.Checksum != expected {
		return nil, fmt.Errorf("%v: received 0x%02x, computed 0x%02x: %w", d, d.Checksum, expected, ErrChecksum)
	}
	return d, nil
}

// String implements fmt.Stringer.
func (d *Datagram) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "dest=%d src=%d msg#=%d ref#=%d pid=0x%04x", d.Dest, d.Source, d.MessageNumber, d.ReferenceNumber, d.PacketID)
	if len(d.Payload) > 0 {
		fmt.Fprintf(&buf, " payload=% x", d.Payload)
	}
	return buf.String()
}
