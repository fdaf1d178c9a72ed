package modlink

import (
	"sync"
	"time"
)

const (
	testCmdEcho uint16 = 0x0010
	testCmdSet  uint16 = 0x0011
)

type testCommand struct {
	Respondable
	number       uint16
	data         []byte
	wantResponse bool
}

func newTestCommand(tx Transmitter, number uint16, wantResponse bool, data ...byte) *testCommand {
	c := &testCommand{number: number, data: data, wantResponse: wantResponse}
	var newResponse func() Message
	if wantResponse {
		newResponse = func() Message { return &testResponse{number: number} }
	}
	c.Init(tx, c, newResponse)
	return c
}

func (c *testCommand) CommandNumber() uint16    { return c.number }
func (c *testCommand) Payload() []byte          { return c.data }
func (c *testCommand) IsResponseExpected() bool { return c.wantResponse }

func (c *testCommand) LoadPayload(p []byte) error {
	c.data = append([]byte(nil), p...)
	return nil
}

type testResponse struct {
	Header
	number uint16
	data   []byte
}

func (r *testResponse) CommandNumber() uint16 { return r.number }
func (r *testResponse) Payload() []byte       { return r.data }
func (r *testResponse) IsResponse() bool      { return true }

func (r *testResponse) LoadPayload(p []byte) error {
	r.data = append([]byte(nil), p...)
	return nil
}

// testTransport records transmitted datagrams and optionally answers
// them through reply.
type testTransport struct {
	live  bool
	reply func(m *Module, d *Datagram)

	lock sync.Mutex
	sent []*Datagram
	mod  *Module
}

func (t *testTransport) IsLive() bool { return t.live }

func (t *testTransport) Transmit(m Message) error {
	d := m.MessageHeader().Serialization()
	if d == nil {
		return ErrNotSerialized
	}
	copied := *d
	m.MessageHeader().NoteTransmitted(time.Now())
	t.lock.Lock()
	t.sent = append(t.sent, &copied)
	mod, reply := t.mod, t.reply
	t.lock.Unlock()
	if reply != nil {
		reply(mod, &copied)
	}
	return nil
}

func (t *testTransport) datagrams() []*Datagram {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]*Datagram(nil), t.sent...)
}

func newTestModule(address byte, t *testTransport) *Module {
	m := NewModule(address, t)
	t.lock.Lock()
	t.mod = m
	t.lock.Unlock()
	return m
}

// replyFrom builds an inbound datagram from the module answering d.
func replyFrom(d *Datagram, packetID uint16, payload ...byte) *Datagram {
	return &Datagram{
		Dest:            d.Source,
		Source:          d.Dest,
		MessageNumber:   d.MessageNumber + 100,
		ReferenceNumber: d.MessageNumber,
		PacketID:        packetID,
		Payload:         payload,
		ReceivedAt:      time.Now(),
	}
}

func fastOptions() Options {
	return Options{
		Retransmissions:    5,
		AwaitInterval:      200 * time.Millisecond,
		RetransmitInterval: 20 * time.Millisecond,
	}
}

// testNotice expects nothing back.
type testNotice struct {
	Header
}

func (n *testNotice) CommandNumber() uint16    { return 0x0012 }
func (n *testNotice) Payload() []byte          { return nil }
func (n *testNotice) LoadPayload([]byte) error { return nil }
