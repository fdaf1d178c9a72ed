package modlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"
)

// Transport carries serialized messages to modules.
type Transport interface {
	// Transmit sends the current serialization of m.
	Transmit(m Message) error
	// IsLive is false when exchanges are completed locally.
	IsLive() bool
}

// DatagramHandler is called with datagrams.
type DatagramHandler interface {
	HandleDatagram(*Datagram)
}

// HandleDatagramFunc is func type of DatagramHandler.
type HandleDatagramFunc func(*Datagram)

// HandleDatagram implements DatagramHandler.
func (f HandleDatagramFunc) HandleDatagram(d *Datagram) {
	f(d)
}

type supportedCommand struct {
	iface   *InterfaceDescriptor
	command *CommandType
}

// Module is the host side of one module address. It implements
// Transmitter for messages sent to the module and dispatches inbound
// datagrams from the module to the waiting messages.
type Module struct {
	// Unsolicited receives commands initiated by the module.
	Unsolicited DatagramHandler

	address   byte
	transport Transport
	opts      Options
	netLock   *keyedLock

	nextMessageNumber atomic.Uint32
	lastTransmit      atomic.Int64
	attentionCount    atomic.Uint32
	attentionCh       chan struct{}

	pendingLock sync.Mutex
	unfinished  map[byte]Pending

	supportLock sync.RWMutex
	interfaces  map[string]*InterfaceDescriptor
	supported   map[uint16]supportedCommand
}

// NewModule creates a Module for the address using the transport.
func NewModule(address byte, transport Transport) *Module {
	return &Module{
		address:     address,
		transport:   transport,
		opts:        DefaultOptions(),
		netLock:     newKeyedLock(fmt.Sprintf("mod=%d xmit lock", address)),
		attentionCh: make(chan struct{}, 1),
		unfinished:  make(map[byte]Pending),
		interfaces:  make(map[string]*InterfaceDescriptor),
		supported:   make(map[uint16]supportedCommand),
	}
}

// WithOptions sets delivery options for new exchanges.
func (m *Module) WithOptions(opts Options) *Module {
	m.opts = opts.withDefaults()
	return m
}

// Address implements Transmitter.
func (m *Module) Address() byte {
	return m.address
}

// Options implements Transmitter.
func (m *Module) Options() Options {
	return m.opts
}

// IsLive indicates the module is reached by a live transport.
func (m *Module) IsLive() bool {
	return m.transport.IsLive()
}

// AcquireNetworkLock implements Transmitter.
func (m *Module) AcquireNetworkLock(ctx context.Context, msg Message) error {
	return m.netLock.acquire(ctx, msg)
}

// ReleaseNetworkLock implements Transmitter.
func (m *Module) ReleaseNetworkLock(msg Message) {
	m.netLock.release(msg)
}

// Transmit sends a message expecting nothing back, bracketed by the
// transmission lock.
func (m *Module) Transmit(ctx context.Context, msg Message) error {
	if err := m.AcquireNetworkLock(ctx, msg); err != nil {
		return err
	}
	defer m.ReleaseNetworkLock(msg)
	return m.SendCommand(msg)
}

// SendCommand implements Transmitter.
func (m *Module) SendCommand(msg Message) error {
	if err := m.validateCommand(msg); err != nil {
		return err
	}

	d, err := NewDatagram(msg, m.address)
	if err != nil {
		return fmt.Errorf("send to mod=%d: %w", m.address, err)
	}

	pending, willReply := msg.(Pending)
	willReply = willReply && (msg.IsAckable() || msg.IsResponseExpected())

	h := msg.MessageHeader()
	m.pendingLock.Lock()
	h.SetMessageNumber(m.newMessageNumberLocked())
	if willReply {
		m.unfinished[h.MessageNumber()] = pending
	}
	m.pendingLock.Unlock()

	d.MessageNumber = h.MessageNumber()
	h.SetSerialization(d)
	glog.V(3).Infof("xmit'ing: mod=%d cmd=0x%04x(%s) msg#=%d ref#=%d", m.address, msg.CommandNumber(), MessageName(msg), h.MessageNumber(), h.ReferenceNumber())
	err = m.transmit(msg)
	if err != nil || !willReply {
		m.FinishedWithMessage(msg)
	}
	return err
}

// Retransmit implements Transmitter.
func (m *Module) Retransmit(msg Message) error {
	h := msg.MessageHeader()
	glog.V(2).Infof("retransmitting: mod=%d cmd=0x%04x msg#=%d ref#=%d", m.address, msg.CommandNumber(), h.MessageNumber(), h.ReferenceNumber())
	return m.transmit(msg)
}

func (m *Module) transmit(msg Message) error {
	if err := m.transport.Transmit(msg); err != nil {
		return err
	}
	m.lastTransmit.Store(time.Now().UnixNano())
	return nil
}

// FinishedWithMessage implements Transmitter.
func (m *Module) FinishedWithMessage(msg Message) {
	h := msg.MessageHeader()
	m.pendingLock.Lock()
	if p, ok := m.unfinished[h.MessageNumber()]; ok && Message(p) == msg {
		delete(m.unfinished, h.MessageNumber())
	}
	m.pendingLock.Unlock()
	h.SetSerialization(nil)
}

// NoteAttentionRequired implements Transmitter.
func (m *Module) NoteAttentionRequired() {
	m.attentionCount.Inc()
	select {
	case m.attentionCh <- struct{}{}:
	default:
	}
}

// Attention signals when the module asked for attention in an Ack.
func (m *Module) Attention() <-chan struct{} {
	return m.attentionCh
}

// AttentionCount returns how many Acks asked for attention.
func (m *Module) AttentionCount() uint32 {
	return m.attentionCount.Load()
}

// LastTransmit returns the time of the latest transmission to the module.
func (m *Module) LastTransmit() time.Time {
	if ns := m.lastTransmit.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// UnfinishedCount returns the number of exchanges awaiting their terminal event.
func (m *Module) UnfinishedCount() int {
	m.pendingLock.Lock()
	defer m.pendingLock.Unlock()
	return len(m.unfinished)
}

// message numbers are never zero, and never reuse a number still in use.
func (m *Module) newMessageNumberLocked() byte {
	for {
		n := byte(m.nextMessageNumber.Inc())
		if n == 0 {
			continue
		}
		if _, inUse := m.unfinished[n]; !inUse {
			return n
		}
	}
}

// RegisterInterface records the commands of an interface the module
// supports, after its base command number is assigned. count is the
// number of commands the module reports; slots beyond it belong to a
// newer version of the interface and are unsupported.
func (m *Module) RegisterInterface(iface *InterfaceDescriptor, count int) {
	m.supportLock.Lock()
	defer m.supportLock.Unlock()
	for n, s := range m.supported {
		if s.iface.Name() == iface.Name() {
			delete(m.supported, n)
		}
	}
	m.interfaces[iface.Name()] = iface
	for i, slot := range iface.Slots() {
		if i >= count {
			glog.V(1).Infof("mod=%d intf=%s: expected %d commands; found %d", m.address, iface.Name(), iface.CommandCount(), count)
			break
		}
		if slot != nil {
			m.supported[iface.AbsoluteCommandNumber(i)] = supportedCommand{iface: iface, command: slot}
		}
	}
}

// Interface returns a registered interface by name.
func (m *Module) Interface(name string) *InterfaceDescriptor {
	m.supportLock.RLock()
	defer m.supportLock.RUnlock()
	return m.interfaces[name]
}

// IsCommandSupported indicates the module supports the command number,
// as a standard command or within a registered interface.
func (m *Module) IsCommandSupported(n uint16) bool {
	if IsStandardCommandNumber(n) {
		return true
	}
	m.supportLock.RLock()
	defer m.supportLock.RUnlock()
	_, ok := m.supported[n]
	return ok
}

// IsCommandTypeSupported indicates the command type is supported within
// its interface.
func (m *Module) IsCommandTypeSupported(iface *InterfaceDescriptor, t *CommandType) bool {
	n, err := iface.CommandNumber(t)
	if err != nil {
		return false
	}
	m.supportLock.RLock()
	defer m.supportLock.RUnlock()
	s, ok := m.supported[n]
	return ok && s.command == t
}

// commands are validated only against live modules.
func (m *Module) validateCommand(msg Message) error {
	if !m.transport.IsLive() || m.IsCommandSupported(msg.CommandNumber()) {
		return nil
	}
	return &UnsupportedCommandError{Module: m.address, Command: MessageName(msg), CommandNumber: msg.CommandNumber()}
}

func (m *Module) pending(ref byte) Pending {
	m.pendingLock.Lock()
	defer m.pendingLock.Unlock()
	return m.unfinished[ref]
}

// HandleDatagram implements DatagramHandler: an inbound datagram is
// delivered to the message it references.
func (m *Module) HandleDatagram(d *Datagram) {
	switch {
	case d.PacketID == CommandNumberAck || d.PacketID == CommandNumberNack:
		m.handleAckOrNack(d)
	case d.IsResponse():
		m.handleResponse(d)
	default:
		if h := m.Unsolicited; h != nil {
			h.HandleDatagram(d)
			return
		}
		glog.Warningf("unsolicited command=0x%04x from mod=%d msg#=%d ignored", d.PacketID, d.Source, d.MessageNumber)
	}
}

func (m *Module) handleAckOrNack(d *Datagram) {
	p := m.pending(d.ReferenceNumber)
	if p == nil {
		glog.Errorf("unable to find originating command for mod=%d msg#=%d ref#=%d", d.Source, d.MessageNumber, d.ReferenceNumber)
		return
	}
	var accepted bool
	if d.PacketID == CommandNumberNack {
		nack := &Nack{}
		if err := LoadSerialization(nack, d); err != nil {
			glog.Errorf("mod=%d ref#=%d: %v", d.Source, d.ReferenceNumber, err)
			return
		}
		accepted = p.OnNackReceived(nack)
	} else {
		ack := &Ack{}
		if err := LoadSerialization(ack, d); err != nil {
			glog.Errorf("mod=%d ref#=%d: %v", d.Source, d.ReferenceNumber, err)
			return
		}
		accepted = p.OnAckReceived(ack)
	}
	// after an ack or a nack, no response follows
	if accepted {
		m.FinishedWithMessage(p)
	}
}

func (m *Module) handleResponse(d *Datagram) {
	p := m.pending(d.ReferenceNumber)
	if p == nil {
		glog.Errorf("unable to find originating command for packetid=0x%04x msg#=%d ref#=%d", d.PacketID, d.MessageNumber, d.ReferenceNumber)
		return
	}
	if p.CommandNumber() != d.CommandNumber() {
		glog.Errorf("response packetid=0x%04x doesn't answer %s(#0x%04x) ref#=%d", d.PacketID, MessageName(p), p.CommandNumber(), d.ReferenceNumber)
		return
	}
	resp := p.NewResponse()
	if resp == nil {
		glog.Errorf("unexpected response packetid=0x%04x for %s ref#=%d", d.PacketID, MessageName(p), d.ReferenceNumber)
		return
	}
	if err := LoadSerialization(resp, d); err != nil {
		glog.Errorf("mod=%d ref#=%d: %v", d.Source, d.ReferenceNumber, err)
		return
	}
	if p.OnResponseReceived(resp) {
		m.FinishedWithMessage(p)
	}
}

func (m *Module) takeUnfinished() []Pending {
	m.pendingLock.Lock()
	defer m.pendingLock.Unlock()
	ps := make([]Pending, 0, len(m.unfinished))
	for _, p := range m.unfinished {
		ps = append(ps, p)
	}
	return ps
}

// NackUnfinished forces a Nack on every exchange still waiting, e.g.
// when the link is lost and nothing more will be received.
func (m *Module) NackUnfinished() {
	for _, p := range m.takeUnfinished() {
		glog.V(1).Infof("force-nacking unfinished command=%s mod=%d msg#=%d", MessageName(p), m.address, p.MessageHeader().MessageNumber())
		reason := ReasonAbandonedWaitingForAck
		if p.IsResponseExpected() {
			reason = ReasonAbandonedWaitingForResponse
		}
		p.OnNackReceived(NewNack(reason))
		m.FinishedWithMessage(p)
	}
}

// PretendFinishUnfinished completes every exchange still waiting as if
// the module had answered.
func (m *Module) PretendFinishUnfinished() {
	for _, p := range m.takeUnfinished() {
		p.PretendTransmit()
	}
}
