package modlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Transmitter is the destination addressed transmission capability a
// Respondable uses. It's implemented by Module.
type Transmitter interface {
	// Address is the destination module address.
	Address() byte
	// Options returns the delivery options for new exchanges.
	Options() Options
	// AcquireNetworkLock blocks until m may be transmitted.
	AcquireNetworkLock(ctx context.Context, m Message) error
	// ReleaseNetworkLock releases the lock held by m.
	ReleaseNetworkLock(m Message)
	// SendCommand assigns a message number, serializes and transmits m.
	SendCommand(m Message) error
	// Retransmit transmits the existing serialization of m again.
	Retransmit(m Message) error
	// FinishedWithMessage forgets m; it must be idempotent.
	FinishedWithMessage(m Message)
	// NoteAttentionRequired is called when an Ack asks for attention.
	NoteAttentionRequired()
}

// Pending is a transmitted message waiting for its terminal event.
// Delivery methods report whether the event was accepted; once a terminal
// event is accepted, all later deliveries are ignored.
type Pending interface {
	Message
	OnAckReceived(*Ack) bool
	OnNackReceived(*Nack) bool
	OnResponseReceived(Message) bool
	// NewResponse creates an empty response to decode into, nil if no
	// response is expected.
	NewResponse() Message
	// PretendTransmit finishes the exchange locally without traffic.
	PretendTransmit()
}

// Respondable is a message which the module answers: with a response if
// one is expected, an Ack otherwise, or a Nack. Embed it in a command
// and call Init from the command's constructor.
type Respondable struct {
	Header

	tx          Transmitter
	self        Message
	opts        Options
	newResponse func() Message
	pretend     Message

	lock                     sync.Mutex
	ackOrResponseReceived    bool
	nack                     *Nack
	response                 Message
	retransmissionsRemaining int
	ackOrNack                *gate
	responseOrNack           *gate
}

// Init binds the transmission capability and the concrete message
// embedding r. newResponse is nil for commands answered with an Ack;
// otherwise it also pre-constructs the response used in pretend mode.
func (r *Respondable) Init(tx Transmitter, self Message, newResponse func() Message) {
	r.tx, r.self, r.newResponse = tx, self, newResponse
	r.opts = tx.Options().withDefaults()
	r.retransmissionsRemaining = r.opts.Retransmissions
	r.ackOrNack, r.responseOrNack = newGate(), newGate()
	if newResponse != nil {
		r.pretend = newResponse()
	}
}

// SetOptions overrides the delivery options before sending.
func (r *Respondable) SetOptions(opts Options) {
	r.opts = opts.withDefaults()
	r.retransmissionsRemaining = r.opts.Retransmissions
}

// PretendResponse returns the pre-constructed response, which callers may
// populate before sending.
func (r *Respondable) PretendResponse() Message {
	return r.pretend
}

// IsAckable implements Message.
func (r *Respondable) IsAckable() bool { return true }

// NewResponse implements Pending.
func (r *Respondable) NewResponse() Message {
	if r.newResponse == nil {
		return nil
	}
	return r.newResponse()
}

// IsRetransmittable indicates retransmissions remain.
func (r *Respondable) IsRetransmittable() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.retransmissionsRemaining > 0
}

// SetUnretransmittable disables retransmissions.
func (r *Respondable) SetUnretransmittable() {
	r.lock.Lock()
	r.retransmissionsRemaining = 0
	r.lock.Unlock()
}

func (r *Respondable) takeRetransmission() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.retransmissionsRemaining <= 0 {
		return false
	}
	r.retransmissionsRemaining--
	return true
}

// HasBeenAcknowledged indicates a terminal event was received.
func (r *Respondable) HasBeenAcknowledged() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.isTerminal()
}

func (r *Respondable) isTerminal() bool {
	return r.ackOrResponseReceived || r.nack != nil
}

// IsAckOrResponseReceived indicates a positive terminal event.
func (r *Respondable) IsAckOrResponseReceived() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.ackOrResponseReceived
}

// NackReceived returns the recorded Nack, nil if none.
func (r *Respondable) NackReceived() *Nack {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.nack
}

// Response returns the received response, nil if none.
func (r *Respondable) Response() Message {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.response
}

// OnAckReceived implements Pending. Called on the dispatch goroutine.
func (r *Respondable) OnAckReceived(ack *Ack) bool {
	r.lock.Lock()
	if r.isTerminal() {
		r.lock.Unlock()
		return false
	}
	if r.self.IsResponseExpected() {
		r.lock.Unlock()
		glog.Errorf("unexpected ack for %s mod=%d msg#=%d: response expected", MessageName(r.self), r.tx.Address(), r.MessageNumber())
		return false
	}
	r.ackOrResponseReceived = true
	r.lock.Unlock()

	if ack.AttentionRequired {
		r.tx.NoteAttentionRequired()
	}
	r.ackOrNack.fire()
	return true
}

// OnResponseReceived implements Pending. Called on the dispatch goroutine.
func (r *Respondable) OnResponseReceived(resp Message) bool {
	r.lock.Lock()
	if r.isTerminal() {
		r.lock.Unlock()
		return false
	}
	if !r.self.IsResponseExpected() {
		r.lock.Unlock()
		glog.Errorf("unexpected response received for %s mod=%d msg#=%d", MessageName(r.self), r.tx.Address(), r.MessageNumber())
		return false
	}
	r.ackOrResponseReceived, r.response = true, resp
	r.lock.Unlock()

	r.ackOrNack.fire()
	r.responseOrNack.fire()
	return true
}

// OnNackReceived implements Pending. Called on the dispatch goroutine, or
// locally when waiting is abandoned.
func (r *Respondable) OnNackReceived(nack *Nack) bool {
	r.lock.Lock()
	if r.isTerminal() {
		r.lock.Unlock()
		return false
	}
	r.nack = nack
	r.lock.Unlock()

	switch reason := nack.Reason; {
	case reason.IsAbandoned():
		// logged where the wait is abandoned
	case reason.IsTransient():
		glog.V(3).Infof("nack rec'd mod=%d msg#=%d reason=%s:%d", r.tx.Address(), r.MessageNumber(), reason, uint16(reason))
	default:
		glog.V(1).Infof("nack rec'd mod=%d msg#=%d ref#=%d reason=%s:%d", r.tx.Address(), r.MessageNumber(), r.ReferenceNumber(), reason, uint16(reason))
	}
	r.ackOrNack.fire()
	r.responseOrNack.fire()
	return true
}

// PretendTransmit implements Pending: the exchange completes as if the
// module answered with an Ack or the pre-constructed response.
func (r *Respondable) PretendTransmit() {
	if r.self.IsResponseExpected() {
		if r.pretend != nil {
			r.pretend.MessageHeader().receivedAt = time.Now()
		}
		r.OnResponseReceived(r.pretend)
	} else {
		r.OnAckReceived(NewAck(false))
	}
	r.tx.FinishedWithMessage(r.self)
}

// Send transmits the command and waits for an Ack (or response if one is
// expected). A Nack, reported or synthesized, is returned as *NackError.
func (r *Respondable) Send(ctx context.Context) error {
	if err := r.tx.AcquireNetworkLock(ctx, r.self); err != nil {
		return fmt.Errorf("acquire lock for %s: %w", MessageName(r.self), err)
	}
	defer r.finish()

	if err := r.tx.SendCommand(r.self); err != nil {
		var unsupported *UnsupportedCommandError
		if errors.As(err, &unsupported) {
			return r.nackForUnsupported(unsupported)
		}
		return err
	}
	if err := r.awaitAckResponseOrNack(ctx); err != nil {
		return err
	}
	if err := r.nackError(); err != nil {
		return err
	}
	return nil
}

// SendReceive transmits the command and waits for the response. With
// Options.UnsupportedFallback, the pre-constructed response is returned
// if the module doesn't support the command.
func (r *Respondable) SendReceive(ctx context.Context) (Message, error) {
	if err := r.tx.AcquireNetworkLock(ctx, r.self); err != nil {
		return nil, fmt.Errorf("acquire lock for %s: %w", MessageName(r.self), err)
	}
	defer r.finish()

	if err := r.tx.SendCommand(r.self); err != nil {
		var unsupported *UnsupportedCommandError
		if !errors.As(err, &unsupported) {
			return nil, err
		}
		// the module is known to have an older notion of the interface
		if r.opts.UnsupportedFallback && r.pretend != nil {
			return r.pretend, nil
		}
		return nil, r.nackForUnsupported(unsupported)
	}
	if err := r.awaitAckResponseOrNack(ctx); err != nil {
		return nil, err
	}
	if err := r.nackError(); err != nil {
		// the module claimed support but doesn't actually implement it
		if err.Reason.IsUnsupported() && r.opts.UnsupportedFallback && r.pretend != nil {
			return r.pretend, nil
		}
		return nil, err
	}
	return r.Response(), nil
}

func (r *Respondable) finish() {
	r.tx.FinishedWithMessage(r.self)
	r.tx.ReleaseNetworkLock(r.self)
}

func (r *Respondable) nackForUnsupported(e *UnsupportedCommandError) *NackError {
	nack := NewNack(ReasonPacketTypeIDUnknown)
	r.OnNackReceived(nack)
	glog.V(1).Infof("%s: %v", MessageName(r.self), e)
	return r.newNackError(nack)
}

// nackError returns nil (not a typed nil) when no nack was recorded.
func (r *Respondable) nackError() *NackError {
	nack := r.NackReceived()
	if nack == nil {
		return nil
	}
	return r.newNackError(nack)
}

func (r *Respondable) newNackError(nack *Nack) *NackError {
	return &NackError{
		Module:        r.tx.Address(),
		Command:       MessageName(r.self),
		CommandNumber: r.self.CommandNumber(),
		MessageNumber: r.MessageNumber(),
		Reason:        nack.Reason,
	}
}

func (r *Respondable) awaitAckResponseOrNack(ctx context.Context) error {
	if r.self.IsResponseExpected() {
		return r.awaitAndRetransmit(ctx, r.responseOrNack, ReasonAbandonedWaitingForResponse, "response")
	}
	return r.awaitAndRetransmit(ctx, r.ackOrNack, ReasonAbandonedWaitingForAck, "ack")
}

func (r *Respondable) awaitAndRetransmit(ctx context.Context, g *gate, reason ReasonCode, what string) error {
	deadline := time.Now().Add(r.opts.AwaitInterval)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			glog.Warningf("timeout: abandoning waiting %v for %s: cmd=%s mod=%d msg#=%d",
				r.opts.AwaitInterval, what, MessageName(r.self), r.tx.Address(), r.MessageNumber())
			r.OnNackReceived(NewNack(reason))
			return nil
		}
		wait := remaining
		if wait > r.opts.RetransmitInterval {
			wait = r.opts.RetransmitInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-g.done():
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for %s of %s: %w", what, MessageName(r.self), ctx.Err())
		case <-timer.C:
		}
		if time.Until(deadline) <= 0 || !r.takeRetransmission() {
			continue
		}
		if err := r.tx.Retransmit(r.self); err != nil {
			glog.Warningf("retransmit %s mod=%d msg#=%d: %v", MessageName(r.self), r.tx.Address(), r.MessageNumber(), err)
		}
	}
}
