package modlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
)

// Direction tells whether a datagram was sent or received.
type Direction int

const (
	// Inbound datagrams are received from modules.
	Inbound Direction = iota
	// Outbound datagrams are sent to modules.
	Outbound
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Outbound {
		return "out"
	}
	return "in"
}

// Tap observes datagrams passing through a Link.
type Tap interface {
	TapDatagram(Direction, *Datagram)
}

// TapFunc is func type of Tap.
type TapFunc func(Direction, *Datagram)

// TapDatagram implements Tap.
func (f TapFunc) TapDatagram(dir Direction, d *Datagram) {
	f(dir, d)
}

// StateNotifier is called when the inbound stream state changed.
type StateNotifier interface {
	StateChanged(context.Context, SyncState)
}

// StateChangedFunc is func type of StateNotifier.
type StateChangedFunc func(context.Context, SyncState)

// StateChanged implements StateNotifier.
func (f StateChangedFunc) StateChanged(ctx context.Context, state SyncState) {
	f(ctx, state)
}

// Link is the live Transport over a byte stream shared by all modules
// attached to it.
type Link struct {
	ReadWriter  io.ReadWriter
	HostAddress byte
	Tap         Tap
	Notifier    StateNotifier
	// Timeout drops a partially received frame after the stream stays
	// idle; zero disables it.
	Timeout time.Duration

	writeLock sync.Mutex

	lock    sync.RWMutex
	modules map[byte]*Module
	state   SyncState

	parser    FrameParser
	syncTimer <-chan time.Time
}

// NewLink creates a Link.
func NewLink(rw io.ReadWriter) *Link {
	return &Link{
		ReadWriter: rw,
		Timeout:    100 * time.Millisecond,
		modules:    make(map[byte]*Module),
	}
}

// IsLive implements Transport.
func (l *Link) IsLive() bool {
	return true
}

// NewModule creates a Module on this link and attaches it.
func (l *Link) NewModule(address byte) *Module {
	m := NewModule(address, l)
	l.Attach(m)
	return m
}

// Attach routes datagrams from the module's address to it.
func (l *Link) Attach(m *Module) {
	l.lock.Lock()
	l.modules[m.Address()] = m
	l.lock.Unlock()
}

// Detach stops routing datagrams to the module.
func (l *Link) Detach(m *Module) {
	l.lock.Lock()
	if l.modules[m.Address()] == m {
		delete(l.modules, m.Address())
	}
	l.lock.Unlock()
}

// Module returns the module attached at the address.
func (l *Link) Module(address byte) (*Module, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	if m := l.modules[address]; m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("mod=%d: %w", address, ErrNotAttached)
}

// Modules returns all attached modules.
func (l *Link) Modules() []*Module {
	l.lock.RLock()
	defer l.lock.RUnlock()
	mods := make([]*Module, 0, len(l.modules))
	for _, m := range l.modules {
		mods = append(mods, m)
	}
	return mods
}

// State gets the inbound stream state.
func (l *Link) State() SyncState {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.state
}

// Transmit implements Transport.
func (l *Link) Transmit(m Message) error {
	d := m.MessageHeader().Serialization()
	if d == nil {
		return fmt.Errorf("transmit %s: %w", MessageName(m), ErrNotSerialized)
	}
	l.writeLock.Lock()
	d.Source = l.HostAddress
	_, err := d.WriteTo(l.ReadWriter)
	sent := *d
	l.writeLock.Unlock()
	if err != nil {
		return fmt.Errorf("transmit %s to mod=%d: %w", MessageName(m), sent.Dest, err)
	}
	m.MessageHeader().NoteTransmitted(time.Now())
	if tap := l.Tap; tap != nil {
		tap.TapDatagram(Outbound, &sent)
	}
	return nil
}

// Run receives datagrams and dispatches them to attached modules until
// the stream fails or ctx is done. Exchanges still waiting when the
// stream fails are nacked.
func (l *Link) Run(ctx context.Context) error {
	l.applyParseResult(ctx, l.parser.Reset())

	bytesCh, errCh := make(chan []byte), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.readLoop(subCtx, bytesCh, errCh)
	for {
		select {
		case data := <-bytesCh:
			for _, b := range data {
				l.applyParseResult(ctx, l.parser.Parse(b))
			}
		case err := <-errCh:
			return l.shutdown(err)
		case <-ctx.Done():
			return ctx.Err()
		case <-l.syncTimer:
			glog.V(2).Info("stream idle; partial frame dropped")
			l.applyParseResult(ctx, l.parser.Timeout())
		}
	}
}

func (l *Link) readLoop(ctx context.Context, bytesCh chan []byte, errCh chan error) {
	buf := make([]byte, 256)
	for {
		n, err := l.ReadWriter.Read(buf)
		if n > 0 {
			select {
			case bytesCh <- append([]byte(nil), buf[:n]...):
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

func (l *Link) shutdown(err error) error {
	errs := multierror.Append(nil, fmt.Errorf("link read: %w", err))
	for _, m := range l.Modules() {
		if n := m.UnfinishedCount(); n > 0 {
			errs = multierror.Append(errs, fmt.Errorf("mod=%d: %d exchanges abandoned", m.Address(), n))
		}
		m.NackUnfinished()
	}
	return errs.ErrorOrNil()
}

func (l *Link) applyParseResult(ctx context.Context, pr ParseResult) {
	var notifier StateNotifier
	l.lock.Lock()
	if l.state != pr.State {
		if l.state.IsReady() && !pr.State.IsReady() {
			glog.Warning("synchronization lost")
		} else if !l.state.IsReady() && pr.State.IsReady() {
			glog.V(1).Info("synchronization gained")
		}
		l.state = pr.State
		notifier = l.Notifier
	}
	l.lock.Unlock()

	if l.Timeout > 0 && pr.State.IsReceiving() {
		l.syncTimer = time.After(l.Timeout)
	} else {
		l.syncTimer = nil
	}

	if notifier != nil {
		notifier.StateChanged(ctx, pr.State)
	}
	if pr.Frame != nil {
		l.dispatch(ctx, pr.Frame, time.Now())
	}
}

func (l *Link) dispatch(ctx context.Context, frame []byte, at time.Time) {
	d, err := ParseValidDatagram(frame)
	if errors.Is(err, ErrChecksum) {
		glog.Errorf("datagram ignored: %v", err)
		l.applyParseResult(ctx, l.parser.Reset())
		return
	}
	if err != nil {
		glog.Errorf("frame discarded: %v", err)
		return
	}
	d.ReceivedAt = at
	if tap := l.Tap; tap != nil {
		tap.TapDatagram(Inbound, d)
	}
	m, err := l.Module(d.Source)
	if err != nil {
		glog.V(2).Infof("datagram dropped: %v", err)
		return
	}
	m.HandleDatagram(d)
}
