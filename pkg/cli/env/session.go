package env

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"

	"github.com/robotalks/modlink/pkg/framework"
	"github.com/robotalks/modlink/pkg/modlink"
	"github.com/robotalks/modlink/pkg/modlink/standard"
	"github.com/robotalks/modlink/pkg/transport/mqtt"
)

// Session is a running Link with the modules kept alive.
type Session struct {
	Link    *modlink.Link
	Pingers []*standard.Pinger
	Tap     *mqtt.TapPublisher
	// OnStatus receives the status queried when a module asks for attention.
	OnStatus func(*modlink.Module, *standard.ModuleStatus)

	closers  []io.Closer
	cancel   func()
	runner   *framework.Runner
	waitOnce sync.Once
	waitErr  error
}

// NewSession opens the Link and, if configured, the tap.
func (c *Config) NewSession(ctx context.Context) (*Session, error) {
	link, closer, err := c.OpenLink(ctx)
	if err != nil {
		return nil, err
	}
	s := &Session{Link: link, closers: []io.Closer{closer}}
	if c.Tap {
		q, err := c.ConnectBroker()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, q)
		s.Tap = mqtt.NewTapPublisher(q)
		link.Tap = s.Tap
	}
	if c.PingInterval > 0 {
		for _, m := range link.Modules() {
			p := standard.NewPinger(m)
			p.Interval = c.PingInterval
			p.OnStatus = s.statusHandler(m)
			s.Pingers = append(s.Pingers, p)
		}
	}
	return s, nil
}

func (s *Session) statusHandler(m *modlink.Module) func(*standard.ModuleStatus) {
	return func(status *standard.ModuleStatus) {
		if fn := s.OnStatus; fn != nil {
			fn(m, status)
			return
		}
		glog.Infof("mod#=%d %v", m.Address(), status)
	}
}

// Start runs the Link, the pingers and the tap in background.
func (s *Session) Start(ctx context.Context) *Session {
	ctx, s.cancel = context.WithCancel(ctx)
	s.runner = framework.NewRunnerWith(ctx).
		Go(framework.NamedRun("link", s.Link))
	for _, p := range s.Pingers {
		s.runner.Go(p)
	}
	if s.Tap != nil {
		s.runner.Go(s.Tap)
	}
	return s
}

// Module gets an attached module.
func (s *Session) Module(address byte) (*modlink.Module, error) {
	return s.Link.Module(address)
}

// Wait waits until the session stops, which happens when the stream fails
// or the context passed to Start is done.
func (s *Session) Wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.runner.Wait()
		for _, m := range s.Link.Modules() {
			m.NackUnfinished()
		}
	})
	return s.waitErr
}

// Close stops the session and releases the stream.
func (s *Session) Close() error {
	var errs *multierror.Error
	if s.cancel != nil {
		s.cancel()
	}
	for _, closer := range s.closers {
		if err := closer.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if s.runner != nil {
		if err := s.Wait(); err != nil {
			glog.V(1).Infof("session stopped: %v", err)
		}
	}
	return errs.ErrorOrNil()
}
