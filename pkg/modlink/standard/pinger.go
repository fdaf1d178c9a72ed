package standard

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/modlink/pkg/framework"
	"github.com/robotalks/modlink/pkg/modlink"
)

var _ framework.Runnable = (*Pinger)(nil)

// DefaultPingInterval stays well below the 2500ms after which a module
// without traffic enters fail safe.
const DefaultPingInterval = time.Second

// Pinger keeps a module alive: a KeepAlive is sent whenever nothing was
// transmitted to the module for Interval. When the module asks for
// attention, its status is queried and cleared.
type Pinger struct {
	Module   *modlink.Module
	Interval time.Duration
	// OnStatus receives the status queried on attention.
	OnStatus func(*ModuleStatus)
}

// NewPinger creates a Pinger.
func NewPinger(m *modlink.Module) *Pinger {
	return &Pinger{Module: m, Interval: DefaultPingInterval}
}

// Name implements framework.Named.
func (p *Pinger) Name() string {
	return fmt.Sprintf("pinger[mod=%d]", p.Module.Address())
}

// Run implements framework.Runnable.
func (p *Pinger) Run(ctx context.Context) error {
	var lastPing time.Time
	for {
		last := p.Module.LastTransmit()
		if lastPing.After(last) {
			last = lastPing
		}
		wait := p.Interval - time.Since(last)
		if wait <= 0 {
			lastPing = time.Now()
			if err := NewKeepAlive(p.Module).Send(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				glog.Warningf("mod#=%d ping: %v", p.Module.Address(), err)
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-p.Module.Attention():
			timer.Stop()
			p.queryStatus(ctx)
		case <-timer.C:
		}
	}
}

func (p *Pinger) queryStatus(ctx context.Context) {
	resp, err := NewGetModuleStatus(p.Module, true).SendReceive(ctx)
	if err != nil {
		glog.Warningf("mod#=%d get status: %v", p.Module.Address(), err)
		return
	}
	status := resp.(*ModuleStatus)
	if status.TestAnyBits(^StatusFailSafe) {
		glog.V(1).Infof("mod#=%d received status: %v", p.Module.Address(), status)
	}
	if fn := p.OnStatus; fn != nil {
		fn(status)
	}
}
