package modlink

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// keyedLock serializes exchanges to one destination. The owner is the
// message holding it, which may acquire it again recursively.
type keyedLock struct {
	name  string
	sem   chan struct{}
	lock  sync.Mutex
	owner Message
	count int
}

func newKeyedLock(name string) *keyedLock {
	return &keyedLock{name: name, sem: make(chan struct{}, 1)}
}

// acquire blocks until m owns the lock or ctx is done.
func (l *keyedLock) acquire(ctx context.Context, m Message) error {
	l.lock.Lock()
	if l.owner == m {
		l.count++
		l.lock.Unlock()
		glog.V(4).Infof("%s: lock recursively acquired", l.name)
		return nil
	}
	l.lock.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.lock.Lock()
	l.owner, l.count = m, 1
	l.lock.Unlock()
	glog.V(4).Infof("%s: lock %s msg#=%d", l.name, MessageName(m), m.MessageHeader().MessageNumber())
	return nil
}

// release gives up one level of ownership held by m.
func (l *keyedLock) release(m Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.owner != m {
		glog.Errorf("%s: release by non-owner %s", l.name, MessageName(m))
		return
	}
	if l.count--; l.count > 0 {
		return
	}
	l.owner = nil
	<-l.sem
	glog.V(4).Infof("%s: unlock %s msg#=%d", l.name, MessageName(m), m.MessageHeader().MessageNumber())
}
