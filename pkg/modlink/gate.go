package modlink

import "sync"

// gate is a single-fire completion latch observable by any number of waiters.
type gate struct {
	once sync.Once
	ch   chan struct{}
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

func (g *gate) fire() {
	g.once.Do(func() { close(g.ch) })
}

func (g *gate) done() <-chan struct{} {
	return g.ch
}

func (g *gate) isFired() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}
