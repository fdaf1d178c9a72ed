package modlink

import "time"

// Options tunes the reliable delivery of Respondable messages.
type Options struct {
	// Retransmissions is the most retransmissions of a single exchange.
	Retransmissions int
	// AwaitInterval is the absolute deadline of an exchange, measured
	// from the initial transmission.
	AwaitInterval time.Duration
	// RetransmitInterval is how long to wait for the module before
	// retransmitting.
	RetransmitInterval time.Duration
	// UnsupportedFallback returns the pre-constructed response when the
	// module doesn't support the command, instead of a NackError.
	UnsupportedFallback bool
}

// DefaultOptions returns the default Options.
func DefaultOptions() Options {
	return Options{
		Retransmissions:    5,
		AwaitInterval:      250 * time.Millisecond,
		RetransmitInterval: 100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Retransmissions < 0 {
		o.Retransmissions = 0
	}
	if o.AwaitInterval <= 0 {
		o.AwaitInterval = def.AwaitInterval
	}
	if o.RetransmitInterval <= 0 {
		o.RetransmitInterval = def.RetransmitInterval
	}
	return o
}
