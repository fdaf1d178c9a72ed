package modlink

import "time"

// Simulator is the Transport of modules which aren't physically present:
// every exchange completes locally as if the module answered.
type Simulator struct{}

// IsLive implements Transport.
func (Simulator) IsLive() bool {
	return false
}

// Transmit implements Transport.
func (Simulator) Transmit(m Message) error {
	m.MessageHeader().NoteTransmitted(time.Now())
	if p, ok := m.(Pending); ok && p.IsAckable() {
		p.PretendTransmit()
	}
	return nil
}

// NewSimulatedModule creates a Module whose exchanges are completed locally.
func NewSimulatedModule(address byte) *Module {
	return NewModule(address, Simulator{})
}
