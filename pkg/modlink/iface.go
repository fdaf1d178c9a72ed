package modlink

import "sync"

// ResponseType identifies a kind of response.
type ResponseType struct {
	Name string
}

// CommandType identifies a kind of command and statically declares the
// response correlated with it, nil if the command is answered with an Ack.
type CommandType struct {
	Name     string
	Response *ResponseType
}

// InterfaceDescriptor is a named, ordered set of command slots which a
// module places at a contiguous range of command numbers.
type InterfaceDescriptor struct {
	name            string
	slots           []*CommandType
	commandIndices  map[*CommandType]int
	responseIndices map[*ResponseType]int

	lock     sync.RWMutex
	base     uint16
	rejected bool
}

// NewInterface creates an InterfaceDescriptor. A nil slot is a reserved
// placeholder which keeps the numbering of the following commands.
func NewInterface(name string, slots ...*CommandType) *InterfaceDescriptor {
	d := &InterfaceDescriptor{
		name:            name,
		slots:           slots,
		commandIndices:  make(map[*CommandType]int),
		responseIndices: make(map[*ResponseType]int),
	}
	for i, slot := range slots {
		if slot == nil {
			continue
		}
		d.commandIndices[slot] = i
		if slot.Response != nil {
			d.responseIndices[slot.Response] = i
		}
	}
	return d
}

// Name returns the interface name.
func (d *InterfaceDescriptor) Name() string {
	return d.name
}

// CommandCount returns the number of slots, placeholders included.
func (d *InterfaceDescriptor) CommandCount() int {
	return len(d.slots)
}

// Slots returns the slots in order.
func (d *InterfaceDescriptor) Slots() []*CommandType {
	return append([]*CommandType(nil), d.slots...)
}

// AssignBaseCommandNumber sets the command number of the first slot.
func (d *InterfaceDescriptor) AssignBaseCommandNumber(base uint16) {
	d.lock.Lock()
	d.base = base
	d.lock.Unlock()
}

// BaseCommandNumber returns the command number of the first slot.
func (d *InterfaceDescriptor) BaseCommandNumber() uint16 {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.base
}

// AbsoluteCommandNumber maps a slot index to its command number.
func (d *InterfaceDescriptor) AbsoluteCommandNumber(index int) uint16 {
	return d.BaseCommandNumber() + uint16(index)
}

// MarkRejected records that the module doesn't know this interface.
func (d *InterfaceDescriptor) MarkRejected() {
	d.lock.Lock()
	d.rejected = true
	d.lock.Unlock()
}

// WasRejected indicates MarkRejected was called.
func (d *InterfaceDescriptor) WasRejected() bool {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.rejected
}

// CommandIndex returns the slot index of a command type.
func (d *InterfaceDescriptor) CommandIndex(t *CommandType) (int, error) {
	if i, ok := d.commandIndices[t]; ok {
		return i, nil
	}
	return 0, programmingErrorf("command %s not registered in interface %q", typeName(t), d.name)
}

// ResponseIndex returns the slot index of the command a response answers.
func (d *InterfaceDescriptor) ResponseIndex(t *ResponseType) (int, error) {
	if i, ok := d.responseIndices[t]; ok {
		return i, nil
	}
	name := "<nil>"
	if t != nil {
		name = t.Name
	}
	return 0, programmingErrorf("response %s not registered in interface %q", name, d.name)
}

// CommandNumber returns the absolute command number of a command type.
func (d *InterfaceDescriptor) CommandNumber(t *CommandType) (uint16, error) {
	i, err := d.CommandIndex(t)
	if err != nil {
		return 0, err
	}
	return d.AbsoluteCommandNumber(i), nil
}

// CommandAt returns the command type in a slot, nil for placeholders and
// out of range indices.
func (d *InterfaceDescriptor) CommandAt(index int) *CommandType {
	if index < 0 || index >= len(d.slots) {
		return nil
	}
	return d.slots[index]
}

func typeName(t *CommandType) string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}
