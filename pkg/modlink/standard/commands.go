// Package standard provides the commands every module supports without
// querying interfaces.
package standard

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/robotalks/modlink/pkg/modlink"
)

// KeepAlive resets the module's keep alive timer.
type KeepAlive struct {
	modlink.Respondable
}

// NewKeepAlive creates a KeepAlive.
func NewKeepAlive(tx modlink.Transmitter) *KeepAlive {
	c := &KeepAlive{}
	c.Init(tx, c, nil)
	return c
}

// CommandNumber implements modlink.Message.
func (c *KeepAlive) CommandNumber() uint16 { return modlink.CommandNumberKeepAlive }

// Payload implements modlink.Message.
func (c *KeepAlive) Payload() []byte { return nil }

// LoadPayload implements modlink.Message.
func (c *KeepAlive) LoadPayload([]byte) error { return nil }

// FailSafe puts the module into its safe state: motors and servos stop.
type FailSafe struct {
	modlink.Respondable
}

// NewFailSafe creates a FailSafe.
func NewFailSafe(tx modlink.Transmitter) *FailSafe {
	c := &FailSafe{}
	c.Init(tx, c, nil)
	return c
}

// CommandNumber implements modlink.Message.
func (c *FailSafe) CommandNumber() uint16 { return modlink.CommandNumberFailSafe }

// Payload implements modlink.Message.
func (c *FailSafe) Payload() []byte { return nil }

// LoadPayload implements modlink.Message.
func (c *FailSafe) LoadPayload([]byte) error { return nil }

// Module status bits.
const (
	StatusKeepAliveTimeout   byte = 1 << 0
	StatusDeviceReset        byte = 1 << 1
	StatusFailSafe           byte = 1 << 2
	StatusControllerOverTemp byte = 1 << 3
	StatusBatteryLow         byte = 1 << 4
	StatusHIBFault           byte = 1 << 5
)

var statusBitNames = []struct {
	bit  byte
	name string
}{
	{StatusKeepAliveTimeout, "KeepAliveTimeout"},
	{StatusDeviceReset, "Reset"},
	{StatusFailSafe, "FailSafe"},
	{StatusControllerOverTemp, "Temp"},
	{StatusBatteryLow, "Battery"},
	{StatusHIBFault, "HIB Fault"},
}

// GetModuleStatus queries the status bits, optionally clearing them.
type GetModuleStatus struct {
	modlink.Respondable
	ClearStatus bool
}

// NewGetModuleStatus creates a GetModuleStatus.
func NewGetModuleStatus(tx modlink.Transmitter, clearStatus bool) *GetModuleStatus {
	c := &GetModuleStatus{ClearStatus: clearStatus}
	c.Init(tx, c, func() modlink.Message { return &ModuleStatus{} })
	return c
}

// CommandNumber implements modlink.Message.
func (c *GetModuleStatus) CommandNumber() uint16 { return modlink.CommandNumberGetModuleStatus }

// IsResponseExpected implements modlink.Message.
func (c *GetModuleStatus) IsResponseExpected() bool { return true }

// Payload implements modlink.Message.
func (c *GetModuleStatus) Payload() []byte {
	if c.ClearStatus {
		return []byte{1}
	}
	return []byte{0}
}

// LoadPayload implements modlink.Message.
func (c *GetModuleStatus) LoadPayload(p []byte) error {
	c.ClearStatus = len(p) > 0 && p[0] != 0
	return nil
}

// ModuleStatus is the response of GetModuleStatus.
type ModuleStatus struct {
	modlink.Header
	Status      byte
	MotorAlerts byte
}

// CommandNumber implements modlink.Message.
func (r *ModuleStatus) CommandNumber() uint16 { return modlink.CommandNumberGetModuleStatus }

// IsResponse implements modlink.Message.
func (r *ModuleStatus) IsResponse() bool { return true }

// Payload implements modlink.Message.
func (r *ModuleStatus) Payload() []byte { return []byte{r.Status, r.MotorAlerts} }

// LoadPayload implements modlink.Message.
func (r *ModuleStatus) LoadPayload(p []byte) error {
	if len(p) < 2 {
		return fmt.Errorf("module status: %w", &modlink.TruncatedFrameError{Declared: 2, Available: len(p)})
	}
	r.Status, r.MotorAlerts = p[0], p[1]
	return nil
}

// TestBitsOn checks all bits are set.
func (r *ModuleStatus) TestBitsOn(bits byte) bool { return r.Status&bits == bits }

// TestAnyBits checks any of the bits is set.
func (r *ModuleStatus) TestAnyBits(bits byte) bool { return r.Status&bits != 0 }

// IsKeepAliveTimeout indicates the module timed out waiting for keep alive.
func (r *ModuleStatus) IsKeepAliveTimeout() bool { return r.TestBitsOn(StatusKeepAliveTimeout) }

// IsDeviceReset indicates the module was reset.
func (r *ModuleStatus) IsDeviceReset() bool { return r.TestBitsOn(StatusDeviceReset) }

// IsFailSafe indicates the module is in fail safe state.
func (r *ModuleStatus) IsFailSafe() bool { return r.TestBitsOn(StatusFailSafe) }

// IsBatteryLow indicates the battery voltage is low.
func (r *ModuleStatus) IsBatteryLow() bool { return r.TestBitsOn(StatusBatteryLow) }

// HasMotorLostCounts checks the encoder of a motor (0-3) lost counts.
func (r *ModuleStatus) HasMotorLostCounts(motor int) bool {
	bit := byte(1) << uint(motor)
	return r.MotorAlerts&bit == bit
}

// IsMotorBridgeOverTemp checks the H-bridge of a motor (0-3) is over temperature.
func (r *ModuleStatus) IsMotorBridgeOverTemp(motor int) bool {
	bit := byte(1) << uint(motor+4)
	return r.MotorAlerts&bit == bit
}

// String implements fmt.Stringer.
func (r *ModuleStatus) String() string {
	var bits []string
	for _, b := range statusBitNames {
		if r.TestBitsOn(b.bit) {
			bits = append(bits, b.name)
		}
	}
	msg := fmt.Sprintf("status=0x%02x alerts=0x%02x", r.Status, r.MotorAlerts)
	if len(bits) > 0 {
		msg += ": " + strings.Join(bits, "|")
	}
	return msg
}

// QueryInterface asks where the module placed the commands of an
// interface.
type QueryInterface struct {
	modlink.Respondable
	InterfaceName string
}

// NewQueryInterface creates a QueryInterface.
func NewQueryInterface(tx modlink.Transmitter, name string) *QueryInterface {
	c := &QueryInterface{InterfaceName: name}
	c.Init(tx, c, func() modlink.Message { return &QueryInterfaceResponse{} })
	return c
}

// CommandNumber implements modlink.Message.
func (c *QueryInterface) CommandNumber() uint16 { return modlink.CommandNumberQueryInterface }

// IsResponseExpected implements modlink.Message.
func (c *QueryInterface) IsResponseExpected() bool { return true }

// Payload implements modlink.Message. The name is NUL terminated.
func (c *QueryInterface) Payload() []byte {
	return append([]byte(c.InterfaceName), 0)
}

// LoadPayload implements modlink.Message.
func (c *QueryInterface) LoadPayload(p []byte) error {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	c.InterfaceName = string(p)
	return nil
}

// QueryInterfaceResponse is the response of QueryInterface.
type QueryInterfaceResponse struct {
	modlink.Header
	CommandNumberFirst uint16
	NumberOfCommands   uint16
}

// CommandNumber implements modlink.Message.
func (r *QueryInterfaceResponse) CommandNumber() uint16 {
	return modlink.CommandNumberQueryInterface
}

// IsResponse implements modlink.Message.
func (r *QueryInterfaceResponse) IsResponse() bool { return true }

// Payload implements modlink.Message.
func (r *QueryInterfaceResponse) Payload() []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint16(p, r.CommandNumberFirst)
	binary.LittleEndian.PutUint16(p[2:], r.NumberOfCommands)
	return p
}

// LoadPayload implements modlink.Message.
func (r *QueryInterfaceResponse) LoadPayload(p []byte) error {
	if len(p) < 4 {
		return fmt.Errorf("query interface: %w", &modlink.TruncatedFrameError{Declared: 4, Available: len(p)})
	}
	r.CommandNumberFirst = binary.LittleEndian.Uint16(p)
	r.NumberOfCommands = binary.LittleEndian.Uint16(p[2:])
	return nil
}

// Color is an RGB LED color.
type Color struct {
	R, G, B byte
}

// String implements fmt.Stringer.
func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseColor parses "#rrggbb" or "rrggbb".
func ParseColor(s string) (Color, error) {
	var c Color
	b, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil || len(b) != 3 {
		return c, fmt.Errorf("invalid color %q", s)
	}
	c.R, c.G, c.B = b[0], b[1], b[2]
	return c, nil
}

// SetModuleLEDColor sets the color of the module LED.
type SetModuleLEDColor struct {
	modlink.Respondable
	Color Color
}

// NewSetModuleLEDColor creates a SetModuleLEDColor.
func NewSetModuleLEDColor(tx modlink.Transmitter, color Color) *SetModuleLEDColor {
	c := &SetModuleLEDColor{Color: color}
	c.Init(tx, c, nil)
	return c
}

// CommandNumber implements modlink.Message.
func (c *SetModuleLEDColor) CommandNumber() uint16 { return modlink.CommandNumberSetModuleLEDColor }

// Payload implements modlink.Message.
func (c *SetModuleLEDColor) Payload() []byte { return []byte{c.Color.R, c.Color.G, c.Color.B} }

// LoadPayload implements modlink.Message.
func (c *SetModuleLEDColor) LoadPayload(p []byte) error {
	return loadColor(&c.Color, p)
}

// GetModuleLEDColor queries the color of the module LED.
type GetModuleLEDColor struct {
	modlink.Respondable
}

// NewGetModuleLEDColor creates a GetModuleLEDColor.
func NewGetModuleLEDColor(tx modlink.Transmitter) *GetModuleLEDColor {
	c := &GetModuleLEDColor{}
	c.Init(tx, c, func() modlink.Message { return &ModuleLEDColor{} })
	return c
}

// CommandNumber implements modlink.Message.
func (c *GetModuleLEDColor) CommandNumber() uint16 { return modlink.CommandNumberGetModuleLEDColor }

// IsResponseExpected implements modlink.Message.
func (c *GetModuleLEDColor) IsResponseExpected() bool { return true }

// Payload implements modlink.Message.
func (c *GetModuleLEDColor) Payload() []byte { return nil }

// LoadPayload implements modlink.Message.
func (c *GetModuleLEDColor) LoadPayload([]byte) error { return nil }

// ModuleLEDColor is the response of GetModuleLEDColor.
type ModuleLEDColor struct {
	modlink.Header
	Color Color
}

// CommandNumber implements modlink.Message.
func (r *ModuleLEDColor) CommandNumber() uint16 { return modlink.CommandNumberGetModuleLEDColor }

// IsResponse implements modlink.Message.
func (r *ModuleLEDColor) IsResponse() bool { return true }

// Payload implements modlink.Message.
func (r *ModuleLEDColor) Payload() []byte { return []byte{r.Color.R, r.Color.G, r.Color.B} }

// LoadPayload implements modlink.Message.
func (r *ModuleLEDColor) LoadPayload(p []byte) error {
	return loadColor(&r.Color, p)
}

func loadColor(c *Color, p []byte) error {
	if len(p) < 3 {
		return fmt.Errorf("led color: %w", &modlink.TruncatedFrameError{Declared: 3, Available: len(p)})
	}
	c.R, c.G, c.B = p[0], p[1], p[2]
	return nil
}

// MaxLEDPatternSteps is the most steps a module plays.
const MaxLEDPatternSteps = 16

// LEDPatternStep shows a color for a duration. A zero duration ends the
// pattern.
type LEDPatternStep struct {
	Duration time.Duration
	Color    Color
}

// SetModuleLEDPattern makes the module LED play a looping pattern.
type SetModuleLEDPattern struct {
	modlink.Respondable
	Steps []LEDPatternStep
}

// NewSetModuleLEDPattern creates a SetModuleLEDPattern. Steps beyond
// MaxLEDPatternSteps are dropped.
func NewSetModuleLEDPattern(tx modlink.Transmitter, steps ...LEDPatternStep) *SetModuleLEDPattern {
	if len(steps) > MaxLEDPatternSteps {
		steps = steps[:MaxLEDPatternSteps]
	}
	c := &SetModuleLEDPattern{Steps: steps}
	c.Init(tx, c, nil)
	return c
}

// CommandNumber implements modlink.Message.
func (c *SetModuleLEDPattern) CommandNumber() uint16 { return modlink.CommandNumberSetModuleLEDPatt }

// Payload implements modlink.Message: each step is tenths of a second
// then blue, green, red; a short pattern is terminated by a zero step.
func (c *SetModuleLEDPattern) Payload() []byte {
	p := make([]byte, 0, (len(c.Steps)+1)*4)
	for _, s := range c.Steps {
		tenths := (s.Duration + 50*time.Millisecond) / (100 * time.Millisecond)
		if tenths > 255 {
			tenths = 255
		}
		p = append(p, byte(tenths), s.Color.B, s.Color.G, s.Color.R)
	}
	if len(c.Steps) < MaxLEDPatternSteps {
		p = append(p, 0, 0, 0, 0)
	}
	return p
}

// LoadPayload implements modlink.Message.
func (c *SetModuleLEDPattern) LoadPayload(p []byte) error {
	c.Steps = nil
	for ; len(p) >= 4; p = p[4:] {
		if p[0] == 0 {
			break
		}
		c.Steps = append(c.Steps, LEDPatternStep{
			Duration: time.Duration(p[0]) * 100 * time.Millisecond,
			Color:    Color{R: p[3], G: p[2], B: p[1]},
		})
	}
	return nil
}
