package modlink

import (
	"fmt"
)

// Standard command numbers.
const (
	CommandNumberFirst             uint16 = 0x7f01
	CommandNumberAck               uint16 = 0x7f01
	CommandNumberNack              uint16 = 0x7f02
	CommandNumberGetModuleStatus   uint16 = 0x7f03
	CommandNumberKeepAlive         uint16 = 0x7f04
	CommandNumberFailSafe          uint16 = 0x7f05
	CommandNumberSetNewModuleAddr  uint16 = 0x7f06
	CommandNumberQueryInterface    uint16 = 0x7f07
	CommandNumberStartDownload     uint16 = 0x7f08
	CommandNumberDownloadChunk     uint16 = 0x7f09
	CommandNumberSetModuleLEDColor uint16 = 0x7f0a
	CommandNumberGetModuleLEDColor uint16 = 0x7f0b
	CommandNumberSetModuleLEDPatt  uint16 = 0x7f0c
	CommandNumberGetModuleLEDPatt  uint16 = 0x7f0d
	CommandNumberDebugLogLevel     uint16 = 0x7f0e
	CommandNumberDiscovery         uint16 = 0x7f0f
	CommandNumberLast              uint16 = 0x7f0f
)

// IsStandardCommandNumber checks if n is one of the standard commands,
// which every module supports without interface queries.
func IsStandardCommandNumber(n uint16) bool {
	return n >= CommandNumberFirst && n <= CommandNumberLast
}

// ReasonCode explains a Nack.
type ReasonCode uint16

// Reason codes reported by modules. Codes above 0xff are synthesized
// locally and never transmitted.
const (
	ReasonParam0 ReasonCode = 0
	ReasonParam9 ReasonCode = 9

	ReasonGPIOOut0     ReasonCode = 10
	ReasonGPIONoOutput ReasonCode = 18
	ReasonGPIOIn0      ReasonCode = 20
	ReasonGPIONoInput  ReasonCode = 28

	ReasonServoNotConfigBeforeEnabled ReasonCode = 30
	ReasonBatteryTooLowToRunServo     ReasonCode = 31

	ReasonI2CMasterBusy          ReasonCode = 40
	ReasonI2COperationInProgress ReasonCode = 41
	ReasonI2CNoResultsPending    ReasonCode = 42
	ReasonI2CQueryMismatch       ReasonCode = 43

	ReasonMotorNotConfigBeforeEnabled ReasonCode = 50
	ReasonCommandInvalidForMotorMode  ReasonCode = 51
	ReasonBatteryTooLowToRunMotor     ReasonCode = 52

	ReasonCommandImplPending  ReasonCode = 253
	ReasonCommandRoutingError ReasonCode = 254
	ReasonPacketTypeIDUnknown ReasonCode = 255

	ReasonAbandonedWaitingForResponse ReasonCode = 256
	ReasonAbandonedWaitingForAck      ReasonCode = 257
)

var reasonNames = map[ReasonCode]string{
	ReasonServoNotConfigBeforeEnabled: "SERVO_NOT_CONFIG_BEFORE_ENABLED",
	ReasonBatteryTooLowToRunServo:     "BATTERY_TOO_LOW_TO_RUN_SERVO",
	ReasonI2CMasterBusy:               "I2C_MASTER_BUSY",
	ReasonI2COperationInProgress:      "I2C_OPERATION_IN_PROGRESS",
	ReasonI2CNoResultsPending:         "I2C_NO_RESULTS_PENDING",
	ReasonI2CQueryMismatch:            "I2C_QUERY_MISMATCH",
	ReasonMotorNotConfigBeforeEnabled: "MOTOR_NOT_CONFIG_BEFORE_ENABLED",
	ReasonCommandInvalidForMotorMode:  "COMMAND_INVALID_FOR_MOTOR_MODE",
	ReasonBatteryTooLowToRunMotor:     "BATTERY_TOO_LOW_TO_RUN_MOTOR",
	ReasonCommandImplPending:          "COMMAND_IMPL_PENDING",
	ReasonCommandRoutingError:         "COMMAND_ROUTING_ERROR",
	ReasonPacketTypeIDUnknown:         "PACKET_TYPE_ID_UNKNOWN",
	ReasonAbandonedWaitingForResponse: "ABANDONED_WAITING_FOR_RESPONSE",
	ReasonAbandonedWaitingForAck:      "ABANDONED_WAITING_FOR_ACK",
}

// String implements fmt.Stringer.
func (c ReasonCode) String() string {
	switch {
	case c <= ReasonParam9:
		return fmt.Sprintf("PARAM%d", c)
	case c >= ReasonGPIOOut0 && c < ReasonGPIONoOutput:
		return fmt.Sprintf("GPIO_OUT%d", c-ReasonGPIOOut0)
	case c == ReasonGPIONoOutput:
		return "GPIO_NO_OUTPUT"
	case c >= ReasonGPIOIn0 && c < ReasonGPIONoInput:
		return fmt.Sprintf("GPIO_IN%d", c-ReasonGPIOIn0)
	case c == ReasonGPIONoInput:
		return "GPIO_NO_INPUT"
	}
	if name, ok := reasonNames[c]; ok {
		return name
	}
	return fmt.Sprintf("REASON_%d", uint16(c))
}

// IsUnsupported indicates the module doesn't implement the command.
func (c ReasonCode) IsUnsupported() bool {
	switch c {
	case ReasonCommandImplPending, ReasonCommandRoutingError, ReasonPacketTypeIDUnknown:
		return true
	}
	return false
}

// IsTransient indicates an expected, retry-later condition.
func (c ReasonCode) IsTransient() bool {
	switch c {
	case ReasonCommandImplPending, ReasonI2CMasterBusy, ReasonI2COperationInProgress, ReasonI2CNoResultsPending:
		return true
	}
	return false
}

// IsAbandoned indicates the nack was synthesized after a deadline.
func (c ReasonCode) IsAbandoned() bool {
	return c == ReasonAbandonedWaitingForResponse || c == ReasonAbandonedWaitingForAck
}

// Ack positively acknowledges a command which expects no response.
type Ack struct {
	Header
	AttentionRequired bool
}

// NewAck creates an Ack.
func NewAck(attentionRequired bool) *Ack {
	return &Ack{AttentionRequired: attentionRequired}
}

// CommandNumber implements Message.
func (a *Ack) CommandNumber() uint16 { return CommandNumberAck }

// IsAck implements Message.
func (a *Ack) IsAck() bool { return true }

// Payload implements Message.
func (a *Ack) Payload() []byte {
	if a.AttentionRequired {
		return []byte{1}
	}
	return []byte{0}
}

// LoadPayload implements Message.
func (a *Ack) LoadPayload(p []byte) error {
	a.AttentionRequired = len(p) > 0 && p[0] != 0
	return nil
}

// Nack negatively acknowledges a command.
type Nack struct {
	Header
	Reason ReasonCode
}

// NewNack creates a Nack.
func NewNack(reason ReasonCode) *Nack {
	return &Nack{Reason: reason}
}

// CommandNumber implements Message.
func (n *Nack) CommandNumber() uint16 { return CommandNumberNack }

// IsNack implements Message.
func (n *Nack) IsNack() bool { return true }

// Payload implements Message. Local reasons don't fit a byte and must
// never be transmitted.
func (n *Nack) Payload() []byte {
	return []byte{byte(n.Reason)}
}

// LoadPayload implements Message.
func (n *Nack) LoadPayload(p []byte) error {
	if len(p) < 1 {
		return &TruncatedFrameError{Declared: 1, Available: len(p)}
	}
	n.Reason = ReasonCode(p[0])
	return nil
}
