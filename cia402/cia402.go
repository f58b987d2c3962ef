/*Package cia402 holds object dictionary addresses and statusword decoding
for CIA402 motion drives.

The profile itself executes in the drive; nothing here commands motion.
The toolkit reads these objects over SDO to diagnose tracking problems and
to verify mode/state before parameter writes.
*/
package cia402

import (
	"strings"

	"github.com/KlaKalma/Ma-CNC/util"
)

// Object dictionary addresses used by the toolkit
const (
	// Controlword commands state machine transitions (written by LinuxCNC, not by us)
	Controlword uint16 = 0x6040

	// Statusword reports the drive state machine
	Statusword uint16 = 0x6041

	// ErrorCode is the last fault recorded by the drive
	ErrorCode uint16 = 0x603F

	// ModesOfOperation selects the profile mode (8 = CSP)
	ModesOfOperation uint16 = 0x6060

	// ModesOfOperationDisplay reflects the active mode
	ModesOfOperationDisplay uint16 = 0x6061

	// PositionActual is the feedback position in counts
	PositionActual uint16 = 0x6064

	// FollowingErrorWindow is the fault threshold in counts
	FollowingErrorWindow uint16 = 0x6065

	// FollowingErrorTimeout is the fault delay in ms
	FollowingErrorTimeout uint16 = 0x6066

	// PositionWindow is the in-position band in counts
	PositionWindow uint16 = 0x6067

	// PositionWindowTime is the in-position dwell in ms
	PositionWindowTime uint16 = 0x6068

	// VelocityActual is the feedback velocity
	VelocityActual uint16 = 0x606C

	// VelocityOffset is the CSP velocity feedforward additive
	VelocityOffset uint16 = 0x60B1

	// TorqueOffset is the CSP torque feedforward additive
	TorqueOffset uint16 = 0x60B2

	// SupportedDriveModes is a bitfield of implemented profile modes
	SupportedDriveModes uint16 = 0x6502
)

// ModeCSP is the modes-of-operation value for cyclic synchronous position
const ModeCSP = 8

// DriveState is a state of the CIA402 power state machine
type DriveState uint8

// CIA402 power states, derived from statusword bits 0-3, 5, 6
const (
	NotReadyToSwitchOn DriveState = iota
	SwitchOnDisabled
	ReadyToSwitchOn
	SwitchedOn
	OperationEnabled
	QuickStopActive
	FaultReactionActive
	Fault
)

func (s DriveState) String() string {
	switch s {
	case NotReadyToSwitchOn:
		return "not ready to switch on"
	case SwitchOnDisabled:
		return "switch on disabled"
	case ReadyToSwitchOn:
		return "ready to switch on"
	case SwitchedOn:
		return "switched on"
	case OperationEnabled:
		return "operation enabled"
	case QuickStopActive:
		return "quick stop active"
	case FaultReactionActive:
		return "fault reaction active"
	case Fault:
		return "fault"
	}
	return "unknown"
}

// Status is a decoded statusword
type Status struct {
	State DriveState `json:"state"`

	// Warning is statusword bit 7
	Warning bool `json:"warning"`

	// TargetReached is statusword bit 10
	TargetReached bool `json:"targetReached"`

	// InternalLimit is statusword bit 11; on the LC10E this fires when a
	// commanded move violates the drive's internal position range
	InternalLimit bool `json:"internalLimit"`

	// FollowingError is statusword bit 13 in CSP mode
	FollowingError bool `json:"followingError"`
}

// Enabled is true when the power stage is on and tracking commands
func (s Status) Enabled() bool {
	return s.State == OperationEnabled
}

// DecodeStatusword reduces a statusword to a Status.
// Masking follows CIA402: bits 0-3 and 6 select the state, bit 5 splits
// operation enabled from quick stop.
func DecodeStatusword(w uint16) Status {
	st := Status{
		Warning:        util.GetBit(w, 7),
		TargetReached:  util.GetBit(w, 10),
		InternalLimit:  util.GetBit(w, 11),
		FollowingError: util.GetBit(w, 13),
	}
	switch {
	case w&0x4F == 0x00:
		st.State = NotReadyToSwitchOn
	case w&0x4F == 0x40:
		st.State = SwitchOnDisabled
	case w&0x6F == 0x21:
		st.State = ReadyToSwitchOn
	case w&0x6F == 0x23:
		st.State = SwitchedOn
	case w&0x6F == 0x27:
		st.State = OperationEnabled
	case w&0x6F == 0x07:
		st.State = QuickStopActive
	case w&0x4F == 0x0F:
		st.State = FaultReactionActive
	case w&0x4F == 0x08:
		st.State = Fault
	}
	return st
}

// faultTexts maps 0x603F error codes to their meaning.  The generic CIA402
// codes are listed; the LC10E also reports vendor codes in 0xFF00-0xFFFF
// which surface as "vendor specific".
var faultTexts = map[uint16]string{
	0x0000: "no fault",
	0x2310: "continuous overcurrent",
	0x2320: "short circuit",
	0x3210: "DC bus overvoltage",
	0x3220: "DC bus undervoltage",
	0x4210: "drive overtemperature",
	0x5112: "control supply undervoltage",
	0x7122: "motor mismatch",
	0x7305: "encoder fault",
	0x8110: "CAN overrun",
	0x8130: "heartbeat / watchdog",
	0x8611: "following error too large",
	0x8612: "reference limit exceeded",
}

// FaultText renders a 0x603F error code as text
func FaultText(code uint16) string {
	if s, ok := faultTexts[code]; ok {
		return s
	}
	if code >= 0xFF00 {
		return "vendor specific fault"
	}
	return "unknown fault"
}

// ParseDtype normalizes an ethercat CLI type token, defaulting to uint16
func ParseDtype(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64":
		return s
	}
	return "uint16"
}
