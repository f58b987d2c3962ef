package ethercat

import "fmt"

// State is an EtherCAT application-layer state
type State uint8

// AL states in transition order.  BOOT sits outside the normal sequence.
const (
	Unknown State = iota
	Init
	PreOp
	SafeOp
	Op
	Boot
)

// BringupSequence is the order of states walked during bring-up.
// The master leaves slaves in PREOP after a rescan, so INIT is
// included only for completeness; walking from the current state is fine.
var BringupSequence = []State{Init, PreOp, SafeOp, Op}

// ParseState converts the state column of ethercat CLI output to a State
func ParseState(s string) State {
	switch s {
	case "INIT":
		return Init
	case "PREOP":
		return PreOp
	case "SAFEOP":
		return SafeOp
	case "OP":
		return Op
	case "BOOT":
		return Boot
	}
	return Unknown
}

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case PreOp:
		return "PREOP"
	case SafeOp:
		return "SAFEOP"
	case Op:
		return "OP"
	case Boot:
		return "BOOT"
	}
	return "UNKNOWN"
}

// Next returns the state following s in the bring-up sequence
func (s State) Next() (State, error) {
	switch s {
	case Init:
		return PreOp, nil
	case PreOp:
		return SafeOp, nil
	case SafeOp:
		return Op, nil
	}
	return Unknown, fmt.Errorf("no bring-up transition from %s", s)
}
