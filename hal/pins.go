package hal

import "fmt"

// Fixed pins used by the toolkit
const (
	// EmcEnableIn is high whenever a session is up and the machine is on
	EmcEnableIn = "iocontrol.0.emc-enable-in"

	// ServoThreadTmax is the worst-case servo thread execution time in ns
	ServoThreadTmax = "servo-thread.tmax"
)

// ServoPeriodNs is the servo thread period on this machine (1 ms)
const ServoPeriodNs = 1_000_000

// JointFError is the following error of joint n in machine units
func JointFError(n int) string { return fmt.Sprintf("joint.%d.f-error", n) }

// JointMotorPosCmd is the commanded motor position of joint n
func JointMotorPosCmd(n int) string { return fmt.Sprintf("joint.%d.motor-pos-cmd", n) }

// JointMotorPosFb is the feedback motor position of joint n
func JointMotorPosFb(n int) string { return fmt.Sprintf("joint.%d.motor-pos-fb", n) }

// JointVelCmd is the commanded velocity of joint n
func JointVelCmd(n int) string { return fmt.Sprintf("joint.%d.vel-cmd", n) }

// CIA402OpEnabled is the op-enabled status bit of drive n
func CIA402OpEnabled(n int) string { return fmt.Sprintf("cia402.%d.stat-op-enabled", n) }

// CIA402VelocityFb is the feedback velocity of drive n
func CIA402VelocityFb(n int) string { return fmt.Sprintf("cia402.%d.velocity-fb", n) }

// LcecVelocityOffset is the velocity feedforward sent to slave n by the
// LCEC driver, in counts/s
func LcecVelocityOffset(n int) string { return fmt.Sprintf("lcec.0.%d.velocity-offset", n) }

// PidPin is a pin or param of the software pid comp for an axis letter,
// e.g. PidPin("x", "Pgain") -> pid.x.Pgain
func PidPin(axis, name string) string { return fmt.Sprintf("pid.%s.%s", axis, name) }
