/*Package diagnose implements a one-shot following-error diagnosis.

It walks the usual suspects in order: is the feedforward signal reaching
the bus coupler, is the servo thread running out of cycle, how much of
the observed error is plain transport delay, and what do the drive's own
error windows say.  The verdict is an error-to-velocity ratio in µm per
mm/s, which separates a missing feedforward path from merely soft gains.
*/
package diagnose

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/KlaKalma/Ma-CNC/cia402"
	"github.com/KlaKalma/Ma-CNC/ethercat"
	"github.com/KlaKalma/Ma-CNC/hal"
)

// Config fixes the axis under test and the machine constants
type Config struct {
	// Joint is the LinuxCNC joint number
	Joint int

	// Slave is the EtherCAT ring position of the drive
	Slave int

	// Scale is the drive counts per mm, from the INI
	Scale float64

	// PeriodNs is the servo thread period
	PeriodNs float64

	// DelayCycles is the assumed EtherCAT transport delay
	DelayCycles int
}

// DefaultConfig matches the two-axis LC10E machine this grew up on
func DefaultConfig(joint int) Config {
	return Config{
		Joint:       joint,
		Slave:       joint,
		Scale:       26214.4,
		PeriodNs:    float64(hal.ServoPeriodNs),
		DelayCycles: 2}
}

// Snapshot is one acyclic read of the axis, lengths in mm
type Snapshot struct {
	Enabled   bool    `json:"enabled"`
	PosCmd    float64 `json:"posCmd"`
	PosFb     float64 `json:"posFb"`
	FError    float64 `json:"ferror"`
	VelCmd    float64 `json:"velCmd"`
	VelFb     float64 `json:"velFb"`
	VelOffset float64 `json:"velOffset"`
	TmaxNs    float64 `json:"tmaxNs"`
}

// Take reads a snapshot of the joint from HAL.  The joint.* pins follow
// the LinuxCNC joint number; the cia402 and lcec instances are numbered
// by ring position, which need not match.
func Take(ctx context.Context, hw *hal.HAL, cfg Config) (Snapshot, error) {
	var s Snapshot
	var err error
	s.Enabled, err = hw.GetBit(ctx, hal.CIA402OpEnabled(cfg.Slave))
	if err != nil {
		return s, err
	}
	reads := []struct {
		pin string
		dst *float64
	}{
		{hal.JointMotorPosCmd(cfg.Joint), &s.PosCmd},
		{hal.JointMotorPosFb(cfg.Joint), &s.PosFb},
		{hal.JointFError(cfg.Joint), &s.FError},
		{hal.JointVelCmd(cfg.Joint), &s.VelCmd},
		{hal.CIA402VelocityFb(cfg.Slave), &s.VelFb},
		{hal.LcecVelocityOffset(cfg.Slave), &s.VelOffset},
		{hal.ServoThreadTmax, &s.TmaxNs},
	}
	for _, r := range reads {
		*r.dst, err = hw.Getp(ctx, r.pin)
		if err != nil {
			return s, fmt.Errorf("reading %s: %w", r.pin, err)
		}
	}
	return s, nil
}

// ffTolerance is the acceptable mismatch between the sent velocity
// offset and vel_cmd x scale, counts/s
const ffTolerance = 100

// FeedforwardCheck compares the velocity offset on the bus against the
// commanded velocity.  expected is in counts/s.
func FeedforwardCheck(s Snapshot, scale float64) (expected float64, ok bool) {
	expected = s.VelCmd * scale
	return expected, math.Abs(s.VelOffset-expected) < ffTolerance
}

// timingFraction of the period above which the servo thread is flagged
const timingFraction = 0.8

// TimingMarginal reports whether tmax eats too much of the servo period
func TimingMarginal(s Snapshot, periodNs float64) bool {
	return s.TmaxNs > periodNs*timingFraction
}

// DelayError is the tracking error (mm) explained by transport delay
// alone at the snapshot's commanded velocity
func DelayError(s Snapshot, cfg Config) float64 {
	delay := float64(cfg.DelayCycles) * cfg.PeriodNs * 1e-9
	return math.Abs(s.VelCmd) * delay
}

// Windows are the drive's own error thresholds, read over SDO
type Windows struct {
	// FollowingErr is 0x6065 in counts
	FollowingErr int64 `json:"followingErrorWindow"`

	// Position is 0x6067 in counts
	Position int64 `json:"positionWindow"`

	// PositionTime is 0x6068 in ms
	PositionTime int64 `json:"positionWindowTime"`
}

// ReadWindows pulls the three windows from the drive
func ReadWindows(ctx context.Context, t *ethercat.Tool, pos int) (Windows, error) {
	var w Windows
	var err error
	w.FollowingErr, err = t.Upload(ctx, pos, cia402.FollowingErrorWindow, 0, "uint32")
	if err != nil {
		return w, err
	}
	w.Position, err = t.Upload(ctx, pos, cia402.PositionWindow, 0, "uint32")
	if err != nil {
		return w, err
	}
	w.PositionTime, err = t.Upload(ctx, pos, cia402.PositionWindowTime, 0, "uint16")
	return w, err
}

// minRatioVel is the commanded speed below which the ratio is meaningless
const minRatioVel = 0.1

// Ratio is the error-to-velocity ratio in µm per mm/s.  ok is false when
// the axis is not moving fast enough to judge.
func Ratio(s Snapshot) (float64, bool) {
	if math.Abs(s.VelCmd) <= minRatioVel {
		return 0, false
	}
	return math.Abs(s.FError) / math.Abs(s.VelCmd) * 1000, true
}

// Verdict buckets a ratio
type Verdict int

// Ratio classes, best to worst
const (
	Excellent Verdict = iota
	Good
	Partial
	Broken
)

func (v Verdict) String() string {
	switch v {
	case Excellent:
		return "excellent, feedforward effective"
	case Good:
		return "good, room to improve"
	case Partial:
		return "feedforward partially effective or position gain low"
	case Broken:
		return "major problem, feedforward inactive or gains wrong"
	}
	return "unknown"
}

// Classify a ratio in µm per mm/s
func Classify(ratio float64) Verdict {
	switch {
	case ratio < 5:
		return Excellent
	case ratio < 20:
		return Good
	case ratio < 50:
		return Partial
	}
	return Broken
}

// Suggestions for a verdict, worst problems last
func Suggestions(v Verdict) []string {
	var out []string
	if v >= Partial {
		out = append(out,
			"check P05-19 = 2 so the drive uses 0x60B1",
			"raise P08-02 (position Kp) toward 200-300",
			"check P08-19 (velocity FF gain) = 95-100%")
	}
	if v >= Broken {
		out = append(out,
			"the drive may ignore 0x60B1 entirely",
			"try CSV mode instead of CSP")
	}
	return out
}

// Report runs the full diagnosis and renders it to w
func Report(ctx context.Context, w io.Writer, hw *hal.HAL, t *ethercat.Tool, cfg Config) error {
	s, err := Take(ctx, hw, cfg)
	if err != nil {
		return fmt.Errorf("is LinuxCNC running? %w", err)
	}
	fmt.Fprintf(w, "joint %d enabled: %v\n", cfg.Joint, s.Enabled)
	fmt.Fprintf(w, "position cmd %.4f mm, fb %.4f mm, following error %+.1f µm\n",
		s.PosCmd, s.PosFb, s.FError*1000)
	fmt.Fprintf(w, "velocity cmd %.2f mm/s, fb %.2f mm/s\n", s.VelCmd, s.VelFb)

	expected, ok := FeedforwardCheck(s, cfg.Scale)
	fmt.Fprintf(w, "velocity offset %.0f counts/s, expected %.0f counts/s: ", s.VelOffset, expected)
	if ok {
		fmt.Fprintln(w, "feedforward path OK")
	} else {
		fmt.Fprintln(w, "MISMATCH, feedforward not reaching the drive")
	}

	fmt.Fprintf(w, "servo thread tmax %.1f µs of %.0f µs period", s.TmaxNs/1000, cfg.PeriodNs/1000)
	if TimingMarginal(s, cfg.PeriodNs) {
		fmt.Fprint(w, " (MARGINAL, over 80% of the cycle)")
	}
	fmt.Fprintln(w)

	de := DelayError(s, cfg)
	fmt.Fprintf(w, "transport delay (%d cycles) explains %.1f µm at this speed\n", cfg.DelayCycles, de*1000)
	if math.Abs(s.FError) > de*2 {
		fmt.Fprintln(w, "observed error well beyond transport delay, another cause is likely")
	}

	if win, err := ReadWindows(ctx, t, cfg.Slave); err != nil {
		fmt.Fprintf(w, "drive windows unavailable: %v\n", err)
	} else {
		fmt.Fprintf(w, "0x6065 following error window %d counts (%.1f mm)\n",
			win.FollowingErr, float64(win.FollowingErr)/cfg.Scale)
		fmt.Fprintf(w, "0x6067 position window %d counts (%.1f µm)\n",
			win.Position, float64(win.Position)/cfg.Scale*1000)
		fmt.Fprintf(w, "0x6068 position window time %d ms\n", win.PositionTime)
	}

	if ratio, moving := Ratio(s); moving {
		v := Classify(ratio)
		fmt.Fprintf(w, "error/velocity ratio %.1f µm/(mm/s): %s\n", ratio, v)
		for _, sug := range Suggestions(v) {
			fmt.Fprintf(w, "  %s\n", sug)
		}
	} else {
		fmt.Fprintln(w, "axis not moving, run a move to judge the feedforward")
	}
	return nil
}
