/*Package gcode generates the tuning test programs.

Three generators cover the tuning workflow: a waveform tracer for
arbitrary smooth toolpaths, a progressive speed-profile test that sweeps
the feed through sinusoidal ramps at several base speeds, and a fixed
validation program exercising slow, fast, diagonal, reversal, and square
moves.

Toolpath shapes come from a registry of named waveforms rather than a
runtime expression parser; a handful of named curves covers every test
anyone has actually run, and each one is a plain Go function that can be
evaluated in tests.
*/
package gcode

import (
	"fmt"
	"math"
	"strings"
)

// Waveform is a named curve y = f(x) for the function tracer
type Waveform struct {
	Name        string
	Description string
	F           func(x float64) float64
}

var registry = []Waveform{
	{
		Name:        "sine",
		Description: "50*sin(x)",
		F:           func(x float64) float64 { return 50 * math.Sin(x) },
	},
	{
		Name:        "damped-sine",
		Description: "50*exp(-x/100)*sin(x)",
		F:           func(x float64) float64 { return 50 * math.Exp(-x/100) * math.Sin(x) },
	},
	{
		Name:        "parabola",
		Description: "x^2/10",
		F:           func(x float64) float64 { return x * x / 10 },
	},
	{
		Name:        "oscillation",
		Description: "30*sin(x) + 20*cos(2x)",
		F:           func(x float64) float64 { return 30*math.Sin(x) + 20*math.Cos(2*x) },
	},
	{
		Name:        "exponential",
		Description: "exp(x/50)",
		F:           func(x float64) float64 { return math.Exp(x / 50) },
	},
}

// Waveforms lists the registered curves
func Waveforms() []Waveform {
	return registry
}

// WaveformByName finds a registered curve
func WaveformByName(name string) (Waveform, error) {
	for _, w := range registry {
		if w.Name == name {
			return w, nil
		}
	}
	names := make([]string, len(registry))
	for i, w := range registry {
		names[i] = w.Name
	}
	return Waveform{}, fmt.Errorf("no waveform named %q, have %s", name, strings.Join(names, ", "))
}

// FunctionProgram traces y = w.F(x) over [x0, x1] in n points at the
// given feed (mm/min)
func FunctionProgram(w Waveform, x0, x1 float64, n int, feed int) string {
	if n < 2 { // a trace needs both endpoints
		n = 2
	}
	lines := []string{
		"%",
		fmt.Sprintf("(function test: y = %s)", w.Description),
		fmt.Sprintf("(X range: %g to %g, points: %d)", x0, x1, n),
		fmt.Sprintf("(feedrate: F%d = %.1f mm/s)", feed, float64(feed)/60),
		"",
		"G21",
		"G90",
		"G64 P0.1",
		"",
		"(return to origin)",
		"G0 X0 Y0",
		"G4 P1.0",
		"",
		fmt.Sprintf("F%d", feed),
		"",
	}
	step := (x1 - x0) / float64(n-1)
	for i := 0; i < n; i++ {
		x := x0 + float64(i)*step
		lines = append(lines, fmt.Sprintf("G1 X%.3f Y%.3f", x, w.F(x)))
	}
	lines = append(lines,
		"",
		"G4 P1.0",
		"(return to origin)",
		"G0 X0 Y0",
		"M2",
		"%")
	return strings.Join(lines, "\n") + "\n"
}

// SpeedProfile configures the progressive sine speed test
type SpeedProfile struct {
	// Travel is the stroke on X and Y, mm
	Travel float64

	// Segments per leg
	Segments int

	// BaseSpeeds are the plateau feeds tested, mm/min
	BaseSpeeds []int

	// RampFraction of the stroke spent accelerating and decelerating
	RampFraction float64
}

// DefaultSpeedProfile is the 200mm five-speed sweep
func DefaultSpeedProfile() SpeedProfile {
	return SpeedProfile{
		Travel:       200,
		Segments:     100,
		BaseSpeeds:   []int{500, 800, 1000, 1200, 1500},
		RampFraction: 0.2}
}

// Speed is the feed (mm/min) at a leg progress in [0, 1]: sinusoidal
// ramps at both ends, plateau in the middle, floored so the feed never
// reaches zero
func (p SpeedProfile) Speed(progress float64, top float64) float64 {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	frac := 1.0
	switch {
	case progress <= p.RampFraction:
		frac = math.Sin(math.Pi / 2 * (progress / p.RampFraction))
	case progress >= 1-p.RampFraction:
		frac = math.Sin(math.Pi / 2 * ((1 - progress) / p.RampFraction))
	}
	min := math.Max(top*0.05, 60)
	return math.Max(top*frac, min)
}

func (p SpeedProfile) leg(lines []string, from, to float64, top int) []string {
	step := (to - from) / float64(p.Segments)
	for i := 0; i <= p.Segments; i++ {
		xy := from + float64(i)*step
		feed := int(p.Speed(float64(i)/float64(p.Segments), float64(top)))
		if i == 0 {
			lines = append(lines, fmt.Sprintf("F%d G1 X%.2f Y%.2f", feed, xy, xy))
			continue
		}
		lines = append(lines,
			fmt.Sprintf("F%d", feed),
			fmt.Sprintf("G1 X%.2f Y%.2f", xy, xy))
	}
	return lines
}

// Program renders the speed-profile test
func (p SpeedProfile) Program() string {
	lines := []string{
		"%",
		"(progressive sine speed profile on X-Y)",
		fmt.Sprintf("(stroke: %gmm on X and Y, feed swept per leg)", p.Travel),
		"",
		"G21",
		"G90",
		"G64 P5.0",
		"",
		"(return to origin)",
		"G0 X0 Y0",
		"G4 P1.0",
		"",
	}
	for i, speed := range p.BaseSpeeds {
		lines = append(lines,
			fmt.Sprintf("(test %d - base speed: %d mm/min = %.1f mm/s)", i+1, speed, float64(speed)/60),
			"",
			"(outbound - sine ramp then plateau)")
		lines = p.leg(lines, 0, p.Travel, speed)
		lines = append(lines, "G4 P0.3", "", "(return - sine ramp then plateau)")
		lines = p.leg(lines, p.Travel, 0, speed)
		lines = append(lines, "G4 P0.5", "")
	}
	lines = append(lines,
		"(test complete)",
		"G0 X0 Y0",
		"M2",
		"%")
	return strings.Join(lines, "\n") + "\n"
}

// ValidationProgram is the fixed six-step tuning check: slow, medium,
// and fast strokes, a diagonal, rapid reversals, and a square
func ValidationProgram() string {
	return strings.Join([]string{
		"(tuning validation program)",
		"(tests static error, dynamic error, and reversal stability)",
		"",
		"G21",
		"G90",
		"G17",
		"",
		"G0 X0 Y0",
		"",
		"(test 1: slow move, expect under 0.2mm of following error)",
		"(MSG, Test 1: slow move F100)",
		"G1 X50 F100",
		"G1 X0 F100",
		"G4 P1",
		"",
		"(test 2: medium move, expect under 1mm)",
		"(MSG, Test 2: medium move F500)",
		"G1 X100 F500",
		"G1 X0 F500",
		"G4 P1",
		"",
		"(test 3: fast move, expect under 2mm while moving)",
		"(MSG, Test 3: fast move F2000)",
		"G1 X100 F2000",
		"G1 X0 F2000",
		"G4 P1",
		"",
		"(test 4: diagonal)",
		"(MSG, Test 4: diagonal XY)",
		"G1 X50 Y50 F1000",
		"G1 X0 Y0 F1000",
		"G4 P1",
		"",
		"(test 5: rapid reversals, should not vibrate)",
		"(MSG, Test 5: reversals)",
		"G1 X20 F2000",
		"G1 X-20 F2000",
		"G1 X20 F2000",
		"G1 X-20 F2000",
		"G1 X0 F2000",
		"G4 P1",
		"",
		"(test 6: square)",
		"(MSG, Test 6: square 50x50)",
		"G1 X50 F1500",
		"G1 Y50 F1500",
		"G1 X0 F1500",
		"G1 Y0 F1500",
		"",
		"(MSG, Test complete)",
		"M2",
	}, "\n") + "\n"
}
