/*Package pid reads, writes, and optimizes the LinuxCNC software PID
gains used in CSV mode.

This is the single place in the toolkit allowed to write HAL; everything
else only reads.  The gains live on pid.{axis}.* and are volatile, so
tuned values are persisted as a setp file sourced from the machine HAL.
*/
package pid

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/KlaKalma/Ma-CNC/hal"
	"github.com/KlaKalma/Ma-CNC/util"
)

// Gains is one set of LinuxCNC PID parameters
type Gains struct {
	P   float64 `json:"p"`
	I   float64 `json:"i"`
	D   float64 `json:"d"`
	FF1 float64 `json:"ff1"`
	FF2 float64 `json:"ff2"`
}

// Steps are the manual-tuning increments per keypress
var Steps = Gains{P: 10, I: 5, D: 0.001, FF1: 0.1, FF2: 0.0001}

// Bounds restrict each gain to a range the machine survives
var Bounds = map[string]util.Limiter{
	"P":   {Min: 50, Max: 200},
	"I":   {Min: 10, Max: 150},
	"D":   {Min: 0, Max: 0.01},
	"FF1": {Min: 0.8, Max: 1.1},
	"FF2": {Min: 0, Max: 0.001},
}

// Clamp returns a copy of g restricted to Bounds
func (g Gains) Clamp() Gains {
	return Gains{
		P:   util.Clamp(g.P, Bounds["P"].Min, Bounds["P"].Max),
		I:   util.Clamp(g.I, Bounds["I"].Min, Bounds["I"].Max),
		D:   util.Clamp(g.D, Bounds["D"].Min, Bounds["D"].Max),
		FF1: util.Clamp(g.FF1, Bounds["FF1"].Min, Bounds["FF1"].Max),
		FF2: util.Clamp(g.FF2, Bounds["FF2"].Min, Bounds["FF2"].Max)}
}

// Vector flattens the gains in P, I, D, FF1, FF2 order
func (g Gains) Vector() []float64 {
	return []float64{g.P, g.I, g.D, g.FF1, g.FF2}
}

// FromVector rebuilds Gains from a flat vector in the Vector order
func FromVector(x []float64) Gains {
	return Gains{P: x[0], I: x[1], D: x[2], FF1: x[3], FF2: x[4]}
}

// pin names on the pid component
var pinNames = []struct {
	pin string
	sel func(*Gains) *float64
}{
	{"Pgain", func(g *Gains) *float64 { return &g.P }},
	{"Igain", func(g *Gains) *float64 { return &g.I }},
	{"Dgain", func(g *Gains) *float64 { return &g.D }},
	{"FF1", func(g *Gains) *float64 { return &g.FF1 }},
	{"FF2", func(g *Gains) *float64 { return &g.FF2 }},
}

// Read fetches the live gains for one axis
func Read(ctx context.Context, hw *hal.HAL, axis string) (Gains, error) {
	var g Gains
	for _, pn := range pinNames {
		v, err := hw.Getp(ctx, hal.PidPin(axis, pn.pin))
		if err != nil {
			return g, err
		}
		*pn.sel(&g) = v
	}
	return g, nil
}

// Apply writes the gains to every listed axis
func Apply(ctx context.Context, hw *hal.HAL, axes []string, g Gains) error {
	for _, axis := range axes {
		for _, pn := range pinNames {
			if err := hw.Setp(ctx, hal.PidPin(axis, pn.pin), *pn.sel(&g)); err != nil {
				return fmt.Errorf("axis %s: %w", axis, err)
			}
		}
	}
	return nil
}

// ZeroAll zeroes every gain on the listed axes, the bail-out when a tuning
// experiment goes unstable
func ZeroAll(ctx context.Context, hw *hal.HAL, axes []string) error {
	return Apply(ctx, hw, axes, Gains{})
}

// SaveHAL writes the gains as a setp file suitable for sourcing from the
// machine HAL.  FF0 is pinned to zero; position feedforward comes from
// FF1/FF2 in this configuration.
func SaveHAL(w io.Writer, axes []string, g Gains, rmsUm float64) error {
	fmt.Fprintf(w, "# PID tuning parameters\n")
	fmt.Fprintf(w, "# RMS error: %.1fum\n", rmsUm)
	fmt.Fprintf(w, "# generated: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	for _, axis := range axes {
		fmt.Fprintf(w, "\n# %s-axis PID\n", axis)
		fmt.Fprintf(w, "setp pid.%s.Pgain %.4f\n", axis, g.P)
		fmt.Fprintf(w, "setp pid.%s.Igain %.4f\n", axis, g.I)
		fmt.Fprintf(w, "setp pid.%s.Dgain %.6f\n", axis, g.D)
		fmt.Fprintf(w, "setp pid.%s.FF0 0\n", axis)
		fmt.Fprintf(w, "setp pid.%s.FF1 %.4f\n", axis, g.FF1)
		fmt.Fprintf(w, "setp pid.%s.FF2 %.6f\n", axis, g.FF2)
	}
	return nil
}
