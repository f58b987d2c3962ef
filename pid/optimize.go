package pid

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/KlaKalma/Ma-CNC/hal"
	"github.com/KlaKalma/Ma-CNC/linuxcnc"
	"github.com/KlaKalma/Ma-CNC/util"

	"gonum.org/v1/gonum/optimize"
)

// badScore is returned when an evaluation produced no usable samples
const badScore = 999

// Score reduces |error| samples (µm) to an RMS figure of merit.  Windows
// that oscillate (the error derivative flips sign on more than 40% of the
// samples) are penalized by doubling, so the optimizer prefers a calm
// 30µm over a ringing 25µm.
func Score(samples []float64) float64 {
	if len(samples) == 0 {
		return badScore
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if len(samples) > 20 {
		flips := 0
		prev := 0.0
		for i := 1; i < len(samples); i++ {
			d := samples[i] - samples[i-1]
			if d*prev < 0 {
				flips++
			}
			if d != 0 {
				prev = d
			}
		}
		if float64(flips) > float64(len(samples)-1)*0.4 {
			rms *= 2
		}
	}
	return rms
}

// Mover executes one round-trip test move and returns the |error|
// samples in µm collected while the axes were moving
type Mover interface {
	RoundTrip(ctx context.Context) ([]float64, error)
}

// MDIMover drives test moves through linuxcncrsh and samples the pid
// error pins through halcmd
type MDIMover struct {
	CNC  *linuxcnc.Client
	HAL  *hal.HAL
	Axes []string

	// Distance of the test move in mm and its feed in mm/min
	Distance float64
	Feed     int

	// Interval between samples
	Interval time.Duration

	// Settle is the pause after issuing a block before the first status
	// poll; linuxcncrsh dispatches MDI asynchronously and reports IDLE
	// until the interpreter picks the block up
	Settle time.Duration
}

// NewMDIMover uses the original 15mm at F10000 test move
func NewMDIMover(cnc *linuxcnc.Client, hw *hal.HAL, axes []string) *MDIMover {
	return &MDIMover{
		CNC:      cnc,
		HAL:      hw,
		Axes:     axes,
		Distance: 15,
		Feed:     10000,
		Interval: 2 * time.Millisecond,
		Settle:   200 * time.Millisecond}
}

// legBudget bounds one leg: the move time at the commanded feed with 50%
// margin, plus half a second of dispatch slack
func (m *MDIMover) legBudget() time.Duration {
	return util.SecsToDuration(m.Distance*1.5/(float64(m.Feed)/60) + 0.5)
}

func (m *MDIMover) leg(ctx context.Context, block string) ([]float64, error) {
	if err := m.CNC.MDI(block); err != nil {
		return nil, err
	}
	time.Sleep(m.Settle)
	deadline := time.Now().Add(m.legBudget())
	var samples []float64
	for {
		select {
		case <-ctx.Done():
			return samples, ctx.Err()
		default:
		}
		worst := 0.0
		for _, axis := range m.Axes {
			e, err := m.HAL.Getp(ctx, hal.PidPin(axis, "error"))
			if err != nil {
				return samples, err
			}
			if um := math.Abs(e) * 1000; um > worst {
				worst = um
			}
		}
		samples = append(samples, worst)
		running, err := m.CNC.Running()
		if err != nil {
			return samples, err
		}
		if !running {
			return samples, nil
		}
		if time.Now().After(deadline) {
			return samples, fmt.Errorf("move %q still running after %s", block, m.legBudget())
		}
		time.Sleep(m.Interval)
	}
}

// RoundTrip moves out and back incrementally, collecting error samples
// on both legs
func (m *MDIMover) RoundTrip(ctx context.Context) ([]float64, error) {
	if err := m.CNC.MDI("G91"); err != nil {
		return nil, err
	}
	out, err := m.leg(ctx, fmt.Sprintf("G1 X%.3f Y%.3f F%d", m.Distance, m.Distance, m.Feed))
	if err != nil {
		return nil, err
	}
	back, err := m.leg(ctx, fmt.Sprintf("G1 X%.3f Y%.3f F%d", -m.Distance, -m.Distance, m.Feed))
	if err != nil {
		return nil, err
	}
	if err := m.CNC.MDI("G90"); err != nil {
		return nil, err
	}
	return append(out, back...), nil
}

// Optimizer searches the gain space with Nelder-Mead, the simplex method
// the original tuning sessions converged with.  Every candidate is
// clamped to Bounds before it touches the machine.
type Optimizer struct {
	HAL   *hal.HAL
	Axes  []string
	Mover Mover

	// MaxIterations and MaxEvaluations bound the search; each evaluation
	// is a physical test move
	MaxIterations  int
	MaxEvaluations int

	evals int
	best  Gains
	score float64
}

// NewOptimizer returns an Optimizer with the 30 iteration / 60 move budget
func NewOptimizer(hw *hal.HAL, axes []string, mover Mover) *Optimizer {
	return &Optimizer{
		HAL:            hw,
		Axes:           axes,
		Mover:          mover,
		MaxIterations:  30,
		MaxEvaluations: 60}
}

func (o *Optimizer) objective(ctx context.Context, x []float64) float64 {
	g := FromVector(x).Clamp()
	if err := Apply(ctx, o.HAL, o.Axes, g); err != nil {
		log.Printf("apply failed: %v", err)
		return badScore
	}
	samples, err := o.Mover.RoundTrip(ctx)
	if err != nil {
		log.Printf("test move failed: %v", err)
		return badScore
	}
	s := Score(samples)
	o.evals++
	if s < o.score {
		o.score = s
		o.best = g
	}
	log.Printf("[%3d] P=%.1f I=%.1f D=%.4f FF1=%.3f FF2=%.5f -> RMS %.1fum (best %.1fum)",
		o.evals, g.P, g.I, g.D, g.FF1, g.FF2, s, o.score)
	return s
}

// Run searches from the given starting gains and returns the best set
// seen along with its score.  The best candidate is re-applied before
// returning so the machine is left with the winner, not the last probe.
func (o *Optimizer) Run(ctx context.Context, start Gains) (Gains, float64, error) {
	o.evals = 0
	o.score = math.Inf(1)
	o.best = start.Clamp()
	problem := optimize.Problem{Func: func(x []float64) float64 { return o.objective(ctx, x) }}
	settings := &optimize.Settings{
		MajorIterations: o.MaxIterations,
		FuncEvaluations: o.MaxEvaluations}
	_, err := optimize.Minimize(problem, o.best.Vector(), settings, &optimize.NelderMead{})
	if err != nil && math.IsInf(o.score, 1) {
		return o.best, o.score, err
	}
	if err := Apply(ctx, o.HAL, o.Axes, o.best); err != nil {
		return o.best, o.score, err
	}
	return o.best, o.score, nil
}
