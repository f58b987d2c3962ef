/*Package monitor contains the machinery for a following-error monitor.

It samples the f-error and commanded velocity of each configured axis from
HAL, stores up to N samples in ring buffers, renders a live one-line
readout, and can serve the captured buffers over HTTP.

Each sample costs one halcmd subprocess per pin, so the sampling loop is
paced by a rate limiter rather than trusting the ticker alone; if the
subprocess budget is exhausted a tick is skipped instead of piling up
halcmd invocations.
*/
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/KlaKalma/Ma-CNC/hal"

	"github.com/brandondube/ringo"
	"golang.org/x/time/rate"
)

// Axis pairs a display name with its joint number
type Axis struct {
	Name  string `json:"name"`
	Joint int    `json:"joint"`
}

// Stats are the per-axis aggregates over a capture
type Stats struct {
	// Max is the largest |f-error| seen, mm
	Max float64 `json:"max"`

	// MaxPos and MaxNeg are the largest |f-error| seen while commanded
	// in the positive and negative direction, mm
	MaxPos float64 `json:"maxPositive"`
	MaxNeg float64 `json:"maxNegative"`

	// Samples is the number of samples taken
	Samples int `json:"samples"`
}

// Asymmetric reports whether the two directions disagree by more than
// limit (mm).  Directional asymmetry usually means backlash or an
// unbalanced axis rather than a gain problem.
func (s Stats) Asymmetric(limit float64) bool {
	if s.MaxPos == 0 || s.MaxNeg == 0 {
		return false
	}
	d := s.MaxPos - s.MaxNeg
	if d < 0 {
		d = -d
	}
	return d > limit
}

type axisBuffers struct {
	Err ringo.CircleF64
	Vel ringo.CircleF64
}

// Monitor samples following error for a set of axes and stores ring
// buffers of the results
type Monitor struct {
	// Warn and Fail are the live-readout glyph thresholds, mm
	Warn float64
	Fail float64

	// Out receives the live one-line readout; nil disables rendering
	Out io.Writer

	hw      *hal.HAL
	axes    []Axis
	bufs    map[string]*axisBuffers
	times   ringo.CircleTime
	stats   map[string]*Stats
	limiter *rate.Limiter
	ticker  *time.Ticker
	stop    chan struct{}
	mu      sync.Mutex
}

// New creates a Monitor sampling the given axes every tick, keeping up to
// capacity samples per axis
func New(hw *hal.HAL, axes []Axis, tick time.Duration, capacity int) *Monitor {
	bufs := make(map[string]*axisBuffers, len(axes))
	stats := make(map[string]*Stats, len(axes))
	for _, ax := range axes {
		b := &axisBuffers{}
		b.Err.Init(capacity)
		b.Vel.Init(capacity)
		bufs[ax.Name] = b
		stats[ax.Name] = &Stats{}
	}
	times := ringo.CircleTime{}
	times.Init(capacity)
	// two halcmd invocations per axis per tick, with a little headroom
	perSec := float64(2*len(axes)) / tick.Seconds()
	return &Monitor{
		Warn:    1,
		Fail:    5,
		hw:      hw,
		axes:    axes,
		bufs:    bufs,
		times:   times,
		stats:   stats,
		limiter: rate.NewLimiter(rate.Limit(perSec*1.5), 2*len(axes)),
		ticker:  time.NewTicker(tick),
		stop:    make(chan struct{})}
}

// Start triggers operation of the monitor
func (m *Monitor) Start() {
	go m.runner()
}

// Stop kills the monitor.  It may be restarted.
func (m *Monitor) Stop() {
	m.stop <- struct{}{}
}

func (m *Monitor) runner() {
	for {
		select {
		case t := <-m.ticker.C:
			if !m.limiter.AllowN(time.Now(), 2*len(m.axes)) {
				continue
			}
			if err := m.Sample(context.Background(), t); err != nil {
				log.Printf("sample failed: %v", err)
				continue
			}
			if m.Out != nil {
				fmt.Fprint(m.Out, "\r"+m.Line())
			}
		case <-m.stop:
			return
		}
	}
}

// Sample takes one reading of every axis and folds it into the buffers
// and aggregates
func (m *Monitor) Sample(ctx context.Context, t time.Time) error {
	type reading struct {
		ferr, vel float64
	}
	reads := make(map[string]reading, len(m.axes))
	for _, ax := range m.axes {
		ferr, err := m.hw.Getp(ctx, hal.JointFError(ax.Joint))
		if err != nil {
			return fmt.Errorf("axis %s: %w", ax.Name, err)
		}
		vel, err := m.hw.Getp(ctx, hal.JointVelCmd(ax.Joint))
		if err != nil {
			return fmt.Errorf("axis %s: %w", ax.Name, err)
		}
		reads[ax.Name] = reading{ferr: ferr, vel: vel}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times.Append(t)
	for name, r := range reads {
		b := m.bufs[name]
		b.Err.Append(r.ferr)
		b.Vel.Append(r.vel)
		st := m.stats[name]
		st.Samples++
		abs := r.ferr
		if abs < 0 {
			abs = -abs
		}
		if abs > st.Max {
			st.Max = abs
		}
		switch {
		case r.vel > 0 && abs > st.MaxPos:
			st.MaxPos = abs
		case r.vel < 0 && abs > st.MaxNeg:
			st.MaxNeg = abs
		}
	}
	return nil
}

func glyph(abs, warn, fail float64) string {
	switch {
	case abs >= fail:
		return "✗"
	case abs >= warn:
		return "⚠"
	}
	return "✓"
}

// Line renders the current one-line readout, newest sample per axis in µm
func (m *Monitor) Line() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := make([]string, 0, len(m.axes))
	for _, ax := range m.axes {
		b := m.bufs[ax.Name]
		buf := b.Err.Contiguous()
		if len(buf) == 0 {
			parts = append(parts, fmt.Sprintf("%s --", ax.Name))
			continue
		}
		e := buf[len(buf)-1]
		abs := e
		if abs < 0 {
			abs = -abs
		}
		parts = append(parts, fmt.Sprintf("%s %s %+8.1fµm", ax.Name, glyph(abs, m.Warn, m.Fail), e*1000))
	}
	return strings.Join(parts, "   ")
}

// Errors returns the captured f-error samples for an axis, oldest first
func (m *Monitor) Errors(axis string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bufs[axis]
	if !ok {
		return nil
	}
	return b.Err.Contiguous()
}

// Velocities returns the captured commanded velocities for an axis,
// oldest first
func (m *Monitor) Velocities(axis string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bufs[axis]
	if !ok {
		return nil
	}
	return b.Vel.Contiguous()
}

// Summary returns a copy of the per-axis aggregates
func (m *Monitor) Summary() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.stats))
	for name, st := range m.stats {
		out[name] = *st
	}
	return out
}

// Report writes the end-of-capture summary, flagging directional
// asymmetry above asymLimit (mm)
func (m *Monitor) Report(w io.Writer, asymLimit float64) {
	summ := m.Summary()
	for _, ax := range m.axes {
		st := summ[ax.Name]
		fmt.Fprintf(w, "axis %s: %d samples, max %.1fµm (%.1fµm moving +, %.1fµm moving -)\n",
			ax.Name, st.Samples, st.Max*1000, st.MaxPos*1000, st.MaxNeg*1000)
		if st.Asymmetric(asymLimit) {
			fmt.Fprintf(w, "axis %s: directions differ by more than %.0fµm, check backlash and axis balance\n",
				ax.Name, asymLimit*1000)
		}
	}
}

type capture struct {
	Err  *[]float64 `json:"ferror"`
	Vel  *[]float64 `json:"velCmd"`
	Stat Stats      `json:"stats"`
}

type payload struct {
	Axes map[string]capture `json:"axes"`
	Time *[]time.Time       `json:"timestamp"`
}

// HTTPYield returns an object over HTTP which contains arrays of f-error,
// commanded velocity, and timestamps per axis
func (m *Monitor) HTTPYield(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	p := payload{Axes: make(map[string]capture, len(m.axes))}
	bufTime := m.times.Contiguous()
	p.Time = &bufTime
	for name, b := range m.bufs {
		bufE := b.Err.Contiguous()
		bufV := b.Vel.Contiguous()
		p.Axes[name] = capture{Err: &bufE, Vel: &bufV, Stat: *m.stats[name]}
	}
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
