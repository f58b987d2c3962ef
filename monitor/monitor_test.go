package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/KlaKalma/Ma-CNC/hal"
)

// pinTable answers halcmd getp from a map of pin values
type pinTable map[string]float64

func (p pinTable) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if args[0] != "getp" {
		return nil, fmt.Errorf("unexpected halcmd verb %q", args[0])
	}
	v, ok := p[args[1]]
	if !ok {
		return nil, fmt.Errorf("no such pin %q", args[1])
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64) + "\n"), nil
}

func newMon(pins pinTable) *Monitor {
	hw := hal.New().WithRunner(pins)
	axes := []Axis{{Name: "x", Joint: 0}, {Name: "y", Joint: 1}}
	return New(hw, axes, time.Second, 16)
}

func TestSampleUpdatesStats(t *testing.T) {
	pins := pinTable{
		hal.JointFError(0):  0.010,
		hal.JointVelCmd(0):  20,
		hal.JointFError(1):  -0.002,
		hal.JointVelCmd(1):  -5,
	}
	m := newMon(pins)
	if err := m.Sample(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	pins[hal.JointFError(0)] = -0.004
	pins[hal.JointVelCmd(0)] = -20
	if err := m.Sample(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	st := m.Summary()["x"]
	if st.Samples != 2 {
		t.Errorf("expected 2 samples, got %d", st.Samples)
	}
	if st.Max != 0.010 {
		t.Errorf("max: %g", st.Max)
	}
	if st.MaxPos != 0.010 || st.MaxNeg != 0.004 {
		t.Errorf("directional maxima: +%g -%g", st.MaxPos, st.MaxNeg)
	}
}

func TestBufferAccessors(t *testing.T) {
	pins := pinTable{
		hal.JointFError(0): 0.010,
		hal.JointVelCmd(0): 20,
		hal.JointFError(1): -0.002,
		hal.JointVelCmd(1): -5,
	}
	m := newMon(pins)
	if err := m.Sample(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if errs := m.Errors("x"); len(errs) != 1 || errs[0] != 0.010 {
		t.Errorf("x errors: %v", errs)
	}
	if vels := m.Velocities("y"); len(vels) != 1 || vels[0] != -5 {
		t.Errorf("y velocities: %v", vels)
	}
	if m.Errors("z") != nil {
		t.Error("unknown axis should yield nil")
	}
}

func TestSampleMissingPin(t *testing.T) {
	m := newMon(pinTable{})
	err := m.Sample(context.Background(), time.Now())
	if err == nil || !strings.Contains(err.Error(), "axis x") {
		t.Errorf("expected an error naming the axis, got %v", err)
	}
}

func TestLineGlyphs(t *testing.T) {
	pins := pinTable{
		hal.JointFError(0): 0.0123,
		hal.JointVelCmd(0): 1,
		hal.JointFError(1): 6.2,
		hal.JointVelCmd(1): 1,
	}
	m := newMon(pins)
	if got := m.Line(); !strings.Contains(got, "x --") {
		t.Errorf("empty buffers should render placeholders: %q", got)
	}
	if err := m.Sample(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	line := m.Line()
	if !strings.Contains(line, "x ✓") {
		t.Errorf("12µm should be fine: %q", line)
	}
	if !strings.Contains(line, "y ✗") {
		t.Errorf("6.2mm should fail: %q", line)
	}
	if !strings.Contains(line, "+12.3µm") {
		t.Errorf("expected µm rendering: %q", line)
	}
}

func TestGlyphThresholds(t *testing.T) {
	if g := glyph(0.5, 1, 5); g != "✓" {
		t.Errorf("0.5mm: %s", g)
	}
	if g := glyph(2, 1, 5); g != "⚠" {
		t.Errorf("2mm: %s", g)
	}
	if g := glyph(5, 1, 5); g != "✗" {
		t.Errorf("5mm: %s", g)
	}
}

func TestAsymmetric(t *testing.T) {
	st := Stats{MaxPos: 0.120, MaxNeg: 0.030}
	if !st.Asymmetric(0.050) {
		t.Error("90µm spread should flag")
	}
	st = Stats{MaxPos: 0.040, MaxNeg: 0.030}
	if st.Asymmetric(0.050) {
		t.Error("10µm spread should not flag")
	}
	// a single-direction capture says nothing about asymmetry
	st = Stats{MaxPos: 0.500}
	if st.Asymmetric(0.050) {
		t.Error("one-sided capture should not flag")
	}
}

func TestReportNamesAsymmetry(t *testing.T) {
	pins := pinTable{
		hal.JointFError(0): 0.120,
		hal.JointVelCmd(0): 10,
		hal.JointFError(1): 0.001,
		hal.JointVelCmd(1): 1,
	}
	m := newMon(pins)
	if err := m.Sample(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	pins[hal.JointFError(0)] = 0.010
	pins[hal.JointVelCmd(0)] = -10
	if err := m.Sample(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	m.Report(&sb, 0.050)
	if !strings.Contains(sb.String(), "axis x: directions differ") {
		t.Errorf("expected asymmetry warning, got %q", sb.String())
	}
	if strings.Contains(sb.String(), "axis y: directions differ") {
		t.Errorf("y should not flag: %q", sb.String())
	}
}

func TestHTTPYield(t *testing.T) {
	pins := pinTable{
		hal.JointFError(0): 0.010,
		hal.JointVelCmd(0): 20,
		hal.JointFError(1): 0.002,
		hal.JointVelCmd(1): 5,
	}
	m := newMon(pins)
	if err := m.Sample(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	m.HTTPYield(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 200 {
		t.Fatalf("status %d", w.Code)
	}
	var p struct {
		Axes map[string]struct {
			Err   []float64 `json:"ferror"`
			Stats Stats     `json:"stats"`
		} `json:"axes"`
		Time []time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if len(p.Time) != 1 {
		t.Errorf("expected 1 timestamp, got %d", len(p.Time))
	}
	x := p.Axes["x"]
	if len(x.Err) != 1 || x.Err[0] != 0.010 {
		t.Errorf("x buffer: %v", x.Err)
	}
}

func TestStartStop(t *testing.T) {
	pins := pinTable{
		hal.JointFError(0): 0.001,
		hal.JointVelCmd(0): 1,
		hal.JointFError(1): 0.001,
		hal.JointVelCmd(1): 1,
	}
	hw := hal.New().WithRunner(pins)
	m := New(hw, []Axis{{Name: "x", Joint: 0}, {Name: "y", Joint: 1}}, time.Millisecond, 8)
	m.Start()
	time.Sleep(20 * time.Millisecond)
	m.Stop()
	if m.Summary()["x"].Samples == 0 {
		t.Error("running monitor took no samples")
	}
}
