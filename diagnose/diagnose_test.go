package diagnose

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/KlaKalma/Ma-CNC/ethercat"
	"github.com/KlaKalma/Ma-CNC/hal"
)

type pinTable map[string]float64

func (p pinTable) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	v, ok := p[args[1]]
	if !ok {
		return nil, fmt.Errorf("no such pin %q", args[1])
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64) + "\n"), nil
}

// sdoTable answers uploads keyed by the object index token
type sdoTable map[string]string

func (s sdoTable) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	// upload -p0 -t <type> 0xIIII <sub>
	v, ok := s[args[4]]
	if !ok {
		return nil, fmt.Errorf("no such object %q", args[4])
	}
	return []byte(v), nil
}

func healthyPins() pinTable {
	return pinTable{
		hal.CIA402OpEnabled(0):    1,
		hal.JointMotorPosCmd(0):   10.5,
		hal.JointMotorPosFb(0):    10.499,
		hal.JointFError(0):        0.001,
		hal.JointVelCmd(0):        10,
		hal.CIA402VelocityFb(0):   9.98,
		hal.LcecVelocityOffset(0): 262144,
		hal.ServoThreadTmax:       200000,
	}
}

func TestTakeSnapshot(t *testing.T) {
	hw := hal.New().WithRunner(healthyPins())
	s, err := Take(context.Background(), hw, DefaultConfig(0))
	if err != nil {
		t.Fatal(err)
	}
	if !s.Enabled {
		t.Error("expected enabled")
	}
	if s.VelCmd != 10 || s.FError != 0.001 {
		t.Errorf("snapshot fields: %+v", s)
	}
}

func TestTakeSplitsJointAndSlavePins(t *testing.T) {
	// joint 1 is wired to ring position 0
	pins := pinTable{
		hal.CIA402OpEnabled(0):    1,
		hal.JointMotorPosCmd(1):   5,
		hal.JointMotorPosFb(1):    5,
		hal.JointFError(1):        0.002,
		hal.JointVelCmd(1):        10,
		hal.CIA402VelocityFb(0):   9.9,
		hal.LcecVelocityOffset(0): 262144,
		hal.ServoThreadTmax:       200000,
	}
	hw := hal.New().WithRunner(pins)
	cfg := DefaultConfig(1)
	cfg.Slave = 0
	s, err := Take(context.Background(), hw, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Enabled || s.VelOffset != 262144 || s.FError != 0.002 {
		t.Errorf("snapshot read the wrong instances: %+v", s)
	}
}

func TestFeedforwardCheck(t *testing.T) {
	s := Snapshot{VelCmd: 10, VelOffset: 262144}
	expected, ok := FeedforwardCheck(s, 26214.4)
	if expected != 262144 {
		t.Errorf("expected counts: %g", expected)
	}
	if !ok {
		t.Error("exact offset should pass")
	}
	s.VelOffset = 0
	if _, ok := FeedforwardCheck(s, 26214.4); ok {
		t.Error("zero offset at 10mm/s should fail")
	}
	// within the 100 count tolerance
	s.VelOffset = 262200
	if _, ok := FeedforwardCheck(s, 26214.4); !ok {
		t.Error("56 counts off should pass")
	}
}

func TestTimingMarginal(t *testing.T) {
	if TimingMarginal(Snapshot{TmaxNs: 500000}, 1e6) {
		t.Error("half the period is fine")
	}
	if !TimingMarginal(Snapshot{TmaxNs: 900000}, 1e6) {
		t.Error("90% of the period should flag")
	}
}

func TestDelayError(t *testing.T) {
	cfg := DefaultConfig(0)
	// 2 cycles of 1ms at 50mm/s is 100µm
	de := DelayError(Snapshot{VelCmd: -50}, cfg)
	if de != 0.1 {
		t.Errorf("delay error: %g mm", de)
	}
}

func TestRatioNotMoving(t *testing.T) {
	if _, ok := Ratio(Snapshot{VelCmd: 0.05, FError: 1}); ok {
		t.Error("crawling axis should not produce a ratio")
	}
}

func TestClassifyTiers(t *testing.T) {
	cases := []struct {
		ratio float64
		want  Verdict
	}{
		{1, Excellent},
		{10, Good},
		{30, Partial},
		{80, Broken},
	}
	for _, tc := range cases {
		if got := Classify(tc.ratio); got != tc.want {
			t.Errorf("ratio %g: got %v, want %v", tc.ratio, got, tc.want)
		}
	}
}

func TestSuggestionsEscalate(t *testing.T) {
	if len(Suggestions(Good)) != 0 {
		t.Error("good needs no suggestions")
	}
	partial := Suggestions(Partial)
	if len(partial) != 3 || !strings.Contains(partial[0], "P05-19") {
		t.Errorf("partial suggestions: %v", partial)
	}
	broken := Suggestions(Broken)
	if len(broken) != 5 || !strings.Contains(broken[4], "CSV mode") {
		t.Errorf("broken suggestions: %v", broken)
	}
}

func TestReadWindows(t *testing.T) {
	sdo := sdoTable{
		"0x6065": "0x00100000 1048576",
		"0x6067": "0x00000400 1024",
		"0x6068": "0x000a 10",
	}
	tool := ethercat.NewTool("", false).WithRunner(sdo)
	w, err := ReadWindows(context.Background(), tool, 0)
	if err != nil {
		t.Fatal(err)
	}
	if w.FollowingErr != 1048576 || w.Position != 1024 || w.PositionTime != 10 {
		t.Errorf("windows: %+v", w)
	}
}

func TestReportHealthy(t *testing.T) {
	hw := hal.New().WithRunner(healthyPins())
	tool := ethercat.NewTool("", false).WithRunner(sdoTable{
		"0x6065": "1048576",
		"0x6067": "1024",
		"0x6068": "10",
	})
	var sb strings.Builder
	if err := Report(context.Background(), &sb, hw, tool, DefaultConfig(0)); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if !strings.Contains(out, "feedforward path OK") {
		t.Errorf("expected healthy feedforward: %s", out)
	}
	if !strings.Contains(out, "excellent") {
		t.Errorf("0.1µm/(mm/s) should be excellent: %s", out)
	}
	if strings.Contains(out, "MARGINAL") {
		t.Errorf("200µs tmax should not flag: %s", out)
	}
}

func TestReportBrokenFeedforward(t *testing.T) {
	pins := healthyPins()
	pins[hal.LcecVelocityOffset(0)] = 0
	pins[hal.JointFError(0)] = 0.8
	hw := hal.New().WithRunner(pins)
	tool := ethercat.NewTool("", false).WithRunner(sdoTable{})
	var sb strings.Builder
	if err := Report(context.Background(), &sb, hw, tool, DefaultConfig(0)); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	if !strings.Contains(out, "MISMATCH") {
		t.Errorf("expected feedforward mismatch: %s", out)
	}
	if !strings.Contains(out, "major problem") {
		t.Errorf("80µm/(mm/s) should classify broken: %s", out)
	}
	if !strings.Contains(out, "drive windows unavailable") {
		t.Errorf("SDO failure should degrade gracefully: %s", out)
	}
	if !strings.Contains(out, "another cause is likely") {
		t.Errorf("800µm at 10mm/s dwarfs the 20µm delay error: %s", out)
	}
}
