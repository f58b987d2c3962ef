/*Package advisor turns windows of following-error samples into drive
tuning recommendations.

The analysis is deliberately simple: moments of the error window, a
sign-change rate as an oscillation proxy, and the mean as a drift proxy.
The recommendation thresholds come from tuning LC10E drives against a
20µm tracking target; the texts name the drive's P-registers directly so
the operator can act on them from the panel or over SDO.
*/
package advisor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultTargetUm is the tracking error goal in µm
const DefaultTargetUm = 20

// minSamples below which no analysis is attempted
const minSamples = 10

// Analysis summarizes one window of following-error samples, all lengths
// in mm
type Analysis struct {
	// Avg is the mean error, the drift proxy
	Avg float64 `json:"avg"`

	// Std is the standard deviation of the window
	Std float64 `json:"std"`

	// Max is the largest |error|
	Max float64 `json:"max"`

	// Min and MaxPos are the extreme signed values
	Min    float64 `json:"min"`
	MaxPos float64 `json:"maxPos"`

	// SignChanges counts zero crossings between consecutive samples
	SignChanges int `json:"signChanges"`

	// OscillationRate is SignChanges per sample, percent
	OscillationRate float64 `json:"oscillationRate"`

	// Samples is the window length
	Samples int `json:"samples"`
}

// Analyze summarizes a window of errors.  ok is false when the window is
// too short to say anything.
func Analyze(errors []float64) (Analysis, bool) {
	if len(errors) < minSamples {
		return Analysis{}, false
	}
	a := Analysis{
		Samples: len(errors),
		Avg:     stat.Mean(errors, nil),
		Std:     stat.StdDev(errors, nil),
		Min:     errors[0],
		MaxPos:  errors[0]}
	for i, e := range errors {
		if abs := math.Abs(e); abs > a.Max {
			a.Max = abs
		}
		if e < a.Min {
			a.Min = e
		}
		if e > a.MaxPos {
			a.MaxPos = e
		}
		if i > 0 && e*errors[i-1] < 0 {
			a.SignChanges++
		}
	}
	a.OscillationRate = float64(a.SignChanges) / float64(a.Samples) * 100
	return a, true
}

// WithinTarget reports whether the window stayed inside the target, µm
func (a Analysis) WithinTarget(targetUm float64) bool {
	return a.Max*1000 <= targetUm
}

// NamedAnalysis attaches an axis name to its analysis
type NamedAnalysis struct {
	Name string
	Analysis
}

// Advisor holds the tuning target
type Advisor struct {
	// TargetUm is the tracking error goal, µm
	TargetUm float64
}

// New returns an Advisor with the 20µm default target
func New() Advisor {
	return Advisor{TargetUm: DefaultTargetUm}
}

// ForAxis produces the recommendation lines for one axis.  moving selects
// the tracking-error tiers; at rest only static error and vibration apply.
func (ad Advisor) ForAxis(name string, a Analysis, moving bool) []string {
	var recs []string
	maxUm := a.Max * 1000
	avgUm := a.Avg * 1000
	osc := a.OscillationRate

	if moving {
		switch {
		case maxUm > 500:
			recs = append(recs,
				fmt.Sprintf("%s: CRITICAL %.0fµm (target %.0fµm)", name, maxUm, ad.TargetUm),
				"    raise P08-19 (velocity FF) to 90-100%",
				"    check P08-15 (inertia ratio), should be near 2-3",
				"    reduce MAX_ACCELERATION in the INI")
		case maxUm > 100:
			recs = append(recs,
				fmt.Sprintf("%s: error %.0fµm (target %.0fµm)", name, maxUm, ad.TargetUm),
				"    raise P08-19 (velocity FF) to 95%",
				"    raise P08-02 (position Kp) by 20%")
		case maxUm > 50:
			recs = append(recs,
				fmt.Sprintf("%s: error %.0fµm (target %.0fµm)", name, maxUm, ad.TargetUm),
				"    nudge P08-19 (velocity FF) up 5%",
				"    add P08-21 (torque FF) around 25%")
		case maxUm > ad.TargetUm:
			recs = append(recs,
				fmt.Sprintf("%s: error %.1fµm (target %.0fµm)", name, maxUm, ad.TargetUm),
				"    fine-tune P08-19/P08-21 by 2-5%")
		}
	}

	switch {
	case osc > 40:
		recs = append(recs,
			fmt.Sprintf("%s: VIBRATING (%.0f%% sign changes)", name, osc),
			"    reduce P08-00 (speed Kp) by 20%",
			"    raise P08-01 (speed Ti) by 30%")
	case osc > 25 && moving:
		recs = append(recs,
			fmt.Sprintf("%s: oscillating (%.0f%% sign changes)", name, osc),
			"    reduce P08-00 (speed Kp) by 10%")
	}

	if !moving && math.Abs(avgUm) > 5 {
		recs = append(recs,
			fmt.Sprintf("%s: static error %.1fµm", name, avgUm),
			"    raise P08-02 (position Kp)")
	}
	return recs
}

// Recommend produces the recommendation block for a set of axes, ending
// with a verdict line when nothing needs fixing
func (ad Advisor) Recommend(axes []NamedAnalysis, moving bool) []string {
	var recs []string
	worst := 0.0
	for _, ax := range axes {
		recs = append(recs, ad.ForAxis(ax.Name, ax.Analysis, moving)...)
		if um := ax.Max * 1000; um > worst {
			worst = um
		}
	}
	if len(recs) > 0 {
		return recs
	}
	if len(axes) == 0 {
		return []string{"waiting for data"}
	}
	if !moving {
		return []string{"position stable"}
	}
	if worst <= ad.TargetUm {
		return []string{fmt.Sprintf("within target: %.1fµm <= %.0fµm", worst, ad.TargetUm)}
	}
	return []string{fmt.Sprintf("max error %.1fµm", worst)}
}

// Hints are the static key-parameter reminders shown under the
// recommendations
func Hints() []string {
	return []string{
		"P08-19 velocity FF:  raise to cut tracking error, 80-100%",
		"P08-00 speed Kp:     lower if vibrating",
		"P08-01 speed Ti:     raise if oscillating",
		"P08-02 position Kp:  raise to cut static error",
		"P08-21 torque FF:    20-40% helps with inertia",
	}
}
