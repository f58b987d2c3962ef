// Package util contains misc internal utilities.
package util

import "time"

// Clamp restricts x to the range [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// A Limiter is a pair of bounds and can check if a value falls within them
type Limiter struct {
	// Min is the lower bound
	Min float64 `json:"min" yaml:"min"`

	// Max is the upper bound
	Max float64 `json:"max" yaml:"max"`
}

// Check returns true if Min <= v <= Max
func (l Limiter) Check(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// SecsToDuration converts a float number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// GetBit returns the value of bit bitIndex in w
func GetBit(w uint16, bitIndex uint) bool {
	return (w>>bitIndex)&1 == 1
}
