package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/KlaKalma/Ma-CNC/util"
)

func ExampleGetBit_lsb() {
	fmt.Println(util.GetBit(0x0001, 0))
	// Output: true
}

func ExampleGetBit_statusword() {
	// bit 2 is "operation enabled" in a CIA402 statusword
	fmt.Println(util.GetBit(0x0237, 2))
	// Output: true
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, low, clamped)
	}
}

func TestClampPassthrough(t *testing.T) {
	if out := util.Clamp(5, 0, 10); out != 5 {
		t.Errorf("expected in-range value to pass unchanged, got %f", out)
	}
}

func TestLimiterCheck(t *testing.T) {
	l := util.Limiter{Min: 50, Max: 200}
	if !l.Check(120) {
		t.Error("expected 120 to be within [50, 200]")
	}
	if l.Check(201) {
		t.Error("expected 201 to be outside [50, 200]")
	}
	if l.Check(49.9) {
		t.Error("expected 49.9 to be outside [50, 200]")
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
