/*Package hal wraps halcmd, the CLI into LinuxCNC's hardware abstraction layer.

The real-time signal graph lives in LinuxCNC; this package only gets and
sets pins/params acyclically for monitoring and tuning.  Sampling through a
subprocess tops out near a few hundred Hz, which is plenty for an operator
display and far below the 1 kHz servo thread; nothing here sits in the
real-time path.
*/
package hal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotRunning is generated when halcmd cannot reach a realtime session
	ErrNotRunning = errors.New("halcmd failed, LinuxCNC realtime session not running?")
)

// Runner executes an external command and returns its combined output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// HAL invokes halcmd
type HAL struct {
	// Bin is the halcmd binary, found on PATH by default
	Bin string

	// Timeout bounds each invocation; halcmd normally returns in well
	// under a millisecond, a stuck invocation means the session died
	Timeout time.Duration

	runner Runner
}

// New returns a HAL with a 1 second timeout
func New() *HAL {
	return &HAL{Bin: "halcmd", Timeout: time.Second, runner: execRunner{}}
}

// WithRunner substitutes the command runner, used by tests
func (h *HAL) WithRunner(r Runner) *HAL {
	h.runner = r
	return h
}

func (h *HAL) run(ctx context.Context, args ...string) ([]byte, error) {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	out, err := h.runner.Run(ctx, h.Bin, args...)
	if err != nil {
		return out, fmt.Errorf("%w: %v (output %q)", ErrNotRunning, err, out)
	}
	return out, nil
}

// Getp reads a pin or parameter as a float.  Bit pins read as 1 or 0.
func (h *HAL) Getp(ctx context.Context, pin string) (float64, error) {
	out, err := h.run(ctx, "getp", pin)
	if err != nil {
		return 0, err
	}
	return parseValue(out)
}

// GetBit reads a bit pin or parameter
func (h *HAL) GetBit(ctx context.Context, pin string) (bool, error) {
	v, err := h.Getp(ctx, pin)
	return v != 0, err
}

// Setp writes a pin or parameter
func (h *HAL) Setp(ctx context.Context, pin string, value float64) error {
	_, err := h.run(ctx, "setp", pin, strconv.FormatFloat(value, 'g', -1, 64))
	return err
}

// ShowPin returns the raw halcmd show pin output for a pin pattern
func (h *HAL) ShowPin(ctx context.Context, pattern string) (string, error) {
	out, err := h.run(ctx, "show", "pin", pattern)
	return string(out), err
}

// Running probes for a live realtime session
func (h *HAL) Running(ctx context.Context) bool {
	_, err := h.Getp(ctx, EmcEnableIn)
	return err == nil
}

func parseValue(out []byte) (float64, error) {
	s := strings.TrimSpace(string(out))
	switch s {
	case "TRUE":
		return 1, nil
	case "FALSE":
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable halcmd value %q", s)
	}
	return v, nil
}
