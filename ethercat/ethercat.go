/*Package ethercat wraps the IgH EtherLab command line tool.

The master, its state machine, and the cyclic exchange all live in the
external kernel modules; this package only shells out to the ethercat
binary for slave enumeration, state requests, and acyclic SDO access.
All invocations are bounded by a timeout.
*/
package ethercat

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

// DefaultBin is where the EtherLab install script puts the CLI
const DefaultBin = "/usr/local/etherlab/bin/ethercat"

var (
	// ErrMasterDown is generated when the CLI produces no slave listing,
	// which in practice means the master module is not loaded
	ErrMasterDown = errors.New("no output from ethercat CLI, master module not loaded?")

	// ErrSlaveNotFound is generated when a position is absent from the bus
	ErrSlaveNotFound = errors.New("slave position not present on the bus")
)

// Runner executes an external command and returns its combined output.
// The concrete implementation shells out; tests substitute a canned one.
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

// Slave is one row of the ethercat slaves listing
type Slave struct {
	// Position is the ring position of the slave
	Position int `json:"position"`

	// BusAddr is the alias:offset column, e.g. 0:0
	BusAddr string `json:"busAddr"`

	// State is the application-layer state
	State State `json:"state"`

	// Flagged is true when the error flag column reads E
	Flagged bool `json:"flagged"`

	// Name is the product name reported by the slave
	Name string `json:"name"`
}

// Tool invokes the ethercat CLI
type Tool struct {
	// Bin is the path to the ethercat binary
	Bin string

	// Sudo prepends sudo to every invocation; the CLI needs root for
	// state requests and SDO downloads on most installs
	Sudo bool

	// Timeout bounds each invocation
	Timeout time.Duration

	runner Runner
}

// NewTool returns a Tool with the conventional install path and a 5s timeout
func NewTool(bin string, sudo bool) *Tool {
	if bin == "" {
		bin = DefaultBin
	}
	return &Tool{Bin: bin, Sudo: sudo, Timeout: 5 * time.Second, runner: execRunner{}}
}

// WithRunner substitutes the command runner, used by tests and the simulator
func (t *Tool) WithRunner(r Runner) *Tool {
	t.runner = r
	return t
}

func (t *Tool) run(ctx context.Context, args ...string) ([]byte, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	name := t.Bin
	if t.Sudo {
		args = append([]string{t.Bin}, args...)
		name = "sudo"
	}
	return t.runner.Run(ctx, name, args...)
}

// Slaves lists the slaves on the bus
func (t *Tool) Slaves(ctx context.Context) ([]Slave, error) {
	out, err := t.run(ctx, "slaves")
	if err != nil {
		return nil, fmt.Errorf("ethercat slaves: %w (output %q)", err, out)
	}
	return parseSlaves(out)
}

// SlaveAt returns the slave at the given ring position
func (t *Tool) SlaveAt(ctx context.Context, pos int) (Slave, error) {
	slaves, err := t.Slaves(ctx)
	if err != nil {
		return Slave{}, err
	}
	for _, s := range slaves {
		if s.Position == pos {
			return s, nil
		}
	}
	return Slave{}, ErrSlaveNotFound
}

// RequestState asks the master to bring a slave to the given AL state.
// The master acts asynchronously; poll Slaves to observe the result.
func (t *Tool) RequestState(ctx context.Context, pos int, state State) error {
	out, err := t.run(ctx, "states", fmt.Sprintf("-p%d", pos), state.String())
	if err != nil {
		return fmt.Errorf("ethercat states -p%d %s: %w (output %q)", pos, state, err, out)
	}
	return nil
}

// Upload reads an SDO from the slave's object dictionary and returns the
// raw integer value.  dtype is an ethercat CLI type name such as uint16.
func (t *Tool) Upload(ctx context.Context, pos int, index uint16, sub uint8, dtype string) (int64, error) {
	out, err := t.run(ctx, "upload",
		fmt.Sprintf("-p%d", pos),
		"-t", dtype,
		fmt.Sprintf("0x%04x", index),
		strconv.Itoa(int(sub)))
	if err != nil {
		return 0, fmt.Errorf("sdo upload 0x%04x:%02x: %w (output %q)", index, sub, err, out)
	}
	return parseUpload(out)
}

// Download writes an SDO in the slave's object dictionary
func (t *Tool) Download(ctx context.Context, pos int, index uint16, sub uint8, dtype string, value int64) error {
	out, err := t.run(ctx, "download",
		fmt.Sprintf("-p%d", pos),
		"-t", dtype,
		fmt.Sprintf("0x%04x", index),
		strconv.Itoa(int(sub)),
		strconv.FormatInt(value, 10))
	if err != nil {
		return fmt.Errorf("sdo download 0x%04x:%02x=%d: %w (output %q)", index, sub, value, err, out)
	}
	return nil
}

// MasterInfo is a digest of the ethercat master output
type MasterInfo struct {
	Phase      string `json:"phase"`
	SlaveCount int    `json:"slaveCount"`
	LinkUp     bool   `json:"linkUp"`
}

// Master reports the phase and link state of master 0
func (t *Tool) Master(ctx context.Context) (MasterInfo, error) {
	out, err := t.run(ctx, "master")
	if err != nil {
		return MasterInfo{}, fmt.Errorf("ethercat master: %w (output %q)", err, out)
	}
	return parseMaster(out), nil
}

func parseSlaves(out []byte) ([]Slave, error) {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return nil, ErrMasterDown
	}
	lines := strings.Split(text, "\n")
	slaves := make([]Slave, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("malformed slave line %q", line)
		}
		pos, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("malformed slave position in line %q", line)
		}
		s := Slave{
			Position: pos,
			BusAddr:  fields[1],
			State:    ParseState(fields[2]),
			Flagged:  fields[3] == "E",
			Name:     strings.Join(fields[4:], " "),
		}
		slaves = append(slaves, s)
	}
	return slaves, nil
}

// parseUpload handles the two shapes the CLI emits: "0x0237 567" for
// integer types and a bare value for others.  The decimal rendition wins
// when both are present.
func parseUpload(out []byte) (int64, error) {
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) == 0 {
		return 0, errors.New("empty SDO upload response")
	}
	token := fields[len(fields)-1]
	if v, err := strconv.ParseInt(token, 10, 64); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseInt(strings.TrimPrefix(token, "0x"), 16, 64); err == nil {
		return v, nil
	}
	return 0, fmt.Errorf("unparseable SDO upload response %q", out)
}

func parseMaster(out []byte) MasterInfo {
	mi := MasterInfo{}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Phase:"):
			mi.Phase = strings.TrimSpace(strings.TrimPrefix(line, "Phase:"))
		case strings.HasPrefix(line, "Slaves:"):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Slaves:")))
			if err == nil {
				mi.SlaveCount = n
			}
		case strings.HasPrefix(line, "Link:"):
			mi.LinkUp = strings.Contains(line, "UP")
		}
	}
	return mi
}
