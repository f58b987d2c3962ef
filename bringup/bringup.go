/*Package bringup walks EtherCAT slaves up to operational.

The AL state machine only permits adjacent transitions, so each slave is
stepped through PREOP, SAFEOP, and OP in order.  State requests are
asynchronous on the master side; after each request the bus is polled
until the slave reports the target state or the retry budget runs out.
*/
package bringup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/KlaKalma/Ma-CNC/ethercat"

	"github.com/cenkalti/backoff"
	"github.com/theckman/yacspin"
)

var (
	// ErrNotAllOp is generated by Verify when a slave is below OP
	ErrNotAllOp = errors.New("not all slaves operational")

	// ErrSlaveFaulted is generated when a slave raises its AL error flag
	// during a transition; retrying is pointless until the fault is acked
	ErrSlaveFaulted = errors.New("slave raised error flag during transition")
)

// Sequencer drives slaves to OP with bounded retries per transition
type Sequencer struct {
	// Tool shells out to the ethercat CLI
	Tool *ethercat.Tool

	// Attempts is the poll budget per state transition
	Attempts uint64

	// Delay is the interval between polls
	Delay time.Duration

	// Quiet suppresses the spinner, falling back to log lines.  Always
	// effective when stdout is not a terminal.
	Quiet bool

	spin *yacspin.Spinner
}

// New returns a Sequencer with a 10 x 500ms poll budget per transition
func New(t *ethercat.Tool) *Sequencer {
	return &Sequencer{Tool: t, Attempts: 10, Delay: 500 * time.Millisecond}
}

func (s *Sequencer) startSpinner(msg string) {
	if s.Quiet {
		log.Println(msg)
		return
	}
	if s.spin == nil {
		sp, err := yacspin.New(yacspin.Config{
			Frequency:         100 * time.Millisecond,
			CharSet:           yacspin.CharSets[14],
			SuffixAutoColon:   true,
			StopCharacter:     "✓",
			StopColors:        []string{"fgGreen"},
			StopFailCharacter: "✗",
			StopFailColors:    []string{"fgRed"},
			Writer:            os.Stdout})
		if err != nil {
			s.Quiet = true
			log.Println(msg)
			return
		}
		s.spin = sp
	}
	s.spin.Message(msg)
	s.spin.Start()
}

func (s *Sequencer) stopSpinner(msg string, failed bool) {
	if s.Quiet || s.spin == nil {
		log.Println(msg)
		return
	}
	if failed {
		s.spin.StopFailMessage(msg)
		s.spin.StopFail()
		return
	}
	s.spin.StopMessage(msg)
	s.spin.Stop()
}

// CheckMaster verifies the master module is loaded and the link is up
func (s *Sequencer) CheckMaster(ctx context.Context) error {
	mi, err := s.Tool.Master(ctx)
	if err != nil {
		return err
	}
	if !mi.LinkUp {
		return fmt.Errorf("master phase %s but ethernet link is down, check cabling", mi.Phase)
	}
	if mi.SlaveCount == 0 {
		return errors.New("master link up but zero slaves, check bus wiring and slave power")
	}
	return nil
}

// waitFor polls until the slave at pos reports the wanted state
func (s *Sequencer) waitFor(ctx context.Context, pos int, want ethercat.State) error {
	op := func() error {
		sl, err := s.Tool.SlaveAt(ctx, pos)
		if err != nil {
			return backoff.Permanent(err)
		}
		if sl.Flagged {
			return backoff.Permanent(fmt.Errorf("%w: slave %d at %s", ErrSlaveFaulted, pos, sl.State))
		}
		if sl.State != want {
			return fmt.Errorf("slave %d at %s, want %s", pos, sl.State, want)
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.Delay), s.Attempts), ctx)
	return backoff.Retry(op, bo)
}

// UpSlave steps one slave from its current state to OP
func (s *Sequencer) UpSlave(ctx context.Context, pos int) error {
	sl, err := s.Tool.SlaveAt(ctx, pos)
	if err != nil {
		return err
	}
	state := sl.State
	for state != ethercat.Op {
		next, err := state.Next()
		if err != nil {
			return fmt.Errorf("slave %d in %s: %w", pos, state, err)
		}
		s.startSpinner(fmt.Sprintf("slave %d: %s → %s", pos, state, next))
		if err := s.Tool.RequestState(ctx, pos, next); err != nil {
			s.stopSpinner(fmt.Sprintf("slave %d: request %s failed", pos, next), true)
			return err
		}
		if err := s.waitFor(ctx, pos, next); err != nil {
			s.stopSpinner(fmt.Sprintf("slave %d: stuck below %s", pos, next), true)
			return fmt.Errorf("slave %d did not reach %s: %w", pos, next, err)
		}
		s.stopSpinner(fmt.Sprintf("slave %d: %s", pos, next), false)
		state = next
	}
	return nil
}

// Up brings every slave on the bus to OP, in ring order
func (s *Sequencer) Up(ctx context.Context) error {
	if err := s.CheckMaster(ctx); err != nil {
		return err
	}
	slaves, err := s.Tool.Slaves(ctx)
	if err != nil {
		return err
	}
	for _, sl := range slaves {
		if err := s.UpSlave(ctx, sl.Position); err != nil {
			return err
		}
	}
	return s.Verify(ctx)
}

// Verify confirms every slave reports OP
func (s *Sequencer) Verify(ctx context.Context) error {
	slaves, err := s.Tool.Slaves(ctx)
	if err != nil {
		return err
	}
	var below []string
	for _, sl := range slaves {
		if sl.State != ethercat.Op {
			below = append(below, fmt.Sprintf("slave %d in %s", sl.Position, sl.State))
		}
	}
	if len(below) > 0 {
		return fmt.Errorf("%w: %s", ErrNotAllOp, strings.Join(below, ", "))
	}
	return nil
}
