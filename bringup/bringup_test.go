package bringup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/KlaKalma/Ma-CNC/ethercat"
)

// busSim plays the part of the ethercat CLI against a simulated bus.
// Requested transitions land after lag polls of the slaves listing.
type busSim struct {
	states  []ethercat.State
	flagged []bool
	lag     int
	linkUp  bool

	pending map[int]pendingReq
}

type pendingReq struct {
	state     ethercat.State
	remaining int
}

func newBusSim(n int) *busSim {
	s := &busSim{
		states:  make([]ethercat.State, n),
		flagged: make([]bool, n),
		lag:     1,
		linkUp:  true,
		pending: map[int]pendingReq{}}
	for i := range s.states {
		s.states[i] = ethercat.Init
	}
	return s
}

func (b *busSim) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	switch args[0] {
	case "master":
		link := "DOWN"
		if b.linkUp {
			link = "UP"
		}
		out := fmt.Sprintf("Master0\n  Phase: Idle\n  Slaves: %d\n  Main: x\n    Link: %s\n", len(b.states), link)
		return []byte(out), nil
	case "states":
		var pos int
		fmt.Sscanf(args[1], "-p%d", &pos)
		b.pending[pos] = pendingReq{state: ethercat.ParseState(args[2]), remaining: b.lag}
		return nil, nil
	case "slaves":
		for pos, req := range b.pending {
			if req.remaining <= 0 {
				b.states[pos] = req.state
				delete(b.pending, pos)
				continue
			}
			req.remaining--
			b.pending[pos] = req
		}
		var sb strings.Builder
		for i, st := range b.states {
			flag := "+"
			if b.flagged[i] {
				flag = "E"
			}
			fmt.Fprintf(&sb, "%d  0:%d  %s  %s  LC10E-608\n", i, i, st, flag)
		}
		return []byte(sb.String()), nil
	}
	return nil, fmt.Errorf("unexpected command %v", args)
}

func newSeq(sim *busSim) *Sequencer {
	s := New(ethercat.NewTool("", false).WithRunner(sim))
	s.Delay = time.Millisecond
	s.Quiet = true
	return s
}

func TestUpTwoSlaves(t *testing.T) {
	sim := newBusSim(2)
	s := newSeq(sim)
	if err := s.Up(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i, st := range sim.states {
		if st != ethercat.Op {
			t.Errorf("slave %d finished in %s", i, st)
		}
	}
}

func TestUpSlaveStuck(t *testing.T) {
	sim := newBusSim(1)
	sim.lag = 1000
	s := newSeq(sim)
	s.Attempts = 2
	err := s.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "did not reach") {
		t.Errorf("expected a stuck-transition error, got %v", err)
	}
}

func TestUpStopsOnErrorFlag(t *testing.T) {
	sim := newBusSim(1)
	sim.flagged[0] = true
	s := newSeq(sim)
	s.Attempts = 1000
	start := time.Now()
	err := s.Up(context.Background())
	if !errors.Is(err, ErrSlaveFaulted) {
		t.Errorf("expected ErrSlaveFaulted, got %v", err)
	}
	// the flag makes the retry permanent; a full poll budget would take seconds
	if time.Since(start) > time.Second {
		t.Error("fault flag should abort retries immediately")
	}
}

func TestVerifyBelowOp(t *testing.T) {
	sim := newBusSim(2)
	sim.states[0] = ethercat.Op
	sim.states[1] = ethercat.SafeOp
	s := newSeq(sim)
	err := s.Verify(context.Background())
	if !errors.Is(err, ErrNotAllOp) {
		t.Errorf("expected ErrNotAllOp, got %v", err)
	}
	if !strings.Contains(err.Error(), "slave 1 in SAFEOP") {
		t.Errorf("error should name the lagging slave: %v", err)
	}
}

func TestCheckMasterLinkDown(t *testing.T) {
	sim := newBusSim(1)
	sim.linkUp = false
	s := newSeq(sim)
	err := s.CheckMaster(context.Background())
	if err == nil || !strings.Contains(err.Error(), "link is down") {
		t.Errorf("expected a link-down error, got %v", err)
	}
}
