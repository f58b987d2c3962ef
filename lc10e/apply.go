package lc10e

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/KlaKalma/Ma-CNC/ethercat"
)

// ErrMachineRunning is generated when a write is attempted while a
// LinuxCNC session holds the drives.  Parameter writes race the cyclic
// exchange and the drive rejects or, worse, half-applies them.
var ErrMachineRunning = errors.New("refusing to write drive parameters while LinuxCNC is running")

// Guard reports whether LinuxCNC currently holds the drives
type Guard func(ctx context.Context) bool

// SDODtype is the CLI type of every P-register
const SDODtype = "uint16"

// ReadParam reads one table parameter over SDO, in engineering units
func ReadParam(ctx context.Context, t *ethercat.Tool, pos int, p Param) (float64, error) {
	raw, err := t.Upload(ctx, pos, p.Index, p.Sub, SDODtype)
	if err != nil {
		return 0, err
	}
	return p.FromRaw(raw), nil
}

// ReadAll reads the whole parameter table, keyed by short name
func ReadAll(ctx context.Context, t *ethercat.Tool, pos int) (map[string]float64, error) {
	out := make(map[string]float64, len(Params))
	for _, p := range Params {
		v, err := ReadParam(ctx, t, pos, p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p.PCode, err)
		}
		out[p.Key] = v
	}
	return out, nil
}

// WriteParam writes one parameter over SDO and reads it back.
// The guard is consulted first; pass nil to skip the check (already
// verified by the caller).
func WriteParam(ctx context.Context, t *ethercat.Tool, pos int, p Param, v float64, guard Guard) error {
	if err := p.Check(v); err != nil {
		return err
	}
	if guard != nil && guard(ctx) {
		return ErrMachineRunning
	}
	raw := p.Raw(v)
	if err := t.Download(ctx, pos, p.Index, p.Sub, SDODtype, raw); err != nil {
		return err
	}
	back, err := t.Upload(ctx, pos, p.Index, p.Sub, SDODtype)
	if err != nil {
		return fmt.Errorf("readback of %s: %w", p.PCode, err)
	}
	if back != raw {
		return fmt.Errorf("readback mismatch on %s: wrote %d, read %d", p.PCode, raw, back)
	}
	return nil
}

// ApplyProfile writes every value of a profile with readback verification.
// It stops at the first failure; applied values are logged so the operator
// can see how far it got.
func ApplyProfile(ctx context.Context, t *ethercat.Tool, pos int, pr Profile, guard Guard) error {
	if err := pr.Validate(); err != nil {
		return err
	}
	if guard != nil && guard(ctx) {
		return ErrMachineRunning
	}
	for _, p := range Params {
		v, ok := pr.Values[p.Key]
		if !ok {
			continue
		}
		if err := WriteParam(ctx, t, pos, p, v, nil); err != nil {
			return fmt.Errorf("profile %s: %w", pr.Key, err)
		}
		log.Printf("slave %d: %s = %g %s", pos, p.PCode, v, p.Unit)
	}
	return nil
}
