package lc10e

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/KlaKalma/Ma-CNC/ethercat"
)

// scriptRunner replays one canned reply per invocation and records argv
type scriptRunner struct {
	replies []string
	calls   [][]string
}

func (s *scriptRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	if len(s.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	out := s.replies[0]
	s.replies = s.replies[1:]
	return []byte(out), nil
}

// echoRunner answers every upload with the same value and swallows downloads
type echoRunner struct {
	value string
}

func (e echoRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return []byte(e.value), nil
}

func TestRawRoundTrip(t *testing.T) {
	p, err := ParamByKey("speed_ti")
	if err != nil {
		t.Fatal(err)
	}
	raw := p.Raw(31.83)
	if raw != 3183 {
		t.Errorf("expected 3183 raw counts, got %d", raw)
	}
	if got := p.FromRaw(raw); got != 31.83 {
		t.Errorf("round trip lost precision: %g", got)
	}
}

func TestCheckBounds(t *testing.T) {
	p, _ := ParamByKey("vel_ff_gain")
	if err := p.Check(100); err != nil {
		t.Errorf("100%% should be in range: %v", err)
	}
	if err := p.Check(101); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestParamLookups(t *testing.T) {
	if _, err := ParamByKey("warp_drive"); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("expected ErrUnknownParam, got %v", err)
	}
	p, err := ParamByPCode("P08-19")
	if err != nil {
		t.Fatal(err)
	}
	if p.Key != "vel_ff_gain" {
		t.Errorf("P08-19 should be vel_ff_gain, got %s", p.Key)
	}
}

func TestCannedProfilesValidate(t *testing.T) {
	for _, pr := range Profiles {
		if err := pr.Validate(); err != nil {
			t.Errorf("profile %s does not validate: %v", pr.Key, err)
		}
	}
}

func TestProfileValidateRejectsBadValue(t *testing.T) {
	pr := Profile{Key: "bogus", Values: map[string]float64{"rigidity": 99}}
	if err := pr.Validate(); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestWriteParamReadback(t *testing.T) {
	// download reply, then matching upload readback
	r := &scriptRunner{replies: []string{"", "0x0050 80"}}
	tool := ethercat.NewTool("", false).WithRunner(r)
	p, _ := ParamByKey("vel_ff_gain")
	if err := WriteParam(context.Background(), tool, 0, p, 80, nil); err != nil {
		t.Fatal(err)
	}
	dl := strings.Join(r.calls[0][1:], " ")
	want := "download -p0 -t uint16 0x2008 20 80"
	if dl != want {
		t.Errorf("download argv mismatch\nwant %q\ngot  %q", want, dl)
	}
}

func TestWriteParamReadbackMismatch(t *testing.T) {
	r := &scriptRunner{replies: []string{"", "0x004B 75"}}
	tool := ethercat.NewTool("", false).WithRunner(r)
	p, _ := ParamByKey("vel_ff_gain")
	err := WriteParam(context.Background(), tool, 0, p, 80, nil)
	if err == nil || !strings.Contains(err.Error(), "readback mismatch") {
		t.Errorf("expected readback mismatch error, got %v", err)
	}
}

func TestWriteParamGuard(t *testing.T) {
	tool := ethercat.NewTool("", false).WithRunner(&scriptRunner{})
	p, _ := ParamByKey("vel_ff_gain")
	running := func(ctx context.Context) bool { return true }
	err := WriteParam(context.Background(), tool, 0, p, 80, running)
	if !errors.Is(err, ErrMachineRunning) {
		t.Errorf("expected ErrMachineRunning, got %v", err)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	tool := ethercat.NewTool("", false).WithRunner(echoRunner{value: "30"})
	var buf bytes.Buffer
	if err := Backup(context.Background(), tool, 0, &buf); err != nil {
		t.Fatal(err)
	}
	vals, err := ParseBackup(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != len(Params) {
		t.Fatalf("expected %d values, got %d", len(Params), len(vals))
	}
	// raw 30 scaled by the per-parameter factor
	if vals["vel_ff_gain"] != 30 {
		t.Errorf("vel_ff_gain: %g", vals["vel_ff_gain"])
	}
	if vals["pos_kp"] != 3 {
		t.Errorf("pos_kp: %g", vals["pos_kp"])
	}
}

func TestParseBackupRejectsTamper(t *testing.T) {
	tool := ethercat.NewTool("", false).WithRunner(echoRunner{value: "30"})
	var buf bytes.Buffer
	if err := Backup(context.Background(), tool, 0, &buf); err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(buf.String(), "vel_ff_gain 30", "vel_ff_gain 95", 1)
	_, err := ParseBackup(strings.NewReader(tampered))
	if !errors.Is(err, ErrBadChecksum) {
		t.Errorf("expected ErrBadChecksum, got %v", err)
	}
}

func TestParseBackupRequiresFooter(t *testing.T) {
	_, err := ParseBackup(strings.NewReader("P08-19 vel_ff_gain 80\n"))
	if !errors.Is(err, ErrBadChecksum) {
		t.Errorf("expected ErrBadChecksum for missing footer, got %v", err)
	}
}

func TestRestoreGuard(t *testing.T) {
	tool := ethercat.NewTool("", false).WithRunner(echoRunner{value: "30"})
	var buf bytes.Buffer
	if err := Backup(context.Background(), tool, 0, &buf); err != nil {
		t.Fatal(err)
	}
	running := func(ctx context.Context) bool { return true }
	err := Restore(context.Background(), tool, 0, &buf, running)
	if !errors.Is(err, ErrMachineRunning) {
		t.Errorf("expected ErrMachineRunning, got %v", err)
	}
}
