package lc10e

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/KlaKalma/Ma-CNC/ethercat"

	"github.com/snksoft/crc"
)

// ErrBadChecksum is generated when a backup file's CRC footer does not
// match its body.  Restore refuses such files outright.
var ErrBadChecksum = errors.New("backup file checksum mismatch")

var backupCRC = crc.NewTable(crc.XMODEM)

func checksum(body []byte) uint16 {
	c := backupCRC.InitCrc()
	c = backupCRC.UpdateCrc(c, body)
	return backupCRC.CRC16(c)
}

// Backup dumps every table parameter from the drive to w in a line format
// with a CRC-16/XMODEM footer:
//
//	# LC10E parameter backup
//	# taken 2026-08-25T10:00:00Z slave 0
//	P08-00 speed_kp 50
//	...
//	# crc 0x1D0F
func Backup(ctx context.Context, t *ethercat.Tool, pos int, w io.Writer) error {
	vals, err := ReadAll(ctx, t, pos)
	if err != nil {
		return err
	}
	var body strings.Builder
	fmt.Fprintf(&body, "# LC10E parameter backup\n")
	fmt.Fprintf(&body, "# taken %s slave %d\n", time.Now().UTC().Format(time.RFC3339), pos)
	for _, p := range Params {
		fmt.Fprintf(&body, "%s %s %s\n", p.PCode, p.Key, strconv.FormatFloat(vals[p.Key], 'g', -1, 64))
	}
	sum := checksum([]byte(body.String()))
	if _, err := io.WriteString(w, body.String()); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "# crc 0x%04X\n", sum)
	return err
}

// ParseBackup reads a backup file, verifies the CRC footer, and returns
// the values keyed by short name
func ParseBackup(r io.Reader) (map[string]float64, error) {
	var body strings.Builder
	var footer string
	vals := map[string]float64{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "# crc ") {
			footer = strings.TrimPrefix(line, "# crc ")
			break
		}
		body.WriteString(line)
		body.WriteByte('\n')
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed backup line %q", line)
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed value in backup line %q", line)
		}
		vals[fields[1]] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if footer == "" {
		return nil, ErrBadChecksum
	}
	want, err := strconv.ParseUint(strings.TrimPrefix(footer, "0x"), 16, 16)
	if err != nil {
		return nil, ErrBadChecksum
	}
	got := checksum([]byte(body.String()))
	if uint64(got) != want {
		return nil, fmt.Errorf("%w: file 0x%04X, computed 0x%04X", ErrBadChecksum, want, got)
	}
	return vals, nil
}

// Restore writes a verified backup back to the drive
func Restore(ctx context.Context, t *ethercat.Tool, pos int, r io.Reader, guard Guard) error {
	vals, err := ParseBackup(r)
	if err != nil {
		return err
	}
	if guard != nil && guard(ctx) {
		return ErrMachineRunning
	}
	for _, p := range Params {
		v, ok := vals[p.Key]
		if !ok {
			continue
		}
		if err := WriteParam(ctx, t, pos, p, v, nil); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	return nil
}
