package linuxcnc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// shellConn scripts the server side of the exchange
type shellConn struct {
	wrote bytes.Buffer
	resp  *strings.Reader
}

func (s *shellConn) Read(p []byte) (int, error)  { return s.resp.Read(p) }
func (s *shellConn) Write(p []byte) (int, error) { return s.wrote.Write(p) }
func (s *shellConn) Close() error                { return nil }

func newClient(responses ...string) (*Client, *shellConn) {
	conn := &shellConn{resp: strings.NewReader(strings.Join(responses, "\n") + "\n")}
	c := New("")
	c.Conn = conn
	return c, conn
}

func TestHandshake(t *testing.T) {
	c, conn := newClient(
		"HELLO ACK ma-cnc 1.0",
		"SET ECHO ACK",
		"SET VERBOSE ACK",
		"SET ENABLE ACK")
	// Conn is pre-seeded, skip Open by driving the handshake directly
	resp, err := c.Transact("hello EMC ma-cnc 1.0")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp, "HELLO ACK") {
		t.Fatalf("hello reply: %q", resp)
	}
	for _, s := range []string{"echo off", "verbose on", "enable EMCTOO"} {
		if err := c.set(s); err != nil {
			t.Fatal(err)
		}
	}
	sent := conn.wrote.String()
	if !strings.Contains(sent, "hello EMC ma-cnc 1.0\n") {
		t.Errorf("hello not sent: %q", sent)
	}
	if !strings.Contains(sent, "set enable EMCTOO\n") {
		t.Errorf("enable not sent: %q", sent)
	}
}

func TestHandshakeRejected(t *testing.T) {
	c, _ := newClient("HELLO NAK")
	resp, err := c.Transact("hello wrong ma-cnc 1.0")
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(resp, "HELLO ACK") {
		t.Error("bad password should not ACK")
	}
}

func TestMDI(t *testing.T) {
	c, conn := newClient("SET MDI ACK", "SET WAIT ACK")
	if err := c.MDI("G1 X50 F500"); err != nil {
		t.Fatal(err)
	}
	if err := c.WaitDone(); err != nil {
		t.Fatal(err)
	}
	sent := conn.wrote.String()
	if !strings.Contains(sent, "set mdi G1 X50 F500\n") {
		t.Errorf("mdi block not sent: %q", sent)
	}
	if !strings.Contains(sent, "set wait done\n") {
		t.Errorf("wait not sent: %q", sent)
	}
}

func TestSetNak(t *testing.T) {
	c, _ := newClient("SET MDI NAK")
	err := c.MDI("G1 X9999")
	if !errors.Is(err, ErrNak) {
		t.Errorf("expected ErrNak, got %v", err)
	}
}

func TestProgramStatus(t *testing.T) {
	c, _ := newClient("PROGRAM_STATUS RUNNING", "PROGRAM_STATUS IDLE")
	running, err := c.Running()
	if err != nil {
		t.Fatal(err)
	}
	if !running {
		t.Error("expected running")
	}
	running, err = c.Running()
	if err != nil {
		t.Fatal(err)
	}
	if running {
		t.Error("expected idle")
	}
}

func TestProgramStatusGarbage(t *testing.T) {
	c, _ := newClient("wat")
	if _, err := c.ProgramStatus(); err == nil {
		t.Error("expected an error for a malformed reply")
	}
}

func TestNotConnected(t *testing.T) {
	c := New("")
	if _, err := c.Transact("get program_status"); err == nil {
		t.Error("expected an error with no connection")
	}
}

// ackServer answers every line on a real socket so deadline behavior is
// exercised end to end
func ackServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		rdr := bufio.NewReader(conn)
		for {
			line, err := rdr.ReadString('\n')
			if err != nil {
				return
			}
			switch {
			case strings.HasPrefix(line, "hello"):
				fmt.Fprint(conn, "HELLO ACK ma-cnc 1.0\n")
			case strings.HasPrefix(line, "get program_status"):
				fmt.Fprint(conn, "PROGRAM_STATUS IDLE\n")
			default:
				fmt.Fprint(conn, "ACK\n")
			}
		}
	}()
	return ln
}

func TestSessionOutlivesDialTimeout(t *testing.T) {
	ln := ackServer(t)
	defer ln.Close()
	c := New(ln.Addr().String())
	c.Timeout = 100 * time.Millisecond
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.ProgramStatus(); err != nil {
		t.Fatal(err)
	}
	// a tuning session polls for minutes; the socket must not expire
	// once the dial-time window has passed
	time.Sleep(250 * time.Millisecond)
	if _, err := c.ProgramStatus(); err != nil {
		t.Errorf("session died after the dial timeout elapsed: %v", err)
	}
}

func TestEStop(t *testing.T) {
	c, conn := newClient("SET ESTOP ACK", "SET ESTOP ACK", "SET MACHINE ACK", "SET MODE ACK")
	if err := c.EStop(true); err != nil {
		t.Fatal(err)
	}
	if err := c.EStop(false); err != nil {
		t.Fatal(err)
	}
	if err := c.MachineOn(); err != nil {
		t.Fatal(err)
	}
	if err := c.ModeMDI(); err != nil {
		t.Fatal(err)
	}
	sent := conn.wrote.String()
	for _, want := range []string{"set estop on\n", "set estop off\n", "set machine on\n", "set mode mdi\n"} {
		if !strings.Contains(sent, want) {
			t.Errorf("missing %q in %q", want, sent)
		}
	}
}
