/*Package linuxcnc is a client for linuxcncrsh, the remote shell LinuxCNC
exposes on TCP port 5007.

It speaks just enough of the protocol to run tuning moves: the hello and
enable handshake, MDI commands, and status polling.  Trajectory planning
and program interpretation stay inside LinuxCNC.
*/
package linuxcnc

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/KlaKalma/Ma-CNC/comm"
)

// DefaultAddr is linuxcncrsh's stock listen address
const DefaultAddr = "localhost:5007"

var (
	// ErrHandshake is generated when the hello or enable exchange fails
	ErrHandshake = errors.New("linuxcncrsh handshake refused")

	// ErrNak is generated when the shell answers NAK to a command
	ErrNak = errors.New("linuxcncrsh refused command")
)

// Client talks to one linuxcncrsh session
type Client struct {
	comm.RemoteDevice

	// Password for the hello exchange; the shell ships with EMC
	Password string

	// Name identifies this client to the shell
	Name string

	rdr *bufio.Reader
}

// New returns a Client for the given address with stock credentials
func New(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Client{
		RemoteDevice: comm.NewRemoteDevice(addr, false, 5*time.Second),
		Password:     "EMC",
		Name:         "ma-cnc"}
}

// Transact sends one command line and returns the reply line.
// The session is persistent, so the socket deadline is pushed forward on
// every exchange rather than fixed at dial time.
func (c *Client) Transact(cmd string) (string, error) {
	if c.Conn == nil {
		return "", comm.ErrNotConnected
	}
	if conn, ok := c.Conn.(net.Conn); ok {
		conn.SetDeadline(time.Now().Add(c.Timeout))
	}
	if c.rdr == nil {
		c.rdr = bufio.NewReader(c.Conn)
	}
	if _, err := c.Conn.Write([]byte(cmd + "\n")); err != nil {
		return "", err
	}
	line, err := c.rdr.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// set issues a set command and checks for the ACK
func (c *Client) set(args string) error {
	resp, err := c.Transact("set " + args)
	if err != nil {
		return err
	}
	if strings.Contains(resp, "NAK") {
		return fmt.Errorf("%w: set %s -> %s", ErrNak, args, resp)
	}
	return nil
}

// Connect opens the socket and performs the hello and enable handshake.
// After Connect the session may issue set commands.
func (c *Client) Connect() error {
	if err := c.Open(); err != nil {
		return err
	}
	c.rdr = nil
	resp, err := c.Transact(fmt.Sprintf("hello %s %s 1.0", c.Password, c.Name))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "HELLO ACK") {
		return fmt.Errorf("%w: %s", ErrHandshake, resp)
	}
	for _, s := range []string{"echo off", "verbose on", "enable EMCTOO"} {
		if err := c.set(s); err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
	}
	return nil
}

// EStop sets or releases the software estop
func (c *Client) EStop(on bool) error {
	if on {
		return c.set("estop on")
	}
	return c.set("estop off")
}

// MachineOn powers the machine on
func (c *Client) MachineOn() error {
	return c.set("machine on")
}

// ModeMDI switches the interpreter to MDI input
func (c *Client) ModeMDI() error {
	return c.set("mode mdi")
}

// MDI issues one MDI block, e.g. "G1 X50 F500"
func (c *Client) MDI(block string) error {
	return c.set("mdi " + block)
}

// WaitDone blocks until the queued motion completes
func (c *Client) WaitDone() error {
	return c.set("wait done")
}

// ProgramStatus returns the interpreter status token: IDLE, RUNNING, or
// PAUSED
func (c *Client) ProgramStatus() (string, error) {
	resp, err := c.Transact("get program_status")
	if err != nil {
		return "", err
	}
	fields := strings.Fields(resp)
	if len(fields) < 2 || fields[0] != "PROGRAM_STATUS" {
		return "", fmt.Errorf("unexpected program_status reply %q", resp)
	}
	return fields[1], nil
}

// Running reports whether a program or MDI block is executing
func (c *Client) Running() (bool, error) {
	s, err := c.ProgramStatus()
	if err != nil {
		return false, err
	}
	return s == "RUNNING", nil
}
