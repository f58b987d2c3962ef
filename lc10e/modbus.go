package lc10e

// The LC10E carries an RS485 service port speaking Modbus RTU, the channel
// the vendor's panel software uses.  It reaches the same P-register space
// as SDO and works with the EtherCAT master unloaded, which makes it the
// fallback during first bring-up.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/KlaKalma/Ma-CNC/comm"

	"github.com/snksoft/crc"
	"github.com/tarm/serial"
)

var (
	// ErrModbusException is generated when the drive replies with an
	// exception function code
	ErrModbusException = errors.New("modbus exception from drive")

	// ErrFrameCheck is generated when a response fails its CRC
	ErrFrameCheck = errors.New("modbus response failed CRC check")

	modbusCRC = crc.NewTable(&crc.Parameters{
		Width:      16,
		Polynomial: 0x8005,
		Init:       0xFFFF,
		ReflectIn:  true,
		ReflectOut: true,
		FinalXor:   0x0000})
)

func modbusSum(frame []byte) uint16 {
	c := modbusCRC.InitCrc()
	c = modbusCRC.UpdateCrc(c, frame)
	return modbusCRC.CRC16(c)
}

// appendCRC appends the CRC16 little-endian, per RTU convention
func appendCRC(frame []byte) []byte {
	sum := modbusSum(frame)
	return append(frame, byte(sum), byte(sum>>8))
}

func checkCRC(frame []byte) bool {
	if len(frame) < 4 {
		return false
	}
	body, tail := frame[:len(frame)-2], frame[len(frame)-2:]
	return modbusSum(body) == binary.LittleEndian.Uint16(tail)
}

// RegisterFor maps a table parameter to its Modbus holding register:
// group in the high byte, offset in the low byte (P08-19 -> 0x0813)
func RegisterFor(p Param) uint16 {
	group := p.Index - VendorParamBase
	return group<<8 | uint16(p.Sub-1)
}

func buildRead(unit byte, reg uint16) []byte {
	return appendCRC([]byte{unit, 0x03, byte(reg >> 8), byte(reg), 0x00, 0x01})
}

func buildWrite(unit byte, reg uint16, value uint16) []byte {
	return appendCRC([]byte{unit, 0x06, byte(reg >> 8), byte(reg), byte(value >> 8), byte(value)})
}

// ServicePort is the drive's RS485 connector.  38400 8N1 is the drive
// default; Unit follows the P02 station number, 1 from the factory.
type ServicePort struct {
	comm.RemoteDevice

	Port string
	Baud int
	Unit byte
}

// NewServicePort returns a ServicePort with the drive's factory defaults
func NewServicePort(port string, baud int, unit byte) *ServicePort {
	if baud == 0 {
		baud = 38400
	}
	if unit == 0 {
		unit = 1
	}
	return &ServicePort{
		RemoteDevice: comm.NewRemoteDevice(port, true, time.Second),
		Port:         port,
		Baud:         baud,
		Unit:         unit}
}

// SerialConf yields the serial config for the service port
func (sp *ServicePort) SerialConf() *serial.Config {
	return &serial.Config{Name: sp.Port, Baud: sp.Baud, ReadTimeout: time.Second}
}

// Open the serial port.  RTU frames are delimited by silence, not a
// terminator byte, so the port is opened directly rather than through
// the line-oriented RemoteDevice.Open.
func (sp *ServicePort) Open() error {
	conn, err := serial.OpenPort(sp.SerialConf())
	if err != nil {
		return err
	}
	sp.Conn = conn
	return nil
}

func (sp *ServicePort) transact(req []byte, respLen int) ([]byte, error) {
	if sp.Conn == nil {
		return nil, comm.ErrNotConnected
	}
	if _, err := sp.Conn.Write(req); err != nil {
		return nil, err
	}
	// read the fixed header first to catch exception frames, which are
	// shorter than the happy path
	head := make([]byte, 2)
	if _, err := io.ReadFull(sp.Conn, head); err != nil {
		return nil, err
	}
	if head[1]&0x80 != 0 {
		rest := make([]byte, 3)
		if _, err := io.ReadFull(sp.Conn, rest); err != nil {
			return nil, err
		}
		frame := append(head, rest...)
		if !checkCRC(frame) {
			return nil, ErrFrameCheck
		}
		return nil, fmt.Errorf("%w: function 0x%02x code %d", ErrModbusException, head[1]&0x7F, rest[0])
	}
	rest := make([]byte, respLen-2)
	if _, err := io.ReadFull(sp.Conn, rest); err != nil {
		return nil, err
	}
	frame := append(head, rest...)
	if !checkCRC(frame) {
		return nil, ErrFrameCheck
	}
	return frame, nil
}

// ReadParam reads one table parameter over the service port, in
// engineering units
func (sp *ServicePort) ReadParam(p Param) (float64, error) {
	resp, err := sp.transact(buildRead(sp.Unit, RegisterFor(p)), 7)
	if err != nil {
		return 0, err
	}
	raw := binary.BigEndian.Uint16(resp[3:5])
	return p.FromRaw(int64(raw)), nil
}

// WriteParam writes one table parameter over the service port
func (sp *ServicePort) WriteParam(p Param, v float64) error {
	if err := p.Check(v); err != nil {
		return err
	}
	raw := uint16(p.Raw(v))
	resp, err := sp.transact(buildWrite(sp.Unit, RegisterFor(p), raw), 8)
	if err != nil {
		return err
	}
	echoed := binary.BigEndian.Uint16(resp[4:6])
	if echoed != raw {
		return fmt.Errorf("write echo mismatch: sent %d, echoed %d", raw, echoed)
	}
	return nil
}
