/*Package lc10e contains the host-side knowledge for Lichuan LC10E servo
drives: the tuning parameter map, canned tuning profiles, parameter backup,
and access to the P-register space over EtherCAT SDO or the RS485 service
port.

The drive's control loops, CSP interpolation, and fault handling all run in
the drive firmware.  Everything here is acyclic configuration traffic.
*/
package lc10e

import (
	"errors"
	"fmt"
	"math"
)

// VendorParamBase is the object index for parameter group P08; group Pxx
// lives at 0x2000+xx, subindex offset+1
const VendorParamBase = 0x2000

var (
	// ErrUnknownParam is generated when a key or pcode has no table entry
	ErrUnknownParam = errors.New("parameter not in LC10E table")

	// ErrOutOfRange is generated when a value violates the table bounds
	ErrOutOfRange = errors.New("value outside parameter range")
)

// Param describes one tunable drive parameter
type Param struct {
	// Key is the short name used in profiles and CLI flags
	Key string `json:"key"`

	// PCode is the panel code, e.g. P08-19
	PCode string `json:"pcode"`

	// Index and Sub address the parameter in the object dictionary
	Index uint16 `json:"index"`
	Sub   uint8  `json:"sub"`

	// Name is the manual's parameter name
	Name string `json:"name"`

	// Unit is the engineering unit of the scaled value
	Unit string `json:"unit"`

	// Min, Max, Default are in engineering units
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`

	// Scale is raw counts per engineering unit
	Scale float64 `json:"scale"`

	// Description is the tuning note shown to the operator
	Description string `json:"description"`
}

// Raw converts an engineering value to the drive's integer representation
func (p Param) Raw(v float64) int64 {
	return int64(math.Round(v * p.Scale))
}

// FromRaw converts a drive integer to engineering units
func (p Param) FromRaw(raw int64) float64 {
	return float64(raw) / p.Scale
}

// Check validates v against the parameter bounds
func (p Param) Check(v float64) error {
	if v < p.Min || v > p.Max {
		return fmt.Errorf("%w: %s=%g, range %g..%g %s", ErrOutOfRange, p.Key, v, p.Min, p.Max, p.Unit)
	}
	return nil
}

// Params is the table of CSP-relevant parameters, ordered as the manual
// lists them
var Params = []Param{
	{
		Key: "speed_kp", PCode: "P08-00", Index: 0x2008, Sub: 0x01,
		Name: "Speed Loop Gain", Unit: "Hz",
		Min: 0.1, Max: 2000, Default: 25, Scale: 10,
		Description: "speed loop proportional gain; higher tracks tighter but risks vibration",
	},
	{
		Key: "speed_ti", PCode: "P08-01", Index: 0x2008, Sub: 0x02,
		Name: "Speed Loop Integral Time", Unit: "ms",
		Min: 0.15, Max: 512, Default: 31.83, Scale: 100,
		Description: "speed loop integral time; raise for stability, lower for less static error",
	},
	{
		Key: "pos_kp", PCode: "P08-02", Index: 0x2008, Sub: 0x03,
		Name: "Position Loop Gain", Unit: "1/s",
		Min: 0, Max: 2000, Default: 40, Scale: 10,
		Description: "position loop gain; higher tracks the command tighter",
	},
	{
		Key: "inertia_ratio", PCode: "P08-15", Index: 0x2008, Sub: 0x10,
		Name: "Load Inertia Ratio", Unit: "x",
		Min: 0, Max: 120, Default: 2, Scale: 100,
		Description: "load/motor inertia ratio; decisive for stability",
	},
	{
		Key: "vel_ff_filter", PCode: "P08-18", Index: 0x2008, Sub: 0x13,
		Name: "Velocity FF Filter", Unit: "ms",
		Min: 0, Max: 64, Default: 0.5, Scale: 100,
		Description: "velocity feedforward low-pass time constant",
	},
	{
		Key: "vel_ff_gain", PCode: "P08-19", Index: 0x2008, Sub: 0x14,
		Name: "Velocity Feedforward Gain", Unit: "%",
		Min: 0, Max: 100, Default: 0, Scale: 1,
		Description: "critical in CSP; 70-100% recommended to cut tracking error",
	},
	{
		Key: "torque_ff_filter", PCode: "P08-20", Index: 0x2008, Sub: 0x15,
		Name: "Torque FF Filter", Unit: "ms",
		Min: 0, Max: 64, Default: 0.5, Scale: 100,
		Description: "torque feedforward low-pass time constant",
	},
	{
		Key: "torque_ff_gain", PCode: "P08-21", Index: 0x2008, Sub: 0x16,
		Name: "Torque Feedforward Gain", Unit: "%",
		Min: 0, Max: 200, Default: 0, Scale: 1,
		Description: "helps with inertial loads",
	},
	{
		Key: "rigidity", PCode: "P09-01", Index: 0x2009, Sub: 0x02,
		Name: "Rigidity Grade", Unit: "",
		Min: 0, Max: 31, Default: 12, Scale: 1,
		Description: "rigidity class, 0 soft to 31 stiff",
	},
}

// ParamByKey finds a table entry by its short key
func ParamByKey(key string) (Param, error) {
	for _, p := range Params {
		if p.Key == key {
			return p, nil
		}
	}
	return Param{}, fmt.Errorf("%w: %s", ErrUnknownParam, key)
}

// ParamByPCode finds a table entry by its panel code
func ParamByPCode(pcode string) (Param, error) {
	for _, p := range Params {
		if p.PCode == pcode {
			return p, nil
		}
	}
	return Param{}, fmt.Errorf("%w: %s", ErrUnknownParam, pcode)
}
