package lc10e

import "fmt"

// Profile is a coherent set of parameter values for one tuning posture
type Profile struct {
	Key         string             `json:"key"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Values      map[string]float64 `json:"values"`
}

// Profiles are the canned tuning postures, mildest first
var Profiles = []Profile{
	{
		Key:         "conservative",
		Name:        "Conservative (anti-vibration)",
		Description: "low gains, high stability, larger tracking error",
		Values: map[string]float64{
			"speed_kp":       25,
			"speed_ti":       50,
			"pos_kp":         25,
			"vel_ff_gain":    70,
			"torque_ff_gain": 10,
			"inertia_ratio":  2,
		},
	},
	{
		Key:         "balanced",
		Name:        "Balanced",
		Description: "good compromise between response and stability",
		Values: map[string]float64{
			"speed_kp":       40,
			"speed_ti":       35,
			"pos_kp":         35,
			"vel_ff_gain":    85,
			"torque_ff_gain": 25,
			"inertia_ratio":  2,
		},
	},
	{
		Key:         "aggressive",
		Name:        "Aggressive (high performance)",
		Description: "high gains, low tracking error, vibration risk",
		Values: map[string]float64{
			"speed_kp":       60,
			"speed_ti":       25,
			"pos_kp":         50,
			"vel_ff_gain":    95,
			"torque_ff_gain": 40,
			"inertia_ratio":  2,
		},
	},
}

// ProfileByKey finds a canned profile
func ProfileByKey(key string) (Profile, error) {
	for _, p := range Profiles {
		if p.Key == key {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("no tuning profile named %q", key)
}

// Validate checks every profile value against the parameter table
func (pr Profile) Validate() error {
	for key, v := range pr.Values {
		p, err := ParamByKey(key)
		if err != nil {
			return err
		}
		if err := p.Check(v); err != nil {
			return err
		}
	}
	return nil
}
