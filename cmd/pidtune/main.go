// Command pidtune manages the LinuxCNC software PID gains for CSV mode.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/KlaKalma/Ma-CNC/hal"
	"github.com/KlaKalma/Ma-CNC/linuxcnc"
	"github.com/KlaKalma/Ma-CNC/pid"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "pidtune.yml"
	k              = koanf.New(".")
)

// Config holds the axes and optimizer settings
type Config struct {
	// Axes carry a pid component instance each
	Axes []string `koanf:"axes" yaml:"axes"`

	// RshAddr is the linuxcncrsh address for optimizer test moves
	RshAddr string `koanf:"rshAddr" yaml:"rshAddr"`

	// SaveFile is where tuned gains are written
	SaveFile string `koanf:"saveFile" yaml:"saveFile"`

	// MaxMoves bounds the optimizer's physical test moves
	MaxMoves int `koanf:"maxMoves" yaml:"maxMoves"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Axes:     []string{"x", "y"},
		RshAddr:  linuxcnc.DefaultAddr,
		SaveFile: "pid_tuning.hal",
		MaxMoves: 60}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadConfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `pidtune manages the LinuxCNC pid.{axis}.* gains

Usage:
	pidtune <command>

Commands:
	show                   current gains per axis
	set <gain> <value>     write one gain to every axis (P, I, D, FF1, FF2)
	step <gain> <+|->      nudge a gain by its standard step
	zero                   zero every gain (bail-out)
	save [rms]             write gains to the setp file
	optimize               nelder-mead search with physical test moves
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `These gains only matter in CSV mode, where LinuxCNC closes the position
loop.  In CSP mode the drive closes the loop and pidtune is a no-op.

optimize drives real 15mm round trips through linuxcncrsh; the machine
must be homed with clear travel.  Every candidate gain set is clamped to
safe bounds before it is applied.  The winner is left on the machine and
should be persisted with save.`
	fmt.Println(str)
}

func mkconf() {
	c := loadConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yml.NewEncoder(f).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadConfig()
	if err := yml.NewEncoder(os.Stdout).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("pidtune version %v\n", Version)
}

func show() {
	c := loadConfig()
	hw := hal.New()
	for _, axis := range c.Axes {
		g, err := pid.Read(context.Background(), hw, axis)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s: P=%g I=%g D=%g FF1=%g FF2=%g\n", axis, g.P, g.I, g.D, g.FF1, g.FF2)
	}
}

// adjust applies fn to the named gain of the current gains and writes the
// result to every axis
func adjust(name string, fn func(g *pid.Gains)) {
	c := loadConfig()
	hw := hal.New()
	ctx := context.Background()
	g, err := pid.Read(ctx, hw, c.Axes[0])
	if err != nil {
		log.Fatal(err)
	}
	fn(&g)
	g = g.Clamp()
	if err := pid.Apply(ctx, hw, c.Axes, g); err != nil {
		log.Fatal(err)
	}
	log.Printf("applied: P=%g I=%g D=%g FF1=%g FF2=%g", g.P, g.I, g.D, g.FF1, g.FF2)
}

func gainField(g *pid.Gains, name string) *float64 {
	switch strings.ToUpper(name) {
	case "P":
		return &g.P
	case "I":
		return &g.I
	case "D":
		return &g.D
	case "FF1":
		return &g.FF1
	case "FF2":
		return &g.FF2
	}
	log.Fatalf("unknown gain %q, have P, I, D, FF1, FF2", name)
	return nil
}

func set(args []string) {
	if len(args) < 2 {
		log.Fatal("usage: pidtune set <gain> <value>")
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		log.Fatalf("bad value %q", args[1])
	}
	adjust(args[0], func(g *pid.Gains) {
		*gainField(g, args[0]) = v
	})
}

func step(args []string) {
	if len(args) < 2 || (args[1] != "+" && args[1] != "-") {
		log.Fatal("usage: pidtune step <gain> <+|->")
	}
	adjust(args[0], func(g *pid.Gains) {
		delta := *gainField(&pid.Steps, args[0])
		if args[1] == "-" {
			delta = -delta
		}
		*gainField(g, args[0]) += delta
	})
}

func zero() {
	c := loadConfig()
	if err := pid.ZeroAll(context.Background(), hal.New(), c.Axes); err != nil {
		log.Fatal(err)
	}
	log.Println("all gains zeroed")
}

func save(args []string) {
	c := loadConfig()
	rms := 0.0
	if len(args) > 0 {
		var err error
		rms, err = strconv.ParseFloat(args[0], 64)
		if err != nil {
			log.Fatalf("bad rms %q", args[0])
		}
	}
	g, err := pid.Read(context.Background(), hal.New(), c.Axes[0])
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(c.SaveFile)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := pid.SaveHAL(f, c.Axes, g, rms); err != nil {
		log.Fatal(err)
	}
	log.Printf("gains written to %s", c.SaveFile)
}

func optimize() {
	c := loadConfig()
	hw := hal.New()
	ctx := context.Background()
	cnc := linuxcnc.New(c.RshAddr)
	if err := cnc.Connect(); err != nil {
		log.Fatal(err)
	}
	defer cnc.Close()
	if err := cnc.EStop(false); err != nil {
		log.Fatal(err)
	}
	if err := cnc.MachineOn(); err != nil {
		log.Fatal(err)
	}
	if err := cnc.ModeMDI(); err != nil {
		log.Fatal(err)
	}
	start, err := pid.Read(ctx, hw, c.Axes[0])
	if err != nil {
		log.Fatal(err)
	}
	o := pid.NewOptimizer(hw, c.Axes, pid.NewMDIMover(cnc, hw, c.Axes))
	o.MaxEvaluations = c.MaxMoves
	best, score, err := o.Run(ctx, start)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("best: P=%.1f I=%.1f D=%.4f FF1=%.3f FF2=%.5f at RMS %.1fum",
		best.P, best.I, best.D, best.FF1, best.FF2, score)
	f, err := os.Create(c.SaveFile)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := pid.SaveHAL(f, c.Axes, best, score); err != nil {
		log.Fatal(err)
	}
	log.Printf("gains written to %s", c.SaveFile)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	switch strings.ToLower(args[1]) {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		pversion()
	case "show":
		show()
	case "set":
		set(args[2:])
	case "step":
		step(args[2:])
	case "zero":
		zero()
	case "save":
		save(args[2:])
	case "optimize":
		optimize()
	default:
		log.Fatal("unknown command")
	}
}
