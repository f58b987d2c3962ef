// Command csptune is the LC10E CSP tuning assistant.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/KlaKalma/Ma-CNC/advisor"
	"github.com/KlaKalma/Ma-CNC/ethercat"
	"github.com/KlaKalma/Ma-CNC/gcode"
	"github.com/KlaKalma/Ma-CNC/hal"
	"github.com/KlaKalma/Ma-CNC/lc10e"
	"github.com/KlaKalma/Ma-CNC/monitor"
	"github.com/KlaKalma/Ma-CNC/util"

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
	ConfigFileName = "csptune.yml"
	k              = koanf.New(".")
)

// AxisConfig names one axis and its joint/slave numbers
type AxisConfig struct {
	Name  string `koanf:"name" yaml:"name"`
	Joint int    `koanf:"joint" yaml:"joint"`
	Slave int    `koanf:"slave" yaml:"slave"`
}

// Config holds the machine description
type Config struct {
	// Bin is the path to the ethercat CLI
	Bin string `koanf:"bin" yaml:"bin"`

	// Sudo prepends sudo to CLI invocations
	Sudo bool `koanf:"sudo" yaml:"sudo"`

	// Axes are the tuned axes
	Axes []AxisConfig `koanf:"axes" yaml:"axes"`

	// GCodeDir is where generated programs are written
	GCodeDir string `koanf:"gcodeDir" yaml:"gcodeDir"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Bin:  ethercat.DefaultBin,
		Sudo: true,
		Axes: []AxisConfig{
			{Name: "x", Joint: 0, Slave: 0},
			{Name: "y", Joint: 1, Slave: 1}},
		GCodeDir: "."}, "koanf"), nil)
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
	str := `csptune tunes LC10E drives in CSP mode

Usage:
	csptune <command>

Commands:
	status               drive states and LinuxCNC session
	params [pos]         read the tuning parameter table from a drive
	profiles             list the canned tuning profiles
	apply <profile>      apply a profile to every configured drive
	recommend            key parameter guidance
	gcode                write the validation test program
	watch [seconds]      live following-error monitor
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `csptune is the parameter-side half of tuning: it reads and writes the
LC10E P-registers over SDO.  Use ferror and pidtune for the LinuxCNC side.

Profile application refuses to run while LinuxCNC is up.  The usual loop:
	1. csptune apply balanced
	2. start LinuxCNC, csptune gcode, run the program
	3. csptune watch, read the verdicts
	4. stop LinuxCNC, adjust with cncup sdo write, repeat`
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
	fmt.Printf("csptune version %v\n", Version)
}

func guard() lc10e.Guard {
	hw := hal.New()
	return func(ctx context.Context) bool {
		return hw.Running(ctx)
	}
}

func status() {
	c := loadConfig()
	t := ethercat.NewTool(c.Bin, c.Sudo)
	ctx := context.Background()
	slaves, err := t.Slaves(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, s := range slaves {
		fmt.Printf("slave %d: %s  %s\n", s.Position, s.State, s.Name)
	}
	if hal.New().Running(ctx) {
		fmt.Println("LinuxCNC: running (parameter writes are locked out)")
	} else {
		fmt.Println("LinuxCNC: down")
	}
}

func params(args []string) {
	pos := 0
	if len(args) > 0 {
		var err error
		pos, err = strconv.Atoi(args[0])
		if err != nil {
			log.Fatalf("bad slave position %q", args[0])
		}
	}
	c := loadConfig()
	t := ethercat.NewTool(c.Bin, c.Sudo)
	vals, err := lc10e.ReadAll(context.Background(), t, pos)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range lc10e.Params {
		fmt.Printf("%-7s %-16s %8g %-4s (default %g) %s\n",
			p.PCode, p.Key, vals[p.Key], p.Unit, p.Default, p.Name)
	}
}

func profiles() {
	for _, pr := range lc10e.Profiles {
		fmt.Printf("%s: %s\n  %s\n", pr.Key, pr.Name, pr.Description)
		for _, p := range lc10e.Params {
			if v, ok := pr.Values[p.Key]; ok {
				fmt.Printf("  %-7s %-16s %g %s\n", p.PCode, p.Key, v, p.Unit)
			}
		}
	}
}

func apply(args []string) {
	if len(args) < 1 {
		log.Fatal("usage: csptune apply <conservative|balanced|aggressive>")
	}
	pr, err := lc10e.ProfileByKey(args[0])
	if err != nil {
		log.Fatal(err)
	}
	c := loadConfig()
	t := ethercat.NewTool(c.Bin, c.Sudo)
	g := guard()
	for _, ax := range c.Axes {
		log.Printf("applying %s to axis %s (slave %d)", pr.Key, ax.Name, ax.Slave)
		if err := lc10e.ApplyProfile(context.Background(), t, ax.Slave, pr, g); err != nil {
			log.Fatal(err)
		}
	}
	log.Println("profile applied and verified")
}

func recommend() {
	for _, line := range advisor.Hints() {
		fmt.Println(line)
	}
}

func writeGcode() {
	c := loadConfig()
	path := c.GCodeDir + "/tuning-test.ngc"
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(gcode.ValidationProgram()); err != nil {
		log.Fatal(err)
	}
	log.Printf("validation program written to %s", path)
}

func watch(args []string) {
	c := loadConfig()
	axes := make([]monitor.Axis, len(c.Axes))
	for i, ax := range c.Axes {
		axes[i] = monitor.Axis{Name: ax.Name, Joint: ax.Joint}
	}
	m := monitor.New(hal.New(), axes, 50*time.Millisecond, 500)
	m.Out = os.Stdout
	m.Start()
	defer m.Stop()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)
	if len(args) > 0 {
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			log.Fatalf("bad duration %q", args[0])
		}
		select {
		case <-done:
		case <-time.After(util.SecsToDuration(secs)):
		}
	} else {
		<-done
	}
	fmt.Println()
	m.Report(os.Stdout, 0.050)
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
	case "status":
		status()
	case "params":
		params(args[2:])
	case "profiles":
		profiles()
	case "apply":
		apply(args[2:])
	case "recommend":
		recommend()
	case "gcode":
		writeGcode()
	case "watch":
		watch(args[2:])
	default:
		log.Fatal("unknown command")
	}
}
