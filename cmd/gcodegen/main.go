// Command gcodegen writes the tuning test programs.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/KlaKalma/Ma-CNC/gcode"

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
	ConfigFileName = "gcodegen.yml"
	k              = koanf.New(".")
)

// Config holds the generator defaults
type Config struct {
	// OutDir is where programs are written; "-" sends them to stdout
	OutDir string `koanf:"outDir" yaml:"outDir"`

	// Span is the X travel of function traces in mm
	Span float64 `koanf:"span" yaml:"span"`

	// Points is the number of G1 segments in a function trace
	Points int `koanf:"points" yaml:"points"`

	// Feed is the function-trace feed in mm/min
	Feed int `koanf:"feed" yaml:"feed"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		OutDir: ".",
		Span:   100,
		Points: 200,
		Feed:   1200}, "koanf"), nil)
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
	str := `gcodegen writes the tuning test programs

Usage:
	gcodegen <command>

Commands:
	function <waveform> [x0 x1 points feed]   trace y=f(x) along a waveform
	profile                                   speed-staircase with sine ramps
	validation                                fixed six-move checkout program
	list                                      available waveforms
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `The programs exercise the axes without cutting anything; run them in air
with ferror watch capturing.

function traces curves with direction reversals at every slope change,
which is where feedforward error shows.  profile sweeps feeds from 500
to 1500mm/min so the error-vs-speed relationship is visible.  validation
is the short acceptance program run after a parameter change.`
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
	fmt.Printf("gcodegen version %v\n", Version)
}

// emit writes program to OutDir/name, or stdout when OutDir is "-"
func emit(c Config, name, program string) {
	if c.OutDir == "-" {
		fmt.Print(program)
		return
	}
	path := c.OutDir + "/" + name
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(program); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s", path)
}

func list() {
	for _, w := range gcode.Waveforms() {
		fmt.Printf("%-12s %s\n", w.Name, w.Description)
	}
}

func function(args []string) {
	if len(args) < 1 {
		log.Fatal("usage: gcodegen function <waveform> [x0 x1 points feed]")
	}
	w, err := gcode.WaveformByName(args[0])
	if err != nil {
		log.Fatal(err)
	}
	c := loadConfig()
	x0, x1 := 0.0, c.Span
	n, feed := c.Points, c.Feed
	if len(args) >= 3 {
		if x0, err = strconv.ParseFloat(args[1], 64); err != nil {
			log.Fatalf("bad x0 %q", args[1])
		}
		if x1, err = strconv.ParseFloat(args[2], 64); err != nil {
			log.Fatalf("bad x1 %q", args[2])
		}
	}
	if len(args) >= 4 {
		if n, err = strconv.Atoi(args[3]); err != nil {
			log.Fatalf("bad point count %q", args[3])
		}
	}
	if len(args) >= 5 {
		if feed, err = strconv.Atoi(args[4]); err != nil {
			log.Fatalf("bad feed %q", args[4])
		}
	}
	emit(c, w.Name+".ngc", gcode.FunctionProgram(w, x0, x1, n, feed))
}

func profile() {
	c := loadConfig()
	emit(c, "speed-profile.ngc", gcode.DefaultSpeedProfile().Program())
}

func validation() {
	c := loadConfig()
	emit(c, "tuning-test.ngc", gcode.ValidationProgram())
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
	case "list":
		list()
	case "function":
		function(args[2:])
	case "profile":
		profile()
	case "validation":
		validation()
	default:
		log.Fatal("unknown command")
	}
}
