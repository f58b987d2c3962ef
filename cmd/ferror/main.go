// Command ferror diagnoses and monitors following error.
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
	"github.com/KlaKalma/Ma-CNC/diagnose"
	"github.com/KlaKalma/Ma-CNC/ethercat"
	"github.com/KlaKalma/Ma-CNC/hal"
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
	ConfigFileName = "ferror.yml"
	k              = koanf.New(".")
)

// AxisConfig names one axis and its joint/slave numbers
type AxisConfig struct {
	Name  string `koanf:"name" yaml:"name"`
	Joint int    `koanf:"joint" yaml:"joint"`
	Slave int    `koanf:"slave" yaml:"slave"`
}

// Config holds the machine description and analysis settings
type Config struct {
	// Bin is the path to the ethercat CLI
	Bin string `koanf:"bin" yaml:"bin"`

	// Sudo prepends sudo to CLI invocations
	Sudo bool `koanf:"sudo" yaml:"sudo"`

	// Axes are the monitored axes
	Axes []AxisConfig `koanf:"axes" yaml:"axes"`

	// Scale is drive counts per mm
	Scale float64 `koanf:"scale" yaml:"scale"`

	// TargetUm is the tracking error goal in µm
	TargetUm float64 `koanf:"targetUm" yaml:"targetUm"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Bin:  ethercat.DefaultBin,
		Sudo: true,
		Axes: []AxisConfig{
			{Name: "x", Joint: 0, Slave: 0},
			{Name: "y", Joint: 1, Slave: 1}},
		Scale:    26214.4,
		TargetUm: advisor.DefaultTargetUm}, "koanf"), nil)
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
	str := `ferror explains where following error comes from

Usage:
	ferror <command>

Commands:
	diagnose [axis]     one-shot diagnosis: feedforward, timing, delay, ratio
	watch [seconds]     live monitor with max and asymmetry summary
	advise [seconds]    rolling analysis with tuning recommendations
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `diagnose wants the axis moving at constant speed (a long G1) so the
error-to-velocity ratio means something; run it mid-move.

advise samples at 100Hz and re-analyzes every half second against the
configured target (default 20µm).  Recommendations name LC10E P-registers;
apply them with cncup sdo write while LinuxCNC is down.`
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
	fmt.Printf("ferror version %v\n", Version)
}

func axisByName(c Config, name string) AxisConfig {
	for _, ax := range c.Axes {
		if ax.Name == name {
			return ax
		}
	}
	log.Fatalf("no axis named %q in config", name)
	return AxisConfig{}
}

func runDiagnose(args []string) {
	c := loadConfig()
	ax := c.Axes[0]
	if len(args) > 0 {
		ax = axisByName(c, args[0])
	}
	dc := diagnose.DefaultConfig(ax.Joint)
	dc.Slave = ax.Slave
	dc.Scale = c.Scale
	t := ethercat.NewTool(c.Bin, c.Sudo)
	if err := diagnose.Report(context.Background(), os.Stdout, hal.New(), t, dc); err != nil {
		log.Fatal(err)
	}
}

func buildMonitor(c Config, tick time.Duration) *monitor.Monitor {
	axes := make([]monitor.Axis, len(c.Axes))
	for i, ax := range c.Axes {
		axes[i] = monitor.Axis{Name: ax.Name, Joint: ax.Joint}
	}
	return monitor.New(hal.New(), axes, tick, 500)
}

func waitOrTimeout(args []string) {
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
		return
	}
	<-done
}

func watch(args []string) {
	c := loadConfig()
	m := buildMonitor(c, 50*time.Millisecond)
	m.Out = os.Stdout
	m.Start()
	defer m.Stop()
	waitOrTimeout(args)
	fmt.Println()
	m.Report(os.Stdout, 0.050)
}

func advise(args []string) {
	c := loadConfig()
	hw := hal.New()
	if !hw.Running(context.Background()) {
		log.Fatal("LinuxCNC is not running; start it and enable the machine")
	}
	m := buildMonitor(c, 10*time.Millisecond)
	m.Start()
	defer m.Stop()

	ad := advisor.Advisor{TargetUm: c.TargetUm}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)
	var timeout <-chan time.Time
	if len(args) > 0 {
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			log.Fatalf("bad duration %q", args[0])
		}
		timeout = time.After(util.SecsToDuration(secs))
	}
	for {
		select {
		case <-ticker.C:
			summ := m.Summary()
			var analyses []advisor.NamedAnalysis
			moving := false
			for _, ax := range c.Axes {
				errs := m.Errors(ax.Name)
				vels := m.Velocities(ax.Name)
				for _, v := range vels {
					if v > 0.1 || v < -0.1 {
						moving = true
					}
				}
				if a, ok := advisor.Analyze(errs); ok {
					analyses = append(analyses, advisor.NamedAnalysis{Name: ax.Name, Analysis: a})
				}
				st := summ[ax.Name]
				fmt.Printf("%s: max %.1fµm over %d samples\n", ax.Name, st.Max*1000, st.Samples)
			}
			for _, rec := range ad.Recommend(analyses, moving) {
				fmt.Println("  " + rec)
			}
			fmt.Println()
		case <-done:
			return
		case <-timeout:
			return
		}
	}
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
	case "diagnose":
		runDiagnose(args[2:])
	case "watch":
		watch(args[2:])
	case "advise":
		advise(args[2:])
	default:
		log.Fatal("unknown command")
	}
}
