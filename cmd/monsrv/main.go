// Command monsrv serves the following-error monitor and bus status over HTTP.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/KlaKalma/Ma-CNC/ethercat"
	"github.com/KlaKalma/Ma-CNC/hal"
	"github.com/KlaKalma/Ma-CNC/monitor"
	"github.com/KlaKalma/Ma-CNC/server"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"goji.io"
	"goji.io/pat"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "monsrv.yml"
	k              = koanf.New(".")
)

// AxisConfig names one axis and its joint number
type AxisConfig struct {
	Name  string `koanf:"name" yaml:"name"`
	Joint int    `koanf:"joint" yaml:"joint"`
}

// Config holds the server and sampler settings
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"addr"`

	// Bin is the path to the ethercat CLI
	Bin string `koanf:"bin" yaml:"bin"`

	// Sudo prepends sudo to CLI invocations
	Sudo bool `koanf:"sudo" yaml:"sudo"`

	// Axes are the monitored axes
	Axes []AxisConfig `koanf:"axes" yaml:"axes"`

	// TickMs is the sampling period in milliseconds
	TickMs int `koanf:"tickMs" yaml:"tickMs"`

	// Capacity is the ring buffer depth per axis
	Capacity int `koanf:"capacity" yaml:"capacity"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr: ":8000",
		Bin:  ethercat.DefaultBin,
		Sudo: true,
		Axes: []AxisConfig{
			{Name: "x", Joint: 0},
			{Name: "y", Joint: 1}},
		TickMs:   100,
		Capacity: 600}, "koanf"), nil)
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
	// deployments override the listen address through the environment
	if addr := os.Getenv("MONSRV_ADDR"); addr != "" {
		c.Addr = addr
	}
	return c
}

func root() {
	str := `monsrv exposes the following-error monitor and EtherCAT bus over HTTP
This enables dashboards and scripts to watch a tuning session without
touching halcmd themselves.

Usage:
	monsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `monsrv is amenable to configuration via its .yaml file.  A .env file in
the working directory may set MONSRV_ADDR to override the listen address.

Routes are grouped by subsystem:
	/monitor/*   captured f-error buffers, summaries, the live line
	/hal/*       LinuxCNC session and pin reads
	/ethercat/*  slave states, SDO reads, state requests
	/endpoints   the full route listing as JSON

The monitor endpoints are read-only; parameter writes stay with the
cncup and csptune CLIs, which hold the safety interlocks.`
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
	fmt.Printf("monsrv version %v\n", Version)
}

// buildMux assembles the goji root mux with one submount per subsystem
// and a route-listing endpoint
func buildMux(c Config) (*goji.Mux, *monitor.Monitor) {
	hw := hal.New()
	tool := ethercat.NewTool(c.Bin, c.Sudo)
	axes := make([]monitor.Axis, len(c.Axes))
	for i, ax := range c.Axes {
		axes[i] = monitor.Axis{Name: ax.Name, Joint: ax.Joint}
	}
	mon := monitor.New(hw, axes, time.Duration(c.TickMs)*time.Millisecond, c.Capacity)

	mux := goji.NewMux()
	supergraph := map[string][]string{}
	mounts := []struct {
		stem   string
		httper server.HTTPer
	}{
		{"/monitor", monitor.NewHTTPWrapper(mon)},
		{"/hal", hal.NewHTTPWrapper(hw)},
		{"/ethercat", ethercat.NewHTTPWrapper(tool)},
	}
	for _, m := range mounts {
		supergraph[m.stem] = m.httper.RT().Endpoints()
		mux.Handle(pat.New(m.stem+"/*"), http.StripPrefix(m.stem, server.Router(m.httper)))
	}
	mux.HandleFunc(pat.Get("/endpoints"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(supergraph); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux, mon
}

func run() {
	c := loadConfig()
	mux, mon := buildMux(c)
	mon.Start()
	defer mon.Stop()
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("could not load .env: %v", err)
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
	case "run":
		run()
	default:
		log.Fatal("unknown command")
	}
}
