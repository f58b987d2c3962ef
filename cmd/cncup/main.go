// Command cncup brings the EtherCAT bus to OP and manages drive parameters.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/KlaKalma/Ma-CNC/bringup"
	"github.com/KlaKalma/Ma-CNC/cia402"
	"github.com/KlaKalma/Ma-CNC/ethercat"
	"github.com/KlaKalma/Ma-CNC/hal"
	"github.com/KlaKalma/Ma-CNC/lc10e"

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
	ConfigFileName = "cncup.yml"
	k              = koanf.New(".")
)

// Config holds the bus and retry settings
type Config struct {
	// Bin is the path to the ethercat CLI
	Bin string `koanf:"bin" yaml:"bin"`

	// Sudo prepends sudo to CLI invocations
	Sudo bool `koanf:"sudo" yaml:"sudo"`

	// Attempts is the poll budget per AL transition
	Attempts int `koanf:"attempts" yaml:"attempts"`

	// DelayMs is the poll interval in milliseconds
	DelayMs int `koanf:"delayMs" yaml:"delayMs"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Bin:      ethercat.DefaultBin,
		Sudo:     true,
		Attempts: 10,
		DelayMs:  500}, "koanf"), nil)
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
	str := `cncup brings the EtherCAT bus up to OP and manages LC10E drive parameters

Usage:
	cncup <command>

Commands:
	up                          walk every slave to OP
	status                      master and slave states
	drive <pos>                 decoded CIA402 statusword and fault code
	sdo read <pos> <pcode>      read a parameter, e.g. sdo read 0 P08-19
	sdo write <pos> <pcode> <v> write a parameter with readback verify
	backup <pos> <file>         dump all parameters to a checksummed file
	restore <pos> <file>        write a verified backup back to the drive
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `cncup shells out to the IgH ethercat CLI; the master kernel modules must
be loaded first (ethercatctl start).

Parameter writes are refused while a LinuxCNC realtime session is up:
acyclic SDO traffic races the cyclic exchange.  Shut LinuxCNC down before
sdo write, restore, or profile application.

Configuration lives in cncup.yml (see mkconf):
	bin:      path to the ethercat binary
	sudo:     prepend sudo (needed on most installs)
	attempts: polls per AL transition before giving up
	delayMs:  interval between polls`
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
	fmt.Printf("cncup version %v\n", Version)
}

func tool() *ethercat.Tool {
	c := loadConfig()
	return ethercat.NewTool(c.Bin, c.Sudo)
}

// guard refuses parameter writes while LinuxCNC holds the drives
func guard() lc10e.Guard {
	hw := hal.New()
	return func(ctx context.Context) bool {
		return hw.Running(ctx)
	}
}

func up() {
	c := loadConfig()
	seq := bringup.New(ethercat.NewTool(c.Bin, c.Sudo))
	seq.Attempts = uint64(c.Attempts)
	seq.Delay = time.Duration(c.DelayMs) * time.Millisecond
	if err := seq.Up(context.Background()); err != nil {
		log.Fatal(err)
	}
	log.Println("all slaves operational")
}

func status() {
	t := tool()
	ctx := context.Background()
	mi, err := t.Master(ctx)
	if err != nil {
		log.Fatal(err)
	}
	link := "DOWN"
	if mi.LinkUp {
		link = "UP"
	}
	fmt.Printf("master: phase %s, link %s, %d slaves\n", mi.Phase, link, mi.SlaveCount)
	slaves, err := t.Slaves(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, s := range slaves {
		flag := ""
		if s.Flagged {
			flag = "  ERROR FLAG"
		}
		fmt.Printf("slave %d (%s): %s  %s%s\n", s.Position, s.BusAddr, s.State, s.Name, flag)
	}
}

func drive(args []string) {
	if len(args) < 1 {
		log.Fatal("usage: cncup drive <pos>")
	}
	pos, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatalf("bad slave position %q", args[0])
	}
	t := tool()
	ctx := context.Background()
	sw, err := t.Upload(ctx, pos, cia402.Statusword, 0, "uint16")
	if err != nil {
		log.Fatal(err)
	}
	st := cia402.DecodeStatusword(uint16(sw))
	fmt.Printf("slave %d: %s (statusword 0x%04X)\n", pos, st.State, uint16(sw))
	if st.Warning {
		fmt.Println("  warning bit set")
	}
	if st.InternalLimit {
		fmt.Println("  internal limit active")
	}
	if st.FollowingError {
		fmt.Println("  following error bit set")
	}
	if !st.Enabled() {
		code, err := t.Upload(ctx, pos, cia402.ErrorCode, 0, "uint16")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("  error code 0x%04X: %s\n", uint16(code), cia402.FaultText(uint16(code)))
	}
}

func sdo(args []string) {
	if len(args) < 3 {
		log.Fatal("usage: cncup sdo read <pos> <pcode> | sdo write <pos> <pcode> <value>")
	}
	pos, err := strconv.Atoi(args[1])
	if err != nil {
		log.Fatalf("bad slave position %q", args[1])
	}
	p, err := lc10e.ParamByPCode(strings.ToUpper(args[2]))
	if err != nil {
		log.Fatal(err)
	}
	t := tool()
	ctx := context.Background()
	switch args[0] {
	case "read":
		v, err := lc10e.ReadParam(ctx, t, pos, p)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s %s = %g %s (%s)\n", p.PCode, p.Key, v, p.Unit, p.Name)
	case "write":
		if len(args) < 4 {
			log.Fatal("usage: cncup sdo write <pos> <pcode> <value>")
		}
		v, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			log.Fatalf("bad value %q", args[3])
		}
		if err := lc10e.WriteParam(ctx, t, pos, p, v, guard()); err != nil {
			log.Fatal(err)
		}
		log.Printf("%s = %g %s, verified", p.PCode, v, p.Unit)
	default:
		log.Fatalf("unknown sdo subcommand %q", args[0])
	}
}

func backup(args []string) {
	if len(args) < 2 {
		log.Fatal("usage: cncup backup <pos> <file>")
	}
	pos, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatalf("bad slave position %q", args[0])
	}
	f, err := os.Create(args[1])
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := lc10e.Backup(context.Background(), tool(), pos, f); err != nil {
		log.Fatal(err)
	}
	log.Printf("backup of slave %d written to %s", pos, args[1])
}

func restore(args []string) {
	if len(args) < 2 {
		log.Fatal("usage: cncup restore <pos> <file>")
	}
	pos, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatalf("bad slave position %q", args[0])
	}
	f, err := os.Open(args[1])
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := lc10e.Restore(context.Background(), tool(), pos, f, guard()); err != nil {
		log.Fatal(err)
	}
	log.Printf("slave %d restored from %s", pos, args[1])
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
	case "up":
		up()
	case "status":
		status()
	case "drive":
		drive(args[2:])
	case "sdo":
		sdo(args[2:])
	case "backup":
		backup(args[2:])
	case "restore":
		restore(args[2:])
	default:
		log.Fatal("unknown command")
	}
}
