package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/golang/glog"

	"github.com/gentam/flashwriter"
)

// Globals are the flags shared by every command.
type Globals struct {
	Family   string `short:"f" default:"stm32l4" help:"Chip family (${families})."`
	Sim      string `xor:"backend" type:"path" placeholder:"FILE" help:"Simulate the device, keeping flash contents in FILE."`
	SimSize  uint16 `default:"256" help:"Flash size of the simulated device in KiB."`
	Mem      bool   `xor:"backend" help:"Drive the flash interface through /dev/mem."`
	MaxPolls int    `default:"${maxpolls}" help:"BSY reads before an operation times out."`
	VppPin   string `placeholder:"PIN" help:"GPIO driven high while flash is being modified (periph.io pin name)."`
	Verbose  int    `short:"v" type:"counter" help:"Log verbosity, repeat for more."`
}

type cli struct {
	Globals

	Info   infoCmd   `cmd:"" help:"Show family, flash size, bank layout and controller status."`
	Erase  eraseCmd  `cmd:"" help:"Erase a flash region."`
	Write  writeCmd  `cmd:"" help:"Program an image into a flash region."`
	Read   readCmd   `cmd:"" help:"Dump flash contents."`
	Verify verifyCmd `cmd:"" help:"Compare flash contents with an image."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("flashwriter"),
		kong.Description("Erase and program the internal flash of STM32 microcontrollers."),
		kong.UsageOnError(),
		kong.Vars{
			"families": strings.Join(flashwriter.FamilyNames(), ", "),
			"maxpolls": strconv.Itoa(flashwriter.DefaultMaxPolls),
		},
	)

	setupLogging(c.Verbose)
	defer glog.Flush()

	if err := ctx.Run(&c.Globals); err != nil {
		glog.Flush()
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "flashwriter %s: %v\n", ctx.Command(), err)
		os.Exit(1)
	}
}

// setupLogging points glog at stderr. glog only reads its settings from the
// standard flag set, which kong does not use.
func setupLogging(verbosity int) {
	flag.Set("logtostderr", "true")
	flag.Set("v", strconv.Itoa(verbosity))
	flag.CommandLine.Parse(nil)
}

// glogLogger adapts glog to flashwriter.Logger.
type glogLogger struct{}

func (glogLogger) Debug(msg string, kv ...any) {
	if glog.V(2) {
		glog.InfoDepth(1, msg+formatKV(kv))
	}
}

func (glogLogger) Info(msg string, kv ...any) {
	if glog.V(1) {
		glog.InfoDepth(1, msg+formatKV(kv))
	}
}

func (glogLogger) Error(msg string, kv ...any) {
	glog.ErrorDepth(1, msg+formatKV(kv))
}

func formatKV(kv []any) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		switch v := kv[i+1].(type) {
		case uint32:
			fmt.Fprintf(&b, " %v=%#010x", kv[i], v)
		default:
			fmt.Fprintf(&b, " %v=%v", kv[i], v)
		}
	}
	return b.String()
}

// address is a flag value accepting decimal, 0x hex or 0 octal notation.
type address uint32

func (a *address) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 32)
	if err != nil {
		return fmt.Errorf("invalid address %q", text)
	}
	*a = address(v)
	return nil
}
