package main

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/gentam/flashwriter"
	"github.com/gentam/flashwriter/mmio"
	"github.com/gentam/flashwriter/sim"
)

// device is the flash controller selected on the command line, plus the
// optional programming-enable line.
type device struct {
	family *flashwriter.Family
	ctrl   flashwriter.Controller
	vpp    gpio.PinIO // nil when --vpp-pin is unset

	close func() error
}

var hostInitialized atomic.Bool

func initHost() error {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("host initialization failed: %w", err)
		}
	}
	return nil
}

func openDevice(g *Globals) (*device, error) {
	family, err := flashwriter.LookupFamily(g.Family)
	if err != nil {
		return nil, err
	}
	d := &device{family: family}

	switch {
	case g.Sim != "":
		c, err := sim.Open(g.Sim, family, g.SimSize)
		if err != nil {
			return nil, err
		}
		d.ctrl = c
		d.close = func() error { return c.Save(g.Sim) }
	case g.Mem:
		if err := initHost(); err != nil {
			return nil, err
		}
		c, err := mmio.Open(family)
		if err != nil {
			return nil, err
		}
		d.ctrl = c
		d.close = c.Close
	default:
		return nil, errors.New("select a device with --sim FILE or --mem")
	}

	if g.VppPin != "" {
		if err := initHost(); err != nil {
			d.Close()
			return nil, err
		}
		if d.vpp = gpioreg.ByName(g.VppPin); d.vpp == nil {
			d.Close()
			return nil, fmt.Errorf("unknown GPIO %q", g.VppPin)
		}
	}
	return d, nil
}

// Close releases the controller; a simulated device saves its flash.
func (d *device) Close() error {
	return d.close()
}

// EnableProgramming drives the programming-enable line high (or low). It is
// a no-op without --vpp-pin.
func (d *device) EnableProgramming(l gpio.Level) error {
	if d.vpp == nil {
		return nil
	}
	return d.vpp.Out(l)
}

// newWriter hands the controller to a Writer for [start, end]. The caller
// must give it back with d.release.
func (d *device) newWriter(g *Globals, start, end uint32, opts ...flashwriter.Option) (*flashwriter.Writer, error) {
	opts = append([]flashwriter.Option{
		flashwriter.WithMaxPolls(g.MaxPolls),
		flashwriter.WithLogger(glogLogger{}),
	}, opts...)
	w, err := flashwriter.New(d.family, start, end, d.ctrl, opts...)
	if err != nil {
		return nil, err
	}
	d.ctrl = nil
	return w, nil
}

func (d *device) release(w *flashwriter.Writer) {
	d.ctrl = w.Release()
}

// wholeFlash returns the inclusive address range of the entire flash.
func (d *device) wholeFlash() (start, end uint32, err error) {
	l := d.family.Layout(d.ctrl.SizeKB())
	if len(l) == 0 {
		return 0, 0, errors.New("flash size descriptor reads zero")
	}
	return l[0].Start, l[len(l)-1].End, nil
}
