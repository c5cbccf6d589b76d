//go:build linux

// Package mmio drives the flash interface through its memory-mapped
// registers, mapped from /dev/mem.
//
// Every erase and program command is issued, and BSY polled, from this
// process's own memory. The process's pages are locked resident with
// mlockall so none of that code or data is ever fetched from backing store
// while the flash controller is busy.
package mmio

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"periph.io/x/host/v3/pmem"

	"github.com/gentam/flashwriter"
)

const regBlockSize = 0x400

// Controller is a flashwriter.Controller over real registers.
type Controller struct {
	family *flashwriter.Family
	sizeKB uint16

	regs  *pmem.View // flash interface registers
	flash *pmem.View // flash array
}

var _ flashwriter.Controller = (*Controller)(nil)

// Open maps the flash interface registers and the flash array of family.
// The caller must have initialized periph.io (host.Init) and have access to
// /dev/mem. Close releases the mappings.
func Open(family *flashwriter.Family) (_ *Controller, err error) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return nil, errors.Wrap(err, "mlockall")
	}
	c := &Controller{family: family}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	desc, err := pmem.Map(uint64(family.SizeDescriptor), 2)
	if err != nil {
		return nil, errors.Wrapf(err, "map flash size descriptor at %#010x", family.SizeDescriptor)
	}
	c.sizeKB = binary.LittleEndian.Uint16(desc.Slice)
	if err := desc.Close(); err != nil {
		return nil, err
	}

	if c.regs, err = pmem.Map(uint64(family.Regs.Base), regBlockSize); err != nil {
		return nil, errors.Wrapf(err, "map flash registers at %#010x", family.Regs.Base)
	}
	if c.flash, err = pmem.Map(uint64(family.Base), int(c.sizeKB)<<10); err != nil {
		return nil, errors.Wrapf(err, "map %d KiB flash at %#010x", c.sizeKB, family.Base)
	}
	return c, nil
}

// Close unmaps the registers and the flash array.
func (c *Controller) Close() error {
	var firstErr error
	for _, v := range []*pmem.View{c.flash, c.regs} {
		if v == nil {
			continue
		}
		if err := v.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.flash, c.regs = nil, nil
	if err := unix.Munlockall(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Controller) reg(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&c.regs.Slice[off]))
}

func (c *Controller) read(off uint32) uint32     { return atomic.LoadUint32(c.reg(off)) }
func (c *Controller) write(off uint32, v uint32) { atomic.StoreUint32(c.reg(off), v) }

func (c *Controller) modifyCR(clear, set uint32) {
	cr := c.family.Regs.CR
	c.write(cr, c.read(cr)&^clear|set)
}

func (c *Controller) setCR(bit uint32, on bool) {
	if on {
		c.modifyCR(0, bit)
	} else {
		c.modifyCR(bit, 0)
	}
}

func (c *Controller) Busy() bool { return c.Status()&c.family.BusyMask != 0 }

func (c *Controller) Status() uint32 { return c.read(c.family.Regs.SR) }

// ClearStatus writes mask to FLASH_SR; the error and EOP flags are cleared
// by writing one.
func (c *Controller) ClearStatus(mask uint32) { c.write(c.family.Regs.SR, mask) }

func (c *Controller) Locked() bool {
	return c.read(c.family.Regs.CR)&c.family.Regs.CRLock != 0
}

func (c *Controller) Lock() { c.modifyCR(0, c.family.Regs.CRLock) }

func (c *Controller) WriteKey(key uint32) { c.write(c.family.Regs.KEYR, key) }

func (c *Controller) EnableEOPInterrupt() { c.modifyCR(0, c.family.Regs.CREOPIE) }

func (c *Controller) SetPageErase(on bool) { c.setCR(c.family.Regs.CRPageErase, on) }

func (c *Controller) SelectBank(bank int) {
	if c.family.Regs.CRBank == 0 {
		return
	}
	c.setCR(c.family.Regs.CRBank, bank != 0)
}

func (c *Controller) SetPage(page uint32) {
	r := c.family.Regs
	if c.family.Addressing == flashwriter.AddressRegister {
		c.write(r.AR, page)
		return
	}
	c.modifyCR(r.PNBMask<<r.PNBShift, (page&r.PNBMask)<<r.PNBShift)
}

func (c *Controller) Start() { c.modifyCR(0, c.family.Regs.CRStart) }

func (c *Controller) SetProgram(on bool) { c.setCR(c.family.Regs.CRProgram, on) }

// Store writes chunk to flash. Double-words are written as two words, low
// address first [RM0351|3.3.7].
func (c *Controller) Store(addr uint32, chunk uint64, width int) {
	p := unsafe.Pointer(&c.flash.Slice[addr-c.family.Base])
	switch width {
	case 2:
		*(*uint16)(p) = uint16(chunk)
	case 4:
		atomic.StoreUint32((*uint32)(p), uint32(chunk))
	default:
		atomic.StoreUint32((*uint32)(p), uint32(chunk))
		atomic.StoreUint32((*uint32)(unsafe.Add(p, 4)), uint32(chunk>>32))
	}
}

// Load copies from the mapped flash array. Bytes outside it read as zero.
func (c *Controller) Load(addr uint32, p []byte) {
	clear(p)
	if addr < c.family.Base || uint64(addr-c.family.Base) >= uint64(len(c.flash.Slice)) {
		return
	}
	copy(p, c.flash.Slice[addr-c.family.Base:])
}

func (c *Controller) SizeKB() uint16 { return c.sizeKB }
