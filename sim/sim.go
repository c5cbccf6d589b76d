// Package sim models an STM32 flash interface in memory. It implements
// flashwriter.Controller with the lock, key, erase and program behaviour of
// the real peripheral, records every command it receives, and can inject
// faults, so the engine can be exercised without hardware.
package sim

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/gentam/flashwriter"
)

// Op identifies a command for fault injection.
type Op int

const (
	OpErase Op = iota
	OpProgram
)

func (o Op) String() string {
	if o == OpErase {
		return "erase"
	}
	return "program"
}

// Erase records one page erase command.
type Erase struct {
	Bank int
	Page uint32 // page number or FLASH_AR value, as written
	Addr uint32 // first address of the erased page
}

// Store records one program command.
type Store struct {
	Addr  uint32
	Chunk uint64
	Width int
}

// Controller is a simulated flash interface plus the flash it controls.
// The zero value is not usable; use New.
type Controller struct {
	Family *flashwriter.Family
	// Mem holds the flash contents starting at Family.Base.
	Mem []byte

	// Keys is the key sequence the controller accepts. Changing it simulates
	// a host that writes the wrong keys.
	Keys [2]uint32
	// BusyPolls is the number of BSY reads each command stays busy for.
	BusyPolls int
	// StuckBusy keeps BSY set forever.
	StuckBusy bool
	// Fault, if set, is consulted before each command executes. Non-zero
	// return bits are raised in FLASH_SR and the command has no effect.
	Fault func(op Op, addr uint32) uint32

	// Audit trail.
	Erases    []Erase
	Stores    []Store
	BusyReads int
	KeyWrites int
	// Violations lists accesses the real peripheral would ignore or fault on.
	Violations []string

	sizeKB     uint16
	layout     flashwriter.BankLayout
	locked     bool
	keyStage   int
	hardLocked bool // wrong key sequence: locked until Reset
	eopie      bool
	pg, per    bool
	bank       int
	page       uint32
	status     uint32
	busyLeft   int
}

var _ flashwriter.Controller = (*Controller)(nil)

// New returns a locked controller over sizeKB KiB of erased flash.
func New(family *flashwriter.Family, sizeKB uint16) *Controller {
	mem := make([]byte, int(sizeKB)<<10)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Controller{
		Family:    family,
		Mem:       mem,
		Keys:      [2]uint32{flashwriter.Key1, flashwriter.Key2},
		BusyPolls: 1,
		sizeKB:    sizeKB,
		layout:    family.Layout(sizeKB),
		locked:    true,
	}
}

// Open is New with the flash contents loaded from path, if it exists. Bytes
// beyond the file read as erased.
func Open(path string, family *flashwriter.Family, sizeKB uint16) (*Controller, error) {
	c := New(family, sizeKB)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) > len(c.Mem) {
		return nil, errors.Errorf("%s: %d bytes do not fit in %d KiB of flash", path, len(data), sizeKB)
	}
	copy(c.Mem, data)
	return c, nil
}

// Save writes the flash contents to path.
func (c *Controller) Save(path string) error {
	return os.WriteFile(path, c.Mem, 0644)
}

// Reset models a power cycle of the peripheral: locked, no pending command,
// status cleared. Flash contents survive.
func (c *Controller) Reset() {
	c.locked = true
	c.hardLocked = false
	c.keyStage = 0
	c.pg, c.per = false, false
	c.status = 0
	c.busyLeft = 0
}

// Commands returns the number of erase and program commands executed.
func (c *Controller) Commands() int { return len(c.Erases) + len(c.Stores) }

// ProgramEnabled and PageEraseEnabled report FLASH_CR.PG and FLASH_CR.PER.
func (c *Controller) ProgramEnabled() bool   { return c.pg }
func (c *Controller) PageEraseEnabled() bool { return c.per }

func (c *Controller) Busy() bool {
	c.BusyReads++
	if c.StuckBusy {
		return true
	}
	if c.busyLeft > 0 {
		c.busyLeft--
		return true
	}
	return false
}

func (c *Controller) Status() uint32 {
	s := c.status
	if c.StuckBusy || c.busyLeft > 0 {
		s |= c.Family.BusyMask
	}
	return s
}

func (c *Controller) ClearStatus(mask uint32) { c.status &^= mask }

func (c *Controller) Locked() bool { return c.locked }

func (c *Controller) Lock() {
	c.locked = true
	c.keyStage = 0
}

// WriteKey follows the KEYR sequence: any wrong key, or a key written while
// unlocked, locks FLASH_CR until Reset [RM0351|3.3.5].
func (c *Controller) WriteKey(key uint32) {
	c.KeyWrites++
	switch {
	case c.hardLocked:
	case !c.locked:
		c.violate("KEYR written while unlocked")
		c.hardLocked, c.locked = true, true
	case key == c.Keys[c.keyStage]:
		c.keyStage++
		if c.keyStage == len(c.Keys) {
			c.locked = false
			c.keyStage = 0
		}
	default:
		c.hardLocked = true
		c.keyStage = 0
	}
}

func (c *Controller) EnableEOPInterrupt() { c.eopie = true }

func (c *Controller) SetPageErase(on bool) {
	if c.locked {
		c.violate("PER changed while locked")
		return
	}
	c.per = on
}

func (c *Controller) SelectBank(bank int) {
	if c.locked {
		c.violate("BKER changed while locked")
		return
	}
	c.bank = bank
}

func (c *Controller) SetPage(page uint32) {
	if c.locked {
		c.violate("page changed while locked")
		return
	}
	c.page = page
}

func (c *Controller) Start() {
	switch {
	case c.locked:
		c.violate("STRT while locked")
		return
	case !c.per:
		c.violate("STRT without PER")
		return
	case c.pg:
		c.violate("STRT with PG set")
		c.raise(flashwriter.ErrPageSequence)
		return
	}

	addr, ok := c.pageAddr()
	if !ok {
		c.violate(fmt.Sprintf("erase of page %d in bank %d outside flash", c.page, c.bank))
		c.raise(flashwriter.ErrWriteProtect)
		return
	}
	c.busyLeft = c.BusyPolls
	if c.fault(OpErase, addr) {
		return
	}
	off := addr - c.Family.Base
	for i := off; i < off+c.Family.PageSize; i++ {
		c.Mem[i] = 0xFF
	}
	c.Erases = append(c.Erases, Erase{Bank: c.bank, Page: c.page, Addr: addr})
	c.status |= c.Family.EOPMask
}

func (c *Controller) SetProgram(on bool) {
	if c.locked {
		c.violate("PG changed while locked")
		return
	}
	c.pg = on
}

func (c *Controller) Store(addr uint32, chunk uint64, width int) {
	switch {
	case c.locked:
		c.violate(fmt.Sprintf("store at %#010x while locked", addr))
		return
	case !c.pg:
		c.violate(fmt.Sprintf("store at %#010x without PG", addr))
		return
	}
	off, ok := c.offset(addr, width)
	if !ok {
		c.violate(fmt.Sprintf("store at %#010x outside flash", addr))
		c.raise(flashwriter.ErrWriteProtect)
		return
	}
	if width != c.Family.ChunkWidth || addr%uint32(width) != 0 {
		c.raise(flashwriter.ErrAlignment)
		return
	}
	c.busyLeft = c.BusyPolls
	if c.fault(OpProgram, addr) {
		return
	}
	for i := 0; i < width; i++ {
		if c.Mem[off+i] != 0xFF {
			c.raise(flashwriter.ErrProgram)
			return
		}
	}
	for i := 0; i < width; i++ {
		c.Mem[off+i] = byte(chunk >> (8 * i))
	}
	c.Stores = append(c.Stores, Store{Addr: addr, Chunk: chunk, Width: width})
	c.status |= c.Family.EOPMask
}

func (c *Controller) Load(addr uint32, p []byte) {
	for i := range p {
		a := uint64(addr) + uint64(i)
		base := uint64(c.Family.Base)
		if a >= base && a < base+uint64(len(c.Mem)) {
			p[i] = c.Mem[a-base]
		} else {
			p[i] = 0
		}
	}
}

func (c *Controller) SizeKB() uint16 { return c.sizeKB }

func (c *Controller) pageAddr() (uint32, bool) {
	ps := c.Family.PageSize
	if c.Family.Addressing == flashwriter.AddressRegister {
		if _, ok := c.offset(c.page, 1); !ok {
			return 0, false
		}
		return c.page - (c.page-c.Family.Base)%ps, true
	}
	bank := 0
	if c.Family.DualBank {
		bank = c.bank
	}
	if bank < 0 || bank >= len(c.layout) {
		return 0, false
	}
	b := c.layout[bank]
	addr := uint64(b.Start) + uint64(c.page-b.StartPage)*uint64(ps)
	if c.page < b.StartPage || addr+uint64(ps)-1 > uint64(b.End) {
		return 0, false
	}
	return uint32(addr), true
}

func (c *Controller) offset(addr uint32, n int) (int, bool) {
	if addr < c.Family.Base {
		return 0, false
	}
	off := uint64(addr - c.Family.Base)
	if off+uint64(n) > uint64(len(c.Mem)) {
		return 0, false
	}
	return int(off), true
}

func (c *Controller) fault(op Op, addr uint32) bool {
	if c.Fault == nil {
		return false
	}
	bits := c.Fault(op, addr)
	c.status |= bits
	return bits != 0
}

// raise sets the status flag the family uses to report err, falling back to
// the first flag it knows.
func (c *Controller) raise(err error) {
	flags := c.Family.StatusFlags
	for _, f := range flags {
		if f.Err == err {
			c.status |= f.Mask
			return
		}
	}
	if len(flags) > 0 {
		c.status |= flags[0].Mask
	}
}

func (c *Controller) violate(msg string) {
	c.Violations = append(c.Violations, msg)
}

// FlagMask returns the FLASH_SR bit the family uses for err, or zero.
func FlagMask(family *flashwriter.Family, err error) uint32 {
	for _, f := range family.StatusFlags {
		if f.Err == err {
			return f.Mask
		}
	}
	return 0
}
