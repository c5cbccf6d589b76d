package flashwriter

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// PageAddressing selects how a page erase names its target page.
type PageAddressing int

const (
	// AddressRegister writes any address inside the page to FLASH_AR.
	AddressRegister PageAddressing = iota
	// PageNumber writes the page index within its bank to FLASH_CR.PNB.
	PageNumber
)

// Unlock key sequence for FLASH_KEYR.
//   - [RM0091|3.3.1 Unlocking the Flash memory]
//   - [RM0351|3.3.5 Flash program and erase operations]
const (
	Key1 uint32 = 0x4567_0123
	Key2 uint32 = 0xCDEF_89AB
)

// RegisterMap locates the flash interface registers and the FLASH_CR fields
// the engine drives. Only memory-mapped controllers need it.
type RegisterMap struct {
	Base uint32 // FLASH interface register block

	KEYR uint32 // offsets from Base
	SR   uint32
	CR   uint32
	AR   uint32 // zero when the family uses PNB

	CRProgram   uint32 // PG
	CRPageErase uint32 // PER
	CRStart     uint32 // STRT
	CRLock      uint32 // LOCK
	CREOPIE     uint32
	CRBank      uint32 // BKER, zero on single bank parts
	PNBShift    uint32
	PNBMask     uint32 // unshifted
}

// Family describes one chip family. The engine is shared; everything that
// differs between parts lives here.
type Family struct {
	Name string

	Base       uint32 // first flash address
	ChunkWidth int    // bytes programmed per operation: 2, 4 or 8
	PageSize   uint32 // erase granularity
	DualBank   bool
	Addressing PageAddressing

	// SizeDescriptor is the address of the 16-bit flash size register (KiB).
	SizeDescriptor uint32

	BusyMask    uint32
	EOPMask     uint32
	StatusFlags []StatusFlag // decode priority order

	Regs RegisterMap
}

var (
	// STM32F0 programs half-words and erases 1 KiB pages through FLASH_AR.
	STM32F0 = &Family{
		Name:           "stm32f0",
		Base:           0x0800_0000,
		ChunkWidth:     2,
		PageSize:       1 << 10,
		Addressing:     AddressRegister,
		SizeDescriptor: 0x1FFF_F7CC, // [RM0091|33.2 Memory size data register]

		// [RM0091|3.5.4 Flash status register (FLASH_SR)]
		BusyMask: 1 << 0,
		EOPMask:  1 << 5,
		StatusFlags: []StatusFlag{
			{Name: "PGERR", Mask: 1 << 2, Err: ErrProgram},
			{Name: "WRPRTERR", Mask: 1 << 4, Err: ErrWriteProtect},
		},

		// [RM0091|3.5.5 Flash control register (FLASH_CR)]
		Regs: RegisterMap{
			Base:        0x4002_2000,
			KEYR:        0x04,
			SR:          0x0C,
			CR:          0x10,
			AR:          0x14,
			CRProgram:   1 << 0,
			CRPageErase: 1 << 1,
			CRStart:     1 << 6,
			CRLock:      1 << 7,
			CREOPIE:     1 << 12,
		},
	}

	// STM32G0 programs double-words and erases 2 KiB pages by number.
	STM32G0 = &Family{
		Name:           "stm32g0",
		Base:           0x0800_0000,
		ChunkWidth:     8,
		PageSize:       2 << 10,
		Addressing:     PageNumber,
		SizeDescriptor: 0x1FFF_75E0, // [RM0444|40.3 Flash memory size data register]

		BusyMask:    1 << 16,
		EOPMask:     1 << 0,
		StatusFlags: stm32StatusFlags,

		// [RM0444|3.7.5 Flash control register (FLASH_CR)]
		Regs: RegisterMap{
			Base:        0x4002_2000,
			KEYR:        0x08,
			SR:          0x10,
			CR:          0x14,
			CRProgram:   1 << 0,
			CRPageErase: 1 << 1,
			CRStart:     1 << 16,
			CRLock:      1 << 31,
			CREOPIE:     1 << 24,
			PNBShift:    3,
			PNBMask:     0x7F,
		},
	}

	// STM32L4 is an STM32G0 with two banks selected through BKER.
	STM32L4 = &Family{
		Name:           "stm32l4",
		Base:           0x0800_0000,
		ChunkWidth:     8,
		PageSize:       2 << 10,
		DualBank:       true,
		Addressing:     PageNumber,
		SizeDescriptor: 0x1FFF_75E0, // [RM0351|48.2 Flash size data register]

		BusyMask:    1 << 16,
		EOPMask:     1 << 0,
		StatusFlags: stm32StatusFlags,

		// [RM0351|3.7.5 Flash control register (FLASH_CR)]
		Regs: RegisterMap{
			Base:        0x4002_2000,
			KEYR:        0x08,
			SR:          0x10,
			CR:          0x14,
			CRProgram:   1 << 0,
			CRPageErase: 1 << 1,
			CRStart:     1 << 16,
			CRLock:      1 << 31,
			CREOPIE:     1 << 24,
			CRBank:      1 << 11,
			PNBShift:    3,
			PNBMask:     0xFF,
		},
	}
)

// [RM0351|3.7.5 Flash status register (FLASH_SR)], same layout in [RM0444].
var stm32StatusFlags = []StatusFlag{
	{Name: "PROGERR", Mask: 1 << 3, Err: ErrProgram},
	{Name: "SIZERR", Mask: 1 << 6, Err: ErrSize},
	{Name: "PGAERR", Mask: 1 << 5, Err: ErrAlignment},
	{Name: "PGSERR", Mask: 1 << 7, Err: ErrPageSequence},
	{Name: "WRPERR", Mask: 1 << 4, Err: ErrWriteProtect},
	{Name: "MISERR", Mask: 1 << 8, Err: ErrMiss},
	{Name: "FASTERR", Mask: 1 << 9, Err: ErrFastProgram},
}

var knownFamilies = map[string]*Family{
	STM32F0.Name: STM32F0,
	STM32G0.Name: STM32G0,
	STM32L4.Name: STM32L4,
}

// LookupFamily returns the built-in family with the given name.
func LookupFamily(name string) (*Family, error) {
	if f, ok := knownFamilies[strings.ToLower(name)]; ok {
		return f, nil
	}
	return nil, errors.Errorf("unknown flash family %q (known: %s)", name, strings.Join(FamilyNames(), ", "))
}

// FamilyNames lists the built-in family names in sorted order.
func FamilyNames() []string {
	names := make([]string, 0, len(knownFamilies))
	for name := range knownFamilies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IdleChunk is the value an erased chunk reads as.
func (f *Family) IdleChunk() uint64 {
	return ^uint64(0) >> (64 - 8*f.ChunkWidth)
}

func (f *Family) String() string { return f.Name }
