package flashwriter

import (
	"fmt"
	"strings"
)

// StatusFlag maps one error bit of the flash status register (FLASH_SR) to
// the error it reports.
type StatusFlag struct {
	Name string
	Mask uint32
	Err  error
}

// StatusRegister is a raw FLASH_SR snapshot interpreted through the status
// bit map of a family.
//
//	Bit | [RM0091|3.5.4 FLASH_SR] | [RM0351|3.7.5 FLASH_SR] / [RM0444|3.7.4 FLASH_SR]
//	----+-------------------------+----------------------------------------------
//	16  |                         | BSY
//	9   |                         | FASTERR
//	8   |                         | MISERR
//	7   |                         | PGSERR
//	6   |                         | SIZERR
//	5   | EOP                     | PGAERR
//	4   | WRPRTERR                | WRPERR
//	3   |                         | PROGERR
//	2   | PGERR                   |
//	0   | BSY                     | EOP
type StatusRegister struct {
	Raw    uint32
	Family *Family
}

func (sr StatusRegister) Busy() bool { return sr.Raw&sr.Family.BusyMask != 0 }

// Err decodes the snapshot; see DecodeStatus.
func (sr StatusRegister) Err() error { return DecodeStatus(sr.Raw, sr.Family.StatusFlags) }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%#010x", sr.Raw)
	s := []string{}
	if sr.Busy() {
		s = append(s, "BSY")
	}
	for _, f := range sr.Family.StatusFlags {
		if sr.Raw&f.Mask != 0 {
			s = append(s, f.Name)
		}
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

// DecodeStatus returns the error of the first flag in flags that is set in
// status, or nil. Bits not named by any flag are ignored.
func DecodeStatus(status uint32, flags []StatusFlag) error {
	for _, f := range flags {
		if status&f.Mask != 0 {
			return f.Err
		}
	}
	return nil
}

// ErrorMask is the union of all error bits in flags, used to clear stale
// errors before a new operation.
func ErrorMask(flags []StatusFlag) uint32 {
	var m uint32
	for _, f := range flags {
		m |= f.Mask
	}
	return m
}
