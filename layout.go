package flashwriter

import "github.com/pkg/errors"

// Bank is one physically distinct flash array.
type Bank struct {
	Start     uint32 // first address
	End       uint32 // last address, inclusive
	Index     int    // value selected in the controller before page operations
	StartPage uint32 // page number of Start as the controller counts it
}

// Contains reports whether addr lies in b.
func (b Bank) Contains(addr uint32) bool {
	return addr >= b.Start && addr <= b.End
}

// BankLayout is an ordered, non-overlapping partition of the flash address
// space into banks.
type BankLayout []Bank

// Layout derives the bank layout of a part with sizeKB KiB of flash.
// Dual bank parts split the flash into two equal banks whose pages are each
// numbered from zero.
func (f *Family) Layout(sizeKB uint16) BankLayout {
	size := uint32(sizeKB) << 10
	if size == 0 {
		return nil
	}
	if !f.DualBank {
		return BankLayout{{Start: f.Base, End: f.Base + size - 1}}
	}
	half := size / 2
	return BankLayout{
		{Start: f.Base, End: f.Base + half - 1, Index: 0},
		{Start: f.Base + half, End: f.Base + size - 1, Index: 1},
	}
}

// Lookup returns the bank holding addr.
func (l BankLayout) Lookup(addr uint32) (Bank, error) {
	for _, b := range l {
		if b.Contains(addr) {
			return b, nil
		}
	}
	return Bank{}, errors.Wrapf(ErrWrongBank, "address %#010x", addr)
}

// Covers reports whether every address of [start, end] belongs to the layout.
func (l BankLayout) Covers(start, end uint32) bool {
	if start > end {
		return false
	}
	for addr := start; ; {
		b, err := l.Lookup(addr)
		if err != nil {
			return false
		}
		if b.End >= end {
			return true
		}
		addr = b.End + 1
	}
}

// PageIndex returns the controller page number of the page holding addr.
func (b Bank) PageIndex(addr, pageSize uint32) uint32 {
	return b.StartPage + (addr-b.Start)/pageSize
}

// Size returns the total number of bytes the layout spans.
func (l BankLayout) Size() uint32 {
	var n uint32
	for _, b := range l {
		n += b.End - b.Start + 1
	}
	return n
}
