// Package image loads firmware images for the flashwriter command.
package image

import (
	"debug/elf"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// Image is a contiguous run of bytes to be programmed at Addr.
type Image struct {
	Addr uint32
	Data []byte
}

// End returns the address one past the last byte of the image.
func (img *Image) End() uint64 { return uint64(img.Addr) + uint64(len(img.Data)) }

// LoadBin reads a raw binary to be placed at base.
func LoadBin(fname string, base uint32) (*Image, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	return &Image{Addr: base, Data: data}, nil
}

// InFlashFunc reports whether [addr, addr+size) lies in flash.
type InFlashFunc func(addr, size uint64) bool

// FlashRange returns an InFlashFunc for size bytes of flash at base.
func FlashRange(base, size uint64) InFlashFunc {
	return func(addr, n uint64) bool {
		return addr >= base && addr+n <= base+size
	}
}

type chunk struct {
	paddr uint64
	data  []byte
}

// LoadELF collects the sections of every loadable segment whose physical
// address lies in flash, and lays them out by load address. Gaps between
// sections read as erased flash.
func LoadELF(fname string, inFlash InFlashFunc) (*Image, error) {
	f, err := elf.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []chunk
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 || !inFlash(prog.Paddr, prog.Filesz) {
			continue
		}
		for _, sec := range f.Sections {
			if sec.Type == elf.SHT_NOBITS || sec.Size == 0 || !inProg(sec.Addr, sec.Size, prog) {
				continue
			}
			data, err := sec.Data()
			if err != nil {
				return nil, errors.Wrapf(err, "section %s", sec.Name)
			}
			chunks = append(chunks, chunk{paddr: prog.Paddr + sec.Addr - prog.Vaddr, data: data})
		}
	}
	if len(chunks) == 0 {
		return nil, errors.Errorf("%s: no loadable sections in flash", fname)
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].paddr < chunks[j].paddr })
	last := chunks[len(chunks)-1]
	minAddr := chunks[0].paddr
	maxAddr := last.paddr + uint64(len(last.data))

	data := make([]byte, maxAddr-minAddr)
	for i := range data {
		data[i] = 0xFF
	}
	for _, c := range chunks {
		copy(data[c.paddr-minAddr:], c.data)
	}
	return &Image{Addr: uint32(minAddr), Data: data}, nil
}

func inProg(vaddr, size uint64, prog *elf.Prog) bool {
	return vaddr >= prog.Vaddr && vaddr+size <= prog.Vaddr+prog.Memsz
}
