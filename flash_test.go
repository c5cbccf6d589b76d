package flashwriter_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/gentam/flashwriter"
	"github.com/gentam/flashwriter/sim"
)

const (
	f0Start = 0x0800_1400
	f0End   = 0x0800_1BFF
)

func newWriter(t *testing.T, c *sim.Controller, start, end uint32, opts ...flashwriter.Option) *flashwriter.Writer {
	t.Helper()
	w, err := flashwriter.New(c.Family, start, end, c, opts...)
	if err != nil {
		t.Fatalf("New(%#010x, %#010x): %v", start, end, err)
	}
	return w
}

func TestNewRegion(t *testing.T) {
	tests := []struct {
		name       string
		family     *flashwriter.Family
		start, end uint32
		ok         bool
	}{
		{"whole flash", flashwriter.STM32F0, 0x0800_0000, 0x0800_FFFF, true},
		{"pages", flashwriter.STM32F0, f0Start, f0End, true},
		{"one chunk", flashwriter.STM32F0, f0Start, f0Start + 1, true},
		{"both banks", flashwriter.STM32L4, 0x0801_F000, 0x0802_0FFF, true},
		{"second bank", flashwriter.STM32L4, 0x0802_0000, 0x0803_FFFF, true},
		{"misordered", flashwriter.STM32F0, f0End, f0Start, false},
		{"below flash", flashwriter.STM32F0, 0x07FF_FC00, f0End, false},
		{"past flash end", flashwriter.STM32F0, 0x0800_FC00, 0x0801_0000, false},
		{"outside flash", flashwriter.STM32G0, 0x2000_0000, 0x2000_0FFF, false},
		{"unaligned start", flashwriter.STM32G0, 0x0800_0004, 0x0800_07FF, false},
		{"shorter than a chunk", flashwriter.STM32G0, 0x0800_0000, 0x0800_0003, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sizeKB := uint16(64)
			if tt.family.DualBank {
				sizeKB = 256
			}
			c := sim.New(tt.family, sizeKB)
			w, err := flashwriter.New(tt.family, tt.start, tt.end, c)
			if tt.ok {
				if err != nil {
					t.Fatalf("New: %v", err)
				}
				if w.StartAddress() != tt.start || w.EndAddress() != tt.end || w.NextAddress() != tt.start {
					t.Errorf("region = [%#x, %#x] next %#x", w.StartAddress(), w.EndAddress(), w.NextAddress())
				}
				return
			}
			if !errors.Is(err, flashwriter.ErrInvalidRange) {
				t.Fatalf("New: got %v, want ErrInvalidRange", err)
			}
			if w != nil {
				t.Error("New returned a writer with an error")
			}
			if c.KeyWrites != 0 || c.Commands() != 0 || !c.Locked() {
				t.Error("rejected region touched the controller")
			}
		})
	}
}

func TestWriteCoalescesChunks(t *testing.T) {
	c := sim.New(flashwriter.STM32F0, 64)
	w := newWriter(t, c, f0Start, f0End)

	n, err := w.Write([]byte{1, 2, 3, 4, 5, 6, 7})
	if err != nil || n != 7 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if w.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", w.Pending())
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	want := []sim.Store{
		{Addr: f0Start, Chunk: 0x0201, Width: 2},
		{Addr: f0Start + 2, Chunk: 0x0403, Width: 2},
		{Addr: f0Start + 4, Chunk: 0x0605, Width: 2},
		{Addr: f0Start + 6, Chunk: 0xFF07, Width: 2},
	}
	if len(c.Stores) != len(want) {
		t.Fatalf("stores = %+v, want %+v", c.Stores, want)
	}
	for i := range want {
		if c.Stores[i] != want[i] {
			t.Errorf("store %d = %+v, want %+v", i, c.Stores[i], want[i])
		}
	}
	if w.NextAddress() != f0Start+8 {
		t.Errorf("NextAddress = %#x, want %#x", w.NextAddress(), f0Start+8)
	}
	if w.ImageLen() != 7 {
		t.Errorf("ImageLen = %d, want 7", w.ImageLen())
	}
	if !c.Locked() {
		t.Error("controller left unlocked after Flush")
	}
	if got := w.Read(f0Start, 8); !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6, 7, 0xFF}) {
		t.Errorf("flash = % x", got)
	}
	if len(c.Violations) != 0 {
		t.Errorf("violations: %v", c.Violations)
	}
}

func TestWriteSplitInvariant(t *testing.T) {
	data := make([]byte, 37)
	rand.New(rand.NewSource(1)).Read(data)

	for _, f := range []*flashwriter.Family{flashwriter.STM32F0, flashwriter.STM32G0, flashwriter.STM32L4} {
		t.Run(f.Name, func(t *testing.T) {
			start := f.Base + 4*f.PageSize
			end := start + f.PageSize - 1

			ref := sim.New(f, 256)
			w := newWriter(t, ref, start, end)
			if _, err := w.Write(data); err != nil {
				t.Fatal(err)
			}
			if err := w.Flush(); err != nil {
				t.Fatal(err)
			}

			for i := 0; i <= len(data); i++ {
				c := sim.New(f, 256)
				w := newWriter(t, c, start, end)
				if _, err := w.Write(data[:i]); err != nil {
					t.Fatal(err)
				}
				if _, err := w.Write(data[i:]); err != nil {
					t.Fatal(err)
				}
				if err := w.Flush(); err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(c.Mem, ref.Mem) {
					t.Fatalf("split at %d: flash differs from a single write", i)
				}
				if w.NextAddress() != start+uint32((len(data)+f.ChunkWidth-1)/f.ChunkWidth*f.ChunkWidth) {
					t.Fatalf("split at %d: NextAddress = %#x", i, w.NextAddress())
				}
			}
		})
	}
}

func TestFlushTwice(t *testing.T) {
	c := sim.New(flashwriter.STM32G0, 64)
	w := newWriter(t, c, 0x0800_0800, 0x0800_0FFF)
	if _, err := w.Write([]byte("hello, flash")); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	stores, next := len(c.Stores), w.NextAddress()
	mem := bytes.Clone(c.Mem)

	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(c.Stores) != stores || w.NextAddress() != next || !bytes.Equal(mem, c.Mem) {
		t.Error("second Flush changed flash or cursor")
	}
	if !c.Locked() {
		t.Error("second Flush did not lock")
	}
}

func TestEraseRegion(t *testing.T) {
	c := sim.New(flashwriter.STM32F0, 64)
	for i := range c.Mem {
		c.Mem[i] = 0xA5
	}
	w := newWriter(t, c, f0Start, f0End)

	if err := w.Erase(); err != nil {
		t.Fatal(err)
	}
	for i, b := range w.Read(f0Start, f0End-f0Start+1) {
		if b != 0xFF {
			t.Fatalf("byte at %#x = %#x after erase", f0Start+i, b)
		}
	}
	if before, after := w.Read(f0Start-1, 1)[0], w.Read(f0End+1, 1)[0]; before != 0xA5 || after != 0xA5 {
		t.Errorf("bytes around region changed to %#x, %#x", before, after)
	}
	if len(c.Erases) != 2 || c.Erases[0].Addr != f0Start || c.Erases[1].Addr != f0Start+0x400 {
		t.Errorf("erases = %+v", c.Erases)
	}
	if !c.Locked() || c.PageEraseEnabled() {
		t.Error("controller not restored after erase")
	}
}

func TestEraseSelectsBank(t *testing.T) {
	c := sim.New(flashwriter.STM32L4, 256)
	w := newWriter(t, c, 0x0801_F000, 0x0802_0FFF)
	if err := w.Erase(); err != nil {
		t.Fatal(err)
	}
	want := []sim.Erase{
		{Bank: 0, Page: 62, Addr: 0x0801_F000},
		{Bank: 0, Page: 63, Addr: 0x0801_F800},
		{Bank: 1, Page: 0, Addr: 0x0802_0000},
		{Bank: 1, Page: 1, Addr: 0x0802_0800},
	}
	if len(c.Erases) != len(want) {
		t.Fatalf("erases = %+v", c.Erases)
	}
	for i := range want {
		if c.Erases[i] != want[i] {
			t.Errorf("erase %d = %+v, want %+v", i, c.Erases[i], want[i])
		}
	}
}

func TestEraseFailureStops(t *testing.T) {
	c := sim.New(flashwriter.STM32L4, 256)
	c.Fault = func(op sim.Op, addr uint32) uint32 {
		if op == sim.OpErase && addr == 0x0801_F800 {
			return sim.FlagMask(c.Family, flashwriter.ErrWriteProtect)
		}
		return 0
	}
	w := newWriter(t, c, 0x0801_F000, 0x0802_0FFF)

	err := w.Erase()
	if !errors.Is(err, flashwriter.ErrEraseFailed) || !errors.Is(err, flashwriter.ErrWriteProtect) {
		t.Fatalf("Erase = %v, want erase failure caused by write protection", err)
	}
	if len(c.Erases) != 1 {
		t.Errorf("%d pages erased, want 1", len(c.Erases))
	}
	if !c.Locked() {
		t.Error("controller left unlocked after failed erase")
	}
}

func TestWriteOutOfRegion(t *testing.T) {
	const end = f0Start + 15
	c := sim.New(flashwriter.STM32F0, 64)
	w := newWriter(t, c, f0Start, end)

	n, err := w.Write(make([]byte, 32))
	if !errors.Is(err, flashwriter.ErrOutOfWriterMemory) {
		t.Fatalf("Write = %v, want ErrOutOfWriterMemory", err)
	}
	if n != 14 || len(c.Stores) != 7 {
		t.Errorf("n = %d with %d stores, want 14 and 7", n, len(c.Stores))
	}
	for _, s := range c.Stores {
		if s.Addr < f0Start || s.Addr+uint32(s.Width)-1 > end {
			t.Errorf("store at %#x outside region", s.Addr)
		}
	}
	if w.ImageLen() != 32 {
		t.Errorf("ImageLen = %d, want 32", w.ImageLen())
	}
}

func TestFlushOutOfRegionLocks(t *testing.T) {
	c := sim.New(flashwriter.STM32F0, 64)
	w := newWriter(t, c, f0Start, f0Start+15)
	if _, err := w.Write(make([]byte, 15)); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); !errors.Is(err, flashwriter.ErrOutOfWriterMemory) {
		t.Fatalf("Flush = %v, want ErrOutOfWriterMemory", err)
	}
	if !c.Locked() {
		t.Error("controller left unlocked after failed Flush")
	}
}

func TestWriteProgramError(t *testing.T) {
	c := sim.New(flashwriter.STM32F0, 64)
	programs := 0
	c.Fault = func(op sim.Op, addr uint32) uint32 {
		if op != sim.OpProgram {
			return 0
		}
		if programs++; programs == 3 {
			return sim.FlagMask(c.Family, flashwriter.ErrProgram)
		}
		return 0
	}
	w := newWriter(t, c, f0Start, f0End)

	n, err := w.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if !errors.Is(err, flashwriter.ErrWriteFailed) || !errors.Is(err, flashwriter.ErrProgram) {
		t.Fatalf("Write = %v, want write failure caused by PGERR", err)
	}
	if n != 4 || len(c.Stores) != 2 || w.NextAddress() != f0Start+4 {
		t.Errorf("n = %d, stores = %d, next = %#x", n, len(c.Stores), w.NextAddress())
	}
	if c.ProgramEnabled() {
		t.Error("PG left set after failed program")
	}

	// The failure is not sticky: the caller may carry on.
	if _, err := w.Write([]byte{5, 6}); err != nil {
		t.Fatalf("Write after failure: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := w.Read(f0Start, 6); !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("flash = % x", got)
	}
}

func TestWriteTopUpFailureKeepsPending(t *testing.T) {
	c := sim.New(flashwriter.STM32G0, 64)
	w := newWriter(t, c, 0x0800_0000, 0x0800_07FF)
	if _, err := w.Write([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	c.Fault = func(sim.Op, uint32) uint32 { return sim.FlagMask(c.Family, flashwriter.ErrSize) }

	n, err := w.Write([]byte{4, 5, 6, 7, 8, 9})
	if !errors.Is(err, flashwriter.ErrSize) {
		t.Fatalf("Write = %v, want SIZERR", err)
	}
	if n != 0 || w.Pending() != 3 {
		t.Errorf("n = %d, pending = %d, want 0 and 3", n, w.Pending())
	}
}

func TestUnlockWrongKeys(t *testing.T) {
	c := sim.New(flashwriter.STM32G0, 64)
	c.Keys = [2]uint32{0x1234_5678, 0x9ABC_DEF0}
	w := newWriter(t, c, 0x0800_0000, 0x0800_07FF)

	if err := w.Erase(); !errors.Is(err, flashwriter.ErrFlashLocked) {
		t.Fatalf("Erase = %v, want ErrFlashLocked", err)
	}
	if _, err := w.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}); !errors.Is(err, flashwriter.ErrFlashLocked) {
		t.Fatalf("Write = %v, want ErrFlashLocked", err)
	}
	if !c.Locked() || c.Commands() != 0 {
		t.Errorf("locked = %v, commands = %d", c.Locked(), c.Commands())
	}
	if len(c.Violations) != 0 {
		t.Errorf("violations: %v", c.Violations)
	}
}

func TestBusyTimeout(t *testing.T) {
	const polls = 37
	c := sim.New(flashwriter.STM32L4, 256)
	c.StuckBusy = true
	w := newWriter(t, c, 0x0800_0000, 0x0800_07FF, flashwriter.WithMaxPolls(polls))

	if err := w.Erase(); !errors.Is(err, flashwriter.ErrBusyTimeout) {
		t.Fatalf("Erase = %v, want ErrBusyTimeout", err)
	}
	if c.BusyReads != polls {
		t.Errorf("BSY read %d times, want %d", c.BusyReads, polls)
	}
	if c.Commands() != 0 {
		t.Errorf("%d commands issued while busy", c.Commands())
	}
}

func TestWaitReady(t *testing.T) {
	f := flashwriter.STM32F0
	c := sim.New(f, 16)

	c.StuckBusy = true
	if err := flashwriter.WaitReady(c, f, 5); !errors.Is(err, flashwriter.ErrBusyTimeout) || c.BusyReads != 5 {
		t.Errorf("stuck: err = %v after %d reads", err, c.BusyReads)
	}

	c.StuckBusy = false
	c.BusyReads = 0
	c.BusyPolls = 4
	c.Fault = func(sim.Op, uint32) uint32 { return sim.FlagMask(f, flashwriter.ErrWriteProtect) }
	c.WriteKey(flashwriter.Key1)
	c.WriteKey(flashwriter.Key2)
	c.SetProgram(true)
	c.Store(f.Base, 0, 2)
	if err := flashwriter.WaitReady(c, f, 5); !errors.Is(err, flashwriter.ErrWriteProtect) || c.BusyReads != 5 {
		t.Errorf("fault: err = %v after %d reads", err, c.BusyReads)
	}
}

func TestRelease(t *testing.T) {
	c := sim.New(flashwriter.STM32F0, 64)
	w := newWriter(t, c, f0Start, f0End)
	if got := w.Release(); got != flashwriter.Controller(c) {
		t.Fatal("Release returned a different controller")
	}
	if _, err := w.Write([]byte{1}); !errors.Is(err, flashwriter.ErrReleased) {
		t.Errorf("Write after Release = %v", err)
	}
	if err := w.Erase(); !errors.Is(err, flashwriter.ErrReleased) {
		t.Errorf("Erase after Release = %v", err)
	}
	if err := w.Flush(); !errors.Is(err, flashwriter.ErrReleased) {
		t.Errorf("Flush after Release = %v", err)
	}
}

func TestProgress(t *testing.T) {
	c := sim.New(flashwriter.STM32F0, 64)
	var got []flashwriter.Progress
	w := newWriter(t, c, f0Start, f0End, flashwriter.WithProgress(func(p flashwriter.Progress) {
		got = append(got, p)
	}))
	if err := w.Erase(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	want := []flashwriter.Progress{
		{Phase: "erasing", Addr: f0Start, Done: 0x400, Total: 0x800},
		{Phase: "erasing", Addr: f0Start + 0x400, Done: 0x800, Total: 0x800},
		{Phase: "programming", Addr: f0Start, Done: 2, Total: 0x800},
		{Phase: "programming", Addr: f0Start + 2, Done: 4, Total: 0x800},
	}
	if len(got) != len(want) {
		t.Fatalf("progress = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("progress %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReadVerify(t *testing.T) {
	c := sim.New(flashwriter.STM32F0, 64)
	w := newWriter(t, c, f0Start, f0End)
	img := []byte{1, 2, 3, 4, 5, 6, 7}
	if _, err := w.Write(img); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	words := flashwriter.ReadAs[uint16](w, f0Start, 4)
	for i, want := range []uint16{0x0201, 0x0403, 0x0605, 0xFF07} {
		if words[i] != want {
			t.Errorf("word %d = %#04x, want %#04x", i, words[i], want)
		}
	}
	if w.Checksum(f0Start, len(img)) != flashwriter.ImageChecksum(img) {
		t.Error("Checksum differs from ImageChecksum of the same bytes")
	}
	if err := w.Verify(f0Start, img); err != nil {
		t.Errorf("Verify: %v", err)
	}

	c.Mem[f0Start-0x0800_0000+5] = 0
	if err := w.Verify(f0Start, img); !errors.Is(err, flashwriter.ErrVerify) {
		t.Errorf("Verify of corrupted flash = %v", err)
	}
}

func TestReaderLeavesRegistersAlone(t *testing.T) {
	c := sim.New(flashwriter.STM32G0, 64)
	copy(c.Mem, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	// Leave a failed program behind in FLASH_SR.
	miss := sim.FlagMask(c.Family, flashwriter.ErrMiss)
	c.Fault = func(sim.Op, uint32) uint32 { return miss }
	c.WriteKey(flashwriter.Key1)
	c.WriteKey(flashwriter.Key2)
	c.SetProgram(true)
	c.Store(0x0800_0100, 0, 8)
	c.SetProgram(false)
	c.Lock()
	keys, status := c.KeyWrites, c.Status()

	r := flashwriter.NewReader(c)
	if got := r.Read(0x0800_0000, 4); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("Read = % x", got)
	}
	if got := flashwriter.ReadAs[uint32](r, 0x0800_0004, 1)[0]; got != 0x0807_0605 {
		t.Errorf("ReadAs = %#x", got)
	}
	if err := r.Verify(0x0800_0000, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if err := r.Verify(0x0800_0000, []byte{1, 2, 3, 9}); !errors.Is(err, flashwriter.ErrVerify) {
		t.Errorf("Verify of different data = %v", err)
	}
	if c.Status() != status || c.Status()&miss == 0 {
		t.Errorf("status = %#x, want %#x", c.Status(), status)
	}
	if c.KeyWrites != keys || !c.Locked() || c.Commands() != 0 {
		t.Error("Reader touched the controller")
	}
}
