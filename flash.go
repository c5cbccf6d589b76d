package flashwriter

import (
	"github.com/pkg/errors"
)

// Writer programs one region of flash. It owns its Controller from New until
// Release. A Writer is not safe for concurrent use, and nothing else may
// touch the controller while the Writer holds it.
type Writer struct {
	family *Family
	layout BankLayout
	ctrl   Controller

	start uint32 // inclusive
	end   uint32 // inclusive
	next  uint32 // chunk aligned, never past end

	imageLen int

	pending    [8]byte
	pendingLen int // always < family.ChunkWidth between calls

	errMask uint32
	config
}

// New takes ownership of ctrl and returns a Writer for the inclusive region
// [start, end]. The region must be non-empty, start on a chunk boundary, hold
// at least one chunk and lie entirely inside the flash reported by the
// controller's size descriptor; otherwise New returns ErrInvalidRange and
// leaves the controller untouched.
func New(family *Family, start, end uint32, ctrl Controller, opts ...Option) (*Writer, error) {
	if family == nil || ctrl == nil {
		return nil, errors.New("flashwriter: nil family or controller")
	}
	width := uint32(family.ChunkWidth)
	if start > end {
		return nil, errors.Wrapf(ErrInvalidRange, "start %#010x after end %#010x", start, end)
	}
	if start%width != 0 || uint64(end)-uint64(start)+1 < uint64(width) {
		return nil, errors.Wrapf(ErrInvalidRange, "[%#010x, %#010x] does not hold an aligned %d-byte chunk", start, end, width)
	}
	layout := family.Layout(ctrl.SizeKB())
	if !layout.Covers(start, end) {
		return nil, errors.Wrapf(ErrInvalidRange, "[%#010x, %#010x] outside %s flash of %d KiB", start, end, family, layout.Size()>>10)
	}

	w := &Writer{
		family:  family,
		layout:  layout,
		ctrl:    ctrl,
		start:   start,
		end:     end,
		next:    start,
		errMask: ErrorMask(family.StatusFlags),
		config:  defaultConfig(),
	}
	for _, o := range opts {
		o(&w.config)
	}

	ctrl.EnableEOPInterrupt()
	ctrl.ClearStatus(w.errMask | family.EOPMask)
	w.log.Debug("flash writer ready", "family", family.Name, "start", start, "end", end, "banks", len(layout))
	return w, nil
}

// Erase erases every page of the region. The controller is locked again on
// return, whether or not the erase succeeded. On failure the pages after the
// failing one are left as they were.
func (w *Writer) Erase() error {
	if w.ctrl == nil {
		return ErrReleased
	}
	defer w.lock()
	if err := w.unlock(); err != nil {
		return err
	}
	w.log.Info("erasing", "start", w.start, "end", w.end)
	if err := w.eraseRange(w.start, w.end); err != nil {
		w.log.Error("erase failed", "err", err)
		return err
	}
	return nil
}

// Write programs p at the write cursor. Bytes that do not complete a chunk
// are held back until the next Write or Flush. The controller stays unlocked
// across calls; Flush locks it.
//
// A failed Write is not atomic: chunks committed before the failing one stay
// in flash, and n counts the bytes of p that were either committed or
// buffered.
func (w *Writer) Write(p []byte) (n int, err error) {
	if w.ctrl == nil {
		return 0, ErrReleased
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := w.unlock(); err != nil {
		return 0, err
	}
	w.imageLen += len(p)
	n, err = w.write(p)
	if err != nil {
		w.log.Error("write failed", "next", w.next, "err", err)
	}
	return n, err
}

// Flush pads any held-back bytes to a full chunk with the erased value,
// programs it and locks the controller. It must be called once at the end of
// an image; calling it again is a no-op apart from locking.
func (w *Writer) Flush() error {
	if w.ctrl == nil {
		return ErrReleased
	}
	defer w.lock()
	if w.pendingLen == 0 {
		return nil
	}
	if err := w.unlock(); err != nil {
		return err
	}
	if err := w.flush(); err != nil {
		w.log.Error("flush failed", "next", w.next, "err", err)
		return err
	}
	return nil
}

// Release ends the Writer's ownership of the controller and returns it. The
// Writer is unusable afterwards. Held-back bytes not yet flushed are dropped.
func (w *Writer) Release() Controller {
	c := w.ctrl
	w.ctrl = nil
	if w.pendingLen > 0 {
		w.log.Error("released with unflushed bytes", "dropped", w.pendingLen)
	}
	return c
}

func (w *Writer) unlock() error {
	if err := WaitReady(w.ctrl, w.family, w.maxPolls); err != nil {
		return err
	}
	if w.ctrl.Locked() {
		w.ctrl.WriteKey(Key1)
		w.ctrl.WriteKey(Key2)
	}
	if w.ctrl.Locked() {
		return ErrFlashLocked
	}
	return nil
}

func (w *Writer) lock() {
	w.ctrl.Lock()
}

// Family returns the chip family the Writer was built for.
func (w *Writer) Family() *Family { return w.family }

// Layout returns the bank layout derived from the size descriptor.
func (w *Writer) Layout() BankLayout { return w.layout }

// StartAddress returns the first address of the region.
func (w *Writer) StartAddress() uint32 { return w.start }

// EndAddress returns the last address of the region.
func (w *Writer) EndAddress() uint32 { return w.end }

// NextAddress returns the write cursor.
func (w *Writer) NextAddress() uint32 { return w.next }

// ImageLen returns the number of bytes accepted by Write so far.
func (w *Writer) ImageLen() int { return w.imageLen }

// Pending returns the number of held-back bytes waiting for Flush.
func (w *Writer) Pending() int { return w.pendingLen }
