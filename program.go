package flashwriter

import "github.com/pkg/errors"

// write coalesces data into chunks: it tops up the held-back bytes, programs
// every full chunk and holds back the tail.
func (w *Writer) write(data []byte) (int, error) {
	width := w.family.ChunkWidth
	n := 0

	if w.pendingLen > 0 {
		held := w.pendingLen
		k := copy(w.pending[held:width], data)
		w.pendingLen += k
		if w.pendingLen < width {
			return k, nil
		}
		if err := w.program(chunkLE(w.pending[:width])); err != nil {
			w.pendingLen = held
			return 0, err
		}
		w.pendingLen = 0
		data = data[k:]
		n += k
	}

	for len(data) >= width {
		if err := w.program(chunkLE(data[:width])); err != nil {
			return n, err
		}
		data = data[width:]
		n += width
	}

	w.pendingLen = copy(w.pending[:], data)
	return n + w.pendingLen, nil
}

// flush programs the held-back bytes padded with the erased value.
func (w *Writer) flush() error {
	width := w.family.ChunkWidth
	chunk := w.family.IdleChunk()
	chunk &^= (1<<(8*w.pendingLen) - 1)
	chunk |= chunkLE(w.pending[:w.pendingLen])
	if err := w.program(chunk); err != nil {
		return err
	}
	w.pendingLen = 0
	w.log.Debug("flushed", "next", w.next, "width", width)
	return nil
}

// program writes one chunk at the cursor and advances it. It refuses to
// write a chunk that would not end before the last address of the region.
func (w *Writer) program(chunk uint64) error {
	width := uint32(w.family.ChunkWidth)
	addr := w.next
	if uint64(addr)+uint64(width) > uint64(w.end) {
		return errors.Wrapf(ErrOutOfWriterMemory, "chunk at %#010x, region ends at %#010x", addr, w.end)
	}
	if err := w.programChunk(addr, chunk); err != nil {
		return writeFailed(addr, err)
	}
	w.next += width
	w.report("programming", addr, int(w.next-w.start), int(w.end-w.start)+1)
	return nil
}

// programChunk performs one program operation [RM0351|3.3.7 Flash main
// memory programming sequence]. Must not execute from the flash being
// modified.
func (w *Writer) programChunk(addr uint32, chunk uint64) error {
	c := w.ctrl
	c.ClearStatus(w.errMask | w.family.EOPMask)
	c.SetProgram(true)
	c.Store(addr, chunk, w.family.ChunkWidth)

	err := WaitReady(c, w.family, w.maxPolls)
	c.SetProgram(false)
	if err != nil {
		c.ClearStatus(w.errMask)
	}
	return err
}

// chunkLE assembles up to eight bytes into a little-endian chunk.
func chunkLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
