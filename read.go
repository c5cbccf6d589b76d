package flashwriter

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/snksoft/crc"
)

// Reader reads flash through a Controller's Load alone. Unlike New it never
// writes FLASH_CR or FLASH_SR, so status flags left by an earlier operation
// survive a dump.
type Reader struct {
	ctrl Controller
}

// NewReader returns a Reader over ctrl. The caller keeps ownership of ctrl.
func NewReader(ctrl Controller) *Reader {
	return &Reader{ctrl: ctrl}
}

// Read returns n bytes of flash starting at addr. It is a debugging aid:
// addr is not checked against any region.
func (r *Reader) Read(addr uint32, n int) []byte {
	out := make([]byte, n)
	r.ctrl.Load(addr, out)
	return out
}

// Checksum returns the CRC-32 (IEEE) of n bytes of flash starting at addr.
func (r *Reader) Checksum(addr uint32, n int) uint32 {
	const block = 4 << 10

	h := crc.NewHash(crc.CRC32)
	buf := make([]byte, block)
	for n > 0 {
		k := min(n, block)
		r.ctrl.Load(addr, buf[:k])
		h.Update(buf[:k])
		addr += uint32(k)
		n -= k
	}
	return h.CRC32()
}

// Verify compares flash at addr with data and reports the first differing
// address.
func (r *Reader) Verify(addr uint32, data []byte) error {
	if r.Checksum(addr, len(data)) == ImageChecksum(data) {
		return nil
	}
	got := r.Read(addr, len(data))
	for i := range data {
		if got[i] != data[i] {
			return errors.Wrapf(ErrVerify, "at %#010x: got %#02x, want %#02x", addr+uint32(i), got[i], data[i])
		}
	}
	return nil
}

// Read returns n bytes of flash starting at addr. Like Reader.Read, addr is
// not checked against the Writer's region.
func (w *Writer) Read(addr uint32, n int) []byte { return w.reader().Read(addr, n) }

// Checksum returns the CRC-32 (IEEE) of n bytes of flash starting at addr.
func (w *Writer) Checksum(addr uint32, n int) uint32 { return w.reader().Checksum(addr, n) }

// Verify compares flash at addr with data; see Reader.Verify.
func (w *Writer) Verify(addr uint32, data []byte) error { return w.reader().Verify(addr, data) }

func (w *Writer) reader() *Reader { return &Reader{ctrl: w.ctrl} }

// ByteReader is implemented by Reader and Writer.
type ByteReader interface {
	Read(addr uint32, n int) []byte
}

// Word is a little-endian unit flash can be viewed as.
type Word interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// ReadAs returns count words of type T starting at addr. Like Read, it does
// no bounds checking.
func ReadAs[T Word](r ByteReader, addr uint32, count int) []T {
	var zero T
	size := binary.Size(zero)
	raw := r.Read(addr, size*count)
	out := make([]T, count)
	for i := range out {
		b := raw[i*size:]
		switch size {
		case 1:
			out[i] = T(b[0])
		case 2:
			out[i] = T(binary.LittleEndian.Uint16(b))
		case 4:
			out[i] = T(binary.LittleEndian.Uint32(b))
		default:
			out[i] = T(binary.LittleEndian.Uint64(b))
		}
	}
	return out
}

// ImageChecksum returns the CRC-32 (IEEE) of data, comparable with Checksum.
func ImageChecksum(data []byte) uint32 {
	return uint32(crc.CalculateCRC(crc.CRC32, data))
}

// ErrVerify reports flash contents that differ from the expected image.
var ErrVerify = errors.New("flash contents differ from image")
