package flashwriter

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by the engine. Erase and program failures are wrapped in
// ErrEraseFailed or ErrWriteFailed; the status kind underneath stays
// reachable with errors.Is.
var (
	ErrInvalidRange      = errors.New("invalid flash range")
	ErrWrongBank         = errors.New("address not in any flash bank")
	ErrBusyTimeout       = errors.New("flash busy timeout")
	ErrFlashLocked       = errors.New("flash locked")
	ErrEraseFailed       = errors.New("flash erase failed")
	ErrWriteFailed       = errors.New("flash write failed")
	ErrOutOfWriterMemory = errors.New("write past end of flash region")
	ErrReleased          = errors.New("flash writer released")

	// Status register error flags.
	ErrProgram      = errors.New("programming error (PROGERR)")
	ErrSize         = errors.New("size error (SIZERR)")
	ErrAlignment    = errors.New("programming alignment error (PGAERR)")
	ErrPageSequence = errors.New("programming sequence error (PGSERR)")
	ErrWriteProtect = errors.New("write protection error (WRPERR)")
	ErrMiss         = errors.New("fast programming data miss error (MISSERR)")
	ErrFastProgram  = errors.New("fast programming error (FASTERR)")
)

// opError annotates a failure with the address it happened at while keeping
// both the operation kind and the cause visible to errors.Is.
type opError struct {
	kind  error
	addr  uint32
	cause error
}

func (e *opError) Error() string {
	return fmt.Sprintf("%v at %#010x: %v", e.kind, e.addr, e.cause)
}

func (e *opError) Unwrap() []error { return []error{e.kind, e.cause} }

func eraseFailed(addr uint32, cause error) error {
	return &opError{kind: ErrEraseFailed, addr: addr, cause: cause}
}

func writeFailed(addr uint32, cause error) error {
	return &opError{kind: ErrWriteFailed, addr: addr, cause: cause}
}
