package flashwriter

// DefaultMaxPolls bounds every BSY wait unless overridden with WithMaxPolls.
// A 2 KiB page erase takes at most ~25 ms [RM0351|Table 42], well below this
// many register reads on any supported core clock.
const DefaultMaxPolls = 1 << 20

// WaitReady polls BSY until it clears or maxPolls reads have been made. Once
// the controller is idle the status register is decoded with the family's
// flag map. A controller still busy after maxPolls reads yields
// ErrBusyTimeout; retrying is up to the caller.
//
// Like every routine that issues erase or program commands, WaitReady must
// not execute from the flash being modified.
func WaitReady(c Controller, f *Family, maxPolls int) error {
	for i := 0; i < maxPolls; i++ {
		if !c.Busy() {
			return DecodeStatus(c.Status(), f.StatusFlags)
		}
	}
	return ErrBusyTimeout
}
