package flashwriter

// eraseRange erases every page overlapping [start, end], lowest first, and
// stops at the first failure.
func (w *Writer) eraseRange(start, end uint32) error {
	ps := w.family.PageSize
	first := start - (start-w.family.Base)%ps
	total := int((uint64(end) - uint64(first) + uint64(ps)) / uint64(ps) * uint64(ps))

	for addr, done := first, 0; ; addr += ps {
		bank, err := w.layout.Lookup(addr)
		if err != nil {
			return err
		}
		if err := w.erasePage(bank, addr); err != nil {
			return eraseFailed(addr, err)
		}
		done += int(ps)
		w.log.Debug("page erased", "addr", addr, "bank", bank.Index)
		w.report("erasing", addr, done, total)

		if end-addr < ps {
			return nil
		}
	}
}

// erasePage issues one page erase [RM0351|3.3.6 Page erase].
// Must not execute from the flash being modified.
func (w *Writer) erasePage(bank Bank, addr uint32) error {
	c := w.ctrl
	c.ClearStatus(w.errMask | w.family.EOPMask)
	c.SetPageErase(true)
	c.SelectBank(bank.Index)
	switch w.family.Addressing {
	case PageNumber:
		c.SetPage(bank.PageIndex(addr, w.family.PageSize))
	default:
		c.SetPage(addr)
	}
	c.Start()

	err := WaitReady(c, w.family, w.maxPolls)
	c.SetPageErase(false)
	if err != nil {
		c.ClearStatus(w.errMask)
	}
	return err
}

func (w *Writer) report(phase string, addr uint32, done, total int) {
	if w.progress == nil {
		return
	}
	w.progress(Progress{Phase: phase, Addr: addr, Done: done, Total: total})
}
