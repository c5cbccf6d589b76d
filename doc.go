// Package flashwriter erases and programs the internal flash of an STM32
// class microcontroller, including the flash the caller may be executing
// from.
//
// A Writer owns a Controller (the flash interface registers) for its whole
// lifetime. Bytes handed to Write are coalesced into program chunks of the
// width the family requires; Flush pads and commits the tail and re-locks the
// controller. Release hands the Controller back.
//
//	w, err := flashwriter.New(flashwriter.STM32L4, 0x0804_0000, 0x0804_7FFF, ctrl)
//	if err != nil { ... }
//	if err := w.Erase(); err != nil { ... }
//	if _, err := io.Copy(w, img); err != nil { ... }
//	if err := w.Flush(); err != nil { ... }
//	ctrl = w.Release()
//
// Every routine that polls BSY or issues an erase/program command must run
// from memory other than the flash being modified. Controllers are expected
// to guarantee that (see package mmio).
//
// # References:
//
// STMicroelectronics reference manuals
//   - [RM0091]: STM32F0x1/x2/x8 reference manual, 3 Embedded flash memory (https://www.st.com/resource/en/reference_manual/rm0091-stm32f0x1stm32f0x2stm32f0x8-advanced-armbased-32bit-mcus-stmicroelectronics.pdf)
//   - [RM0444]: STM32G0x1 reference manual, 3 Embedded flash memory (https://www.st.com/resource/en/reference_manual/rm0444-stm32g0x1-advanced-armbased-32bit-mcus-stmicroelectronics.pdf)
//   - [RM0351]: STM32L4x5/L4x6 reference manual, 3 Embedded flash memory (https://www.st.com/resource/en/reference_manual/rm0351-stm32l47xxx-stm32l48xxx-stm32l49xxx-and-stm32l4axxx-advanced-armbased-32bit-mcus-stmicroelectronics.pdf)
package flashwriter
