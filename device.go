package flashwriter

// Controller is the flash interface peripheral as the engine sees it: the
// named register fields it touches and nothing else. Implementations must
// not cache reads; every call reflects the hardware at that moment.
//
// A Controller has a single owner. It is moved into a Writer by New and only
// handed back by Release.
type Controller interface {
	// Busy reports FLASH_SR.BSY.
	Busy() bool
	// Status returns a raw FLASH_SR snapshot.
	Status() uint32
	// ClearStatus clears the given FLASH_SR flags (write-one-to-clear).
	ClearStatus(mask uint32)

	// Locked reports FLASH_CR.LOCK.
	Locked() bool
	// Lock sets FLASH_CR.LOCK.
	Lock()
	// WriteKey writes one word to FLASH_KEYR.
	WriteKey(key uint32)
	// EnableEOPInterrupt sets FLASH_CR.EOPIE.
	EnableEOPInterrupt()

	// SetPageErase sets or clears FLASH_CR.PER.
	SetPageErase(on bool)
	// SelectBank sets FLASH_CR.BKER to bank. Single bank parts ignore it.
	SelectBank(bank int)
	// SetPage names the page to erase: FLASH_AR for address-register
	// families, FLASH_CR.PNB for page-number families.
	SetPage(page uint32)
	// Start sets FLASH_CR.STRT.
	Start()

	// SetProgram sets or clears FLASH_CR.PG.
	SetProgram(on bool)
	// Store performs the volatile store of one program chunk of width bytes
	// at addr.
	Store(addr uint32, chunk uint64, width int)
	// Load copies flash contents starting at addr into p.
	Load(addr uint32, p []byte)

	// SizeKB reads the flash size descriptor.
	SizeKB() uint16
}
