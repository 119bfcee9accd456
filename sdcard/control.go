package sdcard

import (
	"fmt"

	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/spibus"
)

// Control is a driver control request for Ioctl. The set is closed: every
// request type is defined in this package, and results are written back
// into the request.
type Control interface {
	control() string
}

// Sync waits for the card to finish pending writes.
type Sync struct{}

// SectorCount reads the capacity from the CSD.
type SectorCount struct {
	Count uint32 // Out: 512-byte sectors
}

// EraseBlockSize reads the erase unit size.
type EraseBlockSize struct {
	Sectors uint32 // Out: sectors per erase unit
}

// Trim erases the inclusive sector range [Start, End].
type Trim struct {
	Start, End uint32
}

// TypeQuery reports the negotiated card type.
type TypeQuery struct {
	Type Type // Out
}

// CSDRead reads the CSD register.
type CSDRead struct {
	Register CSD // Out
}

// CIDRead reads the CID register.
type CIDRead struct {
	Register CID // Out
}

// OCRRead reads the OCR register.
type OCRRead struct {
	Register OCR // Out
}

// SDStatusRead reads the SD status register.
type SDStatusRead struct {
	Register SDStatus // Out
}

// PowerOff removes power and marks the card uninitialized.
type PowerOff struct{}

// ISDIORead reads len(Data) bytes (1 to 512) from an iSDIO register
// space.
type ISDIORead struct {
	Func uint8  // Function number, 0 to 7
	Addr uint32 // Register address, 17 bits
	Data []byte // Out
}

// ISDIOWrite writes Data (1 to 512 bytes) to an iSDIO register space.
type ISDIOWrite struct {
	Func uint8
	Addr uint32
	Data []byte
}

// ISDIOMaskedWrite replaces the bits selected by Mask in one iSDIO
// register byte.
type ISDIOMaskedWrite struct {
	Func uint8
	Addr uint32
	Mask byte
	Data byte
}

func (*Sync) control() string             { return "sync" }
func (*SectorCount) control() string      { return "sector count" }
func (*EraseBlockSize) control() string   { return "erase block size" }
func (*Trim) control() string             { return "trim" }
func (*TypeQuery) control() string        { return "card type" }
func (*CSDRead) control() string          { return "read CSD" }
func (*CIDRead) control() string          { return "read CID" }
func (*OCRRead) control() string          { return "read OCR" }
func (*SDStatusRead) control() string     { return "read SD status" }
func (*PowerOff) control() string         { return "power off" }
func (*ISDIORead) control() string        { return "iSDIO read" }
func (*ISDIOWrite) control() string       { return "iSDIO write" }
func (*ISDIOMaskedWrite) control() string { return "iSDIO masked write" }

// Ioctl executes a control request. The card must be initialized.
func (c *Card) Ioctl(ctl Control) error {
	if ctl == nil {
		return fmt.Errorf("ioctl: %w", pkg.ErrParam)
	}
	if c.Status()&StatusNoInit != 0 {
		return fmt.Errorf("ioctl %s: %w", ctl.control(), pkg.ErrNotReady)
	}
	// The bus is left alone once the socket is unpowered.
	if _, ok := ctl.(*PowerOff); ok {
		c.powerOff()
		return nil
	}
	defer c.deselect()

	var ok bool
	switch r := ctl.(type) {
	case *Sync:
		ok = c.selectCard()

	case *SectorCount:
		var csd CSD
		if ok = c.readRegister(CmdSendCSD, csd[:]); ok {
			r.Count = csd.Sectors()
		}

	case *EraseBlockSize:
		ok = c.eraseBlockSize(r)

	case *Trim:
		return c.trim(r)

	case *TypeQuery:
		r.Type, ok = c.typ, true

	case *CSDRead:
		ok = c.readRegister(CmdSendCSD, r.Register[:])

	case *CIDRead:
		ok = c.readRegister(CmdSendCID, r.Register[:])

	case *OCRRead:
		if ok = c.sendCommand(CmdReadOCR, 0) == 0; ok {
			c.bus.Receive(r.Register[:])
		}

	case *SDStatusRead:
		if ok = c.sendCommand(ACmdSDStatus, 0) == 0; ok {
			c.bus.Exchange(spibus.Idle) // Second byte of R2
			ok = c.receiveDataBlock(r.Register[:])
		}

	case *ISDIORead:
		if !validISDIO(r.Data) {
			return fmt.Errorf("ioctl %s: %d bytes: %w", ctl.control(), len(r.Data), pkg.ErrParam)
		}
		ok = c.isdioRead(r)

	case *ISDIOWrite:
		if !validISDIO(r.Data) {
			return fmt.Errorf("ioctl %s: %d bytes: %w", ctl.control(), len(r.Data), pkg.ErrParam)
		}
		ok = c.isdioWrite(r)

	case *ISDIOMaskedWrite:
		ok = c.isdioMaskedWrite(r)

	default:
		return fmt.Errorf("ioctl %T: %w", ctl, pkg.ErrParam)
	}

	if !ok {
		return fmt.Errorf("ioctl %s: %w", ctl.control(), pkg.ErrIO)
	}
	return nil
}

// SectorCount returns the card capacity in sectors.
func (c *Card) SectorCount() (uint32, error) {
	var r SectorCount
	if err := c.Ioctl(&r); err != nil {
		return 0, err
	}
	return r.Count, nil
}

// Sync waits for pending writes to complete.
func (c *Card) Sync() error { return c.Ioctl(&Sync{}) }

func (c *Card) readRegister(cmd Command, buf []byte) bool {
	return c.sendCommand(cmd, 0) == 0 && c.receiveDataBlock(buf)
}

func (c *Card) eraseBlockSize(r *EraseBlockSize) bool {
	if c.typ&TypeSD2 != 0 {
		if c.sendCommand(ACmdSDStatus, 0) != 0 {
			return false
		}
		c.bus.Exchange(spibus.Idle)
		var st SDStatus
		if !c.receiveDataBlock(st[:16]) {
			return false
		}
		var rest [48]byte // Remaining status bytes and CRC
		c.bus.Receive(rest[:])
		r.Sectors = st.EraseBlockSectors()
		return true
	}
	var csd CSD
	if !c.readRegister(CmdSendCSD, csd[:]) {
		return false
	}
	r.Sectors = csd.EraseBlockSectors(c.typ)
	return true
}

func (c *Card) trim(r *Trim) error {
	if c.typ&TypeSDC == 0 {
		return fmt.Errorf("ioctl trim: %s: %w", c.typ, pkg.ErrNotSupported)
	}
	if r.End < r.Start {
		return fmt.Errorf("ioctl trim: range %d-%d: %w", r.Start, r.End, pkg.ErrParam)
	}
	var csd CSD
	if !c.readRegister(CmdSendCSD, csd[:]) {
		return fmt.Errorf("ioctl trim: read CSD: %w", pkg.ErrIO)
	}
	if csd.Structure() == 0 && !csd.EraseBlockEnabled() {
		return fmt.Errorf("ioctl trim: block erase disabled: %w", pkg.ErrNotSupported)
	}
	start, end := c.address(r.Start), c.address(r.End)
	if c.sendCommand(CmdEraseWrBlkStart, start) == 0 &&
		c.sendCommand(CmdEraseWrBlkEnd, end) == 0 &&
		c.sendCommand(CmdErase, 0) == 0 &&
		c.waitReady(eraseTimeout) {
		return nil
	}
	return fmt.Errorf("ioctl trim: sectors %d-%d: %w", r.Start, r.End, pkg.ErrIO)
}

func validISDIO(data []byte) bool {
	return len(data) > 0 && len(data) <= SectorSize
}

func isdioArg(fn uint8, addr uint32) uint32 {
	return 0x80000000 | uint32(fn&7)<<28 | (addr&0x1FFFF)<<9
}

func (c *Card) isdioRead(r *ISDIORead) bool {
	n := len(r.Data)
	if c.sendCommand(CmdReadExtrSingle, isdioArg(r.Func, r.Addr)|uint32(n-1)&0x1FF) != 0 {
		return false
	}
	c.data.Arm(ticks(isdioTimeout))
	var token byte
	for {
		token = c.bus.Exchange(spibus.Idle)
		if token != spibus.Idle || c.data.Expired() {
			break
		}
		c.yield()
	}
	if token != TokenStartBlock {
		return false
	}
	for i := range r.Data {
		r.Data[i] = c.bus.Exchange(spibus.Idle)
	}
	for i := SectorSize + 2 - n; i > 0; i-- { // Rest of the block and CRC
		c.bus.Exchange(spibus.Idle)
	}
	return true
}

func (c *Card) isdioWrite(r *ISDIOWrite) bool {
	n := len(r.Data)
	if c.sendCommand(CmdWriteExtrSingle, isdioArg(r.Func, r.Addr)|uint32(n-1)&0x1FF) != 0 {
		return false
	}
	c.bus.Exchange(spibus.Idle)
	c.bus.Exchange(TokenStartBlock)
	for _, b := range r.Data {
		c.bus.Exchange(b)
	}
	for i := SectorSize + 2 - n; i > 0; i-- {
		c.bus.Exchange(spibus.Idle)
	}
	return c.bus.Exchange(spibus.Idle)&DataResponseMask == DataResponseAccepted
}

func (c *Card) isdioMaskedWrite(r *ISDIOMaskedWrite) bool {
	arg := isdioArg(r.Func, r.Addr) | 0x04000000 | uint32(r.Mask)
	if c.sendCommand(CmdWriteExtrSingle, arg) != 0 {
		return false
	}
	c.bus.Exchange(spibus.Idle)
	c.bus.Exchange(TokenStartBlock)
	c.bus.Exchange(r.Data)
	for i := SectorSize + 1; i > 0; i-- {
		c.bus.Exchange(spibus.Idle)
	}
	return c.bus.Exchange(spibus.Idle)&DataResponseMask == DataResponseAccepted
}
