package sdcard

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/spibus"
)

// Socket reports the card socket switches. Sockets without the switches
// need not provide one.
type Socket interface {
	CardPresent() bool
	WriteProtected() bool
}

// Option configures a Card.
type Option func(*Card)

// WithSocket wires card detect and write protect switches.
func WithSocket(s Socket) Option {
	return func(c *Card) { c.socket = s }
}

// WithYield replaces the function called between busy-wait polls.
// The default is runtime.Gosched.
func WithYield(fn func()) Option {
	return func(c *Card) { c.yield = fn }
}

// Card is an SD/MMC card driven in SPI mode.
//
// All methods except TimerService and Status must be called from a single
// goroutine. TimerService runs on the periodic tick and touches only the
// timers and the status bits.
type Card struct {
	bus    spibus.Bus
	socket Socket
	yield  func()

	status atomic.Uint32
	typ    Type

	data  Timer // Data token waits, initialization budget
	ready Timer // Busy waits
}

// New returns an uninitialized card on bus.
func New(bus spibus.Bus, opts ...Option) *Card {
	c := &Card{bus: bus, yield: runtime.Gosched}
	c.status.Store(uint32(StatusNoInit))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current status bits.
func (c *Card) Status() Status { return Status(c.status.Load()) }

// Type returns the card type negotiated by the last Initialize.
func (c *Card) Type() Type { return c.typ }

// Initialize powers the card up, negotiates its type and switches the bus
// to the fast clock. A failed attempt leaves the card powered off; the
// caller may retry.
func (c *Card) Initialize() error {
	c.powerOff()
	c.data.Arm(ticks(powerOffDelay))
	for !c.data.Expired() {
		c.yield()
	}
	if c.Status()&StatusNoDisk != 0 {
		return fmt.Errorf("initialize: %w", pkg.ErrNoDisk)
	}

	c.powerOn()
	c.bus.SetSpeed(spibus.SpeedSlow)
	c.bus.Deselect()
	for n := 0; n < 10; n++ { // 80 dummy clocks
		c.bus.Exchange(spibus.Idle)
	}

	var ty Type
	step := CmdGoIdleState.String()
	if c.sendCommand(CmdGoIdleState, 0) == R1Idle {
		c.data.Arm(ticks(initTimeout))
		if c.sendCommand(CmdSendIfCond, 0x1AA) == R1Idle {
			ty, step = c.initSDv2()
		} else {
			ty, step = c.initLegacy()
		}
	}
	c.typ = ty
	c.deselect()

	if ty == 0 {
		c.powerOff()
		pkg.LogWarn(pkg.ComponentCard, "initialization failed", "step", step)
		return fmt.Errorf("initialize: %s: %w", step, pkg.ErrNotReady)
	}
	c.status.And(^uint32(StatusNoInit))
	c.bus.SetSpeed(spibus.SpeedFast)
	pkg.LogInfo(pkg.ComponentCard, "card initialized", "type", ty)
	return nil
}

// initSDv2 completes initialization of a card that echoed SEND_IF_COND.
func (c *Card) initSDv2() (Type, string) {
	var ocr [4]byte
	c.bus.Receive(ocr[:])
	if ocr[2] != 0x01 || ocr[3] != 0xAA {
		return 0, CmdSendIfCond.String() + " echo"
	}
	for !c.data.Expired() && c.sendCommand(ACmdSDSendOpCond, 1<<30) != 0 {
		c.yield()
	}
	if c.data.Expired() {
		return 0, ACmdSDSendOpCond.String()
	}
	if c.sendCommand(CmdReadOCR, 0) != 0 {
		return 0, CmdReadOCR.String()
	}
	c.bus.Receive(ocr[:])
	if OCR(ocr).HighCapacity() {
		return TypeSD2 | TypeBlock, ""
	}
	return TypeSD2, ""
}

// initLegacy tells SDv1 from MMCv3 and sets the block length.
func (c *Card) initLegacy() (Type, string) {
	ty, cmd := TypeSD1, ACmdSDSendOpCond
	if c.sendCommand(ACmdSDSendOpCond, 0) > R1Idle {
		ty, cmd = TypeMMC, CmdSendOpCond
	}
	for !c.data.Expired() && c.sendCommand(cmd, 0) != 0 {
		c.yield()
	}
	if c.data.Expired() {
		return 0, cmd.String()
	}
	if c.sendCommand(CmdSetBlockLen, SectorSize) != 0 {
		return 0, CmdSetBlockLen.String()
	}
	return ty, ""
}

// address converts a sector number to a command argument.
func (c *Card) address(sector uint32) uint32 {
	if c.typ&TypeBlock == 0 {
		return sector * SectorSize
	}
	return sector
}

// Read reads count sectors starting at sector into buf.
func (c *Card) Read(buf []byte, sector, count uint32) error {
	if count == 0 || uint64(len(buf)) < uint64(count)*SectorSize {
		return fmt.Errorf("read: %w", pkg.ErrParam)
	}
	if c.Status()&StatusNoInit != 0 {
		return fmt.Errorf("read: %w", pkg.ErrNotReady)
	}

	addr := c.address(sector)
	left := count
	if count == 1 {
		if c.sendCommand(CmdReadSingleBlock, addr) == 0 && c.receiveDataBlock(buf[:SectorSize]) {
			left = 0
		}
	} else if c.sendCommand(CmdReadMultipleBlock, addr) == 0 {
		for ; left > 0; left-- {
			if !c.receiveDataBlock(buf[:SectorSize]) {
				break
			}
			buf = buf[SectorSize:]
		}
		c.sendCommand(CmdStopTransmission, 0)
	}
	c.deselect()

	if left != 0 {
		return fmt.Errorf("read sector %d: %d of %d sectors: %w", sector, count-left, count, pkg.ErrIO)
	}
	return nil
}

// Write writes count sectors from buf starting at sector.
func (c *Card) Write(buf []byte, sector, count uint32) error {
	if count == 0 || uint64(len(buf)) < uint64(count)*SectorSize {
		return fmt.Errorf("write: %w", pkg.ErrParam)
	}
	st := c.Status()
	if st&StatusNoInit != 0 {
		return fmt.Errorf("write: %w", pkg.ErrNotReady)
	}
	if st&StatusProtect != 0 {
		return fmt.Errorf("write: %w", pkg.ErrWriteProtected)
	}

	addr := c.address(sector)
	left := count
	if count == 1 {
		if c.sendCommand(CmdWriteBlock, addr) == 0 && c.transmitDataBlock(buf, TokenStartBlock) {
			left = 0
		}
	} else {
		if c.typ&TypeSDC != 0 {
			c.sendCommand(ACmdSetWrBlkEraseCount, count)
		}
		if c.sendCommand(CmdWriteMultipleBlock, addr) == 0 {
			for ; left > 0; left-- {
				if !c.transmitDataBlock(buf, TokenStartMultiWrite) {
					break
				}
				buf = buf[SectorSize:]
			}
			if !c.transmitDataBlock(nil, TokenStopTran) {
				left = 1
			}
		}
	}
	c.deselect()

	if left != 0 {
		return fmt.Errorf("write sector %d: %d of %d sectors: %w", sector, count-left, count, pkg.ErrIO)
	}
	return nil
}

// TimerService advances both timers by one tick and samples the socket
// switches. Call it every TickPeriod from a source independent of the
// goroutine doing card I/O; without it every bounded wait spins forever.
func (c *Card) TimerService() {
	c.data.Tick()
	c.ready.Tick()

	if c.socket == nil {
		return
	}
	if c.socket.WriteProtected() {
		c.status.Or(uint32(StatusProtect))
	} else {
		c.status.And(^uint32(StatusProtect))
	}
	if c.socket.CardPresent() {
		if Status(c.status.And(^uint32(StatusNoDisk)))&StatusNoDisk != 0 {
			pkg.LogInfo(pkg.ComponentTimer, "card inserted")
		}
	} else {
		if Status(c.status.Or(uint32(StatusNoDisk|StatusNoInit)))&StatusNoDisk == 0 {
			pkg.LogInfo(pkg.ComponentTimer, "card removed")
		}
	}
}
