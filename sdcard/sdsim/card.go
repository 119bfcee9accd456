package sdsim

import (
	"sync"
	"sync/atomic"

	"github.com/ardnew/sdbridge/sdcard"
	"github.com/ardnew/sdbridge/spibus"
)

// Op is one command frame the simulated card decoded.
type Op struct {
	Cmd sdcard.Command
	Arg uint32
}

type state int

const (
	stateCommand    state = iota // Waiting for a command frame
	stateReadStream              // Sending blocks until STOP_TRANSMISSION
	stateWrite                   // Waiting for a data token
	stateWriteData               // Receiving a data block
)

// R1 and data response values driven by the card.
const (
	r1Idle     = byte(sdcard.R1Idle)
	r1Illegal  = byte(sdcard.R1IllegalCommand)
	r1CRC      = byte(sdcard.R1CRCError)
	r1EraseSeq = byte(sdcard.R1EraseSequence)
	r1Address  = byte(sdcard.R1AddressError)
	r1Param    = byte(sdcard.R1ParameterError)

	tokenOutOfRange = 0x08 // Data error token
	isdioMaskedBit  = 0x04000000
)

// Card emulates an SD or MMC card in SPI mode behind a socket with power
// gating and card detect and write protect switches. It implements
// spibus.Bus, spibus.PowerSwitch and sdcard.Socket.
type Card struct {
	cfg   Config
	media Media

	csd sdcard.CSD
	cid sdcard.CID
	sds sdcard.SDStatus

	present atomic.Bool
	protect atomic.Bool

	mu       sync.Mutex
	powered  bool
	selected bool
	speed    spibus.Speed
	stuck    bool
	reject   bool

	spi   bool // CMD0 seen since power up
	idle  bool
	polls int
	app   bool

	frame []byte
	out   []byte
	busy  int

	state  state
	multi  bool
	isdio  bool
	sector uint32
	arg    uint32
	rx     []byte

	eraseStart, eraseEnd uint32
	eraseSet             uint8

	regs map[uint32]byte

	exchanges int
	log       []Op
}

// New returns a powered-off card in its socket. A nil media allocates a
// zeroed Memory matching the configured capacity.
func New(cfg Config, media Media) *Card {
	cfg = cfg.normalize()
	if media == nil {
		media = NewMemory(int64(cfg.Sectors) * sdcard.SectorSize)
	}
	c := &Card{
		cfg:   cfg,
		media: media,
		csd:   cfg.csd(),
		cid:   cfg.cid(),
		sds:   cfg.sdStatus(),
		regs:  make(map[uint32]byte),
	}
	c.present.Store(true)
	return c
}

// Config returns the configuration with defaults applied and the capacity
// rounded.
func (c *Card) Config() Config { return c.cfg }

// Media returns the backing store.
func (c *Card) Media() Media { return c.media }

// CardPresent implements sdcard.Socket.
func (c *Card) CardPresent() bool { return c.present.Load() }

// WriteProtected implements sdcard.Socket.
func (c *Card) WriteProtected() bool { return c.protect.Load() }

// SetPresent inserts or removes the card. Removal discards all protocol
// state.
func (c *Card) SetPresent(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.present.Store(v)
	if !v {
		c.reset()
	}
}

// SetWriteProtect sets the write protect switch.
func (c *Card) SetWriteProtect(v bool) { c.protect.Store(v) }

// SetStuckBusy makes the card hold MISO low whenever it would be idle.
func (c *Card) SetStuckBusy(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stuck = v
}

// SetRejectWrites makes the card answer every data block with a CRC
// error.
func (c *Card) SetRejectWrites(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = v
}

// Powered reports whether socket power is on.
func (c *Card) Powered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powered
}

// Speed returns the last clock regime set on the bus.
func (c *Card) Speed() spibus.Speed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Exchanges returns the number of bytes clocked since the last ResetLog.
func (c *Card) Exchanges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchanges
}

// Log returns the commands decoded since the last ResetLog.
func (c *Card) Log() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Op(nil), c.log...)
}

// ResetLog clears the command log and the exchange counter.
func (c *Card) ResetLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log, c.exchanges = nil, 0
}

// Register returns one byte of an iSDIO register space.
func (c *Card) Register(fn uint8, addr uint32) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[regKey(fn, addr)]
}

// SetRegister stores one byte of an iSDIO register space.
func (c *Card) SetRegister(fn uint8, addr uint32, v byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[regKey(fn, addr)] = v
}

func regKey(fn uint8, addr uint32) uint32 {
	return uint32(fn&7)<<17 | addr&0x1FFFF
}

// PowerOn implements spibus.PowerSwitch.
func (c *Card) PowerOn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.powered {
		c.powered = true
		c.reset()
	}
}

// PowerOff implements spibus.PowerSwitch.
func (c *Card) PowerOff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.powered = false
	c.reset()
}

func (c *Card) reset() {
	c.spi, c.idle, c.app = false, true, false
	c.polls = c.cfg.IdlePolls
	c.frame, c.out, c.busy = c.frame[:0], nil, 0
	c.state, c.eraseSet = stateCommand, 0
}

// Select implements spibus.Bus.
func (c *Card) Select() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = true
}

// Deselect implements spibus.Bus. The card abandons any transfer in
// progress but stays busy.
func (c *Card) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = false
	c.frame, c.out = c.frame[:0], nil
	c.state = stateCommand
}

// SetSpeed implements spibus.Bus.
func (c *Card) SetSpeed(s spibus.Speed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = s
}

// Exchange implements spibus.Bus.
func (c *Card) Exchange(b byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange(b)
}

// Receive implements spibus.Bus.
func (c *Card) Receive(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range buf {
		buf[i] = c.exchange(spibus.Idle)
	}
}

// Transmit implements spibus.Bus.
func (c *Card) Transmit(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range buf {
		c.exchange(b)
	}
}

func (c *Card) exchange(in byte) byte {
	c.exchanges++
	if !c.powered || !c.present.Load() {
		return spibus.Idle
	}
	if !c.selected {
		if c.busy > 0 {
			c.busy--
		}
		return spibus.Idle
	}
	out := c.output()
	c.input(in)
	return out
}

func (c *Card) output() byte {
	if len(c.out) == 0 && c.state == stateReadStream {
		c.queueStreamBlock()
	}
	if len(c.out) > 0 {
		b := c.out[0]
		c.out = c.out[1:]
		return b
	}
	if c.busy > 0 {
		c.busy--
		return 0x00
	}
	if c.stuck {
		return 0x00
	}
	return spibus.Idle
}

func (c *Card) input(in byte) {
	switch c.state {
	case stateWrite:
		switch {
		case in == sdcard.TokenStartBlock && !c.multi,
			in == sdcard.TokenStartMultiWrite && c.multi:
			c.state, c.rx = stateWriteData, c.rx[:0]
			return
		case in == sdcard.TokenStopTran && c.multi:
			c.state, c.busy = stateCommand, c.cfg.BusyBytes
			return
		case in&0xC0 != 0x40:
			return
		}
		c.state = stateCommand

	case stateWriteData:
		c.rx = append(c.rx, in)
		if len(c.rx) == sdcard.SectorSize+2 {
			c.commitBlock()
		}
		return
	}

	if len(c.frame) == 0 && in&0xC0 != 0x40 {
		return
	}
	c.frame = append(c.frame, in)
	if len(c.frame) == sdcard.FrameSize {
		c.command(c.frame)
		c.frame = c.frame[:0]
	}
}

// reply queues one byte of response latency, the R1 byte and any trailing
// response bytes.
func (c *Card) reply(r1 byte, extra ...byte) {
	if c.idle {
		r1 |= r1Idle
	}
	c.out = append(c.out, spibus.Idle, r1)
	c.out = append(c.out, extra...)
}

// queueData queues a data packet with a dummy CRC.
func (c *Card) queueData(data []byte) {
	c.out = append(c.out, spibus.Idle, sdcard.TokenStartBlock)
	c.out = append(c.out, data...)
	c.out = append(c.out, spibus.Idle, spibus.Idle)
}

func (c *Card) queueStreamBlock() {
	var buf [sdcard.SectorSize]byte
	if c.sector >= c.cfg.Sectors || !c.readSector(buf[:], c.sector) {
		c.out = append(c.out, spibus.Idle, tokenOutOfRange)
		c.state = stateCommand
		return
	}
	c.sector++
	c.queueData(buf[:])
}

func (c *Card) readSector(buf []byte, sector uint32) bool {
	_, err := c.media.ReadAt(buf, int64(sector)*sdcard.SectorSize)
	return err == nil
}

// sectorOf converts a data command argument to a sector number.
func (c *Card) sectorOf(arg uint32) (uint32, bool) {
	s := arg
	if !c.cfg.Kind.blockAddressed() {
		if arg%sdcard.SectorSize != 0 {
			return 0, false
		}
		s = arg / sdcard.SectorSize
	}
	return s, s < c.cfg.Sectors
}

func (c *Card) ocr() []byte {
	ocr := []byte{0x00, 0xFF, 0x80, 0x00} // 2.7 to 3.6 V
	if !c.idle {
		ocr[0] |= 0x80
		if c.cfg.Kind.blockAddressed() {
			ocr[0] |= 0x40
		}
	}
	return ocr
}

func (c *Card) leaveIdle() {
	if c.polls > 0 {
		c.polls--
		return
	}
	c.idle = false
}

func (c *Card) command(frame []byte) {
	index, arg, ok := sdcard.ParseFrame(frame)
	if !ok {
		return
	}
	cmd := sdcard.Command{Index: index, App: c.app}
	c.app = false
	c.log = append(c.log, Op{Cmd: cmd, Arg: arg})

	if cmd == sdcard.CmdStopTransmission && c.spi {
		c.state, c.out = stateCommand, []byte{spibus.Idle} // Stuff byte
		c.reply(0)
		c.busy = c.cfg.BusyBytes
		return
	}
	c.state = stateCommand
	if !c.spi && cmd != sdcard.CmdGoIdleState {
		return
	}

	sd := c.cfg.Kind != KindMMC
	switch cmd {
	case sdcard.CmdGoIdleState:
		if frame[5] != 0x95 {
			c.reply(r1CRC)
			return
		}
		c.reset()
		c.spi = true
		c.reply(0)
		return

	case sdcard.CmdSendIfCond:
		if c.cfg.Kind != KindSDv2Block && c.cfg.Kind != KindSDv2Byte {
			c.reply(r1Illegal)
		} else if frame[5] != 0x87 {
			c.reply(r1CRC)
		} else {
			c.reply(0, 0x00, 0x00, byte(arg>>8)&0x0F, byte(arg))
		}
		return

	case sdcard.CmdAppCmd:
		if !sd {
			c.reply(r1Illegal)
			return
		}
		c.app = true
		c.reply(0)
		return

	case sdcard.ACmdSDSendOpCond:
		c.leaveIdle()
		c.reply(0)
		return

	case sdcard.CmdSendOpCond:
		if sd {
			c.reply(r1Illegal)
			return
		}
		c.leaveIdle()
		c.reply(0)
		return

	case sdcard.CmdReadOCR:
		c.reply(0, c.ocr()...)
		return
	}

	if c.idle {
		c.reply(r1Illegal)
		return
	}
	c.dataCommand(cmd, arg)
}

func (c *Card) dataCommand(cmd sdcard.Command, arg uint32) {
	switch cmd {
	case sdcard.CmdSetBlockLen:
		if !c.cfg.Kind.blockAddressed() && arg != sdcard.SectorSize {
			c.reply(r1Param)
			return
		}
		c.reply(0)

	case sdcard.CmdSendCSD:
		c.reply(0)
		c.queueData(c.csd[:])

	case sdcard.CmdSendCID:
		c.reply(0)
		c.queueData(c.cid[:])

	case sdcard.ACmdSDStatus:
		c.reply(0, 0x00)
		c.queueData(c.sds[:])

	case sdcard.CmdReadSingleBlock:
		var buf [sdcard.SectorSize]byte
		sector, ok := c.sectorOf(arg)
		if !ok || !c.readSector(buf[:], sector) {
			c.reply(r1Address)
			return
		}
		c.reply(0)
		c.queueData(buf[:])

	case sdcard.CmdReadMultipleBlock:
		sector, ok := c.sectorOf(arg)
		if !ok {
			c.reply(r1Address)
			return
		}
		c.reply(0)
		c.state, c.sector = stateReadStream, sector

	case sdcard.CmdWriteBlock, sdcard.CmdWriteMultipleBlock:
		sector, ok := c.sectorOf(arg)
		if !ok {
			c.reply(r1Address)
			return
		}
		c.reply(0)
		c.state, c.sector = stateWrite, sector
		c.multi, c.isdio = cmd == sdcard.CmdWriteMultipleBlock, false

	case sdcard.ACmdSetWrBlkEraseCount, sdcard.CmdSetBlockCount:
		c.reply(0)

	case sdcard.CmdEraseWrBlkStart, sdcard.CmdEraseWrBlkEnd:
		sector, ok := c.sectorOf(arg)
		if !ok {
			c.reply(r1Address)
			return
		}
		if cmd == sdcard.CmdEraseWrBlkStart {
			c.eraseStart, c.eraseSet = sector, 1
		} else if c.eraseSet&1 != 0 {
			c.eraseEnd, c.eraseSet = sector, c.eraseSet|2
		}
		c.reply(0)

	case sdcard.CmdErase:
		if c.eraseSet != 3 || c.eraseEnd < c.eraseStart {
			c.eraseSet = 0
			c.reply(r1EraseSeq)
			return
		}
		var zero [sdcard.SectorSize]byte
		for s := c.eraseStart; s <= c.eraseEnd; s++ {
			c.media.WriteAt(zero[:], int64(s)*sdcard.SectorSize)
		}
		c.eraseSet = 0
		c.reply(0)
		c.busy = c.cfg.EraseBusy

	case sdcard.CmdReadExtrSingle:
		c.reply(0)
		c.queueData(c.readRegisters(arg))

	case sdcard.CmdWriteExtrSingle:
		c.reply(0)
		c.state, c.arg = stateWrite, arg
		c.multi, c.isdio = false, true

	default:
		c.reply(r1Illegal)
	}
}

// commitBlock finishes a received data block and queues the data
// response.
func (c *Card) commitBlock() {
	data := c.rx[:sdcard.SectorSize]
	resp := byte(sdcard.DataResponseAccepted)
	switch {
	case c.reject:
		resp = sdcard.DataResponseCRCError
	case c.isdio:
		c.writeRegisters(c.arg, data)
	case c.sector >= c.cfg.Sectors:
		resp = sdcard.DataResponseWriteErr
	default:
		if _, err := c.media.WriteAt(data, int64(c.sector)*sdcard.SectorSize); err != nil {
			resp = sdcard.DataResponseWriteErr
		}
	}
	c.out = append(c.out, 0xE0|resp)
	c.busy = c.cfg.BusyBytes
	c.sector++
	if c.multi {
		c.state = stateWrite
	} else {
		c.state = stateCommand
	}
}

func (c *Card) readRegisters(arg uint32) []byte {
	fn, addr, n := uint8(arg>>28), (arg>>9)&0x1FFFF, arg&0x1FF+1
	buf := make([]byte, sdcard.SectorSize)
	for i := uint32(0); i < n; i++ {
		buf[i] = c.regs[regKey(fn, addr+i)]
	}
	return buf
}

func (c *Card) writeRegisters(arg uint32, data []byte) {
	fn, addr := uint8(arg>>28), (arg>>9)&0x1FFFF
	if arg&isdioMaskedBit != 0 {
		mask, k := byte(arg), regKey(fn, addr)
		c.regs[k] = c.regs[k]&^mask | data[0]&mask
		return
	}
	n := arg&0x1FF + 1
	for i := uint32(0); i < n; i++ {
		c.regs[regKey(fn, addr+i)] = data[i]
	}
}
