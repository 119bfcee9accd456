// Package buspirate drives a Bus Pirate in binary SPI mode as a
// [spibus.Bus].
//
// The Bus Pirate is entered into raw bitbang mode ("BBIO1"), then SPI mode
// ("SPI1"). Every configuration command answers 0x01. Bulk transfers move
// up to 16 bytes per command and echo one input byte per output byte. The
// adapter also gates the Bus Pirate's power supply pins, so it implements
// [spibus.PowerSwitch].
package buspirate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/spibus"
)

// Binary mode commands.
const (
	cmdReset      = 0x00 // Enter or stay in raw bitbang mode
	cmdSPI        = 0x01 // Enter SPI mode from bitbang mode
	cmdCSLow      = 0x02
	cmdCSHigh     = 0x03
	cmdExit       = 0x0F // Leave binary mode
	cmdBulk       = 0x10 // Low nibble is length-1
	cmdPeripheral = 0x40 // 0100wxyz: power, pull-ups, AUX, CS
	cmdSpeed      = 0x60 // Low 3 bits select the clock
	cmdConfig     = 0x80 // 1000wxyz: 3.3V out, CKP, CKE, SMP
)

const (
	peripheralPower = 0x08
	peripheralCS    = 0x01

	// 3.3V push-pull output, idle-low clock, output on active-to-idle edge,
	// sample in the middle: SPI mode 0.
	configMode0 = cmdConfig | 0x08 | 0x02

	maxBulk     = 16
	maxResets   = 20
	ack         = 0x01
	defaultBaud = 115200
)

// SPIClock is a Bus Pirate SPI clock selector.
type SPIClock byte

// Bus Pirate SPI clocks.
const (
	Clock30kHz SPIClock = iota
	Clock125kHz
	Clock250kHz
	Clock1MHz
	Clock2MHz
	Clock2600kHz
	Clock4MHz
	Clock8MHz
)

// Config holds link and clock settings.
type Config struct {
	Baud        int           // Serial baud rate, 115200 if zero
	ReadTimeout time.Duration // Serial read timeout, 100ms if zero
	Slow        SPIClock      // Identification clock, Clock250kHz if zero
	Fast        SPIClock      // Transfer clock, Clock4MHz if zero
}

func (c *Config) defaults() {
	if c.Baud == 0 {
		c.Baud = defaultBaud
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	if c.Slow == 0 {
		c.Slow = Clock250kHz
	}
	if c.Fast == 0 {
		c.Fast = Clock4MHz
	}
}

var (
	_ spibus.Bus         = (*Bus)(nil)
	_ spibus.PowerSwitch = (*Bus)(nil)
)

// Bus is a [spibus.Bus] over a Bus Pirate in binary SPI mode.
type Bus struct {
	rw     io.ReadWriter
	closer io.Closer
	cfg    Config

	power bool
	csHi  bool

	tx  [1 + maxBulk]byte
	rx  [1 + maxBulk]byte
	err error
}

// Open opens the serial device and enters SPI mode.
func Open(device string, cfg Config) (*Bus, error) {
	cfg.defaults()
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("buspirate: open %s: %w", device, err)
	}
	if err := port.Flush(); err != nil {
		pkg.LogDebug(pkg.ComponentSPI, "flush", "error", err)
	}
	b, err := New(port, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	b.closer = port
	return b, nil
}

// New enters SPI mode over an already open link.
func New(rw io.ReadWriter, cfg Config) (*Bus, error) {
	cfg.defaults()
	b := &Bus{rw: rw, cfg: cfg, csHi: true}
	if err := b.enterBitbang(); err != nil {
		return nil, err
	}
	if _, err := rw.Write([]byte{cmdSPI}); err != nil {
		return nil, fmt.Errorf("buspirate: enter SPI: %w", err)
	}
	if err := b.expect("SPI1"); err != nil {
		return nil, err
	}
	if err := b.command(configMode0); err != nil {
		return nil, err
	}
	if err := b.command(cmdSpeed | byte(cfg.Slow&0x07)); err != nil {
		return nil, err
	}
	if err := b.command(b.peripherals()); err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentSPI, "bus pirate in SPI mode")
	return b, nil
}

func (b *Bus) enterBitbang() error {
	var got []byte
	in := make([]byte, 5)
	for i := 0; i < maxResets; i++ {
		if _, err := b.rw.Write([]byte{cmdReset}); err != nil {
			return fmt.Errorf("buspirate: reset: %w", err)
		}
		n, err := b.rw.Read(in)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("buspirate: reset: %w", err)
		}
		got = append(got, in[:n]...)
		if bytes.Contains(got, []byte("BBIO1")) {
			return nil
		}
	}
	return fmt.Errorf("buspirate: no BBIO1 after %d resets: %w", maxResets, pkg.ErrTimeout)
}

func (b *Bus) expect(want string) error {
	got := make([]byte, len(want))
	if _, err := io.ReadFull(b.rw, got); err != nil {
		return fmt.Errorf("buspirate: read %q: %w", want, err)
	}
	if string(got) != want {
		return fmt.Errorf("buspirate: got %q, want %q: %w", got, want, pkg.ErrIO)
	}
	return nil
}

// command sends a one byte command and checks the acknowledgement.
func (b *Bus) command(c byte) error {
	b.tx[0] = c
	if _, err := b.rw.Write(b.tx[:1]); err != nil {
		return fmt.Errorf("buspirate: command %#02x: %w", c, err)
	}
	if _, err := io.ReadFull(b.rw, b.rx[:1]); err != nil {
		return fmt.Errorf("buspirate: command %#02x: %w", c, err)
	}
	if b.rx[0] != ack {
		return fmt.Errorf("buspirate: command %#02x answered %#02x: %w", c, b.rx[0], pkg.ErrIO)
	}
	return nil
}

func (b *Bus) peripherals() byte {
	c := byte(cmdPeripheral)
	if b.power {
		c |= peripheralPower
	}
	if b.csHi {
		c |= peripheralCS
	}
	return c
}

func (b *Bus) fail(op string, err error) {
	if b.err == nil {
		b.err = err
	}
	pkg.LogWarn(pkg.ComponentSPI, "bus error", "op", op, "error", err)
}

// bulk exchanges up to maxBulk bytes. in may be nil.
func (b *Bus) bulk(out, in []byte) {
	n := len(out)
	b.tx[0] = cmdBulk | byte(n-1)
	copy(b.tx[1:], out)
	if _, err := b.rw.Write(b.tx[:1+n]); err != nil {
		b.fail("bulk", err)
		fillIdle(in)
		return
	}
	if _, err := io.ReadFull(b.rw, b.rx[:1+n]); err != nil {
		b.fail("bulk", err)
		fillIdle(in)
		return
	}
	if b.rx[0] != ack {
		b.fail("bulk", fmt.Errorf("buspirate: bulk answered %#02x: %w", b.rx[0], pkg.ErrIO))
		fillIdle(in)
		return
	}
	copy(in, b.rx[1:1+n])
}

func fillIdle(buf []byte) {
	for i := range buf {
		buf[i] = spibus.Idle
	}
}

// Exchange clocks out one byte and returns the byte clocked in.
func (b *Bus) Exchange(out byte) byte {
	var in [1]byte
	b.bulk([]byte{out}, in[:])
	return in[0]
}

// Receive clocks out Idle bytes and stores the input in buf.
func (b *Bus) Receive(buf []byte) {
	var idle [maxBulk]byte
	fillIdle(idle[:])
	for len(buf) > 0 {
		n := min(len(buf), maxBulk)
		b.bulk(idle[:n], buf[:n])
		buf = buf[n:]
	}
}

// Transmit clocks out buf.
func (b *Bus) Transmit(buf []byte) {
	for len(buf) > 0 {
		n := min(len(buf), maxBulk)
		b.bulk(buf[:n], nil)
		buf = buf[n:]
	}
}

// Select drives chip select low.
func (b *Bus) Select() {
	if err := b.command(cmdCSLow); err != nil {
		b.fail("select", err)
		return
	}
	b.csHi = false
}

// Deselect drives chip select high.
func (b *Bus) Deselect() {
	if err := b.command(cmdCSHigh); err != nil {
		b.fail("deselect", err)
		return
	}
	b.csHi = true
}

// SetSpeed selects the configured slow or fast SPI clock.
func (b *Bus) SetSpeed(s spibus.Speed) {
	clk := b.cfg.Slow
	if s == spibus.SpeedFast {
		clk = b.cfg.Fast
	}
	if err := b.command(cmdSpeed | byte(clk&0x07)); err != nil {
		b.fail("set speed", err)
	}
}

// PowerOn enables the Bus Pirate's supply outputs.
func (b *Bus) PowerOn() {
	b.power = true
	if err := b.command(b.peripherals()); err != nil {
		b.fail("power on", err)
	}
}

// PowerOff disables the Bus Pirate's supply outputs.
func (b *Bus) PowerOff() {
	b.power = false
	if err := b.command(b.peripherals()); err != nil {
		b.fail("power off", err)
	}
}

// Err returns the first recorded error.
func (b *Bus) Err() error { return b.err }

// Close powers down, leaves binary mode and closes the link if Open
// created it.
func (b *Bus) Close() error {
	b.power = false
	b.csHi = true
	err := b.command(b.peripherals())
	if _, werr := b.rw.Write([]byte{cmdReset, cmdExit}); werr != nil && err == nil {
		err = werr
	}
	if b.closer != nil {
		if cerr := b.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
