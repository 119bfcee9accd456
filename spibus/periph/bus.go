// Package periph adapts periph.io SPI ports to [spibus.Bus].
//
// Chip select is driven through a separate GPIO so that it can stay low
// across the many short transactions of one card command. Ports that toggle
// their own chip select (FTDI MPSSE asserts D3 around every Tx) should have
// the card wired to another pin, or be opened with [spi.NoCS] where the
// driver honors it.
package periph

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/spibus"
)

// Default clock regimes.
const (
	DefaultSlowClock = 400 * physic.KiloHertz
	DefaultFastClock = 20 * physic.MegaHertz
)

// Opener opens the SPI port. It is called again on every clock regime
// change, after the previous port has been closed.
type Opener func() (spi.PortCloser, error)

// Config holds the connection parameters.
type Config struct {
	Slow physic.Frequency // Identification clock, DefaultSlowClock if zero
	Fast physic.Frequency // Transfer clock, DefaultFastClock if zero
	Mode spi.Mode         // Usually spi.Mode0
}

var _ spibus.Bus = (*Bus)(nil)

// Bus is a [spibus.Bus] over a periph.io SPI port and a GPIO chip select.
type Bus struct {
	open Opener
	cfg  Config
	cs   gpio.PinOut

	mu      sync.Mutex
	port    spi.PortCloser
	conn    spi.Conn
	speed   spibus.Speed
	scratch []byte
	err     error
}

// New connects at the slow clock and releases chip select.
func New(open Opener, cs gpio.PinOut, cfg Config) (*Bus, error) {
	if open == nil || cs == nil {
		return nil, fmt.Errorf("periph: %w", pkg.ErrParam)
	}
	if cfg.Slow == 0 {
		cfg.Slow = DefaultSlowClock
	}
	if cfg.Fast == 0 {
		cfg.Fast = DefaultFastClock
	}
	b := &Bus{open: open, cfg: cfg, cs: cs, speed: spibus.SpeedSlow}
	if err := b.connect(cfg.Slow); err != nil {
		return nil, err
	}
	if err := cs.Out(gpio.High); err != nil {
		b.port.Close()
		return nil, fmt.Errorf("periph: release chip select: %w", err)
	}
	return b, nil
}

func (b *Bus) connect(f physic.Frequency) error {
	if b.port != nil {
		if err := b.port.Close(); err != nil {
			pkg.LogWarn(pkg.ComponentSPI, "close port", "error", err)
		}
		b.port, b.conn = nil, nil
	}
	port, err := b.open()
	if err != nil {
		return fmt.Errorf("periph: open port: %w", err)
	}
	conn, err := port.Connect(f, b.cfg.Mode, 8)
	if err != nil {
		port.Close()
		return fmt.Errorf("periph: connect at %s: %w", f, err)
	}
	b.port, b.conn = port, conn
	pkg.LogDebug(pkg.ComponentSPI, "connected", "clock", f.String(), "mode", b.cfg.Mode)
	return nil
}

// fail records the first error. Callers hold b.mu.
func (b *Bus) fail(op string, err error) {
	if b.err == nil {
		b.err = fmt.Errorf("periph: %s: %w", op, err)
	}
	pkg.LogWarn(pkg.ComponentSPI, "bus error", "op", op, "error", err)
}

func (b *Bus) tx(w, r []byte) bool {
	if b.conn == nil {
		b.fail("tx", errors.New("not connected"))
		return false
	}
	if err := b.conn.Tx(w, r); err != nil {
		b.fail("tx", err)
		return false
	}
	return true
}

// Exchange clocks out one byte and returns the byte clocked in.
func (b *Bus) Exchange(out byte) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	w := [1]byte{out}
	var r [1]byte
	if !b.tx(w[:], r[:]) {
		return spibus.Idle
	}
	return r[0]
}

// Receive clocks out Idle bytes and stores the input in buf.
func (b *Bus) Receive(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range buf {
		buf[i] = spibus.Idle
	}
	if !b.tx(buf, buf) {
		for i := range buf {
			buf[i] = spibus.Idle
		}
	}
}

// Transmit clocks out buf.
func (b *Bus) Transmit(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cap(b.scratch) < len(buf) {
		b.scratch = make([]byte, len(buf))
	}
	b.tx(buf, b.scratch[:len(buf)])
}

// Select drives chip select low.
func (b *Bus) Select() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.cs.Out(gpio.Low); err != nil {
		b.fail("select", err)
	}
}

// Deselect drives chip select high.
func (b *Bus) Deselect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.cs.Out(gpio.High); err != nil {
		b.fail("deselect", err)
	}
}

// SetSpeed reconnects the port at the regime's clock.
func (b *Bus) SetSpeed(s spibus.Speed) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == b.speed && b.conn != nil {
		return
	}
	f := b.cfg.Slow
	if s == spibus.SpeedFast {
		f = b.cfg.Fast
	}
	if err := b.connect(f); err != nil {
		b.fail("set speed", err)
		return
	}
	b.speed = s
}

// Err returns the first error recorded since the last ClearErr.
func (b *Bus) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// ClearErr forgets the recorded error.
func (b *Bus) ClearErr() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = nil
}

// Close releases chip select and the port.
func (b *Bus) Close() (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.cs.Out(gpio.High)
	if b.port != nil {
		if closeErr := b.port.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		b.port, b.conn = nil, nil
	}
	return err
}
