// Package tinygo adapts a TinyGo [drivers.SPI] peripheral to [spibus.Bus].
//
// On a microcontroller the adapter is typically built from machine.SPI0 and
// a machine.Pin chip select:
//
//	bus := tinygo.New(machine.SPI0, csPin, tinygo.Config{
//		Configure: func(hz uint32) error {
//			return machine.SPI0.Configure(machine.SPIConfig{Frequency: hz})
//		},
//	})
package tinygo

import (
	"fmt"

	"tinygo.org/x/drivers"

	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/spibus"
)

// Default clock regimes in hertz.
const (
	DefaultSlowHz = 400_000
	DefaultFastHz = 16_000_000
)

// Pin is a digital output. machine.Pin satisfies it.
type Pin interface {
	High()
	Low()
}

// Config holds the clock hook and regimes.
type Config struct {
	// Configure reprograms the peripheral clock. May be nil when the
	// peripheral runs at a fixed rate.
	Configure func(hz uint32) error

	SlowHz uint32 // DefaultSlowHz if zero
	FastHz uint32 // DefaultFastHz if zero
}

var _ spibus.Bus = (*Bus)(nil)

// Bus is a [spibus.Bus] over a TinyGo SPI peripheral.
type Bus struct {
	spi drivers.SPI
	cs  Pin
	cfg Config

	idle [512]byte
	err  error
}

// New returns a Bus with chip select released.
func New(spi drivers.SPI, cs Pin, cfg Config) *Bus {
	if cfg.SlowHz == 0 {
		cfg.SlowHz = DefaultSlowHz
	}
	if cfg.FastHz == 0 {
		cfg.FastHz = DefaultFastHz
	}
	b := &Bus{spi: spi, cs: cs, cfg: cfg}
	for i := range b.idle {
		b.idle[i] = spibus.Idle
	}
	cs.High()
	return b
}

func (b *Bus) fail(op string, err error) {
	if b.err == nil {
		b.err = fmt.Errorf("tinygo: %s: %w", op, err)
	}
	pkg.LogWarn(pkg.ComponentSPI, "bus error", "op", op, "error", err)
}

// Exchange clocks out one byte and returns the byte clocked in.
func (b *Bus) Exchange(out byte) byte {
	in, err := b.spi.Transfer(out)
	if err != nil {
		b.fail("transfer", err)
		return spibus.Idle
	}
	return in
}

// Receive clocks out Idle bytes and stores the input in buf.
func (b *Bus) Receive(buf []byte) {
	for len(buf) > 0 {
		n := min(len(buf), len(b.idle))
		if err := b.spi.Tx(b.idle[:n], buf[:n]); err != nil {
			b.fail("receive", err)
			copy(buf, b.idle[:n])
		}
		buf = buf[n:]
	}
}

// Transmit clocks out buf.
func (b *Bus) Transmit(buf []byte) {
	if err := b.spi.Tx(buf, nil); err != nil {
		b.fail("transmit", err)
	}
}

// Select drives chip select low.
func (b *Bus) Select() { b.cs.Low() }

// Deselect drives chip select high.
func (b *Bus) Deselect() { b.cs.High() }

// SetSpeed reprograms the peripheral clock through Config.Configure.
func (b *Bus) SetSpeed(s spibus.Speed) {
	if b.cfg.Configure == nil {
		return
	}
	hz := b.cfg.SlowHz
	if s == spibus.SpeedFast {
		hz = b.cfg.FastHz
	}
	if err := b.cfg.Configure(hz); err != nil {
		b.fail("configure", err)
	}
}

// Err returns the first recorded error.
func (b *Bus) Err() error { return b.err }
