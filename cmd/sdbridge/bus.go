package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"

	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/sdcard"
	"github.com/ardnew/sdbridge/sdcard/sdsim"
	"github.com/ardnew/sdbridge/spibus"
	"github.com/ardnew/sdbridge/spibus/buspirate"
	"github.com/ardnew/sdbridge/spibus/periph"
)

// Bus names accepted by --bus.
const (
	busSim       = "sim"
	busFTDI      = "ftdi"
	busSpidev    = "spidev"
	busBusPirate = "buspirate"
)

type busOptions struct {
	bus     string
	device  string
	cs      string
	image   string
	kind    string
	sectors uint32
}

// cardBus is an opened bus with its optional socket switches.
type cardBus struct {
	bus    spibus.Bus
	socket sdcard.Socket
	close  func() error
}

func openBus(opts *busOptions) (*cardBus, error) {
	switch opts.bus {
	case busSim:
		return openSim(opts)
	case busFTDI:
		return openFTDI(opts.cs)
	case busSpidev:
		return openSpidev(opts.device, opts.cs)
	case busBusPirate:
		if opts.device == "" {
			return nil, errors.New("--device is required for the Bus Pirate")
		}
		b, err := buspirate.Open(opts.device, buspirate.Config{})
		if err != nil {
			return nil, err
		}
		return &cardBus{bus: b, close: b.Close}, nil
	}
	return nil, fmt.Errorf("unknown bus %q", opts.bus)
}

func openSim(opts *busOptions) (*cardBus, error) {
	kind, err := sdsim.ParseKind(opts.kind)
	if err != nil {
		return nil, err
	}
	cfg := sdsim.Config{Kind: kind, Sectors: opts.sectors}

	if opts.image == "" {
		sim := sdsim.New(cfg, nil)
		return &cardBus{bus: sim, socket: sim, close: func() error { return nil }}, nil
	}

	f, err := os.OpenFile(opts.image, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	cfg.Sectors = uint32(st.Size() / sdcard.SectorSize)
	sim := sdsim.New(cfg, f)

	pkg.LogInfo(component, "emulated card",
		"kind", kind,
		"image", opts.image,
		"sectors", sim.Config().Sectors)

	return &cardBus{bus: sim, socket: sim, close: f.Close}, nil
}

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

func openFTDI(cs string) (*cardBus, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("host initialization failed: %w", err)
	}

	var ft *ftdi.FT232H
	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		if d, ok := dev.(*ftdi.FT232H); ok {
			d.Info(&info)
			ft = d
			break
		}
	}
	if ft == nil {
		return nil, errors.New("no FT232H/FT2232H MPSSE device found")
	}

	pin, err := ftdiPin(ft, cs)
	if err != nil {
		return nil, err
	}
	pkg.LogInfo(component, "FTDI bus",
		"vendor", fmt.Sprintf("%04x", info.VenID),
		"product", fmt.Sprintf("%04x", info.DevID),
		"cs", pin.Name())

	b, err := periph.New(ft.SPI, pin, periph.Config{Mode: spi.Mode0})
	if err != nil {
		return nil, err
	}
	return &cardBus{bus: b, close: b.Close}, nil
}

// ftdiPin maps a D3-D7 name to the ADBUS pin. D3 is the MPSSE chip select,
// which is toggled around every transaction; D4 is the default.
func ftdiPin(ft *ftdi.FT232H, name string) (gpio.PinIO, error) {
	switch strings.ToUpper(name) {
	case "", "D4":
		return ft.D4, nil
	case "D3":
		return ft.D3, nil
	case "D5":
		return ft.D5, nil
	case "D6":
		return ft.D6, nil
	case "D7":
		return ft.D7, nil
	}
	return nil, fmt.Errorf("FTDI chip select %q: want D3-D7", name)
}

func openSpidev(port, cs string) (*cardBus, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("host initialization failed: %w", err)
	}
	if cs == "" {
		return nil, errors.New("--cs is required for spidev")
	}
	pin := gpioreg.ByName(cs)
	if pin == nil {
		return nil, fmt.Errorf("GPIO %q not found", cs)
	}

	open := func() (spi.PortCloser, error) { return spireg.Open(port) }
	b, err := periph.New(open, pin, periph.Config{Mode: spi.Mode0 | spi.NoCS})
	if err != nil {
		return nil, err
	}
	return &cardBus{bus: b, close: b.Close}, nil
}

// withCard opens the bus, starts the card's tick goroutine, initializes the
// card and calls fn. The ticker stops when fn returns.
func withCard(ctx context.Context, opts *busOptions, fn func(context.Context, *sdcard.Card) error) error {
	bus, err := openBus(opts)
	if err != nil {
		return err
	}
	defer bus.close()

	var copts []sdcard.Option
	if bus.socket != nil {
		copts = append(copts, sdcard.WithSocket(bus.socket))
	}
	card := sdcard.New(bus.bus, copts...)

	g, gctx := errgroup.WithContext(ctx)
	tctx, stopTicks := context.WithCancel(gctx)
	g.Go(func() error {
		if err := card.Run(tctx, sdcard.TickPeriod); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer stopTicks()
		if err := card.Initialize(); err != nil {
			return fmt.Errorf("initialize card: %w", err)
		}
		pkg.LogInfo(component, "card initialized", "type", card.Type())
		return fn(gctx, card)
	})
	return g.Wait()
}
