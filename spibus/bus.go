package spibus

// Speed selects one of the two SPI clock regimes used by SD/MMC cards.
type Speed int

// Clock regimes.
const (
	// SpeedSlow is the identification clock (100 to 400 kHz) used from
	// power-up until a card finishes initialization.
	SpeedSlow Speed = iota
	// SpeedFast is the data transfer clock.
	SpeedFast
)

// String returns a string representation of the speed.
func (s Speed) String() string {
	switch s {
	case SpeedSlow:
		return "slow"
	case SpeedFast:
		return "fast"
	default:
		return "unknown"
	}
}

// Idle is the byte clocked out when only input is wanted, and the byte a
// released MISO line reads back as.
const Idle = 0xFF

// Bus is a synchronous full-duplex serial bus wired to one card socket.
//
// Bus methods do not return errors. A card reports every failure through
// its response bytes, so an adapter that hits a hardware error records it,
// logs it, and reads back Idle, which the card engine sees as a missing
// response.
type Bus interface {
	// Exchange clocks out one byte and returns the byte clocked in.
	Exchange(out byte) byte

	// Receive clocks out Idle bytes and stores the input in buf.
	Receive(buf []byte)

	// Transmit clocks out buf and discards the input.
	Transmit(buf []byte)

	// Select drives chip select low.
	Select()

	// Deselect drives chip select high.
	Deselect()

	// SetSpeed switches the clock regime.
	SetSpeed(s Speed)
}

// PowerSwitch is implemented by buses that can gate power to the socket.
type PowerSwitch interface {
	PowerOn()
	PowerOff()
}

// PowerOn powers the socket if b implements PowerSwitch.
func PowerOn(b Bus) {
	if p, ok := b.(PowerSwitch); ok {
		p.PowerOn()
	}
}

// PowerOff removes socket power if b implements PowerSwitch.
func PowerOff(b Bus) {
	if p, ok := b.(PowerSwitch); ok {
		p.PowerOff()
	}
}
