package spibus

// Exchanger clocks one byte in each direction.
type Exchanger interface {
	Exchange(out byte) byte
}

// ChipSelect drives a chip select line.
type ChipSelect interface {
	Select()
	Deselect()
}

// ByteBus builds a Bus from a single byte exchanger. Receive and Transmit
// move two bytes per iteration, so buffers must have even length.
type ByteBus struct {
	X  Exchanger
	CS ChipSelect

	// Speed is called on clock regime changes. May be nil.
	Speed func(Speed)
}

// Exchange clocks out one byte and returns the byte clocked in.
func (b *ByteBus) Exchange(out byte) byte {
	return b.X.Exchange(out)
}

// Receive fills buf with input while clocking out Idle.
func (b *ByteBus) Receive(buf []byte) {
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i] = b.X.Exchange(Idle)
		buf[i+1] = b.X.Exchange(Idle)
	}
}

// Transmit clocks out buf.
func (b *ByteBus) Transmit(buf []byte) {
	for i := 0; i+1 < len(buf); i += 2 {
		b.X.Exchange(buf[i])
		b.X.Exchange(buf[i+1])
	}
}

// Select drives chip select low.
func (b *ByteBus) Select() { b.CS.Select() }

// Deselect drives chip select high.
func (b *ByteBus) Deselect() { b.CS.Deselect() }

// SetSpeed forwards the regime to the Speed hook.
func (b *ByteBus) SetSpeed(s Speed) {
	if b.Speed != nil {
		b.Speed(s)
	}
}
