package sdcard

import (
	"github.com/ardnew/sdbridge/pkg"
	"github.com/ardnew/sdbridge/spibus"
)

// deselect releases chip select and clocks one byte so the card
// releases MISO.
func (c *Card) deselect() {
	c.bus.Deselect()
	c.bus.Exchange(spibus.Idle)
}

// selectCard asserts chip select and waits for the card to leave busy.
func (c *Card) selectCard() bool {
	c.bus.Select()
	c.bus.Exchange(spibus.Idle)
	if c.waitReady(readyTimeout) {
		return true
	}
	c.deselect()
	return false
}

// waitReady polls until the card drives an idle byte or ms elapse.
func (c *Card) waitReady(ms uint32) bool {
	c.ready.Arm(ticks(ms))
	for {
		if c.bus.Exchange(spibus.Idle) == spibus.Idle {
			return true
		}
		if c.ready.Expired() {
			return false
		}
		c.yield()
	}
}

// sendCommand sends a command frame and returns its R1 response.
func (c *Card) sendCommand(cmd Command, arg uint32) R1 {
	if cmd.App {
		if r := c.sendCommand(CmdAppCmd, 0); r > R1Idle {
			return r
		}
	}

	// A multi-block read is ended without leaving the selected state.
	if cmd != CmdStopTransmission {
		c.deselect()
		if !c.selectCard() {
			pkg.LogDebug(pkg.ComponentCard, "select failed", "cmd", cmd)
			return R1NoResponse
		}
	}

	frame := cmd.Frame(arg)
	c.bus.Transmit(frame[:])

	if cmd == CmdStopTransmission {
		c.bus.Exchange(spibus.Idle) // Stuff byte
	}

	r := R1NoResponse
	for n := 0; n < 10; n++ {
		r = R1(c.bus.Exchange(spibus.Idle))
		if r.Valid() {
			break
		}
	}
	pkg.LogDebug(pkg.ComponentCard, "command", "cmd", cmd, "arg", arg, "r1", r)
	return r
}

// receiveDataBlock reads one data packet into buf and drops its CRC.
func (c *Card) receiveDataBlock(buf []byte) bool {
	c.data.Arm(ticks(tokenTimeout))
	var token byte
	for {
		token = c.bus.Exchange(spibus.Idle)
		if token != spibus.Idle || c.data.Expired() {
			break
		}
		c.yield()
	}
	if token != TokenStartBlock {
		pkg.LogDebug(pkg.ComponentCard, "no data token", "token", token)
		return false
	}
	c.bus.Receive(buf)
	var crc [2]byte
	c.bus.Receive(crc[:])
	return true
}

// transmitDataBlock sends one data packet, or only the stop token.
func (c *Card) transmitDataBlock(buf []byte, token byte) bool {
	if !c.waitReady(readyTimeout) {
		return false
	}
	c.bus.Exchange(token)
	if token == TokenStopTran {
		return true
	}
	c.bus.Transmit(buf[:SectorSize])
	c.bus.Exchange(spibus.Idle) // Dummy CRC
	c.bus.Exchange(spibus.Idle)
	resp := c.bus.Exchange(spibus.Idle)
	if resp&DataResponseMask != DataResponseAccepted {
		pkg.LogDebug(pkg.ComponentCard, "data rejected", "response", resp)
		return false
	}
	return true
}

func (c *Card) powerOn() {
	spibus.PowerOn(c.bus)
}

// powerOff cuts socket power. The card needs Initialize again.
func (c *Card) powerOff() {
	spibus.PowerOff(c.bus)
	c.status.Or(uint32(StatusNoInit))
}
