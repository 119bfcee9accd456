package msc

import (
	"context"

	"github.com/ardnew/sdbridge/pkg"
)

// wait blocks on an endpoint wait. Cancellation of ctx is recorded as an
// abort; any other error is an endpoint fault that ends Run.
func (m *MSC) wait(ctx context.Context, fn func(context.Context) error) bool {
	err := fn(ctx)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		m.abort.Store(true)
	} else {
		m.fault = err
	}
	return false
}

// turnIN sends the full IN bank and waits for the next one.
func (m *MSC) turnIN(ctx context.Context) bool {
	if err := m.in.ClearIN(); err != nil {
		m.fault = err
		return false
	}
	return m.wait(ctx, m.in.WaitUntilReady)
}

// turnOUT releases the consumed OUT bank and waits for the next one.
func (m *MSC) turnOUT(ctx context.Context) bool {
	m.out.ClearOUT()
	return m.wait(ctx, m.out.WaitUntilReady)
}

// transmit streams p into the IN endpoint bank by bank. It returns the
// bytes moved and false if the host aborted or the endpoint failed.
func (m *MSC) transmit(ctx context.Context, p []byte) (int, bool) {
	moved := 0
	for len(p) > 0 {
		if !m.in.Writable() && !m.turnIN(ctx) {
			return moved, false
		}
		n := m.in.Write(p)
		p = p[n:]
		moved += n
		if m.aborted() {
			return moved, false
		}
	}
	return moved, true
}

// receive fills p from the OUT endpoint bank by bank.
func (m *MSC) receive(ctx context.Context, p []byte) (int, bool) {
	moved := 0
	for len(p) > 0 {
		if !m.out.Readable() && !m.turnOUT(ctx) {
			return moved, false
		}
		n := m.out.Read(p)
		p = p[n:]
		moved += n
		if m.aborted() {
			return moved, false
		}
	}
	return moved, true
}

var zeros [DefaultBankSize]byte

func (m *MSC) transmitZeros(ctx context.Context, n int) (int, bool) {
	moved := 0
	for moved < n {
		k, ok := m.transmit(ctx, zeros[:min(n-moved, len(zeros))])
		moved += k
		if !ok {
			return moved, false
		}
	}
	return moved, true
}

func (m *MSC) discard(ctx context.Context, n int) bool {
	for n > 0 {
		k, ok := m.receive(ctx, m.sector[:min(n, len(m.sector))])
		n -= k
		if !ok {
			return false
		}
	}
	return true
}

// send writes p, clamped to the remaining transfer length, and accounts the
// bytes moved.
func (m *MSC) send(ctx context.Context, cbw *CommandBlockWrapper, p []byte) bool {
	if uint32(len(p)) > cbw.DataTransferLength {
		p = p[:cbw.DataTransferLength]
	}
	n, ok := m.transmit(ctx, p)
	cbw.consume(n)
	return ok
}

// sendPadded writes p followed by zeros up to alloc bytes, then flushes the
// bank.
func (m *MSC) sendPadded(ctx context.Context, cbw *CommandBlockWrapper, p []byte, alloc int) bool {
	if alloc < len(p) {
		p = p[:alloc]
	}
	if !m.send(ctx, cbw, p) {
		return false
	}
	pad := min(alloc-len(p), int(cbw.DataTransferLength))
	n, ok := m.transmitZeros(ctx, pad)
	cbw.consume(n)
	if !ok {
		return false
	}
	if err := m.in.ClearIN(); err != nil {
		m.fault = err
		return false
	}
	return true
}

// readBlocks pumps count sectors from storage into the IN endpoint.
func (m *MSC) readBlocks(ctx context.Context, cbw *CommandBlockWrapper, lba, count uint32) bool {
	if !m.wait(ctx, m.in.WaitUntilReady) {
		return false
	}

	for i := uint32(0); i < count; i++ {
		if err := m.storage.ReadBlocks(m.sector[:], lba+i, 1); err != nil {
			pkg.LogWarn(pkg.ComponentPump, "storage read failed",
				"lba", lba+i,
				"result", pkg.ResultOf(err),
				"error", err)
			m.setSense(SenseMediumError, ASCUnrecoveredReadError, 0)
			return false
		}
		n, ok := m.transmit(ctx, m.sector[:])
		cbw.consume(n)
		if !ok {
			pkg.LogDebug(pkg.ComponentPump, "read interrupted",
				"lba", lba+i,
				"moved", n)
			return false
		}
	}

	if !m.in.Writable() {
		if err := m.in.ClearIN(); err != nil {
			m.fault = err
			return false
		}
	}
	return true
}

// writeBlocks pumps count sectors from the OUT endpoint into storage.
func (m *MSC) writeBlocks(ctx context.Context, cbw *CommandBlockWrapper, lba, count uint32) bool {
	if !m.wait(ctx, m.out.WaitUntilReady) {
		return false
	}

	for i := uint32(0); i < count; i++ {
		n, ok := m.receive(ctx, m.sector[:])
		cbw.consume(n)
		if !ok {
			pkg.LogDebug(pkg.ComponentPump, "write interrupted",
				"lba", lba+i,
				"moved", n)
			return false
		}
		if err := m.storage.WriteBlocks(m.sector[:], lba+i, 1); err != nil {
			pkg.LogWarn(pkg.ComponentPump, "storage write failed",
				"lba", lba+i,
				"result", pkg.ResultOf(err),
				"error", err)
			m.setSense(SenseMediumError, ASCWriteFault, 0)
			return false
		}
	}

	if !m.out.Readable() {
		m.out.ClearOUT()
	}
	return true
}
