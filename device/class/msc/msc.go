package msc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ardnew/sdbridge/pkg"
)

// Config describes the logical units presented to the host.
type Config struct {
	// Vendor, Product and Revision fill the INQUIRY identification fields
	// (8, 16 and 4 characters). Empty strings select the defaults.
	Vendor   string
	Product  string
	Revision string

	// LUNs splits the storage into equal units, 1 to MaxLUNs. 0 means 1.
	LUNs int

	// ReadOnly rejects WRITE(10) with DATA PROTECT and sets the MODE SENSE
	// write-protect bit.
	ReadOnly bool

	// Removable sets the INQUIRY removable medium bit.
	Removable bool
}

// Default identification strings.
const (
	DefaultVendor   = "sdbridge"
	DefaultProduct  = "SD Card Bridge"
	DefaultRevision = "1.00"
)

// MSC is a SCSI block device served over Bulk-Only Transport.
//
// One goroutine drives Run or Decode; Reset may be called from any
// goroutine.
type MSC struct {
	cfg     Config
	storage Storage
	in      InEndpoint
	out     OutEndpoint

	inquiry [InquiryStandardSize]byte
	sense   Sense

	abort atomic.Bool
	fault error

	// Buffers (zero-allocation pattern)
	cbwBuf  [CBWSize]byte
	cswBuf  [CSWSize]byte
	sector  [BlockSize]byte
	respBuf [InquiryStandardSize]byte
}

// New creates a processor serving storage through the endpoint pair.
func New(storage Storage, in InEndpoint, out OutEndpoint, cfg Config) (*MSC, error) {
	if storage == nil || in == nil || out == nil {
		return nil, fmt.Errorf("msc: missing storage or endpoint: %w", pkg.ErrParam)
	}
	if cfg.LUNs == 0 {
		cfg.LUNs = 1
	}
	if cfg.LUNs < 1 || cfg.LUNs > MaxLUNs {
		return nil, fmt.Errorf("msc: %d LUNs: %w", cfg.LUNs, pkg.ErrParam)
	}
	if cfg.Vendor == "" {
		cfg.Vendor = DefaultVendor
	}
	if cfg.Product == "" {
		cfg.Product = DefaultProduct
	}
	if cfg.Revision == "" {
		cfg.Revision = DefaultRevision
	}

	m := &MSC{
		cfg:     cfg,
		storage: storage,
		in:      in,
		out:     out,
	}
	NewInquiryResponse(cfg.Removable, cfg.Vendor, cfg.Product, cfg.Revision).MarshalTo(m.inquiry[:])

	pkg.LogDebug(pkg.ComponentBOT, "MSC configured",
		"luns", cfg.LUNs,
		"blocks", storage.BlockCount(),
		"readOnly", cfg.ReadOnly)

	return m, nil
}

// Config returns the effective configuration.
func (m *MSC) Config() Config { return m.cfg }

// Sense returns the sense data of the last command.
func (m *MSC) Sense() Sense { return m.sense }

// MaxLUN answers the GET MAX LUN class request.
func (m *MSC) MaxLUN() uint8 { return uint8(m.cfg.LUNs - 1) }

// Reset handles a Bulk-Only Mass Storage Reset. The command in progress
// stops at its next wait point and no CSW is sent for it.
func (m *MSC) Reset() {
	pkg.LogDebug(pkg.ComponentBOT, "mass storage reset")
	m.abort.Store(true)
}

func (m *MSC) aborted() bool { return m.abort.Load() }

func (m *MSC) setSense(key, asc, ascq uint8) {
	m.sense = Sense{Key: key, ASC: asc, ASCQ: ascq}
}

// Run serves commands until ctx is done or an endpoint fails. Each CBW is
// decoded, its data phase completed to the length the host expects and a
// CSW returned. It returns the endpoint error (io.EOF when the host closes
// a stream) or ctx.Err().
func (m *MSC) Run(ctx context.Context) error {
	var cbw CommandBlockWrapper
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := m.readCBW(ctx, &cbw); err != nil {
			if errors.Is(err, errInvalidCBW) {
				pkg.LogWarn(pkg.ComponentBOT, "invalid CBW skipped",
					"signature", cbw.Signature,
					"length", cbw.CBLength)
				continue
			}
			return err
		}

		pkg.LogDebug(pkg.ComponentBOT, "CBW",
			"tag", cbw.Tag,
			"length", cbw.DataTransferLength,
			"in", cbw.IsDataIn(),
			"lun", cbw.LUN)

		m.abort.Store(false)
		ok := m.Decode(ctx, &cbw)

		if err := m.takeFault(); err != nil {
			return err
		}
		if m.aborted() {
			pkg.LogDebug(pkg.ComponentBOT, "command aborted", "tag", cbw.Tag)
			continue
		}

		residue := cbw.DataTransferLength
		if !m.finishData(ctx, &cbw) {
			if err := m.takeFault(); err != nil {
				return err
			}
			continue
		}

		status := uint8(CSWStatusGood)
		if !ok {
			status = CSWStatusFailed
		}
		if err := m.writeCSW(ctx, NewCSW(cbw.Tag, residue, status)); err != nil {
			return err
		}
	}
}

var errInvalidCBW = errors.New("invalid CBW")

// readCBW reads exactly CBWSize bytes from the OUT endpoint.
func (m *MSC) readCBW(ctx context.Context, cbw *CommandBlockWrapper) error {
	for n := 0; n < CBWSize; {
		if !m.out.Readable() {
			m.out.ClearOUT()
			if err := m.out.WaitUntilReady(ctx); err != nil {
				return err
			}
		}
		n += m.out.Read(m.cbwBuf[n:])
	}
	if !m.out.Readable() {
		m.out.ClearOUT()
	}
	if !ParseCBW(m.cbwBuf[:], cbw) {
		return errInvalidCBW
	}
	return nil
}

// finishData completes the data phase the host expects after a command
// moved fewer bytes: an IN phase is padded with zeros and an OUT phase is
// drained. The partial IN bank is flushed.
func (m *MSC) finishData(ctx context.Context, cbw *CommandBlockWrapper) bool {
	if n := int(cbw.DataTransferLength); n > 0 {
		var ok bool
		if cbw.IsDataIn() {
			_, ok = m.transmitZeros(ctx, n)
		} else {
			ok = m.discard(ctx, n)
		}
		if !ok {
			return false
		}
	}
	if err := m.in.ClearIN(); err != nil {
		m.fault = err
		return false
	}
	return true
}

func (m *MSC) writeCSW(ctx context.Context, csw *CommandStatusWrapper) error {
	n := csw.MarshalTo(m.cswBuf[:])
	if _, ok := m.transmit(ctx, m.cswBuf[:n]); !ok {
		if err := m.takeFault(); err != nil {
			return err
		}
		return nil
	}
	if err := m.in.ClearIN(); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentBOT, "CSW",
		"tag", csw.Tag,
		"residue", csw.DataResidue,
		"status", csw.Status)
	return nil
}

// takeFault returns and clears the endpoint error recorded during the
// last command.
func (m *MSC) takeFault() error {
	err := m.fault
	m.fault = nil
	return err
}
