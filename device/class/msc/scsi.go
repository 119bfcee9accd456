package msc

import (
	"context"
	"encoding/binary"

	"github.com/ardnew/sdbridge/pkg"
)

// Decode executes the SCSI command in cbw and reports whether it passed.
// It writes any IN data to the endpoint, decrements cbw.DataTransferLength
// by the bytes moved and leaves the outcome in Sense.
func (m *MSC) Decode(ctx context.Context, cbw *CommandBlockWrapper) bool {
	opcode := cbw.CB[0]

	pkg.LogDebug(pkg.ComponentSCSI, "SCSI command",
		"opcode", opName(opcode),
		"lun", cbw.LUN,
		"length", cbw.DataTransferLength)

	if cbw.LUN > m.MaxLUN() {
		m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return false
	}

	var ok bool
	switch opcode {
	case SCSIInquiry:
		ok = m.handleInquiry(ctx, cbw)

	case SCSIRequestSense:
		ok = m.handleRequestSense(ctx, cbw)

	case SCSIReadCapacity10:
		ok = m.handleReadCapacity10(ctx, cbw)

	case SCSISendDiagnostic:
		ok = m.handleSendDiagnostic(cbw)

	case SCSIRead10:
		ok = m.handleReadWrite10(ctx, cbw, false)

	case SCSIWrite10:
		ok = m.handleReadWrite10(ctx, cbw, true)

	case SCSIModeSense6:
		ok = m.handleModeSense6(ctx, cbw)

	case SCSITestUnitReady, SCSIStartStopUnit, SCSIPreventAllowRemoval, SCSIVerify10:
		cbw.DataTransferLength = 0
		ok = true

	case SCSISynchronizeCache10:
		ok = m.handleSynchronizeCache10(cbw)

	case SCSIReadFormatCapacities:
		ok = m.handleReadFormatCapacities(ctx, cbw)

	default:
		pkg.LogWarn(pkg.ComponentSCSI, "unsupported SCSI command",
			"opcode", opcode)
		m.setSense(SenseIllegalRequest, ASCInvalidCommand, 0)
	}

	if ok {
		m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)
	} else {
		pkg.LogDebug(pkg.ComponentSCSI, "SCSI command failed",
			"opcode", opName(opcode),
			"key", m.sense.Key,
			"asc", m.sense.ASC)
	}
	return ok
}

// blocksPerLUN returns the size of each logical unit.
func (m *MSC) blocksPerLUN() uint32 {
	return m.storage.BlockCount() / uint32(m.cfg.LUNs)
}

func (m *MSC) handleInquiry(ctx context.Context, cbw *CommandBlockWrapper) bool {
	// EVPD and CmdDt pages are not provided.
	if cbw.CB[1]&0x03 != 0 || cbw.CB[2] != 0 {
		m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return false
	}

	alloc := int(binary.BigEndian.Uint16(cbw.CB[3:5]))
	return m.sendPadded(ctx, cbw, m.inquiry[:], alloc)
}

func (m *MSC) handleRequestSense(ctx context.Context, cbw *CommandBlockWrapper) bool {
	n := m.sense.MarshalTo(m.respBuf[:])
	return m.sendPadded(ctx, cbw, m.respBuf[:n], int(cbw.CB[4]))
}

func (m *MSC) handleReadCapacity10(ctx context.Context, cbw *CommandBlockWrapper) bool {
	blocks := m.blocksPerLUN()
	if blocks == 0 {
		m.setSense(SenseNotReady, ASCMediumNotPresent, 0)
		return false
	}

	resp := ReadCapacity10Response{LastLBA: blocks - 1, BlockLength: BlockSize}
	n := resp.MarshalTo(m.respBuf[:])
	return m.sendPadded(ctx, cbw, m.respBuf[:n], n)
}

func (m *MSC) handleSendDiagnostic(cbw *CommandBlockWrapper) bool {
	// Only the default self-test is supported.
	if cbw.CB[1]&0x04 == 0 {
		m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return false
	}
	if !m.storage.Ready() {
		m.setSense(SenseHardwareError, ASCNoAdditionalInfo, 0)
		return false
	}

	cbw.DataTransferLength = 0
	return true
}

func (m *MSC) handleReadWrite10(ctx context.Context, cbw *CommandBlockWrapper, write bool) bool {
	if !m.storage.Ready() {
		m.setSense(SenseNotReady, ASCMediumNotPresent, 0)
		return false
	}
	if write && m.cfg.ReadOnly {
		m.setSense(SenseDataProtect, ASCWriteProtected, 0)
		return false
	}

	lba := binary.BigEndian.Uint32(cbw.CB[2:6])
	count := uint32(binary.BigEndian.Uint16(cbw.CB[7:9]))

	blocks := m.blocksPerLUN()
	if lba >= blocks || uint64(lba)+uint64(count) > uint64(blocks) {
		m.setSense(SenseIllegalRequest, ASCLBAOutOfRange, 0)
		return false
	}

	// The host must expect the whole transfer in the direction of the
	// command.
	if count > 0 && (uint64(cbw.DataTransferLength) < uint64(count)*BlockSize || cbw.IsDataOut() != write) {
		m.setSense(SenseIllegalRequest, ASCInvalidFieldInCDB, 0)
		return false
	}

	if m.cfg.LUNs > 1 {
		lba += uint32(cbw.LUN) * blocks
	}

	pkg.LogDebug(pkg.ComponentPump, "block transfer",
		"write", write,
		"lba", lba,
		"count", count)

	if count == 0 {
		return true
	}
	if write {
		return m.writeBlocks(ctx, cbw, lba, count)
	}
	return m.readBlocks(ctx, cbw, lba, count)
}

func (m *MSC) handleModeSense6(ctx context.Context, cbw *CommandBlockWrapper) bool {
	resp := ModeSense6Response{ModeDataLength: ModeSense6Size - 1}
	if m.cfg.ReadOnly {
		resp.DeviceParam = ModeSenseWP
	}
	n := resp.MarshalTo(m.respBuf[:])
	return m.sendPadded(ctx, cbw, m.respBuf[:n], n)
}

func (m *MSC) handleSynchronizeCache10(cbw *CommandBlockWrapper) bool {
	cbw.DataTransferLength = 0
	if err := m.storage.Sync(); err != nil {
		pkg.LogWarn(pkg.ComponentSCSI, "synchronize cache failed",
			"error", err)
		m.setSense(SenseHardwareError, ASCNoAdditionalInfo, 0)
		return false
	}
	return true
}

func (m *MSC) handleReadFormatCapacities(ctx context.Context, cbw *CommandBlockWrapper) bool {
	blocks := m.blocksPerLUN()
	if blocks == 0 {
		m.setSense(SenseNotReady, ASCMediumNotPresent, 0)
		return false
	}

	resp := FormatCapacityResponse{
		BlockCount:  blocks,
		DescType:    descriptorFormattedMedia,
		BlockLength: BlockSize,
	}
	n := resp.MarshalTo(m.respBuf[:])
	alloc := int(binary.BigEndian.Uint16(cbw.CB[7:9]))
	return m.sendPadded(ctx, cbw, m.respBuf[:n], min(alloc, n))
}

// opName returns a printable name for logging.
func opName(op uint8) string {
	switch op {
	case SCSITestUnitReady:
		return "TEST UNIT READY"
	case SCSIRequestSense:
		return "REQUEST SENSE"
	case SCSIInquiry:
		return "INQUIRY"
	case SCSIModeSense6:
		return "MODE SENSE(6)"
	case SCSIStartStopUnit:
		return "START STOP UNIT"
	case SCSISendDiagnostic:
		return "SEND DIAGNOSTIC"
	case SCSIPreventAllowRemoval:
		return "PREVENT ALLOW MEDIUM REMOVAL"
	case SCSIReadFormatCapacities:
		return "READ FORMAT CAPACITIES"
	case SCSIReadCapacity10:
		return "READ CAPACITY(10)"
	case SCSIRead10:
		return "READ(10)"
	case SCSIWrite10:
		return "WRITE(10)"
	case SCSIVerify10:
		return "VERIFY(10)"
	case SCSISynchronizeCache10:
		return "SYNCHRONIZE CACHE(10)"
	}
	return "unknown"
}
