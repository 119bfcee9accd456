package sdcard

import (
	"encoding/binary"
	"fmt"
)

// Command is an SD/MMC command. An application command (ACMD) is sent as
// APP_CMD (CMD55) followed by the command index.
type Command struct {
	Index uint8 // Command index, 0 to 63
	App   bool  // Application-specific (ACMD)
}

// Cmd returns the plain command CMD<index>.
func Cmd(index uint8) Command { return Command{Index: index & 0x3F} }

// ACmd returns the application command ACMD<index>.
func ACmd(index uint8) Command { return Command{Index: index & 0x3F, App: true} }

// Commands used in SPI mode.
var (
	CmdGoIdleState         = Cmd(0)   // GO_IDLE_STATE
	CmdSendOpCond          = Cmd(1)   // SEND_OP_COND (MMC)
	CmdSendIfCond          = Cmd(8)   // SEND_IF_COND
	CmdSendCSD             = Cmd(9)   // SEND_CSD
	CmdSendCID             = Cmd(10)  // SEND_CID
	CmdStopTransmission    = Cmd(12)  // STOP_TRANSMISSION
	CmdSetBlockLen         = Cmd(16)  // SET_BLOCKLEN
	CmdReadSingleBlock     = Cmd(17)  // READ_SINGLE_BLOCK
	CmdReadMultipleBlock   = Cmd(18)  // READ_MULTIPLE_BLOCK
	CmdSetBlockCount       = Cmd(23)  // SET_BLOCK_COUNT (MMC)
	CmdWriteBlock          = Cmd(24)  // WRITE_BLOCK
	CmdWriteMultipleBlock  = Cmd(25)  // WRITE_MULTIPLE_BLOCK
	CmdEraseWrBlkStart     = Cmd(32)  // ERASE_WR_BLK_START
	CmdEraseWrBlkEnd       = Cmd(33)  // ERASE_WR_BLK_END
	CmdErase               = Cmd(38)  // ERASE
	CmdReadExtrSingle      = Cmd(48)  // READ_EXTR_SINGLE (iSDIO)
	CmdWriteExtrSingle     = Cmd(49)  // WRITE_EXTR_SINGLE (iSDIO)
	CmdAppCmd              = Cmd(55)  // APP_CMD
	CmdReadOCR             = Cmd(58)  // READ_OCR
	ACmdSDStatus           = ACmd(13) // SD_STATUS
	ACmdSetWrBlkEraseCount = ACmd(23) // SET_WR_BLK_ERASE_COUNT
	ACmdSDSendOpCond       = ACmd(41) // SD_SEND_OP_COND
)

// String returns "CMD<n>" or "ACMD<n>".
func (c Command) String() string {
	if c.App {
		return fmt.Sprintf("ACMD%d", c.Index)
	}
	return fmt.Sprintf("CMD%d", c.Index)
}

// FrameSize is the length of a command frame.
const FrameSize = 6

// Frame encodes the command frame: start bits and index, big-endian
// argument, CRC7 and end bit. CRC is only checked by the card before it
// leaves the idle state, so only CMD0 and CMD8 carry a valid one, computed
// for their standard arguments.
func (c Command) Frame(arg uint32) [FrameSize]byte {
	var f [FrameSize]byte
	f[0] = 0x40 | c.Index
	binary.BigEndian.PutUint32(f[1:5], arg)
	switch {
	case !c.App && c.Index == 0:
		f[5] = 0x95 // CMD0(0)
	case !c.App && c.Index == 8:
		f[5] = 0x87 // CMD8(0x1AA)
	default:
		f[5] = 0x01 // Dummy CRC + stop
	}
	return f
}

// ParseFrame decodes a command frame. It reports false if the start bits
// are wrong or the end bit is missing.
func ParseFrame(f []byte) (index uint8, arg uint32, ok bool) {
	if len(f) < FrameSize || f[0]&0xC0 != 0x40 || f[5]&0x01 == 0 {
		return 0, 0, false
	}
	return f[0] & 0x3F, binary.BigEndian.Uint32(f[1:5]), true
}

// Data tokens and responses.
const (
	TokenStartBlock      = 0xFE // Single block read/write, multi-block read
	TokenStartMultiWrite = 0xFC // Multi-block write
	TokenStopTran        = 0xFD // End of multi-block write

	DataResponseMask     = 0x1F
	DataResponseAccepted = 0x05
	DataResponseCRCError = 0x0B
	DataResponseWriteErr = 0x0D
)

// SectorSize is the fixed block length.
const SectorSize = 512
