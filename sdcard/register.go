package sdcard

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// CSD is the 128-bit card specific data register, most significant byte
// first.
type CSD [16]byte

// Structure returns CSD_STRUCTURE: 0 for version 1 (SDSC and MMC), 1 for
// version 2 (SDHC/SDXC).
func (r *CSD) Structure() uint8 { return r[0] >> 6 }

// Sectors returns the card capacity in 512-byte sectors.
func (r *CSD) Sectors() uint32 {
	if r.Structure() == 1 {
		csize := uint32(r[9]) | uint32(r[8])<<8 | uint32(r[7]&0x3F)<<16
		return (csize + 1) << 10
	}
	n := (r[5] & 15) + ((r[10] & 128) >> 7) + ((r[9] & 3) << 1) + 2
	csize := uint32(r[8]>>6) + uint32(r[7])<<2 + uint32(r[6]&3)<<10 + 1
	if n < 9 {
		return csize >> (9 - n)
	}
	return csize << (n - 9)
}

// EraseBlockSectors returns the erase unit in sectors for version 1
// registers. SD version 2 cards report it in the SD status instead.
func (r *CSD) EraseBlockSectors(t Type) uint32 {
	if t&TypeSD1 != 0 {
		sectorSize := uint32((r[10]&63)<<1) + uint32((r[11]&128)>>7) + 1
		writeBlLen := r[13] >> 6
		if writeBlLen == 0 {
			return sectorSize
		}
		return sectorSize << (writeBlLen - 1)
	}
	groupSize := uint32((r[10]&124)>>2) + 1
	groupMult := uint32((r[11]&3)<<3) + uint32((r[11]&224)>>5) + 1
	return groupSize * groupMult
}

// EraseBlockEnabled reports ERASE_BLK_EN, which allows erasing single
// write blocks on version 1 registers.
func (r *CSD) EraseBlockEnabled() bool { return r[10]&0x40 != 0 }

// PermanentWriteProtect reports PERM_WRITE_PROTECT.
func (r *CSD) PermanentWriteProtect() bool { return r[14]&0x20 != 0 }

// TemporaryWriteProtect reports TMP_WRITE_PROTECT.
func (r *CSD) TemporaryWriteProtect() bool { return r[14]&0x10 != 0 }

// CID is the 128-bit card identification register, using the SD layout.
type CID [16]byte

// ManufacturerID returns MID.
func (r *CID) ManufacturerID() uint8 { return r[0] }

// OEMID returns the two character OID.
func (r *CID) OEMID() string { return printable(r[1:3]) }

// ProductName returns the five character PNM.
func (r *CID) ProductName() string { return printable(r[3:8]) }

// Revision returns PRV as major.minor.
func (r *CID) Revision() string { return fmt.Sprintf("%d.%d", r[8]>>4, r[8]&0x0F) }

// Serial returns PSN.
func (r *CID) Serial() uint32 { return binary.BigEndian.Uint32(r[9:13]) }

// ManufactureDate returns MDT as year and month.
func (r *CID) ManufactureDate() (year int, month int) {
	year = 2000 + int(r[13]&0x0F)<<4 + int(r[14]>>4)
	return year, int(r[14] & 0x0F)
}

func printable(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			c = '.'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// OCR is the 32-bit operating conditions register.
type OCR [4]byte

// PowerUp reports whether the card finished its power up routine.
func (r OCR) PowerUp() bool { return r[0]&0x80 != 0 }

// HighCapacity reports CCS, set by block-addressed cards.
func (r OCR) HighCapacity() bool { return r[0]&0x40 != 0 }

// SDStatus is the 512-bit SD status register.
type SDStatus [64]byte

// AUSize returns AU_SIZE.
func (r *SDStatus) AUSize() uint8 { return r[10] >> 4 }

// EraseBlockSectors returns the allocation unit in sectors.
func (r *SDStatus) EraseBlockSectors() uint32 { return 16 << r.AUSize() }
