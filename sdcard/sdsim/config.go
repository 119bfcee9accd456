package sdsim

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ardnew/sdbridge/sdcard"
)

// Kind selects the card generation the simulator answers as.
type Kind int

// Card generations.
const (
	KindSDv2Block Kind = iota // SDHC/SDXC, block addressed
	KindSDv2Byte              // SDSC ver 2, byte addressed
	KindSDv1                  // SD ver 1
	KindMMC                   // MMC ver 3
)

var kindNames = [...]string{"sdhc", "sdsc", "sdv1", "mmc"}

// String returns the short name accepted by ParseKind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind parses a name returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown card kind %q (want one of %s)", s, strings.Join(kindNames[:], ", "))
}

func (k Kind) blockAddressed() bool { return k == KindSDv2Block }

// Config describes a simulated card.
type Config struct {
	Kind    Kind
	Sectors uint32 // Capacity; rounded down to what the CSD can encode. Default 8192.

	IdlePolls int   // SD_SEND_OP_COND or SEND_OP_COND polls answered idle. Default 2.
	BusyBytes int   // Busy bytes after a data block or STOP_TRANSMISSION. Default 2.
	EraseBusy int   // Busy bytes after ERASE. Default 16.
	AUSize    uint8 // AU_SIZE reported in the SD status. Default 4.

	// NoBlockErase clears ERASE_BLK_EN in version 1 registers.
	NoBlockErase bool

	Serial uint32 // Product serial number in the CID
}

// Defaults.
const (
	DefaultSectors   = 8192
	DefaultIdlePolls = 2
	DefaultBusyBytes = 2
	DefaultEraseBusy = 16
	DefaultAUSize    = 4
)

// v1EraseSectors is the SECTOR_SIZE and erase group size encoded in
// version 1 registers.
const v1EraseSectors = 32

func (cfg Config) normalize() Config {
	if cfg.Sectors == 0 {
		cfg.Sectors = DefaultSectors
	}
	if cfg.IdlePolls == 0 {
		cfg.IdlePolls = DefaultIdlePolls
	}
	if cfg.BusyBytes == 0 {
		cfg.BusyBytes = DefaultBusyBytes
	}
	if cfg.EraseBusy == 0 {
		cfg.EraseBusy = DefaultEraseBusy
	}
	if cfg.AUSize == 0 {
		cfg.AUSize = DefaultAUSize
	}
	if cfg.Kind.blockAddressed() {
		cfg.Sectors = max(cfg.Sectors&^1023, 1024)
	} else {
		mult := v1SizeMult(cfg.Sectors)
		cfg.Sectors = max(cfg.Sectors>>(mult+2), 1) << (mult + 2)
	}
	return cfg
}

// v1SizeMult returns the smallest C_SIZE_MULT whose C_SIZE fits 12 bits,
// with a block length of 512.
func v1SizeMult(sectors uint32) uint32 {
	for mult := uint32(0); mult < 7; mult++ {
		if sectors>>(mult+2) <= 4096 {
			return mult
		}
	}
	return 7
}

func (cfg Config) csd() sdcard.CSD {
	var r sdcard.CSD
	r[15] = 0x01
	if cfg.Kind.blockAddressed() {
		csize := cfg.Sectors/1024 - 1
		r[0] = 0x40
		r[5] = 0x59
		r[7] = byte(csize>>16) & 0x3F
		r[8] = byte(csize >> 8)
		r[9] = byte(csize)
		return r
	}

	mult := v1SizeMult(cfg.Sectors)
	csize := cfg.Sectors>>(mult+2) - 1
	r[5] = 0x50 | 9 // READ_BL_LEN
	r[6] = byte(csize>>10) & 0x03
	r[7] = byte(csize >> 2)
	r[8] = byte(csize&3) << 6
	r[9] = byte(mult>>1) & 0x03
	r[10] = byte(mult&1) << 7
	r[12] = 9 >> 2 // WRITE_BL_LEN
	r[13] = (9 & 3) << 6

	if cfg.Kind == KindMMC {
		r[10] |= (v1EraseSectors - 1) << 2 // ERASE_GRP_SIZE, ERASE_GRP_MULT 0
		return r
	}
	if !cfg.NoBlockErase {
		r[10] |= 0x40
	}
	r[10] |= (v1EraseSectors - 1) >> 1 // SECTOR_SIZE
	r[11] = ((v1EraseSectors - 1) & 1) << 7
	return r
}

func (cfg Config) cid() sdcard.CID {
	var r sdcard.CID
	r[0] = 0x5D
	copy(r[1:3], "SB")
	copy(r[3:8], "SDSIM")
	r[8] = 0x10
	binary.BigEndian.PutUint32(r[9:13], cfg.Serial)
	year := 2026 - 2000
	r[13] = byte(year>>4) & 0x0F
	r[14] = byte(year&0x0F)<<4 | 10
	r[15] = 0x01
	return r
}

func (cfg Config) sdStatus() sdcard.SDStatus {
	var r sdcard.SDStatus
	r[10] = cfg.AUSize << 4
	return r
}
