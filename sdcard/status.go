package sdcard

import "strings"

// Status is the card status bitset.
type Status uint32

// Status bits.
const (
	StatusNoInit  Status = 1 << 0 // Card not initialized
	StatusNoDisk  Status = 1 << 1 // No card in the socket
	StatusProtect Status = 1 << 2 // Write protect switch engaged
)

// String returns the set bits joined by '|', or "ready".
func (s Status) String() string {
	if s == 0 {
		return "ready"
	}
	var parts []string
	if s&StatusNoInit != 0 {
		parts = append(parts, "NOINIT")
	}
	if s&StatusNoDisk != 0 {
		parts = append(parts, "NODISK")
	}
	if s&StatusProtect != 0 {
		parts = append(parts, "PROTECT")
	}
	return strings.Join(parts, "|")
}

// Type is the card type bitset negotiated by Initialize.
type Type uint8

// Card type bits.
const (
	TypeMMC   Type = 0x01 // MMC ver 3
	TypeSD1   Type = 0x02 // SD ver 1
	TypeSD2   Type = 0x04 // SD ver 2
	TypeBlock Type = 0x08 // Block addressing

	TypeSDC = TypeSD1 | TypeSD2
)

// String returns a short description such as "SDv2+block".
func (t Type) String() string {
	var s string
	switch {
	case t&TypeSD2 != 0:
		s = "SDv2"
	case t&TypeSD1 != 0:
		s = "SDv1"
	case t&TypeMMC != 0:
		s = "MMCv3"
	default:
		return "none"
	}
	if t&TypeBlock != 0 {
		s += "+block"
	}
	return s
}

// R1 is the single byte command response.
type R1 uint8

// R1 bits.
const (
	R1Idle           R1 = 1 << 0
	R1EraseReset     R1 = 1 << 1
	R1IllegalCommand R1 = 1 << 2
	R1CRCError       R1 = 1 << 3
	R1EraseSequence  R1 = 1 << 4
	R1AddressError   R1 = 1 << 5
	R1ParameterError R1 = 1 << 6

	// R1NoResponse is returned when the card never drove bit 7 low, or
	// could not be selected.
	R1NoResponse R1 = 0xFF
)

// Valid reports whether r is a response rather than a bus timeout.
func (r R1) Valid() bool { return r&0x80 == 0 }

// String returns the set flags joined by '|'.
func (r R1) String() string {
	if !r.Valid() {
		return "no response"
	}
	if r == 0 {
		return "ok"
	}
	names := [...]string{"idle", "erase reset", "illegal command", "CRC error",
		"erase sequence", "address error", "parameter error"}
	var parts []string
	for i, name := range names {
		if r&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}
