package msc

import "encoding/binary"

// Sense is the key/ASC/ASCQ triple reported by REQUEST SENSE.
type Sense struct {
	Key  uint8
	ASC  uint8
	ASCQ uint8
}

// MarshalTo writes fixed-format sense data (response code 0x70) to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s Sense) MarshalTo(buf []byte) int {
	if len(buf) < SenseDataSize {
		return 0
	}

	clear(buf[:SenseDataSize])
	buf[0] = 0x70 // current error, fixed format
	buf[2] = s.Key & 0x0F
	buf[7] = SenseDataSize - 8
	buf[12] = s.ASC
	buf[13] = s.ASCQ

	return SenseDataSize
}

// InquiryResponse is standard INQUIRY data.
type InquiryResponse struct {
	DeviceType       uint8    // Peripheral device type
	RMB              uint8    // Removable media bit (bit 7)
	Version          uint8    // SCSI version (0: no standard claimed)
	ResponseFormat   uint8    // Response data format
	AdditionalLength uint8    // Additional length (n-4)
	VendorID         [8]byte  // Vendor identification (ASCII)
	ProductID        [16]byte // Product identification (ASCII)
	ProductRev       [4]byte  // Product revision (ASCII)
}

// MarshalTo writes the INQUIRY response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}

	clear(buf[:InquiryStandardSize])
	buf[0] = r.DeviceType
	buf[1] = r.RMB
	buf[2] = r.Version
	buf[3] = r.ResponseFormat
	buf[4] = r.AdditionalLength
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])

	return InquiryStandardSize
}

// NewInquiryResponse creates a direct-access INQUIRY response. Identification
// strings are space padded or truncated to their field widths.
func NewInquiryResponse(removable bool, vendor, product, revision string) *InquiryResponse {
	resp := &InquiryResponse{
		DeviceType:       DeviceTypeDisk,
		ResponseFormat:   InquiryResponseFormatSPC,
		AdditionalLength: InquiryStandardSize - 5,
	}

	if removable {
		resp.RMB = InquiryRMB
	}

	padString(resp.VendorID[:], vendor)
	padString(resp.ProductID[:], product)
	padString(resp.ProductRev[:], revision)

	return resp
}

// ReadCapacity10Response is the READ CAPACITY (10) parameter data.
type ReadCapacity10Response struct {
	LastLBA     uint32 // Last logical block address
	BlockLength uint32 // Block length in bytes
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity10Response) MarshalTo(buf []byte) int {
	if len(buf) < ReadCapacity10Size {
		return 0
	}

	binary.BigEndian.PutUint32(buf[0:4], r.LastLBA)
	binary.BigEndian.PutUint32(buf[4:8], r.BlockLength)

	return ReadCapacity10Size
}

// ModeSense6Response is the MODE SENSE (6) parameter header. No block
// descriptors or pages follow it.
type ModeSense6Response struct {
	ModeDataLength uint8 // Mode data length (excluding this field)
	MediumType     uint8 // Medium type
	DeviceParam    uint8 // Device-specific parameter (bit 7: WP)
	BlockDescLen   uint8 // Block descriptor length
}

// MarshalTo writes the response header to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ModeSense6Response) MarshalTo(buf []byte) int {
	if len(buf) < ModeSense6Size {
		return 0
	}

	buf[0] = r.ModeDataLength
	buf[1] = r.MediumType
	buf[2] = r.DeviceParam
	buf[3] = r.BlockDescLen

	return ModeSense6Size
}

// FormatCapacityResponse is a READ FORMAT CAPACITIES capacity list holding
// a single current/maximum capacity descriptor.
type FormatCapacityResponse struct {
	BlockCount  uint32 // Number of blocks
	DescType    uint8  // Descriptor type (bits 0-1)
	BlockLength uint32 // Block length (24-bit)
}

// MarshalTo writes the list header and descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *FormatCapacityResponse) MarshalTo(buf []byte) int {
	if len(buf) < ReadFormatCapacitiesSize {
		return 0
	}

	buf[0], buf[1], buf[2] = 0, 0, 0
	buf[3] = 8 // capacity list length
	binary.BigEndian.PutUint32(buf[4:8], r.BlockCount)
	buf[8] = r.DescType & 0x03
	// Block length is 24-bit in bytes 9-11
	buf[9] = uint8(r.BlockLength >> 16)
	buf[10] = uint8(r.BlockLength >> 8)
	buf[11] = uint8(r.BlockLength)

	return ReadFormatCapacitiesSize
}

// padString copies s into field, truncating or padding with spaces.
func padString(field []byte, s string) {
	n := copy(field, s)
	for i := n; i < len(field); i++ {
		field[i] = ' '
	}
}
