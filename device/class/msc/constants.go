package msc

// Bulk-Only Transport class request codes.
const (
	RequestBulkOnlyMassStorageReset = 0xFF // Reset the MSC device
	RequestGetMaxLUN                = 0xFE // Get maximum Logical Unit Number
)

// Command Block Wrapper (CBW) constants.
const (
	CBWSignature   = 0x43425355 // "USBC" signature
	CBWSize        = 31         // Fixed CBW size in bytes
	CBWFlagDataOut = 0x00       // Data transfer: host to device
	CBWFlagDataIn  = 0x80       // Data transfer: device to host
	CBMaxLength    = 16         // Largest command block
)

// Command Status Wrapper (CSW) constants.
const (
	CSWSignature        = 0x53425355 // "USBS" signature
	CSWSize             = 13         // Fixed CSW size in bytes
	CSWStatusGood       = 0x00       // Command passed
	CSWStatusFailed     = 0x01       // Command failed
	CSWStatusPhaseError = 0x02       // Phase error occurred
)

// SCSI operation codes handled by the processor.
const (
	SCSITestUnitReady        = 0x00 // Test if unit is ready
	SCSIRequestSense         = 0x03 // Request sense data
	SCSIInquiry              = 0x12 // Get device information
	SCSIModeSense6           = 0x1A // Get mode parameters (6-byte)
	SCSIStartStopUnit        = 0x1B // Start/stop unit
	SCSISendDiagnostic       = 0x1D // Run device self-test
	SCSIPreventAllowRemoval  = 0x1E // Prevent/allow medium removal
	SCSIReadFormatCapacities = 0x23 // Read format capacities
	SCSIReadCapacity10       = 0x25 // Read capacity (10-byte)
	SCSIRead10               = 0x28 // Read blocks (10-byte)
	SCSIWrite10              = 0x2A // Write blocks (10-byte)
	SCSIVerify10             = 0x2F // Verify blocks (10-byte)
	SCSISynchronizeCache10   = 0x35 // Synchronize cache (10-byte)
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00 // No error
	SenseNotReady       = 0x02 // Device not ready
	SenseMediumError    = 0x03 // Medium error
	SenseHardwareError  = 0x04 // Hardware error
	SenseIllegalRequest = 0x05 // Illegal request
	SenseUnitAttention  = 0x06 // Unit attention
	SenseDataProtect    = 0x07 // Data protect
	SenseAbortedCommand = 0x0B // Aborted command
)

// Additional Sense Codes (ASC).
const (
	ASCNoAdditionalInfo     = 0x00 // No additional sense information
	ASCWriteFault           = 0x03 // Peripheral device write fault
	ASCUnrecoveredReadError = 0x11 // Unrecovered read error
	ASCInvalidCommand       = 0x20 // Invalid command operation code
	ASCLBAOutOfRange        = 0x21 // Logical block address out of range
	ASCInvalidFieldInCDB    = 0x24 // Invalid field in CDB
	ASCWriteProtected       = 0x27 // Write protected
	ASCMediumNotPresent     = 0x3A // Medium not present
)

// DeviceTypeDisk is the direct-access block peripheral device type.
const DeviceTypeDisk = 0x00

// INQUIRY response constants.
const (
	InquiryStandardSize      = 36   // Standard INQUIRY data length
	InquiryResponseFormatSPC = 0x02 // SPC-compliant response format
	InquiryRMB               = 0x80 // Removable media bit
)

// Fixed response lengths.
const (
	SenseDataSize            = 18
	ReadCapacity10Size       = 8
	ModeSense6Size           = 4
	ReadFormatCapacitiesSize = 12
)

// ModeSenseWP is the write-protect bit of the MODE SENSE device-specific
// parameter.
const ModeSenseWP = 0x80

// Formatted media descriptor type for READ FORMAT CAPACITIES.
const descriptorFormattedMedia = 0x02

// BlockSize is the logical block size of every unit.
const BlockSize = 512

// MaxLUNs bounds Config.LUNs.
const MaxLUNs = 16

// DefaultBankSize is the endpoint bank size used by StreamIn and StreamOut
// when none is given.
const DefaultBankSize = 64
