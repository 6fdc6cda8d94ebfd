package protocol

// Micronucleus bootloader vendor requests
const (
	CmdWrite = 0x01
	CmdRun   = 0x03
)

// bmRequestType bits
const (
	DirOut       = 0x00
	TypeVendor   = 0x40
	RecipientDev = 0x00
)

// RequestTypeVendorOut is the bmRequestType used for every bootloader command:
// host-to-device, vendor class, device recipient.
const RequestTypeVendorOut = DirOut | TypeVendor | RecipientDev

// Flash parameters
const (
	PageSize     = 64
	MaxPages     = 96
	MaxImageSize = PageSize * MaxPages
	ErasedByte   = 0xFF
)

// CommandName returns human-readable name for a request code
func CommandName(cmd uint8) string {
	switch cmd {
	case CmdWrite:
		return "WRITE"
	case CmdRun:
		return "RUN"
	default:
		return "UNKNOWN"
	}
}
