package protocol

// USB identity of the Micronucleus bootloader
const (
	DefaultVendorID  = 0x16D0
	DefaultProductID = 0x0753
)

// Device lifecycle parameters
const (
	DefaultConfiguration = 1
	BootloaderInterface  = 0
)
