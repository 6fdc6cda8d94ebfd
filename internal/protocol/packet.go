package protocol

import (
	"fmt"
)

// Request describes the setup stage of a bootloader control transfer.
type Request struct {
	Type    uint8
	Command uint8
	Value   uint16
	Index   uint16
}

// WriteRequest returns the WRITE request for the given page index.
// Value carries the page start address in bytes.
func WriteRequest(page int) Request {
	return Request{
		Type:    RequestTypeVendorOut,
		Command: CmdWrite,
		Value:   PageAddress(page),
		Index:   0,
	}
}

// RunRequest returns the RUN request. It carries no data stage.
func RunRequest() Request {
	return Request{
		Type:    RequestTypeVendorOut,
		Command: CmdRun,
		Value:   0,
		Index:   0,
	}
}

// String formats the request for log output.
func (r Request) String() string {
	return fmt.Sprintf("%s(type=0x%02X value=0x%04X index=%d)", CommandName(r.Command), r.Type, r.Value, r.Index)
}

// TotalPages returns the number of pages needed to hold size bytes.
func TotalPages(size int) int {
	if size <= 0 {
		return 0
	}
	return (size + PageSize - 1) / PageSize
}

// PageAddress returns the flash byte address where page starts.
func PageAddress(page int) uint16 {
	return uint16(page * PageSize)
}

// BuildPage returns the 64-byte buffer for the given page of image.
// Bytes past the end of the image keep the erased-flash value 0xFF.
func BuildPage(image []byte, page int) []byte {
	buf := make([]byte, PageSize)
	for i := range buf {
		buf[i] = ErasedByte
	}

	start := page * PageSize
	if start >= len(image) {
		return buf
	}
	end := start + PageSize
	if end > len(image) {
		end = len(image)
	}
	copy(buf, image[start:end])

	return buf
}

// CapacityError reports an image that needs more pages than the device has.
type CapacityError struct {
	Size     int
	Pages    int
	MaxPages int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("firmware too large: %d bytes need %d pages, device holds %d pages (%d bytes)",
		e.Size, e.Pages, e.MaxPages, e.MaxPages*PageSize)
}

// CheckCapacity returns a *CapacityError if an image of size bytes does not fit.
func CheckCapacity(size int) error {
	pages := TotalPages(size)
	if pages > MaxPages {
		return &CapacityError{Size: size, Pages: pages, MaxPages: MaxPages}
	}
	return nil
}
