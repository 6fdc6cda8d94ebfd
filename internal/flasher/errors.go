package flasher

import (
	"errors"
	"fmt"

	"github.com/roulette-tools/nucleus-flasher/internal/protocol"
)

// ErrNoDevice is returned when the Flasher was created without a device.
var ErrNoDevice = errors.New("no device")

// CapacityError is returned before any transfer when the image does not fit.
type CapacityError = protocol.CapacityError

// ConnectionError indicates the device could not be opened or configured.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ClaimError describes a rejected interface claim. It is never returned
// from Open; it is passed to the logger as a warning.
type ClaimError struct {
	Interface int
	Err       error
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("claim interface %d: %v", e.Interface, e.Err)
}

func (e *ClaimError) Unwrap() error { return e.Err }

// TransferError indicates a WRITE transfer failed. Pages before Page were
// written; the state of Page itself is unknown.
type TransferError struct {
	Page    int
	Address uint16
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("write page %d at 0x%04X failed: %v", e.Page, e.Address, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// RunError indicates the RUN command failed with something other than the
// disconnect caused by the device resetting.
type RunError struct {
	Err error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run command failed: %v", e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// CancelledError is returned when the context ends between pages.
type CancelledError struct {
	PagesWritten int
	TotalPages   int
	Err          error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("upload cancelled after %d/%d pages: %v", e.PagesWritten, e.TotalPages, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }
