package flasher

import (
	"errors"

	"github.com/roulette-tools/nucleus-flasher/internal/protocol"
)

// Device is a USB device running the bootloader. It is owned by the caller;
// the Flasher borrows it for the duration of a call and must be the only
// user issuing control transfers while an upload is in progress.
type Device interface {
	// Opened reports whether the device handle is open.
	Opened() bool

	// Open opens the device handle.
	Open() error

	// Configuration returns the active configuration value, or 0 when the
	// device is unconfigured.
	Configuration() (int, error)

	// SelectConfiguration activates the configuration with the given value.
	SelectConfiguration(cfg int) error

	// ClaimInterface claims the interface with the given number.
	ClaimInterface(num int) error

	// Control sends a control request to the device.
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// ErrDisconnected marks a transport error caused by the device leaving the
// bus. Device implementations wrap it so the RUN handler can recognise the
// reset that follows a successful start.
var ErrDisconnected = errors.New("device disconnected")

// Open brings the device into a state where control transfers are accepted.
// It is safe to call repeatedly: an open, configured device is not
// reconfigured, and a failed interface claim is only logged.
func (f *Flasher) Open() error {
	if f.dev == nil {
		return ErrNoDevice
	}

	if !f.dev.Opened() {
		if err := f.dev.Open(); err != nil {
			return &ConnectionError{Op: "open", Err: err}
		}
		f.claimed = false
	}

	cfg, err := f.dev.Configuration()
	if err != nil {
		return &ConnectionError{Op: "get configuration", Err: err}
	}
	if cfg == 0 {
		f.log.Debug("selecting configuration", "config", protocol.DefaultConfiguration)
		if err := f.dev.SelectConfiguration(protocol.DefaultConfiguration); err != nil {
			return &ConnectionError{Op: "select configuration", Err: err}
		}
	}

	if f.claimed {
		return nil
	}
	if err := f.dev.ClaimInterface(protocol.BootloaderInterface); err != nil {
		warn := &ClaimError{Interface: protocol.BootloaderInterface, Err: err}
		f.log.Warn("continuing without interface claim", "error", warn)
		return nil
	}
	f.claimed = true

	return nil
}
