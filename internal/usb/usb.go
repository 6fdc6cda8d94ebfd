package usb

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/roulette-tools/nucleus-flasher/internal/flasher"
)

// ErrNotFound is returned by Open when no device matches the VID/PID.
var ErrNotFound = errors.New("bootloader not found (plug the board in or re-enter bootloader mode)")

// DefaultControlTimeout bounds a single control transfer.
const DefaultControlTimeout = 2 * time.Second

// Device wraps a gousb device with bootloader-specific functionality.
// It implements flasher.Device.
type Device struct {
	ctx     *gousb.Context
	vid     gousb.ID
	pid     gousb.ID
	timeout time.Duration

	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
}

var _ flasher.Device = (*Device)(nil)

// New creates a Device for the given VID/PID. The device is not opened.
func New(ctx *gousb.Context, vid, pid uint16) *Device {
	return &Device{
		ctx:     ctx,
		vid:     gousb.ID(vid),
		pid:     gousb.ID(pid),
		timeout: DefaultControlTimeout,
	}
}

// SetControlTimeout sets the timeout for control transfers.
func (d *Device) SetControlTimeout(timeout time.Duration) {
	d.timeout = timeout
	if d.dev != nil {
		d.dev.ControlTimeout = timeout
	}
}

// Opened reports whether the device handle is open.
func (d *Device) Opened() bool {
	return d.dev != nil
}

// Open opens the first device matching the VID/PID.
func (d *Device) Open() error {
	if d.dev != nil {
		return nil
	}

	dev, err := d.ctx.OpenDeviceWithVIDPID(d.vid, d.pid)
	if err != nil {
		if dev != nil {
			dev.Close()
		}
		return fmt.Errorf("failed to open %s:%s: %w", d.vid, d.pid, err)
	}
	if dev == nil {
		return ErrNotFound
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return fmt.Errorf("failed to enable kernel driver auto-detach: %w", err)
	}
	dev.ControlTimeout = d.timeout

	d.dev = dev
	return nil
}

// Configuration returns the active configuration value, 0 if unconfigured.
func (d *Device) Configuration() (int, error) {
	if d.dev == nil {
		return 0, errNotOpen
	}
	if d.cfg != nil {
		return d.cfg.Desc.Number, nil
	}
	num, err := d.dev.ActiveConfigNum()
	if err != nil {
		return 0, transportError(err)
	}
	return num, nil
}

// SelectConfiguration activates the configuration with the given value.
func (d *Device) SelectConfiguration(num int) error {
	if d.dev == nil {
		return errNotOpen
	}
	if d.cfg != nil {
		if d.cfg.Desc.Number == num {
			return nil
		}
		d.release()
	}

	cfg, err := d.dev.Config(num)
	if err != nil {
		return fmt.Errorf("failed to select configuration %d: %w", num, transportError(err))
	}
	d.cfg = cfg
	return nil
}

// ClaimInterface claims alternate setting 0 of the given interface.
func (d *Device) ClaimInterface(num int) error {
	if d.dev == nil {
		return errNotOpen
	}
	if d.intf != nil {
		if d.intf.Setting.Number == num {
			return fmt.Errorf("interface %d already claimed", num)
		}
		d.intf.Close()
		d.intf = nil
	}

	if d.cfg == nil {
		active, err := d.dev.ActiveConfigNum()
		if err != nil {
			return transportError(err)
		}
		cfg, err := d.dev.Config(active)
		if err != nil {
			return fmt.Errorf("failed to claim configuration %d: %w", active, transportError(err))
		}
		d.cfg = cfg
	}

	intf, err := d.cfg.Interface(num, 0)
	if err != nil {
		return transportError(err)
	}
	d.intf = intf
	return nil
}

// Control sends a control request to the device.
func (d *Device) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	if d.dev == nil {
		return 0, errNotOpen
	}
	n, err := d.dev.Control(rType, request, val, idx, data)
	return n, transportError(err)
}

// Describe returns bus location and identity for display.
func (d *Device) Describe() string {
	if d.dev == nil {
		return fmt.Sprintf("%s:%s (closed)", d.vid, d.pid)
	}
	desc := d.dev.Desc
	return fmt.Sprintf("%s:%s on bus %d address %d (%s)", desc.Vendor, desc.Product, desc.Bus, desc.Address, desc.Speed)
}

// Close releases the interface, the configuration and the device handle.
// It is safe to call on a device that disappeared after RUN.
func (d *Device) Close() error {
	d.release()
	if d.dev == nil {
		return nil
	}
	err := d.dev.Close()
	d.dev = nil
	return err
}

func (d *Device) release() {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	if d.cfg != nil {
		d.cfg.Close()
		d.cfg = nil
	}
}

var errNotOpen = errors.New("device not open")

// transportError marks libusb errors that mean the device left the bus.
func transportError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gousb.ErrorNoDevice),
		errors.Is(err, gousb.ErrorIO),
		errors.Is(err, gousb.ErrorPipe):
		return fmt.Errorf("%w: %w", flasher.ErrDisconnected, err)
	default:
		return err
	}
}
