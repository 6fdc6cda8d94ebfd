package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roulette-tools/nucleus-flasher/internal/flasher"
	"github.com/roulette-tools/nucleus-flasher/internal/usb"
)

// DefaultPollInterval is how often WaitForDevice retries the open.
const DefaultPollInterval = 250 * time.Millisecond

// WaitForDevice opens dev, retrying every poll interval until the
// bootloader shows up or ctx ends. Errors other than "not found" are
// returned immediately.
func WaitForDevice(ctx context.Context, dev flasher.Device, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		err := dev.Open()
		if err == nil {
			return nil
		}
		if !errors.Is(err, usb.ErrNotFound) {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("no bootloader after %d attempts: %w", attempts, ctx.Err())
		case <-ticker.C:
		}
	}
}
