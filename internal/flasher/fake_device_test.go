package flasher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type transfer struct {
	rType   uint8
	request uint8
	value   uint16
	index   uint16
	data    []byte
}

// fakeDevice records every lifecycle call and control transfer.
type fakeDevice struct {
	opened     bool
	config     int
	openErr    error
	configErr  error
	selectErr  error
	claimErr   error
	writeErrAt int // page index whose WRITE fails; -1 for none
	writeErr   error
	shortWrite bool
	runErr     error

	opens     int
	selects   int
	claims    int
	transfers []transfer
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{writeErrAt: -1}
}

func (d *fakeDevice) Opened() bool { return d.opened }

func (d *fakeDevice) Open() error {
	d.opens++
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = true
	return nil
}

func (d *fakeDevice) Configuration() (int, error) {
	return d.config, d.configErr
}

func (d *fakeDevice) SelectConfiguration(cfg int) error {
	d.selects++
	if d.selectErr != nil {
		return d.selectErr
	}
	d.config = cfg
	return nil
}

func (d *fakeDevice) ClaimInterface(num int) error {
	d.claims++
	return d.claimErr
}

func (d *fakeDevice) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	buf := append([]byte(nil), data...)
	d.transfers = append(d.transfers, transfer{rType, request, val, idx, buf})

	if request == 3 {
		return 0, d.runErr
	}
	if d.writeErrAt >= 0 && int(val)/64 == d.writeErrAt {
		return 0, d.writeErr
	}
	if d.shortWrite {
		return len(data) / 2, nil
	}
	return len(data), nil
}

func (d *fakeDevice) writes() []transfer {
	var out []transfer
	for _, t := range d.transfers {
		if t.request == 1 {
			out = append(out, t)
		}
	}
	return out
}

func (d *fakeDevice) runs() []transfer {
	var out []transfer
	for _, t := range d.transfers {
		if t.request == 3 {
			out = append(out, t)
		}
	}
	return out
}

// sleepRecorder stands in for the wall-clock wait.
type sleepRecorder struct {
	waits    []time.Duration
	cancelAt int // cancel the context on this wait; -1 for never
	cancel   context.CancelFunc
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	if s.cancel != nil && len(s.waits)-1 == s.cancelAt {
		s.cancel()
	}
	return ctx.Err()
}

// recordingLogger keeps warnings for inspection.
type recordingLogger struct {
	warnings []string
	errors   []string
}

func (l *recordingLogger) Debug(string, ...interface{}) {}
func (l *recordingLogger) Info(string, ...interface{})  {}

func (l *recordingLogger) Warn(msg string, kv ...interface{}) {
	l.warnings = append(l.warnings, fmt.Sprint(append([]interface{}{msg}, kv...)...))
}

func (l *recordingLogger) Error(msg string, kv ...interface{}) {
	l.errors = append(l.errors, fmt.Sprint(append([]interface{}{msg}, kv...)...))
}

var (
	errPipe       = errors.New("pipe error")
	errDisconnect = fmt.Errorf("%w: no device", ErrDisconnected)
)
