package flasher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/roulette-tools/nucleus-flasher/internal/protocol"
)

// Flasher uploads firmware to a Micronucleus bootloader.
type Flasher struct {
	dev     Device
	cfg     Config
	log     Logger
	claimed bool
}

// New creates a new Flasher for the given device.
func New(dev Device, opts ...Option) *Flasher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	// Page 0 must always wait longer than the rest.
	if cfg.Timing.FirstPage <= cfg.Timing.NextPage {
		cfg.Timing.FirstPage = 10 * cfg.Timing.NextPage
	}

	return &Flasher{
		dev: dev,
		cfg: cfg,
		log: cfg.Logger,
	}
}

// Timing returns the delays in effect.
func (f *Flasher) Timing() Timing {
	return f.cfg.Timing
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.cfg.Progress = cb
}

// reportProgress calls the progress callback if set.
func (f *Flasher) reportProgress(current, total int) {
	if f.cfg.Progress != nil {
		f.cfg.Progress(current, total)
	}
}

// Result summarises a finished upload.
type Result struct {
	Pages   int
	Bytes   int
	Elapsed time.Duration

	// PageTimes holds the time spent on each page, transfer and wait included.
	PageTimes []time.Duration

	// Disconnected is set when the device dropped off the bus in response to
	// RUN, which is the usual way a successful start shows up.
	Disconnected bool
}

type session struct {
	total     int
	page      int
	started   time.Time
	pageTimes []time.Duration
}

// Upload writes image to flash page by page and starts it.
func (f *Flasher) Upload(ctx context.Context, image []byte) error {
	_, err := f.UploadWithResult(ctx, image)
	return err
}

// UploadWithResult is Upload returning a summary of the completed upload.
func (f *Flasher) UploadWithResult(ctx context.Context, image []byte) (*Result, error) {
	if f.dev == nil {
		return nil, ErrNoDevice
	}
	if err := protocol.CheckCapacity(len(image)); err != nil {
		return nil, err
	}
	if err := f.Open(); err != nil {
		return nil, err
	}

	s := &session{
		total:     protocol.TotalPages(len(image)),
		started:   time.Now(),
		pageTimes: make([]time.Duration, 0, protocol.TotalPages(len(image))),
	}
	f.log.Info("flashing", "bytes", len(image), "pages", s.total)

	if err := f.writePages(ctx, s, image); err != nil {
		return nil, err
	}
	f.log.Info("write complete", "pages", s.total, "elapsed", time.Since(s.started))

	disconnected, err := f.run()
	if err != nil {
		return nil, err
	}

	return &Result{
		Pages:        s.total,
		Bytes:        len(image),
		Elapsed:      time.Since(s.started),
		PageTimes:    s.pageTimes,
		Disconnected: disconnected,
	}, nil
}

// writePages runs the page loop. Pages go out in ascending address order
// and each page's wait elapses before the next transfer starts.
func (f *Flasher) writePages(ctx context.Context, s *session, image []byte) error {
	for s.page = 0; s.page < s.total; s.page++ {
		if err := ctx.Err(); err != nil {
			return &CancelledError{PagesWritten: s.page, TotalPages: s.total, Err: err}
		}

		start := time.Now()
		if err := f.writePage(image, s.page); err != nil {
			return err
		}

		if err := f.cfg.Sleep(ctx, f.cfg.Timing.Delay(s.page)); err != nil {
			return &CancelledError{PagesWritten: s.page + 1, TotalPages: s.total, Err: err}
		}
		s.pageTimes = append(s.pageTimes, time.Since(start))

		written := s.page + 1
		if written%f.cfg.ProgressInterval == 0 || written == s.total {
			f.reportProgress(written, s.total)
		}
	}
	return nil
}

func (f *Flasher) writePage(image []byte, page int) error {
	buf := protocol.BuildPage(image, page)
	req := protocol.WriteRequest(page)

	f.log.Debug("write page", "page", page, "request", req)
	n, err := f.dev.Control(req.Type, req.Command, req.Value, req.Index, buf)
	if err == nil && n != len(buf) {
		err = fmt.Errorf("sent %d of %d bytes: %w", n, len(buf), io.ErrShortWrite)
	}
	if err != nil {
		f.log.Error("page write failed", "page", page, "address", req.Value, "error", err)
		return &TransferError{Page: page, Address: req.Value, Err: err}
	}
	return nil
}

// Run starts the program already in flash. The device resets in response,
// so a disconnect reported by the transport counts as success.
func (f *Flasher) Run(ctx context.Context) error {
	if f.dev == nil {
		return ErrNoDevice
	}
	if err := ctx.Err(); err != nil {
		return &CancelledError{Err: err}
	}
	if err := f.Open(); err != nil {
		return err
	}
	_, err := f.run()
	return err
}

func (f *Flasher) run() (bool, error) {
	req := protocol.RunRequest()
	f.log.Debug("starting user program", "request", req)

	_, err := f.dev.Control(req.Type, req.Command, req.Value, req.Index, nil)
	switch classifyRun(err) {
	case runStarted:
		f.log.Info("user program started")
		return false, nil
	case runDisconnected:
		f.log.Info("device reset after run", "transport", err)
		return true, nil
	default:
		return false, &RunError{Err: err}
	}
}

type runOutcome int

const (
	runStarted runOutcome = iota
	runDisconnected
	runFailed
)

// classifyRun maps the result of the RUN transfer to an outcome. A
// disconnect is only expected here, never after WRITE.
func classifyRun(err error) runOutcome {
	switch {
	case err == nil:
		return runStarted
	case errors.Is(err, ErrDisconnected):
		return runDisconnected
	default:
		return runFailed
	}
}
