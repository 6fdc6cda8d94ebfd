package flasher

import (
	"context"
	"time"
)

// Default flash write latencies. Page 0 triggers a block erase on top of
// the page program, so its wait is an order of magnitude longer.
const (
	DefaultFirstPageDelay   = 250 * time.Millisecond
	DefaultNextPageDelay    = 20 * time.Millisecond
	DefaultProgressInterval = 5
)

// Timing holds the idle intervals observed after each page write.
type Timing struct {
	FirstPage time.Duration
	NextPage  time.Duration
}

// DefaultTiming returns the conservative timing used unless overridden.
func DefaultTiming() Timing {
	return Timing{
		FirstPage: DefaultFirstPageDelay,
		NextPage:  DefaultNextPageDelay,
	}
}

// Delay returns the wait after writing the given page.
func (t Timing) Delay(page int) time.Duration {
	if page == 0 {
		return t.FirstPage
	}
	return t.NextPage
}

// ProgressCallback is called to report upload progress.
type ProgressCallback func(current, total int)

// Logger receives diagnostic messages with key-value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config holds the flasher configuration.
type Config struct {
	Timing           Timing
	Progress         ProgressCallback
	ProgressInterval int
	Logger           Logger
	Sleep            Sleeper
}

func defaultConfig() Config {
	return Config{
		Timing:           DefaultTiming(),
		ProgressInterval: DefaultProgressInterval,
		Logger:           nopLogger{},
		Sleep:            sleepContext,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

// WithTiming sets the post-write delays. A zero field keeps its default.
func WithTiming(t Timing) Option {
	return func(c *Config) {
		if t.FirstPage > 0 {
			c.Timing.FirstPage = t.FirstPage
		}
		if t.NextPage > 0 {
			c.Timing.NextPage = t.NextPage
		}
	}
}

// WithProgressCallback sets the progress sink.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) {
		c.Progress = cb
	}
}

// WithProgressInterval reports progress every n pages. The final page is
// always reported.
func WithProgressInterval(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ProgressInterval = n
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithSleeper replaces the wait used between pages.
func WithSleeper(s Sleeper) Option {
	return func(c *Config) {
		if s != nil {
			c.Sleep = s
		}
	}
}
