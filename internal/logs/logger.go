package logs

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes leveled key-value lines. It satisfies flasher.Logger.
type Logger struct {
	out     *log.Logger
	closer  io.Closer
	verbose bool
	mutex   sync.Mutex
}

// Setup returns a Logger writing to stderr, or to logfile with rotation
// after 20MB when logfile is set. Debug lines are dropped unless verbose.
func Setup(logfile string, verbose bool) *Logger {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if logfile != "" {
		lj := &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
		}
		w = lj
		closer = lj
	}
	return New(w, closer, verbose)
}

// New returns a Logger writing to w. closer may be nil.
func New(w io.Writer, closer io.Closer, verbose bool) *Logger {
	return &Logger{
		out:     log.New(w, "", log.LstdFlags),
		closer:  closer,
		verbose: verbose,
	}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	if !l.verbose {
		return
	}
	l.print("DEBUG", msg, keysAndValues)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.print("INFO", msg, keysAndValues)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.print("WARN", msg, keysAndValues)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.print("ERROR", msg, keysAndValues)
}

// Close closes the rotating log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) print(level, msg string, kv []interface{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.out.Print(format(level, msg, kv))
}

func format(level, msg string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if i+1 < len(kv) {
			fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, " %v=<missing>", kv[i])
		}
	}
	return b.String()
}
