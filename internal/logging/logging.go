// Package logging builds the zerolog logger used across lattice.
package logging

import (
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	l := New()
	zerolog.DefaultContextLogger = &l
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		function := ""
		if fun := runtime.FuncForPC(pc); fun != nil {
			name := fun.Name()
			if slash := strings.LastIndex(name, "/"); slash > 0 {
				name = name[slash+1:]
			}
			function = " " + name + "()"
		}
		return file + ":" + strconv.Itoa(line) + function
	}
}

// New returns a JSON logger on stdout. PRETTY=1 switches to console
// output on stderr; DEBUG=1 lowers the global level to debug.
func New() zerolog.Logger {
	var out io.Writer = os.Stdout
	if os.Getenv("PRETTY") == "1" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return NewWithWriter(out)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"

	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	return zerolog.New(w).With().Timestamp().Logger().Hook(CallerHook{})
}

// CallerHook adds the caller of the logging statement.
type CallerHook struct{}

func (h CallerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(3)
}
