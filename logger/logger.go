package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Options controls how the process logs.
type Options struct {
	Verbose bool
	// Out defaults to os.Stderr.
	Out io.Writer
}

// Configure sets up the standard logrus logger, which the managers log through,
// and returns it.
func Configure(opts Options) *logrus.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	l := logrus.StandardLogger()
	l.SetOutput(out)
	l.SetFormatter(formatter(out))
	if opts.Verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// formatter uses colours on a terminal and plain timestamped lines under a
// service manager.
func formatter(out io.Writer) logrus.Formatter {
	if isTerminal(out) {
		return &logrus.TextFormatter{ForceColors: true, FullTimestamp: true, TimestampFormat: "15:04:05"}
	}
	return &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
