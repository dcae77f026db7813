// Package logs builds the console logger and bridges the AWS SDK's own
// logging into it.
package logs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/smithy-go/logging"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// New returns a tinted console logger writing to w. Colour is only used
// when w is a terminal.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	}))
}

// SDKLogger adapts l to the smithy logger used by the AWS SDK clients.
// SDK warnings log as warnings, everything else at debug.
func SDKLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(classification logging.Classification, format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		switch classification {
		case logging.Warn:
			l.Warn(msg, "source", "aws-sdk")
		default:
			l.Debug(msg, "source", "aws-sdk")
		}
	})
}
