package logger

import (
	"io"
	stdlog "log"
	"os"

	"fedipull/internal/config"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logWrapper routes stray standard-library log output through zerolog so
// third-party packages that call log.Printf still produce structured lines.
type logWrapper struct {
	zerolog.Logger
}

func (l logWrapper) Write(p []byte) (n int, err error) {
	n = len(p)
	if n > 0 && p[n-1] == '\n' {
		p = p[:n-1]
	}
	l.Info().Msg(string(p))
	return
}

func InitializeLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if config.IsDevMode() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var out io.Writer = os.Stdout
	if isatty.IsTerminal(os.Stdout.Fd()) {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: zerolog.TimeFormatUnix}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(logWrapper{log.Logger})
}
