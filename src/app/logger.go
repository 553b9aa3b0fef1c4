package app

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// InitLogger builds the root logger. Development gets colored console output,
// every other environment gets one JSON object per line.
func InitLogger(levelStr string, environment string) zerolog.Logger {
	return newLogger(os.Stdout, levelStr, environment)
}

func newLogger(out io.Writer, levelStr string, environment string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if environment == "dev" || environment == "development" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    false,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	return zerolog.New(out).With().
		Timestamp().
		Str("service", "paymaster").
		Logger()
}
