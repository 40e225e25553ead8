package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the structured logger used across the diff service. Every entry is
// tagged with the component that produced it.
type Logger interface {
	Debug(component, message string, fields map[string]interface{})
	Info(component, message string, fields map[string]interface{})
	Warning(component, message string, fields map[string]interface{})
	Error(component string, err error, fields map[string]interface{})
}

const (
	FormatJSON    = "json"
	FormatConsole = "console"
	// FormatText is logfmt-style key=value output.
	FormatText = "text"
)

// ParseLevel accepts zerolog level names plus the "warning" spelling.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// New builds a logger writing to w in the given format. A nil writer means stderr.
func New(format, level string, w io.Writer) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(format) {
	case "", FormatConsole:
		return NewZerolog(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}, lvl), nil
	case FormatJSON:
		return NewZerolog(w, lvl), nil
	case FormatText:
		return NewLogrus(w, lvl), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
