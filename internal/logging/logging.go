package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs a JSON (default) or text slog handler tagged with the service
// name and makes it the process default.
func Init(service, format string) *slog.Logger {
	format = strings.ToLower(strings.TrimSpace(format))

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, nil)
	default:
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)

	if format != "" && format != "json" && format != "text" {
		logger.Warn("unknown log format, defaulting to json", "format", format)
	}
	return logger
}
