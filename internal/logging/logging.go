package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process logger. LOG_LEVEL and LOG_FORMAT override the
// environment defaults.
func Setup(service string) *slog.Logger {
	logger := slog.New(handler()).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func handler() slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level(),
		AddSource: os.Getenv("LOG_SOURCE") == "true",
	}
	switch format() {
	case "json":
		return slog.NewJSONHandler(os.Stdout, opts)
	case "pretty":
		opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		}
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func level() slog.Level {
	lv := os.Getenv("LOG_LEVEL")
	if lv == "" {
		if production() {
			return slog.LevelInfo
		}
		return slog.LevelDebug
	}
	switch strings.ToUpper(lv) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func format() string {
	if f := os.Getenv("LOG_FORMAT"); f != "" {
		return strings.ToLower(f)
	}
	if production() {
		return "json"
	}
	return "pretty"
}

func production() bool {
	for _, k := range []string{"ENV", "APP_ENV", "GO_ENV"} {
		if v := strings.ToLower(os.Getenv(k)); v != "" {
			return strings.HasPrefix(v, "prod")
		}
	}
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}
