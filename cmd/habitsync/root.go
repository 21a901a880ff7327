package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "habitsync",
	Short:        "habitsync - offline-first habit tracker sync",
	Long:         "Run the reference sync server, or inspect and maintain a device's local store.",
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deviceCmd)
}

// initLogger installs the default slog logger. format is "json" or "text".
func initLogger(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// stderr is where device commands log, keeping stdout for command output.
var stderr io.Writer = os.Stderr
