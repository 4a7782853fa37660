package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-mcp2515/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	l := logging.New(format, lvl, os.Stderr).With("app", "mcp2515-gateway")
	logging.Set(l)
	return l
}
