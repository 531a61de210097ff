package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-osc-bridge/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "osc-bridge")
	logging.Set(l)
	return l
}
