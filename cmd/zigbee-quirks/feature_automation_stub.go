//go:build no_automation

package main

import (
	"log/slog"

	"zigbee-quirks/internal/quirks"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *Config, logger *slog.Logger) (*autoStopper, quirks.ScriptCompiler) {
	logger.Info("scripted transforms disabled at build time")
	return &autoStopper{}, nil
}
