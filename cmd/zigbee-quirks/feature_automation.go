//go:build !no_automation

package main

import (
	"log/slog"
	"time"

	"zigbee-quirks/internal/automation"
	"zigbee-quirks/internal/quirks"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Close()
	}
}

func initAutomation(cfg *Config, logger *slog.Logger) (*autoStopper, quirks.ScriptCompiler) {
	timeout := 100 * time.Millisecond
	if cfg.Scripts.Timeout != "" {
		timeout = duration(cfg.Scripts.Timeout)
	}
	engine := automation.NewEngine(logger, timeout)
	return &autoStopper{engine: engine}, engine.Compile
}
