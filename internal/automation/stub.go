//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
	"time"

	"zigbee-quirks/internal/cluster"
)

// Enabled reports whether scripted transforms are compiled in.
const Enabled = false

// ErrDisabled is returned by Compile when built with no_automation.
var ErrDisabled = errors.New("scripted transforms disabled at build time")

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a stub engine.
func NewEngine(_ *slog.Logger, _ time.Duration) *Engine { return &Engine{} }

// Compile always fails.
func (e *Engine) Compile(_ string) (cluster.Transform, error) { return nil, ErrDisabled }

// Close does nothing.
func (e *Engine) Close() {}
