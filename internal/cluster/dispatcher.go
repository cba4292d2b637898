package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zigbee-quirks/internal/zcl"
)

// Failure describes a side-effect command that did not go through.
type Failure struct {
	Cluster   uint16
	Endpoint  uint8
	CommandID uint8
	Err       error
}

// ErrorHandler receives side-effect failures. It must not block.
type ErrorHandler func(Failure)

// Dispatcher sends best-effort commands in the background. The caller never
// waits for them and never sees their outcome.
type Dispatcher struct {
	logger  *slog.Logger
	timeout time.Duration
	onError ErrorHandler
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A zero timeout leaves side effects
// bounded only by the transport. onError may be nil.
func NewDispatcher(logger *slog.Logger, timeout time.Duration, onError ErrorHandler) *Dispatcher {
	return &Dispatcher{
		logger:  logger.With("component", "dispatcher"),
		timeout: timeout,
		onError: onError,
	}
}

// Go schedules inv on target and returns immediately. The command is sent
// without asking for a reply. ctx only contributes values; its cancellation
// does not reach the side effect.
func (d *Dispatcher) Go(ctx context.Context, target Cluster, inv Invocation) {
	d.GoUndo(ctx, target, inv, nil)
}

// GoUndo is Go with an undo hook that runs, on the dispatch goroutine and
// before the error handler, when the side effect fails. Callers that record
// the expected outcome up front use it to take that record back.
func (d *Dispatcher) GoUndo(ctx context.Context, target Cluster, inv Invocation, undo func(error)) {
	inv = inv.Clone()
	inv.ExpectReply = false
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.fail(target, inv, fmt.Errorf("panic: %v", r), undo)
			}
		}()

		sendCtx := ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		resp, err := target.Command(sendCtx, inv)
		if err == nil && resp != nil && resp.Status != zcl.StatusSuccess {
			err = fmt.Errorf("device answered %s", resp.Status)
		}
		if err != nil {
			d.fail(target, inv, err, undo)
			return
		}
		d.logger.Debug("side effect sent",
			"cluster", fmt.Sprintf("0x%04X", target.ID()), "cmd", fmt.Sprintf("0x%02X", inv.CommandID))
	}()
}

func (d *Dispatcher) fail(target Cluster, inv Invocation, err error, undo func(error)) {
	if undo != nil {
		undo(err)
	}
	d.logger.Warn("side effect failed",
		"cluster", fmt.Sprintf("0x%04X", target.ID()),
		"endpoint", target.Endpoint(),
		"cmd", fmt.Sprintf("0x%02X", inv.CommandID),
		"err", err)
	if d.onError != nil {
		d.onError(Failure{Cluster: target.ID(), Endpoint: target.Endpoint(), CommandID: inv.CommandID, Err: err})
	}
}

// Wait blocks until every scheduled side effect has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
