package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zigbee-quirks/internal/cluster"
	"zigbee-quirks/internal/device"
	"zigbee-quirks/internal/quirks"
	"zigbee-quirks/internal/store"
	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/zcl"
)

var (
	// ErrUnknownDevice is returned for an IEEE address that is not bound.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrUnknownSwitch is returned for a switch name the device does not expose.
	ErrUnknownSwitch = errors.New("unknown switch")
)

// Config holds coordinator configuration.
type Config struct {
	// SideEffectTimeout bounds each fire-and-forget command. Zero leaves it
	// to the transport.
	SideEffectTimeout time.Duration
}

// NormalizeIEEE upper-cases an IEEE address and strips colons and a 0x prefix.
func NormalizeIEEE(s string) string {
	s = strings.ReplaceAll(s, ":", "")
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return strings.ToUpper(s)
}

// Coordinator binds announced devices to quirks and is the single entry
// point for commands, attribute access and reports.
type Coordinator struct {
	tr      transport.Transport
	store   store.Store
	defs    *zcl.Registry
	quirks  *quirks.Registry
	events  *EventBus
	devices *DeviceManager
	logger  *slog.Logger
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a coordinator and registers the transport indication handlers.
func New(tr transport.Transport, st store.Store, defs *zcl.Registry, qr *quirks.Registry, events *EventBus, cfg Config, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		tr:     tr,
		store:  st,
		defs:   defs,
		quirks: qr,
		events: events,
		logger: logger,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	c.devices = NewDeviceManager(c)
	c.registerIndicationHandlers()
	return c
}

// Context returns the coordinator's context, which is cancelled on Stop().
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Start rebinds every device persisted by a previous run.
func (c *Coordinator) Start(ctx context.Context) error {
	n, err := c.devices.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore devices: %w", err)
	}
	c.logger.Info("coordinator started", "devices", n, "quirks", c.quirks.Len())
	return nil
}

// Stop cancels the coordinator context and waits for pending side effects.
func (c *Coordinator) Stop() {
	c.cancel()
	c.devices.Wait()
}

// Store returns the store.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Registry returns the ZCL registry.
func (c *Coordinator) Registry() *zcl.Registry {
	return c.defs
}

// Quirks returns the quirk registry.
func (c *Coordinator) Quirks() *quirks.Registry {
	return c.quirks
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Devices returns the device manager.
func (c *Coordinator) Devices() *DeviceManager {
	return c.devices
}

func (c *Coordinator) registerIndicationHandlers() {
	c.tr.OnDeviceAnnounce(func(evt transport.DeviceAnnounceEvent) {
		c.devices.HandleAnnounce(evt)
	})
	c.tr.OnDeviceLeft(func(evt transport.DeviceLeftEvent) {
		c.devices.HandleLeave(evt)
	})
	c.tr.OnAttributeReport(func(evt transport.AttributeReportEvent) {
		c.devices.HandleAttributeReport(evt)
	})
}

// Command invokes a cluster command on a bound device. Commands to the same
// device are serialized.
func (c *Coordinator) Command(ctx context.Context, ieee string, ep uint8, clusterID uint16, inv cluster.Invocation) (*zcl.DefaultResponse, error) {
	md, cl, err := c.devices.resolve(ieee, ep, clusterID)
	if err != nil {
		return nil, err
	}
	md.mu.Lock()
	resp, err := cl.Command(ctx, inv)
	md.mu.Unlock()

	data := CommandData{IEEE: md.dev.IEEE, Endpoint: ep, ClusterID: clusterID, CommandID: inv.CommandID}
	switch {
	case err != nil:
		data.Error = err.Error()
		c.logger.Warn("command failed", "ieee", md.dev.IEEE, "endpoint", ep,
			"cluster", fmt.Sprintf("0x%04X", clusterID), "cmd", fmt.Sprintf("0x%02X", inv.CommandID), "err", err)
	case resp != nil:
		data.Status = resp.Status.String()
	}
	c.events.Emit(Event{Type: EventCommand, Data: data})
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", md.dev.IEEE, err)
	}
	return resp, nil
}

// WriteAttributes writes attribute values on a bound device.
func (c *Coordinator) WriteAttributes(ctx context.Context, ieee string, ep uint8, clusterID uint16, values map[uint16]any, manufacturer uint16) ([]zcl.WriteStatus, error) {
	md, cl, err := c.devices.resolve(ieee, ep, clusterID)
	if err != nil {
		return nil, err
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	st, err := cl.WriteAttributes(ctx, values, manufacturer)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", md.dev.IEEE, err)
	}
	return st, nil
}

// ReadAttributes reads attributes from a bound device, refreshing the cache.
func (c *Coordinator) ReadAttributes(ctx context.Context, ieee string, ep uint8, clusterID uint16, ids []uint16, manufacturer uint16) ([]zcl.ReadRecord, error) {
	md, cl, err := c.devices.resolve(ieee, ep, clusterID)
	if err != nil {
		return nil, err
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	recs, err := cl.ReadAttributes(ctx, ids, manufacturer)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", md.dev.IEEE, err)
	}
	return recs, nil
}

// Attributes returns the cached attribute values of one cluster.
func (c *Coordinator) Attributes(ieee string, ep uint8, clusterID uint16) (map[uint16]any, error) {
	_, cl, err := c.devices.resolve(ieee, ep, clusterID)
	if err != nil {
		return nil, err
	}
	return cl.Attributes().Snapshot(), nil
}

// SetSwitch turns a device switch entity on or off by writing its raw value.
func (c *Coordinator) SetSwitch(ctx context.Context, ieee, name string, on bool) error {
	sw, err := c.devices.findSwitch(ieee, name)
	if err != nil {
		return err
	}
	raw := sw.Off
	if on {
		raw = sw.On
	}
	st, err := c.WriteAttributes(ctx, ieee, sw.Endpoint, sw.Cluster, map[uint16]any{sw.Attr: raw}, zcl.NoManufacturer)
	if err != nil {
		return fmt.Errorf("switch %s: %w", name, err)
	}
	for _, s := range st {
		if s.Status != zcl.StatusSuccess {
			return fmt.Errorf("switch %s: device answered %s", name, s.Status)
		}
	}
	return nil
}

// SwitchState reports the boolean state of a switch entity. known is false
// while the cached value is missing or matches neither on nor off.
func (c *Coordinator) SwitchState(ieee, name string) (on, known bool, err error) {
	sw, err := c.devices.findSwitch(ieee, name)
	if err != nil {
		return false, false, err
	}
	vals, err := c.Attributes(ieee, sw.Endpoint, sw.Cluster)
	if err != nil {
		return false, false, err
	}
	n, ok := zcl.ToInt64(vals[sw.Attr])
	if !ok {
		return false, false, nil
	}
	switch n {
	case sw.On:
		return true, true, nil
	case sw.Off:
		return false, true, nil
	}
	return false, false, nil
}

// Device returns a bound device.
func (c *Coordinator) Device(ieee string) (*device.Device, error) {
	return c.devices.Get(ieee)
}
