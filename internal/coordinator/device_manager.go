package coordinator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"zigbee-quirks/internal/cluster"
	"zigbee-quirks/internal/device"
	"zigbee-quirks/internal/quirks"
	"zigbee-quirks/internal/store"
	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/zcl"
)

// managedDevice is a bound device with its command lock and side-effect
// dispatcher.
type managedDevice struct {
	mu       sync.Mutex
	dev      *device.Device
	dispatch *cluster.Dispatcher
}

// DeviceManager handles device lifecycle (announce, leave, reports).
type DeviceManager struct {
	coord  *Coordinator
	logger *slog.Logger

	mu      sync.RWMutex
	devices map[string]*managedDevice
}

// NewDeviceManager creates a new device manager.
func NewDeviceManager(coord *Coordinator) *DeviceManager {
	return &DeviceManager{
		coord:   coord,
		logger:  coord.logger.With("component", "device_manager"),
		devices: make(map[string]*managedDevice),
	}
}

// deviceName returns a human-readable display name for a device.
func deviceName(dev *store.Device) string {
	if dev == nil {
		return ""
	}
	name := dev.Manufacturer
	if dev.Model != "" {
		if name != "" {
			name += " "
		}
		name += dev.Model
	}
	return name
}

func toDescriptors(eps []store.Endpoint) []transport.SimpleDescriptor {
	out := make([]transport.SimpleDescriptor, 0, len(eps))
	for _, ep := range eps {
		out = append(out, transport.SimpleDescriptor{
			Endpoint:    ep.ID,
			ProfileID:   ep.ProfileID,
			DeviceType:  ep.DeviceID,
			InClusters:  ep.InClusters,
			OutClusters: ep.OutClusters,
		})
	}
	return out
}

func fromDescriptors(eps []transport.SimpleDescriptor) []store.Endpoint {
	out := make([]store.Endpoint, 0, len(eps))
	for _, d := range eps {
		out = append(out, store.Endpoint{
			ID:          d.Endpoint,
			ProfileID:   d.ProfileID,
			DeviceID:    d.DeviceType,
			InClusters:  d.InClusters,
			OutClusters: d.OutClusters,
		})
	}
	return out
}

// Restore rebinds every stored device from its saved descriptor and reloads
// its attribute caches.
func (dm *DeviceManager) Restore(_ context.Context) (int, error) {
	devices, err := dm.coord.Store().ListDevices()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sd := range devices {
		ann := transport.DeviceAnnounceEvent{
			IEEE:         sd.IEEEAddress,
			Manufacturer: sd.Manufacturer,
			Model:        sd.Model,
			Endpoints:    toDescriptors(sd.Endpoints),
		}
		if _, err := dm.bind(ann); err != nil {
			dm.logger.Error("restore device", "ieee", sd.IEEEAddress, "name", deviceName(sd), "err", err)
			continue
		}
		n++
	}
	return n, nil
}

// HandleAnnounce persists the descriptor and binds the device. A device that
// announces again is rebound; its cached attributes survive.
func (dm *DeviceManager) HandleAnnounce(evt transport.DeviceAnnounceEvent) {
	evt.IEEE = NormalizeIEEE(evt.IEEE)
	now := time.Now()
	sd, err := dm.coord.Store().GetDevice(evt.IEEE)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			dm.logger.Error("load device", "ieee", evt.IEEE, "err", err)
			return
		}
		sd = &store.Device{IEEEAddress: evt.IEEE, JoinedAt: now}
	}
	sd.Manufacturer = evt.Manufacturer
	sd.Model = evt.Model
	sd.Endpoints = fromDescriptors(evt.Endpoints)
	sd.LastSeen = now

	md, err := dm.bind(evt)
	if err != nil {
		dm.logger.Error("bind device", "ieee", evt.IEEE, "name", deviceName(sd), "err", err)
		return
	}
	sd.Quirk = md.dev.Quirk
	if err := dm.coord.Store().SaveDevice(sd); err != nil {
		dm.logger.Error("save device", "ieee", evt.IEEE, "err", err)
	}
}

// bind builds the endpoint map through the quirk registry, restores cached
// attributes and wires persistence and event listeners.
func (dm *DeviceManager) bind(ann transport.DeviceAnnounceEvent) (*managedDevice, error) {
	ieee := ann.IEEE
	logger := dm.coord.logger.With("ieee", ieee)
	md := &managedDevice{}
	md.dispatch = cluster.NewDispatcher(logger, dm.coord.config.SideEffectTimeout, func(f cluster.Failure) {
		dm.coord.Events().Emit(Event{Type: EventSideEffectError, Data: FailureData{
			IEEE:      ieee,
			Endpoint:  f.Endpoint,
			ClusterID: f.Cluster,
			CommandID: f.CommandID,
			Error:     f.Err.Error(),
		}})
	})
	env := quirks.Env{
		Logger:     logger,
		Dispatcher: md.dispatch,
		Defs:       dm.coord.Registry(),
		Build: func(def *zcl.ClusterDef, endpoint uint8) cluster.Cluster {
			return cluster.NewBase(def, ieee, endpoint, dm.coord.tr, logger)
		},
	}
	dev, err := dm.coord.Quirks().Bind(env, ann)
	if err != nil {
		return nil, err
	}
	md.dev = dev

	dm.restoreAttributes(dev)
	for _, ep := range dev.Endpoints() {
		for _, cl := range ep.InClusters() {
			dm.watch(ieee, cl)
		}
	}

	dm.mu.Lock()
	prev := dm.devices[ieee]
	dm.devices[ieee] = md
	dm.mu.Unlock()
	if prev != nil {
		prev.dispatch.Wait()
	}

	dm.logger.Info("device bound", "ieee", ieee, "manufacturer", dev.Manufacturer,
		"model", dev.Model, "quirk", dev.Quirk, "endpoints", len(dev.Endpoints()))
	dm.coord.Events().Emit(Event{Type: EventDeviceBound, Data: DeviceData{
		IEEE:         ieee,
		Manufacturer: dev.Manufacturer,
		Model:        dev.Model,
		Quirk:        dev.Quirk,
	}})
	return md, nil
}

func (dm *DeviceManager) restoreAttributes(dev *device.Device) {
	saved, err := dm.coord.Store().LoadAttributes(dev.IEEE)
	if err != nil {
		dm.logger.Error("load attributes", "ieee", dev.IEEE, "err", err)
		return
	}
	type clusterKey struct {
		ep uint8
		id uint16
	}
	grouped := make(map[clusterKey]map[uint16]any)
	for k, av := range saved {
		data, err := hex.DecodeString(av.Data)
		if err != nil {
			dm.logger.Warn("skip stored attribute", "ieee", dev.IEEE, "key", k.String(), "err", err)
			continue
		}
		v, _, err := zcl.DecodeValue(av.Type, data)
		if err != nil {
			dm.logger.Warn("skip stored attribute", "ieee", dev.IEEE, "key", k.String(), "err", err)
			continue
		}
		ck := clusterKey{k.Endpoint, k.Cluster}
		if grouped[ck] == nil {
			grouped[ck] = make(map[uint16]any)
		}
		grouped[ck][k.Attr] = v
	}
	for ck, values := range grouped {
		cl, err := dev.Cluster(ck.ep, ck.id)
		if err != nil {
			continue
		}
		cl.Attributes().Restore(values)
	}
}

// watch persists every accepted value of cl and publishes it on the bus.
func (dm *DeviceManager) watch(ieee string, cl cluster.Cluster) {
	def := cl.Def()
	ep := cl.Endpoint()
	cl.Attributes().Listen(func(r cluster.Report) {
		data := ReportData{
			IEEE:      ieee,
			Endpoint:  ep,
			ClusterID: def.ID,
			Cluster:   def.Name,
			AttrID:    r.AttrID,
			Value:     r.Value,
		}
		if attr := def.FindAttribute(r.AttrID); attr != nil {
			data.AttrName = attr.Name
			dm.persist(ieee, ep, def.ID, attr, r)
		}
		typ := EventAttributeReport
		if r.Synthetic {
			typ = EventSyntheticReport
		}
		dm.coord.Events().Emit(Event{Type: typ, Data: data})
	})
}

func (dm *DeviceManager) persist(ieee string, ep uint8, clusterID uint16, attr *zcl.AttributeDef, r cluster.Report) {
	raw, err := zcl.EncodeValue(attr.Type, r.Value)
	if err != nil {
		dm.logger.Debug("attribute not persisted", "ieee", ieee,
			"cluster", fmt.Sprintf("0x%04X", clusterID), "attr", attr.Name, "err", err)
		return
	}
	key := store.AttrKey{Endpoint: ep, Cluster: clusterID, Attr: attr.ID}
	err = dm.coord.Store().SaveAttribute(ieee, key, store.AttributeValue{
		Type:      attr.Type,
		Data:      hex.EncodeToString(raw),
		Synthetic: r.Synthetic,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		dm.logger.Error("save attribute", "ieee", ieee, "key", key.String(), "err", err)
	}
}

// HandleLeave forgets the device and deletes it from the store.
func (dm *DeviceManager) HandleLeave(evt transport.DeviceLeftEvent) {
	ieee := NormalizeIEEE(evt.IEEE)
	dm.mu.Lock()
	md, ok := dm.devices[ieee]
	delete(dm.devices, ieee)
	dm.mu.Unlock()
	if ok {
		md.dispatch.Wait()
	}

	if err := dm.coord.Store().DeleteDevice(ieee); err != nil {
		dm.logger.Error("delete device on leave", "err", err, "ieee", ieee)
	}
	dm.logger.Info("device left", "ieee", ieee)
	dm.coord.Events().Emit(Event{Type: EventDeviceLeft, Data: DeviceData{IEEE: ieee}})
}

// HandleAttributeReport decodes a wire report and hands it to the cluster
// instance, which stores it and drives any bridges.
func (dm *DeviceManager) HandleAttributeReport(evt transport.AttributeReportEvent) {
	ieee := NormalizeIEEE(evt.IEEE)
	dm.mu.RLock()
	md, ok := dm.devices[ieee]
	dm.mu.RUnlock()
	if !ok {
		dm.logger.Debug("report from unbound device", "ieee", ieee)
		return
	}
	cl, err := md.dev.Cluster(evt.Endpoint, evt.Cluster)
	if err != nil {
		dm.logger.Debug("report for unknown cluster", "ieee", ieee, "endpoint", evt.Endpoint,
			"cluster", fmt.Sprintf("0x%04X", evt.Cluster))
		return
	}
	v, _, err := zcl.DecodeValue(evt.DataType, evt.Value)
	if err != nil {
		dm.logger.Warn("undecodable report", "ieee", ieee, "cluster", fmt.Sprintf("0x%04X", evt.Cluster),
			"attr", fmt.Sprintf("0x%04X", evt.AttrID), "type", zcl.TypeName(evt.DataType), "err", err)
		return
	}
	cl.HandleReport(cluster.Report{AttrID: evt.AttrID, Value: v, Manufacturer: evt.Manufacturer})

	err = dm.coord.Store().UpdateDevice(ieee, func(d *store.Device) error {
		d.LastSeen = time.Now()
		if evt.LQI != 0 {
			d.LQI = evt.LQI
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		dm.logger.Warn("update last seen", "ieee", ieee, "err", err)
	}
}

// Get returns a bound device.
func (dm *DeviceManager) Get(ieee string) (*device.Device, error) {
	ieee = NormalizeIEEE(ieee)
	dm.mu.RLock()
	md, ok := dm.devices[ieee]
	dm.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("device %s: %w", ieee, ErrUnknownDevice)
	}
	return md.dev, nil
}

// List returns every bound device sorted by IEEE address.
func (dm *DeviceManager) List() []*device.Device {
	dm.mu.RLock()
	out := make([]*device.Device, 0, len(dm.devices))
	for _, md := range dm.devices {
		out = append(out, md.dev)
	}
	dm.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].IEEE < out[j].IEEE })
	return out
}

// Wait blocks until side effects of every bound device have finished.
func (dm *DeviceManager) Wait() {
	dm.mu.RLock()
	mds := make([]*managedDevice, 0, len(dm.devices))
	for _, md := range dm.devices {
		mds = append(mds, md)
	}
	dm.mu.RUnlock()
	for _, md := range mds {
		md.dispatch.Wait()
	}
}

func (dm *DeviceManager) resolve(ieee string, ep uint8, clusterID uint16) (*managedDevice, cluster.Cluster, error) {
	ieee = NormalizeIEEE(ieee)
	dm.mu.RLock()
	md, ok := dm.devices[ieee]
	dm.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("device %s: %w", ieee, ErrUnknownDevice)
	}
	cl, err := md.dev.Cluster(ep, clusterID)
	if err != nil {
		return nil, nil, fmt.Errorf("device %s: %w", ieee, err)
	}
	return md, cl, nil
}

func (dm *DeviceManager) findSwitch(ieee, name string) (device.Switch, error) {
	dev, err := dm.Get(ieee)
	if err != nil {
		return device.Switch{}, err
	}
	sw, ok := dev.Switch(name)
	if !ok {
		return device.Switch{}, fmt.Errorf("device %s switch %q: %w", dev.IEEE, name, ErrUnknownSwitch)
	}
	return sw, nil
}
