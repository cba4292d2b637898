package quirks

import (
	"fmt"

	"zigbee-quirks/internal/device"
	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/zcl"
)

// BuildDevice creates the unmodified endpoint map described by a device
// announcement. Clusters without a registered definition get an empty one so
// they can still be addressed.
func BuildDevice(env Env, ann transport.DeviceAnnounceEvent) (*device.Device, error) {
	dev := device.New(ann.IEEE, ann.Manufacturer, ann.Model)
	for _, d := range ann.Endpoints {
		ep := device.NewEndpoint(d.Endpoint, d.ProfileID, d.DeviceType)
		for _, id := range d.InClusters {
			def := env.Defs.Get(id)
			if def == nil {
				def = &zcl.ClusterDef{ID: id, Name: fmt.Sprintf("0x%04X", id)}
			}
			if err := ep.Add(env.Build(def, d.Endpoint)); err != nil {
				return nil, fmt.Errorf("device %s: %w", ann.IEEE, err)
			}
		}
		for _, id := range d.OutClusters {
			ep.AddOutput(id)
		}
		dev.AddEndpoint(ep)
	}
	return dev, nil
}

// Bind builds the device and applies the matching quirk, if any. The
// endpoint map is resolved once here and not re-resolved per command.
func (r *Registry) Bind(env Env, ann transport.DeviceAnnounceEvent) (*device.Device, error) {
	dev, err := BuildDevice(env, ann)
	if err != nil {
		return nil, err
	}
	q := r.Lookup(ann.Manufacturer, ann.Model, ann.Endpoints)
	if q == nil {
		return dev, nil
	}
	if err := q.Apply(env, dev); err != nil {
		return nil, fmt.Errorf("quirk %s: %w", q.Name, err)
	}
	dev.Quirk = q.Name
	r.logger.Info("quirk applied", "ieee", ann.IEEE, "quirk", q.Name)
	return dev, nil
}
