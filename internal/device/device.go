// Package device holds the endpoint map a device is bound with: which
// cluster instance answers for which cluster ID on which endpoint.
package device

import (
	"fmt"
	"sort"

	"zigbee-quirks/internal/cluster"
)

// Endpoint groups the cluster instances of one device endpoint.
type Endpoint struct {
	ID         uint8
	ProfileID  uint16
	DeviceType uint16

	in  map[uint16]cluster.Cluster
	out []uint16
}

// NewEndpoint creates an empty endpoint.
func NewEndpoint(id uint8, profileID, deviceType uint16) *Endpoint {
	return &Endpoint{
		ID:         id,
		ProfileID:  profileID,
		DeviceType: deviceType,
		in:         make(map[uint16]cluster.Cluster),
	}
}

// Add installs an input cluster. An endpoint holds at most one instance per
// cluster ID.
func (e *Endpoint) Add(c cluster.Cluster) error {
	if _, dup := e.in[c.ID()]; dup {
		return fmt.Errorf("endpoint %d: cluster 0x%04X already present", e.ID, c.ID())
	}
	e.in[c.ID()] = c
	return nil
}

// Replace swaps the instance for a cluster ID, typically with an adapter
// wrapping the original.
func (e *Endpoint) Replace(c cluster.Cluster) {
	e.in[c.ID()] = c
}

// Remove drops an input cluster.
func (e *Endpoint) Remove(id uint16) {
	delete(e.in, id)
}

// AddOutput records a client-side cluster ID. Output clusters carry no state here.
func (e *Endpoint) AddOutput(id uint16) {
	for _, o := range e.out {
		if o == id {
			return
		}
	}
	e.out = append(e.out, id)
}

// Cluster returns the input cluster with the given ID.
func (e *Endpoint) Cluster(id uint16) (cluster.Cluster, error) {
	c, ok := e.in[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %d cluster 0x%04X: %w", e.ID, id, cluster.ErrUnknownCluster)
	}
	return c, nil
}

// InClusters returns the input clusters ordered by ID.
func (e *Endpoint) InClusters() []cluster.Cluster {
	out := make([]cluster.Cluster, 0, len(e.in))
	for _, c := range e.in {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// OutClusters returns the output cluster IDs.
func (e *Endpoint) OutClusters() []uint16 {
	return append([]uint16(nil), e.out...)
}

// Switch exposes a non-boolean attribute as an on/off control: writing On
// or Off turns it on or off, and any other value reads as unknown.
type Switch struct {
	Name         string `json:"name" yaml:"name"`
	FallbackName string `json:"fallback_name,omitempty" yaml:"fallback_name,omitempty"`
	Endpoint     uint8  `json:"endpoint" yaml:"endpoint"`
	Cluster      uint16 `json:"cluster" yaml:"cluster"`
	Attr         uint16 `json:"attr" yaml:"attr"`
	On           int64  `json:"on" yaml:"on"`
	Off          int64  `json:"off" yaml:"off"`
}

// Device is a bound device with its resolved endpoint map.
type Device struct {
	IEEE         string
	Manufacturer string
	Model        string
	Quirk        string // empty when bound without a quirk
	Switches     []Switch

	endpoints map[uint8]*Endpoint
}

// Switch returns the named switch.
func (d *Device) Switch(name string) (Switch, bool) {
	for _, s := range d.Switches {
		if s.Name == name {
			return s, true
		}
	}
	return Switch{}, false
}

// New creates a device with no endpoints.
func New(ieee, manufacturer, model string) *Device {
	return &Device{
		IEEE:         ieee,
		Manufacturer: manufacturer,
		Model:        model,
		endpoints:    make(map[uint8]*Endpoint),
	}
}

// AddEndpoint installs or replaces an endpoint.
func (d *Device) AddEndpoint(ep *Endpoint) {
	d.endpoints[ep.ID] = ep
}

// Endpoint returns one endpoint.
func (d *Device) Endpoint(id uint8) (*Endpoint, bool) {
	ep, ok := d.endpoints[id]
	return ep, ok
}

// Endpoints returns all endpoints ordered by ID.
func (d *Device) Endpoints() []*Endpoint {
	out := make([]*Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cluster resolves a cluster on one endpoint.
func (d *Device) Cluster(endpoint uint8, id uint16) (cluster.Cluster, error) {
	ep, ok := d.endpoints[endpoint]
	if !ok {
		return nil, fmt.Errorf("%s endpoint %d: %w", d.IEEE, endpoint, cluster.ErrUnknownCluster)
	}
	return ep.Cluster(id)
}
