// Package quirks corrects devices that do not follow the ZCL standard.
// A quirk matches a device by manufacturer, model and endpoint signature and
// then rewrites its endpoint map: wrapping clusters in adapters, adding
// local clusters and bridging attributes between them.
package quirks

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"zigbee-quirks/internal/cluster"
	"zigbee-quirks/internal/device"
	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/zcl"
)

// Profiles and device types used by signatures.
const (
	ProfileHA          uint16 = 0x0104
	ProfileGreenPower  uint16 = 0xA1E0
	DeviceOnOffLight   uint16 = 0x0100
	DeviceDimmable     uint16 = 0x0101
	DeviceTempSensor   uint16 = 0x0302
	DeviceGPProxyBasic uint16 = 0x0061
)

var ErrInvalidQuirk = errors.New("invalid quirk")

// Env is what a quirk may use while rewriting a device at bind time.
type Env struct {
	Logger     *slog.Logger
	Dispatcher *cluster.Dispatcher
	Defs       *zcl.Registry
	// Build creates a transport-backed cluster for the device being bound.
	Build func(def *zcl.ClusterDef, endpoint uint8) cluster.Cluster
}

// EndpointSignature is the simple descriptor a device must present.
type EndpointSignature struct {
	ProfileID  uint16
	DeviceType uint16
	In         []uint16
	Out        []uint16
}

// Signature lists every endpoint a device must have, and no others.
type Signature map[uint8]EndpointSignature

// Matches reports whether the descriptors present exactly this signature.
func (s Signature) Matches(eps []transport.SimpleDescriptor) bool {
	if len(eps) != len(s) {
		return false
	}
	for _, d := range eps {
		want, ok := s[d.Endpoint]
		if !ok {
			return false
		}
		if want.ProfileID != d.ProfileID || want.DeviceType != d.DeviceType {
			return false
		}
		if !sameSet(want.In, d.InClusters) || !sameSet(want.Out, d.OutClusters) {
			return false
		}
	}
	return true
}

func sameSet(a, b []uint16) bool {
	seen := make(map[uint16]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// Quirk corrects one device model.
type Quirk struct {
	Name         string
	Manufacturer string
	Model        string
	// Signatures, when present, must include one the device matches.
	Signatures []Signature
	Apply      func(env Env, dev *device.Device) error
}

func (q *Quirk) matches(eps []transport.SimpleDescriptor) bool {
	if len(q.Signatures) == 0 {
		return true
	}
	for _, s := range q.Signatures {
		if s.Matches(eps) {
			return true
		}
	}
	return false
}

// Registry holds quirks keyed by manufacturer+model. Several quirks may share
// a model when their signatures differ.
type Registry struct {
	mu     sync.RWMutex
	quirks map[string][]*Quirk
	logger *slog.Logger
}

func quirkKey(manufacturer, model string) string {
	return manufacturer + "\x00" + model
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		quirks: make(map[string][]*Quirk),
		logger: logger.With("component", "quirks"),
	}
}

// Add inserts a quirk. Later quirks for the same model are tried first so a
// user quirk file can shadow a built-in one.
func (r *Registry) Add(q *Quirk) error {
	if q.Manufacturer == "" || q.Model == "" || q.Apply == nil {
		return fmt.Errorf("quirk %q: %w: manufacturer, model and apply are required", q.Name, ErrInvalidQuirk)
	}
	if q.Name == "" {
		q.Name = q.Manufacturer + " " + q.Model
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := quirkKey(q.Manufacturer, q.Model)
	r.quirks[key] = append([]*Quirk{q}, r.quirks[key]...)
	r.logger.Debug("quirk registered", "name", q.Name, "manufacturer", q.Manufacturer, "model", q.Model)
	return nil
}

// Lookup returns the quirk for a device, or nil if none applies.
func (r *Registry) Lookup(manufacturer, model string, eps []transport.SimpleDescriptor) *Quirk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, q := range r.quirks[quirkKey(manufacturer, model)] {
		if q.matches(eps) {
			return q
		}
	}
	return nil
}

// Len returns the number of registered quirks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, qs := range r.quirks {
		n += len(qs)
	}
	return n
}

// Names returns every quirk name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, qs := range r.quirks {
		for _, q := range qs {
			out = append(out, q.Name)
		}
	}
	sort.Strings(out)
	return out
}
