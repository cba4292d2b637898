package zcl

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownCluster is returned when a cluster ID or name is not registered.
var ErrUnknownCluster = errors.New("unknown cluster")

// Registry holds the cluster definitions known to the process. Standard
// clusters are registered at startup; quirks add manufacturer clusters later.
type Registry struct {
	mu       sync.RWMutex
	clusters map[uint16]*ClusterDef
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		clusters: make(map[uint16]*ClusterDef),
		logger:   logger,
	}
}

// Register adds a definition. A second registration for the same ID is merged
// into the first so overlays only need to list what they add.
func (r *Registry) Register(c ClusterDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("0x%04X", c.ID)
	if existing, ok := r.clusters[c.ID]; ok {
		existing.Merge(&c)
		r.logger.Debug("cluster merged", "id", id, "name", existing.Name)
		return
	}
	r.clusters[c.ID] = c.DeepCopy()
	r.logger.Debug("cluster registered", "id", id, "name", c.Name)
}

// Get returns a deep copy of a cluster definition, or nil if not found.
func (r *Registry) Get(id uint16) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[id]
	if c == nil {
		return nil
	}
	return c.DeepCopy()
}

// Lookup resolves a cluster by ID.
func (r *Registry) Lookup(id uint16) (*ClusterDef, error) {
	if c := r.Get(id); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("cluster 0x%04X: %w", id, ErrUnknownCluster)
}

// ByName resolves a cluster by its case-insensitive name.
func (r *Registry) ByName(name string) (*ClusterDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clusters {
		if strings.EqualFold(c.Name, name) {
			return c.DeepCopy(), nil
		}
	}
	return nil, fmt.Errorf("cluster %q: %w", name, ErrUnknownCluster)
}

// All returns every registered definition ordered by cluster ID.
func (r *Registry) All() []ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ClusterDef, 0, len(r.clusters))
	for _, c := range r.clusters {
		result = append(result, *c.DeepCopy())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
