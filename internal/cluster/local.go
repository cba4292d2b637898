package cluster

import (
	"context"
	"fmt"

	"zigbee-quirks/internal/zcl"
)

// Local is a cluster with no device behind it. Its values come only from
// synthetic reports; reads are answered from the cache and writes stay local.
type Local struct {
	def      *zcl.ClusterDef
	endpoint uint8
	cache    *AttributeCache
}

// NewLocal creates a device-less cluster on an endpoint.
func NewLocal(def *zcl.ClusterDef, endpoint uint8) *Local {
	return &Local{def: def, endpoint: endpoint, cache: NewAttributeCache()}
}

func (l *Local) ID() uint16                  { return l.def.ID }
func (l *Local) Endpoint() uint8             { return l.endpoint }
func (l *Local) Def() *zcl.ClusterDef        { return l.def }
func (l *Local) Attributes() *AttributeCache { return l.cache }

func (l *Local) HandleReport(r Report) {
	l.cache.Apply(r)
}

func (l *Local) ReadAttributes(_ context.Context, ids []uint16, _ uint16) ([]zcl.ReadRecord, error) {
	out := make([]zcl.ReadRecord, 0, len(ids))
	for _, id := range ids {
		v, ok := l.cache.Get(id)
		attr := l.def.FindAttribute(id)
		if !ok || attr == nil {
			out = append(out, zcl.ReadRecord{AttrID: id, Status: zcl.StatusUnsupAttribute})
			continue
		}
		out = append(out, zcl.ReadRecord{AttrID: id, Status: zcl.StatusSuccess, DataType: attr.Type, Value: v})
	}
	return out, nil
}

func (l *Local) WriteAttributes(_ context.Context, values map[uint16]any, manufacturer uint16) ([]zcl.WriteStatus, error) {
	out := make([]zcl.WriteStatus, 0, len(values))
	for id, v := range values {
		attr := l.def.FindAttribute(id)
		if attr == nil {
			out = append(out, zcl.WriteStatus{AttrID: id, Status: zcl.StatusUnsupAttribute})
			continue
		}
		typed, err := zcl.Coerce(attr.Type, v)
		if err != nil {
			return nil, fmt.Errorf("cluster 0x%04X attribute %s: %w", l.def.ID, attr.Name, err)
		}
		l.cache.Apply(Report{AttrID: id, Value: typed, Manufacturer: manufacturer})
		out = append(out, zcl.WriteStatus{AttrID: id, Status: zcl.StatusSuccess})
	}
	return out, nil
}

// Command is answered locally: there is nothing to send it to.
func (l *Local) Command(_ context.Context, inv Invocation) (*zcl.DefaultResponse, error) {
	return &zcl.DefaultResponse{CommandID: inv.CommandID, Status: zcl.StatusUnsupCommand}, nil
}
