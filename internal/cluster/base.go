package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/zcl"
)

// Base is a conformant cluster: commands, reads and writes go straight to
// the transport and reports land in its cache.
type Base struct {
	def    *zcl.ClusterDef
	addr   transport.Address
	tr     transport.Transport
	cache  *AttributeCache
	logger *slog.Logger
}

// NewBase creates a cluster bound to one device endpoint.
func NewBase(def *zcl.ClusterDef, ieee string, endpoint uint8, tr transport.Transport, logger *slog.Logger) *Base {
	return &Base{
		def:   def,
		addr:  transport.Address{IEEE: ieee, Endpoint: endpoint, Cluster: def.ID},
		tr:    tr,
		cache: NewAttributeCache(),
		logger: logger.With("cluster", fmt.Sprintf("0x%04X", def.ID),
			"ieee", ieee, "endpoint", endpoint),
	}
}

func (b *Base) ID() uint16                  { return b.def.ID }
func (b *Base) Endpoint() uint8             { return b.addr.Endpoint }
func (b *Base) Def() *zcl.ClusterDef        { return b.def }
func (b *Base) Attributes() *AttributeCache { return b.cache }

// HandleReport stores an incoming attribute value.
func (b *Base) HandleReport(r Report) {
	b.cache.Apply(r)
}

// manufacturer returns the code to put on the frame. A definition with its
// own manufacturer code overrides whatever the caller passed.
func (b *Base) manufacturer(requested uint16) uint16 {
	if b.def.ManufacturerCode != zcl.NoManufacturer {
		return b.def.ManufacturerCode
	}
	return requested
}

// Command encodes the invocation against the command schema and forwards it.
func (b *Base) Command(ctx context.Context, inv Invocation) (*zcl.DefaultResponse, error) {
	var payload []byte
	cmd := b.def.FindCommand(inv.CommandID, zcl.DirectionToServer)
	switch {
	case cmd != nil:
		p, err := zcl.EncodeCommandPayload(cmd, inv.Args, inv.Kwargs)
		if err != nil {
			return nil, fmt.Errorf("cluster 0x%04X: %w", b.def.ID, err)
		}
		payload = p
	case len(inv.Args) > 0 || len(inv.Kwargs) > 0:
		return nil, fmt.Errorf("cluster 0x%04X command 0x%02X: %w", b.def.ID, inv.CommandID, ErrUnknownCommand)
	}

	b.logger.Debug("forwarding command", "cmd", fmt.Sprintf("0x%02X", inv.CommandID), "payload", fmt.Sprintf("%X", payload))
	resp, err := b.tr.SendCommand(ctx, transport.CommandRequest{
		Address:      b.addr,
		CommandID:    inv.CommandID,
		Manufacturer: b.manufacturer(inv.Manufacturer),
		TSN:          inv.TSN,
		ExpectReply:  inv.ExpectReply,
		Payload:      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("cluster 0x%04X command 0x%02X: %w", b.def.ID, inv.CommandID, err)
	}
	return resp, nil
}

// WriteAttributes writes values to the device and stores every value the
// device accepted.
func (b *Base) WriteAttributes(ctx context.Context, values map[uint16]any, manufacturer uint16) ([]zcl.WriteStatus, error) {
	ids := make([]uint16, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	records := make([]transport.WriteRecord, 0, len(ids))
	typed := make(map[uint16]any, len(ids))
	for _, id := range ids {
		attr := b.def.FindAttribute(id)
		if attr == nil {
			return nil, fmt.Errorf("cluster 0x%04X attribute 0x%04X: %w", b.def.ID, id, ErrUnknownAttribute)
		}
		v, err := zcl.Coerce(attr.Type, values[id])
		if err != nil {
			return nil, fmt.Errorf("cluster 0x%04X attribute %s: %w", b.def.ID, attr.Name, err)
		}
		raw, err := zcl.EncodeValue(attr.Type, v)
		if err != nil {
			return nil, fmt.Errorf("cluster 0x%04X attribute %s: %w", b.def.ID, attr.Name, err)
		}
		typed[id] = v
		records = append(records, transport.WriteRecord{AttrID: id, DataType: attr.Type, Value: raw})
	}

	statuses, err := b.tr.WriteAttributes(ctx, transport.WriteAttributesRequest{
		Address:      b.addr,
		Manufacturer: b.manufacturer(manufacturer),
		Records:      records,
	})
	if err != nil {
		return nil, fmt.Errorf("cluster 0x%04X write attributes: %w", b.def.ID, err)
	}

	// A write answered with a single SUCCESS record covers every attribute.
	if len(statuses) == 1 && statuses[0].Status == zcl.StatusSuccess && len(ids) > 1 {
		statuses = statuses[:0]
		for _, id := range ids {
			statuses = append(statuses, zcl.WriteStatus{AttrID: id, Status: zcl.StatusSuccess})
		}
	}
	for _, st := range statuses {
		if st.Status != zcl.StatusSuccess {
			b.logger.Warn("attribute write rejected", "attr", fmt.Sprintf("0x%04X", st.AttrID), "status", st.Status)
			continue
		}
		if v, ok := typed[st.AttrID]; ok {
			b.cache.Apply(Report{AttrID: st.AttrID, Value: v, Manufacturer: manufacturer})
		}
	}
	return statuses, nil
}

// ReadAttributes reads from the device and stores every successful record.
func (b *Base) ReadAttributes(ctx context.Context, ids []uint16, manufacturer uint16) ([]zcl.ReadRecord, error) {
	records, err := b.tr.ReadAttributes(ctx, transport.ReadAttributesRequest{
		Address:      b.addr,
		Manufacturer: b.manufacturer(manufacturer),
		AttrIDs:      ids,
	})
	if err != nil {
		return nil, fmt.Errorf("cluster 0x%04X read attributes: %w", b.def.ID, err)
	}
	for _, rec := range records {
		if rec.Status == zcl.StatusSuccess {
			b.cache.Apply(Report{AttrID: rec.AttrID, Value: rec.Value, Manufacturer: manufacturer})
		}
	}
	return records, nil
}
