// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"sync"

	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/zcl"
)

// Recorder records every request and answers from configurable hooks.
// By default commands succeed, writes succeed and reads return UNSUPPORTED.
type Recorder struct {
	mu       sync.Mutex
	commands []transport.CommandRequest
	writes   []transport.WriteAttributesRequest
	reads    []transport.ReadAttributesRequest

	// CommandErr, when set, is returned for commands matching the cluster ID
	// (or any cluster when CommandErrCluster is 0).
	CommandErr        error
	CommandErrCluster uint16
	// ReadValues answers reads: attribute ID -> (type, value).
	ReadValues map[uint16]zcl.ReadRecord

	onAnnounce []func(transport.DeviceAnnounceEvent)
	onLeft     []func(transport.DeviceLeftEvent)
	onReport   []func(transport.AttributeReportEvent)
}

func New() *Recorder {
	return &Recorder{ReadValues: make(map[uint16]zcl.ReadRecord)}
}

func (r *Recorder) SendCommand(_ context.Context, req transport.CommandRequest) (*zcl.DefaultResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, req)
	if r.CommandErr != nil && (r.CommandErrCluster == 0 || r.CommandErrCluster == req.Cluster) {
		return nil, r.CommandErr
	}
	if !req.ExpectReply {
		return nil, nil
	}
	return &zcl.DefaultResponse{CommandID: req.CommandID, Status: zcl.StatusSuccess}, nil
}

func (r *Recorder) WriteAttributes(_ context.Context, req transport.WriteAttributesRequest) ([]zcl.WriteStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, req)
	out := make([]zcl.WriteStatus, 0, len(req.Records))
	for _, rec := range req.Records {
		out = append(out, zcl.WriteStatus{AttrID: rec.AttrID, Status: zcl.StatusSuccess})
	}
	return out, nil
}

func (r *Recorder) ReadAttributes(_ context.Context, req transport.ReadAttributesRequest) ([]zcl.ReadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, req)
	out := make([]zcl.ReadRecord, 0, len(req.AttrIDs))
	for _, id := range req.AttrIDs {
		if rec, ok := r.ReadValues[id]; ok {
			rec.AttrID = id
			out = append(out, rec)
			continue
		}
		out = append(out, zcl.ReadRecord{AttrID: id, Status: zcl.StatusUnsupAttribute})
	}
	return out, nil
}

func (r *Recorder) OnDeviceAnnounce(h func(transport.DeviceAnnounceEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAnnounce = append(r.onAnnounce, h)
}

func (r *Recorder) OnDeviceLeft(h func(transport.DeviceLeftEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLeft = append(r.onLeft, h)
}

func (r *Recorder) OnAttributeReport(h func(transport.AttributeReportEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReport = append(r.onReport, h)
}

func (r *Recorder) Close() error { return nil }

// Commands returns a copy of the commands sent so far.
func (r *Recorder) Commands() []transport.CommandRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.CommandRequest(nil), r.commands...)
}

// CommandsTo returns the commands sent to one cluster.
func (r *Recorder) CommandsTo(clusterID uint16) []transport.CommandRequest {
	var out []transport.CommandRequest
	for _, c := range r.Commands() {
		if c.Cluster == clusterID {
			out = append(out, c)
		}
	}
	return out
}

// Writes returns a copy of the attribute writes sent so far.
func (r *Recorder) Writes() []transport.WriteAttributesRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.WriteAttributesRequest(nil), r.writes...)
}

// Reads returns a copy of the attribute reads sent so far.
func (r *Recorder) Reads() []transport.ReadAttributesRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.ReadAttributesRequest(nil), r.reads...)
}

// Announce delivers a device announcement to every handler.
func (r *Recorder) Announce(ev transport.DeviceAnnounceEvent) {
	r.mu.Lock()
	hs := append([]func(transport.DeviceAnnounceEvent){}, r.onAnnounce...)
	r.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// Leave delivers a device-left event to every handler.
func (r *Recorder) Leave(ev transport.DeviceLeftEvent) {
	r.mu.Lock()
	hs := append([]func(transport.DeviceLeftEvent){}, r.onLeft...)
	r.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// Report delivers an attribute report to every handler.
func (r *Recorder) Report(ev transport.AttributeReportEvent) {
	r.mu.Lock()
	hs := append([]func(transport.AttributeReportEvent){}, r.onReport...)
	r.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

var _ transport.Transport = (*Recorder)(nil)
