package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"zigbee-quirks/internal/cluster"
	"zigbee-quirks/internal/coordinator"
	"zigbee-quirks/internal/device"
	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/zcl"
)

// DeviceView is the JSON shape of a bound device.
type DeviceView struct {
	IEEEAddress  string         `json:"ieee_address"`
	Manufacturer string         `json:"manufacturer"`
	Model        string         `json:"model"`
	Quirk        string         `json:"quirk,omitempty"`
	JoinedAt     time.Time      `json:"joined_at"`
	LastSeen     time.Time      `json:"last_seen"`
	LQI          uint8          `json:"lqi"`
	Endpoints    []EndpointView `json:"endpoints"`
	Switches     []SwitchView   `json:"switches,omitempty"`
}

// EndpointView is one endpoint of a DeviceView.
type EndpointView struct {
	ID          uint8         `json:"id"`
	ProfileID   uint16        `json:"profile_id"`
	DeviceType  uint16        `json:"device_type"`
	InClusters  []ClusterInfo `json:"in_clusters"`
	OutClusters []uint16      `json:"out_clusters"`
}

// ClusterInfo names a cluster instance.
type ClusterInfo struct {
	ID   uint16 `json:"id"`
	Name string `json:"name"`
}

// SwitchView is a switch entity with its current state; State is nil while unknown.
type SwitchView struct {
	device.Switch
	State *bool `json:"state"`
}

// AttributeView is one attribute value of a cluster.
type AttributeView struct {
	ID     uint16 `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
	Value  any    `json:"value,omitempty"`
}

func (s *Server) deviceView(dev *device.Device) DeviceView {
	v := DeviceView{
		IEEEAddress:  dev.IEEE,
		Manufacturer: dev.Manufacturer,
		Model:        dev.Model,
		Quirk:        dev.Quirk,
	}
	if sd, err := s.coord.Store().GetDevice(dev.IEEE); err == nil {
		v.JoinedAt = sd.JoinedAt
		v.LastSeen = sd.LastSeen
		v.LQI = sd.LQI
	}
	for _, ep := range dev.Endpoints() {
		ev := EndpointView{
			ID:          ep.ID,
			ProfileID:   ep.ProfileID,
			DeviceType:  ep.DeviceType,
			InClusters:  []ClusterInfo{},
			OutClusters: ep.OutClusters(),
		}
		for _, cl := range ep.InClusters() {
			ev.InClusters = append(ev.InClusters, ClusterInfo{ID: cl.ID(), Name: clusterName(cl)})
		}
		v.Endpoints = append(v.Endpoints, ev)
	}
	for _, sw := range dev.Switches {
		sv := SwitchView{Switch: sw}
		if on, known, err := s.coord.SwitchState(dev.IEEE, sw.Name); err == nil && known {
			sv.State = &on
		}
		v.Switches = append(v.Switches, sv)
	}
	return v
}

func clusterName(cl cluster.Cluster) string {
	if def := cl.Def(); def != nil && def.Name != "" {
		return def.Name
	}
	return fmt.Sprintf("0x%04X", cl.ID())
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.coord.Devices().List()
	out := make([]DeviceView, 0, len(devices))
	for _, dev := range devices {
		out = append(out, s.deviceView(dev))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.coord.Device(r.PathValue("ieee"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.deviceView(dev))
}

// target resolves the {ieee}/{ep}/{cluster} path segments. The cluster may
// be given by ID (decimal or 0x-prefixed hex) or by name.
func (s *Server) target(r *http.Request) (*device.Device, cluster.Cluster, error) {
	dev, err := s.coord.Device(r.PathValue("ieee"))
	if err != nil {
		return nil, nil, err
	}
	epID, err := strconv.ParseUint(r.PathValue("ep"), 0, 8)
	if err != nil {
		return nil, nil, fmt.Errorf("endpoint %q: %w", r.PathValue("ep"), errBadRequest)
	}
	ref := r.PathValue("cluster")
	if id, err := strconv.ParseUint(ref, 0, 16); err == nil {
		cl, err := dev.Cluster(uint8(epID), uint16(id))
		return dev, cl, err
	}
	if ep, ok := dev.Endpoint(uint8(epID)); ok {
		for _, cl := range ep.InClusters() {
			if def := cl.Def(); def != nil && def.Name == ref {
				return dev, cl, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("endpoint %d cluster %q: %w", epID, ref, cluster.ErrUnknownCluster)
}

var errBadRequest = errors.New("bad request")

// statusFor maps coordinator and transport errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, zcl.ErrMissingArgument),
		errors.Is(err, cluster.ErrUnknownCommand),
		errors.Is(err, cluster.ErrUnknownAttribute):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrUnknownDevice),
		errors.Is(err, coordinator.ErrUnknownSwitch),
		errors.Is(err, cluster.ErrUnknownCluster):
		return http.StatusNotFound
	case errors.Is(err, transport.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (s *Server) handleAPIAttributes(w http.ResponseWriter, r *http.Request) {
	_, cl, err := s.target(r)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	snap := cl.Attributes().Snapshot()
	out := make(map[string]any, len(snap))
	for id, v := range snap {
		out[attrName(cl.Def(), id)] = v
	}
	s.writeJSON(w, http.StatusOK, out)
}

func attrName(def *zcl.ClusterDef, id uint16) string {
	if def != nil {
		if a := def.FindAttribute(id); a != nil {
			return a.Name
		}
	}
	return fmt.Sprintf("0x%04X", id)
}

// attrID resolves an attribute reference given by ID or by name.
func attrID(def *zcl.ClusterDef, ref string) (uint16, error) {
	if id, err := strconv.ParseUint(ref, 0, 16); err == nil {
		return uint16(id), nil
	}
	if def != nil {
		if a := def.FindAttributeByName(ref); a != nil {
			return a.ID, nil
		}
	}
	return 0, fmt.Errorf("attribute %q: %w", ref, cluster.ErrUnknownAttribute)
}

// decodeBody reads a JSON request body keeping numbers exact.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return nil
	}
	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	return dec.Decode(v)
}

type readAttributesRequest struct {
	Attributes   []string `json:"attributes"`
	Manufacturer uint16   `json:"manufacturer"`
}

func (s *Server) handleAPIReadAttributes(w http.ResponseWriter, r *http.Request) {
	dev, cl, err := s.target(r)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	var req readAttributesRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Attributes) == 0 {
		s.writeError(w, http.StatusBadRequest, "attributes must not be empty")
		return
	}
	if len(req.Attributes) > 50 {
		s.writeError(w, http.StatusBadRequest, "attributes limited to 50")
		return
	}
	ids := make([]uint16, 0, len(req.Attributes))
	for _, ref := range req.Attributes {
		id, err := attrID(cl.Def(), ref)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ids = append(ids, id)
	}

	recs, err := s.coord.ReadAttributes(r.Context(), dev.IEEE, cl.Endpoint(), cl.ID(), ids, req.Manufacturer)
	if err != nil {
		s.logger.Error("read attributes", "err", err, "ieee", dev.IEEE)
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	out := make([]AttributeView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, AttributeView{
			ID:     rec.AttrID,
			Name:   attrName(cl.Def(), rec.AttrID),
			Status: rec.Status.String(),
			Value:  rec.Value,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type writeAttributesRequest struct {
	Attributes   map[string]any `json:"attributes"`
	Manufacturer uint16         `json:"manufacturer"`
}

func (s *Server) handleAPIWriteAttributes(w http.ResponseWriter, r *http.Request) {
	dev, cl, err := s.target(r)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	var req writeAttributesRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Attributes) == 0 {
		s.writeError(w, http.StatusBadRequest, "attributes must not be empty")
		return
	}
	values := make(map[uint16]any, len(req.Attributes))
	for ref, v := range req.Attributes {
		id, err := attrID(cl.Def(), ref)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		values[id] = v
	}

	st, err := s.coord.WriteAttributes(r.Context(), dev.IEEE, cl.Endpoint(), cl.ID(), values, req.Manufacturer)
	if err != nil {
		s.logger.Error("write attributes", "err", err, "ieee", dev.IEEE)
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	out := make([]AttributeView, 0, len(st))
	for _, ws := range st {
		out = append(out, AttributeView{ID: ws.AttrID, Name: attrName(cl.Def(), ws.AttrID), Status: ws.Status.String()})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type commandRequest struct {
	Args         []any          `json:"args"`
	Kwargs       map[string]any `json:"kwargs"`
	Manufacturer uint16         `json:"manufacturer"`
	ExpectReply  *bool          `json:"expect_reply"`
}

// commandID resolves a command reference given by ID or by name.
func commandID(def *zcl.ClusterDef, ref string) (uint8, error) {
	if id, err := strconv.ParseUint(ref, 0, 8); err == nil {
		return uint8(id), nil
	}
	if def != nil {
		for _, c := range def.Commands {
			if c.Name == ref && c.Direction == zcl.DirectionToServer {
				return c.ID, nil
			}
		}
	}
	return 0, fmt.Errorf("command %q: %w", ref, cluster.ErrUnknownCommand)
}

func (s *Server) handleAPICommand(w http.ResponseWriter, r *http.Request) {
	dev, cl, err := s.target(r)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	cmd, err := commandID(cl.Def(), r.PathValue("cmd"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req commandRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inv := cluster.Invocation{
		CommandID:    cmd,
		Args:         req.Args,
		Kwargs:       req.Kwargs,
		Manufacturer: req.Manufacturer,
		ExpectReply:  req.ExpectReply == nil || *req.ExpectReply,
	}

	resp, err := s.coord.Command(r.Context(), dev.IEEE, cl.Endpoint(), cl.ID(), inv)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	if resp == nil {
		s.writeJSON(w, http.StatusAccepted, map[string]any{"command_id": cmd, "status": "sent"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"command_id": resp.CommandID, "status": resp.Status.String()})
}

func (s *Server) handleAPIGetSwitch(w http.ResponseWriter, r *http.Request) {
	ieee, name := r.PathValue("ieee"), r.PathValue("name")
	on, known, err := s.coord.SwitchState(ieee, name)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	resp := map[string]any{"name": name, "state": nil}
	if known {
		resp["state"] = on
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type setSwitchRequest struct {
	On *bool `json:"on"`
}

func (s *Server) handleAPISetSwitch(w http.ResponseWriter, r *http.Request) {
	ieee, name := r.PathValue("ieee"), r.PathValue("name")
	var req setSwitchRequest
	if err := decodeBody(w, r, &req); err != nil || req.On == nil {
		s.writeError(w, http.StatusBadRequest, `body must be {"on": true|false}`)
		return
	}
	if err := s.coord.SetSwitch(r.Context(), ieee, name, *req.On); err != nil {
		s.logger.Error("set switch", "err", err, "ieee", ieee, "switch", name)
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"name": name, "state": *req.On})
}

func (s *Server) handleAPIListClusters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Registry().All())
}

func (s *Server) handleAPIListQuirks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Quirks().Names())
}
