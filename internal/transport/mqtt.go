package transport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-quirks/internal/zcl"
)

// MQTTConfig holds gateway connection settings.
type MQTTConfig struct {
	Broker         string
	Username       string
	Password       string
	ClientID       string
	TopicPrefix    string
	RequestTimeout time.Duration
}

// mqttClient is the part of the paho client the transport uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Wire payloads exchanged with the gateway. Binary fields are hex strings.
type (
	wireCommand struct {
		TSN          uint8  `json:"tsn"`
		Command      uint8  `json:"command"`
		Manufacturer uint16 `json:"manufacturer,omitempty"`
		ExpectReply  bool   `json:"expect_reply"`
		Payload      string `json:"payload"`
	}
	wireWriteRecord struct {
		Attr   uint16 `json:"attr"`
		Type   uint8  `json:"type,omitempty"`
		Value  string `json:"value,omitempty"`
		Status uint8  `json:"status,omitempty"`
	}
	wireWrite struct {
		TSN          uint8             `json:"tsn"`
		Manufacturer uint16            `json:"manufacturer,omitempty"`
		Records      []wireWriteRecord `json:"records"`
	}
	wireRead struct {
		TSN          uint8    `json:"tsn"`
		Manufacturer uint16   `json:"manufacturer,omitempty"`
		Attributes   []uint16 `json:"attributes"`
	}
	wireReadRecord struct {
		Attr   uint16 `json:"attr"`
		Status uint8  `json:"status"`
		Type   uint8  `json:"type"`
		Value  string `json:"value"`
	}
	wireResponse struct {
		TSN     uint8             `json:"tsn"`
		Command uint8             `json:"command"`
		Status  uint8             `json:"status"`
		Records []json.RawMessage `json:"records"`
	}
	wireReport struct {
		Manufacturer uint16 `json:"manufacturer,omitempty"`
		Attr         uint16 `json:"attr"`
		Type         uint8  `json:"type"`
		Value        string `json:"value"`
		LQI          uint8  `json:"lqi,omitempty"`
	}
)

// MQTT talks to a raw-ZCL gateway over an MQTT broker.
//
// Requests are published to <prefix>/<ieee>/<ep>/<cluster>/{command,write,read}.
// The gateway answers on .../{default_response,write_response,read_response}
// with the request TSN, reports on .../report, and announces devices on
// <prefix>/<ieee>/descriptor and <prefix>/<ieee>/left.
type MQTT struct {
	client  mqttClient
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	tsn     uint8
	pending map[uint8]chan wireResponse
	closed  bool

	hmu        sync.RWMutex
	onAnnounce []func(DeviceAnnounceEvent)
	onLeft     []func(DeviceLeftEvent)
	onReport   []func(AttributeReportEvent)
}

// NewMQTT connects to the broker and subscribes to gateway topics.
func NewMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	m := newMQTT(nil, cfg, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zigbee-quirks"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			m.logger.Info("MQTT connected", "broker", cfg.Broker)
			m.subscribe(c)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			m.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	m.client = client
	return m, nil
}

func newMQTT(client mqttClient, cfg MQTTConfig, logger *slog.Logger) *MQTT {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "zigbee"
	}
	return &MQTT{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		logger:  logger.With("component", "transport"),
		pending: make(map[uint8]chan wireResponse),
	}
}

func (m *MQTT) subscribe(c mqttClient) {
	for _, filter := range []string{
		m.prefix + "/+/+/+/report",
		m.prefix + "/+/+/+/default_response",
		m.prefix + "/+/+/+/write_response",
		m.prefix + "/+/+/+/read_response",
		m.prefix + "/+/descriptor",
		m.prefix + "/+/left",
	} {
		c.Subscribe(filter, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			m.handleMessage(msg.Topic(), msg.Payload())
		})
	}
}

func (m *MQTT) OnDeviceAnnounce(handler func(DeviceAnnounceEvent)) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.onAnnounce = append(m.onAnnounce, handler)
}

func (m *MQTT) OnDeviceLeft(handler func(DeviceLeftEvent)) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.onLeft = append(m.onLeft, handler)
}

func (m *MQTT) OnAttributeReport(handler func(AttributeReportEvent)) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.onReport = append(m.onReport, handler)
}

// Close fails all pending requests and disconnects.
func (m *MQTT) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for tsn, ch := range m.pending {
		close(ch)
		delete(m.pending, tsn)
	}
	m.mu.Unlock()
	m.client.Disconnect(1000)
	m.logger.Info("MQTT transport closed")
	return nil
}

func (m *MQTT) SendCommand(ctx context.Context, req CommandRequest) (*zcl.DefaultResponse, error) {
	tsn, wait, err := m.register(req.TSN, req.ExpectReply)
	if err != nil {
		return nil, err
	}
	msg := wireCommand{
		TSN:          tsn,
		Command:      req.CommandID,
		Manufacturer: req.Manufacturer,
		ExpectReply:  req.ExpectReply,
		Payload:      hex.EncodeToString(req.Payload),
	}
	if err := m.publish(m.topic(req.Address, "command"), msg); err != nil {
		m.release(tsn)
		return nil, fmt.Errorf("command 0x%02X to %s: %w", req.CommandID, req.Address, err)
	}
	if wait == nil {
		return nil, nil
	}
	resp, err := m.await(ctx, tsn, wait)
	if err != nil {
		return nil, fmt.Errorf("command 0x%02X to %s: %w", req.CommandID, req.Address, err)
	}
	return &zcl.DefaultResponse{CommandID: resp.Command, Status: zcl.Status(resp.Status)}, nil
}

func (m *MQTT) WriteAttributes(ctx context.Context, req WriteAttributesRequest) ([]zcl.WriteStatus, error) {
	tsn, wait, err := m.register(0, true)
	if err != nil {
		return nil, err
	}
	msg := wireWrite{TSN: tsn, Manufacturer: req.Manufacturer}
	for _, rec := range req.Records {
		msg.Records = append(msg.Records, wireWriteRecord{
			Attr:  rec.AttrID,
			Type:  rec.DataType,
			Value: hex.EncodeToString(rec.Value),
		})
	}
	if err := m.publish(m.topic(req.Address, "write"), msg); err != nil {
		m.release(tsn)
		return nil, fmt.Errorf("write attributes to %s: %w", req.Address, err)
	}
	resp, err := m.await(ctx, tsn, wait)
	if err != nil {
		return nil, fmt.Errorf("write attributes to %s: %w", req.Address, err)
	}
	out := make([]zcl.WriteStatus, 0, len(resp.Records))
	for _, raw := range resp.Records {
		var rec wireWriteRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("write response from %s: %w", req.Address, err)
		}
		out = append(out, zcl.WriteStatus{AttrID: rec.Attr, Status: zcl.Status(rec.Status)})
	}
	if len(out) == 0 {
		// A response without records carries one status for the whole write.
		for _, rec := range req.Records {
			out = append(out, zcl.WriteStatus{AttrID: rec.AttrID, Status: zcl.Status(resp.Status)})
		}
	}
	return out, nil
}

func (m *MQTT) ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]zcl.ReadRecord, error) {
	tsn, wait, err := m.register(0, true)
	if err != nil {
		return nil, err
	}
	msg := wireRead{TSN: tsn, Manufacturer: req.Manufacturer, Attributes: req.AttrIDs}
	if err := m.publish(m.topic(req.Address, "read"), msg); err != nil {
		m.release(tsn)
		return nil, fmt.Errorf("read attributes from %s: %w", req.Address, err)
	}
	resp, err := m.await(ctx, tsn, wait)
	if err != nil {
		return nil, fmt.Errorf("read attributes from %s: %w", req.Address, err)
	}
	out := make([]zcl.ReadRecord, 0, len(resp.Records))
	for _, raw := range resp.Records {
		var rec wireReadRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("read response from %s: %w", req.Address, err)
		}
		rr := zcl.ReadRecord{AttrID: rec.Attr, Status: zcl.Status(rec.Status), DataType: rec.Type}
		if rr.Status == zcl.StatusSuccess {
			data, err := hex.DecodeString(rec.Value)
			if err != nil {
				return nil, fmt.Errorf("read response attr 0x%04X: %w", rec.Attr, err)
			}
			v, _, err := zcl.DecodeValue(rec.Type, data)
			if err != nil {
				m.logger.Warn("undecodable read value", "addr", req.Address.String(),
					"attr", fmt.Sprintf("0x%04X", rec.Attr), "err", err)
				rr.Status = zcl.StatusInvalidDataType
			} else {
				rr.Value = v
			}
		}
		out = append(out, rr)
	}
	return out, nil
}

func (m *MQTT) topic(a Address, suffix string) string {
	return fmt.Sprintf("%s/%s/%d/%04x/%s", m.prefix, a.IEEE, a.Endpoint, a.Cluster, suffix)
}

// register allocates a TSN (or takes the caller's) and, when a reply is
// expected, a channel for it.
func (m *MQTT) register(tsn uint8, expectReply bool) (uint8, chan wireResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil, ErrClosed
	}
	if tsn == 0 {
		m.tsn++
		if m.tsn == 0 {
			m.tsn = 1
		}
		tsn = m.tsn
	}
	if !expectReply {
		return tsn, nil, nil
	}
	ch := make(chan wireResponse, 1)
	m.pending[tsn] = ch
	return tsn, ch, nil
}

func (m *MQTT) release(tsn uint8) {
	m.mu.Lock()
	delete(m.pending, tsn)
	m.mu.Unlock()
}

func (m *MQTT) await(ctx context.Context, tsn uint8, wait chan wireResponse) (wireResponse, error) {
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-wait:
		if !ok {
			return wireResponse{}, ErrClosed
		}
		return resp, nil
	case <-timer.C:
		m.release(tsn)
		return wireResponse{}, ErrTimeout
	case <-ctx.Done():
		m.release(tsn)
		return wireResponse{}, ctx.Err()
	}
}

func (m *MQTT) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := m.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: %w", topic, ErrTimeout)
	}
	return token.Error()
}

// handleMessage routes one inbound gateway message by topic.
func (m *MQTT) handleMessage(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, m.prefix+"/")
	if !ok {
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 2 && parts[1] == "descriptor":
		m.handleDescriptor(parts[0], payload)
	case len(parts) == 2 && parts[1] == "left":
		m.dispatchLeft(DeviceLeftEvent{IEEE: parts[0]})
	case len(parts) == 4:
		addr, err := parseAddress(parts[0], parts[1], parts[2])
		if err != nil {
			m.logger.Debug("ignoring message", "topic", topic, "err", err)
			return
		}
		switch parts[3] {
		case "report":
			m.handleReport(addr, payload)
		case "default_response", "write_response", "read_response":
			m.handleResponse(topic, payload)
		}
	}
}

func parseAddress(ieee, ep, cluster string) (Address, error) {
	e, err := strconv.ParseUint(ep, 10, 8)
	if err != nil {
		return Address{}, fmt.Errorf("endpoint %q: %w", ep, err)
	}
	c, err := strconv.ParseUint(cluster, 16, 16)
	if err != nil {
		return Address{}, fmt.Errorf("cluster %q: %w", cluster, err)
	}
	return Address{IEEE: ieee, Endpoint: uint8(e), Cluster: uint16(c)}, nil
}

func (m *MQTT) handleDescriptor(ieee string, payload []byte) {
	var ev DeviceAnnounceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		m.logger.Warn("invalid descriptor", "ieee", ieee, "err", err)
		return
	}
	ev.IEEE = ieee
	m.logger.Info("device descriptor", "ieee", ieee, "manufacturer", ev.Manufacturer,
		"model", ev.Model, "endpoints", len(ev.Endpoints))
	m.hmu.RLock()
	handlers := append([]func(DeviceAnnounceEvent){}, m.onAnnounce...)
	m.hmu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (m *MQTT) dispatchLeft(ev DeviceLeftEvent) {
	m.hmu.RLock()
	handlers := append([]func(DeviceLeftEvent){}, m.onLeft...)
	m.hmu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (m *MQTT) handleReport(addr Address, payload []byte) {
	var w wireReport
	if err := json.Unmarshal(payload, &w); err != nil {
		m.logger.Warn("invalid report", "addr", addr.String(), "err", err)
		return
	}
	data, err := hex.DecodeString(w.Value)
	if err != nil {
		m.logger.Warn("invalid report value", "addr", addr.String(), "err", err)
		return
	}
	ev := AttributeReportEvent{
		Address:      addr,
		Manufacturer: w.Manufacturer,
		AttrID:       w.Attr,
		DataType:     w.Type,
		Value:        data,
		LQI:          w.LQI,
	}
	m.hmu.RLock()
	handlers := append([]func(AttributeReportEvent){}, m.onReport...)
	m.hmu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (m *MQTT) handleResponse(topic string, payload []byte) {
	var resp wireResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		m.logger.Warn("invalid response", "topic", topic, "err", err)
		return
	}
	m.mu.Lock()
	ch, ok := m.pending[resp.TSN]
	if ok {
		delete(m.pending, resp.TSN)
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("unmatched response", "topic", topic, "tsn", resp.TSN)
		return
	}
	ch <- resp
}
