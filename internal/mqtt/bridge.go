//go:build !no_mqtt

// Package mqtt publishes bound devices to Home Assistant over MQTT and turns
// HA commands back into cluster commands on the coordinator.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-quirks/internal/cluster"
	"zigbee-quirks/internal/coordinator"
	"zigbee-quirks/internal/device"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// client is the part of the paho client the bridge uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Unsubscribe(topics ...string) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Bridge connects the coordinator to MQTT with HA autodiscovery.
type Bridge struct {
	client    client
	coord     *coordinator.Coordinator
	prefix    string
	discovery string
	logger    *slog.Logger
	unsub     func()

	// Per-device state accumulator and the discovery topics published for it.
	mu        sync.Mutex
	states    map[string]map[string]any
	published map[string][]string
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(nil, coord, cfg, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zigbee-quirks-bridge"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.prefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			for _, dev := range b.coord.Devices().List() {
				b.announce(dev)
			}
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := pahomqtt.NewClient(opts)
	b.client = c
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(c client, coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) *Bridge {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "zigbee-quirks"
	}
	discovery := cfg.DiscoveryPrefix
	if discovery == "" {
		discovery = "homeassistant"
	}
	return &Bridge{
		client:    c,
		coord:     coord,
		prefix:    prefix,
		discovery: discovery,
		logger:    logger.With("component", "mqtt"),
		states:    make(map[string]map[string]any),
		published: make(map[string][]string),
	}
}

// Start subscribes to coordinator events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.coord.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	switch event.Type {
	case coordinator.EventAttributeReport, coordinator.EventSyntheticReport:
		if data, ok := event.Data.(coordinator.ReportData); ok {
			b.handleReport(data)
		}
	case coordinator.EventDeviceBound:
		if data, ok := event.Data.(coordinator.DeviceData); ok {
			if dev, err := b.coord.Device(data.IEEE); err == nil {
				b.announce(dev)
			}
		}
	case coordinator.EventDeviceLeft:
		if data, ok := event.Data.(coordinator.DeviceData); ok {
			b.handleDeviceLeft(data.IEEE)
		}
	}
}

// announce publishes discovery for a bound device and subscribes to its
// command topic. Topics from a previous binding that are no longer valid
// are deleted.
func (b *Bridge) announce(dev *device.Device) {
	msgs := buildDiscovery(dev, b.prefix, b.discovery)
	topics := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		topics = append(topics, msg.Topic)
	}

	b.mu.Lock()
	stale := staleTopics(b.published[dev.IEEE], topics)
	b.published[dev.IEEE] = topics
	b.mu.Unlock()

	for _, msg := range removeDiscovery(stale) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
	}

	ieee := dev.IEEE
	b.client.Subscribe(b.prefix+"/"+ieee+"/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(ieee, msg.Payload())
	})
	b.logger.Info("published HA discovery", "ieee", ieee, "name", deviceDisplayName(dev), "quirk", dev.Quirk)
}

func staleTopics(prev, cur []string) []string {
	keep := make(map[string]bool, len(cur))
	for _, t := range cur {
		keep[t] = true
	}
	var out []string
	for _, t := range prev {
		if !keep[t] {
			out = append(out, t)
		}
	}
	return out
}

func (b *Bridge) handleReport(data coordinator.ReportData) {
	prop, value, ok := b.property(data)
	if !ok {
		return
	}
	b.updateAndPublishState(data.IEEE, prop, value)
}

// property maps a report onto an HA state property.
func (b *Bridge) property(data coordinator.ReportData) (string, any, bool) {
	switch {
	case data.ClusterID == clusters.OnOff.ID && data.AttrID == clusters.AttrOnOff:
		on, ok := zcl.ToBool(data.Value)
		if !ok {
			return "", nil, false
		}
		return "state", onOff(on), true
	case data.ClusterID == clusters.LevelControl.ID && data.AttrID == clusters.AttrCurrentLevel:
		return "brightness", data.Value, true
	}
	if s, ok := findSensor(data.ClusterID, data.AttrID); ok {
		f, ok := zcl.ToFloat64(data.Value)
		if !ok {
			return "", nil, false
		}
		if s.Divisor != 0 {
			f /= s.Divisor
		}
		return s.Property, f, true
	}

	dev, err := b.coord.Device(data.IEEE)
	if err != nil {
		return "", nil, false
	}
	for _, sw := range dev.Switches {
		if sw.Endpoint != data.Endpoint || sw.Cluster != data.ClusterID || sw.Attr != data.AttrID {
			continue
		}
		n, ok := zcl.ToInt64(data.Value)
		switch {
		case ok && n == sw.On:
			return sw.Name, "ON", true
		case ok && n == sw.Off:
			return sw.Name, "OFF", true
		}
		return sw.Name, nil, true
	}
	return "", nil, false
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func (b *Bridge) updateAndPublishState(ieee, prop string, value any) {
	b.mu.Lock()
	state, ok := b.states[ieee]
	if !ok {
		state = make(map[string]any)
		b.states[ieee] = state
	}
	state[prop] = value

	// Always include LQI and last_seen from the device store.
	if dev, err := b.coord.Store().GetDevice(ieee); err == nil {
		state["linkquality"] = dev.LQI
		if !dev.LastSeen.IsZero() {
			state["last_seen"] = dev.LastSeen.Format(time.RFC3339)
		}
	}

	payload := mustJSON(state)
	b.mu.Unlock()

	b.publish(b.prefix+"/"+ieee, payload, true)
}

func (b *Bridge) handleDeviceLeft(ieee string) {
	b.mu.Lock()
	topics := b.published[ieee]
	delete(b.published, ieee)
	delete(b.states, ieee)
	b.mu.Unlock()

	for _, msg := range removeDiscovery(topics) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.publish(b.prefix+"/"+ieee, nil, true)
	b.client.Unsubscribe(b.prefix + "/" + ieee + "/set")
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

// endpointWith returns the first endpoint serving every listed cluster.
func endpointWith(dev *device.Device, ids ...uint16) (uint8, bool) {
	for _, ep := range dev.Endpoints() {
		ok := true
		for _, id := range ids {
			if _, err := ep.Cluster(id); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return ep.ID, true
		}
	}
	return 0, false
}

// handleCommand applies an HA command. Commands go through the coordinator,
// so quirk interceptors see them exactly like API commands.
func (b *Bridge) handleCommand(ieee string, payload []byte) {
	dev, err := b.coord.Device(ieee)
	if err != nil {
		b.logger.Warn("command for unknown device", "ieee", ieee)
		return
	}

	var cmd map[string]any
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "ieee", ieee, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.coord.Context(), 10*time.Second)
	defer cancel()

	// Brightness wins over state: move_to_level_with_on_off switches on by itself.
	if brightness, ok := zcl.ToFloat64(cmd["brightness"]); ok {
		ep, found := endpointWith(dev, clusters.LevelControl.ID)
		if !found {
			b.logger.Warn("brightness for device without level control", "ieee", ieee)
		} else {
			level := int64(brightness)
			if level < 0 {
				level = 0
			}
			if level > 254 {
				level = 254
			}
			inv := cluster.Invocation{CommandID: clusters.CmdMoveToLevelWithOnOff, Args: []any{level, 5}, ExpectReply: true}
			if _, err := b.coord.Command(ctx, ieee, ep, clusters.LevelControl.ID, inv); err != nil {
				b.logger.Warn("brightness command failed", "ieee", ieee, "err", err)
			} else {
				b.updateAndPublishState(ieee, "brightness", level)
			}
		}
	} else if state, ok := cmd["state"].(string); ok {
		b.handleState(ctx, dev, strings.ToUpper(state))
	}

	for _, sw := range dev.Switches {
		v, ok := cmd[sw.Name]
		if !ok {
			continue
		}
		var on bool
		switch s := v.(type) {
		case string:
			on = strings.EqualFold(s, "ON")
		case bool:
			on = s
		default:
			b.logger.Warn("invalid switch value", "ieee", ieee, "switch", sw.Name, "value", v)
			continue
		}
		if err := b.coord.SetSwitch(ctx, ieee, sw.Name, on); err != nil {
			b.logger.Warn("switch command failed", "ieee", ieee, "switch", sw.Name, "err", err)
		}
	}
}

func (b *Bridge) handleState(ctx context.Context, dev *device.Device, state string) {
	ep, ok := endpointWith(dev, clusters.OnOff.ID)
	if !ok {
		return
	}
	var cmdID uint8
	switch state {
	case "ON":
		cmdID = clusters.CmdOn
	case "OFF":
		cmdID = clusters.CmdOff
	case "TOGGLE":
		cmdID = clusters.CmdToggle
	default:
		b.logger.Warn("unknown state command", "ieee", dev.IEEE, "state", state)
		return
	}
	inv := cluster.Invocation{CommandID: cmdID, ExpectReply: true}
	if _, err := b.coord.Command(ctx, dev.IEEE, ep, clusters.OnOff.ID, inv); err != nil {
		b.logger.Warn("state command failed", "ieee", dev.IEEE, "state", state, "err", err)
		return
	}
	if state != "TOGGLE" {
		b.updateAndPublishState(dev.IEEE, "state", state)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
