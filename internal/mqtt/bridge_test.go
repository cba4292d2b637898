//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-quirks/internal/coordinator"
	"zigbee-quirks/internal/quirks"
	"zigbee-quirks/internal/store"
	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/transport/transporttest"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

const (
	dimmerIEEE = "00124B0018ED0001"
	ptvoIEEE   = "00124B0018ED0002"
	sonoffIEEE = "00124B0018ED0003"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeClient records publishes and lets tests deliver messages to
// subscribed handlers.
type fakeClient struct {
	mu           sync.Mutex
	pubs         []published
	subs         map[string]pahomqtt.MessageHandler
	unsubscribed []string
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{subs: make(map[string]pahomqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload any) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, _ := payload.([]byte)
	c.pubs = append(c.pubs, published{topic: topic, retained: retained, payload: data})
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = cb
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
		c.unsubscribed = append(c.unsubscribed, t)
	}
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	c.mu.Lock()
	cb, ok := c.subs[topic]
	c.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", topic)
	}
	cb(nil, fakeMessage{topic: topic, payload: []byte(payload)})
}

// last returns the most recent payload published to topic.
func (c *fakeClient) last(topic string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.pubs) - 1; i >= 0; i-- {
		if c.pubs[i].topic == topic {
			return c.pubs[i].payload, true
		}
	}
	return nil, false
}

func (c *fakeClient) topics() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool)
	for _, p := range c.pubs {
		out[p.topic] = true
	}
	return out
}

type bridgeRig struct {
	fc    *fakeClient
	tr    *transporttest.Recorder
	coord *coordinator.Coordinator
	b     *Bridge
}

func newBridgeRig(t *testing.T) *bridgeRig {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defs := zcl.NewRegistry(logger)
	clusters.RegisterStandard(defs)
	qr := quirks.NewRegistry(logger)
	if err := quirks.RegisterBuiltin(qr, defs); err != nil {
		t.Fatal(err)
	}
	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	tr := transporttest.New()
	coord := coordinator.New(tr, db, defs, qr, coordinator.NewEventBus(logger), coordinator.Config{}, logger)
	t.Cleanup(coord.Stop)

	fc := newFakeClient()
	b := newBridge(fc, coord, Config{TopicPrefix: "z2m"}, logger)
	b.Start()
	return &bridgeRig{fc: fc, tr: tr, coord: coord, b: b}
}

func (r *bridgeRig) state(t *testing.T, ieee string) map[string]any {
	t.Helper()
	data, ok := r.fc.last("z2m/" + ieee)
	if !ok {
		t.Fatalf("no state published for %s", ieee)
	}
	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("state %s: %v", data, err)
	}
	return state
}

func dimmerAnnounce() transport.DeviceAnnounceEvent {
	return transport.DeviceAnnounceEvent{
		IEEE:         dimmerIEEE,
		Manufacturer: "_TZ3218_ofguu6mz",
		Model:        "TS0501B",
		Endpoints: []transport.SimpleDescriptor{
			{
				Endpoint: 1, ProfileID: 0x0104, DeviceType: 0x0101,
				InClusters:  []uint16{0x0000, 0x0004, 0x0005, 0x0006, 0x0008, 0x0300, 0xEF00},
				OutClusters: []uint16{0x000A, 0x0019},
			},
			{Endpoint: 242, ProfileID: 0xA1E0, DeviceType: 0x0061, OutClusters: []uint16{0x0021}},
		},
	}
}

func ptvoAnnounce() transport.DeviceAnnounceEvent {
	return transport.DeviceAnnounceEvent{
		IEEE:         ptvoIEEE,
		Manufacturer: "PTVO",
		Model:        "ZBMINI",
		Endpoints: []transport.SimpleDescriptor{
			{Endpoint: 1, ProfileID: 0x0104, DeviceType: 0xFFFE, InClusters: []uint16{0x0000}, OutClusters: []uint16{0x0000, 0x0012}},
			{Endpoint: 2, ProfileID: 0x0104, DeviceType: 0xFFFE, InClusters: []uint16{0x0006}, OutClusters: []uint16{0x0006}},
			{Endpoint: 3, ProfileID: 0x0104, DeviceType: 0xFFFE, InClusters: []uint16{0x000C}},
			{Endpoint: 242, ProfileID: 0xA1E0, DeviceType: 0x0061, OutClusters: []uint16{0x0021}},
		},
	}
}

func sonoffAnnounce() transport.DeviceAnnounceEvent {
	return transport.DeviceAnnounceEvent{
		IEEE:         sonoffIEEE,
		Manufacturer: "SONOFF",
		Model:        "ZBMicro",
		Endpoints: []transport.SimpleDescriptor{
			{Endpoint: 1, ProfileID: 0x0104, DeviceType: 0x0100, InClusters: []uint16{0x0000, 0x0006, 0xFC11}},
		},
	}
}

func discoveryTopic(component, ieee, object string) string {
	return "homeassistant/" + component + "/zigbee_" + ieee + "/" + object + "/config"
}

func TestDiscoveryFollowsQuirks(t *testing.T) {
	rig := newBridgeRig(t)
	rig.tr.Announce(dimmerAnnounce())
	rig.tr.Announce(sonoffAnnounce())
	rig.tr.Announce(ptvoAnnounce())

	topics := rig.fc.topics()
	want := []string{
		discoveryTopic("light", dimmerIEEE, "light"),
		discoveryTopic("sensor", dimmerIEEE, "linkquality"),
		discoveryTopic("switch", sonoffIEEE, "switch"),
		discoveryTopic("switch", sonoffIEEE, "turbo_mode"),
		discoveryTopic("switch", ptvoIEEE, "switch"),
		discoveryTopic("sensor", ptvoIEEE, "device_temperature"),
		discoveryTopic("sensor", ptvoIEEE, "analog"),
	}
	for _, topic := range want {
		if !topics[topic] {
			t.Errorf("missing discovery %s", topic)
		}
	}
	if topics[discoveryTopic("switch", dimmerIEEE, "switch")] {
		t.Error("dimmer announced as a plain switch")
	}

	for _, ieee := range []string{dimmerIEEE, sonoffIEEE, ptvoIEEE} {
		if _, ok := rig.fc.subs["z2m/"+ieee+"/set"]; !ok {
			t.Errorf("command topic for %s not subscribed", ieee)
		}
	}
}

func TestDiscoveryQuirkSwitchPayload(t *testing.T) {
	rig := newBridgeRig(t)
	rig.tr.Announce(sonoffAnnounce())

	data, ok := rig.fc.last(discoveryTopic("switch", sonoffIEEE, "turbo_mode"))
	if !ok {
		t.Fatal("turbo_mode discovery not published")
	}
	var payload haDiscovery
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Name != "SONOFF ZBMicro Turbo mode" {
		t.Errorf("name = %q", payload.Name)
	}
	if payload.PayloadOn != `{"turbo_mode":"ON"}` || payload.PayloadOff != `{"turbo_mode":"OFF"}` {
		t.Errorf("payloads = %q / %q", payload.PayloadOn, payload.PayloadOff)
	}
	if payload.ValueTemplate != "{{ value_json.turbo_mode }}" {
		t.Errorf("value_template = %q", payload.ValueTemplate)
	}
	if payload.CommandTopic != "z2m/"+sonoffIEEE+"/set" || payload.StateTopic != "z2m/"+sonoffIEEE {
		t.Errorf("topics = %q / %q", payload.CommandTopic, payload.StateTopic)
	}
	if payload.AvailabilityTopic != "z2m/bridge/state" {
		t.Errorf("availability_topic = %q", payload.AvailabilityTopic)
	}
	if payload.UniqueID != "zigbee_"+sonoffIEEE+"_turbo_mode" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
}

func TestReportPublishesScaledTemperature(t *testing.T) {
	rig := newBridgeRig(t)
	rig.tr.Announce(ptvoAnnounce())

	raw, err := zcl.EncodeValue(zcl.TypeFloat32, float32(23.5))
	if err != nil {
		t.Fatal(err)
	}
	rig.tr.Report(transport.AttributeReportEvent{
		Address:  transport.Address{IEEE: ptvoIEEE, Endpoint: 3, Cluster: clusters.AnalogInput.ID},
		AttrID:   clusters.AttrPresentValue,
		DataType: zcl.TypeFloat32,
		Value:    raw,
		LQI:      180,
	})

	state := rig.state(t, ptvoIEEE)
	if state["device_temperature"] != 23.5 {
		t.Errorf("device_temperature = %v", state["device_temperature"])
	}
	if state["analog"] != 23.5 {
		t.Errorf("analog = %v", state["analog"])
	}
	if _, ok := state["linkquality"]; !ok {
		t.Error("linkquality missing from state")
	}
}

func TestOnOffReportPublishesState(t *testing.T) {
	rig := newBridgeRig(t)
	rig.tr.Announce(sonoffAnnounce())

	rig.tr.Report(transport.AttributeReportEvent{
		Address:  transport.Address{IEEE: sonoffIEEE, Endpoint: 1, Cluster: clusters.OnOff.ID},
		AttrID:   clusters.AttrOnOff,
		DataType: zcl.TypeBool,
		Value:    []byte{1},
	})

	if state := rig.state(t, sonoffIEEE); state["state"] != "ON" {
		t.Errorf("state = %v", state)
	}
}

func TestBrightnessCommandIsRemapped(t *testing.T) {
	rig := newBridgeRig(t)
	rig.tr.Announce(dimmerAnnounce())

	rig.fc.deliver(t, "z2m/"+dimmerIEEE+"/set", `{"state":"ON","brightness":127}`)
	rig.coord.Devices().Wait()

	level := rig.tr.CommandsTo(clusters.LevelControl.ID)
	if len(level) != 1 {
		t.Fatalf("level commands = %+v", level)
	}
	if level[0].CommandID != clusters.CmdMoveToLevelWithOnOff || level[0].Payload[0] != 142 {
		t.Errorf("level command = %+v", level[0])
	}
	onoff := rig.tr.CommandsTo(clusters.OnOff.ID)
	if len(onoff) != 1 || onoff[0].CommandID != clusters.CmdOn {
		t.Errorf("on/off commands = %+v", onoff)
	}

	if state := rig.state(t, dimmerIEEE); state["brightness"] != float64(127) {
		t.Errorf("state = %v", state)
	}
}

func TestStateCommand(t *testing.T) {
	rig := newBridgeRig(t)
	rig.tr.Announce(sonoffAnnounce())

	rig.fc.deliver(t, "z2m/"+sonoffIEEE+"/set", `{"state":"off"}`)

	cmds := rig.tr.CommandsTo(clusters.OnOff.ID)
	if len(cmds) != 1 || cmds[0].CommandID != clusters.CmdOff || cmds[0].Endpoint != 1 {
		t.Fatalf("on/off commands = %+v", cmds)
	}
	if state := rig.state(t, sonoffIEEE); state["state"] != "OFF" {
		t.Errorf("state = %v", state)
	}
}

func TestSwitchCommandWritesManufacturerAttribute(t *testing.T) {
	rig := newBridgeRig(t)
	rig.tr.Announce(sonoffAnnounce())

	rig.fc.deliver(t, "z2m/"+sonoffIEEE+"/set", `{"turbo_mode":"ON"}`)

	writes := rig.tr.Writes()
	if len(writes) != 1 {
		t.Fatalf("writes = %+v", writes)
	}
	w := writes[0]
	if w.Cluster != 0xFC11 || w.Manufacturer != 0x1286 || len(w.Records) != 1 {
		t.Fatalf("write = %+v", w)
	}
	if rec := w.Records[0]; rec.AttrID != 0x0012 || rec.DataType != zcl.TypeInt16 || rec.Value[0] != 20 || rec.Value[1] != 0 {
		t.Errorf("record = %+v", rec)
	}
	if state := rig.state(t, sonoffIEEE); state["turbo_mode"] != "ON" {
		t.Errorf("state = %v", state)
	}
}

func TestCommandForUnknownDeviceIgnored(t *testing.T) {
	rig := newBridgeRig(t)
	rig.b.handleCommand(dimmerIEEE, []byte(`{"state":"ON"}`))
	rig.b.handleCommand(dimmerIEEE, []byte(`not json`))
	if n := len(rig.tr.Commands()); n != 0 {
		t.Errorf("commands sent = %d", n)
	}
}

func TestDeviceLeftRemovesDiscovery(t *testing.T) {
	rig := newBridgeRig(t)
	rig.tr.Announce(sonoffAnnounce())

	rig.b.mu.Lock()
	topics := append([]string(nil), rig.b.published[sonoffIEEE]...)
	rig.b.mu.Unlock()
	if len(topics) == 0 {
		t.Fatal("nothing published")
	}

	rig.tr.Leave(transport.DeviceLeftEvent{IEEE: sonoffIEEE})

	for _, topic := range topics {
		if payload, _ := rig.fc.last(topic); len(payload) != 0 {
			t.Errorf("%s not cleared: %s", topic, payload)
		}
	}
	if payload, ok := rig.fc.last("z2m/" + sonoffIEEE); !ok || len(payload) != 0 {
		t.Errorf("state topic not cleared")
	}
	if _, ok := rig.fc.subs["z2m/"+sonoffIEEE+"/set"]; ok {
		t.Error("command topic still subscribed")
	}
}

func TestStaleTopics(t *testing.T) {
	prev := []string{"a", "b", "c"}
	cur := []string{"b", "d"}
	got := staleTopics(prev, cur)
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("staleTopics = %v", got)
	}
	if got := staleTopics(nil, cur); len(got) != 0 {
		t.Errorf("staleTopics(nil) = %v", got)
	}
}

func TestStopPublishesOffline(t *testing.T) {
	rig := newBridgeRig(t)
	rig.b.Stop()

	payload, ok := rig.fc.last("z2m/bridge/state")
	if !ok || string(payload) != "offline" {
		t.Errorf("bridge state = %q", payload)
	}
	if !rig.fc.disconnected {
		t.Error("client not disconnected")
	}
}

func TestMustJSON(t *testing.T) {
	if got := string(mustJSON(map[string]any{"state": "ON"})); got != `{"state":"ON"}` {
		t.Errorf("mustJSON = %s", got)
	}
	if got := string(mustJSON(make(chan int))); got != "{}" {
		t.Errorf("mustJSON(chan) = %s", got)
	}
}
