//go:build !no_mqtt

package mqtt

import (
	"fmt"

	"zigbee-quirks/internal/device"
	"zigbee-quirks/internal/zcl/clusters"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/zigbee_00158D.../temperature/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic,omitempty"`
	AvailabilityTopic   string   `json:"availability_topic"`
	ValueTemplate       string   `json:"value_template,omitempty"`
	UnitOfMeasurement   string   `json:"unit_of_measurement,omitempty"`
	DeviceClass         string   `json:"device_class,omitempty"`
	StateClass          string   `json:"state_class,omitempty"`
	PayloadOn           string   `json:"payload_on,omitempty"`
	PayloadOff          string   `json:"payload_off,omitempty"`
	StateOn             string   `json:"state_on,omitempty"`
	StateOff            string   `json:"state_off,omitempty"`
	BrightnessScale     int      `json:"brightness_scale,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	Schema              string   `json:"schema,omitempty"`
	Device              haDevice `json:"device"`
}

// sensorDef maps one reported attribute onto an HA sensor.
type sensorDef struct {
	Cluster     uint16
	Attr        uint16
	Property    string
	Suffix      string
	DeviceClass string
	Unit        string
	Divisor     float64 // 0 publishes the reported value unchanged
}

var sensors = []sensorDef{
	{clusters.TemperatureMeasurement.ID, clusters.AttrMeasuredValue, "temperature", "Temperature", "temperature", "°C", 100},
	{clusters.DeviceTemperature.ID, clusters.AttrCurrentTemperature, "device_temperature", "Device temperature", "temperature", "°C", 100},
	{clusters.AnalogInput.ID, clusters.AttrPresentValue, "analog", "Analog input", "", "", 0},
}

func findSensor(clusterID, attrID uint16) (sensorDef, bool) {
	for _, s := range sensors {
		if s.Cluster == clusterID && s.Attr == attrID {
			return s, true
		}
	}
	return sensorDef{}, false
}

// deviceDisplayName returns a display name for the device.
func deviceDisplayName(dev *device.Device) string {
	if dev.Manufacturer != "" && dev.Model != "" {
		return dev.Manufacturer + " " + dev.Model
	}
	if dev.Model != "" {
		return dev.Model
	}
	return dev.IEEE
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(ieee string) string {
	return "zigbee_" + ieee
}

// hasCluster reports whether any endpoint of the bound device serves id.
func hasCluster(dev *device.Device, id uint16) bool {
	for _, ep := range dev.Endpoints() {
		if _, err := ep.Cluster(id); err == nil {
			return true
		}
	}
	return false
}

// buildDiscovery generates HA discovery messages from the device's bound
// endpoint map, so clusters a quirk removed or added are reflected.
func buildDiscovery(dev *device.Device, prefix, discoveryPrefix string) []discoveryMsg {
	if len(dev.Endpoints()) == 0 {
		return nil
	}

	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + dev.IEEE
	cmdTopic := stateTopic + "/set"
	nodeID := deviceIdentifier(dev.IEEE)
	displayName := deviceDisplayName(dev)

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: dev.Manufacturer,
		Model:        dev.Model,
		Name:         displayName,
	}

	var msgs []discoveryMsg
	config := func(component, objectID string, payload haDiscovery) {
		payload.UniqueID = nodeID + "_" + objectID
		payload.StateTopic = stateTopic
		payload.AvailabilityTopic = avail
		payload.Device = haDev
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, component, nodeID, objectID),
			Payload: mustJSON(payload),
		})
	}

	// Light vs Switch: Level Control makes it a light.
	hasOnOff := hasCluster(dev, clusters.OnOff.ID)
	hasLevel := hasCluster(dev, clusters.LevelControl.ID)
	switch {
	case hasOnOff && hasLevel:
		config("light", "light", haDiscovery{
			Name:                displayName,
			CommandTopic:        cmdTopic,
			SupportedColorModes: []string{"brightness"},
			BrightnessScale:     254,
			Schema:              "json",
		})
	case hasOnOff:
		config("switch", "switch", haDiscovery{
			Name:          displayName,
			CommandTopic:  cmdTopic,
			ValueTemplate: "{{ value_json.state }}",
			PayloadOn:     `{"state":"ON"}`,
			PayloadOff:    `{"state":"OFF"}`,
			StateOn:       "ON",
			StateOff:      "OFF",
		})
	}

	for _, s := range sensors {
		if !hasCluster(dev, s.Cluster) {
			continue
		}
		config("sensor", s.Property, haDiscovery{
			Name:              displayName + " " + s.Suffix,
			ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", s.Property),
			UnitOfMeasurement: s.Unit,
			DeviceClass:       s.DeviceClass,
			StateClass:        "measurement",
		})
	}

	// Switch entities a quirk exposes over non-boolean attributes.
	for _, sw := range dev.Switches {
		name := sw.FallbackName
		if name == "" {
			name = sw.Name
		}
		config("switch", sw.Name, haDiscovery{
			Name:          displayName + " " + name,
			CommandTopic:  cmdTopic,
			ValueTemplate: fmt.Sprintf("{{ value_json.%s }}", sw.Name),
			PayloadOn:     fmt.Sprintf(`{"%s":"ON"}`, sw.Name),
			PayloadOff:    fmt.Sprintf(`{"%s":"OFF"}`, sw.Name),
			StateOn:       "ON",
			StateOff:      "OFF",
		})
	}

	// No device_class: "signal_strength" requires dB/dBm units, but LQI is unitless.
	config("sensor", "linkquality", haDiscovery{
		Name:              displayName + " Link Quality",
		ValueTemplate:     "{{ value_json.linkquality }}",
		UnitOfMeasurement: "lqi",
		StateClass:        "measurement",
	})

	return msgs
}

// removeDiscovery turns published discovery topics into empty retained
// messages, which delete the entities in HA.
func removeDiscovery(topics []string) []discoveryMsg {
	msgs := make([]discoveryMsg, 0, len(topics))
	for _, t := range topics {
		msgs = append(msgs, discoveryMsg{Topic: t})
	}
	return msgs
}
