package clusters

import "zigbee-quirks/internal/zcl"

// RegisterStandard adds every standard cluster definition in this package.
func RegisterStandard(r *zcl.Registry) {
	for _, c := range []zcl.ClusterDef{
		Basic,                  // 0x0000
		DeviceTemperature,      // 0x0002
		Identify,               // 0x0003
		Groups,                 // 0x0004
		Scenes,                 // 0x0005
		OnOff,                  // 0x0006
		OnOffConfiguration,     // 0x0007
		LevelControl,           // 0x0008
		Time,                   // 0x000A
		AnalogInput,            // 0x000C
		MultistateInput,        // 0x0012
		Ota,                    // 0x0019
		GreenPowerProxy,        // 0x0021
		Color,                  // 0x0300
		TemperatureMeasurement, // 0x0402
	} {
		r.Register(c)
	}
}
