package clusters

import "zigbee-quirks/internal/zcl"

const (
	AttrCurrentTemperature uint16 = 0x0000
	AttrPresentValue       uint16 = 0x0055
	AttrMeasuredValue      uint16 = 0x0000
)

var DeviceTemperature = zcl.ClusterDef{
	ID:   0x0002,
	Name: "device_temperature",
	Attributes: []zcl.AttributeDef{
		{ID: AttrCurrentTemperature, Name: "current_temperature", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Name: "min_temp_experienced", Type: zcl.TypeInt16, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "max_temp_experienced", Type: zcl.TypeInt16, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "over_temp_total_dwell", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x0010, Name: "dev_temp_alarm_mask", Type: zcl.TypeBitmap8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0011, Name: "low_temp_thres", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0012, Name: "high_temp_thres", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessWrite},
	},
}

var AnalogInput = zcl.ClusterDef{
	ID:   0x000C,
	Name: "analog_input",
	Attributes: []zcl.AttributeDef{
		{ID: 0x001C, Name: "description", Type: zcl.TypeCharStr, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0041, Name: "max_present_value", Type: zcl.TypeFloat32, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0045, Name: "min_present_value", Type: zcl.TypeFloat32, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0051, Name: "out_of_service", Type: zcl.TypeBool, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: AttrPresentValue, Name: "present_value", Type: zcl.TypeFloat32, Access: zcl.AccessRead | zcl.AccessWrite | zcl.AccessReport},
		{ID: 0x006F, Name: "status_flags", Type: zcl.TypeBitmap8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0075, Name: "engineering_units", Type: zcl.TypeEnum16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0100, Name: "application_type", Type: zcl.TypeUint32, Access: zcl.AccessRead},
	},
}

var MultistateInput = zcl.ClusterDef{
	ID:   0x0012,
	Name: "multistate_input",
	Attributes: []zcl.AttributeDef{
		{ID: 0x001C, Name: "description", Type: zcl.TypeCharStr, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x004A, Name: "number_of_states", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0051, Name: "out_of_service", Type: zcl.TypeBool, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: AttrPresentValue, Name: "present_value", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite | zcl.AccessReport},
		{ID: 0x006F, Name: "status_flags", Type: zcl.TypeBitmap8, Access: zcl.AccessRead | zcl.AccessReport},
	},
}

var TemperatureMeasurement = zcl.ClusterDef{
	ID:   0x0402,
	Name: "temperature",
	Attributes: []zcl.AttributeDef{
		{ID: AttrMeasuredValue, Name: "measured_value", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Name: "min_measured_value", Type: zcl.TypeInt16, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "max_measured_value", Type: zcl.TypeInt16, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "tolerance", Type: zcl.TypeUint16, Access: zcl.AccessRead},
	},
}
