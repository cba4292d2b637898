package clusters

import "zigbee-quirks/internal/zcl"

// Basic attribute IDs used when binding devices.
const (
	AttrManufacturerName uint16 = 0x0004
	AttrModelIdentifier  uint16 = 0x0005
)

var Basic = zcl.ClusterDef{
	ID:   0x0000,
	Name: "basic",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "zcl_version", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0001, Name: "app_version", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "stack_version", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "hw_version", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: AttrManufacturerName, Name: "manufacturer", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: AttrModelIdentifier, Name: "model", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0006, Name: "date_code", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0007, Name: "power_source", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: 0x4000, Name: "sw_build_id", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "reset_fact_default", Direction: zcl.DirectionToServer},
	},
}

var Identify = zcl.ClusterDef{
	ID:   0x0003,
	Name: "identify",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "identify_time", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "identify", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "identify_time", Type: zcl.TypeUint16},
		}},
		{ID: 0x01, Name: "identify_query", Direction: zcl.DirectionToServer},
		{ID: 0x40, Name: "trigger_effect", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "effect_id", Type: zcl.TypeEnum8},
			{Name: "effect_variant", Type: zcl.TypeEnum8},
		}},
	},
}

var Groups = zcl.ClusterDef{
	ID:   0x0004,
	Name: "groups",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "name_support", Type: zcl.TypeBitmap8, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "add", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "group_id", Type: zcl.TypeUint16},
			{Name: "group_name", Type: zcl.TypeCharStr},
		}},
		{ID: 0x01, Name: "view", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "group_id", Type: zcl.TypeUint16},
		}},
		{ID: 0x03, Name: "remove", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "group_id", Type: zcl.TypeUint16},
		}},
		{ID: 0x04, Name: "remove_all", Direction: zcl.DirectionToServer},
	},
}

var Scenes = zcl.ClusterDef{
	ID:   0x0005,
	Name: "scenes",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "count", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0001, Name: "current_scene", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "current_group", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "scene_valid", Type: zcl.TypeBool, Access: zcl.AccessRead},
		{ID: 0x0004, Name: "name_support", Type: zcl.TypeBitmap8, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x02, Name: "remove", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "group_id", Type: zcl.TypeUint16},
			{Name: "scene_id", Type: zcl.TypeUint8},
		}},
		{ID: 0x03, Name: "remove_all", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "group_id", Type: zcl.TypeUint16},
		}},
		{ID: 0x04, Name: "store", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "group_id", Type: zcl.TypeUint16},
			{Name: "scene_id", Type: zcl.TypeUint8},
		}},
		{ID: 0x05, Name: "recall", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "group_id", Type: zcl.TypeUint16},
			{Name: "scene_id", Type: zcl.TypeUint8},
		}},
	},
}

var Time = zcl.ClusterDef{
	ID:   0x000A,
	Name: "time",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "time", Type: zcl.TypeUTC, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0001, Name: "time_status", Type: zcl.TypeBitmap8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0002, Name: "time_zone", Type: zcl.TypeInt32, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0007, Name: "local_time", Type: zcl.TypeUint32, Access: zcl.AccessRead},
	},
}

var Ota = zcl.ClusterDef{
	ID:   0x0019,
	Name: "ota",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "upgrade_server_id", Type: zcl.TypeEUI64, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "current_file_version", Type: zcl.TypeUint32, Access: zcl.AccessRead},
		{ID: 0x0006, Name: "image_upgrade_status", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
	},
}

// GreenPowerProxy is only listed so signatures can name it; the proxy
// endpoint carries it as an output cluster and nothing is sent to it.
var GreenPowerProxy = zcl.ClusterDef{
	ID:   0x0021,
	Name: "green_power",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0010, Name: "max_proxy_table_entries", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0011, Name: "proxy_table", Type: zcl.TypeOctetStr, Access: zcl.AccessRead},
	},
}
