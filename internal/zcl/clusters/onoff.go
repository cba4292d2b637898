package clusters

import "zigbee-quirks/internal/zcl"

const AttrOnOff uint16 = 0x0000

// On/Off server commands.
const (
	CmdOff    uint8 = 0x00
	CmdOn     uint8 = 0x01
	CmdToggle uint8 = 0x02
)

var OnOff = zcl.ClusterDef{
	ID:   0x0006,
	Name: "on_off",
	Attributes: []zcl.AttributeDef{
		{ID: AttrOnOff, Name: "on_off", Type: zcl.TypeBool, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x4000, Name: "global_scene_control", Type: zcl.TypeBool, Access: zcl.AccessRead},
		{ID: 0x4001, Name: "on_time", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x4002, Name: "off_wait_time", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x4003, Name: "start_up_on_off", Type: zcl.TypeEnum8, Access: zcl.AccessRead | zcl.AccessWrite},
	},
	Commands: []zcl.CommandDef{
		{ID: CmdOff, Name: "off", Direction: zcl.DirectionToServer},
		{ID: CmdOn, Name: "on", Direction: zcl.DirectionToServer},
		{ID: CmdToggle, Name: "toggle", Direction: zcl.DirectionToServer},
		{ID: 0x40, Name: "off_with_effect", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "effect_id", Type: zcl.TypeUint8},
			{Name: "effect_variant", Type: zcl.TypeUint8},
		}},
		{ID: 0x42, Name: "on_with_timed_off", Direction: zcl.DirectionToServer, Args: []zcl.ArgDef{
			{Name: "on_off_control", Type: zcl.TypeBitmap8},
			{Name: "on_time", Type: zcl.TypeUint16},
			{Name: "off_wait_time", Type: zcl.TypeUint16},
		}},
	},
}

var OnOffConfiguration = zcl.ClusterDef{
	ID:   0x0007,
	Name: "on_off_config",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "switch_type", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: 0x0010, Name: "switch_actions", Type: zcl.TypeEnum8, Access: zcl.AccessRead | zcl.AccessWrite},
	},
}
