package clusters

import "zigbee-quirks/internal/zcl"

const AttrCurrentLevel uint16 = 0x0000

// Level Control server commands.
const (
	CmdMoveToLevel          uint8 = 0x00
	CmdMove                 uint8 = 0x01
	CmdStep                 uint8 = 0x02
	CmdStop                 uint8 = 0x03
	CmdMoveToLevelWithOnOff uint8 = 0x04
	CmdMoveWithOnOff        uint8 = 0x05
	CmdStepWithOnOff        uint8 = 0x06
	CmdStopWithOnOff        uint8 = 0x07
)

var moveToLevelArgs = []zcl.ArgDef{
	{Name: "level", Type: zcl.TypeUint8},
	{Name: "transition_time", Type: zcl.TypeUint16},
}

var moveArgs = []zcl.ArgDef{
	{Name: "move_mode", Type: zcl.TypeEnum8},
	{Name: "rate", Type: zcl.TypeUint8},
}

var stepArgs = []zcl.ArgDef{
	{Name: "step_mode", Type: zcl.TypeEnum8},
	{Name: "step_size", Type: zcl.TypeUint8},
	{Name: "transition_time", Type: zcl.TypeUint16},
}

var LevelControl = zcl.ClusterDef{
	ID:   0x0008,
	Name: "level",
	Attributes: []zcl.AttributeDef{
		{ID: AttrCurrentLevel, Name: "current_level", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessWrite | zcl.AccessReport},
		{ID: 0x0001, Name: "remaining_time", Type: zcl.TypeUint16, Access: zcl.AccessRead},
		{ID: 0x000F, Name: "options", Type: zcl.TypeBitmap8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0010, Name: "on_off_transition_time", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x0011, Name: "on_level", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessWrite},
		{ID: 0x4000, Name: "start_up_current_level", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessWrite},
	},
	Commands: []zcl.CommandDef{
		{ID: CmdMoveToLevel, Name: "move_to_level", Direction: zcl.DirectionToServer, Args: moveToLevelArgs},
		{ID: CmdMove, Name: "move", Direction: zcl.DirectionToServer, Args: moveArgs},
		{ID: CmdStep, Name: "step", Direction: zcl.DirectionToServer, Args: stepArgs},
		{ID: CmdStop, Name: "stop", Direction: zcl.DirectionToServer},
		{ID: CmdMoveToLevelWithOnOff, Name: "move_to_level_with_on_off", Direction: zcl.DirectionToServer, Args: moveToLevelArgs},
		{ID: CmdMoveWithOnOff, Name: "move_with_on_off", Direction: zcl.DirectionToServer, Args: moveArgs},
		{ID: CmdStepWithOnOff, Name: "step_with_on_off", Direction: zcl.DirectionToServer, Args: stepArgs},
		{ID: CmdStopWithOnOff, Name: "stop_with_on_off", Direction: zcl.DirectionToServer},
	},
}

// Color is kept minimal: quirks only need to recognise it in signatures.
var Color = zcl.ClusterDef{
	ID:   0x0300,
	Name: "light_color",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "current_hue", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Name: "current_saturation", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0007, Name: "color_temperature", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0008, Name: "color_mode", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
	},
}
