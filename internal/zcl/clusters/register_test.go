package clusters

import (
	"io"
	"log/slog"
	"testing"

	"zigbee-quirks/internal/zcl"
)

func TestRegisterStandard(t *testing.T) {
	r := zcl.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	RegisterStandard(r)

	level, err := r.Lookup(LevelControl.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []uint8{CmdMoveToLevel, CmdMoveToLevelWithOnOff} {
		cmd := level.FindCommand(id, zcl.DirectionToServer)
		if cmd == nil {
			t.Fatalf("command 0x%02X missing", id)
		}
		if cmd.ArgIndex("level") != 0 {
			t.Errorf("command %s: level is not the first argument", cmd.Name)
		}
	}

	if _, err := r.ByName("device_temperature"); err != nil {
		t.Error(err)
	}
}

func TestAttributeTypesEncodable(t *testing.T) {
	for _, c := range []zcl.ClusterDef{Basic, OnOff, LevelControl, DeviceTemperature, AnalogInput, MultistateInput, TemperatureMeasurement} {
		for _, a := range c.Attributes {
			if zcl.TypeName(a.Type)[0] == '0' {
				t.Errorf("%s.%s uses type 0x%02X with no codec", c.Name, a.Name, a.Type)
			}
		}
	}
}
