package quirks

import (
	"fmt"

	"zigbee-quirks/internal/cluster"
	"zigbee-quirks/internal/device"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

const (
	tuyaManufCluster uint16 = 0xEF00

	sonoffCluster      uint16 = 0xFC11
	sonoffManufacturer uint16 = 0x1286
	attrTurboMode      uint16 = 0x0012
)

// SonoffCluster is the manufacturer cluster of SONOFF ZBMicro. Every frame
// sent to it carries the Coolkit manufacturer code.
var SonoffCluster = zcl.ClusterDef{
	ID:               sonoffCluster,
	Name:             "sonoff",
	ManufacturerCode: sonoffManufacturer,
	Attributes: []zcl.AttributeDef{
		{ID: attrTurboMode, Name: "turbo_mode", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessWrite, ManufacturerSpecific: true},
	},
}

// RegisterBuiltin adds the quirks shipped with the binary and the cluster
// definitions they need.
func RegisterBuiltin(r *Registry, defs *zcl.Registry) error {
	defs.Register(SonoffCluster)

	builtin := []*Quirk{
		ts0501bDimmer(),
		ptvoZbmini("PTVO ZBMINI light v1", false),
		ptvoZbmini("PTVO ZBMINI light v2", true),
		sonoffZBMicro(),
	}
	for _, q := range builtin {
		if err := r.Add(q); err != nil {
			return err
		}
	}
	return nil
}

func gpProxy() EndpointSignature {
	return EndpointSignature{
		ProfileID:  ProfileGreenPower,
		DeviceType: DeviceGPProxyBasic,
		Out:        []uint16{clusters.GreenPowerProxy.ID},
	}
}

// ts0501bDimmer is the GIRIER 0/1-10V single channel dimmer module.
func ts0501bDimmer() *Quirk {
	return &Quirk{
		Name:         "GIRIER TS0501B dimmer",
		Manufacturer: "_TZ3218_ofguu6mz",
		Model:        "TS0501B",
		Signatures: []Signature{{
			1: {
				ProfileID:  ProfileHA,
				DeviceType: DeviceDimmable,
				In: []uint16{
					clusters.Basic.ID, clusters.Groups.ID, clusters.Scenes.ID,
					clusters.OnOff.ID, clusters.LevelControl.ID, clusters.Color.ID,
					tuyaManufCluster,
				},
				Out: []uint16{clusters.Time.ID, clusters.Ota.ID},
			},
			242: gpProxy(),
		}},
		Apply: func(env Env, dev *device.Device) error {
			ep, ok := dev.Endpoint(1)
			if !ok {
				return fmt.Errorf("ts0501b: endpoint 1 missing")
			}
			ep.Remove(clusters.Color.ID)
			ep.Remove(tuyaManufCluster)

			level, err := ep.Cluster(clusters.LevelControl.ID)
			if err != nil {
				return fmt.Errorf("ts0501b: %w", err)
			}
			onoff, err := ep.Cluster(clusters.OnOff.ID)
			if err != nil {
				return fmt.Errorf("ts0501b: %w", err)
			}
			ep.Replace(NewTuyaLevelControl(level, onoff, DefaultRemap, env.Dispatcher, env.Logger))
			return nil
		},
	}
}

// ptvoZbmini is a SONOFF ZBMINI running PTVO firmware. It reports its
// internal temperature as an Analog Input present value in whole degrees;
// withConfig selects the v2 layout that adds On/Off Switch Configuration.
func ptvoZbmini(name string, withConfig bool) *Quirk {
	ep1In := []uint16{clusters.Basic.ID}
	ep2In := []uint16{clusters.OnOff.ID}
	if withConfig {
		ep1In = append(ep1In, clusters.OnOffConfiguration.ID)
		ep2In = append(ep2In, clusters.OnOffConfiguration.ID)
	}
	const ptvoGeneric uint16 = 0xFFFE

	return &Quirk{
		Name:         name,
		Manufacturer: "PTVO",
		Model:        "ZBMINI",
		Signatures: []Signature{{
			1: {
				ProfileID:  ProfileHA,
				DeviceType: ptvoGeneric,
				In:         ep1In,
				Out:        []uint16{clusters.Basic.ID, clusters.MultistateInput.ID},
			},
			2: {
				ProfileID:  ProfileHA,
				DeviceType: ptvoGeneric,
				In:         ep2In,
				Out:        []uint16{clusters.OnOff.ID},
			},
			3: {
				ProfileID:  ProfileHA,
				DeviceType: ptvoGeneric,
				In:         []uint16{clusters.AnalogInput.ID},
			},
			242: gpProxy(),
		}},
		Apply: func(env Env, dev *device.Device) error {
			if ep, ok := dev.Endpoint(2); ok {
				ep.DeviceType = DeviceOnOffLight
			}
			ep, ok := dev.Endpoint(3)
			if !ok {
				return fmt.Errorf("ptvo: endpoint 3 missing")
			}
			ep.DeviceType = DeviceTempSensor
			if err := ep.Add(cluster.NewLocal(clusters.DeviceTemperature.DeepCopy(), ep.ID)); err != nil {
				return fmt.Errorf("ptvo: %w", err)
			}
			_, err := cluster.NewBridge(ep, clusters.AnalogInput.ID, []cluster.Link{{
				SourceAttr:    clusters.AttrPresentValue,
				TargetCluster: clusters.DeviceTemperature.ID,
				TargetAttr:    clusters.AttrCurrentTemperature,
				Transform:     cluster.Scale(100),
			}}, env.Logger)
			if err != nil {
				return fmt.Errorf("ptvo: %w", err)
			}
			return nil
		},
	}
}

// sonoffZBMicro is the SONOFF ZBMicro USB switch. Its turbo mode is a
// manufacturer-specific int16 that takes 20 for on and 9 for off.
func sonoffZBMicro() *Quirk {
	return &Quirk{
		Name:         "SONOFF ZBMicro",
		Manufacturer: "SONOFF",
		Model:        "ZBMicro",
		Apply: func(env Env, dev *device.Device) error {
			ep, ok := dev.Endpoint(1)
			if !ok {
				return fmt.Errorf("zbmicro: endpoint 1 missing")
			}
			ep.Remove(sonoffCluster)
			if err := ep.Add(env.Build(SonoffCluster.DeepCopy(), ep.ID)); err != nil {
				return fmt.Errorf("zbmicro: %w", err)
			}
			dev.Switches = append(dev.Switches, device.Switch{
				Name:         "turbo_mode",
				FallbackName: "Turbo mode",
				Endpoint:     ep.ID,
				Cluster:      sonoffCluster,
				Attr:         attrTurboMode,
				On:           20,
				Off:          9,
			})
			return nil
		},
	}
}
