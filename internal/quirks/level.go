package quirks

import (
	"context"
	"fmt"
	"log/slog"

	"zigbee-quirks/internal/cluster"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

// LevelRemap maps the application level range 0..Span onto the range a
// dimmer actually operates in. Division truncates, so 0 maps to Min and
// Span maps to Max.
type LevelRemap struct {
	Min  int `yaml:"min"`
	Max  int `yaml:"max"`
	Span int `yaml:"span"`
}

// DefaultRemap is the 30..254 window of Tuya 0/1-10V dimmer modules.
var DefaultRemap = LevelRemap{Min: 30, Max: 254, Span: 254}

func (m LevelRemap) validate() error {
	if m.Span <= 0 || m.Min < 0 || m.Max < m.Min || m.Max > 254 {
		return fmt.Errorf("level remap %d..%d over %d: %w", m.Min, m.Max, m.Span, ErrInvalidQuirk)
	}
	return nil
}

// Apply remaps one level. Levels outside 0..Span are clamped first, so the
// result always lies in Min..Max.
func (m LevelRemap) Apply(level int64) int64 {
	level = max(0, min(level, int64(m.Span)))
	return level*int64(m.Max-m.Min)/int64(m.Span) + int64(m.Min)
}

// TuyaLevelControl intercepts Level Control commands for dimmers that only
// operate in part of the level range, do not report current_level reliably
// and reject level commands while switched off.
type TuyaLevelControl struct {
	remap    LevelRemap
	onoff    cluster.Cluster // sibling On/Off cluster, may be nil
	dispatch *cluster.Dispatcher
	logger   *slog.Logger
}

// NewTuyaLevelControl wraps level. onoff is the On/Off cluster on the same
// endpoint; without it move_to_level_with_on_off is never decomposed.
func NewTuyaLevelControl(level, onoff cluster.Cluster, remap LevelRemap, d *cluster.Dispatcher, logger *slog.Logger) *cluster.Adapter {
	return cluster.Intercept(level, &TuyaLevelControl{
		remap:    remap,
		onoff:    onoff,
		dispatch: d,
		logger:   logger.With("component", "tuya_level", "endpoint", level.Endpoint()),
	})
}

// levelSlot records where the level argument was found.
type levelSlot int

const (
	slotAbsent levelSlot = iota
	slotNamed
	slotPositional
)

func extractLevel(inv cluster.Invocation) (any, levelSlot) {
	if v, ok := inv.Kwargs["level"]; ok {
		return v, slotNamed
	}
	if len(inv.Args) > 0 {
		return inv.Args[0], slotPositional
	}
	return 0, slotAbsent
}

func (t *TuyaLevelControl) InterceptCommand(ctx context.Context, base cluster.Cluster, inv cluster.Invocation) (*zcl.DefaultResponse, error) {
	if inv.CommandID != clusters.CmdMoveToLevel && inv.CommandID != clusters.CmdMoveToLevelWithOnOff {
		return base.Command(ctx, inv)
	}

	raw, slot := extractLevel(inv)
	lv, err := zcl.Coerce(zcl.TypeUint8, raw)
	if err != nil {
		// Leave malformed levels to the base cluster's encoder to reject.
		return base.Command(ctx, inv)
	}
	level := int64(lv.(uint8))
	withOnOff := inv.CommandID == clusters.CmdMoveToLevelWithOnOff

	if withOnOff && level == 0 {
		t.switchSibling(ctx, false, inv.Manufacturer)
		t.logger.Debug("level 0 with on/off answered locally")
		return &zcl.DefaultResponse{CommandID: inv.CommandID, Status: zcl.StatusSuccess}, nil
	}

	brightness := t.remap.Apply(level)
	inv = inv.Clone()
	switch slot {
	case slotPositional:
		inv.Args[0] = brightness
	default:
		if inv.Kwargs == nil {
			inv.Kwargs = make(map[string]any, 1)
		}
		inv.Kwargs["level"] = brightness
	}
	// Nothing is switched or cached for a command the encoder would refuse.
	if cmd := base.Def().FindCommand(inv.CommandID, zcl.DirectionToServer); cmd != nil {
		if _, err := zcl.EncodeCommandPayload(cmd, inv.Args, inv.Kwargs); err != nil {
			return nil, fmt.Errorf("cluster 0x%04X: %w", base.ID(), err)
		}
	}

	if withOnOff {
		t.switchSibling(ctx, true, inv.Manufacturer)
	}
	if slot != slotAbsent {
		base.Attributes().ApplyIf(
			cluster.Report{AttrID: clusters.AttrCurrentLevel, Value: lv, Synthetic: true},
			func(cur any, known bool) bool { return !known || cur != lv },
		)
	}

	t.logger.Debug("level remapped", "level", level, "brightness", brightness)
	return base.Command(ctx, inv)
}

// switchSibling fires an On or Off at the sibling On/Off cluster when its
// cached state differs from on. The new state is recorded up front so a
// repeated command does not switch again; a failed dispatch takes it back.
func (t *TuyaLevelControl) switchSibling(ctx context.Context, on bool, manufacturer uint16) {
	if t.onoff == nil {
		return
	}
	cache := t.onoff.Attributes()
	var prev any
	var prevKnown bool
	changed := cache.ApplyIf(
		cluster.Report{AttrID: clusters.AttrOnOff, Value: on, Synthetic: true},
		func(cur any, known bool) bool {
			prev, prevKnown = cur, known
			if b, ok := zcl.ToBool(cur); known && ok && b == on {
				return false
			}
			return true
		},
	)
	if !changed {
		return
	}
	cmd := clusters.CmdOff
	if on {
		cmd = clusters.CmdOn
	}
	t.dispatch.GoUndo(ctx, t.onoff, cluster.Invocation{CommandID: cmd, Manufacturer: manufacturer}, func(error) {
		if !prevKnown {
			cache.ForgetIf(clusters.AttrOnOff, on)
			return
		}
		// Only undo our own record; a report that arrived since wins.
		cache.ApplyIf(
			cluster.Report{AttrID: clusters.AttrOnOff, Value: prev, Synthetic: true},
			func(cur any, known bool) bool { return known && cur == on },
		)
	})
}
