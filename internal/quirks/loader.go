package quirks

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"zigbee-quirks/internal/cluster"
	"zigbee-quirks/internal/device"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

// ErrUnknownTransform is returned for a bridge transform the loader cannot build.
var ErrUnknownTransform = errors.New("unknown transform")

// ScriptCompiler turns a script body into a transform. It is nil when the
// binary is built without scripting.
type ScriptCompiler func(src string) (cluster.Transform, error)

// AttrRef names one attribute of one cluster.
type AttrRef struct {
	Cluster   uint16 `yaml:"cluster"`
	Attribute uint16 `yaml:"attribute"`
}

// TransformSpec selects exactly one transform.
type TransformSpec struct {
	Scale     *float64 `yaml:"scale,omitempty"`
	Bool      bool     `yaml:"bool,omitempty"`
	Threshold *struct {
		On  int64 `yaml:"on"`
		Off int64 `yaml:"off"`
	} `yaml:"threshold,omitempty"`
	Lua string `yaml:"lua,omitempty"`
}

// BridgeSpec declares one cross-cluster link on an endpoint. A target
// cluster missing from the endpoint is created as a local cluster.
type BridgeSpec struct {
	Endpoint  uint8         `yaml:"endpoint"`
	Source    AttrRef       `yaml:"source"`
	Target    AttrRef       `yaml:"target"`
	Transform TransformSpec `yaml:"transform"`
}

// LevelRemapSpec wraps an endpoint's Level Control cluster in TuyaLevelControl.
type LevelRemapSpec struct {
	Endpoint   uint8 `yaml:"endpoint"`
	LevelRemap `yaml:",inline"`
}

// QuirkSpec is one quirk in a quirk file.
type QuirkSpec struct {
	Name           string          `yaml:"name"`
	Manufacturer   string          `yaml:"manufacturer"`
	Model          string          `yaml:"model"`
	RemoveClusters []uint16        `yaml:"remove_clusters,omitempty"`
	Bridges        []BridgeSpec    `yaml:"bridges,omitempty"`
	LevelRemap     *LevelRemapSpec `yaml:"level_remap,omitempty"`
	Switches       []device.Switch `yaml:"switches,omitempty"`
}

// quirkFile is the YAML structure of files in the quirks directory.
type quirkFile struct {
	Clusters []zcl.ClusterDef `yaml:"clusters,omitempty"`
	Quirks   []QuirkSpec      `yaml:"quirks"`
}

// LoadDir reads every *.yaml file in dir, registering cluster definitions
// into defs and quirks into r. A missing or empty directory is not an error.
func LoadDir(dir string, r *Registry, defs *zcl.Registry, compile ScriptCompiler, logger *slog.Logger) error {
	var matches []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return fmt.Errorf("glob quirks dir: %w", err)
		}
		matches = append(matches, m...)
	}
	if len(matches) == 0 {
		logger.Info("no quirk files found", "dir", dir)
		return nil
	}

	total := 0
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var qf quirkFile
		if err := yaml.Unmarshal(data, &qf); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, c := range qf.Clusters {
			defs.Register(c)
		}
		for _, spec := range qf.Quirks {
			q, err := spec.build(compile)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			if err := r.Add(q); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
		}
		total += len(qf.Quirks)
		logger.Info("loaded quirk file", "path", filepath.Base(path),
			"clusters", len(qf.Clusters), "quirks", len(qf.Quirks))
	}
	logger.Info("quirk files loaded", "files", len(matches), "quirks", total)
	return nil
}

func (t TransformSpec) build(compile ScriptCompiler) (cluster.Transform, error) {
	set := 0
	var out cluster.Transform
	if t.Scale != nil {
		set++
		out = cluster.Scale(*t.Scale)
	}
	if t.Bool {
		set++
		out = cluster.Bool()
	}
	if t.Threshold != nil {
		set++
		out = cluster.Threshold(t.Threshold.On, t.Threshold.Off)
	}
	if t.Lua != "" {
		set++
		if compile == nil {
			return nil, fmt.Errorf("lua transform: %w: scripting not compiled in", ErrUnknownTransform)
		}
		fn, err := compile(t.Lua)
		if err != nil {
			return nil, fmt.Errorf("lua transform: %w", err)
		}
		out = fn
	}
	switch set {
	case 0:
		return cluster.Identity(), nil
	case 1:
		return out, nil
	}
	return nil, fmt.Errorf("%w: more than one transform given", ErrUnknownTransform)
}

// build turns a spec into a quirk, compiling transforms up front so a bad
// file fails at load time rather than at bind time.
func (s QuirkSpec) build(compile ScriptCompiler) (*Quirk, error) {
	type compiled struct {
		BridgeSpec
		fn cluster.Transform
	}
	bridges := make([]compiled, 0, len(s.Bridges))
	for _, b := range s.Bridges {
		fn, err := b.Transform.build(compile)
		if err != nil {
			return nil, fmt.Errorf("quirk %s %s: %w", s.Manufacturer, s.Model, err)
		}
		bridges = append(bridges, compiled{BridgeSpec: b, fn: fn})
	}
	if s.LevelRemap != nil {
		if s.LevelRemap.Span == 0 {
			s.LevelRemap.Span = 254
		}
		if err := s.LevelRemap.validate(); err != nil {
			return nil, fmt.Errorf("quirk %s %s: %w", s.Manufacturer, s.Model, err)
		}
	}
	spec := s

	apply := func(env Env, dev *device.Device) error {
		for _, id := range spec.RemoveClusters {
			for _, ep := range dev.Endpoints() {
				ep.Remove(id)
			}
		}
		for _, b := range bridges {
			ep, ok := dev.Endpoint(b.Endpoint)
			if !ok {
				return fmt.Errorf("bridge: endpoint %d missing", b.Endpoint)
			}
			if _, err := ep.Cluster(b.Target.Cluster); err != nil {
				def := env.Defs.Get(b.Target.Cluster)
				if def == nil {
					def = &zcl.ClusterDef{ID: b.Target.Cluster, Name: fmt.Sprintf("local_0x%04X", b.Target.Cluster)}
				}
				if err := ep.Add(cluster.NewLocal(def, ep.ID)); err != nil {
					return err
				}
			}
			_, err := cluster.NewBridge(ep, b.Source.Cluster, []cluster.Link{{
				SourceAttr:    b.Source.Attribute,
				TargetCluster: b.Target.Cluster,
				TargetAttr:    b.Target.Attribute,
				Transform:     b.fn,
			}}, env.Logger)
			if err != nil {
				return err
			}
		}
		if lr := spec.LevelRemap; lr != nil {
			ep, ok := dev.Endpoint(lr.Endpoint)
			if !ok {
				return fmt.Errorf("level remap: endpoint %d missing", lr.Endpoint)
			}
			level, err := ep.Cluster(clusters.LevelControl.ID)
			if err != nil {
				return fmt.Errorf("level remap: %w", err)
			}
			onoff, _ := ep.Cluster(clusters.OnOff.ID)
			ep.Replace(NewTuyaLevelControl(level, onoff, lr.LevelRemap, env.Dispatcher, env.Logger))
		}
		dev.Switches = append(dev.Switches, spec.Switches...)
		return nil
	}

	return &Quirk{
		Name:         s.Name,
		Manufacturer: s.Manufacturer,
		Model:        s.Model,
		Apply:        apply,
	}, nil
}
