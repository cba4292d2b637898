package cluster

import (
	"errors"
	"fmt"
	"log/slog"
)

// Link is a static relation: when SourceAttr is updated on the bridge's
// source cluster, Transform(value) is reported as TargetAttr on TargetCluster
// of the same endpoint.
type Link struct {
	SourceAttr    uint16
	TargetCluster uint16
	TargetAttr    uint16
	Transform     Transform
}

// Clusters resolves sibling clusters on an endpoint.
type Clusters interface {
	Cluster(id uint16) (Cluster, error)
}

type boundLink struct {
	Link
	target Cluster
}

// Bridge fans reports on one cluster out to other clusters. It keeps no
// state: every matching report produces one derived report.
type Bridge struct {
	source Cluster
	links  []boundLink
	logger *slog.Logger
}

// NewBridge resolves every link target on ep and starts listening on the
// source cluster's cache.
func NewBridge(ep Clusters, sourceID uint16, links []Link, logger *slog.Logger) (*Bridge, error) {
	source, err := ep.Cluster(sourceID)
	if err != nil {
		return nil, fmt.Errorf("bridge source: %w", err)
	}
	b := &Bridge{
		source: source,
		logger: logger.With("component", "bridge", "source", fmt.Sprintf("0x%04X", sourceID)),
	}
	for _, l := range links {
		if l.Transform == nil {
			l.Transform = Identity()
		}
		if l.TargetCluster == sourceID && l.TargetAttr == l.SourceAttr {
			return nil, errors.New("bridge: link reports into its own trigger")
		}
		target, err := ep.Cluster(l.TargetCluster)
		if err != nil {
			return nil, fmt.Errorf("bridge target: %w", err)
		}
		b.links = append(b.links, boundLink{Link: l, target: target})
	}
	source.Attributes().Listen(b.handle)
	return b, nil
}

// handle runs after the source cache has stored r.
func (b *Bridge) handle(r Report) {
	for _, l := range b.links {
		if l.SourceAttr != r.AttrID {
			continue
		}
		v, err := l.Transform(r.Value)
		if err != nil {
			b.logger.Warn("bridge transform failed",
				"attr", fmt.Sprintf("0x%04X", r.AttrID), "value", r.Value, "err", err)
			continue
		}
		v = conform(l.target.Def(), l.TargetAttr, v)
		b.logger.Debug("bridging attribute",
			"attr", fmt.Sprintf("0x%04X", r.AttrID),
			"target", fmt.Sprintf("0x%04X/0x%04X", l.TargetCluster, l.TargetAttr),
			"value", v)
		Synthesize(l.target, l.TargetAttr, v)
	}
}
