// Package cluster is the runtime side of ZCL clusters: per-cluster attribute
// caches, clusters that forward to a transport, and the adapters layered on
// them to correct devices that do not follow the standard.
package cluster

import (
	"context"
	"errors"
	"fmt"

	"zigbee-quirks/internal/zcl"
)

var (
	// ErrUnknownCluster is returned when an endpoint has no cluster with the requested ID.
	ErrUnknownCluster = zcl.ErrUnknownCluster
	// ErrUnknownCommand is returned when a command with arguments has no schema to encode them.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnknownAttribute is returned when writing an attribute the definition does not list.
	ErrUnknownAttribute = errors.New("unknown attribute")
)

// Cluster is the capability set shared by plain clusters and the adapters
// that wrap them. Callers cannot tell the two apart.
type Cluster interface {
	Reporter

	ID() uint16
	Endpoint() uint8
	Def() *zcl.ClusterDef
	Attributes() *AttributeCache

	ReadAttributes(ctx context.Context, ids []uint16, manufacturer uint16) ([]zcl.ReadRecord, error)
	WriteAttributes(ctx context.Context, values map[uint16]any, manufacturer uint16) ([]zcl.WriteStatus, error)
	Command(ctx context.Context, inv Invocation) (*zcl.DefaultResponse, error)
}

// Invocation is one outbound cluster command. Interceptors may rewrite
// Args and Kwargs before forwarding.
type Invocation struct {
	CommandID    uint8          `json:"command_id"`
	Args         []any          `json:"args,omitempty"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
	Manufacturer uint16         `json:"manufacturer,omitempty"`
	ExpectReply  bool           `json:"expect_reply"`
	TSN          uint8          `json:"tsn,omitempty"` // 0 = allocate
}

// Clone returns a copy whose argument slices can be modified freely.
func (inv Invocation) Clone() Invocation {
	cp := inv
	if inv.Args != nil {
		cp.Args = append([]any(nil), inv.Args...)
	}
	if inv.Kwargs != nil {
		cp.Kwargs = make(map[string]any, len(inv.Kwargs))
		for k, v := range inv.Kwargs {
			cp.Kwargs[k] = v
		}
	}
	return cp
}

func (inv Invocation) String() string {
	return fmt.Sprintf("cmd=0x%02X args=%v kwargs=%v", inv.CommandID, inv.Args, inv.Kwargs)
}

// Report is an attribute update delivered to a cluster, from the wire or
// synthesized by an adapter.
type Report struct {
	AttrID       uint16
	Value        any
	Manufacturer uint16
	Synthetic    bool
}
