package cluster

import (
	"context"

	"zigbee-quirks/internal/zcl"
)

// Interceptor decides what happens to an outbound command before it reaches
// the wrapped cluster: forward it (possibly rewritten), suppress it and
// answer on the device's behalf, or trigger side effects.
type Interceptor interface {
	InterceptCommand(ctx context.Context, base Cluster, inv Invocation) (*zcl.DefaultResponse, error)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, base Cluster, inv Invocation) (*zcl.DefaultResponse, error)

func (f InterceptorFunc) InterceptCommand(ctx context.Context, base Cluster, inv Invocation) (*zcl.DefaultResponse, error) {
	return f(ctx, base, inv)
}

// Adapter wraps a cluster and routes its commands through an Interceptor.
// Everything else, including the attribute cache, is the wrapped cluster's.
type Adapter struct {
	Cluster
	interceptor Interceptor
}

// Intercept wraps base.
func Intercept(base Cluster, i Interceptor) *Adapter {
	return &Adapter{Cluster: base, interceptor: i}
}

func (a *Adapter) Command(ctx context.Context, inv Invocation) (*zcl.DefaultResponse, error) {
	return a.interceptor.InterceptCommand(ctx, a.Cluster, inv)
}

// Unwrap returns the wrapped cluster.
func (a *Adapter) Unwrap() Cluster {
	return a.Cluster
}
