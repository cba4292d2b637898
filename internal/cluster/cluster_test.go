package cluster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-quirks/internal/transport/transporttest"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type endpoint map[uint16]Cluster

func (e endpoint) Cluster(id uint16) (Cluster, error) {
	if c, ok := e[id]; ok {
		return c, nil
	}
	return nil, ErrUnknownCluster
}

func def(c zcl.ClusterDef) *zcl.ClusterDef { return c.DeepCopy() }

func TestBaseCommandEncodesAndForwards(t *testing.T) {
	tr := transporttest.New()
	level := NewBase(def(clusters.LevelControl), "00124B0001", 1, tr, newTestLogger())

	resp, err := level.Command(context.Background(), Invocation{
		CommandID:   clusters.CmdMoveToLevel,
		Args:        []any{128},
		Kwargs:      map[string]any{"transition_time": 5},
		ExpectReply: true,
		TSN:         9,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, zcl.StatusSuccess, resp.Status)

	sent := tr.Commands()
	require.Len(t, sent, 1)
	assert.Equal(t, uint16(0x0008), sent[0].Cluster)
	assert.Equal(t, uint8(9), sent[0].TSN)
	assert.Equal(t, []byte{0x80, 0x05, 0x00}, sent[0].Payload)
}

func TestBaseCommandPropagatesTransportError(t *testing.T) {
	tr := transporttest.New()
	boom := errors.New("radio busy")
	tr.CommandErr = boom
	onoff := NewBase(def(clusters.OnOff), "00124B0001", 1, tr, newTestLogger())

	_, err := onoff.Command(context.Background(), Invocation{CommandID: clusters.CmdOn})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestBaseCommandMissingArgument(t *testing.T) {
	tr := transporttest.New()
	level := NewBase(def(clusters.LevelControl), "00124B0001", 1, tr, newTestLogger())

	_, err := level.Command(context.Background(), Invocation{CommandID: clusters.CmdMoveToLevel, Args: []any{10}})
	assert.ErrorIs(t, err, zcl.ErrMissingArgument)
	assert.Empty(t, tr.Commands())
}

func TestBaseManufacturerOverride(t *testing.T) {
	tr := transporttest.New()
	d := &zcl.ClusterDef{
		ID:               0xFC11,
		Name:             "sonoff",
		ManufacturerCode: 0x1286,
		Attributes: []zcl.AttributeDef{
			{ID: 0x0012, Name: "turbo_mode", Type: zcl.TypeInt16, Access: zcl.AccessRead | zcl.AccessWrite, ManufacturerSpecific: true},
		},
	}
	c := NewBase(d, "00124B0002", 1, tr, newTestLogger())

	_, err := c.WriteAttributes(context.Background(), map[uint16]any{0x0012: 20}, zcl.NoManufacturer)
	require.NoError(t, err)
	_, err = c.ReadAttributes(context.Background(), []uint16{0x0012}, zcl.NoManufacturer)
	require.NoError(t, err)

	writes := tr.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, uint16(0x1286), writes[0].Manufacturer)
	assert.Equal(t, []byte{0x14, 0x00}, writes[0].Records[0].Value)
	assert.Equal(t, uint16(0x1286), tr.Reads()[0].Manufacturer)

	v, ok := c.Attributes().Get(0x0012)
	require.True(t, ok)
	assert.Equal(t, int16(20), v)
}

func TestBaseWriteUnknownAttribute(t *testing.T) {
	c := NewBase(def(clusters.OnOff), "00124B0001", 1, transporttest.New(), newTestLogger())
	_, err := c.WriteAttributes(context.Background(), map[uint16]any{0x7777: 1}, 0)
	assert.ErrorIs(t, err, ErrUnknownAttribute)
}

func TestLocalClusterAnswersFromCache(t *testing.T) {
	l := NewLocal(def(clusters.DeviceTemperature), 3)

	recs, err := l.ReadAttributes(context.Background(), []uint16{clusters.AttrCurrentTemperature}, 0)
	require.NoError(t, err)
	assert.Equal(t, zcl.StatusUnsupAttribute, recs[0].Status)

	Synthesize(l, clusters.AttrCurrentTemperature, int16(2150))
	recs, err = l.ReadAttributes(context.Background(), []uint16{clusters.AttrCurrentTemperature}, 0)
	require.NoError(t, err)
	assert.Equal(t, zcl.StatusSuccess, recs[0].Status)
	assert.Equal(t, int16(2150), recs[0].Value)

	resp, err := l.Command(context.Background(), Invocation{CommandID: 0x01})
	require.NoError(t, err)
	assert.Equal(t, zcl.StatusUnsupCommand, resp.Status)
}

func TestCacheListenersRunAfterStore(t *testing.T) {
	c := NewAttributeCache()
	var seen any
	c.Listen(func(r Report) {
		seen, _ = c.Get(r.AttrID)
	})
	c.Apply(Report{AttrID: 1, Value: 42})
	assert.Equal(t, 42, seen)

	c.Restore(map[uint16]any{2: "x"})
	snap := c.Snapshot()
	assert.Equal(t, map[uint16]any{1: 42, 2: "x"}, snap)
}

func TestBridgeScalesIntoTarget(t *testing.T) {
	tr := transporttest.New()
	source := NewBase(def(clusters.AnalogInput), "00124B0003", 3, tr, newTestLogger())
	target := NewLocal(def(clusters.DeviceTemperature), 3)
	ep := endpoint{source.ID(): source, target.ID(): target}

	var derived []Report
	target.Attributes().Listen(func(r Report) { derived = append(derived, r) })

	var order []string
	source.Attributes().Listen(func(Report) { order = append(order, "source") })
	target.Attributes().Listen(func(Report) { order = append(order, "target") })

	_, err := NewBridge(ep, source.ID(), []Link{{
		SourceAttr:    clusters.AttrPresentValue,
		TargetCluster: target.ID(),
		TargetAttr:    clusters.AttrCurrentTemperature,
		Transform:     Scale(100),
	}}, newTestLogger())
	require.NoError(t, err)

	source.HandleReport(Report{AttrID: clusters.AttrPresentValue, Value: float32(21.5)})

	v, _ := source.Attributes().Get(clusters.AttrPresentValue)
	assert.Equal(t, float32(21.5), v, "source keeps the raw value")
	got, _ := target.Attributes().Get(clusters.AttrCurrentTemperature)
	assert.Equal(t, int16(2150), got)
	require.Len(t, derived, 1)
	assert.True(t, derived[0].Synthetic)
	assert.Equal(t, []string{"source", "target"}, order)

	// Replaying the same report derives again: the bridge keeps no state.
	source.HandleReport(Report{AttrID: clusters.AttrPresentValue, Value: float32(21.5)})
	require.Len(t, derived, 2)
	assert.Equal(t, derived[0].Value, derived[1].Value)

	// Unrelated attributes are not bridged.
	source.HandleReport(Report{AttrID: 0x0051, Value: true})
	assert.Len(t, derived, 2)
}

func TestBridgeRejectsSelfLoopAndMissingTarget(t *testing.T) {
	src := NewLocal(def(clusters.OnOff), 1)
	ep := endpoint{src.ID(): src}

	_, err := NewBridge(ep, src.ID(), []Link{{SourceAttr: 0, TargetCluster: src.ID(), TargetAttr: 0}}, newTestLogger())
	assert.Error(t, err)

	_, err = NewBridge(ep, src.ID(), []Link{{SourceAttr: 0, TargetCluster: 0x0402, TargetAttr: 0}}, newTestLogger())
	assert.ErrorIs(t, err, ErrUnknownCluster)
}

func TestBridgeDropsFailedTransform(t *testing.T) {
	src := NewLocal(def(clusters.AnalogInput), 1)
	dst := NewLocal(def(clusters.TemperatureMeasurement), 1)
	_, err := NewBridge(endpoint{src.ID(): src, dst.ID(): dst}, src.ID(), []Link{{
		SourceAttr:    0x001C,
		TargetCluster: dst.ID(),
		TargetAttr:    clusters.AttrMeasuredValue,
		Transform:     Scale(10),
	}}, newTestLogger())
	require.NoError(t, err)

	Synthesize(src, 0x001C, "not a number")
	_, ok := dst.Attributes().Get(clusters.AttrMeasuredValue)
	assert.False(t, ok)
}

func TestTransforms(t *testing.T) {
	v, err := Scale(100)(int16(215))
	require.NoError(t, err)
	assert.Equal(t, int64(21500), v)

	v, err = Scale(0.5)(3)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	v, err = Bool()(int16(20))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Threshold(20, 9)(int16(9))
	require.NoError(t, err)
	assert.Equal(t, false, v)

	_, err = Threshold(20, 9)(int16(5))
	assert.Error(t, err)
}

type blockingCluster struct {
	*Local
	mu      sync.Mutex
	release chan struct{}
	got     []Invocation
	err     error
	panics  bool
}

func (b *blockingCluster) Command(ctx context.Context, inv Invocation) (*zcl.DefaultResponse, error) {
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	b.got = append(b.got, inv)
	b.mu.Unlock()
	if b.panics {
		panic("driver bug")
	}
	return nil, b.err
}

func TestDispatcherDoesNotBlockCaller(t *testing.T) {
	target := &blockingCluster{Local: NewLocal(def(clusters.OnOff), 1), release: make(chan struct{})}
	d := NewDispatcher(newTestLogger(), 0, nil)

	done := make(chan struct{})
	go func() {
		d.Go(context.Background(), target, Invocation{CommandID: clusters.CmdOn, ExpectReply: true})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Go blocked on the side effect")
	}

	close(target.release)
	d.Wait()
	require.Len(t, target.got, 1)
	assert.False(t, target.got[0].ExpectReply, "side effects never ask for a reply")
}

func TestDispatcherRoutesFailures(t *testing.T) {
	var mu sync.Mutex
	var failures []Failure
	d := NewDispatcher(newTestLogger(), time.Second, func(f Failure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
	})

	erring := &blockingCluster{Local: NewLocal(def(clusters.OnOff), 1), err: errors.New("no ack")}
	panicking := &blockingCluster{Local: NewLocal(def(clusters.OnOff), 2), panics: true}
	d.Go(context.Background(), erring, Invocation{CommandID: clusters.CmdOff})
	d.Go(context.Background(), panicking, Invocation{CommandID: clusters.CmdOn})
	d.Wait()

	require.Len(t, failures, 2)
	eps := map[uint8]uint8{}
	for _, f := range failures {
		assert.Error(t, f.Err)
		eps[f.Endpoint] = f.CommandID
	}
	assert.Equal(t, map[uint8]uint8{1: clusters.CmdOff, 2: clusters.CmdOn}, eps)
}

func TestDispatcherIgnoresCallerCancellation(t *testing.T) {
	target := &blockingCluster{Local: NewLocal(def(clusters.OnOff), 1)}
	d := NewDispatcher(newTestLogger(), 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ctxErr error
	probe := InterceptorFunc(func(ctx context.Context, base Cluster, inv Invocation) (*zcl.DefaultResponse, error) {
		ctxErr = ctx.Err()
		return base.Command(ctx, inv)
	})
	d.Go(ctx, Intercept(target, probe), Invocation{CommandID: clusters.CmdOn})
	d.Wait()
	assert.NoError(t, ctxErr)
	assert.Len(t, target.got, 1)
}

func TestAdapterRoutesOnlyCommands(t *testing.T) {
	base := NewLocal(def(clusters.OnOff), 1)
	var calls int
	a := Intercept(base, InterceptorFunc(func(ctx context.Context, b Cluster, inv Invocation) (*zcl.DefaultResponse, error) {
		calls++
		return &zcl.DefaultResponse{CommandID: inv.CommandID, Status: zcl.StatusSuccess}, nil
	}))

	resp, err := a.Command(context.Background(), Invocation{CommandID: clusters.CmdToggle})
	require.NoError(t, err)
	assert.Equal(t, zcl.StatusSuccess, resp.Status)
	assert.Equal(t, 1, calls)

	Synthesize(a, clusters.AttrOnOff, true)
	v, ok := base.Attributes().Get(clusters.AttrOnOff)
	require.True(t, ok)
	assert.Equal(t, true, v)
	assert.Same(t, base.Attributes(), a.Attributes())
	assert.Same(t, Cluster(base), a.Unwrap())
}

func TestInvocationClone(t *testing.T) {
	inv := Invocation{Args: []any{1}, Kwargs: map[string]any{"level": 2}}
	cp := inv.Clone()
	cp.Args[0] = 9
	cp.Kwargs["level"] = 9
	assert.Equal(t, 1, inv.Args[0])
	assert.Equal(t, 2, inv.Kwargs["level"])
}

func TestCacheApplyIfIsAtomic(t *testing.T) {
	c := NewAttributeCache()
	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(v bool) {
			defer wg.Done()
			ok := c.ApplyIf(Report{AttrID: clusters.AttrOnOff, Value: v}, func(_ any, known bool) bool { return !known })
			if ok {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}(i%2 == 0)
	}
	wg.Wait()
	assert.Equal(t, 1, stored)
}

func TestCacheApplyIfNotifiesOnlyWhenStored(t *testing.T) {
	c := NewAttributeCache()
	var seen []any
	c.Listen(func(r Report) { seen = append(seen, r.Value) })

	assert.True(t, c.ApplyIf(Report{AttrID: clusters.AttrOnOff, Value: true}, func(any, bool) bool { return true }))
	assert.False(t, c.ApplyIf(Report{AttrID: clusters.AttrOnOff, Value: false}, func(cur any, _ bool) bool { return cur != true }))
	assert.Equal(t, []any{true}, seen)
}

func TestCacheForgetIfMatchesValue(t *testing.T) {
	c := NewAttributeCache()
	c.Apply(Report{AttrID: clusters.AttrOnOff, Value: true})

	assert.False(t, c.ForgetIf(clusters.AttrOnOff, false))
	v, known := c.Get(clusters.AttrOnOff)
	require.True(t, known)
	assert.Equal(t, true, v)

	assert.True(t, c.ForgetIf(clusters.AttrOnOff, true))
	_, known = c.Get(clusters.AttrOnOff)
	assert.False(t, known)
}

func TestDispatcherUndoRunsBeforeFailureHandler(t *testing.T) {
	var order []string
	var mu sync.Mutex
	note := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}
	d := NewDispatcher(newTestLogger(), time.Second, func(Failure) { note("failure") })

	erring := &blockingCluster{Local: NewLocal(def(clusters.OnOff), 1), err: errors.New("no ack")}
	d.GoUndo(context.Background(), erring, Invocation{CommandID: clusters.CmdOn}, func(err error) {
		assert.Error(t, err)
		note("undo")
	})
	ok := &blockingCluster{Local: NewLocal(def(clusters.OnOff), 2)}
	d.GoUndo(context.Background(), ok, Invocation{CommandID: clusters.CmdOn}, func(error) { note("unexpected") })
	d.Wait()

	assert.Equal(t, []string{"undo", "failure"}, order)
}
