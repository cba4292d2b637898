package quirks

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zigbee-quirks/internal/cluster"
	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/transport/transporttest"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

const testIEEE = "00124B0018ED1234"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	Env
	tr       *transporttest.Recorder
	quirks   *Registry
	mu       sync.Mutex
	failures []cluster.Failure
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := newTestLogger()
	te := &testEnv{tr: transporttest.New()}
	defs := zcl.NewRegistry(logger)
	clusters.RegisterStandard(defs)
	te.quirks = NewRegistry(logger)
	require.NoError(t, RegisterBuiltin(te.quirks, defs))

	te.Env = Env{
		Logger: logger,
		Dispatcher: cluster.NewDispatcher(logger, time.Second, func(f cluster.Failure) {
			te.mu.Lock()
			defer te.mu.Unlock()
			te.failures = append(te.failures, f)
		}),
		Defs: defs,
		Build: func(def *zcl.ClusterDef, endpoint uint8) cluster.Cluster {
			return cluster.NewBase(def, testIEEE, endpoint, te.tr, logger)
		},
	}
	return te
}

func (te *testEnv) Failures() []cluster.Failure {
	te.Dispatcher.Wait()
	te.mu.Lock()
	defer te.mu.Unlock()
	return append([]cluster.Failure(nil), te.failures...)
}

func ts0501bAnnounce() transport.DeviceAnnounceEvent {
	return transport.DeviceAnnounceEvent{
		IEEE:         testIEEE,
		Manufacturer: "_TZ3218_ofguu6mz",
		Model:        "TS0501B",
		Endpoints: []transport.SimpleDescriptor{
			{
				Endpoint: 1, ProfileID: 0x0104, DeviceType: 0x0101,
				InClusters:  []uint16{0x0000, 0x0004, 0x0005, 0x0006, 0x0008, 0x0300, 0xEF00},
				OutClusters: []uint16{0x000A, 0x0019},
			},
			{Endpoint: 242, ProfileID: 0xA1E0, DeviceType: 0x0061, OutClusters: []uint16{0x0021}},
		},
	}
}

func ptvoAnnounce(v2 bool) transport.DeviceAnnounceEvent {
	ep1 := []uint16{0x0000}
	ep2 := []uint16{0x0006}
	if v2 {
		ep1 = append(ep1, 0x0007)
		ep2 = append(ep2, 0x0007)
	}
	return transport.DeviceAnnounceEvent{
		IEEE:         testIEEE,
		Manufacturer: "PTVO",
		Model:        "ZBMINI",
		Endpoints: []transport.SimpleDescriptor{
			{Endpoint: 1, ProfileID: 0x0104, DeviceType: 0xFFFE, InClusters: ep1, OutClusters: []uint16{0x0000, 0x0012}},
			{Endpoint: 2, ProfileID: 0x0104, DeviceType: 0xFFFE, InClusters: ep2, OutClusters: []uint16{0x0006}},
			{Endpoint: 3, ProfileID: 0x0104, DeviceType: 0xFFFE, InClusters: []uint16{0x000C}},
			{Endpoint: 242, ProfileID: 0xA1E0, DeviceType: 0x0061, OutClusters: []uint16{0x0021}},
		},
	}
}
