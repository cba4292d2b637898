package coordinator

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNormalizeIEEE(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"upper hex", "00124B001234ABCD", "00124B001234ABCD"},
		{"lower hex", "00124b001234abcd", "00124B001234ABCD"},
		{"with colons", "00:12:4b:00:12:34:ab:cd", "00124B001234ABCD"},
		{"0x prefix", "0x00124b001234abcd", "00124B001234ABCD"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeIEEE(tt.input); got != tt.want {
				t.Errorf("NormalizeIEEE(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEventBusRoutesByType(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var synthetic, all []Event
	eb.On(EventSyntheticReport, func(e Event) { synthetic = append(synthetic, e) })
	eb.OnAll(func(e Event) { all = append(all, e) })

	derived := ReportData{IEEE: ptvoIEEE, Endpoint: 3, ClusterID: 0x0002, AttrID: 0x0000, Value: int16(2350)}
	eb.Emit(Event{Type: EventAttributeReport, Data: ReportData{IEEE: ptvoIEEE, Endpoint: 3, ClusterID: 0x000C}})
	eb.Emit(Event{Type: EventSyntheticReport, Data: derived})
	eb.Emit(Event{Type: EventSideEffectError, Data: FailureData{IEEE: dimmerIEEE, Error: "timeout"}})

	if len(synthetic) != 1 || synthetic[0].Data != derived {
		t.Errorf("synthetic handler got %+v", synthetic)
	}
	if len(all) != 3 {
		t.Errorf("catch-all handler got %d events, want 3", len(all))
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var typed, all atomic.Int32
	unsubTyped := eb.On(EventDeviceBound, func(Event) { typed.Add(1) })
	unsubAll := eb.OnAll(func(Event) { all.Add(1) })

	eb.Emit(Event{Type: EventDeviceBound, Data: DeviceData{IEEE: sonoffIEEE}})
	unsubTyped()
	unsubAll()
	eb.Emit(Event{Type: EventDeviceBound, Data: DeviceData{IEEE: sonoffIEEE}})

	if typed.Load() != 1 || all.Load() != 1 {
		t.Errorf("calls after unsubscribe: typed=%d all=%d, want 1 each", typed.Load(), all.Load())
	}
}

func TestEventBusRecoversHandlerPanic(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var called atomic.Int32
	eb.On(EventCommand, func(Event) {
		called.Add(1)
		panic("handler failed")
	})
	eb.On(EventCommand, func(Event) { called.Add(1) })

	eb.Emit(Event{Type: EventCommand, Data: CommandData{IEEE: dimmerIEEE}})

	if c := called.Load(); c != 2 {
		t.Errorf("handlers called = %d, want 2", c)
	}
}

func TestEventBusConcurrentEmit(t *testing.T) {
	eb := NewEventBus(newTestLogger())
	var count atomic.Int32
	eb.OnAll(func(Event) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(level int) {
			defer wg.Done()
			eb.Emit(Event{Type: EventAttributeReport, Data: ReportData{IEEE: dimmerIEEE, Value: uint8(level)}})
		}(i)
	}
	wg.Wait()

	if count.Load() != 100 {
		t.Errorf("got %d, want 100", count.Load())
	}
}

func TestEventPayloadJSON(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			"synthetic report",
			Event{Type: EventSyntheticReport, Data: ReportData{IEEE: ptvoIEEE, Endpoint: 3, ClusterID: 2, Cluster: "device_temperature", AttrID: 0, AttrName: "current_temperature", Value: int16(2350)}},
			`{"type":"synthetic_report","data":{"ieee":"00124B0018ED0002","endpoint":3,"cluster_id":2,"cluster":"device_temperature","attr_id":0,"attr_name":"current_temperature","value":2350}}`,
		},
		{
			"side effect failure",
			Event{Type: EventSideEffectError, Data: FailureData{IEEE: dimmerIEEE, Endpoint: 1, ClusterID: 6, CommandID: 1, Error: "timeout"}},
			`{"type":"side_effect_error","data":{"ieee":"00124B0018ED0001","endpoint":1,"cluster_id":6,"command_id":1,"error":"timeout"}}`,
		},
		{
			"device left",
			Event{Type: EventDeviceLeft, Data: DeviceData{IEEE: sonoffIEEE}},
			`{"type":"device_left","data":{"ieee":"00124B0018ED0003"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("json = %s\nwant   %s", got, tt.want)
			}
		})
	}
}
