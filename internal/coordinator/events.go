package coordinator

import (
	"log/slog"
	"sync"
)

// Event types
const (
	EventDeviceBound     = "device_bound"
	EventDeviceLeft      = "device_left"
	EventAttributeReport = "attribute_report"
	EventSyntheticReport = "synthetic_report"
	EventCommand         = "command"
	EventSideEffectError = "side_effect_error"
)

// Event represents a coordinator event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ReportData is the payload of attribute_report and synthetic_report events.
type ReportData struct {
	IEEE      string `json:"ieee"`
	Endpoint  uint8  `json:"endpoint"`
	ClusterID uint16 `json:"cluster_id"`
	Cluster   string `json:"cluster"`
	AttrID    uint16 `json:"attr_id"`
	AttrName  string `json:"attr_name,omitempty"`
	Value     any    `json:"value"`
}

// CommandData is the payload of command events.
type CommandData struct {
	IEEE      string `json:"ieee"`
	Endpoint  uint8  `json:"endpoint"`
	ClusterID uint16 `json:"cluster_id"`
	CommandID uint8  `json:"command_id"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DeviceData is the payload of device_bound and device_left events.
type DeviceData struct {
	IEEE         string `json:"ieee"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Quirk        string `json:"quirk,omitempty"`
}

// FailureData is the payload of side_effect_error events.
type FailureData struct {
	IEEE      string `json:"ieee"`
	Endpoint  uint8  `json:"endpoint"`
	ClusterID uint16 `json:"cluster_id"`
	CommandID uint8  `json:"command_id"`
	Error     string `json:"error"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for coordinator events.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit sends an event to all matching handlers.
// Handlers are called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
