// Package transport defines how clusters reach real devices.
// Backend: a raw-ZCL radio gateway reached over MQTT.
package transport

import (
	"context"
	"errors"
	"fmt"

	"zigbee-quirks/internal/zcl"
)

var (
	// ErrTimeout is returned when the gateway does not answer in time.
	ErrTimeout = errors.New("transport: response timeout")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
)

// Transport is the wire side of a cluster: everything a cluster forwards
// ends up here, and everything a device reports arrives through the
// registered handlers.
type Transport interface {
	// ZCL
	SendCommand(ctx context.Context, req CommandRequest) (*zcl.DefaultResponse, error)
	WriteAttributes(ctx context.Context, req WriteAttributesRequest) ([]zcl.WriteStatus, error)
	ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]zcl.ReadRecord, error)

	// Indication callbacks
	OnDeviceAnnounce(handler func(DeviceAnnounceEvent))
	OnDeviceLeft(handler func(DeviceLeftEvent))
	OnAttributeReport(handler func(AttributeReportEvent))

	// Lifecycle
	Close() error
}

// Address identifies one cluster on one endpoint of a device.
type Address struct {
	IEEE     string `json:"ieee"`
	Endpoint uint8  `json:"endpoint"`
	Cluster  uint16 `json:"cluster"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s/%d/0x%04X", a.IEEE, a.Endpoint, a.Cluster)
}

// CommandRequest sends a cluster-specific command.
type CommandRequest struct {
	Address
	CommandID    uint8
	Manufacturer uint16
	TSN          uint8 // 0 lets the transport allocate one
	ExpectReply  bool
	Payload      []byte
}

// WriteRecord is a single attribute write.
type WriteRecord struct {
	AttrID   uint16
	DataType uint8
	Value    []byte
}

// WriteAttributesRequest specifies attributes to write.
type WriteAttributesRequest struct {
	Address
	Manufacturer uint16
	Records      []WriteRecord
}

// ReadAttributesRequest specifies which attributes to read.
type ReadAttributesRequest struct {
	Address
	Manufacturer uint16
	AttrIDs      []uint16
}

// SimpleDescriptor describes an endpoint.
type SimpleDescriptor struct {
	Endpoint    uint8    `json:"endpoint"`
	ProfileID   uint16   `json:"profile_id"`
	DeviceType  uint16   `json:"device_type"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// DeviceAnnounceEvent is emitted once the gateway has interviewed a device.
type DeviceAnnounceEvent struct {
	IEEE         string             `json:"ieee"`
	Manufacturer string             `json:"manufacturer"`
	Model        string             `json:"model"`
	Endpoints    []SimpleDescriptor `json:"endpoints"`
}

// DeviceLeftEvent is emitted when a device leaves.
type DeviceLeftEvent struct {
	IEEE string `json:"ieee"`
}

// AttributeReportEvent is emitted for unsolicited attribute reports.
type AttributeReportEvent struct {
	Address
	Manufacturer uint16
	AttrID       uint16
	DataType     uint8
	Value        []byte
	LQI          uint8
}
