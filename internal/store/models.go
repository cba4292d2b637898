package store

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Device is a bound device as persisted between restarts.
type Device struct {
	IEEEAddress  string     `json:"ieee_address"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Model        string     `json:"model,omitempty"`
	Quirk        string     `json:"quirk,omitempty"`
	Endpoints    []Endpoint `json:"endpoints,omitempty"`
	JoinedAt     time.Time  `json:"joined_at"`
	LastSeen     time.Time  `json:"last_seen"`
	LQI          uint8      `json:"lqi,omitempty"`
}

// Endpoint is the simple descriptor the device announced, before quirks.
type Endpoint struct {
	ID          uint8    `json:"id"`
	ProfileID   uint16   `json:"profile_id"`
	DeviceID    uint16   `json:"device_id"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// AttrKey addresses one cached attribute of a device.
type AttrKey struct {
	Endpoint uint8
	Cluster  uint16
	Attr     uint16
}

func (k AttrKey) String() string {
	return fmt.Sprintf("%d/0x%04X/0x%04X", k.Endpoint, k.Cluster, k.Attr)
}

func (k AttrKey) bytes() []byte {
	b := make([]byte, 5)
	b[0] = k.Endpoint
	binary.BigEndian.PutUint16(b[1:], k.Cluster)
	binary.BigEndian.PutUint16(b[3:], k.Attr)
	return b
}

func parseAttrKey(b []byte) (AttrKey, error) {
	if len(b) != 5 {
		return AttrKey{}, fmt.Errorf("attribute key: want 5 bytes, got %d", len(b))
	}
	return AttrKey{
		Endpoint: b[0],
		Cluster:  binary.BigEndian.Uint16(b[1:]),
		Attr:     binary.BigEndian.Uint16(b[3:]),
	}, nil
}

// AttributeValue is a cached attribute in its ZCL wire encoding, so the
// original data type survives a restart.
type AttributeValue struct {
	Type      uint8     `json:"type"`
	Data      string    `json:"data"` // hex
	Synthetic bool      `json:"synthetic,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
