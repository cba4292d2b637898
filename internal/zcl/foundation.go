package zcl

import "fmt"

// Foundation ZCL command IDs (global, not cluster-specific).
const (
	FoundationReadAttributes         uint8 = 0x00
	FoundationReadAttributesResponse uint8 = 0x01
	FoundationWriteAttributes        uint8 = 0x02
	FoundationWriteAttributesResp    uint8 = 0x04
	FoundationConfigReporting        uint8 = 0x06
	FoundationConfigReportingResp    uint8 = 0x07
	FoundationReportAttributes       uint8 = 0x0A
	FoundationDefaultResponse        uint8 = 0x0B
)

// Status is a ZCL status code.
type Status uint8

const (
	StatusSuccess         Status = 0x00
	StatusFailure         Status = 0x01
	StatusUnsupCommand    Status = 0x81
	StatusUnsupAttribute  Status = 0x86
	StatusInvalidValue    Status = 0x87
	StatusReadOnly        Status = 0x88
	StatusNotFound        Status = 0x8B
	StatusUnreportable    Status = 0x8C
	StatusInvalidDataType Status = 0x8D
	StatusTimeout         Status = 0x94
)

var statusNames = map[Status]string{
	StatusSuccess:         "SUCCESS",
	StatusFailure:         "FAILURE",
	StatusUnsupCommand:    "UNSUP_COMMAND",
	StatusUnsupAttribute:  "UNSUPPORTED_ATTRIBUTE",
	StatusInvalidValue:    "INVALID_VALUE",
	StatusReadOnly:        "READ_ONLY",
	StatusNotFound:        "NOT_FOUND",
	StatusUnreportable:    "UNREPORTABLE_ATTRIBUTE",
	StatusInvalidDataType: "INVALID_DATA_TYPE",
	StatusTimeout:         "TIMEOUT",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS_0x%02X", uint8(s))
}

// DefaultResponse is the generic foundation reply to a cluster command.
type DefaultResponse struct {
	CommandID uint8  `json:"command_id"`
	Status    Status `json:"status"`
}

// WriteStatus is the per-attribute result of a write.
type WriteStatus struct {
	AttrID uint16 `json:"attr_id"`
	Status Status `json:"status"`
}

// ReadRecord is the per-attribute result of a read.
type ReadRecord struct {
	AttrID   uint16 `json:"attr_id"`
	Status   Status `json:"status"`
	DataType uint8  `json:"data_type,omitempty"`
	Value    any    `json:"value,omitempty"`
}
