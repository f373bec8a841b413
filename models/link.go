package models

import (
	"time"
)

// DeviceLinkState represents the observed ingestion-side health of a device
type DeviceLinkState string

const (
	LinkOnline DeviceLinkState = "online"
	LinkSilent DeviceLinkState = "silent"
)

// DeviceLink tracks when a device last delivered a message over the
// ingestion channel. It drives device_status snapshots on transitions.
type DeviceLink struct {
	DeviceID string
	LastSeen time.Time
	State    DeviceLinkState
	SilentAt time.Time // when the device went silent (if applicable)
}
