// Package registry answers the two questions ingestion asks about a scanner device: is it
// approved for a location, and which area of that location is it assigned to.
//
// Device provisioning lives elsewhere; this package only reads.
package registry

import (
	"context"
	"errors"
)

// ErrDeviceNotFound is returned by DeviceArea for unknown devices.
var ErrDeviceNotFound = errors.New("device not found")

// Registry is the device registry collaborator consulted before every store mutation.
type Registry interface {
	// IsDeviceApproved reports whether the device is approved, not revoked, and bound to the
	// location.
	IsDeviceApproved(ctx context.Context, deviceID, locationID string) (bool, error)
	// DeviceArea returns the device's assigned area, or "" when it has none.
	DeviceArea(ctx context.Context, deviceID string) (string, error)
}

// TypeResolver is implemented by registries that record a device type. Ingestion uses it to
// apply device-type presence timeouts; registries without it leave the type empty.
type TypeResolver interface {
	DeviceType(ctx context.Context, deviceID string) (string, error)
}

// Device is a registry record.
type Device struct {
	ID         string `yaml:"id" json:"id"`
	LocationID string `yaml:"location_id" json:"location_id"`
	AreaID     string `yaml:"area_id,omitempty" json:"area_id,omitempty"`
	DeviceType string `yaml:"device_type,omitempty" json:"device_type,omitempty"`
	Approved   bool   `yaml:"approved" json:"approved"`
	Revoked    bool   `yaml:"revoked,omitempty" json:"revoked,omitempty"`
}

// Allows reports whether the record authorizes detections for the location.
func (d Device) Allows(locationID string) bool {
	return d.Approved && !d.Revoked && d.LocationID == locationID
}
