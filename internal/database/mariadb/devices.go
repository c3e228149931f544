package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/presence-hub/internal/registry"
)

// Device status values used by the provisioning subsystem.
const (
	statusApproved = "approved"
	statusRevoked  = "revoked"
)

// DeviceRepository implements registry.Registry as a read-only view of the provisioning
// subsystem's scanner_devices table. Approval and revocation are owned by that subsystem.
type DeviceRepository struct {
	pool *Pool
}

// NewDeviceRepository creates a repository over pool.
func NewDeviceRepository(pool *Pool) *DeviceRepository {
	return &DeviceRepository{pool: pool}
}

// IsDeviceApproved implements registry.Registry.
func (r *DeviceRepository) IsDeviceApproved(ctx context.Context, deviceID, locationID string) (bool, error) {
	var status string
	err := r.pool.db.QueryRowContext(ctx,
		`SELECT status FROM scanner_devices WHERE device_uid = ? AND location_id = ?`,
		deviceID, locationID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check device approval: %w", err)
	}
	return status == statusApproved, nil
}

// DeviceArea implements registry.Registry. A NULL area means the device is unassigned.
func (r *DeviceRepository) DeviceArea(ctx context.Context, deviceID string) (string, error) {
	var area sql.NullString
	err := r.pool.db.QueryRowContext(ctx,
		`SELECT area_name FROM scanner_devices WHERE device_uid = ?`, deviceID).Scan(&area)
	if errors.Is(err, sql.ErrNoRows) {
		return "", registry.ErrDeviceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get device area: %w", err)
	}
	return area.String, nil
}

// DeviceType implements registry.TypeResolver.
func (r *DeviceRepository) DeviceType(ctx context.Context, deviceID string) (string, error) {
	var deviceType string
	err := r.pool.db.QueryRowContext(ctx,
		`SELECT device_type FROM scanner_devices WHERE device_uid = ?`, deviceID).Scan(&deviceType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", registry.ErrDeviceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get device type: %w", err)
	}
	return deviceType, nil
}

// Get returns a device record.
func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (registry.Device, error) {
	var (
		d      registry.Device
		area   sql.NullString
		status string
	)
	err := r.pool.db.QueryRowContext(ctx,
		`SELECT device_uid, location_id, area_name, device_type, status FROM scanner_devices WHERE device_uid = ?`,
		deviceID).Scan(&d.ID, &d.LocationID, &area, &d.DeviceType, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Device{}, registry.ErrDeviceNotFound
	}
	if err != nil {
		return registry.Device{}, fmt.Errorf("get device: %w", err)
	}
	d.AreaID = area.String
	d.Approved = status == statusApproved
	d.Revoked = status == statusRevoked
	return d, nil
}

var (
	_ registry.Registry     = (*DeviceRepository)(nil)
	_ registry.TypeResolver = (*DeviceRepository)(nil)
)
