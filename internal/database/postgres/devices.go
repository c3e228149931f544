package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/presence-hub/internal/registry"
)

// DeviceRepository implements registry.Registry over the devices table.
type DeviceRepository struct {
	pool *Pool
}

// NewDeviceRepository creates a new PostgreSQL device repository
func NewDeviceRepository(pool *Pool) *DeviceRepository {
	return &DeviceRepository{pool: pool}
}

// IsDeviceApproved reports whether the device is approved, not revoked, and bound to the location.
func (r *DeviceRepository) IsDeviceApproved(ctx context.Context, deviceID, locationID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM devices
			WHERE id = $1 AND location_id = $2 AND approved AND revoked_at IS NULL
		)
	`

	var ok bool
	if err := r.pool.QueryRow(ctx, query, deviceID, locationID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check device approval: %w", err)
	}
	return ok, nil
}

// DeviceArea returns the area the device is installed in.
func (r *DeviceRepository) DeviceArea(ctx context.Context, deviceID string) (string, error) {
	var area string
	err := r.pool.QueryRow(ctx, "SELECT area_id FROM devices WHERE id = $1", deviceID).Scan(&area)
	if errors.Is(err, sql.ErrNoRows) {
		return "", registry.ErrDeviceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get device area: %w", err)
	}
	return area, nil
}

// DeviceType implements registry.TypeResolver.
func (r *DeviceRepository) DeviceType(ctx context.Context, deviceID string) (string, error) {
	var deviceType string
	err := r.pool.QueryRow(ctx, "SELECT device_type FROM devices WHERE id = $1", deviceID).Scan(&deviceType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", registry.ErrDeviceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get device type: %w", err)
	}
	return deviceType, nil
}

// Save inserts or updates a device.
func (r *DeviceRepository) Save(ctx context.Context, d registry.Device) error {
	query := `
		INSERT INTO devices (id, location_id, area_id, device_type, approved, revoked_at)
		VALUES ($1, $2, $3, $4, $5, CASE WHEN $6 THEN NOW() END)
		ON CONFLICT (id) DO UPDATE SET
			location_id = EXCLUDED.location_id,
			area_id = EXCLUDED.area_id,
			device_type = EXCLUDED.device_type,
			approved = EXCLUDED.approved,
			revoked_at = EXCLUDED.revoked_at,
			updated_at = NOW()
	`

	deviceType := d.DeviceType
	if deviceType == "" {
		deviceType = "scanner"
	}
	if _, err := r.pool.Exec(ctx, query, d.ID, d.LocationID, d.AreaID, deviceType, d.Approved, d.Revoked); err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	return nil
}

// Revoke marks a device revoked. Revoking an unknown device returns registry.ErrDeviceNotFound.
func (r *DeviceRepository) Revoke(ctx context.Context, deviceID string) error {
	res, err := r.pool.Exec(ctx,
		"UPDATE devices SET revoked_at = NOW(), updated_at = NOW() WHERE id = $1 AND revoked_at IS NULL",
		deviceID)
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return registry.ErrDeviceNotFound
	}
	return nil
}

// ListByLocation returns the devices of a location ordered by id.
func (r *DeviceRepository) ListByLocation(ctx context.Context, locationID string) ([]registry.Device, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, location_id, area_id, device_type, approved, revoked_at IS NOT NULL
		FROM devices
		WHERE location_id = $1
		ORDER BY id
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []registry.Device
	for rows.Next() {
		var d registry.Device
		if err := rows.Scan(&d.ID, &d.LocationID, &d.AreaID, &d.DeviceType, &d.Approved, &d.Revoked); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

var (
	_ registry.Registry     = (*DeviceRepository)(nil)
	_ registry.TypeResolver = (*DeviceRepository)(nil)
)
