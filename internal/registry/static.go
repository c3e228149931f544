package registry

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// Static is an in-memory registry, typically loaded from a YAML device list.
type Static struct {
	mu      sync.RWMutex
	devices map[string]Device
}

type staticFile struct {
	Devices []Device `yaml:"devices"`
}

// NewStatic creates a registry holding the given devices.
func NewStatic(devices ...Device) *Static {
	s := &Static{devices: make(map[string]Device, len(devices))}
	for _, d := range devices {
		s.devices[d.ID] = d
	}
	return s
}

// LoadStatic reads a YAML file of the form:
//
//	devices:
//	  - id: scanner-1
//	    location_id: "1"
//	    area_id: Lobby
//	    approved: true
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading devices file: %w", err)
	}
	return ParseStatic(data)
}

// ParseStatic decodes a YAML device list.
func ParseStatic(data []byte) (*Static, error) {
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing devices file: %w", err)
	}
	for i, d := range f.Devices {
		if d.ID == "" {
			return nil, fmt.Errorf("device #%d has no id", i+1)
		}
	}
	return NewStatic(f.Devices...), nil
}

// Put adds or replaces a device.
func (s *Static) Put(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d
}

// Revoke marks a device revoked.
func (s *Static) Revoke(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		d.Revoked = true
		s.devices[deviceID] = d
	}
}

// Len returns the number of known devices.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Devices returns every known device ordered by id.
func (s *Static) Devices() []Device {
	s.mu.RLock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Device) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// IsDeviceApproved implements Registry.
func (s *Static) IsDeviceApproved(_ context.Context, deviceID, locationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	return ok && d.Allows(locationID), nil
}

// DeviceArea implements Registry.
func (s *Static) DeviceArea(_ context.Context, deviceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return "", ErrDeviceNotFound
	}
	return d.AreaID, nil
}

// DeviceType implements TypeResolver.
func (s *Static) DeviceType(_ context.Context, deviceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return "", ErrDeviceNotFound
	}
	return d.DeviceType, nil
}
