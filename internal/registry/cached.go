package registry

import (
	"context"
	"sync"
	"time"
)

// Cached fronts a Registry with a TTL cache. Scanners submit every few seconds, so without it
// every detection would cost a database round-trip.
//
// Errors are never cached. A revocation becomes effective after at most one TTL.
type Cached struct {
	next Registry
	ttl  time.Duration
	now  func() time.Time

	mu        sync.RWMutex
	approvals map[approvalKey]cachedApproval
	areas     map[string]cachedValue
	types     map[string]cachedValue
}

type approvalKey struct {
	deviceID   string
	locationID string
}

type cachedApproval struct {
	approved  bool
	expiresAt time.Time
}

type cachedValue struct {
	value     string
	expiresAt time.Time
}

// NewCached wraps next. A non-positive ttl disables caching.
func NewCached(next Registry, ttl time.Duration) *Cached {
	return &Cached{
		next:      next,
		ttl:       ttl,
		now:       time.Now,
		approvals: make(map[approvalKey]cachedApproval),
		areas:     make(map[string]cachedValue),
		types:     make(map[string]cachedValue),
	}
}

// IsDeviceApproved implements Registry.
func (c *Cached) IsDeviceApproved(ctx context.Context, deviceID, locationID string) (bool, error) {
	if c.ttl <= 0 {
		return c.next.IsDeviceApproved(ctx, deviceID, locationID)
	}
	key := approvalKey{deviceID: deviceID, locationID: locationID}
	now := c.now()

	c.mu.RLock()
	entry, ok := c.approvals[key]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.approved, nil
	}

	approved, err := c.next.IsDeviceApproved(ctx, deviceID, locationID)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.approvals[key] = cachedApproval{approved: approved, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return approved, nil
}

// DeviceArea implements Registry.
func (c *Cached) DeviceArea(ctx context.Context, deviceID string) (string, error) {
	return c.lookup(ctx, c.areas, deviceID, c.next.DeviceArea)
}

// DeviceType implements TypeResolver. It returns "" when the wrapped registry has no types.
func (c *Cached) DeviceType(ctx context.Context, deviceID string) (string, error) {
	resolver, ok := c.next.(TypeResolver)
	if !ok {
		return "", nil
	}
	return c.lookup(ctx, c.types, deviceID, resolver.DeviceType)
}

func (c *Cached) lookup(ctx context.Context, cache map[string]cachedValue, deviceID string,
	fetch func(context.Context, string) (string, error)) (string, error) {
	if c.ttl <= 0 {
		return fetch(ctx, deviceID)
	}
	now := c.now()

	c.mu.RLock()
	entry, ok := cache[deviceID]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.value, nil
	}

	value, err := fetch(ctx, deviceID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	cache[deviceID] = cachedValue{value: value, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops every cached entry for a device.
func (c *Cached) Invalidate(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.areas, deviceID)
	delete(c.types, deviceID)
	for key := range c.approvals {
		if key.deviceID == deviceID {
			delete(c.approvals, key)
		}
	}
}
