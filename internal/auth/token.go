// Package auth issues and verifies device credentials.
//
// A device token is an HS256 JWT whose subject is the device id and whose location_id claim
// binds the device to one location. The token only proves identity; whether the device is
// still approved is decided by the device registry on every detection.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when no bearer token was presented.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing and validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// Config holds signing and verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// Enabled reports whether a signing secret is configured.
func (c Config) Enabled() bool {
	return c.Secret != ""
}

// DeviceClaims identifies the device presenting a token.
type DeviceClaims struct {
	DeviceID   string
	LocationID string
	ExpiresAt  time.Time
}

type tokenClaims struct {
	LocationID string `json:"location_id"`
	jwt.RegisteredClaims
}

// Parse validates a device token and returns its claims.
func Parse(token string, cfg Config) (*DeviceClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.LocationID == "" {
		return nil, ErrInvalidToken
	}

	out := &DeviceClaims{
		DeviceID:   claims.Subject,
		LocationID: claims.LocationID,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Issue signs a token for a device. A zero ttl produces a token without expiry.
func Issue(cfg Config, deviceID, locationID string, ttl time.Duration, now time.Time) (string, error) {
	if !cfg.Enabled() {
		return "", errors.New("token secret is not configured")
	}
	if deviceID == "" || locationID == "" {
		return "", errors.New("device and location are required")
	}

	claims := tokenClaims{
		LocationID: locationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  deviceID,
			Issuer:   cfg.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
