package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/kozaktomas/presence-hub/internal/auth"
)

type contextKey string

const deviceContextKey contextKey = "device"

// RequireDevice is middleware that requires a valid device bearer token. When cfg has no
// secret the middleware is a pass-through and handlers take identities from the request body.
func RequireDevice(cfg auth.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := auth.Parse(auth.BearerToken(r.Header.Get("Authorization")), cfg)
			if err != nil {
				msg := "invalid device token"
				if errors.Is(err, auth.ErrMissingToken) {
					msg = "missing device token"
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="presence-hub"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
				return
			}

			ctx := context.WithValue(r.Context(), deviceContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDeviceFromContext retrieves the authenticated device from the request context.
func GetDeviceFromContext(ctx context.Context) *auth.DeviceClaims {
	claims, ok := ctx.Value(deviceContextKey).(*auth.DeviceClaims)
	if !ok {
		return nil
	}
	return claims
}

// SetDeviceInContext adds device claims to the context.
// This is primarily for testing - use RequireDevice middleware in production.
func SetDeviceInContext(ctx context.Context, claims *auth.DeviceClaims) context.Context {
	return context.WithValue(ctx, deviceContextKey, claims)
}
