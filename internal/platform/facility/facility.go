// Package facility resolves which facility a request acts on. Every
// availability operation is scoped by the facility placed on the request
// context here; it is never taken from a request body.
package facility

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const facilityIDKey contextKey = "facility_id"

// Header is the request header carrying the facility id.
const Header = "X-Facility-ID"

// ClaimKey is the echo context key the auth middleware stores the token's
// facility claim under.
const ClaimKey = "jwt_facility_id"

// Middleware resolves the facility for each request and stores it on the
// request context. defaultFacility is used when nothing else names one; pass
// uuid.Nil to require an explicit facility.
func Middleware(defaultFacility uuid.UUID) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := extractFacilityID(c)
			id := defaultFacility
			if raw != "" {
				parsed, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid facility identifier")
				}
				id = parsed
			}
			if id == uuid.Nil {
				return echo.NewHTTPError(http.StatusBadRequest, "facility context is required")
			}

			c.SetRequest(c.Request().WithContext(WithFacility(c.Request().Context(), id)))
			c.Set("facility_id", id.String())
			return next(c)
		}
	}
}

func extractFacilityID(c echo.Context) string {
	// A facility bound into the token wins over anything the caller sends.
	if fid, ok := c.Get(ClaimKey).(string); ok && fid != "" {
		return fid
	}
	if fid := strings.TrimSpace(c.Request().Header.Get(Header)); fid != "" {
		return fid
	}
	return strings.TrimSpace(c.QueryParam("facility_id"))
}

// WithFacility returns a copy of ctx scoped to the facility.
func WithFacility(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, facilityIDKey, id)
}

// FromContext returns the facility stored by Middleware.
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(facilityIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
