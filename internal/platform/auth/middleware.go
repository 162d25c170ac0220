package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/ehr/availability/internal/platform/facility"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// Claims is the bearer token payload. FacilityID pins the caller to one
// facility when set.
type Claims struct {
	jwt.RegisteredClaims
	FacilityID string   `json:"facility_id"`
	Roles      []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// JWKSURL verifies RS256 tokens against a remote key set. Ignored when
	// SigningKey is set.
	JWKSURL string
	// SigningKey verifies HS256 tokens.
	SigningKey []byte
}

func (cfg JWTConfig) keyFunc() jwt.Keyfunc {
	if len(cfg.SigningKey) > 0 {
		return func(t *jwt.Token) (interface{}, error) {
			return cfg.SigningKey, nil
		}
	}
	return jwksKeyFunc(NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL))
}

func (cfg JWTConfig) parserOptions() []jwt.ParserOption {
	method := "RS256"
	if len(cfg.SigningKey) > 0 {
		method = "HS256"
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{method})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return opts
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	keyFunc := cfg.keyFunc()
	opts := cfg.parserOptions()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			// Picked up by the facility middleware.
			c.Set(facility.ClaimKey, claims.FacilityID)

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, UserRolesKey, claims.Roles)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as an admin. A
// request that does carry a bearer token is verified with cfg so role
// restrictions can still be exercised locally.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	strict := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := strict(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" && len(cfg.SigningKey) > 0 {
				return verified(c)
			}
			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, "dev-user")
			ctx = context.WithValue(ctx, UserRolesKey, []string{"admin"})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
