package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// Claims are the worker token claims. Subject carries the worker id.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	Name     string   `json:"name,omitempty"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	// Skipper marks requests that need no token.
	Skipper func(echo.Context) bool
}

func (cfg JWTConfig) parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, err
	}
	return claims, nil
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket handshakes, so /ws also accepts an access_token query parameter.
func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get("Authorization")
	if header == "" && c.Path() == "/ws" {
		if tok := c.QueryParam("access_token"); tok != "" {
			return tok, nil
		}
	}
	if header == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func authenticate(cfg JWTConfig, c echo.Context) error {
	tokenStr, err := bearerToken(c)
	if err != nil {
		return err
	}
	claims, err := cfg.parse(tokenStr)
	if err != nil || claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	setIdentity(c, claims.Subject, claims.Roles, claims.TenantID)
	return nil
}

func setIdentity(c echo.Context, userID string, roles []string, tenantID string) {
	if tenantID != "" {
		c.Set("jwt_tenant_id", tenantID)
	}
	c.Set("user_id", userID)
	c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), userID, roles)))
}

// JWTMiddleware requires a valid HS256 bearer token on every request that
// is not skipped.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			if err := authenticate(cfg, c); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// DevAuthMiddleware grants an admin identity to requests without an
// Authorization header. Requests that send a token are still verified.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			if c.Request().Header.Get("Authorization") == "" && c.QueryParam("access_token") == "" {
				setIdentity(c, "dev-user", []string{RoleAdmin}, "")
				return next(c)
			}
			if err := authenticate(cfg, c); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// WithIdentity stores a user id and roles on ctx.
func WithIdentity(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
