package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication. Login still resolves a tenant because
// it looks workers up in the clinic schema.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/api/v1/auth/login": true,
}

// infraPaths bypass tenant resolution as well.
var infraPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// AuthSkipper matches on the registered route path so path parameters and
// query strings cannot widen the public set.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// TenantSkipper reports requests that need no clinic schema.
func TenantSkipper(c echo.Context) bool {
	return infraPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
