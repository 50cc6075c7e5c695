package api

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type, x-user-jwt, x-maintenance-secret"
	corsAllowMethods = "GET, POST, OPTIONS"
)

// CORS echoes the request origin when it is allowed and otherwise pins the
// first configured origin. Preflight requests end here with "ok".
func CORS(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowOrigin := resolveOrigin(origin, allowed, set); allowOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowOrigin)
		}
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Header("Access-Control-Allow-Methods", corsAllowMethods)
		c.Header("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.String(http.StatusOK, "ok")
			c.Abort()
			return
		}
		c.Next()
	}
}

func resolveOrigin(origin string, allowed []string, set map[string]struct{}) string {
	if origin != "" {
		if _, ok := set[origin]; ok {
			return origin
		}
		if isLocalOrigin(origin) {
			return origin
		}
	}
	if len(allowed) > 0 {
		return allowed[0]
	}
	return ""
}

func isLocalOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1":
		return true
	}
	return false
}
