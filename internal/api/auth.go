package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"tasksync/internal/config"
)

// Permissions a client key may be restricted to.
const (
	PermWriteTriggers = "write:triggers"
	PermReadQueue     = "read:queue"
	PermWriteQueue    = "write:queue"
)

var (
	errMissingCredentials = errors.New("missing api key headers")
	errInvalidAPIKey      = errors.New("invalid api key")
	errInvalidExtra       = errors.New("invalid extra header")
	errPermissionDenied   = errors.New("permission denied")
)

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, limiter: newRateLimiter(cfg.RateLimit)}
}

// Wrap guards next. Health and metrics endpoints stay open for probes.
func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isProbePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, r, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) headers() (apiKeyHeader, extraHeader string) {
	apiKeyHeader = strings.TrimSpace(a.cfg.Auth.HeaderAPIKey)
	if apiKeyHeader == "" {
		apiKeyHeader = "x-api-key"
	}
	extraHeader = strings.TrimSpace(a.cfg.Auth.HeaderExtra)
	if extraHeader == "" {
		extraHeader = "x-api-extra"
	}
	return apiKeyHeader, extraHeader
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKeyHeader, extraHeader := a.headers()

	apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	extra := strings.TrimSpace(r.Header.Get(extraHeader))
	if apiKey == "" || extra == "" {
		return errMissingCredentials
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidExtra
	}

	return checkPermissions(client, r)
}

// checkPermissions: пустой список прав означает полный доступ
func checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermission(r)
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/triggers/"):
		return PermWriteTriggers
	case strings.HasPrefix(path, "/api/v1/queue") && r.Method == http.MethodGet:
		return PermReadQueue
	case strings.HasPrefix(path, "/api/v1/queue"):
		return PermWriteQueue
	}
	return ""
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	apiKeyHeader, _ := a.headers()
	if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func isProbePath(path string) bool {
	return path == "/healthz" || path == "/metrics"
}
