package app

import (
	"crypto/sha256"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"golang.org/x/crypto/bcrypt"

	"github.com/scaffold-rental/rental-admin/internal/observability"
	"github.com/scaffold-rental/rental-admin/internal/platform/httpx"
	"github.com/scaffold-rental/rental-admin/internal/shared"
)

const (
	apiKeyHeader = "X-API-Key"
	actorHeader  = "X-Actor"
	maxActorLen  = 120
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the global middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !cfg.Config.IsProduction(),
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	limit := 120
	if cfg.Config != nil && cfg.Config.RateLimit > 0 {
		limit = cfg.Config.RateLimit
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// APIKeyAuth rejects requests whose X-API-Key does not match the bcrypt hash. An empty
// hash disables the check outside production. The X-Actor header, when present, names the
// caller in audit records.
func APIKeyAuth(hash string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	verifier := &keyVerifier{hash: []byte(hash)}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(verifier.hash) > 0 {
				key := r.Header.Get(apiKeyHeader)
				if key == "" || !verifier.verify(key) {
					logger.Warn("rejected api key", slog.String("path", r.URL.Path), slog.String("remote", r.RemoteAddr))
					httpx.RespondError(w, httpx.ErrUnauthorized)
					return
				}
			}
			actor := strings.TrimSpace(r.Header.Get(actorHeader))
			if len(actor) > maxActorLen {
				actor = actor[:maxActorLen]
			}
			if actor == "" {
				actor = "api"
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}

// keyVerifier memoises accepted keys by digest so bcrypt runs once per distinct key.
type keyVerifier struct {
	hash     []byte
	accepted sync.Map
}

func (v *keyVerifier) verify(key string) bool {
	digest := sha256.Sum256([]byte(key))
	if _, ok := v.accepted.Load(digest); ok {
		return true
	}
	if bcrypt.CompareHashAndPassword(v.hash, []byte(key)) != nil {
		return false
	}
	v.accepted.Store(digest, struct{}{})
	return true
}
