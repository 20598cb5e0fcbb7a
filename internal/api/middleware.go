package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/log"
)

type tenantCtxKey struct{}

// tenantFrom extracts the authenticated tenant from the request context.
func tenantFrom(ctx context.Context) (model.TenantID, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(model.TenantID)
	return t, ok
}

// requestID assigns every request a correlation ID, echoed in the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := log.ContextWithRequestID(r.Context(), id)
		logger := log.WithContext(ctx, log.Base())
		ctx = logger.WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger emits one structured line per completed request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.FromContext(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// tenantClaims is the expected JWT payload.
type tenantClaims struct {
	Tenant int64 `json:"tenant"`
	jwt.RegisteredClaims
}

// authenticate resolves the caller's tenant. With auth disabled the tenant
// comes from the X-Tenant-ID header, defaulting to 1 for local development.
// Otherwise a Bearer token signed with the shared HS256 secret is required.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.resolveTenant(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}

		ctx := context.WithValue(r.Context(), tenantCtxKey{}, tenant)
		ctx = log.ContextWithTenantID(ctx, strconv.FormatInt(int64(tenant), 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) resolveTenant(r *http.Request) (model.TenantID, error) {
	if s.cfg.AuthDisabled {
		raw := r.Header.Get("X-Tenant-ID")
		if raw == "" {
			return 1, nil
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid X-Tenant-ID header")
		}
		return model.TenantID(id), nil
	}

	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return 0, fmt.Errorf("missing bearer token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.cfg.AuthIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.AuthIssuer))
	}

	var claims tenantClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.AuthSecret), nil
	}, opts...)
	if err != nil {
		return 0, fmt.Errorf("invalid token")
	}
	if claims.Tenant <= 0 {
		return 0, fmt.Errorf("token carries no tenant")
	}
	return model.TenantID(claims.Tenant), nil
}

// rateKey buckets rate limiting per tenant, falling back to the remote
// address before authentication resolved one.
func rateKey(r *http.Request) (string, error) {
	if t, ok := tenantFrom(r.Context()); ok {
		return strconv.FormatInt(int64(t), 10), nil
	}
	return r.RemoteAddr, nil
}
