package http

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/sha3"
)

type ContextKey string

const AuthenticatedUserContextKey = ContextKey("authenticatedUser")

// AuthenticatedUser is the caller of the client API.
type AuthenticatedUser struct {
	ID       string
	Username string
}

func userFromContext(ctx context.Context) (*AuthenticatedUser, bool) {
	u, ok := ctx.Value(AuthenticatedUserContextKey).(*AuthenticatedUser)
	return u, ok && u != nil
}

// HashAPIKey returns the stored form of a shared key: base64url(sha3-256(key)).
func HashAPIKey(plainTextKey string) string {
	hash := sha3.Sum256([]byte(plainTextKey))
	return base64.URLEncoding.EncodeToString(hash[:])
}

// APIKeyMiddleware admits requests whose X-API-Key hashes to expectedHash.
// An empty expectedHash rejects everything.
func APIKeyMiddleware(expectedHash string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" || expectedHash == "" {
				logger.WarnContext(r.Context(), "Webhook API key missing or not configured", "request_id", chi_middleware.GetReqID(r.Context()))
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(HashAPIKey(key)), []byte(expectedHash)) != 1 {
				logger.WarnContext(r.Context(), "Webhook API key rejected", "request_id", chi_middleware.GetReqID(r.Context()))
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var errUnexpectedSigningMethod = errors.New("unexpected signing method")

// JWTAuthMiddleware validates HS256 bearer tokens and stores the subject in the request context.
func JWTAuthMiddleware(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			scheme, tokenString, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || scheme != "Bearer" || tokenString == "" {
				logger.WarnContext(ctx, "Authorization header missing or malformed")
				writeError(w, http.StatusUnauthorized, "bearer token required")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errUnexpectedSigningMethod
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.WarnContext(ctx, "Token validation failed", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}
			userID, _ := claims["sub"].(string)
			if userID == "" {
				logger.WarnContext(ctx, "Token without subject")
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}
			username, _ := claims["unm"].(string)

			ctx = context.WithValue(ctx, AuthenticatedUserContextKey, &AuthenticatedUser{ID: userID, Username: username})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chi_middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.LogAttrs(r.Context(), slog.LevelInfo, "HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status_code", ww.Status()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", chi_middleware.GetReqID(r.Context())),
				slog.String("remote_ip", r.RemoteAddr),
			)
		}
		return http.HandlerFunc(fn)
	}
}

// PrometheusMetricsMiddleware records request counts and durations by route pattern.
func PrometheusMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chi_middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		statusCode := ww.Status()
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		httpRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(statusCode)).Inc()
	})
}
