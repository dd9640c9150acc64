// kapchan/handlers/middleware.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"kapchan/config"
	"kapchan/models"
	"kapchan/utils"
)

type contextKey string

// UserDataKey carries the resolved *models.UserData on every request.
const UserDataKey contextKey = "userData"

// RequestLogger tags each request with an id and emits one structured
// line when it completes.
func RequestLogger(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			w.Header().Set("X-Request-Id", requestID)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			app.Logger().Info("Request handled",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"ip", utils.GetIPAddress(r),
			)
		})
	}
}

// ResolveIdentity binds every request to a user row. A valid session
// cookie resolves to its user; anything else mints a fresh anonymous
// user and sets the cookie. A valid cookie whose user row is gone is a
// hard 404, not a silent re-anonymization.
func ResolveIdentity(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.GetIPAddress(r)

			var user *models.User
			if cookie, err := r.Cookie(config.SessionCookieName); err == nil {
				if userID, perr := app.Sessions().Parse(cookie.Value); perr == nil {
					user, err = app.DB().GetUser(userID)
					if err != nil {
						if errors.Is(err, models.ErrNotFound) {
							respondJSON(w, http.StatusNotFound, map[string]string{"error": "session user no longer exists"}, app)
							return
						}
						app.Logger().Error("Failed to load session user", "user_id", userID, "error", err)
						respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error."}, app)
						return
					}
				}
			}

			if user == nil {
				created, err := app.DB().CreateAnonymousUser()
				if err != nil {
					app.Logger().Error("Failed to create anonymous user", "error", err)
					respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error."}, app)
					return
				}
				token, err := app.Sessions().Issue(created.ID)
				if err != nil {
					app.Logger().Error("Failed to issue session token", "error", err)
					respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error."}, app)
					return
				}
				http.SetCookie(w, utils.SessionCookie(token, requestIsSecure(r)))
				user = created
			}

			ban, err := app.DB().ActiveBan(user.ID, ip)
			if err != nil {
				app.Logger().Error("Failed to check bans", "user_id", user.ID, "error", err)
				respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error."}, app)
				return
			}

			data := &models.UserData{
				ID:          user.ID,
				AccessLevel: user.AccessLevel,
				Username:    user.Username,
				IP:          ip,
				UserAgent:   r.UserAgent(),
				Banned:      ban,
			}
			ctx := context.WithValue(r.Context(), UserDataKey, data)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccess gates a subtree behind a minimum access level.
func RequireAccess(app App, level models.AccessLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userData(r)
			if user == nil || user.AccessLevel < level {
				respondJSON(w, http.StatusForbidden, map[string]string{"error": "insufficient access level"}, app)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit throttles a handler per client IP.
func RateLimit(app App, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !app.RateLimiter().Allow(utils.GetIPAddress(r)) {
			respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Liian monta pyyntöä. Odota hetki."}, app)
			return
		}
		next(w, r)
	}
}

func requestIsSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
