// kapchan/utils/security.go
package utils

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"kapchan/config"
)

// GetIPAddress extracts the real IP address from a request, trusting
// proxy headers in precedence order.
func GetIPAddress(r *http.Request) string {
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		return cf
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// SessionCodec signs and parses the kapchan-session cookie. The cookie
// value is an HS256 token whose subject is the numeric user id.
type SessionCodec struct {
	secret []byte
}

// NewSessionCodec decodes the base64 cookie secret from the environment.
func NewSessionCodec(b64secret string) (*SessionCodec, error) {
	secret, err := base64.StdEncoding.DecodeString(b64secret)
	if err != nil {
		return nil, fmt.Errorf("cookie secret is not valid base64: %w", err)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("cookie secret must be at least 32 bytes, got %d", len(secret))
	}
	return &SessionCodec{secret: secret}, nil
}

// Issue creates a signed session token for the given user id.
func (c *SessionCodec) Issue(userID int64) (string, error) {
	now := GetTime()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(config.SessionTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Parse validates a session token and returns the user id it carries.
func (c *SessionCodec) Parse(tokenStr string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return 0, fmt.Errorf("session token has no subject")
	}
	return strconv.ParseInt(claims.Subject, 10, 64)
}

// SessionCookie builds the cookie carrying a signed session token.
func SessionCookie(value string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     config.SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  GetTime().Add(config.SessionTTL),
		MaxAge:   int(config.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}
