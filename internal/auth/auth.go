// Package auth resolves admin credentials for moderation endpoints.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Admin struct {
	jwtSecret []byte
	apiKey    string
}

func NewAdmin(jwtSecret, apiKey string) *Admin {
	return &Admin{
		jwtSecret: []byte(jwtSecret),
		apiKey:    apiKey,
	}
}

// IsAdmin reports whether the request carries admin credentials: the
// X-Admin-Key header, or a Bearer token signed with the configured secret
// and carrying role=admin.
func (a *Admin) IsAdmin(r *http.Request) bool {
	if a.apiKey != "" && r.Header.Get("X-Admin-Key") == a.apiKey {
		return true
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}

	return a.validAdminToken(strings.TrimPrefix(header, "Bearer "))
}

func (a *Admin) validAdminToken(tokenStr string) bool {
	if len(a.jwtSecret) == 0 {
		return false
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}

	role, _ := claims["role"].(string)
	return role == "admin"
}

// IssueToken signs a short-lived admin token for the given subject.
func (a *Admin) IssueToken(subject string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": "admin",
		"exp":  time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth.Admin.IssueToken: %w", err)
	}
	return signed, nil
}
