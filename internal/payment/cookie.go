// Package payment covers the one-time unlock flow: the access cookie that
// grants unlimited generation, checkout session creation against the payment
// provider, and the provider's signed webhook.
package payment

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
)

// CookiePrefix marks the unlimited-access cookie. The suffix is random per
// grant; presence of any cookie with this prefix is the whole access check.
const CookiePrefix = "sintgpt-"

// AccessCookieMaxAge is one year, in seconds.
const AccessCookieMaxAge = 60 * 60 * 24 * 365

// HasUnlimitedAccess reports whether any request cookie name carries the
// access prefix.
func HasUnlimitedAccess(r *http.Request) bool {
	for _, cookie := range r.Cookies() {
		if strings.HasPrefix(cookie.Name, CookiePrefix) {
			return true
		}
	}
	return false
}

// NewAccessCookieName generates a fresh randomly-suffixed cookie name.
func NewAccessCookieName() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("payment: generate cookie name: %w", err)
	}
	return fmt.Sprintf("%s%x", CookiePrefix, b), nil
}
