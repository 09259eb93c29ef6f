// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the two authentication gates of the service:
//
//   - RequireAuth guards the admin surface with an Authenticator. The
//     shipped implementation is HTTP Basic against configured credentials;
//     a stronger scheme only needs another Authenticator.
//   - SharedSecret guards the webhook routes with the secret the voice
//     platform sends in X-Webhook-Secret (or X-Webhook-Token).
//
// Both compare in constant time and answer a generic 401 that never says
// which credential was wrong.
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/callvault/internal/sysutil"
)

const (
	// HeaderWebhookSecret carries the shared webhook secret.
	HeaderWebhookSecret = "X-Webhook-Secret"
	// HeaderWebhookToken is the alternate header some platform versions use.
	HeaderWebhookToken = "X-Webhook-Token"

	ctxKeyUserID = "userID"
)

// Authenticator decides whether a request carries valid admin credentials.
// It returns the principal name on success.
type Authenticator interface {
	Authenticate(r *http.Request) (principal string, ok bool)
}

// BasicAuth authenticates HTTP Basic credentials against a single
// configured user. An empty Password rejects every request.
type BasicAuth struct {
	Username string
	Password string
	Realm    string
}

// Authenticate implements Authenticator.
func (b BasicAuth) Authenticate(r *http.Request) (string, bool) {
	if b.Password == "" {
		return "", false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", false
	}
	// Hash first so the comparison time does not depend on input length.
	uh, ph := sha256.Sum256([]byte(user)), sha256.Sum256([]byte(pass))
	wu, wp := sha256.Sum256([]byte(b.Username)), sha256.Sum256([]byte(b.Password))
	userOK := subtle.ConstantTimeCompare(uh[:], wu[:]) == 1
	passOK := subtle.ConstantTimeCompare(ph[:], wp[:]) == 1
	if !userOK || !passOK {
		return "", false
	}
	return user, true
}

// challenge returns the WWW-Authenticate value for a, if it has one.
func challenge(a Authenticator) string {
	if b, ok := a.(BasicAuth); ok {
		realm := b.Realm
		if realm == "" {
			realm = "callvault admin"
		}
		return `Basic realm="` + realm + `", charset="UTF-8"`
	}
	return ""
}

// RequireAuth aborts with 401 unless a accepts the request. The principal
// is stored under "userID" so the rate limiter and logs can key on it.
func RequireAuth(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := a.Authenticate(c.Request)
		if !ok {
			if ch := challenge(a); ch != "" {
				c.Header("WWW-Authenticate", ch)
			}
			unauthorized(c)
			return
		}
		c.Set(ctxKeyUserID, principal)
		c.Next()
	}
}

// SharedSecret rejects webhook deliveries whose secret header does not match
// secret. An empty secret disables the check.
func SharedSecret(secret string) gin.HandlerFunc {
	want := sha256.Sum256([]byte(secret))
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := sysutil.FirstNonEmpty(c.GetHeader(HeaderWebhookSecret), c.GetHeader(HeaderWebhookToken))
		sum := sha256.Sum256([]byte(got))
		if got == "" || subtle.ConstantTimeCompare(sum[:], want[:]) != 1 {
			unauthorized(c)
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    "authentication required",
	})
}
