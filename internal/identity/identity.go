package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const contextKey = "identity"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated actor issued by the identity provider
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Claims carried by identity-provider tokens
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret and notifies listeners
// when an identity signs out.
type Verifier struct {
	secret []byte

	mu        sync.RWMutex
	listeners []func(id Identity, signedIn bool)
}

// NewVerifier creates a verifier for the given signing secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token and returns its identity
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.Email == "" {
		return Identity{}, fmt.Errorf("%w: subject and email are required", ErrInvalidToken)
	}
	return Identity{UID: claims.Subject, Email: claims.Email}, nil
}

// Issue signs a token for id. Used by tooling and tests; production tokens come
// from the identity provider.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// OnChange registers a callback for sign-in and sign-out
func (v *Verifier) OnChange(fn func(id Identity, signedIn bool)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

// SignOut notifies listeners that id signed out
func (v *Verifier) SignOut(id Identity) {
	v.notify(id, false)
}

func (v *Verifier) notify(id Identity, signedIn bool) {
	v.mu.RLock()
	listeners := append([]func(Identity, bool){}, v.listeners...)
	v.mu.RUnlock()

	for _, fn := range listeners {
		fn(id, signedIn)
	}
}

// Middleware rejects requests without a valid bearer token and stores the identity
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw := strings.TrimPrefix(header, "Bearer ")
		if header == "" || raw == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
			return
		}

		id, err := v.Verify(strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}
		c.Set(contextKey, id)
		c.Next()
	}
}

// FromContext returns the identity stored by Middleware
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
