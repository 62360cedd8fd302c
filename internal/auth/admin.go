// Package auth guards the operator endpoints.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNotConfigured      = errors.New("admin auth not configured")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid admin token")
)

const (
	issuer        = "printshop-orders"
	roleAdmin     = "admin"
	contextKeySub = "admin_subject"
)

// Config holds the operator credentials
type Config struct {
	Username    string
	Password    string
	Email       string
	TokenSecret string
	TokenTTL    time.Duration

	// TrustEmailHeader lets RequireAdmin accept the operator email from the
	// identity header. Enable it only when an identity proxy sets that header
	// and strips any copy the client sent.
	TrustEmailHeader bool
}

// Claims is the admin session token payload
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and checks admin session tokens
type Authenticator struct {
	cfg    Config
	secret []byte
	now    func() time.Time
}

// NewAuthenticator creates an authenticator. Without an explicit token
// secret one is derived from the credentials.
func NewAuthenticator(cfg Config) *Authenticator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	secret := cfg.TokenSecret
	if secret == "" && cfg.Password != "" {
		secret = cfg.Password + cfg.Username + "-admin-session"
	}
	return &Authenticator{cfg: cfg, secret: []byte(secret), now: time.Now}
}

// Login checks the credentials in constant time and returns a signed token
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	if a.cfg.Username == "" || a.cfg.Password == "" {
		return "", time.Time{}, ErrNotConfigured
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.cfg.Password)) == 1
	if !userOK || !passOK {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := a.now().UTC()
	expires := now.Add(a.cfg.TokenTTL)
	claims := &Claims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   "admin:" + username,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expires, nil
}

// Validate parses a session token
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrNotConfigured
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Role != roleAdmin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IsAdmin reports whether email is the configured operator address
func (a *Authenticator) IsAdmin(email string) bool {
	return a.cfg.Email != "" && strings.EqualFold(strings.TrimSpace(email), a.cfg.Email)
}

// RequireAdmin accepts a valid bearer session token. With TrustEmailHeader
// set it also accepts a request whose emailHeader is the operator address;
// that header is only as trustworthy as the proxy in front of the service.
func (a *Authenticator) RequireAdmin(emailHeader string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearer(c.GetHeader("Authorization")); raw != "" {
			claims, err := a.Validate(raw)
			if err == nil {
				c.Set(contextKeySub, claims.Subject)
				c.Next()
				return
			}
		}
		if email := c.GetHeader(emailHeader); a.cfg.TrustEmailHeader && a.IsAdmin(email) {
			c.Set(contextKeySub, "email:"+email)
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin authentication required"})
	}
}

// Subject returns who passed RequireAdmin
func Subject(c *gin.Context) string {
	return c.GetString(contextKeySub)
}

func bearer(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}
