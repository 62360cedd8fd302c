package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuth() *Authenticator {
	return NewAuthenticator(Config{
		Username:    "operator",
		Password:    "s3cret",
		Email:       "ops@example.com",
		TokenSecret: "signing-key",
		TokenTTL:    time.Hour,

		TrustEmailHeader: true,
	})
}

func TestLoginIssuesValidToken(t *testing.T) {
	a := newAuth()

	token, expires, err := a.Login("operator", "s3cret")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin:operator", claims.Subject)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := newAuth()

	_, _, err := a.Login("operator", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Login("operato", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = NewAuthenticator(Config{}).Login("a", "b")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestValidateRejectsExpiredAndForeignTokens(t *testing.T) {
	a := newAuth()
	token, _, err := a.Login("operator", "s3cret")
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = a.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewAuthenticator(Config{Username: "operator", Password: "s3cret", TokenSecret: "other-key"})
	foreign, _, err := other.Login("operator", "s3cret")
	require.NoError(t, err)
	_, err = newAuth().Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: roleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = newAuth().Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIsAdmin(t *testing.T) {
	a := newAuth()

	assert.True(t, a.IsAdmin("OPS@example.com"))
	assert.False(t, a.IsAdmin("asha@example.com"))
	assert.False(t, NewAuthenticator(Config{}).IsAdmin(""))
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newAuth()
	r := gin.New()
	r.GET("/admin", a.RequireAdmin("X-User-Email"), func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})
	token, _, err := a.Login("operator", "s3cret")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header map[string]string
		code   int
		body   string
	}{
		{"no credentials", nil, http.StatusUnauthorized, ""},
		{"bearer token", map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, "admin:operator"},
		{"garbage token", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"admin email", map[string]string{"X-User-Email": "ops@example.com"}, http.StatusOK, "email:ops@example.com"},
		{"customer email", map[string]string{"X-User-Email": "asha@example.com"}, http.StatusUnauthorized, ""},
		{"operator email as prefix", map[string]string{"X-User-Email": "ops@example.com.attacker.test"}, http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestRequireAdminIgnoresEmailHeaderUnlessTrusted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewAuthenticator(Config{
		Username:    "operator",
		Password:    "s3cret",
		Email:       "ops@example.com",
		TokenSecret: "signing-key",
		TokenTTL:    time.Hour,
	})
	r := gin.New()
	r.GET("/admin", a.RequireAdmin("X-User-Email"), func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-User-Email", "ops@example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := a.Login("operator", "s3cret")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
