package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Cix-16/opencti/pkg/auth"
	"github.com/Cix-16/opencti/pkg/common"
)

type stubValidator map[string]*auth.Claims

func (v stubValidator) ValidateToken(token string) (*auth.Claims, error) {
	if token == "expired" {
		return nil, auth.ErrExpiredToken
	}
	claims, ok := v[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return claims, nil
}

type denyAfter struct {
	remaining int
}

func (d *denyAfter) Allow(ctx context.Context, key string) (bool, error) {
	d.remaining--
	return d.remaining >= 0, nil
}

func (d *denyAfter) Reset(ctx context.Context, key string) error { return nil }

// echoUser writes the user id seen by the handler.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "no user", http.StatusTeapot)
		return
	}
	id, _ := common.GetUserID(r.Context())
	_, _ = w.Write([]byte(user.UserID + "|" + id))
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAuthenticate(t *testing.T) {
	validator := stubValidator{"good": {UserID: "user-1", Roles: []string{"analyst"}}}
	h := Authenticate(validator, AuthOptions{Logger: zap.NewNop()})(echoUser)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		target string
		status int
		body   string
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, "/", http.StatusOK, "user-1|user-1"},
		{"query token", func(r *http.Request) {}, "/?token=good", http.StatusOK, "user-1|user-1"},
		{"missing token", func(r *http.Request) {}, "/", http.StatusUnauthorized, ""},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic good") }, "/?token=good", http.StatusUnauthorized, ""},
		{"invalid token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }, "/", http.StatusUnauthorized, ""},
		{"expired token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer expired") }, "/", http.StatusUnauthorized, "token has expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			tt.setup(r)
			w := serve(h, r)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Contains(t, w.Body.String(), tt.body)
			}
		})
	}
}

func TestAuthenticate_RateLimit(t *testing.T) {
	validator := stubValidator{"good": {UserID: "user-1"}}
	h := Authenticate(validator, AuthOptions{Limiter: &denyAfter{remaining: 1}, RequestsPerMinute: 1})(echoUser)

	newRequest := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer good")
		return r
	}

	assert.Equal(t, http.StatusOK, serve(h, newRequest()).Code)
	w := serve(h, newRequest())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "1 requests per minute")
}

func TestAuthenticateForLambda(t *testing.T) {
	h := AuthenticateForLambda(AuthOptions{})(echoUser)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Gateway-Authorized", "true")
	r.Header.Set("X-User-ID", "user-9")
	r.Header.Set("X-User-Roles", "analyst,admin")
	w := serve(h, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-9|user-9", w.Body.String())

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-ID", "user-9")
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Gateway-Authorized", "true")
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code)
}

func TestLogger_RecordsAuthenticatedUser(t *testing.T) {
	validator := stubValidator{"good": {UserID: "user-1"}}
	core, logs := observer.New(zap.InfoLevel)
	h := Logger(zap.New(core))(Authenticate(validator, AuthOptions{})(echoUser))

	r := httptest.NewRequest(http.MethodGet, "/entities/Malware", nil)
	r.Header.Set("Authorization", "Bearer good")
	assert.Equal(t, http.StatusOK, serve(h, r).Code)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "user-1", fields["user_id"])
	assert.Equal(t, "/entities/Malware", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
}
