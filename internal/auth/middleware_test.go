package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(secret []byte) http.Handler {
	policy := NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	mw := NewMiddleware(secret, policy)
	return mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Subject", SubjectFromContext(r.Context()))
		w.Header().Set("X-Role", string(RoleFromContext(r.Context())))
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	handler := newTestHandler([]byte("test-secret"))

	req := httptest.NewRequest(http.MethodGet, "/vocab/mappings", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	handler := newTestHandler([]byte("test-secret"))

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestAuthMiddleware_ViewerCanRead(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "viewer")
	handler := newTestHandler(secret)

	req := httptest.NewRequest(http.MethodGet, "/vocab/mappings/by-vocab/7", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "user-1", resp.Header().Get("X-Subject"))
	assert.Equal(t, "viewer", resp.Header().Get("X-Role"))
}

func TestAuthMiddleware_ViewerForbiddenSetPrimary(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "viewer")
	handler := newTestHandler(secret)

	req := httptest.NewRequest(http.MethodPost, "/vocab/mappings/set-primary/1/2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestAuthMiddleware_EditorForbiddenRepair(t *testing.T) {
	secret := []byte("test-secret")
	handler := newTestHandler(secret)

	req := httptest.NewRequest(http.MethodPost, "/vocab/mappings/repair-integrity", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, secret, "editor"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	req = httptest.NewRequest(http.MethodPost, "/vocab/mappings/repair-integrity", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, secret, "admin"))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	handler := newTestHandler([]byte("test-secret"))

	req := httptest.NewRequest(http.MethodGet, "/vocab/topics/roots", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, []byte("other"), "admin"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestPolicy_RequiredRole(t *testing.T) {
	policy := NewDefaultPolicy(nil, nil)
	cases := []struct {
		method string
		path   string
		role   Role
		ok     bool
	}{
		{http.MethodGet, "/vocab/mappings", RoleViewer, true},
		{http.MethodPost, "/vocab/mappings", RoleEditor, true},
		{http.MethodDelete, "/vocab/mappings/remove-vocabs-from-topic/3", RoleEditor, true},
		{http.MethodDelete, "/vocab/batch", RoleAdmin, true},
		{http.MethodDelete, "/vocab/topics/batch", RoleAdmin, true},
		{http.MethodPost, "/vocab/cache/clear-mappings", RoleAdmin, true},
		{http.MethodPost, "/vocab/cache/clear-all", RoleAdmin, true},
		{http.MethodPost, "/vocab/batch", RoleEditor, true},
		{http.MethodPost, "/vocab/topics/batch", RoleEditor, true},
		{http.MethodGet, "/vocab/topics/by-code/NAV", RoleViewer, true},
		{http.MethodGet, "/vocab/mappings/integrity-report.pdf", RoleViewer, true},
		{http.MethodGet, "/other", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		role, ok := policy.RequiredRole(req)
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.role, role, tc.method+" "+tc.path)
	}
}

func TestIssueJWT_RoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueJWT(secret, "ops", RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "admin", claims.Role)

	_, err = IssueJWT(secret, "ops", Role("root"), time.Hour)
	assert.Error(t, err)
}

func mustToken(t *testing.T, secret []byte, role string) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}
