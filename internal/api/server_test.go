package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaycord/core/internal/corerr"
)

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitCSV("a, b ,c"))
	assert.Nil(t, splitCSV(""))
	assert.Equal(t, []string{"a"}, splitCSV("a,,"))
}

func TestWriteErrorMapsKindToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{corerr.NewTransient("retry"), http.StatusBadGateway},
		{corerr.NewConflict("lock held"), http.StatusConflict},
		{corerr.NewNotFound("missing"), http.StatusNotFound},
		{corerr.NewPolicy("four_eyes_violation"), http.StatusForbidden},
		{corerr.NewIntegrity("drift"), http.StatusInternalServerError},
		{corerr.NewFatal("not configured"), http.StatusInternalServerError},
		{errors.New("plain error"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, c.err)
		assert.Equal(t, c.status, rec.Code)
	}
}

func TestCORSMiddlewareAllowsAllWhenUnconfigured(t *testing.T) {
	t.Setenv("RC_ADMIN_ALLOWED_ORIGINS", "")
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSMiddlewareRejectsUnlistedOrigin(t *testing.T) {
	t.Setenv("RC_ADMIN_ALLOWED_ORIGINS", "https://allowed.example.com")
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewareHandlesPreflight(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight requests must not reach the wrapped handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/admin/tenants", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
