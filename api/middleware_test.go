package api_test

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/garnizeh/fieldops/api"
	"github.com/golang-jwt/jwt/v5"
)

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	api.SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer api.SetLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})

	handler := api.LoggingMiddleware(next)
	req := httptest.NewRequest(http.MethodGet, "/log", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)
	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusTeapot {
		t.Fatalf("expected status 418, got %d", res.StatusCode)
	}
	b, _ := io.ReadAll(res.Body)
	if string(b) != "ok" {
		t.Fatalf("unexpected body: %q", string(b))
	}
	if !strings.Contains(buf.String(), `"status":418`) || !strings.Contains(buf.String(), `"path":"/log"`) {
		t.Fatalf("request log missing status or path: %s", buf.String())
	}
}

func TestCORSAndRecovery(t *testing.T) {
	const allowed = "http://localhost:5173"
	var reached int
	chain := api.CORSMiddleware([]string{allowed})(api.RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		if r.URL.Path == "/v1/panic" {
			panic("handler bug")
		}
		w.WriteHeader(http.StatusOK)
	})))

	cases := []struct {
		method, path, origin string
		want                 int
		reaches              bool
		allowOrigin          string
	}{
		{http.MethodOptions, "/v1/work-orders", allowed, http.StatusNoContent, false, allowed},
		{http.MethodGet, "/v1/work-orders", allowed, http.StatusOK, true, allowed},
		{http.MethodPost, "/v1/panic", allowed, http.StatusInternalServerError, true, allowed},
		{http.MethodGet, "/v1/work-orders", "https://evil.example", http.StatusOK, true, ""},
		{http.MethodOptions, "/v1/work-orders", "https://evil.example", http.StatusNoContent, false, ""},
		{http.MethodGet, "/v1/work-orders", "", http.StatusOK, true, ""},
	}
	for _, c := range cases {
		reached = 0
		req := httptest.NewRequest(c.method, c.path, nil)
		if c.origin != "" {
			req.Header.Set("Origin", c.origin)
		}
		w := httptest.NewRecorder()
		chain.ServeHTTP(w, req)
		if w.Code != c.want {
			t.Fatalf("%s %s from %q: want %d got %d", c.method, c.path, c.origin, c.want, w.Code)
		}
		if (reached > 0) != c.reaches {
			t.Fatalf("%s %s: handler reached=%d", c.method, c.path, reached)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != c.allowOrigin {
			t.Fatalf("%s %s from %q: allow origin %q, want %q", c.method, c.path, c.origin, got, c.allowOrigin)
		}
		if c.allowOrigin != "" && !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "PUT") {
			t.Fatalf("%s %s: PUT must be allowed for checklist edits", c.method, c.path)
		}
	}
}

func TestJWTAuthMiddlewareWithSecret(t *testing.T) {
	secret := "s3cr3t"
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mw := api.JWTAuthMiddlewareWithSecret(secret)
	handler := mw(next)

	for header, label := range map[string]string{
		"":                      "missing",
		"Bearer ":               "empty bearer",
		"Bearer bad.token.here": "garbage",
		"Basic dXNlcjpwYXNz":    "basic auth",
		"bearer abc.def.ghi":    "lowercase scheme",
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/work-orders", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s header: want 401 got %d", label, w.Code)
		}
	}

	// valid token exposes the subject and technician on the context
	var gotTech, gotSub, gotSID string
	capture := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTech, _ = api.TechnicianID(r.Context())
		gotSub, _ = r.Context().Value(api.CtxSubject).(string)
		gotSID, _ = r.Context().Value(api.CtxSessionID).(string)
		w.WriteHeader(http.StatusOK)
	}))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "technician_id": "t1", "sid": "s-1", "exp": time.Now().Add(time.Hour).Unix()})
	tokStr, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/jwt", nil)
	req.Header.Set("Authorization", "Bearer "+tokStr)
	w := httptest.NewRecorder()
	capture.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("valid token: expected 200 got %d", w.Result().StatusCode)
	}
	if gotTech != "t1" || gotSub != "u1" || gotSID != "s-1" {
		t.Fatalf("expected claims on context, got technician %q subject %q session %q", gotTech, gotSub, gotSID)
	}

	// token signed with another secret
	other, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte("other"))
	req = httptest.NewRequest(http.MethodGet, "/jwt", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign token: expected 401 got %d", w.Result().StatusCode)
	}

	// expired token
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()}).SignedString([]byte(secret))
	req = httptest.NewRequest(http.MethodGet, "/jwt", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token: expected 401 got %d", w.Result().StatusCode)
	}
}
