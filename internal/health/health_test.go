package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := New([]Checker{Ping("store", pinger{err: errors.New("down")})})
	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{Ping("store", pinger{}), Ping("embeddings", pinger{})},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"store": "ok", "embeddings": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{Ping("store", pinger{err: errors.New("connection refused")}), Ping("embeddings", pinger{})},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"store": "fail: connection refused", "embeddings": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tt.checkers), "/readyz")
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			if diff := cmp.Diff(tt.wantChecks, body.Checks); diff != "" {
				t.Errorf("checks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadyz_CheckTimeout(t *testing.T) {
	t.Parallel()

	slow := Checker{Name: "store", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	h := New([]Checker{slow}, WithCheckTimeout(20*time.Millisecond))

	code, body := serve(t, h, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if !strings.Contains(body.Checks["store"], context.DeadlineExceeded.Error()) {
		t.Errorf("store check = %q, want a deadline failure", body.Checks["store"])
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()

	h := New([]Checker{Ping("store", pinger{})})
	h.SetDraining(true)
	code, body := serve(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || body.Checks["server"] != "draining" {
		t.Errorf("readyz = %d %v, want 503 draining", code, body.Checks)
	}

	h.SetDraining(false)
	if code, _ := serve(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("status after draining = %d, want 200", code)
	}
}
