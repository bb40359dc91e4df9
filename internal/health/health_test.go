package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func probe(t *testing.T, h http.Handler, path string) (int, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, rep
}

func mux(h *Handler) *http.ServeMux {
	m := http.NewServeMux()
	h.Register(m)
	return m
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	t.Parallel()
	code, rep := probe(t, mux(New(Checker{Name: "store", Check: failWith("down")})), "/healthz")
	if code != http.StatusOK || rep.Status != StatusOK || rep.Checks != nil {
		t.Errorf("healthz = %d %+v", code, rep)
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
			wantStatus: StatusOK,
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "store", Check: pass},
				{Name: "stt", Check: pass, Optional: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"store": "ok", "stt": "ok"},
		},
		{
			name: "optional failure degrades",
			checkers: []Checker{
				{Name: "store", Check: pass},
				{Name: "model", Check: failWith("no model loaded"), Optional: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"store": "ok", "model": "fail: no model loaded"},
		},
		{
			name: "critical failure fails",
			checkers: []Checker{
				{Name: "store", Check: failWith("connection refused")},
				{Name: "stt", Check: pass, Optional: true},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"store": "fail: connection refused", "stt": "ok"},
		},
		{
			name: "critical failure outranks degraded",
			checkers: []Checker{
				{Name: "model", Check: failWith("no model loaded"), Optional: true},
				{Name: "store", Check: failWith("timeout")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"model": "fail: no model loaded", "store": "fail: timeout"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, rep := probe(t, mux(New(tt.checkers...)), "/readyz")
			if code != tt.wantCode || rep.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, rep.Status, tt.wantCode, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := rep.Checks[name]; got != want {
					t.Errorf("checks[%s] = %q, want %q", name, got, want)
				}
			}
			if len(rep.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v", rep.Checks)
			}
		})
	}
}

func TestNew_CopiesCheckers(t *testing.T) {
	t.Parallel()
	cs := []Checker{{Name: "store", Check: pass}}
	h := New(cs...)
	cs[0].Check = failWith("mutated")

	if code, _ := probe(t, mux(h), "/readyz"); code != http.StatusOK {
		t.Errorf("readyz = %d after caller mutated its slice", code)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestReadyz_ChecksOverlap(t *testing.T) {
	t.Parallel()
	var (
		arrived = make(chan struct{}, 2)
		release = make(chan struct{})
	)
	wait := func(ctx context.Context) error {
		arrived <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: wait}, Checker{Name: "b", Check: wait})

	codes := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		codes <- rec.Code
	}()

	<-arrived
	<-arrived
	close(release)
	if code := <-codes; code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
}
