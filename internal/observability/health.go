package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Set with -ldflags at release build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult reports one dependency. Status is "ok" or "error".
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a plain function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks lists what /readyz verifies. Reference and StatusLog are
// required and report "not configured" when nil; Notifier is skipped when nil.
type ReadinessChecks struct {
	Reference HealthChecker
	StatusLog HealthChecker
	Notifier  HealthChecker
}

type namedCheck struct {
	name     string
	checker  HealthChecker
	optional bool
}

func (c ReadinessChecks) list() []namedCheck {
	return []namedCheck{
		{name: "reference", checker: c.Reference},
		{name: "status_log", checker: c.StatusLog},
		{name: "notifier", checker: c.Notifier, optional: true},
	}
}

const checkTimeout = 2 * time.Second

func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady runs every configured check concurrently, each bounded by its
// own timeout, and answers 503 unless all of them pass.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := checks.list()
		outcomes := make([]*CheckResult, len(list))

		var wg sync.WaitGroup
		for i, c := range list {
			switch {
			case c.checker != nil:
				wg.Go(func() {
					res := runCheck(r.Context(), c.checker)
					outcomes[i] = &res
				})
			case !c.optional:
				outcomes[i] = &CheckResult{Status: "error", Error: "not configured"}
			}
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(list))}
		code := http.StatusOK
		for i, res := range outcomes {
			if res == nil {
				continue
			}
			resp.Checks[list[i].name] = *res
			if res.Status != "ok" {
				resp.Status = "not_ready"
				code = http.StatusServiceUnavailable
			}
		}
		writeHealthJSON(w, code, resp)
	}
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
