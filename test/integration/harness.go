// Package integration provides a reusable test harness for end-to-end
// integration testing of the drill server. It starts a full HTTP server
// with the progression engine, a status log, an in-memory notifier, and a
// test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitabwire/drill/internal/config"
	"github.com/pitabwire/drill/internal/notify"
	"github.com/pitabwire/drill/internal/observability"
	"github.com/pitabwire/drill/internal/progression"
	"github.com/pitabwire/drill/internal/reference"
	"github.com/pitabwire/drill/internal/statuslog"
	"github.com/pitabwire/drill/internal/transport"
)

// Clock is a settable time source shared by the engine and the test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestHarness encapsulates a fully wired drill instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry *reference.Registry
	Store    statuslog.Store
	Notifier notify.Notifier
	Engine   *progression.Engine
	Metrics  *observability.Metrics
	Clock    *Clock

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	referenceDirs  []string
	store          statuslog.Store
	notifier       notify.Notifier
	handlerTimeout time.Duration
}

// WithReference sets the reference table directories to load.
func WithReference(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.referenceDirs = dirs
	}
}

// WithStore replaces the default in-memory status log.
func WithStore(store statuslog.Store) HarnessOption {
	return func(c *harnessConfig) {
		c.store = store
	}
}

// WithNotifier replaces the default in-memory notifier.
func WithNotifier(n notify.Notifier) HarnessOption {
	return func(c *harnessConfig) {
		c.notifier = n
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full drill test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.referenceDirs) == 0 {
		hc.referenceDirs = []string{filepath.Join(testdataDir(), "reference")}
	}
	if hc.store == nil {
		hc.store = statuslog.NewMemoryStore()
	}
	if hc.notifier == nil {
		hc.notifier = notify.NewMemory()
	}

	h := &TestHarness{
		t:        t,
		Store:    hc.store,
		Notifier: hc.notifier,
		Clock:    &Clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		Metrics:  observability.InitMetrics(prometheus.NewRegistry()),
	}
	t.Cleanup(func() { _ = h.Store.Close() })

	// Step 1: Load and validate reference tables.
	sets, err := reference.NewLoader().LoadAll(hc.referenceDirs)
	if err != nil {
		t.Fatalf("load reference tables: %v", err)
	}
	if verrs := reference.NewValidator().Validate(sets); len(verrs) > 0 {
		t.Fatalf("reference validation: %v", verrs)
	}
	h.Registry = reference.NewRegistry(sets)

	// Step 2: Build the engine.
	h.Engine = progression.NewEngine(h.Store, h.Registry,
		progression.WithClock(h.Clock.Now),
		progression.WithNotifier(h.Notifier),
		progression.WithMetrics(h.Metrics),
	)

	// Step 3: Create JWT issuer and config.
	h.issuer = newTokenIssuer(t)
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity = config.IdentityConfig{
		Issuer:     h.issuer.Issuer(),
		Audience:   h.issuer.Audience(),
		JWKSURL:    h.issuer.JWKSURL(),
		Algorithms: []string{"RS256"},
	}

	// Step 4: Build router with full middleware chain.
	keyfunc, err := transport.NewJWKSKeyfunc(t.Context(), h.issuer.JWKSURL(), time.Hour, nil)
	if err != nil {
		t.Fatalf("jwks keyfunc: %v", err)
	}
	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Exercises:    h.Engine,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, keyfunc),
		Metrics:      h.Metrics,
		Readiness: observability.ReadinessChecks{
			Reference: observability.HealthCheckFunc(func(context.Context) error { return h.Registry.HealthCheck() }),
			StatusLog: h.Store,
			Notifier:  h.Notifier,
		},
	})

	// Step 5: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token)
}

func (h *TestHarness) doRequest(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code and
// closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status and the error code of an error response.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, expected int, code string) {
	t.Helper()
	var body struct {
		Error struct {
			Code          string `json:"code"`
			CorrelationID string `json:"correlation_id"`
		} `json:"error"`
	}
	h.AssertJSON(t, resp, expected, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q", body.Error.Code, code)
	}
}

// --- Default test claims ---

// TeamClaims returns TestClaims for a participant of team 1 bound to
// outline ol-1.
func TeamClaims() TestClaims {
	return TestClaims{
		SubjectID: "participant-alice",
		SessionID: "session-alice",
		AccessID:  "delivery-1",
		TeamNo:    1,
		OutlineID: "ol-1",
	}
}

// TeammateClaims returns TestClaims for another participant of the same
// team and outline.
func TeammateClaims() TestClaims {
	c := TeamClaims()
	c.SubjectID = "participant-bob"
	c.SessionID = "session-bob"
	return c
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}
