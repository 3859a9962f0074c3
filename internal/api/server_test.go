package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/dronefleet-core/internal/audit"
	"github.com/nerrad567/dronefleet-core/internal/command"
	"github.com/nerrad567/dronefleet-core/internal/credential"
	"github.com/nerrad567/dronefleet-core/internal/device"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/config"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/database"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/logging"
	"github.com/nerrad567/dronefleet-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/dronefleet-core/internal/registration"
	"github.com/nerrad567/dronefleet-core/internal/selftest"
	_ "github.com/nerrad567/dronefleet-core/migrations"
)

// fakeBridge records command publishes.
type fakeBridge struct {
	mu        sync.Mutex
	connected bool
	topics    []string
}

func (b *fakeBridge) PublishJSON(topic string, _ any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return false
	}
	b.topics = append(b.topics, topic)
	return true
}

func (b *fakeBridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBridge) State() mqtt.State {
	if b.IsConnected() {
		return mqtt.StateConnected
	}
	return mqtt.StateDisconnected
}

func (b *fakeBridge) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

// fakeSelfTest returns a fixed report.
type fakeSelfTest struct {
	mu     sync.Mutex
	report *selftest.Report
	err    error
	runs   int
}

func (f *fakeSelfTest) Run(context.Context) (*selftest.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.report, f.err
}

func (f *fakeSelfTest) Latest() *selftest.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == 0 {
		return nil
	}
	return f.report
}

type testEnv struct {
	srv    *Server
	router http.Handler
	db     *database.DB
	bridge *fakeBridge
	tester *fakeSelfTest
	audit  *audit.SQLiteRepository
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// newTestEnv wires a Server over in-memory SQLite, the real registration
// workflow and command publisher, and a fake broker bridge.
func newTestEnv(t *testing.T, secCfg config.SecurityConfig) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	log := testLogger()
	wsCfg := config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	hub := NewHub(wsCfg, log)
	go hub.Run(ctx)

	drones := device.NewSQLiteRepository(db.DB)
	issuer := credential.NewIssuerWithParams(12, credential.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16, SaltLen: 8})
	regs := registration.NewService(registration.NewSQLiteRepository(db.DB), drones, db, issuer, hub, registration.Options{
		TopicNamespace:       "fleet",
		BrokerURL:            "tcp://broker.example:1883",
		BaseURL:              "https://fleet.example",
		RotateSecretOnStatus: true,
		DefaultPageSize:      10,
		MaxPageSize:          50,
	})

	bridge := &fakeBridge{connected: true}
	tester := &fakeSelfTest{report: &selftest.Report{Healthy: true}}
	auditRepo := audit.NewSQLiteRepository(db.DB)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:            wsCfg,
		Security:      secCfg,
		Logger:        log,
		Registrations: regs,
		Drones:        drones,
		Commands:      command.NewPublisher(bridge, drones, "fleet"),
		Bridge:        bridge,
		SelfTest:      tester,
		DB:            db,
		AuditRepo:     auditRepo,
		ExternalHub:   hub,
		Version:       "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &testEnv{
		srv:    srv,
		router: srv.buildRouter(),
		db:     db,
		bridge: bridge,
		tester: tester,
		audit:  auditRepo,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(actorHeader, "ops@example")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode[HealthResponse](t, w)
	if resp.Status != healthOK {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if resp.Database == nil || !resp.Database.Healthy {
		t.Fatalf("database = %+v, want healthy", resp.Database)
	}
	if resp.Database.SchemaVersion == "" || resp.Database.PendingMigrations != 0 {
		t.Errorf("schema = %q pending = %d, want current and none pending",
			resp.Database.SchemaVersion, resp.Database.PendingMigrations)
	}
	if resp.Broker == nil || !resp.Broker.Connected || resp.Broker.State != "CONNECTED" {
		t.Errorf("broker = %+v, want connected", resp.Broker)
	}
	if resp.SelfTest != nil {
		t.Errorf("selftest = %+v, want none before the first run", resp.SelfTest)
	}
}

func TestHealth_Degraded(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testEnv)
	}{
		{"broker down", func(e *testEnv) { e.bridge.setConnected(false) }},
		{"self-test failed", func(e *testEnv) {
			e.tester.report = &selftest.Report{Healthy: false}
			e.tester.runs = 1
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.SecurityConfig{})
			tt.setup(env)

			w := env.do(t, http.MethodGet, "/api/v1/health", nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if resp := decode[HealthResponse](t, w); resp.Status != healthDegraded {
				t.Errorf("status = %q, want degraded", resp.Status)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	w := env.do(t, http.MethodGet, "/api/v1/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}
	m := decode[SystemMetrics](t, w)
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines = 0")
	}
	if !m.MQTT.Connected {
		t.Error("mqtt.connected = false, want true")
	}
	if m.Database == nil {
		t.Error("database metrics missing")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	if w := env.do(t, http.MethodGet, "/api/v1/nonexistent", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestIntakeRateLimit(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2},
	})

	var last *httptest.ResponseRecorder
	for range 3 {
		last = env.do(t, http.MethodGet, "/api/v1/drones/registration/unknown/status", nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if resp := decode[Error](t, last); resp.Code != ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeRateLimited)
	}

	// Operator endpoints are not limited.
	if w := env.do(t, http.MethodGet, "/api/v1/admin/registrations", nil); w.Code != http.StatusOK {
		t.Errorf("admin list status = %d, want 200", w.Code)
	}
}

// ─── Server Lifecycle Tests ────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger = nil, want error")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without registration service = nil, want error")
	}
}

// ─── Audit Tests ───────────────────────────────────────────────────

func TestAuditLog_RecordsAdminActions(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.srv.startAuditWriter(ctx)

	requestID := env.submit(t, "SN-AUDIT-1")
	env.approve(t, requestID)

	deadline := time.Now().Add(2 * time.Second)
	var result audit.ListResult
	for time.Now().Before(deadline) {
		w := env.do(t, http.MethodGet, "/api/v1/audit?entity_type="+audit.EntityRegistration, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("audit status = %d, want 200", w.Code)
		}
		result = decode[audit.ListResult](t, w)
		if result.Total == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if result.Total != 2 {
		t.Fatalf("audit total = %d, want 2 (submit, approve)", result.Total)
	}

	actions := map[string]bool{}
	for _, l := range result.Logs {
		actions[l.Action] = true
		if l.Actor != "ops@example" {
			t.Errorf("actor = %q, want ops@example", l.Actor)
		}
		if l.EntityID != requestID {
			t.Errorf("entity id = %q, want %q", l.EntityID, requestID)
		}
	}
	if !actions[audit.ActionRegistrationSubmit] || !actions[audit.ActionRegistrationApprove] {
		t.Errorf("actions = %v, want submit and approve", actions)
	}
}

func TestActorFrom(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := actorFrom(req); got != "anonymous" {
		t.Errorf("actorFrom() = %q, want anonymous", got)
	}
	req.Header.Set(actorHeader, "alice")
	if got := actorFrom(req); got != "alice" {
		t.Errorf("actorFrom() = %q, want alice", got)
	}
}

func TestJoinOrDefault(t *testing.T) {
	if got := joinOrDefault(nil, "GET"); got != "GET" {
		t.Errorf("joinOrDefault(nil) = %q", got)
	}
	if got := joinOrDefault([]string{"GET", "POST"}, "x"); got != "GET, POST" {
		t.Errorf("joinOrDefault = %q, want %q", got, "GET, POST")
	}
	if !strings.Contains(joinOrDefault([]string{"a"}, ""), "a") {
		t.Error("single value not returned")
	}
}
