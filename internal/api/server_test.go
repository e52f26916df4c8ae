package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/config"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/logging"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/metrics"
	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/mqtt"
	"github.com/eglab8306/aquanext-dashboard/internal/telemetry"
)

// fakeBroker is a settable BrokerStatus.
type fakeBroker struct {
	mu        sync.Mutex
	status    mqtt.Status
	endpoint  string
	lastErr   error
	connected bool
}

func (b *fakeBroker) set(status mqtt.Status, endpoint string, connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status, b.endpoint, b.connected = status, endpoint, connected
}

func (b *fakeBroker) Status() mqtt.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *fakeBroker) Endpoint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endpoint
}

func (b *fakeBroker) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// fakePublisher records command publishes.
type fakePublisher struct {
	mu       sync.Mutex
	payloads []string
	topics   []string
	err      error
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, string(payload))
	return p.err
}

func (p *fakePublisher) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.payloads...)
}

type testEnv struct {
	store   *telemetry.Store
	broker  *fakeBroker
	pub     *fakePublisher
	metrics *metrics.Metrics
}

// testServer creates a Server over a real store and mode controller.
func testServer(t *testing.T) (*Server, *testEnv) {
	t.Helper()

	f := telemetry.DefaultFacility()
	env := &testEnv{
		store:   telemetry.NewStore(f, f.Seed(telemetry.ModeFlow)),
		broker:  &fakeBroker{status: mqtt.StatusDisconnected},
		pub:     &fakePublisher{},
		metrics: metrics.New(),
	}
	mode := telemetry.NewModeController(env.store, telemetry.NewCommandPublisher(env.pub), f.Topics)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "discard"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  log,
		State:   env.store,
		Mode:    mode,
		Broker:  env.broker,
		Metrics: env.metrics,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, env
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Output: "discard"}, "test")
	f := telemetry.DefaultFacility()
	store := telemetry.NewStore(f, f.Seed(telemetry.ModeFlow))
	mode := telemetry.NewModeController(store, telemetry.NewCommandPublisher(&fakePublisher{}), f.Topics)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{State: store, Mode: mode, Broker: &fakeBroker{}}},
		{"no state", Deps{Logger: log, Mode: mode, Broker: &fakeBroker{}}},
		{"no mode", Deps{Logger: log, State: store, Broker: &fakeBroker{}}},
		{"no broker", Deps{Logger: log, State: store, Mode: mode}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want missing dependency")
			}
		})
	}
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}

	for _, bad := range []string{strings.Repeat("x", maxRequestIDLength+1), "with space", "tab\there"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("X-Request-ID", bad)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if got := w.Header().Get("X-Request-ID"); got == bad || got == "" {
			t.Errorf("X-Request-ID %q was not replaced (got %q)", bad, got)
		}
	}
}

func TestSetMode_BodyTooLarge(t *testing.T) {
	srv, env := testServer(t)

	body := `{"mode":"ras","pad":"` + strings.Repeat("x", maxCommandBodySize) + `"}`
	w := do(t, srv, http.MethodPut, "/api/v1/mode", body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
	var e ErrorBody
	decode(t, w, &e)
	if e.Code != CodeBodyTooLarge {
		t.Errorf("code = %q, want %q", e.Code, CodeBodyTooLarge)
	}
	if len(env.pub.sent()) != 0 {
		t.Errorf("oversized request published %v", env.pub.sent())
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown tank", fmt.Errorf("lookup: %w", telemetry.ErrTankNotFound), http.StatusNotFound, CodeTankNotFound},
		{"invalid mode", fmt.Errorf("%w: %q", telemetry.ErrInvalidMode, "auto"), http.StatusBadRequest, CodeInvalidMode},
		{"malformed body", fmt.Errorf("%w: unexpected EOF", errMalformedBody), http.StatusBadRequest, CodeMalformedBody},
		{"oversized body", &http.MaxBytesError{Limit: maxCommandBodySize}, http.StatusRequestEntityTooLarge, CodeBodyTooLarge},
		{"command failure", fmt.Errorf("%w: %w", errCommandFailed, errors.New("closed")), http.StatusInternalServerError, CodeCommandFailed},
		{"panic", errHandlerPanic, http.StatusInternalServerError, CodeInternal},
		{"anything else", errors.New("surprise"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classifyError(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("classifyError() = (%d, %q), want (%d, %q)", status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestAccessLogLevel(t *testing.T) {
	tests := []struct {
		route  string
		status int
		want   slog.Level
	}{
		{"/api/v1/snapshot", http.StatusOK, slog.LevelInfo},
		{"/api/v1/health", http.StatusOK, slog.LevelDebug},
		{"/metrics", http.StatusOK, slog.LevelDebug},
		{"/api/v1/tanks/{id}", http.StatusNotFound, slog.LevelWarn},
		{"/api/v1/mode/", http.StatusInternalServerError, slog.LevelError},
	}
	for _, tt := range tests {
		if got := accessLogLevel(tt.route, tt.status); got != tt.want {
			t.Errorf("accessLogLevel(%q, %d) = %v, want %v", tt.route, tt.status, got, tt.want)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/mode", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want http://localhost:3000", got)
	}
}

func TestCORSPolicy(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CORSConfig
		origin  string
		allowed bool
	}{
		{"empty list allows all", config.CORSConfig{}, "http://anything.example", true},
		{"listed origin", config.CORSConfig{AllowedOrigins: []string{"http://dashboard.local"}}, "http://dashboard.local", true},
		{"unlisted origin", config.CORSConfig{AllowedOrigins: []string{"http://dashboard.local"}}, "http://evil.example", false},
		{"wildcard entry", config.CORSConfig{AllowedOrigins: []string{"http://dashboard.local", "*"}}, "http://evil.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newCORSPolicy(tt.cfg).allows(tt.origin); got != tt.allowed {
				t.Errorf("allows(%q) = %v, want %v", tt.origin, got, tt.allowed)
			}
		})
	}
}

func TestCORS_UnlistedOriginGetsNoHeaders(t *testing.T) {
	srv, _ := testServer(t)
	srv.cors = newCORSPolicy(config.CORSConfig{
		AllowedOrigins: []string{"http://dashboard.local"},
		AllowedMethods: []string{"GET"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q for unlisted origin", got)
	}

	req.Header.Set("Origin", "http://dashboard.local")
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET" {
		t.Errorf("ACAM = %q, want configured GET", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var e ErrorBody
	decode(t, w, &e)
	if e.Code != CodeInternal {
		t.Errorf("code = %q, want %q", e.Code, CodeInternal)
	}
	if e.Message != http.StatusText(http.StatusInternalServerError) {
		t.Errorf("message = %q, panic value leaked", e.Message)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Telemetry Reads ───────────────────────────────────────────────

func TestSnapshot(t *testing.T) {
	srv, env := testServer(t)
	env.store.Apply("farm/line1/tanks/A5/temp", []byte("26.5"))

	w := do(t, srv, http.MethodGet, "/api/v1/snapshot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var snap telemetry.Snapshot
	decode(t, w, &snap)

	if snap.Environment.Temp != 26.5 {
		t.Errorf("environment.temp = %v, want 26.5", snap.Environment.Temp)
	}
	for _, tank := range snap.Tanks {
		if tank.Temp != 26.5 {
			t.Errorf("tank %s temp = %v, want mirrored 26.5", tank.ID, tank.Temp)
		}
	}
	if snap.Mode != telemetry.ModeFlow {
		t.Errorf("mode = %q, want flow", snap.Mode)
	}
}

func TestEnvironment(t *testing.T) {
	srv, env := testServer(t)
	env.store.Apply("farm/line1/env/windDir", []byte("90"))

	w := do(t, srv, http.MethodGet, "/api/v1/environment", "")

	var got telemetry.Environment
	decode(t, w, &got)
	if got.WindDir != 90 {
		t.Errorf("windDir = %v, want 90", got.WindDir)
	}
	if got.Rain != 204 {
		t.Errorf("rain = %v, want seed 204", got.Rain)
	}
}

func TestListTanks(t *testing.T) {
	srv, env := testServer(t)
	env.store.Apply("farm/line1/tanks/B2/fish", []byte("150"))

	w := do(t, srv, http.MethodGet, "/api/v1/tanks", "")

	var resp struct {
		Tanks []telemetry.Tank `json:"tanks"`
		Count int              `json:"count"`
	}
	decode(t, w, &resp)

	if resp.Count != 6 || len(resp.Tanks) != 6 {
		t.Fatalf("count = %d (%d tanks), want 6", resp.Count, len(resp.Tanks))
	}
	last := resp.Tanks[5]
	if last.ID != "B2" || last.Type != telemetry.TankGrow || last.Fish != 150 {
		t.Errorf("created tank = %+v", last)
	}
}

func TestGetTank(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/tanks/FIL", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var tank telemetry.Tank
	decode(t, w, &tank)
	if tank.ID != "FIL" || tank.Type != telemetry.TankFilter {
		t.Errorf("tank = %+v, want FIL filter", tank)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/tanks/ZZ9", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing tank status = %d, want 404", w.Code)
	}
	var e ErrorBody
	decode(t, w, &e)
	if e.Code != CodeTankNotFound || e.Tank != "ZZ9" {
		t.Errorf("error = %+v, want %q for tank ZZ9", e, CodeTankNotFound)
	}
}

// ─── Mode ──────────────────────────────────────────────────────────

func TestGetMode(t *testing.T) {
	srv, env := testServer(t)
	env.store.Apply("farm/line1/mode", []byte("RAS"))

	var resp ModeResponse
	decode(t, do(t, srv, http.MethodGet, "/api/v1/mode", ""), &resp)

	if resp.Mode != telemetry.ModeRAS || resp.Pending {
		t.Errorf("mode = %+v, want ras not pending", resp)
	}
}

func TestSetMode(t *testing.T) {
	srv, env := testServer(t)

	w := do(t, srv, http.MethodPut, "/api/v1/mode", `{"mode":"ras"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", w.Code, w.Body.String())
	}

	var resp ModeResponse
	decode(t, w, &resp)
	if resp.Mode != telemetry.ModeRAS {
		t.Errorf("mode = %q, want optimistic ras", resp.Mode)
	}
	if env.store.Snapshot().Mode != telemetry.ModeRAS {
		t.Errorf("store mode = %q, want ras", env.store.Snapshot().Mode)
	}
	if got := env.pub.sent(); len(got) != 1 || got[0] != "ras" || env.pub.topics[0] != "farm/line1/cmd/mode" {
		t.Errorf("published %v on %v", got, env.pub.topics)
	}
}

func TestSetMode_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"mode":`, CodeMalformedBody},
		{"unknown mode", `{"mode":"auto"}`, CodeInvalidMode},
		{"empty mode", `{}`, CodeInvalidMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, env := testServer(t)

			w := do(t, srv, http.MethodPut, "/api/v1/mode", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var e ErrorBody
			decode(t, w, &e)
			if e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
			if len(env.pub.sent()) != 0 {
				t.Errorf("rejected request published %v", env.pub.sent())
			}
			if env.store.Snapshot().Mode != telemetry.ModeFlow {
				t.Error("rejected request changed the mode")
			}
		})
	}
}

func TestSetMode_BrokerDown(t *testing.T) {
	srv, env := testServer(t)
	env.pub.err = mqtt.ErrNotConnected

	w := do(t, srv, http.MethodPut, "/api/v1/mode", `{"mode":"ras"}`)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202 while disconnected", w.Code)
	}
	if env.store.Snapshot().Mode != telemetry.ModeRAS {
		t.Error("optimistic mode not kept after publish failure")
	}
}

func TestToggleMode(t *testing.T) {
	srv, env := testServer(t)

	var resp ModeResponse
	decode(t, do(t, srv, http.MethodPost, "/api/v1/mode/toggle", ""), &resp)
	if resp.Mode != telemetry.ModeRAS {
		t.Errorf("first toggle = %q, want ras", resp.Mode)
	}

	decode(t, do(t, srv, http.MethodPost, "/api/v1/mode/toggle", ""), &resp)
	if resp.Mode != telemetry.ModeFlow {
		t.Errorf("second toggle = %q, want flow", resp.Mode)
	}
	if got := env.pub.sent(); len(got) != 2 || got[1] != "flow" {
		t.Errorf("published %v", got)
	}
}

// ─── Status & Metrics ──────────────────────────────────────────────

func TestStatus_Disconnected(t *testing.T) {
	srv, env := testServer(t)
	env.broker.lastErr = errors.Join(mqtt.ErrAllCandidatesFailed, errors.New("dial refused"))

	var resp StatusResponse
	decode(t, do(t, srv, http.MethodGet, "/api/v1/status", ""), &resp)

	if resp.Connected || !resp.Stale {
		t.Errorf("connected = %v, stale = %v; want false, true", resp.Connected, resp.Stale)
	}
	if resp.Connection.Status != mqtt.StatusDisconnected {
		t.Errorf("status = %q, want disconnected", resp.Connection.Status)
	}
	if !strings.Contains(resp.Connection.LastError, "dial refused") {
		t.Errorf("last_error = %q", resp.Connection.LastError)
	}
	if resp.LastMessage != nil {
		t.Errorf("last_message = %+v, want none", resp.LastMessage)
	}
	if resp.Store.Capacity != telemetry.DefaultQueueSize {
		t.Errorf("store capacity = %d, want %d", resp.Store.Capacity, telemetry.DefaultQueueSize)
	}
}

func TestStatus_Connected(t *testing.T) {
	srv, env := testServer(t)
	env.broker.set(mqtt.StatusConnected, "wss://broker.example:443/mqtt", true)
	env.store.Apply("farm/line1/env/wave", []byte("2.1"))

	var resp StatusResponse
	decode(t, do(t, srv, http.MethodGet, "/api/v1/status", ""), &resp)

	if !resp.Connected || resp.Stale {
		t.Errorf("connected = %v, stale = %v; want true, false", resp.Connected, resp.Stale)
	}
	if resp.Connection.Endpoint != "wss://broker.example:443/mqtt" {
		t.Errorf("endpoint = %q", resp.Connection.Endpoint)
	}
	if resp.LastMessage == nil || resp.LastMessage.Topic != "farm/line1/env/wave" || resp.LastMessage.Payload != "2.1" {
		t.Errorf("last_message = %+v", resp.LastMessage)
	}
}

func TestSystemMetrics(t *testing.T) {
	srv, env := testServer(t)
	env.store.Apply("farm/line1/env/rain", []byte("1"))

	var m SystemMetrics
	decode(t, do(t, srv, http.MethodGet, "/api/v1/metrics", ""), &m)

	if m.Version != "test" {
		t.Errorf("version = %q, want test", m.Version)
	}
	if m.Runtime.Goroutines <= 0 {
		t.Error("goroutines not reported")
	}
	if m.Tanks != 5 {
		t.Errorf("tanks = %d, want 5", m.Tanks)
	}
	if m.Store.Received != 1 {
		t.Errorf("store.received = %d, want 1", m.Store.Received)
	}
	if m.Broker.Connected {
		t.Error("broker.connected = true, want false")
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	do(t, srv, http.MethodGet, "/api/v1/tanks/A5", "")
	w := do(t, srv, http.MethodGet, "/metrics", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"aquanext_http_requests_total", `route="/api/v1/tanks/{id}"`, "aquanext_broker_status"} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics output missing %s", want)
		}
	}
}

// ─── Hub ───────────────────────────────────────────────────────────

func newTestClient(h *Hub, channels ...string) *WSClient {
	c := &WSClient{
		hub:           h,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	h.Register(c)
	return c
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	srv, _ := testServer(t)
	hub := srv.Hub()

	subscribed := newTestClient(hub, ChannelSnapshotChanged)
	other := newTestClient(hub, ChannelConnectionStatus)

	hub.Broadcast(ChannelSnapshotChanged, map[string]string{"k": "v"})

	select {
	case data := <-subscribed.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != WSTypeEvent || msg.EventType != ChannelSnapshotChanged {
			t.Errorf("message = %+v", msg)
		}
	default:
		t.Error("subscribed client received nothing")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client received a broadcast")
	default:
	}

	if hub.ClientCount() != 2 {
		t.Errorf("ClientCount() = %d, want 2", hub.ClientCount())
	}
	hub.Unregister(subscribed)
	hub.Unregister(subscribed)
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() after unregister = %d, want 1", hub.ClientCount())
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	srv, _ := testServer(t)
	c := newTestClient(srv.Hub(), ChannelSnapshotChanged)

	done := make(chan struct{})
	go func() {
		for i := 0; i < wsSendBufferSize*2; i++ {
			srv.Hub().Broadcast(ChannelSnapshotChanged, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full client buffer")
	}
	if len(c.send) != wsSendBufferSize {
		t.Errorf("buffered = %d, want %d", len(c.send), wsSendBufferSize)
	}
}

// ─── Live Server ───────────────────────────────────────────────────

func startServer(t *testing.T) (*Server, *testEnv) {
	t.Helper()
	srv, env := testServer(t)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, env
}

func TestServer_StartAppliesTimeouts(t *testing.T) {
	srv, _ := startServer(t)

	srv.mu.Lock()
	hs := srv.server
	srv.mu.Unlock()

	want := 5 * time.Second
	if hs.ReadTimeout != want || hs.ReadHeaderTimeout != want {
		t.Errorf("read timeouts = %v/%v, want %v", hs.ReadTimeout, hs.ReadHeaderTimeout, want)
	}
	if hs.WriteTimeout != want {
		t.Errorf("WriteTimeout = %v, want %v", hs.WriteTimeout, want)
	}
	if hs.IdleTimeout != want {
		t.Errorf("IdleTimeout = %v, want %v", hs.IdleTimeout, want)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil before Start")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v after Start", err)
	}

	addr := srv.Addr()
	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	msg := WSMessage{Type: WSTypeSubscribe, ID: "sub-1", Payload: WSSubscribePayload{Channels: channels}}
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	resp := readWS(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	return msg
}

// readEvent reads until an event on channel satisfies match.
func readEvent[T any](t *testing.T, ws *websocket.Conn, channel string, match func(T) bool) T {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readWS(t, ws)
		if msg.Type != WSTypeEvent || msg.EventType != channel {
			continue
		}
		raw, _ := json.Marshal(msg.Payload)
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			t.Fatalf("decode %s payload: %v", channel, err)
		}
		if match(v) {
			return v
		}
	}
	var zero T
	t.Fatalf("no matching %s event", channel)
	return zero
}

func TestWebSocket_SnapshotChanged(t *testing.T) {
	srv, env := startServer(t)
	ws := dialWS(t, srv)

	subscribe(t, ws, ChannelSnapshotChanged)

	// The current snapshot follows the subscription.
	readEvent(t, ws, ChannelSnapshotChanged, func(s telemetry.Snapshot) bool {
		return s.Environment.Rain == 204
	})

	env.store.Apply("farm/line1/env/rain", []byte("99"))

	readEvent(t, ws, ChannelSnapshotChanged, func(s telemetry.Snapshot) bool {
		return s.Environment.Rain == 99
	})

	if srv.Hub().ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", srv.Hub().ClientCount())
	}
}

func TestWebSocket_ConnectionStatus(t *testing.T) {
	srv, env := startServer(t)
	ws := dialWS(t, srv)

	subscribe(t, ws, ChannelConnectionStatus)
	readEvent(t, ws, ChannelConnectionStatus, func(cs ConnectionStatus) bool {
		return cs.Status == mqtt.StatusDisconnected
	})

	env.broker.set(mqtt.StatusConnected, "ws://127.0.0.1:9001/mqtt", true)
	srv.ObserveStatus(mqtt.StatusConnected)

	got := readEvent(t, ws, ChannelConnectionStatus, func(cs ConnectionStatus) bool {
		return cs.Status == mqtt.StatusConnected
	})
	if got.Endpoint != "ws://127.0.0.1:9001/mqtt" {
		t.Errorf("endpoint = %q", got.Endpoint)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	srv, env := startServer(t)
	ws := dialWS(t, srv)

	subscribe(t, ws, ChannelSnapshotChanged)
	readEvent(t, ws, ChannelSnapshotChanged, func(telemetry.Snapshot) bool { return true })

	if err := ws.WriteJSON(WSMessage{Type: WSTypeUnsubscribe, ID: "u1", Payload: WSSubscribePayload{Channels: []string{ChannelSnapshotChanged}}}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if resp := readWS(t, ws); resp.ID != "u1" || resp.Type != WSTypeResponse {
		t.Fatalf("unsubscribe response = %+v", resp)
	}

	env.store.Apply("farm/line1/env/rain", []byte("7"))

	// A ping is answered; no event may arrive before the pong.
	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("got %+v, want pong only", msg)
	}
}

func TestWebSocket_BadMessages(t *testing.T) {
	srv, _ := startServer(t)
	ws := dialWS(t, srv)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypeError {
		t.Errorf("invalid JSON reply = %+v, want error", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: "dance", ID: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypeError || msg.ID != "x" {
		t.Errorf("unknown type reply = %+v, want error", msg)
	}
}
