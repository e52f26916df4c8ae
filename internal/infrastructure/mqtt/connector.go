package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/config"
)

// Status is the connection state reported by a Connector.
type Status string

// Connection states.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// Connector owns at most one live Session and walks an ordered candidate
// list to establish it.
//
// Connect itself never retries; the Supervisor layers a reconnect policy on
// top.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Callbacks from failed or replaced sessions are detached and never
//     reach the Connector.
type Connector struct {
	cfg    config.MQTTConfig
	dialer Dialer

	mu       sync.RWMutex
	session  Session
	guard    *listenerGuard
	status   Status
	endpoint string
	lastErr  error

	// lost carries one pending connection-lost signal.
	lost chan error

	// listeners counts attached guards, i.e. sessions able to report back.
	listeners atomic.Int32

	onStatus   func(Status)
	callbackMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Option configures a Connector.
type Option func(*Connector)

// WithDialer replaces the default paho dialer.
func WithDialer(d Dialer) Option {
	return func(c *Connector) { c.dialer = d }
}

// WithLogger sets the connector logger.
func WithLogger(l Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConnector creates a disconnected Connector.
//
// Parameters:
//   - cfg: MQTT configuration (timeouts, credentials, mount path)
//   - opts: Optional dialer and logger overrides
//
// Returns:
//   - *Connector: Ready for Connect
func NewConnector(cfg config.MQTTConfig, opts ...Option) *Connector {
	c := &Connector{
		cfg:    cfg,
		status: StatusDisconnected,
		lost:   make(chan error, 1),
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewPahoDialer(cfg, c.logger)
	}
	return c
}

// Connect tries candidates strictly in order and adopts the first session
// that comes up.
//
// Any session already held is closed first, so a failed walk never leaves
// an old session publishing behind an error status.
//
// Invalid candidates (see ValidateEndpoint) are skipped without an attempt.
// Each attempt is bounded by the configured connect timeout and by ctx. A
// failed attempt is closed and its listeners detached before the next one
// starts. A session that drops before it is adopted counts as a failed
// attempt.
//
// Parameters:
//   - ctx: Bounds the whole walk; cancellation aborts the current attempt
//   - candidates: Ordered broker URIs (see ResolveCandidates)
//
// Returns:
//   - Session: The adopted live session
//   - error: ErrAllCandidatesFailed (wrapping the per-attempt causes, or
//     ErrNoValidCandidates when nothing was attempted)
func (c *Connector) Connect(ctx context.Context, candidates []string) (Session, error) {
	mountPath := c.cfg.MountPath
	if mountPath == "" {
		mountPath = "/mqtt"
	}

	valid := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if err := ValidateEndpoint(candidate, mountPath); err != nil {
			c.getLogger().Warn("skipping broker candidate", "endpoint", redactEndpoint(candidate), "error", err)
			continue
		}
		valid = append(valid, candidate)
	}

	c.release()
	c.setStatus(StatusConnecting)

	if len(valid) == 0 {
		err := fmt.Errorf("%w: %w", ErrAllCandidatesFailed, ErrNoValidCandidates)
		c.fail(err)
		return nil, err
	}

	var causes []error
	for _, endpoint := range valid {
		if err := ctx.Err(); err != nil {
			causes = append(causes, err)
			break
		}

		session, guard, err := c.attempt(ctx, endpoint)
		if err != nil {
			c.getLogger().Warn("broker candidate failed", "endpoint", redactEndpoint(endpoint), "error", err)
			causes = append(causes, err)
			continue
		}

		if err := c.adopt(session, guard, endpoint); err != nil {
			c.getLogger().Warn("broker candidate dropped before adoption", "endpoint", redactEndpoint(endpoint), "error", err)
			causes = append(causes, err)
			continue
		}
		c.getLogger().Info("connected to broker", "endpoint", redactEndpoint(endpoint))
		return session, nil
	}

	err := fmt.Errorf("%w: %w", ErrAllCandidatesFailed, errors.Join(causes...))
	c.fail(err)
	return nil, err
}

// attempt dials one endpoint under the per-attempt timeout.
func (c *Connector) attempt(ctx context.Context, endpoint string) (Session, *listenerGuard, error) {
	timeout := c.cfg.GetConnectTimeout()
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	guard := c.attachGuard()
	session, err := c.dialer.Dial(attemptCtx, endpoint, Listeners{OnConnectionLost: guard.onLost})
	if err != nil {
		guard.detach()
		return nil, nil, err
	}
	if session == nil {
		guard.detach()
		return nil, nil, fmt.Errorf("%w: %s: dialer returned no session", ErrConnectionFailed, redactEndpoint(endpoint))
	}
	return session, guard, nil
}

// adopt installs session as the live session, replacing any previous one.
// It refuses a session whose socket is already closed or whose guard saw a
// loss while the dial was still in flight.
func (c *Connector) adopt(session Session, guard *listenerGuard, endpoint string) error {
	// A signal left over from an earlier session is stale now.
	select {
	case <-c.lost:
	default:
	}

	c.mu.Lock()
	lost, lostErr := guard.markAdopted()
	if !lost && !session.IsConnected() {
		lost, lostErr = true, ErrNotConnected
	}
	if lost {
		c.mu.Unlock()
		guard.detach()
		session.Close()
		if lostErr == nil {
			lostErr = ErrNotConnected
		}
		return fmt.Errorf("%w: %s: lost during setup: %w", ErrConnectionFailed, redactEndpoint(endpoint), lostErr)
	}
	prevSession, prevGuard := c.session, c.guard
	c.session = session
	c.guard = guard
	c.endpoint = endpoint
	c.lastErr = nil
	changed := c.status != StatusConnected
	c.status = StatusConnected
	c.mu.Unlock()

	if prevSession != nil {
		prevGuard.detach()
		prevSession.Close()
	}
	if changed {
		c.notify(StatusConnected)
	}
	return nil
}

// release closes the held session without a status transition.
func (c *Connector) release() {
	c.mu.Lock()
	session, guard := c.session, c.guard
	c.session = nil
	c.guard = nil
	c.mu.Unlock()

	if session == nil {
		return
	}
	guard.detach()
	session.Close()
	c.getLogger().Info("released previous broker session", "endpoint", redactEndpoint(session.Endpoint()))
}

// fail records a connect failure.
func (c *Connector) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	changed := c.status != StatusError
	c.status = StatusError
	c.mu.Unlock()

	if changed {
		c.notify(StatusError)
	}
}

// handleLost is called by the guard of the live session.
func (c *Connector) handleLost(g *listenerGuard, err error) {
	c.mu.Lock()
	if c.guard != g {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.guard = nil
	c.lastErr = err
	changed := c.status != StatusDisconnected
	c.status = StatusDisconnected
	c.mu.Unlock()

	g.detach()
	c.getLogger().Warn("broker connection lost", "error", err)

	if changed {
		c.notify(StatusDisconnected)
	}

	if err == nil {
		err = ErrNotConnected
	}
	select {
	case c.lost <- err:
	default:
	}
}

// Close releases the live session, if any.
//
// Returns:
//   - error: Always nil; a missing session is not an error
func (c *Connector) Close() error {
	c.mu.Lock()
	session, guard := c.session, c.guard
	c.session = nil
	c.guard = nil
	changed := session != nil && c.status != StatusDisconnected
	if session != nil {
		c.status = StatusDisconnected
	}
	c.mu.Unlock()

	if session == nil {
		return nil
	}

	guard.detach()
	session.Close()
	if changed {
		c.notify(StatusDisconnected)
	}
	return nil
}

// Publish sends on the live session.
//
// Returns:
//   - error: ErrNotConnected when there is no session, or the session's
//     immediate error
func (c *Connector) Publish(topic string, payload []byte, qos byte, retained bool) error {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	if session == nil {
		return ErrNotConnected
	}
	return session.Publish(topic, payload, qos, retained)
}

// Lost delivers one signal each time the live session drops.
func (c *Connector) Lost() <-chan error {
	return c.lost
}

// Status returns the current connection state.
func (c *Connector) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Endpoint returns the URI of the last adopted session.
func (c *Connector) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// LastError returns the most recent connect failure or loss cause.
func (c *Connector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// IsConnected reports whether a live session exists and its socket is open.
func (c *Connector) IsConnected() bool {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	return session != nil && session.IsConnected()
}

// HealthCheck verifies the broker connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Connector) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// ListenerCount returns how many sessions can still report into the
// connector. It is 1 while connected and 0 otherwise.
func (c *Connector) ListenerCount() int {
	return int(c.listeners.Load())
}

// SetOnStatusChange sets a callback invoked after every status transition.
// The callback runs on the goroutine that caused the transition.
func (c *Connector) SetOnStatusChange(callback func(Status)) {
	c.callbackMu.Lock()
	c.onStatus = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection events.
func (c *Connector) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// markReconnecting is used by the Supervisor while it waits between passes.
func (c *Connector) markReconnecting() {
	c.setStatus(StatusReconnecting)
}

func (c *Connector) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()

	if changed {
		c.notify(s)
	}
}

func (c *Connector) notify(s Status) {
	c.callbackMu.RLock()
	callback := c.onStatus
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(s)
	}
}

func (c *Connector) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// listenerGuard forwards session callbacks to the connector until detached.
// A loss reported before adoption is held on the guard for adopt to see.
type listenerGuard struct {
	connector *Connector
	attached  atomic.Bool

	mu        sync.Mutex
	adopted   bool
	lostEarly bool
	earlyErr  error
}

func (c *Connector) attachGuard() *listenerGuard {
	g := &listenerGuard{connector: c}
	g.attached.Store(true)
	c.listeners.Add(1)
	return g
}

func (g *listenerGuard) onLost(err error) {
	if !g.attached.Load() {
		return
	}
	g.mu.Lock()
	if !g.adopted {
		g.lostEarly = true
		g.earlyErr = err
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.connector.handleLost(g, err)
}

// markAdopted routes later callbacks to the connector and reports any loss
// seen before this point. The caller holds the connector lock.
func (g *listenerGuard) markAdopted() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adopted = true
	return g.lostEarly, g.earlyErr
}

func (g *listenerGuard) detach() {
	if g.attached.CompareAndSwap(true, false) {
		g.connector.listeners.Add(-1)
	}
}
