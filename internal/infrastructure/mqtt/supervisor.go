package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/config"
)

// ReconnectPolicy controls whether and how the Supervisor re-walks the
// candidate list after a failure or a lost connection.
type ReconnectPolicy struct {
	Enabled      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxAttempts caps retries per outage. Zero means unlimited.
	MaxAttempts int
}

// PolicyFromConfig converts the YAML reconnect block.
func PolicyFromConfig(cfg config.MQTTReconnectConfig) ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:      cfg.Enabled,
		InitialDelay: time.Duration(cfg.InitialDelay) * time.Second,
		MaxDelay:     time.Duration(cfg.MaxDelay) * time.Second,
		MaxAttempts:  cfg.MaxAttempts,
	}
}

// Supervisor runs the connection lifecycle: connect, hand the session to
// onConnected (subscriptions), wait for loss, and optionally reconnect with
// exponential backoff.
type Supervisor struct {
	connector   *Connector
	candidates  []string
	policy      ReconnectPolicy
	onConnected func(Session) error

	// newBackOff builds the delay schedule for one outage.
	newBackOff func(ReconnectPolicy) backoff.BackOff

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSupervisor creates a Supervisor.
//
// Parameters:
//   - connector: The connector that owns the session
//   - candidates: Ordered broker URIs walked on every pass
//   - policy: Reconnect policy; disabled means a single pass
//   - onConnected: Called with each new session, typically to subscribe.
//     An error closes the session and counts as a failed pass.
func NewSupervisor(connector *Connector, candidates []string, policy ReconnectPolicy, onConnected func(Session) error) *Supervisor {
	return &Supervisor{
		connector:   connector,
		candidates:  append([]string(nil), candidates...),
		policy:      policy,
		onConnected: onConnected,
		newBackOff:  exponentialBackOff,
		logger:      noopLogger{},
	}
}

// SetLogger sets a logger for lifecycle events.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Run blocks until ctx is cancelled or the policy gives up.
//
// With reconnect disabled Run makes one pass: an exhausted candidate list is
// returned as an error, and a later connection loss ends Run with nil. The
// last snapshot stays available to readers in both cases.
//
// Returns:
//   - error: nil on cancellation or a tolerated loss, otherwise the last
//     connect failure
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.connector.Close()

	for {
		if err := s.establish(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-s.connector.Lost():
			if !s.policy.Enabled {
				s.getLogger().Warn("broker connection lost, reconnect disabled", "error", err)
				return nil
			}
			s.getLogger().Warn("broker connection lost, reconnecting", "error", err)
			s.connector.markReconnecting()
		}
	}
}

// establish completes one connect pass, retrying under the policy.
func (s *Supervisor) establish(ctx context.Context) error {
	if !s.policy.Enabled {
		return s.pass(ctx)
	}

	b := s.newBackOff(s.policy)
	if s.policy.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.policy.MaxAttempts))
	}

	operation := func() error {
		err := s.pass(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNoValidCandidates) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		s.connector.markReconnecting()
		s.getLogger().Info("retrying broker connection", "error", err, "wait", wait)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}

// pass walks the candidates once and runs onConnected.
func (s *Supervisor) pass(ctx context.Context) error {
	session, err := s.connector.Connect(ctx, s.candidates)
	if err != nil {
		return err
	}

	if s.onConnected != nil {
		if err := s.onConnected(session); err != nil {
			_ = s.connector.Close()
			return fmt.Errorf("session setup on %s: %w", redactEndpoint(session.Endpoint()), err)
		}
	}
	return nil
}

func (s *Supervisor) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// exponentialBackOff never stops on elapsed time; MaxAttempts bounds it.
func exponentialBackOff(p ReconnectPolicy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
