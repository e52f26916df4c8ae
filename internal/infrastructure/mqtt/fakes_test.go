package mqtt

import (
	"context"
	"fmt"
	"sync"
)

// fakeSession records subscriptions and publishes in memory.
type fakeSession struct {
	endpoint  string
	listeners Listeners

	mu         sync.Mutex
	closed     bool
	subs       map[string]MessageHandler
	published  []fakePublish
	publishErr error
	subErr     error
}

type fakePublish struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

func (s *fakeSession) Endpoint() string { return s.endpoint }

func (s *fakeSession) Subscribe(filter string, _ byte, handler MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subErr != nil {
		return s.subErr
	}
	s.subs[filter] = handler
	return nil
}

func (s *fakeSession) Publish(topic string, payload []byte, qos byte, retained bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConnected
	}
	if s.publishErr != nil {
		return s.publishErr
	}
	s.published = append(s.published, fakePublish{topic, string(payload), qos, retained})
	return nil
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSession) subscribed(filter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[filter]
	return ok
}

func (s *fakeSession) publishes() []fakePublish {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakePublish(nil), s.published...)
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// drop simulates the broker going away.
func (s *fakeSession) drop(err error) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.listeners.OnConnectionLost != nil {
		s.listeners.OnConnectionLost(err)
	}
}

// fakeDialer succeeds for every endpoint not listed in fail or hang.
// Endpoints in dropped return a session that has already been lost.
type fakeDialer struct {
	mu       sync.Mutex
	fail     map[string]error
	hang     map[string]bool
	dropped  map[string]error
	dialed   []string
	attempts []Listeners
	sessions []*fakeSession

	// failFirst makes the first n dials fail regardless of endpoint.
	failFirst int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		fail:    make(map[string]error),
		hang:    make(map[string]bool),
		dropped: make(map[string]error),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string, listeners Listeners) (Session, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, endpoint)
	d.attempts = append(d.attempts, listeners)
	err := d.fail[endpoint]
	hang := d.hang[endpoint]
	dropErr, drop := d.dropped[endpoint]
	if d.failFirst > 0 {
		d.failFirst--
		err = fmt.Errorf("%w: scripted failure", ErrConnectionFailed)
	}
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, endpoint, ctx.Err())
	}
	if err != nil {
		return nil, err
	}

	s := &fakeSession{
		endpoint:  endpoint,
		listeners: listeners,
		subs:      make(map[string]MessageHandler),
	}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	if drop {
		// The broker closes the socket before Dial hands the session back.
		s.drop(dropErr)
	}
	return s, nil
}

func (d *fakeDialer) dialedEndpoints() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

func (d *fakeDialer) attemptListeners(i int) Listeners {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[i]
}

func (d *fakeDialer) lastSession() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func (d *fakeDialer) sessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// statusRecorder collects status transitions.
type statusRecorder struct {
	mu     sync.Mutex
	states []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.states...)
}
