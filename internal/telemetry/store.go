package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize is the inbox capacity when none is configured.
const DefaultQueueSize = 256

// Message is one inbound broker message as the store saw it.
type Message struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Recorder observes store activity. The metrics package implements it.
type Recorder interface {
	ObserveMessage(kind string)
	ObserveDrop()
	ObserveSnapshot(s *Snapshot)
}

// StoreStats are counters for status reporting.
type StoreStats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
	Queued   int    `json:"queued"`
	Capacity int    `json:"capacity"`
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithQueueSize sets the inbox capacity.
func WithQueueSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithPendingTimeout enables pending-command tracking for optimistic modes.
// Zero keeps last-write-wins.
func WithPendingTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.pendingTimeout = d }
}

// WithRecorder attaches a Recorder.
func WithRecorder(r Recorder) StoreOption {
	return func(s *Store) { s.recorder = r }
}

// WithStoreLogger sets the store logger.
func WithStoreLogger(l Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// pendingCommand is an optimistic mode awaiting its authoritative echo.
type pendingCommand struct {
	token string
	mode  Mode
	timer *time.Timer
}

// Store owns the live snapshot of one line.
//
// Messages enter through Ingest into a bounded inbox drained by Run. Every
// mutation holds the writer lock; Snapshot loads an atomic pointer and never
// blocks.
//
// All public methods are thread-safe.
type Store struct {
	facility *Facility
	inbox    chan Message

	queueSize      int
	pendingTimeout time.Duration
	recorder       Recorder
	logger         Logger

	current atomic.Pointer[Snapshot]
	lastMsg atomic.Pointer[Message]

	received atomic.Uint64
	dropped  atomic.Uint64

	// mu serialises writers.
	mu            sync.Mutex
	pending       *pendingCommand
	authoritative Mode

	watchMu   sync.Mutex
	watchers  map[int]chan *Snapshot
	nextWatch int
	closed    bool
}

// NewStore creates a Store holding seed.
func NewStore(f *Facility, seed *Snapshot, opts ...StoreOption) *Store {
	s := &Store{
		facility:  f,
		queueSize: DefaultQueueSize,
		logger:    noopLogger{},
		watchers:  make(map[int]chan *Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.inbox = make(chan Message, s.queueSize)
	s.current.Store(seed)
	return s
}

// Facility returns the line description the store reduces against.
func (s *Store) Facility() *Facility {
	return s.facility
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Ingest enqueues a message without blocking. It returns false and counts
// a drop when the inbox is full.
func (s *Store) Ingest(topic string, payload []byte) bool {
	msg := Message{Topic: topic, Payload: string(payload), ReceivedAt: time.Now()}
	select {
	case s.inbox <- msg:
		return true
	default:
		s.dropped.Add(1)
		if s.recorder != nil {
			s.recorder.ObserveDrop()
		}
		s.logger.Warn("telemetry inbox full, message dropped", "topic", topic)
		return false
	}
}

// Run drains the inbox in order until ctx is cancelled, then closes all
// watchers.
func (s *Store) Run(ctx context.Context) error {
	defer s.closeWatchers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.inbox:
			s.apply(msg)
		}
	}
}

// Apply reduces one message synchronously and returns the resulting snapshot.
func (s *Store) Apply(topic string, payload []byte) *Snapshot {
	return s.apply(Message{Topic: topic, Payload: string(payload), ReceivedAt: time.Now()})
}

func (s *Store) apply(msg Message) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received.Add(1)
	s.lastMsg.Store(&msg)

	ev := Classify(s.facility.Topics, msg.Topic, []byte(msg.Payload))
	if s.recorder != nil {
		s.recorder.ObserveMessage(KindOf(ev))
	}

	cur := s.current.Load()

	if me, ok := ev.(ModeEvent); ok {
		if mode, valid := ParseMode(me.Raw); valid {
			s.authoritative = mode
			if s.pending != nil {
				if mode != s.pending.mode {
					s.logger.Debug("authoritative mode held while command pending",
						"authoritative", mode,
						"pending", s.pending.mode,
					)
					return cur
				}
				s.clearPendingLocked()
			}
		}
	}

	next := Reduce(s.facility, cur, ev)
	s.publishLocked(next)
	return next
}

// SetOptimisticMode displays mode immediately, bypassing the reducer.
//
// With a pending timeout configured the write is tracked: authoritative
// values that disagree are held back until the matching value arrives or the
// timeout reverts the display to the last authoritative mode.
//
// Returns:
//   - string: The pending command token, empty when tracking is off
func (s *Store) SetOptimisticMode(mode Mode) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearPendingLocked()

	token := ""
	if s.pendingTimeout > 0 {
		token = uuid.NewString()
		s.pending = &pendingCommand{
			token: token,
			mode:  mode,
			timer: time.AfterFunc(s.pendingTimeout, func() { s.expirePending(token) }),
		}
	}

	cur := s.current.Load()
	if cur.Mode != mode {
		next := cur.clone()
		next.Mode = mode
		s.publishLocked(next)
	}
	return token
}

// PendingMode returns the optimistic mode awaiting confirmation, if any.
func (s *Store) PendingMode() (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return "", false
	}
	return s.pending.mode, true
}

// expirePending reverts to the last authoritative mode when token is still
// the pending command.
func (s *Store) expirePending(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.pending.token != token {
		return
	}
	requested := s.pending.mode
	s.pending = nil

	cur := s.current.Load()
	if s.authoritative == "" || s.authoritative == cur.Mode {
		return
	}

	s.logger.Info("mode command not confirmed, reverting",
		"requested", requested,
		"authoritative", s.authoritative,
	)
	next := cur.clone()
	next.Mode = s.authoritative
	s.publishLocked(next)
}

func (s *Store) clearPendingLocked() {
	if s.pending == nil {
		return
	}
	s.pending.timer.Stop()
	s.pending = nil
}

// publishLocked installs next and notifies watchers. Caller holds mu.
func (s *Store) publishLocked(next *Snapshot) {
	if next == s.current.Load() {
		return
	}
	s.current.Store(next)

	if s.recorder != nil {
		s.recorder.ObserveSnapshot(next)
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		// Latest wins: replace an unread snapshot.
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

// LastMessage returns the most recently applied message.
func (s *Store) LastMessage() (Message, bool) {
	m := s.lastMsg.Load()
	if m == nil {
		return Message{}, false
	}
	return *m, true
}

// Stats returns inbox counters.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		Received: s.received.Load(),
		Dropped:  s.dropped.Load(),
		Queued:   len(s.inbox),
		Capacity: cap(s.inbox),
	}
}

// Watch returns a channel that receives each new snapshot. Slow readers see
// only the latest one. The cancel func stops and closes the channel.
func (s *Store) Watch() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)

	s.watchMu.Lock()
	if s.closed {
		s.watchMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	cancel := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if c, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *Store) closeWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.closed = true
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}
