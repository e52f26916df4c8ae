package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/config"
)

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on paho's delivery goroutine. They must not block;
// the telemetry store only enqueues.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Session is one live broker connection. A Session is never reused after
// Close or after its connection is lost.
type Session interface {
	// Endpoint returns the broker URI this session is connected to.
	Endpoint() string

	// Subscribe declares interest in a topic filter.
	Subscribe(filter string, qos byte, handler MessageHandler) error

	// Publish enqueues a message without waiting for the broker.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected reports whether the underlying socket is open.
	IsConnected() bool

	// Close disconnects and releases the socket.
	Close()
}

// Listeners are the callbacks a Dialer wires into the session it creates.
type Listeners struct {
	// OnConnectionLost is called once when an established session drops.
	OnConnectionLost func(err error)
}

// Dialer opens a Session to a single endpoint.
//
// Dial must honour ctx: when ctx is done before the handshake completes the
// half-open socket is closed and an error is returned.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, listeners Listeners) (Session, error)
}

// pahoDialer dials brokers over WebSocket using paho.mqtt.golang.
type pahoDialer struct {
	cfg    config.MQTTConfig
	logger Logger
}

// NewPahoDialer returns a Dialer backed by paho.mqtt.golang.
func NewPahoDialer(cfg config.MQTTConfig, logger Logger) Dialer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &pahoDialer{cfg: cfg, logger: logger}
}

// Dial connects a fresh paho client to endpoint.
func (d *pahoDialer) Dial(ctx context.Context, endpoint string, listeners Listeners) (Session, error) {
	opts := buildClientOptions(d.cfg, endpoint)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if listeners.OnConnectionLost != nil {
			listeners.OnConnectionLost(err)
		}
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			client.Disconnect(0)
			return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, redactEndpoint(endpoint), err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, redactEndpoint(endpoint), ctx.Err())
	}

	return &pahoSession{
		client:   client,
		endpoint: endpoint,
		logger:   d.logger,
	}, nil
}

// pahoSession adapts a connected paho client to Session.
type pahoSession struct {
	client   pahomqtt.Client
	endpoint string
	logger   Logger
}

func (s *pahoSession) Endpoint() string { return s.endpoint }

func (s *pahoSession) IsConnected() bool { return s.client.IsConnectionOpen() }

// Subscribe registers handler for filter and waits for the SUBACK.
func (s *pahoSession) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Subscribe(filter, qos, s.wrapHandler(handler))
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, filter, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, filter, err)
	}
	return nil
}

// Publish hands the message to paho and returns. Delivery failures surface
// only in the log.
func (s *pahoSession) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, qos, retained, payload)
	go func() {
		if !token.WaitTimeout(defaultPublishTimeout) {
			s.logger.Warn("mqtt publish not confirmed", "topic", topic, "timeout", defaultPublishTimeout)
			return
		}
		if err := token.Error(); err != nil {
			s.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		}
	}()
	return nil
}

// Close disconnects with a short quiesce period.
func (s *pahoSession) Close() {
	s.client.Disconnect(defaultDisconnectQuiesce)
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (s *pahoSession) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("mqtt handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			s.logger.Warn("mqtt handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
