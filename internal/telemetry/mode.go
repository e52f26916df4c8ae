package telemetry

import (
	"fmt"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/mqtt"
)

// Command delivery settings: at most once, never retained.
const (
	commandQoS      byte = 0
	commandRetained      = false
)

// Publisher sends raw messages. mqtt.Connector satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// CommandPublisher sends operator commands fire-and-forget.
type CommandPublisher struct {
	pub Publisher
}

// NewCommandPublisher creates a CommandPublisher over pub.
func NewCommandPublisher(pub Publisher) *CommandPublisher {
	return &CommandPublisher{pub: pub}
}

// Publish sends payload on topic at QoS 0 without retain. It never waits
// for the broker; only immediate errors such as mqtt.ErrNotConnected are
// returned.
func (c *CommandPublisher) Publish(topic string, payload []byte) error {
	return c.pub.Publish(topic, payload, commandQoS, commandRetained)
}

// ModeStore is the part of Store the ModeController writes to.
type ModeStore interface {
	Snapshot() *Snapshot
	SetOptimisticMode(mode Mode) string
}

// CommandObserver is notified of every mode command attempt.
type CommandObserver interface {
	ObserveCommand(mode Mode, err error)
}

// ModeController turns operator intent into an optimistic mode change and
// a command on the broker.
type ModeController struct {
	store    ModeStore
	commands *CommandPublisher
	topic    string
	observer CommandObserver
	logger   Logger
}

// NewModeController creates a ModeController publishing on topics.CommandMode().
func NewModeController(store ModeStore, commands *CommandPublisher, topics mqtt.Topics) *ModeController {
	return &ModeController{
		store:    store,
		commands: commands,
		topic:    topics.CommandMode(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for command failures.
func (c *ModeController) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetObserver attaches a CommandObserver.
func (c *ModeController) SetObserver(o CommandObserver) {
	c.observer = o
}

// Current returns the displayed mode.
func (c *ModeController) Current() Mode {
	return c.store.Snapshot().Mode
}

// RequestMode applies next optimistically and publishes it as a command.
//
// Parameters:
//   - next: "flow" or "ras" (case and surrounding space ignored)
//
// Returns:
//   - error: ErrInvalidMode for anything else, with no side effects.
//     Publish failures are logged and not returned; the optimistic value
//     stays until the next authoritative update.
func (c *ModeController) RequestMode(next string) error {
	mode, ok := ParseMode(next)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, next)
	}

	token := c.store.SetOptimisticMode(mode)

	err := c.commands.Publish(c.topic, []byte(mode))
	if err != nil {
		c.logger.Warn("mode command not sent", "mode", mode, "topic", c.topic, "error", err)
	} else {
		c.logger.Info("mode command sent", "mode", mode, "topic", c.topic, "token", token)
	}
	if c.observer != nil {
		c.observer.ObserveCommand(mode, err)
	}
	return nil
}

// Toggle requests the opposite of the displayed mode.
//
// Returns:
//   - Mode: The mode requested
func (c *ModeController) Toggle() (Mode, error) {
	next := c.Current().Other()
	if err := c.RequestMode(string(next)); err != nil {
		return "", err
	}
	return next, nil
}
