package mqtt

import (
	"crypto/tls"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is used when the config leaves connect_timeout unset.
	defaultConnectTimeout = 10 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for a SUBACK.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultPublishTimeout bounds the background wait on a publish token.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is used when the config leaves keep_alive unset.
	defaultKeepAlive = 30 * time.Second

	// protocolVersion pins MQTT 3.1.1.
	protocolVersion = 4

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for wss:// connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDSuffixLen is the number of random hex characters in a client id.
	clientIDSuffixLen = 12
)

// buildClientOptions creates paho options for a single candidate endpoint.
//
// This configures:
//   - The single broker URL (each candidate gets a fresh client, never reused)
//   - A random client ID so parallel dashboards do not kick each other off
//   - Authentication credentials (if provided)
//   - Clean session, MQTT 3.1.1, keepalive
//   - No paho-level reconnect or connect retry; the Supervisor owns that policy
//   - TLS 1.2+ for wss:// endpoints
func buildClientOptions(cfg config.MQTTConfig, endpoint string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(endpoint)

	opts.SetClientID(newClientID(cfg.ClientIDPrefix))
	opts.SetProtocolVersion(protocolVersion)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	timeout := cfg.GetConnectTimeout()
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(timeout)

	keepAlive := cfg.GetKeepAlive()
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	// Messages for one session arrive in broker order.
	opts.SetOrderMatters(true)

	if strings.HasPrefix(strings.ToLower(endpoint), "wss://") {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// newClientID returns prefix followed by random hex, e.g. "aquanext_3f9a0c12d4e7".
func newClientID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:clientIDSuffixLen]
}
