// Package mqtt provides broker connectivity for AquaNext.
//
// This package manages:
//   - Ordered failover across public and private WebSocket brokers
//   - Exactly one live session, with listeners detached from failed attempts
//   - Fire-and-forget publishing (QoS 0, no broker acknowledgement awaited)
//   - Topic subscriptions with wildcard support
//   - An opt-in reconnect policy with exponential backoff (Supervisor)
//
// # Architecture
//
// Farm controllers publish sensor readings and the authoritative operating
// mode to an MQTT broker. The service subscribes over ws:// or wss://, keeps
// a snapshot of the latest values and publishes mode commands back.
//
//	Farm controllers ↔ MQTT Broker (ws/wss) ↔ AquaNext Core
//
// # Failover
//
// Candidates are the optional override URL followed by the configured
// fallbacks. Connector.Connect skips candidates that are not ws/wss or whose
// path does not end in the mount path, then tries the rest in order, each
// bounded by connect_timeout. Connect never retries; Supervisor does, and
// only when reconnect is enabled.
//
// # Security Considerations
//
//   - wss:// endpoints use TLS 1.2 or newer
//   - Credentials come from config or AQUANEXT_MQTT_USERNAME/PASSWORD
//   - Userinfo in candidate URIs is redacted before logging
//
// # Usage
//
//	connector := mqtt.NewConnector(cfg.MQTT, mqtt.WithLogger(log))
//	candidates := mqtt.ResolveCandidates(cfg.MQTT.OverrideURL, cfg.MQTT.Candidates)
//
//	sup := mqtt.NewSupervisor(connector, candidates,
//	    mqtt.PolicyFromConfig(cfg.MQTT.Reconnect),
//	    func(s mqtt.Session) error {
//	        return s.Subscribe(mqtt.Topics{Root: "farm/line1"}.AllEnv(), 0, handler)
//	    })
//	go sup.Run(ctx)
//
//	// Later, fire-and-forget command
//	_ = connector.Publish(mqtt.Topics{}.CommandMode(), []byte("ras"), 0, false)
package mqtt
