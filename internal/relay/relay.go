/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package relay bridges the in-process broadcaster across nodes over NATS.
// Every published session event is fanned out locally and mirrored to the
// session's NATS subject; events arriving from other nodes are re-published
// into the local broadcaster only.
package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skald/internal/broadcast"
)

const (
	subjectPrefix   = "skald.sessions."
	subjectWildcard = "skald.sessions.>"
)

// Config contains NATS connection configuration.
type Config struct {
	// URL is the NATS server URL. Empty disables the relay entirely
	// (events stay node-local).
	URL string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns default relay configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// message is the wire shape carried on NATS subjects.
type message struct {
	SchemaVersion string              `json:"schema_version"`
	SessionID     string              `json:"session_id"`
	EventType     broadcast.EventType `json:"event_type"`
	Data          broadcast.Payload   `json:"data"`
	NodeID        string              `json:"node_id"`
	Timestamp     time.Time           `json:"timestamp"`
}

// Relay mirrors broadcaster events across nodes.
// Falls back to local-only delivery if NATS is unavailable.
type Relay struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *broadcast.Broadcaster
	nodeID string
	logger zerolog.Logger
}

// New connects to NATS and subscribes to the session event subjects. An
// unreachable server degrades to a local-only relay, never an error.
func New(cfg Config, local *broadcast.Broadcaster, logger zerolog.Logger) (*Relay, error) {
	componentLogger := logger.With().Str("component", "relay").Logger()

	r := &Relay{
		local:  local,
		nodeID: uuid.New().String(),
		logger: componentLogger,
	}

	if cfg.URL == "" {
		componentLogger.Info().Msg("relay disabled, events stay node-local")
		return r, nil
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("skald-"+r.nodeID[:8]),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			componentLogger.Warn().Err(err).Msg("NATS disconnected, events stay node-local until reconnect")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			componentLogger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		componentLogger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS unavailable, running with node-local events only")
		return r, nil
	}
	r.conn = conn

	sub, err := conn.Subscribe(subjectWildcard, r.handleRemote)
	if err != nil {
		componentLogger.Warn().Err(err).Msg("NATS subscribe failed, running with node-local events only")
		conn.Close()
		r.conn = nil
		return r, nil
	}
	r.sub = sub

	componentLogger.Info().
		Str("url", cfg.URL).
		Str("node_id", r.nodeID).
		Msg("NATS relay initialized")

	return r, nil
}

// Connected reports whether the relay has a live NATS connection.
func (r *Relay) Connected() bool {
	return r.conn != nil && r.conn.IsConnected()
}

// NodeID returns this node's relay identity.
func (r *Relay) NodeID() string {
	return r.nodeID
}

// Publish fans the envelope out to local subscribers and mirrors it to the
// session's NATS subject for other nodes.
func (r *Relay) Publish(sessionID string, env broadcast.Envelope) {
	r.local.Publish(sessionID, env)

	if !r.Connected() {
		return
	}

	data, err := json.Marshal(message{
		SchemaVersion: env.SchemaVersion,
		SessionID:     sessionID,
		EventType:     env.EventType,
		Data:          env.Data,
		NodeID:        r.nodeID,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal relay message")
		return
	}

	if err := r.conn.Publish(subjectPrefix+sessionID, data); err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to publish to NATS")
	}
}

// handleRemote delivers events from other nodes to local subscribers.
// Own-node messages come back on the wildcard subscription and are dropped.
func (r *Relay) handleRemote(raw *nats.Msg) {
	var msg message
	if err := json.Unmarshal(raw.Data, &msg); err != nil {
		r.logger.Error().Err(err).Str("subject", raw.Subject).Msg("failed to unmarshal relay message")
		return
	}

	if msg.NodeID == r.nodeID {
		return
	}

	env := broadcast.Envelope{
		SchemaVersion: msg.SchemaVersion,
		EventType:     msg.EventType,
		Data:          msg.Data,
	}
	if env.SchemaVersion == "" {
		env.SchemaVersion = broadcast.SchemaVersion
	}
	r.local.Publish(msg.SessionID, env)

	r.logger.Debug().
		Str("session_id", msg.SessionID).
		Str("event_type", string(msg.EventType)).
		Str("source_node", msg.NodeID).
		Msg("delivered remote event to local subscribers")
}

// Close drains the subscription and closes the NATS connection.
func (r *Relay) Close() error {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			r.logger.Debug().Err(err).Msg("failed to unsubscribe relay subject")
		}
	}
	if r.conn != nil {
		r.conn.Close()
		r.logger.Info().Msg("NATS relay closed")
	}
	return nil
}
