package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ChangeEvent is the frame published for every accepted configuration
// mutation and delivered verbatim to subscribers.
type ChangeEvent struct {
	Action         string    `json:"action"`
	FlagKey        string    `json:"flag_key"`
	EnvironmentKey string    `json:"environment"`
	Enabled        bool      `json:"enabled"`
	Timestamp      time.Time `json:"timestamp"`
}

// Subject returns the per-project NATS subject. One subject per project
// keeps publish order FIFO within a project; nothing orders events across
// projects.
func Subject(projectKey string) string {
	return "switchyard.changes." + projectKey
}

// ChangeBus fans configuration changes out to subscribers over NATS.
// Delivery is at-least-once end to end: the outbox drain republishes on
// crash recovery, so subscribers have to tolerate duplicates.
type ChangeBus struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// New creates a change bus over an established NATS connection.
func New(nc *nats.Conn, logger zerolog.Logger) *ChangeBus {
	return &ChangeBus{
		nc:     nc,
		logger: logger.With().Str("component", "change_bus").Logger(),
	}
}

// Publish sends one change event on the project's subject.
func (b *ChangeBus) Publish(projectKey string, ev ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	if err := b.nc.Publish(Subject(projectKey), data); err != nil {
		b.logger.Error().Err(err).Str("project", projectKey).Msg("Failed to publish change event")
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	b.logger.Debug().
		Str("project", projectKey).
		Str("flag", ev.FlagKey).
		Str("action", ev.Action).
		Msg("Published change event")
	return nil
}

// Subscribe delivers a project's change events to handler until the returned
// cancel function runs. Frames that fail to decode are dropped with a log
// line; a malformed message must not kill the subscription.
func (b *ChangeBus) Subscribe(projectKey string, handler func(ChangeEvent)) (func(), error) {
	sub, err := b.nc.Subscribe(Subject(projectKey), func(msg *nats.Msg) {
		var ev ChangeEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn().Err(err).Str("project", projectKey).Msg("Dropping undecodable change event")
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", Subject(projectKey), err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Str("project", projectKey).Msg("Unsubscribe failed")
		}
	}, nil
}
