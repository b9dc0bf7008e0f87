package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SaveLedger/internal/core"
	"SaveLedger/internal/event"
	"SaveLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventStream        = "SAVE_LEDGER_EVENTS"
	EventSubjectPrefix = "save.ledger.events"
)

// Publisher is the slice of jetstream.JetStream the outbound publisher uses
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed ledger events for downstream consumers
// on save.ledger.events.<EventType>.<symbol>.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan core.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of an envelope
type PublishableEvent struct {
	EventID   string                `json:"event_id"`
	Sequence  int64                 `json:"sequence"`
	EventType string                `json:"event_type"`
	CommandID string                `json:"command_id,omitempty"`
	ClassID   string                `json:"class_id"`
	Symbol    string                `json:"symbol"`
	Payload   json.RawMessage       `json:"payload"`
	Balances  []event.HolderBalance `json:"balances,omitempty"`
	StateHash common.Hash           `json:"state_hash"`
	PrevHash  common.Hash           `json:"prev_hash"`
	Timestamp time.Time             `json:"timestamp"`
}

func NewOutboundPublisher(js Publisher, inputChan <-chan core.Output, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out.Envelope); err != nil {
				// Non-fatal: downstream consumers can read the event log directly
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.EventEnvelope) error {
	evt, err := ToPublishable(env)
	if err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = op.js.Publish(ctx, EventSubject(env), data, jetstream.WithMsgID(env.EventID.String()))
	return err
}

// EventSubject is save.ledger.events.<EventType>.<symbol>
func EventSubject(env *event.EventEnvelope) string {
	return fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, env.EventType, env.Symbol)
}

func ToPublishable(env *event.EventEnvelope) (PublishableEvent, error) {
	payload, err := env.EncodePayload()
	if err != nil {
		return PublishableEvent{}, err
	}
	return PublishableEvent{
		EventID:   env.EventID.String(),
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		CommandID: env.CommandID,
		ClassID:   env.ClassID.String(),
		Symbol:    env.Symbol,
		Payload:   payload,
		Balances:  env.Balances,
		StateHash: env.StateHash,
		PrevHash:  env.PrevHash,
		Timestamp: env.Timestamp,
	}, nil
}

// EnsureOutboundStream creates the outbound events stream
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventStream,
		Subjects:   []string{EventSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
