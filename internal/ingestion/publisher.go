package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"SynthVault/internal/engine"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes committed vault records to NATS for downstream
// consumers. Subjects follow the pattern: synth.vault.events.{record_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan engine.Output
}

// PublishedRecord is the outbound wire format of one committed record.
// Amounts are decimal strings; hash bytes are base64 per encoding/json.
type PublishedRecord struct {
	Sequence    int64     `json:"sequence"`
	RecordID    string    `json:"record_id"`
	RecordType  string    `json:"record_type"`
	User        string    `json:"user"`
	Caller      string    `json:"caller"`
	AssetID     string    `json:"asset_id,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	DebtCovered string    `json:"debt_covered,omitempty"`
	TotalSeized string    `json:"total_seized,omitempty"`
	StateHash   []byte    `json:"state_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan engine.Output) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", out.Record.Sequence, err)
				// Non-fatal: downstream consumers can query the operation log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out engine.Output) error {
	rec := out.Record

	pub := PublishedRecord{
		Sequence:   rec.Sequence,
		RecordID:   rec.RecordID.String(),
		RecordType: rec.Type.String(),
		User:       rec.User.String(),
		Caller:     rec.Caller.String(),
		AssetID:    rec.AssetID,
		StateHash:  rec.StateHash[:],
		Timestamp:  rec.Timestamp,
	}
	if rec.Amount != nil {
		pub.Amount = rec.Amount.String()
	}
	if rec.DebtCovered != nil {
		pub.DebtCovered = rec.DebtCovered.String()
	}
	if rec.TotalSeized != nil {
		pub.TotalSeized = rec.TotalSeized.String()
	}

	data, err := json.Marshal(pub)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	subject := fmt.Sprintf("synth.vault.events.%s", rec.Type.Subject())
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "SYNTH_VAULT_EVENTS",
		Subjects:  []string{"synth.vault.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream SYNTH_VAULT_EVENTS")
	return nil
}
