// Package notify delivers ledger events to the people involved. Delivery is
// fire-and-forget: failures are logged and never reach the caller of the
// ledger operation that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmynk/trustfirst/internal/metrics"
)

// Kind identifies what happened.
type Kind string

const (
	AgreementCreated        Kind = "agreement_created"
	WitnessRequested        Kind = "witness_requested"
	WitnessApproved         Kind = "witness_approved"
	MoneySent               Kind = "money_sent"
	RepaymentProofUploaded  Kind = "repayment_proof_uploaded"
	AgreementSettled        Kind = "agreement_settled"
	DueDateExtended         Kind = "due_date_extended"
	ContributionReceived    Kind = "contribution_received"
	MoneyRequestFulfilled   Kind = "money_request_fulfilled"
	InstallmentProofAdded   Kind = "installment_proof_uploaded"
	InstallmentProofRemoved Kind = "installment_proof_removed"
)

const deliveryTimeout = 2 * time.Second

// Event is the data a delivery channel needs to render a message.
type Event struct {
	Kind           Kind      `json:"kind"`
	AgreementID    string    `json:"agreementId,omitempty"`
	MoneyRequestID string    `json:"moneyRequestId,omitempty"`
	To             []string  `json:"to"`
	Actor          string    `json:"actor,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	Message        string    `json:"message,omitempty"`
	At             time.Time `json:"at"`
}

// Notifier delivers an event.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Dispatch delivers ev and swallows any failure after logging it.
func Dispatch(ctx context.Context, n Notifier, ev Event) {
	if n == nil || len(ev.To) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	if err := n.Notify(ctx, ev); err != nil {
		metrics.BestEffortFailures.WithLabelValues("notification").Inc()
		slog.Warn("Notification delivery failed",
			"kind", ev.Kind,
			"agreement_id", ev.AgreementID,
			"money_request_id", ev.MoneyRequestID,
			"error", err,
		)
	}
}

// Log writes events to the structured log. Used when no queue is configured.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(ctx context.Context, ev Event) error {
	slog.Info("Notification",
		"kind", ev.Kind,
		"to", ev.To,
		"agreement_id", ev.AgreementID,
		"money_request_id", ev.MoneyRequestID,
		"message", ev.Message,
	)
	return nil
}

// RedisQueue pushes events as JSON onto a Redis list consumed by the mail and
// push workers.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue sink writing to the given list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

// Notify implements Notifier.
func (q *RedisQueue) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// Multi fans an event out to several notifiers and reports the first failure.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
