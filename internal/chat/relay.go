package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"peerchat/internal/event"
	"peerchat/internal/identity"
	"peerchat/internal/metrics"
	"peerchat/internal/registry"
)

// Relay accepts send requests, persists them, and forwards the persisted
// message to the recipient's live connections. Persistence always happens
// before any delivery is attempted, so redelivery via History is possible
// regardless of how the live push goes.
type Relay struct {
	store Store
	reg   *registry.Registry
	log   zerolog.Logger

	// Breaker state: after failThreshold consecutive append failures the
	// relay refuses new sends until a probe sees the store healthy again.
	// Live routing and signaling are unaffected.
	mu       sync.Mutex
	failures int
	degraded bool

	failThreshold int
}

func NewRelay(store Store, reg *registry.Registry, log zerolog.Logger, failThreshold int) *Relay {
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &Relay{
		store:         store,
		reg:           reg,
		log:           log.With().Str("component", "relay").Logger(),
		failThreshold: failThreshold,
	}
}

// Send validates, persists and fans out one message. Delivery to zero
// connections is success; the recipient is offline and will read history on
// next connect.
func (r *Relay) Send(ctx context.Context, sender identity.Identity, recipientID, body string) (DeliveryRecord, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		metrics.SendFailures.WithLabelValues("validation").Inc()
		return DeliveryRecord{}, fmt.Errorf("%w: empty body", ErrValidation)
	}
	if recipientID == "" {
		metrics.SendFailures.WithLabelValues("validation").Inc()
		return DeliveryRecord{}, fmt.Errorf("%w: missing recipient", ErrValidation)
	}
	// Self-chat is rejected: a degenerate pair key would make history lookups
	// ambiguous.
	if recipientID == sender.ID {
		metrics.SendFailures.WithLabelValues("validation").Inc()
		return DeliveryRecord{}, fmt.Errorf("%w: cannot message yourself", ErrValidation)
	}

	if r.isDegraded() {
		metrics.SendFailures.WithLabelValues("storage").Inc()
		return DeliveryRecord{}, fmt.Errorf("%w: store unavailable", ErrStorage)
	}

	msg, err := r.store.Append(ctx, Message{
		SenderID:    sender.ID,
		SenderName:  sender.Name,
		RecipientID: recipientID,
		Body:        body,
	})
	if err != nil {
		r.recordFailure()
		metrics.SendFailures.WithLabelValues("storage").Inc()
		return DeliveryRecord{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	r.recordSuccess()
	metrics.MessagesRelayed.Inc()

	frame := event.MustEncode(event.KindMessageReceived, event.MessageReceived{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Body:       msg.Body,
		Timestamp:  msg.CreatedAt,
	})

	notified := 0
	for _, sink := range r.reg.ConnectionsOf(recipientID) {
		if err := sink.Send(frame); err != nil {
			r.log.Debug().Str("conn", sink.ID()).Err(err).Msg("live push failed")
			continue
		}
		notified++
		metrics.LiveDeliveries.Inc()
	}

	return DeliveryRecord{Message: msg, Notified: notified}, nil
}

// History returns the full ordered conversation between two users, regardless
// of argument order.
func (r *Relay) History(ctx context.Context, userA, userB string) ([]Message, error) {
	msgs, err := r.store.Conversation(ctx, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return msgs, nil
}

// Degraded reports whether the relay is currently refusing sends.
func (r *Relay) Degraded() bool {
	return r.isDegraded()
}

// RunProbe periodically pings the store while the breaker is open and closes
// it on the first healthy response. Blocks until ctx is done.
func (r *Relay) RunProbe(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.isDegraded() {
				continue
			}
			if err := r.store.Ping(ctx); err != nil {
				r.log.Warn().Err(err).Msg("store still unavailable")
				continue
			}
			r.mu.Lock()
			r.degraded = false
			r.failures = 0
			r.mu.Unlock()
			r.log.Info().Msg("store recovered, accepting sends again")
		}
	}
}

func (r *Relay) isDegraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

func (r *Relay) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	if r.failures >= r.failThreshold && !r.degraded {
		r.degraded = true
		r.log.Error().Int("failures", r.failures).Msg("store failure threshold reached, refusing new sends")
	}
}

func (r *Relay) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
}
