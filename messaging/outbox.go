package messaging

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"firecore/store"
)

const drainBatch = 50

// OutboxDrainer periodically sends pending outbox messages. A failed send
// stays pending until it has been retried maxRetries times.
type OutboxDrainer struct {
	db         *store.DB
	pub        Publisher
	interval   time.Duration
	maxRetries int
	log        zerolog.Logger
}

func NewOutboxDrainer(db *store.DB, pub Publisher, interval time.Duration, maxRetries int, logger zerolog.Logger) *OutboxDrainer {
	if interval <= 0 {
		interval = time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &OutboxDrainer{
		db:         db,
		pub:        pub,
		interval:   interval,
		maxRetries: maxRetries,
		log:        logger.With().Str("component", "outbox").Logger(),
	}
}

// Run drains on every tick until ctx is done.
func (d *OutboxDrainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain sends one batch and returns how many messages were acknowledged.
func (d *OutboxDrainer) Drain(ctx context.Context) int {
	msgs, err := d.db.ListPendingOutbox(ctx, drainBatch, d.maxRetries)
	if err != nil {
		d.log.Error().Err(err).Msg("list pending")
		return 0
	}
	sent := 0
	for _, msg := range msgs {
		if err := d.pub.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			d.log.Warn().Err(err).Str("topic", msg.Topic).Int64("id", msg.ID).Int("retries", msg.Retries+1).Msg("publish failed")
			if err := d.db.IncrementOutboxRetries(ctx, msg.ID); err != nil {
				d.log.Error().Err(err).Int64("id", msg.ID).Msg("increment retries")
			}
			continue
		}
		if err := d.db.AckOutbox(ctx, msg.ID); err != nil {
			d.log.Error().Err(err).Int64("id", msg.ID).Msg("ack")
			continue
		}
		sent++
	}
	return sent
}
