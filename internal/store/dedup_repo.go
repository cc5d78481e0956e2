// Package store provides the DedupRepo interface for inbound webhook deduplication.
package store

import (
	"context"
	"time"
)

// DedupRepo records channel message ids so redelivered webhooks are processed once.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, businessID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error

	// PurgeInbound deletes records received before the cutoff.
	PurgeInbound(ctx context.Context, before time.Time) (int, error)
}
