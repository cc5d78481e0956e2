// Package store provides persistent storage backends for LeadPipe.
//
// SQLite and PostgreSQL implementations share the same repository interfaces:
// the Business Registry, the Lead Store, the Chat Store, the message log,
// durable jobs, inbound deduplication and indexed document chunks.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// BusinessRepo is the Business Registry. Businesses are onboarded out of band.
type BusinessRepo interface {
	BusinessExists(ctx context.Context, businessID string) (bool, error)
	// GetBusiness returns *models.BusinessNotFoundError when the id is unknown.
	GetBusiness(ctx context.Context, businessID string) (*models.Business, error)
	GetTokenByID(ctx context.Context, businessID string) (string, error)
	UpsertBusiness(ctx context.Context, b models.Business) error
	ListBusinesses(ctx context.Context) ([]models.Business, error)
}

// LeadRepo is the Lead Store. Leads are unique per (business, phone number).
type LeadRepo interface {
	LeadExists(ctx context.Context, businessID, phoneNumber string) (bool, error)
	// SaveLead creates the lead if it does not exist and returns the stored record.
	// Concurrent first contacts resolve to the same row.
	SaveLead(ctx context.Context, businessID string, lead models.Lead) (*models.Lead, error)
	// UpdateLead upserts the mutable lead fields. The follow-up task slot is left untouched.
	UpdateLead(ctx context.Context, businessID string, lead models.Lead) (*models.Lead, error)
	GetLead(ctx context.Context, businessID, phoneNumber string) (*models.Lead, error)
	// ReplaceFollowUpTask swaps the stored follow-up task id from expected to next.
	// It returns false when the stored value no longer equals expected.
	ReplaceFollowUpTask(ctx context.Context, businessID, phoneNumber, expected, next string) (bool, error)
}

// ChatRepo is the Chat Store. At most one ongoing chat exists per (business, lead).
type ChatRepo interface {
	ChatExists(ctx context.Context, businessID, phoneNumber string) (bool, error)
	// CreateChat creates an ongoing chat unless one exists and returns the ongoing chat.
	CreateChat(ctx context.Context, businessID, phoneNumber, platform string) (*models.Chat, error)
	GetOngoingChat(ctx context.Context, businessID, phoneNumber string) (*models.Chat, error)
}

// MessageRepo persists every inbound and outbound turn.
type MessageRepo interface {
	SaveMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	// GetMessages returns at most limit turns of the thread, newest first.
	GetMessages(ctx context.Context, businessID, phoneNumber string, limit int) ([]models.Message, error)
	// UpdateMessageStatus sets the delivery status of the message with the given channel id.
	UpdateMessageStatus(ctx context.Context, waMessageID string, status models.MessageStatus) (bool, error)
	// DeleteMessages removes a lead's messages, across all businesses when businessID is empty.
	DeleteMessages(ctx context.Context, phoneNumber, businessID string) (int64, error)
}

// DocumentChunk is an embedded slice of an indexed business document.
type DocumentChunk struct {
	ID         string
	BusinessID string
	Source     string
	Index      int
	Content    string
	Embedding  []float64
	CreatedAt  time.Time
}

// ChunkRepo stores document chunks for similarity search.
type ChunkRepo interface {
	// ReplaceChunks atomically swaps every chunk of source for the given ones.
	ReplaceChunks(ctx context.Context, businessID, source string, chunks []DocumentChunk) error
	ListChunks(ctx context.Context, businessID string) ([]DocumentChunk, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	BusinessRepo
	LeadRepo
	ChatRepo
	MessageRepo
	ChunkRepo
	JobRepo
	DedupRepo
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
	// Driver is "sqlite3" or "postgres"; detected from the DSN when empty.
	Driver string
}

// Option defines a functional option for configuring a store.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "sqlite3"
	}
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "postgres"
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the store selected by the options.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDSNType(cfg.DSN)
	}
	if driver == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// Compile-time checks that both backends implement Store.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
