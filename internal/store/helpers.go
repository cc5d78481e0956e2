package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeJSON marshals v for a TEXT column, storing empty values as "".
func encodeJSON(v any, empty bool) (string, error) {
	if empty {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const jobColumns = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`

// scanJob scans a Job from a row.
func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

const businessColumns = `id, name, outbound_token, profile_json, created_at, updated_at`

func scanBusiness(row rowScanner) (models.Business, error) {
	var b models.Business
	var profileJSON string
	if err := row.Scan(&b.ID, &b.Name, &b.OutboundToken, &profileJSON, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return b, err
	}
	if profileJSON != "" {
		if err := json.Unmarshal([]byte(profileJSON), &b.Profile); err != nil {
			return b, fmt.Errorf("failed to decode profile of business %s: %w", b.ID, err)
		}
	}
	return b, nil
}

const leadColumns = `id, business_id, phone_number, name, email, citizen_id, address, city, sickness, purchase_count,
	last_message_content, last_message_status, last_message_at, followup_task_id, created_at, updated_at`

func scanLead(row rowScanner) (models.Lead, error) {
	var l models.Lead
	var lastAt sql.NullTime
	err := row.Scan(
		&l.ID, &l.BusinessID, &l.PhoneNumber, &l.Name, &l.Email, &l.CitizenID, &l.Address, &l.City, &l.Sickness,
		&l.PurchaseCount, &l.LastMessage.Content, &l.LastMessage.Status, &lastAt, &l.FollowUpTaskID,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return l, err
	}
	if lastAt.Valid {
		l.LastMessage.Timestamp = lastAt.Time
	}
	return l, nil
}

const chatColumns = `c.id, c.business_id, c.lead_id, l.phone_number, c.platform, c.status, c.intention, c.started_at`

func scanChat(row rowScanner) (models.Chat, error) {
	var c models.Chat
	err := row.Scan(&c.ID, &c.BusinessID, &c.LeadID, &c.PhoneNumber, &c.Platform, &c.Status, &c.Intention, &c.StartedAt)
	return c, err
}

const messageColumns = `id, business_id, phone_number, recipient, role, type, content, wa_message_id,
	tool_calls_json, tool_call_id, metadata_json, status, platform, sent_at`

func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var toolCallsJSON, metadataJSON string
	err := row.Scan(
		&m.ID, &m.BusinessID, &m.PhoneNumber, &m.To, &m.Role, &m.Type, &m.Content, &m.MessageID,
		&toolCallsJSON, &m.ToolCallID, &metadataJSON, &m.Status, &m.Platform, &m.Timestamp,
	)
	if err != nil {
		return m, err
	}
	m.Sender.BusinessID = m.BusinessID
	if toolCallsJSON != "" {
		if err := json.Unmarshal([]byte(toolCallsJSON), &m.ToolCalls); err != nil {
			slog.Warn("scanMessage: dropping undecodable tool calls", "id", m.ID, "error", err)
			m.ToolCalls = nil
		}
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &m.Metadata); err != nil {
			slog.Warn("scanMessage: dropping undecodable metadata", "id", m.ID, "error", err)
			m.Metadata = nil
		}
	}
	return m, nil
}

const chunkColumns = `id, business_id, source, chunk_index, content, embedding_json, created_at`

func scanChunk(row rowScanner) (DocumentChunk, error) {
	var c DocumentChunk
	var embeddingJSON string
	if err := row.Scan(&c.ID, &c.BusinessID, &c.Source, &c.Index, &c.Content, &embeddingJSON, &c.CreatedAt); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(embeddingJSON), &c.Embedding); err != nil {
		return c, fmt.Errorf("failed to decode embedding of chunk %s: %w", c.ID, err)
	}
	return c, nil
}

// encodeMessage prepares the JSON columns of a message.
func encodeMessage(m models.Message) (toolCallsJSON, metadataJSON string, err error) {
	toolCallsJSON, err = encodeJSON(m.ToolCalls, len(m.ToolCalls) == 0)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode tool calls: %w", err)
	}
	metadataJSON, err = encodeJSON(m.Metadata, len(m.Metadata) == 0)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return toolCallsJSON, metadataJSON, nil
}

// prepareMessage fills defaults for a message about to be stored.
func prepareMessage(m *models.Message) {
	if m.ID == "" {
		m.ID = util.GenerateMessageID()
	}
	if m.BusinessID == "" {
		m.BusinessID = m.Sender.BusinessID
	}
	if m.Platform == "" {
		m.Platform = models.PlatformWhatsApp
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	} else {
		m.Timestamp = m.Timestamp.UTC()
	}
}
