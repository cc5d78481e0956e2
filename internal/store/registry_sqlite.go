package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

func (s *SQLiteStore) BusinessExists(ctx context.Context, businessID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM businesses WHERE id = ?`, businessID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("business exists check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetBusiness(ctx context.Context, businessID string) (*models.Business, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = ?`, businessID)
	b, err := scanBusiness(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.BusinessNotFoundError{BusinessID: businessID}
	}
	if err != nil {
		return nil, fmt.Errorf("get business failed: %w", err)
	}
	return &b, nil
}

func (s *SQLiteStore) GetTokenByID(ctx context.Context, businessID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT outbound_token FROM businesses WHERE id = ?`, businessID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("token lookup: %w", &models.BusinessNotFoundError{BusinessID: businessID})
	}
	if err != nil {
		return "", fmt.Errorf("token lookup failed: %w", err)
	}
	return token, nil
}

func (s *SQLiteStore) UpsertBusiness(ctx context.Context, b models.Business) error {
	profileJSON, err := json.Marshal(b.Profile)
	if err != nil {
		return fmt.Errorf("failed to encode business profile: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO businesses (id, name, outbound_token, profile_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, outbound_token = excluded.outbound_token,
		   profile_json = excluded.profile_json, updated_at = excluded.updated_at`,
		b.ID, b.Name, b.OutboundToken, string(profileJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert business failed: %w", err)
	}
	slog.Debug("SQLiteStore.UpsertBusiness", "businessID", b.ID)
	return nil
}

func (s *SQLiteStore) ListBusinesses(ctx context.Context) ([]models.Business, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+businessColumns+` FROM businesses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list businesses failed: %w", err)
	}
	defer rows.Close()

	var out []models.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LeadExists(ctx context.Context, businessID, phoneNumber string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM leads WHERE business_id = ? AND phone_number = ?`, businessID, phoneNumber,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lead exists check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SaveLead(ctx context.Context, businessID string, lead models.Lead) (*models.Lead, error) {
	now := time.Now().UTC()
	if lead.ID == "" {
		lead.ID = util.GenerateLeadID()
	}
	lastAt := lead.LastMessage.Timestamp
	if lastAt.IsZero() {
		lastAt = now
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, business_id, phone_number, name, email, citizen_id, address, city, sickness, purchase_count,
		   last_message_content, last_message_status, last_message_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		lead.ID, businessID, lead.PhoneNumber, lead.Name, lead.Email, lead.CitizenID, lead.Address, lead.City, lead.Sickness,
		lead.PurchaseCount, lead.LastMessage.Content, lead.LastMessage.Status, lastAt.UTC(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("save lead failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		slog.Debug("SQLiteStore.SaveLead: lead already existed", "businessID", businessID, "phone", lead.PhoneNumber)
	}
	return s.GetLead(ctx, businessID, lead.PhoneNumber)
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, businessID string, lead models.Lead) (*models.Lead, error) {
	now := time.Now().UTC()
	if lead.ID == "" {
		lead.ID = util.GenerateLeadID()
	}
	var lastAt interface{}
	if !lead.LastMessage.Timestamp.IsZero() {
		lastAt = lead.LastMessage.Timestamp.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, business_id, phone_number, name, email, citizen_id, address, city, sickness, purchase_count,
		   last_message_content, last_message_status, last_message_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (business_id, phone_number) DO UPDATE SET
		   name = excluded.name, email = excluded.email, citizen_id = excluded.citizen_id,
		   address = excluded.address, city = excluded.city, sickness = excluded.sickness,
		   purchase_count = excluded.purchase_count, last_message_content = excluded.last_message_content,
		   last_message_status = excluded.last_message_status, last_message_at = excluded.last_message_at,
		   updated_at = excluded.updated_at`,
		lead.ID, businessID, lead.PhoneNumber, lead.Name, lead.Email, lead.CitizenID, lead.Address, lead.City, lead.Sickness,
		lead.PurchaseCount, lead.LastMessage.Content, lead.LastMessage.Status, lastAt, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("update lead failed: %w", err)
	}
	slog.Debug("SQLiteStore.UpdateLead", "businessID", businessID, "phone", lead.PhoneNumber)
	return s.GetLead(ctx, businessID, lead.PhoneNumber)
}

func (s *SQLiteStore) GetLead(ctx context.Context, businessID, phoneNumber string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE business_id = ? AND phone_number = ?`, businessID, phoneNumber)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead failed: %w", err)
	}
	return &l, nil
}

func (s *SQLiteStore) ReplaceFollowUpTask(ctx context.Context, businessID, phoneNumber, expected, next string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE leads SET followup_task_id = ?, updated_at = ?
		 WHERE business_id = ? AND phone_number = ? AND followup_task_id = ?`,
		next, time.Now().UTC(), businessID, phoneNumber, expected,
	)
	if err != nil {
		return false, fmt.Errorf("replace follow-up task failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replace follow-up task rows affected failed: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ChatExists(ctx context.Context, businessID, phoneNumber string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chats c JOIN leads l ON l.id = c.lead_id
		 WHERE c.business_id = ? AND l.phone_number = ? AND c.status = 'ongoing'`, businessID, phoneNumber,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("chat exists check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CreateChat(ctx context.Context, businessID, phoneNumber, platform string) (*models.Chat, error) {
	lead, err := s.GetLead(ctx, businessID, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (id, business_id, lead_id, platform, status, intention, started_at)
		 VALUES (?, ?, ?, ?, 'ongoing', ?, ?)
		 ON CONFLICT DO NOTHING`,
		util.GenerateChatID(), businessID, lead.ID, platform, models.DefaultIntention, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("create chat failed: %w", err)
	}
	return s.GetOngoingChat(ctx, businessID, phoneNumber)
}

func (s *SQLiteStore) GetOngoingChat(ctx context.Context, businessID, phoneNumber string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats c JOIN leads l ON l.id = c.lead_id
		 WHERE c.business_id = ? AND l.phone_number = ? AND c.status = 'ongoing'`, businessID, phoneNumber)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat failed: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	prepareMessage(&msg)
	toolCallsJSON, metadataJSON, err := encodeMessage(msg)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, business_id, phone_number, recipient, role, type, content, wa_message_id,
		   tool_calls_json, tool_call_id, metadata_json, status, platform, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.BusinessID, msg.PhoneNumber, msg.To, msg.Role, msg.Type, msg.Content, msg.MessageID,
		toolCallsJSON, msg.ToolCallID, metadataJSON, msg.Status, msg.Platform, msg.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("save message failed: %w", err)
	}
	slog.Debug("SQLiteStore.SaveMessage", "id", msg.ID, "businessID", msg.BusinessID, "phone", msg.PhoneNumber, "role", msg.Role)
	return &msg, nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, businessID, phoneNumber string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE business_id = ? AND phone_number = ?
		 ORDER BY sent_at DESC, seq DESC LIMIT ?`, businessID, phoneNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages query failed: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages iteration failed: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, waMessageID string, status models.MessageStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET status = ? WHERE wa_message_id = ?`, status, waMessageID)
	if err != nil {
		return false, fmt.Errorf("update message status failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) DeleteMessages(ctx context.Context, phoneNumber, businessID string) (int64, error) {
	query := `DELETE FROM messages WHERE phone_number = ?`
	args := []any{phoneNumber}
	if businessID != "" {
		query += ` AND business_id = ?`
		args = append(args, businessID)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Info("SQLiteStore.DeleteMessages", "phone", phoneNumber, "businessID", businessID, "deleted", n)
	return n, nil
}

func (s *SQLiteStore) ReplaceChunks(ctx context.Context, businessID, source string, chunks []DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace chunks failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE business_id = ? AND source = ?`, businessID, source); err != nil {
		return fmt.Errorf("delete old chunks failed: %w", err)
	}
	now := time.Now().UTC()
	for i, c := range chunks {
		embeddingJSON, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
		id := c.ID
		if id == "" {
			id = util.NewEntityID("chunk_")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO document_chunks (id, business_id, source, chunk_index, content, embedding_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, businessID, source, i, c.Content, string(embeddingJSON), now,
		)
		if err != nil {
			return fmt.Errorf("insert chunk failed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace chunks failed: %w", err)
	}
	slog.Debug("SQLiteStore.ReplaceChunks", "businessID", businessID, "source", source, "count", len(chunks))
	return nil
}

func (s *SQLiteStore) ListChunks(ctx context.Context, businessID string) ([]DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM document_chunks WHERE business_id = ? ORDER BY source, chunk_index`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list chunks failed: %w", err)
	}
	defer rows.Close()

	var out []DocumentChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
