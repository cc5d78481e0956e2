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

func (s *PostgresStore) BusinessExists(ctx context.Context, businessID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM businesses WHERE id = $1`, businessID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("business exists check failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) GetBusiness(ctx context.Context, businessID string) (*models.Business, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, businessID)
	b, err := scanBusiness(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.BusinessNotFoundError{BusinessID: businessID}
	}
	if err != nil {
		return nil, fmt.Errorf("get business failed: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) GetTokenByID(ctx context.Context, businessID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT outbound_token FROM businesses WHERE id = $1`, businessID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("token lookup: %w", &models.BusinessNotFoundError{BusinessID: businessID})
	}
	if err != nil {
		return "", fmt.Errorf("token lookup failed: %w", err)
	}
	return token, nil
}

func (s *PostgresStore) UpsertBusiness(ctx context.Context, b models.Business) error {
	profileJSON, err := json.Marshal(b.Profile)
	if err != nil {
		return fmt.Errorf("failed to encode business profile: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO businesses (id, name, outbound_token, profile_json, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, outbound_token = excluded.outbound_token,
		   profile_json = excluded.profile_json, updated_at = excluded.updated_at`,
		b.ID, b.Name, b.OutboundToken, string(profileJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert business failed: %w", err)
	}
	slog.Debug("PostgresStore.UpsertBusiness", "businessID", b.ID)
	return nil
}

func (s *PostgresStore) ListBusinesses(ctx context.Context) ([]models.Business, error) {
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

func (s *PostgresStore) LeadExists(ctx context.Context, businessID, phoneNumber string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM leads WHERE business_id = $1 AND phone_number = $2`, businessID, phoneNumber,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lead exists check failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) SaveLead(ctx context.Context, businessID string, lead models.Lead) (*models.Lead, error) {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT DO NOTHING`,
		lead.ID, businessID, lead.PhoneNumber, lead.Name, lead.Email, lead.CitizenID, lead.Address, lead.City, lead.Sickness,
		lead.PurchaseCount, lead.LastMessage.Content, lead.LastMessage.Status, lastAt.UTC(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("save lead failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		slog.Debug("PostgresStore.SaveLead: lead already existed", "businessID", businessID, "phone", lead.PhoneNumber)
	}
	return s.GetLead(ctx, businessID, lead.PhoneNumber)
}

func (s *PostgresStore) UpdateLead(ctx context.Context, businessID string, lead models.Lead) (*models.Lead, error) {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
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
	slog.Debug("PostgresStore.UpdateLead", "businessID", businessID, "phone", lead.PhoneNumber)
	return s.GetLead(ctx, businessID, lead.PhoneNumber)
}

func (s *PostgresStore) GetLead(ctx context.Context, businessID, phoneNumber string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE business_id = $1 AND phone_number = $2`, businessID, phoneNumber)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead failed: %w", err)
	}
	return &l, nil
}

func (s *PostgresStore) ReplaceFollowUpTask(ctx context.Context, businessID, phoneNumber, expected, next string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE leads SET followup_task_id = $1, updated_at = $2
		 WHERE business_id = $3 AND phone_number = $4 AND followup_task_id = $5`,
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

func (s *PostgresStore) ChatExists(ctx context.Context, businessID, phoneNumber string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chats c JOIN leads l ON l.id = c.lead_id
		 WHERE c.business_id = $1 AND l.phone_number = $2 AND c.status = 'ongoing'`, businessID, phoneNumber,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("chat exists check failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) CreateChat(ctx context.Context, businessID, phoneNumber, platform string) (*models.Chat, error) {
	lead, err := s.GetLead(ctx, businessID, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chats (id, business_id, lead_id, platform, status, intention, started_at)
		 VALUES ($1, $2, $3, $4, 'ongoing', $5, $6)
		 ON CONFLICT DO NOTHING`,
		util.GenerateChatID(), businessID, lead.ID, platform, models.DefaultIntention, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("create chat failed: %w", err)
	}
	return s.GetOngoingChat(ctx, businessID, phoneNumber)
}

func (s *PostgresStore) GetOngoingChat(ctx context.Context, businessID, phoneNumber string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats c JOIN leads l ON l.id = c.lead_id
		 WHERE c.business_id = $1 AND l.phone_number = $2 AND c.status = 'ongoing'`, businessID, phoneNumber)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat failed: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	prepareMessage(&msg)
	toolCallsJSON, metadataJSON, err := encodeMessage(msg)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, business_id, phone_number, recipient, role, type, content, wa_message_id,
		   tool_calls_json, tool_call_id, metadata_json, status, platform, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		msg.ID, msg.BusinessID, msg.PhoneNumber, msg.To, msg.Role, msg.Type, msg.Content, msg.MessageID,
		toolCallsJSON, msg.ToolCallID, metadataJSON, msg.Status, msg.Platform, msg.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("save message failed: %w", err)
	}
	slog.Debug("PostgresStore.SaveMessage", "id", msg.ID, "businessID", msg.BusinessID, "phone", msg.PhoneNumber, "role", msg.Role)
	return &msg, nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, businessID, phoneNumber string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE business_id = $1 AND phone_number = $2
		 ORDER BY sent_at DESC, seq DESC LIMIT $3`, businessID, phoneNumber, limit)
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

func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, waMessageID string, status models.MessageStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET status = $1 WHERE wa_message_id = $2`, status, waMessageID)
	if err != nil {
		return false, fmt.Errorf("update message status failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) DeleteMessages(ctx context.Context, phoneNumber, businessID string) (int64, error) {
	query := `DELETE FROM messages WHERE phone_number = $1`
	args := []any{phoneNumber}
	if businessID != "" {
		query += ` AND business_id = $2`
		args = append(args, businessID)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Info("PostgresStore.DeleteMessages", "phone", phoneNumber, "businessID", businessID, "deleted", n)
	return n, nil
}

func (s *PostgresStore) ReplaceChunks(ctx context.Context, businessID, source string, chunks []DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace chunks failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE business_id = $1 AND source = $2`, businessID, source); err != nil {
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
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, businessID, source, i, c.Content, string(embeddingJSON), now,
		)
		if err != nil {
			return fmt.Errorf("insert chunk failed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace chunks failed: %w", err)
	}
	slog.Debug("PostgresStore.ReplaceChunks", "businessID", businessID, "source", source, "count", len(chunks))
	return nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, businessID string) ([]DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM document_chunks WHERE business_id = $1 ORDER BY source, chunk_index`, businessID)
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
