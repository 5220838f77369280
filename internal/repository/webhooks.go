package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/referral-ledger/internal/model"
)

// AppendWebhookLog сохраняет диагностическую запись о входящем событии.
func (r *PostgresRepository) AppendWebhookLog(ctx context.Context, e *model.WebhookLogEntry) (int64, error) {
	payload := strings.ReplaceAll(strings.ToValidUTF8(string(e.Payload), ""), "\x00", "")
	err := r.pool.QueryRow(ctx,
		`INSERT INTO webhook_log (event_id, event_type, payload, signature_valid, outcome, error)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		e.EventID, e.EventType, payload, e.SignatureValid, string(e.Outcome), e.Error,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert webhook log: %w", err)
	}
	return e.ID, nil
}

// ListWebhookLog возвращает последние записи журнала событий.
func (r *PostgresRepository) ListWebhookLog(ctx context.Context, limit int) ([]model.WebhookLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, event_id, event_type, payload, signature_valid, outcome, error, created_at
		 FROM webhook_log
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select webhook log: %w", err)
	}
	defer rows.Close()

	var res []model.WebhookLogEntry
	for rows.Next() {
		var (
			e       model.WebhookLogEntry
			payload string
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &payload, &e.SignatureValid, &outcome, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook log: %w", err)
		}
		e.Payload = []byte(payload)
		e.Outcome = model.WebhookOutcome(outcome)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
