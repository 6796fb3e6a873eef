// Package exchange persists a diagnostic log of committed exchanges. Live
// transcripts stay in memory; this log only records what operators need to
// investigate failures.
package exchange

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"folioassist/internal/models"
)

const (
	defaultListLimit = 100
	recordTimeout    = 5 * time.Second
)

// Service reads and writes the exchanges table.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record stores one exchange and returns it with its id.
func (s *Service) Record(ctx context.Context, ex models.Exchange) (*models.Exchange, error) {
	if strings.TrimSpace(ex.SessionID) == "" {
		return nil, errors.New("session_id is required")
	}
	if ex.Outcome == "" {
		ex.Outcome = models.OutcomeOK
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	ex.CreatedAt = ex.CreatedAt.UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (session_id, user_content, reply_content, outcome, failure_reason, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ex.SessionID, ex.UserContent, ex.ReplyContent, string(ex.Outcome), ex.FailureReason,
		ex.Latency.Milliseconds(), ex.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert exchange: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("exchange id: %w", err)
	}
	ex.ID = id
	return &ex, nil
}

// ListBySession returns the newest exchanges of a session in chronological order.
func (s *Service) ListBySession(ctx context.Context, sessionID string, limit int) ([]models.Exchange, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_content, reply_content, outcome, failure_reason, latency_ms, created_at
		FROM exchanges WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer rows.Close()

	exchanges := make([]models.Exchange, 0)
	for rows.Next() {
		var (
			ex        models.Exchange
			outcome   string
			latencyMS int64
		)
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.UserContent, &ex.ReplyContent,
			&outcome, &ex.FailureReason, &latencyMS, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		ex.Outcome = models.Outcome(outcome)
		ex.Latency = time.Duration(latencyMS) * time.Millisecond
		exchanges = append(exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
	return exchanges, nil
}

// Hook adapts Record to the widget's exchange callback. Write errors are
// logged; they never reach the visitor.
func (s *Service) Hook(log zerolog.Logger) func(models.Exchange) {
	return func(ex models.Exchange) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if _, err := s.Record(ctx, ex); err != nil {
			log.Error().Err(err).Str("session_id", ex.SessionID).Msg("record exchange failed")
		}
	}
}
