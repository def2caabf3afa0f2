package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/echolearn/internal/model"
)

// PostgresOwnershipRepo はPostgreSQLを使用した会話所有記録リポジトリ。
type PostgresOwnershipRepo struct {
	db *sql.DB
}

// NewPostgresOwnershipRepo はPostgresOwnershipRepoを生成する。
func NewPostgresOwnershipRepo(db *sql.DB) *PostgresOwnershipRepo {
	return &PostgresOwnershipRepo{db: db}
}

// Add は所有記録をINSERT ... ON CONFLICT DO NOTHINGで追加する。
// 競合した場合は既存の記録を読み直して返す。
func (r *PostgresOwnershipRepo) Add(ctx context.Context, userID, conversationID string, claimedAt time.Time) (*model.ConversationOwnership, bool, error) {
	rec := &model.ConversationOwnership{UserID: userID, ConversationID: conversationID}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO conversation_ownerships (user_id, conversation_id, claimed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, conversation_id) DO NOTHING
		 RETURNING claimed_at`,
		userID, conversationID, claimedAt,
	).Scan(&rec.ClaimedAt)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert conversation ownership: %w", err)
	}

	// 既に登録済み
	err = r.db.QueryRowContext(ctx,
		`SELECT claimed_at FROM conversation_ownerships
		 WHERE user_id = $1 AND conversation_id = $2`,
		userID, conversationID,
	).Scan(&rec.ClaimedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing conversation ownership: %w", err)
	}
	return rec, false, nil
}

// Exists はアカウントが会話IDを所有しているかを返す。
func (r *PostgresOwnershipRepo) Exists(ctx context.Context, userID, conversationID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM conversation_ownerships
			WHERE user_id = $1 AND conversation_id = $2
		)`,
		userID, conversationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation ownership: %w", err)
	}
	return exists, nil
}

// ListByUserID はアカウントの所有記録を登録日時の昇順で返す。
func (r *PostgresOwnershipRepo) ListByUserID(ctx context.Context, userID string) ([]model.ConversationOwnership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, conversation_id, claimed_at
		 FROM conversation_ownerships
		 WHERE user_id = $1
		 ORDER BY claimed_at ASC, conversation_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation ownerships: %w", err)
	}
	defer rows.Close()

	records := []model.ConversationOwnership{}
	for rows.Next() {
		var rec model.ConversationOwnership
		if err := rows.Scan(&rec.UserID, &rec.ConversationID, &rec.ClaimedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation ownership: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation ownerships: %w", err)
	}
	return records, nil
}

// compile-time interface check
var _ OwnershipRepository = (*PostgresOwnershipRepo)(nil)
