package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// MessageRepository records the mailbox message IDs a chunk discovered.
// Downstream consumers (attachment resolution, indexing) read from this
// table; the orchestrator only writes.
type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// RecordMessages bulk-inserts message IDs in a single transaction.
// Duplicates from re-processed chunks are dropped by the unique
// constraint on message_id.
func (r *MessageRepository) RecordMessages(ctx context.Context, accountID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO synced_message (id, account_id, message_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO NOTHING
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, messageID := range messageIDs {
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), accountID, messageID, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}
