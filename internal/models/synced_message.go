package models

import "time"

// SyncedMessage records one mailbox message ID discovered by a chunk.
// The unique message_id constraint makes re-claimed chunks idempotent:
// a chunk that is swept and re-processed inserts duplicates as no-ops.
type SyncedMessage struct {
	ID        string    `gorm:"column:id;primaryKey"`
	AccountID string    `gorm:"column:account_id;index"`
	MessageID string    `gorm:"column:message_id;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (SyncedMessage) TableName() string {
	return "synced_message"
}
