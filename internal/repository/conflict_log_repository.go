package repository

import (
	"context"
	"fmt"

	"canvas-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ConflictLogRepository persists resolved-conflict audit entries. The
// resolver's operation history itself is never persisted; only resolution
// outcomes are, for the conflict-history endpoint.
type ConflictLogRepository interface {
	Create(record *domain.ConflictRecord) error
	ListByBoard(boardID string, limit int) ([]*domain.ConflictRecord, error)
}

type conflictLogRepository struct {
	client *kivik.Client
	dbName string
}

func NewConflictLogRepository(client *kivik.Client, dbName string) ConflictLogRepository {
	return &conflictLogRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *conflictLogRepository) Create(record *domain.ConflictRecord) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("conflict:%s", record.ID)
	_, err := db.Put(context.Background(), docID, record)
	if err != nil {
		return fmt.Errorf("failed to create conflict record: %w", err)
	}

	return nil
}

func (r *conflictLogRepository) ListByBoard(boardID string, limit int) ([]*domain.ConflictRecord, error) {
	db := r.client.DB(r.dbName)

	if limit <= 0 {
		limit = 50
	}

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"board_id": boardID,
			"strategy": map[string]interface{}{"$exists": true},
		},
		"limit": limit,
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list conflict records: %w", err)
	}
	defer rows.Close()

	var records []*domain.ConflictRecord
	for rows.Next() {
		var record domain.ConflictRecord
		if err := rows.ScanDoc(&record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	return records, nil
}
