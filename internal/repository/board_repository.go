package repository

import (
	"context"
	"fmt"
	"time"

	"canvas-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type BoardRepository interface {
	Create(board *domain.Board) error
	FindByID(id string) (*domain.Board, error)
	List(ownerID string) ([]*domain.Board, error)
	Update(board *domain.Board) error
	Delete(id string) error
}

type boardRepository struct {
	client *kivik.Client
	dbName string
}

func NewBoardRepository(client *kivik.Client, dbName string) BoardRepository {
	return &boardRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *boardRepository) Create(board *domain.Board) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("board:%s", board.ID)
	_, err := db.Put(context.Background(), docID, board)
	if err != nil {
		return fmt.Errorf("failed to create board: %w", err)
	}

	return nil
}

func (r *boardRepository) FindByID(id string) (*domain.Board, error) {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("board:%s", id)
	row := db.Get(context.Background(), docID)

	var board domain.Board
	if err := row.ScanDoc(&board); err != nil {
		return nil, fmt.Errorf("failed to find board: %w", err)
	}

	return &board, nil
}

func (r *boardRepository) List(ownerID string) ([]*domain.Board, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"owner_id": ownerID,
			"elements": map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	defer rows.Close()

	var boards []*domain.Board
	for rows.Next() {
		var board domain.Board
		if err := rows.ScanDoc(&board); err != nil {
			continue
		}
		boards = append(boards, &board)
	}

	return boards, nil
}

func (r *boardRepository) Update(board *domain.Board) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("board:%s", board.ID)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		return fmt.Errorf("failed to fetch existing board for update: %w", err)
	}

	existingDoc["name"] = board.Name
	existingDoc["members"] = board.Members
	existingDoc["elements"] = board.Elements
	existingDoc["connections"] = board.Links
	existingDoc["canvas_state"] = board.State
	existingDoc["updated_at"] = time.Now()
	existingDoc["version"] = board.Version // Service should increment this
	existingDoc["is_deleted"] = board.IsDeleted

	_, err := db.Put(context.Background(), docID, existingDoc)
	if err != nil {
		return fmt.Errorf("failed to update board: %w", err)
	}

	return nil
}

func (r *boardRepository) Delete(id string) error {
	db := r.client.DB(r.dbName)
	docID := fmt.Sprintf("board:%s", id)

	var existingDoc map[string]interface{}
	row := db.Get(context.Background(), docID)
	if err := row.ScanDoc(&existingDoc); err != nil {
		return err
	}

	existingDoc["is_deleted"] = true
	existingDoc["updated_at"] = time.Now()

	if v, ok := existingDoc["version"].(float64); ok {
		existingDoc["version"] = int64(v) + 1
	}

	_, err := db.Put(context.Background(), docID, existingDoc)
	if err != nil {
		return fmt.Errorf("failed to delete board: %w", err)
	}

	return nil
}
