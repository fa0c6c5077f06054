package service

import (
	"errors"
	"fmt"
	"time"

	"canvas-sync-server/internal/domain"
	"canvas-sync-server/internal/repository"

	"github.com/google/uuid"
)

var ErrBoardAccess = errors.New("unauthorized: board does not belong to user")

type BoardService struct {
	boardRepo repository.BoardRepository
}

func NewBoardService(boardRepo repository.BoardRepository) *BoardService {
	return &BoardService{boardRepo: boardRepo}
}

func (s *BoardService) Create(ownerID string, req *domain.CreateBoardRequest) (*domain.Board, error) {
	board := &domain.Board{
		ID:       uuid.New().String(),
		OwnerID:  ownerID,
		Members:  []string{},
		Name:     req.Name,
		Elements: []domain.Element{},
		Links:    []domain.Connection{},
		State: domain.CanvasState{
			Scale:    1.0,
			Position: domain.Point{X: 0, Y: 0},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Version:   1,
	}

	if err := s.boardRepo.Create(board); err != nil {
		return nil, fmt.Errorf("failed to create board: %w", err)
	}

	return board, nil
}

// List returns board summaries without the element payloads; clients fetch
// the full snapshot when they open a board.
func (s *BoardService) List(ownerID string) ([]*domain.BoardResponse, error) {
	boards, err := s.boardRepo.List(ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}

	summaries := make([]*domain.BoardResponse, 0, len(boards))
	for _, b := range boards {
		if b.IsDeleted {
			continue
		}
		summaries = append(summaries, &domain.BoardResponse{
			ID:        b.ID,
			Name:      b.Name,
			CreatedAt: b.CreatedAt,
			UpdatedAt: b.UpdatedAt,
			Version:   b.Version,
		})
	}

	return summaries, nil
}

// GetByID returns the board when the user is its owner or a member.
func (s *BoardService) GetByID(userID, boardID string) (*domain.Board, error) {
	board, err := s.boardRepo.FindByID(boardID)
	if err != nil {
		return nil, err
	}

	if board.IsDeleted {
		return nil, fmt.Errorf("board not found")
	}
	if board.OwnerID != userID && !isMember(board, userID) {
		return nil, ErrBoardAccess
	}

	return board, nil
}

// ownedBoard is the write-side access check: only the owner may rename,
// delete, or share a board.
func (s *BoardService) ownedBoard(userID, boardID string) (*domain.Board, error) {
	board, err := s.boardRepo.FindByID(boardID)
	if err != nil {
		return nil, err
	}

	if board.IsDeleted {
		return nil, fmt.Errorf("board not found")
	}
	if board.OwnerID != userID {
		return nil, ErrBoardAccess
	}

	return board, nil
}

func isMember(board *domain.Board, userID string) bool {
	for _, m := range board.Members {
		if m == userID {
			return true
		}
	}
	return false
}

func (s *BoardService) Update(userID, boardID string, req *domain.UpdateBoardRequest) (*domain.Board, error) {
	board, err := s.ownedBoard(userID, boardID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		board.Name = *req.Name
	}

	board.UpdatedAt = time.Now()
	board.Version++

	if err := s.boardRepo.Update(board); err != nil {
		return nil, fmt.Errorf("failed to update board: %w", err)
	}

	return board, nil
}

func (s *BoardService) Delete(userID, boardID string) error {
	if _, err := s.ownedBoard(userID, boardID); err != nil {
		return err
	}

	if err := s.boardRepo.Delete(boardID); err != nil {
		return fmt.Errorf("failed to delete board: %w", err)
	}

	return nil
}

// Share adds a user to the board's member list, granting them read access
// and a seat in the collaboration session. Sharing is idempotent.
func (s *BoardService) Share(ownerID, boardID, userID string) (*domain.Board, error) {
	board, err := s.ownedBoard(ownerID, boardID)
	if err != nil {
		return nil, err
	}

	if userID == board.OwnerID || isMember(board, userID) {
		return board, nil
	}

	board.Members = append(board.Members, userID)
	board.UpdatedAt = time.Now()
	board.Version++

	if err := s.boardRepo.Update(board); err != nil {
		return nil, fmt.Errorf("failed to share board: %w", err)
	}

	return board, nil
}

// Authorize reports whether the user may join the board's collaboration
// session. Owners and members pass.
func (s *BoardService) Authorize(userID, boardID string) error {
	_, err := s.GetByID(userID, boardID)
	return err
}
