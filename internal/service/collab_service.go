package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"canvas-sync-server/internal/domain"
	"canvas-sync-server/internal/pubsub"
	"canvas-sync-server/internal/repository"
	"canvas-sync-server/internal/resolver"
	"canvas-sync-server/internal/websocket"

	"github.com/google/uuid"
)

// Broadcaster is the board-room fanout the collab service needs from the
// websocket layer.
type Broadcaster interface {
	BroadcastToBoard(boardID string, message *websocket.Message, excludeClientID string) error
}

// OperationResult is what the caller gets back for one incoming operation:
// the operation that was actually applied, plus the conflict and resolution
// when one was detected.
type OperationResult struct {
	Applied    domain.Operation   `json:"applied"`
	Conflict   *domain.Conflict   `json:"conflict,omitempty"`
	Resolution *domain.Resolution `json:"resolution,omitempty"`
}

// CollabService owns one resolver per board and the full path of an incoming
// operation: detect, record, resolve, apply to the board snapshot, broadcast
// locally, and publish to the bus for other nodes.
type CollabService struct {
	boardRepo   repository.BoardRepository
	conflictLog repository.ConflictLogRepository
	broadcaster Broadcaster
	bus         pubsub.Bus
	nodeID      string
	maxAge      time.Duration

	mu        sync.Mutex
	resolvers map[string]*resolver.Resolver
}

func NewCollabService(
	boardRepo repository.BoardRepository,
	conflictLog repository.ConflictLogRepository,
	broadcaster Broadcaster,
	bus pubsub.Bus,
	historyMaxAge time.Duration,
) *CollabService {
	if historyMaxAge <= 0 {
		historyMaxAge = resolver.DefaultMaxAge
	}
	return &CollabService{
		boardRepo:   boardRepo,
		conflictLog: conflictLog,
		broadcaster: broadcaster,
		bus:         bus,
		nodeID:      uuid.New().String(),
		maxAge:      historyMaxAge,
		resolvers:   make(map[string]*resolver.Resolver),
	}
}

func (s *CollabService) boardResolver(boardID string) *resolver.Resolver {
	if r, ok := s.resolvers[boardID]; ok {
		return r
	}
	r := resolver.New()
	s.resolvers[boardID] = r
	return r
}

// HandleOperation runs the conflict pipeline for one operation arriving from
// a client on this node.
func (s *CollabService) HandleOperation(boardID, userID, clientID string, kind domain.OperationKind, data domain.OperationPayload) (*OperationResult, error) {
	s.mu.Lock()
	r := s.boardResolver(boardID)
	conflict := r.DetectConflict(kind, data, userID)
	r.RecordOperation(kind, data, userID)

	result := &OperationResult{
		Applied: domain.Operation{
			Kind:      kind,
			Data:      data,
			UserID:    userID,
			Timestamp: time.Now().UnixMilli(),
		},
	}

	if conflict != nil {
		resolution := r.ResolveConflict(conflict)
		result.Conflict = conflict
		result.Resolution = &resolution
		if resolution.Apply {
			result.Applied = resolution.ResolvedOperation
		}
	}
	s.mu.Unlock()

	if conflict != nil {
		s.logConflict(boardID, result)
	}

	if err := s.applyToBoard(boardID, result.Applied); err != nil {
		// Keep broadcasting so connected clients stay consistent with
		// each other even when the snapshot write fails.
		log.Printf("failed to apply operation to board %s: %v", boardID, err)
	}

	if err := s.broadcast(boardID, clientID, result); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *CollabService) logConflict(boardID string, result *OperationResult) {
	users := make([]string, 0, len(result.Conflict.Operations))
	for _, op := range result.Conflict.Operations {
		users = append(users, op.UserID)
	}

	record := &domain.ConflictRecord{
		ID:         result.Resolution.ConflictID,
		BoardID:    boardID,
		Kind:       result.Conflict.Kind,
		TargetID:   result.Conflict.TargetID,
		Users:      users,
		Areas:      result.Conflict.ConflictAreas,
		Strategy:   result.Resolution.Strategy,
		WinnerUser: result.Resolution.ResolvedOperation.UserID,
		ResolvedAt: time.Now(),
	}

	if err := s.conflictLog.Create(record); err != nil {
		log.Printf("failed to persist conflict record %s: %v", record.ID, err)
	}
}

// applyToBoard folds the winning operation into the board snapshot.
// Selection changes are ephemeral and never touch the snapshot.
func (s *CollabService) applyToBoard(boardID string, op domain.Operation) error {
	if op.Kind == domain.OpSelectionChange {
		return nil
	}

	board, err := s.boardRepo.FindByID(boardID)
	if err != nil {
		return err
	}

	switch op.Kind {
	case domain.OpElementUpdate:
		updated := false
		for i := range board.Elements {
			if board.Elements[i].ID == op.Data.TargetID() {
				// Zero-valued fields were omitted from the payload; a
				// resize-only operation must not move the element.
				if op.Data.X != 0 || op.Data.Y != 0 {
					board.Elements[i].X = op.Data.X
					board.Elements[i].Y = op.Data.Y
				}
				if op.Data.Width != 0 {
					board.Elements[i].Width = op.Data.Width
				}
				if op.Data.Height != 0 {
					board.Elements[i].Height = op.Data.Height
				}
				updated = true
				break
			}
		}
		if !updated {
			board.Elements = append(board.Elements, domain.Element{
				ID:     op.Data.TargetID(),
				X:      op.Data.X,
				Y:      op.Data.Y,
				Width:  op.Data.Width,
				Height: op.Data.Height,
			})
		}

	case domain.OpElementRemove:
		for i := range board.Elements {
			if board.Elements[i].ID == op.Data.TargetID() {
				board.Elements = append(board.Elements[:i], board.Elements[i+1:]...)
				break
			}
		}

	case domain.OpConnectionUpdate:
		updated := false
		for i := range board.Links {
			if board.Links[i].ID == op.Data.TargetID() {
				if op.Data.From != nil {
					board.Links[i].From = *op.Data.From
				}
				if op.Data.To != nil {
					board.Links[i].To = *op.Data.To
				}
				updated = true
				break
			}
		}
		if !updated {
			link := domain.Connection{ID: op.Data.TargetID()}
			if op.Data.From != nil {
				link.From = *op.Data.From
			}
			if op.Data.To != nil {
				link.To = *op.Data.To
			}
			board.Links = append(board.Links, link)
		}

	case domain.OpCanvasStateChange:
		board.State.Scale = op.Data.Scale
		if op.Data.Position != nil {
			board.State.Position = *op.Data.Position
		}
	}

	board.UpdatedAt = time.Now()
	board.Version++

	return s.boardRepo.Update(board)
}

func (s *CollabService) broadcast(boardID, excludeClientID string, result *OperationResult) error {
	var msg *websocket.Message
	var err error

	if result.Conflict != nil {
		msg, err = websocket.NewMessage(websocket.TypeConflict, &websocket.ConflictPayload{
			BoardID:    boardID,
			Conflict:   result.Conflict,
			Resolution: result.Resolution,
		})
		// Everyone, including the originator, must see how the
		// conflict resolved.
		excludeClientID = ""
	} else {
		msg, err = websocket.NewMessage(websocket.TypeOperationApplied, &websocket.OperationAppliedPayload{
			BoardID:   boardID,
			Operation: result.Applied,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to build broadcast message: %w", err)
	}

	if err := s.broadcaster.BroadcastToBoard(boardID, msg, excludeClientID); err != nil {
		return fmt.Errorf("failed to broadcast: %w", err)
	}

	if s.bus != nil {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal bus event: %w", err)
		}
		event := &pubsub.Event{
			NodeID:  s.nodeID,
			BoardID: boardID,
			Message: raw,
		}
		if err := s.bus.Publish(context.Background(), event); err != nil {
			log.Printf("failed to publish operation for board %s: %v", boardID, err)
		}
	}

	return nil
}

// RelayRemoteEvents feeds operations published by other nodes into the local
// board rooms, recording each applied operation so local operations can
// conflict with it. Blocks until ctx is cancelled.
func (s *CollabService) RelayRemoteEvents(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}

	events, err := s.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to bus: %w", err)
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.NodeID == s.nodeID {
				continue
			}
			var msg websocket.Message
			if err := json.Unmarshal(event.Message, &msg); err != nil {
				log.Printf("dropping malformed remote event: %v", err)
				continue
			}
			s.recordRemote(event.BoardID, &msg)
			if err := s.broadcaster.BroadcastToBoard(event.BoardID, &msg, ""); err != nil {
				log.Printf("failed to relay remote event: %v", err)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// recordRemote feeds an operation applied on a peer node into the local
// board resolver, so later local operations can conflict with it.
func (s *CollabService) recordRemote(boardID string, msg *websocket.Message) {
	var op *domain.Operation

	switch msg.Type {
	case websocket.TypeOperationApplied:
		var payload websocket.OperationAppliedPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			log.Printf("dropping malformed remote operation: %v", err)
			return
		}
		op = &payload.Operation

	case websocket.TypeConflict:
		var payload websocket.ConflictPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			log.Printf("dropping malformed remote conflict: %v", err)
			return
		}
		if payload.Resolution != nil && payload.Resolution.Apply {
			op = &payload.Resolution.ResolvedOperation
		}
	}

	if op == nil {
		return
	}

	s.mu.Lock()
	s.boardResolver(boardID).RecordOperation(op.Kind, op.Data, op.UserID)
	s.mu.Unlock()
}

// Stats reports resolver bookkeeping for one board.
func (s *CollabService) Stats(boardID string) domain.OperationStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resolvers[boardID]
	if !ok {
		return domain.OperationStats{}
	}
	return r.Stats()
}

// ConflictHistory returns persisted resolution records for a board.
func (s *CollabService) ConflictHistory(boardID string, limit int) ([]*domain.ConflictRecord, error) {
	return s.conflictLog.ListByBoard(boardID, limit)
}

// RunCleanup prunes every board's operation history on a fixed interval and
// drops resolvers that end up empty. Blocks until ctx is cancelled.
func (s *CollabService) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (s *CollabService) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for boardID, r := range s.resolvers {
		r.CleanupOldOperations(s.maxAge)
		if r.Stats().TrackedTargets == 0 {
			delete(s.resolvers, boardID)
		}
	}
}
