package domain

import "time"

type OperationKind string

const (
	OpElementUpdate     OperationKind = "element_update"
	OpElementRemove     OperationKind = "element_remove"
	OpConnectionUpdate  OperationKind = "connection_update"
	OpCanvasStateChange OperationKind = "canvas_state_change"
	OpSelectionChange   OperationKind = "selection_changed"
)

type ConflictKind string

const (
	ConflictElementMove      ConflictKind = "element_move_conflict"
	ConflictElementResize    ConflictKind = "element_resize_conflict"
	ConflictElementDelete    ConflictKind = "element_delete_conflict"
	ConflictConnectionUpdate ConflictKind = "connection_update_conflict"
	ConflictCanvasState      ConflictKind = "canvas_state_conflict"
	ConflictSelection        ConflictKind = "selection_conflict"
	ConflictDataVersion      ConflictKind = "data_version_conflict"
)

type ResolutionStrategy string

const (
	StrategyLastWriteWins  ResolutionStrategy = "last_write_wins"
	StrategyFirstWriteWins ResolutionStrategy = "first_write_wins"
	StrategyDeletePriority ResolutionStrategy = "delete_priority"
	StrategyMergeChanges   ResolutionStrategy = "merge_changes"
	StrategyUserChoice     ResolutionStrategy = "user_choice"
)

// SystemUserID attributes synthetic operations produced by merge resolution.
const SystemUserID = "system"

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// OperationPayload is the union of the payload shapes the client sends.
// The identifier fields correlate operations against the same target:
// ElementID for element operations, ConnectionID for connections, ID as a
// generic fallback.
type OperationPayload struct {
	ElementID    string   `json:"element_id,omitempty"`
	ID           string   `json:"id,omitempty"`
	ConnectionID string   `json:"connection_id,omitempty"`
	X            float64  `json:"x,omitempty"`
	Y            float64  `json:"y,omitempty"`
	Width        float64  `json:"width,omitempty"`
	Height       float64  `json:"height,omitempty"`
	From         *Point   `json:"from,omitempty"`
	To           *Point   `json:"to,omitempty"`
	Scale        float64  `json:"scale,omitempty"`
	Position     *Point   `json:"position,omitempty"`
	Selection    []string `json:"selection,omitempty"`
}

// TargetID returns the identifier of the logical entity this payload acts
// on, or "" when the payload is not trackable.
func (p OperationPayload) TargetID() string {
	if p.ElementID != "" {
		return p.ElementID
	}
	if p.ID != "" {
		return p.ID
	}
	return p.ConnectionID
}

// Operation is one client's attempted change to a target. Records are
// append-only; Timestamp is unix milliseconds at arrival.
type Operation struct {
	Kind      OperationKind    `json:"kind"`
	Data      OperationPayload `json:"data"`
	UserID    string           `json:"user_id"`
	Timestamp int64            `json:"timestamp"`
}

// Conflict pairs two operations judged to be in tension over the same target.
type Conflict struct {
	Kind          ConflictKind `json:"kind"`
	TargetID      string       `json:"target_id"`
	Operations    []Operation  `json:"operations"`
	ConflictAreas []string     `json:"conflict_areas"`
	Timestamp     int64        `json:"timestamp"`
}

// Resolution is the decision computed for a conflict. The caller applies
// ResolvedOperation to local state and broadcasts it; the resolver never
// applies anything itself.
type Resolution struct {
	ConflictID        string             `json:"conflict_id"`
	ResolvedOperation Operation          `json:"resolved_operation"`
	Strategy          ResolutionStrategy `json:"strategy"`
	Timestamp         int64              `json:"timestamp"`
	Apply             bool               `json:"apply"`
}

// OperationStats aggregates resolver bookkeeping for one board.
type OperationStats struct {
	TrackedTargets   int `json:"tracked_targets"`
	TotalOperations  int `json:"total_operations"`
	RecentOperations int `json:"recent_operations"`
}

// ConflictRecord is the persisted audit entry for a resolved conflict.
type ConflictRecord struct {
	ID         string             `json:"id"`
	BoardID    string             `json:"board_id"`
	Kind       ConflictKind       `json:"kind"`
	TargetID   string             `json:"target_id"`
	Users      []string           `json:"users"`
	Areas      []string           `json:"areas"`
	Strategy   ResolutionStrategy `json:"strategy"`
	WinnerUser string             `json:"winner_user"`
	ResolvedAt time.Time          `json:"resolved_at"`
}
