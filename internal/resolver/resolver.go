// Package resolver detects and resolves conflicts between concurrent canvas
// operations. It keeps a bounded in-memory history per target and compares a
// newly arriving operation against recent operations from other users. There
// is no causal ordering: history reflects arrival order only, so two nodes
// observing the same operations in different orders may classify them
// differently.
package resolver

import (
	"math"
	"time"

	"canvas-sync-server/internal/domain"

	"github.com/google/uuid"
)

const (
	// DetectionWindow bounds how far back DetectConflict compares against.
	DetectionWindow = 5 * time.Second

	// DefaultMaxAge is the history age cap applied by CleanupOldOperations.
	DefaultMaxAge = 5 * time.Minute

	// maxHistoryPerTarget caps history length per target.
	maxHistoryPerTarget = 100

	positionThreshold = 10.0
	sizeThreshold     = 20.0
	scaleThreshold    = 0.1
	panThreshold      = 50.0
)

// Resolver holds per-target operation history and the per-conflict-kind
// strategy table. It is not safe for concurrent use; the owning service
// serializes access.
type Resolver struct {
	history    map[string][]domain.Operation
	strategies map[domain.ConflictKind]domain.ResolutionStrategy
	now        func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithStrategy overrides the resolution strategy for a conflict kind.
func WithStrategy(kind domain.ConflictKind, s domain.ResolutionStrategy) Option {
	return func(r *Resolver) { r.strategies[kind] = s }
}

func New(opts ...Option) *Resolver {
	r := &Resolver{
		history: make(map[string][]domain.Operation),
		strategies: map[domain.ConflictKind]domain.ResolutionStrategy{
			domain.ConflictElementMove:      domain.StrategyLastWriteWins,
			domain.ConflictElementResize:    domain.StrategyLastWriteWins,
			domain.ConflictElementDelete:    domain.StrategyDeletePriority,
			domain.ConflictConnectionUpdate: domain.StrategyLastWriteWins,
			domain.ConflictCanvasState:      domain.StrategyLastWriteWins,
			domain.ConflictSelection:        domain.StrategyMergeChanges,
			domain.ConflictDataVersion:      domain.StrategyUserChoice,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordOperation appends an operation to the target's history. Payloads
// without an identifier are not trackable and are skipped. History is
// trimmed to the newest entries once the per-target cap is exceeded.
func (r *Resolver) RecordOperation(kind domain.OperationKind, data domain.OperationPayload, userID string) {
	targetID := data.TargetID()
	if targetID == "" {
		return
	}

	entries := append(r.history[targetID], domain.Operation{
		Kind:      kind,
		Data:      data,
		UserID:    userID,
		Timestamp: r.now().UnixMilli(),
	})
	if len(entries) > maxHistoryPerTarget {
		entries = entries[len(entries)-maxHistoryPerTarget:]
	}
	r.history[targetID] = entries
}

// DetectConflict compares the incoming operation against the target's recent
// history and returns the first conflict found, or nil. Operations from the
// same user never conflict.
func (r *Resolver) DetectConflict(kind domain.OperationKind, data domain.OperationPayload, userID string) *domain.Conflict {
	targetID := data.TargetID()
	if targetID == "" {
		return nil
	}

	nowMs := r.now().UnixMilli()
	incoming := domain.Operation{
		Kind:      kind,
		Data:      data,
		UserID:    userID,
		Timestamp: nowMs,
	}

	for _, prev := range r.history[targetID] {
		if prev.UserID == userID {
			continue
		}
		if nowMs-prev.Timestamp > DetectionWindow.Milliseconds() {
			continue
		}
		if found, conflictKind, areas := compare(prev, incoming); found {
			return &domain.Conflict{
				Kind:          conflictKind,
				TargetID:      targetID,
				Operations:    []domain.Operation{prev, incoming},
				ConflictAreas: areas,
				Timestamp:     nowMs,
			}
		}
	}

	return nil
}

// compare applies the type-specific comparators to a pair of operations on
// the same target from different users.
func compare(a, b domain.Operation) (bool, domain.ConflictKind, []string) {
	switch {
	case a.Kind == domain.OpElementUpdate && b.Kind == domain.OpElementUpdate:
		return compareElementUpdates(a, b)

	case (a.Kind == domain.OpElementUpdate && b.Kind == domain.OpElementRemove) ||
		(a.Kind == domain.OpElementRemove && b.Kind == domain.OpElementUpdate):
		// Update racing a remove is always a conflict, in either order.
		return true, domain.ConflictElementDelete, []string{"existence"}

	case a.Kind == domain.OpElementRemove && b.Kind == domain.OpElementRemove:
		// Concurrent deletes are idempotent.
		return false, "", nil

	case a.Kind == domain.OpConnectionUpdate && b.Kind == domain.OpConnectionUpdate:
		return compareConnectionUpdates(a, b)

	case a.Kind == domain.OpCanvasStateChange && b.Kind == domain.OpCanvasStateChange:
		return compareCanvasStates(a, b)
	}

	// Selection changes are never compared pairwise; merge resolution
	// handles them.
	return false, "", nil
}

func compareElementUpdates(a, b domain.Operation) (bool, domain.ConflictKind, []string) {
	dx := a.Data.X - b.Data.X
	dy := a.Data.Y - b.Data.Y
	if math.Hypot(dx, dy) > positionThreshold {
		return true, domain.ConflictElementMove, []string{"position"}
	}

	dw := math.Abs(a.Data.Width - b.Data.Width)
	dh := math.Abs(a.Data.Height - b.Data.Height)
	if dw+dh > sizeThreshold {
		return true, domain.ConflictElementResize, []string{"size"}
	}

	return false, "", nil
}

func compareConnectionUpdates(a, b domain.Operation) (bool, domain.ConflictKind, []string) {
	if pointsDiffer(a.Data.From, b.Data.From) || pointsDiffer(a.Data.To, b.Data.To) {
		return true, domain.ConflictConnectionUpdate, []string{"endpoints"}
	}
	return false, "", nil
}

func compareCanvasStates(a, b domain.Operation) (bool, domain.ConflictKind, []string) {
	var areas []string
	if math.Abs(a.Data.Scale-b.Data.Scale) > scaleThreshold {
		areas = append(areas, "scale")
	}
	pa, pb := a.Data.Position, b.Data.Position
	if pa != nil && pb != nil &&
		(math.Abs(pa.X-pb.X) > panThreshold || math.Abs(pa.Y-pb.Y) > panThreshold) {
		areas = append(areas, "position")
	}
	if len(areas) == 0 {
		return false, "", nil
	}
	return true, domain.ConflictCanvasState, areas
}

func pointsDiffer(a, b *domain.Point) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.X != b.X || a.Y != b.Y
}

// ResolveConflict picks a winning operation for the conflict using the
// strategy configured for its kind. It never mutates history and never
// applies the result; callers apply and broadcast the resolved operation.
func (r *Resolver) ResolveConflict(conflict *domain.Conflict) domain.Resolution {
	strategy, ok := r.strategies[conflict.Kind]
	if !ok {
		strategy = domain.StrategyLastWriteWins
	}

	var resolved domain.Operation
	switch strategy {
	case domain.StrategyFirstWriteWins:
		resolved = firstWrite(conflict.Operations)

	case domain.StrategyDeletePriority:
		resolved = deletePriority(conflict.Operations)

	case domain.StrategyMergeChanges:
		resolved = mergeSelections(conflict, r.now().UnixMilli())

	case domain.StrategyUserChoice:
		// No interactive prompt exists yet; behave as last-write-wins
		// until one does.
		resolved = lastWrite(conflict.Operations)

	default:
		resolved = lastWrite(conflict.Operations)
	}

	return domain.Resolution{
		ConflictID:        uuid.New().String(),
		ResolvedOperation: resolved,
		Strategy:          strategy,
		Timestamp:         r.now().UnixMilli(),
		Apply:             true,
	}
}

// lastWrite returns the operation with the non-strict maximum timestamp, so
// the later entry of the pair wins ties.
func lastWrite(ops []domain.Operation) domain.Operation {
	winner := ops[0]
	for _, op := range ops[1:] {
		if op.Timestamp >= winner.Timestamp {
			winner = op
		}
	}
	return winner
}

func firstWrite(ops []domain.Operation) domain.Operation {
	winner := ops[0]
	for _, op := range ops[1:] {
		if op.Timestamp < winner.Timestamp {
			winner = op
		}
	}
	return winner
}

// deletePriority picks the remove operation when one is present, otherwise
// falls back to last-write-wins.
func deletePriority(ops []domain.Operation) domain.Operation {
	for _, op := range ops {
		if op.Kind == domain.OpElementRemove {
			return op
		}
	}
	return lastWrite(ops)
}

// mergeSelections unions the selection arrays of every operation in the
// conflict into a synthetic selection operation attributed to the system
// pseudo-user. Order of the merged selection is not significant.
func mergeSelections(conflict *domain.Conflict, nowMs int64) domain.Operation {
	seen := make(map[string]bool)
	var merged []string
	for _, op := range conflict.Operations {
		for _, id := range op.Data.Selection {
			if !seen[id] {
				seen[id] = true
				merged = append(merged, id)
			}
		}
	}

	return domain.Operation{
		Kind: domain.OpSelectionChange,
		Data: domain.OperationPayload{
			ID:        conflict.TargetID,
			Selection: merged,
		},
		UserID:    domain.SystemUserID,
		Timestamp: nowMs,
	}
}

// CleanupOldOperations prunes entries older than maxAge and drops targets
// whose history becomes empty. Zero or negative maxAge uses DefaultMaxAge.
func (r *Resolver) CleanupOldOperations(maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := r.now().Add(-maxAge).UnixMilli()

	for targetID, entries := range r.history {
		kept := entries[:0]
		for _, op := range entries {
			if op.Timestamp >= cutoff {
				kept = append(kept, op)
			}
		}
		if len(kept) == 0 {
			delete(r.history, targetID)
			continue
		}
		r.history[targetID] = kept
	}
}

// Stats reports tracked targets, total records, and records newer than the
// default age cap.
func (r *Resolver) Stats() domain.OperationStats {
	recentCutoff := r.now().Add(-DefaultMaxAge).UnixMilli()

	stats := domain.OperationStats{TrackedTargets: len(r.history)}
	for _, entries := range r.history {
		stats.TotalOperations += len(entries)
		for _, op := range entries {
			if op.Timestamp >= recentCutoff {
				stats.RecentOperations++
			}
		}
	}
	return stats
}
