package resolver

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"canvas-sync-server/internal/domain"
)

// fakeClock hands out a controllable time source.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func elementUpdate(id string, x, y, w, h float64) domain.OperationPayload {
	return domain.OperationPayload{ElementID: id, X: x, Y: y, Width: w, Height: h}
}

func TestDetectConflict_PositionThreshold(t *testing.T) {
	tests := []struct {
		name     string
		first    domain.OperationPayload
		second   domain.OperationPayload
		conflict bool
	}{
		{
			name:     "distance under threshold",
			first:    elementUpdate("el1", 0, 0, 100, 50),
			second:   elementUpdate("el1", 5, 5, 100, 50), // ~7.07
			conflict: false,
		},
		{
			name:     "distance over threshold",
			first:    elementUpdate("el1", 0, 0, 100, 50),
			second:   elementUpdate("el1", 20, 0, 100, 50),
			conflict: true,
		},
		{
			name:     "distance exactly at threshold",
			first:    elementUpdate("el1", 0, 0, 100, 50),
			second:   elementUpdate("el1", 10, 0, 100, 50),
			conflict: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			r := New(WithClock(clock.Now))

			r.RecordOperation(domain.OpElementUpdate, tt.first, "user1")
			clock.Advance(time.Second)

			conflict := r.DetectConflict(domain.OpElementUpdate, tt.second, "user2")
			if tt.conflict && conflict == nil {
				t.Fatal("expected a conflict, got none")
			}
			if !tt.conflict && conflict != nil {
				t.Fatalf("expected no conflict, got %s", conflict.Kind)
			}
			if conflict != nil && conflict.Kind != domain.ConflictElementMove {
				t.Errorf("expected kind %s, got %s", domain.ConflictElementMove, conflict.Kind)
			}
		})
	}
}

func TestDetectConflict_SizeThreshold(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	r.RecordOperation(domain.OpElementUpdate, elementUpdate("el1", 0, 0, 100, 50), "user1")
	clock.Advance(time.Second)

	// Same position, combined size delta 30 > 20.
	conflict := r.DetectConflict(domain.OpElementUpdate, elementUpdate("el1", 0, 0, 120, 60), "user2")
	if conflict == nil {
		t.Fatal("expected a resize conflict")
	}
	if conflict.Kind != domain.ConflictElementResize {
		t.Errorf("expected kind %s, got %s", domain.ConflictElementResize, conflict.Kind)
	}
	if len(conflict.ConflictAreas) != 1 || conflict.ConflictAreas[0] != "size" {
		t.Errorf("expected conflict areas [size], got %v", conflict.ConflictAreas)
	}
}

func TestDetectConflict_PositionCheckedBeforeSize(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	r.RecordOperation(domain.OpElementUpdate, elementUpdate("el1", 0, 0, 100, 50), "user1")
	clock.Advance(time.Second)

	// Both position and size exceed their thresholds; position wins.
	conflict := r.DetectConflict(domain.OpElementUpdate, elementUpdate("el1", 50, 50, 200, 200), "user2")
	if conflict == nil {
		t.Fatal("expected a conflict")
	}
	if conflict.Kind != domain.ConflictElementMove {
		t.Errorf("expected kind %s, got %s", domain.ConflictElementMove, conflict.Kind)
	}
}

func TestDetectConflict_UpdateVersusRemove(t *testing.T) {
	for _, order := range []string{"update-first", "remove-first"} {
		t.Run(order, func(t *testing.T) {
			clock := newFakeClock()
			r := New(WithClock(clock.Now))

			firstKind, secondKind := domain.OpElementUpdate, domain.OpElementRemove
			if order == "remove-first" {
				firstKind, secondKind = secondKind, firstKind
			}

			r.RecordOperation(firstKind, domain.OperationPayload{ElementID: "el1"}, "user1")
			clock.Advance(time.Second)

			conflict := r.DetectConflict(secondKind, domain.OperationPayload{ElementID: "el1"}, "user2")
			if conflict == nil {
				t.Fatal("expected a delete conflict")
			}
			if conflict.Kind != domain.ConflictElementDelete {
				t.Errorf("expected kind %s, got %s", domain.ConflictElementDelete, conflict.Kind)
			}
			if len(conflict.ConflictAreas) != 1 || conflict.ConflictAreas[0] != "existence" {
				t.Errorf("expected conflict areas [existence], got %v", conflict.ConflictAreas)
			}
		})
	}
}

func TestDetectConflict_RemoveVersusRemove(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	r.RecordOperation(domain.OpElementRemove, domain.OperationPayload{ElementID: "el1"}, "user1")
	clock.Advance(time.Second)

	if conflict := r.DetectConflict(domain.OpElementRemove, domain.OperationPayload{ElementID: "el1"}, "user2"); conflict != nil {
		t.Errorf("concurrent removes must not conflict, got %s", conflict.Kind)
	}
}

func TestDetectConflict_SameUserNeverConflicts(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	r.RecordOperation(domain.OpElementUpdate, elementUpdate("el1", 0, 0, 10, 10), "user1")
	clock.Advance(time.Second)

	if conflict := r.DetectConflict(domain.OpElementRemove, domain.OperationPayload{ElementID: "el1"}, "user1"); conflict != nil {
		t.Errorf("same-user operations must not conflict, got %s", conflict.Kind)
	}
	if conflict := r.DetectConflict(domain.OpElementUpdate, elementUpdate("el1", 999, 999, 999, 999), "user1"); conflict != nil {
		t.Errorf("same-user operations must not conflict, got %s", conflict.Kind)
	}
}

func TestDetectConflict_OutsideWindow(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	r.RecordOperation(domain.OpElementUpdate, elementUpdate("el1", 0, 0, 0, 0), "user1")
	clock.Advance(6 * time.Second)

	if conflict := r.DetectConflict(domain.OpElementUpdate, elementUpdate("el1", 100, 100, 0, 0), "user2"); conflict != nil {
		t.Errorf("operations outside the detection window must not conflict, got %s", conflict.Kind)
	}
}

func TestDetectConflict_ConnectionEndpoints(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	payload := domain.OperationPayload{
		ConnectionID: "conn1",
		From:         &domain.Point{X: 0, Y: 0},
		To:           &domain.Point{X: 100, Y: 100},
	}
	r.RecordOperation(domain.OpConnectionUpdate, payload, "user1")
	clock.Advance(time.Second)

	same := payload
	if conflict := r.DetectConflict(domain.OpConnectionUpdate, same, "user2"); conflict != nil {
		t.Errorf("identical endpoints must not conflict, got %s", conflict.Kind)
	}

	moved := payload
	moved.To = &domain.Point{X: 150, Y: 100}
	conflict := r.DetectConflict(domain.OpConnectionUpdate, moved, "user2")
	if conflict == nil {
		t.Fatal("expected a connection conflict")
	}
	if conflict.Kind != domain.ConflictConnectionUpdate {
		t.Errorf("expected kind %s, got %s", domain.ConflictConnectionUpdate, conflict.Kind)
	}
}

func TestDetectConflict_CanvasState(t *testing.T) {
	tests := []struct {
		name     string
		scale    float64
		pos      domain.Point
		conflict bool
		areas    []string
	}{
		{name: "small drift", scale: 1.05, pos: domain.Point{X: 10, Y: 10}, conflict: false},
		{name: "scale diverges", scale: 1.5, pos: domain.Point{X: 10, Y: 10}, conflict: true, areas: []string{"scale"}},
		{name: "position diverges", scale: 1.05, pos: domain.Point{X: 100, Y: 0}, conflict: true, areas: []string{"position"}},
		{name: "both diverge", scale: 2.0, pos: domain.Point{X: 0, Y: 200}, conflict: true, areas: []string{"scale", "position"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			r := New(WithClock(clock.Now))

			r.RecordOperation(domain.OpCanvasStateChange, domain.OperationPayload{
				ID:       "canvas",
				Scale:    1.0,
				Position: &domain.Point{X: 0, Y: 0},
			}, "user1")
			clock.Advance(time.Second)

			conflict := r.DetectConflict(domain.OpCanvasStateChange, domain.OperationPayload{
				ID:       "canvas",
				Scale:    tt.scale,
				Position: &tt.pos,
			}, "user2")

			if !tt.conflict {
				if conflict != nil {
					t.Fatalf("expected no conflict, got %s %v", conflict.Kind, conflict.ConflictAreas)
				}
				return
			}
			if conflict == nil {
				t.Fatal("expected a canvas state conflict")
			}
			if conflict.Kind != domain.ConflictCanvasState {
				t.Errorf("expected kind %s, got %s", domain.ConflictCanvasState, conflict.Kind)
			}
			if fmt.Sprint(conflict.ConflictAreas) != fmt.Sprint(tt.areas) {
				t.Errorf("expected areas %v, got %v", tt.areas, conflict.ConflictAreas)
			}
		})
	}
}

func TestRecordOperation_NoIdentifier(t *testing.T) {
	r := New()

	r.RecordOperation(domain.OpElementUpdate, domain.OperationPayload{X: 5, Y: 5}, "user1")

	stats := r.Stats()
	if stats.TrackedTargets != 0 || stats.TotalOperations != 0 {
		t.Errorf("untrackable payloads must be skipped, stats = %+v", stats)
	}
}

func TestRecordOperation_HistoryCap(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	for i := 0; i < 101; i++ {
		r.RecordOperation(domain.OpElementUpdate, elementUpdate("el1", float64(i), 0, 0, 0), "user1")
		clock.Advance(time.Millisecond)
	}

	entries := r.history["el1"]
	if len(entries) != 100 {
		t.Fatalf("expected history capped at 100, got %d", len(entries))
	}
	if entries[0].Data.X != 1 {
		t.Errorf("expected oldest entry evicted, first entry x = %v", entries[0].Data.X)
	}
	if entries[99].Data.X != 100 {
		t.Errorf("expected newest entry kept, last entry x = %v", entries[99].Data.X)
	}
}

func TestResolveConflict_LastWriteWins(t *testing.T) {
	r := New()

	older := domain.Operation{Kind: domain.OpElementUpdate, UserID: "user1", Timestamp: 1000}
	newer := domain.Operation{Kind: domain.OpElementUpdate, UserID: "user2", Timestamp: 2000}

	res := r.ResolveConflict(&domain.Conflict{
		Kind:       domain.ConflictElementMove,
		TargetID:   "el1",
		Operations: []domain.Operation{older, newer},
	})

	if res.Strategy != domain.StrategyLastWriteWins {
		t.Errorf("expected strategy %s, got %s", domain.StrategyLastWriteWins, res.Strategy)
	}
	if res.ResolvedOperation.UserID != "user2" {
		t.Errorf("expected newer operation to win, got user %s", res.ResolvedOperation.UserID)
	}
	if !res.Apply {
		t.Error("expected apply to be set")
	}
	if res.ConflictID == "" {
		t.Error("expected a conflict id")
	}

	// Non-strict maximum: on a tie the later entry of the pair wins.
	tied := r.ResolveConflict(&domain.Conflict{
		Kind:       domain.ConflictElementMove,
		TargetID:   "el1",
		Operations: []domain.Operation{older, {Kind: domain.OpElementUpdate, UserID: "user3", Timestamp: 1000}},
	})
	if tied.ResolvedOperation.UserID != "user3" {
		t.Errorf("expected tie to favor the later entry, got user %s", tied.ResolvedOperation.UserID)
	}
}

func TestResolveConflict_FirstWriteWins(t *testing.T) {
	r := New(WithStrategy(domain.ConflictElementMove, domain.StrategyFirstWriteWins))

	res := r.ResolveConflict(&domain.Conflict{
		Kind:     domain.ConflictElementMove,
		TargetID: "el1",
		Operations: []domain.Operation{
			{UserID: "user1", Timestamp: 1000},
			{UserID: "user2", Timestamp: 2000},
		},
	})

	if res.ResolvedOperation.UserID != "user1" {
		t.Errorf("expected older operation to win, got user %s", res.ResolvedOperation.UserID)
	}
}

func TestResolveConflict_DeletePriority(t *testing.T) {
	r := New()

	res := r.ResolveConflict(&domain.Conflict{
		Kind:     domain.ConflictElementDelete,
		TargetID: "el1",
		Operations: []domain.Operation{
			{Kind: domain.OpElementRemove, UserID: "user1", Timestamp: 1000},
			{Kind: domain.OpElementUpdate, UserID: "user2", Timestamp: 2000},
		},
	})

	if res.Strategy != domain.StrategyDeletePriority {
		t.Errorf("expected strategy %s, got %s", domain.StrategyDeletePriority, res.Strategy)
	}
	if res.ResolvedOperation.Kind != domain.OpElementRemove {
		t.Errorf("expected the remove to win despite older timestamp, got %s", res.ResolvedOperation.Kind)
	}

	// Without a remove in the pair it falls back to last-write-wins.
	fallback := r.ResolveConflict(&domain.Conflict{
		Kind:     domain.ConflictElementDelete,
		TargetID: "el1",
		Operations: []domain.Operation{
			{Kind: domain.OpElementUpdate, UserID: "user1", Timestamp: 1000},
			{Kind: domain.OpElementUpdate, UserID: "user2", Timestamp: 2000},
		},
	})
	if fallback.ResolvedOperation.UserID != "user2" {
		t.Errorf("expected LWW fallback, got user %s", fallback.ResolvedOperation.UserID)
	}
}

func TestResolveConflict_MergeSelections(t *testing.T) {
	r := New()

	res := r.ResolveConflict(&domain.Conflict{
		Kind:     domain.ConflictSelection,
		TargetID: "board1",
		Operations: []domain.Operation{
			{Kind: domain.OpSelectionChange, UserID: "user1", Timestamp: 1000,
				Data: domain.OperationPayload{ID: "board1", Selection: []string{"a", "b", "c"}}},
			{Kind: domain.OpSelectionChange, UserID: "user2", Timestamp: 2000,
				Data: domain.OperationPayload{ID: "board1", Selection: []string{"b", "c", "d"}}},
		},
	})

	if res.Strategy != domain.StrategyMergeChanges {
		t.Errorf("expected strategy %s, got %s", domain.StrategyMergeChanges, res.Strategy)
	}
	if res.ResolvedOperation.UserID != domain.SystemUserID {
		t.Errorf("expected merged operation attributed to system, got %s", res.ResolvedOperation.UserID)
	}
	if res.ResolvedOperation.Kind != domain.OpSelectionChange {
		t.Errorf("expected a selection operation, got %s", res.ResolvedOperation.Kind)
	}

	got := append([]string(nil), res.ResolvedOperation.Data.Selection...)
	sort.Strings(got)
	want := []string{"a", "b", "c", "d"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected merged selection %v, got %v", want, got)
	}
}

func TestResolveConflict_UserChoiceFallsBackToLWW(t *testing.T) {
	r := New()

	res := r.ResolveConflict(&domain.Conflict{
		Kind:     domain.ConflictDataVersion,
		TargetID: "el1",
		Operations: []domain.Operation{
			{UserID: "user1", Timestamp: 1000},
			{UserID: "user2", Timestamp: 2000},
		},
	})

	if res.Strategy != domain.StrategyUserChoice {
		t.Errorf("expected strategy %s, got %s", domain.StrategyUserChoice, res.Strategy)
	}
	if res.ResolvedOperation.UserID != "user2" {
		t.Errorf("expected LWW fallback winner, got user %s", res.ResolvedOperation.UserID)
	}
}

func TestCleanupOldOperations(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	// Cleanup on empty history is a no-op.
	r.CleanupOldOperations(DefaultMaxAge)

	r.RecordOperation(domain.OpElementUpdate, elementUpdate("el1", 0, 0, 0, 0), "user1")
	r.RecordOperation(domain.OpElementUpdate, elementUpdate("el2", 0, 0, 0, 0), "user1")
	clock.Advance(10 * time.Minute)
	r.RecordOperation(domain.OpElementUpdate, elementUpdate("el2", 1, 1, 0, 0), "user1")

	r.CleanupOldOperations(DefaultMaxAge)

	if _, ok := r.history["el1"]; ok {
		t.Error("expected el1 dropped entirely once its history emptied")
	}
	if got := len(r.history["el2"]); got != 1 {
		t.Errorf("expected only the recent el2 entry kept, got %d", got)
	}

	stats := r.Stats()
	if stats.TrackedTargets != 1 || stats.TotalOperations != 1 || stats.RecentOperations != 1 {
		t.Errorf("unexpected stats after cleanup: %+v", stats)
	}
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	r.RecordOperation(domain.OpElementUpdate, elementUpdate("el1", 0, 0, 0, 0), "user1")
	clock.Advance(10 * time.Minute)
	r.RecordOperation(domain.OpElementUpdate, elementUpdate("el1", 1, 1, 0, 0), "user1")
	r.RecordOperation(domain.OpElementUpdate, elementUpdate("el2", 0, 0, 0, 0), "user2")

	stats := r.Stats()
	if stats.TrackedTargets != 2 {
		t.Errorf("expected 2 tracked targets, got %d", stats.TrackedTargets)
	}
	if stats.TotalOperations != 3 {
		t.Errorf("expected 3 operations, got %d", stats.TotalOperations)
	}
	if stats.RecentOperations != 2 {
		t.Errorf("expected 2 recent operations, got %d", stats.RecentOperations)
	}
}
