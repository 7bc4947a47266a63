package localstore

import (
	"context"
	"testing"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

func intPtr(v int) *int { return &v }

func TestSaveLocalMergesWithoutErasingOtherConcerns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.SaveLocal(ctx, "a1", model.PersistedPartial{
		Answers: model.AnswerMap{"q1": {Type: model.AnswerTypeChoice, Values: []string{"A"}}},
	}); err != nil {
		t.Fatalf("save answers: %v", err)
	}
	if err := s.SaveLocal(ctx, "a1", model.PersistedPartial{
		AudioCounts: model.AudioCounts{"q1": 2},
	}); err != nil {
		t.Fatalf("save counts: %v", err)
	}
	if err := s.SaveLocal(ctx, "a1", model.PersistedPartial{
		CurrentPageIndex: intPtr(3),
	}); err != nil {
		t.Fatalf("save page: %v", err)
	}

	state, err := s.GetLocal(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state == nil {
		t.Fatal("record missing after three writes")
	}
	if got := state.Answers["q1"].Values; len(got) != 1 || got[0] != "A" {
		t.Errorf("answers lost across merges: %v", state.Answers)
	}
	if state.AudioCounts["q1"] != 2 {
		t.Errorf("audio counts lost across merges: %v", state.AudioCounts)
	}
	if state.CurrentPageIndex == nil || *state.CurrentPageIndex != 3 {
		t.Errorf("page index lost across merges: %v", state.CurrentPageIndex)
	}
	if state.LastSavedAt.IsZero() {
		t.Error("LastSavedAt not stamped")
	}
}

func TestGetLocalMissingAndCorruptReturnNil(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	state, err := s.GetLocal(ctx, "nope")
	if err != nil || state != nil {
		t.Errorf("missing record: got (%v, %v), want (nil, nil)", state, err)
	}

	s.InjectRaw("bad", []byte("{not json"))
	state, err = s.GetLocal(ctx, "bad")
	if err != nil || state != nil {
		t.Errorf("corrupt record: got (%v, %v), want (nil, nil)", state, err)
	}
}

func TestClearLocalRemovesRecordAndToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.SaveLocal(ctx, "a1", model.PersistedPartial{CurrentPageIndex: intPtr(0)})
	_ = s.SaveSessionToken(ctx, "a1", "tok")
	if err := s.ClearLocal(ctx, "a1"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if state, _ := s.GetLocal(ctx, "a1"); state != nil {
		t.Error("record survived ClearLocal")
	}
	if tok, _ := s.GetSessionToken(ctx, "a1"); tok != "" {
		t.Error("token survived ClearLocal")
	}
}

func TestClearStaleDataRemovesOldAndCorruptOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	s.SetNowFunc(func() time.Time { return base.Add(-25 * time.Hour) })
	_ = s.SaveLocal(ctx, "old", model.PersistedPartial{CurrentPageIndex: intPtr(1)})

	s.SetNowFunc(func() time.Time { return base.Add(-time.Hour) })
	_ = s.SaveLocal(ctx, "fresh", model.PersistedPartial{CurrentPageIndex: intPtr(2)})

	s.InjectRaw("corrupt", []byte("??"))

	s.SetNowFunc(func() time.Time { return base })
	cleared, err := s.ClearStaleData(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("stale sweep: %v", err)
	}
	if cleared != 2 {
		t.Errorf("cleared = %d, want 2 (old + corrupt)", cleared)
	}
	if state, _ := s.GetLocal(ctx, "fresh"); state == nil {
		t.Error("fresh record was swept")
	}
	if state, _ := s.GetLocal(ctx, "old"); state != nil {
		t.Error("stale record survived")
	}
}

func TestValidateAndCleanupKeepsOnlyActiveAttempt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, id := range []string{"a1", "a2", "a3"} {
		_ = s.SaveLocal(ctx, id, model.PersistedPartial{CurrentPageIndex: intPtr(0)})
		_ = s.SaveSessionToken(ctx, id, "tok-"+id)
	}

	cleared, err := s.ValidateAndCleanup(ctx, "a2")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if cleared != 2 {
		t.Errorf("cleared = %d, want 2", cleared)
	}

	ids, _ := s.ListAttemptIDs(ctx)
	if len(ids) != 1 || ids[0] != "a2" {
		t.Errorf("surviving ids = %v, want [a2]", ids)
	}
	if tok, _ := s.GetSessionToken(ctx, "a2"); tok != "tok-a2" {
		t.Error("kept attempt lost its token")
	}
}

func TestClearAllLocalWipesEverything(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.SaveLocal(ctx, "a1", model.PersistedPartial{CurrentPageIndex: intPtr(0)})
	_ = s.SaveSessionToken(ctx, "a1", "tok")
	if err := s.ClearAllLocal(ctx); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	ids, _ := s.ListAttemptIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("ids = %v after wipe, want none", ids)
	}
}

func TestCorruptRecordIsReplacedOnNextSave(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.InjectRaw("a1", []byte("garbage"))
	if err := s.SaveLocal(ctx, "a1", model.PersistedPartial{
		Answers: model.AnswerMap{"q1": {Type: model.AnswerTypeEssay, Values: []string{"text"}}},
	}); err != nil {
		t.Fatalf("save over corrupt: %v", err)
	}

	state, err := s.GetLocal(ctx, "a1")
	if err != nil || state == nil {
		t.Fatalf("get after repair: (%v, %v)", state, err)
	}
	if got := state.Answers["q1"].Values; len(got) != 1 || got[0] != "text" {
		t.Errorf("answers = %v after repair", state.Answers)
	}
}
