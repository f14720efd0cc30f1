package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"med-eval/internal/domain"
	"med-eval/internal/repository"
	"med-eval/internal/scoring"
)

func newProgressFixture(t *testing.T) (*repository.MemoryStore, *IdentityService, *ProgressStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	identity := NewIdentityService(zap.NewNop(), store, nil)
	progress := NewProgressStore(zap.NewNop(), scoring.Default(), store, store)
	return store, identity, progress
}

func registerDoctor(t *testing.T, identity *IdentityService, username string) domain.Evaluator {
	t.Helper()
	years := 3
	ev, err := identity.Register(context.Background(), username, "pw1", domain.ProfileInput{
		DisplayName:     username,
		Role:            domain.RoleDoctor,
		ExperienceYears: &years,
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return ev
}

func fullScores(value int) map[string]int {
	scores := make(map[string]int)
	for _, k := range scoring.Default().Keys() {
		scores[k] = value
	}
	return scores
}

func TestMergeProgress_FullScoresComplete(t *testing.T) {
	ctx := context.Background()
	_, identity, progress := newProgressFixture(t)
	ev := registerDoctor(t, identity, "alice")

	inputs := make([]domain.ConversationInput, 0, scoring.ConversationCount)
	for id := 1; id <= scoring.ConversationCount; id++ {
		inputs = append(inputs, domain.ConversationInput{ConversationID: id, Scores: fullScores(4)})
	}
	res, err := progress.MergeProgress(ctx, ev.ID, inputs)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(res.Applied) != scoring.ConversationCount || len(res.Failures) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, err := progress.GetEvaluatorWithRecords(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, rec := range got.Records {
		if !progress.IsComplete(rec) {
			t.Fatalf("expected conversation %d complete", rec.ConversationID)
		}
	}
	eligible, err := progress.SubmissionEligible(ctx, ev.ID)
	if err != nil || !eligible {
		t.Fatalf("expected eligible, got %v err=%v", eligible, err)
	}
}

func TestIsComplete_MissingOrExtraKey(t *testing.T) {
	_, _, progress := newProgressFixture(t)

	missing := fullScores(3)
	delete(missing, "2_safety")
	if progress.IsComplete(domain.EvaluationRecord{Scores: missing}) {
		t.Fatalf("expected incomplete with a missing key")
	}

	extra := fullScores(3)
	extra["99_retired_indicator"] = 3
	if progress.IsComplete(domain.EvaluationRecord{Scores: extra}) {
		t.Fatalf("expected incomplete with an extra key")
	}
}

func TestMergeProgress_Idempotent(t *testing.T) {
	ctx := context.Background()
	store, identity, progress := newProgressFixture(t)
	ev := registerDoctor(t, identity, "alice")

	input := []domain.ConversationInput{{ConversationID: 7, Scores: fullScores(5), Comment: "ok"}}
	for i := 0; i < 2; i++ {
		if _, err := progress.MergeProgress(ctx, ev.ID, input); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}
	if n := store.ScoreRowCount(ev.ID, 7); n != 21 {
		t.Fatalf("expected 21 score rows, got %d", n)
	}
}

func TestMergeProgress_RescoringReplaces(t *testing.T) {
	ctx := context.Background()
	_, identity, progress := newProgressFixture(t)
	ev := registerDoctor(t, identity, "alice")

	first := []domain.ConversationInput{{ConversationID: 7, Scores: map[string]int{"1_medical_accuracy": 5}, Comment: "first"}}
	if _, err := progress.MergeProgress(ctx, ev.ID, first); err != nil {
		t.Fatalf("merge first: %v", err)
	}
	second := []domain.ConversationInput{{ConversationID: 7, Scores: map[string]int{"1_medical_accuracy": 3, "2_safety": 4}}}
	if _, err := progress.MergeProgress(ctx, ev.ID, second); err != nil {
		t.Fatalf("merge second: %v", err)
	}

	got, err := progress.GetEvaluatorWithRecords(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got.Records))
	}
	rec := got.Records[0]
	if len(rec.Scores) != 2 || rec.Scores["1_medical_accuracy"] != 3 || rec.Scores["2_safety"] != 4 {
		t.Fatalf("unexpected scores %+v", rec.Scores)
	}
	if rec.Comment != "" {
		t.Fatalf("expected comment overwritten with empty, got %q", rec.Comment)
	}
}

func TestMergeProgress_SkipsEmptyPlaceholders(t *testing.T) {
	ctx := context.Background()
	_, identity, progress := newProgressFixture(t)
	ev := registerDoctor(t, identity, "alice")

	inputs := []domain.ConversationInput{
		{ConversationID: 1},
		{ConversationID: 2, Scores: map[string]int{}, Comment: "   "},
		{ConversationID: 3, Comment: "solo comentario"},
	}
	res, err := progress.MergeProgress(ctx, ev.ID, inputs)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(res.Skipped) != 2 || len(res.Applied) != 1 || res.Applied[0] != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, _ := progress.GetEvaluatorWithRecords(ctx, ev.ID)
	if len(got.Records) != 1 || got.Records[0].ConversationID != 3 {
		t.Fatalf("expected only conversation 3 stored, got %+v", got.Records)
	}
}

func TestMergeProgress_UnknownEvaluator(t *testing.T) {
	_, _, progress := newProgressFixture(t)
	_, err := progress.MergeProgress(context.Background(), "missing", []domain.ConversationInput{
		{ConversationID: 1, Scores: map[string]int{"2_safety": 4}},
	})
	if !errors.Is(err, ErrEvaluatorNotFound) {
		t.Fatalf("expected ErrEvaluatorNotFound, got %v", err)
	}
}

func TestMergeProgress_PartialFailures(t *testing.T) {
	ctx := context.Background()
	_, identity, progress := newProgressFixture(t)
	ev := registerDoctor(t, identity, "alice")

	inputs := []domain.ConversationInput{
		{ConversationID: 1, Scores: map[string]int{"2_safety": 4}},
		{ConversationID: 2, Scores: map[string]int{"2_safety": 6}},
		{ConversationID: 3, Scores: map[string]int{"unknown_key": 3}},
		{ConversationID: 51, Scores: map[string]int{"2_safety": 3}},
		{ConversationID: 4, Scores: map[string]int{"3_red_flags": 1}},
	}
	res, err := progress.MergeProgress(ctx, ev.ID, inputs)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(res.Applied) != 2 {
		t.Fatalf("expected 2 applied, got %+v", res.Applied)
	}
	if len(res.Failures) != 3 {
		t.Fatalf("expected 3 failures, got %+v", res.Failures)
	}
	if !errors.Is(res.Failures[0].Err, ErrInvalidScoreValue) || res.Failures[0].ConversationID != 2 {
		t.Fatalf("unexpected failure %+v", res.Failures[0])
	}
	if !errors.Is(res.Failures[1].Err, ErrInvalidScoreValue) {
		t.Fatalf("expected unknown key to be rejected, got %v", res.Failures[1].Err)
	}
	if !errors.Is(res.Failures[2].Err, ErrInvalidConversation) {
		t.Fatalf("expected invalid conversation, got %v", res.Failures[2].Err)
	}
}

func TestMergeProgress_DuplicateConversationLastWins(t *testing.T) {
	ctx := context.Background()
	_, identity, progress := newProgressFixture(t)
	ev := registerDoctor(t, identity, "alice")

	_, err := progress.MergeProgress(ctx, ev.ID, []domain.ConversationInput{
		{ConversationID: 5, Scores: map[string]int{"2_safety": 1}},
		{ConversationID: 5, Scores: map[string]int{"2_safety": 2}},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, _ := progress.GetEvaluatorWithRecords(ctx, ev.ID)
	if len(got.Records) != 1 || got.Records[0].Scores["2_safety"] != 2 {
		t.Fatalf("expected last write to win, got %+v", got.Records)
	}
}

func TestCompletionCount_Gating(t *testing.T) {
	ctx := context.Background()
	_, identity, progress := newProgressFixture(t)
	ev := registerDoctor(t, identity, "alice")

	inputs := make([]domain.ConversationInput, 0, scoring.ConversationCount)
	for id := 1; id < scoring.ConversationCount; id++ {
		inputs = append(inputs, domain.ConversationInput{ConversationID: id, Scores: fullScores(4)})
	}
	partial := fullScores(4)
	delete(partial, "21_thai_healthcare_system")
	inputs = append(inputs, domain.ConversationInput{ConversationID: scoring.ConversationCount, Scores: partial})

	if _, err := progress.MergeProgress(ctx, ev.ID, inputs); err != nil {
		t.Fatalf("merge: %v", err)
	}
	n, err := progress.CompletionCount(ctx, ev.ID)
	if err != nil {
		t.Fatalf("completion count: %v", err)
	}
	if n != 49 {
		t.Fatalf("expected 49 complete, got %d", n)
	}
	eligible, err := progress.SubmissionEligible(ctx, ev.ID)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if eligible {
		t.Fatalf("expected submission to be blocked")
	}
}

func TestAliceScenario(t *testing.T) {
	ctx := context.Background()
	_, identity, progress := newProgressFixture(t)
	alice := registerDoctor(t, identity, "alice")

	if _, err := identity.Authenticate(ctx, "alice", "pw1"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	_, err := progress.MergeProgress(ctx, alice.ID, []domain.ConversationInput{
		{ConversationID: 1, Scores: map[string]int{"1_medical_accuracy": 5, "2_safety": 4}},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	got, err := progress.GetEvaluatorWithRecordsByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Records) != 1 || got.Records[0].ConversationID != 1 || len(got.Records[0].Scores) != 2 {
		t.Fatalf("unexpected records %+v", got.Records)
	}
	if progress.IsComplete(got.Records[0]) {
		t.Fatalf("expected incomplete record")
	}

	if _, err := progress.MergeProgress(ctx, alice.ID, []domain.ConversationInput{
		{ConversationID: 1, Scores: fullScores(5)},
	}); err != nil {
		t.Fatalf("merge full: %v", err)
	}
	got, _ = progress.GetEvaluatorWithRecordsByUsername(ctx, "alice")
	if !progress.IsComplete(got.Records[0]) {
		t.Fatalf("expected complete record")
	}
	n, _ := progress.CompletionCount(ctx, alice.ID)
	if n != 1 {
		t.Fatalf("expected completion count 1, got %d", n)
	}

	// Borrado en cascada.
	if err := identity.DeleteEvaluator(ctx, alice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := progress.GetEvaluatorWithRecordsByUsername(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	all, err := progress.ListAllEvaluators(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	for _, ev := range all {
		if ev.Evaluator.ID == alice.ID {
			t.Fatalf("alice still listed")
		}
		for _, rec := range ev.Records {
			if rec.EvaluatorID == alice.ID {
				t.Fatalf("alice record still listed")
			}
		}
	}
}

func TestListAllEvaluators_NewestFirst(t *testing.T) {
	ctx := context.Background()
	_, identity, progress := newProgressFixture(t)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"ana", "ben", "cai"} {
		at := base.Add(time.Duration(i) * time.Hour)
		identity.now = func() time.Time { return at }
		ev := registerDoctor(t, identity, name)
		if _, err := progress.MergeProgress(ctx, ev.ID, []domain.ConversationInput{
			{ConversationID: 10 - i, Scores: map[string]int{"2_safety": 3}},
			{ConversationID: 1, Scores: map[string]int{"2_safety": 2}},
		}); err != nil {
			t.Fatalf("merge %s: %v", name, err)
		}
	}

	all, err := progress.ListAllEvaluators(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].Evaluator.Username != "cai" || all[2].Evaluator.Username != "ana" {
		t.Fatalf("unexpected order: %+v", all)
	}
	for _, ev := range all {
		if len(ev.Records) != 2 || ev.Records[0].ConversationID != 1 {
			t.Fatalf("expected records ordered by conversation, got %+v", ev.Records)
		}
	}
}

func TestExportSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, identity, progress := newProgressFixture(t)
	ev := registerDoctor(t, identity, "alice")

	inputs := []domain.ConversationInput{
		{ConversationID: 2, Scores: map[string]int{"2_safety": 4}, Comment: "revisar"},
		{ConversationID: 1, Scores: fullScores(5)},
	}
	if _, err := progress.MergeProgress(ctx, ev.ID, inputs); err != nil {
		t.Fatalf("merge: %v", err)
	}
	snap, err := progress.ExportSnapshot(ctx, ev.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if snap.Profile.Username != "alice" || len(snap.Conversations) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// Reimportar en un store nuevo reproduce el mismo estado.
	_, identity2, progress2 := newProgressFixture(t)
	imported, err := identity2.Register(ctx, snap.Profile.Username, "pw1", snap.Profile.ProfileInput())
	if err != nil {
		t.Fatalf("register import: %v", err)
	}
	if _, err := progress2.MergeProgress(ctx, imported.ID, snap.Conversations); err != nil {
		t.Fatalf("merge import: %v", err)
	}
	again, err := progress2.ExportSnapshot(ctx, imported.ID)
	if err != nil {
		t.Fatalf("export again: %v", err)
	}
	if len(again.Conversations) != 2 || again.Conversations[1].Comment != "revisar" || len(again.Conversations[0].Scores) != 21 {
		t.Fatalf("round trip mismatch: %+v", again)
	}
}

func TestProgressStore_NonUUIDIDs(t *testing.T) {
	ctx := context.Background()
	store := uuidColumnRepo{repository.NewMemoryStore()}
	identity := NewIdentityService(zap.NewNop(), store, nil)
	progress := NewProgressStore(zap.NewNop(), scoring.Default(), store, store.MemoryStore)
	registerDoctor(t, identity, "alice")

	_, err := progress.MergeProgress(ctx, "alice", []domain.ConversationInput{
		{ConversationID: 1, Scores: map[string]int{"2_safety": 4}},
	})
	if !errors.Is(err, ErrEvaluatorNotFound) {
		t.Fatalf("expected ErrEvaluatorNotFound, got %v", err)
	}
	if _, err := progress.GetEvaluatorWithRecords(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := progress.ExportSnapshot(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from export, got %v", err)
	}
}

func TestMergeProgress_MalformedScoreFailsOnlyThatRecord(t *testing.T) {
	ctx := context.Background()
	_, identity, progress := newProgressFixture(t)
	ev := registerDoctor(t, identity, "alice")

	var inputs []domain.ConversationInput
	body := `[
		{"conversation_id": 1, "scores": {"1_medical_accuracy": "5"}},
		{"conversation_id": 2, "scores": {"2_safety": 4.5}},
		{"conversation_id": 3, "scores": {"2_safety": 4}, "comment": "ok"}
	]`
	if err := json.Unmarshal([]byte(body), &inputs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	res, err := progress.MergeProgress(ctx, ev.ID, inputs)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(res.Applied) != 2 || len(res.Failures) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f := res.Failures[0]; f.ConversationID != 2 || !errors.Is(f.Err, ErrInvalidScoreValue) {
		t.Fatalf("expected conversation 2 to fail with ErrInvalidScoreValue, got %+v", f)
	}

	got, err := progress.GetEvaluatorWithRecords(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Records) != 2 || got.Records[0].Scores["1_medical_accuracy"] != 5 {
		t.Fatalf("unexpected stored records %+v", got.Records)
	}
}
