package services

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerdesk/assistant-backend/internal/domain"
	"github.com/ledgerdesk/assistant-backend/internal/pkg/dbctx"
)

func seedCorrected(t *testing.T, repo *memoryReviewRepo, question, answer string, correctedAt time.Time) int64 {
	t.Helper()
	entry := &domain.AssistantReviewEntry{
		AskedAt:         correctedAt.Add(-time.Hour),
		AskedByUsername: "owner",
		Mode:            "text",
		Question:        question,
		AssistantReply:  answer,
	}
	if err := repo.Insert(dbctx.Context{}, entry); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.SaveCorrection(dbctx.Context{}, entry.ID, answer, "", "owner", correctedAt); err != nil {
		t.Fatalf("correct: %v", err)
	}
	return entry.ID
}

func TestLearningRanksAndFlagsDirectMatch(t *testing.T) {
	repo := &memoryReviewRepo{}
	now := time.Now().UTC()
	balanceID := seedCorrected(t, repo, "What is client John Smith's balance?", "$700", now)
	seedCorrected(t, repo, "How many overdue clients?", "12", now.Add(time.Minute))

	svc := NewOwnerLearningService(newTestLogger(t), repo, newRecordingMetrics(), LearningConfig{})
	res, err := svc.FindForMessage(context.Background(), "Tell me John Smith balance", 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(res.PromptExamples) != 1 {
		t.Fatalf("expected only the balance question to qualify, got %d examples", len(res.PromptExamples))
	}
	if res.PromptExamples[0].Entry.ID != balanceID {
		t.Fatalf("wrong top example: %+v", res.PromptExamples[0].Entry)
	}
	if res.DirectMatch == nil || res.DirectMatch.Entry.ID != balanceID {
		t.Fatalf("expected the balance question as direct match, got %+v", res.DirectMatch)
	}
	if res.DirectMatch.Score <= 0.82 {
		t.Fatalf("expected near-identical phrasing to clear the direct threshold, got %f", res.DirectMatch.Score)
	}
}

func TestLearningRelatedButNotDirect(t *testing.T) {
	repo := &memoryReviewRepo{}
	now := time.Now().UTC()
	seedCorrected(t, repo, "What is the outstanding balance across overdue clients this quarter?", "$9,100", now)

	svc := NewOwnerLearningService(newTestLogger(t), repo, newRecordingMetrics(), LearningConfig{})
	res, err := svc.FindForMessage(context.Background(), "overdue balance", 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(res.PromptExamples) != 1 {
		t.Fatalf("expected one related example, got %d", len(res.PromptExamples))
	}
	if res.DirectMatch != nil {
		t.Fatalf("partial overlap must not be a direct match, got score %f", res.PromptExamples[0].Score)
	}
}

func TestLearningEmptyQuerySkipsStore(t *testing.T) {
	// failingReviewRepo errors on any call, proving no query was issued.
	svc := NewOwnerLearningService(newTestLogger(t), failingReviewRepo{}, newRecordingMetrics(), LearningConfig{})
	res, err := svc.FindForMessage(context.Background(), "the is of a", 0)
	if err != nil {
		t.Fatalf("empty-token query must not reach the store: %v", err)
	}
	if len(res.PromptExamples) != 0 || res.DirectMatch != nil {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestLearningFailsClosedOnStoreError(t *testing.T) {
	svc := NewOwnerLearningService(newTestLogger(t), failingReviewRepo{}, newRecordingMetrics(), LearningConfig{})
	if _, err := svc.FindForMessage(context.Background(), "john smith balance", 0); err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func TestLearningDeterministicTieBreak(t *testing.T) {
	repo := &memoryReviewRepo{}
	now := time.Now().UTC()
	// Identical questions score identically; ranking must fall back to
	// correctedAt descending, then id descending.
	oldID := seedCorrected(t, repo, "invoice total for acme", "$100", now.Add(-time.Hour))
	tieA := seedCorrected(t, repo, "invoice total for acme", "$200", now)
	tieB := seedCorrected(t, repo, "invoice total for acme", "$300", now)

	svc := NewOwnerLearningService(newTestLogger(t), repo, newRecordingMetrics(), LearningConfig{MaxExamples: 5})
	var firstOrder []int64
	for run := 0; run < 3; run++ {
		res, err := svc.FindForMessage(context.Background(), "invoice total for acme", 0)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		var order []int64
		for _, m := range res.PromptExamples {
			order = append(order, m.Entry.ID)
		}
		if run == 0 {
			firstOrder = order
			if len(order) != 3 || order[0] != tieB || order[1] != tieA || order[2] != oldID {
				t.Fatalf("unexpected tie-break order %v (want [%d %d %d])", order, tieB, tieA, oldID)
			}
			continue
		}
		for i := range order {
			if order[i] != firstOrder[i] {
				t.Fatalf("ranking changed between runs: %v vs %v", firstOrder, order)
			}
		}
	}
}

func TestLearningBoundsExamples(t *testing.T) {
	repo := &memoryReviewRepo{}
	now := time.Now().UTC()
	for i := 0; i < 6; i++ {
		seedCorrected(t, repo, "payment plan options for acme", "offer net-30", now.Add(time.Duration(i)*time.Minute))
	}
	svc := NewOwnerLearningService(newTestLogger(t), repo, newRecordingMetrics(), LearningConfig{MaxExamples: 2})
	res, err := svc.FindForMessage(context.Background(), "payment plan options for acme", 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(res.PromptExamples) != 2 {
		t.Fatalf("expected examples bounded to 2, got %d", len(res.PromptExamples))
	}
}
