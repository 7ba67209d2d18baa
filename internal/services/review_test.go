package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ledgerdesk/assistant-backend/internal/platform/apierr"
)

func newReviewService(t *testing.T, repo *memoryReviewRepo, policy RedactionPolicy, cfg ReviewConfig) (ReviewService, *recordingMetrics) {
	t.Helper()
	log := newTestLogger(t)
	red, err := NewRedactor(policy, log)
	if err != nil {
		t.Fatalf("redactor: %v", err)
	}
	metrics := newRecordingMetrics()
	return NewReviewService(log, repo, red, metrics, cfg), metrics
}

func TestLogQuestionRedactsBeforeStorage(t *testing.T) {
	repo := &memoryReviewRepo{}
	svc, metrics := newReviewService(t, repo, RedactionMinimal, ReviewConfig{})

	entry, err := svc.LogQuestion(context.Background(), LogQuestionInput{
		AskedByUsername: "owner",
		Question:        "Is John Smith's balance still $700?",
		AssistantReply:  "Yes, John Smith owes $700, see john@acme.co",
		Provider:        "openai",
		RecordsUsed:     2,
		ClientMentions:  []string{"John Smith"},
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if entry == nil || entry.ID == 0 {
		t.Fatalf("expected stored entry, got %+v", entry)
	}
	combined := entry.Question + " " + entry.AssistantReply
	if strings.Contains(combined, "John Smith") || strings.Contains(combined, "$700") || strings.Contains(combined, "@acme") {
		t.Fatalf("pii reached storage: %q", combined)
	}
	if entry.Mode != "text" {
		t.Fatalf("expected default mode text, got %q", entry.Mode)
	}
	if metrics.logged != 1 {
		t.Fatalf("expected logged metric, got %d", metrics.logged)
	}
}

func TestLogQuestionEmptyAfterSanitizeWritesNothing(t *testing.T) {
	repo := &memoryReviewRepo{}
	svc, metrics := newReviewService(t, repo, RedactionFull, ReviewConfig{})

	entry, err := svc.LogQuestion(context.Background(), LogQuestionInput{Question: "   "})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected no row for empty question, got %+v", entry)
	}
	if len(repo.entries) != 0 || metrics.logged != 0 {
		t.Fatalf("expected silent no-op, entries=%d logged=%d", len(repo.entries), metrics.logged)
	}
}

func TestLogQuestionRejectsUnknownMode(t *testing.T) {
	svc, _ := newReviewService(t, &memoryReviewRepo{}, RedactionFull, ReviewConfig{})
	_, err := svc.LogQuestion(context.Background(), LogQuestionInput{Question: "q", Mode: "carrier-pigeon"})
	if !apierr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListOpenAfterPartialResolution(t *testing.T) {
	repo := &memoryReviewRepo{}
	svc, _ := newReviewService(t, repo, RedactionFull, ReviewConfig{})
	ctx := context.Background()

	var firstID int64
	for i, q := range []string{"q one", "q two", "q three"} {
		entry, err := svc.LogQuestion(ctx, LogQuestionInput{Question: q})
		if err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
		if i == 0 {
			firstID = entry.ID
		}
	}
	if _, err := svc.SaveCorrection(ctx, firstID, CorrectionInput{CorrectedReply: "better answer"}, "owner"); err != nil {
		t.Fatalf("correct: %v", err)
	}

	items, total, err := svc.ListOpen(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected total=2 items=2, got total=%d items=%d", total, len(items))
	}
}

func TestSaveCorrectionValidation(t *testing.T) {
	svc, _ := newReviewService(t, &memoryReviewRepo{}, RedactionFull, ReviewConfig{})
	ctx := context.Background()

	if _, err := svc.SaveCorrection(ctx, 0, CorrectionInput{CorrectedReply: "x"}, "owner"); !apierr.IsValidation(err) {
		t.Fatalf("expected validation error for id 0, got %v", err)
	}
	if _, err := svc.SaveCorrection(ctx, 1, CorrectionInput{}, "owner"); !apierr.IsValidation(err) {
		t.Fatalf("expected validation error for empty payload, got %v", err)
	}
	if _, err := svc.SaveCorrection(ctx, 12345, CorrectionInput{CorrectedReply: "x"}, "owner"); !apierr.IsNotFound(err) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestSaveCorrectionMarkCorrectCopiesReply(t *testing.T) {
	repo := &memoryReviewRepo{}
	svc, metrics := newReviewService(t, repo, RedactionFull, ReviewConfig{})
	ctx := context.Background()

	entry, err := svc.LogQuestion(ctx, LogQuestionInput{Question: "is this right", AssistantReply: "original answer"})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	got, err := svc.SaveCorrection(ctx, entry.ID, CorrectionInput{MarkCorrect: true}, "owner")
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if got.CorrectedReply == nil || *got.CorrectedReply != "original answer" {
		t.Fatalf("markCorrect should copy the original reply, got %v", got.CorrectedReply)
	}
	if got.CorrectedBy == nil || *got.CorrectedBy != "owner" || got.CorrectedAt == nil {
		t.Fatalf("correction metadata missing: %+v", got)
	}
	if metrics.corrections != 1 {
		t.Fatalf("expected correction metric, got %d", metrics.corrections)
	}
}

func TestSaveCorrectionIsReinvocable(t *testing.T) {
	repo := &memoryReviewRepo{}
	svc, _ := newReviewService(t, repo, RedactionFull, ReviewConfig{})
	ctx := context.Background()

	entry, err := svc.LogQuestion(ctx, LogQuestionInput{Question: "q", AssistantReply: "a"})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := svc.SaveCorrection(ctx, entry.ID, CorrectionInput{CorrectedReply: "first pass"}, "owner"); err != nil {
		t.Fatalf("first correction: %v", err)
	}
	got, err := svc.SaveCorrection(ctx, entry.ID, CorrectionInput{CorrectedReply: "second pass"}, "reviewer")
	if err != nil {
		t.Fatalf("second correction: %v", err)
	}
	if *got.CorrectedReply != "second pass" || *got.CorrectedBy != "reviewer" {
		t.Fatalf("re-correction should overwrite, got %+v", got)
	}
}

func TestReviewFailsClosed(t *testing.T) {
	log := newTestLogger(t)
	red, err := NewRedactor(RedactionFull, log)
	if err != nil {
		t.Fatalf("redactor: %v", err)
	}
	svc := NewReviewService(log, failingReviewRepo{}, red, newRecordingMetrics(), ReviewConfig{})
	ctx := context.Background()

	if _, err := svc.LogQuestion(ctx, LogQuestionInput{Question: "q"}); err == nil {
		t.Fatal("expected log error to propagate")
	}
	if _, _, err := svc.ListOpen(ctx, 10, 0); err == nil {
		t.Fatal("expected list error to propagate")
	}
	if _, err := svc.RunRetentionSweep(ctx); err == nil {
		t.Fatal("expected sweep error to propagate")
	}
}

func TestRetentionSweepBatchesOldEntries(t *testing.T) {
	repo := &memoryReviewRepo{}
	svc, _ := newReviewService(t, repo, RedactionFull, ReviewConfig{RetentionDays: 7, SweepBatch: 2})
	impl := svc.(*reviewService)
	ctx := context.Background()

	base := time.Now().UTC()
	impl.now = func() time.Time { return base.AddDate(0, 0, -30) }
	for _, q := range []string{"old one", "old two", "old three"} {
		if _, err := svc.LogQuestion(ctx, LogQuestionInput{Question: q}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	impl.now = func() time.Time { return base }
	if _, err := svc.LogQuestion(ctx, LogQuestionInput{Question: "fresh"}); err != nil {
		t.Fatalf("log fresh: %v", err)
	}

	deleted, err := svc.RunRetentionSweep(ctx)
	if err != nil || deleted != 2 {
		t.Fatalf("expected batch of 2, got deleted=%d err=%v", deleted, err)
	}
	deleted, err = svc.RunRetentionSweep(ctx)
	if err != nil || deleted != 1 {
		t.Fatalf("expected remaining 1, got deleted=%d err=%v", deleted, err)
	}

	_, total, err := svc.ListOpen(ctx, 10, 0)
	if err != nil || total != 1 {
		t.Fatalf("expected only fresh to survive, total=%d err=%v", total, err)
	}
}
