package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	assistantrepo "github.com/ledgerdesk/assistant-backend/internal/data/repos/assistant"
	"github.com/ledgerdesk/assistant-backend/internal/domain"
	"github.com/ledgerdesk/assistant-backend/internal/pkg/dbctx"
	"github.com/ledgerdesk/assistant-backend/internal/platform/apierr"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

type ReviewMetrics interface {
	IncReviewLogged()
	IncReviewCorrection()
	IncReviewError(op string)
}

type ReviewConfig struct {
	RetentionDays    int
	SweepBatch       int
	ListDefaultLimit int
	ListMaxLimit     int
}

func (c ReviewConfig) withDefaults() ReviewConfig {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 500
	}
	if c.ListDefaultLimit <= 0 {
		c.ListDefaultLimit = 20
	}
	if c.ListMaxLimit <= 0 {
		c.ListMaxLimit = 100
	}
	return c
}

type LogQuestionInput struct {
	AskedByUsername    string
	AskedByDisplayName string
	Mode               string
	Question           string
	AssistantReply     string
	Provider           string
	RecordsUsed        int
	ClientMentions     []string
}

type CorrectionInput struct {
	CorrectedReply string
	CorrectionNote string
	MarkCorrect    bool
}

// ReviewService is the owner-facing correction queue. Unlike the scope cache
// there is no fallback data here, so store failures propagate to the caller.
type ReviewService interface {
	LogQuestion(ctx context.Context, input LogQuestionInput) (*domain.AssistantReviewEntry, error)
	ListOpen(ctx context.Context, limit, offset int) ([]domain.AssistantReviewEntry, int64, error)
	SaveCorrection(ctx context.Context, reviewID int64, input CorrectionInput, correctedBy string) (*domain.AssistantReviewEntry, error)
	RunRetentionSweep(ctx context.Context) (int64, error)
}

type reviewService struct {
	log      *logger.Logger
	repo     assistantrepo.ReviewRepo
	redactor Redactor
	metrics  ReviewMetrics
	cfg      ReviewConfig
	now      func() time.Time
}

func NewReviewService(baseLog *logger.Logger, repo assistantrepo.ReviewRepo, redactor Redactor, metrics ReviewMetrics, cfg ReviewConfig) ReviewService {
	return &reviewService{
		log:      baseLog.With("service", "assistant_review"),
		repo:     repo,
		redactor: redactor,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// LogQuestion sanitizes and stores one exchange. Returns (nil, nil) when the
// sanitized question is empty; that turn simply leaves no trace.
func (s *reviewService) LogQuestion(ctx context.Context, input LogQuestionInput) (*domain.AssistantReviewEntry, error) {
	mode, err := normalizeReviewMode(input.Mode)
	if err != nil {
		return nil, err
	}

	question := strings.TrimSpace(s.redactor.Sanitize(input.Question, input.ClientMentions))
	if question == "" {
		return nil, nil
	}
	reply := strings.TrimSpace(s.redactor.Sanitize(input.AssistantReply, input.ClientMentions))

	recordsUsed := input.RecordsUsed
	if recordsUsed < 0 {
		recordsUsed = 0
	}
	entry := &domain.AssistantReviewEntry{
		AskedAt:            s.now(),
		AskedByUsername:    strings.TrimSpace(input.AskedByUsername),
		AskedByDisplayName: strings.TrimSpace(input.AskedByDisplayName),
		Mode:               mode,
		Question:           question,
		AssistantReply:     reply,
		Provider:           strings.TrimSpace(input.Provider),
		RecordsUsed:        recordsUsed,
	}
	if err := s.repo.Insert(dbctx.Context{Ctx: ctx}, entry); err != nil {
		s.log.Error("review insert failed", "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncReviewError("log")
		}
		return nil, apierr.Store(err)
	}
	if s.metrics != nil {
		s.metrics.IncReviewLogged()
	}
	return entry, nil
}

func (s *reviewService) ListOpen(ctx context.Context, limit, offset int) ([]domain.AssistantReviewEntry, int64, error) {
	if limit <= 0 {
		limit = s.cfg.ListDefaultLimit
	}
	if limit > s.cfg.ListMaxLimit {
		limit = s.cfg.ListMaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	entries, total, err := s.repo.ListOpen(dbctx.Context{Ctx: ctx}, limit, offset)
	if err != nil {
		s.log.Error("review list failed", "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncReviewError("list")
		}
		return nil, 0, apierr.Store(err)
	}
	return entries, total, nil
}

// SaveCorrection resolves an entry. MarkCorrect with no explicit reply copies
// the original assistant reply, affirming it was right. Re-correcting a
// resolved entry overwrites the previous correction.
func (s *reviewService) SaveCorrection(ctx context.Context, reviewID int64, input CorrectionInput, correctedBy string) (*domain.AssistantReviewEntry, error) {
	if reviewID <= 0 {
		return nil, apierr.Validation(fmt.Errorf("review id %d is not positive", reviewID))
	}
	reply := strings.TrimSpace(input.CorrectedReply)
	note := strings.TrimSpace(input.CorrectionNote)
	if reply == "" && note == "" && !input.MarkCorrect {
		return nil, apierr.Validation(errors.New("correction needs a reply, a note, or markCorrect"))
	}

	dbc := dbctx.Context{Ctx: ctx}
	entry, err := s.repo.GetByID(dbc, reviewID)
	if err != nil {
		s.log.Error("review lookup failed", "review_id", reviewID, "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncReviewError("correct")
		}
		return nil, apierr.Store(err)
	}
	if entry == nil {
		return nil, apierr.NotFound(fmt.Errorf("review entry %d not found", reviewID))
	}
	if input.MarkCorrect && reply == "" {
		reply = entry.AssistantReply
	}

	correctedAt := s.now()
	ok, err := s.repo.SaveCorrection(dbc, reviewID, reply, note, strings.TrimSpace(correctedBy), correctedAt)
	if err != nil {
		s.log.Error("review correction save failed", "review_id", reviewID, "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncReviewError("correct")
		}
		return nil, apierr.Store(err)
	}
	if !ok {
		return nil, apierr.NotFound(fmt.Errorf("review entry %d not found", reviewID))
	}
	if s.metrics != nil {
		s.metrics.IncReviewCorrection()
	}

	entry.CorrectedReply = &reply
	entry.CorrectionNote = &note
	by := strings.TrimSpace(correctedBy)
	entry.CorrectedBy = &by
	entry.CorrectedAt = &correctedAt
	return entry, nil
}

// RunRetentionSweep deletes one bounded batch of entries older than the
// retention window, open or resolved alike. Callers loop it on a schedule.
func (s *reviewService) RunRetentionSweep(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.repo.DeleteOlderThan(dbctx.Context{Ctx: ctx}, cutoff, s.cfg.SweepBatch)
	if err != nil {
		s.log.Error("review retention sweep failed", "error", truncateErr(err))
		if s.metrics != nil {
			s.metrics.IncReviewError("sweep")
		}
		return 0, apierr.Store(err)
	}
	if deleted > 0 {
		s.log.Info("review retention sweep removed rows", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

func normalizeReviewMode(mode string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(mode))
	switch m {
	case "":
		return "text", nil
	case "text", "voice", "gpt":
		return m, nil
	default:
		return "", apierr.Validation(fmt.Errorf("unknown review mode %q", mode))
	}
}
