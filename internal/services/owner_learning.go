package services

import (
	"context"
	"sort"
	"strings"
	"time"

	assistantrepo "github.com/ledgerdesk/assistant-backend/internal/data/repos/assistant"
	"github.com/ledgerdesk/assistant-backend/internal/domain"
	"github.com/ledgerdesk/assistant-backend/internal/pkg/dbctx"
	"github.com/ledgerdesk/assistant-backend/internal/platform/apierr"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

type LearningMetrics interface {
	ObserveLearningQuery(outcome string, dur time.Duration)
}

type LearningConfig struct {
	CandidateLimit int
	MaxExamples    int
	MinScore       float64
	DirectScore    float64
}

func (c LearningConfig) withDefaults() LearningConfig {
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 50
	}
	if c.MaxExamples <= 0 {
		c.MaxExamples = 3
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.34
	}
	if c.DirectScore <= c.MinScore {
		c.DirectScore = 0.82
	}
	return c
}

type LearningResult struct {
	PromptExamples []domain.LearningMatch
	DirectMatch    *domain.LearningMatch
}

// OwnerLearningService ranks previously corrected answers against a new
// question. Scoring is a deterministic token-overlap measure; there is no
// model and no training, just a nearest-neighbor lookup over a recent window.
type OwnerLearningService interface {
	FindForMessage(ctx context.Context, message string, candidateLimit int) (LearningResult, error)
}

type ownerLearningService struct {
	log     *logger.Logger
	repo    assistantrepo.ReviewRepo
	metrics LearningMetrics
	cfg     LearningConfig
	now     func() time.Time
}

func NewOwnerLearningService(baseLog *logger.Logger, repo assistantrepo.ReviewRepo, metrics LearningMetrics, cfg LearningConfig) OwnerLearningService {
	return &ownerLearningService{
		log:     baseLog.With("service", "assistant_owner_learning"),
		repo:    repo,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

func (s *ownerLearningService) FindForMessage(ctx context.Context, message string, candidateLimit int) (LearningResult, error) {
	start := s.now()
	queryTokens := tokenizeQuestion(message)
	if len(queryTokens) == 0 {
		s.observe("empty", start)
		return LearningResult{}, nil
	}

	if candidateLimit <= 0 || candidateLimit > s.cfg.CandidateLimit {
		candidateLimit = s.cfg.CandidateLimit
	}
	candidates, err := s.repo.ListResolvedRecent(dbctx.Context{Ctx: ctx}, candidateLimit)
	if err != nil {
		s.log.Error("learning candidate query failed", "error", truncateErr(err))
		s.observe("error", start)
		return LearningResult{}, apierr.Store(err)
	}

	matches := make([]domain.LearningMatch, 0, len(candidates))
	for i := range candidates {
		entry := &candidates[i]
		score := overlapScore(queryTokens, tokenizeQuestion(entry.Question))
		if score < s.cfg.MinScore {
			continue
		}
		matches = append(matches, domain.LearningMatch{Entry: entry, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		ai, aj := matches[i].Entry.CorrectedAt, matches[j].Entry.CorrectedAt
		if ai != nil && aj != nil && !ai.Equal(*aj) {
			return ai.After(*aj)
		}
		return matches[i].Entry.ID > matches[j].Entry.ID
	})

	result := LearningResult{}
	if len(matches) > s.cfg.MaxExamples {
		result.PromptExamples = matches[:s.cfg.MaxExamples]
	} else {
		result.PromptExamples = matches
	}
	if len(matches) > 0 && matches[0].Score >= s.cfg.DirectScore {
		result.DirectMatch = &matches[0]
	}

	switch {
	case result.DirectMatch != nil:
		s.observe("direct", start)
	case len(result.PromptExamples) > 0:
		s.observe("matches", start)
	default:
		s.observe("none", start)
	}
	return result, nil
}

func (s *ownerLearningService) observe(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveLearningQuery(outcome, s.now().Sub(start))
	}
}

// overlapScore is the Sorensen-Dice coefficient over unique token sets:
// 2*|shared| / (|a|+|b|). Bounded in [0,1] and monotonic in shared tokens.
func overlapScore(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

var questionStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "has": {}, "have": {}, "had": {}, "do": {}, "does": {},
	"did": {}, "can": {}, "could": {}, "will": {}, "would": {}, "what": {},
	"who": {}, "when": {}, "where": {}, "why": {}, "how": {}, "many": {},
	"much": {}, "tell": {}, "show": {}, "give": {}, "me": {}, "my": {},
	"your": {}, "i": {}, "we": {}, "you": {}, "they": {}, "them": {}, "he": {},
	"she": {}, "his": {}, "her": {}, "it": {}, "its": {}, "that": {},
	"this": {}, "these": {}, "those": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "at": {}, "by": {}, "for": {}, "from": {}, "with": {},
	"about": {}, "and": {}, "or": {}, "please": {},
}

// tokenizeQuestion lowercases, strips punctuation and drops stopwords and
// single-character fragments (possessive leftovers like "s").
func tokenizeQuestion(text string) map[string]struct{} {
	lowered := strings.ToLower(text)
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := questionStopwords[f]; stop {
			continue
		}
		tokens[f] = struct{}{}
	}
	return tokens
}
