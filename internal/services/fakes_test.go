package services

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ledgerdesk/assistant-backend/internal/domain"
	"github.com/ledgerdesk/assistant-backend/internal/pkg/dbctx"
)

// recordingMetrics satisfies every service metrics sink and just counts.
type recordingMetrics struct {
	mu          sync.Mutex
	hits        int
	misses      int
	applied     int
	stale       int
	clears      int
	errors      map[string]int
	evictions   map[string]int64
	entries     int64
	bytes       int64
	logged      int
	corrections int
	outcomes    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		errors:    map[string]int{},
		evictions: map[string]int64{},
		outcomes:  map[string]int{},
	}
}

func (m *recordingMetrics) IncScopeHit()  { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *recordingMetrics) IncScopeMiss() { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *recordingMetrics) IncScopeWrite(applied bool) {
	m.mu.Lock()
	if applied {
		m.applied++
	} else {
		m.stale++
	}
	m.mu.Unlock()
}
func (m *recordingMetrics) IncScopeClear()        { m.mu.Lock(); m.clears++; m.mu.Unlock() }
func (m *recordingMetrics) IncScopeError(op string) {
	m.mu.Lock()
	m.errors[op]++
	m.mu.Unlock()
}
func (m *recordingMetrics) AddScopeEvictions(cause string, n int64) {
	m.mu.Lock()
	m.evictions[cause] += n
	m.mu.Unlock()
}
func (m *recordingMetrics) SetScopeUsage(entries, bytes int64) {
	m.mu.Lock()
	m.entries, m.bytes = entries, bytes
	m.mu.Unlock()
}
func (m *recordingMetrics) IncReviewLogged()     { m.mu.Lock(); m.logged++; m.mu.Unlock() }
func (m *recordingMetrics) IncReviewCorrection() { m.mu.Lock(); m.corrections++; m.mu.Unlock() }
func (m *recordingMetrics) IncReviewError(op string) {
	m.mu.Lock()
	m.errors[op]++
	m.mu.Unlock()
}
func (m *recordingMetrics) ObserveLearningQuery(outcome string, _ time.Duration) {
	m.mu.Lock()
	m.outcomes[outcome]++
	m.mu.Unlock()
}

var errStoreDown = errors.New("store unreachable")

// failingScopeRepo errors on every call, for fail-open behavior tests.
type failingScopeRepo struct{}

func (failingScopeRepo) Get(dbctx.Context, string) (*domain.AssistantSessionScope, error) {
	return nil, errStoreDown
}
func (failingScopeRepo) UpsertIfNewer(dbctx.Context, *domain.AssistantSessionScope) (bool, error) {
	return false, errStoreDown
}
func (failingScopeRepo) Delete(dbctx.Context, string) (bool, error) { return false, errStoreDown }
func (failingScopeRepo) DeleteExpired(dbctx.Context, time.Time, int) (int64, error) {
	return 0, errStoreDown
}
func (failingScopeRepo) EnforcePerUserCap(dbctx.Context, string, string, int) (int64, error) {
	return 0, errStoreDown
}
func (failingScopeRepo) EnforceGlobalCaps(dbctx.Context, int, int64) (int64, error) {
	return 0, errStoreDown
}
func (failingScopeRepo) Stats(dbctx.Context) (int64, int64, error) { return 0, 0, errStoreDown }

// failingReviewRepo errors on every call, for fail-closed behavior tests.
type failingReviewRepo struct{}

func (failingReviewRepo) Insert(dbctx.Context, *domain.AssistantReviewEntry) error {
	return errStoreDown
}
func (failingReviewRepo) GetByID(dbctx.Context, int64) (*domain.AssistantReviewEntry, error) {
	return nil, errStoreDown
}
func (failingReviewRepo) ListOpen(dbctx.Context, int, int) ([]domain.AssistantReviewEntry, int64, error) {
	return nil, 0, errStoreDown
}
func (failingReviewRepo) SaveCorrection(dbctx.Context, int64, string, string, string, time.Time) (bool, error) {
	return false, errStoreDown
}
func (failingReviewRepo) ListResolvedRecent(dbctx.Context, int) ([]domain.AssistantReviewEntry, error) {
	return nil, errStoreDown
}
func (failingReviewRepo) DeleteOlderThan(dbctx.Context, time.Time, int) (int64, error) {
	return 0, errStoreDown
}

// memoryReviewRepo is an in-memory ReviewRepo for deterministic ranking tests.
type memoryReviewRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AssistantReviewEntry
}

func (r *memoryReviewRepo) Insert(_ dbctx.Context, entry *domain.AssistantReviewEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memoryReviewRepo) GetByID(_ dbctx.Context, id int64) (*domain.AssistantReviewEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			cp := r.entries[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryReviewRepo) ListOpen(_ dbctx.Context, limit, offset int) ([]domain.AssistantReviewEntry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var open []domain.AssistantReviewEntry
	for _, e := range r.entries {
		if e.CorrectedAt == nil {
			open = append(open, e)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].AskedAt.After(open[j].AskedAt) })
	total := int64(len(open))
	if offset >= len(open) {
		return nil, total, nil
	}
	open = open[offset:]
	if limit < len(open) {
		open = open[:limit]
	}
	return open, total, nil
}

func (r *memoryReviewRepo) SaveCorrection(_ dbctx.Context, id int64, reply, note, by string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			r.entries[i].CorrectedReply = &reply
			r.entries[i].CorrectionNote = &note
			r.entries[i].CorrectedBy = &by
			r.entries[i].CorrectedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryReviewRepo) ListResolvedRecent(_ dbctx.Context, limit int) ([]domain.AssistantReviewEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var resolved []domain.AssistantReviewEntry
	for _, e := range r.entries {
		if e.CorrectedAt != nil {
			resolved = append(resolved, e)
		}
	}
	sort.Slice(resolved, func(i, j int) bool {
		if !resolved[i].CorrectedAt.Equal(*resolved[j].CorrectedAt) {
			return resolved[i].CorrectedAt.After(*resolved[j].CorrectedAt)
		}
		return resolved[i].ID > resolved[j].ID
	})
	if limit < len(resolved) {
		resolved = resolved[:limit]
	}
	return resolved, nil
}

func (r *memoryReviewRepo) DeleteOlderThan(_ dbctx.Context, cutoff time.Time, batchSize int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].AskedAt.Before(r.entries[j].AskedAt) })
	var kept []domain.AssistantReviewEntry
	var deleted int64
	for _, e := range r.entries {
		if deleted < int64(batchSize) && !e.AskedAt.After(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return deleted, nil
}
