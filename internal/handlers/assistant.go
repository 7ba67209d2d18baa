package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ledgerdesk/assistant-backend/internal/domain"
	"github.com/ledgerdesk/assistant-backend/internal/pkg/ctxutil"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
	"github.com/ledgerdesk/assistant-backend/internal/services"
)

type AssistantHandler struct {
	log      *logger.Logger
	scope    services.ScopeCacheService
	learning services.OwnerLearningService
	review   services.ReviewService
}

func NewAssistantHandler(baseLog *logger.Logger, scope services.ScopeCacheService, learning services.OwnerLearningService, review services.ReviewService) *AssistantHandler {
	return &AssistantHandler{
		log:      baseLog.With("handler", "assistant"),
		scope:    scope,
		learning: learning,
		review:   review,
	}
}

func principalOrAbort(c *gin.Context) (ctxutil.Principal, bool) {
	p, ok := ctxutil.GetPrincipal(c.Request.Context())
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("no principal on request"))
		return ctxutil.Principal{}, false
	}
	return p, true
}

type scopeResponse struct {
	Hit   bool                      `json:"hit"`
	Scope *domain.ConversationScope `json:"scope,omitempty"`
}

func (h *AssistantHandler) GetScope(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	scope, err := h.scope.Get(c.Request.Context(), p.TenantKey, p.Username, p.SessionKey)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, scopeResponse{Hit: scope != nil, Scope: scope})
}

type upsertScopeRequest struct {
	Scope            domain.ConversationScope `json:"scope"`
	ClientMessageSeq int64                    `json:"clientMessageSeq"`
}

type upsertScopeResponse struct {
	Applied   bool `json:"applied"`
	Stale     bool `json:"stale"`
	Truncated bool `json:"truncated,omitempty"`
}

func (h *AssistantHandler) UpsertScope(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req upsertScopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	res, err := h.scope.Upsert(c.Request.Context(), p.TenantKey, p.Username, p.SessionKey, req.Scope, req.ClientMessageSeq)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, upsertScopeResponse{Applied: res.Applied, Stale: res.Stale, Truncated: res.Truncated})
}

type clearScopeRequest struct {
	ClientMessageSeq int64 `json:"clientMessageSeq"`
}

func (h *AssistantHandler) ClearScope(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req clearScopeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	if err := h.scope.Clear(c.Request.Context(), p.TenantKey, p.Username, p.SessionKey, req.ClientMessageSeq); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"cleared": true})
}

type learningQueryRequest struct {
	Message        string `json:"message"`
	CandidateLimit int    `json:"candidateLimit"`
}

type learningMatchPayload struct {
	ReviewID       int64   `json:"reviewId"`
	Question       string  `json:"question"`
	CorrectedReply string  `json:"correctedReply"`
	Score          float64 `json:"score"`
}

type learningQueryResponse struct {
	PromptExamples []learningMatchPayload `json:"promptExamples"`
	DirectMatch    *learningMatchPayload  `json:"directMatch,omitempty"`
}

func toMatchPayload(m *domain.LearningMatch) learningMatchPayload {
	out := learningMatchPayload{
		ReviewID: m.Entry.ID,
		Question: m.Entry.Question,
		Score:    m.Score,
	}
	if m.Entry.CorrectedReply != nil {
		out.CorrectedReply = *m.Entry.CorrectedReply
	}
	return out
}

func (h *AssistantHandler) QueryLearning(c *gin.Context) {
	if _, ok := principalOrAbort(c); !ok {
		return
	}
	var req learningQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	res, err := h.learning.FindForMessage(c.Request.Context(), req.Message, req.CandidateLimit)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	payload := learningQueryResponse{PromptExamples: make([]learningMatchPayload, 0, len(res.PromptExamples))}
	for i := range res.PromptExamples {
		payload.PromptExamples = append(payload.PromptExamples, toMatchPayload(&res.PromptExamples[i]))
	}
	if res.DirectMatch != nil {
		direct := toMatchPayload(res.DirectMatch)
		payload.DirectMatch = &direct
	}
	RespondOK(c, payload)
}

type logReviewRequest struct {
	Mode           string   `json:"mode"`
	Question       string   `json:"question"`
	AssistantReply string   `json:"assistantReply"`
	Provider       string   `json:"provider"`
	RecordsUsed    int      `json:"recordsUsed"`
	ClientMentions []string `json:"clientMentions"`
}

func (h *AssistantHandler) LogReview(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req logReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	entry, err := h.review.LogQuestion(c.Request.Context(), services.LogQuestionInput{
		AskedByUsername:    p.Username,
		AskedByDisplayName: p.DisplayName,
		Mode:               req.Mode,
		Question:           req.Question,
		AssistantReply:     req.AssistantReply,
		Provider:           req.Provider,
		RecordsUsed:        req.RecordsUsed,
		ClientMentions:     req.ClientMentions,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"entry": entry, "logged": entry != nil})
}

func (h *AssistantHandler) ListOpenReviews(c *gin.Context) {
	if _, ok := principalOrAbort(c); !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	items, total, err := h.review.ListOpen(c.Request.Context(), limit, offset)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"total": total, "items": items})
}

type saveCorrectionRequest struct {
	CorrectedReply string `json:"correctedReply"`
	CorrectionNote string `json:"correctionNote"`
	MarkCorrect    bool   `json:"markCorrect"`
}

func (h *AssistantHandler) SaveCorrection(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	reviewID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation_failed", errors.New("review id must be an integer"))
		return
	}
	var req saveCorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	entry, err := h.review.SaveCorrection(c.Request.Context(), reviewID, services.CorrectionInput{
		CorrectedReply: req.CorrectedReply,
		CorrectionNote: req.CorrectionNote,
		MarkCorrect:    req.MarkCorrect,
	}, p.Username)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"entry": entry})
}

// RunRetentionSweep triggers one bounded sweep batch, for external schedulers
// that prefer hitting an endpoint over the built-in ticker.
func (h *AssistantHandler) RunRetentionSweep(c *gin.Context) {
	if _, ok := principalOrAbort(c); !ok {
		return
	}
	deleted, err := h.review.RunRetentionSweep(c.Request.Context())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": deleted})
}
