package domain

import (
	"time"

	"gorm.io/datatypes"
)

// ConversationScope is what the assistant remembers about the current
// conversation. It is stored as a JSON blob per session so the shape can
// evolve without migrations.
type ConversationScope struct {
	ScopeEstablished  bool     `json:"scopeEstablished"`
	ClientComparables []string `json:"clientComparables"`
	Truncated         bool     `json:"truncated,omitempty"`
}

// AssistantSessionScope is a single cached conversation scope row. CacheKey is
// derived from tenant, user and session keys and is the primary key; LastSeq
// orders concurrent writers within one session.
type AssistantSessionScope struct {
	CacheKey   string         `gorm:"column:cache_key;primaryKey" json:"cacheKey"`
	TenantKey  string         `gorm:"column:tenant_key;not null;index:idx_assistant_scope_tenant_user" json:"tenantKey"`
	UserKey    string         `gorm:"column:user_key;not null;index:idx_assistant_scope_tenant_user" json:"userKey"`
	SessionKey string         `gorm:"column:session_key;not null" json:"sessionKey"`
	Scope      datatypes.JSON `gorm:"column:scope;type:jsonb" json:"scope"`
	LastSeq    int64          `gorm:"column:last_seq;not null;default:0" json:"lastSeq"`
	ScopeBytes int            `gorm:"column:scope_bytes;not null;default:0" json:"scopeBytes"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null" json:"updatedAt"`
	ExpiresAt  time.Time      `gorm:"column:expires_at;not null;index" json:"expiresAt"`
}

func (AssistantSessionScope) TableName() string { return "assistant_session_scope" }

// AssistantReviewEntry is one logged assistant exchange awaiting (or holding)
// an owner correction. Corrected* fields stay nil until a reviewer responds.
type AssistantReviewEntry struct {
	ID                 int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	AskedAt            time.Time  `gorm:"column:asked_at;not null;index" json:"askedAt"`
	AskedByUsername    string     `gorm:"column:asked_by_username;not null" json:"askedByUsername"`
	AskedByDisplayName string     `gorm:"column:asked_by_display_name" json:"askedByDisplayName"`
	Mode               string     `gorm:"column:mode;not null" json:"mode"`
	Question           string     `gorm:"column:question;not null" json:"question"`
	AssistantReply     string     `gorm:"column:assistant_reply;not null" json:"assistantReply"`
	Provider           string     `gorm:"column:provider" json:"provider"`
	RecordsUsed        int        `gorm:"column:records_used;not null;default:0" json:"recordsUsed"`
	CorrectedReply     *string    `gorm:"column:corrected_reply" json:"correctedReply,omitempty"`
	CorrectionNote     *string    `gorm:"column:correction_note" json:"correctionNote,omitempty"`
	CorrectedBy        *string    `gorm:"column:corrected_by" json:"correctedBy,omitempty"`
	CorrectedAt        *time.Time `gorm:"column:corrected_at;index" json:"correctedAt,omitempty"`
}

func (AssistantReviewEntry) TableName() string { return "assistant_review_log" }

// Corrected reports whether a reviewer has resolved the entry.
func (e *AssistantReviewEntry) Corrected() bool {
	return e.CorrectedAt != nil && e.CorrectedReply != nil && *e.CorrectedReply != ""
}

// LearningMatch is a scored retrieval hit from the corrected review log.
type LearningMatch struct {
	Entry *AssistantReviewEntry `json:"entry"`
	Score float64               `json:"score"`
}
