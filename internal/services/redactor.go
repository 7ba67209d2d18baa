package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

type RedactionPolicy string

const (
	RedactionFull    RedactionPolicy = "full"
	RedactionRedact  RedactionPolicy = "redact"
	RedactionMinimal RedactionPolicy = "minimal"
)

// WholesaleRedactionMarker replaces the entire text under the "redact" policy.
const WholesaleRedactionMarker = "[redacted by assistant review policy]"

// Redactor sanitizes free text before it is persisted to the review log.
type Redactor interface {
	Policy() RedactionPolicy
	Sanitize(text string, clientMentions []string) string
}

type redactor struct {
	policy RedactionPolicy
	log    *logger.Logger
}

func NewRedactor(policy RedactionPolicy, baseLog *logger.Logger) (Redactor, error) {
	switch policy {
	case RedactionFull, RedactionRedact, RedactionMinimal:
	default:
		return nil, fmt.Errorf("redactor: unknown policy %q", policy)
	}
	return &redactor{policy: policy, log: baseLog.With("service", "assistant_redactor")}, nil
}

func (r *redactor) Policy() RedactionPolicy { return r.policy }

func (r *redactor) Sanitize(text string, clientMentions []string) string {
	switch r.policy {
	case RedactionFull:
		return text
	case RedactionRedact:
		if strings.TrimSpace(text) == "" {
			return text
		}
		return WholesaleRedactionMarker
	default:
		return sanitizeMinimal(text, clientMentions)
	}
}

var (
	// Lines like "Client: John Smith" or "notes = called about refund".
	labeledFieldRe = regexp.MustCompile(`(?mi)^(\s*(?:client(?:\s+name)?|manager|account\s+manager|company(?:\s+name)?|notes?)\s*[:=]\s*)(.+)$`)
	emailRe        = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	amountRe       = regexp.MustCompile(`(?i)(?:[$€£]\s?\d[\d,]*(?:\.\d+)?|\b\d[\d,]*(?:\.\d+)?\s?(?:usd|eur|gbp|dollars?)\b)`)
	phoneRe        = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
)

// sanitizeMinimal strips labeled sensitive fields and PII-shaped substrings.
// Replacement markers contain none of the shapes the patterns match, so the
// function is a fixed point on its own output.
func sanitizeMinimal(text string, clientMentions []string) string {
	if text == "" {
		return text
	}
	out := labeledFieldRe.ReplaceAllString(text, "${1}[redacted]")
	for _, mention := range clientMentions {
		mention = strings.TrimSpace(mention)
		if mention == "" {
			continue
		}
		mentionRe, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(mention))
		if err != nil {
			continue
		}
		out = mentionRe.ReplaceAllString(out, "[redacted]")
	}
	out = emailRe.ReplaceAllString(out, "[redacted-email]")
	out = amountRe.ReplaceAllString(out, "[redacted-amount]")
	out = phoneRe.ReplaceAllString(out, "[redacted-phone]")
	return out
}
