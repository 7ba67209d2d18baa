package services

import (
	"strings"
	"testing"
)

func newMinimalRedactor(t *testing.T) Redactor {
	t.Helper()
	r, err := NewRedactor(RedactionMinimal, newTestLogger(t))
	if err != nil {
		t.Fatalf("redactor: %v", err)
	}
	return r
}

func TestRedactorFullPassesThrough(t *testing.T) {
	r, err := NewRedactor(RedactionFull, newTestLogger(t))
	if err != nil {
		t.Fatalf("redactor: %v", err)
	}
	in := "Client: John Smith owes $700, reach him at john@example.com"
	if got := r.Sanitize(in, nil); got != in {
		t.Fatalf("full policy must not change text, got %q", got)
	}
}

func TestRedactorWholesale(t *testing.T) {
	r, err := NewRedactor(RedactionRedact, newTestLogger(t))
	if err != nil {
		t.Fatalf("redactor: %v", err)
	}
	if got := r.Sanitize("anything at all", nil); got != WholesaleRedactionMarker {
		t.Fatalf("expected wholesale marker, got %q", got)
	}
	if got := r.Sanitize("   ", nil); got != "   " {
		t.Fatalf("blank input should stay blank, got %q", got)
	}
}

func TestRedactorUnknownPolicy(t *testing.T) {
	if _, err := NewRedactor(RedactionPolicy("loose"), newTestLogger(t)); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestMinimalRedactsLabeledFields(t *testing.T) {
	r := newMinimalRedactor(t)
	in := "Client: John Smith\nManager = Alice\nNotes: called about a refund\nStatus: open"
	got := r.Sanitize(in, nil)
	for _, want := range []string{"Client: [redacted]", "Manager = [redacted]", "Notes: [redacted]", "Status: open"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output, got %q", want, got)
		}
	}
}

func TestMinimalRedactsShapedSubstrings(t *testing.T) {
	r := newMinimalRedactor(t)
	got := r.Sanitize("Email john.smith@example.com or call +1 (555) 010-2345 about the $1,200.50 balance", nil)
	if strings.Contains(got, "@") || strings.Contains(got, "555") || strings.Contains(got, "1,200") {
		t.Fatalf("pii leaked through: %q", got)
	}
	for _, want := range []string{"[redacted-email]", "[redacted-phone]", "[redacted-amount]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected marker %q in %q", want, got)
		}
	}
}

func TestMinimalRedactsClientMentions(t *testing.T) {
	r := newMinimalRedactor(t)
	got := r.Sanitize("Is john SMITH overdue? I saw John Smith yesterday.", []string{"John Smith"})
	if strings.Contains(strings.ToLower(got), "john smith") {
		t.Fatalf("mention survived redaction: %q", got)
	}
}

func TestMinimalRedactionIsIdempotent(t *testing.T) {
	r := newMinimalRedactor(t)
	in := "Client: John Smith\nbalance $700, email a@b.co, phone 555-010-2345"
	once := r.Sanitize(in, []string{"John Smith"})
	twice := r.Sanitize(once, []string{"John Smith"})
	if once != twice {
		t.Fatalf("redaction is not a fixed point:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestMinimalFiresWithoutMentionHints(t *testing.T) {
	r := newMinimalRedactor(t)
	got := r.Sanitize("company: Acme LLC owes 900 USD", nil)
	if strings.Contains(got, "Acme") || strings.Contains(got, "900") {
		t.Fatalf("labeled field or amount survived without hints: %q", got)
	}
}
