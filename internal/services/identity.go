package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ledgerdesk/assistant-backend/internal/pkg/ctxutil"
	"github.com/ledgerdesk/assistant-backend/internal/platform/apierr"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

// DefaultTenantKey is used when the authenticated principal carries no tenant.
const DefaultTenantKey = "default"

// ScopeIdentity is the resolved, normalized identity for one conversation
// session. CacheKey is order-sensitive and collision-free across components.
type ScopeIdentity struct {
	TenantKey  string
	UserKey    string
	SessionKey string
	CacheKey   string
}

// IdentityService derives cache identity from the authenticated principal.
// Client-controlled headers and payload fields never participate, so one
// tenant cannot poison another tenant's cache entries.
type IdentityService interface {
	Resolve(ctx context.Context) (ScopeIdentity, error)
	ResolveComponents(tenantRaw, userRaw, sessionRaw string) (ScopeIdentity, error)
}

type identityService struct {
	log *logger.Logger
}

func NewIdentityService(baseLog *logger.Logger) IdentityService {
	return &identityService{log: baseLog.With("service", "assistant_identity")}
}

func (s *identityService) Resolve(ctx context.Context) (ScopeIdentity, error) {
	principal, ok := ctxutil.GetPrincipal(ctx)
	if !ok {
		return ScopeIdentity{}, apierr.New(http.StatusUnauthorized, "unauthorized", errors.New("no authenticated principal on context"))
	}
	return s.ResolveComponents(principal.TenantKey, principal.Username, principal.SessionKey)
}

func (s *identityService) ResolveComponents(tenantRaw, userRaw, sessionRaw string) (ScopeIdentity, error) {
	tenant := normalizeIdentityKey(tenantRaw)
	if tenant == "" {
		tenant = DefaultTenantKey
	}
	user := normalizeIdentityKey(userRaw)
	if user == "" {
		return ScopeIdentity{}, apierr.Validation(errors.New("user key is empty after normalization"))
	}
	session := normalizeIdentityKey(sessionRaw)
	if session == "" {
		return ScopeIdentity{}, apierr.Validation(errors.New("session key is empty after normalization"))
	}
	return ScopeIdentity{
		TenantKey:  tenant,
		UserKey:    user,
		SessionKey: session,
		CacheKey:   ComposeCacheKey(tenant, user, session),
	}, nil
}

// ComposeCacheKey length-prefixes each component so that no pair of distinct
// identities can collide, regardless of what characters the components hold.
func ComposeCacheKey(tenantKey, userKey, sessionKey string) string {
	return fmt.Sprintf("%d:%s|%d:%s|%d:%s",
		len(tenantKey), tenantKey,
		len(userKey), userKey,
		len(sessionKey), sessionKey)
}

func normalizeIdentityKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
