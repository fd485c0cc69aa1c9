package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sentrytsa/tsamediator/pkg/tsaerr"
)

// Manager is the policy manager (C4): a read-through cache over Store,
// enforcing validation, fingerprinting, bounded history, and an audit
// trail on every mutation.
type Manager struct {
	store  *Store
	audit  *AuditWriter
	logger *slog.Logger

	knownProviderIDsFn func() map[string]bool

	mu    sync.RWMutex
	cache map[string]PolicyRecord
}

// NewManager creates a Manager. knownProviderIDsFn returns the currently
// registered C1 adapter IDs, consulted during Save's routing_priority
// validation; it may be nil to skip that check (e.g. in tests).
func NewManager(store *Store, audit *AuditWriter, logger *slog.Logger, knownProviderIDsFn func() map[string]bool) *Manager {
	return &Manager{
		store:              store,
		audit:              audit,
		logger:             logger,
		knownProviderIDsFn: knownProviderIDsFn,
		cache:              make(map[string]PolicyRecord),
	}
}

// Load returns the current policy for tenantID, lazily materializing and
// persisting the default policy on first access. Every read verifies the
// cached record's fingerprint still matches its contents; a mismatch
// evicts the cache entry and forces a reload from the store.
func (m *Manager) Load(ctx context.Context, tenantID string) (PolicyRecord, *tsaerr.Error) {
	m.mu.RLock()
	cached, ok := m.cache[tenantID]
	m.mu.RUnlock()

	if ok {
		if Fingerprint(cached.Policy) == cached.Fingerprint {
			return cached, nil
		}
		m.mu.Lock()
		delete(m.cache, tenantID)
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Warn("policy integrity check failed, evicting cache", "tenant_id", tenantID)
		}
	}

	rec, err := m.store.LoadCurrent(ctx, tenantID)
	switch {
	case err == nil:
		m.mu.Lock()
		m.cache[tenantID] = rec
		m.mu.Unlock()
		return rec, nil
	case err == pgx.ErrNoRows:
		return m.materializeDefault(ctx, tenantID)
	default:
		return PolicyRecord{}, tsaerr.Wrap(tsaerr.PolicyUnavailable, "loading tenant policy", err)
	}
}

func (m *Manager) materializeDefault(ctx context.Context, tenantID string) (PolicyRecord, *tsaerr.Error) {
	policy := DefaultPolicy(tenantID)
	now := time.Now()
	rec := PolicyRecord{
		Policy:      policy,
		Version:     1,
		Fingerprint: Fingerprint(policy),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.SaveCurrent(ctx, tenantID, rec); err != nil {
		return PolicyRecord{}, tsaerr.Wrap(tsaerr.PolicyUnavailable, "materializing default policy", err)
	}
	m.mu.Lock()
	m.cache[tenantID] = rec
	m.mu.Unlock()
	m.logAudit(tenantID, ActionCreated, rec.Fingerprint, rec.Version)
	return rec, nil
}

// Save validates p, and on success stores it as the new current record for
// tenantID (pushing the prior record into bounded history) and appends an
// audit entry. On validation failure no state changes and a
// policy_validation_failed audit entry is appended.
func (m *Manager) Save(ctx context.Context, tenantID string, p TenantPolicy) (PolicyRecord, *tsaerr.Error) {
	p.TenantID = tenantID

	var known map[string]bool
	if m.knownProviderIDsFn != nil {
		known = m.knownProviderIDsFn()
	}
	errs, warnings := Validate(p, known)
	if len(errs) > 0 {
		m.logAuditValidationFailure(tenantID, errs)
		return PolicyRecord{}, tsaerr.PolicyValidationFailure(errs)
	}
	for _, w := range warnings {
		if m.logger != nil {
			m.logger.Warn("policy save warning", "tenant_id", tenantID, "field", w.Field, "message", w.Message)
		}
	}

	existing, loadErr := m.store.LoadCurrent(ctx, tenantID)
	action := ActionCreated
	version := 1
	now := time.Now()
	createdAt := now
	if loadErr == nil {
		action = ActionUpdated
		version = existing.Version + 1
		createdAt = existing.CreatedAt
	}

	rec := PolicyRecord{
		Policy:      p,
		Version:     version,
		Fingerprint: Fingerprint(p),
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}

	if err := m.store.SaveCurrent(ctx, tenantID, rec); err != nil {
		return PolicyRecord{}, tsaerr.Wrap(tsaerr.PolicyUnavailable, "saving tenant policy", err)
	}

	m.mu.Lock()
	m.cache[tenantID] = rec
	m.mu.Unlock()

	m.logAudit(tenantID, action, rec.Fingerprint, rec.Version)
	return rec, nil
}

// Delete removes tenantID's current policy.
func (m *Manager) Delete(ctx context.Context, tenantID string) *tsaerr.Error {
	if err := m.store.Delete(ctx, tenantID); err != nil {
		return tsaerr.Wrap(tsaerr.PolicyUnavailable, "deleting tenant policy", err)
	}
	m.mu.Lock()
	delete(m.cache, tenantID)
	m.mu.Unlock()
	m.logAudit(tenantID, ActionDeleted, "", 0)
	return nil
}

// GetHistory returns tenantID's bounded history, most recent first.
func (m *Manager) GetHistory(ctx context.Context, tenantID string) ([]PolicyRecord, *tsaerr.Error) {
	hist, err := m.store.History(ctx, tenantID)
	if err != nil {
		return nil, tsaerr.Wrap(tsaerr.PolicyUnavailable, "loading policy history", err)
	}
	return hist, nil
}

// GetAuditLog returns the most recent audit entries, newest first.
func (m *Manager) GetAuditLog(ctx context.Context, limit int) ([]AuditRow, *tsaerr.Error) {
	rows, err := m.store.AuditLog(ctx, limit)
	if err != nil {
		return nil, tsaerr.Wrap(tsaerr.PolicyUnavailable, "loading policy audit log", err)
	}
	return rows, nil
}

// Export returns tenantID's current PolicyRecord (policy, version, and
// fingerprint), for external backup/migration tooling. It goes through
// Load, so for a tenant with no stored policy it materializes, persists,
// and audits the default policy exactly as Load does. It does not return
// the canonical string that Fingerprint hashes.
func (m *Manager) Export(ctx context.Context, tenantID string) (PolicyRecord, *tsaerr.Error) {
	return m.Load(ctx, tenantID)
}

// Accepts reports whether tenantID's policy lists providerID in its
// routing priority and policyOID in its accepted set.
func (m *Manager) Accepts(ctx context.Context, tenantID, providerID, policyOID string) (bool, *tsaerr.Error) {
	rec, err := m.Load(ctx, tenantID)
	if err != nil {
		return false, err
	}

	hasProvider := false
	for _, id := range rec.Policy.RoutingPriority {
		if id == providerID {
			hasProvider = true
			break
		}
	}
	hasOID := false
	for _, oid := range rec.Policy.AcceptedPolicyOIDs {
		if oid == policyOID {
			hasOID = true
			break
		}
	}
	return hasProvider && hasOID, nil
}

func (m *Manager) logAudit(tenantID, action, fingerprint string, version int) {
	if m.audit == nil {
		return
	}
	m.audit.Log(AuditEntry{
		TenantID:  tenantID,
		Action:    action,
		Timestamp: time.Now(),
		Details:   fmt.Sprintf("version=%d fingerprint=%s", version, fingerprint),
	})
}

func (m *Manager) logAuditValidationFailure(tenantID string, errs []tsaerr.FieldError) {
	if m.audit == nil {
		return
	}
	m.audit.Log(AuditEntry{
		TenantID:  tenantID,
		Action:    ActionValidationFailed,
		Timestamp: time.Now(),
		Details:   tsaerr.Sanitize(fmt.Sprintf("%d field error(s)", len(errs))),
	})
}
