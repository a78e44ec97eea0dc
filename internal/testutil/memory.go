// Package testutil provides in-memory store implementations and entity
// builders shared by service and API tests.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/novahr/security-engine/internal/domain/alert"
	"github.com/novahr/security-engine/internal/domain/anomaly"
	"github.com/novahr/security-engine/internal/domain/audit"
	"github.com/novahr/security-engine/internal/domain/detection"
	"github.com/novahr/security-engine/internal/domain/errors"
)

// MemoryAnomalyRepo is an in-memory anomaly.Repository with the same
// optimistic-versioning and dedup semantics as the Postgres implementation.
type MemoryAnomalyRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*anomaly.Record

	// SaveErr, when set, is returned by every Save call.
	SaveErr error
}

func NewMemoryAnomalyRepo() *MemoryAnomalyRepo {
	return &MemoryAnomalyRepo{records: make(map[uuid.UUID]*anomaly.Record)}
}

func (m *MemoryAnomalyRepo) Save(_ context.Context, record *anomaly.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}

	if stored, ok := m.records[record.ID]; ok {
		if stored.Version != record.Version {
			return errors.ErrVersionMismatch
		}
		record.Version++
		cp := *record
		m.records[record.ID] = &cp
		return nil
	}

	// Mirror the partial unique index on open records.
	for _, stored := range m.records {
		if stored.Status == anomaly.StatusOpen && stored.DedupKey() == record.DedupKey() {
			return errors.NewConflictError("open anomaly already exists for window")
		}
	}
	cp := *record
	m.records[record.ID] = &cp
	return nil
}

func (m *MemoryAnomalyRepo) GetByID(_ context.Context, id uuid.UUID) (*anomaly.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[id]
	if !ok {
		return nil, errors.ErrAnomalyNotFound
	}
	cp := *stored
	return &cp, nil
}

func (m *MemoryAnomalyRepo) FindOpen(_ context.Context, tenantID, subjectUserID uuid.UUID, t anomaly.Type, windowKey string) (*anomaly.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := anomaly.DedupKey(tenantID, subjectUserID, t, windowKey)
	for _, stored := range m.records {
		if stored.Status == anomaly.StatusOpen && stored.DedupKey() == key {
			cp := *stored
			return &cp, nil
		}
	}
	return nil, errors.ErrAnomalyNotFound
}

func (m *MemoryAnomalyRepo) List(_ context.Context, filter anomaly.Filter, page anomaly.Page) ([]*anomaly.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*anomaly.Record
	for _, r := range m.records {
		if !matchAnomaly(r, filter) {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DetectedAt.After(matched[j].DetectedAt)
	})

	total := len(matched)
	lo := page.Offset()
	if lo >= total {
		return nil, total, nil
	}
	hi := lo + page.Size
	if hi > total {
		hi = total
	}
	return matched[lo:hi], total, nil
}

func matchAnomaly(r *anomaly.Record, f anomaly.Filter) bool {
	if f.TenantID != uuid.Nil && r.TenantID != f.TenantID {
		return false
	}
	if f.SubjectID != uuid.Nil && r.SubjectUserID != f.SubjectID {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.RiskLevel != "" && r.RiskLevel != f.RiskLevel {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.Start.IsZero() && r.DetectedAt.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !r.DetectedAt.Before(f.End) {
		return false
	}
	return true
}

// MemoryAlertRepo is an in-memory alert.Repository.
type MemoryAlertRepo struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*alert.SecurityAlert
}

func NewMemoryAlertRepo() *MemoryAlertRepo {
	return &MemoryAlertRepo{alerts: make(map[uuid.UUID]*alert.SecurityAlert)}
}

func (m *MemoryAlertRepo) Create(_ context.Context, a *alert.SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.SourceAnomalyID != uuid.Nil {
		for _, stored := range m.alerts {
			if stored.SourceAnomalyID == a.SourceAnomalyID {
				return errors.NewConflictError("alert already exists for anomaly")
			}
		}
	}
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *MemoryAlertRepo) Update(_ context.Context, a *alert.SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.alerts[a.ID]
	if !ok {
		return errors.ErrAlertNotFound
	}
	if stored.Version != a.Version {
		return errors.ErrVersionMismatch
	}
	a.Version++
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *MemoryAlertRepo) GetByID(_ context.Context, id uuid.UUID) (*alert.SecurityAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.alerts[id]
	if !ok {
		return nil, errors.ErrAlertNotFound
	}
	cp := *stored
	return &cp, nil
}

func (m *MemoryAlertRepo) FindBySourceAnomaly(_ context.Context, anomalyID uuid.UUID) (*alert.SecurityAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.alerts {
		if stored.SourceAnomalyID == anomalyID {
			cp := *stored
			return &cp, nil
		}
	}
	return nil, errors.ErrAlertNotFound
}

func (m *MemoryAlertRepo) List(_ context.Context, filter alert.Filter, pageNumber, pageSize int) ([]*alert.SecurityAlert, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*alert.SecurityAlert
	for _, a := range m.alerts {
		if !matchAlert(a, filter) {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	lo := (pageNumber - 1) * pageSize
	if lo >= total {
		return nil, total, nil
	}
	hi := lo + pageSize
	if hi > total {
		hi = total
	}
	return matched[lo:hi], total, nil
}

func matchAlert(a *alert.SecurityAlert, f alert.Filter) bool {
	if f.TenantID != uuid.Nil && a.TenantID != f.TenantID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.AlertType != "" && a.AlertType != f.AlertType {
		return false
	}
	if !f.Start.IsZero() && a.CreatedAt.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !a.CreatedAt.Before(f.End) {
		return false
	}
	return true
}

// MemoryRunRepo is an in-memory detection.RunRepository.
type MemoryRunRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*detection.Run
}

func NewMemoryRunRepo() *MemoryRunRepo {
	return &MemoryRunRepo{runs: make(map[uuid.UUID]*detection.Run)}
}

func (m *MemoryRunRepo) Create(_ context.Context, run *detection.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.runs {
		if stored.IdempotencyKey == run.IdempotencyKey && stored.Status != detection.RunFailed {
			return errors.ErrDuplicateRunKey
		}
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryRunRepo) Update(_ context.Context, run *detection.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return errors.ErrRunNotFound
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryRunRepo) FindByKey(_ context.Context, idempotencyKey string) (*detection.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *detection.Run
	for _, stored := range m.runs {
		if stored.IdempotencyKey != idempotencyKey || stored.Status == detection.RunFailed {
			continue
		}
		if latest == nil || stored.StartedAt.After(latest.StartedAt) {
			latest = stored
		}
	}
	if latest == nil {
		return nil, errors.ErrRunNotFound
	}
	cp := *latest
	return &cp, nil
}

// StaticFeed is an audit.EventFeed backed by a fixed event slice.
type StaticFeed struct {
	Events []*audit.Event

	// QueryErr, when set, is returned by every Query call.
	QueryErr error
}

func (s *StaticFeed) Query(_ context.Context, filter audit.Filter) ([]*audit.Event, error) {
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	var out []*audit.Event
	for _, e := range s.Events {
		if !matchEvent(e, filter) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchEvent(e *audit.Event, f audit.Filter) bool {
	if f.TenantID != uuid.Nil && e.TenantID != f.TenantID {
		return false
	}
	if f.ActorUserID != uuid.Nil && e.ActorUserID != f.ActorUserID {
		return false
	}
	if len(f.ActionTypes) > 0 {
		found := false
		for _, a := range f.ActionTypes {
			if e.ActionType == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !e.Timestamp.Before(f.End) {
		return false
	}
	return true
}
