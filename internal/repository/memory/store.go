// Package memory provides an in-process transactional store implementing the
// same repository contracts as the PostgreSQL repositories. Transactions are
// serialized by a mutex and commit by swapping in a cloned state.
package memory

import (
	"context"
	"sync"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
)

type txKey struct{}

type state struct {
	quotas       map[string]models.EnrollmentQuota
	plans        map[string]models.EnrollmentPlan
	applications map[string]models.EnrollmentApplication
	audit        []models.AuditLog
	sequence     int64
}

func newState() *state {
	return &state{
		quotas:       map[string]models.EnrollmentQuota{},
		plans:        map[string]models.EnrollmentPlan{},
		applications: map[string]models.EnrollmentApplication{},
	}
}

func (s *state) clone() *state {
	out := &state{
		quotas:       make(map[string]models.EnrollmentQuota, len(s.quotas)),
		plans:        make(map[string]models.EnrollmentPlan, len(s.plans)),
		applications: make(map[string]models.EnrollmentApplication, len(s.applications)),
		audit:        append([]models.AuditLog(nil), s.audit...),
		sequence:     s.sequence,
	}
	for k, v := range s.quotas {
		out.quotas[k] = v
	}
	for k, v := range s.plans {
		out.plans[k] = clonePlan(v)
	}
	for k, v := range s.applications {
		out.applications[k] = cloneApplication(v)
	}
	return out
}

// Store holds every admission aggregate in memory.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

// WithinTx runs fn against a private copy of the state and publishes the copy
// when fn returns nil. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	working := s.st.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, working)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = working
	s.mu.Unlock()
	return nil
}

// read runs fn against the transaction state bound to ctx, or the committed
// state outside a transaction.
func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(st)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

// write runs fn inside the caller's transaction or an implicit one.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(txKey{}).(*state))
	})
}

// Quotas returns the ledger repository view.
func (s *Store) Quotas() *QuotaRepository { return &QuotaRepository{store: s} }

// Plans returns the plan repository view.
func (s *Store) Plans() *PlanRepository { return &PlanRepository{store: s} }

// Applications returns the application repository view.
func (s *Store) Applications() *ApplicationRepository { return &ApplicationRepository{store: s} }

// Audit returns the audit repository view.
func (s *Store) Audit() *AuditRepository { return &AuditRepository{store: s} }

func clonePlan(p models.EnrollmentPlan) models.EnrollmentPlan {
	if p.QuotaByAgeGroup != nil {
		groups := make(models.AgeGroupQuota, len(p.QuotaByAgeGroup))
		for k, v := range p.QuotaByAgeGroup {
			groups[k] = v
		}
		p.QuotaByAgeGroup = groups
	}
	if p.Fees != nil {
		fees := make(models.PlanFees, len(p.Fees))
		for k, v := range p.Fees {
			fees[k] = v
		}
		p.Fees = fees
	}
	p.Documents = append(models.PlanDocuments(nil), p.Documents...)
	return p
}

func cloneApplication(a models.EnrollmentApplication) models.EnrollmentApplication {
	a.EmergencyContacts = append(models.EmergencyContacts(nil), a.EmergencyContacts...)
	a.Documents = append(models.ApplicationDocuments(nil), a.Documents...)
	a.MedicalInfo.Allergies = append([]string(nil), a.MedicalInfo.Allergies...)
	a.MedicalInfo.Medications = append([]string(nil), a.MedicalInfo.Medications...)
	a.MedicalInfo.Conditions = append([]string(nil), a.MedicalInfo.Conditions...)
	return a
}

func page(total, pageNum, size int) (int, int) {
	if pageNum < 1 {
		pageNum = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	start := (pageNum - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return start, end
}
