package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
)

type effectsKey struct{}

type ledgerRecord struct {
	op     LedgerOp
	amount int
}

// effects collects what a committed unit of work must announce: domain
// events, touched cache entries and ledger counters.
type effects struct {
	events      []models.DomainEvent
	cacheKeys   map[string]struct{}
	ledgerOps   []ledgerRecord
	transitions []models.TransitionRule
	promotions  int
}

func newEffects() *effects {
	return &effects{cacheKeys: map[string]struct{}{}}
}

func (fx *effects) touchQuota(q *models.EnrollmentQuota) {
	fx.cacheKeys[quotaCacheKey(q.ID)] = struct{}{}
	fx.cacheKeys[quotaKeyCacheKey(q.Key())] = struct{}{}
	if q.PlanID != nil {
		fx.touchPlan(*q.PlanID)
	}
}

func (fx *effects) touchPlan(planID string) {
	fx.cacheKeys[planCacheKey(planID)] = struct{}{}
}

func (fx *effects) emit(eventType models.DomainEventType, app *models.EnrollmentApplication, metadata models.Metadata) {
	event := models.DomainEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		ApplicationID: app.ID,
		StudentID:     app.StudentID,
		ParentID:      app.ParentID,
		NewStatus:     app.Status,
		Timestamp:     time.Now().UTC(),
		Metadata:      metadata,
	}
	if app.PlanID != nil {
		event.PlanID = *app.PlanID
	}
	fx.events = append(fx.events, event)
}

// UnitOfWork wraps a transaction and runs the post-commit side effects of
// everything that happened inside it.
type UnitOfWork struct {
	tx      Transactor
	cache   *CacheService
	events  *EventDispatcher
	metrics *MetricsService
	logger  *zap.Logger
}

// NewUnitOfWork constructs a UnitOfWork. cache, events and metrics are optional.
func NewUnitOfWork(tx Transactor, cache *CacheService, events *EventDispatcher, metrics *MetricsService, logger *zap.Logger) *UnitOfWork {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnitOfWork{tx: tx, cache: cache, events: events, metrics: metrics, logger: logger}
}

// run executes fn in a transaction. When called inside another run it joins
// the outer unit and its effects are flushed by the outermost caller.
func (u *UnitOfWork) run(ctx context.Context, fn func(ctx context.Context, fx *effects) error) error {
	if fx, ok := ctx.Value(effectsKey{}).(*effects); ok {
		return u.tx.WithinTx(ctx, func(ctx context.Context) error { return fn(ctx, fx) })
	}

	fx := newEffects()
	ctx = context.WithValue(ctx, effectsKey{}, fx)
	if err := u.tx.WithinTx(ctx, func(ctx context.Context) error { return fn(ctx, fx) }); err != nil {
		return err
	}
	u.flush(context.WithoutCancel(ctx), fx)
	return nil
}

func (u *UnitOfWork) flush(ctx context.Context, fx *effects) {
	if len(fx.cacheKeys) > 0 && u.cache.Enabled() {
		keys := make([]string, 0, len(fx.cacheKeys))
		for key := range fx.cacheKeys {
			keys = append(keys, key)
		}
		_ = u.cache.Delete(ctx, keys...)
	}
	for _, rec := range fx.ledgerOps {
		u.metrics.RecordLedgerOperation(string(rec.op), "ok")
	}
	for _, rule := range fx.transitions {
		u.metrics.RecordTransition(rule.From, rule.To)
	}
	if fx.promotions > 0 {
		u.metrics.RecordPromotions(fx.promotions)
	}
	if len(fx.events) > 0 && u.events != nil {
		u.events.Publish(ctx, fx.events...)
	}
}
