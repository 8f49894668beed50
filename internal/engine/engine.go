package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tenantbill/internal/models"
)

// Query identifies one user-initiated billing lookup.
type Query struct {
	Kind      EntityKind
	ID        string
	PeriodEnd string // YYYY-MM-DD

	// PenaltyPct is forwarded to the backend when valid; the engine never
	// computes penalties itself.
	PenaltyPct *float64

	// BuildingRate overrides every row's utility rate in building mode.
	BuildingRate *float64
}

// Engine runs the full reconciliation pipeline: resolve, classify,
// normalize, derive, compare, aggregate.
type Engine struct {
	resolver *Resolver
	vatTable map[string]float64
	logger   *zap.Logger

	// seq hands out a token per query; a result is committed to visible
	// state only while its token is still the newest issued, so a stale
	// in-flight response can never overwrite a newer query's result.
	seq atomic.Uint64

	mu      sync.Mutex
	current *models.QueryResult
}

// New builds an engine. vatTable maps tax codes to VAT percentages.
func New(resolver *Resolver, vatTable map[string]float64, logger *zap.Logger) *Engine {
	return &Engine{
		resolver: resolver,
		vatTable: vatTable,
		logger:   logger,
	}
}

func (q Query) validate() (time.Time, error) {
	if strings.TrimSpace(q.ID) == "" {
		return time.Time{}, &ValidationError{Field: string(q.Kind) + " id", Reason: "must not be empty"}
	}
	switch q.Kind {
	case EntityBuilding, EntityTenant, EntityMeter:
	default:
		return time.Time{}, &ValidationError{Field: "entity kind", Reason: "must be building, tenant or meter"}
	}
	end, err := time.Parse(dateLayout, q.PeriodEnd)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "period end", Reason: "must be YYYY-MM-DD"}
	}
	if q.PenaltyPct != nil && *q.PenaltyPct < 0 {
		return time.Time{}, &ValidationError{Field: "penalty", Reason: "must not be negative"}
	}
	return end, nil
}

// Run executes one query end to end and returns the canonical result.
func (e *Engine) Run(ctx context.Context, q Query) (*models.QueryResult, error) {
	end, err := q.validate()
	if err != nil {
		return nil, err
	}
	token := e.seq.Add(1)

	fetch, err := e.resolver.ResolveBilling(ctx, q.Kind, q.ID, end, q.PenaltyPct)
	if err != nil {
		return nil, err
	}

	var rows []models.BillingRow
	var backendTotals map[string]any
	for _, body := range fetch.Bodies {
		shape, err := Classify(body)
		if err != nil {
			return nil, err
		}
		for _, rec := range shape.Records {
			rows = append(rows, NormalizeRecord(rec))
		}
		if backendTotals == nil {
			backendTotals = shape.Totals
		}
	}
	if len(fetch.Bodies) > 1 {
		// Tenant-aggregated responses each carry their own totals block;
		// none of them describes the whole building.
		backendTotals = nil
	}

	e.mergeComparisons(ctx, q, fetch, rows)

	var buildingRate *float64
	if q.Kind == EntityBuilding {
		buildingRate = q.BuildingRate
	}
	for i := range rows {
		ApplyRateOfChange(&rows[i])
		DeriveAmounts(&rows[i], buildingRate, e.vatTable)
	}

	rows = FilterRows(rows)
	result := &models.QueryResult{
		Rows:               rows,
		Summary:            Aggregate(rows, backendTotals),
		EffectivePeriodEnd: fetch.EffectiveEnd.Format(dateLayout),
		Notes:              fetch.Notes,
	}

	e.commit(token, result)
	e.logger.Info("billing query reconciled",
		zap.String("kind", string(q.Kind)),
		zap.String("id", q.ID),
		zap.String("effective_end", result.EffectivePeriodEnd),
		zap.Int("rows", len(result.Rows)),
	)
	return result, nil
}

// mergeComparisons issues the monthly and four-month rate-of-change
// sub-queries concurrently at the adopted effective date and fills
// prev_cons / rate_of_change gaps in the primary rows. Failures here are
// informational only.
func (e *Engine) mergeComparisons(ctx context.Context, q Query, fetch *Fetch, rows []models.BillingRow) {
	type rocFetch struct {
		label string
		end   time.Time
		rows  map[string]models.BillingRow
	}

	fetches := []*rocFetch{
		{label: "monthly", end: fetch.EffectiveEnd},
		{label: "four-month", end: fetch.EffectiveEnd.AddDate(0, -3, 0)},
	}

	var wg sync.WaitGroup
	for _, rf := range fetches {
		wg.Add(1)
		go func(rf *rocFetch) {
			defer wg.Done()
			body, _, err := e.resolver.ResolveROC(ctx, q.Kind, q.ID, rf.end)
			if err != nil {
				e.logger.Debug("comparison fetch skipped",
					zap.String("window", rf.label),
					zap.Error(err),
				)
				return
			}
			shape, err := Classify(body)
			if err != nil {
				return
			}
			rf.rows = make(map[string]models.BillingRow, len(shape.Records))
			for _, rec := range shape.Records {
				row := NormalizeRecord(rec)
				if row.MeterID != "" {
					rf.rows[row.MeterID] = row
				}
			}
		}(rf)
	}
	wg.Wait()

	// Monthly comparison first; the wider window only fills what is still
	// missing. Explicit payload values are never overwritten.
	for _, rf := range fetches {
		if rf.rows == nil {
			continue
		}
		for i := range rows {
			comp, ok := rf.rows[rows[i].MeterID]
			if !ok {
				continue
			}
			if rows[i].RateOfChange == nil {
				rows[i].RateOfChange = comp.RateOfChange
			}
			if rows[i].PrevCons == nil {
				rows[i].PrevCons = comp.PrevCons
			}
		}
	}
}

func (e *Engine) commit(token uint64, result *models.QueryResult) bool {
	if token != e.seq.Load() {
		e.logger.Debug("stale query result discarded", zap.Uint64("token", token))
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = result
	return true
}

// Current returns the most recently committed result, for transient view
// state. It may be nil before the first successful query.
func (e *Engine) Current() *models.QueryResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}
