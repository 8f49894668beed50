package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tenantbill/internal/backend"
	"tenantbill/internal/models"
)

// EntityKind selects the endpoint family for a query.
type EntityKind string

const (
	EntityBuilding EntityKind = "building"
	EntityTenant   EntityKind = "tenant"
	EntityMeter    EntityKind = "meter"
)

const dateLayout = "2006-01-02"

// rocPrefixes are the route prefixes the rate-of-change family has been
// mounted under across backend versions, in probe order.
var rocPrefixes = []string{"", "/v1", "/v2", "/api"}

// Resolver probes the backend's historical route variants in priority
// order and returns the first successful response. It owns the per-session
// cache of the known-good rate-of-change prefix.
type Resolver struct {
	client *backend.Client
	logger *zap.Logger

	mu         sync.Mutex
	goodPrefix map[string]string
}

// NewResolver builds a resolver around the backend client.
func NewResolver(client *backend.Client, logger *zap.Logger) *Resolver {
	return &Resolver{
		client:     client,
		logger:     logger,
		goodPrefix: make(map[string]string),
	}
}

// Fetch is one resolved response set: the payload bodies, the period end
// that actually answered, and the diagnostic trail.
type Fetch struct {
	Bodies       []json.RawMessage
	EffectiveEnd time.Time
	Notes        []string
	Attempts     []models.EndpointAttempt
}

// billingPaths lists the known historical route variants for an entity
// kind: the with-markup variant first, then the plural path, then the
// legacy singular path.
func billingPaths(kind EntityKind, id string) []string {
	id = url.PathEscape(id)
	switch kind {
	case EntityBuilding:
		return []string{
			"/billings-with-markup/building/" + id,
			"/billings/building/" + id,
			"/billing/building/" + id,
		}
	case EntityTenant:
		return []string{
			"/billings-with-markup/tenant/" + id,
			"/billings/tenant/" + id,
			"/billing/tenant/" + id,
		}
	default:
		return []string{
			"/billings/meter/" + id,
			"/billing/meter/" + id,
		}
	}
}

func rocPaths(kind EntityKind, id string) []string {
	id = url.PathEscape(id)
	return []string{
		fmt.Sprintf("/rate-of-change/%s/%s", kind, id),
		fmt.Sprintf("/roc/%s/%s", kind, id),
	}
}

// PeriodEndCandidates derives the canonical period-end dates to try for a
// supplied date: the date itself, the 20th of its month, the last day of
// its month, then the same pair for the previous month. Billing cycles are
// commonly anchored to the 21st-to-20th convention.
func PeriodEndCandidates(d time.Time) []time.Time {
	year, month, _ := d.Date()
	loc := d.Location()

	candidates := []time.Time{
		d,
		time.Date(year, month, 20, 0, 0, 0, 0, loc),
		time.Date(year, month+1, 0, 0, 0, 0, 0, loc),
		time.Date(year, month-1, 20, 0, 0, 0, 0, loc),
		time.Date(year, month, 0, 0, 0, 0, 0, loc),
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		key := c.Format(dateLayout)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// probe tries each target in order. The first 2xx with a non-empty body
// wins; 401/403 abort the whole chain; everything else is recorded and the
// search continues.
func (r *Resolver) probe(ctx context.Context, paths []string, query url.Values) (json.RawMessage, []models.EndpointAttempt, error) {
	var attempts []models.EndpointAttempt

	for _, path := range paths {
		target := r.client.URL(path, query)
		status, body, err := r.client.Get(ctx, path, query)

		switch {
		case err != nil:
			attempts = append(attempts, models.EndpointAttempt{Target: target, Err: err.Error()})
			r.logger.Debug("endpoint probe failed", zap.String("target", target), zap.Error(err))

		case status == 401 || status == 403:
			return nil, attempts, &AuthError{Status: status, Target: target, Message: backend.Message(body)}

		case status >= 200 && status < 300:
			if emptyBody(body) {
				attempts = append(attempts, models.EndpointAttempt{Target: target, Status: status, Err: "empty body"})
				continue
			}
			attempts = append(attempts, models.EndpointAttempt{Target: target, Status: status, Success: true})
			return body, attempts, nil

		default:
			attempts = append(attempts, models.EndpointAttempt{Target: target, Status: status, Err: backend.Describe(status, target, body)})
			r.logger.Debug("endpoint probe rejected", zap.String("target", target), zap.Int("status", status))
		}
	}
	return nil, attempts, nil
}

func emptyBody(body []byte) bool {
	switch strings.TrimSpace(string(body)) {
	case "", "null", "[]", "{}":
		return true
	}
	return false
}

func billingQuery(end time.Time, penaltyPct *float64) url.Values {
	query := url.Values{"end": []string{end.Format(dateLayout)}}
	if penaltyPct != nil && *penaltyPct >= 0 {
		query.Set("penalty", strconv.FormatFloat(*penaltyPct, 'f', -1, 64))
	}
	return query
}

// ResolveBilling finds the first endpoint variant and period-end candidate
// that yields billing data. The adopted period end is surfaced so
// comparison sub-queries use the same effective date. Building lookups
// fall back to per-tenant aggregation when every direct candidate fails.
func (r *Resolver) ResolveBilling(ctx context.Context, kind EntityKind, id string, end time.Time, penaltyPct *float64) (*Fetch, error) {
	paths := billingPaths(kind, id)
	var allAttempts []models.EndpointAttempt
	var notes []string

	for _, candidate := range PeriodEndCandidates(end) {
		body, attempts, err := r.probe(ctx, paths, billingQuery(candidate, penaltyPct))
		allAttempts = append(allAttempts, attempts...)
		if err != nil {
			return nil, err
		}
		if body == nil {
			continue
		}

		notes = append(notes, attemptNotes(allAttempts)...)
		if !sameDate(candidate, end) {
			notes = append(notes, fmt.Sprintf("period end adjusted from %s to %s", end.Format(dateLayout), candidate.Format(dateLayout)))
		}
		return &Fetch{
			Bodies:       []json.RawMessage{body},
			EffectiveEnd: candidate,
			Notes:        notes,
			Attempts:     allAttempts,
		}, nil
	}

	if kind == EntityBuilding {
		fetch, err := r.resolveBuildingViaTenants(ctx, id, end, penaltyPct, allAttempts)
		if err != nil || fetch != nil {
			return fetch, err
		}
	}

	return nil, &RouteNotFoundError{Attempts: allAttempts}
}

// resolveBuildingViaTenants is the secondary strategy: enumerate the
// building's tenants and aggregate their individual billing responses.
func (r *Resolver) resolveBuildingViaTenants(ctx context.Context, buildingID string, end time.Time, penaltyPct *float64, attempts []models.EndpointAttempt) (*Fetch, error) {
	listPaths := []string{
		"/buildings/" + url.PathEscape(buildingID) + "/tenants",
		"/building/" + url.PathEscape(buildingID) + "/tenants",
	}
	body, listAttempts, err := r.probe(ctx, listPaths, nil)
	attempts = append(attempts, listAttempts...)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, &RouteNotFoundError{Attempts: attempts}
	}

	tenantIDs := parseTenantIDs(body)
	if len(tenantIDs) == 0 {
		return nil, &RouteNotFoundError{Attempts: attempts}
	}

	notes := []string{fmt.Sprintf("building route unavailable, aggregating %d tenant responses", len(tenantIDs))}
	effective := end
	adopted := false
	var bodies []json.RawMessage

	for _, tenantID := range tenantIDs {
		paths := billingPaths(EntityTenant, tenantID)

		// The first tenant that answers fixes the effective period for
		// everyone else.
		dates := []time.Time{effective}
		if !adopted {
			dates = PeriodEndCandidates(end)
		}

		for _, candidate := range dates {
			tenantBody, tenantAttempts, err := r.probe(ctx, paths, billingQuery(candidate, penaltyPct))
			attempts = append(attempts, tenantAttempts...)
			if err != nil {
				return nil, err
			}
			if tenantBody == nil {
				continue
			}
			if !adopted {
				effective = candidate
				adopted = true
				if !sameDate(candidate, end) {
					notes = append(notes, fmt.Sprintf("period end adjusted from %s to %s", end.Format(dateLayout), candidate.Format(dateLayout)))
				}
			}
			bodies = append(bodies, tenantBody)
			break
		}
	}

	if len(bodies) == 0 {
		return nil, &RouteNotFoundError{Attempts: attempts}
	}
	return &Fetch{Bodies: bodies, EffectiveEnd: effective, Notes: notes, Attempts: attempts}, nil
}

// ResolveROC fetches rate-of-change data, probing every route prefix for
// every path candidate. The first prefix that answers is remembered for
// the session and invalidated when it starts returning nothing.
func (r *Resolver) ResolveROC(ctx context.Context, kind EntityKind, id string, end time.Time) (json.RawMessage, []models.EndpointAttempt, error) {
	paths := rocPaths(kind, id)
	query := url.Values{"end": []string{end.Format(dateLayout)}}

	if prefix, ok := r.cachedPrefix("roc"); ok {
		body, attempts, err := r.probe(ctx, prefixed(prefix, paths), query)
		if err != nil {
			return nil, attempts, err
		}
		if body != nil {
			return body, attempts, nil
		}
		r.invalidatePrefix("roc")
	}

	var allAttempts []models.EndpointAttempt
	for _, prefix := range rocPrefixes {
		body, attempts, err := r.probe(ctx, prefixed(prefix, paths), query)
		allAttempts = append(allAttempts, attempts...)
		if err != nil {
			return nil, allAttempts, err
		}
		if body != nil {
			r.rememberPrefix("roc", prefix)
			return body, allAttempts, nil
		}
	}
	return nil, allAttempts, &RouteNotFoundError{Attempts: allAttempts}
}

func prefixed(prefix string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = prefix + p
	}
	return out
}

func (r *Resolver) cachedPrefix(family string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix, ok := r.goodPrefix[family]
	return prefix, ok
}

func (r *Resolver) rememberPrefix(family, prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.goodPrefix[family] = prefix
}

func (r *Resolver) invalidatePrefix(family string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.goodPrefix, family)
}

func attemptNotes(attempts []models.EndpointAttempt) []string {
	var notes []string
	for _, a := range attempts {
		if a.Success {
			notes = append(notes, "resolved via "+a.Target)
		} else if a.Err != "" {
			notes = append(notes, "skipped "+a.Target+": "+a.Err)
		} else {
			notes = append(notes, fmt.Sprintf("skipped %s: HTTP %d", a.Target, a.Status))
		}
	}
	return notes
}

func sameDate(a, b time.Time) bool {
	return a.Format(dateLayout) == b.Format(dateLayout)
}

// parseTenantIDs extracts tenant identifiers from an enumeration response,
// tolerating both enveloped and bare array forms.
func parseTenantIDs(body []byte) []string {
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return nil
	}
	value = unwrapEnvelope(value)

	arr, ok := asObjectArray(value)
	if !ok {
		if obj, isObj := asObject(value); isObj {
			arr, ok = arrayUnder(obj, "tenants", "rows")
		}
		if !ok {
			return nil
		}
	}

	var ids []string
	for _, obj := range arr {
		if id := firstString(obj, []string{"tenant_id", "tenant_no", "id"}); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
