package engine

import (
	"encoding/json"
	"sort"
)

// ShapeKind identifies one of the recognized billing payload schemas.
type ShapeKind string

const (
	ShapeFlatList     ShapeKind = "flat_list"
	ShapeSingleTenant ShapeKind = "single_tenant"
	ShapeTenantRollup ShapeKind = "tenant_rollup"
	ShapeFlatRows     ShapeKind = "flat_rows"
	ShapeBareRecord   ShapeKind = "bare_record"
	ShapeHeuristic    ShapeKind = "heuristic"
)

// RawRecord is one meter-level record extracted from a payload, tagged with
// the vocabulary family its keys belong to. Records lifted out of a tenant
// grouping carry the enclosing tenant identity.
type RawRecord struct {
	Fields     map[string]any
	Legacy     bool
	TenantID   string
	TenantName string
}

// Shape is the classification result: the matched variant plus the records
// it yields and any backend-supplied totals block.
type Shape struct {
	Kind    ShapeKind
	Records []RawRecord
	Totals  map[string]any
}

// Sentinel fields used for duck-typed classification. Legacy flat rows and
// structured meter records never share these vocabularies.
var (
	legacySentinels     = []string{"meter_no", "stall_no", "consumed_kwh", "current_month_units", "tenant_no", "rate_per_unit"}
	structuredSentinels = []string{"meter", "billing", "indices", "meter_id", "meter_sn"}
)

// Classify determines which recognized shape a raw payload represents.
// Classification is a pure function of structure; the same classifier
// serves building, tenant, and meter queries.
func Classify(raw json.RawMessage) (*Shape, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &UnrecognizedPayloadError{Raw: raw}
	}
	value = unwrapEnvelope(value)

	// 1. Flat array of record-like elements.
	if arr, ok := asObjectArray(value); ok && len(arr) > 0 && allRecordLike(arr) {
		return &Shape{Kind: ShapeFlatList, Records: tagEach(arr, "", "")}, nil
	}

	obj, isObj := asObject(value)
	if !isObj {
		return nil, &UnrecognizedPayloadError{Raw: raw}
	}
	totals := totalsBlock(obj)

	// 2. Single-tenant legacy shape: tenant identity with nested meters.
	if hasKey(obj, "tenant_id") || hasKey(obj, "tenant_no") {
		if meters, ok := arrayUnder(obj, "meters"); ok {
			tenantID := stringAt(obj, "tenant_id", "tenant_no")
			tenantName := stringAt(obj, "tenant_name", "tenant")
			return &Shape{
				Kind:    ShapeSingleTenant,
				Records: tagEach(meters, tenantID, tenantName),
				Totals:  totals,
			}, nil
		}
	}

	// 1 (object form). Meter list under a conventional key.
	if meters, ok := arrayUnder(obj, "meters", "lines"); ok && len(meters) > 0 && allRecordLike(meters) {
		return &Shape{Kind: ShapeFlatList, Records: tagEach(meters, "", ""), Totals: totals}, nil
	}

	// 3. Building roll-up: tenants each wrapping their own meter list.
	if tenants, ok := arrayUnder(obj, "tenants"); ok {
		var records []RawRecord
		for _, tenant := range tenants {
			meters, ok := arrayUnder(tenant, "meters", "rows")
			if !ok {
				continue
			}
			tenantID := stringAt(tenant, "tenant_id", "tenant_no", "id")
			tenantName := stringAt(tenant, "tenant_name", "name")
			records = append(records, tagEach(meters, tenantID, tenantName)...)
		}
		if len(records) > 0 {
			return &Shape{Kind: ShapeTenantRollup, Records: records, Totals: totals}, nil
		}
	}

	// 4. Flat billing lines under rows/lines.
	if rows, ok := arrayUnder(obj, "rows", "lines"); ok && len(rows) > 0 {
		return &Shape{Kind: ShapeFlatRows, Records: tagEach(rows, "", ""), Totals: totals}, nil
	}

	// 5. A single bare record with row-like fields.
	if recordLike(obj) {
		return &Shape{Kind: ShapeBareRecord, Records: tagEach([]map[string]any{obj}, "", ""), Totals: totals}, nil
	}

	// 6. Heuristic fallback: first key holding an array of objects.
	for _, key := range sortedKeys(obj) {
		if arr, ok := asObjectArray(obj[key]); ok && len(arr) > 0 {
			return &Shape{Kind: ShapeHeuristic, Records: tagEach(arr, "", ""), Totals: totals}, nil
		}
	}

	return nil, &UnrecognizedPayloadError{Raw: raw}
}

// unwrapEnvelope strips a generic {data: ...} wrapper when present.
func unwrapEnvelope(value any) any {
	if obj, ok := asObject(value); ok {
		if inner, ok := obj["data"]; ok && inner != nil {
			return inner
		}
	}
	return value
}

func asObject(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok
}

func asObjectArray(v any) ([]map[string]any, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, obj)
	}
	return out, true
}

// arrayUnder returns the first of the given keys whose value is an array of
// objects.
func arrayUnder(v any, keys ...string) ([]map[string]any, bool) {
	obj, ok := asObject(v)
	if !ok {
		return nil, false
	}
	for _, key := range keys {
		if arr, ok := asObjectArray(obj[key]); ok {
			return arr, true
		}
	}
	return nil, false
}

func hasKey(obj map[string]any, key string) bool {
	_, ok := obj[key]
	return ok
}

func hasAny(obj map[string]any, keys []string) bool {
	for _, key := range keys {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}

// recordLike reports whether an object exhibits either vocabulary's
// sentinel fields directly.
func recordLike(obj map[string]any) bool {
	return hasAny(obj, legacySentinels) || hasAny(obj, structuredSentinels)
}

func allRecordLike(arr []map[string]any) bool {
	for _, obj := range arr {
		if !recordLike(obj) {
			return false
		}
	}
	return true
}

// isLegacyRecord decides the vocabulary family of a single record. The
// legacy sentinels win ties because structured payloads never emit them.
func isLegacyRecord(obj map[string]any) bool {
	if hasAny(obj, []string{"meter_no", "stall_no", "consumed_kwh", "current_month_units"}) {
		return true
	}
	if hasAny(obj, []string{"meter", "billing", "indices"}) {
		return false
	}
	return hasAny(obj, legacySentinels)
}

func tagEach(arr []map[string]any, tenantID, tenantName string) []RawRecord {
	records := make([]RawRecord, 0, len(arr))
	for _, obj := range arr {
		records = append(records, RawRecord{
			Fields:     obj,
			Legacy:     isLegacyRecord(obj),
			TenantID:   tenantID,
			TenantName: tenantName,
		})
	}
	return records
}

// sortedKeys keeps the heuristic fallback deterministic; Go map iteration
// order would otherwise pick a different candidate array run to run.
func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func stringAt(v any, keys ...string) string {
	obj, ok := asObject(v)
	if !ok {
		return ""
	}
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func totalsBlock(obj map[string]any) map[string]any {
	for _, key := range []string{"totals", "summary", "grand_totals"} {
		if block, ok := asObject(obj[key]); ok {
			return block
		}
	}
	return nil
}
