package engine

import (
	"math"
	"strconv"
	"strings"

	"tenantbill/internal/models"
)

// fieldKeys is the prioritized list of source keys for one canonical field,
// split by vocabulary family. Dotted entries descend into nested objects.
type fieldKeys struct {
	structured []string
	legacy     []string
}

func (k fieldKeys) pick(legacy bool) []string {
	if legacy {
		return k.legacy
	}
	return k.structured
}

// The two endpoint families never agreed on names. These lists encode every
// spelling observed per field, most authoritative first.
var (
	keysMeterID = fieldKeys{
		structured: []string{"meter_id", "meter.id", "id"},
		legacy:     []string{"meter_no", "meter_number", "meterno", "meter_id"},
	}
	keysMeterSN = fieldKeys{
		structured: []string{"meter_sn", "meter.serial", "meter.sn", "serial_number"},
		legacy:     []string{"meter_sn", "serial_no", "serial"},
	}
	keysMeterType = fieldKeys{
		structured: []string{"meter_type", "meter.type", "type"},
		legacy:     []string{"meter_type", "utility_type", "type"},
	}
	keysTenantID = fieldKeys{
		structured: []string{"tenant_id", "tenant.id"},
		legacy:     []string{"tenant_no", "tenant_id"},
	}
	keysTenantName = fieldKeys{
		structured: []string{"tenant_name", "tenant.name"},
		legacy:     []string{"tenant_name", "tenant"},
	}
	keysStallID = fieldKeys{
		structured: []string{"stall_id", "stall.id"},
		legacy:     []string{"stall_no", "stall_id", "stall"},
	}
	keysBuildingID = fieldKeys{
		structured: []string{"building_id", "building.id"},
		legacy:     []string{"building_no", "building_id"},
	}
	keysPrevIndex = fieldKeys{
		structured: []string{"prev_index", "indices.previous", "previous_index"},
		legacy:     []string{"previous_reading", "prev_reading", "prev_index"},
	}
	keysCurrIndex = fieldKeys{
		structured: []string{"curr_index", "indices.current", "current_index"},
		legacy:     []string{"current_reading", "curr_reading", "curr_index"},
	}
	keysPrevCons = fieldKeys{
		structured: []string{"prev_cons", "previous_consumption", "totals.previous_consumption"},
		legacy:     []string{"previous_consumption", "prev_month_units", "previous_month_units", "prev_cons"},
	}
	keysCurrCons = fieldKeys{
		structured: []string{"curr_cons", "current_consumption", "consumption", "totals.consumption"},
		legacy:     []string{"current_consumption", "consumed_kwh", "current_month_units", "consumption"},
	}
	keysUtilityRate = fieldKeys{
		structured: []string{"utility_rate", "billing.rate", "rate"},
		legacy:     []string{"utility_rate", "rate_per_unit", "rate"},
	}
	keysVATRate = fieldKeys{
		structured: []string{"vat_rate", "billing.vat_rate"},
		legacy:     []string{"vat_rate", "vat_percent"},
	}
	keysWTRate = fieldKeys{
		structured: []string{"wt_rate", "billing.wt_rate", "whtax_rate"},
		legacy:     []string{"wt_rate", "whtax_rate"},
	}
	keysTaxCode = fieldKeys{
		structured: []string{"tax_code", "billing.tax_code"},
		legacy:     []string{"tax_code", "taxcode"},
	}
	keysWhtaxCode = fieldKeys{
		structured: []string{"whtax_code", "billing.whtax_code"},
		legacy:     []string{"whtax_code", "whtaxcode"},
	}
	keysBase = fieldKeys{
		structured: []string{"base", "base_amount", "billing.base", "billing.base_amount"},
		legacy:     []string{"base_amount", "base", "amount"},
	}
	keysVAT = fieldKeys{
		structured: []string{"vat", "vat_amount", "billing.vat"},
		legacy:     []string{"vat_amount", "vat"},
	}
	keysWT = fieldKeys{
		structured: []string{"wt", "wt_amount", "billing.wt"},
		legacy:     []string{"whtax_amount", "wt_amount", "wt"},
	}
	keysPenalty = fieldKeys{
		structured: []string{"penalty", "penalty_amount", "billing.penalty"},
		legacy:     []string{"penalty_amount", "penalty"},
	}
	keysTotal = fieldKeys{
		structured: []string{"total", "total_amount", "billing.total", "totals.total"},
		legacy:     []string{"total_amount", "grand_total", "total"},
	}
	keysROC = fieldKeys{
		structured: []string{"rate_of_change", "roc", "billing.rate_of_change"},
		legacy:     []string{"rate_of_change", "roc", "roc_percent"},
	}
	keysMemo = fieldKeys{
		structured: []string{"memo", "remarks", "note"},
		legacy:     []string{"memo", "remarks", "note"},
	}
	keysForPenalty = fieldKeys{
		structured: []string{"for_penalty", "penalized"},
		legacy:     []string{"for_penalty", "penalized"},
	}
)

// Coerce accepts a raw JSON value only if it parses to a finite number.
// Empty strings, nulls, and non-finite results all normalize to nil, which
// is semantically distinct from zero and preserved through export.
func Coerce(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return finite(t)
	case int:
		return finite(float64(t))
	case int64:
		return finite(float64(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return finite(parsed)
	default:
		return nil
	}
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// lookup resolves a possibly dotted key path inside a record.
func lookup(fields map[string]any, path string) (any, bool) {
	if !strings.Contains(path, ".") {
		v, ok := fields[path]
		return v, ok
	}
	parts := strings.Split(path, ".")
	var current any = fields
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func firstNumber(fields map[string]any, keys []string) *float64 {
	for _, key := range keys {
		if v, ok := lookup(fields, key); ok {
			if n := Coerce(v); n != nil {
				return n
			}
		}
	}
	return nil
}

func firstString(fields map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := lookup(fields, key)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			// Identifiers sometimes arrive as bare numbers.
			if t == math.Trunc(t) {
				return strconv.FormatInt(int64(t), 10)
			}
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

func firstBool(fields map[string]any, keys []string) bool {
	for _, key := range keys {
		v, ok := lookup(fields, key)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b
			}
		case float64:
			return t != 0
		}
	}
	return false
}

// NormalizeRecord maps one classified raw record into the canonical row.
// It never fails: a record that cannot yield a meter id produces a row the
// aggregator later drops.
func NormalizeRecord(rec RawRecord) models.BillingRow {
	f := rec.Fields
	legacy := rec.Legacy

	row := models.BillingRow{
		MeterID:    firstString(f, keysMeterID.pick(legacy)),
		MeterSN:    firstString(f, keysMeterSN.pick(legacy)),
		MeterType:  strings.ToLower(firstString(f, keysMeterType.pick(legacy))),
		TenantID:   firstString(f, keysTenantID.pick(legacy)),
		TenantName: firstString(f, keysTenantName.pick(legacy)),
		StallID:    firstString(f, keysStallID.pick(legacy)),
		BuildingID: firstString(f, keysBuildingID.pick(legacy)),

		PrevIndex: firstNumber(f, keysPrevIndex.pick(legacy)),
		CurrIndex: firstNumber(f, keysCurrIndex.pick(legacy)),
		PrevCons:  firstNumber(f, keysPrevCons.pick(legacy)),
		CurrCons:  firstNumber(f, keysCurrCons.pick(legacy)),

		UtilityRate: firstNumber(f, keysUtilityRate.pick(legacy)),
		VATRate:     normalizeVATRate(firstNumber(f, keysVATRate.pick(legacy)), legacy),
		WTRate:      firstNumber(f, keysWTRate.pick(legacy)),
		TaxCode:     firstString(f, keysTaxCode.pick(legacy)),
		WhtaxCode:   firstString(f, keysWhtaxCode.pick(legacy)),

		Base:    firstNumber(f, keysBase.pick(legacy)),
		VAT:     firstNumber(f, keysVAT.pick(legacy)),
		WT:      firstNumber(f, keysWT.pick(legacy)),
		Penalty: firstNumber(f, keysPenalty.pick(legacy)),
		Total:   firstNumber(f, keysTotal.pick(legacy)),

		RateOfChange: firstNumber(f, keysROC.pick(legacy)),

		Memo:       firstString(f, keysMemo.pick(legacy)),
		ForPenalty: firstBool(f, keysForPenalty.pick(legacy)),
	}

	if row.TenantID == "" {
		row.TenantID = rec.TenantID
	}
	if row.TenantName == "" {
		row.TenantName = rec.TenantName
	}
	return row
}

// normalizeVATRate converts the ingested VAT rate to the canonical fraction
// representation. The legacy family always reports percent (12); the
// structured family reports a fraction (0.12), except a handful of routes
// that still emit percent, so any value above 1 is treated as percent.
func normalizeVATRate(v *float64, legacy bool) *float64 {
	if v == nil {
		return nil
	}
	rate := *v
	if legacy || rate > 1 {
		rate = rate / 100
	}
	return &rate
}
