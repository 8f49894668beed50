package engine

import "tenantbill/internal/models"

// Backend totals blocks itemize consumption and grand total under various
// names; base/VAT/WT/penalty are frequently absent on legacy shapes and are
// therefore always recomputed from the rows instead.
var (
	totalsConsumptionKeys = []string{"consumption", "total_consumption", "curr_cons", "consumed_kwh", "current_consumption"}
	totalsGrandKeys       = []string{"total", "grand_total", "total_amount"}
)

// FilterRows drops rows without a meter id. The backend includes
// placeholder entries on some shapes; dropping them is normal operation,
// not an error.
func FilterRows(rows []models.BillingRow) []models.BillingRow {
	kept := make([]models.BillingRow, 0, len(rows))
	for _, row := range rows {
		if row.MeterID == "" {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

// Aggregate folds rows into a Summary. Absent fields contribute zero to
// the sums while the rows keep their nils. When the backend supplied its
// own totals block, its consumption and grand total are preferred; the
// sub-components are always summed from the rows.
func Aggregate(rows []models.BillingRow, backendTotals map[string]any) models.Summary {
	var s models.Summary
	for _, row := range rows {
		s.Consumption += orZero(row.CurrCons)
		s.Base += orZero(row.Base)
		s.VAT += orZero(row.VAT)
		s.WT += orZero(row.WT)
		s.Penalty += orZero(row.Penalty)
		s.Total += orZero(row.Total)
	}

	if backendTotals != nil {
		if v := firstNumber(backendTotals, totalsConsumptionKeys); v != nil {
			s.Consumption = *v
		}
		if v := firstNumber(backendTotals, totalsGrandKeys); v != nil {
			s.Total = *v
		}
	}
	return s
}
