package engine

import "tenantbill/internal/models"

// DeriveAmounts fills the money fields the backend left blank. A value
// already present in the payload is authoritative and never overwritten;
// derivation only fills gaps.
//
// buildingRate is the building-level override applied in building-query
// mode; when nil the row's own utility rate is the effective rate.
// vatTable maps tax codes to VAT percentages (12 means 12%).
func DeriveAmounts(row *models.BillingRow, buildingRate *float64, vatTable map[string]float64) {
	rate := buildingRate
	if rate == nil {
		rate = row.UtilityRate
	}

	if row.Base == nil && row.CurrCons != nil && rate != nil {
		base := *row.CurrCons * *rate
		row.Base = &base
	}

	if row.VAT == nil && row.Base != nil {
		if row.VATRate != nil {
			// Canonical VATRate is a fraction.
			vat := *row.Base * *row.VATRate
			row.VAT = &vat
		} else if pct, ok := vatTable[row.TaxCode]; ok {
			vat := *row.Base * pct / 100
			row.VAT = &vat
		}
	}

	if row.WT == nil && row.Base != nil && row.WTRate != nil {
		wt := *row.Base * *row.WTRate
		row.WT = &wt
	}

	// Penalty is never synthesized from a rate; the backend applies any
	// global penalty percentage before responding.

	if row.Total == nil && row.Base != nil {
		total := *row.Base + orZero(row.VAT) + orZero(row.Penalty) - orZero(row.WT)
		row.Total = &total
	}
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
