package engine

import (
	"math"

	"tenantbill/internal/models"
)

// ComputeROC returns the percentage change between two consumption values,
// nil when either is unknown or the previous period consumed nothing
// (undefined, never infinite).
func ComputeROC(prev, curr *float64) *float64 {
	if prev == nil || curr == nil || *prev == 0 {
		return nil
	}
	roc := (*curr - *prev) / *prev * 100
	return &roc
}

// ReconstructPrev back-solves the previous consumption from a known
// percentage change: prev = curr / (1 + roc/100), rounded to two decimals.
// A roc at or below -100 implies division by zero or a sign reversal and
// yields nil.
func ReconstructPrev(curr, roc *float64) *float64 {
	if curr == nil || roc == nil || *roc <= -100 {
		return nil
	}
	prev := round2(*curr / (1 + *roc/100))
	return &prev
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// ApplyRateOfChange settles a row's prev_cons and rate_of_change. An
// explicit previous value always wins over a reconstructed one; when both
// endpoints of the comparison are known the percentage is recomputed from
// them rather than trusted from the payload.
func ApplyRateOfChange(row *models.BillingRow) {
	if row.PrevCons == nil && row.RateOfChange != nil {
		row.PrevCons = ReconstructPrev(row.CurrCons, row.RateOfChange)
	}
	if computed := ComputeROC(row.PrevCons, row.CurrCons); computed != nil {
		row.RateOfChange = computed
	} else if row.PrevCons != nil && row.CurrCons != nil {
		// Both known but prev is zero: undefined, drop any payload figure.
		row.RateOfChange = nil
	}
}
