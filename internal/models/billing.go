package models

// BillingRow is the canonical billing line for one physical meter in one
// period. Nilable numerics distinguish "absent" from zero: a nil field was
// never supplied by the backend and must stay nil through export.
type BillingRow struct {
	MeterID   string `json:"meter_id"`
	MeterSN   string `json:"meter_sn,omitempty"`
	MeterType string `json:"meter_type,omitempty"`

	TenantID   string `json:"tenant_id,omitempty"`
	TenantName string `json:"tenant_name,omitempty"`
	StallID    string `json:"stall_id,omitempty"`
	BuildingID string `json:"building_id,omitempty"`

	PrevIndex *float64 `json:"prev_index"`
	CurrIndex *float64 `json:"curr_index"`

	PrevCons *float64 `json:"prev_cons"`
	CurrCons *float64 `json:"curr_cons"`

	// UtilityRate is the per-unit price; VATRate is stored as a fraction
	// (0.12, not 12) regardless of which convention the payload used.
	UtilityRate *float64 `json:"utility_rate"`
	VATRate     *float64 `json:"vat_rate"`
	WTRate      *float64 `json:"wt_rate"`
	TaxCode     string   `json:"tax_code,omitempty"`
	WhtaxCode   string   `json:"whtax_code,omitempty"`

	Base    *float64 `json:"base"`
	VAT     *float64 `json:"vat"`
	WT      *float64 `json:"wt"`
	Penalty *float64 `json:"penalty"`
	Total   *float64 `json:"total"`

	RateOfChange *float64 `json:"rate_of_change"`

	Memo       string `json:"memo,omitempty"`
	ForPenalty bool   `json:"for_penalty,omitempty"`
}

// Summary aggregates a BillingRow collection. Absent row fields contribute
// zero to the sums; the rows themselves keep their nils.
type Summary struct {
	Consumption float64 `json:"consumption"`
	Base        float64 `json:"base"`
	VAT         float64 `json:"vat"`
	WT          float64 `json:"wt"`
	Penalty     float64 `json:"penalty"`
	Total       float64 `json:"total"`
}

// EndpointAttempt records one probed request target for diagnostics.
type EndpointAttempt struct {
	Target  string `json:"target"`
	Status  int    `json:"status,omitempty"`
	Err     string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// QueryResult is the canonical object handed to presentation and export
// collaborators. Notes are informational fallback diagnostics; they never
// block display of the data.
type QueryResult struct {
	Rows               []BillingRow `json:"rows"`
	Summary            Summary      `json:"summary"`
	EffectivePeriodEnd string       `json:"effective_period_end"`
	Notes              []string     `json:"notes,omitempty"`
}
