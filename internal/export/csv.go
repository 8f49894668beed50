package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"tenantbill/internal/models"
)

// formatFloat renders a nilable amount. Absent stays blank: a missing
// reading must remain distinguishable from a zero one in the output file.
func formatFloat(val *float64, precision int) string {
	if val == nil {
		return ""
	}
	return fmt.Sprintf(fmt.Sprintf("%%.%df", precision), *val)
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

var header = []string{
	"Meter_ID",
	"Meter_SN",
	"Type",
	"Tenant_ID",
	"Tenant_Name",
	"Stall_ID",
	"Prev_Index",
	"Curr_Index",
	"Prev_Cons",
	"Curr_Cons",
	"Rate",
	"Base",
	"VAT",
	"WT",
	"Penalty",
	"Total",
	"ROC_Percent",
	"For_Penalty",
	"Memo",
}

// Write renders the canonical result as CSV, one line per billing row plus
// a trailing TOTAL line from the summary.
func Write(w io.Writer, res *models.QueryResult) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range res.Rows {
		record := []string{
			row.MeterID,
			row.MeterSN,
			row.MeterType,
			row.TenantID,
			row.TenantName,
			row.StallID,
			formatFloat(row.PrevIndex, 2),
			formatFloat(row.CurrIndex, 2),
			formatFloat(row.PrevCons, 2),
			formatFloat(row.CurrCons, 2),
			formatFloat(row.UtilityRate, 4),
			formatFloat(row.Base, 2),
			formatFloat(row.VAT, 2),
			formatFloat(row.WT, 2),
			formatFloat(row.Penalty, 2),
			formatFloat(row.Total, 2),
			formatFloat(row.RateOfChange, 2),
			formatBool(row.ForPenalty),
			row.Memo,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	total := []string{
		"TOTAL", "", "", "", "", "", "", "", "",
		fmt.Sprintf("%.2f", res.Summary.Consumption),
		"",
		fmt.Sprintf("%.2f", res.Summary.Base),
		fmt.Sprintf("%.2f", res.Summary.VAT),
		fmt.Sprintf("%.2f", res.Summary.WT),
		fmt.Sprintf("%.2f", res.Summary.Penalty),
		fmt.Sprintf("%.2f", res.Summary.Total),
		"", "", "",
	}
	if err := writer.Write(total); err != nil {
		return err
	}

	writer.Flush()
	return writer.Error()
}

// WriteFile writes the CSV rendition to a file.
func WriteFile(filename string, res *models.QueryResult) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return Write(file, res)
}
