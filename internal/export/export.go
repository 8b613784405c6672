// Package export renders the subscription list for use outside the app.
package export

import (
	"fmt"
	"strings"

	"subsum/internal/core"
)

// CSVHeader is the fixed first line of every export.
const CSVHeader = "Name,Amount,Currency,Frequency,Next Charge,Category"

// CSV renders one row per active subscription as a spreadsheet-friendly
// document; cancelled subscriptions are skipped. Names are always quoted
// since they are the only free-text column; amounts stay plain decimal
// strings.
func CSV(subs []core.Subscription) string {
	var b strings.Builder
	b.WriteString(CSVHeader)
	b.WriteByte('\n')
	for _, s := range subs {
		if !s.Active {
			continue
		}
		b.WriteString(csvLine(s))
		b.WriteByte('\n')
	}
	return b.String()
}

func csvLine(s core.Subscription) string {
	name := `"` + strings.ReplaceAll(s.Name, `"`, `""`) + `"`
	return fmt.Sprintf("%s,%s,%s,%s,%s,%s",
		name,
		s.Amount.String(),
		s.Currency,
		s.Frequency.DisplayName(),
		s.NextChargeDate.Format("2006-01-02"),
		s.Category.DisplayName(),
	)
}

// Row is one export line split into cells, shared by the CSV and the
// spreadsheet writers.
func Row(s core.Subscription) []any {
	return []any{
		s.Name,
		s.Amount.String(),
		s.Currency,
		s.Frequency.DisplayName(),
		s.NextChargeDate.Format("2006-01-02"),
		s.Category.DisplayName(),
	}
}

// HeaderRow returns the header cells for spreadsheet writers.
func HeaderRow() []any {
	return []any{"Name", "Amount", "Currency", "Frequency", "Next Charge", "Category"}
}

// Rows builds the full value grid for a spreadsheet write: the header plus
// one row per active subscription.
func Rows(subs []core.Subscription) [][]any {
	values := make([][]any, 0, len(subs)+1)
	values = append(values, HeaderRow())
	for _, s := range subs {
		if !s.Active {
			continue
		}
		values = append(values, Row(s))
	}
	return values
}
