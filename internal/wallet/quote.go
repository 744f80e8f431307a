package wallet

import (
	"github.com/shopspring/decimal"
)

// CostQuote is the price of a send, derived on demand and never stored.
type CostQuote struct {
	Recipients   int             `json:"recipients"`
	Segments     int             `json:"segments"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Total        decimal.Decimal `json:"total"`
	Balance      decimal.Decimal `json:"balance"`
	Insufficient bool            `json:"insufficient"`
	Skipped      int             `json:"skipped"` // Rows excluded for an unusable phone
}

// Quote prices recipients x segments x unitCost. A message always costs at least one segment.
func Quote(recipients, segments int, unitCost, balance decimal.Decimal) CostQuote {
	billable := max(segments, 1)
	total := decimal.NewFromInt(int64(max(recipients, 0))).
		Mul(decimal.NewFromInt(int64(billable))).
		Mul(unitCost)

	return CostQuote{
		Recipients:   recipients,
		Segments:     segments,
		UnitCost:     unitCost,
		Total:        total,
		Balance:      balance,
		Insufficient: total.GreaterThan(balance),
	}
}

// Shortfall is how much the balance is short of the total, zero when it covers it.
func (q CostQuote) Shortfall() decimal.Decimal {
	if !q.Insufficient {
		return decimal.Zero
	}
	return q.Total.Sub(q.Balance)
}
