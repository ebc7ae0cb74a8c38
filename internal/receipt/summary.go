package receipt

import (
	"sort"
	"time"
)

// UnassignedProperty groups receipts submitted without a property
const UnassignedProperty = "Unassigned"

// Summary is the dashboard view of spend
type Summary struct {
	From       string            `json:"from,omitempty"`
	To         string            `json:"to,omitempty"`
	Count      int               `json:"count"`
	Total      int64             `json:"total"` // Cents, rejected receipts excluded
	Properties []PropertySummary `json:"properties"`
}

// PropertySummary is the spend for one property. All amounts are cents.
type PropertySummary struct {
	Property      string           `json:"property"`
	Count         int              `json:"count"`
	Total         int64            `json:"total"`
	Pending       int64            `json:"pending"`
	Approved      int64            `json:"approved"`
	Paid          int64            `json:"paid"`
	RejectedCount int              `json:"rejected_count"`
	Monthly       map[string]int64 `json:"monthly"` // YYYY-MM -> cents
}

// Summarize aggregates receipts dated within [from, to] by property. Zero
// bounds are open. Rejected receipts are counted but not added to any total.
// Properties are ordered by total spend, highest first.
func Summarize(receipts []*Receipt, from, to time.Time) *Summary {
	summary := &Summary{Properties: []PropertySummary{}}
	if !from.IsZero() {
		summary.From = from.Format("2006-01-02")
	}
	if !to.IsZero() {
		summary.To = to.Format("2006-01-02")
	}

	byProperty := make(map[string]*PropertySummary)
	for _, r := range receipts {
		if !from.IsZero() && r.Date.Before(from) {
			continue
		}
		if !to.IsZero() && r.Date.After(to) {
			continue
		}

		name := r.Property
		if name == "" {
			name = UnassignedProperty
		}
		ps, ok := byProperty[name]
		if !ok {
			ps = &PropertySummary{Property: name, Monthly: make(map[string]int64)}
			byProperty[name] = ps
		}

		ps.Count++
		summary.Count++
		if r.Status == StatusRejected {
			ps.RejectedCount++
			continue
		}

		ps.Total += r.Amount
		summary.Total += r.Amount
		ps.Monthly[r.Date.Format("2006-01")] += r.Amount
		switch {
		case r.PaymentStatus == PaymentPaid:
			ps.Paid += r.Amount
		case r.Status == StatusApproved:
			ps.Approved += r.Amount
		default:
			ps.Pending += r.Amount
		}
	}

	for _, ps := range byProperty {
		summary.Properties = append(summary.Properties, *ps)
	}
	sort.Slice(summary.Properties, func(i, j int) bool {
		a, b := summary.Properties[i], summary.Properties[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Property < b.Property
	})
	return summary
}
