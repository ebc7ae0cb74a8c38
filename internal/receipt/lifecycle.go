// Package receipt stores submitted expense receipts and tracks their review
// and payment.
//
// Review lifecycle:
//
//	pending ──► approved
//	   │  ▲
//	   ▼  │
//	 rejected
//
// approved is terminal for review. Payment is tracked separately and only
// approved receipts can move from unpaid to paid.
package receipt

import "fmt"

// Status is the review state of a receipt
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// PaymentStatus records whether a receipt has been paid out
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

var validTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusRejected: {StatusPending},
}

// ParseStatus converts a raw string to a Status
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown receipt status %q", s)
}

// IsTransitionAllowed reports whether a receipt may move from one status to another
func IsTransitionAllowed(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
