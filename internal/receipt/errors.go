package receipt

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidReceipt    = errors.New("invalid receipt")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotApproved       = errors.New("receipt is not approved")
	ErrAlreadyPaid       = errors.New("receipt is already paid")
	ErrNoReceipts        = errors.New("at least one receipt is required")
	ErrScanFailed        = errors.New("scanning receipt")
)
