package receipt

import "time"

// Receipt is a submitted expense with its review and payment state
type Receipt struct {
	ID            string        `json:"id"`
	Vendor        string        `json:"vendor"`
	Date          time.Time     `json:"date"`
	Amount        int64         `json:"amount"` // Amount in cents
	Property      string        `json:"property,omitempty"`
	Submitter     string        `json:"submitter,omitempty"`
	Note          string        `json:"note,omitempty"` // Free text sent along with the photo
	Filename      string        `json:"filename"`
	ContentType   string        `json:"content_type"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentID     string        `json:"payment_id,omitempty"` // ID of the payment that settled this receipt
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Payment settles a batch of approved receipts
type Payment struct {
	ID          string    `json:"id"`
	ReceiptIDs  []string  `json:"receipt_ids"`
	TotalAmount int64     `json:"total_amount"` // Total amount in cents
	Reference   string    `json:"reference,omitempty"` // Check number, transfer ID, etc.
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
