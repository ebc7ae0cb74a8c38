package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/scanning"
)

// IDGenerator generates unique IDs for receipts and payments
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemTimeSource struct{}

func (t *systemTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUIDs and the system clock
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &uuidGenerator{}, &systemTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Upload is a receipt image plus whatever the submitter sent with it
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	Submitter   string
	Property    string
	Note        string
}

// ReceiptUpdate carries user edits; nil fields are left unchanged
type ReceiptUpdate struct {
	Vendor   *string  `json:"vendor,omitempty"`
	Amount   *float64 `json:"amount,omitempty"` // Dollars
	Date     *string  `json:"date,omitempty"`   // YYYY-MM-DD
	Property *string  `json:"property,omitempty"`
	Note     *string  `json:"note,omitempty"`
}

// ReceiptFilter narrows ListReceipts; empty fields match everything
type ReceiptFilter struct {
	Property string
	Status   Status
}

var (
	filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and truncates long phone-generated names
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = filenameUnsafe.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// toCents converts dollars to cents, rounding half away from zero. ok is false
// when the result does not fit in an int64.
func toCents(amount float64) (cents int64, ok bool) {
	d := decimal.NewFromFloat(amount).Shift(2).Round(0)
	if d.GreaterThan(maxCents) || d.LessThan(minCents) {
		return 0, false
	}
	return d.IntPart(), true
}

// ProcessReceipt stores the upload, extracts its fields and saves it as a
// pending receipt. Extraction never rejects a receipt; low-confidence fields
// are logged and left for review.
func (s *Service) ProcessReceipt(ctx context.Context, upload Upload) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(upload.Filename)), upload.Data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	raw, err := s.scanner.Scan(ctx, upload.Data, upload.ContentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", upload.Filename,
			"content_type", upload.ContentType,
			"file_size", len(upload.Data),
			"error", err,
		)
		s.removeFile(savedPath)
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	hint := upload.Note
	if strings.TrimSpace(hint) == "" {
		hint = upload.Submitter
	}
	extracted := scanning.Normalize(raw, hint, now)
	fields := scanning.FallbackFields(extracted, hint, now)
	amount, ok := toCents(extracted.Amount)
	if !ok {
		fields = append(fields, "amount")
	}
	if len(fields) > 0 {
		slog.Warn("Low-confidence extraction",
			"id", id,
			"filename", upload.Filename,
			"fallback_fields", fields,
			"extracted_amount", extracted.Amount,
		)
	}

	date, err := time.Parse(scanning.DateLayout, extracted.Date)
	if err != nil {
		date = now
	}

	receipt := &Receipt{
		ID:            id,
		Vendor:        extracted.Vendor,
		Date:          date,
		Amount:        amount,
		Property:      strings.TrimSpace(upload.Property),
		Submitter:     strings.TrimSpace(upload.Submitter),
		Note:          upload.Note,
		Filename:      savedPath,
		ContentType:   upload.ContentType,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.db.SaveReceipt(receipt); err != nil {
		s.removeFile(savedPath)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Receipt processed", "id", id, "vendor", receipt.Vendor, "amount", receipt.Amount)
	return receipt, nil
}

func (s *Service) removeFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns matching receipts, newest receipt date first
func (s *Service) ListReceipts(filter ReceiptFilter) ([]*Receipt, error) {
	all, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	receipts := make([]*Receipt, 0, len(all))
	for _, r := range all {
		if filter.Property != "" && !strings.EqualFold(r.Property, filter.Property) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		receipts = append(receipts, r)
	}

	sort.SliceStable(receipts, func(i, j int) bool {
		if !receipts[i].Date.Equal(receipts[j].Date) {
			return receipts[i].Date.After(receipts[j].Date)
		}
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// UpdateReceipt applies user edits. Unlike extraction, edits are validated:
// the vendor must be non-empty, the amount positive and the date YYYY-MM-DD.
func (s *Service) UpdateReceipt(id string, update ReceiptUpdate) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.PaymentStatus == PaymentPaid {
		return nil, fmt.Errorf("updating receipt %s: %w", id, ErrAlreadyPaid)
	}

	if update.Vendor != nil {
		vendor := strings.TrimSpace(*update.Vendor)
		if vendor == "" {
			return nil, fmt.Errorf("%w: vendor is required", ErrInvalidReceipt)
		}
		receipt.Vendor = vendor
	}
	if update.Amount != nil {
		cents, ok := toCents(*update.Amount)
		if !ok || cents <= 0 {
			return nil, ErrInvalidAmount
		}
		receipt.Amount = cents
	}
	if update.Date != nil {
		date, err := time.Parse(scanning.DateLayout, strings.TrimSpace(*update.Date))
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidReceipt)
		}
		receipt.Date = date
	}
	if update.Property != nil {
		receipt.Property = strings.TrimSpace(*update.Property)
	}
	if update.Note != nil {
		receipt.Note = *update.Note
	}

	receipt.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt: %w", err)
	}
	return receipt, nil
}

// TransitionReceipt moves a receipt to a new review status. Approval requires
// a positive amount.
func (s *Service) TransitionReceipt(id string, to Status) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	if !IsTransitionAllowed(receipt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, receipt.Status, to)
	}
	if to == StatusApproved && receipt.Amount <= 0 {
		return nil, fmt.Errorf("approving receipt %s: %w", id, ErrInvalidAmount)
	}

	receipt.Status = to
	receipt.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt: %w", err)
	}
	return receipt, nil
}

// DeleteReceipt removes a receipt and its file. Paid receipts are kept.
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}
	if receipt.PaymentStatus == PaymentPaid {
		return fmt.Errorf("deleting receipt %s: %w", id, ErrAlreadyPaid)
	}

	// A missing file must not block removing the record.
	s.removeFile(receipt.Filename)

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the original upload for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, receipt.ContentType, nil
}

// CreatePayment pays out a batch of approved, unpaid receipts
func (s *Service) CreatePayment(receiptIDs []string, reference string) (*Payment, error) {
	if len(receiptIDs) == 0 {
		return nil, ErrNoReceipts
	}

	now := s.timeSource.Now()
	id := s.idGenerator.Generate()

	seen := make(map[string]bool, len(receiptIDs))
	receipts := make([]*Receipt, 0, len(receiptIDs))
	var total int64
	for _, receiptID := range receiptIDs {
		if seen[receiptID] {
			return nil, fmt.Errorf("%w: receipt %s listed twice", ErrInvalidReceipt, receiptID)
		}
		seen[receiptID] = true

		receipt, err := s.db.GetReceipt(receiptID)
		if err != nil {
			return nil, fmt.Errorf("getting receipt %s: %w", receiptID, err)
		}
		if receipt.Status != StatusApproved {
			return nil, fmt.Errorf("receipt %s: %w", receiptID, ErrNotApproved)
		}
		if receipt.PaymentStatus == PaymentPaid {
			return nil, fmt.Errorf("receipt %s: %w", receiptID, ErrAlreadyPaid)
		}

		receipt.PaymentStatus = PaymentPaid
		receipt.PaymentID = id
		receipt.UpdatedAt = now
		receipts = append(receipts, receipt)
		total += receipt.Amount
	}

	payment := &Payment{
		ID:          id,
		ReceiptIDs:  receiptIDs,
		TotalAmount: total,
		Reference:   strings.TrimSpace(reference),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.SavePaymentWithReceipts(payment, receipts); err != nil {
		return nil, fmt.Errorf("saving payment: %w", err)
	}

	slog.Info("Payment created", "id", id, "receipts", len(receipts), "total", total)
	return payment, nil
}

// GetPaymentWithReceipts retrieves a payment with the receipts it settled
func (s *Service) GetPaymentWithReceipts(id string) (*Payment, []*Receipt, error) {
	payment, err := s.db.GetPayment(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting payment: %w", err)
	}

	receipts := make([]*Receipt, 0, len(payment.ReceiptIDs))
	for _, receiptID := range payment.ReceiptIDs {
		receipt, err := s.db.GetReceipt(receiptID)
		if err != nil {
			return nil, nil, fmt.Errorf("getting receipt %s: %w", receiptID, err)
		}
		receipts = append(receipts, receipt)
	}
	return payment, receipts, nil
}

// ListPayments returns all payments, newest first
func (s *Service) ListPayments() ([]*Payment, error) {
	payments, err := s.db.ListPayments()
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	sort.SliceStable(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
	return payments, nil
}

// Summarize reports spend per property for receipts dated within [from, to].
// A zero bound is open.
func (s *Service) Summarize(from, to time.Time) (*Summary, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return Summarize(receipts, from, to), nil
}
