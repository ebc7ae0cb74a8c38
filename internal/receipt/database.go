package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptBucketName = "receipts"
	paymentBucketName = "payments"
)

// DB defines the interface for record storage
type DB interface {
	// SaveReceipt inserts or replaces a receipt
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt
	DeleteReceipt(id string) error

	// SavePaymentWithReceipts stores a payment and the receipts it settles atomically
	SavePaymentWithReceipts(payment *Payment, receipts []*Receipt) error

	// GetPayment retrieves a payment by ID
	GetPayment(id string) (*Payment, error)

	// ListPayments returns all payments
	ListPayments() ([]*Payment, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database file and its buckets
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptBucketName, paymentBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte(receiptBucketName)), receipt.ID, receipt)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(receiptBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListReceipts returns all receipts in key order
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptBucketName)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt %s: %w", k, err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// SavePaymentWithReceipts writes the payment and the updated receipts in one
// transaction. Each stored receipt is re-read inside the transaction and must
// still be approved and unpaid, so concurrent payments cannot settle it twice.
func (b *BoltDB) SavePaymentWithReceipts(payment *Payment, receipts []*Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		for _, receipt := range receipts {
			data := bucket.Get([]byte(receipt.ID))
			if data == nil {
				return fmt.Errorf("receipt %s: %w", receipt.ID, ErrNotFound)
			}
			var stored Receipt
			if err := json.Unmarshal(data, &stored); err != nil {
				return fmt.Errorf("unmarshaling receipt %s: %w", receipt.ID, err)
			}
			if stored.PaymentStatus == PaymentPaid {
				return fmt.Errorf("receipt %s: %w", receipt.ID, ErrAlreadyPaid)
			}
			if stored.Status != StatusApproved {
				return fmt.Errorf("receipt %s: %w", receipt.ID, ErrNotApproved)
			}
			if err := putJSON(bucket, receipt.ID, receipt); err != nil {
				return err
			}
		}
		return putJSON(tx.Bucket([]byte(paymentBucketName)), payment.ID, payment)
	})
}

// GetPayment retrieves a payment by ID
func (b *BoltDB) GetPayment(id string) (*Payment, error) {
	var payment Payment
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(paymentBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("payment %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &payment)
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPayments returns all payments in key order
func (b *BoltDB) ListPayments() ([]*Payment, error) {
	payments := make([]*Payment, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(paymentBucketName)).ForEach(func(k, v []byte) error {
			var payment Payment
			if err := json.Unmarshal(v, &payment); err != nil {
				return fmt.Errorf("unmarshaling payment %s: %w", k, err)
			}
			payments = append(payments, &payment)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func putJSON(bucket *bbolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return bucket.Put([]byte(key), data)
}
