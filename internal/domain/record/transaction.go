package record

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techmart/pipeline/internal/domain/shared"
)

// TransactionStatus represents the lifecycle status of a transaction event.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusRefunded  TransactionStatus = "refunded"
	StatusCancelled TransactionStatus = "cancelled"
)

// IsValid reports whether the status is a known enum value.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status may never be overwritten by a
// non-terminal duplicate. Refunds and cancellations are final.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusRefunded || s == StatusCancelled
}

// PaymentMethod represents how a transaction was paid.
type PaymentMethod string

const (
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentDebitCard  PaymentMethod = "debit_card"
	PaymentPaypal     PaymentMethod = "paypal"
	PaymentApplePay   PaymentMethod = "apple_pay"
	PaymentGooglePay  PaymentMethod = "google_pay"
)

// IsValid reports whether the payment method is a known enum value.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCreditCard, PaymentDebitCard, PaymentPaypal, PaymentApplePay, PaymentGooglePay:
		return true
	}
	return false
}

// Business rule bounds for financial fields.
var (
	MinTransactionAmount = decimal.NewFromFloat(0.01)
	MaxTransactionAmount = decimal.NewFromFloat(100000.00)
	HighValueThreshold   = decimal.NewFromFloat(500.00)
)

// ValidCurrencies is the allowed ISO 4217 subset, keyed by code.
var ValidCurrencies = map[string]bool{
	"USD": true,
	"EUR": true,
	"GBP": true,
	"CAD": true,
}

// Transaction is the canonical transaction event payload.
type Transaction struct {
	TransactionID        string            `json:"transaction_id" validate:"required"`
	UserID               string            `json:"user_id" validate:"required"`
	ProductID            string            `json:"product_id" validate:"required"`
	Amount               decimal.Decimal   `json:"amount"`
	Currency             string            `json:"currency" validate:"required,len=3,uppercase"`
	PaymentMethod        PaymentMethod     `json:"payment_method" validate:"required"`
	Status               TransactionStatus `json:"status" validate:"required"`
	TransactionTimestamp time.Time         `json:"transaction_timestamp" validate:"required"`
	ProcessingTimestamp  time.Time         `json:"processing_timestamp"`
}

// Validate applies structural and domain rules. A transaction must pass
// before it is eligible for load.
func (t *Transaction) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil transaction", shared.ErrValidationFailed)
	}
	if err := structValidator.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidationFailed, err)
	}
	if t.Amount.LessThan(MinTransactionAmount) || t.Amount.GreaterThan(MaxTransactionAmount) {
		return fmt.Errorf("%w: amount %s outside [%s, %s]",
			shared.ErrValidationFailed, t.Amount, MinTransactionAmount, MaxTransactionAmount)
	}
	if !ValidCurrencies[t.Currency] {
		return fmt.Errorf("%w: unsupported currency %q", shared.ErrValidationFailed, t.Currency)
	}
	if !t.PaymentMethod.IsValid() {
		return fmt.Errorf("%w: unknown payment method %q", shared.ErrValidationFailed, t.PaymentMethod)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrValidationFailed, t.Status)
	}
	return nil
}

// IsHighValue reports whether the transaction exceeds the high-value
// threshold in its native currency amount converted to USD elsewhere.
func (t *Transaction) IsHighValue() bool {
	return t.Amount.GreaterThan(HighValueThreshold)
}

// Supersedes decides duplicate resolution between two events sharing a
// transaction_id. The event with the later transaction_timestamp wins; equal
// timestamps fall back to arrival order (laterArrival true means t arrived
// after other). A terminal status is never displaced by a non-terminal one,
// regardless of timestamps.
func (t *Transaction) Supersedes(other *Transaction, laterArrival bool) bool {
	if other == nil {
		return true
	}
	if other.Status.IsTerminal() && !t.Status.IsTerminal() {
		return false
	}
	if t.Status.IsTerminal() && !other.Status.IsTerminal() {
		return true
	}
	if t.TransactionTimestamp.After(other.TransactionTimestamp) {
		return true
	}
	if t.TransactionTimestamp.Equal(other.TransactionTimestamp) {
		return laterArrival
	}
	return false
}
