package record

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmart/pipeline/internal/domain/shared"
)

func validTransaction() *Transaction {
	return &Transaction{
		TransactionID:        "t-1001",
		UserID:               "u-1",
		ProductID:            "p-1",
		Amount:               decimal.NewFromFloat(49.99),
		Currency:             "USD",
		PaymentMethod:        PaymentCreditCard,
		Status:               StatusCompleted,
		TransactionTimestamp: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestTransaction_Validate(t *testing.T) {
	t.Run("accepts a valid transaction", func(t *testing.T) {
		require.NoError(t, validTransaction().Validate())
	})

	t.Run("rejects amount below minimum", func(t *testing.T) {
		txn := validTransaction()
		txn.Amount = decimal.NewFromFloat(0.001)
		err := txn.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrValidationFailed)
	})

	t.Run("rejects amount above maximum", func(t *testing.T) {
		txn := validTransaction()
		txn.Amount = decimal.NewFromFloat(100000.01)
		assert.ErrorIs(t, txn.Validate(), shared.ErrValidationFailed)
	})

	t.Run("accepts boundary amounts", func(t *testing.T) {
		txn := validTransaction()
		txn.Amount = MinTransactionAmount
		assert.NoError(t, txn.Validate())

		txn.Amount = MaxTransactionAmount
		assert.NoError(t, txn.Validate())
	})

	t.Run("rejects unsupported currency", func(t *testing.T) {
		txn := validTransaction()
		txn.Currency = "JPY"
		assert.ErrorIs(t, txn.Validate(), shared.ErrValidationFailed)
	})

	t.Run("rejects unknown payment method", func(t *testing.T) {
		txn := validTransaction()
		txn.PaymentMethod = "wire_transfer"
		assert.ErrorIs(t, txn.Validate(), shared.ErrValidationFailed)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		txn := validTransaction()
		txn.Status = "archived"
		assert.ErrorIs(t, txn.Validate(), shared.ErrValidationFailed)
	})

	t.Run("rejects missing identifiers", func(t *testing.T) {
		txn := validTransaction()
		txn.UserID = ""
		assert.ErrorIs(t, txn.Validate(), shared.ErrValidationFailed)
	})

	t.Run("rejects nil receiver", func(t *testing.T) {
		var txn *Transaction
		assert.ErrorIs(t, txn.Validate(), shared.ErrValidationFailed)
	})
}

func TestTransactionStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusRefunded.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusCompleted.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
}

func TestTransaction_Supersedes(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	at := func(ts time.Time, status TransactionStatus) *Transaction {
		txn := validTransaction()
		txn.TransactionTimestamp = ts
		txn.Status = status
		return txn
	}

	t.Run("later timestamp wins", func(t *testing.T) {
		older := at(base, StatusPending)
		newer := at(base.Add(time.Minute), StatusCompleted)
		assert.True(t, newer.Supersedes(older, false))
		assert.False(t, older.Supersedes(newer, true))
	})

	t.Run("equal timestamps fall back to arrival order", func(t *testing.T) {
		first := at(base, StatusPending)
		second := at(base, StatusCompleted)
		assert.True(t, second.Supersedes(first, true))
		assert.False(t, second.Supersedes(first, false))
	})

	t.Run("terminal status is never displaced by a non-terminal one", func(t *testing.T) {
		refunded := at(base, StatusRefunded)
		laterCompleted := at(base.Add(time.Hour), StatusCompleted)
		assert.False(t, laterCompleted.Supersedes(refunded, true))
	})

	t.Run("terminal status displaces an earlier non-terminal one", func(t *testing.T) {
		completed := at(base.Add(time.Hour), StatusCompleted)
		refund := at(base, StatusRefunded)
		assert.True(t, refund.Supersedes(completed, true))
	})

	t.Run("between terminal statuses the later timestamp wins", func(t *testing.T) {
		refunded := at(base, StatusRefunded)
		cancelled := at(base.Add(time.Minute), StatusCancelled)
		assert.True(t, cancelled.Supersedes(refunded, false))
		assert.False(t, refunded.Supersedes(cancelled, true))
	})

	t.Run("nil incumbent is always superseded", func(t *testing.T) {
		assert.True(t, validTransaction().Supersedes(nil, false))
	})
}

func TestTransaction_IsHighValue(t *testing.T) {
	txn := validTransaction()

	txn.Amount = decimal.NewFromFloat(500.00)
	assert.False(t, txn.IsHighValue())

	txn.Amount = decimal.NewFromFloat(500.01)
	assert.True(t, txn.IsHighValue())
}
