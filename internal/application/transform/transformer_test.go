package transform

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/techmart/pipeline/internal/domain/record"
)

var transformBase = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func txn(id string, amount float64, currency string, status record.TransactionStatus, ts time.Time) record.CanonicalRecord {
	return record.CanonicalRecord{
		Kind:       record.KindTransaction,
		Source:     record.SourceEventBatch,
		IngestedAt: transformBase,
		Transaction: &record.Transaction{
			TransactionID:        id,
			UserID:               "u-1",
			ProductID:            "p-1",
			Amount:               decimal.NewFromFloat(amount),
			Currency:             currency,
			PaymentMethod:        record.PaymentCreditCard,
			Status:               status,
			TransactionTimestamp: ts,
		},
	}
}

func testSnapshot() *Snapshot {
	users := []record.UserProfile{
		{
			UserID:           "u-1",
			Email:            "ana@example.com",
			Country:          "US",
			AgeGroup:         record.AgeGroup26To35,
			CustomerTier:     record.TierVIP,
			RegistrationDate: transformBase.AddDate(-1, 0, 0),
			AsOf:             transformBase,
		},
		{
			UserID:       "u-2",
			Email:        "ben@example.com",
			Country:      "DE",
			CustomerTier: record.TierStandard,
			AsOf:         transformBase,
		},
	}
	products := []record.Product{
		{
			ProductID:      "p-1",
			Name:           "Mechanical Keyboard",
			Category:       "electronics",
			SupplierID:     "s-1",
			BasePrice:      decimal.NewFromFloat(40.00),
			Currency:       "USD",
			InventoryCount: 42,
		},
	}
	return BuildSnapshot(users, products)
}

func TestTransformer_Transform_Enrichment(t *testing.T) {
	tr := NewTransformer(zap.NewNop())
	records := []record.CanonicalRecord{
		txn("t-1", 100.00, "USD", record.StatusCompleted, transformBase),
	}

	out := tr.Transform(records, testSnapshot())
	require.Len(t, out.Transactions, 1)

	e := out.Transactions[0]
	assert.Equal(t, "100", e.AmountUSD.String())
	assert.False(t, e.IsHighValue)
	assert.False(t, e.IsInternational)
	assert.Equal(t, "low", e.PaymentMethodRisk)
	assert.Equal(t, "low", e.TransactionRisk)
	assert.Equal(t, "high", e.ProcessingPriority)

	require.NotNil(t, e.UserCountry)
	assert.Equal(t, "US", *e.UserCountry)
	require.NotNil(t, e.UserTier)
	assert.Equal(t, "vip", *e.UserTier)
	require.NotNil(t, e.ProductName)
	assert.Equal(t, "Mechanical Keyboard", *e.ProductName)
	require.NotNil(t, e.ProductCategory)
	assert.Equal(t, "electronics", *e.ProductCategory)
	require.NotNil(t, e.ProductBasePrice)
	assert.Equal(t, "40", e.ProductBasePrice.String())
	assert.InDelta(t, 0.6, e.ProfitMarginEstimate, 0.0001)
	assert.False(t, e.ConsistencyIncomplete)

	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), e.TransactionDate)
	assert.Equal(t, 10, e.TransactionHour)
	assert.Equal(t, "Saturday", e.DayOfWeek)
}

func TestTransformer_Transform_CurrencyConversion(t *testing.T) {
	tr := NewTransformer(zap.NewNop())
	records := []record.CanonicalRecord{
		txn("t-eur", 85.00, "EUR", record.StatusCompleted, transformBase),
		txn("t-gbp", 73.00, "GBP", record.StatusCompleted, transformBase.Add(time.Minute)),
		txn("t-cad", 125.00, "CAD", record.StatusCompleted, transformBase.Add(2*time.Minute)),
	}

	out := tr.Transform(records, testSnapshot())
	require.Len(t, out.Transactions, 3)

	byID := make(map[string]EnrichedTransaction)
	for _, e := range out.Transactions {
		byID[e.TransactionID] = e
	}

	assert.Equal(t, "100", byID["t-eur"].AmountUSD.String())
	assert.Equal(t, "100", byID["t-gbp"].AmountUSD.String())
	assert.Equal(t, "100", byID["t-cad"].AmountUSD.String())
	assert.True(t, byID["t-eur"].IsInternational)
	assert.Equal(t, "medium", byID["t-eur"].TransactionRisk)
}

func TestTransformer_Transform_HighValueUsesUSDAmount(t *testing.T) {
	tr := NewTransformer(zap.NewNop())
	// 430 EUR is about 505 USD, above the threshold despite the native
	// amount sitting below it.
	records := []record.CanonicalRecord{
		txn("t-1", 430.00, "EUR", record.StatusCompleted, transformBase),
	}

	out := tr.Transform(records, testSnapshot())
	require.Len(t, out.Transactions, 1)
	assert.True(t, out.Transactions[0].IsHighValue)
}

func TestTransformer_Transform_HighValueRiskyPaymentMethod(t *testing.T) {
	tr := NewTransformer(zap.NewNop())
	rec := txn("t-1", 600.00, "USD", record.StatusCompleted, transformBase)
	rec.Transaction.PaymentMethod = record.PaymentGooglePay

	out := tr.Transform([]record.CanonicalRecord{rec}, testSnapshot())
	require.Len(t, out.Transactions, 1)
	assert.Equal(t, "high", out.Transactions[0].PaymentMethodRisk)
}

func TestTransformer_Transform_MissingReferencesFlagged(t *testing.T) {
	tr := NewTransformer(zap.NewNop())
	rec := txn("t-1", 50.00, "USD", record.StatusCompleted, transformBase)
	rec.Transaction.UserID = "u-ghost"
	rec.Transaction.ProductID = "p-ghost"

	out := tr.Transform([]record.CanonicalRecord{rec}, testSnapshot())
	require.Len(t, out.Transactions, 1)

	e := out.Transactions[0]
	assert.True(t, e.ConsistencyIncomplete)
	assert.Nil(t, e.UserCountry)
	assert.Nil(t, e.ProductName)
	assert.Equal(t, "standard", e.ProcessingPriority)
}

func TestTransformer_Transform_Dedup(t *testing.T) {
	tr := NewTransformer(zap.NewNop())

	records := []record.CanonicalRecord{
		txn("t-1", 50.00, "USD", record.StatusPending, transformBase),
		txn("t-1", 50.00, "USD", record.StatusCompleted, transformBase.Add(time.Minute)),
		txn("t-2", 20.00, "USD", record.StatusRefunded, transformBase),
		txn("t-2", 20.00, "USD", record.StatusCompleted, transformBase.Add(time.Hour)),
	}

	out := tr.Transform(records, testSnapshot())
	require.Len(t, out.Transactions, 2)
	require.Len(t, out.Canonical, 2)

	byID := make(map[string]EnrichedTransaction)
	for _, e := range out.Transactions {
		byID[e.TransactionID] = e
	}
	assert.Equal(t, record.StatusCompleted, byID["t-1"].Status)
	assert.Equal(t, record.StatusRefunded, byID["t-2"].Status, "terminal status must survive dedup")
}

func TestTransformer_Transform_CanonicalKeepsIngestionTime(t *testing.T) {
	tr := NewTransformer(zap.NewNop())
	rec := txn("t-1", 50.00, "USD", record.StatusCompleted, transformBase)
	rec.IngestedAt = transformBase.Add(30 * time.Minute)

	out := tr.Transform([]record.CanonicalRecord{rec}, testSnapshot())
	require.Len(t, out.Canonical, 1)
	assert.Equal(t, rec.IngestedAt, out.Canonical[0].IngestedAt)
}

func TestTransformer_Transform_ChronologicalOrder(t *testing.T) {
	tr := NewTransformer(zap.NewNop())
	records := []record.CanonicalRecord{
		txn("t-3", 10.00, "USD", record.StatusCompleted, transformBase.Add(2*time.Hour)),
		txn("t-1", 10.00, "USD", record.StatusCompleted, transformBase),
		txn("t-2", 10.00, "USD", record.StatusCompleted, transformBase.Add(time.Hour)),
	}

	out := tr.Transform(records, testSnapshot())
	require.Len(t, out.Transactions, 3)
	assert.Equal(t, "t-1", out.Transactions[0].TransactionID)
	assert.Equal(t, "t-2", out.Transactions[1].TransactionID)
	assert.Equal(t, "t-3", out.Transactions[2].TransactionID)
}

func TestTransformer_Transform_OutlierFlagging(t *testing.T) {
	tr := NewTransformer(zap.NewNop(), WithOutlierMultiple(5))

	var records []record.CanonicalRecord
	for i := 0; i < 10; i++ {
		records = append(records, txn(fmt.Sprintf("t-%02d", i), 20.00, "USD", record.StatusCompleted,
			transformBase.Add(time.Duration(i)*time.Minute)))
	}
	// Far beyond five times the trailing median of 20.
	records = append(records, txn("t-outlier", 5000.00, "USD", record.StatusCompleted,
		transformBase.Add(time.Hour)))

	out := tr.Transform(records, testSnapshot())
	require.Len(t, out.Transactions, 11)

	flagged := 0
	for _, e := range out.Transactions {
		if e.FlaggedOutlier {
			flagged++
			assert.Equal(t, "t-outlier", e.TransactionID)
		}
	}
	assert.Equal(t, 1, flagged, "outliers are flagged, never dropped")
}

func TestTransformer_Transform_NoOutlierFlagBeforeEnoughSamples(t *testing.T) {
	tr := NewTransformer(zap.NewNop())

	records := []record.CanonicalRecord{
		txn("t-1", 10.00, "USD", record.StatusCompleted, transformBase),
		txn("t-2", 9000.00, "USD", record.StatusCompleted, transformBase.Add(time.Minute)),
	}

	out := tr.Transform(records, testSnapshot())
	for _, e := range out.Transactions {
		assert.False(t, e.FlaggedOutlier)
	}
}

func TestBuildSnapshot_LastWriteWinsByAsOf(t *testing.T) {
	older := record.UserProfile{UserID: "u-1", Email: "old@example.com", AsOf: transformBase.AddDate(0, 0, -7)}
	newer := record.UserProfile{UserID: "u-1", Email: "new@example.com", AsOf: transformBase}

	snap := BuildSnapshot([]record.UserProfile{newer, older}, nil)
	u, ok := snap.User("u-1")
	require.True(t, ok)
	assert.Equal(t, "new@example.com", u.Email)

	snap = BuildSnapshot([]record.UserProfile{older, newer}, nil)
	u, _ = snap.User("u-1")
	assert.Equal(t, "new@example.com", u.Email)
}

func TestRunningMedian(t *testing.T) {
	m := newRunningMedian()
	assert.Equal(t, "0", m.value().String())

	for _, v := range []int64{5, 1, 9, 3, 7} {
		m.add(decimal.NewFromInt(v))
	}
	assert.Equal(t, 5, m.size())
	assert.Equal(t, "5", m.value().String())

	m.add(decimal.NewFromInt(11))
	assert.Equal(t, "6", m.value().String())
}
