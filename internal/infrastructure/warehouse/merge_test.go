package warehouse

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/techmart/pipeline/internal/application/transform"
	"github.com/techmart/pipeline/internal/domain/record"
)

var mergeBase = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func streamTxn(id, userID, productID string, usd float64, status record.TransactionStatus, ts time.Time) transform.EnrichedTransaction {
	country := "US"
	tier := "premium"
	name := "Mechanical Keyboard"
	category := "electronics"
	return transform.EnrichedTransaction{
		Transaction: record.Transaction{
			TransactionID:        id,
			UserID:               userID,
			ProductID:            productID,
			Amount:               decimal.NewFromFloat(usd),
			Currency:             "USD",
			PaymentMethod:        record.PaymentCreditCard,
			Status:               status,
			TransactionTimestamp: ts,
		},
		AmountUSD:          decimal.NewFromFloat(usd),
		IsHighValue:        usd > 500,
		PaymentMethodRisk:  "low",
		TransactionRisk:    "low",
		ProcessingPriority: "standard",
		TransactionDate:    time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
		TransactionHour:    ts.Hour(),
		DayOfWeek:          ts.Weekday().String(),
		UserCountry:        &country,
		UserTier:           &tier,
		ProductName:        &name,
		ProductCategory:    &category,
	}
}

func queryCount(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

func queryFloat(t *testing.T, db *sql.DB, query string, args ...any) float64 {
	t.Helper()
	var v float64
	require.NoError(t, db.QueryRow(query, args...).Scan(&v))
	return v
}

func TestStore_MergeBatch(t *testing.T) {
	store := openTestStore(t)

	out := &transform.Output{Transactions: []transform.EnrichedTransaction{
		streamTxn("t-1", "u-1", "p-1", 100.00, record.StatusCompleted, mergeBase),
		streamTxn("t-2", "u-1", "p-1", 700.00, record.StatusCompleted, mergeBase.Add(time.Hour)),
		streamTxn("t-3", "u-2", "p-2", 50.00, record.StatusRefunded, mergeBase.Add(2*time.Hour)),
		streamTxn("t-4", "u-2", "p-1", 25.00, record.StatusCompleted, mergeBase.AddDate(0, 0, 1)),
	}}

	result, err := store.MergeBatch(context.Background(), out)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Partitions)
	assert.Equal(t, 4, result.StreamRows)
	assert.Equal(t, 2, result.ReportRows)

	db := store.DB()
	assert.Equal(t, 4, queryCount(t, db, "SELECT COUNT(*) FROM transaction_stream"))
	assert.Equal(t, 3, queryCount(t, db, "SELECT COUNT(*) FROM transaction_stream WHERE transaction_date = DATE '2026-03-14'"))

	t.Run("daily summary aggregates revenue per category", func(t *testing.T) {
		revenue := queryFloat(t, db,
			"SELECT total_revenue_usd FROM daily_sales_summary WHERE summary_date = DATE '2026-03-14' AND category = 'electronics'")
		assert.InDelta(t, 800.00, revenue, 0.001, "refunded amounts do not count as revenue")

		total := queryCount(t, db,
			"SELECT total_transactions FROM daily_sales_summary WHERE summary_date = DATE '2026-03-14' AND category = 'electronics'")
		assert.Equal(t, 3, total)
	})

	t.Run("user analytics per date", func(t *testing.T) {
		assert.Equal(t, 2, queryCount(t, db,
			"SELECT COUNT(*) FROM user_analytics WHERE summary_date = DATE '2026-03-14'"))
		revenue := queryFloat(t, db,
			"SELECT revenue_usd FROM user_analytics WHERE summary_date = DATE '2026-03-14' AND user_id = 'u-1'")
		assert.InDelta(t, 800.00, revenue, 0.001)
	})

	t.Run("financial report splits by status", func(t *testing.T) {
		gross := queryFloat(t, db,
			"SELECT gross_revenue_usd FROM financial_reports WHERE report_date = DATE '2026-03-14'")
		assert.InDelta(t, 800.00, gross, 0.001)
		refunded := queryFloat(t, db,
			"SELECT refunded_amount_usd FROM financial_reports WHERE report_date = DATE '2026-03-14'")
		assert.InDelta(t, 50.00, refunded, 0.001)
		net := queryFloat(t, db,
			"SELECT net_revenue_usd FROM financial_reports WHERE report_date = DATE '2026-03-14'")
		assert.InDelta(t, 750.00, net, 0.001)
	})

	t.Run("high value flag lands in the stream", func(t *testing.T) {
		assert.Equal(t, 1, queryCount(t, db,
			"SELECT COUNT(*) FROM transaction_stream WHERE is_high_value"))
	})
}

func TestStore_MergeBatch_PersistsDerivedMetrics(t *testing.T) {
	store := openTestStore(t)
	db := store.DB()

	out := &transform.Output{
		Transactions: []transform.EnrichedTransaction{
			streamTxn("t-1", "u-1", "p-1", 100.00, record.StatusCompleted, mergeBase),
			streamTxn("t-2", "u-1", "p-1", 700.00, record.StatusCompleted, mergeBase.Add(time.Hour)),
		},
		UserMetrics: []transform.UserMetrics{{
			UserID:                 "u-1",
			Email:                  "ada@example.com",
			Country:                "US",
			CustomerTier:           "premium",
			TotalSpent:             decimal.NewFromFloat(800.00),
			TotalOrders:            2,
			AverageOrderValue:      decimal.NewFromFloat(400.00),
			DaysSinceLastOrder:     3,
			CustomerLifetimeValue:  decimal.NewFromFloat(4866.6667),
			ChurnRiskScore:         0.15,
			PreferredPaymentMethod: "credit_card",
			PreferredCategory:      "electronics",
			IsHighValueCustomer:    false,
		}},
		ProductMetrics: []transform.ProductMetrics{{
			ProductID:              "p-1",
			Name:                   "Mechanical Keyboard",
			Category:               "electronics",
			BasePriceUSD:           decimal.NewFromFloat(40.00),
			TotalRevenue:           decimal.NewFromFloat(800.00),
			TotalOrders:            2,
			UniqueCustomers:        1,
			AverageOrderValue:      decimal.NewFromFloat(400.00),
			InventoryCount:         20,
			InventoryTurnoverRatio: 0.1,
			PerformanceTier:        "high",
		}},
	}

	_, err := store.MergeBatch(context.Background(), out)
	require.NoError(t, err)

	t.Run("user derivations land in user_analytics", func(t *testing.T) {
		var email, payment, category string
		var clv, churn float64
		var days, totalOrders int
		require.NoError(t, db.QueryRow(
			`SELECT email, preferred_payment_method, preferred_category,
				customer_lifetime_value_usd, churn_risk_score,
				days_since_last_order, total_orders
			FROM user_analytics WHERE user_id = 'u-1'`).
			Scan(&email, &payment, &category, &clv, &churn, &days, &totalOrders))

		assert.Equal(t, "ada@example.com", email)
		assert.Equal(t, "credit_card", payment)
		assert.Equal(t, "electronics", category)
		assert.InDelta(t, 4866.6667, clv, 0.001)
		assert.InDelta(t, 0.15, churn, 0.001)
		assert.Equal(t, 3, days)
		assert.Equal(t, 2, totalOrders)

		spent := queryFloat(t, db,
			"SELECT total_spent_usd FROM user_analytics WHERE user_id = 'u-1'")
		assert.InDelta(t, 800.00, spent, 0.001)
	})

	t.Run("product derivations land in product_performance", func(t *testing.T) {
		var tier string
		var basePrice, turnover float64
		var inventory int
		require.NoError(t, db.QueryRow(
			`SELECT performance_tier, base_price_usd, inventory_turnover_ratio, inventory_count
			FROM product_performance WHERE product_id = 'p-1'`).
			Scan(&tier, &basePrice, &turnover, &inventory))

		assert.Equal(t, "high", tier)
		assert.InDelta(t, 40.00, basePrice, 0.001)
		assert.InDelta(t, 0.1, turnover, 0.001)
		assert.Equal(t, 20, inventory)
	})

	t.Run("entities without a metrics row get NULL derivations", func(t *testing.T) {
		ghost := streamTxn("t-9", "u-ghost", "p-ghost", 10.00, record.StatusCompleted, mergeBase.AddDate(0, 0, 2))
		_, err := store.MergeBatch(context.Background(), &transform.Output{
			Transactions: []transform.EnrichedTransaction{ghost},
		})
		require.NoError(t, err)

		assert.Equal(t, 1, queryCount(t, db,
			"SELECT COUNT(*) FROM user_analytics WHERE user_id = 'u-ghost' AND preferred_payment_method IS NULL"))
		assert.Equal(t, 1, queryCount(t, db,
			"SELECT COUNT(*) FROM product_performance WHERE product_id = 'p-ghost' AND performance_tier IS NULL"))
	})
}

func TestStore_MergeBatch_ReplayIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	db := store.DB()

	batch := func() *transform.Output {
		return &transform.Output{Transactions: []transform.EnrichedTransaction{
			streamTxn("t-1", "u-1", "p-1", 100.00, record.StatusCompleted, mergeBase),
			streamTxn("t-2", "u-2", "p-2", 40.00, record.StatusPending, mergeBase.Add(time.Hour)),
		}}
	}

	first, err := store.MergeBatch(context.Background(), batch())
	require.NoError(t, err)

	snapshotStream := func() []string {
		rows, err := db.Query(
			"SELECT transaction_id || '|' || status || '|' || CAST(amount_usd AS VARCHAR) FROM transaction_stream ORDER BY transaction_id")
		require.NoError(t, err)
		defer rows.Close()
		var out []string
		for rows.Next() {
			var s string
			require.NoError(t, rows.Scan(&s))
			out = append(out, s)
		}
		require.NoError(t, rows.Err())
		return out
	}

	before := snapshotStream()

	second, err := store.MergeBatch(context.Background(), batch())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, snapshotStream())
	assert.Equal(t, 2, queryCount(t, db, "SELECT COUNT(*) FROM transaction_stream"))
	assert.Equal(t, 1, queryCount(t, db, "SELECT COUNT(*) FROM financial_reports"))
	assert.Equal(t, 2, queryCount(t, db, "SELECT COUNT(*) FROM user_analytics"))
}

func TestStore_MergeBatch_PartitionReplaceKeepsOtherDates(t *testing.T) {
	store := openTestStore(t)
	db := store.DB()

	day1 := streamTxn("t-1", "u-1", "p-1", 100.00, record.StatusCompleted, mergeBase)
	day2 := streamTxn("t-2", "u-2", "p-2", 60.00, record.StatusCompleted, mergeBase.AddDate(0, 0, 1))

	_, err := store.MergeBatch(context.Background(), &transform.Output{
		Transactions: []transform.EnrichedTransaction{day1, day2},
	})
	require.NoError(t, err)

	// Re-merge only day one with a corrected amount.
	corrected := streamTxn("t-1", "u-1", "p-1", 120.00, record.StatusCompleted, mergeBase)
	_, err = store.MergeBatch(context.Background(), &transform.Output{
		Transactions: []transform.EnrichedTransaction{corrected},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, queryCount(t, db, "SELECT COUNT(*) FROM transaction_stream"))
	updated := queryFloat(t, db,
		"SELECT amount_usd FROM transaction_stream WHERE transaction_id = 't-1'")
	assert.InDelta(t, 120.00, updated, 0.001)
	untouched := queryFloat(t, db,
		"SELECT amount_usd FROM transaction_stream WHERE transaction_id = 't-2'")
	assert.InDelta(t, 60.00, untouched, 0.001)
}

func TestStore_MergeBatch_EmptyBatch(t *testing.T) {
	store := openTestStore(t)

	result, err := store.MergeBatch(context.Background(), &transform.Output{})
	require.NoError(t, err)
	assert.Equal(t, MergeResult{}, result)
}

func TestStore_MergeBatch_NullReferencesAllowed(t *testing.T) {
	store := openTestStore(t)

	orphan := streamTxn("t-1", "u-ghost", "p-ghost", 30.00, record.StatusCompleted, mergeBase)
	orphan.UserCountry = nil
	orphan.UserTier = nil
	orphan.ProductName = nil
	orphan.ProductCategory = nil
	orphan.ConsistencyIncomplete = true

	_, err := store.MergeBatch(context.Background(), &transform.Output{
		Transactions: []transform.EnrichedTransaction{orphan},
	})
	require.NoError(t, err)

	db := store.DB()
	assert.Equal(t, 1, queryCount(t, db,
		"SELECT COUNT(*) FROM transaction_stream WHERE user_tier IS NULL AND consistency_incomplete"))
	assert.Equal(t, 1, queryCount(t, db,
		"SELECT COUNT(*) FROM daily_sales_summary WHERE category = 'unknown'"))
}
