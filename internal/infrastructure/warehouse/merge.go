package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/techmart/pipeline/internal/application/transform"
)

// partitionedTables are the tables merged per transaction date. Each merge
// replaces the whole date partition, so a re-run of the same batch produces
// identical partitions.
var partitionedTables = []struct {
	name   string
	column string
}{
	{"transaction_stream", "transaction_date"},
	{"daily_sales_summary", "summary_date"},
	{"user_analytics", "summary_date"},
	{"product_performance", "summary_date"},
	{"financial_reports", "report_date"},
}

// MergeResult summarizes an analytical merge.
type MergeResult struct {
	Partitions  int
	StreamRows  int
	SummaryRows int
	UserRows    int
	ProductRows int
	ReportRows  int
}

// MergeBatch writes the enriched batch into the analytical store. Rows are
// grouped by transaction date and each date partition is deleted and
// rewritten inside one transaction.
func (s *Store) MergeBatch(ctx context.Context, out *transform.Output) (MergeResult, error) {
	byDate := make(map[string][]*transform.EnrichedTransaction)
	for i := range out.Transactions {
		t := &out.Transactions[i]
		key := t.TransactionDate.Format("2006-01-02")
		byDate[key] = append(byDate[key], t)
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	// The per-entity derivations are computed over the whole batch; each
	// date partition joins them onto the users and products it touches.
	metrics := batchMetrics{
		users:    make(map[string]*transform.UserMetrics, len(out.UserMetrics)),
		products: make(map[string]*transform.ProductMetrics, len(out.ProductMetrics)),
	}
	for i := range out.UserMetrics {
		metrics.users[out.UserMetrics[i].UserID] = &out.UserMetrics[i]
	}
	for i := range out.ProductMetrics {
		metrics.products[out.ProductMetrics[i].ProductID] = &out.ProductMetrics[i]
	}

	var result MergeResult
	for _, date := range dates {
		part, err := s.mergePartition(ctx, date, byDate[date], metrics)
		if err != nil {
			return MergeResult{}, fmt.Errorf("merge partition %s: %w", date, err)
		}
		result.Partitions++
		result.StreamRows += part.StreamRows
		result.SummaryRows += part.SummaryRows
		result.UserRows += part.UserRows
		result.ProductRows += part.ProductRows
		result.ReportRows += part.ReportRows
	}

	s.logger.Info("analytical merge committed",
		zap.Int("partitions", result.Partitions),
		zap.Int("stream_rows", result.StreamRows),
		zap.Int("summary_rows", result.SummaryRows),
		zap.Int("user_rows", result.UserRows),
		zap.Int("product_rows", result.ProductRows))
	return result, nil
}

// batchMetrics indexes the transform's per-entity derivations by natural key.
type batchMetrics struct {
	users    map[string]*transform.UserMetrics
	products map[string]*transform.ProductMetrics
}

func (s *Store) mergePartition(ctx context.Context, date string, txns []*transform.EnrichedTransaction, metrics batchMetrics) (MergeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MergeResult{}, err
	}
	defer tx.Rollback()

	for _, table := range partitionedTables {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table.name, table.column)
		if _, err := tx.ExecContext(ctx, stmt, date); err != nil {
			return MergeResult{}, fmt.Errorf("clear %s: %w", table.name, err)
		}
	}

	var result MergeResult
	if result.StreamRows, err = insertStream(ctx, tx, date, txns); err != nil {
		return MergeResult{}, err
	}
	if result.SummaryRows, err = insertDailySummary(ctx, tx, date, txns); err != nil {
		return MergeResult{}, err
	}
	if result.UserRows, err = insertUserAnalytics(ctx, tx, date, txns, metrics.users); err != nil {
		return MergeResult{}, err
	}
	if result.ProductRows, err = insertProductPerformance(ctx, tx, date, txns, metrics.products); err != nil {
		return MergeResult{}, err
	}
	if result.ReportRows, err = insertFinancialReport(ctx, tx, date, txns); err != nil {
		return MergeResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return MergeResult{}, err
	}
	return result, nil
}

func insertStream(ctx context.Context, tx *sql.Tx, date string, txns []*transform.EnrichedTransaction) (int, error) {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transaction_stream VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	sorted := make([]*transform.EnrichedTransaction, len(txns))
	copy(sorted, txns)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TransactionID < sorted[j].TransactionID })

	for _, t := range sorted {
		_, err := stmt.ExecContext(ctx,
			t.TransactionID,
			date,
			t.TransactionHour,
			t.DayOfWeek,
			t.UserID,
			t.ProductID,
			t.Amount.InexactFloat64(),
			t.Currency,
			t.AmountUSD.InexactFloat64(),
			string(t.Status),
			string(t.PaymentMethod),
			t.TransactionTimestamp.UTC(),
			t.IsHighValue,
			t.IsInternational,
			t.PaymentMethodRisk,
			t.TransactionRisk,
			t.ProcessingPriority,
			nullable(t.UserCountry),
			nullable(t.UserTier),
			nullable(t.UserAgeGroup),
			nullable(t.ProductName),
			nullable(t.ProductCategory),
			t.FlaggedOutlier,
			t.ConsistencyIncomplete,
		)
		if err != nil {
			return 0, fmt.Errorf("insert transaction_stream row %s: %w", t.TransactionID, err)
		}
	}
	return len(sorted), nil
}

type categoryAgg struct {
	total         int64
	completed     int64
	revenue       float64
	customers     map[string]struct{}
	highValue     int64
	international int64
}

func insertDailySummary(ctx context.Context, tx *sql.Tx, date string, txns []*transform.EnrichedTransaction) (int, error) {
	byCategory := make(map[string]*categoryAgg)
	for _, t := range txns {
		cat := categoryOf(t)
		agg := byCategory[cat]
		if agg == nil {
			agg = &categoryAgg{customers: make(map[string]struct{})}
			byCategory[cat] = agg
		}
		agg.total++
		agg.customers[t.UserID] = struct{}{}
		if t.IsHighValue {
			agg.highValue++
		}
		if t.IsInternational {
			agg.international++
		}
		if countsAsRevenue(t) {
			agg.completed++
			agg.revenue += t.AmountUSD.InexactFloat64()
		}
	}

	cats := sortedKeys(byCategory)
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_sales_summary VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, cat := range cats {
		agg := byCategory[cat]
		avg := 0.0
		if agg.completed > 0 {
			avg = agg.revenue / float64(agg.completed)
		}
		_, err := stmt.ExecContext(ctx, date, cat, agg.total, agg.completed, agg.revenue, avg,
			int64(len(agg.customers)), agg.highValue, agg.international)
		if err != nil {
			return 0, fmt.Errorf("insert daily_sales_summary row %s: %w", cat, err)
		}
	}
	return len(cats), nil
}

type userAgg struct {
	tier      *string
	country   *string
	orders    int64
	revenue   float64
	highValue int64
}

func insertUserAnalytics(ctx context.Context, tx *sql.Tx, date string, txns []*transform.EnrichedTransaction, userMetrics map[string]*transform.UserMetrics) (int, error) {
	byUser := make(map[string]*userAgg)
	for _, t := range txns {
		agg := byUser[t.UserID]
		if agg == nil {
			agg = &userAgg{}
			byUser[t.UserID] = agg
		}
		if agg.tier == nil {
			agg.tier = t.UserTier
		}
		if agg.country == nil {
			agg.country = t.UserCountry
		}
		agg.orders++
		if t.IsHighValue {
			agg.highValue++
		}
		if countsAsRevenue(t) {
			agg.revenue += t.AmountUSD.InexactFloat64()
		}
	}

	users := sortedKeys(byUser)
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO user_analytics VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, userID := range users {
		agg := byUser[userID]
		avg := 0.0
		if agg.orders > 0 {
			avg = agg.revenue / float64(agg.orders)
		}
		m := userMetrics[userID]
		if m == nil {
			m = &transform.UserMetrics{UserID: userID}
		}
		_, err := stmt.ExecContext(ctx, date, userID, nullable(agg.tier), nullable(agg.country),
			agg.orders, agg.revenue, avg, agg.highValue,
			emptyAsNull(m.Email),
			m.TotalSpent.InexactFloat64(),
			m.TotalOrders,
			m.DaysSinceLastOrder,
			m.CustomerLifetimeValue.InexactFloat64(),
			m.ChurnRiskScore,
			emptyAsNull(m.PreferredPaymentMethod),
			emptyAsNull(m.PreferredCategory),
			m.IsHighValueCustomer,
		)
		if err != nil {
			return 0, fmt.Errorf("insert user_analytics row %s: %w", userID, err)
		}
	}
	return len(users), nil
}

type productAgg struct {
	name      *string
	category  *string
	orders    int64
	revenue   float64
	customers map[string]struct{}
	outliers  int64
}

func insertProductPerformance(ctx context.Context, tx *sql.Tx, date string, txns []*transform.EnrichedTransaction, productMetrics map[string]*transform.ProductMetrics) (int, error) {
	byProduct := make(map[string]*productAgg)
	for _, t := range txns {
		agg := byProduct[t.ProductID]
		if agg == nil {
			agg = &productAgg{customers: make(map[string]struct{})}
			byProduct[t.ProductID] = agg
		}
		if agg.name == nil {
			agg.name = t.ProductName
		}
		if agg.category == nil {
			agg.category = t.ProductCategory
		}
		agg.orders++
		agg.customers[t.UserID] = struct{}{}
		if t.FlaggedOutlier {
			agg.outliers++
		}
		if countsAsRevenue(t) {
			agg.revenue += t.AmountUSD.InexactFloat64()
		}
	}

	products := sortedKeys(byProduct)
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO product_performance VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, productID := range products {
		agg := byProduct[productID]
		m := productMetrics[productID]
		if m == nil {
			m = &transform.ProductMetrics{ProductID: productID}
		}
		_, err := stmt.ExecContext(ctx, date, productID, nullable(agg.name), nullable(agg.category),
			agg.orders, agg.revenue, int64(len(agg.customers)), agg.outliers,
			m.BasePriceUSD.InexactFloat64(),
			m.InventoryCount,
			m.InventoryTurnoverRatio,
			emptyAsNull(m.PerformanceTier),
		)
		if err != nil {
			return 0, fmt.Errorf("insert product_performance row %s: %w", productID, err)
		}
	}
	return len(products), nil
}

func insertFinancialReport(ctx context.Context, tx *sql.Tx, date string, txns []*transform.EnrichedTransaction) (int, error) {
	var gross, refunded, pending, failed float64
	var completedCount, refundedCount, failedCount, cancelledCount int64
	for _, t := range txns {
		usd := t.AmountUSD.InexactFloat64()
		switch string(t.Status) {
		case "completed":
			gross += usd
			completedCount++
		case "refunded":
			refunded += usd
			refundedCount++
		case "pending":
			pending += usd
		case "failed":
			failed += usd
			failedCount++
		case "cancelled":
			cancelledCount++
		}
	}

	_, err := tx.ExecContext(ctx, `INSERT INTO financial_reports VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		date, gross, refunded, gross-refunded, pending, failed,
		completedCount, refundedCount, failedCount, cancelledCount)
	if err != nil {
		return 0, fmt.Errorf("insert financial_reports row: %w", err)
	}
	return 1, nil
}

// countsAsRevenue mirrors the revenue basis used by the per-user and
// per-product derivations: completed and pending amounts count, refunded,
// failed and cancelled ones do not.
func countsAsRevenue(t *transform.EnrichedTransaction) bool {
	switch string(t.Status) {
	case "completed", "pending":
		return true
	}
	return false
}

func categoryOf(t *transform.EnrichedTransaction) string {
	if t.ProductCategory != nil && *t.ProductCategory != "" {
		return *t.ProductCategory
	}
	return "unknown"
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func emptyAsNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func sortedKeys[V any](m map[string]*V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
