package transform

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techmart/pipeline/internal/domain/record"
)

var highValueCustomerThreshold = decimal.NewFromInt(1000)

// deriveUserMetrics recomputes the per-user analytics from the enriched
// batch. Only settled revenue counts: failed and cancelled transactions are
// excluded from spend totals but still count arrival cadence.
func deriveUserMetrics(txns []EnrichedTransaction, snap *Snapshot, now time.Time) []UserMetrics {
	type accum struct {
		spent          decimal.Decimal
		orders         int64
		lastOrder      time.Time
		firstOrder     time.Time
		paymentMethods map[string]int
		categories     map[string]int
	}

	byUser := make(map[string]*accum)
	order := make([]string, 0)

	for i := range txns {
		txn := &txns[i]
		a, ok := byUser[txn.UserID]
		if !ok {
			a = &accum{
				spent:          decimal.Zero,
				paymentMethods: make(map[string]int),
				categories:     make(map[string]int),
				firstOrder:     txn.TransactionTimestamp,
			}
			byUser[txn.UserID] = a
			order = append(order, txn.UserID)
		}

		if countsAsRevenue(txn.Status) {
			a.spent = a.spent.Add(txn.AmountUSD)
		}
		a.orders++
		a.paymentMethods[string(txn.PaymentMethod)]++
		if txn.ProductCategory != nil {
			a.categories[*txn.ProductCategory]++
		} else {
			a.categories[record.UnknownCategory]++
		}
		if txn.TransactionTimestamp.After(a.lastOrder) {
			a.lastOrder = txn.TransactionTimestamp
		}
		if txn.TransactionTimestamp.Before(a.firstOrder) {
			a.firstOrder = txn.TransactionTimestamp
		}
	}

	metrics := make([]UserMetrics, 0, len(order))
	for _, userID := range order {
		a := byUser[userID]

		m := UserMetrics{
			UserID:                 userID,
			TotalSpent:             a.spent,
			TotalOrders:            a.orders,
			LastOrderDate:          a.lastOrder,
			PreferredPaymentMethod: mode(a.paymentMethods),
			PreferredCategory:      mode(a.categories),
			IsHighValueCustomer:    a.spent.GreaterThan(highValueCustomerThreshold),
		}
		if a.orders > 0 {
			m.AverageOrderValue = a.spent.Div(decimal.NewFromInt(a.orders)).Round(4)
		}
		m.DaysSinceLastOrder = int(now.Sub(a.lastOrder).Hours() / 24)
		if m.DaysSinceLastOrder < 0 {
			m.DaysSinceLastOrder = 0
		}

		accountAgeDays := 0
		if user, ok := snap.User(userID); ok {
			m.Email = user.Email
			m.Country = user.Country
			m.CustomerTier = string(user.CustomerTier)
			if !user.RegistrationDate.IsZero() {
				accountAgeDays = int(now.Sub(user.RegistrationDate).Hours() / 24)
			}
		} else {
			m.CustomerTier = string(record.TierStandard)
		}

		m.CustomerLifetimeValue = lifetimeValue(a.spent, accountAgeDays)
		m.ChurnRiskScore = churnRisk(m.DaysSinceLastOrder, accountAgeDays, a.orders)
		metrics = append(metrics, m)
	}
	return metrics
}

// lifetimeValue extrapolates observed spend over the account age to an
// annualized figure. Accounts younger than a day are treated as one day old
// so a first-day purchase does not explode the projection.
func lifetimeValue(spent decimal.Decimal, accountAgeDays int) decimal.Decimal {
	if spent.IsZero() {
		return decimal.Zero
	}
	if accountAgeDays < 1 {
		accountAgeDays = 1
	}
	perDay := spent.Div(decimal.NewFromInt(int64(accountAgeDays)))
	return perDay.Mul(decimal.NewFromInt(365)).Round(4)
}

// churnRisk grows as the gap since the last order stretches past the user's
// historical cadence. 0 means just ordered, 1 means fully lapsed.
func churnRisk(daysSinceLast, accountAgeDays int, orders int64) float64 {
	if orders == 0 {
		return 1.0
	}
	cadence := float64(accountAgeDays) / float64(orders)
	if cadence < 1 {
		cadence = 1
	}
	risk := float64(daysSinceLast) / (2 * cadence)
	if risk > 1 {
		return 1.0
	}
	if risk < 0 {
		return 0.0
	}
	return risk
}

// deriveProductMetrics recomputes the per-product analytics, including the
// revenue-percentile performance tier within each category.
func deriveProductMetrics(txns []EnrichedTransaction, snap *Snapshot) []ProductMetrics {
	type accum struct {
		revenue   decimal.Decimal
		orders    int64
		customers map[string]struct{}
	}

	byProduct := make(map[string]*accum)
	order := make([]string, 0)

	for i := range txns {
		txn := &txns[i]
		a, ok := byProduct[txn.ProductID]
		if !ok {
			a = &accum{revenue: decimal.Zero, customers: make(map[string]struct{})}
			byProduct[txn.ProductID] = a
			order = append(order, txn.ProductID)
		}
		if countsAsRevenue(txn.Status) {
			a.revenue = a.revenue.Add(txn.AmountUSD)
		}
		a.orders++
		a.customers[txn.UserID] = struct{}{}
	}

	metrics := make([]ProductMetrics, 0, len(order))
	for _, productID := range order {
		a := byProduct[productID]
		m := ProductMetrics{
			ProductID:       productID,
			Category:        record.UnknownCategory,
			TotalRevenue:    a.revenue,
			TotalOrders:     a.orders,
			UniqueCustomers: len(a.customers),
		}
		if a.orders > 0 {
			m.AverageOrderValue = a.revenue.Div(decimal.NewFromInt(a.orders)).Round(4)
		}

		if product, ok := snap.Product(productID); ok {
			m.Name = product.Name
			if product.Category != "" {
				m.Category = product.Category
			}
			m.BasePriceUSD = toUSD(product.BasePrice, product.Currency)
			m.InventoryCount = product.InventoryCount
			m.InventoryTurnoverRatio = turnoverRatio(a.orders, product.InventoryCount)
		}
		metrics = append(metrics, m)
	}

	assignPerformanceTiers(metrics)
	return metrics
}

// turnoverRatio approximates stock turnover as orders against inventory on
// hand. Zero inventory with sales means everything moved.
func turnoverRatio(orders int64, inventory int) float64 {
	if inventory <= 0 {
		if orders > 0 {
			return float64(orders)
		}
		return 0
	}
	return float64(orders) / float64(inventory)
}

// assignPerformanceTiers ranks products by revenue within their category:
// the top quartile is "high", the middle half "medium", the rest "low".
func assignPerformanceTiers(metrics []ProductMetrics) {
	byCategory := make(map[string][]int)
	for i := range metrics {
		byCategory[metrics[i].Category] = append(byCategory[metrics[i].Category], i)
	}

	for _, indices := range byCategory {
		sort.Slice(indices, func(a, b int) bool {
			return metrics[indices[a]].TotalRevenue.GreaterThan(metrics[indices[b]].TotalRevenue)
		})
		n := len(indices)
		for rank, idx := range indices {
			percentile := float64(rank) / float64(n)
			switch {
			case percentile < 0.25:
				metrics[idx].PerformanceTier = "high"
			case percentile < 0.75:
				metrics[idx].PerformanceTier = "medium"
			default:
				metrics[idx].PerformanceTier = "low"
			}
		}
	}
}

// mode returns the most frequent key, ties resolved lexicographically so
// the result is deterministic.
func mode(counts map[string]int) string {
	best := ""
	bestCount := -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best = k
			bestCount = c
		}
	}
	return best
}

func countsAsRevenue(status record.TransactionStatus) bool {
	return status == record.StatusCompleted || status == record.StatusPending
}
