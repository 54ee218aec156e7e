package transform

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/techmart/pipeline/internal/domain/record"
)

// currencyRates converts supported currencies to USD. Fixed table; live FX
// is an upstream concern.
var currencyRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromFloat(1.0),
	"EUR": decimal.NewFromFloat(0.85),
	"GBP": decimal.NewFromFloat(0.73),
	"CAD": decimal.NewFromFloat(1.25),
}

// Transformer cleans, enriches and derives business metrics over a batch.
// All derivations are pure recomputations from the batch and the reference
// snapshot; nothing is incrementally mutated across runs.
type Transformer struct {
	logger *zap.Logger
	// outlierMultiple flags amounts beyond this multiple of the trailing
	// median. Flag, never drop.
	outlierMultiple decimal.Decimal
	// minOutlierSamples is how many prior amounts the trailing median needs
	// before outlier flagging starts.
	minOutlierSamples int
	now               func() time.Time
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithOutlierMultiple overrides the outlier threshold multiple.
func WithOutlierMultiple(multiple float64) Option {
	return func(t *Transformer) {
		t.outlierMultiple = decimal.NewFromFloat(multiple)
	}
}

// NewTransformer creates a transformer with production defaults.
func NewTransformer(logger *zap.Logger, opts ...Option) *Transformer {
	t := &Transformer{
		logger:            logger.Named("transform"),
		outlierMultiple:   decimal.NewFromInt(5),
		minOutlierSamples: 5,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform runs the full pass: dedup, enrichment joins against the
// snapshot, business-rule fields, outlier flagging, and the per-entity
// derivations.
func (t *Transformer) Transform(records []record.CanonicalRecord, snap *Snapshot) Output {
	survivors := t.dedup(records)

	// Chronological order so the trailing median is deterministic.
	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Transaction.TransactionTimestamp.Before(survivors[j].Transaction.TransactionTimestamp)
	})

	enriched := make([]EnrichedTransaction, 0, len(survivors))
	median := newRunningMedian()
	incomplete := 0

	for _, rec := range survivors {
		e := t.enrich(rec.Transaction, snap)

		if median.size() >= t.minOutlierSamples {
			limit := median.value().Mul(t.outlierMultiple)
			if e.AmountUSD.GreaterThan(limit) {
				e.FlaggedOutlier = true
			}
		}
		median.add(e.AmountUSD)

		if e.ConsistencyIncomplete {
			incomplete++
		}
		enriched = append(enriched, e)
	}

	out := Output{
		Canonical:      survivors,
		Transactions:   enriched,
		Users:          snap.Users(),
		Products:       snap.Products(),
		UserMetrics:    deriveUserMetrics(enriched, snap, t.now().UTC()),
		ProductMetrics: deriveProductMetrics(enriched, snap),
	}

	t.logger.Info("batch transformed",
		zap.Int("transactions", len(enriched)),
		zap.Int("consistency_incomplete", incomplete),
		zap.Int("users", len(out.Users)),
		zap.Int("products", len(out.Products)))
	return out
}

// dedup keeps one transaction per natural key using the duplicate
// resolution rule: latest transaction_timestamp wins, ties go to the later
// arrival, terminal statuses are never displaced.
func (t *Transformer) dedup(records []record.CanonicalRecord) []record.CanonicalRecord {
	latest := make(map[string]record.CanonicalRecord, len(records))
	order := make([]string, 0, len(records))

	for i := range records {
		txn := records[i].Transaction
		if records[i].Kind != record.KindTransaction || txn == nil {
			continue
		}
		if existing, ok := latest[txn.TransactionID]; ok {
			if txn.Supersedes(existing.Transaction, true) {
				latest[txn.TransactionID] = records[i]
			}
			continue
		}
		latest[txn.TransactionID] = records[i]
		order = append(order, txn.TransactionID)
	}

	out := make([]record.CanonicalRecord, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

// enrich joins one transaction with its references and computes the
// business-rule fields.
func (t *Transformer) enrich(txn *record.Transaction, snap *Snapshot) EnrichedTransaction {
	e := EnrichedTransaction{
		Transaction:     *txn,
		AmountUSD:       toUSD(txn.Amount, txn.Currency),
		IsHighValue:     false,
		IsInternational: txn.Currency != "USD",
	}
	e.IsHighValue = e.AmountUSD.GreaterThan(record.HighValueThreshold)

	ts := txn.TransactionTimestamp
	e.TransactionDate = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	e.TransactionHour = ts.Hour()
	e.DayOfWeek = ts.Weekday().String()

	tier := record.TierStandard
	if user, ok := snap.User(txn.UserID); ok {
		e.UserCountry = ptr(user.Country)
		e.UserTier = ptr(string(user.CustomerTier))
		e.UserAgeGroup = ptr(string(user.AgeGroup))
		tier = user.CustomerTier
	} else {
		e.ConsistencyIncomplete = true
	}

	if product, ok := snap.Product(txn.ProductID); ok {
		e.ProductName = ptr(product.Name)
		category := product.Category
		if category == "" {
			category = record.UnknownCategory
		}
		e.ProductCategory = ptr(category)
		e.ProductSupplier = ptr(product.SupplierID)
		basePriceUSD := toUSD(product.BasePrice, product.Currency)
		e.ProductBasePrice = &basePriceUSD

		if basePriceUSD.IsPositive() && e.AmountUSD.IsPositive() {
			margin, _ := e.AmountUSD.Sub(basePriceUSD).Div(e.AmountUSD).Float64()
			e.ProfitMarginEstimate = margin
		}
	} else {
		e.ConsistencyIncomplete = true
	}

	// High-value purchases outside the trusted payment rails carry risk.
	if e.IsHighValue && txn.PaymentMethod != record.PaymentCreditCard && txn.PaymentMethod != record.PaymentPaypal {
		e.PaymentMethodRisk = "high"
	} else {
		e.PaymentMethodRisk = "low"
	}
	if e.IsInternational {
		e.TransactionRisk = "medium"
	} else {
		e.TransactionRisk = "low"
	}

	switch tier {
	case record.TierVIP:
		e.ProcessingPriority = "high"
	case record.TierPremium:
		e.ProcessingPriority = "medium"
	default:
		e.ProcessingPriority = "standard"
	}

	return e
}

func toUSD(amount decimal.Decimal, currency string) decimal.Decimal {
	rate, ok := currencyRates[currency]
	if !ok || rate.IsZero() {
		return amount
	}
	return amount.Div(rate).Round(4)
}

func ptr(s string) *string {
	return &s
}

// runningMedian maintains a sorted slice of seen amounts for the trailing
// median. Batch sizes here are small enough that insertion sort beats heap
// bookkeeping.
type runningMedian struct {
	sorted []decimal.Decimal
}

func newRunningMedian() *runningMedian {
	return &runningMedian{}
}

func (m *runningMedian) add(v decimal.Decimal) {
	idx := sort.Search(len(m.sorted), func(i int) bool {
		return m.sorted[i].GreaterThanOrEqual(v)
	})
	m.sorted = append(m.sorted, decimal.Zero)
	copy(m.sorted[idx+1:], m.sorted[idx:])
	m.sorted[idx] = v
}

func (m *runningMedian) size() int {
	return len(m.sorted)
}

func (m *runningMedian) value() decimal.Decimal {
	n := len(m.sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 1 {
		return m.sorted[n/2]
	}
	return m.sorted[n/2-1].Add(m.sorted[n/2]).Div(decimal.NewFromInt(2))
}
