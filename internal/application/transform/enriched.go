package transform

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/techmart/pipeline/internal/domain/record"
)

// EnrichedTransaction is a transaction joined with its user and product
// reference data plus derived business fields. Denormalized fields are
// pointers: a missing reference loads as NULL with ConsistencyIncomplete
// set, rather than dropping the financial record.
type EnrichedTransaction struct {
	record.Transaction

	AmountUSD          decimal.Decimal
	IsHighValue        bool
	IsInternational    bool
	PaymentMethodRisk  string
	TransactionRisk    string
	ProcessingPriority string

	TransactionDate time.Time
	TransactionHour int
	DayOfWeek       string

	UserCountry  *string
	UserTier     *string
	UserAgeGroup *string

	ProductName      *string
	ProductCategory  *string
	ProductSupplier  *string
	ProductBasePrice *decimal.Decimal

	ProfitMarginEstimate  float64
	FlaggedOutlier        bool
	ConsistencyIncomplete bool
}

// UserMetrics are the per-user business derivations, recomputed from the
// batch's enriched transactions rather than incrementally mutated.
type UserMetrics struct {
	UserID                 string
	Email                  string
	Country                string
	CustomerTier           string
	TotalSpent             decimal.Decimal
	TotalOrders            int64
	AverageOrderValue      decimal.Decimal
	LastOrderDate          time.Time
	DaysSinceLastOrder     int
	CustomerLifetimeValue  decimal.Decimal
	ChurnRiskScore         float64
	PreferredPaymentMethod string
	PreferredCategory      string
	IsHighValueCustomer    bool
}

// ProductMetrics are the per-product business derivations.
type ProductMetrics struct {
	ProductID              string
	Name                   string
	Category               string
	BasePriceUSD           decimal.Decimal
	TotalRevenue           decimal.Decimal
	TotalOrders            int64
	UniqueCustomers        int
	AverageOrderValue      decimal.Decimal
	InventoryCount         int
	InventoryTurnoverRatio float64
	PerformanceTier        string
}

// Output is one transform pass over a batch: cleaned and enriched
// transactions, the normalized reference entities, and the recomputed
// per-entity derivations.
type Output struct {
	Canonical      []record.CanonicalRecord
	Transactions   []EnrichedTransaction
	Users          []record.UserProfile
	Products       []record.Product
	UserMetrics    []UserMetrics
	ProductMetrics []ProductMetrics
}
