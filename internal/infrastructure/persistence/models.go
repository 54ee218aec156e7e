package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/techmart/pipeline/internal/application/transform"
	"github.com/techmart/pipeline/internal/domain/quality"
	"github.com/techmart/pipeline/internal/domain/record"
	"github.com/techmart/pipeline/internal/domain/run"
)

// UserModel is the GORM model for user profile rows.
type UserModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID           string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Email            string    `gorm:"type:varchar(255);not null"`
	Country          string    `gorm:"type:char(2);not null"`
	AgeGroup         string    `gorm:"type:varchar(16);not null"`
	CustomerTier     string    `gorm:"type:varchar(16);not null"`
	RegistrationDate time.Time `gorm:"type:date"`
	IsActive         bool      `gorm:"not null;default:true"`
	AsOf             time.Time `gorm:"not null;index"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string { return "users" }

// UserModelFromProfile creates a model from a domain user profile.
func UserModelFromProfile(u *record.UserProfile) *UserModel {
	return &UserModel{
		ID:               uuid.New(),
		UserID:           u.UserID,
		Email:            u.Email,
		Country:          u.Country,
		AgeGroup:         string(u.AgeGroup),
		CustomerTier:     string(u.CustomerTier),
		RegistrationDate: u.RegistrationDate,
		IsActive:         u.IsActive,
		AsOf:             u.AsOf,
	}
}

// SupplierModel is the GORM model for supplier rows derived from the catalog.
type SupplierModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	SupplierID string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (SupplierModel) TableName() string { return "suppliers" }

// CategoryModel is the GORM model for product category rows.
type CategoryModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:varchar(100);uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (CategoryModel) TableName() string { return "categories" }

// ProductModel is the GORM model for product catalog rows.
type ProductModel struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ProductID       string          `gorm:"type:varchar(64);uniqueIndex;not null"`
	Name            string          `gorm:"type:varchar(255);not null"`
	Category        string          `gorm:"type:varchar(100);not null;index"`
	SupplierID      string          `gorm:"type:varchar(64);index"`
	BasePrice       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency        string          `gorm:"type:char(3);not null"`
	InventoryCount  int             `gorm:"not null;default:0"`
	InventoryStatus string          `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time       `gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime"`
}

func (ProductModel) TableName() string { return "products" }

// ProductModelFromDomain creates a model from a domain product.
func ProductModelFromDomain(p *record.Product) *ProductModel {
	return &ProductModel{
		ID:              uuid.New(),
		ProductID:       p.ProductID,
		Name:            p.Name,
		Category:        p.Category,
		SupplierID:      p.SupplierID,
		BasePrice:       p.BasePrice,
		Currency:        p.Currency,
		InventoryCount:  p.InventoryCount,
		InventoryStatus: p.InventoryStatus(),
	}
}

// TransactionModel is the GORM model for enriched transaction rows.
type TransactionModel struct {
	ID                    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TransactionID         string          `gorm:"type:varchar(64);uniqueIndex;not null"`
	UserID                string          `gorm:"type:varchar(64);not null;index"`
	ProductID             string          `gorm:"type:varchar(64);not null;index"`
	Amount                decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Currency              string          `gorm:"type:char(3);not null"`
	AmountUSD             decimal.Decimal `gorm:"column:amount_usd;type:decimal(18,4);not null"`
	Status                string          `gorm:"type:varchar(16);not null;index"`
	PaymentMethod         string          `gorm:"type:varchar(32);not null"`
	TransactionTimestamp  time.Time       `gorm:"not null;index"`
	TransactionDate       time.Time       `gorm:"type:date;not null;index"`
	IsHighValue           bool            `gorm:"not null;default:false"`
	IsInternational       bool            `gorm:"not null;default:false"`
	PaymentMethodRisk     string          `gorm:"type:varchar(16);not null"`
	TransactionRisk       string          `gorm:"type:varchar(16);not null"`
	ProcessingPriority    string          `gorm:"type:varchar(16);not null"`
	FlaggedOutlier        bool            `gorm:"not null;default:false"`
	ConsistencyIncomplete bool            `gorm:"not null;default:false"`
	CreatedAt             time.Time       `gorm:"autoCreateTime"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime"`
}

func (TransactionModel) TableName() string { return "transactions" }

// TransactionModelFromEnriched creates a model from an enriched transaction.
func TransactionModelFromEnriched(t *transform.EnrichedTransaction) *TransactionModel {
	return &TransactionModel{
		ID:                    uuid.New(),
		TransactionID:         t.TransactionID,
		UserID:                t.UserID,
		ProductID:             t.ProductID,
		Amount:                t.Amount,
		Currency:              t.Currency,
		AmountUSD:             t.AmountUSD,
		Status:                string(t.Status),
		PaymentMethod:         string(t.PaymentMethod),
		TransactionTimestamp:  t.TransactionTimestamp,
		TransactionDate:       t.TransactionDate,
		IsHighValue:           t.IsHighValue,
		IsInternational:       t.IsInternational,
		PaymentMethodRisk:     t.PaymentMethodRisk,
		TransactionRisk:       t.TransactionRisk,
		ProcessingPriority:    t.ProcessingPriority,
		FlaggedOutlier:        t.FlaggedOutlier,
		ConsistencyIncomplete: t.ConsistencyIncomplete,
	}
}

// assign copies the mutable columns from an incoming row onto an existing one,
// preserving the surrogate key and created_at of the stored row.
func (m *TransactionModel) assign(in *TransactionModel) {
	m.UserID = in.UserID
	m.ProductID = in.ProductID
	m.Amount = in.Amount
	m.Currency = in.Currency
	m.AmountUSD = in.AmountUSD
	m.Status = in.Status
	m.PaymentMethod = in.PaymentMethod
	m.TransactionTimestamp = in.TransactionTimestamp
	m.TransactionDate = in.TransactionDate
	m.IsHighValue = in.IsHighValue
	m.IsInternational = in.IsInternational
	m.PaymentMethodRisk = in.PaymentMethodRisk
	m.TransactionRisk = in.TransactionRisk
	m.ProcessingPriority = in.ProcessingPriority
	m.FlaggedOutlier = in.FlaggedOutlier
	m.ConsistencyIncomplete = in.ConsistencyIncomplete
}

// equivalent reports whether an incoming row carries the same business state
// as the stored one, so a replayed batch produces no writes and no audit rows.
func (m *TransactionModel) equivalent(in *TransactionModel) bool {
	return m.Status == in.Status &&
		m.TransactionTimestamp.Equal(in.TransactionTimestamp) &&
		m.Amount.Equal(in.Amount) &&
		m.AmountUSD.Equal(in.AmountUSD) &&
		m.Currency == in.Currency &&
		m.PaymentMethod == in.PaymentMethod &&
		m.UserID == in.UserID &&
		m.ProductID == in.ProductID &&
		m.FlaggedOutlier == in.FlaggedOutlier &&
		m.ConsistencyIncomplete == in.ConsistencyIncomplete
}

// domainView reconstructs the domain transaction fields needed for
// supersession checks against an incoming record.
func (m *TransactionModel) domainView() *record.Transaction {
	return &record.Transaction{
		TransactionID:        m.TransactionID,
		UserID:               m.UserID,
		ProductID:            m.ProductID,
		Amount:               m.Amount,
		Currency:             m.Currency,
		Status:               record.TransactionStatus(m.Status),
		PaymentMethod:        record.PaymentMethod(m.PaymentMethod),
		TransactionTimestamp: m.TransactionTimestamp,
	}
}

// AuditLogModel is the GORM model for load audit entries.
// Audit logs are append-only and should not be modified after creation.
type AuditLogModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID      uuid.UUID `gorm:"type:uuid;not null;index"`
	EntityType string    `gorm:"type:varchar(32);not null;index"`
	EntityKey  string    `gorm:"type:varchar(64);not null;index"`
	Action     string    `gorm:"type:varchar(16);not null"`
	OldValues  string    `gorm:"column:old_values;type:jsonb"`
	NewValues  string    `gorm:"column:new_values;type:jsonb"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (AuditLogModel) TableName() string { return "audit_logs" }

// PipelineRunModel is the GORM model for the run ledger.
type PipelineRunModel struct {
	RunID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	PipelineName     string     `gorm:"type:varchar(100);not null;index"`
	Status           string     `gorm:"type:varchar(16);not null;index"`
	Phase            string     `gorm:"type:varchar(32);not null"`
	StartTime        time.Time  `gorm:"not null;index"`
	EndTime          *time.Time `gorm:""`
	RecordsExtracted int64      `gorm:"not null;default:0"`
	RecordsProcessed int64      `gorm:"not null;default:0"`
	RecordsFailed    int64      `gorm:"not null;default:0"`
	QualityScore     float64    `gorm:"not null;default:0"`
	ErrorMessage     string     `gorm:"type:text"`
	CreatedAt        time.Time  `gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime"`
}

func (PipelineRunModel) TableName() string { return "pipeline_runs" }

// ToEntity converts the model to a domain pipeline run.
func (m *PipelineRunModel) ToEntity() *run.PipelineRun {
	return &run.PipelineRun{
		PipelineName:     m.PipelineName,
		RunID:            m.RunID,
		StartTime:        m.StartTime,
		EndTime:          m.EndTime,
		Status:           run.Status(m.Status),
		Phase:            run.Phase(m.Phase),
		RecordsExtracted: m.RecordsExtracted,
		RecordsProcessed: m.RecordsProcessed,
		RecordsFailed:    m.RecordsFailed,
		QualityScore:     m.QualityScore,
		ErrorMessage:     m.ErrorMessage,
	}
}

// PipelineRunModelFromEntity creates a model from a domain pipeline run.
func PipelineRunModelFromEntity(r *run.PipelineRun) *PipelineRunModel {
	return &PipelineRunModel{
		RunID:            r.RunID,
		PipelineName:     r.PipelineName,
		Status:           string(r.Status),
		Phase:            string(r.Phase),
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		RecordsExtracted: r.RecordsExtracted,
		RecordsProcessed: r.RecordsProcessed,
		RecordsFailed:    r.RecordsFailed,
		QualityScore:     r.QualityScore,
		ErrorMessage:     r.ErrorMessage,
	}
}

// DataQualityMetricModel is the GORM model for persisted quality reports.
type DataQualityMetricModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID        uuid.UUID `gorm:"type:uuid;not null;index"`
	SubjectTable string    `gorm:"type:varchar(64);not null;index"`
	CheckDate    time.Time `gorm:"type:date;not null"`
	CheckType    string    `gorm:"type:varchar(32);not null"`
	MetricName   string    `gorm:"type:varchar(64);not null"`
	MetricValue  float64   `gorm:"not null"`
	Threshold    float64   `gorm:"not null"`
	Status       string    `gorm:"type:varchar(8);not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (DataQualityMetricModel) TableName() string { return "data_quality_metrics" }

// DataQualityMetricModelFromReport creates a model row from a quality report.
func DataQualityMetricModelFromReport(runID uuid.UUID, r quality.Report) *DataQualityMetricModel {
	return &DataQualityMetricModel{
		ID:           uuid.New(),
		RunID:        runID,
		SubjectTable: r.SubjectTable,
		CheckDate:    r.CheckDate,
		CheckType:    string(r.CheckType),
		MetricName:   r.MetricName,
		MetricValue:  r.MetricValue,
		Threshold:    r.Threshold,
		Status:       string(r.Status),
	}
}

// Migrate creates all transactional store tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&SupplierModel{},
		&CategoryModel{},
		&ProductModel{},
		&TransactionModel{},
		&AuditLogModel{},
		&PipelineRunModel{},
		&DataQualityMetricModel{},
	)
}
