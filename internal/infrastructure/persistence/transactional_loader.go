package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/techmart/pipeline/internal/application/transform"
	"github.com/techmart/pipeline/internal/domain/record"
	"github.com/techmart/pipeline/internal/domain/shared"
)

// ReferencePolicy controls how the loader treats transactions whose user or
// product reference could not be resolved.
type ReferencePolicy string

const (
	// RejectDangling drops unresolved transactions and counts them as failed.
	RejectDangling ReferencePolicy = "reject_dangling"
	// FlagIncomplete loads unresolved transactions with the incomplete marker set.
	FlagIncomplete ReferencePolicy = "flag_incomplete"
)

const (
	auditActionInsert = "insert"
	auditActionUpdate = "update"

	entityTransaction = "transaction"
	entityUser        = "user"
	entityProduct     = "product"
)

// maxConflictRetries bounds re-execution of the load transaction when the
// database reports a serialization failure or a duplicate-key race.
const maxConflictRetries = 3

// LoadResult summarizes what a single Load call changed.
type LoadResult struct {
	UsersUpserted    int
	ProductsUpserted int
	Inserted         int
	Updated          int
	SkippedStale     int
	SkippedUnchanged int
	Rejected         int
	AuditEntries     int
}

// TransactionalLoader writes the transformed batch into the operational store.
// Every Load call is a single database transaction: dimensions first, then
// facts, then their audit entries. Replaying the same batch is a no-op.
type TransactionalLoader struct {
	db     *gorm.DB
	policy ReferencePolicy
	logger *zap.Logger
}

// NewTransactionalLoader creates a loader with the given reference policy.
func NewTransactionalLoader(db *gorm.DB, policy ReferencePolicy, logger *zap.Logger) *TransactionalLoader {
	if policy == "" {
		policy = RejectDangling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionalLoader{db: db, policy: policy, logger: logger}
}

// Load upserts the batch into users, suppliers, categories, products and
// transactions, emitting one audit row per effective mutation. Stale
// duplicates never displace a newer stored row, and terminal statuses are
// never regressed.
func (l *TransactionalLoader) Load(ctx context.Context, runID uuid.UUID, out *transform.Output) (LoadResult, error) {
	var result LoadResult
	var err error
	for attempt := 0; ; attempt++ {
		result = LoadResult{}
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := l.loadUsers(ctx, tx, runID, out.Users, &result); err != nil {
				return err
			}
			if err := l.loadProducts(ctx, tx, runID, out.Products, &result); err != nil {
				return err
			}
			return l.loadTransactions(ctx, tx, runID, out.Transactions, &result)
		})
		if err == nil {
			break
		}
		if !isRetryableConflict(err) {
			return LoadResult{}, fmt.Errorf("transactional load: %w", err)
		}
		if attempt+1 >= maxConflictRetries {
			return LoadResult{}, fmt.Errorf("%w: %v", shared.ErrLoadConflict, err)
		}
		l.logger.Warn("load conflict, retrying transaction",
			zap.String("run_id", runID.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	l.logger.Info("transactional load committed",
		zap.String("run_id", runID.String()),
		zap.Int("users_upserted", result.UsersUpserted),
		zap.Int("products_upserted", result.ProductsUpserted),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("skipped_stale", result.SkippedStale),
		zap.Int("skipped_unchanged", result.SkippedUnchanged),
		zap.Int("rejected", result.Rejected),
		zap.Int("audit_entries", result.AuditEntries))
	return result, nil
}

func (l *TransactionalLoader) loadUsers(ctx context.Context, tx *gorm.DB, runID uuid.UUID, users []record.UserProfile, result *LoadResult) error {
	for i := range users {
		u := &users[i]
		incoming := UserModelFromProfile(u)

		var existing UserModel
		err := tx.WithContext(ctx).Where("user_id = ?", u.UserID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.WithContext(ctx).Create(incoming).Error; err != nil {
				return err
			}
			if err := l.audit(ctx, tx, runID, entityUser, u.UserID, auditActionInsert, nil, incoming, result); err != nil {
				return err
			}
			result.UsersUpserted++
		case err != nil:
			return err
		default:
			// An older roster snapshot never replaces the stored profile. A
			// same-day re-issued roster does: on equal as-of the later
			// ingestion wins, so a corrected batch lands while an identical
			// replay stays a no-op.
			if incoming.AsOf.Before(existing.AsOf) {
				continue
			}
			if userUnchanged(&existing, incoming) {
				continue
			}
			before := existing
			existing.Email = incoming.Email
			existing.Country = incoming.Country
			existing.AgeGroup = incoming.AgeGroup
			existing.CustomerTier = incoming.CustomerTier
			existing.RegistrationDate = incoming.RegistrationDate
			existing.IsActive = incoming.IsActive
			existing.AsOf = incoming.AsOf
			if err := tx.WithContext(ctx).Save(&existing).Error; err != nil {
				return err
			}
			if err := l.audit(ctx, tx, runID, entityUser, u.UserID, auditActionUpdate, &before, &existing, result); err != nil {
				return err
			}
			result.UsersUpserted++
		}
	}
	return nil
}

func (l *TransactionalLoader) loadProducts(ctx context.Context, tx *gorm.DB, runID uuid.UUID, products []record.Product, result *LoadResult) error {
	if err := l.upsertDimensions(ctx, tx, products); err != nil {
		return err
	}
	for i := range products {
		p := &products[i]
		incoming := ProductModelFromDomain(p)

		var existing ProductModel
		err := tx.WithContext(ctx).Where("product_id = ?", p.ProductID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.WithContext(ctx).Create(incoming).Error; err != nil {
				return err
			}
			if err := l.audit(ctx, tx, runID, entityProduct, p.ProductID, auditActionInsert, nil, incoming, result); err != nil {
				return err
			}
			result.ProductsUpserted++
		case err != nil:
			return err
		default:
			if productUnchanged(&existing, incoming) {
				continue
			}
			before := existing
			existing.Name = incoming.Name
			existing.Category = incoming.Category
			existing.SupplierID = incoming.SupplierID
			existing.BasePrice = incoming.BasePrice
			existing.Currency = incoming.Currency
			existing.InventoryCount = incoming.InventoryCount
			existing.InventoryStatus = incoming.InventoryStatus
			if err := tx.WithContext(ctx).Save(&existing).Error; err != nil {
				return err
			}
			if err := l.audit(ctx, tx, runID, entityProduct, p.ProductID, auditActionUpdate, &before, &existing, result); err != nil {
				return err
			}
			result.ProductsUpserted++
		}
	}
	return nil
}

// upsertDimensions materializes the distinct suppliers and categories the
// catalog batch references. Conflicts are expected across runs.
func (l *TransactionalLoader) upsertDimensions(ctx context.Context, tx *gorm.DB, products []record.Product) error {
	supplierSet := make(map[string]struct{})
	categorySet := make(map[string]struct{})
	for i := range products {
		p := &products[i]
		if p.SupplierID != "" {
			supplierSet[p.SupplierID] = struct{}{}
		}
		if p.Category != "" {
			categorySet[p.Category] = struct{}{}
		}
	}

	suppliers := make([]*SupplierModel, 0, len(supplierSet))
	for id := range supplierSet {
		suppliers = append(suppliers, &SupplierModel{ID: uuid.New(), SupplierID: id})
	}
	sort.Slice(suppliers, func(i, j int) bool { return suppliers[i].SupplierID < suppliers[j].SupplierID })
	if len(suppliers) > 0 {
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "supplier_id"}},
			DoNothing: true,
		}).Create(suppliers).Error; err != nil {
			return err
		}
	}

	categories := make([]*CategoryModel, 0, len(categorySet))
	for name := range categorySet {
		categories = append(categories, &CategoryModel{ID: uuid.New(), Name: name})
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	if len(categories) > 0 {
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(categories).Error; err != nil {
			return err
		}
	}
	return nil
}

func (l *TransactionalLoader) loadTransactions(ctx context.Context, tx *gorm.DB, runID uuid.UUID, txns []transform.EnrichedTransaction, result *LoadResult) error {
	for i := range txns {
		t := &txns[i]
		if t.ConsistencyIncomplete && l.policy == RejectDangling {
			result.Rejected++
			continue
		}
		incoming := TransactionModelFromEnriched(t)

		var existing TransactionModel
		err := tx.WithContext(ctx).Where("transaction_id = ?", t.TransactionID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.WithContext(ctx).Create(incoming).Error; err != nil {
				return err
			}
			if err := l.audit(ctx, tx, runID, entityTransaction, t.TransactionID, auditActionInsert, nil, incoming, result); err != nil {
				return err
			}
			result.Inserted++
		case err != nil:
			return err
		default:
			if existing.equivalent(incoming) {
				result.SkippedUnchanged++
				continue
			}
			if !t.Transaction.Supersedes(existing.domainView(), true) {
				result.SkippedStale++
				continue
			}
			before := existing
			existing.assign(incoming)
			if err := tx.WithContext(ctx).Save(&existing).Error; err != nil {
				return err
			}
			if err := l.audit(ctx, tx, runID, entityTransaction, t.TransactionID, auditActionUpdate, &before, &existing, result); err != nil {
				return err
			}
			result.Updated++
		}
	}
	return nil
}

func (l *TransactionalLoader) audit(ctx context.Context, tx *gorm.DB, runID uuid.UUID, entityType, entityKey, action string, before, after any, result *LoadResult) error {
	entry := &AuditLogModel{
		ID:         uuid.New(),
		RunID:      runID,
		EntityType: entityType,
		EntityKey:  entityKey,
		Action:     action,
	}
	if before != nil {
		if raw, err := json.Marshal(before); err == nil {
			entry.OldValues = string(raw)
		}
	}
	if after != nil {
		if raw, err := json.Marshal(after); err == nil {
			entry.NewValues = string(raw)
		}
	}
	entry.CreatedAt = time.Now().UTC()
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}
	result.AuditEntries++
	return nil
}

func userUnchanged(existing, incoming *UserModel) bool {
	return existing.Email == incoming.Email &&
		existing.Country == incoming.Country &&
		existing.AgeGroup == incoming.AgeGroup &&
		existing.CustomerTier == incoming.CustomerTier &&
		existing.RegistrationDate.Equal(incoming.RegistrationDate) &&
		existing.IsActive == incoming.IsActive &&
		existing.AsOf.Equal(incoming.AsOf)
}

func productUnchanged(existing, incoming *ProductModel) bool {
	return existing.Name == incoming.Name &&
		existing.Category == incoming.Category &&
		existing.SupplierID == incoming.SupplierID &&
		existing.BasePrice.Equal(incoming.BasePrice) &&
		existing.Currency == incoming.Currency &&
		existing.InventoryCount == incoming.InventoryCount
}

// isRetryableConflict matches serialization failures and duplicate-key races
// from concurrent writers. Anything else is a permanent load error.
func isRetryableConflict(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 40001") ||
		strings.Contains(msg, "SQLSTATE 40P01") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
