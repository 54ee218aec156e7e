package record

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/techmart/pipeline/internal/domain/shared"
)

// UnknownCategory is the explicit sentinel for missing categorical fields,
// kept instead of null so aggregation completeness is preserved.
const UnknownCategory = "unknown"

// Product is the canonical product payload from the catalog source.
// inventory_count is a running counter and may arrive out of order; the
// catalog fetch is all-or-nothing so a partial catalog is never treated as
// authoritative.
type Product struct {
	ProductID      string          `json:"product_id" validate:"required"`
	Name           string          `json:"name" validate:"required"`
	Category       string          `json:"category"`
	SupplierID     string          `json:"supplier_id"`
	BasePrice      decimal.Decimal `json:"base_price"`
	Currency       string          `json:"currency" validate:"omitempty,len=3,uppercase"`
	InventoryCount int             `json:"inventory_count" validate:"gte=0"`
}

// Validate applies structural and domain rules.
func (p *Product) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil product", shared.ErrValidationFailed)
	}
	if err := structValidator.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidationFailed, err)
	}
	if !p.BasePrice.IsPositive() {
		return fmt.Errorf("%w: base price %s must be positive", shared.ErrValidationFailed, p.BasePrice)
	}
	if p.Currency != "" && !ValidCurrencies[p.Currency] {
		return fmt.Errorf("%w: unsupported currency %q", shared.ErrValidationFailed, p.Currency)
	}
	return nil
}

// Normalize fills categorical defaults.
func (p *Product) Normalize() {
	if p.Category == "" {
		p.Category = UnknownCategory
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
}

// InventoryStatus classifies the current stock level.
func (p *Product) InventoryStatus() string {
	switch {
	case p.InventoryCount == 0:
		return "out_of_stock"
	case p.InventoryCount < 10:
		return "low_stock"
	default:
		return "in_stock"
	}
}
