package record

import (
	"fmt"
	"time"

	"github.com/techmart/pipeline/internal/domain/shared"
)

// CustomerTier buckets users for pricing and priority decisions.
type CustomerTier string

const (
	TierStandard CustomerTier = "standard"
	TierPremium  CustomerTier = "premium"
	TierVIP      CustomerTier = "vip"
)

// IsValid reports whether the tier is a known enum value.
func (t CustomerTier) IsValid() bool {
	switch t {
	case TierStandard, TierPremium, TierVIP:
		return true
	}
	return false
}

// AgeGroup is a coarse demographic bucket. UnknownAgeGroup is the explicit
// sentinel used when the roster omits the field.
type AgeGroup string

const (
	AgeGroup18To25  AgeGroup = "18-25"
	AgeGroup26To35  AgeGroup = "26-35"
	AgeGroup36To45  AgeGroup = "36-45"
	AgeGroup46To55  AgeGroup = "46-55"
	AgeGroup56Plus  AgeGroup = "56+"
	UnknownAgeGroup AgeGroup = "unknown"
)

// IsValid reports whether the age group is a known bucket.
func (g AgeGroup) IsValid() bool {
	switch g {
	case AgeGroup18To25, AgeGroup26To35, AgeGroup36To45, AgeGroup46To55, AgeGroup56Plus, UnknownAgeGroup:
		return true
	}
	return false
}

// UserProfile is the canonical user payload. Profiles are refreshed
// wholesale each roster batch; AsOf carries the batch's as-of date so
// last-write-wins can be resolved across overlapping batches.
type UserProfile struct {
	UserID           string       `json:"user_id" validate:"required"`
	Email            string       `json:"email" validate:"required,email"`
	Country          string       `json:"country" validate:"required,len=2,uppercase"`
	AgeGroup         AgeGroup     `json:"age_group"`
	CustomerTier     CustomerTier `json:"customer_tier"`
	RegistrationDate time.Time    `json:"registration_date"`
	IsActive         bool         `json:"is_active"`
	AsOf             time.Time    `json:"as_of"`
}

// Validate applies structural and domain rules.
func (u *UserProfile) Validate() error {
	if u == nil {
		return fmt.Errorf("%w: nil user profile", shared.ErrValidationFailed)
	}
	if err := structValidator.Struct(u); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrValidationFailed, err)
	}
	if u.CustomerTier != "" && !u.CustomerTier.IsValid() {
		return fmt.Errorf("%w: unknown customer tier %q", shared.ErrValidationFailed, u.CustomerTier)
	}
	if u.AgeGroup != "" && !u.AgeGroup.IsValid() {
		return fmt.Errorf("%w: unknown age group %q", shared.ErrValidationFailed, u.AgeGroup)
	}
	return nil
}

// Normalize fills enum defaults so downstream aggregation never sees empty
// categoricals.
func (u *UserProfile) Normalize() {
	if u.CustomerTier == "" {
		u.CustomerTier = TierStandard
	}
	if u.AgeGroup == "" {
		u.AgeGroup = UnknownAgeGroup
	}
}
