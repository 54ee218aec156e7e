package record

import (
	"encoding/json"
	"time"
)

// Kind discriminates the canonical record union.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindUserProfile Kind = "user_profile"
	KindProduct     Kind = "product"
)

// SourceTag identifies the upstream source a record was extracted from.
type SourceTag string

const (
	SourceEventBatch  SourceTag = "event_batch"
	SourceUserRoster  SourceTag = "user_roster"
	SourceCatalogAPI  SourceTag = "catalog_api"
	SourceUnspecified SourceTag = "unspecified"
)

// CanonicalRecord is the normalized in-memory shape every adapter produces.
// Exactly one of the payload pointers is set, matching Kind. The natural key
// is immutable once assigned; records without one are quarantined by the
// adapter and never constructed.
type CanonicalRecord struct {
	Kind        Kind
	Source      SourceTag
	IngestedAt  time.Time
	Transaction *Transaction
	User        *UserProfile
	Product     *Product
}

// NaturalKey returns the stable business key of the underlying entity.
func (r CanonicalRecord) NaturalKey() string {
	switch r.Kind {
	case KindTransaction:
		if r.Transaction != nil {
			return r.Transaction.TransactionID
		}
	case KindUserProfile:
		if r.User != nil {
			return r.User.UserID
		}
	case KindProduct:
		if r.Product != nil {
			return r.Product.ProductID
		}
	}
	return ""
}

// EventTime returns the business timestamp of the record, falling back to
// the ingestion timestamp for kinds without one.
func (r CanonicalRecord) EventTime() time.Time {
	if r.Kind == KindTransaction && r.Transaction != nil {
		return r.Transaction.TransactionTimestamp
	}
	return r.IngestedAt
}

// Validate dispatches to the payload's domain validation.
func (r CanonicalRecord) Validate() error {
	switch r.Kind {
	case KindTransaction:
		return r.Transaction.Validate()
	case KindUserProfile:
		return r.User.Validate()
	case KindProduct:
		return r.Product.Validate()
	}
	return nil
}

// RejectedRecord is a quarantined raw payload that failed structural parsing
// or required-field presence. It is excluded from the success sequence and
// surfaced through the run ledger, never persisted to either sink.
type RejectedRecord struct {
	Source     SourceTag       `json:"source"`
	RawPayload json.RawMessage `json:"raw_payload"`
	Reason     string          `json:"reason"`
	RejectedAt time.Time       `json:"rejected_at"`
}
