package transform

import (
	"time"

	"github.com/techmart/pipeline/internal/domain/record"
)

// Snapshot is the read-only reference lookup handed to a transform pass.
// It is built once per run before transformation starts and never mutated
// afterwards, so concurrent scoring and enrichment observe one consistent
// reference set.
type Snapshot struct {
	users    map[string]record.UserProfile
	products map[string]record.Product
	builtAt  time.Time
}

// BuildSnapshot constructs a snapshot from the extracted reference records.
// Duplicate user_ids resolve last-write-wins by as-of date; a tie keeps the
// later occurrence, which by construction arrived later.
func BuildSnapshot(users []record.UserProfile, products []record.Product) *Snapshot {
	s := &Snapshot{
		users:    make(map[string]record.UserProfile, len(users)),
		products: make(map[string]record.Product, len(products)),
		builtAt:  time.Now().UTC(),
	}
	for _, u := range users {
		if existing, ok := s.users[u.UserID]; ok && existing.AsOf.After(u.AsOf) {
			continue
		}
		s.users[u.UserID] = u
	}
	for _, p := range products {
		s.products[p.ProductID] = p
	}
	return s
}

// HasUser implements quality.ReferenceSet.
func (s *Snapshot) HasUser(userID string) bool {
	_, ok := s.users[userID]
	return ok
}

// HasProduct implements quality.ReferenceSet.
func (s *Snapshot) HasProduct(productID string) bool {
	_, ok := s.products[productID]
	return ok
}

// User returns the profile for an id.
func (s *Snapshot) User(userID string) (record.UserProfile, bool) {
	u, ok := s.users[userID]
	return u, ok
}

// Product returns the product for an id.
func (s *Snapshot) Product(productID string) (record.Product, bool) {
	p, ok := s.products[productID]
	return p, ok
}

// Users returns the deduplicated profiles in map order.
func (s *Snapshot) Users() []record.UserProfile {
	out := make([]record.UserProfile, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

// Products returns the products in map order.
func (s *Snapshot) Products() []record.Product {
	out := make([]record.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	return out
}

// Len reports the snapshot size as (users, products).
func (s *Snapshot) Len() (int, int) {
	return len(s.users), len(s.products)
}
