package quality

import (
	"time"

	"github.com/techmart/pipeline/internal/domain/record"
)

// ReferenceSet answers foreign-key resolvability questions for the
// consistency check. Implemented by the transformer's reference snapshot.
type ReferenceSet interface {
	HasUser(userID string) bool
	HasProduct(productID string) bool
}

// Scorer computes the four quality dimensions over a batch of canonical
// records. Malformed records are quarantined upstream and never reach the
// scorer, so every denominator counts structurally parsed records only.
type Scorer struct {
	rules Rules
	now   func() time.Time
}

// NewScorer creates a scorer with the given rules.
func NewScorer(rules Rules) *Scorer {
	return &Scorer{rules: rules, now: time.Now}
}

// NewScorerAt creates a scorer with a fixed clock, for tests.
func NewScorerAt(rules Rules, now func() time.Time) *Scorer {
	return &Scorer{rules: rules, now: now}
}

// Score runs all four checks over the batch and assigns the gate decision.
// An empty batch scores 1.0 on every dimension: there is nothing to fault.
func (s *Scorer) Score(subjectTable string, records []record.CanonicalRecord, refs ReferenceSet) Result {
	checkDate := s.now().UTC()

	metrics := map[CheckType]float64{
		CheckCompleteness: s.completeness(records),
		CheckAccuracy:     s.accuracy(records),
		CheckConsistency:  s.consistency(records, refs),
		CheckTimeliness:   s.timeliness(records),
	}

	result := Result{SubjectTable: subjectTable}
	var weightedSum, weightTotal float64

	for _, check := range []CheckType{CheckCompleteness, CheckAccuracy, CheckConsistency, CheckTimeliness} {
		value := metrics[check]
		threshold := s.rules.threshold(check)
		report := Report{
			SubjectTable: subjectTable,
			CheckDate:    checkDate,
			CheckType:    check,
			MetricName:   string(check) + "_ratio",
			MetricValue:  value,
			Threshold:    threshold,
			Status:       s.status(value, threshold),
		}
		result.Reports = append(result.Reports, report)

		w := s.rules.weight(check)
		weightedSum += value * w
		weightTotal += w
	}

	if weightTotal > 0 {
		result.Score = weightedSum / weightTotal
	}
	result.Gate = s.gate(result.Reports)
	return result
}

// status compares a metric against its threshold, applying the warn margin.
func (s *Scorer) status(value, threshold float64) Status {
	switch {
	case value >= threshold:
		return StatusPass
	case value >= threshold-s.rules.WarnMargin:
		return StatusWarn
	default:
		return StatusFail
	}
}

// gate applies the blocking policy: accuracy or consistency FAIL holds the
// batch; completeness and timeliness only downgrade the score.
func (s *Scorer) gate(reports []Report) GateDecision {
	decision := GateDecision{Allowed: true}
	for _, r := range reports {
		switch r.Status {
		case StatusWarn:
			decision.Warnings = append(decision.Warnings, r)
		case StatusFail:
			if r.CheckType == CheckAccuracy || r.CheckType == CheckConsistency {
				decision.Allowed = false
				decision.Blocking = append(decision.Blocking, r)
			} else {
				decision.Warnings = append(decision.Warnings, r)
			}
		}
	}
	return decision
}

// completeness is the fraction of required fields present across the batch.
func (s *Scorer) completeness(records []record.CanonicalRecord) float64 {
	var present, total int
	for i := range records {
		p, n := requiredFieldPresence(records[i])
		present += p
		total += n
	}
	if total == 0 {
		return 1.0
	}
	return float64(present) / float64(total)
}

// accuracy is the fraction of records passing domain validation.
func (s *Scorer) accuracy(records []record.CanonicalRecord) float64 {
	if len(records) == 0 {
		return 1.0
	}
	valid := 0
	for i := range records {
		if records[i].Validate() == nil {
			valid++
		}
	}
	return float64(valid) / float64(len(records))
}

// consistency is the fraction of transaction foreign keys resolvable against
// the reference snapshot. Two checks per transaction, user and product.
func (s *Scorer) consistency(records []record.CanonicalRecord, refs ReferenceSet) float64 {
	var resolved, total int
	for i := range records {
		txn := records[i].Transaction
		if records[i].Kind != record.KindTransaction || txn == nil {
			continue
		}
		total += 2
		if refs != nil && refs.HasUser(txn.UserID) {
			resolved++
		}
		if refs != nil && refs.HasProduct(txn.ProductID) {
			resolved++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(resolved) / float64(total)
}

// timeliness is the fraction of records whose event timestamp falls within
// the freshness window of their ingestion time.
func (s *Scorer) timeliness(records []record.CanonicalRecord) float64 {
	if len(records) == 0 {
		return 1.0
	}
	timely := 0
	for i := range records {
		lag := records[i].IngestedAt.Sub(records[i].EventTime())
		if lag < 0 {
			lag = -lag
		}
		if lag <= s.rules.FreshnessWindow {
			timely++
		}
	}
	return float64(timely) / float64(len(records))
}

// requiredFieldPresence counts how many of a record's required fields are
// non-empty, and how many are required in total.
func requiredFieldPresence(r record.CanonicalRecord) (present, total int) {
	switch r.Kind {
	case record.KindTransaction:
		t := r.Transaction
		if t == nil {
			return 0, 8
		}
		fields := []bool{
			t.TransactionID != "",
			t.UserID != "",
			t.ProductID != "",
			!t.Amount.IsZero(),
			t.Currency != "",
			t.PaymentMethod != "",
			t.Status != "",
			!t.TransactionTimestamp.IsZero(),
		}
		return countTrue(fields), len(fields)
	case record.KindUserProfile:
		u := r.User
		if u == nil {
			return 0, 3
		}
		fields := []bool{
			u.UserID != "",
			u.Email != "",
			u.Country != "",
		}
		return countTrue(fields), len(fields)
	case record.KindProduct:
		p := r.Product
		if p == nil {
			return 0, 3
		}
		fields := []bool{
			p.ProductID != "",
			p.Name != "",
			p.BasePrice.IsPositive(),
		}
		return countTrue(fields), len(fields)
	}
	return 0, 0
}

func countTrue(bits []bool) int {
	n := 0
	for _, b := range bits {
		if b {
			n++
		}
	}
	return n
}
