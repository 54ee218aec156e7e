package quality

import "time"

// CheckType enumerates the four quality dimensions.
type CheckType string

const (
	CheckCompleteness CheckType = "completeness"
	CheckAccuracy     CheckType = "accuracy"
	CheckConsistency  CheckType = "consistency"
	CheckTimeliness   CheckType = "timeliness"
)

// Status is the outcome of comparing a metric against its threshold.
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// Report is one immutable quality check result. One report set is produced
// per batch per phase and recorded through the run ledger.
type Report struct {
	SubjectTable string    `json:"subject_table"`
	CheckDate    time.Time `json:"check_date"`
	CheckType    CheckType `json:"check_type"`
	MetricName   string    `json:"metric_name"`
	MetricValue  float64   `json:"metric_value"`
	Threshold    float64   `json:"threshold"`
	Status       Status    `json:"status"`
}

// Result is the scored outcome for one batch: the per-dimension reports, the
// weighted aggregate score and the gate decision.
type Result struct {
	SubjectTable string
	Reports      []Report
	Score        float64
	Gate         GateDecision
}

// GateDecision says whether the batch may progress to load. A FAIL on the
// accuracy or consistency dimension blocks; completeness and timeliness
// failures only downgrade the score. WARN always progresses but is surfaced
// for alerting.
type GateDecision struct {
	Allowed  bool
	Blocking []Report
	Warnings []Report
}

// ByType returns the report for a dimension, or nil when absent.
func (r Result) ByType(t CheckType) *Report {
	for i := range r.Reports {
		if r.Reports[i].CheckType == t {
			return &r.Reports[i]
		}
	}
	return nil
}
