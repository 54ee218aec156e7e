package extract

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/techmart/pipeline/internal/domain/record"
)

// UserRosterAdapter extracts the periodically refreshed user roster from a
// tabular CSV file. Each batch is a wholesale refresh; the batch's as-of
// date rides on every profile so overlapping weekly batches resolve
// last-write-wins deterministically downstream.
type UserRosterAdapter struct {
	path   string
	asOf   time.Time
	logger *zap.Logger
	now    func() time.Time
}

// NewUserRosterAdapter creates an adapter for the roster file. A zero asOf
// falls back to the extraction time.
func NewUserRosterAdapter(path string, asOf time.Time, logger *zap.Logger) *UserRosterAdapter {
	return &UserRosterAdapter{
		path:   path,
		asOf:   asOf,
		logger: logger.Named("extract.roster"),
		now:    time.Now,
	}
}

// Source implements SourceAdapter.
func (a *UserRosterAdapter) Source() record.SourceTag {
	return record.SourceUserRoster
}

// Extract implements SourceAdapter.
func (a *UserRosterAdapter) Extract(ctx context.Context) (Result, error) {
	file, err := os.Open(a.path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open user roster %s: %w", a.path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read roster header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	ingestedAt := a.now().UTC()
	asOf := a.asOf
	if asOf.IsZero() {
		asOf = ingestedAt
	}

	var result Result
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Rejected = append(result.Rejected, rejectRow(a.Source(), nil, fmt.Sprintf("csv parse failure: %v", err), ingestedAt))
			continue
		}

		user, reason := parseUserRow(row, columns, asOf)
		if reason != "" {
			result.Rejected = append(result.Rejected, rejectRow(a.Source(), row, reason, ingestedAt))
			continue
		}

		result.Records = append(result.Records, record.CanonicalRecord{
			Kind:       record.KindUserProfile,
			Source:     a.Source(),
			IngestedAt: ingestedAt,
			User:       user,
		})
	}

	a.logger.Info("user roster extracted",
		zap.String("path", a.path),
		zap.Time("as_of", asOf),
		zap.Int("records", len(result.Records)),
		zap.Int("rejected", len(result.Rejected)))
	return result, nil
}

func parseUserRow(row []string, columns map[string]int, asOf time.Time) (*record.UserProfile, string) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	userID := field("user_id")
	if userID == "" {
		return nil, "missing natural key user_id"
	}

	user := &record.UserProfile{
		UserID:       userID,
		Email:        field("email"),
		Country:      strings.ToUpper(field("country")),
		AgeGroup:     record.AgeGroup(field("age_group")),
		CustomerTier: record.CustomerTier(strings.ToLower(field("customer_tier"))),
		IsActive:     !strings.EqualFold(field("is_active"), "false"),
		AsOf:         asOf,
	}

	if raw := field("registration_date"); raw != "" {
		ts, err := parseDate(raw)
		if err != nil {
			return nil, fmt.Sprintf("invalid registration_date %q", raw)
		}
		user.RegistrationDate = ts
	}

	user.Normalize()
	return user, ""
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func rejectRow(source record.SourceTag, row []string, reason string, at time.Time) record.RejectedRecord {
	payload, _ := json.Marshal(row)
	return record.RejectedRecord{
		Source:     source,
		RawPayload: payload,
		Reason:     reason,
		RejectedAt: at,
	}
}
