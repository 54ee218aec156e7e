package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/techmart/pipeline/internal/domain/record"
)

// transactionWire is the raw event payload shape.
type transactionWire struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	ProductID     string          `json:"product_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	Timestamp     string          `json:"timestamp"`
}

// EventBatchAdapter extracts transaction events from an append-only batch
// file. The file is either a JSON array or newline-delimited JSON; each
// element is parsed independently so malformed fragments are quarantined
// without failing the batch. Duplicate transaction_ids within one batch are
// resolved keeping the occurrence with the latest transaction_timestamp,
// ties broken by latest arrival.
type EventBatchAdapter struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// NewEventBatchAdapter creates an adapter for the given batch file.
func NewEventBatchAdapter(path string, logger *zap.Logger) *EventBatchAdapter {
	return &EventBatchAdapter{
		path:   path,
		logger: logger.Named("extract.events"),
		now:    time.Now,
	}
}

// Source implements SourceAdapter.
func (a *EventBatchAdapter) Source() record.SourceTag {
	return record.SourceEventBatch
}

// Extract implements SourceAdapter.
func (a *EventBatchAdapter) Extract(ctx context.Context) (Result, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read event batch %s: %w", a.path, err)
	}

	fragments := splitFragments(data)
	ingestedAt := a.now().UTC()

	var result Result
	// Latest occurrence per transaction_id; later map writes are later
	// arrivals by construction.
	latest := make(map[string]*record.Transaction, len(fragments))
	order := make([]string, 0, len(fragments))

	for _, raw := range fragments {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		txn, reason := parseTransaction(raw)
		if reason != "" {
			result.Rejected = append(result.Rejected, record.RejectedRecord{
				Source:     a.Source(),
				RawPayload: append(json.RawMessage(nil), raw...),
				Reason:     reason,
				RejectedAt: ingestedAt,
			})
			continue
		}

		if existing, ok := latest[txn.TransactionID]; ok {
			if txn.Supersedes(existing, true) {
				latest[txn.TransactionID] = txn
			}
			continue
		}
		latest[txn.TransactionID] = txn
		order = append(order, txn.TransactionID)
	}

	for _, id := range order {
		result.Records = append(result.Records, record.CanonicalRecord{
			Kind:        record.KindTransaction,
			Source:      a.Source(),
			IngestedAt:  ingestedAt,
			Transaction: latest[id],
		})
	}

	a.logger.Info("event batch extracted",
		zap.String("path", a.path),
		zap.Int("records", len(result.Records)),
		zap.Int("rejected", len(result.Rejected)),
		zap.Int("duplicates", len(fragments)-len(order)-len(result.Rejected)))
	return result, nil
}

// parseTransaction converts one raw fragment, returning a non-empty reason
// when the fragment must be quarantined.
func parseTransaction(raw json.RawMessage) (*record.Transaction, string) {
	var wire transactionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Sprintf("structural parse failure: %v", err)
	}
	if wire.TransactionID == "" {
		return nil, "missing natural key transaction_id"
	}

	ts, err := time.Parse(time.RFC3339, wire.Timestamp)
	if err != nil {
		return nil, fmt.Sprintf("invalid timestamp %q", wire.Timestamp)
	}

	return &record.Transaction{
		TransactionID:        wire.TransactionID,
		UserID:               wire.UserID,
		ProductID:            wire.ProductID,
		Amount:               wire.Amount,
		Currency:             wire.Currency,
		PaymentMethod:        record.PaymentMethod(wire.PaymentMethod),
		Status:               record.TransactionStatus(wire.Status),
		TransactionTimestamp: ts.UTC(),
		ProcessingTimestamp:  time.Now().UTC(),
	}, ""
}

// splitFragments yields the individually parseable payloads of a batch file.
// A well-formed JSON array is split into its elements; anything else is
// treated as newline-delimited JSON so malformed lines stay isolated.
func splitFragments(data []byte) []json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var elements []json.RawMessage
		if err := json.Unmarshal(trimmed, &elements); err == nil {
			return elements
		}
	}

	var fragments []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		fragments = append(fragments, append(json.RawMessage(nil), line...))
	}
	return fragments
}
