package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/techmart/pipeline/internal/domain/record"
	"github.com/techmart/pipeline/internal/domain/shared"
)

// RetryPolicy bounds the catalog fetch retry loop.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	// Cooldown applies when the endpoint signals rate limiting and no
	// Retry-After header is present.
	Cooldown time.Duration
}

// DefaultRetryPolicy matches the upstream contract: base 1s, factor 2,
// three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		BackoffFactor: 2,
		Cooldown:      5 * time.Second,
	}
}

// productWire is the raw catalog payload shape.
type productWire struct {
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	SupplierID     string          `json:"supplier_id"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
	InventoryCount int             `json:"inventory_count"`
}

// CatalogAdapter pulls the product list from the rate-limited remote
// catalog endpoint. Transient failures (timeouts, 5xx) are retried with
// exponential backoff; a 429 waits out the cooldown instead of burning a
// hot retry. Once the retry budget is exhausted the extraction fails closed:
// no partial catalog is ever treated as authoritative.
type CatalogAdapter struct {
	url    string
	client *http.Client
	policy RetryPolicy
	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewCatalogAdapter creates an adapter against the given endpoint. A nil
// client gets a bounded-timeout default; zero policy fields get defaults.
func NewCatalogAdapter(url string, client *http.Client, policy RetryPolicy, logger *zap.Logger) *CatalogAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	def := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.BackoffFactor <= 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	if policy.Cooldown <= 0 {
		policy.Cooldown = def.Cooldown
	}
	return &CatalogAdapter{
		url:    url,
		client: client,
		policy: policy,
		logger: logger.Named("extract.catalog"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Source implements SourceAdapter.
func (a *CatalogAdapter) Source() record.SourceTag {
	return record.SourceCatalogAPI
}

// Extract implements SourceAdapter.
func (a *CatalogAdapter) Extract(ctx context.Context) (Result, error) {
	delay := a.policy.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= a.policy.MaxAttempts; attempt++ {
		body, wait, err := a.fetch(ctx)
		if err == nil {
			return a.parse(body)
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		if !isTransient(err) {
			return Result{}, fmt.Errorf("%w: catalog fetch: %v", shared.ErrTerminalSource, err)
		}
		if attempt == a.policy.MaxAttempts {
			break
		}

		// Rate-limit signals get the cooldown wait instead of the backoff
		// schedule; the attempt budget still applies.
		pause := delay
		if wait > 0 {
			pause = wait
		} else {
			delay = time.Duration(float64(delay) * a.policy.BackoffFactor)
		}

		a.logger.Warn("catalog fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("pause", pause),
			zap.Error(err))
		if err := a.sleep(ctx, pause); err != nil {
			return Result{}, err
		}
	}

	return Result{}, fmt.Errorf("%w: catalog fetch exhausted %d attempts: %v",
		shared.ErrTerminalSource, a.policy.MaxAttempts, lastErr)
}

// fetch performs one request. The returned wait is non-zero only for
// rate-limit responses and carries the server-requested cooldown.
func (a *CatalogAdapter) fetch(ctx context.Context) (body []byte, wait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %v", shared.ErrTransientSource, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: reading catalog body: %v", shared.ErrTransientSource, err)
		}
		return data, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retryAfter(resp, a.policy.Cooldown),
			fmt.Errorf("%w: catalog rate limited", shared.ErrTransientSource)
	case resp.StatusCode >= 500:
		return nil, 0, fmt.Errorf("%w: catalog returned %d", shared.ErrTransientSource, resp.StatusCode)
	default:
		return nil, 0, fmt.Errorf("catalog returned %d", resp.StatusCode)
	}
}

func (a *CatalogAdapter) parse(body []byte) (Result, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		return Result{}, fmt.Errorf("%w: catalog payload is not a JSON array: %v", shared.ErrTerminalSource, err)
	}

	ingestedAt := a.now().UTC()
	var result Result
	for _, raw := range elements {
		var wire productWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			result.Rejected = append(result.Rejected, record.RejectedRecord{
				Source:     a.Source(),
				RawPayload: append(json.RawMessage(nil), raw...),
				Reason:     fmt.Sprintf("structural parse failure: %v", err),
				RejectedAt: ingestedAt,
			})
			continue
		}
		if wire.ProductID == "" {
			result.Rejected = append(result.Rejected, record.RejectedRecord{
				Source:     a.Source(),
				RawPayload: append(json.RawMessage(nil), raw...),
				Reason:     "missing natural key product_id",
				RejectedAt: ingestedAt,
			})
			continue
		}

		product := &record.Product{
			ProductID:      wire.ProductID,
			Name:           wire.Name,
			Category:       wire.Category,
			SupplierID:     wire.SupplierID,
			BasePrice:      wire.Price,
			Currency:       wire.Currency,
			InventoryCount: wire.InventoryCount,
		}
		product.Normalize()

		result.Records = append(result.Records, record.CanonicalRecord{
			Kind:       record.KindProduct,
			Source:     a.Source(),
			IngestedAt: ingestedAt,
			Product:    product,
		})
	}

	a.logger.Info("catalog extracted",
		zap.String("url", a.url),
		zap.Int("records", len(result.Records)),
		zap.Int("rejected", len(result.Rejected)))
	return result, nil
}

func isTransient(err error) bool {
	// Context cancellation is terminal for the run, not retryable.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, shared.ErrTransientSource)
}

// retryAfter honors the Retry-After header when present.
func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
