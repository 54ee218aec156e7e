package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"
)

// Store wraps the analytical DuckDB database. All writes go through
// partition-scoped merges so replaying a batch leaves the store unchanged.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the analytical database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := path
	if dsn == ":memory:" {
		dsn = ""
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytical store: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// schemaStatements creates every analytical table. Statements are idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS transaction_stream (
		transaction_id       VARCHAR NOT NULL,
		transaction_date     DATE NOT NULL,
		transaction_hour     INTEGER NOT NULL,
		day_of_week          VARCHAR NOT NULL,
		user_id              VARCHAR NOT NULL,
		product_id           VARCHAR NOT NULL,
		amount               DOUBLE NOT NULL,
		currency             VARCHAR NOT NULL,
		amount_usd           DOUBLE NOT NULL,
		status               VARCHAR NOT NULL,
		payment_method       VARCHAR NOT NULL,
		transaction_timestamp TIMESTAMP NOT NULL,
		is_high_value        BOOLEAN NOT NULL,
		is_international     BOOLEAN NOT NULL,
		payment_method_risk  VARCHAR NOT NULL,
		transaction_risk     VARCHAR NOT NULL,
		processing_priority  VARCHAR NOT NULL,
		user_country         VARCHAR,
		user_tier            VARCHAR,
		user_age_group       VARCHAR,
		product_name         VARCHAR,
		product_category     VARCHAR,
		flagged_outlier      BOOLEAN NOT NULL,
		consistency_incomplete BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS daily_sales_summary (
		summary_date        DATE NOT NULL,
		category            VARCHAR NOT NULL,
		total_transactions  BIGINT NOT NULL,
		completed_transactions BIGINT NOT NULL,
		total_revenue_usd   DOUBLE NOT NULL,
		avg_transaction_usd DOUBLE NOT NULL,
		unique_customers    BIGINT NOT NULL,
		high_value_count    BIGINT NOT NULL,
		international_count BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_analytics (
		summary_date                DATE NOT NULL,
		user_id                     VARCHAR NOT NULL,
		user_tier                   VARCHAR,
		user_country                VARCHAR,
		order_count                 BIGINT NOT NULL,
		revenue_usd                 DOUBLE NOT NULL,
		avg_order_usd               DOUBLE NOT NULL,
		high_value_count            BIGINT NOT NULL,
		email                       VARCHAR,
		total_spent_usd             DOUBLE NOT NULL,
		total_orders                BIGINT NOT NULL,
		days_since_last_order       INTEGER NOT NULL,
		customer_lifetime_value_usd DOUBLE NOT NULL,
		churn_risk_score            DOUBLE NOT NULL,
		preferred_payment_method    VARCHAR,
		preferred_category          VARCHAR,
		is_high_value_customer      BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS product_performance (
		summary_date             DATE NOT NULL,
		product_id               VARCHAR NOT NULL,
		product_name             VARCHAR,
		category                 VARCHAR,
		order_count              BIGINT NOT NULL,
		revenue_usd              DOUBLE NOT NULL,
		unique_customers         BIGINT NOT NULL,
		outlier_count            BIGINT NOT NULL,
		base_price_usd           DOUBLE NOT NULL,
		inventory_count          INTEGER NOT NULL,
		inventory_turnover_ratio DOUBLE NOT NULL,
		performance_tier         VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS financial_reports (
		report_date          DATE NOT NULL,
		gross_revenue_usd    DOUBLE NOT NULL,
		refunded_amount_usd  DOUBLE NOT NULL,
		net_revenue_usd      DOUBLE NOT NULL,
		pending_amount_usd   DOUBLE NOT NULL,
		failed_amount_usd    DOUBLE NOT NULL,
		completed_count      BIGINT NOT NULL,
		refunded_count       BIGINT NOT NULL,
		failed_count         BIGINT NOT NULL,
		cancelled_count      BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data_quality_metrics (
		run_id        VARCHAR NOT NULL,
		subject_table VARCHAR NOT NULL,
		check_date    DATE NOT NULL,
		check_type    VARCHAR NOT NULL,
		metric_name   VARCHAR NOT NULL,
		metric_value  DOUBLE NOT NULL,
		threshold     DOUBLE NOT NULL,
		status        VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_monitoring (
		run_id            VARCHAR NOT NULL,
		status            VARCHAR NOT NULL,
		phase             VARCHAR NOT NULL,
		started_at        TIMESTAMP NOT NULL,
		finished_at       TIMESTAMP,
		duration_seconds  DOUBLE NOT NULL,
		records_extracted BIGINT NOT NULL,
		records_processed BIGINT NOT NULL,
		records_failed    BIGINT NOT NULL,
		failure_reason    VARCHAR
	)`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create analytical schema: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying connection for queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the analytical database.
func (s *Store) Close() error {
	return s.db.Close()
}
