package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"funding-rate-alerts/internal/engine"
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS funding_state (
        symbol          TEXT PRIMARY KEY,
        settlement_ts   BIGINT NOT NULL,
        settlement_rate TEXT NOT NULL,
        predicted_rate  TEXT,
        predicted_at    TIMESTAMPTZ
    );
    CREATE TABLE IF NOT EXISTS alerts (
        id                BIGSERIAL PRIMARY KEY,
        symbol            TEXT NOT NULL,
        alert_type        TEXT NOT NULL,
        funding_rate      TEXT NOT NULL,
        prev_funding_rate TEXT,
        rate_change       TEXT,
        settlement_time   TEXT NOT NULL,
        created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	loadStateSQL = `SELECT symbol, settlement_ts, settlement_rate, predicted_rate, predicted_at
    FROM funding_state;`

	clearStateSQL = `DELETE FROM funding_state;`

	insertStateRowSQL = `INSERT INTO funding_state (
        symbol, settlement_ts, settlement_rate, predicted_rate, predicted_at
    ) VALUES ($1,$2,$3,$4,$5);`

	insertAlertSQL = `INSERT INTO alerts (
        symbol, alert_type, funding_rate, prev_funding_rate, rate_change, settlement_time
    ) VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id, symbol, alert_type, funding_rate, prev_funding_rate, rate_change, settlement_time, created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`
)

// AlertAudit is a persisted record of an emitted alert.
type AlertAudit struct {
	ID              int64
	Symbol          string
	Type            engine.AlertType
	FundingRate     decimal.Decimal
	PrevFundingRate *decimal.Decimal
	RateChange      *decimal.Decimal
	SettlementTime  string
	CreatedAt       time.Time
}

// AlertStore records emitted alerts for auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert engine.Alert) (AlertAudit, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertAudit, error)
}

// PostgresStore keeps tracking state and the alert audit trail in
// PostgreSQL. Saves replace the full state in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the required tables when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Load reconstructs the tracking state from per-symbol rows.
func (s *PostgresStore) Load(ctx context.Context) (engine.TrackingState, error) {
	state := engine.NewTrackingState()

	pool, err := s.getPool()
	if err != nil {
		return state, err
	}

	rows, queryErr := pool.Query(ctx, loadStateSQL)
	if queryErr != nil {
		return state, fmt.Errorf("load tracking state: %w", queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			symbol        string
			settlementTS  int64
			rateStr       string
			predictedRate sql.NullString
			predictedAt   sql.NullTime
		)
		if err := rows.Scan(&symbol, &settlementTS, &rateStr, &predictedRate, &predictedAt); err != nil {
			return state, err
		}

		rate, convErr := decimal.NewFromString(rateStr)
		if convErr != nil {
			return state, fmt.Errorf("parse settlement rate for %s: %w", symbol, convErr)
		}

		state.Timestamps[symbol] = settlementTS
		state.Rates[symbol] = rate

		if predictedRate.Valid && predictedAt.Valid {
			predicted, convErr := decimal.NewFromString(predictedRate.String)
			if convErr != nil {
				return state, fmt.Errorf("parse predicted rate for %s: %w", symbol, convErr)
			}
			state.Predicted[symbol] = engine.PredictedMark{
				Rate:      predicted,
				AlertedAt: predictedAt.Time,
			}
		}
	}
	if rows.Err() != nil {
		return state, rows.Err()
	}
	return state, nil
}

// Save replaces the persisted state with the given snapshot.
func (s *PostgresStore) Save(ctx context.Context, state engine.TrackingState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin state save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, clearStateSQL); err != nil {
		return fmt.Errorf("clear tracking state: %w", err)
	}

	batch := &pgx.Batch{}
	for symbol, ts := range state.Timestamps {
		rate, ok := state.Rates[symbol]
		if !ok {
			continue
		}

		var predictedRate interface{}
		var predictedAt interface{}
		if mark, tracked := state.Predicted[symbol]; tracked {
			predictedRate = mark.Rate.String()
			predictedAt = mark.AlertedAt
		}

		batch.Queue(insertStateRowSQL, symbol, ts, rate.String(), predictedRate, predictedAt)
	}

	if batch.Len() > 0 {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("insert state row: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("flush state batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit state save: %w", err)
	}
	return nil
}

// InsertAlert persists an alert emission.
func (s *PostgresStore) InsertAlert(ctx context.Context, alert engine.Alert) (AlertAudit, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertAudit{}, err
	}

	var prevRate, change interface{}
	if alert.PrevFundingRate != nil {
		prevRate = alert.PrevFundingRate.String()
	}
	if alert.RateChange != nil {
		change = alert.RateChange.String()
	}

	audit := AlertAudit{
		Symbol:          alert.Symbol,
		Type:            alert.Type,
		FundingRate:     alert.FundingRate,
		PrevFundingRate: alert.PrevFundingRate,
		RateChange:      alert.RateChange,
		SettlementTime:  alert.SettlementTime,
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		string(alert.Type),
		alert.FundingRate.String(),
		prevRate,
		change,
		alert.SettlementTime,
	)
	if scanErr := row.Scan(&audit.ID, &audit.CreatedAt); scanErr != nil {
		return AlertAudit{}, fmt.Errorf("insert alert: %w", scanErr)
	}

	return audit, nil
}

// ListRecentAlerts lists the most recently emitted alerts.
func (s *PostgresStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertAudit, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertAudit, 0, limit)
	for rows.Next() {
		var (
			audit    AlertAudit
			typeStr  string
			rateStr  string
			prevStr  sql.NullString
			deltaStr sql.NullString
		)
		if err := rows.Scan(
			&audit.ID,
			&audit.Symbol,
			&typeStr,
			&rateStr,
			&prevStr,
			&deltaStr,
			&audit.SettlementTime,
			&audit.CreatedAt,
		); err != nil {
			return nil, err
		}

		audit.Type = engine.AlertType(typeStr)

		var convErr error
		audit.FundingRate, convErr = decimal.NewFromString(rateStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse funding rate: %w", convErr)
		}
		if prevStr.Valid {
			prev, convErr := decimal.NewFromString(prevStr.String)
			if convErr != nil {
				return nil, fmt.Errorf("parse prev funding rate: %w", convErr)
			}
			audit.PrevFundingRate = &prev
		}
		if deltaStr.Valid {
			delta, convErr := decimal.NewFromString(deltaStr.String)
			if convErr != nil {
				return nil, fmt.Errorf("parse rate change: %w", convErr)
			}
			audit.RateChange = &delta
		}

		alerts = append(alerts, audit)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

var (
	_ engine.StateStore = (*PostgresStore)(nil)
	_ AlertStore        = (*PostgresStore)(nil)
)
