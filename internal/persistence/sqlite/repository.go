// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/qtrader/internal/model"
	"github.com/ManuGH/qtrader/internal/store"
)

const schemaVersion = 1

var ErrNotFound = errors.New("sqlite: record not found")

// Repository stores alerts and price history. It satisfies store.Persister.
type Repository struct {
	db *sql.DB
}

var _ store.Persister = (*Repository)(nil)

// OpenRepository opens path and migrates the schema.
func OpenRepository(path string, cfg Config) (*Repository, error) {
	db, err := Open(path, cfg)
	if err != nil {
		return nil, err
	}
	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration failed: %w", err)
	}
	return r, nil
}

func (r *Repository) migrate() error {
	var current int
	if err := r.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		level TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL DEFAULT '',
		value REAL NOT NULL DEFAULT 0,
		threshold REAL NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL,
		expires_at_ms INTEGER,
		acknowledged BOOLEAN NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at_ms);

	CREATE TABLE IF NOT EXISTS price_history (
		symbol TEXT NOT NULL,
		ts_ms INTEGER NOT NULL,
		price REAL NOT NULL,
		bid REAL NOT NULL DEFAULT 0,
		ask REAL NOT NULL DEFAULT 0,
		volume INTEGER NOT NULL DEFAULT 0,
		data_type TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (symbol, ts_ms)
	);
	CREATE INDEX IF NOT EXISTS idx_price_history_ts ON price_history(ts_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveAlert inserts or replaces an alert.
func (r *Repository) SaveAlert(ctx context.Context, a model.Alert) error {
	var expires sql.NullInt64
	if a.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: a.ExpiresAt.UnixMilli(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO alerts (id, type, level, title, message, symbol, account_id, value, threshold, created_at_ms, expires_at_ms, acknowledged)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		level = excluded.level,
		title = excluded.title,
		message = excluded.message,
		symbol = excluded.symbol,
		account_id = excluded.account_id,
		value = excluded.value,
		threshold = excluded.threshold,
		expires_at_ms = excluded.expires_at_ms,
		acknowledged = excluded.acknowledged
	`,
		a.ID, string(a.Type), string(a.Level), a.Title, a.Message, a.Symbol, a.AccountID,
		a.Value, a.Threshold, a.CreatedAt.UnixMilli(), expires, a.Acknowledged,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save alert %s: %w", a.ID, err)
	}
	return nil
}

// AcknowledgeAlert marks an alert acknowledged.
func (r *Repository) AcknowledgeAlert(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: acknowledge alert %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: alert %s", ErrNotFound, id)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (r *Repository) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, type, level, title, message, symbol, account_id, value, threshold, created_at_ms, expires_at_ms, acknowledged
	FROM alerts ORDER BY created_at_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			a          model.Alert
			typ, level string
			createdMS  int64
			expiresMS  sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &typ, &level, &a.Title, &a.Message, &a.Symbol, &a.AccountID,
			&a.Value, &a.Threshold, &createdMS, &expiresMS, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("sqlite: scan alert: %w", err)
		}
		a.Type = model.AlertType(typ)
		a.Level = model.AlertLevel(level)
		a.CreatedAt = time.UnixMilli(createdMS)
		if expiresMS.Valid {
			t := time.UnixMilli(expiresMS.Int64)
			a.ExpiresAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordPrice appends one quote to the price history.
func (r *Repository) RecordPrice(ctx context.Context, md model.MarketData) error {
	ts := md.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO price_history (symbol, ts_ms, price, bid, ask, volume, data_type)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol, ts_ms) DO UPDATE SET
		price = excluded.price,
		bid = excluded.bid,
		ask = excluded.ask,
		volume = excluded.volume
	`, md.Symbol, ts.UnixMilli(), md.Price, md.Bid, md.Ask, md.Volume, string(md.DataType))
	if err != nil {
		return fmt.Errorf("sqlite: record price %s: %w", md.Symbol, err)
	}
	return nil
}

// PriceHistory returns the recorded points of symbol since the given time,
// oldest first.
func (r *Repository) PriceHistory(ctx context.Context, symbol string, since time.Time) ([]store.PricePoint, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT ts_ms, price, volume FROM price_history
	WHERE symbol = ? AND ts_ms >= ? ORDER BY ts_ms`, symbol, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite: price history %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []store.PricePoint
	for rows.Next() {
		var (
			p  store.PricePoint
			ms int64
		)
		if err := rows.Scan(&ms, &p.Price, &p.Volume); err != nil {
			return nil, fmt.Errorf("sqlite: scan price: %w", err)
		}
		p.Timestamp = time.UnixMilli(ms)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Prune deletes price points older than before, plus alerts created before
// it that are acknowledged or expired. It returns the number of rows removed.
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM price_history WHERE ts_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune prices: %w", err)
	}
	prices, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
	DELETE FROM alerts WHERE created_at_ms < ?
	AND (acknowledged = 1 OR (expires_at_ms IS NOT NULL AND expires_at_ms < ?))`, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune alerts: %w", err)
	}
	alerts, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return prices + alerts, nil
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the pool.
func (r *Repository) Close() error {
	return r.db.Close()
}
