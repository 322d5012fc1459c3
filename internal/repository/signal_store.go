package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/domain/repository"
	pkgch "SignalGate/pkg/clickhouse"
)

// Table names of the signal log.
const (
	TableCombinedSignals = "combined_signals"
	TableDecisions       = "decisions"
)

// SignalSchema is the idempotent DDL of the signal log.
var SignalSchema = []string{
	`CREATE TABLE IF NOT EXISTS combined_signals (
		ts           DateTime64(3, 'UTC'),
		id           String,
		symbol       LowCardinality(String),
		direction    LowCardinality(String),
		strength     Float64,
		algorithms   Array(String),
		signal_count UInt16
	) ENGINE = MergeTree
	PARTITION BY toYYYYMMDD(ts)
	ORDER BY (symbol, ts)`,
	`CREATE TABLE IF NOT EXISTS decisions (
		ts              DateTime64(3, 'UTC'),
		id              String,
		signal_id       String,
		symbol          LowCardinality(String),
		execute         UInt8,
		direction       LowCardinality(String),
		strength        Float64,
		size_multiplier Float64,
		trade_size_usd  Float64,
		slippage        Float64,
		regime          LowCardinality(String),
		vetoed_by       LowCardinality(String),
		reason          String
	) ENGINE = MergeTree
	PARTITION BY toYYYYMMDD(ts)
	ORDER BY (symbol, ts)`,
}

const (
	insertSignal = `INSERT INTO combined_signals
		(ts, id, symbol, direction, strength, algorithms, signal_count) VALUES (?, ?, ?, ?, ?, ?, ?)`
	insertDecision = `INSERT INTO decisions
		(ts, id, signal_id, symbol, execute, direction, strength, size_multiplier, trade_size_usd, slippage, regime, vetoed_by, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	decisionColumns = `id, signal_id, symbol, execute, direction, strength, size_multiplier, trade_size_usd, slippage, regime, vetoed_by, reason, ts`
)

// ClickHouseSignalStore implements SignalStore for ClickHouse.
type ClickHouseSignalStore struct {
	client *pkgch.Client
	db     *sql.DB
}

// NewClickHouseSignalStore creates the store over an open client.
func NewClickHouseSignalStore(client *pkgch.Client) *ClickHouseSignalStore {
	return &ClickHouseSignalStore{client: client, db: client.DB()}
}

func (s *ClickHouseSignalStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, SignalSchema)
}

func (s *ClickHouseSignalStore) StoreSignals(ctx context.Context, signals []*models.CombinedSignal) error {
	rows := make([][]interface{}, 0, len(signals))
	for _, c := range signals {
		if c == nil || c.Symbol == "" {
			continue
		}
		rows = append(rows, []interface{}{
			c.Timestamp.UTC(), c.ID, c.Symbol, string(c.Direction), c.Strength, c.Algorithms, uint16(c.SignalCount),
		})
	}
	return pkgch.InsertBatch(ctx, s.db, insertSignal, rows)
}

func (s *ClickHouseSignalStore) StoreDecisions(ctx context.Context, decisions []*models.Decision) error {
	rows := make([][]interface{}, 0, len(decisions))
	for _, d := range decisions {
		if d == nil || d.Symbol == "" {
			continue
		}
		var exec uint8
		if d.Execute {
			exec = 1
		}
		rows = append(rows, []interface{}{
			d.Timestamp.UTC(), d.ID, d.SignalID, d.Symbol, exec, string(d.Direction), d.Strength,
			d.SizeMultiplier, d.TradeSizeUSD, d.Slippage, string(d.Regime), string(d.VetoedBy), d.Reason,
		})
	}
	return pkgch.InsertBatch(ctx, s.db, insertDecision, rows)
}

// RecentDecisions returns decisions between from and to, newest first. An empty symbol matches all.
func (s *ClickHouseSignalStore) RecentDecisions(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Decision, error) {
	q, args := recentDecisionsQuery(symbol, from, to, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.Decision
	for rows.Next() {
		var d models.Decision
		var exec uint8
		var dir, regime, vetoed string
		if err := rows.Scan(&d.ID, &d.SignalID, &d.Symbol, &exec, &dir, &d.Strength, &d.SizeMultiplier,
			&d.TradeSizeUSD, &d.Slippage, &regime, &vetoed, &d.Reason, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Execute = exec == 1
		d.Direction = models.Direction(dir)
		d.Regime = models.Regime(regime)
		d.VetoedBy = models.Gate(vetoed)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func recentDecisionsQuery(symbol string, from, to time.Time, limit int) (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(decisionColumns)
	b.WriteString(" FROM ")
	b.WriteString(TableDecisions)
	b.WriteString(" WHERE ts >= ? AND ts <= ?")
	args := []interface{}{from.UTC(), to.UTC()}
	if symbol != "" {
		b.WriteString(" AND symbol = ?")
		args = append(args, symbol)
	}
	b.WriteString(" ORDER BY ts DESC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	return b.String(), args
}

func (s *ClickHouseSignalStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *ClickHouseSignalStore) Close() error {
	return s.client.Close()
}

var _ repository.SignalStore = (*ClickHouseSignalStore)(nil)
