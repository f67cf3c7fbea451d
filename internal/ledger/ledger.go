// File: internal/ledger/ledger.go
// Description: PostgreSQL persistence for the decision audit trail, profit
// window history, and periodic arm snapshots. The in-memory components stay
// authoritative at runtime; the ledger is the durable record.

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Ledger provides the PostgreSQL implementation of the audit trail.
type Ledger struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a ledger and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Ledger, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Ledger{
		pool: pool,
		log:  logger.Named("ledger"),
	}, nil
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS spend_decisions (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		arm_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		risk TEXT NOT NULL,
		expected_roi DOUBLE PRECISION NOT NULL,
		approval_required BOOLEAN NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		executed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS profit_windows (
		window_start TIMESTAMPTZ NOT NULL,
		window_end TIMESTAMPTZ NOT NULL,
		total_profit DOUBLE PRECISION NOT NULL,
		total_spend DOUBLE PRECISION NOT NULL,
		roi DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (window_start, window_end)
	)`,
	`CREATE TABLE IF NOT EXISTS arm_snapshots (
		id TEXT PRIMARY KEY,
		stream_key TEXT NOT NULL,
		platform TEXT NOT NULL,
		hook_type TEXT NOT NULL,
		template_style TEXT NOT NULL,
		clicks BIGINT NOT NULL,
		conversions BIGINT NOT NULL,
		revenue DOUBLE PRECISION NOT NULL,
		spend DOUBLE PRECISION NOT NULL,
		profit DOUBLE PRECISION NOT NULL,
		allocation DOUBLE PRECISION NOT NULL,
		alpha DOUBLE PRECISION NOT NULL,
		beta DOUBLE PRECISION NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := l.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to ensure ledger schema: %w", err)
		}
	}
	return nil
}

// SaveDecision upserts a spend decision. Decisions mutate in place through
// their lifecycle, so later saves overwrite the earlier status.
func (l *Ledger) SaveDecision(ctx context.Context, d schemas.SpendDecision) error {
	sql := `
        INSERT INTO spend_decisions (id, type, amount, arm_id, platform, risk, expected_roi, approval_required, status, reason, approved_by, created_at, resolved_at, executed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            reason = EXCLUDED.reason,
            approved_by = EXCLUDED.approved_by,
            resolved_at = EXCLUDED.resolved_at,
            executed_at = EXCLUDED.executed_at;
    `
	_, err := l.pool.Exec(ctx, sql,
		d.ID, string(d.Type), d.Amount, d.ArmID, d.Platform,
		string(d.Risk), d.ExpectedROI, d.ApprovalRequired,
		string(d.Status), d.Reason, d.ApprovedBy,
		d.CreatedAt.UTC(), d.ResolvedAt.UTC(), d.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save decision %s: %w", d.ID, err)
	}
	return nil
}

// RecentDecisions returns the newest decisions first, up to limit.
func (l *Ledger) RecentDecisions(ctx context.Context, limit int) ([]schemas.SpendDecision, error) {
	query := `
        SELECT id, type, amount, arm_id, platform, risk, expected_roi, approval_required, status, reason, approved_by, created_at, resolved_at, executed_at
        FROM spend_decisions
        ORDER BY created_at DESC
        LIMIT $1;
    `
	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []schemas.SpendDecision
	for rows.Next() {
		var d schemas.SpendDecision
		var decisionType, risk, status string
		if err := rows.Scan(
			&d.ID, &decisionType, &d.Amount, &d.ArmID, &d.Platform,
			&risk, &d.ExpectedROI, &d.ApprovalRequired,
			&status, &d.Reason, &d.ApprovedBy,
			&d.CreatedAt, &d.ResolvedAt, &d.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		d.Type = schemas.DecisionType(decisionType)
		d.Risk = schemas.RiskLevel(risk)
		d.Status = schemas.DecisionStatus(status)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during decision row iteration: %w", err)
	}
	return out, nil
}

// SaveWindow appends one profit window to the history.
func (l *Ledger) SaveWindow(ctx context.Context, w schemas.ProfitWindow) error {
	sql := `
        INSERT INTO profit_windows (window_start, window_end, total_profit, total_spend, roi)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (window_start, window_end) DO NOTHING;
    `
	_, err := l.pool.Exec(ctx, sql,
		w.WindowStart.UTC(), w.WindowEnd.UTC(), w.TotalProfit, w.TotalSpend, w.ROI,
	)
	if err != nil {
		return fmt.Errorf("failed to save profit window: %w", err)
	}
	return nil
}

// RecentWindows returns the newest profit windows first, up to limit.
func (l *Ledger) RecentWindows(ctx context.Context, limit int) ([]schemas.ProfitWindow, error) {
	query := `
        SELECT window_start, window_end, total_profit, total_spend, roi
        FROM profit_windows
        ORDER BY window_end DESC
        LIMIT $1;
    `
	rows, err := l.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query profit windows: %w", err)
	}
	defer rows.Close()

	var out []schemas.ProfitWindow
	for rows.Next() {
		var w schemas.ProfitWindow
		if err := rows.Scan(&w.WindowStart, &w.WindowEnd, &w.TotalProfit, &w.TotalSpend, &w.ROI); err != nil {
			return nil, fmt.Errorf("failed to scan profit window row: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during window row iteration: %w", err)
	}
	return out, nil
}

// SnapshotArms replaces the stored snapshot with the current arm portfolio in
// one transaction.
func (l *Ledger) SnapshotArms(ctx context.Context, arms []schemas.Arm) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			l.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM arm_snapshots;`); err != nil {
		return fmt.Errorf("failed to clear previous snapshot: %w", err)
	}

	rows := make([][]interface{}, len(arms))
	for i, a := range arms {
		rows[i] = []interface{}{
			a.ID, a.StreamKey, a.Platform, a.HookType, a.TemplateStyle,
			a.Clicks, a.Conversions, a.Revenue, a.Spend, a.Profit,
			a.Allocation, a.Alpha, a.Beta, a.LastUpdated.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"arm_snapshots"},
		[]string{"id", "stream_key", "platform", "hook_type", "template_style", "clicks", "conversions", "revenue", "spend", "profit", "allocation", "alpha", "beta", "last_updated"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy arm snapshot: %w", err)
	}
	if int(copyCount) != len(arms) {
		return fmt.Errorf("mismatch in copied arm count: expected %d, got %d", len(arms), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	l.log.Debug("Arm snapshot persisted", zap.Int("arms", len(arms)))
	return nil
}

// LoadArms restores the last persisted arm snapshot.
func (l *Ledger) LoadArms(ctx context.Context) ([]schemas.Arm, error) {
	query := `
        SELECT id, stream_key, platform, hook_type, template_style, clicks, conversions, revenue, spend, profit, allocation, alpha, beta, last_updated
        FROM arm_snapshots
        ORDER BY id ASC;
    `
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query arm snapshot: %w", err)
	}
	defer rows.Close()

	var out []schemas.Arm
	for rows.Next() {
		var a schemas.Arm
		if err := rows.Scan(
			&a.ID, &a.StreamKey, &a.Platform, &a.HookType, &a.TemplateStyle,
			&a.Clicks, &a.Conversions, &a.Revenue, &a.Spend, &a.Profit,
			&a.Allocation, &a.Alpha, &a.Beta, &a.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan arm row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during arm row iteration: %w", err)
	}
	return out, nil
}
