package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/promoflow/promoflow/api/schemas"
)

func newTestLedger(t *testing.T) (*Ledger, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	l, err := New(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)
	return l, mock
}

func sampleDecision() schemas.SpendDecision {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return schemas.SpendDecision{
		ID:          "d-1",
		Type:        schemas.DecisionAutomatic,
		Amount:      25,
		ArmID:       "gadgets:tiktok:curiosity:fast_cut",
		Platform:    "tiktok",
		Risk:        schemas.RiskLow,
		ExpectedROI: 2.4,
		Status:      schemas.DecisionExecuted,
		ApprovedBy:  schemas.SystemApprover,
		CreatedAt:   now,
		ResolvedAt:  now,
		ExecutedAt:  now,
	}
}

func TestNewFailsWhenPingFails(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(assert.AnError)
	_, err = New(context.Background(), mock, zap.NewNop())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestEnsureSchema(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS spend_decisions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS profit_windows").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS arm_snapshots").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, l.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDecision(t *testing.T) {
	l, mock := newTestLedger(t)
	d := sampleDecision()

	mock.ExpectExec("INSERT INTO spend_decisions").
		WithArgs(
			d.ID, string(d.Type), d.Amount, d.ArmID, d.Platform,
			string(d.Risk), d.ExpectedROI, d.ApprovalRequired,
			string(d.Status), d.Reason, d.ApprovedBy,
			d.CreatedAt, d.ResolvedAt, d.ExecutedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, l.SaveDecision(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentDecisions(t *testing.T) {
	l, mock := newTestLedger(t)
	d := sampleDecision()

	rows := pgxmock.NewRows([]string{
		"id", "type", "amount", "arm_id", "platform", "risk", "expected_roi",
		"approval_required", "status", "reason", "approved_by",
		"created_at", "resolved_at", "executed_at",
	}).AddRow(
		d.ID, string(d.Type), d.Amount, d.ArmID, d.Platform, string(d.Risk), d.ExpectedROI,
		d.ApprovalRequired, string(d.Status), d.Reason, d.ApprovedBy,
		d.CreatedAt, d.ResolvedAt, d.ExecutedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM spend_decisions").
		WithArgs(10).
		WillReturnRows(rows)

	got, err := l.RecentDecisions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d, got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndLoadWindows(t *testing.T) {
	l, mock := newTestLedger(t)
	w := schemas.ProfitWindow{
		WindowStart: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		TotalProfit: 42,
		TotalSpend:  20,
		ROI:         3.1,
	}

	mock.ExpectExec("INSERT INTO profit_windows").
		WithArgs(w.WindowStart, w.WindowEnd, w.TotalProfit, w.TotalSpend, w.ROI).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, l.SaveWindow(context.Background(), w))

	mock.ExpectQuery("SELECT (.+) FROM profit_windows").
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"window_start", "window_end", "total_profit", "total_spend", "roi"}).
			AddRow(w.WindowStart, w.WindowEnd, w.TotalProfit, w.TotalSpend, w.ROI))

	got, err := l.RecentWindows(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, w, got[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotArmsRunsInTransaction(t *testing.T) {
	l, mock := newTestLedger(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	arms := []schemas.Arm{
		{ID: "a:tiktok:curiosity:fast_cut", StreamKey: "a", Platform: "tiktok", HookType: "curiosity", TemplateStyle: "fast_cut", Alpha: 1, Beta: 1, Allocation: 0.5, LastUpdated: now},
		{ID: "b:tiktok:curiosity:fast_cut", StreamKey: "b", Platform: "tiktok", HookType: "curiosity", TemplateStyle: "fast_cut", Alpha: 2, Beta: 1, Allocation: 0.5, LastUpdated: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM arm_snapshots").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCopyFrom(pgx.Identifier{"arm_snapshots"},
		[]string{"id", "stream_key", "platform", "hook_type", "template_style", "clicks", "conversions", "revenue", "spend", "profit", "allocation", "alpha", "beta", "last_updated"}).
		WillReturnResult(2)
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, l.SnapshotArms(context.Background(), arms))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotArmsRollsBackOnCopyFailure(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM arm_snapshots").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"arm_snapshots"},
		[]string{"id", "stream_key", "platform", "hook_type", "template_style", "clicks", "conversions", "revenue", "spend", "profit", "allocation", "alpha", "beta", "last_updated"}).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := l.SnapshotArms(context.Background(), []schemas.Arm{{ID: "x"}})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadArms(t *testing.T) {
	l, mock := newTestLedger(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM arm_snapshots").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "stream_key", "platform", "hook_type", "template_style",
			"clicks", "conversions", "revenue", "spend", "profit",
			"allocation", "alpha", "beta", "last_updated",
		}).AddRow(
			"a:tiktok:curiosity:fast_cut", "a", "tiktok", "curiosity", "fast_cut",
			int64(10), int64(2), 30.0, 10.0, 20.0,
			1.0, 2.0, 1.0, now,
		))

	arms, err := l.LoadArms(context.Background())
	require.NoError(t, err)
	require.Len(t, arms, 1)
	assert.Equal(t, "a:tiktok:curiosity:fast_cut", arms[0].ID)
	assert.EqualValues(t, 10, arms[0].Clicks)
	assert.InDelta(t, 20, arms[0].Profit, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}
