package signals

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/custodian-labs/custodian/pkg/contracts"
)

// Archive is the durable sqlite copy of the governance signal streams, kept
// for retention beyond JSONL rotation.
type Archive struct {
	db *sql.DB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS governance_signals (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	stage         TEXT NOT NULL,
	timestamp     TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	business_mode TEXT NOT NULL,
	decision      TEXT NOT NULL,
	risk_level    TEXT,
	plan_id       TEXT,
	intent_id     TEXT,
	profile       TEXT
);
CREATE INDEX IF NOT EXISTS idx_signals_stage_ts ON governance_signals (stage, timestamp);
CREATE TABLE IF NOT EXISTS matrix_signals (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp           TEXT NOT NULL,
	session_id          TEXT NOT NULL,
	business_mode       TEXT NOT NULL,
	portfolio_pass      INTEGER NOT NULL,
	regression_positive INTEGER NOT NULL,
	stage_error         INTEGER NOT NULL,
	score               REAL NOT NULL,
	valid_rate          REAL NOT NULL
);
`

// OpenArchive opens (and initializes) the archive at path.
func OpenArchive(ctx context.Context, path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open signal archive: %v", contracts.ErrIO, err)
	}
	if _, err := db.ExecContext(ctx, archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initialize signal archive: %v", contracts.ErrIO, err)
	}
	return &Archive{db: db}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error { return a.db.Close() }

// StoreSignals appends governance signals in one transaction.
func (a *Archive) StoreSignals(ctx context.Context, sigs []contracts.Signal) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: archive transaction: %v", contracts.ErrIO, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO governance_signals
		(stage, timestamp, session_id, business_mode, decision, risk_level, plan_id, intent_id, profile)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare archive insert: %v", contracts.ErrIO, err)
	}
	defer stmt.Close()

	for _, s := range sigs {
		if _, err := stmt.ExecContext(ctx,
			string(s.Stage), s.Timestamp, s.SessionID, string(s.BusinessMode),
			s.Decision, string(s.RiskLevel), s.PlanID, s.IntentID, s.Profile); err != nil {
			return fmt.Errorf("%w: archive signal: %v", contracts.ErrIO, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit archive: %v", contracts.ErrIO, err)
	}
	return nil
}

// StoreMatrix appends matrix baseline records in one transaction.
func (a *Archive) StoreMatrix(ctx context.Context, sigs []contracts.MatrixSignal) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: archive transaction: %v", contracts.ErrIO, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO matrix_signals
		(timestamp, session_id, business_mode, portfolio_pass, regression_positive, stage_error, score, valid_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare archive insert: %v", contracts.ErrIO, err)
	}
	defer stmt.Close()

	for _, s := range sigs {
		if _, err := stmt.ExecContext(ctx,
			s.Timestamp, s.SessionID, string(s.BusinessMode),
			boolInt(s.PortfolioPass), boolInt(s.RegressionPositive), boolInt(s.StageError),
			s.Score, s.ValidRate); err != nil {
			return fmt.Errorf("%w: archive matrix signal: %v", contracts.ErrIO, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit archive: %v", contracts.ErrIO, err)
	}
	return nil
}

// CountByStage returns the archived signal totals per stage.
func (a *Archive) CountByStage(ctx context.Context) (map[string]int, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT stage, COUNT(*) FROM governance_signals GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("%w: query archive: %v", contracts.ErrIO, err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("%w: scan archive row: %v", contracts.ErrIO, err)
		}
		out[stage] = n
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
