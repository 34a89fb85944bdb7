package state

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ledger is the local, migration-managed SQLite audit trail of runs,
// steps and events: the bookkeeping the scheduler's own checkpointing
// needs (step attempts, terminal events, checkpoint timestamps), kept
// separate from the state.json blob of record.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if absent) the SQLite database at path
// and applies the embedded migrations.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, deploy.NewEngineFailure("failed to open ledger database", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, deploy.NewEngineFailure("failed to initialize ledger migration driver", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, deploy.NewEngineFailure("failed to open embedded ledger migrations", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return nil, deploy.NewEngineFailure("failed to load ledger migrations", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, deploy.NewEngineFailure("failed to apply ledger migrations", err)
	}

	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginRun records a new run and returns its ID.
func (l *Ledger) BeginRun(ctx context.Context, command string) (string, error) {
	id := uuid.New().String()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, started_at) VALUES (?, ?, ?)`,
		id, command, time.Now())
	if err != nil {
		return "", deploy.NewEngineFailure("failed to record run start", err)
	}
	return id, nil
}

// EndRun records a run's terminal exit code.
func (l *Ledger) EndRun(ctx context.Context, runID string, exitCode int) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, exit_code = ? WHERE id = ?`,
		time.Now(), exitCode, runID)
	if err != nil {
		return deploy.NewEngineFailure("failed to record run end", err)
	}
	return nil
}

// RecordStep appends a step event to the ledger for crash-recovery
// auditing: one row for the step's terminal outcome, carrying its
// NbAttempts count. Individual retry attempts are not recorded.
func (l *Ledger) RecordStep(ctx context.Context, runID string, step *deploy.Step) error {
	var errMsg string
	if step.Err != nil {
		errMsg = step.Err.Error()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO step_events (id, run_id, module, account_id, region, action, state, skip_cause, nb_attempts, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID,
		step.Key.Module, step.Key.AccountID, step.Key.Region,
		string(step.Action), string(step.State), string(step.SkipCause),
		step.NbAttempts, errMsg, time.Now())
	if err != nil {
		return deploy.NewEngineFailure("failed to record step event", err)
	}
	return nil
}

// RecordCheckpoint logs a checkpoint write for duration/diagnostic
// observability.
func (l *Ledger) RecordCheckpoint(ctx context.Context, runID string, duration time.Duration) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, run_id, duration_ms, recorded_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), runID, duration.Milliseconds(), time.Now())
	if err != nil {
		return deploy.NewEngineFailure("failed to record checkpoint", err)
	}
	return nil
}
