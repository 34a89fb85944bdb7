package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian-iac/deployer/pkg/deploy"
	"github.com/meridian-iac/deployer/pkg/graph"
	"github.com/meridian-iac/deployer/pkg/state"
)

// checkpointer implements scheduler.Checkpointer: it folds every
// terminal step's result into the state document and persists it, then
// records one ledger event per step plus a checkpoint event.
type checkpointer struct {
	store    *state.Store
	ledger   *state.Ledger
	runID    string
	resolver *resolver
	doc      *state.Document
	recorded map[deploy.Key]bool // terminal steps already written to the ledger
	log      zerolog.Logger
}

func newCheckpointer(store *state.Store, ledger *state.Ledger, runID string, doc *state.Document, resolver *resolver, log zerolog.Logger) *checkpointer {
	return &checkpointer{
		store:    store,
		ledger:   ledger,
		runID:    runID,
		doc:      doc,
		resolver: resolver,
		recorded: map[deploy.Key]bool{},
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// Checkpoint implements scheduler.Checkpointer. It is invoked
// periodically while the scheduler runs and once more after it
// returns, so it must be safe to call repeatedly: ApplyStepResult is
// idempotent for an already-applied terminal step, and recorded guards
// against writing the same step's ledger event twice.
func (c *checkpointer) Checkpoint(ctx context.Context, g *graph.Graph) error {
	start := time.Now()

	for k, step := range g.Steps {
		if !step.Terminal() {
			continue
		}
		state.ApplyStepResult(c.doc, step, c.resolver.buildRecord(k))

		if c.ledger != nil && !c.recorded[k] {
			if err := c.ledger.RecordStep(ctx, c.runID, step); err != nil {
				c.log.Warn().Err(err).Str("key", k.String()).Msg("failed to record step event")
			}
			c.recorded[k] = true
		}
	}

	if c.store != nil {
		if err := c.store.Save(ctx, c.doc); err != nil {
			return err
		}
	}
	if c.ledger != nil {
		if err := c.ledger.RecordCheckpoint(ctx, c.runID, time.Since(start)); err != nil {
			c.log.Warn().Err(err).Msg("failed to record checkpoint event")
		}
	}
	return nil
}
