package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

// stepOutput is the per-key shape written into output.json, flattening
// the parts of deploy.Step a caller would want without reaching into
// the scheduler's internal types.
type stepOutput struct {
	Module    string `json:"module"`
	AccountID string `json:"account_id"`
	Region    string `json:"region"`
	Action    string `json:"action"`
	State     string `json:"state"`
	SkipCause string `json:"skip_cause,omitempty"`

	NbAttempts        int                    `json:"nb_attempts"`
	ResultSummary     string                 `json:"result_summary,omitempty"`
	DetailedResults   string                 `json:"detailed_results,omitempty"`
	Outputs           map[string]interface{} `json:"outputs,omitempty"`
	ResultedInChanges bool                   `json:"resulted_in_changes"`
	Error             string                 `json:"error,omitempty"`
}

func newStepOutput(s *deploy.Step) stepOutput {
	out := stepOutput{
		Module:     s.Key.Module,
		AccountID:  s.Key.AccountID,
		Region:     s.Key.Region,
		Action:     string(s.Action),
		State:      string(s.State),
		SkipCause:  string(s.SkipCause),
		NbAttempts: s.NbAttempts,
	}
	if s.Result != nil {
		out.ResultSummary = s.Result.ResultSummary
		out.DetailedResults = s.Result.DetailedResults
		out.Outputs = s.Result.Outputs
		out.ResultedInChanges = s.Result.ResultedInChanges
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return out
}

// listOutput is written by the list command: a dry classification with
// no engine execution.
type listOutput struct {
	PendingChanges           []stepOutput `json:"pending_changes"`
	PendingButSkippedChanges []stepOutput `json:"pending_but_skipped_changes"`
	NoChanges                []stepOutput `json:"no_changes"`
}

// runOutput is written by preview and apply: the three buckets a step
// can land in once the scheduler has run the graph to quiescence.
type runOutput struct {
	Completed []stepOutput `json:"completed"`
	Failed    []stepOutput `json:"failed"`
	Pending   []stepOutput `json:"pending"`
}

func bucketList(steps map[deploy.Key]*deploy.Step) listOutput {
	var out listOutput
	for _, s := range steps {
		so := newStepOutput(s)
		switch {
		case s.Action == deploy.ActionNoChange:
			out.NoChanges = append(out.NoChanges, so)
		case s.State == deploy.StepSkipped:
			out.PendingButSkippedChanges = append(out.PendingButSkippedChanges, so)
		case s.Action.IsPending():
			out.PendingChanges = append(out.PendingChanges, so)
		default:
			out.NoChanges = append(out.NoChanges, so)
		}
	}
	return out
}

func bucketRun(steps map[deploy.Key]*deploy.Step) runOutput {
	var out runOutput
	for _, s := range steps {
		so := newStepOutput(s)
		switch s.State {
		case deploy.StepCompleted:
			out.Completed = append(out.Completed, so)
		case deploy.StepFailed:
			out.Failed = append(out.Failed, so)
		default:
			out.Pending = append(out.Pending, so)
		}
	}
	return out
}

func writeOutputFile(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", path, err)
	}
	return nil
}

// hasPending reports whether any key in a listOutput represents an
// unapplied or skipped change, for --detailed-exitcode.
func (o listOutput) hasPending() bool {
	return len(o.PendingChanges) > 0 || len(o.PendingButSkippedChanges) > 0
}

// hasPending reports the same thing for a run output: anything not
// cleanly Completed.
func (o runOutput) hasPending() bool {
	return len(o.Failed) > 0 || len(o.Pending) > 0
}
