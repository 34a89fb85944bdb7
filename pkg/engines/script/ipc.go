package script

import "github.com/meridian-iac/deployer/pkg/deploy"

// inputEnvelope is the JSON document written to input.json in the
// step's deployment cache directory: the sole channel between the
// dispatcher's subprocess and the embedded interpreter it re-invokes.
type inputEnvelope struct {
	Module     string                 `json:"module"`
	AccountID  string                 `json:"account_id"`
	Region     string                 `json:"region"`
	Command    string                 `json:"command"`
	Action     string                 `json:"action"`
	Variables  map[string]interface{} `json:"variables"`
	Entrypoint string                 `json:"entrypoint"`
}

// outputEnvelope is the JSON document the interpreter writes to
// output.json, read back by Postprocess into a deploy.StepOutcome.
type outputEnvelope struct {
	MadeChanges       bool                   `json:"made_changes"`
	ResultSummary     string                 `json:"result_summary,omitempty"`
	DetailedResults   string                 `json:"detailed_results,omitempty"`
	Outputs           map[string]interface{} `json:"outputs,omitempty"`
	ResultedInChanges bool                   `json:"resulted_in_changes"`
	Error             string                 `json:"error,omitempty"`
}

func (o *outputEnvelope) toStepOutcome() *deploy.StepOutcome {
	return &deploy.StepOutcome{
		MadeChanges:       o.MadeChanges,
		ResultSummary:     o.ResultSummary,
		DetailedResults:   o.DetailedResults,
		Outputs:           o.Outputs,
		ResultedInChanges: o.ResultedInChanges,
	}
}
