// Package state implements the State Store: the persisted deployment
// record document (the object-store blob of record) plus a local
// relational ledger of runs, steps and events used for crash-recovery
// auditing and checkpoint history.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/meridian-iac/deployer/pkg/deploy"
)

// Deployment pairs a key with its persisted record, matching the
// `state.json` shape of the external interface.
type Deployment struct {
	Deployment   deploy.Key     `json:"Deployment"`
	CurrentState *deploy.Record `json:"CurrentState"`
}

// Document is the full persisted state document.
type Document struct {
	Deployments []Deployment `json:"Deployments"`
}

// ToMap converts the document into the key-indexed form every other
// package works with.
func (d *Document) ToMap() map[deploy.Key]*deploy.Record {
	out := make(map[deploy.Key]*deploy.Record, len(d.Deployments))
	for _, dep := range d.Deployments {
		out[dep.Deployment] = dep.CurrentState
	}
	return out
}

// FromMap builds a Document from the key-indexed form, with a stable
// key ordering for reproducible diffs between checkpoints.
func FromMap(m map[deploy.Key]*deploy.Record) *Document {
	doc := &Document{Deployments: make([]Deployment, 0, len(m))}
	for k, rec := range m {
		doc.Deployments = append(doc.Deployments, Deployment{Deployment: k, CurrentState: rec})
	}
	sort.Slice(doc.Deployments, func(i, j int) bool {
		return doc.Deployments[i].Deployment.String() < doc.Deployments[j].Deployment.String()
	})
	return doc
}

// Exists implements graph.CurrentStateIndex.
func (d *Document) Exists(k deploy.Key) bool {
	for _, dep := range d.Deployments {
		if dep.Deployment == k {
			return true
		}
	}
	return false
}

// ObjectStore is the out-of-scope collaborator the state document and
// inventory cache blob are persisted through: a versioned, whole-blob
// key/value store (an S3-compatible bucket, a local file, ...).
type ObjectStore interface {
	// Get returns the current bytes for key, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put atomically replaces the bytes for key with a new version.
	Put(ctx context.Context, key string, data []byte) error
}

// ErrNotExist is returned by an ObjectStore when key has never been
// written.
var ErrNotExist = fmt.Errorf("object does not exist")

const stateObjectKey = "state.json"

// Store wraps an ObjectStore with the (de)serialization and atomicity
// discipline the state document needs.
type Store struct {
	objects ObjectStore
}

// New constructs a Store over the given ObjectStore.
func New(objects ObjectStore) *Store {
	return &Store{objects: objects}
}

// Load reads and parses the current state document. A never-written
// object is treated as an empty document (first run).
func (s *Store) Load(ctx context.Context) (*Document, error) {
	data, err := s.objects.Get(ctx, stateObjectKey)
	if err != nil {
		if err == ErrNotExist {
			return &Document{}, nil
		}
		return nil, deploy.NewEngineFailure("failed to read persisted state", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, deploy.NewValidationError("persisted state is not valid JSON", err)
	}
	return &doc, nil
}

// Save writes doc as a single atomic whole-object replacement.
func (s *Store) Save(ctx context.Context, doc *Document) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return deploy.NewValidationError("failed to encode state document", err)
	}
	if err := s.objects.Put(ctx, stateObjectKey, buf.Bytes()); err != nil {
		return deploy.NewEngineFailure("failed to persist state", err)
	}
	return nil
}

// ApplyStepResult mutates doc in place for a single terminal step,
// honoring invariant I6: a successful step updates its own record
// exactly once; a failing step leaves its record untouched.
//
// target is the Scope Expander/Variable Resolver's resolved record for
// this key (nil for a Destroy step, which has no target). On a
// successful Create/Update/ConditionalUpdate, target's Variables,
// VariablesFromOutputs, Dependencies and ModuleHash are copied into the
// persisted CurrentState alongside the engine's Outputs and
// LastChangedTime, so a subsequent run's reconciler sees the full
// record the Equal comparison depends on rather than just outputs.
func ApplyStepResult(doc *Document, step *deploy.Step, target *deploy.Record) {
	switch step.Action {
	case deploy.ActionDestroy:
		if step.State == deploy.StepCompleted {
			removeDeployment(doc, step.Key)
		}
	case deploy.ActionCreate, deploy.ActionUpdate, deploy.ActionConditionalUpdate:
		if step.State != deploy.StepCompleted {
			return
		}
		rec := findOrCreate(doc, step.Key)
		if target != nil {
			rec.Variables = target.Variables
			rec.VariablesFromOutputs = target.VariablesFromOutputs
			rec.Dependencies = target.Dependencies
			rec.ModuleHash = target.ModuleHash
		}
		rec.LastChangedTime = step.CompletedAt
		if rec.LastChangedTime.IsZero() {
			rec.LastChangedTime = time.Now()
		}
		if step.Result != nil {
			outputs := make(map[string]json.RawMessage, len(step.Result.Outputs))
			for k, v := range step.Result.Outputs {
				raw, err := json.Marshal(v)
				if err == nil {
					outputs[k] = raw
				}
			}
			if len(outputs) > 0 {
				rec.Outputs = outputs
			}
		}
	}
}

func findOrCreate(doc *Document, k deploy.Key) *deploy.Record {
	for i := range doc.Deployments {
		if doc.Deployments[i].Deployment == k {
			if doc.Deployments[i].CurrentState == nil {
				doc.Deployments[i].CurrentState = &deploy.Record{}
			}
			return doc.Deployments[i].CurrentState
		}
	}
	rec := &deploy.Record{}
	doc.Deployments = append(doc.Deployments, Deployment{Deployment: k, CurrentState: rec})
	return rec
}

func removeDeployment(doc *Document, k deploy.Key) {
	out := doc.Deployments[:0]
	for _, d := range doc.Deployments {
		if d.Deployment != k {
			out = append(out, d)
		}
	}
	doc.Deployments = out
}
