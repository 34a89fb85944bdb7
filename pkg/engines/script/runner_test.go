package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRun_SuccessfulScript(t *testing.T) {
	dir := t.TempDir()
	script := `
made_changes = len(variables["tags"]) > 0
resulted_in_changes = made_changes
outputs = {"tag_count": len(variables["tags"])}
result_summary = "applied %d tags" % len(variables["tags"])
`
	if err := os.WriteFile(filepath.Join(dir, "apply.star"), []byte(script), 0o644); err != nil {
		t.Fatalf("failed to write entrypoint: %v", err)
	}

	in := inputEnvelope{
		Module:     "script.tagger",
		AccountID:  "222222222222",
		Region:     "us-east-1",
		Command:    "apply",
		Action:     "create",
		Variables:  map[string]interface{}{"tags": []interface{}{"a", "b", "c"}},
		Entrypoint: "apply.star",
	}

	out := Run(context.Background(), dir, in)
	if out.Error != "" {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if !out.MadeChanges {
		t.Error("expected made_changes to be true")
	}
	if out.Outputs["tag_count"] != int64(3) {
		t.Errorf("expected tag_count 3, got %v (%T)", out.Outputs["tag_count"], out.Outputs["tag_count"])
	}
	if out.ResultSummary != "applied 3 tags" {
		t.Errorf("unexpected summary: %q", out.ResultSummary)
	}
}

func TestRun_ScriptSyntaxError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.star"), []byte("this is not ) valid starlark ("), 0o644); err != nil {
		t.Fatalf("failed to write entrypoint: %v", err)
	}

	in := inputEnvelope{Entrypoint: "bad.star", Variables: map[string]interface{}{}}
	out := Run(context.Background(), dir, in)
	if out.Error == "" {
		t.Error("expected a syntax error to be reported")
	}
}

func TestRun_MissingEntrypoint(t *testing.T) {
	dir := t.TempDir()
	in := inputEnvelope{Entrypoint: "does-not-exist.star", Variables: map[string]interface{}{}}
	out := Run(context.Background(), dir, in)
	if out.Error == "" {
		t.Error("expected a missing-file error to be reported")
	}
}

func TestRun_DefaultsWhenGlobalsUnset(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "noop.star"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatalf("failed to write entrypoint: %v", err)
	}

	in := inputEnvelope{Entrypoint: "noop.star", Variables: map[string]interface{}{}}
	out := Run(context.Background(), dir, in)
	if out.Error != "" {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.MadeChanges || out.ResultedInChanges {
		t.Error("expected made_changes and resulted_in_changes to default to false")
	}
}

func TestRun_OutputsMustBeADict(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad_outputs.star"), []byte("outputs = 5\n"), 0o644); err != nil {
		t.Fatalf("failed to write entrypoint: %v", err)
	}

	in := inputEnvelope{Entrypoint: "bad_outputs.star", Variables: map[string]interface{}{}}
	out := Run(context.Background(), dir, in)
	if out.Error == "" {
		t.Error("expected an error when outputs global is not a dict")
	}
}

func TestToAndFromStarlarkValue_RoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"name":    "vpc",
		"count":   float64(2),
		"enabled": true,
		"tags":    []interface{}{"a", "b"},
	}
	sv, err := toStarlarkValue(in)
	if err != nil {
		t.Fatalf("toStarlarkValue failed: %v", err)
	}
	back, err := fromStarlarkValue(sv)
	if err != nil {
		t.Fatalf("fromStarlarkValue failed: %v", err)
	}
	m, ok := back.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", back)
	}
	if m["name"] != "vpc" || m["enabled"] != true {
		t.Errorf("round trip mismatch: %+v", m)
	}
}
