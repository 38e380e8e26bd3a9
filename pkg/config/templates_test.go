package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pilot/pkg/engine"
)

const serviceTemplate = `
template: {
	name: "service"
	description: "Deploy a service"
	steps: [
		{name: "deploy", depends_on: ["build"], script: "emit('deploy')"},
		{name: "build", script: "emit('build')"},
	]
}
`

func newTemplates(t *testing.T, dir string) *Templates {
	t.Helper()
	tmpls, err := NewTemplates(TemplatesConfig{Dir: dir, Default: DefaultTemplate}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTemplates() error = %v", err)
	}
	return tmpls
}

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}
}

func TestTemplates_Builtin(t *testing.T) {
	tmpls := newTemplates(t, "")

	if tmpls.Default() != DefaultTemplate {
		t.Errorf("Default() = %s", tmpls.Default())
	}

	steps, err := tmpls.Steps(DefaultTemplate)
	if err != nil {
		t.Fatalf("Steps() error = %v", err)
	}
	want := []string{"scaffold", "configure", "build"}
	if len(steps) != len(want) {
		t.Fatalf("got %d steps, want %d", len(steps), len(want))
	}
	for i, name := range want {
		if steps[i].Name != name || steps[i].Index != i {
			t.Errorf("step %d = %s/%d, want %s", i, steps[i].Name, steps[i].Index, name)
		}
	}

	// Callers get a copy.
	steps[0].Name = "mutated"
	again, _ := tmpls.Steps(DefaultTemplate)
	if again[0].Name != "scaffold" {
		t.Error("Steps() must not expose the registry's slice")
	}
}

func TestTemplates_UnknownTemplate(t *testing.T) {
	tmpls := newTemplates(t, "")

	_, err := tmpls.Steps("nope")
	if !errors.Is(err, engine.ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
	if _, err := tmpls.Graph("nope"); !errors.Is(err, engine.ErrUnknownTemplate) {
		t.Errorf("Graph() error = %v", err)
	}

	_, err = NewTemplates(TemplatesConfig{Default: "missing"}, zerolog.Nop())
	if !errors.Is(err, engine.ErrUnknownTemplate) {
		t.Errorf("a missing default template should fail, got %v", err)
	}
}

func TestTemplates_Directory(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "service.cue", serviceTemplate)
	writeTemplate(t, dir, "notes.txt", "ignored")

	tmpls := newTemplates(t, dir)

	list := tmpls.List()
	if len(list) != 2 || list[0].Name != "default" || list[1].Name != "service" {
		t.Fatalf("List() = %v", list)
	}

	steps, err := tmpls.Steps("service")
	if err != nil {
		t.Fatalf("Steps() error = %v", err)
	}
	if steps[0].Name != "build" || steps[1].Name != "deploy" {
		t.Errorf("steps not ordered by dependency: %s, %s", steps[0].Name, steps[1].Name)
	}

	tmpl, _ := tmpls.Get("service")
	if tmpl.Description != "Deploy a service" || tmpl.Source != filepath.Join(dir, "service.cue") {
		t.Errorf("unexpected template %+v", tmpl)
	}

	dot, err := tmpls.Graph("service")
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	if !strings.Contains(dot, `"build" -> "deploy";`) {
		t.Errorf("DOT output missing edge:\n%s", dot)
	}
}

func TestTemplates_OverrideBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "default.cue", `
template: {
	name: "default"
	steps: [{name: "only", script: "pass"}]
}
`)

	steps, err := newTemplates(t, dir).Steps(DefaultTemplate)
	if err != nil {
		t.Fatalf("Steps() error = %v", err)
	}
	if len(steps) != 1 || steps[0].Name != "only" {
		t.Errorf("directory template should override the built-in, got %v", steps)
	}
}

func TestTemplates_Parse_Invalid(t *testing.T) {
	tmpls := newTemplates(t, "")

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "template: {", "invalid template"},
		{"missing value", "other: 1", "no template declared"},
		{"no steps", `template: {name: "x", steps: []}`, "invalid template"},
		{"bad step name", `template: {name: "x", steps: [{name: "a b", script: ""}]}`, "invalid template"},
		{"unknown field", `template: {name: "x", owner: "me", steps: [{name: "a", script: ""}]}`, "invalid template"},
		{"cycle", `template: {name: "x", steps: [
	{name: "a", depends_on: ["b"], script: ""},
	{name: "b", depends_on: ["a"], script: ""},
]}`, "circular dependency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tmpls.Parse("bad.cue", []byte(tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should contain %q", err, tt.want)
			}
		})
	}
}

func TestTemplates_ParseErrorHasPosition(t *testing.T) {
	tmpls := newTemplates(t, "")

	_, err := tmpls.Parse("pos.cue", []byte("template: {\n\tname: \"x\"\n\tsteps: [}\n"))
	var terr *TemplateError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TemplateError, got %v", err)
	}
	found := false
	for _, ve := range terr.Errors {
		if ve.File == "pos.cue" && ve.Line > 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("no positioned error in %+v", terr.Errors)
	}
}

func TestTemplates_DuplicateInDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "a.cue", serviceTemplate)
	writeTemplate(t, dir, "b.cue", serviceTemplate)

	_, err := NewTemplates(TemplatesConfig{Dir: dir, Default: DefaultTemplate}, zerolog.Nop())
	if err == nil || !strings.Contains(err.Error(), "declared by both") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestTemplates_Watch(t *testing.T) {
	dir := t.TempDir()
	tmpls := newTemplates(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tmpls.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeTemplate(t, dir, "service.cue", serviceTemplate)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := tmpls.Get("service"); ok {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if _, ok := tmpls.Get("service"); !ok {
		t.Fatal("template was not picked up by the watcher")
	}

	// A broken file keeps the previous templates.
	writeTemplate(t, dir, "broken.cue", "template: {")
	time.Sleep(2 * templateReloadDelay)
	if _, ok := tmpls.Get("service"); !ok {
		t.Error("a failed reload must keep the active templates")
	}
}

func TestTemplates_WatchWithoutDir(t *testing.T) {
	if err := newTemplates(t, "").Watch(context.Background()); err == nil {
		t.Error("expected error without a template directory")
	}
}
