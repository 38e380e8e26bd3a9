package config

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pilot/pkg/engine"
	"github.com/openfroyo/pilot/pkg/orchestrator"
	"github.com/openfroyo/pilot/pkg/stores"
)

// DefaultTemplate names the built-in template used when none is requested.
const DefaultTemplate = "default"

// templateReloadDelay debounces bursts of file events into one reload.
const templateReloadDelay = 500 * time.Millisecond

//go:embed templates/*.cue
var builtinTemplates embed.FS

// templateSchema constrains every template file. A template declares at
// least one step.
const templateSchema = `
#Step: {
	name:        string & =~"^[a-zA-Z0-9_-]+$"
	depends_on?: [...string]
	script:      string
}

#Template: {
	name:         string & =~"^[a-zA-Z0-9_-]+$"
	description?: string
	steps: [#Step, ...#Step]
}
`

// Template is a parsed project template.
type Template struct {
	Name        string                 `json:"name" validate:"required"`
	Description string                 `json:"description,omitempty"`
	Defs        []orchestrator.StepDef `json:"steps" validate:"required,min=1,dive"`

	// Source is the file the template was read from.
	Source string `json:"-"`

	// Steps is Defs in execution order.
	Steps []stores.Step `json:"-"`
}

// ValidationError describes one problem found in a template file.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.File == "" {
		return e.Message
	}
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// TemplateError collects the problems of a template file that failed to load.
type TemplateError struct {
	Errors []ValidationError
}

func (e *TemplateError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return "invalid template: " + strings.Join(msgs, "; ")
}

// Templates is a registry of CUE project templates: the embedded built-ins
// plus any *.cue files found in a directory. It implements
// engine.TemplateSource.
type Templates struct {
	cfg      TemplatesConfig
	logger   zerolog.Logger
	validate *validator.Validate

	// cueMu serializes use of the CUE runtime.
	cueMu  sync.Mutex
	cue    *cue.Context
	schema cue.Value

	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplates loads the built-in templates and cfg.Dir.
func NewTemplates(cfg TemplatesConfig, logger zerolog.Logger) (*Templates, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(templateSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile template schema: %w", err)
	}

	t := &Templates{
		cfg:      cfg,
		logger:   logger.With().Str("component", "templates").Logger(),
		validate: validator.New(),
		cue:      ctx,
		schema:   schema.LookupPath(cue.ParsePath("#Template")),
	}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	if _, ok := t.Get(t.Default()); !ok {
		return nil, fmt.Errorf("default template %q: %w", t.Default(), engine.ErrUnknownTemplate)
	}
	return t, nil
}

// Default returns the name of the template used when none is requested.
func (t *Templates) Default() string {
	if t.cfg.Default == "" {
		return DefaultTemplate
	}
	return t.cfg.Default
}

// Steps returns the steps of the named template in execution order.
func (t *Templates) Steps(name string) ([]stores.Step, error) {
	tmpl, ok := t.Get(name)
	if !ok {
		return nil, fmt.Errorf("template %q: %w", name, engine.ErrUnknownTemplate)
	}
	steps := make([]stores.Step, len(tmpl.Steps))
	copy(steps, tmpl.Steps)
	return steps, nil
}

// Get returns the named template.
func (t *Templates) Get(name string) (*Template, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tmpl, ok := t.templates[name]
	return tmpl, ok
}

// List returns all templates sorted by name.
func (t *Templates) List() []*Template {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Template, 0, len(t.templates))
	for _, tmpl := range t.templates {
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Graph renders the named template's step graph in DOT format.
func (t *Templates) Graph(name string) (string, error) {
	tmpl, ok := t.Get(name)
	if !ok {
		return "", fmt.Errorf("template %q: %w", name, engine.ErrUnknownTemplate)
	}
	b := orchestrator.NewGraphBuilder()
	if _, err := b.Build(tmpl.Defs); err != nil {
		return "", err
	}
	return b.ToDOT(), nil
}

// Reload rebuilds the registry. Nothing is replaced unless every file loads,
// and a template in the directory overrides a built-in of the same name.
func (t *Templates) Reload() error {
	loaded := make(map[string]*Template)

	err := fs.WalkDir(builtinTemplates, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := builtinTemplates.ReadFile(path)
		if err != nil {
			return err
		}
		tmpl, err := t.Parse("builtin:"+path, data)
		if err != nil {
			return err
		}
		loaded[tmpl.Name] = tmpl
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load built-in templates: %w", err)
	}

	if t.cfg.Dir != "" {
		files, err := filepath.Glob(filepath.Join(t.cfg.Dir, "*.cue"))
		if err != nil {
			return fmt.Errorf("failed to list templates in %s: %w", t.cfg.Dir, err)
		}
		sort.Strings(files)
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read template %s: %w", file, err)
			}
			tmpl, err := t.Parse(file, data)
			if err != nil {
				return err
			}
			if prev, ok := loaded[tmpl.Name]; ok && !strings.HasPrefix(prev.Source, "builtin:") {
				return fmt.Errorf("template %q is declared by both %s and %s", tmpl.Name, prev.Source, file)
			}
			loaded[tmpl.Name] = tmpl
		}
	}

	t.mu.Lock()
	t.templates = loaded
	t.mu.Unlock()

	t.logger.Debug().Int("templates", len(loaded)).Str("dir", t.cfg.Dir).Msg("Templates loaded")
	return nil
}

// Parse compiles one template file, checks it against the template schema
// and orders its steps.
func (t *Templates) Parse(file string, data []byte) (*Template, error) {
	t.cueMu.Lock()
	val := t.cue.CompileBytes(data, cue.Filename(file))
	if err := val.Err(); err != nil {
		t.cueMu.Unlock()
		return nil, &TemplateError{Errors: convertCUEErrors(err)}
	}

	tv := val.LookupPath(cue.ParsePath("template"))
	if !tv.Exists() {
		t.cueMu.Unlock()
		return nil, &TemplateError{Errors: []ValidationError{{File: file, Message: "no template declared"}}}
	}

	unified := t.schema.Unify(tv)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		t.cueMu.Unlock()
		return nil, &TemplateError{Errors: convertCUEErrors(err)}
	}

	var tmpl Template
	err := unified.Decode(&tmpl)
	t.cueMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", file, err)
	}

	if err := t.validate.Struct(&tmpl); err != nil {
		return nil, &TemplateError{Errors: []ValidationError{{File: file, Message: err.Error()}}}
	}

	steps, err := orchestrator.Plan(tmpl.Defs)
	if err != nil {
		return nil, &TemplateError{Errors: []ValidationError{{File: file, Message: err.Error()}}}
	}

	tmpl.Source = file
	tmpl.Steps = steps
	return &tmpl, nil
}

// Watch reloads the registry when *.cue files in the template directory
// change. It returns once the watcher is set up; watching stops with ctx.
func (t *Templates) Watch(ctx context.Context) error {
	if t.cfg.Dir == "" {
		return fmt.Errorf("no template directory configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(t.cfg.Dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", t.cfg.Dir, err)
	}

	go t.processEvents(ctx, watcher)

	t.logger.Info().Str("dir", t.cfg.Dir).Msg("Watching templates")
	return nil
}

func (t *Templates) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 ||
				filepath.Ext(event.Name) != ".cue" {
				continue
			}

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(templateReloadDelay, func() {
				if err := t.Reload(); err != nil {
					// The previous templates stay active.
					t.logger.Error().Err(err).Msg("Failed to reload templates")
					return
				}
				t.logger.Info().Msg("Templates reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// convertCUEErrors flattens a CUE error into positioned validation errors.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{Message: strings.TrimSpace(cueerrors.Details(e, nil))}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}
