package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/pilot/pkg/engine"
	"github.com/openfroyo/pilot/pkg/sink"
	"github.com/openfroyo/pilot/pkg/telemetry"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

const unexpectedMessage = "An unexpected error occurred"

// ConfigSource provides the configuration shown by /api/show_config.
// *config.Config implements it.
type ConfigSource interface {
	Snapshot() map[string]interface{}
}

type startRequest struct {
	Name     string `json:"name" validate:"required"`
	Template string `json:"template"`
}

type runRequest struct {
	ID     string `json:"id" validate:"required"`
	Branch string `json:"branch"`
	Step   *int   `json:"step" validate:"omitempty,gte=0"`
}

type outputBody struct {
	Output string `json:"output"`
}

type errorBody struct {
	Error  string `json:"error"`
	Output string `json:"output,omitempty"`
}

type projectsBody struct {
	Projects []engine.ProjectSummary `json:"projects"`
}

// Dispatcher maps each API operation to one bridge invocation with a fresh
// accumulator sink.
type Dispatcher struct {
	bridge    *engine.Bridge
	lifecycle *engine.Lifecycle
	config    ConfigSource
	logger    *telemetry.Logger
	validate  *validator.Validate
}

// NewDispatcher creates a dispatcher over lc.
func NewDispatcher(bridge *engine.Bridge, lc *engine.Lifecycle, cfg ConfigSource, tel *telemetry.Telemetry) *Dispatcher {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Dispatcher{
		bridge:    bridge,
		lifecycle: lc,
		config:    cfg,
		logger:    tel.Logger.NewComponentLogger("api"),
		validate:  v,
	}
}

// Register adds the API routes to mux.
func (d *Dispatcher) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/start_project", d.startProject)
	mux.HandleFunc("GET /api/list_projects", d.listProjects)
	mux.HandleFunc("POST /api/run_project", d.runProject)
	mux.HandleFunc("DELETE /api/delete_project/{id}", d.deleteProject)
	mux.HandleFunc("GET /api/show_config", d.showConfig)
}

func (d *Dispatcher) startProject(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := d.decode(w, r, &req); err != nil {
		d.fail(w, r, err)
		return
	}

	res := d.bridge.Invoke(r.Context(), "start_project",
		d.lifecycle.CreateWorkflow(sink.NewAccumulator(), req.Name, req.Template))
	if res.Err != nil {
		d.fail(w, r, res.Err)
		return
	}
	if !res.Success() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("Failed to create project '%s'", req.Name)})
		return
	}
	writeOutput(w, res.Outcome.Output, fmt.Sprintf("Project '%s' created successfully", req.Name))
}

func (d *Dispatcher) listProjects(w http.ResponseWriter, r *http.Request) {
	res := d.bridge.Invoke(r.Context(), "list_projects", d.lifecycle.ListWorkflow(sink.NewAccumulator()))
	if res.Err != nil {
		d.fail(w, r, res.Err)
		return
	}

	projects, _ := res.Outcome.Value.([]engine.ProjectSummary)
	if projects == nil {
		projects = []engine.ProjectSummary{}
	}
	writeJSON(w, http.StatusOK, projectsBody{Projects: projects})
}

func (d *Dispatcher) runProject(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := d.decode(w, r, &req); err != nil {
		d.fail(w, r, err)
		return
	}

	res := d.bridge.Invoke(r.Context(), "run_project",
		d.lifecycle.RunWorkflow(sink.NewAccumulator(), req.ID, req.Branch, req.Step))
	if res.Err != nil {
		d.fail(w, r, res.Err)
		return
	}

	failed := fmt.Sprintf("Failed to run project '%s'", req.ID)
	switch res.Outcome.Kind {
	case engine.OutcomeCompleted:
		writeOutput(w, res.Outcome.Output, fmt.Sprintf("Project '%s' ran successfully", req.ID))
	case engine.OutcomeFailed, engine.OutcomeInterrupted:
		// The run started; whatever it emitted, including the error, goes back.
		writeJSON(w, http.StatusBadRequest, errorBody{Error: failed, Output: strings.TrimRight(res.Outcome.Output, "\n")})
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: failed})
	}
}

func (d *Dispatcher) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := d.validate.Var(id, "required,uuid"); err != nil {
		d.fail(w, r, engine.NewValidationError(fmt.Sprintf("Invalid project id '%s'", id), err))
		return
	}

	res := d.bridge.Invoke(r.Context(), "delete_project", d.lifecycle.DeleteWorkflow(sink.NewAccumulator(), id))
	if res.Err != nil {
		d.fail(w, r, res.Err)
		return
	}
	if !res.Success() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("Failed to delete project '%s'", id)})
		return
	}
	writeOutput(w, res.Outcome.Output, fmt.Sprintf("Project '%s' deleted successfully", id))
}

func (d *Dispatcher) showConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.config.Snapshot())
}

// decode reads a JSON body into dst and validates it. Failures are
// validation errors.
func (d *Dispatcher) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return engine.NewValidationError("Request body is required", err)
		}
		return engine.NewValidationError("Request body is not valid JSON", err)
	}

	if err := d.validate.Struct(dst); err != nil {
		return engine.NewValidationError(validationMessage(err), err)
	}
	return nil
}

// fail writes the response for an error that stopped an operation.
// Validation errors are the client's; everything else is logged in full and
// answered with a generic message.
func (d *Dispatcher) fail(w http.ResponseWriter, r *http.Request, err error) {
	var classified *engine.Error
	if engine.IsValidation(err) && errors.As(err, &classified) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: classified.Message})
		return
	}

	requestID, _ := RequestIDFromContext(r.Context())
	d.logger.WithError(err).
		WithField("request_id", requestID).
		WithField("path", r.URL.Path).
		Error("request failed")
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: unexpectedMessage})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("'%s' is required", fe.Field()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("'%s' must be at least %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("'%s' is invalid", fe.Field()))
		}
	}
	return "Invalid request: " + strings.Join(msgs, ", ")
}

// writeOutput answers 200 with the accumulated output, or fallback when
// nothing was emitted.
func writeOutput(w http.ResponseWriter, output, fallback string) {
	output = strings.TrimRight(output, "\n")
	if strings.TrimSpace(output) == "" {
		output = fallback
	}
	writeJSON(w, http.StatusOK, outputBody{Output: output})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
