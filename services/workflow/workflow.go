package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/stupidking717/kerdar-sub000/pkg/log"
)

// ExecuteRequest is the body of an execute call. FormData and Condition
// seed the single input item; InputData replaces it entirely.
type ExecuteRequest struct {
	FormData       map[string]any  `json:"formData,omitempty"`
	Condition      *ConditionInput `json:"condition,omitempty"`
	InputData      []ExecutionItem `json:"inputData,omitempty"`
	StartNodeID    string          `json:"startNodeId,omitempty"`
	Mode           Mode            `json:"mode,omitempty"`
	StopOnError    bool            `json:"stopOnError,omitempty"`
	NodeTimeout    int             `json:"nodeTimeout,omitempty"` // milliseconds
	MaxConcurrency int             `json:"maxConcurrency,omitempty"`
}

// ConditionInput is a comparison the caller wants checked during the run.
type ConditionInput struct {
	Operator  string  `json:"operator"`
	Threshold float64 `json:"threshold"`
}

// InlineExecuteRequest carries a workflow definition to run without storing it.
type InlineExecuteRequest struct {
	ExecuteRequest
	Workflow *Workflow `json:"workflow"`
}

// HandleGetWorkflow loads a workflow definition from the database and returns it as JSON.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Getting workflow", "id", id)

	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(wf)
}

// HandleExecuteWorkflow runs a stored workflow and returns its execution record.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Executing workflow", "id", id)

	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow id")
		return
	}

	var req ExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	if err := validateExecuteRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wf, err := s.repo.Get(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get workflow for execution", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	s.execute(w, r, wf, req, true)
}

// HandleExecuteInline runs a workflow posted in the request body.
func (s *Service) HandleExecuteInline(w http.ResponseWriter, r *http.Request) {
	var req InlineExecuteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	if req.Workflow == nil {
		writeError(w, http.StatusBadRequest, errMissing("workflow").Error())
		return
	}
	if err := validateExecuteRequest(req.ExecuteRequest); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Workflow.ID == "" {
		req.Workflow.ID = uuid.NewString()
	}
	slog.Debug("Executing inline workflow", "id", req.Workflow.ID)

	s.execute(w, r, req.Workflow, req.ExecuteRequest, false)
}

// HandleGetExecution returns a saved execution record.
func (s *Service) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	rec, err := s.repo.GetExecution(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get execution", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(rec)
}

func (s *Service) execute(
	w http.ResponseWriter, r *http.Request, wf *Workflow, req ExecuteRequest, stored bool,
) {
	opts := s.options(req)
	rec, err := s.executor.Execute(r.Context(), wf, opts)
	if err != nil && rec == nil {
		var ve *ValidationError
		if errors.As(err, &ve) || errors.Is(err, ErrNoStartNode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Workflow execution failed", log.WorkflowID(wf.ID), log.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err != nil {
		slog.Warn("Workflow execution aborted", log.WorkflowID(wf.ID),
			log.ExecutionID(rec.ID), log.Error(err))
	}

	// saving is detached from the request's cancellation
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if stored && !reflect.DeepEqual(rec.StaticData, wf.StaticData) && rec.StaticData != nil {
		if err := s.repo.SaveStaticData(ctx, wf.ID, rec.StaticData); err != nil {
			slog.Error("Failed to save static data", log.WorkflowID(wf.ID), log.Error(err))
		}
	}
	if shouldSave(wf.Settings, rec.Status) {
		if err := s.repo.SaveExecution(ctx, rec); err != nil {
			slog.Error("Failed to save execution", log.ExecutionID(rec.ID), log.Error(err))
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(rec)
}

func (s *Service) options(req ExecuteRequest) Options {
	opts := s.defaults
	opts.Env = maps.Clone(s.defaults.Env)
	opts.Mode = req.Mode
	opts.StartNodeID = req.StartNodeID
	opts.StopOnError = req.StopOnError
	if req.NodeTimeout > 0 {
		opts.NodeTimeout = time.Duration(req.NodeTimeout) * time.Millisecond
	}
	if req.MaxConcurrency > 0 {
		opts.MaxConcurrency = req.MaxConcurrency
	}

	switch {
	case req.InputData != nil:
		opts.InputData = req.InputData
	case req.FormData != nil || req.Condition != nil:
		item := maps.Clone(req.FormData)
		if item == nil {
			item = map[string]any{}
		}
		if req.Condition != nil {
			item["condition"] = map[string]any{
				"operator":  req.Condition.Operator,
				"threshold": req.Condition.Threshold,
			}
		}
		opts.InputData = []ExecutionItem{{JSON: item}}
	}
	return opts
}

func shouldSave(settings Settings, status ExecutionStatus) bool {
	if status == ExecutionSuccess {
		return settings.SaveDataSuccessExecution != SaveDataNone
	}
	return settings.SaveDataErrorExecution != SaveDataNone
}

const maxRequestBytes = 4 << 20

// decodeBody decodes JSON into dst. An empty body leaves dst untouched.
// Bodies over maxRequestBytes fail with *http.MaxBytesError.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

var validOperators = map[string]bool{
	"greater_than":          true,
	"less_than":             true,
	"equals":                true,
	"not_equals":            true,
	"greater_than_or_equal": true,
	"less_than_or_equal":    true,
}

func validateExecuteRequest(req ExecuteRequest) error {
	if req.Condition != nil && !validOperators[req.Condition.Operator] {
		return errInvalid("operator")
	}
	if req.NodeTimeout < 0 {
		return errInvalid("nodeTimeout")
	}
	if req.MaxConcurrency < 0 {
		return errInvalid("maxConcurrency")
	}
	switch req.Mode {
	case "", ModeManual, ModeTrigger, ModeWebhook, ModeTest:
	default:
		return errInvalid("mode")
	}
	return nil
}

type requestError struct {
	field string
	kind  string
}

func (e *requestError) Error() string {
	if e.kind == "missing" {
		return e.field + " is required"
	}
	return e.field + " is invalid"
}

func errMissing(field string) error { return &requestError{field: field, kind: "missing"} }
func errInvalid(field string) error { return &requestError{field: field, kind: "invalid"} }
