package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"debugbridge/internal/apperr"
	"debugbridge/internal/orchestrator"

	"github.com/go-chi/chi/v5"
)

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "version": a.version}
	if a.status != nil {
		stats := a.status.Stats()
		resp["remote"] = stats
		if !stats.Connected {
			resp["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": a.orch.ToolNames()})
}

func (a *api) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": a.orch.Templates()})
}

func (a *api) handleTemplate(w http.ResponseWriter, r *http.Request) {
	p, err := a.orch.Template(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) handleValidate(w http.ResponseWriter, r *http.Request) {
	p, _, ok := a.readSubmission(w, r)
	if !ok {
		return
	}
	if err := a.orch.ValidatePipeline(p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "name": p.Name, "steps": len(p.Steps)})
}

func (a *api) handleRun(w http.ResponseWriter, r *http.Request) {
	p, cfg, ok := a.readSubmission(w, r)
	if !ok {
		return
	}
	tc := orchestrator.NewToolContext(cfg)
	res, err := a.orch.ExecutePipeline(r.Context(), p, tc)
	if res == nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	body := map[string]any{"pipeline_result": res, "context": tc.Summary()}
	if err != nil {
		body["error"] = apperr.KindOf(err)
		body["message"] = err.Error()
		writeJSON(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// readSubmission decodes a RunRequest body and resolves it to a pipeline.
// It writes the error response itself and reports whether to continue.
func (a *api) readSubmission(w http.ResponseWriter, r *http.Request) (*orchestrator.ToolPipeline, orchestrator.ToolContextConfig, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body_too_large"})
			return nil, a.ctxCfg, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read_failed"})
		return nil, a.ctxCfg, false
	}
	sub, cfg, err := orchestrator.DecodeRunRequest(data, a.ctxCfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, cfg, false
	}
	p, err := a.orch.Resolve(sub)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, cfg, false
	}
	return p, cfg, true
}

// statusFor maps a failed run to a response code by error kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrUnknownTool), errors.Is(err, apperr.ErrCircularDependency):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperr.ErrConnection), errors.Is(err, apperr.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": apperr.KindOf(err), "message": err.Error()}
	if subject := apperr.SubjectOf(err); subject != "" {
		body["subject"] = subject
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
