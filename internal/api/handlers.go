package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"acore-backup/internal/backup"
	"acore-backup/internal/errors"
	"acore-backup/internal/schedule"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 64 << 10

type triggerRequest struct {
	Databases []string `json:"databases"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type scheduleResponse struct {
	schedule.Config
	NextRun *time.Time `json:"nextRun,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // response write errors are not recoverable
	json.NewEncoder(w).Encode(data)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(t errors.ErrorType) int {
	switch t {
	case errors.ErrorTypeInput:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeConflict:
		return http.StatusConflict
	case errors.ErrorTypeValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errType := errors.GetErrorType(err)
	status := statusFor(errType)

	message := err.Error()
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		rt.logger.WithFields(map[string]interface{}{
			"path":  r.URL.Path,
			"error": err.Error(),
		}).Error("API request failed")
	}
	writeJSON(w, status, errorResponse{Error: string(errType), Message: message})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewInputError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listSets(w http.ResponseWriter, r *http.Request) {
	sets, err := rt.deps.Sets.ListSets()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if sets == nil {
		sets = []backup.BackupSet{}
	}
	writeJSON(w, http.StatusOK, sets)
}

func (rt *Router) triggerBackup(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeBody(r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	run, err := rt.deps.Backups.TriggerBackup(r.Context(), req.Databases, backup.SourceManual)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) getSet(w http.ResponseWriter, r *http.Request) {
	set, err := rt.deps.Sets.GetSet(chi.URLParam(r, "setID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (rt *Router) deleteSet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "setID")
	n, err := rt.deps.Sets.DeleteSet(id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"setId": id, "deletedFiles": n})
}

func (rt *Router) validateSet(w http.ResponseWriter, r *http.Request) {
	report, err := rt.deps.Sets.ValidateSet(r.Context(), chi.URLParam(r, "setID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) startRestore(w http.ResponseWriter, r *http.Request) {
	id, err := rt.deps.Restores.StartRestore(r.Context(), chi.URLParam(r, "setID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"operationId": id})
}

func (rt *Router) listRestores(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.deps.Restores.List())
}

func (rt *Router) getRestore(w http.ResponseWriter, r *http.Request) {
	op, err := rt.deps.Restores.GetProgress(chi.URLParam(r, "operationID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (rt *Router) cancelRestore(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Restores.Cancel(chi.URLParam(r, "operationID")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Cancel requested, the restore stops at the next step boundary"})
}

func (rt *Router) scheduleView(cfg schedule.Config) scheduleResponse {
	resp := scheduleResponse{Config: cfg}
	if cfg.Enabled && rt.deps.NextRun != nil {
		if next := rt.deps.NextRun(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	return resp
}

func (rt *Router) getSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.scheduleView(rt.deps.Schedules.Get()))
}

func (rt *Router) setSchedule(w http.ResponseWriter, r *http.Request) {
	var cfg schedule.Config
	if err := decodeBody(r, &cfg); err != nil {
		rt.writeError(w, r, err)
		return
	}
	saved, err := rt.deps.Schedules.Set(cfg)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.scheduleView(saved))
}

func (rt *Router) resetSchedule(w http.ResponseWriter, r *http.Request) {
	if _, err := rt.deps.Schedules.Reset(); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Schedule deleted"})
}

func (rt *Router) downloadFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	path, err := rt.deps.Backups.DownloadPath(filename)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, path)
}

func (rt *Router) deleteFile(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Backups.DeleteFile(chi.URLParam(r, "filename")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Backup deleted"})
}

func (rt *Router) containers(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Containers == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, rt.deps.Containers.Status())
}
