package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/job"
)

// submitJobBody is the wire shape of spec §6's submission request.
type submitJobBody struct {
	InputPath  string                 `json:"input_path" validate:"required"`
	OutputPath string                 `json:"output_path" validate:"required"`
	Operations []wireOperation        `json:"operations"`
	Options    map[string]interface{} `json:"options"`
	WebhookURL string                 `json:"webhook_url" validate:"omitempty,url"`
	Priority   int                    `json:"priority" validate:"gte=0"`
	BatchID    string                 `json:"batch_id"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var body submitJobBody
	if err := decodeJSON(json.NewDecoder(r.Body), &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateBody(body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.BatchID != "" {
		s.writeError(w, apperrors.NewValidationError("batch_id is not accepted on a direct submission; use POST /api/v1/batches"))
		return
	}

	ops, err := decodeOperations(body.Operations)
	if err != nil {
		s.writeError(w, err)
		return
	}

	cred := credentialFromContext(r.Context())
	j, err := s.jobs.Submit(r.Context(), job.SubmitRequest{
		CredentialID:  cred.ID,
		InputLocator:  body.InputPath,
		OutputLocator: body.OutputPath,
		Options:       body.Options,
		Operations:    ops,
		CallbackURL:   body.WebhookURL,
		Priority:      body.Priority,
		MaxConcurrent: cred.ConcurrencyCap(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if j.CredentialID != credentialFromContext(r.Context()).ID {
		s.writeError(w, apperrors.New(apperrors.KindAuthorization, "job does not belong to this credential"))
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	cred := credentialFromContext(r.Context())
	filter := job.Filter{
		CredentialID: cred.ID,
		State:        job.State(r.URL.Query().Get("state")),
		Page:         queryInt(r, "page", 1),
		PageSize:     queryInt(r, "page_size", 20),
	}
	result, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cred := credentialFromContext(r.Context())

	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if j.CredentialID != cred.ID {
		s.writeError(w, apperrors.New(apperrors.KindAuthorization, "job does not belong to this credential"))
		return
	}
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
