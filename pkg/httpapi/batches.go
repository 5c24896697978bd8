package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/batch"
)

type childSpecBody struct {
	InputPath  string                 `json:"input_path" validate:"required"`
	OutputPath string                 `json:"output_path" validate:"required"`
	Operations []wireOperation        `json:"operations"`
	Options    map[string]interface{} `json:"options"`
	Priority   int                    `json:"priority" validate:"gte=0"`
}

type enqueueBatchBody struct {
	ConcurrencyCap int             `json:"concurrency_cap" validate:"gte=0"`
	MaxRetries     int             `json:"max_retries" validate:"gte=0"`
	WebhookURL     string          `json:"webhook_url" validate:"omitempty,url"`
	Children       []childSpecBody `json:"children" validate:"required,min=1,dive"`
}

func (s *Server) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	var body enqueueBatchBody
	if err := decodeJSON(json.NewDecoder(r.Body), &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateBody(body); err != nil {
		s.writeError(w, err)
		return
	}

	children := make([]batch.ChildSpec, 0, len(body.Children))
	for _, c := range body.Children {
		ops, err := decodeOperations(c.Operations)
		if err != nil {
			s.writeError(w, err)
			return
		}
		children = append(children, batch.ChildSpec{
			InputLocator:  c.InputPath,
			OutputLocator: c.OutputPath,
			Options:       c.Options,
			Operations:    ops,
			Priority:      c.Priority,
		})
	}

	cred := credentialFromContext(r.Context())
	maxRetries := body.MaxRetries
	if maxRetries <= 0 {
		maxRetries = batch.DefaultMaxRetries
	}
	b, err := s.batches.Enqueue(r.Context(), batch.EnqueueRequest{
		CredentialID:   cred.ID,
		ConcurrencyCap: body.ConcurrencyCap,
		MaxRetries:     maxRetries,
		CallbackURL:    body.WebhookURL,
		Children:       children,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := s.batches.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if b.CredentialID != credentialFromContext(r.Context()).ID {
		s.writeError(w, apperrors.New(apperrors.KindAuthorization, "batch does not belong to this credential"))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	cred := credentialFromContext(r.Context())
	filter := batch.Filter{
		CredentialID: cred.ID,
		State:        batch.State(r.URL.Query().Get("state")),
		Page:         queryInt(r, "page", 1),
		PageSize:     queryInt(r, "page_size", 20),
	}
	result, err := s.batches.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cred := credentialFromContext(r.Context())

	b, err := s.batches.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if b.CredentialID != cred.ID {
		s.writeError(w, apperrors.New(apperrors.KindAuthorization, "batch does not belong to this credential"))
		return
	}
	if err := s.batches.Cancel(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
