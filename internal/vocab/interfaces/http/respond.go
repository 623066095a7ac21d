package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	vocab "eqas-cloud/internal/vocab/domain"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error                string  `json:"error"`
	InvalidVocabularyIDs []int64 `json:"invalidVocabularyIds,omitempty"`
	InvalidTopicIDs      []int64 `json:"invalidTopicIds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vocab.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, vocab.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vocab.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var verr *vocab.ValidationError
	if errors.As(err, &verr) {
		body.InvalidVocabularyIDs = verr.InvalidVocabularyIDs
		body.InvalidTopicIDs = verr.InvalidTopicIDs
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("vocab request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("requestID", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func badRequest(format string, args ...any) error {
	return vocab.NewValidationError(fmt.Sprintf(format, args...))
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("%s must be a positive integer", name)
	}
	return id, nil
}

func decodeBody(r *http.Request, dest any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// decodeIDs accepts a JSON array of ids.
func decodeIDs(r *http.Request) ([]int64, error) {
	var ids []int64
	if err := decodeBody(r, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func pageRequest(r *http.Request) (vocab.PageRequest, error) {
	q := r.URL.Query()
	req := vocab.PageRequest{Sort: q.Get("sort")}
	var err error
	if req.Page, err = intQuery(q.Get("page"), "page"); err != nil {
		return req, err
	}
	if req.Size, err = intQuery(q.Get("size"), "size"); err != nil {
		return req, err
	}
	switch strings.ToLower(q.Get("direction")) {
	case "", "desc":
	case "asc":
		req.Ascending = true
	default:
		return req, badRequest("direction must be asc or desc")
	}
	return req, nil
}

func intQuery(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer", name)
	}
	return v, nil
}

func boolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("%s must be true or false", name)
	}
	return v, nil
}

func optionalIDQuery(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, badRequest("%s must be an integer", name)
	}
	return &v, nil
}
