package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/finalize"
	"github.com/sells-group/reconcile-cli/internal/model"
)

type errorBody struct {
	Error   string `json:"error"`
	Pending int    `json:"pending,omitempty"`
}

// badRequest marks request decoding and validation failures.
type badRequest struct {
	err error
}

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	var br *badRequest
	var pending *model.PendingReviewsError
	var persist *model.PersistenceError
	var verrs validator.ValidationErrors

	switch {
	case errors.As(err, &br), errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidOverride), errors.Is(err, model.ErrDuplicateCell):
		return http.StatusBadRequest
	case errors.As(err, &pending), errors.Is(err, model.ErrSessionFinalized):
		return http.StatusConflict
	case errors.Is(err, finalize.ErrRowOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.As(err, &persist):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var pending *model.PendingReviewsError
	if errors.As(err, &pending) {
		body.Pending = pending.Count
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &badRequest{err: err}
	}
	if err := model.ValidateStruct(v); err != nil {
		return &badRequest{err: err}
	}
	return nil
}
