package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/azaj01/openedai-vision/internal/backend"
	"github.com/azaj01/openedai-vision/internal/dispatch"
	"github.com/azaj01/openedai-vision/internal/vision"
	"github.com/azaj01/openedai-vision/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// mapError translates service errors to an HTTP status and an OpenAI-style
// error type string.
func mapError(err error) (status int, errType string) {
	switch {
	case dispatch.IsUnknownModel(err):
		return http.StatusNotFound, "UnknownModelError"
	case vision.IsInvalidImage(err):
		return http.StatusBadRequest, "InvalidImageError"
	case vision.IsInvalidRequest(err):
		return http.StatusBadRequest, "invalid_request_error"
	case backend.IsPreprocessError(err):
		return http.StatusBadRequest, "PreprocessError"
	case dispatch.IsTooBusy(err):
		return http.StatusTooManyRequests, "TooBusyError"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TimeoutError"
	case backend.IsLoadError(err):
		return http.StatusInternalServerError, "LoadError"
	case backend.IsInferenceError(err):
		return http.StatusInternalServerError, "InferenceError"
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), "api_error"
	}
	return http.StatusInternalServerError, "api_error"
}

// writeError writes the OpenAI error envelope.
func writeError(w http.ResponseWriter, status int, errType, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: types.ErrorBody{
		Message: msg,
		Type:    errType,
	}})
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, errType := mapError(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	writeError(w, status, errType, err.Error())
}
