package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/extract"
)

var (
	ErrContentType       = errors.New("Content-Type must be application/json")
	ErrDesiredStatusJSON = errors.New("desired status is required")
	ErrNoItems           = errors.New("at least one item is required")
	ErrURLRequired       = errors.New("url is required")
	ErrBadQuery          = errors.New("invalid query parameter")
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		ee  *extract.ExtractionError
		se  *json.SyntaxError
		ute *json.UnmarshalTypeError
		mbe *http.MaxBytesError
		bj  badJSON
	)
	switch {
	case errors.Is(err, data.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, data.ErrDuplicateTarget):
		return http.StatusConflict
	case errors.Is(err, data.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrContentType):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &ee):
		if errors.Is(err, extract.ErrUnsupported) || errors.Is(err, data.ErrInvalidSource) {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case errors.Is(err, data.ErrInvalidSource),
		errors.Is(err, data.ErrTargetPath),
		errors.Is(err, data.ErrUnsafePath),
		errors.Is(err, data.ErrExtensionNotAllowed),
		errors.Is(err, data.ErrBadStatus),
		errors.Is(err, ErrDesiredStatusJSON),
		errors.Is(err, ErrNoItems),
		errors.Is(err, ErrURLRequired),
		errors.Is(err, ErrBadQuery),
		errors.As(err, &bj),
		errors.As(err, &se),
		errors.As(err, &ute):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error body and records it for the access log.
func fail(w http.ResponseWriter, err error) {
	markErr(w, err)
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg})
}

type errorBody struct {
	Error string `json:"error"`
}
