package v1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

const maxBody = 1 << 20

// decodeJSONStrict validates optional Content-Type, enforces a max body size,
// and decodes JSON into dst while disallowing unknown fields. It returns
// ErrContentType when the Content-Type header is present but not acceptable.
func decodeJSONStrict(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return ErrContentType
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badJSON{errors.New("empty body")}
		}
		return badJSON{err}
	}
	if dec.More() {
		return badJSON{errors.New("trailing data after JSON value")}
	}
	return nil
}

// badJSON marks decoder failures that are not typed by encoding/json
// (unknown fields, trailing data) as client errors.
type badJSON struct{ err error }

func (e badJSON) Error() string { return "invalid JSON: " + e.err.Error() }
func (e badJSON) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
