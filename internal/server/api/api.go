// Package api provides the JSON HTTP handlers of the headcount server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/headcount/internal/stats"
	"github.com/ayusman/headcount/internal/store"
	"github.com/ayusman/headcount/internal/zone"
)

// maxBodySize caps request bodies.
const maxBodySize = 1 << 20

// errBadRequest marks malformed input.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Debug().Err(err).Msg("Failed to write response")
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeStoreError maps err to a status code: 404 for missing records, 409
// for name clashes, 400 for invalid input and 500 otherwise.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, zone.ErrConfig),
		errors.Is(err, errBadRequest),
		errors.Is(err, stats.ErrInvalidRange),
		errors.Is(err, stats.ErrInvalidPeriods):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("resource", what).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "Failed to process "+what)
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

// queryTime parses an RFC 3339 timestamp parameter. A missing parameter
// returns nil.
func queryTime(q url.Values, key string) (*time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", errBadRequest, key)
	}
	return &t, nil
}

// queryInt parses an integer parameter within [min, max], returning def when
// it is absent.
func queryInt(q url.Values, key string, def, min, max int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%w: %s must be an integer in %d..%d", errBadRequest, key, min, max)
	}
	return n, nil
}

// queryBool parses a boolean parameter, returning def when it is absent.
func queryBool(q url.Values, key string, def bool) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadRequest, key)
	}
	return b, nil
}

// zoneParam accepts zone or the older area_name.
func zoneParam(q url.Values) string {
	if z := q.Get("zone"); z != "" {
		return z
	}
	return q.Get("area_name")
}

func errBadRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errBadRequest}, args...)...)
}
