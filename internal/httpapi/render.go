package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/vnykmshr/stageflow/pkg/logging"
	"github.com/vnykmshr/stageflow/pkg/result"
)

// Renderer writes envelopes as JSON with a status derived from the kind.
type Renderer struct {
	// StageStatus overrides the status of VALIDATION_FAILED for named
	// stages, e.g. {"auth": 401}.
	StageStatus map[string]int

	// RetryAfter is advertised on UPSTREAM_UNAVAILABLE responses.
	RetryAfter time.Duration

	Logger logging.Logger
}

// Status maps a failure kind to an HTTP status. A nil kind is a success.
func (r Renderer) Status(kind *result.ErrorKind) int {
	if kind == nil {
		return http.StatusOK
	}
	switch kind.Kind {
	case result.KindValidationFailed:
		if status, ok := r.StageStatus[kind.Stage]; ok {
			return status
		}
		return http.StatusUnprocessableEntity
	case result.KindNotFound:
		return http.StatusNotFound
	case result.KindDuplicate:
		return http.StatusConflict
	case result.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case result.KindUpstreamRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Render writes env to w.
func Render[T any](r Renderer, w http.ResponseWriter, env result.Envelope[T]) {
	status := r.Status(env.Error)
	if env.Error != nil && env.Error.Retryable() && r.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(r.RetryAfter.Seconds()))))
	}
	writeJSON(w, status, env, r.Logger)
}

func writeJSON(w http.ResponseWriter, status int, body any, log logging.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.OrNop(log).Warn("response write failed", logging.Fields{"error": err.Error()})
	}
}
