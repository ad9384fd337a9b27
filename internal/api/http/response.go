package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/logger"
)

type errorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	UnitID    string            `json:"unit_id,omitempty"`
	Conflicts []domain.Conflict `json:"conflicts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP status codes. Unclassified
// errors are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errs.Is(err, errs.ErrInvalidRequest):
		status, resp.Code = http.StatusBadRequest, "invalid_request"
	case errs.Is(err, errs.ErrNotFound):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errs.Is(err, errs.ErrUnitConflict):
		status, resp.Code = http.StatusConflict, "unit_conflict"
		var ce *domain.ConflictError
		if errs.As(err, &ce) {
			resp.UnitID = ce.UnitID
			resp.Conflicts = ce.Conflicts
		}
	case errs.Is(err, errs.ErrInvalidTransition):
		status, resp.Code = http.StatusConflict, "invalid_transition"
	case errs.Is(err, errs.ErrAlreadyTerminal):
		status, resp.Code = http.StatusConflict, "already_terminal"
	case errs.Is(err, errs.ErrConcurrentUpdate):
		status, resp.Code = http.StatusConflict, "concurrent_update"
	case errs.Is(err, errs.ErrJobOverlap):
		status, resp.Code = http.StatusConflict, "job_overlap"
	case errs.Is(err, errs.ErrDispatchUnavailable):
		status, resp.Code = http.StatusServiceUnavailable, "dispatch_unavailable"
	default:
		resp.Code = "internal"
		resp.Error = "internal server error"
		logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"stack", errs.ExtractStackLines(err, 5))
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Invalid("malformed request body: %v", err)
	}
	return nil
}

func queryDate(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, errs.Invalid("query parameter %s is required", name)
	}
	return domain.ParseDate(v)
}

func queryInt(r *http.Request, name string) (int, bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, errs.Invalid("query parameter %s must be an integer", name)
	}
	return n, true, nil
}

func optionalDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := domain.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
