package http

import (
	"net/http"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
)

// RevenueReport sums contract charges over ?start=&end=, end exclusive.
func (h *Handler) RevenueReport(w http.ResponseWriter, r *http.Request) {
	start, err := queryDate(r, "start")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := queryDate(r, "end")
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.revenue.RevenueForPeriod(r.Context(), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunTrialScan triggers a scan outside the schedule. A scan already in
// progress answers 409.
func (h *Handler) RunTrialScan(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scanner.RunTrialScan(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if summary.Failures == nil {
		summary.Failures = []domain.AccountFailure{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.scanner.GetSchedulerStatus(r.Context())
	if err != nil {
		writeError(w, r, errs.Wrap(err, "load scheduler status"))
		return
	}
	writeJSON(w, http.StatusOK, status)
}
