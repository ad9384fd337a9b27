package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
	"shelfmarket-backend/internal/service"
)

type createBookingRequest struct {
	VendorID       string   `json:"vendor_id"`
	UnitIDs        []string `json:"unit_ids"`
	Start          string   `json:"start"`
	DurationDays   int      `json:"duration_days"`
	DurationMonths int      `json:"duration_months"`
	OpenEnded      bool     `json:"open_ended"`
	IsTrial        bool     `json:"is_trial"`
	TrialDays      int      `json:"trial_days"`
}

type assignmentRequest struct {
	UnitID            string  `json:"unit_id"`
	From              *string `json:"from"`
	To                *string `json:"to"`
	MonthlyPriceCents *int64  `json:"monthly_price_cents"`
}

type confirmBookingRequest struct {
	Assignments []assignmentRequest `json:"assignments"`
}

type cancelContractRequest struct {
	EffectiveDate string `json:"effective_date"`
}

type cancelContractResponse struct {
	Contract *domain.Contract `json:"contract"`
	Note     string           `json:"note,omitempty"`
}

type advanceContractResponse struct {
	Contract *domain.Contract `json:"contract"`
	Changed  bool             `json:"changed"`
}

type serviceRequest struct {
	ID                string  `json:"id"`
	UnitID            string  `json:"unit_id"`
	From              string  `json:"from"`
	To                *string `json:"to"`
	MonthlyPriceCents int64   `json:"monthly_price_cents"`
}

type reviseServicesRequest struct {
	Services []serviceRequest `json:"services"`
}

// durationDays resolves a day or month duration into whole days from start.
// Exactly one of the two must be set.
func durationDays(start time.Time, days, months int) (int, error) {
	switch {
	case days != 0 && months != 0:
		return 0, errs.Invalid("give either a duration in days or in months, not both")
	case months < 0:
		return 0, errs.Invalid("duration must be positive, got %d months", months)
	case months > 0:
		return domain.DaysBetween(start, start.AddDate(0, months, 0)), nil
	}
	return days, nil
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	start, err := domain.ParseDate(req.Start)
	if err != nil {
		writeError(w, r, err)
		return
	}
	days := 0
	if !req.OpenEnded {
		if days, err = durationDays(start, req.DurationDays, req.DurationMonths); err != nil {
			writeError(w, r, err)
			return
		}
	}

	booking, err := h.bookings.CreateBooking(r.Context(), service.BookingRequest{
		VendorID:     req.VendorID,
		UnitIDs:      req.UnitIDs,
		Start:        start,
		DurationDays: days,
		OpenEnded:    req.OpenEnded,
		IsTrial:      req.IsTrial,
		TrialDays:    req.TrialDays,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.bookings.GetBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.bookings.CancelBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// ConfirmBooking answers 201 with the new contract, or 409 listing the
// intervals that block a unit.
func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	var req confirmBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	assignments := make([]service.UnitAssignment, 0, len(req.Assignments))
	for _, a := range req.Assignments {
		ua := service.UnitAssignment{UnitID: a.UnitID, MonthlyPriceCents: a.MonthlyPriceCents}
		if a.From != nil {
			from, err := domain.ParseDate(*a.From)
			if err != nil {
				writeError(w, r, err)
				return
			}
			to, err := optionalDate(a.To)
			if err != nil {
				writeError(w, r, err)
				return
			}
			iv, err := domain.NewInterval(from, to)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ua.Interval = &iv
		}
		assignments = append(assignments, ua)
	}

	contract, err := h.contracts.ConfirmBooking(r.Context(), mux.Vars(r)["id"], assignments)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contract)
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	contract, err := h.contracts.GetContract(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

// CancelContract is idempotent: cancelling a terminal contract answers 200
// with the unchanged contract and a note.
func (h *Handler) CancelContract(w http.ResponseWriter, r *http.Request) {
	var req cancelContractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	effective, err := domain.ParseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	contract, err := h.contracts.CancelContract(r.Context(), mux.Vars(r)["id"], effective)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, cancelContractResponse{Contract: contract})
	case errs.Is(err, errs.ErrAlreadyTerminal) && contract != nil:
		writeJSON(w, http.StatusOK, cancelContractResponse{
			Contract: contract,
			Note:     "contract is already " + string(contract.State),
		})
	default:
		writeError(w, r, err)
	}
}

func (h *Handler) AdvanceContract(w http.ResponseWriter, r *http.Request) {
	contract, changed, err := h.contracts.AdvanceToActive(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, advanceContractResponse{Contract: contract, Changed: changed})
}

func (h *Handler) ReviseServices(w http.ResponseWriter, r *http.Request) {
	var req reviseServicesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	services := make([]domain.Service, 0, len(req.Services))
	for _, s := range req.Services {
		from, err := domain.ParseDate(s.From)
		if err != nil {
			writeError(w, r, err)
			return
		}
		to, err := optionalDate(s.To)
		if err != nil {
			writeError(w, r, err)
			return
		}
		iv, err := domain.NewInterval(from, to)
		if err != nil {
			writeError(w, r, err)
			return
		}
		services = append(services, domain.Service{
			ID:                s.ID,
			UnitID:            s.UnitID,
			Interval:          iv,
			MonthlyPriceCents: s.MonthlyPriceCents,
		})
	}

	contract, err := h.contracts.ReviseServices(r.Context(), mux.Vars(r)["id"], services)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}
