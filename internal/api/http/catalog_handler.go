package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"shelfmarket-backend/internal/domain"
	"shelfmarket-backend/internal/errs"
)

type availabilityResponse struct {
	Start        string                    `json:"start"`
	DurationDays int                       `json:"duration_days"`
	Units        []domain.UnitAvailability `json:"units"`
}

type registerVendorRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type unitRequest struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Size           string `json:"size"`
	Site           string `json:"site"`
	ListPriceCents int64  `json:"list_price_cents"`
}

func (u unitRequest) toUnit(id string) *domain.RentalUnit {
	return &domain.RentalUnit{
		ID:             id,
		Name:           u.Name,
		Type:           u.Type,
		Size:           u.Size,
		Site:           u.Site,
		ListPriceCents: u.ListPriceCents,
	}
}

// CheckAvailability lists matching units for
// ?start=YYYY-MM-DD&duration_days=N (or duration_months=N)&types=a,b.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	start, err := queryDate(r, "start")
	if err != nil {
		writeError(w, r, err)
		return
	}
	days, hasDays, err := queryInt(r, "duration_days")
	if err != nil {
		writeError(w, r, err)
		return
	}
	months, hasMonths, err := queryInt(r, "duration_months")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !hasDays && !hasMonths {
		writeError(w, r, errs.Invalid("query parameter duration_days or duration_months is required"))
		return
	}
	if days, err = durationDays(start, days, months); err != nil {
		writeError(w, r, err)
		return
	}

	var types []string
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	units, err := h.availability.CheckAvailability(r.Context(), start, days, types)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		Start:        domain.FormatDate(start),
		DurationDays: days,
		Units:        units,
	})
}

func (h *Handler) RegisterVendor(w http.ResponseWriter, r *http.Request) {
	var req registerVendorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vendor, err := h.vendors.RegisterVendor(r.Context(), req.Name, req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, vendor)
}

func (h *Handler) ConfirmTrialConversion(w http.ResponseWriter, r *http.Request) {
	state, err := h.vendors.ConfirmTrialConversion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) ResetTrialReminders(w http.ResponseWriter, r *http.Request) {
	state, err := h.vendors.ResetTrialReminders(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	unit := req.toUnit("")
	if err := h.catalog.CreateUnit(r.Context(), unit); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, unit)
}

// UpdateUnit rejects retyping or moving a unit that contracts reference.
func (h *Handler) UpdateUnit(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	unit := req.toUnit(mux.Vars(r)["id"])
	if err := h.catalog.UpdateUnit(r.Context(), unit); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}
