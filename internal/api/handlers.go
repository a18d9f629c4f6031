package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vaxsched/vaccine-scheduler/internal/account"
	"github.com/vaxsched/vaccine-scheduler/internal/scheduling"
)

func registerHandler(accounts *account.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		role, err := scheduling.ParseRole(req.Role)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_role", "role must be patient or caregiver")
			return
		}

		a, err := accounts.Register(r.Context(), req.Username, req.Password, role)
		if err != nil {
			handleAccountError(w, err)
			return
		}

		token, err := accounts.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			handleAccountError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, RegisterResponse{
			Username: a.Username,
			Role:     string(a.Role),
			Token:    token,
		})
	}
}

func loginHandler(accounts *account.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		token, err := accounts.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			handleAccountError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, LoginResponse{Token: token})
	}
}

func reserveHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, role, ok := Caller(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not_authenticated", "")
			return
		}
		if role != scheduling.RolePatient {
			writeError(w, http.StatusForbidden, "patient_role_required", "only patients can reserve appointments")
			return
		}

		var req ReserveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, err := scheduling.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		if req.Vaccine == "" {
			writeError(w, http.StatusBadRequest, "invalid_vaccine", "vaccine name is required")
			return
		}

		res, err := svc.Reserve(r.Context(), date, req.Vaccine, identity)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, ReserveResponse{
			AppointmentID: res.AppointmentID,
			Caregiver:     res.Caregiver,
		})
	}
}

func cancelHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, role, ok := Caller(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not_authenticated", "")
			return
		}

		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, identity, role)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CancelResponse{
			AppointmentID: appt.ID,
			Date:          scheduling.DateKey(appt.Date),
			Caregiver:     appt.Caregiver,
			Vaccine:       appt.Vaccine,
			Patient:       appt.Patient,
		})
	}
}

func uploadAvailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, role, ok := Caller(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not_authenticated", "")
			return
		}
		if role != scheduling.RoleCaregiver {
			writeError(w, http.StatusForbidden, "caregiver_role_required", "only caregivers can upload availability")
			return
		}

		var req AvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, err := scheduling.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		if err := svc.UploadAvailability(r.Context(), identity, date); err != nil {
			handleSchedulingError(w, err)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}
}

func addDosesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, role, ok := Caller(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not_authenticated", "")
			return
		}
		if role != scheduling.RoleCaregiver {
			writeError(w, http.StatusForbidden, "caregiver_role_required", "only caregivers can add doses")
			return
		}

		vaccine := chi.URLParam(r, "name")
		if vaccine == "" {
			writeError(w, http.StatusBadRequest, "invalid_vaccine", "vaccine name is required")
			return
		}

		var req AddDosesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Amount < 0 {
			writeError(w, http.StatusBadRequest, "invalid_amount", "amount must not be negative")
			return
		}

		doses, err := svc.AddDoses(r.Context(), vaccine, req.Amount)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, DosesResponse{Vaccine: vaccine, Doses: doses})
	}
}

func scheduleHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		entries, err := svc.Schedule(r.Context(), date)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]ScheduleEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, ScheduleEntryResponse{
				Caregiver: e.Caregiver,
				Vaccine:   e.Vaccine,
				Doses:     e.Doses,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, role, ok := Caller(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not_authenticated", "")
			return
		}

		summaries, err := svc.Appointments(r.Context(), identity, role)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]AppointmentSummaryResponse, 0, len(summaries))
		for _, s := range summaries {
			resp = append(resp, AppointmentSummaryResponse{
				AppointmentID: s.ID,
				Vaccine:       s.Vaccine,
				Date:          scheduling.DateKey(s.Date),
				Counterparty:  s.Counterparty,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSchedulingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrInsufficientDoses):
		writeError(w, http.StatusConflict, "insufficient_doses", err.Error())
	case errors.Is(err, scheduling.ErrNoCaregiverAvailable):
		writeError(w, http.StatusConflict, "no_caregiver_available", err.Error())
	case errors.Is(err, scheduling.ErrDuplicateSlot):
		writeError(w, http.StatusConflict, "duplicate_slot", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrVaccineNotFound):
		writeError(w, http.StatusNotFound, "vaccine_not_found", err.Error())
	case errors.Is(err, scheduling.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, scheduling.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "transient store failure, retry the request")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, account.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", "password needs: "+strings.Join(account.PasswordPolicy, "; "))
	case errors.Is(err, account.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username_taken", err.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
