package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func parseUUIDParam(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func listDoctorsHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			hours, err := svc.EffectiveHours(&d)
			if err != nil {
				handleServiceError(w, r, log, err)
				return
			}
			resp = append(resp, toDoctor(d, hours))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listAppointmentTypesHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r.URL.Query().Get("doctorId"), "doctorId")
		if !ok {
			return
		}

		types, err := svc.ListAppointmentTypes(r.Context(), doctorID)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		resp := make([]AppointmentTypeResponse, 0, len(types))
		for _, t := range types {
			resp = append(resp, toAppointmentType(t))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availabilityHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		doctorID, ok := parseUUIDParam(w, q.Get("doctorId"), "doctorId")
		if !ok {
			return
		}
		if q.Get("date") == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "date is required")
			return
		}

		day, err := svc.Availability(r.Context(), doctorID, q.Get("date"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			BookedSlots:  toIntervals(day.Booked),
			WorkDayStart: day.Hours.Start.String(),
			WorkDayEnd:   day.Hours.End.String(),
		})
	}
}

func slotsHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "doctor id")
		if !ok {
			return
		}
		q := r.URL.Query()
		typeID, ok := parseUUIDParam(w, q.Get("appointmentTypeId"), "appointmentTypeId")
		if !ok {
			return
		}
		date := q.Get("date")
		if date == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "date is required")
			return
		}

		slots, err := svc.Slots(r.Context(), doctorID, typeID, date)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		resp := SlotsResponse{Date: date, Slots: make([]SlotResponse, 0, len(slots))}
		for _, s := range slots {
			resp.Duration = int(s.Duration().Minutes())
			resp.Slots = append(resp.Slots, SlotResponse{Start: s.Start, End: s.End, Available: s.Available})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		var req CreateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		doctorID, ok := parseUUIDParam(w, req.DoctorID, "doctorId")
		if !ok {
			return
		}
		typeID, ok := parseUUIDParam(w, req.AppointmentTypeID, "appointmentTypeId")
		if !ok {
			return
		}
		if strings.TrimSpace(req.DateTime) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "dateTime is required")
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookingRequest{
			DoctorID:          doctorID,
			AppointmentTypeID: typeID,
			PatientID:         actor.UserID,
			DateTime:          req.DateTime,
			Reason:            req.Reason,
		})
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointment(*appt))
	}
}

func myAppointmentsHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		list, err := svc.ListMine(r.Context(), actor)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(list))
		for _, a := range list {
			resp = append(resp, toAppointmentDetail(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateStatusHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "appointment id")
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), actor, id, appointment.AppointmentStatus(strings.TrimSpace(req.Status)))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointment(*appt))
	}
}

func getDoctorSettingsHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		doc, err := svc.DoctorProfile(r.Context(), actor)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeDoctor(w, r, svc, log, doc)
	}
}

func putDoctorSettingsHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		var req DoctorSettingsRequest
		if !decodeBody(w, r, &req) {
			return
		}

		doc, err := svc.UpdateDoctorSettings(r.Context(), actor, appointment.DoctorSettings{
			StartTime: strings.TrimSpace(req.StartTime),
			EndTime:   strings.TrimSpace(req.EndTime),
			Available: req.Available,
		})
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeDoctor(w, r, svc, log, doc)
	}
}

func writeDoctor(w http.ResponseWriter, r *http.Request, svc *appointment.Service, log zerolog.Logger, doc *appointment.Doctor) {
	hours, err := svc.EffectiveHours(doc)
	if err != nil {
		handleServiceError(w, r, log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctor(*doc, hours))
}

func statsHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Stats(r.Context())
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toStats(*st))
	}
}

func listUsersHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		users, err := svc.ListUsers(r.Context(), q.Get("search"), q.Get("role"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toUsers(users))
	}
}

func makeDoctorHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		var req MakeDoctorRequest
		if !decodeBody(w, r, &req) {
			return
		}
		userID, ok := parseUUIDParam(w, req.UserID, "userId")
		if !ok {
			return
		}

		doc, err := svc.PromoteToDoctor(r.Context(), actor, userID, req.Specialty)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		hours, err := svc.EffectiveHours(doc)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, MakeDoctorResponse{
			Message: "user promoted to doctor",
			Doctor:  toDoctor(*doc, hours),
		})
	}
}

func meHandler(svc *appointment.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		resp := MeResponse{ID: actor.UserID, Role: string(actor.Role)}

		if actor.Role == appointment.RoleDoctor {
			doc, err := svc.DoctorProfile(r.Context(), actor)
			switch {
			case err == nil:
				resp.DoctorID = &doc.ID
			case !errors.Is(err, appointment.ErrDoctorNotFound):
				handleServiceError(w, r, log, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

