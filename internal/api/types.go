package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/scheduling"
)

type CreateAppointmentRequest struct {
	DoctorID          string  `json:"doctorId"`
	AppointmentTypeID string  `json:"appointmentTypeId"`
	DateTime          string  `json:"dateTime"`
	Reason            *string `json:"reason,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type DoctorSettingsRequest struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Available *bool  `json:"available,omitempty"`
}

type MakeDoctorRequest struct {
	UserID    string `json:"userId"`
	Specialty string `json:"specialty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type IntervalResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type AvailabilityResponse struct {
	BookedSlots  []IntervalResponse `json:"bookedSlots"`
	WorkDayStart string             `json:"workDayStart"`
	WorkDayEnd   string             `json:"workDayEnd"`
}

type SlotResponse struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

type SlotsResponse struct {
	Date     string         `json:"date"`
	Duration int            `json:"duration"`
	Slots    []SlotResponse `json:"slots"`
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Specialty string    `json:"specialty"`
	Bio       *string   `json:"bio"`
	Available bool      `json:"available"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
}

type AppointmentTypeResponse struct {
	ID       uuid.UUID `json:"id"`
	DoctorID uuid.UUID `json:"doctorId"`
	Name     string    `json:"name"`
	Duration int       `json:"duration"`
	Price    *float64  `json:"price"`
}

type AppointmentResponse struct {
	ID                  uuid.UUID  `json:"id"`
	PatientID           uuid.UUID  `json:"patientId"`
	DoctorID            uuid.UUID  `json:"doctorId"`
	AppointmentTypeID   *uuid.UUID `json:"appointmentTypeId"`
	DateTime            time.Time  `json:"dateTime"`
	EndTime             time.Time  `json:"endTime"`
	Reason              *string    `json:"reason"`
	Status              string     `json:"status"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	DoctorName          string     `json:"doctorName,omitempty"`
	DoctorSpecialty     string     `json:"doctorSpecialty,omitempty"`
	PatientName         string     `json:"patientName,omitempty"`
	PatientEmail        string     `json:"patientEmail,omitempty"`
	AppointmentTypeName *string    `json:"appointmentTypeName,omitempty"`
}

type MeResponse struct {
	ID       uuid.UUID  `json:"id"`
	Role     string     `json:"role"`
	DoctorID *uuid.UUID `json:"doctorId,omitempty"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type UsersResponse struct {
	Users []UserResponse `json:"users"`
}

type MakeDoctorResponse struct {
	Message string         `json:"message"`
	Doctor  DoctorResponse `json:"doctor"`
}

type StatsResponse struct {
	Users struct {
		Total    int `json:"total"`
		Doctors  int `json:"doctors"`
		Patients int `json:"patients"`
	} `json:"users"`
	Appointments struct {
		Total     int `json:"total"`
		Pending   int `json:"pending"`
		Confirmed int `json:"confirmed"`
		Completed int `json:"completed"`
		Cancelled int `json:"cancelled"`
	} `json:"appointments"`
}

func toIntervals(in []scheduling.Interval) []IntervalResponse {
	out := make([]IntervalResponse, 0, len(in))
	for _, iv := range in {
		out = append(out, IntervalResponse{Start: iv.Start, End: iv.End})
	}
	return out
}

// toDoctor reports the effective hours, so a doctor without stored hours
// shows the clinic default.
func toDoctor(d appointment.Doctor, hours scheduling.WorkingHours) DoctorResponse {
	return DoctorResponse{
		ID:        d.ID,
		UserID:    d.UserID,
		Name:      d.Name,
		Email:     d.Email,
		Specialty: d.Specialty,
		Bio:       d.Bio,
		Available: d.Available,
		StartTime: hours.Start.String(),
		EndTime:   hours.End.String(),
	}
}

func toAppointmentType(t appointment.AppointmentType) AppointmentTypeResponse {
	return AppointmentTypeResponse{
		ID:       t.ID,
		DoctorID: t.DoctorID,
		Name:     t.Name,
		Duration: t.DurationMinutes,
		Price:    t.Price,
	}
}

func toAppointment(a appointment.Appointment) AppointmentResponse {
	iv := a.Interval()
	return AppointmentResponse{
		ID:                a.ID,
		PatientID:         a.PatientID,
		DoctorID:          a.DoctorID,
		AppointmentTypeID: a.AppointmentTypeID,
		DateTime:          iv.Start,
		EndTime:           iv.End,
		Reason:            a.Reason,
		Status:            string(a.Status),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func toAppointmentDetail(d appointment.AppointmentDetail) AppointmentResponse {
	resp := toAppointment(d.Appointment)
	resp.DoctorName = d.DoctorName
	resp.DoctorSpecialty = d.DoctorSpecialty
	resp.PatientName = d.PatientName
	resp.PatientEmail = d.PatientEmail
	resp.AppointmentTypeName = d.AppointmentTypeName
	return resp
}

func toUsers(in []appointment.User) UsersResponse {
	resp := UsersResponse{Users: make([]UserResponse, 0, len(in))}
	for _, u := range in {
		resp.Users = append(resp.Users, UserResponse{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Role:      string(u.Role),
			CreatedAt: u.CreatedAt,
		})
	}
	return resp
}

func toStats(s appointment.Stats) StatsResponse {
	var resp StatsResponse
	resp.Users.Total = s.Users.Total
	resp.Users.Doctors = s.Users.Doctors
	resp.Users.Patients = s.Users.Patients
	resp.Appointments.Total = s.Appointments.Total
	resp.Appointments.Pending = s.Appointments.Pending
	resp.Appointments.Confirmed = s.Appointments.Confirmed
	resp.Appointments.Completed = s.Appointments.Completed
	resp.Appointments.Cancelled = s.Appointments.Cancelled
	return resp
}
