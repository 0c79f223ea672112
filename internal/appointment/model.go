package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/scheduling"
)

type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserFilter narrows ListUsers. Search matches name or email, case
// insensitive; an empty Role matches every role.
type UserFilter struct {
	Search string
	Role   Role
	Limit  int
}

// Doctor is a doctor profile joined with its user row. StartTime and EndTime
// are HH:MM strings; nil means the clinic default hours apply.
type Doctor struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Email     string
	Specialty string
	Bio       *string
	Available bool
	StartTime *string
	EndTime   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AppointmentType struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	Name            string
	DurationMinutes int
	Price           *float64
	CreatedAt       time.Time
}

func (t AppointmentType) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

type Appointment struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	DoctorID          uuid.UUID
	AppointmentTypeID *uuid.UUID
	DateTime          time.Time
	EndTime           *time.Time // nil on legacy rows
	Reason            *string
	Status            AppointmentStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Interval is the occupied range, with the legacy 30 minute fallback applied.
func (a Appointment) Interval() scheduling.Interval {
	return scheduling.BookedInterval(a.DateTime, a.EndTime)
}

// BookedRecord is the slice of an appointment the conflict check needs.
type BookedRecord struct {
	DateTime time.Time
	EndTime  *time.Time
}

func (b BookedRecord) Interval() scheduling.Interval {
	return scheduling.BookedInterval(b.DateTime, b.EndTime)
}

// NewAppointment is the insert payload produced by a successful booking.
type NewAppointment struct {
	PatientID         uuid.UUID
	DoctorID          uuid.UUID
	AppointmentTypeID uuid.UUID
	DateTime          time.Time
	EndTime           time.Time
	Reason            *string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail is an appointment with the names a dashboard shows.
type AppointmentDetail struct {
	Appointment
	DoctorName          string
	DoctorSpecialty     string
	PatientName         string
	PatientEmail        string
	AppointmentTypeName *string
}

type UserStats struct {
	Total    int
	Doctors  int
	Patients int
}

type AppointmentStats struct {
	Total     int
	Pending   int
	Confirmed int
	Completed int
	Cancelled int
}

type Stats struct {
	Users        UserStats
	Appointments AppointmentStats
}
