package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound          = errors.New("doctor not found")
	ErrAppointmentTypeNotFound = errors.New("appointment type not found")
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrAlreadyDoctor           = errors.New("user is already a doctor")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Doctors and their catalog
	ListDoctors(ctx context.Context) ([]Doctor, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetDoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	UpdateDoctorSettings(ctx context.Context, doctorID uuid.UUID, startTime, endTime string, available bool) (*Doctor, error)
	ListAppointmentTypes(ctx context.Context, doctorID uuid.UUID) ([]AppointmentType, error)
	GetAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error)

	// Advisory availability read, outside any transaction.
	// Returns non-cancelled appointments with from <= date_time < before.
	ListNonCancelledAppointments(ctx context.Context, doctorID uuid.UUID, from, before time.Time) ([]BookedRecord, error)

	// WithinBookingTx runs fn in one serializable transaction. Nothing fn
	// wrote survives if fn or the commit fails.
	WithinBookingTx(ctx context.Context, fn func(tx BookingTx) error) error

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error)

	// Sweeper
	FindStalePending(ctx context.Context, startedBefore time.Time) ([]Appointment, error)

	// Admin
	Stats(ctx context.Context) (*Stats, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)
	// PromoteToDoctor switches the user to DOCTOR and creates an available
	// doctor profile atomically. ErrUserNotFound, ErrAlreadyDoctor.
	PromoteToDoctor(ctx context.Context, userID uuid.UUID, specialty string) (*Doctor, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// BookingTx is the transactional view used for the authoritative
// check-then-insert of a booking.
type BookingTx interface {
	// LockDoctor serialises writers of one doctor's appointments until the
	// transaction ends.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error
	ListNonCancelledAppointments(ctx context.Context, doctorID uuid.UUID, from, before time.Time) ([]BookedRecord, error)
	InsertAppointment(ctx context.Context, in NewAppointment) (*Appointment, error)
	InsertEvent(ctx context.Context, ev EventLog) error
}
