package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/config"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/scheduling"
)

const (
	EventAppointmentBooked        = "APPOINTMENT_BOOKED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentAutoCancelled = "APPOINTMENT_AUTO_CANCELLED"
)

// Error kinds surfaced to callers. Match with errors.Is; the wrapped message
// is safe to show to the user for every kind except ErrStorage.
var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrUnavailable             = errors.New("doctor is not accepting appointments")
	ErrOutOfHours              = errors.New("requested time is outside working hours")
	ErrSlotConflict            = errors.New("this time slot is no longer available, please try another time")
	ErrStorage                 = errors.New("storage error")
	ErrForbidden               = errors.New("forbidden")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func storage(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

type Options struct {
	Granularity  time.Duration
	Lookback     time.Duration // lower bound of the conflict query, must cover the longest appointment
	Location     *time.Location
	DefaultHours scheduling.WorkingHours
	Now          func() time.Time
}

func OptionsFromConfig(cfg config.Config) (Options, error) {
	hours, err := scheduling.ParseWorkingHours(cfg.DefaultDayStart, cfg.DefaultDayEnd)
	if err != nil {
		return Options{}, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return Options{
		Granularity:  cfg.SlotGranularity,
		Lookback:     cfg.BookingLookback,
		Location:     loc,
		DefaultHours: hours,
	}, nil
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	opts   Options
	log    zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, opts Options, logger zerolog.Logger) *Service {
	if opts.Granularity <= 0 {
		opts.Granularity = scheduling.DefaultGranularity
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DefaultHours == (scheduling.WorkingHours{}) {
		opts.DefaultHours = scheduling.WorkingHours{Start: 9 * 60, End: 17 * 60}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:   repo,
		locker: locker,
		opts:   opts,
		log:    logger,
	}
}

func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

type BookingRequest struct {
	DoctorID          uuid.UUID
	AppointmentTypeID uuid.UUID
	PatientID         uuid.UUID
	DateTime          string // RFC 3339
	Reason            *string
}

// Book validates a booking request and commits it. The overlap check is
// repeated under the doctor lock inside a serializable transaction, so two
// concurrent requests for overlapping intervals cannot both succeed.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.DateTime))
	if err != nil {
		return nil, invalid("dateTime must be an ISO-8601 timestamp")
	}
	if start.Before(s.opts.Now()) {
		return nil, invalid("dateTime is in the past")
	}

	apptType, err := s.repo.GetAppointmentType(ctx, req.AppointmentTypeID)
	if err != nil {
		if errors.Is(err, ErrAppointmentTypeNotFound) {
			return nil, invalid("appointment type not found")
		}
		return nil, storage("load appointment type", err)
	}
	if apptType.DoctorID != req.DoctorID {
		return nil, invalid("appointment type does not belong to this doctor")
	}
	if apptType.DurationMinutes <= 0 || apptType.Duration() > s.opts.Lookback {
		return nil, invalid("appointment type has an unsupported duration")
	}

	doc, err := s.repo.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, ErrUnavailable
		}
		return nil, storage("load doctor", err)
	}
	if !doc.Available {
		return nil, ErrUnavailable
	}

	local := start.In(s.opts.Location)
	slot := scheduling.Interval{Start: local, End: local.Add(apptType.Duration())}

	hours, err := s.EffectiveHours(doc)
	if err != nil {
		return nil, err
	}
	if !hours.Contains(slot) {
		return nil, fmt.Errorf("%w: working hours are %s", ErrOutOfHours, hours)
	}

	var created *Appointment

	err = s.locker.WithDoctorLock(ctx, doc.ID, func(lockCtx context.Context) error {
		return s.repo.WithinBookingTx(lockCtx, func(tx BookingTx) error {
			if err := tx.LockDoctor(lockCtx, doc.ID); err != nil {
				return err
			}

			records, err := tx.ListNonCancelledAppointments(lockCtx, doc.ID, slot.Start.Add(-s.opts.Lookback), slot.End)
			if err != nil {
				return fmt.Errorf("list booked intervals: %w", err)
			}

			booked := make([]scheduling.Interval, 0, len(records))
			for _, r := range records {
				booked = append(booked, r.Interval())
			}
			if scheduling.HasConflict(slot, booked) {
				return ErrSlotConflict
			}

			appt, err := tx.InsertAppointment(lockCtx, NewAppointment{
				PatientID:         req.PatientID,
				DoctorID:          doc.ID,
				AppointmentTypeID: apptType.ID,
				DateTime:          slot.Start,
				EndTime:           slot.End,
				Reason:            req.Reason,
			})
			if err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			ev, err := newEvent(appt.ID, EventAppointmentBooked, map[string]any{
				"doctor_id":           doc.ID.String(),
				"patient_id":          req.PatientID.String(),
				"appointment_type_id": apptType.ID.String(),
				"start":               slot.Start,
				"end":                 slot.End,
			})
			if err != nil {
				return err
			}
			if err := tx.InsertEvent(lockCtx, ev); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})

	switch {
	case err == nil:
		return created, nil
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return nil, fmt.Errorf("%w: doctor schedule is busy", ErrSlotConflict)
	case errors.Is(err, ErrSlotConflict):
		return nil, err
	default:
		return nil, storage("book appointment", err)
	}
}

// EffectiveHours returns the doctor's stored hours, or the clinic default when the
// doctor never configured any.
func (s *Service) EffectiveHours(doc *Doctor) (scheduling.WorkingHours, error) {
	if doc.StartTime == nil || doc.EndTime == nil || *doc.StartTime == "" || *doc.EndTime == "" {
		return s.opts.DefaultHours, nil
	}
	hours, err := scheduling.ParseWorkingHours(*doc.StartTime, *doc.EndTime)
	if err != nil {
		return scheduling.WorkingHours{}, storage("stored working hours", err)
	}
	return hours, nil
}

// WorkingHours returns a doctor's effective daily window.
func (s *Service) WorkingHours(ctx context.Context, doctorID uuid.UUID) (scheduling.WorkingHours, error) {
	doc, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return scheduling.WorkingHours{}, err
		}
		return scheduling.WorkingHours{}, storage("load doctor", err)
	}
	return s.EffectiveHours(doc)
}

// DayAvailability is the advisory view of one doctor's day.
type DayAvailability struct {
	Doctor *Doctor
	Date   time.Time
	Hours  scheduling.WorkingHours
	Booked []scheduling.Interval
}

// ParseDate accepts YYYY-MM-DD (clinic location) or a full RFC 3339 timestamp
// and returns local midnight of that day.
func (s *Service) ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseInLocation(time.DateOnly, raw, s.opts.Location); err == nil {
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return scheduling.StartOfDay(t.In(s.opts.Location)), nil
	}
	return time.Time{}, invalid("date must be YYYY-MM-DD")
}

// Availability lists booked intervals of a doctor's day. Legacy rows without
// an end time are normalised to 30 minutes.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, date string) (*DayAvailability, error) {
	day, err := s.ParseDate(date)
	if err != nil {
		return nil, err
	}

	doc, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, storage("load doctor", err)
	}
	hours, err := s.EffectiveHours(doc)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.ListNonCancelledAppointments(ctx, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, storage("list appointments", err)
	}

	booked := make([]scheduling.Interval, 0, len(records))
	for _, r := range records {
		booked = append(booked, r.Interval())
	}

	return &DayAvailability{
		Doctor: doc,
		Date:   day,
		Hours:  hours,
		Booked: booked,
	}, nil
}

type SlotView struct {
	scheduling.Interval
	Available bool
}

// Slots renders the bookable grid for an appointment type on a date. The
// Available flag is advisory; Book re-checks under the lock.
func (s *Service) Slots(ctx context.Context, doctorID, appointmentTypeID uuid.UUID, date string) ([]SlotView, error) {
	apptType, err := s.repo.GetAppointmentType(ctx, appointmentTypeID)
	if err != nil {
		if errors.Is(err, ErrAppointmentTypeNotFound) {
			return nil, invalid("appointment type not found")
		}
		return nil, storage("load appointment type", err)
	}
	if apptType.DoctorID != doctorID {
		return nil, invalid("appointment type does not belong to this doctor")
	}

	day, err := s.Availability(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	var out []SlotView
	for slot := range scheduling.GenerateSlots(day.Date, day.Hours, apptType.Duration(), s.opts.Granularity) {
		out = append(out, SlotView{
			Interval:  slot,
			Available: day.Doctor.Available && !slot.Start.Before(now) && !scheduling.HasConflict(slot, day.Booked),
		})
	}
	return out, nil
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, storage("list doctors", err)
	}
	return doctors, nil
}

func (s *Service) ListAppointmentTypes(ctx context.Context, doctorID uuid.UUID) ([]AppointmentType, error) {
	types, err := s.repo.ListAppointmentTypes(ctx, doctorID)
	if err != nil {
		return nil, storage("list appointment types", err)
	}
	return types, nil
}

// UpdateStatus moves an appointment along the status machine. Doctors may
// act on their own appointments, patients may only cancel their own, admins
// may act on any.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if _, ok := ParseStatus(string(to)); !ok {
		return nil, invalid("invalid or missing status")
	}

	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, storage("load appointment", err)
	}

	switch actor.Role {
	case RoleAdmin:
	case RoleDoctor:
		doc, err := s.repo.GetDoctorByUserID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, ErrDoctorNotFound) {
				return nil, ErrAppointmentNotFound
			}
			return nil, storage("load doctor", err)
		}
		if doc.ID != appt.DoctorID {
			return nil, ErrAppointmentNotFound
		}
	case RolePatient:
		if appt.PatientID != actor.UserID {
			return nil, ErrAppointmentNotFound
		}
		if to != StatusCancelled {
			return nil, fmt.Errorf("%w: patients can only cancel appointments", ErrForbidden)
		}
	default:
		return nil, ErrForbidden
	}

	if !CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: cannot move a %s appointment to %s", ErrInvalidStatusTransition,
			strings.ToLower(string(appt.Status)), strings.ToLower(string(to)))
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment status changed concurrently", ErrInvalidStatusTransition)
		}
		return nil, storage("update appointment status", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from":  appt.Status,
		"to":    to,
		"actor": actor.UserID.String(),
		"role":  actor.Role,
	})

	return updated, nil
}

// ListMine returns the caller's appointments: a patient's bookings or a
// doctor's schedule.
func (s *Service) ListMine(ctx context.Context, actor Actor) ([]AppointmentDetail, error) {
	switch actor.Role {
	case RolePatient:
		list, err := s.repo.ListAppointmentsByPatient(ctx, actor.UserID)
		if err != nil {
			return nil, storage("list patient appointments", err)
		}
		return list, nil
	case RoleDoctor:
		doc, err := s.DoctorProfile(ctx, actor)
		if err != nil {
			return nil, err
		}
		list, err := s.repo.ListAppointmentsByDoctor(ctx, doc.ID)
		if err != nil {
			return nil, storage("list doctor appointments", err)
		}
		return list, nil
	default:
		return nil, invalid("invalid role")
	}
}

// DoctorProfile loads the doctor profile of a doctor user.
func (s *Service) DoctorProfile(ctx context.Context, actor Actor) (*Doctor, error) {
	if actor.Role != RoleDoctor {
		return nil, ErrForbidden
	}
	doc, err := s.repo.GetDoctorByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, storage("load doctor", err)
	}
	return doc, nil
}

type DoctorSettings struct {
	StartTime string
	EndTime   string
	Available *bool // nil keeps the current value
}

// UpdateDoctorSettings changes the calling doctor's working hours.
func (s *Service) UpdateDoctorSettings(ctx context.Context, actor Actor, in DoctorSettings) (*Doctor, error) {
	if in.StartTime == "" || in.EndTime == "" {
		return nil, invalid("start time and end time are required")
	}
	hours, err := scheduling.ParseWorkingHours(in.StartTime, in.EndTime)
	if err != nil {
		return nil, invalid("%v", err)
	}

	doc, err := s.DoctorProfile(ctx, actor)
	if err != nil {
		return nil, err
	}

	available := doc.Available
	if in.Available != nil {
		available = *in.Available
	}

	updated, err := s.repo.UpdateDoctorSettings(ctx, doc.ID, hours.Start.String(), hours.End.String(), available)
	if err != nil {
		return nil, storage("update doctor settings", err)
	}
	return updated, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, storage("stats", err)
	}
	return st, nil
}

const userListLimit = 50

// ListUsers returns the newest users first, at most 50, optionally filtered
// by role and by a name or email substring.
func (s *Service) ListUsers(ctx context.Context, search, role string) ([]User, error) {
	f := UserFilter{Search: strings.TrimSpace(search), Limit: userListLimit}
	if role = strings.TrimSpace(role); role != "" {
		r, ok := ParseRole(role)
		if !ok {
			return nil, invalid("role must be one of PATIENT, DOCTOR, ADMIN")
		}
		f.Role = r
	}

	users, err := s.repo.ListUsers(ctx, f)
	if err != nil {
		return nil, storage("list users", err)
	}
	return users, nil
}

// PromoteToDoctor gives an existing user the DOCTOR role and an available
// doctor profile with the clinic default hours.
func (s *Service) PromoteToDoctor(ctx context.Context, actor Actor, userID uuid.UUID, specialty string) (*Doctor, error) {
	specialty = strings.TrimSpace(specialty)
	if userID == uuid.Nil || specialty == "" {
		return nil, invalid("userId and specialty are required")
	}

	doc, err := s.repo.PromoteToDoctor(ctx, userID, specialty)
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrAlreadyDoctor):
		return nil, err
	case err != nil:
		return nil, storage("promote to doctor", err)
	}

	s.log.Info().
		Str("user_id", userID.String()).
		Str("doctor_id", doc.ID.String()).
		Str("promoted_by", actor.UserID.String()).
		Msg("user promoted to doctor")
	return doc, nil
}

// CancelStalePending cancels PENDING appointments whose start passed without
// confirmation. It is called by the sweeper periodically.
func (s *Service) CancelStalePending(ctx context.Context) (int, error) {
	candidates, err := s.repo.FindStalePending(ctx, s.opts.Now())
	if err != nil {
		return 0, storage("find stale pending appointments", err)
	}

	cancelled := 0
	for _, appt := range candidates {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusCancelled)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to cancel stale appointment")
			}
			continue
		}
		cancelled++
		s.logEvent(ctx, appt.ID, EventAppointmentAutoCancelled, map[string]any{
			"reason":    "unconfirmed_before_start",
			"date_time": appt.DateTime,
		})
	}

	return cancelled, nil
}

func newEvent(appointmentID uuid.UUID, eventType string, payload map[string]any) (EventLog, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return EventLog{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	apptID := appointmentID
	return EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	ev, err := newEvent(appointmentID, eventType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to build event")
		return
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
