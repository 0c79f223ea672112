// Package appointmenttest provides an in-memory appointment store for tests.
package appointmenttest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

// Repository is an in-process appointment.Repository. WithinBookingTx holds a
// single writer lock for the whole callback and applies staged writes only
// when the callback succeeds, which gives the same all-or-nothing,
// serialised behaviour as the Postgres implementation.
type Repository struct {
	txMu sync.Mutex // serialises booking transactions

	mu           sync.RWMutex
	users        map[uuid.UUID]appointment.User
	doctors      map[uuid.UUID]appointment.Doctor
	types        map[uuid.UUID]appointment.AppointmentType
	appointments map[uuid.UUID]appointment.Appointment
	events       []appointment.EventLog
	failWith     error
}

var _ appointment.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		users:        make(map[uuid.UUID]appointment.User),
		doctors:      make(map[uuid.UUID]appointment.Doctor),
		types:        make(map[uuid.UUID]appointment.AppointmentType),
		appointments: make(map[uuid.UUID]appointment.Appointment),
	}
}

// FailWith makes every subsequent call return err; nil restores normal behaviour.
func (m *Repository) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Repository) fail() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failWith
}

// Seeding helpers

func (m *Repository) AddUser(u appointment.User) appointment.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
		u.UpdatedAt = u.CreatedAt
	}
	m.users[u.ID] = u
	return u
}

// AddDoctor stores d; Name and Email are taken from the linked user when present.
func (m *Repository) AddDoctor(d appointment.Doctor) appointment.Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if u, ok := m.users[d.UserID]; ok {
		d.Name = u.Name
		d.Email = u.Email
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
		d.UpdatedAt = d.CreatedAt
	}
	m.doctors[d.ID] = d
	return d
}

func (m *Repository) AddAppointmentType(t appointment.AppointmentType) appointment.AppointmentType {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.types[t.ID] = t
	return t
}

// AddAppointment stores a raw appointment, e.g. a legacy row without EndTime.
func (m *Repository) AddAppointment(a appointment.Appointment) appointment.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = appointment.StatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
		a.UpdatedAt = a.CreatedAt
	}
	m.appointments[a.ID] = a
	return a
}

// Appointments returns a snapshot of all stored appointments ordered by start.
func (m *Repository) Appointments() []appointment.Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]appointment.Appointment, 0, len(m.appointments))
	for _, a := range m.appointments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out
}

func (m *Repository) Events() []appointment.EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]appointment.EventLog(nil), m.events...)
}

// Interface methods

func (m *Repository) ListDoctors(_ context.Context) ([]appointment.Doctor, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]appointment.Doctor, 0, len(m.doctors))
	for _, d := range m.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Repository) GetDoctor(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return &d, nil
}

func (m *Repository) GetDoctorByUserID(_ context.Context, userID uuid.UUID) (*appointment.Doctor, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.doctors {
		if d.UserID == userID {
			return &d, nil
		}
	}
	return nil, appointment.ErrDoctorNotFound
}

func (m *Repository) UpdateDoctorSettings(_ context.Context, doctorID uuid.UUID, startTime, endTime string, available bool) (*appointment.Doctor, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[doctorID]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	d.StartTime = &startTime
	d.EndTime = &endTime
	d.Available = available
	d.UpdatedAt = time.Now()
	m.doctors[doctorID] = d
	return &d, nil
}

func (m *Repository) ListAppointmentTypes(_ context.Context, doctorID uuid.UUID) ([]appointment.AppointmentType, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []appointment.AppointmentType
	for _, t := range m.types {
		if t.DoctorID == doctorID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DurationMinutes != out[j].DurationMinutes {
			return out[i].DurationMinutes < out[j].DurationMinutes
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Repository) GetAppointmentType(_ context.Context, id uuid.UUID) (*appointment.AppointmentType, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.types[id]
	if !ok {
		return nil, appointment.ErrAppointmentTypeNotFound
	}
	return &t, nil
}

func (m *Repository) bookedLocked(doctorID uuid.UUID, from, before time.Time) []appointment.BookedRecord {
	var out []appointment.BookedRecord
	for _, a := range m.appointments {
		if a.DoctorID != doctorID || !a.Status.Blocks() {
			continue
		}
		if a.DateTime.Before(from) || !a.DateTime.Before(before) {
			continue
		}
		out = append(out, appointment.BookedRecord{DateTime: a.DateTime, EndTime: a.EndTime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out
}

func (m *Repository) ListNonCancelledAppointments(_ context.Context, doctorID uuid.UUID, from, before time.Time) ([]appointment.BookedRecord, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bookedLocked(doctorID, from, before), nil
}

func (m *Repository) WithinBookingTx(ctx context.Context, fn func(tx appointment.BookingTx) error) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memBookingTx{repo: m}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range tx.appointments {
		m.appointments[a.ID] = a
	}
	m.events = append(m.events, tx.events...)
	return nil
}

func (m *Repository) GetAppointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *Repository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to appointment.AppointmentStatus) (*appointment.Appointment, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return &a, nil
}

func (m *Repository) detailLocked(a appointment.Appointment) appointment.AppointmentDetail {
	d := appointment.AppointmentDetail{Appointment: a}
	if doc, ok := m.doctors[a.DoctorID]; ok {
		d.DoctorName = doc.Name
		d.DoctorSpecialty = doc.Specialty
	}
	if p, ok := m.users[a.PatientID]; ok {
		d.PatientName = p.Name
		d.PatientEmail = p.Email
	}
	if a.AppointmentTypeID != nil {
		if t, ok := m.types[*a.AppointmentTypeID]; ok {
			name := t.Name
			d.AppointmentTypeName = &name
		}
	}
	return d
}

func (m *Repository) listDetails(match func(appointment.Appointment) bool) []appointment.AppointmentDetail {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []appointment.AppointmentDetail
	for _, a := range m.appointments {
		if match(a) {
			out = append(out, m.detailLocked(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out
}

func (m *Repository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID) ([]appointment.AppointmentDetail, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	return m.listDetails(func(a appointment.Appointment) bool { return a.PatientID == patientID }), nil
}

func (m *Repository) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID) ([]appointment.AppointmentDetail, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	return m.listDetails(func(a appointment.Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (m *Repository) FindStalePending(_ context.Context, startedBefore time.Time) ([]appointment.Appointment, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []appointment.Appointment
	for _, a := range m.appointments {
		if a.Status == appointment.StatusPending && a.DateTime.Before(startedBefore) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out, nil
}

func (m *Repository) Stats(_ context.Context) (*appointment.Stats, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s appointment.Stats
	for _, u := range m.users {
		s.Users.Total++
		switch u.Role {
		case appointment.RoleDoctor:
			s.Users.Doctors++
		case appointment.RolePatient:
			s.Users.Patients++
		}
	}
	for _, a := range m.appointments {
		s.Appointments.Total++
		switch a.Status {
		case appointment.StatusPending:
			s.Appointments.Pending++
		case appointment.StatusConfirmed:
			s.Appointments.Confirmed++
		case appointment.StatusCompleted:
			s.Appointments.Completed++
		case appointment.StatusCancelled:
			s.Appointments.Cancelled++
		}
	}
	return &s, nil
}

func (m *Repository) ListUsers(_ context.Context, f appointment.UserFilter) ([]appointment.User, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(f.Search)
	var out []appointment.User
	for _, u := range m.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Name), search) && !strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Repository) PromoteToDoctor(_ context.Context, userID uuid.UUID, specialty string) (*appointment.Doctor, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, appointment.ErrUserNotFound
	}
	if u.Role == appointment.RoleDoctor {
		return nil, appointment.ErrAlreadyDoctor
	}
	for _, d := range m.doctors {
		if d.UserID == userID {
			return nil, appointment.ErrAlreadyDoctor
		}
	}

	now := time.Now()
	u.Role = appointment.RoleDoctor
	u.UpdatedAt = now
	m.users[userID] = u

	d := appointment.Doctor{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      u.Name,
		Email:     u.Email,
		Specialty: specialty,
		Available: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.doctors[d.ID] = d
	return &d, nil
}

// User returns a stored user.
func (m *Repository) User(id uuid.UUID) (appointment.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok
}

func (m *Repository) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

type memBookingTx struct {
	repo         *Repository
	appointments []appointment.Appointment
	events       []appointment.EventLog
}

func (t *memBookingTx) LockDoctor(context.Context, uuid.UUID) error {
	// txMu already serialises every booking transaction
	return nil
}

func (t *memBookingTx) ListNonCancelledAppointments(_ context.Context, doctorID uuid.UUID, from, before time.Time) ([]appointment.BookedRecord, error) {
	t.repo.mu.RLock()
	out := t.repo.bookedLocked(doctorID, from, before)
	t.repo.mu.RUnlock()

	for _, a := range t.appointments {
		if a.DoctorID == doctorID && !a.DateTime.Before(from) && a.DateTime.Before(before) {
			out = append(out, appointment.BookedRecord{DateTime: a.DateTime, EndTime: a.EndTime})
		}
	}
	return out, nil
}

func (t *memBookingTx) InsertAppointment(_ context.Context, in appointment.NewAppointment) (*appointment.Appointment, error) {
	now := time.Now()
	typeID := in.AppointmentTypeID
	end := in.EndTime
	a := appointment.Appointment{
		ID:                uuid.New(),
		PatientID:         in.PatientID,
		DoctorID:          in.DoctorID,
		AppointmentTypeID: &typeID,
		DateTime:          in.DateTime,
		EndTime:           &end,
		Reason:            in.Reason,
		Status:            appointment.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	t.appointments = append(t.appointments, a)
	return &a, nil
}

func (t *memBookingTx) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	t.events = append(t.events, ev)
	return nil
}
