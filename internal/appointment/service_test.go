package appointment_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/appointment/appointmenttest"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/scheduling"
)

// Monday 2026-03-02 08:00 UTC
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	repo    *appointmenttest.Repository
	svc     *appointment.Service
	doctor  appointment.Doctor
	patient appointment.User
	quick   appointment.AppointmentType // 15 min
	follow  appointment.AppointmentType // 30 min
	first   appointment.AppointmentType // 45 min
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLocker(t, redisclient.NewLocalLocker(2*time.Second))
}

func newFixtureWithLocker(t *testing.T, locker redisclient.Locker) *fixture {
	t.Helper()

	repo := appointmenttest.NewRepository()
	docUser := repo.AddUser(appointment.User{Name: "Dr. Sarah Smith", Email: "dr.smith@unihealth.test", Role: appointment.RoleDoctor})
	doctor := repo.AddDoctor(appointment.Doctor{UserID: docUser.ID, Specialty: "Psychologist", Available: true})
	patient := repo.AddUser(appointment.User{Name: "Alex Student", Email: "alex@uni.test", Role: appointment.RolePatient})

	f := &fixture{
		repo:    repo,
		doctor:  doctor,
		patient: patient,
		quick:   repo.AddAppointmentType(appointment.AppointmentType{DoctorID: doctor.ID, Name: "Quick Consultation", DurationMinutes: 15}),
		follow:  repo.AddAppointmentType(appointment.AppointmentType{DoctorID: doctor.ID, Name: "Follow-up", DurationMinutes: 30}),
		first:   repo.AddAppointmentType(appointment.AppointmentType{DoctorID: doctor.ID, Name: "First Visit", DurationMinutes: 45}),
	}

	f.svc = appointment.NewService(repo, locker, appointment.Options{
		Granularity:  15 * time.Minute,
		Lookback:     24 * time.Hour,
		Location:     time.UTC,
		DefaultHours: scheduling.WorkingHours{Start: 9 * 60, End: 17 * 60},
		Now:          func() time.Time { return testNow },
	}, zerolog.Nop())

	return f
}

func (f *fixture) request(typ appointment.AppointmentType, dateTime string) appointment.BookingRequest {
	return appointment.BookingRequest{
		DoctorID:          f.doctor.ID,
		AppointmentTypeID: typ.ID,
		PatientID:         f.patient.ID,
		DateTime:          dateTime,
	}
}

func (f *fixture) addBooked(start time.Time, length *time.Duration, status appointment.AppointmentStatus) appointment.Appointment {
	var end *time.Time
	if length != nil {
		e := start.Add(*length)
		end = &e
	}
	return f.repo.AddAppointment(appointment.Appointment{
		PatientID: uuid.New(),
		DoctorID:  f.doctor.ID,
		DateTime:  start,
		EndTime:   end,
		Status:    status,
	})
}

func dur(d time.Duration) *time.Duration { return &d }

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

// -- Book --

func TestBook_CreatesPendingAppointment(t *testing.T) {
	f := newFixture(t)
	reason := "stress"
	req := f.request(f.follow, "2026-03-02T10:00:00Z")
	req.Reason = &reason

	appt, err := f.svc.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Status != appointment.StatusPending {
		t.Errorf("status = %s, want PENDING", appt.Status)
	}
	if !appt.DateTime.Equal(at(10, 0)) {
		t.Errorf("DateTime = %s", appt.DateTime)
	}
	if appt.EndTime == nil || !appt.EndTime.Equal(at(10, 30)) {
		t.Errorf("EndTime = %v, want 10:30", appt.EndTime)
	}
	if appt.AppointmentTypeID == nil || *appt.AppointmentTypeID != f.follow.ID {
		t.Errorf("AppointmentTypeID = %v", appt.AppointmentTypeID)
	}
	if appt.Reason == nil || *appt.Reason != "stress" {
		t.Errorf("Reason = %v", appt.Reason)
	}

	events := f.repo.Events()
	if len(events) != 1 || events[0].EventType != appointment.EventAppointmentBooked {
		t.Errorf("expected one APPOINTMENT_BOOKED event, got %+v", events)
	}
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t)

	otherUser := f.repo.AddUser(appointment.User{Name: "Dr. Jones", Role: appointment.RoleDoctor})
	other := f.repo.AddDoctor(appointment.Doctor{UserID: otherUser.ID, Available: true})
	otherType := f.repo.AddAppointmentType(appointment.AppointmentType{DoctorID: other.ID, Name: "Follow-up", DurationMinutes: 30})

	tests := []struct {
		name    string
		req     appointment.BookingRequest
		wantErr error
	}{
		{
			name:    "unparseable date",
			req:     f.request(f.follow, "tomorrow at ten"),
			wantErr: appointment.ErrInvalidRequest,
		},
		{
			name:    "past date",
			req:     f.request(f.follow, "2026-03-01T10:00:00Z"),
			wantErr: appointment.ErrInvalidRequest,
		},
		{
			name:    "missing appointment type",
			req:     appointment.BookingRequest{DoctorID: f.doctor.ID, AppointmentTypeID: uuid.New(), PatientID: f.patient.ID, DateTime: "2026-03-02T10:00:00Z"},
			wantErr: appointment.ErrInvalidRequest,
		},
		{
			name:    "type of another doctor",
			req:     appointment.BookingRequest{DoctorID: f.doctor.ID, AppointmentTypeID: otherType.ID, PatientID: f.patient.ID, DateTime: "2026-03-02T10:00:00Z"},
			wantErr: appointment.ErrInvalidRequest,
		},
		{
			name:    "45 minutes at 16:45 runs past closing",
			req:     f.request(f.first, "2026-03-02T16:45:00Z"),
			wantErr: appointment.ErrOutOfHours,
		},
		{
			name:    "before opening",
			req:     f.request(f.quick, "2026-03-02T08:45:00Z"),
			wantErr: appointment.ErrOutOfHours,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Book(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if n := len(f.repo.Appointments()); n != 0 {
		t.Errorf("rejected requests must not write, found %d appointments", n)
	}
}

func TestBook_OutOfHoursMessageCarriesWindow(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), f.request(f.first, "2026-03-02T16:45:00Z"))
	if !errors.Is(err, appointment.ErrOutOfHours) {
		t.Fatalf("expected ErrOutOfHours, got %v", err)
	}
	if !strings.Contains(err.Error(), "09:00-17:00") {
		t.Errorf("message should include working hours, got %q", err.Error())
	}

	// 16:30 + 30 ends exactly at closing
	if _, err := f.svc.Book(context.Background(), f.request(f.follow, "2026-03-02T16:30:00Z")); err != nil {
		t.Errorf("slot ending at closing should be accepted: %v", err)
	}
}

func TestBook_ExactFillOfShortDay(t *testing.T) {
	f := newFixture(t)
	start, end := "09:00", "09:45"
	f.repo.AddDoctor(appointment.Doctor{ID: f.doctor.ID, UserID: f.doctor.UserID, Available: true, StartTime: &start, EndTime: &end})

	slots, err := f.svc.Slots(context.Background(), f.doctor.ID, f.first.ID, "2026-03-02")
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("a type as long as the day lists no slots, got %d", len(slots))
	}

	appt, err := f.svc.Book(context.Background(), f.request(f.first, "2026-03-02T09:00:00Z"))
	if err != nil {
		t.Fatalf("booking that fills the day exactly should be accepted: %v", err)
	}
	if appt.EndTime == nil || !appt.EndTime.Equal(at(9, 45)) {
		t.Errorf("EndTime = %v, want 09:45", appt.EndTime)
	}
}

func TestBook_PastDateWinsOverOtherFailures(t *testing.T) {
	f := newFixture(t)
	f.repo.AddDoctor(appointment.Doctor{ID: f.doctor.ID, UserID: f.doctor.UserID, Available: false})

	_, err := f.svc.Book(context.Background(), f.request(f.first, "2026-03-01T16:45:00Z"))
	if !errors.Is(err, appointment.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest first, got %v", err)
	}
}

func TestBook_DoctorUnavailable(t *testing.T) {
	f := newFixture(t)
	f.repo.AddDoctor(appointment.Doctor{ID: f.doctor.ID, UserID: f.doctor.UserID, Available: false})

	_, err := f.svc.Book(context.Background(), f.request(f.follow, "2026-03-02T10:00:00Z"))
	if !errors.Is(err, appointment.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestBook_UsesDoctorWorkingHours(t *testing.T) {
	f := newFixture(t)
	start, end := "08:00", "12:00"
	f.repo.AddDoctor(appointment.Doctor{ID: f.doctor.ID, UserID: f.doctor.UserID, Available: true, StartTime: &start, EndTime: &end})

	if _, err := f.svc.Book(context.Background(), f.request(f.follow, "2026-03-02T08:00:00Z")); err != nil {
		t.Errorf("08:00 should be inside 08:00-12:00: %v", err)
	}
	_, err := f.svc.Book(context.Background(), f.request(f.follow, "2026-03-02T11:45:00Z"))
	if !errors.Is(err, appointment.ErrOutOfHours) || !strings.Contains(err.Error(), "08:00-12:00") {
		t.Errorf("expected ErrOutOfHours mentioning 08:00-12:00, got %v", err)
	}
}

func TestBook_Conflicts(t *testing.T) {
	tests := []struct {
		name     string
		existing func(f *fixture)
		typ      func(f *fixture) appointment.AppointmentType
		dateTime string
		wantErr  error
	}{
		{
			name:     "overlapping booking",
			existing: func(f *fixture) { f.addBooked(at(10, 0), dur(30*time.Minute), appointment.StatusConfirmed) },
			typ:      func(f *fixture) appointment.AppointmentType { return f.follow },
			dateTime: "2026-03-02T10:15:00Z",
			wantErr:  appointment.ErrSlotConflict,
		},
		{
			name: "back-to-back neighbours",
			existing: func(f *fixture) {
				f.addBooked(at(9, 30), dur(30*time.Minute), appointment.StatusPending)
				f.addBooked(at(10, 30), dur(30*time.Minute), appointment.StatusConfirmed)
			},
			typ:      func(f *fixture) appointment.AppointmentType { return f.follow },
			dateTime: "2026-03-02T10:00:00Z",
		},
		{
			name:     "legacy record occupies thirty minutes",
			existing: func(f *fixture) { f.addBooked(at(10, 0), nil, appointment.StatusPending) },
			typ:      func(f *fixture) appointment.AppointmentType { return f.quick },
			dateTime: "2026-03-02T10:15:00Z",
			wantErr:  appointment.ErrSlotConflict,
		},
		{
			name:     "legacy record frees at half past",
			existing: func(f *fixture) { f.addBooked(at(10, 0), nil, appointment.StatusPending) },
			typ:      func(f *fixture) appointment.AppointmentType { return f.quick },
			dateTime: "2026-03-02T10:30:00Z",
		},
		{
			name:     "cancelled appointment does not block",
			existing: func(f *fixture) { f.addBooked(at(10, 0), dur(30*time.Minute), appointment.StatusCancelled) },
			typ:      func(f *fixture) appointment.AppointmentType { return f.follow },
			dateTime: "2026-03-02T10:00:00Z",
		},
		{
			name:     "long appointment started earlier",
			existing: func(f *fixture) { f.addBooked(at(9, 0), dur(90*time.Minute), appointment.StatusConfirmed) },
			typ:      func(f *fixture) appointment.AppointmentType { return f.quick },
			dateTime: "2026-03-02T10:15:00Z",
			wantErr:  appointment.ErrSlotConflict,
		},
		{
			name: "other doctor's booking is irrelevant",
			existing: func(f *fixture) {
				f.repo.AddAppointment(appointment.Appointment{DoctorID: uuid.New(), PatientID: uuid.New(), DateTime: at(10, 0), Status: appointment.StatusConfirmed})
			},
			typ:      func(f *fixture) appointment.AppointmentType { return f.follow },
			dateTime: "2026-03-02T10:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.existing(f)
			before := len(f.repo.Appointments())

			_, err := f.svc.Book(context.Background(), f.request(tt.typ(f), tt.dateTime))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got := len(f.repo.Appointments()); got != before+1 {
					t.Errorf("expected one insert, have %d appointments (was %d)", got, before)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if got := len(f.repo.Appointments()); got != before {
				t.Errorf("conflict must not write, have %d appointments (was %d)", got, before)
			}
		})
	}
}

func TestBook_ConcurrentIdenticalRequests(t *testing.T) {
	f := newFixture(t)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)

	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Book(context.Background(), f.request(f.follow, "2026-03-02T11:00:00Z"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, appointment.ErrSlotConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Errorf("expected exactly one success, got %d", successes)
	}
	if conflicts != attempts-1 {
		t.Errorf("expected %d conflicts, got %d", attempts-1, conflicts)
	}
	if len(others) > 0 {
		t.Errorf("unexpected errors: %v", others)
	}
	assertNoOverlap(t, f.repo.Appointments())
}

func TestBook_ConcurrentMixedRequestsKeepInvariant(t *testing.T) {
	f := newFixture(t)

	starts := []string{
		"2026-03-02T09:00:00Z", "2026-03-02T09:15:00Z", "2026-03-02T09:30:00Z",
		"2026-03-02T09:45:00Z", "2026-03-02T10:00:00Z", "2026-03-02T10:15:00Z",
	}
	types := []appointment.AppointmentType{f.quick, f.follow, f.first}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), f.request(types[i%len(types)], starts[i%len(starts)]))
			if err != nil && !errors.Is(err, appointment.ErrSlotConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assertNoOverlap(t, f.repo.Appointments())
}

func assertNoOverlap(t *testing.T, appts []appointment.Appointment) {
	t.Helper()
	for i := range appts {
		for j := i + 1; j < len(appts); j++ {
			a, b := appts[i], appts[j]
			if a.DoctorID != b.DoctorID || !a.Status.Blocks() || !b.Status.Blocks() {
				continue
			}
			if scheduling.Overlaps(a.Interval(), b.Interval()) {
				t.Errorf("appointments %s and %s overlap", a.ID, b.ID)
			}
		}
	}
}

type busyLocker struct{}

func (busyLocker) WithDoctorLock(context.Context, uuid.UUID, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestBook_LockTimeoutIsConflict(t *testing.T) {
	f := newFixtureWithLocker(t, busyLocker{})

	_, err := f.svc.Book(context.Background(), f.request(f.follow, "2026-03-02T10:00:00Z"))
	if !errors.Is(err, appointment.ErrSlotConflict) {
		t.Errorf("expected ErrSlotConflict, got %v", err)
	}
}

func TestBook_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.FailWith(errors.New("connection reset"))

	_, err := f.svc.Book(context.Background(), f.request(f.follow, "2026-03-02T10:00:00Z"))
	if !errors.Is(err, appointment.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestBook_CancelledSlotCanBeRebooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Book(ctx, f.request(f.follow, "2026-03-02T10:00:00Z"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Book(ctx, f.request(f.follow, "2026-03-02T10:00:00Z")); !errors.Is(err, appointment.ErrSlotConflict) {
		t.Fatalf("expected conflict before cancel, got %v", err)
	}

	actor := appointment.Actor{UserID: f.patient.ID, Role: appointment.RolePatient}
	if _, err := f.svc.UpdateStatus(ctx, actor, first.ID, appointment.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Book(ctx, f.request(f.follow, "2026-03-02T10:00:00Z")); err != nil {
		t.Errorf("cancelled slot should be bookable again: %v", err)
	}
}

// -- Availability and slots --

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	f.addBooked(at(10, 0), nil, appointment.StatusPending)
	f.addBooked(at(11, 0), dur(45*time.Minute), appointment.StatusConfirmed)
	f.addBooked(at(12, 0), dur(30*time.Minute), appointment.StatusCancelled)
	f.addBooked(at(10, 0).AddDate(0, 0, 1), dur(30*time.Minute), appointment.StatusConfirmed)

	day, err := f.svc.Availability(context.Background(), f.doctor.ID, "2026-03-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if day.Hours.String() != "09:00-17:00" {
		t.Errorf("hours = %s", day.Hours)
	}
	if len(day.Booked) != 2 {
		t.Fatalf("expected 2 booked intervals, got %d", len(day.Booked))
	}
	if !day.Booked[0].End.Equal(at(10, 30)) {
		t.Errorf("legacy end not normalised: %s", day.Booked[0].End)
	}
	if !day.Booked[1].End.Equal(at(11, 45)) {
		t.Errorf("explicit end changed: %s", day.Booked[1].End)
	}
}

func TestAvailability_Errors(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Availability(context.Background(), uuid.New(), "2026-03-02"); !errors.Is(err, appointment.ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}
	if _, err := f.svc.Availability(context.Background(), f.doctor.ID, "03/02/2026"); !errors.Is(err, appointment.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSlots_AdvisoryFlags(t *testing.T) {
	f := newFixture(t)
	f.addBooked(at(10, 0), dur(30*time.Minute), appointment.StatusConfirmed)

	slots, err := f.svc.Slots(context.Background(), f.doctor.ID, f.follow.ID, "2026-03-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 31 {
		t.Fatalf("expected 31 slots, got %d", len(slots))
	}

	byStart := map[string]bool{}
	for _, s := range slots {
		byStart[s.Start.Format("15:04")] = s.Available
	}
	for hhmm, want := range map[string]bool{
		"09:00": true,
		"09:30": true,  // ends exactly at 10:00
		"09:45": false, // runs into 10:00
		"10:00": false,
		"10:15": false,
		"10:30": true,
		"16:30": true,
	} {
		if got, ok := byStart[hhmm]; !ok || got != want {
			t.Errorf("slot %s available = %v (present %v), want %v", hhmm, got, ok, want)
		}
	}
	if _, ok := byStart["16:45"]; ok {
		t.Error("no 30 minute slot may start at 16:45")
	}
}

func TestSlots_TypeMustBelongToDoctor(t *testing.T) {
	f := newFixture(t)
	foreign := f.repo.AddAppointmentType(appointment.AppointmentType{DoctorID: uuid.New(), Name: "x", DurationMinutes: 15})

	if _, err := f.svc.Slots(context.Background(), f.doctor.ID, foreign.ID, "2026-03-02"); !errors.Is(err, appointment.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

// -- Status --

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    appointment.AppointmentStatus
		to      appointment.AppointmentStatus
		actor   func(f *fixture) appointment.Actor
		wantErr error
	}{
		{"doctor confirms", appointment.StatusPending, appointment.StatusConfirmed, doctorActor, nil},
		{"doctor completes", appointment.StatusConfirmed, appointment.StatusCompleted, doctorActor, nil},
		{"doctor cannot complete pending", appointment.StatusPending, appointment.StatusCompleted, doctorActor, appointment.ErrInvalidStatusTransition},
		{"cancelled is terminal", appointment.StatusCancelled, appointment.StatusConfirmed, adminActor, appointment.ErrInvalidStatusTransition},
		{"completed is terminal", appointment.StatusCompleted, appointment.StatusCancelled, adminActor, appointment.ErrInvalidStatusTransition},
		{"patient cancels own", appointment.StatusConfirmed, appointment.StatusCancelled, patientActor, nil},
		{"patient cannot confirm", appointment.StatusPending, appointment.StatusConfirmed, patientActor, appointment.ErrForbidden},
		{"stranger patient", appointment.StatusPending, appointment.StatusCancelled, strangerActor, appointment.ErrAppointmentNotFound},
		{"other doctor", appointment.StatusPending, appointment.StatusConfirmed, otherDoctorActor, appointment.ErrAppointmentNotFound},
		{"unknown status", appointment.StatusPending, appointment.AppointmentStatus("ARCHIVED"), adminActor, appointment.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			appt := f.repo.AddAppointment(appointment.Appointment{
				PatientID: f.patient.ID,
				DoctorID:  f.doctor.ID,
				DateTime:  at(10, 0),
				Status:    tt.from,
			})

			updated, err := f.svc.UpdateStatus(context.Background(), tt.actor(f), appt.ID, tt.to)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if updated.Status != tt.to {
				t.Errorf("status = %s, want %s", updated.Status, tt.to)
			}
			events := f.repo.Events()
			if len(events) == 0 || events[len(events)-1].EventType != appointment.EventAppointmentStatusChanged {
				t.Error("expected a status change event")
			}
		})
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpdateStatus(context.Background(), adminActor(f), uuid.New(), appointment.StatusCancelled)
	if !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func doctorActor(f *fixture) appointment.Actor  { return appointment.Actor{UserID: f.doctor.UserID, Role: appointment.RoleDoctor} }
func patientActor(f *fixture) appointment.Actor { return appointment.Actor{UserID: f.patient.ID, Role: appointment.RolePatient} }
func adminActor(*fixture) appointment.Actor     { return appointment.Actor{UserID: uuid.New(), Role: appointment.RoleAdmin} }
func strangerActor(*fixture) appointment.Actor  { return appointment.Actor{UserID: uuid.New(), Role: appointment.RolePatient} }
func otherDoctorActor(f *fixture) appointment.Actor {
	u := f.repo.AddUser(appointment.User{Name: "Dr. Lee", Role: appointment.RoleDoctor})
	f.repo.AddDoctor(appointment.Doctor{UserID: u.ID, Available: true})
	return appointment.Actor{UserID: u.ID, Role: appointment.RoleDoctor}
}

// -- Doctor settings, listings, sweeper --

func TestUpdateDoctorSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := doctorActor(f)

	if _, err := f.svc.UpdateDoctorSettings(ctx, actor, appointment.DoctorSettings{StartTime: "17:00", EndTime: "09:00"}); !errors.Is(err, appointment.ErrInvalidRequest) {
		t.Errorf("inverted hours: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := f.svc.UpdateDoctorSettings(ctx, actor, appointment.DoctorSettings{StartTime: "9am", EndTime: "17:00"}); !errors.Is(err, appointment.ErrInvalidRequest) {
		t.Errorf("bad format: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := f.svc.UpdateDoctorSettings(ctx, patientActor(f), appointment.DoctorSettings{StartTime: "10:00", EndTime: "12:00"}); !errors.Is(err, appointment.ErrForbidden) {
		t.Errorf("patient: expected ErrForbidden, got %v", err)
	}

	doc, err := f.svc.UpdateDoctorSettings(ctx, actor, appointment.DoctorSettings{StartTime: "10:00", EndTime: "12:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.StartTime == nil || *doc.StartTime != "10:00" || !doc.Available {
		t.Errorf("unexpected doctor after update: %+v", doc)
	}

	hours, err := f.svc.WorkingHours(ctx, f.doctor.ID)
	if err != nil || hours.String() != "10:00-12:00" {
		t.Errorf("WorkingHours = %s, %v", hours, err)
	}
	if _, err := f.svc.Book(ctx, f.request(f.follow, "2026-03-02T09:30:00Z")); !errors.Is(err, appointment.ErrOutOfHours) {
		t.Errorf("expected new hours to apply, got %v", err)
	}

	off := false
	if _, err := f.svc.UpdateDoctorSettings(ctx, actor, appointment.DoctorSettings{StartTime: "10:00", EndTime: "12:00", Available: &off}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Book(ctx, f.request(f.follow, "2026-03-02T10:30:00Z")); !errors.Is(err, appointment.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestListMine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Book(ctx, f.request(f.follow, "2026-03-02T14:00:00Z")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Book(ctx, f.request(f.quick, "2026-03-02T09:00:00Z")); err != nil {
		t.Fatal(err)
	}

	mine, err := f.svc.ListMine(ctx, patientActor(f))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mine) != 2 || !mine[0].DateTime.Before(mine[1].DateTime) {
		t.Fatalf("expected 2 appointments ordered by time, got %+v", mine)
	}
	if mine[0].DoctorName != "Dr. Sarah Smith" {
		t.Errorf("DoctorName = %q", mine[0].DoctorName)
	}
	if mine[0].AppointmentTypeName == nil || *mine[0].AppointmentTypeName != "Quick Consultation" {
		t.Errorf("AppointmentTypeName = %v", mine[0].AppointmentTypeName)
	}

	schedule, err := f.svc.ListMine(ctx, doctorActor(f))
	if err != nil || len(schedule) != 2 {
		t.Errorf("doctor schedule = %d, %v", len(schedule), err)
	}

	if _, err := f.svc.ListMine(ctx, adminActor(f)); !errors.Is(err, appointment.ErrInvalidRequest) {
		t.Errorf("admin: expected ErrInvalidRequest, got %v", err)
	}
}

func TestListAppointmentTypes_OrderedByDuration(t *testing.T) {
	f := newFixture(t)
	types, err := f.svc.ListAppointmentTypes(context.Background(), f.doctor.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 3 {
		t.Fatalf("expected 3 types, got %d", len(types))
	}
	for i := 1; i < len(types); i++ {
		if types[i].DurationMinutes < types[i-1].DurationMinutes {
			t.Errorf("types not ordered by duration: %+v", types)
		}
	}
}

func TestCancelStalePending(t *testing.T) {
	f := newFixture(t)
	stale := f.addBooked(testNow.Add(-time.Hour), dur(30*time.Minute), appointment.StatusPending)
	confirmed := f.addBooked(testNow.Add(-2*time.Hour), dur(30*time.Minute), appointment.StatusConfirmed)
	upcoming := f.addBooked(testNow.Add(2*time.Hour), dur(30*time.Minute), appointment.StatusPending)

	n, err := f.svc.CancelStalePending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("cancelled %d, want 1", n)
	}

	status := map[uuid.UUID]appointment.AppointmentStatus{}
	for _, a := range f.repo.Appointments() {
		status[a.ID] = a.Status
	}
	if status[stale.ID] != appointment.StatusCancelled {
		t.Errorf("stale pending = %s", status[stale.ID])
	}
	if status[confirmed.ID] != appointment.StatusConfirmed {
		t.Errorf("confirmed appointment touched: %s", status[confirmed.ID])
	}
	if status[upcoming.ID] != appointment.StatusPending {
		t.Errorf("upcoming appointment touched: %s", status[upcoming.ID])
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.addBooked(at(10, 0), nil, appointment.StatusPending)
	f.addBooked(at(11, 0), nil, appointment.StatusCancelled)

	st, err := f.svc.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Users.Total != 2 || st.Users.Doctors != 1 || st.Users.Patients != 1 {
		t.Errorf("user stats = %+v", st.Users)
	}
	if st.Appointments.Total != 2 || st.Appointments.Pending != 1 || st.Appointments.Cancelled != 1 {
		t.Errorf("appointment stats = %+v", st.Appointments)
	}
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	base := testNow.Add(-48 * time.Hour)
	f.repo.AddUser(appointment.User{Name: "Maria Garcia", Email: "maria@uni.test", Role: appointment.RolePatient, CreatedAt: base.Add(time.Hour)})
	f.repo.AddUser(appointment.User{Name: "Tom Baker", Email: "tom.GARCIA@uni.test", Role: appointment.RolePatient, CreatedAt: base.Add(2 * time.Hour)})
	f.repo.AddUser(appointment.User{Name: "Clinic Admin", Email: "admin@unihealth.test", Role: appointment.RoleAdmin, CreatedAt: base})

	tests := []struct {
		name   string
		search string
		role   string
		want   []string
	}{
		{"search matches name or email case insensitive, newest first", "garcia", "", []string{"Tom Baker", "Maria Garcia"}},
		{"role filter", "", "ADMIN", []string{"Clinic Admin"}},
		{"search and role combine", "  maria ", "PATIENT", []string{"Maria Garcia"}},
		{"no match", "nobody", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := f.svc.ListUsers(context.Background(), tt.search, tt.role)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var got []string
			for _, u := range users {
				got = append(got, u.Name)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListUsers_LimitAndValidation(t *testing.T) {
	f := newFixture(t)
	for i := range 60 {
		f.repo.AddUser(appointment.User{Name: "Patient", Email: uuid.NewString() + "@uni.test", Role: appointment.RolePatient, CreatedAt: testNow.Add(time.Duration(i) * time.Minute)})
	}

	users, err := f.svc.ListUsers(context.Background(), "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 50 {
		t.Errorf("got %d users, want 50", len(users))
	}

	if _, err := f.svc.ListUsers(context.Background(), "", "NURSE"); !errors.Is(err, appointment.ErrInvalidRequest) {
		t.Errorf("unknown role: expected ErrInvalidRequest, got %v", err)
	}

	f.repo.FailWith(errors.New("connection reset"))
	if _, err := f.svc.ListUsers(context.Background(), "", ""); !errors.Is(err, appointment.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestPromoteToDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.PromoteToDoctor(ctx, adminActor(f), f.patient.ID, "  Dermatologist ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.UserID != f.patient.ID || doc.Specialty != "Dermatologist" || !doc.Available {
		t.Errorf("doctor = %+v", doc)
	}
	if doc.StartTime != nil || doc.EndTime != nil {
		t.Errorf("new doctor should use default hours, got %v-%v", doc.StartTime, doc.EndTime)
	}
	if u, _ := f.repo.User(f.patient.ID); u.Role != appointment.RoleDoctor {
		t.Errorf("role = %s, want DOCTOR", u.Role)
	}

	hours, err := f.svc.WorkingHours(ctx, doc.ID)
	if err != nil || hours.String() != "09:00-17:00" {
		t.Errorf("working hours = %s, %v", hours, err)
	}

	tests := []struct {
		name      string
		userID    uuid.UUID
		specialty string
		wantErr   error
	}{
		{"already a doctor", f.patient.ID, "Dermatologist", appointment.ErrAlreadyDoctor},
		{"existing doctor user", f.doctor.UserID, "Psychologist", appointment.ErrAlreadyDoctor},
		{"unknown user", uuid.New(), "Dermatologist", appointment.ErrUserNotFound},
		{"missing specialty", f.patient.ID, "   ", appointment.ErrInvalidRequest},
		{"missing user", uuid.Nil, "Dermatologist", appointment.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PromoteToDoctor(ctx, adminActor(f), tt.userID, tt.specialty)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	doctors, _ := f.svc.ListDoctors(ctx)
	if len(doctors) != 2 {
		t.Errorf("expected 2 doctors after promotion, got %d", len(doctors))
	}
}
