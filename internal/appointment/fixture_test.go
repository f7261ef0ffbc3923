package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-scheduling/internal/config"
	"github.com/hackgods/slot-scheduling/internal/directory"
	"github.com/hackgods/slot-scheduling/internal/metrics"
	"github.com/hackgods/slot-scheduling/internal/notify"
	redisclient "github.com/hackgods/slot-scheduling/internal/redis"
)

type stubDirectory struct {
	mu       sync.Mutex
	patients map[uuid.UUID]directory.Patient
	doctors  map[uuid.UUID]directory.Doctor
	err      error // returned by every lookup when set
}

func (d *stubDirectory) ResolvePatient(ctx context.Context, id uuid.UUID) (*directory.Patient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	p, ok := d.patients[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return &p, nil
}

func (d *stubDirectory) ResolveDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	doc, ok := d.doctors[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return &doc, nil
}

func (d *stubDirectory) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

type mockPublisher struct {
	mock.Mock
}

func (p *mockPublisher) Publish(ctx context.Context, ev notify.Event) error {
	args := p.Called(ctx, ev)
	return args.Error(0)
}

func (p *mockPublisher) events() []notify.Event {
	var out []notify.Event
	for _, c := range p.Calls {
		out = append(out, c.Arguments.Get(1).(notify.Event))
	}
	return out
}

var clinicDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	dir     *stubDirectory
	pub     *mockPublisher
	metrics *metrics.Metrics

	doctorID  uuid.UUID
	patientID uuid.UUID
	slots     []Slot // 09:00-12:00 in 30 minute steps
}

func testConfig() config.Config {
	return config.Config{
		SlotDuration:     30 * time.Minute,
		Location:         time.UTC,
		NoShowGrace:      time.Hour,
		DirectoryTimeout: time.Second,
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithLocker(t, nil)
}

func newFixtureWithLocker(t *testing.T, locker redisclient.Locker) *fixture {
	t.Helper()

	f := &fixture{
		repo:      NewMemoryRepository(),
		pub:       &mockPublisher{},
		metrics:   metrics.New(),
		doctorID:  uuid.New(),
		patientID: uuid.New(),
	}
	f.dir = &stubDirectory{
		patients: map[uuid.UUID]directory.Patient{
			f.patientID: {ID: f.patientID, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		},
		doctors: map[uuid.UUID]directory.Doctor{
			f.doctorID: {ID: f.doctorID, Name: "Dr. Gregory House", Specialty: "diagnostics"},
		},
	}
	f.pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	f.svc = NewService(f.repo, locker, f.dir, f.pub, testConfig(), zerolog.Nop(), f.metrics)

	slots, err := f.svc.GenerateSlots(context.Background(), Shift{
		DoctorID: f.doctorID,
		Start:    clinicDay.Add(9 * time.Hour),
		End:      clinicDay.Add(12 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, slots, 6)
	f.slots = slots

	return f
}

func (f *fixture) addPatient(name string) uuid.UUID {
	id := uuid.New()
	f.dir.mu.Lock()
	f.dir.patients[id] = directory.Patient{ID: id, Name: name}
	f.dir.mu.Unlock()
	return id
}

// addDoctorShift lists a second doctor in the directory and opens the same
// 09:00-12:00 morning for them.
func (f *fixture) addDoctorShift(t *testing.T, name string) (uuid.UUID, []Slot) {
	t.Helper()
	id := uuid.New()
	f.dir.mu.Lock()
	f.dir.doctors[id] = directory.Doctor{ID: id, Name: name}
	f.dir.mu.Unlock()

	slots, err := f.svc.GenerateSlots(context.Background(), Shift{
		DoctorID: id,
		Start:    clinicDay.Add(9 * time.Hour),
		End:      clinicDay.Add(12 * time.Hour),
	})
	require.NoError(t, err)
	return id, slots
}

func (f *fixture) book(t *testing.T, slot Slot) *AppointmentDetail {
	t.Helper()
	appt, err := f.svc.CreateAppointment(context.Background(), f.patientID, slot.ID)
	require.NoError(t, err)
	return appt
}

func (f *fixture) slotStatus(t *testing.T, id uuid.UUID) SlotStatus {
	t.Helper()
	s, err := f.repo.GetSlotByID(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

func (f *fixture) appointmentStatus(t *testing.T, id uuid.UUID) AppointmentStatus {
	t.Helper()
	a, err := f.repo.GetAppointmentByID(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}
