package bookings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/polyclinic-scheduler/internal/availability"
	"github.com/wolfman30/polyclinic-scheduler/internal/crowd"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/internal/notify"
	"github.com/wolfman30/polyclinic-scheduler/internal/otp"
	"github.com/wolfman30/polyclinic-scheduler/internal/schedule"
	"github.com/wolfman30/polyclinic-scheduler/internal/slotload"
	"github.com/wolfman30/polyclinic-scheduler/internal/timegrid"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

var (
	clk  = timegrid.MustClock
	wed  = timegrid.MustDate("2025-01-01")
	wedS = "2025-01-01"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recordingNotifier) last() notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

type fixedGenerator struct{ code string }

func (g fixedGenerator) Generate() (string, error) { return g.code, nil }

type fakePurger struct {
	doctors  []uuid.UUID
	reassign [][2]uuid.UUID
	err      error
}

func (p *fakePurger) PurgeDoctor(_ context.Context, id uuid.UUID) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.doctors = append(p.doctors, id)
	return 0, nil
}

func (p *fakePurger) ReassignStaff(_ context.Context, staffID, adminID uuid.UUID) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.reassign = append(p.reassign, [2]uuid.UUID{staffID, adminID})
	return 1, nil
}

type failingLoads struct{}

func (failingLoads) Increment(context.Context, timegrid.Date, timegrid.Clock, int) (slotload.SlotLoad, error) {
	return slotload.SlotLoad{}, errors.New("redis down")
}

type harness struct {
	coord    *Coordinator
	schedule *schedule.MemoryStore
	visits   *MemoryStore
	loads    *slotload.MemoryTracker
	users    *identity.MemoryDirectory
	notifier *recordingNotifier
	otpOut   *recordingNotifier
	verifier *otp.Verifier
	purger   *fakePurger
	doctor   schedule.Doctor
	patient  identity.User
	staff    identity.User
	admin    identity.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		schedule: schedule.NewMemoryStore(),
		visits:   NewMemoryStore(),
		loads:    slotload.NewMemoryTracker(),
		users:    identity.NewMemoryDirectory(),
		notifier: &recordingNotifier{},
		otpOut:   &recordingNotifier{},
		purger:   &fakePurger{},
	}
	var err error
	h.doctor, err = h.schedule.CreateDoctor(ctx, schedule.Doctor{Name: "Dr. Brandt", Specialization: "Cardiology"})
	require.NoError(t, err)
	h.patient, err = h.users.CreateUser(ctx, identity.User{Kind: identity.KindPatient, Email: "amara@example.com", Name: "Amara"})
	require.NoError(t, err)
	h.staff, err = h.users.CreateUser(ctx, identity.User{Kind: identity.KindStaff, Email: "desk@example.com", Name: "Front Desk"})
	require.NoError(t, err)
	h.admin, err = h.users.CreateUser(ctx, identity.User{Kind: identity.KindAdmin, Email: "admin@example.com"})
	require.NoError(t, err)

	h.verifier = otp.NewVerifier(otp.NewMemoryStore(), fixedGenerator{code: "424242"}, h.otpOut, logging.Discard())
	h.coord = NewCoordinator(Deps{
		Doctors:      h.schedule,
		Availability: availability.NewResolver(h.schedule, h.visits, logging.Discard()),
		Crowd:        crowd.NewDetector(h.loads, logging.Discard()),
		Visits:       h.visits,
		Loads:        h.loads,
		OTP:          h.verifier,
		Users:        h.users,
		Purger:       h.purger,
		Notifier:     h.notifier,
		Logger:       logging.Discard(),
	}).WithLocation(time.UTC)
	return h
}

func (h *harness) requester(u identity.User) identity.Requester {
	return identity.Requester{Kind: u.Kind, ID: u.ID, Email: u.Email, Verified: true}
}

func (h *harness) request(r identity.Requester, at string) BookingRequest {
	return BookingRequest{
		DoctorID:  h.doctor.ID,
		Date:      wedS,
		Time:      at,
		Gender:    "Female",
		VisitType: "New",
		Requester: r,
	}
}

func (h *harness) loadAt(t *testing.T, date timegrid.Date, at timegrid.Clock) slotload.SlotLoad {
	t.Helper()
	loads, err := h.loads.Day(context.Background(), date)
	require.NoError(t, err)
	for _, l := range loads {
		if l.Time == at {
			return l
		}
	}
	return slotload.SlotLoad{}
}

func TestBook_DefaultOpenConfirmsAndNotifies(t *testing.T) {
	h := newHarness(t)
	res, err := h.coord.Book(context.Background(), h.request(h.requester(h.patient), "10:00"))
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, res.Status)
	assert.NotEqual(t, uuid.Nil, res.VisitID)
	assert.Equal(t, 10, res.Capacity)
	require.NotNil(t, res.Visit)
	assert.Equal(t, h.patient.ID, *res.Visit.CreatedBy)
	assert.Nil(t, res.Visit.Guest)

	load := h.loadAt(t, wed, clk("10:00"))
	assert.Equal(t, 1, load.CurrentPatients)
	assert.Equal(t, 10, load.MaxCapacity)

	n := h.notifier.last()
	assert.Equal(t, notify.KindBookingConfirmed, n.Kind)
	assert.Equal(t, "amara@example.com", n.To)
	assert.Equal(t, "Dr. Brandt", n.DoctorName)
	assert.Equal(t, res.VisitID.String(), n.VisitID)
}

func TestBook_TwoPatientsSameSlotCountTwo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.Book(ctx, h.request(h.requester(h.patient), "10:00"))
	require.NoError(t, err)
	_, err = h.coord.Book(ctx, h.request(h.requester(h.staff), "10:00:00"))
	require.NoError(t, err)

	assert.Equal(t, 2, h.loadAt(t, wed, clk("10:00")).CurrentPatients)
}

func TestBook_WednesdayRule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.schedule.ReplaceWeeklyRules(ctx, h.doctor.ID, []schedule.WeeklyRule{
		{DayOfWeek: 2, Start: clk("09:00"), End: clk("12:00"), MaxPatientsPerSlot: 3},
	})
	require.NoError(t, err)

	_, err = h.coord.Book(ctx, h.request(h.requester(h.patient), "13:00"))
	assert.ErrorIs(t, err, ErrNotAvailable)

	res, err := h.coord.Book(ctx, h.request(h.requester(h.patient), "10:00"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Capacity)
	assert.Equal(t, 3, h.loadAt(t, wed, clk("10:00")).MaxCapacity)
}

func TestBook_CancelledExceptionVetoes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.schedule.UpsertException(ctx, schedule.ExceptionInput{
		DoctorID: h.doctor.ID, Date: wed, Status: schedule.ExceptionCancelled,
	})
	require.NoError(t, err)

	_, err = h.coord.Book(ctx, h.request(h.requester(h.patient), "10:00"))
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.Empty(t, h.notifier.kinds())
}

func TestBook_InvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.requester(h.patient)

	bad := []func(*BookingRequest){
		func(b *BookingRequest) { b.Date = "01/01/2025" },
		func(b *BookingRequest) { b.Time = "25:00" },
		func(b *BookingRequest) { b.Gender = "unknown" },
		func(b *BookingRequest) { b.VisitType = "Emergency" },
		func(b *BookingRequest) { b.DoctorID = uuid.Nil },
	}
	for _, mutate := range bad {
		req := h.request(r, "10:00")
		mutate(&req)
		_, err := h.coord.Book(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestBook_UnknownDoctor(t *testing.T) {
	h := newHarness(t)
	req := h.request(h.requester(h.patient), "10:00")
	req.DoctorID = uuid.New()
	_, err := h.coord.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBook_DoctorsCannotBook(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.Book(context.Background(), h.request(identity.Requester{Kind: identity.KindDoctor, ID: uuid.New()}, "10:00"))
	assert.ErrorIs(t, err, ErrForbidden)
}

func seedCrowd(h *harness) {
	h.loads.Seed(wed, clk("10:00"), 10, 10)
	h.loads.Seed(wed, clk("11:00"), 0, 10)
	h.loads.Seed(wed, clk("12:00"), 0, 10)
}

func TestBook_CrowdedReturnsSuggestionsWithoutWriting(t *testing.T) {
	h := newHarness(t)
	seedCrowd(h)

	res, err := h.coord.Book(context.Background(), h.request(h.requester(h.patient), "10:00"))
	require.NoError(t, err)
	assert.Equal(t, StatusCrowded, res.Status)
	assert.Equal(t, []timegrid.Clock{clk("11:00"), clk("12:00")}, res.Suggestions)
	assert.Equal(t, uuid.Nil, res.VisitID)

	visits, err := h.visits.ListForDate(context.Background(), wed, nil)
	require.NoError(t, err)
	assert.Empty(t, visits)
	assert.Equal(t, 10, h.loadAt(t, wed, clk("10:00")).CurrentPatients)
}

func TestBook_ForceOverridesCrowding(t *testing.T) {
	h := newHarness(t)
	seedCrowd(h)

	req := h.request(h.requester(h.staff), "10:00")
	req.Force = true
	res, err := h.coord.Book(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	assert.Equal(t, 11, h.loadAt(t, wed, clk("10:00")).CurrentPatients)
}

func TestBook_NotCrowdedAtMeanPlusStdDev(t *testing.T) {
	h := newHarness(t)
	h.loads.Seed(wed, clk("10:00"), 5, 10)
	h.loads.Seed(wed, clk("11:00"), 0, 10)

	res, err := h.coord.Book(context.Background(), h.request(h.requester(h.patient), "10:00"))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
}

func guestRequest(h *harness, r identity.Requester) BookingRequest {
	req := h.request(r, "10:00")
	req.Guest = &GuestInfo{Name: "Noor", Email: "Noor@Example.com", Phone: "+15550100"}
	return req
}

func TestBook_GuestCrowdSymmetry(t *testing.T) {
	h := newHarness(t)
	seedCrowd(h)

	req := guestRequest(h, identity.Requester{Kind: identity.KindGuest, Email: "noor@example.com", Verified: true})
	res, err := h.coord.Book(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusCrowded, res.Status)

	req.Force = true
	res, err = h.coord.Book(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
}

func TestBook_GuestCodeSurvivesCrowdedAndRejectedAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedCrowd(h)
	_, err := h.verifier.Issue(ctx, "noor@example.com")
	require.NoError(t, err)

	req := guestRequest(h, identity.Guest("noor@example.com"))
	req.OTPCode = "424242"

	req.Time = "23:30"
	_, err = h.coord.Book(ctx, req)
	assert.ErrorIs(t, err, ErrNotAvailable)

	req.Time = "10:00"
	res, err := h.coord.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusCrowded, res.Status)
	assert.Equal(t, []timegrid.Clock{clk("11:00"), clk("12:00")}, res.Suggestions)

	req.Force = true
	res, err = h.coord.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	assert.Equal(t, 11, h.loadAt(t, wed, clk("10:00")).CurrentPatients)

	_, err = h.coord.Book(ctx, req)
	assert.ErrorIs(t, err, ErrOTPInvalidOrExpired, "spent once the visit is written")
}

func TestBook_GuestOTPGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	guest := identity.Guest("noor@example.com")

	_, err := h.coord.Book(ctx, guestRequest(h, guest))
	assert.ErrorIs(t, err, ErrOTPRequired)

	req := guestRequest(h, guest)
	req.OTPCode = "000000"
	_, err = h.coord.Book(ctx, req)
	assert.ErrorIs(t, err, ErrOTPInvalidOrExpired)

	_, err = h.verifier.Issue(ctx, "noor@example.com")
	require.NoError(t, err)
	req.OTPCode = "424242"
	res, err := h.coord.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	require.NotNil(t, res.Visit.Guest)
	assert.Equal(t, "noor@example.com", res.Visit.Guest.Email)
	assert.Nil(t, res.Visit.CreatedBy)
	assert.Equal(t, "noor@example.com", h.notifier.last().To)

	_, err = h.coord.Book(ctx, req)
	assert.ErrorIs(t, err, ErrOTPInvalidOrExpired, "codes are single use")
}

func TestBook_GuestEmailMustMatchVerifiedEmail(t *testing.T) {
	h := newHarness(t)
	req := guestRequest(h, identity.Requester{Kind: identity.KindGuest, Email: "someone-else@example.com", Verified: true})
	_, err := h.coord.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrForbidden)

	req = guestRequest(h, identity.Requester{Kind: identity.KindGuest, Verified: true})
	req.Guest.Name = ""
	_, err = h.coord.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBook_SlotLoadFailureKeepsVisit(t *testing.T) {
	h := newHarness(t)
	h.coord.loads = failingLoads{}

	res, err := h.coord.Book(context.Background(), h.request(h.requester(h.patient), "10:00"))
	require.NoError(t, err)
	_, err = h.visits.Get(context.Background(), res.VisitID)
	assert.NoError(t, err)
}

func TestBook_LockTimeoutIsConflict(t *testing.T) {
	h := newHarness(t)
	release, err := h.coord.locks.acquire(context.Background(), wed, clk("10:00"))
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.coord.Book(ctx, h.request(h.requester(h.patient), "10:00"))
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestBook_WithLockTimeout(t *testing.T) {
	h := newHarness(t)
	h.coord.WithLockTimeout(20 * time.Millisecond)
	release, err := h.coord.locks.acquire(context.Background(), wed, clk("10:00"))
	require.NoError(t, err)
	defer release()

	_, err = h.coord.Book(context.Background(), h.request(h.requester(h.patient), "10:00"))
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestCancel_Authorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.coord.Book(ctx, h.request(h.requester(h.patient), "10:00"))
	require.NoError(t, err)

	other := identity.Requester{Kind: identity.KindPatient, ID: uuid.New()}
	assert.ErrorIs(t, h.coord.Cancel(ctx, res.VisitID, other, ""), ErrForbidden)
	assert.ErrorIs(t, h.coord.Cancel(ctx, res.VisitID, identity.Requester{Kind: identity.KindDoctor, ID: uuid.New()}, ""), ErrForbidden)
	assert.ErrorIs(t, h.coord.Cancel(ctx, uuid.New(), h.requester(h.patient), ""), ErrNotFound)

	require.NoError(t, h.coord.Cancel(ctx, res.VisitID, h.requester(h.patient), ""))
	assert.Equal(t, 1, h.loadAt(t, wed, clk("10:00")).CurrentPatients, "cancellation never decrements")

	n := h.notifier.last()
	assert.Equal(t, notify.KindBookingCancelled, n.Kind)
	assert.Equal(t, "amara@example.com", n.To)

	res, err = h.coord.Book(ctx, h.request(h.requester(h.patient), "11:00"))
	require.NoError(t, err)
	assert.NoError(t, h.coord.Cancel(ctx, res.VisitID, h.requester(h.staff), ""))
}

func TestCancel_GuestFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.coord.Book(ctx, guestRequest(h, identity.Requester{Kind: identity.KindGuest, Email: "noor@example.com", Verified: true}))
	require.NoError(t, err)

	assert.ErrorIs(t, h.coord.RequestCancelCode(ctx, res.VisitID, "intruder@example.com"), ErrForbidden)
	assert.ErrorIs(t, h.coord.RequestCancelCode(ctx, uuid.New(), "noor@example.com"), ErrNotFound)
	require.NoError(t, h.coord.RequestCancelCode(ctx, res.VisitID, " NOOR@example.com"))
	require.Len(t, h.otpOut.sent, 1)
	assert.Equal(t, "noor@example.com", h.otpOut.sent[0].To)

	assert.ErrorIs(t, h.coord.Cancel(ctx, res.VisitID, identity.Guest("noor@example.com"), ""), ErrOTPRequired)
	assert.ErrorIs(t, h.coord.Cancel(ctx, res.VisitID, identity.Guest("noor@example.com"), "999999"), ErrOTPInvalidOrExpired)

	_, err = h.verifier.Issue(ctx, "intruder@example.com")
	require.NoError(t, err)
	assert.ErrorIs(t, h.coord.Cancel(ctx, res.VisitID, identity.Guest("intruder@example.com"), "424242"), ErrForbidden)

	require.NoError(t, h.coord.Cancel(ctx, res.VisitID, identity.Guest("Noor@Example.com"), "424242"))
	_, err = h.visits.Get(ctx, res.VisitID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveDoctor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assert.ErrorIs(t, h.coord.RemoveDoctor(ctx, h.doctor.ID, h.requester(h.staff)), ErrForbidden)
	require.NoError(t, h.coord.RemoveDoctor(ctx, h.doctor.ID, h.requester(h.admin)))
	assert.Equal(t, []uuid.UUID{h.doctor.ID}, h.purger.doctors)

	h.purger.err = schedule.ErrDoctorNotFound
	assert.ErrorIs(t, h.coord.RemoveDoctor(ctx, uuid.New(), h.requester(h.admin)), ErrNotFound)
}

func TestRemoveStaff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.requester(h.admin)

	assert.ErrorIs(t, h.coord.RemoveStaff(ctx, h.staff.ID, h.requester(h.staff)), ErrForbidden)
	assert.ErrorIs(t, h.coord.RemoveStaff(ctx, h.admin.ID, admin), ErrInvalidInput)
	assert.ErrorIs(t, h.coord.RemoveStaff(ctx, h.patient.ID, admin), ErrInvalidInput)
	assert.ErrorIs(t, h.coord.RemoveStaff(ctx, uuid.New(), admin), ErrNotFound)

	require.NoError(t, h.coord.RemoveStaff(ctx, h.staff.ID, admin))
	assert.Equal(t, [][2]uuid.UUID{{h.staff.ID, h.admin.ID}}, h.purger.reassign)

	h.purger.err = errors.New("tx aborted")
	assert.Error(t, h.coord.RemoveStaff(ctx, h.staff.ID, admin))
}

func TestListings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.coord.WithClock(func() time.Time { return time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC) })

	_, err := h.coord.Book(ctx, h.request(h.requester(h.patient), "11:00"))
	require.NoError(t, err)
	_, err = h.coord.Book(ctx, h.request(h.requester(h.staff), "09:30"))
	require.NoError(t, err)
	past := h.request(h.requester(h.patient), "10:00")
	past.Date = "2024-12-31"
	_, err = h.coord.Book(ctx, past)
	require.NoError(t, err)

	day, err := h.coord.Schedule(ctx, wed, &h.doctor.ID)
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, clk("09:30"), day[0].Time)

	agenda, err := h.coord.DoctorAgenda(ctx, h.doctor.ID)
	require.NoError(t, err)
	assert.Len(t, agenda, 2)

	mine, err := h.coord.MyVisits(ctx, h.patient.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestBook_ConcurrentBookingsKeepEveryCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const n = 25

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.coord.Book(ctx, h.request(h.requester(h.patient), "10:00"))
			if err == nil && res.Status != StatusConfirmed {
				err = errors.New("unexpected status " + string(res.Status))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	visits, err := h.visits.ListForDate(ctx, wed, nil)
	require.NoError(t, err)
	assert.Len(t, visits, n)
	assert.Equal(t, n, h.loadAt(t, wed, clk("10:00")).CurrentPatients)
}

func TestSlotLocks_ReleaseDropsEntries(t *testing.T) {
	l := newSlotLocks()
	release, err := l.acquire(context.Background(), wed, clk("10:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, l.size())
	release()
	release()
	assert.Equal(t, 0, l.size())

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := l.acquire(context.Background(), wed, clk("10:00"))
			if err != nil {
				return
			}
			counter++
			rel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.size())
}
