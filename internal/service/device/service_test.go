package device

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/internal/repository/memory"
	"github.com/jwalitptl/caregem-api/internal/service/access"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/internal/service/event"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
)

// flakyDevices aborts the first n LockActive calls the way postgres aborts
// a serializable transaction.
type flakyDevices struct {
	repository.DeviceRepository
	mu    sync.Mutex
	fails int
}

func (f *flakyDevices) LockActive(ctx context.Context, imei string, patientID int64) ([]*model.Pairing, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return nil, errors.Transient("transaction conflict", fmt.Errorf("%w: 40001", repository.ErrSerializationFailure))
	}
	f.mu.Unlock()
	return f.DeviceRepository.LockActive(ctx, imei, patientID)
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	devices *flakyDevices
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	m := metrics.NewNop()
	devices := &flakyDevices{DeviceRepository: repos.Devices}
	svc := NewService(Deps{
		Tx:      repos.Tx,
		Devices: devices,
		Users:   repos.Users,
		Orgs:    repos.Orgs,
		Policy:  access.NewService(repos.Users, repos.Orgs, repos.Network, m, logger.Nop()),
		Auditor: audit.NewService(repos.Audit, repos.ChangeLog, memory.NewPHIStore(), logger.Nop()),
		Events:  event.NewEventService(repos.Outbox, logger.Nop()),
		Metrics: m,
		Logger:  logger.Nop(),
	})
	svc.backoff = time.Millisecond
	return &fixture{svc: svc, store: store, devices: devices, metrics: m}
}

// seedMonitored creates remote-monitored patients linked to provider 7.
func (f *fixture) seedMonitored(patients ...int64) *model.Caller {
	f.store.SeedProvider(7, 1)
	f.store.ModifyProvider(7, func(p *model.Provider) { p.RemoteMonitoring = true })
	for _, id := range patients {
		f.store.SeedPatient(id, 1)
		f.store.ModifyPatient(id, func(p *model.Patient) { p.RemoteMonitoring = true })
		f.store.SeedEdge(id, 7, model.KindProvider, false)
	}
	return &model.Caller{Kind: model.KindProvider, InternalID: 7, ExternalID: "provider-7", OrgID: 1}
}

func activeCounts(pairings []model.Pairing) (byIMEI map[string]int, byPatient map[int64]int) {
	byIMEI, byPatient = map[string]int{}, map[int64]int{}
	for _, p := range pairings {
		if p.Active {
			byIMEI[p.IMEI]++
			byPatient[p.PatientInternalID]++
		}
	}
	return byIMEI, byPatient
}

func TestPairAndUnpair(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	p, err := f.svc.Pair(ctx, caller, 42, model.PairRequest{IMEI: "860001", StartDate: &start})
	require.NoError(t, err)
	assert.True(t, bool(p.Active))
	assert.Nil(t, p.EndDate)
	assert.Equal(t, start, p.StartDate)

	end := start.Add(24 * time.Hour)
	require.NoError(t, f.svc.Unpair(ctx, caller, 42, model.UnpairRequest{EndDate: &end}))
	require.NoError(t, f.svc.Unpair(ctx, caller, 42, model.UnpairRequest{}), "unpair is idempotent")

	pairings := f.store.Pairings()
	require.Len(t, pairings, 1)
	assert.False(t, bool(pairings[0].Active))
	require.NotNil(t, pairings[0].EndDate)
	assert.Equal(t, end, *pairings[0].EndDate)

	var types []string
	for _, e := range f.store.OutboxEvents() {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{model.EventDevicePaired, model.EventDeviceUnpaired}, types)
}

func TestUnpairEndBeforeStart(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42)
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	_, err := f.svc.Pair(context.Background(), caller, 42, model.PairRequest{IMEI: "860001", StartDate: &start})
	require.NoError(t, err)

	end := start.Add(-time.Hour)
	err = f.svc.Unpair(context.Background(), caller, 42, model.UnpairRequest{EndDate: &end})
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))
	assert.True(t, bool(f.store.Pairings()[0].Active))
}

func TestPairRejectsInvalidIMEI(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42)

	_, err := f.svc.Pair(context.Background(), caller, 42, model.PairRequest{IMEI: "86-0001"})
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))
	assert.Empty(t, f.store.Pairings())
}

func TestPairAlreadyPaired(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42, 43)
	ctx := context.Background()

	_, err := f.svc.Pair(ctx, caller, 42, model.PairRequest{IMEI: "860001"})
	require.NoError(t, err)

	_, err = f.svc.Pair(ctx, caller, 43, model.PairRequest{IMEI: "860001"})
	assert.Equal(t, errors.ErrConflict, errors.CodeOf(err))
	assert.Equal(t, errors.ReasonAlreadyPaired, errors.ReasonOf(err))

	_, err = f.svc.Pair(ctx, caller, 42, model.PairRequest{IMEI: "860002"})
	assert.Equal(t, errors.ReasonAlreadyPaired, errors.ReasonOf(err))

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.PairingConflicts))
}

func TestSuperAdminCannotPair(t *testing.T) {
	f := newFixture(t)
	f.seedMonitored(42)

	_, err := f.svc.Pair(context.Background(), &model.Caller{Kind: model.KindSuperAdmin, InternalID: 1}, 42, model.PairRequest{IMEI: "860001"})
	assert.Equal(t, errors.ReasonMissingPermission, errors.ReasonOf(err))

	entries := f.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditStatusDenied, entries[0].Status)
}

// Two racing pairs of one imei: exactly one wins, the other sees AlreadyPaired.
func TestConcurrentPairCollision(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42, 43)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, patient := range []int64{42, 43} {
		wg.Add(1)
		go func(i int, patient int64) {
			defer wg.Done()
			_, errs[i] = f.svc.Pair(context.Background(), caller, patient, model.PairRequest{IMEI: "860001"})
		}(i, patient)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.ReasonOf(err) == errors.ReasonAlreadyPaired:
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
}

func TestPairRetriesSerializationFailures(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42)

	f.devices.fails = maxPairAttempts - 1
	p, err := f.svc.Pair(context.Background(), caller, 42, model.PairRequest{IMEI: "860001"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.devices.fails)
	assert.Len(t, f.store.Pairings(), 1)
	assert.Equal(t, "860001", p.IMEI)
}

func TestPairGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42)

	f.devices.fails = maxPairAttempts
	_, err := f.svc.Pair(context.Background(), caller, 42, model.PairRequest{IMEI: "860001"})
	assert.Equal(t, errors.ErrTransient, errors.CodeOf(err))
	assert.Empty(t, f.store.Pairings())
}

// Under any sequence of pairs and unpairs each imei and each patient has at
// most one active pairing, and end_date is set iff the pairing is closed.
func TestPairingInvariants(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42, 43, 44)
	imeis := []string{"860001", "860002", "860003"}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patient := int64(42 + i%3)
			if i%4 == 3 {
				_ = f.svc.Unpair(ctx, caller, patient, model.UnpairRequest{})
				return
			}
			_, _ = f.svc.Pair(ctx, caller, patient, model.PairRequest{IMEI: imeis[(i/3)%3]})
		}(i)
	}
	wg.Wait()

	pairings := f.store.Pairings()
	require.NotEmpty(t, pairings)
	byIMEI, byPatient := activeCounts(pairings)
	for imei, n := range byIMEI {
		assert.LessOrEqual(t, n, 1, imei)
	}
	for patient, n := range byPatient {
		assert.LessOrEqual(t, n, 1, patient)
	}
	for _, p := range pairings {
		assert.Equal(t, !bool(p.Active), p.EndDate != nil)
	}
}

func TestPairedUser(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42)
	ctx := context.Background()
	_, err := f.svc.Pair(ctx, caller, 42, model.PairRequest{IMEI: "860001"})
	require.NoError(t, err)

	admin := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 1}
	u, err := f.svc.PairedUser(ctx, admin, "860001")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.InternalID)

	_, err = f.svc.PairedUser(ctx, &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 6, OrgID: 2}, "860001")
	assert.Equal(t, errors.ReasonForeignOrg, errors.ReasonOf(err))

	_, err = f.svc.PairedUser(ctx, caller, "860001")
	assert.Equal(t, errors.ErrForbidden, errors.CodeOf(err))

	_, err = f.svc.PairedUser(ctx, admin, "999999")
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))
}

func TestCarersToNotify(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42)
	f.store.SeedCaregiver(9, 1)
	f.store.SeedCaregiver(10, 2)
	f.store.SeedEdge(42, 9, model.KindCaregiver, true)
	f.store.SeedEdge(42, 10, model.KindCaregiver, true)
	ctx := context.Background()

	_, err := f.svc.Pair(ctx, caller, 42, model.PairRequest{IMEI: "860001"})
	require.NoError(t, err)

	targets, err := f.svc.CarersToNotify(ctx, "860001")
	require.NoError(t, err)
	require.Len(t, targets, 1, "provider 7 is not a receiver and caregiver 10 shares no org")
	assert.Equal(t, "caregiver-9", targets[0].ExternalID)

	targets, err = f.svc.CarersToNotify(ctx, "000000")
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	caller := f.seedMonitored(42)
	ctx := context.Background()
	for _, imei := range []string{"860001", "860002"} {
		_, err := f.svc.Pair(ctx, caller, 42, model.PairRequest{IMEI: imei})
		require.NoError(t, err)
		require.NoError(t, f.svc.Unpair(ctx, caller, 42, model.UnpairRequest{}))
	}

	rows, err := f.svc.History(ctx, caller, 42)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "860002", rows[0].IMEI)
}

func TestPairConflictWithoutMetrics(t *testing.T) {
	f := newFixture(t)
	f.svc.metrics = nil
	caller := f.seedMonitored(42, 43)
	ctx := context.Background()

	_, err := f.svc.Pair(ctx, caller, 42, model.PairRequest{IMEI: "860001"})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_, err = f.svc.Pair(ctx, caller, 43, model.PairRequest{IMEI: "860001"})
	})
	assert.Equal(t, errors.ReasonAlreadyPaired, errors.ReasonOf(err))
}
