package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository/memory"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	return NewService(repos.Users, repos.Orgs, repos.Network, metrics.NewNop(), logger.Nop()), store
}

func provider(id, org int64) *model.Caller {
	return &model.Caller{Kind: model.KindProvider, InternalID: id, OrgID: org}
}

func TestSuperAdmin(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	caller := &model.Caller{Kind: model.KindSuperAdmin, InternalID: 1}

	for _, action := range []model.Action{model.ActionReadClinical, model.ActionWriteClinical, model.ActionViewBilling} {
		d, err := svc.MayAccessPatient(context.Background(), caller, 42, action)
		require.NoError(t, err)
		assert.True(t, d.Allow, action)
	}

	d, err := svc.MayAccessPatient(context.Background(), caller, 42, model.ActionPairDevice)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, errors.ReasonMissingPermission, d.Reason)
}

func TestCustomerAdmin(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(43, 2)
	store.SeedCustomerAdmin(5, 1)
	caller := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 1}

	d, err := svc.MayAccessPatient(context.Background(), caller, 42, model.ActionReadClinical)
	require.NoError(t, err)
	assert.True(t, d.Allow)

	d, err = svc.MayAccessPatient(context.Background(), caller, 43, model.ActionReadClinical)
	require.NoError(t, err)
	assert.Equal(t, model.Deny(errors.ReasonForeignOrg), d)
}

func TestPatientSelfAccess(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(43, 1)
	caller := &model.Caller{Kind: model.KindPatient, InternalID: 42, OrgID: 1}

	d, err := svc.MayAccessPatient(context.Background(), caller, 42, model.ActionReadClinical)
	require.NoError(t, err)
	assert.True(t, d.Allow)

	d, err = svc.MayAccessPatient(context.Background(), caller, 43, model.ActionReadClinical)
	require.NoError(t, err)
	assert.Equal(t, errors.ReasonNotSelf, d.Reason)
}

func TestCrossOrgProviderDenied(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedProvider(7, 2)

	err := svc.Require(context.Background(), provider(7, 2), 42, model.ActionReadClinical)
	require.Error(t, err)
	assert.Equal(t, errors.ErrForbidden, errors.CodeOf(err))
	assert.Equal(t, errors.ReasonForeignOrg, errors.ReasonOf(err))
}

func TestProviderWithEdgeInSharedOrg(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedProvider(7, 1)

	d, err := svc.MayAccessPatient(context.Background(), provider(7, 1), 42, model.ActionReadClinical)
	require.NoError(t, err)
	assert.Equal(t, errors.ReasonNoRelationship, d.Reason)

	store.SeedEdge(42, 7, model.KindProvider, false)
	require.NoError(t, svc.Require(context.Background(), provider(7, 1), 42, model.ActionReadClinical))
}

func TestEdgeWithoutSharedCallerOrg(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedProvider(7, 1, 2)
	store.SeedEdge(42, 7, model.KindProvider, false)

	// Edge exists but the provider is acting in org 2, which the patient is not in.
	d, err := svc.MayAccessPatient(context.Background(), provider(7, 2), 42, model.ActionReadClinical)
	require.NoError(t, err)
	assert.Equal(t, errors.ReasonForeignOrg, d.Reason)
}

func TestBillingPermission(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedProvider(7, 1)
	store.SeedCaregiver(9, 1)
	store.SeedEdge(42, 7, model.KindProvider, false)
	store.SeedEdge(42, 9, model.KindCaregiver, false)

	d, err := svc.MayAccessPatient(context.Background(), provider(7, 1), 42, model.ActionViewBilling)
	require.NoError(t, err)
	assert.Equal(t, errors.ReasonMissingPermission, d.Reason)

	store.ModifyProvider(7, func(p *model.Provider) { p.BillingPermission = true })
	d, err = svc.MayAccessPatient(context.Background(), provider(7, 1), 42, model.ActionViewBilling)
	require.NoError(t, err)
	assert.True(t, d.Allow)

	caregiver := &model.Caller{Kind: model.KindCaregiver, InternalID: 9, OrgID: 1}
	d, err = svc.MayAccessPatient(context.Background(), caregiver, 42, model.ActionViewBilling)
	require.NoError(t, err)
	assert.Equal(t, errors.ReasonMissingPermission, d.Reason)
}

func TestPairDeviceNeedsRemoteMonitoringOnBothEnds(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedProvider(7, 1)
	store.SeedEdge(42, 7, model.KindProvider, false)

	d, err := svc.MayAccessPatient(context.Background(), provider(7, 1), 42, model.ActionPairDevice)
	require.NoError(t, err)
	assert.Equal(t, errors.ReasonMissingPermission, d.Reason)

	store.ModifyProvider(7, func(p *model.Provider) { p.RemoteMonitoring = true })
	d, err = svc.MayAccessPatient(context.Background(), provider(7, 1), 42, model.ActionPairDevice)
	require.NoError(t, err)
	assert.Equal(t, errors.ReasonMissingPermission, d.Reason)

	store.ModifyPatient(42, func(p *model.Patient) { p.RemoteMonitoring = true })
	d, err = svc.MayAccessPatient(context.Background(), provider(7, 1), 42, model.ActionPairDevice)
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestDeactivatedPatientIsNotFound(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.ModifyPatient(42, func(p *model.Patient) { p.Activated = false })

	_, err := svc.MayAccessPatient(context.Background(), &model.Caller{Kind: model.KindSuperAdmin}, 42, model.ActionReadClinical)
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))

	_, err = svc.MayAccessPatient(context.Background(), &model.Caller{Kind: model.KindSuperAdmin}, 404, model.ActionReadClinical)
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))
}

func TestStoreFailurePropagates(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedProvider(7, 1)
	store.FailOn("HasEdge", errors.Transient("db down", nil))

	_, err := svc.MayAccessPatient(context.Background(), provider(7, 1), 42, model.ActionReadClinical)
	assert.Equal(t, errors.ErrTransient, errors.CodeOf(err))
}

// Whatever the inputs, an allowed read implies one of the four grounds.
func TestAllowedReadHasAGround(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(43, 2)
	store.SeedProvider(7, 1, 2)
	store.SeedCaregiver(9, 2)
	store.SeedCustomerAdmin(5, 1)
	store.SeedEdge(42, 7, model.KindProvider, false)
	store.SeedEdge(43, 9, model.KindCaregiver, false)

	callers := []*model.Caller{
		{Kind: model.KindSuperAdmin, InternalID: 1},
		{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 1},
		{Kind: model.KindPatient, InternalID: 42, OrgID: 1},
		{Kind: model.KindPatient, InternalID: 43, OrgID: 2},
		provider(7, 1),
		provider(7, 2),
		{Kind: model.KindCaregiver, InternalID: 9, OrgID: 2},
	}
	orgsOf := map[int64][]int64{42: {1}, 43: {2}}
	edges := map[[2]int64]bool{{42, 7}: true, {43, 9}: true}

	for _, c := range callers {
		for _, patient := range []int64{42, 43} {
			d, err := svc.MayAccessPatient(context.Background(), c, patient, model.ActionReadClinical)
			require.NoError(t, err)
			if !d.Allow {
				continue
			}
			inOrg := false
			for _, o := range orgsOf[patient] {
				inOrg = inOrg || o == c.OrgID
			}
			grounded := c.Kind == model.KindSuperAdmin ||
				(c.Kind == model.KindCustomerAdmin && inOrg) ||
				(c.Kind == model.KindPatient && c.InternalID == patient) ||
				(c.Kind.IsCarer() && edges[[2]int64{patient, c.InternalID}] && inOrg)
			assert.True(t, grounded, "caller %+v patient %d", c, patient)
		}
	}
}

func TestMayManageCarer(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedCaregiver(9, 1)
	store.SeedCaregiver(10, 2)
	store.SeedCustomerAdmin(5, 1)
	ctx := context.Background()

	admin := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 1}
	d, err := svc.MayManageCarer(ctx, admin, model.KindCaregiver, 9, 1)
	require.NoError(t, err)
	assert.True(t, d.Allow)

	d, err = svc.MayManageCarer(ctx, admin, model.KindCaregiver, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, errors.ReasonForeignOrg, d.Reason)

	d, err = svc.MayManageCarer(ctx, admin, model.KindCaregiver, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, errors.ReasonForeignOrg, d.Reason)

	self := &model.Caller{Kind: model.KindCaregiver, InternalID: 9, OrgID: 1}
	d, err = svc.MayManageCarer(ctx, self, model.KindCaregiver, 9, 1)
	require.NoError(t, err)
	assert.True(t, d.Allow)

	d, err = svc.MayManageCarer(ctx, self, model.KindCaregiver, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, errors.ReasonNotSelf, d.Reason)

	d, err = svc.MayManageCarer(ctx, &model.Caller{Kind: model.KindSuperAdmin}, model.KindProvider, 77, 3)
	require.NoError(t, err)
	assert.True(t, d.Allow)

	_, err = svc.MayManageCarer(ctx, admin, model.KindPatient, 42, 1)
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))
}
