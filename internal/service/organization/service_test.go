package organization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository/memory"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/internal/service/event"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
)

var superAdmin = &model.Caller{Kind: model.KindSuperAdmin, InternalID: 1, ExternalID: "super_admin-1"}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	auditor := audit.NewService(repos.Audit, repos.ChangeLog, memory.NewPHIStore(), logger.Nop())
	events := event.NewEventService(repos.Outbox, logger.Nop())
	return NewService(repos.Tx, repos.Orgs, repos.Network, auditor, events, logger.Nop()), store
}

func TestCreateAndUpdate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	org := &model.Organization{Name: "  North Clinic ", Email: "Front@North.Example", Phone1: "555-123-4567"}
	require.NoError(t, svc.Create(ctx, superAdmin, org))
	assert.NotZero(t, org.ID)
	assert.Equal(t, "North Clinic", org.Name)
	assert.Equal(t, "front@north.example", org.Email)
	assert.Equal(t, "5551234567", org.Phone1)

	org.Name = "North"
	require.NoError(t, svc.Update(ctx, superAdmin, org))
	got, err := svc.Get(ctx, superAdmin, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "North", got.Name)

	err = svc.Create(ctx, superAdmin, &model.Organization{Name: "   "})
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))

	entries := store.AuditEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, model.AuditActionOrgCreate, entries[0].Action)
	assert.Equal(t, model.AuditActionOrgUpdate, entries[1].Action)
	assert.Equal(t, model.AuditStatusFailure, entries[2].Status)
}

func TestWritesAreSuperAdminOnly(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedOrg(1, "north")
	admin := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 1}
	ctx := context.Background()

	err := svc.Create(ctx, admin, &model.Organization{Name: "rogue"})
	assert.Equal(t, errors.ReasonMissingPermission, errors.ReasonOf(err))

	err = svc.Update(ctx, admin, &model.Organization{ID: 1, Name: "mine"})
	assert.Equal(t, errors.ErrForbidden, errors.CodeOf(err))

	err = svc.Delete(ctx, admin, 1)
	assert.Equal(t, errors.ErrForbidden, errors.CodeOf(err))

	for _, e := range store.AuditEntries() {
		assert.Equal(t, model.AuditStatusDenied, e.Status)
	}
}

func TestGetAndList(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedOrg(1, "north")
	store.SeedOrg(2, "south")
	ctx := context.Background()
	provider := &model.Caller{Kind: model.KindProvider, InternalID: 7, OrgID: 2}

	_, err := svc.Get(ctx, provider, 1)
	assert.Equal(t, errors.ReasonForeignOrg, errors.ReasonOf(err))

	orgs, err := svc.List(ctx, provider)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, int64(2), orgs[0].ID)

	orgs, err = svc.List(ctx, superAdmin)
	require.NoError(t, err)
	assert.Len(t, orgs, 2)
}

func TestDeleteWithMembers(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedOrg(1, "north")
	store.SeedOrg(2, "empty")
	store.SeedPatient(42, 1)
	ctx := context.Background()

	err := svc.Delete(ctx, superAdmin, 1)
	assert.Equal(t, errors.ErrConflict, errors.CodeOf(err))
	assert.Equal(t, errors.ReasonHasMembers, errors.ReasonOf(err))

	require.NoError(t, svc.Delete(ctx, superAdmin, 2))
	_, err = svc.Get(ctx, superAdmin, 2)
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))
}

func TestAddMember(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedOrg(2, "south")
	store.SeedCaregiver(9, 1)
	store.SeedCustomerAdmin(5, 1)
	ctx := context.Background()

	admin := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 2}
	err := svc.AddMember(ctx, admin, model.Membership{Kind: model.KindCaregiver, InternalID: 9, OrgID: 2})
	assert.Equal(t, errors.ErrForbidden, errors.CodeOf(err))

	require.NoError(t, svc.AddMember(ctx, superAdmin, model.Membership{Kind: model.KindCaregiver, InternalID: 9, OrgID: 2}))
	assert.Equal(t, []int64{1, 2}, store.OrgsOf(model.KindCaregiver, 9))

	// Adding an existing membership is a no-op.
	require.NoError(t, svc.AddMember(ctx, superAdmin, model.Membership{Kind: model.KindCaregiver, InternalID: 9, OrgID: 2}))

	err = svc.AddMember(ctx, superAdmin, model.Membership{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 2})
	assert.Equal(t, errors.ErrConflict, errors.CodeOf(err))

	err = svc.AddMember(ctx, superAdmin, model.Membership{Kind: model.KindSuperAdmin, InternalID: 1, OrgID: 2})
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))

	events := store.OutboxEvents()
	require.Len(t, events, 2)
	assert.Equal(t, model.EventMembershipChanged, events[0].EventType)
}

func TestRemoveLastOrganization(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedProvider(7, 1)
	ctx := context.Background()

	err := svc.RemoveMember(ctx, superAdmin, model.Membership{Kind: model.KindProvider, InternalID: 7, OrgID: 1})
	assert.Equal(t, errors.ReasonLastOrganization, errors.ReasonOf(err))
	assert.Equal(t, []int64{1}, store.OrgsOf(model.KindProvider, 7))

	err = svc.RemoveMember(ctx, superAdmin, model.Membership{Kind: model.KindProvider, InternalID: 7, OrgID: 3})
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))
}

func TestRemoveMemberDropsOrphanedEdges(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(43, 1, 2)
	store.SeedProvider(7, 1, 2)
	store.SeedEdge(42, 7, model.KindProvider, false)
	store.SeedEdge(43, 7, model.KindProvider, false)
	ctx := context.Background()

	admin := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 1}
	require.NoError(t, svc.RemoveMember(ctx, admin, model.Membership{Kind: model.KindProvider, InternalID: 7, OrgID: 1}))

	edges := store.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, int64(43), edges[0].PatientInternalID)

	other := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 6, OrgID: 2}
	err := svc.RemoveMember(ctx, other, model.Membership{Kind: model.KindPatient, InternalID: 43, OrgID: 1})
	assert.Equal(t, errors.ReasonForeignOrg, errors.ReasonOf(err))
}

func TestRemoveMemberRollsBack(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedProvider(7, 1, 2)
	store.SeedEdge(42, 7, model.KindProvider, false)
	store.FailOn("CreateOutbox", errors.Transient("db down", nil))

	err := svc.RemoveMember(context.Background(), superAdmin, model.Membership{Kind: model.KindProvider, InternalID: 7, OrgID: 1})
	assert.Equal(t, errors.ErrTransient, errors.CodeOf(err))
	assert.Equal(t, []int64{1, 2}, store.OrgsOf(model.KindProvider, 7))
	assert.Len(t, store.Edges(), 1)
}
