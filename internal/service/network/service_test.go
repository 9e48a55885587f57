package network

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository/memory"
	"github.com/jwalitptl/caregem-api/internal/service/access"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/internal/service/event"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
)

var superAdmin = &model.Caller{Kind: model.KindSuperAdmin, InternalID: 1, ExternalID: "super_admin-1"}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	policy := access.NewService(repos.Users, repos.Orgs, repos.Network, metrics.NewNop(), logger.Nop())
	auditor := audit.NewService(repos.Audit, repos.ChangeLog, memory.NewPHIStore(), logger.Nop())
	events := event.NewEventService(repos.Outbox, logger.Nop())
	svc := NewService(repos.Tx, repos.Users, repos.Orgs, repos.Network, policy, auditor, events, logger.Nop())
	return svc, store
}

func patientsOf(edges []model.Edge, carer int64) []int64 {
	var ids []int64
	for _, e := range edges {
		if e.UserInternalID == carer {
			ids = append(ids, e.PatientInternalID)
		}
	}
	return ids
}

func TestReplaceCarerNetwork(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(43, 1)
	store.SeedPatient(44, 1)
	store.SeedCaregiver(9, 1)
	store.SeedEdge(42, 9, model.KindCaregiver, true)
	store.SeedEdge(43, 9, model.KindCaregiver, false)
	admin := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 1}
	store.SeedCustomerAdmin(5, 1)

	diff, err := svc.ReplaceCarerNetwork(context.Background(), admin, model.KindCaregiver, 9, 1, []int64{44, 43, 44})
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 43}, diff.Before)
	assert.Equal(t, []int64{43, 44}, diff.After)
	assert.Equal(t, []int64{44}, diff.Inserted)
	assert.Equal(t, []int64{42}, diff.Deleted)

	edges := store.Edges()
	assert.Equal(t, []int64{43, 44}, patientsOf(edges, 9))
	for _, e := range edges {
		if e.PatientInternalID == 44 {
			assert.False(t, bool(e.AlertReceiver), "new edges default to alert_receiver=0")
		}
	}

	events := store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventNetworkChanged, events[0].EventType)
	var payload model.NetworkDiff
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, []int64{44}, payload.Inserted)
}

func TestReplaceCarerNetworkNoChange(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedProvider(7, 1)
	store.SeedEdge(42, 7, model.KindProvider, false)

	diff, err := svc.ReplaceCarerNetwork(context.Background(), superAdmin, model.KindProvider, 7, 1, []int64{42})
	require.NoError(t, err)
	assert.False(t, diff.Changed())
	assert.Empty(t, store.OutboxEvents())
	assert.Len(t, store.AuditEntries(), 1)
}

// A desired patient outside the org fails the whole call with no partial effect.
func TestReplaceCarerNetworkCrossOrg(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(43, 1)
	store.SeedPatient(99, 2)
	store.SeedCaregiver(9, 1)
	store.SeedEdge(42, 9, model.KindCaregiver, false)
	self := &model.Caller{Kind: model.KindCaregiver, InternalID: 9, OrgID: 1}

	_, err := svc.ReplaceCarerNetwork(context.Background(), self, model.KindCaregiver, 9, 1, []int64{43, 99})
	require.Error(t, err)
	assert.Equal(t, errors.ErrForbidden, errors.CodeOf(err))
	assert.Equal(t, errors.ReasonCrossOrgDenied, errors.ReasonOf(err))

	assert.Equal(t, []int64{42}, patientsOf(store.Edges(), 9))
	assert.Empty(t, store.OutboxEvents())
	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditStatusDenied, entries[0].Status)
}

func TestReplaceCarerNetworkRollsBackOnFailure(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(43, 1)
	store.SeedCaregiver(9, 1)
	store.SeedEdge(42, 9, model.KindCaregiver, false)
	store.FailOn("InsertEdges", errors.Transient("db down", nil))

	_, err := svc.ReplaceCarerNetwork(context.Background(), superAdmin, model.KindCaregiver, 9, 1, []int64{43})
	assert.Equal(t, errors.ErrTransient, errors.CodeOf(err))
	assert.Equal(t, []int64{42}, patientsOf(store.Edges(), 9), "delete must roll back with the failed insert")
}

// Edges to patients of other orgs survive a replace within one org.
func TestReplaceCarerNetworkLeavesOtherOrgs(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(50, 2)
	store.SeedPatient(51, 2)
	store.SeedProvider(7, 1, 2)
	store.SeedEdge(42, 7, model.KindProvider, false)
	store.SeedEdge(50, 7, model.KindProvider, true)

	_, err := svc.ReplaceCarerNetwork(context.Background(), superAdmin, model.KindProvider, 7, 2, []int64{51})
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 51}, patientsOf(store.Edges(), 7))

	_, err = svc.ReplaceCarerNetwork(context.Background(), superAdmin, model.KindProvider, 7, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{51}, patientsOf(store.Edges(), 7))
}

func TestReplaceCarerNetworkForeignCaller(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedCaregiver(9, 1)
	other := &model.Caller{Kind: model.KindCaregiver, InternalID: 10, OrgID: 1}

	_, err := svc.ReplaceCarerNetwork(context.Background(), other, model.KindCaregiver, 9, 1, nil)
	assert.Equal(t, errors.ReasonNotSelf, errors.ReasonOf(err))
}

func TestEdgesOfPatient(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1, 2)
	store.SeedProvider(7, 1)
	store.SeedCaregiver(9, 2)
	store.SeedEdge(42, 7, model.KindProvider, false)
	store.SeedEdge(42, 9, model.KindCaregiver, false)
	ctx := context.Background()

	edges, err := svc.EdgesOfPatient(ctx, &model.Caller{Kind: model.KindProvider, InternalID: 7, OrgID: 1}, 42)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(7), edges[0].UserInternalID)

	edges, err = svc.EdgesOfPatient(ctx, superAdmin, 42)
	require.NoError(t, err)
	assert.Len(t, edges, 2)

	_, err = svc.EdgesOfPatient(ctx, &model.Caller{Kind: model.KindProvider, InternalID: 8, OrgID: 1}, 42)
	assert.Equal(t, errors.ErrForbidden, errors.CodeOf(err))
}

func TestEdgesOfCarerFiltersByOrg(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(50, 2)
	store.SeedProvider(7, 1, 2)
	store.SeedEdge(42, 7, model.KindProvider, false)
	store.SeedEdge(50, 7, model.KindProvider, false)

	edges, err := svc.EdgesOfCarer(context.Background(), &model.Caller{Kind: model.KindProvider, InternalID: 7, OrgID: 2}, model.KindProvider, 7)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(50), edges[0].PatientInternalID)

	_, err = svc.EdgesOfCarer(context.Background(), superAdmin, model.KindProvider, 404)
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))
}

func TestCoPatients(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(43, 1)
	store.SeedPatient(50, 2)
	store.SeedProvider(7, 1, 2)
	store.SeedProvider(8, 1, 2)
	for _, p := range []int64{42, 43, 50} {
		store.SeedEdge(p, 7, model.KindProvider, false)
	}
	store.SeedEdge(43, 8, model.KindProvider, false)
	store.SeedEdge(50, 8, model.KindProvider, false)
	ctx := context.Background()

	ids, err := svc.CoPatients(ctx, &model.Caller{Kind: model.KindProvider, InternalID: 7, OrgID: 1}, 7, 8)
	require.NoError(t, err)
	assert.Equal(t, []int64{43}, ids)

	ids, err = svc.CoPatients(ctx, superAdmin, 7, 8)
	require.NoError(t, err)
	assert.Equal(t, []int64{43, 50}, ids)

	_, err = svc.CoPatients(ctx, &model.Caller{Kind: model.KindProvider, InternalID: 11, OrgID: 1}, 7, 8)
	assert.Equal(t, errors.ReasonNotSelf, errors.ReasonOf(err))
}

func TestAddAndRemoveEdge(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(50, 2)
	store.SeedCaregiver(9, 1)
	store.SeedCustomerAdmin(5, 1)
	admin := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 1}
	ctx := context.Background()
	req := model.EdgeRequest{PatientID: 42, CarerID: 9, CarerKind: model.KindCaregiver}

	require.NoError(t, svc.AddEdge(ctx, admin, req))
	require.NoError(t, svc.AddEdge(ctx, admin, req), "adding an existing edge is idempotent")
	assert.Len(t, store.Edges(), 1)
	assert.Len(t, store.OutboxEvents(), 1)

	err := svc.AddEdge(ctx, admin, model.EdgeRequest{PatientID: 50, CarerID: 9, CarerKind: model.KindCaregiver})
	assert.Equal(t, errors.ReasonCrossOrgDenied, errors.ReasonOf(err))

	err = svc.AddEdge(ctx, superAdmin, model.EdgeRequest{PatientID: 50, CarerID: 9, CarerKind: model.KindCaregiver})
	assert.Equal(t, errors.ReasonCrossOrgDenied, errors.ReasonOf(err))

	require.NoError(t, svc.RemoveEdge(ctx, admin, req))
	assert.Empty(t, store.Edges())

	err = svc.RemoveEdge(ctx, admin, req)
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))
}

// The provider flag and its edges change together or not at all.
func TestSetProviderAlertReceiverAtomic(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(43, 1)
	store.SeedProvider(7, 1)
	store.SeedEdge(42, 7, model.KindProvider, false)
	store.SeedEdge(43, 7, model.KindProvider, false)
	ctx := context.Background()
	self := &model.Caller{Kind: model.KindProvider, InternalID: 7, OrgID: 1}

	store.FailOn("SetCarerAlertReceiver", errors.Transient("db down", nil))
	err := svc.SetProviderAlertReceiver(ctx, self, 7, true)
	assert.Equal(t, errors.ErrTransient, errors.CodeOf(err))
	assert.False(t, bool(store.Provider(7).AlertReceiver))
	for _, e := range store.Edges() {
		assert.False(t, bool(e.AlertReceiver))
	}

	store.FailOn("SetCarerAlertReceiver", nil)
	require.NoError(t, svc.SetProviderAlertReceiver(ctx, self, 7, true))
	assert.True(t, bool(store.Provider(7).AlertReceiver))
	for _, e := range store.Edges() {
		assert.True(t, bool(e.AlertReceiver))
	}
}

func TestSetEdgeAlertReceiver(t *testing.T) {
	svc, store := newTestService(t)
	store.SeedPatient(42, 1)
	store.SeedPatient(43, 1)
	store.SeedPatient(44, 1)
	store.SeedCaregiver(9, 1)
	store.SeedEdge(42, 9, model.KindCaregiver, false)
	store.SeedEdge(43, 9, model.KindCaregiver, false)
	one := 1
	self := &model.Caller{Kind: model.KindCaregiver, InternalID: 9, OrgID: 1}

	req := model.EdgeAlertReceiverRequest{PatientID: 43, CarerID: 9, CarerKind: model.KindCaregiver, Status: &one}
	require.NoError(t, svc.SetEdgeAlertReceiver(context.Background(), self, req))

	for _, e := range store.Edges() {
		assert.Equal(t, e.PatientInternalID == 43, bool(e.AlertReceiver))
	}

	req.PatientID = 44
	err := svc.SetEdgeAlertReceiver(context.Background(), self, req)
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))
}

// A carer in two orgs must not let an admin of one org touch edges to
// patients of the other.
func TestEdgeMutationsStayInCallerOrg(t *testing.T) {
	one := 1
	admin := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 1}
	self := &model.Caller{Kind: model.KindCaregiver, InternalID: 9, OrgID: 1}

	tests := []struct {
		name    string
		caller  *model.Caller
		patient int64
		remove  bool
		reason  errors.Reason
	}{
		{name: "admin removes foreign edge", caller: admin, patient: 99, remove: true, reason: errors.ReasonForeignOrg},
		{name: "admin toggles foreign edge", caller: admin, patient: 99, reason: errors.ReasonForeignOrg},
		{name: "carer toggles foreign edge", caller: self, patient: 99, reason: errors.ReasonForeignOrg},
		{name: "admin removes own edge", caller: admin, patient: 42, remove: true},
		{name: "admin toggles own edge", caller: admin, patient: 42},
		{name: "super admin toggles any edge", caller: superAdmin, patient: 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)
			store.SeedPatient(42, 1)
			store.SeedPatient(99, 2)
			store.SeedCaregiver(9, 1, 2)
			store.SeedCustomerAdmin(5, 1)
			store.SeedEdge(42, 9, model.KindCaregiver, false)
			store.SeedEdge(99, 9, model.KindCaregiver, false)
			ctx := context.Background()

			var err error
			if tt.remove {
				err = svc.RemoveEdge(ctx, tt.caller, model.EdgeRequest{PatientID: tt.patient, CarerID: 9, CarerKind: model.KindCaregiver})
			} else {
				err = svc.SetEdgeAlertReceiver(ctx, tt.caller, model.EdgeAlertReceiverRequest{
					PatientID: tt.patient, CarerID: 9, CarerKind: model.KindCaregiver, Status: &one,
				})
			}

			edges := store.Edges()
			if tt.reason != "" {
				assert.Equal(t, errors.ErrForbidden, errors.CodeOf(err))
				assert.Equal(t, tt.reason, errors.ReasonOf(err))
				require.Len(t, edges, 2)
				for _, e := range edges {
					assert.False(t, bool(e.AlertReceiver))
				}
				assert.Empty(t, store.OutboxEvents())
				return
			}
			require.NoError(t, err)
			if tt.remove {
				assert.Equal(t, []int64{99}, patientsOf(edges, 9))
				return
			}
			for _, e := range edges {
				assert.Equal(t, e.PatientInternalID == tt.patient, bool(e.AlertReceiver))
			}
		})
	}
}
