package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository/memory"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
)

type names map[string]string

func (n names) DisplayNames(_ context.Context, ids []string) map[string]string {
	out := map[string]string{}
	for _, id := range ids {
		if v, ok := n[id]; ok {
			out[id] = v
		}
	}
	return out
}

func newTestService() (*Service, *memory.Store, *memory.PHIStore) {
	store := memory.NewStore()
	repos := store.Repositories()
	phi := memory.NewPHIStore()
	return NewService(repos.Audit, repos.ChangeLog, phi, logger.Nop()), store, phi
}

func TestFailureStatus(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	caller := &model.Caller{Kind: model.KindProvider, InternalID: 7, ExternalID: "provider-7", OrgID: 1}
	target := model.UserTarget(model.KindPatient, 42)

	svc.Failure(ctx, caller, model.AuditActionDevicePair, target, nil)
	svc.Failure(ctx, caller, model.AuditActionDevicePair, target, errors.Forbidden(errors.ReasonNoRelationship, ""))
	svc.Failure(ctx, caller, model.AuditActionDevicePair, target, errors.Conflict(errors.ReasonAlreadyPaired, "device is already paired", nil))
	svc.Failure(ctx, caller, model.AuditActionDevicePair, target, fmt.Errorf("boom"))

	entries := store.AuditEntries()
	require.Len(t, entries, 3)

	assert.Equal(t, model.AuditStatusDenied, entries[0].Status)
	assert.Equal(t, model.AuditLevelWarning, entries[0].Level)
	assert.Equal(t, "NoRelationship", entries[0].Message)

	assert.Equal(t, model.AuditStatusFailure, entries[1].Status)
	assert.Equal(t, "AlreadyPaired", entries[1].Message)

	assert.Equal(t, model.AuditLevelError, entries[2].Level)
	assert.Equal(t, "boom", entries[2].Message)

	assert.Equal(t, "provider-7", entries[0].Actor.ID)
	assert.Equal(t, "provider", entries[0].Actor.Role)
	assert.Equal(t, "42", entries[0].TargetID)
	assert.Equal(t, "patient", entries[0].TargetRole)
}

func TestFailureSwallowsWriteErrors(t *testing.T) {
	svc, store, _ := newTestService()
	store.FailOn("CreateAudit", fmt.Errorf("db down"))

	assert.NotPanics(t, func() {
		svc.Failure(context.Background(), nil, model.AuditActionOrgCreate, model.Target{}, fmt.Errorf("boom"))
	})
}

func TestListForScopesByOrg(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	inOrg1 := &model.Caller{Kind: model.KindProvider, InternalID: 7, ExternalID: "provider-7", OrgID: 1}
	inOrg2 := &model.Caller{Kind: model.KindProvider, InternalID: 8, ExternalID: "provider-8", OrgID: 2}
	require.NoError(t, svc.Record(ctx, inOrg1, model.AuditActionEdgeAdd, model.Target{ID: "1"}, ""))
	require.NoError(t, svc.Record(ctx, inOrg2, model.AuditActionEdgeAdd, model.Target{ID: "2"}, ""))

	all, err := svc.ListFor(ctx, &model.Caller{Kind: model.KindSuperAdmin, InternalID: 1}, model.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	admin := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, OrgID: 1}
	own, err := svc.ListFor(ctx, admin, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "provider-7", own[0].Actor.ID)

	_, err = svc.ListFor(ctx, admin, model.AuditFilter{ActorOrg: 2})
	assert.Equal(t, errors.ReasonForeignOrg, errors.ReasonOf(err))

	_, err = svc.ListFor(ctx, inOrg1, model.AuditFilter{})
	assert.Equal(t, errors.ReasonMissingPermission, errors.ReasonOf(err))
}

func TestHistory(t *testing.T) {
	svc, _, phi := newTestService()
	ctx := context.Background()
	admin := &model.Caller{Kind: model.KindCustomerAdmin, InternalID: 5, ExternalID: "customer_admin-5", OrgID: 1}
	target := model.UserTarget(model.KindPatient, 42)

	v1, err := svc.RecordChange(ctx, admin, target, &model.PHI{ExternalID: "patient-42", FirstName: "Ann"})
	require.NoError(t, err)
	v2, err := svc.RecordChange(ctx, admin, target, &model.PHI{ExternalID: "patient-42", FirstName: "Anne"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{v1, v2})

	history, err := svc.History(ctx, "patient-42", names{"customer_admin-5": "Ada Admin"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Anne", history[1].Snapshot.FirstName)
	assert.Equal(t, "Ada Admin", history[0].ActorName)

	phi.Err = fmt.Errorf("kv unavailable")
	_, err = svc.History(ctx, "patient-42", nil)
	assert.Error(t, err)

	phi.Err = nil
	empty, err := svc.History(ctx, "patient-99", nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
