package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository/memory"
	"github.com/jwalitptl/caregem-api/internal/service/access"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
)

var (
	provider = &model.Caller{Kind: model.KindProvider, InternalID: 7, ExternalID: "provider-7", OrgID: 1}
	patient  = &model.Caller{Kind: model.KindPatient, InternalID: 42, ExternalID: "patient-42", OrgID: 1}
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	policy := access.NewService(repos.Users, repos.Orgs, repos.Network, metrics.NewNop(), logger.Nop())
	auditor := audit.NewService(repos.Audit, repos.ChangeLog, memory.NewPHIStore(), logger.Nop())

	store.SeedPatient(42, 1)
	store.SeedProvider(7, 1)
	store.SeedEdge(42, 7, model.KindProvider, false)

	return NewService(store, repos.Calls, policy, auditor), store
}

func TestCallLifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	rec, err := svc.Start(ctx, provider, 42, model.StartCallRequest{Type: model.CallVideo, Start: &start})
	require.NoError(t, err)
	assert.Equal(t, model.CallNotStarted, rec.Status)
	assert.Equal(t, int64(1), rec.OrgID)
	assert.Nil(t, rec.EndTimestamp)

	notes := "follow up in a week"
	end := start.Add(90 * time.Second)
	rec, err = svc.Update(ctx, provider, rec.ID, model.UpdateCallRequest{Status: model.CallCompleted, End: &end, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, model.CallCompleted, rec.Status)
	require.NotNil(t, rec.EndTimestamp)
	require.NotNil(t, rec.Duration)
	assert.Equal(t, int64(90), *rec.Duration)

	calls, err := svc.List(ctx, patient, 42)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, notes, calls[0].Notes)
	assert.Equal(t, int64(90), *calls[0].Duration)

	entries := store.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.AuditActionCallStart, entries[0].Action)
	assert.Equal(t, model.AuditActionCallUpdate, entries[1].Action)
}

func TestCompletedWithoutEndUsesNow(t *testing.T) {
	svc, _ := newTestService(t)
	fixed := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	start := fixed.Add(-5 * time.Minute)

	rec, err := svc.Start(context.Background(), provider, 42, model.StartCallRequest{Type: model.CallAudio, Start: &start})
	require.NoError(t, err)
	rec, err = svc.Update(context.Background(), provider, rec.ID, model.UpdateCallRequest{Status: model.CallCompleted})
	require.NoError(t, err)
	assert.Equal(t, fixed, *rec.EndTimestamp)
	assert.Equal(t, int64(300), *rec.Duration)
}

func TestCallTransitionsMoveForward(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Start(ctx, provider, 42, model.StartCallRequest{Type: model.CallManual})
	require.NoError(t, err)

	_, err = svc.Update(ctx, provider, rec.ID, model.UpdateCallRequest{Status: model.CallDeleted})
	assert.Equal(t, errors.ReasonInvalidTransition, errors.ReasonOf(err))

	_, err = svc.Update(ctx, provider, rec.ID, model.UpdateCallRequest{Status: model.CallDraft})
	require.NoError(t, err)
	_, err = svc.Update(ctx, provider, rec.ID, model.UpdateCallRequest{Status: model.CallDraft})
	require.NoError(t, err)

	_, err = svc.Update(ctx, provider, rec.ID, model.UpdateCallRequest{Status: model.CallDeleted})
	require.NoError(t, err)

	calls, err := svc.List(ctx, provider, 42)
	require.NoError(t, err)
	assert.Empty(t, calls)

	_, err = svc.Update(ctx, provider, rec.ID, model.UpdateCallRequest{Status: model.CallCompleted})
	assert.Equal(t, errors.ErrConflict, errors.CodeOf(err))
}

func TestCompletedEndBeforeStart(t *testing.T) {
	svc, _ := newTestService(t)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec, err := svc.Start(context.Background(), provider, 42, model.StartCallRequest{Type: model.CallVideo, Start: &start})
	require.NoError(t, err)

	end := start.Add(-time.Minute)
	_, err = svc.Update(context.Background(), provider, rec.ID, model.UpdateCallRequest{Status: model.CallCompleted, End: &end})
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))
}

func TestStartRequiresConnectedProvider(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	store.SeedProvider(8, 1)

	_, err := svc.Start(ctx, &model.Caller{Kind: model.KindProvider, InternalID: 8, OrgID: 1}, 42, model.StartCallRequest{Type: model.CallVideo})
	assert.Equal(t, errors.ReasonNoRelationship, errors.ReasonOf(err))

	_, err = svc.Start(ctx, patient, 42, model.StartCallRequest{Type: model.CallVideo})
	assert.Equal(t, errors.ReasonMissingPermission, errors.ReasonOf(err))

	entries := store.AuditEntries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, model.AuditStatusDenied, e.Status)
	}
}

func TestUpdateUnknownCall(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Update(context.Background(), provider, 999, model.UpdateCallRequest{Status: model.CallDraft})
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))
}
