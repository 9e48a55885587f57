package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditHandler "github.com/jwalitptl/caregem-api/internal/handler/audit"
	billingHandler "github.com/jwalitptl/caregem-api/internal/handler/billing"
	chatHandler "github.com/jwalitptl/caregem-api/internal/handler/chat"
	deviceHandler "github.com/jwalitptl/caregem-api/internal/handler/device"
	"github.com/jwalitptl/caregem-api/internal/handler/health"
	networkHandler "github.com/jwalitptl/caregem-api/internal/handler/network"
	organizationHandler "github.com/jwalitptl/caregem-api/internal/handler/organization"
	patientHandler "github.com/jwalitptl/caregem-api/internal/handler/patient"
	userHandler "github.com/jwalitptl/caregem-api/internal/handler/user"
	"github.com/jwalitptl/caregem-api/internal/middleware"
	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository/memory"
	"github.com/jwalitptl/caregem-api/internal/service/access"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/internal/service/call"
	"github.com/jwalitptl/caregem-api/internal/service/chat"
	"github.com/jwalitptl/caregem-api/internal/service/clinical"
	"github.com/jwalitptl/caregem-api/internal/service/device"
	"github.com/jwalitptl/caregem-api/internal/service/event"
	"github.com/jwalitptl/caregem-api/internal/service/identity"
	"github.com/jwalitptl/caregem-api/internal/service/network"
	"github.com/jwalitptl/caregem-api/internal/service/organization"
	"github.com/jwalitptl/caregem-api/pkg/auth"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/metrics"
	"github.com/jwalitptl/caregem-api/pkg/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticSecret string

func (s staticSecret) Get(context.Context, string) (string, error) { return string(s), nil }

type testServer struct {
	engine   *gin.Engine
	store    *memory.Store
	verifier *auth.HMACVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	phi := memory.NewPHIStore()
	log := logger.Nop()
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", registry)

	events := event.NewEventService(repos.Outbox, log)
	auditor := audit.NewService(repos.Audit, repos.ChangeLog, phi, log)
	policy := access.NewService(repos.Users, repos.Orgs, repos.Network, m, log)
	identitySvc := identity.NewService(identity.Deps{
		Tx: repos.Tx, Users: repos.Users, Orgs: repos.Orgs, Network: repos.Network, Devices: repos.Devices,
		PHI: phi, Auditor: auditor, Events: events, Hasher: security.NewIdentityHasher("salt"), Logger: log,
	})
	networkSvc := network.NewService(repos.Tx, repos.Users, repos.Orgs, repos.Network, policy, auditor, events, log)
	deviceSvc := device.NewService(device.Deps{
		Tx: repos.Tx, Devices: repos.Devices, Users: repos.Users, Orgs: repos.Orgs,
		Policy: policy, Auditor: auditor, Events: events, Metrics: m, Logger: log,
	})
	clinicalSvc := clinical.NewService(repos.Tx, repos.Clinical, repos.Users, repos.Orgs, repos.Network, policy, auditor, log)
	chatSvc := chat.NewService(repos.Chat, repos.Users, policy, identitySvc, staticSecret("s3cret"), "chat-key", auditor, log)

	verifier := auth.NewHMACVerifier("test-secret", "caregem")
	cfg := DefaultConfig()
	cfg.RateLimitEnabled = false

	r := NewRouter(
		middleware.NewAuthMiddleware(verifier, identitySvc),
		health.NewHandler(nil, registry),
		m,
		cfg,
		patientHandler.NewHandler(clinicalSvc, networkSvc, deviceSvc, call.NewService(repos.Tx, repos.Calls, policy, auditor)),
		deviceHandler.NewHandler(deviceSvc),
		networkHandler.NewHandler(networkSvc),
		organizationHandler.NewHandler(organization.NewService(repos.Tx, repos.Orgs, repos.Network, auditor, events, log)),
		userHandler.NewHandler(identitySvc),
		auditHandler.NewHandler(auditor),
		billingHandler.NewHandler(clinicalSvc),
		chatHandler.NewHandler(chatSvc),
	)
	return &testServer{engine: r.Setup(), store: store, verifier: verifier}
}

func (s *testServer) token(t *testing.T, kind model.UserKind, id, org int64) string {
	t.Helper()
	tok, err := s.verifier.Sign(&auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%s-%d", kind, id),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:  kind.String(),
		OrgID: org,
	})
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodGet, "/patient/42/lab_data", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "error", env.Status)
}

func TestCrossOrgReadThenEdgeRead(t *testing.T) {
	s := newTestServer(t)
	s.store.SeedPatient(42, 1)
	s.store.SeedProvider(7, 2)
	s.store.SeedLab(model.LabResult{PatientInternalID: 42, TestName: "HbA1c", Value: "6.1", Unit: "%", CollectedAt: time.Now()})

	code, env := s.do(t, http.MethodGet, "/patient/42/lab_data", s.token(t, model.KindProvider, 7, 2), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "ForeignOrg", env.Reason)

	s.store.SeedMember(model.KindProvider, 7, 1)
	s.store.SeedEdge(42, 7, model.KindProvider, false)

	code, env = s.do(t, http.MethodGet, "/patient/42/lab_data", s.token(t, model.KindProvider, 7, 1), nil)
	require.Equal(t, http.StatusOK, code)
	var rows []model.LabResult
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "HbA1c", rows[0].TestName)
}

func TestReplaceNetworkCrossOrg(t *testing.T) {
	s := newTestServer(t)
	s.store.SeedPatient(42, 1)
	s.store.SeedPatient(43, 1)
	s.store.SeedPatient(99, 2)
	s.store.SeedCaregiver(9, 1)
	s.store.SeedEdge(42, 9, model.KindCaregiver, false)
	before := s.store.Edges()

	body := model.ReplaceNetworkRequest{Users: []model.NetworkUser{{ID: 42}, {ID: 99}}}
	code, env := s.do(t, http.MethodPut, "/network/caregiver/9", s.token(t, model.KindCaregiver, 9, 1), body)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "CrossOrgDenied", env.Reason)
	assert.Equal(t, before, s.store.Edges())

	body = model.ReplaceNetworkRequest{Users: []model.NetworkUser{{ID: 43}}}
	code, env = s.do(t, http.MethodPut, "/network/caregiver/9", s.token(t, model.KindCaregiver, 9, 1), body)
	require.Equal(t, http.StatusOK, code)
	var diff model.NetworkDiff
	require.NoError(t, json.Unmarshal(env.Data, &diff))
	assert.Equal(t, []int64{43}, diff.Inserted)
	assert.Equal(t, []int64{42}, diff.Deleted)
}

func TestChatRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.store.SeedPatient(42, 1)
	s.store.SeedProvider(7, 1)
	s.store.SeedEdge(42, 7, model.KindProvider, false)
	s.store.SeedChannel(model.ChatChannel{ID: 3, PatientInternalID: 42, OrgID: 1})

	code, _ := s.do(t, http.MethodPost, "/chat/3/messages", s.token(t, model.KindProvider, 7, 1),
		model.SendMessageRequest{Content: "Hello, patient"})
	require.Equal(t, http.StatusCreated, code)

	stored := s.store.Messages()
	require.Len(t, stored, 1)
	assert.NotEqual(t, "Hello, patient", stored[0].Content)

	code, env := s.do(t, http.MethodGet, "/chat/3/messages", s.token(t, model.KindPatient, 42, 1), nil)
	require.Equal(t, http.StatusOK, code)
	var msgs []model.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello, patient", msgs[0].Content)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)
	s.store.SeedPatient(42, 1)
	s.store.SeedProvider(7, 1)
	tok := s.token(t, model.KindProvider, 7, 1)

	code, _ := s.do(t, http.MethodGet, "/patient/abc/lab_data", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/device/pair/42", tok, model.PairRequest{IMEI: "12345"})
	assert.Equal(t, http.StatusBadRequest, code, "imei tag is registered on the binding validator")

	code, _ = s.do(t, http.MethodGet, "/audit?from=yesterday", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodGet, "/users/robot/1/history", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAuditScopedToAdmins(t *testing.T) {
	s := newTestServer(t)
	s.store.SeedPatient(42, 1)
	s.store.SeedProvider(7, 2)
	s.store.SeedCustomerAdmin(5, 1)

	code, _ := s.do(t, http.MethodGet, "/patient/42/lab_data", s.token(t, model.KindProvider, 7, 2), nil)
	require.Equal(t, http.StatusForbidden, code)

	code, env := s.do(t, http.MethodGet, "/audit", s.token(t, model.KindProvider, 7, 2), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "MissingPermission", env.Reason)

	code, env = s.do(t, http.MethodGet, "/audit?org_id=2", s.token(t, model.KindCustomerAdmin, 5, 1), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "ForeignOrg", env.Reason)

	code, env = s.do(t, http.MethodGet, "/audit", s.token(t, model.KindCustomerAdmin, 5, 1), nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "[]", string(env.Data))
}

func TestProviderAlertReceiverToggle(t *testing.T) {
	s := newTestServer(t)
	s.store.SeedProvider(7, 1)
	for _, p := range []int64{42, 43, 44} {
		s.store.SeedPatient(p, 1)
		s.store.SeedEdge(p, 7, model.KindProvider, false)
	}

	status := 1
	code, _ := s.do(t, http.MethodPut, "/provider/7/alert_receiver", s.token(t, model.KindProvider, 7, 1),
		model.AlertReceiverRequest{Status: &status})
	require.Equal(t, http.StatusOK, code)

	assert.True(t, bool(s.store.Provider(7).AlertReceiver))
	for _, e := range s.store.Edges() {
		assert.True(t, bool(e.AlertReceiver), "edge to patient %d", e.PatientInternalID)
	}

	code, _ = s.do(t, http.MethodPut, "/provider/7/alert_receiver", s.token(t, model.KindProvider, 7, 1), gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestOrganizationDialCodes(t *testing.T) {
	s := newTestServer(t)
	s.store.SeedSuperAdmin(1)
	tok := s.token(t, model.KindSuperAdmin, 1, 0)

	tests := []struct {
		code   string
		status int
	}{
		{"+1", http.StatusCreated},
		{"91", http.StatusCreated},
		{"US", http.StatusBadRequest},
	}
	for _, tt := range tests {
		code, _ := s.do(t, http.MethodPost, "/org", tok, gin.H{
			"name":                 "Clinic " + tt.code,
			"phone_1":              "555-123-4567",
			"phone_1_country_code": tt.code,
		})
		assert.Equal(t, tt.status, code, tt.code)
	}
}
