package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/formbridge/formbridge/internal/application/eventlog"
	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/application/service"
	"github.com/formbridge/formbridge/internal/domain/intake"
	"github.com/formbridge/formbridge/internal/domain/submission"
	"github.com/formbridge/formbridge/internal/export"
	"github.com/formbridge/formbridge/internal/infrastructure/persistence/memory"
	"github.com/formbridge/formbridge/internal/schedule"
	"github.com/formbridge/formbridge/internal/validation"
	"github.com/formbridge/formbridge/internal/webhook"
)

var apiStart = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type noopLogger struct{}

func (noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Error(msg string, keysAndValues ...interface{}) {}

type stubNotifier struct {
	mu       sync.Mutex
	requests int
}

func (n *stubNotifier) NotifyReviewRequested(ctx context.Context, req *port.ReviewRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests++
	return nil
}

func (n *stubNotifier) NotifyEscalation(ctx context.Context, notice *port.EscalationNotice) error {
	return nil
}

type stubHealth struct {
	mu sync.Mutex
	ok bool
}

func (s *stubHealth) set(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ok = ok
}

func (s *stubHealth) Health(ctx context.Context) map[string]port.HealthReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	report := port.HealthReport{OK: s.ok, LatencyMs: 1}
	if !s.ok {
		report.Error = "storage unreachable"
	}
	return map[string]port.HealthReport{"storage": report}
}

type apiFixture struct {
	t      *testing.T
	stores *memory.Stores
	clock  *schedule.Fake
	health *stubHealth
	server *Server
}

func newAPIFixture(t *testing.T, defs ...*intake.Intake) *apiFixture {
	t.Helper()

	registry, err := intake.NewRegistry(defs...)
	require.NoError(t, err)

	stores := memory.NewStores()
	log := eventlog.New(stores.Events)
	clock := schedule.NewFake(apiStart)
	locks := service.NewSubmissionLocks()
	validator := validation.New()

	submissions := service.NewSubmissionService(
		stores.Submissions, log, registry, validator, stores.Idempotency, stores, locks, noopLogger{})
	approvals := service.NewApprovalService(
		stores.Submissions, log, registry, stores.Decisions, &stubNotifier{}, clock, stores, locks, noopLogger{})
	manager := webhook.NewManager(
		stores.Deliveries, stores.Submissions, log, registry, clock, webhook.NewSender(2*time.Second), noopLogger{})

	log.Subscribe("approval-manager", approvals.HandleEvent)
	log.Subscribe("webhook-manager", manager.HandleEvent)
	t.Cleanup(approvals.Close)
	t.Cleanup(manager.Close)

	exporter := export.NewExporter(submissions, zap.NewNop())
	health := &stubHealth{ok: true}
	server := NewServer(DefaultServerConfig(), submissions, approvals, manager, exporter, registry, validator, health, noopLogger{})

	return &apiFixture{
		t:      t,
		stores: stores,
		clock:  clock,
		health: health,
		server: server,
	}
}

// vendorIntake has required fields but no gates and no destinations.
func vendorIntake() *intake.Intake {
	return &intake.Intake{
		ID:             "vendor-onboarding",
		Name:           "Vendor Onboarding",
		RequiredFields: []string{"company", "email"},
	}
}

// expenseIntake routes submissions through one single-approval gate.
func expenseIntake() *intake.Intake {
	return &intake.Intake{
		ID:             "expense-report",
		Name:           "Expense Report",
		RequiredFields: []string{"amount"},
		Gates: []intake.ApprovalGate{{
			Name:              "finance",
			Reviewers:         []string{"rev-1", "rev-2"},
			RequiredApprovals: 1,
		}},
	}
}

func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// create drives the create route and returns the submission ID and token.
func (f *apiFixture) create(intakeID string, fields map[string]any) (string, string) {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/intake/"+intakeID+"/submissions", map[string]any{
		"fields": fields,
		"actor":  map[string]any{"kind": "agent", "id": "agent-1"},
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	body := decode(f.t, rec)
	return body["submissionId"].(string), body["resumeToken"].(string)
}

func errType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	require.Equal(t, false, body["ok"])
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "error object missing: %s", rec.Body.String())
	return errObj["type"].(string)
}

func TestCreateSubmission(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake())

	rec := fx.do(http.MethodPost, "/intake/vendor-onboarding/submissions", map[string]any{
		"fields":         map[string]any{"company": "Acme"},
		"actor":          map[string]any{"kind": "agent", "id": "agent-1", "name": "Bot"},
		"idempotencyKey": "idem-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "vendor-onboarding", body["intakeId"])
	assert.Equal(t, "draft", body["state"])
	assert.NotEmpty(t, body["resumeToken"])
	assert.True(t, strings.HasPrefix(body["submissionId"].(string), "sub_"))
	assert.Equal(t, []any{"email"}, body["missingFields"], "company is set, email still missing")

	t.Run("idempotent replay returns the original with 200", func(t *testing.T) {
		again := fx.do(http.MethodPost, "/intake/vendor-onboarding/submissions", map[string]any{
			"idempotencyKey": "idem-1",
		})
		require.Equal(t, http.StatusOK, again.Code)
		assert.Equal(t, body["submissionId"], decode(t, again)["submissionId"])
	})

	t.Run("empty body is a valid create", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/intake/vendor-onboarding/submissions", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "draft", decode(t, rec)["state"])
	})

	t.Run("unknown intake", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/intake/nope/submissions", map[string]any{})
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", errType(t, rec))
	})

	t.Run("unknown actor kind", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/intake/vendor-onboarding/submissions", map[string]any{
			"actor": map[string]any{"kind": "robot", "id": "r2"},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", errType(t, rec))
	})
}

func TestGetSubmission(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake(), expenseIntake())
	id, token := fx.create("vendor-onboarding", map[string]any{"company": "Acme"})

	rec := fx.do(http.MethodGet, "/intake/vendor-onboarding/submissions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, id, body["submissionId"])
	assert.Equal(t, map[string]any{"company": "Acme"}, body["fields"])

	_, leaked := body["resumeToken"]
	assert.False(t, leaked, "reads must not return the resume token")
	assert.NotContains(t, rec.Body.String(), token)

	t.Run("unknown id", func(t *testing.T) {
		rec := fx.do(http.MethodGet, "/intake/vendor-onboarding/submissions/sub_missing", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", errType(t, rec))
	})

	t.Run("wrong intake in path reads as not found", func(t *testing.T) {
		rec := fx.do(http.MethodGet, "/intake/expense-report/submissions/"+id, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", errType(t, rec))
	})
}

func TestSetFields(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake())
	id, token := fx.create("vendor-onboarding", map[string]any{"company": "Acme"})
	path := "/intake/vendor-onboarding/submissions/" + id

	rec := fx.do(http.MethodPatch, path, map[string]any{
		"resumeToken": token,
		"fields":      map[string]any{"email": "a@b.com"},
		"actor":       map[string]any{"kind": "human", "id": "user-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, token, body["resumeToken"], "field updates echo the proven token")
	assert.Equal(t, "a@b.com", body["fields"].(map[string]any)["email"])
	_, stillMissing := body["missingFields"]
	assert.False(t, stillMissing, "all required fields are now present")

	t.Run("bad token", func(t *testing.T) {
		rec := fx.do(http.MethodPatch, path, map[string]any{
			"resumeToken": "tok_wrong",
			"fields":      map[string]any{"email": "x@y.com"},
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", errType(t, rec))
	})

	t.Run("missing token", func(t *testing.T) {
		rec := fx.do(http.MethodPatch, path, map[string]any{
			"fields": map[string]any{"email": "x@y.com"},
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid field path", func(t *testing.T) {
		rec := fx.do(http.MethodPatch, path, map[string]any{
			"resumeToken": token,
			"fields":      map[string]any{"bad path!": 1},
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "validation_failed", errType(t, rec))
	})
}

func TestSubmitWithoutGatesCompletes(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake())
	id, token := fx.create("vendor-onboarding", map[string]any{
		"company": "Acme",
		"email":   "a@b.com",
	})
	path := "/intake/vendor-onboarding/submissions/" + id

	rec := fx.do(http.MethodPost, path+"/submit", map[string]any{"resumeToken": token})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "completed", body["state"])
	_, leaked := body["resumeToken"]
	assert.False(t, leaked)

	t.Run("terminal submission rejects further edits", func(t *testing.T) {
		rec := fx.do(http.MethodPatch, path, map[string]any{
			"resumeToken": token,
			"fields":      map[string]any{"email": "new@b.com"},
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "invalid_state", errType(t, rec))
	})

	t.Run("events trace the lifecycle", func(t *testing.T) {
		rec := fx.do(http.MethodGet, path+"/events", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		events := body["events"].([]any)
		require.NotEmpty(t, events)

		types := make([]string, len(events))
		for i, raw := range events {
			evt := raw.(map[string]any)
			types[i] = evt["type"].(string)
			assert.Equal(t, float64(i+1), evt["version"], "versions are gapless from 1")
		}
		assert.Equal(t, "submission.created", types[0])
		assert.Contains(t, types, "submission.finalized")
	})
}

func TestSubmitValidationFailure(t *testing.T) {
	fx := newAPIFixture(t, expenseIntake())
	id, token := fx.create("expense-report", nil)
	path := "/intake/expense-report/submissions/" + id

	rec := fx.do(http.MethodPost, path+"/submit", map[string]any{"resumeToken": token})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "validation_failed", body["error"].(map[string]any)["type"])
	assert.Equal(t, []any{"amount"}, body["missingFields"])

	got := fx.do(http.MethodGet, path, nil)
	assert.Equal(t, "invalid", decode(t, got)["state"])

	t.Run("field update revises back to draft", func(t *testing.T) {
		rec := fx.do(http.MethodPatch, path, map[string]any{
			"resumeToken": token,
			"fields":      map[string]any{"amount": 42},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "draft", decode(t, rec)["state"])
	})
}

func TestCancel(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake())
	id, token := fx.create("vendor-onboarding", nil)
	path := "/intake/vendor-onboarding/submissions/" + id

	rec := fx.do(http.MethodPost, path+"/cancel", map[string]any{
		"resumeToken": token,
		"reason":      "changed my mind",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode(t, rec)["state"])

	again := fx.do(http.MethodPost, path+"/cancel", map[string]any{"resumeToken": token})
	require.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "invalid_state", errType(t, again))
}

func TestResumeAndRotate(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake())
	id, token := fx.create("vendor-onboarding", nil)
	path := "/intake/vendor-onboarding/submissions/" + id

	rec := fx.do(http.MethodPost, path+"/resume", map[string]any{"resumeToken": token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, token, decode(t, rec)["resumeToken"])

	t.Run("wrong token", func(t *testing.T) {
		rec := fx.do(http.MethodPost, path+"/resume", map[string]any{"resumeToken": "tok_wrong"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", errType(t, rec))
	})

	t.Run("rotation invalidates the old token", func(t *testing.T) {
		rec := fx.do(http.MethodPost, path+"/token/rotate", map[string]any{"resumeToken": token})
		require.Equal(t, http.StatusOK, rec.Code)

		fresh := decode(t, rec)["resumeToken"].(string)
		require.NotEmpty(t, fresh)
		assert.NotEqual(t, token, fresh)

		old := fx.do(http.MethodPatch, path, map[string]any{
			"resumeToken": token,
			"fields":      map[string]any{"company": "Acme"},
		})
		assert.Equal(t, http.StatusUnauthorized, old.Code)

		current := fx.do(http.MethodPatch, path, map[string]any{
			"resumeToken": fresh,
			"fields":      map[string]any{"company": "Acme"},
		})
		assert.Equal(t, http.StatusOK, current.Code)
	})
}

func TestExpiredSubmission(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake())

	sub := submission.New("sub_old", "vendor-onboarding", submission.SystemActor(), apiStart)
	sub.State = submission.StateExpired
	require.NoError(t, fx.stores.Submissions.Create(context.Background(), sub))

	rec := fx.do(http.MethodPatch, "/intake/vendor-onboarding/submissions/sub_old", map[string]any{
		"resumeToken": sub.ResumeToken,
		"fields":      map[string]any{"company": "Acme"},
	})
	require.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "expired", errType(t, rec))

	t.Run("expired is distinct from not found only with the token", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/intake/vendor-onboarding/submissions/sub_old/resume", map[string]any{
			"resumeToken": "tok_wrong",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = fx.do(http.MethodPost, "/intake/vendor-onboarding/submissions/sub_old/resume", map[string]any{
			"resumeToken": sub.ResumeToken,
		})
		require.Equal(t, http.StatusGone, rec.Code)
	})
}

func TestDecisionFlow(t *testing.T) {
	fx := newAPIFixture(t, expenseIntake())
	id, token := fx.create("expense-report", map[string]any{"amount": 42})
	path := "/intake/expense-report/submissions/" + id

	rec := fx.do(http.MethodPost, path+"/submit", map[string]any{"resumeToken": token})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "needs_review", decode(t, rec)["state"])

	t.Run("review progress before any decision", func(t *testing.T) {
		rec := fx.do(http.MethodGet, path+"/review", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		gates := body["gates"].([]any)
		require.Len(t, gates, 1)
		gate := gates[0].(map[string]any)
		assert.Equal(t, "finance", gate["gate"])
		assert.Equal(t, float64(0), gate["approvals"])
		assert.Equal(t, float64(1), gate["required"])
		assert.Equal(t, false, gate["satisfied"])
	})

	t.Run("unassigned reviewer", func(t *testing.T) {
		rec := fx.do(http.MethodPost, path+"/decisions", map[string]any{
			"reviewer": map[string]any{"kind": "human", "id": "stranger"},
			"decision": "approve",
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "not_assigned", errType(t, rec))
	})

	t.Run("unknown decision kind", func(t *testing.T) {
		rec := fx.do(http.MethodPost, path+"/decisions", map[string]any{
			"reviewer": map[string]any{"kind": "human", "id": "rev-1"},
			"decision": "maybe",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong gate name", func(t *testing.T) {
		rec := fx.do(http.MethodPost, path+"/decisions", map[string]any{
			"gate":     "legal",
			"reviewer": map[string]any{"kind": "human", "id": "rev-1"},
			"decision": "approve",
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "gate_not_active", errType(t, rec))
	})

	t.Run("approval satisfies the gate and finalizes", func(t *testing.T) {
		rec := fx.do(http.MethodPost, path+"/decisions", map[string]any{
			"reviewer": map[string]any{"kind": "human", "id": "rev-1"},
			"decision": "approve",
			"comment":  "looks right",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "completed", decode(t, rec)["state"])
	})

	t.Run("decisions after settlement are invalid-state", func(t *testing.T) {
		rec := fx.do(http.MethodPost, path+"/decisions", map[string]any{
			"reviewer": map[string]any{"kind": "human", "id": "rev-2"},
			"decision": "approve",
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "invalid_state", errType(t, rec))
	})

	t.Run("review endpoint records the decision trail", func(t *testing.T) {
		rec := fx.do(http.MethodGet, path+"/review", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		decisions := body["decisions"].([]any)
		require.Len(t, decisions, 1)
		dec := decisions[0].(map[string]any)
		assert.Equal(t, "approve", dec["decision"])
		assert.Equal(t, "rev-1", dec["reviewer"].(map[string]any)["id"])
	})
}

func TestUploadLifecycle(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake())
	id, token := fx.create("vendor-onboarding", nil)
	path := "/intake/vendor-onboarding/submissions/" + id

	rec := fx.do(http.MethodPost, path+"/uploads", map[string]any{
		"resumeToken": token,
		"field":       "contract",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	uploadID := body["uploadId"].(string)
	require.NotEmpty(t, uploadID)
	assert.Equal(t, "contract", body["field"])

	t.Run("missing field name", func(t *testing.T) {
		rec := fx.do(http.MethodPost, path+"/uploads", map[string]any{"resumeToken": token})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("complete binds the reference", func(t *testing.T) {
		rec := fx.do(http.MethodPost, path+"/uploads/"+uploadID+"/complete", map[string]any{
			"resumeToken": token,
			"ref":         "store://bucket/contract.pdf",
			"size":        2048,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "store://bucket/contract.pdf", decode(t, rec)["fields"].(map[string]any)["contract"])
	})

	t.Run("unknown upload id", func(t *testing.T) {
		rec := fx.do(http.MethodPost, path+"/uploads/up_missing/complete", map[string]any{
			"resumeToken": token,
			"ref":         "store://bucket/x.pdf",
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListSubmissions(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake())
	fx.create("vendor-onboarding", map[string]any{"company": "One"})
	fx.create("vendor-onboarding", map[string]any{"company": "Two"})

	rec := fx.do(http.MethodGet, "/intake/vendor-onboarding/submissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(2), body["count"])
	assert.NotContains(t, rec.Body.String(), "resumeToken")

	t.Run("limit caps the page", func(t *testing.T) {
		rec := fx.do(http.MethodGet, "/intake/vendor-onboarding/submissions?limit=1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decode(t, rec)["count"])
	})

	t.Run("unknown intake", func(t *testing.T) {
		rec := fx.do(http.MethodGet, "/intake/nope/submissions", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminDeliveries(t *testing.T) {
	var calls int
	var mu sync.Mutex
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(receiver.Close)

	def := &intake.Intake{
		ID:   "invoice-sync",
		Name: "Invoice Sync",
		Destinations: []intake.Destination{{
			URL:    receiver.URL,
			Secret: "whsec_test",
			Retry:  intake.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Second, BackoffMultiplier: 2},
		}},
	}
	fx := newAPIFixture(t, def)

	id, token := fx.create("invoice-sync", nil)
	rec := fx.do(http.MethodPost, "/intake/invoice-sync/submissions/"+id+"/submit", map[string]any{
		"resumeToken": token,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "completed", decode(t, rec)["state"])

	fx.clock.Advance(0)
	mu.Lock()
	require.Equal(t, 1, calls)
	mu.Unlock()

	rec = fx.do(http.MethodGet, "/admin/deliveries?submissionId="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	deliveries := body["deliveries"].([]any)
	require.Len(t, deliveries, 1)
	d := deliveries[0].(map[string]any)
	assert.Equal(t, "succeeded", d["state"])
	deliveryID := d["deliveryId"].(string)

	t.Run("get includes the attempt trail", func(t *testing.T) {
		rec := fx.do(http.MethodGet, "/admin/deliveries/"+deliveryID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		attempts := body["attempts"].([]any)
		require.Len(t, attempts, 1)
		assert.Equal(t, float64(http.StatusOK), attempts[0].(map[string]any)["statusCode"])
	})

	t.Run("succeeded delivery is not retryable", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/admin/deliveries/"+deliveryID+"/retry", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "not_retryable", errType(t, rec))
	})

	t.Run("unknown delivery", func(t *testing.T) {
		rec := fx.do(http.MethodPost, "/admin/deliveries/dl_missing/retry", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing submissionId parameter", func(t *testing.T) {
		rec := fx.do(http.MethodGet, "/admin/deliveries", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake())

	rec := fx.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	storage := body["components"].(map[string]any)["storage"].(map[string]any)
	assert.Equal(t, true, storage["ok"])

	t.Run("degraded storage reports 503", func(t *testing.T) {
		fx.health.set(false)
		rec := fx.do(http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, false, decode(t, rec)["ok"])
	})
}

func TestExportWorkbook(t *testing.T) {
	fx := newAPIFixture(t, vendorIntake())
	fx.create("vendor-onboarding", map[string]any{"company": "Acme"})

	rec := fx.do(http.MethodGet, "/admin/intakes/vendor-onboarding/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Header().Get("Content-Disposition"), "vendor-onboarding-audit.xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx responses are zip archives")

	t.Run("unknown intake", func(t *testing.T) {
		rec := fx.do(http.MethodGet, "/admin/intakes/nope/export", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}
