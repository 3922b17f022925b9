package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"transcriptdesk/internal/config"
	"transcriptdesk/internal/db"
	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/engine"
	"transcriptdesk/internal/migrate"
	"transcriptdesk/internal/sequence"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testWebhookSecret = "whsec_test"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	e := engine.New(conn, config.Default(), sequence.NewGuarded(sequence.SQLCounter{DB: conn}, sequence.GuardOptions{Log: log}))
	e.Log = log
	for _, a := range []domain.Actor{
		{ID: "admin-1", Role: "admin", Active: true},
		{ID: "alice", Role: "evaluator", Active: true},
		{ID: "bob", Role: "evaluator", Active: true},
	} {
		if err := e.Repo.UpsertActor(context.Background(), nil, a); err != nil {
			t.Fatalf("seed actor: %v", err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowActorHeaders: true, DevLogin: true},
		Webhook:  WebhookConfig{Secret: testWebhookSecret, Log: log},
		Log:      log,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{Timeout: 10 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(actorID, role string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID, "X-Actor-Role": role}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func submitItem(t *testing.T, srv *testServer, owner string, units int) domain.WorkItem {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items", map[string]any{
		"kind":            "evaluation",
		"priceable_units": units,
	}, as(owner, "student"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create item status %d: %s", res.StatusCode, string(data))
	}
	var it domain.WorkItem
	if err := json.Unmarshal(data, &it); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	return it
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	var h HealthResponse
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if h.Status != "ok" || h.Counter != "closed" {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestRequestsWithoutPrincipalAreRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestDevLoginTokenAuthenticates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "stu-1", "role": "student",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items", map[string]any{
		"kind": "translation", "priceable_units": 2,
	}, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with jwt status %d: %s", res.StatusCode, string(data))
	}
	var it domain.WorkItem
	_ = json.Unmarshal(data, &it)
	if it.OwnerID != "stu-1" {
		t.Fatalf("owner should come from token subject, got %s", it.OwnerID)
	}
}

func TestAPIKeyUsesStoredRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/actors/alice/api-keys", map[string]any{"name": "laptop"}, as("admin-1", "admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	it := submitItem(t, srv, "stu-1", 1)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+it.ID+"/claim", nil, map[string]string{"X-Api-Key": key.Secret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim with api key status %d: %s", res.StatusCode, string(data))
	}
	var claimed domain.WorkItem
	_ = json.Unmarshal(data, &claimed)
	if claimed.AssigneeID == nil || *claimed.AssigneeID != "alice" {
		t.Fatalf("expected alice as assignee, got %v", claimed.AssigneeID)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/actors/alice/api-keys", nil, as("admin-1", "admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys status %d: %s", res.StatusCode, string(data))
	}
	var listed APIKeyListResponse
	if err := json.Unmarshal(data, &listed); err != nil || len(listed.Keys) != 1 || listed.Keys[0].ID != key.Key.ID {
		t.Fatalf("list keys: %s %v", string(data), err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/api-keys/"+key.Key.ID, nil, as("alice", "evaluator"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("evaluator revoke status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/api-keys/"+key.Key.ID, nil, as("admin-1", "admin"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status %d: %s", res.StatusCode, string(data))
	}
	next := submitItem(t, srv, "stu-1", 1)
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+next.ID+"/claim", nil, map[string]string{"X-Api-Key": key.Secret})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key status %d", res.StatusCode)
	}
}

func TestConcurrentClaimsReturnOneOKAndConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	it := submitItem(t, srv, "stu-1", 2)

	staff := []string{"alice", "bob", "alice", "bob", "alice", "bob"}
	statuses := make([]int, len(staff))
	codes := make([]string, len(staff))
	var wg sync.WaitGroup
	for i, id := range staff {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+it.ID+"/claim", nil, as(id, "evaluator"))
			statuses[i] = res.StatusCode
			if res.StatusCode != http.StatusOK {
				codes[i] = errorCode(t, data)
			}
		}(i, id)
	}
	wg.Wait()
	ok := 0
	for i, s := range statuses {
		switch s {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			if codes[i] != "already_assigned" {
				t.Fatalf("unexpected conflict code %s", codes[i])
			}
		default:
			t.Fatalf("unexpected status %d", s)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", ok)
	}
}

func TestStudentCannotSeeOthersItems(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	mine := submitItem(t, srv, "stu-1", 1)
	submitItem(t, srv, "stu-2", 1)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items/"+mine.ID, nil, as("stu-2", "student"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for another student's item, got %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items", nil, as("stu-1", "student"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list ItemListResponse
	_ = json.Unmarshal(data, &list)
	if len(list.Items) != 1 || list.Items[0].ID != mine.ID {
		t.Fatalf("student should only list own items, got %+v", list.Items)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items?unassigned=true", nil, as("alice", "evaluator"))
	_ = json.Unmarshal(data, &list)
	if res.StatusCode != http.StatusOK || len(list.Items) != 2 {
		t.Fatalf("staff should list all unassigned items: %d %d", res.StatusCode, len(list.Items))
	}
}

func TestPaymentFlowAndWebhookIdempotency(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	i1 := submitItem(t, srv, "stu-1", 3)
	i2 := submitItem(t, srv, "stu-1", 2)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/payments/lock", map[string]any{
		"item_ids": []string{i1.ID, i2.ID},
	}, as("stu-1", "student"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("lock status %d: %s", res.StatusCode, string(data))
	}
	var lock engine.LockResult
	if err := json.Unmarshal(data, &lock); err != nil {
		t.Fatalf("unmarshal lock: %v", err)
	}
	if lock.Intent.AmountExpected != 5*srv.Engine.Config.Tariff.PerUnit.Evaluation {
		t.Fatalf("unexpected amount %d", lock.Intent.AmountExpected)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/payments/lock", map[string]any{
		"item_ids": []string{i1.ID},
	}, as("stu-1", "student"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "nothing_to_lock" {
		t.Fatalf("relock should be nothing_to_lock, got %d %s", res.StatusCode, string(data))
	}

	hook := map[string]any{"intent_ref": lock.Intent.IntentRef, "amount": lock.Intent.AmountExpected, "event_id": "evt_1"}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/payments", hook, map[string]string{webhookSecretHeader: "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad webhook secret, got %d", res.StatusCode)
	}
	outcomes := []string{}
	for i := 0; i < 2; i++ {
		res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/payments", hook, map[string]string{webhookSecretHeader: testWebhookSecret})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("webhook delivery %d status %d: %s", i, res.StatusCode, string(data))
		}
		var out engine.ReconcileResult
		_ = json.Unmarshal(data, &out)
		outcomes = append(outcomes, out.Outcome)
	}
	if outcomes[0] != engine.OutcomeSettled || outcomes[1] != engine.OutcomeAlreadySettled {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items/"+i1.ID, nil, as("stu-1", "student"))
	var it domain.WorkItem
	_ = json.Unmarshal(data, &it)
	if it.Status != domain.StatusPaid {
		t.Fatalf("expected paid, got %s", it.Status)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/payments/"+lock.Intent.IntentRef+"/unlock", nil, as("admin-1", "admin"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("unlock of settled batch should be invalid_transition, got %d %s", res.StatusCode, string(data))
	}
}

func TestWebhookForUnknownIntentIsRetryable(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/payments", map[string]any{
		"intent_ref": "pi_nope", "amount": 100,
	}, map[string]string{webhookSecretHeader: testWebhookSecret})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "unknown_intent" || env.Error.Details["retryable"] != true {
		t.Fatalf("unexpected error body %s", string(data))
	}
}

func TestMismatchShowsInWarningQueue(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	it := submitItem(t, srv, "stu-1", 1)
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/payments/lock", map[string]any{"item_ids": []string{it.ID}}, as("stu-1", "student"))
	var lock engine.LockResult
	_ = json.Unmarshal(data, &lock)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/webhooks/payments", map[string]any{
		"intent_ref": lock.Intent.IntentRef, "amount": 1,
	}, map[string]string{webhookSecretHeader: testWebhookSecret})

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/warnings", nil, as("stu-1", "student"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("students may not read warnings, got %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/warnings", nil, as("admin-1", "admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("warnings status %d: %s", res.StatusCode, string(data))
	}
	var list WarningListResponse
	_ = json.Unmarshal(data, &list)
	if len(list.Warnings) != 1 || list.Warnings[0].Kind != domain.WarningAmountMismatch {
		t.Fatalf("expected one mismatch warning, got %+v", list.Warnings)
	}
}

func TestWithdrawAndErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	it := submitItem(t, srv, "stu-1", 1)
	res, _ := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/items/"+it.ID, nil, as("stu-2", "student"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 not_owner, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/items/"+it.ID, nil, as("stu-1", "student"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items/"+it.ID, nil, as("admin-1", "admin"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after withdraw, got %d", res.StatusCode)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items", map[string]any{"kind": "audit", "priceable_units": 1}, as("stu-1", "student"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad kind, got %d: %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIServed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("openapi json: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/v0/items/{id}/claim", "/v0/payments/lock", "/v0/webhooks/payments"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("openapi missing %s", p)
		}
	}
	hook, _ := paths["/v0/webhooks/payments"].(map[string]any)
	post, _ := hook["post"].(map[string]any)
	security, _ := post["security"].([]any)
	if len(security) != 1 {
		t.Fatalf("webhook security = %v", post["security"])
	}
	if _, ok := security[0].(map[string]any)["webhookSecret"]; !ok {
		t.Fatalf("webhook should use the shared secret scheme, got %v", security)
	}
}
