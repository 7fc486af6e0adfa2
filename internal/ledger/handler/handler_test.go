package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tcredex/ledgerd/internal/auth"
	"github.com/tcredex/ledgerd/internal/ledger/model"
	"github.com/tcredex/ledgerd/internal/ledger/repository"
	"github.com/tcredex/ledgerd/internal/ledger/service"
	"go.uber.org/zap"
)

type testEnv struct {
	router *gin.Engine
	store  *repository.Memory
	svc    *service.LedgerService
	tokens *auth.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemory()
	svc := service.New(store, zap.NewNop())
	tokens := auth.NewTokenIssuer([]byte("test-secret"), "ledgerd-test", time.Hour)

	appendHash, err := auth.HashSecret("append-secret")
	if err != nil {
		t.Fatal(err)
	}
	auditHash, err := auth.HashSecret("audit-secret")
	if err != nil {
		t.Fatal(err)
	}
	keyring := auth.NewKeyring([]auth.APIKey{
		{KeyID: "svc-matching", SecretHash: appendHash, Scopes: []string{auth.ScopeAppend}},
		{KeyID: "auditor-1", SecretHash: auditHash, Scopes: []string{auth.ScopeAudit}},
	})

	router := gin.New()
	api := router.Group("/api/v1")
	NewAuthHandler(keyring, tokens, zap.NewNop()).Register(api)
	NewLedgerHandler(svc, nil, tokens, zap.NewNop()).Register(api)

	return &testEnv{router: router, store: store, svc: svc, tokens: tokens}
}

func (e *testEnv) token(t *testing.T, subject string, scopes ...string) string {
	t.Helper()
	tok, err := e.tokens.Issue(subject, scopes)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

const appendBody = `{
	"actor_type": "system",
	"actor_id": "scoring-engine",
	"entity_type": "tract",
	"entity_id": "48201223100",
	"action": "distress_score_calculated",
	"payload": {"score": 87.5},
	"model_version": "distress-v3",
	"reason_codes": {"poverty_rate": "severe_distress"}
}`

func TestAppendEvent(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "svc-matching", auth.ScopeAppend)

	w := env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, appendBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var ev model.LedgerEvent
	decode(t, w, &ev)
	if ev.ID != 1 {
		t.Errorf("first event id %d, want 1", ev.ID)
	}
	if ev.PrevHash != "" {
		t.Errorf("genesis prev_hash %q, want empty", ev.PrevHash)
	}
	if len(ev.Hash) != 64 {
		t.Errorf("hash %q", ev.Hash)
	}

	// Second append chains off the first.
	w = env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, appendBody)
	var ev2 model.LedgerEvent
	decode(t, w, &ev2)
	if ev2.ID != 2 || ev2.PrevHash != ev.Hash {
		t.Errorf("second event id=%d prev=%q, want id=2 prev=%q", ev2.ID, ev2.PrevHash, ev.Hash)
	}
}

func TestAppendEvent_rejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "svc-matching", auth.ScopeAppend)

	body := strings.Replace(appendBody, "distress_score_calculated", "made_up_action", 1)
	w := env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestAppendEvent_authRequired(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/api/v1/ledger/events", "", appendBody); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", w.Code)
	}

	auditTok := env.token(t, "auditor-1", auth.ScopeAudit)
	if w := env.do(t, http.MethodPost, "/api/v1/ledger/events", auditTok, appendBody); w.Code != http.StatusForbidden {
		t.Errorf("audit-only token: status %d, want 403", w.Code)
	}
}

func TestAppendEvent_apiKeyActorDefaultsToKeyID(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "svc-matching", auth.ScopeAppend)

	body := `{
		"actor_type": "api_key",
		"entity_type": "project",
		"entity_id": "proj-1",
		"action": "application_created"
	}`
	w := env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var ev model.LedgerEvent
	decode(t, w, &ev)
	if ev.ActorID != "svc-matching" {
		t.Errorf("actor_id %q, want token subject", ev.ActorID)
	}
}

func TestQueryEvents_filters(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "svc-matching", auth.ScopeAppend)

	env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, appendBody)
	other := strings.Replace(appendBody, "48201223100", "48201224400", 1)
	env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, other)

	w := env.do(t, http.MethodGet, "/api/v1/ledger/events?entity_type=tract&entity_id=48201223100", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Events []model.LedgerEvent `json:"events"`
		Count  int                 `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Events[0].EntityID != "48201223100" {
		t.Errorf("filtered result %+v", resp)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/ledger/events?action=nope", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown action filter: status %d, want 400", w.Code)
	}
}

func TestEntityHistory(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "svc-matching", auth.ScopeAppend)
	env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, appendBody)

	w := env.do(t, http.MethodGet, "/api/v1/ledger/entities/tract/48201223100", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 {
		t.Errorf("count %d, want 1", resp.Count)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/ledger/entities/widget/x", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown entity type: status %d, want 400", w.Code)
	}
}

func TestVerify(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "svc-matching", auth.ScopeAppend)
	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, appendBody)
	}

	w := env.do(t, http.MethodGet, "/api/v1/ledger/verify", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var result model.VerificationResult
	decode(t, w, &result)
	if !result.Valid || result.EventsChecked != 3 {
		t.Errorf("result %+v", result)
	}

	// Tamper with the middle event; verification still returns 200 but flags it.
	env.store.TamperEvent(2, func(ev *model.LedgerEvent) {
		ev.Payload = map[string]any{"score": 1.0}
	})

	w = env.do(t, http.MethodGet, "/api/v1/ledger/verify", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("tampered chain: status %d, want 200", w.Code)
	}
	decode(t, w, &result)
	if result.Valid || len(result.Issues) == 0 {
		t.Errorf("tampered chain reported valid: %+v", result)
	}
}

func TestTip(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/api/v1/ledger/tip", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("empty ledger: status %d, want 404", w.Code)
	}

	tok := env.token(t, "svc-matching", auth.ScopeAppend)
	env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, appendBody)

	w := env.do(t, http.MethodGet, "/api/v1/ledger/tip", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var tip model.TipInfo
	decode(t, w, &tip)
	if tip.EventID != 1 || len(tip.Hash) != 64 {
		t.Errorf("tip %+v", tip)
	}
}

func TestExtract(t *testing.T) {
	env := newTestEnv(t)
	auditTok := env.token(t, "auditor-1", auth.ScopeAudit)

	if w := env.do(t, http.MethodGet, "/api/v1/ledger/extract", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/ledger/extract", auditTok, ""); w.Code != http.StatusNotFound {
		t.Errorf("empty ledger: status %d, want 404", w.Code)
	}

	appendTok := env.token(t, "svc-matching", auth.ScopeAppend)
	env.do(t, http.MethodPost, "/api/v1/ledger/events", appendTok, appendBody)
	env.do(t, http.MethodPost, "/api/v1/ledger/events", appendTok, appendBody)

	w := env.do(t, http.MethodGet, "/api/v1/ledger/extract", auditTok, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var extract model.LedgerExtract
	decode(t, w, &extract)
	if extract.EventCount != 2 || extract.ExtractedBy != "auditor-1" {
		t.Errorf("extract %+v", extract)
	}
	if extract.FinalHash != extract.Events[len(extract.Events)-1].Hash {
		t.Error("final hash does not match last event")
	}
}

func TestRunAnchors_noTargets(t *testing.T) {
	env := newTestEnv(t)
	auditTok := env.token(t, "auditor-1", auth.ScopeAudit)

	w := env.do(t, http.MethodPost, "/api/v1/ledger/anchors/run", auditTok, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d, want 503", w.Code)
	}
}

func TestExchangeToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/token", "",
		`{"key_id":"svc-matching","secret":"append-secret"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token  string   `json:"token"`
		Scopes []string `json:"scopes"`
	}
	decode(t, w, &resp)
	if resp.Token == "" || len(resp.Scopes) != 1 || resp.Scopes[0] != auth.ScopeAppend {
		t.Errorf("response %+v", resp)
	}

	// The minted token works against a protected route.
	if w := env.do(t, http.MethodPost, "/api/v1/ledger/events", resp.Token, appendBody); w.Code != http.StatusCreated {
		t.Errorf("minted token rejected: status %d", w.Code)
	}

	for name, body := range map[string]string{
		"wrong secret": `{"key_id":"svc-matching","secret":"nope"}`,
		"unknown key":  `{"key_id":"ghost","secret":"append-secret"}`,
	} {
		if w := env.do(t, http.MethodPost, "/api/v1/auth/token", "", body); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status %d, want 401", name, w.Code)
		}
	}
}

func TestOverview(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "svc-matching", auth.ScopeAppend)
	env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, appendBody)

	w := env.do(t, http.MethodGet, "/api/v1/ledger", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Events float64        `json:"events"`
		Tip    *model.TipInfo `json:"tip"`
	}
	decode(t, w, &resp)
	if resp.Events != 1 || resp.Tip == nil {
		t.Errorf("overview %s", w.Body.String())
	}
}

func TestGetEvent(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "svc-matching", auth.ScopeAppend)
	env.do(t, http.MethodPost, "/api/v1/ledger/events", tok, appendBody)

	w := env.do(t, http.MethodGet, "/api/v1/ledger/events/1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var ev model.LedgerEvent
	decode(t, w, &ev)
	if ev.ID != 1 {
		t.Errorf("event id %d", ev.ID)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/ledger/events/99", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing event: status %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/ledger/events/zero", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: status %d, want 400", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimiter(1, 2))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("burst requests rejected: %v", codes)
	}
	if codes[3] != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %v", codes)
	}
}

func TestVerify_badRange(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"start_id=0", "end_id=-3", "start_id=abc"} {
		w := env.do(t, http.MethodGet, "/api/v1/ledger/verify?"+q, "", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", q, w.Code)
		}
	}
}
