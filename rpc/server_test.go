package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"recvault/native/fund"
	"recvault/native/registry"
	"recvault/state"
	"recvault/storage"
)

const testEvidence = "0101010101010101010101010101010101010101010101010101010101010101"

type testEnv struct {
	server  *httptest.Server
	reg     *registry.Engine
	funds   *fund.Engine
	nowUnix int64
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store, err := state.NewStore(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	env := &testEnv{nowUnix: 1_000}
	now := func() int64 { return env.nowUnix }

	reg := registry.NewEngine()
	reg.SetState(store)
	reg.SetNowFunc(now)

	funds := fund.NewEngine()
	funds.SetState(store)
	funds.SetRegistry(reg)
	funds.SetNowFunc(now)

	srv := NewServer(reg, funds, opts...)
	env.server = httptest.NewServer(srv.Router())
	env.reg = reg
	env.funds = funds
	t.Cleanup(env.server.Close)
	return env
}

func (env *testEnv) request(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func submitBody(evidence string) map[string]any {
	return map[string]any{
		"originator":       "acme",
		"debtor_ref":       "debtor-1",
		"face_value":       "100000",
		"discount_rate_bp": 500,
		"maturity":         int64(5_000),
		"evidence_hash":    evidence,
	}
}

func TestSubmitAndGetInstrument(t *testing.T) {
	env := newTestEnv(t)
	resp, raw := env.request(t, http.MethodPost, "/instruments", submitBody(testEvidence), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var created instrumentPayload
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != 1 || created.DiscountedValue != "95000" || created.Status != "pending" {
		t.Fatalf("unexpected payload: %+v", created)
	}

	resp, raw = env.request(t, http.MethodGet, "/instruments/1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
}

func TestSubmitValidationMapsTo400(t *testing.T) {
	env := newTestEnv(t)
	body := submitBody(testEvidence)
	body["face_value"] = "0"
	resp, raw := env.request(t, http.MethodPost, "/instruments", body, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, raw)
	}
	var errResp errorBody
	if err := json.Unmarshal(raw, &errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != "validation" {
		t.Fatalf("expected validation code, got %q", errResp.Code)
	}
}

func TestDuplicateEvidenceRejected(t *testing.T) {
	env := newTestEnv(t)
	if resp, raw := env.request(t, http.MethodPost, "/instruments", submitBody(testEvidence), nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first submit failed: %d %s", resp.StatusCode, raw)
	}
	resp, _ := env.request(t, http.MethodPost, "/instruments", submitBody(testEvidence), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate evidence, got %d", resp.StatusCode)
	}
}

func TestMissingInstrumentMapsTo404(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.request(t, http.MethodGet, "/instruments/99", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestVerificationConflictMapsTo409(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, http.MethodPost, "/instruments", submitBody(testEvidence), nil)
	env.request(t, http.MethodPost, "/instruments/1/verification", map[string]any{"valid": true}, nil)
	resp, _ := env.request(t, http.MethodPost, "/instruments/1/verification", map[string]any{"valid": true}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestFundLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	resp, raw := env.request(t, http.MethodPost, "/funds", map[string]any{"id": "senior"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create fund: %d %s", resp.StatusCode, raw)
	}
	resp, raw = env.request(t, http.MethodPost, "/funds/senior/deposit", map[string]any{"amount": "95000", "beneficiary": "alice"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit: %d %s", resp.StatusCode, raw)
	}
	var dep depositResponse
	if err := json.Unmarshal(raw, &dep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dep.Units != "95000" {
		t.Fatalf("expected 95000 units minted, got %s", dep.Units)
	}

	env.request(t, http.MethodPost, "/instruments", submitBody(testEvidence), nil)
	env.request(t, http.MethodPost, "/instruments/1/verification", map[string]any{"valid": true}, nil)
	resp, raw = env.request(t, http.MethodPost, "/funds/senior/allocations", map[string]any{"instrument_id": 1}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("allocate: %d %s", resp.StatusCode, raw)
	}

	resp, raw = env.request(t, http.MethodGet, "/funds/senior/allocations", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list allocations: %d %s", resp.StatusCode, raw)
	}
	var allocs []allocationPayload
	if err := json.Unmarshal(raw, &allocs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(allocs) != 1 || !allocs[0].Active {
		t.Fatalf("unexpected allocations: %+v", allocs)
	}

	resp, raw = env.request(t, http.MethodGet, "/funds/senior/positions/alice", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("position: %d %s", resp.StatusCode, raw)
	}
	var pos positionPayload
	if err := json.Unmarshal(raw, &pos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pos.Units != "95000" || pos.PercentOfFund != 10_000 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func TestYieldMovesSharePrice(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, http.MethodPost, "/funds", map[string]any{"id": "senior"}, nil)
	env.request(t, http.MethodPost, "/funds/senior/deposit", map[string]any{"amount": "1000", "beneficiary": "alice"}, nil)
	resp, raw := env.request(t, http.MethodPost, "/funds/senior/yield", map[string]any{"amount": "100"}, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("yield: %d %s", resp.StatusCode, raw)
	}
	resp, raw = env.request(t, http.MethodGet, "/funds/senior/price", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("price: %d %s", resp.StatusCode, raw)
	}
	var price pricePayload
	if err := json.Unmarshal(raw, &price); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if price.SharePrice != "1100000000000000000" {
		t.Fatalf("expected 1.1e18 share price, got %s", price.SharePrice)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	env := newTestEnv(t)
	body := submitBody(testEvidence)
	body["unexpected"] = true
	resp, _ := env.request(t, http.MethodPost, "/instruments", body, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}

func signToken(t *testing.T, secret, issuer string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": issuer,
		"sub": "operator",
		"exp": expires.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthRequiredOnMutations(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: "test-secret",
		Issuer:     "recvault",
	}, nil)
	env := newTestEnv(t, WithAuth(auth))

	resp, _ := env.request(t, http.MethodPost, "/instruments", submitBody(testEvidence), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// Reads stay open.
	resp, _ = env.request(t, http.MethodGet, "/instruments", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected open read, got %d", resp.StatusCode)
	}

	token := signToken(t, "test-secret", "recvault", time.Now().Add(time.Hour))
	headers := map[string]string{"Authorization": "Bearer " + token}
	resp, raw := env.request(t, http.MethodPost, "/instruments", submitBody(testEvidence), headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d: %s", resp.StatusCode, raw)
	}

	bad := signToken(t, "wrong-secret", "recvault", time.Now().Add(time.Hour))
	resp, _ = env.request(t, http.MethodPost, "/instruments", submitBody(strings.Repeat("02", 32)), map[string]string{"Authorization": "Bearer " + bad})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", resp.StatusCode)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"instruments": {RequestsPerMinute: 60, Burst: 2}}, nil)
	env := newTestEnv(t, WithRateLimiter(limiter))
	var last int
	for i := 0; i < 5; i++ {
		resp, _ := env.request(t, http.MethodGet, "/instruments", nil, nil)
		last = resp.StatusCode
		if last == http.StatusTooManyRequests {
			break
		}
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected a 429 after burst exhausted, got %d", last)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, raw := env.request(t, http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK || string(raw) != "ok" {
		t.Fatalf("unexpected health response: %d %q", resp.StatusCode, raw)
	}
}

func TestRemoveAllocationRequiresReasonBeforeTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, http.MethodPost, "/funds", map[string]any{"id": "senior"}, nil)
	env.request(t, http.MethodPost, "/instruments", submitBody(testEvidence), nil)
	env.request(t, http.MethodPost, "/instruments/1/verification", map[string]any{"valid": true}, nil)
	env.request(t, http.MethodPost, "/funds/senior/allocations", map[string]any{"instrument_id": 1}, nil)

	resp, _ := env.request(t, http.MethodDelete, "/funds/senior/allocations/1", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without reason, got %d", resp.StatusCode)
	}
	resp, raw := env.request(t, http.MethodDelete, "/funds/senior/allocations/1?reason=operator_override", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with reason, got %d: %s", resp.StatusCode, raw)
	}
	var alloc allocationPayload
	if err := json.Unmarshal(raw, &alloc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alloc.Active || alloc.RemovedReason != "operator_override" {
		t.Fatalf("unexpected allocation: %+v", alloc)
	}
}

func TestTotalsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, http.MethodPost, "/instruments", submitBody(testEvidence), nil)
	resp, raw := env.request(t, http.MethodGet, "/instruments/totals", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("totals: %d %s", resp.StatusCode, raw)
	}
	var totals totalsPayload
	if err := json.Unmarshal(raw, &totals); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if totals.Submitted != 1 {
		t.Fatalf("expected 1 submitted, got %d", totals.Submitted)
	}
}

func TestListByStatusFilter(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, http.MethodPost, "/instruments", submitBody(testEvidence), nil)
	env.request(t, http.MethodPost, "/instruments", submitBody(strings.Repeat("03", 32)), nil)
	env.request(t, http.MethodPost, "/instruments/1/verification", map[string]any{"valid": true}, nil)

	resp, raw := env.request(t, http.MethodGet, "/instruments?status=verified", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, raw)
	}
	var instruments []instrumentPayload
	if err := json.Unmarshal(raw, &instruments); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(instruments) != 1 || instruments[0].ID != 1 {
		t.Fatalf("unexpected filter result: %+v", instruments)
	}
	resp, _ = env.request(t, http.MethodGet, "/instruments?status=bogus", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", resp.StatusCode)
	}
}
