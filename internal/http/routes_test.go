package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"tola_ledger/internal/config"
	"tola_ledger/internal/domain"
	"tola_ledger/internal/http/handlers"
	"tola_ledger/internal/repository/memory"
	"tola_ledger/internal/service"
	"tola_ledger/internal/settlement"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	botToken = "bot-token"
	testDest = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"
)

type testServer struct {
	router *gin.Engine
	tokens *service.TokenIssuer
	svc    handlers.Services
}

func newTestServer(t *testing.T, threshold int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	rules := config.DefaultRules().Rules
	tokens, err := service.NewTokenIssuer("secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	ledger := service.NewLedgerService(store)
	limiter := service.NewRateLimiter(store, 1000, 10000)
	milestone := service.NewMilestoneService(store, store, service.QualifyingRuleIDs(rules), threshold)
	if _, err := milestone.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	svc := handlers.Services{
		Ledger:     ledger,
		Incentives: service.NewIncentiveService(rules, ledger, limiter, store, milestone),
		Milestone:  milestone,
		Conversions: service.NewConversionService(service.ConversionPolicy{
			MinAmount:     10,
			MaxAmount:     10000,
			FeeRate:       decimal.RequireFromString("0.01"),
			ExchangeRate:  decimal.NewFromInt(1),
			Currency:      "USDC",
			SettleTimeout: time.Second,
		}, ledger, store, store, limiter, milestone, settlement.NewSimulated(0, 0)),
		Accounting: service.NewAccountingService(store),
		Tokens:     tokens,
	}

	r := gin.New()
	RegisterRoutes(r, Deps{
		Services: svc,
		Options:  handlers.Options{BotToken: botToken},
		Store:    store,
		Limits:   Limits{API: 1000, Auth: 1000},
		Version:  "test",
	})
	return &testServer{router: r, tokens: tokens, svc: svc}
}

func (s *testServer) token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := s.tokens.Generate(userID, role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s: %v", w.Body.String(), err)
		}
	}
	return w.Code, out
}

func event(userID int64, eventType string, ctx map[string]any) map[string]any {
	return map[string]any{"user_id": userID, "event_type": eventType, "context": ctx}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, 1000)
	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		if code, _ := s.do(t, http.MethodGet, path, "", nil); code != http.StatusOK {
			t.Fatalf("%s: %d", path, code)
		}
	}
	if code, _ := s.do(t, http.MethodGet, "/metrics", "", nil); code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}
}

func TestEventIngress(t *testing.T) {
	s := newTestServer(t, 1000)
	svcTok := s.token(t, 0, service.RoleService)
	userTok := s.token(t, 5, service.RoleUser)

	if code, _ := s.do(t, http.MethodPost, "/api/v1/events", "", event(5, "signup", nil)); code != http.StatusUnauthorized {
		t.Fatalf("anonymous event: %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/events", userTok, event(5, "signup", nil)); code != http.StatusForbidden {
		t.Fatalf("user-role event: %d", code)
	}

	code, body := s.do(t, http.MethodPost, "/api/v1/events", svcTok, event(5, "signup", nil))
	if code != http.StatusCreated {
		t.Fatalf("signup: %d %v", code, body)
	}
	res := body["result"].(map[string]any)
	if res["credited"].(float64) != 500 {
		t.Fatalf("credited = %v", res["credited"])
	}

	code, body = s.do(t, http.MethodPost, "/api/v1/events", svcTok, event(5, "signup", nil))
	if code != http.StatusOK || body["result"].(map[string]any)["duplicate"] != true {
		t.Fatalf("second signup: %d %v", code, body)
	}

	if code, body := s.do(t, http.MethodPost, "/api/v1/events", svcTok, event(5, "no_such_event", nil)); code != http.StatusBadRequest || body["code"] != "unknown_event_type" {
		t.Fatalf("unknown event: %d %v", code, body)
	}

	code, body = s.do(t, http.MethodGet, "/api/v1/wallet", userTok, nil)
	if code != http.StatusOK {
		t.Fatalf("wallet: %d", code)
	}
	w := body["wallet"].(map[string]any)
	if w["platform_credits"].(float64) != 500 || w["balance"].(float64) != 0 {
		t.Fatalf("wallet = %v", w)
	}

	code, body = s.do(t, http.MethodGet, "/api/v1/distributions?limit=5", userTok, nil)
	if code != http.StatusOK || len(body["distributions"].([]any)) != 1 {
		t.Fatalf("distributions: %d %v", code, body)
	}
	if body["daily_remaining"].(float64) != 500 {
		t.Fatalf("daily_remaining = %v", body["daily_remaining"])
	}
}

func TestConversionFlow(t *testing.T) {
	s := newTestServer(t, 2)
	svcTok := s.token(t, 0, service.RoleService)
	userTok := s.token(t, 5, service.RoleUser)

	if code, _ := s.do(t, http.MethodPost, "/api/v1/events", svcTok, event(5, "signup", nil)); code != http.StatusCreated {
		t.Fatalf("signup: %d", code)
	}
	req := map[string]any{"amount": 100, "destination": testDest}
	code, body := s.do(t, http.MethodPost, "/api/v1/conversions", userTok, req)
	if code != http.StatusForbidden || body["code"] != "conversion_disabled" {
		t.Fatalf("disabled conversion: %d %v", code, body)
	}

	// second qualified participant opens the gate
	if code, _ := s.do(t, http.MethodPost, "/api/v1/events", svcTok, event(6, "signup", nil)); code != http.StatusCreated {
		t.Fatalf("second signup: %d", code)
	}
	_, body = s.do(t, http.MethodGet, "/api/v1/milestone", "", nil)
	if body["enabled"] != true {
		t.Fatalf("milestone = %v", body)
	}

	if code, body := s.do(t, http.MethodPost, "/api/v1/conversions", userTok, map[string]any{"amount": 5, "destination": testDest}); code != http.StatusBadRequest || body["code"] != "below_minimum" {
		t.Fatalf("below minimum: %d %v", code, body)
	}
	if code, body := s.do(t, http.MethodPost, "/api/v1/conversions", userTok, map[string]any{"amount": 100, "destination": "nope"}); code != http.StatusBadRequest || body["code"] != "invalid_destination" {
		t.Fatalf("bad destination: %d %v", code, body)
	}
	if code, body := s.do(t, http.MethodPost, "/api/v1/conversions", userTok, map[string]any{"amount": 900, "destination": testDest}); code != http.StatusUnprocessableEntity || body["code"] != "insufficient_credit" {
		t.Fatalf("insufficient: %d %v", code, body)
	}

	code, body = s.do(t, http.MethodPost, "/api/v1/conversions", userTok, req)
	if code != http.StatusOK {
		t.Fatalf("conversion: %d %v", code, body)
	}
	conv := body["conversion"].(map[string]any)
	if conv["status"] != string(domain.ConversionStatusCompleted) || conv["fee"] != "1" || conv["net"] != "99" {
		t.Fatalf("conversion = %v", conv)
	}

	code, body = s.do(t, http.MethodGet, "/api/v1/conversions/"+conv["id"].(string), userTok, nil)
	if code != http.StatusOK {
		t.Fatalf("get conversion: %d", code)
	}
	other := s.token(t, 6, service.RoleUser)
	if code, _ := s.do(t, http.MethodGet, "/api/v1/conversions/"+conv["id"].(string), other, nil); code != http.StatusNotFound {
		t.Fatalf("foreign conversion visible: %d", code)
	}

	_, body = s.do(t, http.MethodGet, "/api/v1/conversions/status", userTok, nil)
	if body["enabled"] != true || body["convertible"].(float64) != 400 || body["daily_remaining"].(float64) != 9900 {
		t.Fatalf("status = %v", body)
	}

	_, body = s.do(t, http.MethodGet, "/api/v1/conversions/history?page=1&per_page=10", userTok, nil)
	if body["total"].(float64) != 1 || len(body["items"].([]any)) != 1 {
		t.Fatalf("history = %v", body)
	}

	_, body = s.do(t, http.MethodGet, "/api/v1/conversions/quote?amount=200", "", nil)
	if body["fee"] != "2" || body["payout"] != "198" {
		t.Fatalf("quote = %v", body)
	}
}

func TestWalletConnectAndTransfer(t *testing.T) {
	s := newTestServer(t, 1000)
	svcTok := s.token(t, 0, service.RoleService)
	userTok := s.token(t, 5, service.RoleUser)

	connect := map[string]any{"account": map[string]any{"address": "not-an-address"}}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/wallet/connect", userTok, connect); code != http.StatusBadRequest {
		t.Fatalf("bad address: %d", code)
	}
	connect = map[string]any{"account": map[string]any{"address": testDest}}
	code, body := s.do(t, http.MethodPost, "/api/v1/wallet/connect", userTok, connect)
	if code != http.StatusOK || body["wallet"].(map[string]any)["address"] != testDest {
		t.Fatalf("connect: %d %v", code, body)
	}

	transfer := map[string]any{"to_user_id": 9, "amount": 50}
	if code, body := s.do(t, http.MethodPost, "/api/v1/wallet/transfer", userTok, transfer); code != http.StatusUnprocessableEntity || body["code"] != "insufficient_balance" {
		t.Fatalf("overdraw: %d %v", code, body)
	}

	if code, _ := s.do(t, http.MethodPost, "/api/v1/events", svcTok, event(5, "artwork_upload", map[string]any{"event_id": "a1"})); code != http.StatusCreated {
		t.Fatalf("upload: %d", code)
	}
	transfer["transfer_id"] = "t-1"
	code, body = s.do(t, http.MethodPost, "/api/v1/wallet/transfer", userTok, transfer)
	if code != http.StatusOK || body["balance"].(map[string]any)["balance"].(float64) != 50 {
		t.Fatalf("transfer: %d %v", code, body)
	}
	if code, body := s.do(t, http.MethodPost, "/api/v1/wallet/transfer", userTok, transfer); code != http.StatusConflict {
		t.Fatalf("replayed transfer: %d %v", code, body)
	}

	_, body = s.do(t, http.MethodGet, "/api/v1/wallet/entries", userTok, nil)
	if len(body["entries"].([]any)) != 2 {
		t.Fatalf("entries = %v", body)
	}
}

func TestReportsRequireAdmin(t *testing.T) {
	s := newTestServer(t, 1000)
	svcTok := s.token(t, 0, service.RoleService)
	adminTok := s.token(t, 1, service.RoleAdmin)
	userTok := s.token(t, 5, service.RoleUser)

	if code, _ := s.do(t, http.MethodPost, "/api/v1/events", svcTok, event(5, "signup", nil)); code != http.StatusCreated {
		t.Fatalf("signup: %d", code)
	}

	today := time.Now().UTC().Format("2006-01-02")
	gen := map[string]any{"type": "daily", "period": today}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/reports", userTok, gen); code != http.StatusForbidden {
		t.Fatalf("user generated report: %d", code)
	}

	code, body := s.do(t, http.MethodPost, "/api/v1/reports", adminTok, gen)
	if code != http.StatusCreated {
		t.Fatalf("generate: %d %v", code, body)
	}
	totals := body["report"].(map[string]any)["totals"].(map[string]any)
	if totals["issued_amount"].(float64) != 500 {
		t.Fatalf("totals = %v", totals)
	}

	if code, _ := s.do(t, http.MethodGet, "/api/v1/reports/daily/"+today, adminTok, nil); code != http.StatusOK {
		t.Fatalf("get report: %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/reports/daily/2001-01-01", adminTok, nil); code != http.StatusNotFound {
		t.Fatalf("missing report: %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/reports/daily/yesterday", adminTok, nil); code != http.StatusBadRequest {
		t.Fatalf("bad period: %d", code)
	}
	_, body = s.do(t, http.MethodGet, "/api/v1/reports/daily", adminTok, nil)
	if len(body["reports"].([]any)) != 1 {
		t.Fatalf("reports = %v", body)
	}
}

func TestAuthIssuesUserToken(t *testing.T) {
	s := newTestServer(t, 1000)

	fields := map[string]string{
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
		"user":      `{"id":77,"username":"artist"}`,
	}
	var parts []string
	vals := url.Values{}
	for k, v := range fields {
		parts = append(parts, k+"="+v)
		vals.Add(k, v)
	}
	sort.Strings(parts)
	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(strings.Join(parts, "\n")))
	vals.Add("hash", hex.EncodeToString(mac.Sum(nil)))

	code, body := s.do(t, http.MethodPost, "/api/v1/auth", "", map[string]any{"init_data": vals.Encode()})
	if code != http.StatusOK {
		t.Fatalf("auth: %d %v", code, body)
	}
	claims, err := s.tokens.Parse(body["token"].(string))
	if err != nil || claims.UserID != 77 || claims.Role != service.RoleUser {
		t.Fatalf("claims = %+v, %v", claims, err)
	}

	if code, _ := s.do(t, http.MethodPost, "/api/v1/auth", "", map[string]any{"init_data": "user=%7B%7D&hash=00"}); code != http.StatusUnauthorized {
		t.Fatalf("forged init data: %d", code)
	}
}
