package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"boutika/backend/internal/alert"
	"boutika/backend/internal/cache"
	"boutika/backend/internal/domain"
	"boutika/backend/internal/service"
	"boutika/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	t.Setenv("SEED_OWNER_PASSWORD", "owner123")
	t.Setenv("SEED_EMPLOYEE_PASSWORD", "employee123")
	repo := memory.NewSeeded()
	engine := alert.NewEngine(repo, nil, 24*time.Hour)
	svc := service.New(repo, engine, cache.NoopProductCache{}, cache.NoopSaleCache{}, time.Minute, zap.NewNop())
	t.Cleanup(svc.Close)

	auth := NewAuthManager("test-secret-test-secret-test-secret!", time.Hour)
	api := New(svc, auth, "http://127.0.0.1:3000", zap.NewNop())
	return api, api.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username string, password string) domain.LoginResponse {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Username: username,
		Password: password,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/auth/csrf-token", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf-token status = %d", rec.Code)
	}
	var resp struct {
		Token string `json:"csrf_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return resp.Token
}

func TestLoginAndAuthorizedRequest(t *testing.T) {
	_, handler := newTestAPI(t)

	resp := login(t, handler, "awa", "owner123")
	if resp.Role != domain.RoleOwner {
		t.Fatalf("role = %q, want owner", resp.Role)
	}
	if resp.CompanyID != "demo-company" {
		t.Fatalf("company = %q, want demo-company", resp.CompanyID)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", nil, map[string]string{
		"Authorization": "Bearer " + resp.AccessToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("products status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(body.Products) == 0 {
		t.Fatal("expected seeded products")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Username: "awa",
		Password: "wrong-password",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	_, handler := newTestAPI(t)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
			Username: "awa",
			Password: "wrong-password",
		}, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Username: "awa",
		Password: "owner123",
	}, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after limit", rec.Code)
	}
}

func TestRequestWithoutTokenRejected(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequestWithGarbageTokenRejected(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", nil, map[string]string{
		"Authorization": "Bearer not.a.token",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMutationRequiresCSRFToken(t *testing.T) {
	_, handler := newTestAPI(t)
	resp := login(t, handler, "awa", "owner123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/checkout", domain.CheckoutRequest{
		PaymentMethod: "cash",
		CartLines:     []domain.CartLine{{ProductID: "prod-savon-01", Qty: 1}},
	}, map[string]string{
		"Authorization": "Bearer " + resp.AccessToken,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without CSRF token", rec.Code)
	}
}

func TestCheckoutEndToEnd(t *testing.T) {
	_, handler := newTestAPI(t)
	resp := login(t, handler, "fatou", "employee123")
	csrf := csrfToken(t, handler)

	headers := map[string]string{
		"Authorization": "Bearer " + resp.AccessToken,
		"X-CSRF-Token":  csrf,
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/checkout", domain.CheckoutRequest{
		PaymentMethod: "cash",
		CartLines:     []domain.CartLine{{ProductID: "prod-savon-01", Qty: 2}},
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body domain.CheckoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	if body.Sale.TotalCents != 3000 {
		t.Fatalf("total = %d, want 3000", body.Sale.TotalCents)
	}

	// Receipt for the created sale.
	receiptRec := doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+body.Sale.ID+"/receipt", nil, headers)
	if receiptRec.Code != http.StatusOK {
		t.Fatalf("receipt status = %d", receiptRec.Code)
	}
	var receipt domain.ReceiptResponse
	if err := json.Unmarshal(receiptRec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.SaleID != body.Sale.ID || receipt.EscposBase64 == "" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestInsufficientStockMapsToConflict(t *testing.T) {
	_, handler := newTestAPI(t)
	resp := login(t, handler, "fatou", "employee123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/checkout", domain.CheckoutRequest{
		PaymentMethod: "cash",
		CartLines:     []domain.CartLine{{ProductID: "prod-savon-01", Qty: 1000}},
	}, map[string]string{
		"Authorization": "Bearer " + resp.AccessToken,
		"X-CSRF-Token":  csrfToken(t, handler),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestEmployeeCannotCreateProducts(t *testing.T) {
	_, handler := newTestAPI(t)
	resp := login(t, handler, "fatou", "employee123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", domain.ProductCreateRequest{
		Name:       "New Soap",
		Category:   "hygiene",
		PriceCents: 1200,
	}, map[string]string{
		"Authorization": "Bearer " + resp.AccessToken,
		"X-CSRF-Token":  csrfToken(t, handler),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthManager("test-secret-test-secret-test-secret!", time.Hour)

	actor := domain.Actor{Username: "awa", Role: domain.RoleOwner, CompanyID: "demo-company"}
	resp, err := auth.IssueToken(actor)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	parsed, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if parsed != actor {
		t.Fatalf("parsed = %+v, want %+v", parsed, actor)
	}
}

func TestTokenRejectedWithWrongSecret(t *testing.T) {
	issuer := NewAuthManager("test-secret-test-secret-test-secret!", time.Hour)
	verifier := NewAuthManager("another-secret-another-secret-12345!", time.Hour)

	resp, err := issuer.IssueToken(domain.Actor{Username: "awa", Role: domain.RoleOwner, CompanyID: "demo-company"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("token signed with a different secret must be rejected")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	auth := NewAuthManager("test-secret-test-secret-test-secret!", time.Hour)
	auth.tokenTTL = -time.Minute

	resp, err := auth.IssueToken(domain.Actor{Username: "awa", Role: domain.RoleOwner, CompanyID: "demo-company"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestAttemptLimiterEvictsExpiredKeys(t *testing.T) {
	limiter := newAttemptLimiter(3, 20*time.Millisecond)
	for _, key := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if !limiter.Allow(key) {
			t.Fatalf("first attempt from %s should be allowed", key)
		}
	}

	time.Sleep(30 * time.Millisecond)

	// The next call sweeps keys whose history aged out of the window.
	if !limiter.Allow("10.0.0.4") {
		t.Fatal("fresh key should be allowed")
	}

	limiter.mu.Lock()
	remaining := len(limiter.entries)
	limiter.mu.Unlock()
	if remaining != 1 {
		t.Fatalf("entries = %d, want only the fresh key after eviction", remaining)
	}
}
