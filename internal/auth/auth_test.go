package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/auth"
	"github.com/stocksim/trading-engine/internal/store"
)

func newAuthService(t *testing.T) (*auth.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := auth.NewService(ms, []byte("test-secret"), decimal.RequireFromString("10000.00"))
	return svc, ms
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", "/", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

type sessionBody struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	User    struct {
		ID       string          `json:"id"`
		Username string          `json:"username"`
		Balance  decimal.Decimal `json:"balance"`
	} `json:"user"`
}

func register(t *testing.T, svc *auth.Service, username, password string) sessionBody {
	t.Helper()
	w := postJSON(t, svc.Register, map[string]string{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("register failed: %d %s", w.Code, w.Body.String())
	}
	var resp sessionBody
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func TestRegister_CreatesFundedAccount(t *testing.T) {
	svc, ms := newAuthService(t)

	resp := register(t, svc, "alice", "hunter22")

	if resp.Token == "" {
		t.Error("expected a session token")
	}
	if !resp.User.Balance.Equal(decimal.RequireFromString("10000.00")) {
		t.Errorf("expected starting balance 10000.00, got %s", resp.User.Balance)
	}

	acct, err := ms.GetAccountByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("account not persisted: %v", err)
	}
	if acct.PasswordHash == "hunter22" || acct.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newAuthService(t)

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"missing username", "", "hunter22"},
		{"missing password", "alice", ""},
		{"short password", "alice", "12345"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, svc.Register, map[string]string{
				"username": tc.username, "password": tc.password,
			})
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _ := newAuthService(t)
	register(t, svc, "alice", "hunter22")

	w := postJSON(t, svc.Register, map[string]string{"username": "alice", "password": "hunter23"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate username, got %d", w.Code)
	}
}

func TestLogin_RoundTrip(t *testing.T) {
	svc, _ := newAuthService(t)
	register(t, svc, "alice", "hunter22")

	w := postJSON(t, svc.Login, map[string]string{"username": "alice", "password": "hunter22"})
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	var resp sessionBody
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Token == "" {
		t.Error("expected a session token")
	}
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	svc, _ := newAuthService(t)
	register(t, svc, "alice", "hunter22")

	for name, creds := range map[string]map[string]string{
		"wrong password": {"username": "alice", "password": "wrong-pass"},
		"unknown user":   {"username": "bob", "password": "hunter22"},
	} {
		t.Run(name, func(t *testing.T) {
			w := postJSON(t, svc.Login, creds)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestMiddleware_VerifiesToken(t *testing.T) {
	svc, _ := newAuthService(t)
	resp := register(t, svc, "alice", "hunter22")

	var gotAccount string
	protected := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = auth.AccountID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotAccount != resp.User.ID {
		t.Errorf("expected account %q on context, got %q", resp.User.ID, gotAccount)
	}
}

func TestMiddleware_RejectsMissingOrBogusToken(t *testing.T) {
	svc, _ := newAuthService(t)

	protected := svc.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run without a valid token")
	}))

	for name, header := range map[string]string{
		"no header":    "",
		"not bearer":   "Basic abc123",
		"bogus token":  "Bearer not-a-jwt",
		"empty bearer": "Bearer ",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			protected.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", w.Code)
			}
		})
	}
}
