// Package auth issues and verifies account credentials: bcrypt password
// hashing, HS256 JWT session tokens, and the middleware that puts a verified
// account ID on the request context. The engine never sees credentials.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

const (
	minPasswordLen = 6
	tokenTTL       = 24 * time.Hour
	bcryptCost     = 10
)

type ctxKey struct{}

// Service handles registration, login, and token verification.
type Service struct {
	store          store.Store
	secret         []byte
	initialBalance decimal.Decimal
}

// NewService creates an auth service. New accounts start with
// initialBalance in cash.
func NewService(st store.Store, secret []byte, initialBalance decimal.Decimal) *Service {
	return &Service{
		store:          st,
		secret:         secret,
		initialBalance: initialBalance,
	}
}

// credentials is the JSON body for both register and login.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// sessionResponse is returned from successful register/login calls.
type sessionResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    sessionUser `json:"user"`
}

type sessionUser struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
}

// Register handles POST /api/v1/auth/register
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, "username and password are required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		writeError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	acct := &model.Account{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: string(hash),
		Balance:      s.initialBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateAccount(r.Context(), acct); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, "username already exists", http.StatusBadRequest)
			return
		}
		writeError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	token, err := s.signToken(acct)
	if err != nil {
		writeError(w, "registration failed", http.StatusInternalServerError)
		return
	}

	slog.Info("account registered", "account", acct.ID, "username", acct.Username)
	writeJSON(w, http.StatusOK, sessionResponse{
		Message: "User registered successfully",
		Token:   token,
		User:    sessionUser{ID: acct.ID, Username: acct.Username, Balance: acct.Balance},
	})
}

// Login handles POST /api/v1/auth/login
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, "username and password are required", http.StatusBadRequest)
		return
	}

	acct, err := s.store.GetAccountByUsername(r.Context(), req.Username)
	if err != nil {
		// Same message for unknown user and bad password.
		writeError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	token, err := s.signToken(acct)
	if err != nil {
		writeError(w, "login failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Message: "Login successful",
		Token:   token,
		User:    sessionUser{ID: acct.ID, Username: acct.Username, Balance: acct.Balance},
	})
}

// Middleware verifies the Bearer token and stores the account ID on the
// request context. Requests without a valid token get 401.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, "authentication required", http.StatusUnauthorized)
			return
		}

		accountID, err := s.verify(raw)
		if err != nil {
			writeError(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), accountID)))
	})
}

func (s *Service) signToken(acct *model.Account) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      acct.ID,
		"username": acct.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(tokenTTL).Unix(),
	})
	return token.SignedString(s.secret)
}

func (s *Service) verify(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	return token.Claims.GetSubject()
}

// WithAccount returns a context carrying a verified account ID.
func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, accountID)
}

// AccountID returns the verified account ID placed on the context by
// Middleware, or "" if the request was not authenticated.
func AccountID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
