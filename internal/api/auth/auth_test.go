package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"userbackend/internal/account"
	"userbackend/internal/api/middleware"
	"userbackend/internal/api/response"
	"userbackend/internal/config"
	"userbackend/internal/model"
	"userbackend/internal/pkg/identitycache"
	"userbackend/internal/pkg/password"
	"userbackend/internal/pkg/resettoken"
	"userbackend/internal/pkg/token"
	"userbackend/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *captureMailer) SendPasswordReset(_ context.Context, _ string, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

type harness struct {
	router http.Handler
	users  *store.UserStore
	mailer *captureMailer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "auth.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := store.NewUserStore(db)
	issuer := token.NewIssuer("handler-secret", time.Hour)
	mailer := &captureMailer{}
	svc := account.NewService(account.Deps{
		Store:         users,
		Hasher:        password.NewHasher(bcrypt.MinCost),
		Tokens:        issuer,
		Resets:        resettoken.NewManager(users, time.Hour),
		Mailer:        mailer,
		Cache:         identitycache.NewCache(nil, time.Minute),
		ResetLinkBase: "http://localhost:3000/api/v1/user/reset-password",
		Logger:        logger,
	})

	r := gin.New()
	RegisterRoutes(r.Group("/api/v1/user"), NewHandler(svc, logger), middleware.NewGate(issuer, svc, logger))
	return &harness{router: r, users: users, mailer: mailer}
}

func (h *harness) do(t *testing.T, method, path string, body any, bearer string) (int, response.Body) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, "/api/v1/user"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var out response.Body
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w.Code, out
}

func (h *harness) registerToken(t *testing.T, name, email, pw string) string {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/register", gin.H{"name": name, "email": email, "password": pw}, "")
	if status != http.StatusCreated || body.Token == "" {
		t.Fatalf("register %s: status=%d body=%+v", email, status, body)
	}
	return body.Token
}

func (h *harness) adminToken(t *testing.T) string {
	t.Helper()
	h.registerToken(t, "Root", "root@x.com", "rootpass")
	u, err := h.users.FindByEmail(context.Background(), "root@x.com")
	if err != nil {
		t.Fatalf("find admin: %v", err)
	}
	if err := h.users.SetRole(context.Background(), u.ID, model.RoleAdmin); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	_, body := h.do(t, http.MethodPost, "/login", gin.H{"email": "root@x.com", "password": "rootpass"}, "")
	return body.Token
}

func (h *harness) userID(t *testing.T, email string) string {
	t.Helper()
	u, err := h.users.FindByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("find %s: %v", email, err)
	}
	return u.ID
}

func TestRegisterAndLogin(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/register", gin.H{"name": "A", "email": "a@x.com", "password": "secret1"}, "")
	if status != http.StatusCreated || !body.Success || body.Token == "" {
		t.Fatalf("register: status=%d body=%+v", status, body)
	}
	if body.Message != "Welcome, A" {
		t.Fatalf("unexpected message %q", body.Message)
	}

	status, body = h.do(t, http.MethodPost, "/login", gin.H{"email": "a@x.com", "password": "secret1"}, "")
	if status != http.StatusOK || !body.Success || body.Token == "" {
		t.Fatalf("login: status=%d body=%+v", status, body)
	}

	status, body = h.do(t, http.MethodPost, "/login", gin.H{"email": "a@x.com", "password": "wrongpw"}, "")
	if status != http.StatusBadRequest || body.Success {
		t.Fatalf("wrong password: status=%d body=%+v", status, body)
	}

	status, body = h.do(t, http.MethodPost, "/register", gin.H{"name": "B", "email": "a@x.com", "password": "secret2"}, "")
	if status != http.StatusLengthRequired || body.Message != account.MsgEmailTaken {
		t.Fatalf("duplicate register: expected 411, got %d %+v", status, body)
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/register", gin.H{"name": "A", "email": "bad", "password": "123"}, "")
	if status != http.StatusLengthRequired || body.Success {
		t.Fatalf("expected 411, got %d %+v", status, body)
	}
	if len(body.Errors) == 0 {
		t.Fatalf("expected field errors")
	}

	status, body = h.do(t, http.MethodPost, "/register", "{not json", "")
	if status != http.StatusLengthRequired {
		t.Fatalf("expected 411 for malformed body, got %d", status)
	}
	assertFieldError(t, body, "body", "json")

	status, body = h.do(t, http.MethodPost, "/register", nil, "")
	if status != http.StatusLengthRequired {
		t.Fatalf("expected 411 for empty body, got %d", status)
	}
	assertFieldError(t, body, "body", "required")
}

func TestUpdateStatus_WrongJSONTypeNamesField(t *testing.T) {
	h := newHarness(t)
	h.registerToken(t, "B", "b@x.com", "secret1")
	adminTok := h.adminToken(t)
	memberID := h.userID(t, "b@x.com")

	status, body := h.do(t, http.MethodPut, "/status", `{"userId":"`+memberID+`","isActive":"false"}`, adminTok)
	if status != http.StatusBadRequest || body.Success {
		t.Fatalf("expected 400, got %d %+v", status, body)
	}
	assertFieldError(t, body, "isActive", "type")

	u, err := h.users.FindByID(context.Background(), memberID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !u.IsActive {
		t.Fatalf("user should stay active after a rejected request")
	}
}

func TestLogin_PasswordOverByteLimitRejected(t *testing.T) {
	h := newHarness(t)
	// 72 字节但只有 71 个字符
	pw := strings.Repeat("a", 70) + "é"
	h.registerToken(t, "A", "a@x.com", pw)

	status, body := h.do(t, http.MethodPost, "/login", gin.H{"email": "a@x.com", "password": pw + "ü"}, "")
	if status != http.StatusLengthRequired || body.Token != "" {
		t.Fatalf("expected 411 without token, got %d %+v", status, body)
	}
	assertFieldError(t, body, "password", "maxbytes")

	status, body = h.do(t, http.MethodPost, "/login", gin.H{"email": "a@x.com", "password": pw}, "")
	if status != http.StatusOK || body.Token == "" {
		t.Fatalf("expected login with exact password, got %d %+v", status, body)
	}
}

func assertFieldError(t *testing.T, body response.Body, field, constraint string) {
	t.Helper()
	for _, fe := range body.Errors {
		if fe.Field == field && fe.Constraint == constraint {
			return
		}
	}
	t.Fatalf("expected field error %s/%s, got %+v", field, constraint, body.Errors)
}

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)
	tok := h.registerToken(t, "A", "a@x.com", "secret1")

	status, _ := h.do(t, http.MethodPut, "/update", gin.H{"profile": "https://example.com/a"}, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}

	status, body := h.do(t, http.MethodPut, "/update", gin.H{"profile": "https://example.com/a"}, tok)
	if status != http.StatusOK || body.Message != account.MsgProfileUpdated {
		t.Fatalf("update: status=%d body=%+v", status, body)
	}
	u, err := h.users.FindByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u.Name != "A" || u.Profile != "https://example.com/a" {
		t.Fatalf("unexpected user after update: %+v", u)
	}

	status, _ = h.do(t, http.MethodPut, "/update", gin.H{"profile": "not a url"}, tok)
	if status != http.StatusLengthRequired {
		t.Fatalf("expected 411, got %d", status)
	}
}

func TestUpdateRole(t *testing.T) {
	h := newHarness(t)
	memberTok := h.registerToken(t, "B", "b@x.com", "secret1")
	adminTok := h.adminToken(t)
	memberID := h.userID(t, "b@x.com")

	status, _ := h.do(t, http.MethodPut, "/role", gin.H{"userId": memberID, "role": "admin"}, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	status, _ = h.do(t, http.MethodPut, "/role", gin.H{"userId": memberID, "role": "admin"}, memberTok)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %d", status)
	}
	status, _ = h.do(t, http.MethodPut, "/role", gin.H{"userId": memberID, "role": "owner"}, adminTok)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", status)
	}
	status, _ = h.do(t, http.MethodPut, "/role", gin.H{"userId": "6f1c7a44-2a7b-4c53-9d0e-0a1b2c3d4e5f", "role": "admin"}, adminTok)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", status)
	}

	status, body := h.do(t, http.MethodPut, "/role", gin.H{"userId": memberID, "role": "admin"}, adminTok)
	if status != http.StatusOK || body.Message != account.MsgRoleUpdated {
		t.Fatalf("update role: status=%d body=%+v", status, body)
	}

	// 新角色在下一次请求中立即生效
	status, _ = h.do(t, http.MethodPut, "/status", gin.H{"userId": memberID, "isActive": true}, memberTok)
	if status != http.StatusOK {
		t.Fatalf("promoted member should pass admin gate, got %d", status)
	}
}

func TestUpdateStatus_DeactivateBlocksAccess(t *testing.T) {
	h := newHarness(t)
	memberTok := h.registerToken(t, "B", "b@x.com", "secret1")
	adminTok := h.adminToken(t)
	memberID := h.userID(t, "b@x.com")

	status, body := h.do(t, http.MethodPut, "/status", gin.H{"userId": memberID, "isActive": false}, adminTok)
	if status != http.StatusOK || body.Message != "User deactivated successfully" {
		t.Fatalf("deactivate: status=%d body=%+v", status, body)
	}

	status, _ = h.do(t, http.MethodPut, "/update", gin.H{"name": "Bee"}, memberTok)
	if status != http.StatusUnauthorized {
		t.Fatalf("deactivated token should be rejected, got %d", status)
	}
	status, _ = h.do(t, http.MethodPost, "/login", gin.H{"email": "b@x.com", "password": "secret1"}, "")
	if status != http.StatusForbidden {
		t.Fatalf("deactivated login should be 403, got %d", status)
	}

	status, _ = h.do(t, http.MethodPut, "/status", gin.H{"userId": memberID}, adminTok)
	if status != http.StatusBadRequest {
		t.Fatalf("missing isActive should be 400, got %d", status)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	h := newHarness(t)
	h.registerToken(t, "A", "a@x.com", "oldpass")

	status, _ := h.do(t, http.MethodPost, "/forgotPassword", gin.H{"email": "nobody@x.com"}, "")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown email, got %d", status)
	}

	status, _ = h.do(t, http.MethodPost, "/resetPassword", gin.H{"token": "fabricated", "newPassword": "newpass"}, "")
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for fabricated token, got %d", status)
	}

	status, body := h.do(t, http.MethodPost, "/forgotPassword", gin.H{"email": "a@x.com"}, "")
	if status != http.StatusOK || body.Message != account.MsgResetLinkSent {
		t.Fatalf("forgot: status=%d body=%+v", status, body)
	}
	if len(h.mailer.links) != 1 {
		t.Fatalf("expected one reset mail, got %d", len(h.mailer.links))
	}
	link, err := url.Parse(h.mailer.links[0])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	tok := link.Query().Get("token")

	status, body = h.do(t, http.MethodPost, "/resetPassword", gin.H{"token": tok, "newPassword": "newpass"}, "")
	if status != http.StatusOK || body.Message != account.MsgPasswordReset {
		t.Fatalf("reset: status=%d body=%+v", status, body)
	}
	status, _ = h.do(t, http.MethodPost, "/resetPassword", gin.H{"token": tok, "newPassword": "again1"}, "")
	if status != http.StatusBadRequest {
		t.Fatalf("reused token should fail, got %d", status)
	}

	status, _ = h.do(t, http.MethodPost, "/login", gin.H{"email": "a@x.com", "password": "newpass"}, "")
	if status != http.StatusOK {
		t.Fatalf("login with new password: %d", status)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[account.Kind]int{
		account.KindValidation:            http.StatusTeapot,
		account.KindInvalidCredentials:    http.StatusBadRequest,
		account.KindTokenInvalidOrExpired: http.StatusBadRequest,
		account.KindNotFound:              http.StatusNotFound,
		account.KindUnauthorized:          http.StatusUnauthorized,
		account.KindForbidden:             http.StatusForbidden,
		account.KindConflict:              http.StatusTeapot,
		account.KindInternal:              http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind, http.StatusTeapot); got != want {
			t.Errorf("%s: expected %d, got %d", kind, want, got)
		}
	}
}
