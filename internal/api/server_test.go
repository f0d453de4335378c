package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vashsender/internal/billing"
	"vashsender/internal/config"
	"vashsender/internal/db/dbtest"
	"vashsender/internal/models"
	"vashsender/internal/services"
	"vashsender/internal/utils"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gdb := dbtest.Open(t)
	require.NoError(t, models.SeedPlans(gdb))

	cfg := &config.Config{
		App:    config.AppConfig{Name: "VashSender", Env: "test"},
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}, RateLimit: 1000},
		JWT: config.JWTConfig{
			Secret:          "api-test-secret",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
		},
		Mail: config.MailConfig{HeloName: "localhost"},
	}

	provider := billing.NewProvider(cfg.Billing)
	bill := billing.NewService(gdb, provider)
	signer := utils.NewTrackingSigner("tracking-secret", "https://t.example.com")

	srv := NewServer(cfg, gdb, Deps{
		Auth:      services.NewAuthService(gdb, cfg.JWT),
		Tracking:  services.NewTrackingService(gdb, signer),
		Templates: services.NewTemplateService(gdb),
		Lists:     services.NewContactListService(gdb),
		Contacts:  services.NewContactService(gdb, bill),
		SMTP:      services.NewSMTPConfigService(gdb, bill),
		Billing:   bill,
		Provider:  provider,
	})
	return &testAPI{t: t, handler: srv.Handler()}
}

func (a *testAPI) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(email string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":     email,
		"password":  "correct-horse",
		"firstName": "Ada",
		"teamName":  "Acme",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	var pair services.TokenPair
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &pair))
	require.NotEmpty(a.t, pair.AccessToken)
	return pair.AccessToken
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth_WithoutRedis(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok","redis":"disabled"}`, rec.Body.String())
}

func TestAuth_RegisterLoginMe(t *testing.T) {
	a := newTestAPI(t)
	a.register("ada@acme.io")

	rec := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "ADA@acme.io", "password": "correct-horse", "firstName": "Ada",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "ada@acme.io", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "ada@acme.io", "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decode(t, rec)["accessToken"].(string)
	require.NotEmpty(t, token)

	rec = a.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ada@acme.io")
}

func TestAuth_RegisterValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "not-an-email", "password": "short",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec), "error")
}

func TestAPI_RequiresToken(t *testing.T) {
	a := newTestAPI(t)

	for _, path := range []string{"/api/v1/templates", "/api/v1/campaigns", "/api/v1/domains", "/api/v1/billing/usage"} {
		rec := a.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestTemplates_CRUDAndPreview(t *testing.T) {
	a := newTestAPI(t)
	token := a.register("owner@acme.io")

	rec := a.do(http.MethodPost, "/api/v1/templates", token, map[string]string{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/templates", token, map[string]string{
		"name":    "Welcome",
		"subject": "Hi {{ first_name | there }}",
		"html":    "<p>Hello {{first_name}}</p>",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, _ := decode(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	rec = a.do(http.MethodPost, "/api/v1/templates/"+id+"/preview", token, map[string]interface{}{
		"variables": map[string]string{"first_name": "<Ada>"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decode(t, rec)
	assert.Equal(t, "Hi <Ada>", preview["subject"])
	assert.Equal(t, "<p>Hello &lt;Ada&gt;</p>", preview["html"])

	rec = a.do(http.MethodPost, "/api/v1/templates/"+id+"/preview", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hi there", decode(t, rec)["subject"])

	rec = a.do(http.MethodDelete, "/api/v1/templates/"+id, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/templates/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTemplates_TeamIsolation(t *testing.T) {
	a := newTestAPI(t)
	owner := a.register("one@acme.io")
	stranger := a.register("two@other.io")

	rec := a.do(http.MethodPost, "/api/v1/templates", owner, map[string]string{
		"name": "Private", "subject": "s", "html": "<p>x</p>",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id, _ := decode(t, rec)["id"].(string)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/templates/"+id, stranger, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, "/api/v1/templates/"+id, stranger, nil).Code)
}

func TestBilling_PublicPlansAndUsage(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/v1/billing/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "free")

	token := a.register("billing@acme.io")
	rec = a.do(http.MethodGet, "/api/v1/billing/usage", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTracking_OpenPixelAlwaysServed(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/t/open?token=forged", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get(echo.HeaderContentType))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestTracking_ForgedClickIsRejected(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/t/click?token=forged", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderLocation))
}
