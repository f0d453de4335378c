package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vashsender/internal/models"
	"vashsender/internal/utils"
)

const secret = "middleware-test-secret"

func token(t *testing.T, role models.UserRole) string {
	t.Helper()
	tok, _, err := utils.GenerateAccessToken(secret, time.Hour, "user-1", "team-1", "owner@acme.io", string(role))
	require.NoError(t, err)
	return tok
}

func newEcho(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	g := e.Group("/api", mw...)
	handler := func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"user": GetUserID(c),
			"team": GetTeamID(c),
			"role": GetUserRole(c),
		})
	}
	g.GET("/things", handler)
	g.POST("/things", handler)
	return e
}

func do(e *echo.Echo, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuth_SetsClaimsOnContext(t *testing.T) {
	e := newEcho(NewAuthMiddleware(secret).Middleware())

	rec := do(e, http.MethodGet, "/api/things", token(t, models.UserRoleAdmin))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"user-1","team":"team-1","role":"ADMIN"}`, rec.Body.String())
}

func TestAuth_Rejects(t *testing.T) {
	e := newEcho(NewAuthMiddleware(secret).Middleware())

	cases := map[string]string{
		"missing header": "",
		"bad token":      "not-a-jwt",
	}
	for name, bearer := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(e, http.MethodGet, "/api/things", bearer)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		tok, _, err := utils.GenerateAccessToken("other", time.Hour, "u", "t", "e@x.io", "OWNER")
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/api/things", tok).Code)
	})

	t.Run("basic scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
		req.Header.Set(echo.HeaderAuthorization, "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRoleAllows(t *testing.T) {
	assert.True(t, RoleAllows("OWNER", models.UserRoleAdmin))
	assert.True(t, RoleAllows("ADMIN", models.UserRoleAdmin))
	assert.False(t, RoleAllows("MEMBER", models.UserRoleAdmin))
	assert.False(t, RoleAllows("", models.UserRoleMember))
}

func TestRequireRole(t *testing.T) {
	e := newEcho(NewAuthMiddleware(secret).Middleware(), RequireRole(models.UserRoleOwner))

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/api/things", token(t, models.UserRoleAdmin)).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/things", token(t, models.UserRoleOwner)).Code)
}

func TestRequireWriteRole_MembersReadOnly(t *testing.T) {
	e := newEcho(NewAuthMiddleware(secret).Middleware(), RequireWriteRole(models.UserRoleAdmin))
	member := token(t, models.UserRoleMember)

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/things", member).Code)
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodPost, "/api/things", member).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/api/things", token(t, models.UserRoleAdmin)).Code)
}

func TestRateLimiter_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	e := newEcho(RateLimiter(RateLimitConfig{
		RedisClient:    client,
		DefaultLimit:   2,
		DefaultWindow:  time.Hour,
		EndpointLimits: map[string]EndpointLimit{},
	}))

	first := do(e, http.MethodGet, "/api/things", "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	require.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/things", "").Code)

	blocked := do(e, http.MethodGet, "/api/things", "")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.Contains(t, blocked.Body.String(), "rate_limit_exceeded")

	// Other endpoints count separately
	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/api/things", "").Code)
}

func TestRateLimiter_EndpointOverride(t *testing.T) {
	e := newEcho(RateLimiter(RateLimitConfig{
		DefaultLimit: 100,
		EndpointLimits: map[string]EndpointLimit{
			"POST:/api/things": {Limit: 1, Window: time.Hour},
		},
	}))

	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/api/things", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodPost, "/api/things", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/things", "").Code)
}

func TestRateLimiter_FallsBackToMemoryWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	e := newEcho(RateLimiter(RateLimitConfig{
		RedisClient:    client,
		DefaultLimit:   1,
		DefaultWindow:  time.Hour,
		EndpointLimits: map[string]EndpointLimit{},
	}))

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/things", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodGet, "/api/things", "").Code)
}
