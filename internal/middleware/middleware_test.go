package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/repository"
)

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestCorrelationIDPropagates(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(CorrelationIDFromContext(c.UserContext()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "req-123", resp.Header.Get("X-Correlation-ID"))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))
}

func TestCorrelationIDRejectsUnsafeValues(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(GetCorrelationID(c))
	})

	for _, unsafe := range []string{"bad id with spaces", "inject\"quote", strings.Repeat("a", 129)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Correlation-ID", unsafe)
		resp, err := app.Test(req)
		require.NoError(t, err)

		minted := resp.Header.Get("X-Correlation-ID")
		require.NotEqual(t, unsafe, minted)
		_, err = uuid.Parse(minted)
		require.NoError(t, err)
	}

	require.Equal(t, "trace-01:abc.def_x", acceptCorrelationID(" trace-01:abc.def_x "))
}

func TestRateLimitKeysByIPForAnonymousCallers(t *testing.T) {
	app := fiber.New()
	app.Post("/login", RateLimit("login", 2, time.Minute, nil), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/login", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/login", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "RATE_LIMITED", decodeBody(t, resp)["code"])
}

func TestRateLimitSharedStoreSpansInstances(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := repository.NewRateLimitStore(client)

	newInstance := func() *fiber.App {
		app := fiber.New()
		app.Post("/login", RateLimit("login", 1, time.Minute, store), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})
		return app
	}

	resp, err := newInstance().Test(httptest.NewRequest(http.MethodPost, "/login", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = newInstance().Test(httptest.NewRequest(http.MethodPost, "/login", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestLatencyBucket(t *testing.T) {
	require.Equal(t, "<=25ms", latencyBucket(10*time.Millisecond))
	require.Equal(t, "<=250ms", latencyBucket(200*time.Millisecond))
	require.Equal(t, ">500ms", latencyBucket(time.Second))
}
