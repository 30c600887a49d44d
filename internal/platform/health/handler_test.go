package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusReportsBot(t *testing.T) {
	h := New("test", func() string { return "online" })
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.startTime = start
	h.now = func() time.Time { return start.Add(90 * time.Second) }

	rec := serve(h, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "online", body.BotStatus)
	assert.Equal(t, "2026-03-01T12:01:30Z", body.Timestamp)
	assert.Equal(t, int64(90), body.UptimeSeconds)
	assert.Equal(t, "test", body.Environment)
}

func TestStatusWithoutBotIsOffline(t *testing.T) {
	rec := serve(New("test", nil), "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"botStatus":"offline"`)
}

func TestLiveness(t *testing.T) {
	rec := serve(New("test", nil), "/health/live")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func TestReadiness(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		h := New("test", nil)
		h.RegisterCheck("redis", func(context.Context) error { return nil })

		rec := serve(h, "/health/ready")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready","checks":{"redis":"up"}}`, rec.Body.String())
	})

	t.Run("failing check returns 503", func(t *testing.T) {
		h := New("test", nil)
		h.RegisterCheck("redis", func(context.Context) error { return nil })
		h.RegisterCheck("discord", func(context.Context) error { return errors.New("disconnected") })

		rec := serve(h, "/health/ready")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body ReadinessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_ready", body.Status)
		assert.Equal(t, "down: disconnected", body.Checks["discord"])
		assert.Equal(t, "up", body.Checks["redis"])
	})

	t.Run("checks get a deadline", func(t *testing.T) {
		h := New("test", nil)
		h.checkTimeout = 10 * time.Millisecond
		h.RegisterCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		rec := serve(h, "/health/ready")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "deadline exceeded")
	})
}
