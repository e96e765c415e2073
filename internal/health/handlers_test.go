package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostedpay/internal/health"
)

type stubChecker struct {
	dbErr    error
	redisErr error
}

func (s stubChecker) PingDB(context.Context, time.Duration) error    { return s.dbErr }
func (s stubChecker) PingRedis(context.Context, time.Duration) error { return s.redisErr }

func TestLive(t *testing.T) {
	rec := httptest.NewRecorder()
	health.Handler{}.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestReadySuccess(t *testing.T) {
	h := health.Handler{Checker: stubChecker{}}
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "ok", status["db"])
	require.Equal(t, "ok", status["redis"])
}

func TestReadyDependencyFailure(t *testing.T) {
	h := health.Handler{Checker: stubChecker{dbErr: errors.New("db down")}}
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyAfterShutdownGate(t *testing.T) {
	h := health.Handler{Checker: stubChecker{}}
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)

	health.SetReady(false)
	t.Cleanup(func() { health.SetReady(true) })

	rec := httptest.NewRecorder()
	h.Ready(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
