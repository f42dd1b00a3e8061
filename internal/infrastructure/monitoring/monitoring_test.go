package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrtc/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_CompletedCall(t *testing.T) {
	c := NewPrometheusCollector(nil)

	c.RecordSessionStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive))

	c.RecordSessionReport(&domain.SessionReport{
		FinalState:               domain.StateDisconnected,
		GumTimeMillis:            120,
		InitializationTimeMillis: 30,
		PreTalkingTimeMillis:     900,
		TalkingTimeMillis:        65000,
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsTotal.WithLabelValues("completed", "")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.stageDuration))
	assert.Contains(t, scrape(t, c), "connectrtc_session_talking_duration_seconds_count 1")
	assert.Equal(t, 0, testutil.CollectAndCount(c.failureFlags))
}

func TestPrometheusCollector_FailedCall(t *testing.T) {
	c := NewPrometheusCollector(nil)

	c.RecordSessionStarted()
	c.RecordSessionReport(&domain.SessionReport{
		FinalState:                  domain.StateFailed,
		FailureReason:               domain.ReasonUserBusy,
		HandshakingFailure:          true,
		UserBusyFailure:             true,
		SignallingConnectTimeMillis: 40,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsTotal.WithLabelValues("failed", string(domain.ReasonUserBusy))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failureFlags.WithLabelValues("user_busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failureFlags.WithLabelValues("handshaking")))
	assert.Contains(t, scrape(t, c), "connectrtc_session_talking_duration_seconds_count 0")
}

func scrape(t *testing.T, c *PrometheusCollector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestPrometheusCollector_Handler(t *testing.T) {
	c := NewPrometheusCollector(nil)
	c.RecordSessionStarted()

	assert.Contains(t, scrape(t, c), "connectrtc_sessions_active 1")
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) error { return nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["ok"])
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("broken", func(ctx context.Context) error { return errors.New("store down") }, time.Second)

	status = h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "store down", status.Checks["broken"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

type listingRepo struct{ err error }

func (r listingRepo) Save(context.Context, *domain.SessionReport) error     { return nil }
func (r listingRepo) List(context.Context) ([]*domain.SessionReport, error) { return nil, r.err }

func (r listingRepo) GetByCallID(context.Context, domain.CallID) (*domain.SessionReport, error) {
	return nil, nil
}

func TestHealthChecker_Repository(t *testing.T) {
	h := NewHealthChecker()
	h.AddRepositoryCheck(listingRepo{err: errors.New("unreachable")}, time.Second)

	assert.False(t, h.IsReady(context.Background()))
}
