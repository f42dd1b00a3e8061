package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/infrastructure/repositories/memory"
	"connectrtc/pkg/circuitbreaker"
	"connectrtc/pkg/clock"
	"connectrtc/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errDown = errors.New("redis: connection refused")

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Save(ctx context.Context, report *domain.SessionReport) error {
	return m.Called(report.CallID).Error(0)
}

func (m *mockRepo) GetByCallID(ctx context.Context, callID domain.CallID) (*domain.SessionReport, error) {
	args := m.Called(callID)
	report, _ := args.Get(0).(*domain.SessionReport)
	return report, args.Error(1)
}

func (m *mockRepo) List(ctx context.Context) ([]*domain.SessionReport, error) {
	args := m.Called()
	reports, _ := args.Get(0).([]*domain.SessionReport)
	return reports, args.Error(1)
}

func newWrapper(t *testing.T, primary *mockRepo) (*ReportRepositoryWrapper, *clock.FakeClock) {
	t.Helper()
	fc := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	w := NewReportRepositoryWrapper(
		primary,
		memory.NewMemoryReportRepository(),
		retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute, Clock: fc},
		zap.NewNop().Sugar(),
	)
	return w, fc
}

func TestReportRepositoryWrapper_SavesToPrimary(t *testing.T) {
	primary := &mockRepo{}
	primary.On("Save", domain.CallID("call-1")).Return(nil).Once()
	w, _ := newWrapper(t, primary)

	require.NoError(t, w.Save(context.Background(), &domain.SessionReport{CallID: "call-1"}))

	primary.AssertExpectations(t)
	_, err := w.fallback.GetByCallID(context.Background(), "call-1")
	assert.ErrorIs(t, err, domain.ErrReportNotFound)
}

func TestReportRepositoryWrapper_RetriesThenFallsBack(t *testing.T) {
	primary := &mockRepo{}
	primary.On("Save", domain.CallID("call-1")).Return(errDown).Twice()
	primary.On("GetByCallID", domain.CallID("call-1")).Return(nil, errDown).Maybe()
	w, _ := newWrapper(t, primary)

	require.NoError(t, w.Save(context.Background(), &domain.SessionReport{CallID: "call-1", GumTimeMillis: 9}))
	primary.AssertNumberOfCalls(t, "Save", 2)
	assert.Equal(t, circuitbreaker.StateOpen, w.CircuitState())

	report, err := w.GetByCallID(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), report.GumTimeMillis)
}

func TestReportRepositoryWrapper_OpenCircuitSkipsPrimary(t *testing.T) {
	primary := &mockRepo{}
	primary.On("Save", mock.Anything).Return(errDown).Twice()
	w, fc := newWrapper(t, primary)
	ctx := context.Background()

	require.NoError(t, w.Save(ctx, &domain.SessionReport{CallID: "call-1"}))
	require.NoError(t, w.Save(ctx, &domain.SessionReport{CallID: "call-2"}))
	primary.AssertNumberOfCalls(t, "Save", 2)

	fc.Advance(time.Minute)
	primary.On("Save", domain.CallID("call-3")).Return(nil).Once()
	require.NoError(t, w.Save(ctx, &domain.SessionReport{CallID: "call-3"}))
	assert.Equal(t, circuitbreaker.StateClosed, w.CircuitState())
}

func TestReportRepositoryWrapper_GetMissFallsThrough(t *testing.T) {
	primary := &mockRepo{}
	primary.On("GetByCallID", domain.CallID("nope")).Return(nil, domain.ErrReportNotFound)
	w, _ := newWrapper(t, primary)

	_, err := w.GetByCallID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrReportNotFound)
	assert.Equal(t, circuitbreaker.StateClosed, w.CircuitState())
}

func TestReportRepositoryWrapper_ListMerges(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	primary := &mockRepo{}
	primary.On("List").Return([]*domain.SessionReport{
		{CallID: "b", SessionStartTime: base.Add(2 * time.Minute), FinalState: domain.StateDisconnected},
	}, nil)
	w, _ := newWrapper(t, primary)
	ctx := context.Background()

	require.NoError(t, w.fallback.Save(ctx, &domain.SessionReport{CallID: "a", SessionStartTime: base}))
	require.NoError(t, w.fallback.Save(ctx, &domain.SessionReport{CallID: "b", SessionStartTime: base.Add(2 * time.Minute)}))

	reports, err := w.List(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, domain.CallID("a"), reports[0].CallID)
	assert.Equal(t, domain.StateDisconnected, reports[1].FinalState)
}

func TestReportRepositoryWrapper_ListPrimaryDown(t *testing.T) {
	primary := &mockRepo{}
	primary.On("List").Return(nil, errDown)
	w, _ := newWrapper(t, primary)
	ctx := context.Background()

	require.NoError(t, w.fallback.Save(ctx, &domain.SessionReport{CallID: "a"}))

	reports, err := w.List(ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}
