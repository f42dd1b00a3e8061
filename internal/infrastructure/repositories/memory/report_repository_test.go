package memory

import (
	"context"
	"testing"
	"time"

	"connectrtc/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReportRepository_SaveAndGet(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()

	report := &domain.SessionReport{
		CallID:        "call-1",
		FinalState:    domain.StateFailed,
		FailureReason: domain.ReasonUserBusy,
	}
	require.NoError(t, repo.Save(ctx, report))

	got, err := repo.GetByCallID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonUserBusy, got.FailureReason)

	// stored copies are isolated from the caller
	report.FailureReason = domain.ReasonCallNotFound
	got.FinalState = domain.StateDisconnected

	again, err := repo.GetByCallID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonUserBusy, again.FailureReason)
	assert.Equal(t, domain.StateFailed, again.FinalState)
}

func TestMemoryReportRepository_NotFound(t *testing.T) {
	repo := NewMemoryReportRepository()

	_, err := repo.GetByCallID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrReportNotFound)
}

func TestMemoryReportRepository_ListOrdered(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, &domain.SessionReport{CallID: "late", SessionStartTime: base.Add(time.Minute)}))
	require.NoError(t, repo.Save(ctx, &domain.SessionReport{CallID: "early", SessionStartTime: base}))
	require.NoError(t, repo.Save(ctx, &domain.SessionReport{CallID: "late", SessionStartTime: base.Add(2 * time.Minute)}))

	reports, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, domain.CallID("early"), reports[0].CallID)
	assert.Equal(t, domain.CallID("late"), reports[1].CallID)
}
