package memory

import (
	"context"
	"sort"
	"sync"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"
)

// MemoryReportRepository keeps reports for the lifetime of the process.
type MemoryReportRepository struct {
	reports map[domain.CallID]*domain.SessionReport
	mu      sync.RWMutex
}

func NewMemoryReportRepository() ports.ReportRepository {
	return &MemoryReportRepository{
		reports: make(map[domain.CallID]*domain.SessionReport),
	}
}

// Save stores a copy of report, replacing any earlier report for the call.
func (r *MemoryReportRepository) Save(ctx context.Context, report *domain.SessionReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *report
	r.reports[report.CallID] = &stored
	return nil
}

func (r *MemoryReportRepository) GetByCallID(ctx context.Context, callID domain.CallID) (*domain.SessionReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report, exists := r.reports[callID]
	if !exists {
		return nil, domain.ErrReportNotFound
	}

	result := *report
	return &result, nil
}

// List returns reports ordered by session start time, oldest first.
func (r *MemoryReportRepository) List(ctx context.Context) ([]*domain.SessionReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reports := make([]*domain.SessionReport, 0, len(r.reports))
	for _, report := range r.reports {
		result := *report
		reports = append(reports, &result)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].SessionStartTime.Before(reports[j].SessionStartTime)
	})

	return reports, nil
}
