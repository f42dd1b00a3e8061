package ports

import (
	"context"

	"connectrtc/internal/core/domain"
)

type ReportRepository interface {
	Save(ctx context.Context, report *domain.SessionReport) error
	GetByCallID(ctx context.Context, callID domain.CallID) (*domain.SessionReport, error)
	List(ctx context.Context) ([]*domain.SessionReport, error)
}
