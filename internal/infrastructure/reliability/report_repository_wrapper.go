package reliability

import (
	"context"
	"errors"
	"sort"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"
	"connectrtc/pkg/circuitbreaker"
	"connectrtc/pkg/retry"

	"go.uber.org/zap"
)

// ReportRepositoryWrapper guards a remote report store with retries and a
// circuit breaker. Reports the primary cannot take go to the fallback.
type ReportRepositoryWrapper struct {
	primary  ports.ReportRepository
	fallback ports.ReportRepository
	logger   *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

var _ ports.ReportRepository = (*ReportRepositoryWrapper)(nil)

func NewReportRepositoryWrapper(
	primary, fallback ports.ReportRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ReportRepositoryWrapper {
	retryConfig.Permanent = func(err error) bool {
		return errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, domain.ErrReportNotFound)
	}

	wrapper := &ReportRepositoryWrapper{
		primary:        primary,
		fallback:       fallback,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("report store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

func (w *ReportRepositoryWrapper) Save(ctx context.Context, report *domain.SessionReport) error {
	_, err := retry.Do(ctx, w.retryConfig, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.circuitBreaker.Do(ctx, func(ctx context.Context) error {
			return w.primary.Save(ctx, report)
		})
	})
	if err == nil {
		return nil
	}

	w.logger.Warnw("report store unavailable, keeping report in fallback",
		"call_id", report.CallID,
		"error", err,
	)
	return w.fallback.Save(ctx, report)
}

// GetByCallID prefers the primary and consults the fallback when the
// primary fails or does not know the call.
func (w *ReportRepositoryWrapper) GetByCallID(ctx context.Context, callID domain.CallID) (*domain.SessionReport, error) {
	report, err := circuitbreaker.Execute(ctx, w.circuitBreaker, func(ctx context.Context) (*domain.SessionReport, error) {
		report, err := w.primary.GetByCallID(ctx, callID)
		if errors.Is(err, domain.ErrReportNotFound) {
			// a miss is not a store failure
			return nil, nil
		}
		return report, err
	})
	if err == nil && report != nil {
		return report, nil
	}
	if err != nil {
		w.logger.Debugw("report store read failed", "call_id", callID, "error", err)
	}
	return w.fallback.GetByCallID(ctx, callID)
}

// List merges both stores, oldest first. A report present in both is
// taken from the primary.
func (w *ReportRepositoryWrapper) List(ctx context.Context) ([]*domain.SessionReport, error) {
	fallback, err := w.fallback.List(ctx)
	if err != nil {
		return nil, err
	}

	primary, err := circuitbreaker.Execute(ctx, w.circuitBreaker, w.primary.List)
	if err != nil {
		w.logger.Debugw("report store list failed", "error", err)
		return fallback, nil
	}

	seen := make(map[domain.CallID]struct{}, len(primary))
	reports := make([]*domain.SessionReport, 0, len(primary)+len(fallback))
	for _, r := range primary {
		seen[r.CallID] = struct{}{}
		reports = append(reports, r)
	}
	for _, r := range fallback {
		if _, ok := seen[r.CallID]; !ok {
			reports = append(reports, r)
		}
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].SessionStartTime.Before(reports[j].SessionStartTime)
	})
	return reports, nil
}

// CircuitState reports whether the primary is currently bypassed.
func (w *ReportRepositoryWrapper) CircuitState() circuitbreaker.State {
	return w.circuitBreaker.State()
}
