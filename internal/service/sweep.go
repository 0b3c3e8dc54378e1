package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/metrics"
	"github.com/mmeshcher/courseplatform/internal/model"
	"github.com/mmeshcher/courseplatform/internal/payment"
)

const sweepBatchSize = 100

// SweepStalePending сверяет с провайдером записи, ожидающие оплаты дольше PendingTTL.
// Оплаченные активируются, истёкшие и записи без сессии отменяются, открытые остаются как есть.
func (s *Service) SweepStalePending(ctx context.Context) (model.SweepResult, error) {
	var res model.SweepResult

	stale, err := s.repo.ListStalePendingEnrollments(ctx, s.now().Add(-s.opts.PendingTTL), sweepBatchSize)
	if err != nil {
		return res, err
	}

	for _, e := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Checked++

		outcome, err := s.sweepOne(ctx, &e)
		if err != nil {
			s.logger.Error("failed to reconcile stale enrollment",
				zap.String("enrollment_id", e.ID),
				zap.Error(err),
			)
			outcome = metrics.OutcomeError
		}

		switch outcome {
		case metrics.OutcomeActivated:
			res.Activated++
		case metrics.OutcomeCancelled:
			res.Cancelled++
		default:
			res.Skipped++
			s.markSwept(ctx, e.ID)
		}
		s.metrics.Swept(outcome)
	}

	return res, nil
}

// markSwept сдвигает оставленную запись в конец очереди сверки.
func (s *Service) markSwept(ctx context.Context, id string) {
	if err := s.repo.MarkEnrollmentSwept(ctx, id, s.now()); err != nil {
		s.logger.Warn("failed to mark enrollment swept",
			zap.String("enrollment_id", id),
			zap.Error(err),
		)
	}
}

func (s *Service) sweepOne(ctx context.Context, e *model.Enrollment) (string, error) {
	if e.CheckoutSessionID == "" {
		return s.cancelEnrollment(ctx, e.ID, metrics.SourceSweep)
	}

	if s.provider == nil {
		return metrics.OutcomeSkipped, nil
	}

	session, err := s.fetchSession(ctx, e.CheckoutSessionID)
	if err != nil {
		s.logger.Warn("checkout session lookup failed, will retry on next sweep",
			zap.String("enrollment_id", e.ID),
			zap.String("session_id", e.CheckoutSessionID),
			zap.Error(err),
		)
		return metrics.OutcomeSkipped, nil
	}

	switch {
	case session.IsPaid():
		return s.activateEnrollment(ctx, e.ID, metrics.SourceSweep)
	case session.Status == payment.SessionStatusExpired:
		return s.cancelEnrollment(ctx, e.ID, metrics.SourceSweep)
	default:
		return metrics.OutcomeSkipped, nil
	}
}

// RunPendingSweep выполняет один проход сверки и пишет итог в журнал. Используется планировщиком.
func (s *Service) RunPendingSweep(ctx context.Context) {
	res, err := s.SweepStalePending(ctx)
	if err != nil {
		s.logger.Error("pending sweep failed", zap.Error(err))
		return
	}

	if res.Checked == 0 {
		return
	}

	s.logger.Info("pending sweep finished",
		zap.Int("checked", res.Checked),
		zap.Int("activated", res.Activated),
		zap.Int("cancelled", res.Cancelled),
		zap.Int("skipped", res.Skipped),
	)
}
