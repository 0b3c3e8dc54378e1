package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/metrics"
	"github.com/mmeshcher/courseplatform/internal/model"
	"github.com/mmeshcher/courseplatform/internal/payment"
	"github.com/mmeshcher/courseplatform/internal/repository"
	"github.com/mmeshcher/courseplatform/internal/validation"
)

// HandlePaymentWebhook проверяет и применяет событие провайдера.
// Ошибка проверки подписи или разбора оборачивает model.ErrValidation. Прочие ошибки означают,
// что событие не сохранено и провайдер должен повторить доставку.
func (s *Service) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.verifier == nil {
		return payment.ErrInvalidSignature
	}

	event, err := s.verifier.ConstructEvent(payload, signature)
	if err != nil {
		s.logger.Warn("webhook rejected", zap.Error(err))
		return err
	}

	processed, err := s.repo.PaymentEventProcessed(ctx, event.ID)
	if err != nil {
		return err
	}
	if processed {
		s.metrics.Reconciled(metrics.SourceWebhook, metrics.OutcomeDuplicate)
		s.logger.Debug("webhook event already processed", zap.String("event_id", event.ID))
		return nil
	}

	if err := s.applyEvent(ctx, event); err != nil {
		s.metrics.Reconciled(metrics.SourceWebhook, metrics.OutcomeError)
		return fmt.Errorf("apply event %s: %w", event.ID, err)
	}

	return s.repo.RecordPaymentEvent(ctx, event.ID, event.Type)
}

func (s *Service) applyEvent(ctx context.Context, event *payment.Event) error {
	log := s.logger.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	switch event.Type {
	case payment.EventCheckoutCompleted:
		if !event.Session.IsPaid() {
			log.Info("checkout completed without payment, waiting for async result",
				zap.String("session_id", event.Session.ID),
				zap.String("payment_status", string(event.Session.PaymentStatus)),
			)
			s.metrics.Reconciled(metrics.SourceWebhook, metrics.OutcomeNoop)
			return nil
		}
		_, err := s.activateFromSession(ctx, event.Session, metrics.SourceWebhook)
		return err

	case payment.EventCheckoutAsyncSucceeded:
		_, err := s.activateFromSession(ctx, event.Session, metrics.SourceWebhook)
		return err

	case payment.EventCheckoutExpired, payment.EventCheckoutAsyncFailed:
		id, ok := s.sessionEnrollmentID(event.Session, metrics.SourceWebhook)
		if !ok {
			return nil
		}
		_, err := s.cancelEnrollment(ctx, id, metrics.SourceWebhook)
		return err

	default:
		log.Debug("webhook event ignored")
		s.metrics.Reconciled(metrics.SourceWebhook, metrics.OutcomeIgnored)
		return nil
	}
}

// ConfirmCheckout обрабатывает возврат пользователя со страницы оплаты.
// Состояние сессии запрашивается у провайдера, параметрам запроса не доверяем.
func (s *Service) ConfirmCheckout(ctx context.Context, userID int64, sessionID string) (*model.Enrollment, error) {
	if s.provider == nil {
		return nil, ErrPaymentsDisabled
	}
	if sessionID == "" {
		return nil, ErrCheckoutSessionNotFound
	}

	session, err := s.fetchSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	owner, ok := session.UserID()
	if !ok || owner != userID {
		return nil, ErrCheckoutSessionNotFound
	}

	enrollmentID := session.EnrollmentID()
	if !validation.IsValidEnrollmentID(enrollmentID) {
		return nil, ErrCheckoutSessionNotFound
	}

	switch {
	case session.IsPaid():
		if _, err := s.activateEnrollment(ctx, enrollmentID, metrics.SourceRedirect); err != nil {
			return nil, err
		}
	case session.Status == payment.SessionStatusExpired:
		if _, err := s.cancelEnrollment(ctx, enrollmentID, metrics.SourceRedirect); err != nil {
			return nil, err
		}
	default:
		s.metrics.Reconciled(metrics.SourceRedirect, metrics.OutcomeNoop)
	}

	e, err := s.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, ErrCheckoutSessionNotFound
	}

	return e, nil
}

func (s *Service) fetchSession(ctx context.Context, sessionID string) (*payment.CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
	defer cancel()

	session, err := s.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		s.metrics.ProviderError("get_checkout_session")
		return nil, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}
	return session, nil
}

func (s *Service) sessionEnrollmentID(session *payment.CheckoutSession, source string) (string, bool) {
	id := session.EnrollmentID()
	if !validation.IsValidEnrollmentID(id) {
		s.logger.Warn("checkout session without enrollment reference",
			zap.String("session_id", session.ID),
			zap.String("source", source),
		)
		s.metrics.Reconciled(source, metrics.OutcomeIgnored)
		return "", false
	}
	return id, true
}

func (s *Service) activateFromSession(ctx context.Context, session *payment.CheckoutSession, source string) (string, error) {
	id, ok := s.sessionEnrollmentID(session, source)
	if !ok {
		return metrics.OutcomeIgnored, nil
	}
	return s.activateEnrollment(ctx, id, source)
}

// activateEnrollment выполняет переход в active. Подтверждённая оплата переводит в active
// и отменённую запись, поэтому результат не зависит от порядка прихода сигналов.
func (s *Service) activateEnrollment(ctx context.Context, id, source string) (string, error) {
	log := s.logger.With(zap.String("enrollment_id", id), zap.String("source", source))

	activated, err := s.repo.ActivateEnrollment(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentExists) {
			log.Error("paid enrollment superseded by another live enrollment, refund review required")
			s.metrics.Reconciled(source, metrics.OutcomeSuperseded)
			return metrics.OutcomeSuperseded, nil
		}
		return metrics.OutcomeError, err
	}

	if activated {
		log.Info("enrollment activated")
		s.metrics.Reconciled(source, metrics.OutcomeActivated)
		return metrics.OutcomeActivated, nil
	}

	outcome, err := s.noopOutcome(ctx, id)
	if err != nil {
		return metrics.OutcomeError, err
	}
	log.Debug("enrollment activation skipped", zap.String("outcome", outcome))
	s.metrics.Reconciled(source, outcome)
	return outcome, nil
}

// cancelEnrollment отменяет только ожидающую оплаты запись. Активная запись не меняется.
func (s *Service) cancelEnrollment(ctx context.Context, id, source string) (string, error) {
	log := s.logger.With(zap.String("enrollment_id", id), zap.String("source", source))

	cancelled, err := s.repo.CancelEnrollment(ctx, id)
	if err != nil {
		return metrics.OutcomeError, err
	}

	if cancelled {
		log.Info("enrollment cancelled")
		s.metrics.Reconciled(source, metrics.OutcomeCancelled)
		return metrics.OutcomeCancelled, nil
	}

	outcome, err := s.noopOutcome(ctx, id)
	if err != nil {
		return metrics.OutcomeError, err
	}
	log.Debug("enrollment cancellation skipped", zap.String("outcome", outcome))
	s.metrics.Reconciled(source, outcome)
	return outcome, nil
}

// noopOutcome отличает неизвестную запись от записи, уже находящейся в целевом состоянии.
func (s *Service) noopOutcome(ctx context.Context, id string) (string, error) {
	_, err := s.repo.GetEnrollment(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			s.logger.Warn("unknown enrollment referenced by payment", zap.String("enrollment_id", id))
			return metrics.OutcomeIgnored, nil
		}
		return "", err
	}
	return metrics.OutcomeNoop, nil
}
