package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/metrics"
	"github.com/mmeshcher/courseplatform/internal/model"
	"github.com/mmeshcher/courseplatform/internal/payment"
	"github.com/mmeshcher/courseplatform/internal/repository"
)

// Enroll записывает пользователя на курс. Бесплатный курс открывается сразу,
// для платного создаётся ожидающая оплаты запись и сессия оплаты у провайдера.
func (s *Service) Enroll(ctx context.Context, userID, courseID int64) (*model.EnrollResult, error) {
	course, err := s.repo.GetCourseByID(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if course.Status != model.CourseStatusPublished {
		return nil, ErrCourseNotPublished
	}

	live, err := s.repo.HasLiveEnrollment(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if live {
		return nil, ErrAlreadyEnrolled
	}

	if course.IsFree() {
		return s.enrollFree(ctx, userID, course)
	}
	return s.enrollPaid(ctx, userID, course)
}

func (s *Service) enrollFree(ctx context.Context, userID int64, course *model.Course) (*model.EnrollResult, error) {
	e := &model.Enrollment{
		ID:       s.newID(),
		UserID:   userID,
		CourseID: course.ID,
		Amount:   0,
		Status:   model.EnrollmentStatusActive,
	}
	if err := s.createEnrollment(ctx, e); err != nil {
		return nil, err
	}

	s.metrics.EnrollmentCreated(metrics.KindFree)
	s.logger.Info("free enrollment created",
		zap.String("enrollment_id", e.ID),
		zap.Int64("user_id", userID),
		zap.Int64("course_id", course.ID),
	)

	return &model.EnrollResult{Enrollment: *e}, nil
}

func (s *Service) enrollPaid(ctx context.Context, userID int64, course *model.Course) (*model.EnrollResult, error) {
	if s.provider == nil {
		return nil, ErrPaymentsDisabled
	}

	customerID, err := s.resolveCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	e := &model.Enrollment{
		ID:       s.newID(),
		UserID:   userID,
		CourseID: course.ID,
		Amount:   course.Price,
		Status:   model.EnrollmentStatusPending,
	}
	if err := s.createEnrollment(ctx, e); err != nil {
		return nil, err
	}

	session, err := s.createCheckoutSession(ctx, course, e, customerID)
	if err != nil {
		s.metrics.ProviderError("create_checkout_session")
		s.compensatePending(ctx, e.ID)
		return nil, fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	if err := s.repo.SetEnrollmentCheckoutSession(ctx, e.ID, session.ID); err != nil {
		// Вебхук и сверка находят запись по метаданным сессии, поэтому ссылку на оплату всё равно отдаём.
		s.logger.Error("failed to store checkout session",
			zap.String("enrollment_id", e.ID),
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	} else {
		e.CheckoutSessionID = session.ID
	}

	s.metrics.EnrollmentCreated(metrics.KindPaid)
	s.logger.Info("pending enrollment created",
		zap.String("enrollment_id", e.ID),
		zap.Int64("user_id", userID),
		zap.Int64("course_id", course.ID),
		zap.Int64("amount", e.Amount),
		zap.String("session_id", session.ID),
	)

	return &model.EnrollResult{Enrollment: *e, CheckoutURL: session.URL}, nil
}

func (s *Service) createEnrollment(ctx context.Context, e *model.Enrollment) error {
	if err := s.repo.CreateEnrollment(ctx, e); err != nil {
		if errors.Is(err, repository.ErrEnrollmentExists) {
			return ErrAlreadyEnrolled
		}
		return err
	}
	return nil
}

func (s *Service) createCheckoutSession(ctx context.Context, course *model.Course, e *model.Enrollment, customerID string) (*payment.CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
	defer cancel()

	return s.provider.CreateCheckoutSession(ctx, payment.CheckoutParams{
		CustomerID:  customerID,
		ReferenceID: e.ID,
		ProductName: course.Title,
		Amount:      e.Amount,
		Currency:    s.opts.Currency,
		Metadata: map[string]string{
			payment.MetadataUserID:       strconv.FormatInt(e.UserID, 10),
			payment.MetadataCourseID:     strconv.FormatInt(e.CourseID, 10),
			payment.MetadataEnrollmentID: e.ID,
		},
		SuccessURL:     s.opts.PublicURL + "/api/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      s.opts.PublicURL + "/courses/" + course.Slug,
		ExpiresAt:      s.now().Add(s.opts.PendingTTL),
		IdempotencyKey: "enroll-" + e.ID,
	})
}

// compensatePending отменяет ожидающую запись, для которой не удалось создать сессию оплаты,
// чтобы пользователь мог повторить попытку.
func (s *Service) compensatePending(ctx context.Context, enrollmentID string) {
	ctx = context.WithoutCancel(ctx)

	cancelled, err := s.repo.CancelEnrollment(ctx, enrollmentID)
	if err != nil {
		s.logger.Error("failed to cancel enrollment after provider error",
			zap.String("enrollment_id", enrollmentID),
			zap.Error(err),
		)
		return
	}

	s.logger.Warn("enrollment cancelled after provider error",
		zap.String("enrollment_id", enrollmentID),
		zap.Bool("cancelled", cancelled),
	)
}

// resolveCustomer возвращает идентификатор клиента у провайдера, создавая его при первой оплате.
func (s *Service) resolveCustomer(ctx context.Context, userID int64) (string, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.PaymentCustomerID != "" {
		return u.PaymentCustomerID, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.PaymentTimeout)
	defer cancel()

	customerID, err := s.provider.CreateCustomer(pctx, payment.CustomerParams{
		UserID:         u.ID,
		Email:          u.Email,
		Name:           u.Name,
		IdempotencyKey: "customer-" + strconv.FormatInt(u.ID, 10),
	})
	if err != nil {
		s.metrics.ProviderError("create_customer")
		return "", fmt.Errorf("%w: %w", ErrPaymentProvider, err)
	}

	stored, err := s.repo.SetPaymentCustomerID(ctx, u.ID, customerID)
	if err != nil {
		return "", err
	}
	if stored {
		return customerID, nil
	}

	u, err = s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.PaymentCustomerID == "" {
		return customerID, nil
	}
	return u.PaymentCustomerID, nil
}
