package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/model"
	"github.com/mmeshcher/courseplatform/internal/validation"
)

// ApplyForInstructor подаёт заявку на роль преподавателя.
func (s *Service) ApplyForInstructor(ctx context.Context, userID int64, in model.ApplicationInput) (*model.InstructorApplication, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.CanAuthor() {
		return nil, ErrAlreadyInstructor
	}

	in.Motivation = strings.TrimSpace(in.Motivation)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	a, err := s.repo.CreateInstructorApplication(ctx, userID, in.Motivation)
	if err != nil {
		return nil, err
	}

	s.logger.Info("instructor application submitted", zap.Int64("application_id", a.ID), zap.Int64("user_id", userID))
	return a, nil
}

// ListInstructorApplications возвращает заявки с указанным статусом. Пустой статус означает заявки на рассмотрении.
func (s *Service) ListInstructorApplications(ctx context.Context, adminID int64, status model.ApplicationStatus) ([]model.InstructorApplication, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	switch status {
	case "":
		status = model.ApplicationStatusPending
	case model.ApplicationStatusPending, model.ApplicationStatusApproved, model.ApplicationStatusRejected:
	default:
		return nil, ErrInvalidCourseStatus
	}

	return s.repo.ListInstructorApplications(ctx, status)
}

// ReviewInstructorApplication одобряет или отклоняет заявку.
func (s *Service) ReviewInstructorApplication(ctx context.Context, adminID, applicationID int64, approve bool) (*model.InstructorApplication, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	a, err := s.repo.ReviewInstructorApplication(ctx, applicationID, adminID, approve)
	if err != nil {
		return nil, err
	}

	s.logger.Info("instructor application reviewed",
		zap.Int64("application_id", a.ID),
		zap.Int64("user_id", a.UserID),
		zap.String("status", string(a.Status)),
	)
	return a, nil
}

func (s *Service) requireAdmin(ctx context.Context, userID int64) error {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role != model.RoleAdmin {
		return ErrAdminOnly
	}
	return nil
}
