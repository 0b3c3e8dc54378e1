package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/model"
	"github.com/mmeshcher/courseplatform/internal/repository"
	"github.com/mmeshcher/courseplatform/internal/validation"
)

// RecordProgress отмечает просмотр урока. Отметка о прохождении не меняется.
func (s *Service) RecordProgress(ctx context.Context, userID int64, enrollmentID string, lessonID int64) (*model.LessonProgress, error) {
	return s.saveProgress(ctx, userID, enrollmentID, lessonID, false)
}

// MarkComplete отмечает урок пройденным.
func (s *Service) MarkComplete(ctx context.Context, userID int64, enrollmentID string, lessonID int64) (*model.LessonProgress, error) {
	return s.saveProgress(ctx, userID, enrollmentID, lessonID, true)
}

func (s *Service) saveProgress(ctx context.Context, userID int64, enrollmentID string, lessonID int64, completed bool) (*model.LessonProgress, error) {
	if !validation.IsValidEnrollmentID(enrollmentID) {
		return nil, repository.ErrEnrollmentNotFound
	}

	e, err := s.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, repository.ErrEnrollmentNotFound
	}
	if e.Status != model.EnrollmentStatusActive {
		return nil, ErrEnrollmentNotActive
	}

	ok, err := s.repo.LessonInCourse(ctx, lessonID, e.CourseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLessonNotFound
	}

	p := &model.LessonProgress{
		EnrollmentID:  e.ID,
		LessonID:      lessonID,
		Completed:     completed,
		LastWatchedAt: s.now().UTC(),
	}
	if err := s.repo.UpsertLessonProgress(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Debug("lesson progress saved",
		zap.String("enrollment_id", e.ID),
		zap.Int64("lesson_id", lessonID),
		zap.Bool("completed", p.Completed),
	)

	return p, nil
}
