package service

import (
	"context"

	"github.com/mmeshcher/courseplatform/internal/model"
)

// IsEnrolled сообщает, открыт ли пользователю доступ к курсу. Учитываются только активные записи.
func (s *Service) IsEnrolled(ctx context.Context, userID, courseID int64) (bool, error) {
	return s.repo.IsEnrolled(ctx, userID, courseID)
}

// GetUserEnrollments возвращает активные записи пользователя с процентом прохождения.
func (s *Service) GetUserEnrollments(ctx context.Context, userID int64) ([]model.EnrollmentProgress, error) {
	list, err := s.repo.GetUserEnrollments(ctx, userID)
	if err != nil {
		return nil, err
	}

	for i := range list {
		list[i].Percent = model.ProgressPercent(list[i].CompletedLessons, list[i].TotalLessons)
	}

	return list, nil
}

// GetCourseProgress возвращает прогресс пользователя по курсу вместе с состоянием отдельных уроков.
func (s *Service) GetCourseProgress(ctx context.Context, userID, courseID int64) (*model.EnrollmentProgress, error) {
	p, err := s.repo.GetEnrollmentProgress(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}

	lessons, err := s.repo.ListLessonProgress(ctx, p.Enrollment.ID)
	if err != nil {
		return nil, err
	}

	p.Lessons = lessons
	p.Percent = model.ProgressPercent(p.CompletedLessons, p.TotalLessons)

	return p, nil
}
