package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/model"
	"github.com/mmeshcher/courseplatform/internal/repository"
	"github.com/mmeshcher/courseplatform/internal/validation"
)

const slugAttempts = 5

// ListCourses возвращает каталог опубликованных курсов.
func (s *Service) ListCourses(ctx context.Context) ([]model.Course, error) {
	return s.repo.ListPublishedCourses(ctx)
}

// GetCourseOutline возвращает опубликованный курс с главами и уроками.
func (s *Service) GetCourseOutline(ctx context.Context, slug string) (*model.CourseOutline, error) {
	c, err := s.repo.GetCourseBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CourseStatusPublished {
		return nil, repository.ErrCourseNotFound
	}

	chapters, err := s.repo.ListChapters(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	return &model.CourseOutline{Course: *c, Chapters: chapters}, nil
}

// CreateCourse создаёт черновик курса. Адрес строится из названия и дополняется суффиксом при совпадении.
func (s *Service) CreateCourse(ctx context.Context, userID int64, in model.CourseInput) (*model.Course, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.CanAuthor() {
		return nil, ErrNotInstructor
	}

	if err := validation.CourseInput(&in); err != nil {
		return nil, err
	}

	c := &model.Course{
		InstructorID:    userID,
		Title:           in.Title,
		Description:     in.Description,
		Price:           in.Price,
		Status:          model.CourseStatusDraft,
		DurationMinutes: in.DurationMinutes,
	}

	base := validation.Slugify(in.Title)
	for attempt := 0; ; attempt++ {
		switch {
		case attempt == 0:
			c.Slug = base
		case attempt < slugAttempts:
			c.Slug = fmt.Sprintf("%s-%d", base, attempt+1)
		default:
			c.Slug = base + "-" + uuid.NewString()[:8]
		}

		c.ID, err = s.repo.CreateCourse(ctx, c)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrSlugTaken) || attempt >= slugAttempts {
			return nil, err
		}
	}

	s.logger.Info("course created",
		zap.Int64("course_id", c.ID),
		zap.Int64("instructor_id", userID),
		zap.String("slug", c.Slug),
	)

	return c, nil
}

// UpdateCourse изменяет поля курса. Суммы существующих записей на курс не пересчитываются.
func (s *Service) UpdateCourse(ctx context.Context, userID, courseID int64, in model.CourseInput) (*model.Course, error) {
	c, err := s.authorizeCourse(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}

	if err := validation.CourseInput(&in); err != nil {
		return nil, err
	}

	c.Title = in.Title
	c.Description = in.Description
	c.Price = in.Price
	c.DurationMinutes = in.DurationMinutes

	if err := s.repo.UpdateCourse(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SetCourseStatus публикует, снимает с публикации или архивирует курс.
func (s *Service) SetCourseStatus(ctx context.Context, userID, courseID int64, status model.CourseStatus) error {
	if !status.Valid() {
		return ErrInvalidCourseStatus
	}

	if _, err := s.authorizeCourse(ctx, userID, courseID); err != nil {
		return err
	}

	if err := s.repo.SetCourseStatus(ctx, courseID, status); err != nil {
		return err
	}

	s.logger.Info("course status changed", zap.Int64("course_id", courseID), zap.String("status", string(status)))
	return nil
}

// AddChapter добавляет главу в конец курса.
func (s *Service) AddChapter(ctx context.Context, userID, courseID int64, in model.ChapterInput) (*model.Chapter, error) {
	if _, err := s.authorizeCourse(ctx, userID, courseID); err != nil {
		return nil, err
	}

	in.Title = strings.TrimSpace(in.Title)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	return s.repo.CreateChapter(ctx, courseID, in.Title)
}

// AddLesson добавляет урок в конец главы.
func (s *Service) AddLesson(ctx context.Context, userID, chapterID int64, in model.LessonInput) (*model.Lesson, error) {
	ch, err := s.repo.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}

	if _, err := s.authorizeCourse(ctx, userID, ch.CourseID); err != nil {
		return nil, err
	}

	in.Title = strings.TrimSpace(in.Title)
	in.VideoURL = strings.TrimSpace(in.VideoURL)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	return s.repo.CreateLesson(ctx, chapterID, in.Title, in.VideoURL)
}

// authorizeCourse проверяет, что курс может изменять его автор или администратор.
func (s *Service) authorizeCourse(ctx context.Context, userID, courseID int64) (*model.Course, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.CanAuthor() {
		return nil, ErrNotInstructor
	}

	c, err := s.repo.GetCourseByID(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if c.InstructorID != userID && u.Role != model.RoleAdmin {
		return nil, ErrNotCourseOwner
	}

	return c, nil
}
