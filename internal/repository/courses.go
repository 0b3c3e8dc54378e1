package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/courseplatform/internal/model"
)

const courseColumns = `id, instructor_id, title, slug, description, price, status, duration_minutes, created_at, updated_at`

func scanCourse(row pgx.Row) (*model.Course, error) {
	var (
		c      model.Course
		status string
	)
	err := row.Scan(&c.ID, &c.InstructorID, &c.Title, &c.Slug, &c.Description, &c.Price, &status,
		&c.DurationMinutes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = model.CourseStatus(status)
	return &c, nil
}

// CreateCourse создаёт курс и возвращает его идентификатор.
func (r *PostgresRepository) CreateCourse(ctx context.Context, c *model.Course) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO courses (instructor_id, title, slug, description, price, status, duration_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		c.InstructorID, c.Title, c.Slug, c.Description, c.Price, string(c.Status), c.DurationMinutes,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrSlugTaken, c.Slug)
		}
		return 0, fmt.Errorf("create course: %w", err)
	}
	return id, nil
}

// UpdateCourse обновляет редактируемые поля курса. Суммы уже созданных записей на курс не меняются.
func (r *PostgresRepository) UpdateCourse(ctx context.Context, c *model.Course) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE courses
		 SET title = $2, description = $3, price = $4, duration_minutes = $5, updated_at = now()
		 WHERE id = $1`,
		c.ID, c.Title, c.Description, c.Price, c.DurationMinutes,
	)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCourseNotFound
	}
	return nil
}

// SetCourseStatus меняет статус публикации курса.
func (r *PostgresRepository) SetCourseStatus(ctx context.Context, id int64, status model.CourseStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE courses SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("set course status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCourseNotFound
	}
	return nil
}

// GetCourseByID возвращает курс по идентификатору.
func (r *PostgresRepository) GetCourseByID(ctx context.Context, id int64) (*model.Course, error) {
	c, err := scanCourse(r.pool.QueryRow(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("get course: %w", err)
	}
	return c, nil
}

// GetCourseBySlug возвращает курс по адресу.
func (r *PostgresRepository) GetCourseBySlug(ctx context.Context, slug string) (*model.Course, error) {
	c, err := scanCourse(r.pool.QueryRow(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE slug = $1`,
		slug,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("get course by slug: %w", err)
	}
	return c, nil
}

// ListPublishedCourses возвращает опубликованные курсы, новые первыми.
func (r *PostgresRepository) ListPublishedCourses(ctx context.Context) ([]model.Course, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+courseColumns+`
		 FROM courses
		 WHERE status = $1
		 ORDER BY created_at DESC`,
		string(model.CourseStatusPublished),
	)
	if err != nil {
		return nil, fmt.Errorf("select courses: %w", err)
	}
	defer rows.Close()

	var courses []model.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return courses, nil
}

// CreateChapter добавляет главу в конец курса.
func (r *PostgresRepository) CreateChapter(ctx context.Context, courseID int64, title string) (*model.Chapter, error) {
	ch := model.Chapter{CourseID: courseID, Title: title}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO chapters (course_id, title, position)
		 SELECT $1, $2, COALESCE(MAX(position), 0) + 1 FROM chapters WHERE course_id = $1
		 RETURNING id, position`,
		courseID, title,
	).Scan(&ch.ID, &ch.Position)
	if err != nil {
		return nil, fmt.Errorf("create chapter: %w", err)
	}
	return &ch, nil
}

// GetChapter возвращает главу без уроков.
func (r *PostgresRepository) GetChapter(ctx context.Context, id int64) (*model.Chapter, error) {
	var ch model.Chapter
	err := r.pool.QueryRow(ctx,
		`SELECT id, course_id, title, position FROM chapters WHERE id = $1`,
		id,
	).Scan(&ch.ID, &ch.CourseID, &ch.Title, &ch.Position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChapterNotFound
		}
		return nil, fmt.Errorf("get chapter: %w", err)
	}
	return &ch, nil
}

// CreateLesson добавляет урок в конец главы.
func (r *PostgresRepository) CreateLesson(ctx context.Context, chapterID int64, title, videoURL string) (*model.Lesson, error) {
	l := model.Lesson{ChapterID: chapterID, Title: title, VideoURL: videoURL}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO lessons (chapter_id, title, video_url, position)
		 SELECT $1, $2, $3, COALESCE(MAX(position), 0) + 1 FROM lessons WHERE chapter_id = $1
		 RETURNING id, position`,
		chapterID, title, videoURL,
	).Scan(&l.ID, &l.Position)
	if err != nil {
		return nil, fmt.Errorf("create lesson: %w", err)
	}
	return &l, nil
}

// ListChapters возвращает главы курса вместе с уроками в порядке следования.
func (r *PostgresRepository) ListChapters(ctx context.Context, courseID int64) ([]model.Chapter, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ch.id, ch.title, ch.position, l.id, l.title, l.video_url, l.position
		 FROM chapters ch
		 LEFT JOIN lessons l ON l.chapter_id = ch.id
		 WHERE ch.course_id = $1
		 ORDER BY ch.position, l.position`,
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("select chapters: %w", err)
	}
	defer rows.Close()

	var chapters []model.Chapter
	for rows.Next() {
		var (
			chapterID       int64
			chapterTitle    string
			chapterPosition int
			lessonID        *int64
			lessonTitle     *string
			lessonVideo     *string
			lessonPosition  *int
		)
		if err := rows.Scan(&chapterID, &chapterTitle, &chapterPosition,
			&lessonID, &lessonTitle, &lessonVideo, &lessonPosition); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}

		if len(chapters) == 0 || chapters[len(chapters)-1].ID != chapterID {
			chapters = append(chapters, model.Chapter{
				ID:       chapterID,
				CourseID: courseID,
				Title:    chapterTitle,
				Position: chapterPosition,
			})
		}

		if lessonID != nil {
			current := &chapters[len(chapters)-1]
			current.Lessons = append(current.Lessons, model.Lesson{
				ID:        *lessonID,
				ChapterID: chapterID,
				Title:     *lessonTitle,
				VideoURL:  *lessonVideo,
				Position:  *lessonPosition,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return chapters, nil
}

// LessonInCourse проверяет, что урок принадлежит одной из глав курса.
func (r *PostgresRepository) LessonInCourse(ctx context.Context, lessonID, courseID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM lessons l
		     JOIN chapters ch ON ch.id = l.chapter_id
		     WHERE l.id = $1 AND ch.course_id = $2
		 )`,
		lessonID, courseID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check lesson: %w", err)
	}
	return exists, nil
}
