package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/courseplatform/internal/model"
)

const enrollmentColumns = `id, user_id, course_id, amount, status, COALESCE(checkout_session_id, ''), created_at, updated_at`

func scanEnrollment(row pgx.Row) (*model.Enrollment, error) {
	var (
		e      model.Enrollment
		status string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.CourseID, &e.Amount, &status, &e.CheckoutSessionID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = model.EnrollmentStatus(status)
	return &e, nil
}

// CreateEnrollment сохраняет новую запись на курс.
// Уникальный индекс по живым записям превращает параллельную повторную запись в ErrEnrollmentExists.
func (r *PostgresRepository) CreateEnrollment(ctx context.Context, e *model.Enrollment) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO enrollments (id, user_id, course_id, amount, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		e.ID, e.UserID, e.CourseID, e.Amount, string(e.Status),
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEnrollmentExists
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// HasLiveEnrollment сообщает, есть ли у пользователя ожидающая оплаты или активная запись на курс.
func (r *PostgresRepository) HasLiveEnrollment(ctx context.Context, userID, courseID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM enrollments
		     WHERE user_id = $1 AND course_id = $2 AND status IN ($3, $4)
		 )`,
		userID, courseID, string(model.EnrollmentStatusPending), string(model.EnrollmentStatusActive),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// IsEnrolled сообщает, есть ли у пользователя активная запись на курс.
func (r *PostgresRepository) IsEnrolled(ctx context.Context, userID, courseID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM enrollments
		     WHERE user_id = $1 AND course_id = $2 AND status = $3
		 )`,
		userID, courseID, string(model.EnrollmentStatusActive),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return exists, nil
}

// GetEnrollment возвращает запись на курс по идентификатору.
func (r *PostgresRepository) GetEnrollment(ctx context.Context, id string) (*model.Enrollment, error) {
	e, err := scanEnrollment(r.pool.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

// SetEnrollmentCheckoutSession привязывает сессию оплаты к записи на курс.
func (r *PostgresRepository) SetEnrollmentCheckoutSession(ctx context.Context, id, sessionID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE enrollments SET checkout_session_id = $2, updated_at = now() WHERE id = $1`,
		id, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set checkout session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEnrollmentNotFound
	}
	return nil
}

// ActivateEnrollment переводит запись в активное состояние одним условным UPDATE.
// Условие входит в сам запрос, поэтому параллельные вызовы не теряют обновлений:
// переход выполняет ровно один из них, остальные получают false.
func (r *PostgresRepository) ActivateEnrollment(ctx context.Context, id string) (bool, error) {
	var activated bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE enrollments SET status = $2, updated_at = now() WHERE id = $1 AND status <> $2`,
			id, string(model.EnrollmentStatusActive),
		)
		if err != nil {
			return err
		}
		activated = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrEnrollmentExists
		}
		return false, fmt.Errorf("activate enrollment: %w", err)
	}
	return activated, nil
}

// CancelEnrollment отменяет запись, только если она ещё ожидает оплаты.
func (r *PostgresRepository) CancelEnrollment(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE enrollments SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
			id, string(model.EnrollmentStatusCancelled), string(model.EnrollmentStatusPending),
		)
		if err != nil {
			return err
		}
		cancelled = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cancel enrollment: %w", err)
	}
	return cancelled, nil
}

// ListStalePendingEnrollments возвращает записи, ожидающие оплаты дольше заданного срока.
// Первыми идут записи, которые сверка ещё не проверяла, затем проверенные давнее всего,
// поэтому оставленные без изменений записи не занимают каждую следующую выборку.
func (r *PostgresRepository) ListStalePendingEnrollments(ctx context.Context, createdBefore time.Time, limit int) ([]model.Enrollment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+enrollmentColumns+`
		 FROM enrollments
		 WHERE status = $1 AND created_at < $2
		 ORDER BY COALESCE(swept_at, created_at), created_at
		 LIMIT $3`,
		string(model.EnrollmentStatusPending), createdBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select stale enrollments: %w", err)
	}
	defer rows.Close()

	var res []model.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		res = append(res, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkEnrollmentSwept запоминает время проверки ожидающей записи, которую сверка оставила без изменений.
func (r *PostgresRepository) MarkEnrollmentSwept(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE enrollments SET swept_at = $2 WHERE id = $1 AND status = $3`,
		id, at, string(model.EnrollmentStatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark enrollment swept: %w", err)
	}
	return nil
}

const progressQuery = `SELECT e.id, e.user_id, e.course_id, e.amount, e.status, COALESCE(e.checkout_session_id, ''),
       e.created_at, e.updated_at, c.title, c.slug,
       (SELECT COUNT(*) FROM lessons l
          JOIN chapters ch ON ch.id = l.chapter_id
         WHERE ch.course_id = e.course_id) AS total_lessons,
       (SELECT COUNT(*) FROM lesson_progress lp
          JOIN lessons l ON l.id = lp.lesson_id
          JOIN chapters ch ON ch.id = l.chapter_id
         WHERE lp.enrollment_id = e.id AND lp.completed AND ch.course_id = e.course_id) AS completed_lessons
  FROM enrollments e
  JOIN courses c ON c.id = e.course_id`

func scanEnrollmentProgress(row pgx.Row) (*model.EnrollmentProgress, error) {
	var (
		p         model.EnrollmentProgress
		status    string
		total     int64
		completed int64
	)
	err := row.Scan(&p.Enrollment.ID, &p.Enrollment.UserID, &p.Enrollment.CourseID, &p.Enrollment.Amount, &status,
		&p.Enrollment.CheckoutSessionID, &p.Enrollment.CreatedAt, &p.Enrollment.UpdatedAt,
		&p.CourseTitle, &p.CourseSlug, &total, &completed)
	if err != nil {
		return nil, err
	}
	p.Enrollment.Status = model.EnrollmentStatus(status)
	p.TotalLessons = int(total)
	p.CompletedLessons = int(completed)
	return &p, nil
}

// GetUserEnrollments возвращает активные записи пользователя с количеством пройденных и всех уроков курса.
func (r *PostgresRepository) GetUserEnrollments(ctx context.Context, userID int64) ([]model.EnrollmentProgress, error) {
	rows, err := r.pool.Query(ctx,
		progressQuery+`
		 WHERE e.user_id = $1 AND e.status = $2
		 ORDER BY e.created_at DESC`,
		userID, string(model.EnrollmentStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("select enrollments: %w", err)
	}
	defer rows.Close()

	var res []model.EnrollmentProgress
	for rows.Next() {
		p, err := scanEnrollmentProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment progress: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetEnrollmentProgress возвращает прогресс активной записи пользователя на конкретный курс.
func (r *PostgresRepository) GetEnrollmentProgress(ctx context.Context, userID, courseID int64) (*model.EnrollmentProgress, error) {
	p, err := scanEnrollmentProgress(r.pool.QueryRow(ctx,
		progressQuery+`
		 WHERE e.user_id = $1 AND e.course_id = $2 AND e.status = $3`,
		userID, courseID, string(model.EnrollmentStatusActive),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("get enrollment progress: %w", err)
	}
	return p, nil
}
