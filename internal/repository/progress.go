package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/courseplatform/internal/model"
)

// UpsertLessonProgress сохраняет прогресс по уроку. На пару (запись, урок) хранится одна строка:
// отметка о прохождении не снимается, время просмотра не уменьшается.
func (r *PostgresRepository) UpsertLessonProgress(ctx context.Context, p *model.LessonProgress) error {
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO lesson_progress (enrollment_id, lesson_id, completed, last_watched_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (enrollment_id, lesson_id) DO UPDATE
			 SET completed = lesson_progress.completed OR EXCLUDED.completed,
			     last_watched_at = GREATEST(lesson_progress.last_watched_at, EXCLUDED.last_watched_at)
			 RETURNING completed, last_watched_at`,
			p.EnrollmentID, p.LessonID, p.Completed, p.LastWatchedAt,
		).Scan(&p.Completed, &p.LastWatchedAt)
	})
	if err != nil {
		return fmt.Errorf("upsert lesson progress: %w", err)
	}
	return nil
}

// ListLessonProgress возвращает прогресс по урокам записи на курс.
func (r *PostgresRepository) ListLessonProgress(ctx context.Context, enrollmentID string) ([]model.LessonProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT enrollment_id, lesson_id, completed, last_watched_at
		 FROM lesson_progress
		 WHERE enrollment_id = $1
		 ORDER BY lesson_id`,
		enrollmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("select lesson progress: %w", err)
	}
	defer rows.Close()

	var res []model.LessonProgress
	for rows.Next() {
		var p model.LessonProgress
		if err := rows.Scan(&p.EnrollmentID, &p.LessonID, &p.Completed, &p.LastWatchedAt); err != nil {
			return nil, fmt.Errorf("scan lesson progress: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
