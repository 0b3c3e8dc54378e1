package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/courseplatform/internal/model"
)

const applicationColumns = `id, user_id, motivation, status, reviewed_by, created_at, reviewed_at`

func scanApplication(row pgx.Row) (*model.InstructorApplication, error) {
	var (
		a      model.InstructorApplication
		status string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Motivation, &status, &a.ReviewedBy, &a.CreatedAt, &a.ReviewedAt); err != nil {
		return nil, err
	}
	a.Status = model.ApplicationStatus(status)
	return &a, nil
}

// CreateInstructorApplication сохраняет заявку на роль преподавателя.
func (r *PostgresRepository) CreateInstructorApplication(ctx context.Context, userID int64, motivation string) (*model.InstructorApplication, error) {
	a, err := scanApplication(r.pool.QueryRow(ctx,
		`INSERT INTO instructor_applications (user_id, motivation, status)
		 VALUES ($1, $2, $3)
		 RETURNING `+applicationColumns,
		userID, motivation, string(model.ApplicationStatusPending),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrApplicationExists
		}
		return nil, fmt.Errorf("create instructor application: %w", err)
	}
	return a, nil
}

// ListInstructorApplications возвращает заявки с указанным статусом, старые первыми.
func (r *PostgresRepository) ListInstructorApplications(ctx context.Context, status model.ApplicationStatus) ([]model.InstructorApplication, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+applicationColumns+`
		 FROM instructor_applications
		 WHERE status = $1
		 ORDER BY created_at`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select instructor applications: %w", err)
	}
	defer rows.Close()

	var res []model.InstructorApplication
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instructor application: %w", err)
		}
		res = append(res, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ReviewInstructorApplication рассматривает заявку. При одобрении пользователь
// получает роль преподавателя в той же транзакции.
func (r *PostgresRepository) ReviewInstructorApplication(ctx context.Context, id, reviewerID int64, approve bool) (*model.InstructorApplication, error) {
	status := model.ApplicationStatusRejected
	if approve {
		status = model.ApplicationStatusApproved
	}

	var res *model.InstructorApplication

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		a, err := scanApplication(tx.QueryRow(ctx,
			`UPDATE instructor_applications
			 SET status = $2, reviewed_by = $3, reviewed_at = now()
			 WHERE id = $1 AND status = $4
			 RETURNING `+applicationColumns,
			id, string(status), reviewerID, string(model.ApplicationStatusPending),
		))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM instructor_applications WHERE id = $1)`, id,
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return ErrApplicationReviewed
			}
			return ErrApplicationNotFound
		}

		if approve {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET role = $2 WHERE id = $1 AND role = $3`,
				a.UserID, string(model.RoleInstructor), string(model.RoleStudent),
			); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		res = a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrApplicationReviewed) || errors.Is(err, ErrApplicationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("review instructor application: %w", err)
	}

	return res, nil
}
