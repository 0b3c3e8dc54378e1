// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/courseplatform/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = fmt.Errorf("user already exists: %w", model.ErrConflict)
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = fmt.Errorf("user %w", model.ErrNotFound)
	// ErrCourseNotFound возвращается, если курс не найден.
	ErrCourseNotFound = fmt.Errorf("course %w", model.ErrNotFound)
	// ErrSlugTaken возвращается, если адрес курса уже занят.
	ErrSlugTaken = fmt.Errorf("course slug already taken: %w", model.ErrConflict)
	// ErrChapterNotFound возвращается, если глава не найдена.
	ErrChapterNotFound = fmt.Errorf("chapter %w", model.ErrNotFound)
	// ErrEnrollmentExists возвращается, если у пользователя уже есть живая запись на курс.
	ErrEnrollmentExists = fmt.Errorf("enrollment already exists: %w", model.ErrConflict)
	// ErrEnrollmentNotFound возвращается, если запись на курс не найдена.
	ErrEnrollmentNotFound = fmt.Errorf("enrollment %w", model.ErrNotFound)
	// ErrApplicationExists возвращается, если у пользователя уже есть заявка на рассмотрении.
	ErrApplicationExists = fmt.Errorf("instructor application already pending: %w", model.ErrConflict)
	// ErrApplicationNotFound возвращается, если заявка не найдена.
	ErrApplicationNotFound = fmt.Errorf("instructor application %w", model.ErrNotFound)
	// ErrApplicationReviewed возвращается при повторном рассмотрении заявки.
	ErrApplicationReviewed = fmt.Errorf("instructor application already reviewed: %w", model.ErrInvalidState)
)

// dbPool описывает используемое подмножество методов pgxpool.Pool.
type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool       dbPool
	retryDelay []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return newRepository(pool), nil
}

func newRepository(pool dbPool) *PostgresRepository {
	return &PostgresRepository{
		pool:       pool,
		retryDelay: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при сериализационных конфликтах, взаимоблокировках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.retryDelay); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.retryDelay) {
			break
		}

		timer := time.NewTimer(r.retryDelay[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, email, name, role) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.Login, u.PasswordHash, u.Email, u.Name, string(u.Role),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, u.Login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, login, password_hash, email, name, role, COALESCE(payment_customer_id, ''), created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Email, &u.Name, &role, &u.PaymentCustomerID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = $1`,
		login,
	))
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
}

// SetPaymentCustomerID сохраняет идентификатор клиента у провайдера, только если он ещё не задан.
// Возвращает false, если идентификатор уже был сохранён другим запросом.
func (r *PostgresRepository) SetPaymentCustomerID(ctx context.Context, userID int64, customerID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET payment_customer_id = $2 WHERE id = $1 AND payment_customer_id IS NULL`,
		userID, customerID,
	)
	if err != nil {
		return false, fmt.Errorf("set payment customer: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordPaymentEvent запоминает обработанное событие провайдера. Повторная запись игнорируется.
func (r *PostgresRepository) RecordPaymentEvent(ctx context.Context, id, eventType string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_events (id, type) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, eventType,
	)
	if err != nil {
		return fmt.Errorf("record payment event: %w", err)
	}
	return nil
}

// PaymentEventProcessed сообщает, было ли событие провайдера уже обработано.
func (r *PostgresRepository) PaymentEventProcessed(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_events WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payment event: %w", err)
	}
	return exists, nil
}
