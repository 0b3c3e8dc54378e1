// Package service реализует бизнес-логику платформы онлайн-курсов: запись на курсы,
// сверку оплат с платёжным провайдером и учёт прогресса.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/metrics"
	"github.com/mmeshcher/courseplatform/internal/model"
	"github.com/mmeshcher/courseplatform/internal/payment"
	"github.com/mmeshcher/courseplatform/internal/repository"
	"github.com/mmeshcher/courseplatform/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", model.ErrUnauthorized)
	// ErrInvalidLogin возвращается при недопустимом логине или пустом пароле.
	ErrInvalidLogin = fmt.Errorf("invalid login or password: %w", model.ErrValidation)
	// ErrCourseNotPublished возвращается при попытке записаться на неопубликованный курс.
	ErrCourseNotPublished = fmt.Errorf("course is not published: %w", model.ErrInvalidState)
	// ErrAlreadyEnrolled возвращается, если у пользователя уже есть ожидающая оплаты или активная запись.
	ErrAlreadyEnrolled = fmt.Errorf("already enrolled: %w", model.ErrConflict)
	// ErrPaymentProvider возвращается при ошибке или таймауте запроса к платёжному провайдеру.
	ErrPaymentProvider = fmt.Errorf("payment provider unavailable: %w", model.ErrExternalService)
	// ErrPaymentsDisabled возвращается, если платёжный провайдер не настроен.
	ErrPaymentsDisabled = fmt.Errorf("payments are not configured: %w", model.ErrExternalService)
	// ErrCheckoutSessionNotFound возвращается, если сессия оплаты не принадлежит пользователю.
	ErrCheckoutSessionNotFound = fmt.Errorf("checkout session %w", model.ErrNotFound)
	// ErrEnrollmentNotActive возвращается при записи прогресса по неоплаченной или отменённой записи.
	ErrEnrollmentNotActive = fmt.Errorf("enrollment is not active: %w", model.ErrInvalidState)
	// ErrLessonNotFound возвращается, если урок не относится к курсу записи.
	ErrLessonNotFound = fmt.Errorf("lesson %w", model.ErrNotFound)
	// ErrNotInstructor возвращается, если пользователь не может создавать курсы.
	ErrNotInstructor = fmt.Errorf("instructor role required: %w", model.ErrForbidden)
	// ErrNotCourseOwner возвращается при попытке изменить чужой курс.
	ErrNotCourseOwner = fmt.Errorf("course belongs to another instructor: %w", model.ErrForbidden)
	// ErrAdminOnly возвращается, если действие доступно только администратору.
	ErrAdminOnly = fmt.Errorf("admin role required: %w", model.ErrForbidden)
	// ErrAlreadyInstructor возвращается при подаче заявки пользователем, который уже может вести курсы.
	ErrAlreadyInstructor = fmt.Errorf("user already has instructor role: %w", model.ErrInvalidState)
	// ErrInvalidCourseStatus возвращается при неизвестном статусе курса или заявки.
	ErrInvalidCourseStatus = fmt.Errorf("unknown status: %w", model.ErrValidation)
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, u *model.User) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	SetPaymentCustomerID(ctx context.Context, userID int64, customerID string) (bool, error)

	CreateCourse(ctx context.Context, c *model.Course) (int64, error)
	UpdateCourse(ctx context.Context, c *model.Course) error
	SetCourseStatus(ctx context.Context, id int64, status model.CourseStatus) error
	GetCourseByID(ctx context.Context, id int64) (*model.Course, error)
	GetCourseBySlug(ctx context.Context, slug string) (*model.Course, error)
	ListPublishedCourses(ctx context.Context) ([]model.Course, error)
	CreateChapter(ctx context.Context, courseID int64, title string) (*model.Chapter, error)
	GetChapter(ctx context.Context, id int64) (*model.Chapter, error)
	CreateLesson(ctx context.Context, chapterID int64, title, videoURL string) (*model.Lesson, error)
	ListChapters(ctx context.Context, courseID int64) ([]model.Chapter, error)
	LessonInCourse(ctx context.Context, lessonID, courseID int64) (bool, error)

	CreateEnrollment(ctx context.Context, e *model.Enrollment) error
	HasLiveEnrollment(ctx context.Context, userID, courseID int64) (bool, error)
	IsEnrolled(ctx context.Context, userID, courseID int64) (bool, error)
	GetEnrollment(ctx context.Context, id string) (*model.Enrollment, error)
	SetEnrollmentCheckoutSession(ctx context.Context, id, sessionID string) error
	ActivateEnrollment(ctx context.Context, id string) (bool, error)
	CancelEnrollment(ctx context.Context, id string) (bool, error)
	ListStalePendingEnrollments(ctx context.Context, createdBefore time.Time, limit int) ([]model.Enrollment, error)
	MarkEnrollmentSwept(ctx context.Context, id string, at time.Time) error
	GetUserEnrollments(ctx context.Context, userID int64) ([]model.EnrollmentProgress, error)
	GetEnrollmentProgress(ctx context.Context, userID, courseID int64) (*model.EnrollmentProgress, error)

	UpsertLessonProgress(ctx context.Context, p *model.LessonProgress) error
	ListLessonProgress(ctx context.Context, enrollmentID string) ([]model.LessonProgress, error)

	RecordPaymentEvent(ctx context.Context, id, eventType string) error
	PaymentEventProcessed(ctx context.Context, id string) (bool, error)

	CreateInstructorApplication(ctx context.Context, userID int64, motivation string) (*model.InstructorApplication, error)
	ListInstructorApplications(ctx context.Context, status model.ApplicationStatus) ([]model.InstructorApplication, error)
	ReviewInstructorApplication(ctx context.Context, id, reviewerID int64, approve bool) (*model.InstructorApplication, error)
}

// PaymentProvider описывает операции платёжного провайдера, нужные для оплаты курсов.
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, params payment.CustomerParams) (string, error)
	CreateCheckoutSession(ctx context.Context, params payment.CheckoutParams) (*payment.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*payment.CheckoutSession, error)
}

// WebhookVerifier проверяет подпись и разбирает тело вебхука провайдера.
type WebhookVerifier interface {
	ConstructEvent(payload []byte, signature string) (*payment.Event, error)
}

// Options содержит настройки сервиса.
type Options struct {
	Currency       string
	PublicURL      string
	PaymentTimeout time.Duration
	PendingTTL     time.Duration
	AdminLogin     string
	Metrics        *metrics.Metrics
}

// Service содержит бизнес-логику платформы онлайн-курсов.
type Service struct {
	repo     Repository
	provider PaymentProvider
	verifier WebhookVerifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	opts     Options

	now   func() time.Time
	newID func() string
}

// NewService создаёт новый сервис. provider может быть nil, тогда доступны только бесплатные курсы.
func NewService(repo Repository, provider PaymentProvider, verifier WebhookVerifier, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = 10 * time.Second
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = time.Hour
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")

	return &Service{
		repo:     repo,
		provider: provider,
		verifier: verifier,
		logger:   logger,
		metrics:  opts.Metrics,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя. Логин из настройки AdminLogin получает роль администратора.
func (s *Service) RegisterUser(ctx context.Context, login, password, email, name string) (int64, error) {
	if !validation.IsValidLogin(login) || password == "" {
		return 0, ErrInvalidLogin
	}

	role := model.RoleStudent
	if s.opts.AdminLogin != "" && login == s.opts.AdminLogin {
		role = model.RoleAdmin
	}

	id, err := s.repo.CreateUser(ctx, &model.User{
		Login:        login,
		Email:        strings.TrimSpace(email),
		Name:         strings.TrimSpace(name),
		Role:         role,
		PasswordHash: hashPassword(login, password),
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", id), zap.String("role", string(role)))
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	if subtle.ConstantTimeCompare(hashPassword(login, password), u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

// GetUser возвращает профиль пользователя.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}
