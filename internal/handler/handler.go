// Package handler содержит HTTP-обработчики API платформы онлайн-курсов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/middleware"
	"github.com/mmeshcher/courseplatform/internal/model"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password, email, name string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)

	ListCourses(ctx context.Context) ([]model.Course, error)
	GetCourseOutline(ctx context.Context, slug string) (*model.CourseOutline, error)

	Enroll(ctx context.Context, userID, courseID int64) (*model.EnrollResult, error)
	IsEnrolled(ctx context.Context, userID, courseID int64) (bool, error)
	GetUserEnrollments(ctx context.Context, userID int64) ([]model.EnrollmentProgress, error)
	GetCourseProgress(ctx context.Context, userID, courseID int64) (*model.EnrollmentProgress, error)
	RecordProgress(ctx context.Context, userID int64, enrollmentID string, lessonID int64) (*model.LessonProgress, error)
	MarkComplete(ctx context.Context, userID int64, enrollmentID string, lessonID int64) (*model.LessonProgress, error)

	ConfirmCheckout(ctx context.Context, userID int64, sessionID string) (*model.Enrollment, error)
	HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) error

	CreateCourse(ctx context.Context, userID int64, in model.CourseInput) (*model.Course, error)
	UpdateCourse(ctx context.Context, userID, courseID int64, in model.CourseInput) (*model.Course, error)
	SetCourseStatus(ctx context.Context, userID, courseID int64, status model.CourseStatus) error
	AddChapter(ctx context.Context, userID, courseID int64, in model.ChapterInput) (*model.Chapter, error)
	AddLesson(ctx context.Context, userID, chapterID int64, in model.LessonInput) (*model.Lesson, error)

	ApplyForInstructor(ctx context.Context, userID int64, in model.ApplicationInput) (*model.InstructorApplication, error)
	ListInstructorApplications(ctx context.Context, adminID int64, status model.ApplicationStatus) ([]model.InstructorApplication, error)
	ReviewInstructorApplication(ctx context.Context, adminID, applicationID int64, approve bool) (*model.InstructorApplication, error)
}

// Handler реализует HTTP-обработчики API платформы онлайн-курсов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// metricsHandler может быть nil, тогда маршрут /metrics не регистрируется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, metricsHandler http.Handler) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        metricsHandler,
	}
}

// statusFor выбирает код ответа по виду ошибки.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	code := statusFor(err)

	fields = append(fields, zap.Error(err))
	switch {
	case code >= http.StatusInternalServerError:
		h.logger.Error(msg, fields...)
	default:
		h.logger.Debug(msg, fields...)
	}

	http.Error(w, http.StatusText(code), code)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response error", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, v any) bool {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func badRequest(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return userID, ok
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type registerRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(r, &req) {
		badRequest(w)
		return
	}

	if req.Login == "" || req.Password == "" {
		badRequest(w)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.Email, req.Name)
	if err != nil {
		h.writeError(w, err, "register user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(r, &req) {
		badRequest(w)
		return
	}

	if req.Login == "" || req.Password == "" {
		badRequest(w)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err, "login user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Logout удаляет cookie авторизации.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

type userResponse struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

// GetCurrentUser возвращает профиль текущего пользователя.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get user error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusOK, userResponse{
		ID:    u.ID,
		Login: u.Login,
		Email: u.Email,
		Name:  u.Name,
		Role:  string(u.Role),
	})
}
