package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/model"
)

type enrollmentResponse struct {
	ID        string `json:"id"`
	CourseID  int64  `json:"course_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
}

func newEnrollmentResponse(e *model.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ID:        e.ID,
		CourseID:  e.CourseID,
		Amount:    e.Amount,
		Status:    string(e.Status),
		CreatedAt: formatTime(e.CreatedAt),
	}
}

type enrollResponse struct {
	Enrollment  enrollmentResponse `json:"enrollment"`
	CheckoutURL string             `json:"checkout_url,omitempty"`
}

// Enroll записывает текущего пользователя на курс. Для платного курса в ответе
// возвращается адрес страницы оплаты.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	courseID, ok := pathID(r, "courseID")
	if !ok {
		badRequest(w)
		return
	}

	res, err := h.service.Enroll(r.Context(), userID, courseID)
	if err != nil {
		h.writeError(w, err, "enroll error", zap.Int64("userID", userID), zap.Int64("courseID", courseID))
		return
	}

	code := http.StatusCreated
	if res.CheckoutURL != "" {
		code = http.StatusAccepted
	}

	h.writeJSON(w, code, enrollResponse{
		Enrollment:  newEnrollmentResponse(&res.Enrollment),
		CheckoutURL: res.CheckoutURL,
	})
}

type enrollmentStatusResponse struct {
	Enrolled bool `json:"enrolled"`
}

// GetEnrollmentStatus сообщает, открыт ли текущему пользователю доступ к курсу.
func (h *Handler) GetEnrollmentStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	courseID, ok := pathID(r, "courseID")
	if !ok {
		badRequest(w)
		return
	}

	enrolled, err := h.service.IsEnrolled(r.Context(), userID, courseID)
	if err != nil {
		h.writeError(w, err, "enrollment status error", zap.Int64("userID", userID), zap.Int64("courseID", courseID))
		return
	}

	h.writeJSON(w, http.StatusOK, enrollmentStatusResponse{Enrolled: enrolled})
}

type lessonProgressResponse struct {
	LessonID      int64  `json:"lesson_id"`
	Completed     bool   `json:"completed"`
	LastWatchedAt string `json:"last_watched_at"`
}

func newLessonProgressResponse(p *model.LessonProgress) lessonProgressResponse {
	return lessonProgressResponse{
		LessonID:      p.LessonID,
		Completed:     p.Completed,
		LastWatchedAt: formatTime(p.LastWatchedAt),
	}
}

type progressResponse struct {
	Enrollment       enrollmentResponse       `json:"enrollment"`
	CourseTitle      string                   `json:"course_title"`
	CourseSlug       string                   `json:"course_slug"`
	TotalLessons     int                      `json:"total_lessons"`
	CompletedLessons int                      `json:"completed_lessons"`
	Percent          int                      `json:"percent"`
	Lessons          []lessonProgressResponse `json:"lessons,omitempty"`
}

func newProgressResponse(p *model.EnrollmentProgress) progressResponse {
	resp := progressResponse{
		Enrollment:       newEnrollmentResponse(&p.Enrollment),
		CourseTitle:      p.CourseTitle,
		CourseSlug:       p.CourseSlug,
		TotalLessons:     p.TotalLessons,
		CompletedLessons: p.CompletedLessons,
		Percent:          p.Percent,
	}
	for i := range p.Lessons {
		resp.Lessons = append(resp.Lessons, newLessonProgressResponse(&p.Lessons[i]))
	}
	return resp
}

// GetUserEnrollments возвращает активные записи текущего пользователя с прогрессом.
func (h *Handler) GetUserEnrollments(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	list, err := h.service.GetUserEnrollments(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get enrollments error", zap.Int64("userID", userID))
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]progressResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newProgressResponse(&list[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetCourseProgress возвращает прогресс текущего пользователя по курсу.
func (h *Handler) GetCourseProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	courseID, ok := pathID(r, "courseID")
	if !ok {
		badRequest(w)
		return
	}

	p, err := h.service.GetCourseProgress(r.Context(), userID, courseID)
	if err != nil {
		h.writeError(w, err, "get course progress error", zap.Int64("userID", userID), zap.Int64("courseID", courseID))
		return
	}

	h.writeJSON(w, http.StatusOK, newProgressResponse(p))
}

// RecordProgress отмечает просмотр урока.
func (h *Handler) RecordProgress(w http.ResponseWriter, r *http.Request) {
	h.saveProgress(w, r, false)
}

// MarkComplete отмечает урок пройденным.
func (h *Handler) MarkComplete(w http.ResponseWriter, r *http.Request) {
	h.saveProgress(w, r, true)
}

func (h *Handler) saveProgress(w http.ResponseWriter, r *http.Request, completed bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	enrollmentID := chi.URLParam(r, "enrollmentID")
	lessonID, ok := pathID(r, "lessonID")
	if !ok || enrollmentID == "" {
		badRequest(w)
		return
	}

	save := h.service.RecordProgress
	if completed {
		save = h.service.MarkComplete
	}

	p, err := save(r.Context(), userID, enrollmentID, lessonID)
	if err != nil {
		h.writeError(w, err, "save progress error",
			zap.Int64("userID", userID),
			zap.String("enrollmentID", enrollmentID),
			zap.Int64("lessonID", lessonID),
		)
		return
	}

	h.writeJSON(w, http.StatusOK, newLessonProgressResponse(p))
}
