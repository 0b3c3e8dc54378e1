package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/model"
)

type courseResponse struct {
	ID              int64  `json:"id"`
	InstructorID    int64  `json:"instructor_id"`
	Title           string `json:"title"`
	Slug            string `json:"slug"`
	Description     string `json:"description,omitempty"`
	Price           int64  `json:"price"`
	Status          string `json:"status"`
	DurationMinutes int    `json:"duration_minutes"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

func newCourseResponse(c *model.Course) courseResponse {
	return courseResponse{
		ID:              c.ID,
		InstructorID:    c.InstructorID,
		Title:           c.Title,
		Slug:            c.Slug,
		Description:     c.Description,
		Price:           c.Price,
		Status:          string(c.Status),
		DurationMinutes: c.DurationMinutes,
		CreatedAt:       formatTime(c.CreatedAt),
		UpdatedAt:       formatTime(c.UpdatedAt),
	}
}

type lessonResponse struct {
	ID        int64  `json:"id"`
	ChapterID int64  `json:"chapter_id"`
	Title     string `json:"title"`
	VideoURL  string `json:"video_url,omitempty"`
	Position  int    `json:"position"`
}

func newLessonResponse(l *model.Lesson) lessonResponse {
	return lessonResponse{
		ID:        l.ID,
		ChapterID: l.ChapterID,
		Title:     l.Title,
		VideoURL:  l.VideoURL,
		Position:  l.Position,
	}
}

type chapterResponse struct {
	ID       int64            `json:"id"`
	CourseID int64            `json:"course_id"`
	Title    string           `json:"title"`
	Position int              `json:"position"`
	Lessons  []lessonResponse `json:"lessons"`
}

func newChapterResponse(ch *model.Chapter) chapterResponse {
	lessons := make([]lessonResponse, 0, len(ch.Lessons))
	for i := range ch.Lessons {
		lessons = append(lessons, newLessonResponse(&ch.Lessons[i]))
	}
	return chapterResponse{
		ID:       ch.ID,
		CourseID: ch.CourseID,
		Title:    ch.Title,
		Position: ch.Position,
		Lessons:  lessons,
	}
}

type outlineResponse struct {
	courseResponse
	Chapters []chapterResponse `json:"chapters"`
}

// ListCourses возвращает каталог опубликованных курсов.
func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListCourses(r.Context())
	if err != nil {
		h.writeError(w, err, "list courses error")
		return
	}

	resp := make([]courseResponse, 0, len(courses))
	for i := range courses {
		resp = append(resp, newCourseResponse(&courses[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetCourse возвращает опубликованный курс вместе с программой.
func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	outline, err := h.service.GetCourseOutline(r.Context(), slug)
	if err != nil {
		h.writeError(w, err, "get course error", zap.String("slug", slug))
		return
	}

	resp := outlineResponse{
		courseResponse: newCourseResponse(&outline.Course),
		Chapters:       make([]chapterResponse, 0, len(outline.Chapters)),
	}
	for i := range outline.Chapters {
		resp.Chapters = append(resp.Chapters, newChapterResponse(&outline.Chapters[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// CreateCourse создаёт черновик курса от имени преподавателя.
func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var in model.CourseInput
	if !decodeJSON(r, &in) {
		badRequest(w)
		return
	}

	c, err := h.service.CreateCourse(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, err, "create course error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusCreated, newCourseResponse(c))
}

// UpdateCourse обновляет поля курса.
func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	courseID, ok := pathID(r, "courseID")
	if !ok {
		badRequest(w)
		return
	}

	var in model.CourseInput
	if !decodeJSON(r, &in) {
		badRequest(w)
		return
	}

	c, err := h.service.UpdateCourse(r.Context(), userID, courseID, in)
	if err != nil {
		h.writeError(w, err, "update course error", zap.Int64("userID", userID), zap.Int64("courseID", courseID))
		return
	}

	h.writeJSON(w, http.StatusOK, newCourseResponse(c))
}

type courseStatusRequest struct {
	Status string `json:"status"`
}

// SetCourseStatus публикует, снимает с публикации или архивирует курс.
func (h *Handler) SetCourseStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	courseID, ok := pathID(r, "courseID")
	if !ok {
		badRequest(w)
		return
	}

	var req courseStatusRequest
	if !decodeJSON(r, &req) {
		badRequest(w)
		return
	}

	err := h.service.SetCourseStatus(r.Context(), userID, courseID, model.CourseStatus(req.Status))
	if err != nil {
		h.writeError(w, err, "set course status error", zap.Int64("courseID", courseID), zap.String("status", req.Status))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// AddChapter добавляет главу в конец программы курса.
func (h *Handler) AddChapter(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	courseID, ok := pathID(r, "courseID")
	if !ok {
		badRequest(w)
		return
	}

	var in model.ChapterInput
	if !decodeJSON(r, &in) {
		badRequest(w)
		return
	}

	ch, err := h.service.AddChapter(r.Context(), userID, courseID, in)
	if err != nil {
		h.writeError(w, err, "add chapter error", zap.Int64("courseID", courseID))
		return
	}

	h.writeJSON(w, http.StatusCreated, newChapterResponse(ch))
}

// AddLesson добавляет урок в конец главы.
func (h *Handler) AddLesson(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	chapterID, ok := pathID(r, "chapterID")
	if !ok {
		badRequest(w)
		return
	}

	var in model.LessonInput
	if !decodeJSON(r, &in) {
		badRequest(w)
		return
	}

	l, err := h.service.AddLesson(r.Context(), userID, chapterID, in)
	if err != nil {
		h.writeError(w, err, "add lesson error", zap.Int64("chapterID", chapterID))
		return
	}

	h.writeJSON(w, http.StatusCreated, newLessonResponse(l))
}
