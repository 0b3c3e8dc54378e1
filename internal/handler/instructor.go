package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/model"
)

type applicationResponse struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	Motivation string `json:"motivation"`
	Status     string `json:"status"`
	ReviewedBy *int64 `json:"reviewed_by,omitempty"`
	CreatedAt  string `json:"created_at"`
	ReviewedAt string `json:"reviewed_at,omitempty"`
}

func newApplicationResponse(a *model.InstructorApplication) applicationResponse {
	resp := applicationResponse{
		ID:         a.ID,
		UserID:     a.UserID,
		Motivation: a.Motivation,
		Status:     string(a.Status),
		ReviewedBy: a.ReviewedBy,
		CreatedAt:  formatTime(a.CreatedAt),
	}
	if a.ReviewedAt != nil {
		resp.ReviewedAt = formatTime(*a.ReviewedAt)
	}
	return resp
}

// ApplyForInstructor принимает заявку текущего пользователя на роль преподавателя.
func (h *Handler) ApplyForInstructor(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var in model.ApplicationInput
	if !decodeJSON(r, &in) {
		badRequest(w)
		return
	}

	a, err := h.service.ApplyForInstructor(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, err, "apply for instructor error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusCreated, newApplicationResponse(a))
}

// ListApplications возвращает заявки с указанным статусом. По умолчанию ожидающие рассмотрения.
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	status := model.ApplicationStatus(r.URL.Query().Get("status"))

	list, err := h.service.ListInstructorApplications(r.Context(), userID, status)
	if err != nil {
		h.writeError(w, err, "list applications error", zap.Int64("userID", userID))
		return
	}

	resp := make([]applicationResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newApplicationResponse(&list[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ApproveApplication одобряет заявку и выдаёт пользователю роль преподавателя.
func (h *Handler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	h.reviewApplication(w, r, true)
}

// RejectApplication отклоняет заявку.
func (h *Handler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	h.reviewApplication(w, r, false)
}

func (h *Handler) reviewApplication(w http.ResponseWriter, r *http.Request, approve bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w)
		return
	}

	a, err := h.service.ReviewInstructorApplication(r.Context(), userID, id, approve)
	if err != nil {
		h.writeError(w, err, "review application error", zap.Int64("applicationID", id), zap.Bool("approve", approve))
		return
	}

	h.writeJSON(w, http.StatusOK, newApplicationResponse(a))
}
