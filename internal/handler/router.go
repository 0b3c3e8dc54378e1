package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/courseplatform/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware платформы курсов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)
		r.Post("/user/logout", h.Logout)

		r.Get("/courses", h.ListCourses)
		r.Get("/courses/{slug}", h.GetCourse)

		r.Post("/webhooks/payment", h.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/user", h.GetCurrentUser)
			r.Get("/user/enrollments", h.GetUserEnrollments)

			r.Post("/courses/{courseID}/enroll", h.Enroll)
			r.Get("/courses/{courseID}/enrollment", h.GetEnrollmentStatus)
			r.Get("/courses/{courseID}/progress", h.GetCourseProgress)

			r.Post("/enrollments/{enrollmentID}/lessons/{lessonID}/progress", h.RecordProgress)
			r.Post("/enrollments/{enrollmentID}/lessons/{lessonID}/complete", h.MarkComplete)

			r.Get("/checkout/success", h.CheckoutSuccess)

			r.Route("/instructor", func(r chi.Router) {
				r.Post("/applications", h.ApplyForInstructor)
				r.Post("/courses", h.CreateCourse)
				r.Put("/courses/{courseID}", h.UpdateCourse)
				r.Post("/courses/{courseID}/status", h.SetCourseStatus)
				r.Post("/courses/{courseID}/chapters", h.AddChapter)
				r.Post("/chapters/{chapterID}/lessons", h.AddLesson)
			})

			r.Route("/admin/instructor-applications", func(r chi.Router) {
				r.Get("/", h.ListApplications)
				r.Post("/{id}/approve", h.ApproveApplication)
				r.Post("/{id}/reject", h.RejectApplication)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
