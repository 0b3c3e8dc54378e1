// Package model содержит доменные сущности платформы онлайн-курсов.
package model

import (
	"math"
	"time"
)

// Role описывает роль пользователя на платформе.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID                int64
	Login             string
	Email             string
	Name              string
	Role              Role
	PasswordHash      []byte
	PaymentCustomerID string
	CreatedAt         time.Time
}

// CanAuthor сообщает, может ли пользователь создавать и редактировать курсы.
func (u *User) CanAuthor() bool {
	return u.Role == RoleInstructor || u.Role == RoleAdmin
}

// CourseStatus описывает статус публикации курса.
type CourseStatus string

const (
	CourseStatusDraft     CourseStatus = "draft"
	CourseStatusPublished CourseStatus = "published"
	CourseStatusArchived  CourseStatus = "archived"
)

// Valid проверяет, что статус курса входит в допустимый набор.
func (s CourseStatus) Valid() bool {
	switch s {
	case CourseStatusDraft, CourseStatusPublished, CourseStatusArchived:
		return true
	}
	return false
}

// Course описывает курс. Цена хранится в минимальных единицах валюты, 0 означает бесплатный курс.
type Course struct {
	ID              int64
	InstructorID    int64
	Title           string
	Slug            string
	Description     string
	Price           int64
	Status          CourseStatus
	DurationMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsFree сообщает, что запись на курс не требует оплаты.
func (c *Course) IsFree() bool {
	return c.Price == 0
}

// CourseInput содержит поля формы создания и редактирования курса.
type CourseInput struct {
	Title           string `json:"title" validate:"required,min=3,max=200"`
	Description     string `json:"description" validate:"max=5000"`
	Price           int64  `json:"price" validate:"gte=0"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0,lte=100000"`
}

// ChapterInput содержит поля формы добавления главы.
type ChapterInput struct {
	Title string `json:"title" validate:"required,max=200"`
}

// LessonInput содержит поля формы добавления урока.
type LessonInput struct {
	Title    string `json:"title" validate:"required,max=200"`
	VideoURL string `json:"video_url" validate:"omitempty,url"`
}

// Chapter описывает главу курса.
type Chapter struct {
	ID       int64
	CourseID int64
	Title    string
	Position int
	Lessons  []Lesson
}

// Lesson описывает урок внутри главы.
type Lesson struct {
	ID        int64
	ChapterID int64
	Title     string
	VideoURL  string
	Position  int
}

// CourseOutline содержит курс вместе с главами и уроками.
type CourseOutline struct {
	Course   Course
	Chapters []Chapter
}

// EnrollmentStatus описывает состояние записи на курс.
type EnrollmentStatus string

const (
	EnrollmentStatusPending   EnrollmentStatus = "pending"
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// Enrollment связывает пользователя с курсом. Amount фиксируется при создании и больше не меняется.
type Enrollment struct {
	ID                string
	UserID            int64
	CourseID          int64
	Amount            int64
	Status            EnrollmentStatus
	CheckoutSessionID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EnrollResult описывает результат попытки записи на курс.
// CheckoutURL заполнен только для платных курсов.
type EnrollResult struct {
	Enrollment  Enrollment
	CheckoutURL string
}

// LessonProgress хранит прогресс по одному уроку в рамках записи на курс.
type LessonProgress struct {
	EnrollmentID  string
	LessonID      int64
	Completed     bool
	LastWatchedAt time.Time
}

// EnrollmentProgress описывает активную запись пользователя вместе с прогрессом прохождения курса.
type EnrollmentProgress struct {
	Enrollment       Enrollment
	CourseTitle      string
	CourseSlug       string
	TotalLessons     int
	CompletedLessons int
	Percent          int
	Lessons          []LessonProgress
}

// ProgressPercent вычисляет процент прохождения курса. Для курса без уроков возвращает 0.
func ProgressPercent(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// ApplicationStatus описывает статус заявки на роль преподавателя.
type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "pending"
	ApplicationStatusApproved ApplicationStatus = "approved"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// ApplicationInput содержит текст заявки на роль преподавателя.
type ApplicationInput struct {
	Motivation string `json:"motivation" validate:"required,min=10,max=2000"`
}

// InstructorApplication описывает заявку пользователя на роль преподавателя.
type InstructorApplication struct {
	ID         int64
	UserID     int64
	Motivation string
	Status     ApplicationStatus
	ReviewedBy *int64
	CreatedAt  time.Time
	ReviewedAt *time.Time
}

// SweepResult содержит итоги одного прохода сверки зависших ожидающих оплаты записей.
type SweepResult struct {
	Checked   int
	Activated int
	Cancelled int
	Skipped   int
}
