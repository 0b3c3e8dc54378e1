package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/courseplatform/internal/model"
	"github.com/mmeshcher/courseplatform/internal/payment"
	"github.com/mmeshcher/courseplatform/internal/repository"
)

const testWebhookSecret = "whsec_test"

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type progressKey struct {
	enrollmentID string
	lessonID     int64
}

// memRepo хранит данные в памяти и повторяет условные переходы SQL-репозитория.
type memRepo struct {
	mu sync.Mutex

	users      map[int64]*model.User
	nextUserID int64

	courses      map[int64]*model.Course
	nextCourseID int64
	chapters     map[int64]*model.Chapter
	nextChapter  int64
	lessonCourse map[int64]int64
	nextLesson   int64

	enrollments map[string]*model.Enrollment
	sweptAt     map[string]time.Time
	progress    map[progressKey]*model.LessonProgress
	events      map[string]string

	apps    map[int64]*model.InstructorApplication
	nextApp int64

	activations int

	hideLive       bool
	activateErr    error
	setSessionErr  error
	recordEventErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:        make(map[int64]*model.User),
		courses:      make(map[int64]*model.Course),
		chapters:     make(map[int64]*model.Chapter),
		lessonCourse: make(map[int64]int64),
		enrollments:  make(map[string]*model.Enrollment),
		sweptAt:      make(map[string]time.Time),
		progress:     make(map[progressKey]*model.LessonProgress),
		events:       make(map[string]string),
		apps:         make(map[int64]*model.InstructorApplication),
	}
}

func (m *memRepo) Close() error { return nil }

func (m *memRepo) addUser(role model.Role) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUserID++
	id := m.nextUserID
	m.users[id] = &model.User{ID: id, Login: "user" + strconv.FormatInt(id, 10), Email: "u@example.com", Role: role}
	return id
}

func (m *memRepo) addCourse(instructorID, price int64, status model.CourseStatus) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCourseID++
	id := m.nextCourseID
	m.courses[id] = &model.Course{
		ID:           id,
		InstructorID: instructorID,
		Title:        "Course " + strconv.FormatInt(id, 10),
		Slug:         "course-" + strconv.FormatInt(id, 10),
		Price:        price,
		Status:       status,
	}
	return id
}

func (m *memRepo) addLesson(courseID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLesson++
	m.lessonCourse[m.nextLesson] = courseID
	return m.nextLesson
}

func (m *memRepo) enrollment(id string) model.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.enrollments[id]
}

func (m *memRepo) putEnrollment(e model.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[e.ID] = &e
}

func (m *memRepo) enrollmentsFor(userID, courseID int64) []model.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Enrollment
	for _, e := range m.enrollments {
		if e.UserID == userID && e.CourseID == courseID {
			res = append(res, *e)
		}
	}
	return res
}

func (m *memRepo) liveExists(userID, courseID int64, exceptID string) bool {
	for _, e := range m.enrollments {
		if e.ID == exceptID || e.UserID != userID || e.CourseID != courseID {
			continue
		}
		if e.Status == model.EnrollmentStatusPending || e.Status == model.EnrollmentStatusActive {
			return true
		}
	}
	return false
}

func (m *memRepo) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Login == u.Login {
			return 0, repository.ErrUserExists
		}
	}
	m.nextUserID++
	cp := *u
	cp.ID = m.nextUserID
	m.users[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Login == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) SetPaymentCustomerID(ctx context.Context, userID int64, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.PaymentCustomerID != "" {
		return false, nil
	}
	u.PaymentCustomerID = customerID
	return true, nil
}

func (m *memRepo) CreateCourse(ctx context.Context, c *model.Course) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.courses {
		if existing.Slug == c.Slug {
			return 0, fmt.Errorf("%w: %s", repository.ErrSlugTaken, c.Slug)
		}
	}
	m.nextCourseID++
	cp := *c
	cp.ID = m.nextCourseID
	m.courses[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) UpdateCourse(ctx context.Context, c *model.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.courses[c.ID]
	if !ok {
		return repository.ErrCourseNotFound
	}
	existing.Title, existing.Description = c.Title, c.Description
	existing.Price, existing.DurationMinutes = c.Price, c.DurationMinutes
	return nil
}

func (m *memRepo) SetCourseStatus(ctx context.Context, id int64, status model.CourseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return repository.ErrCourseNotFound
	}
	c.Status = status
	return nil
}

func (m *memRepo) GetCourseByID(ctx context.Context, id int64) (*model.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, repository.ErrCourseNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) GetCourseBySlug(ctx context.Context, slug string) (*model.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.courses {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrCourseNotFound
}

func (m *memRepo) ListPublishedCourses(ctx context.Context) ([]model.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Course
	for _, c := range m.courses {
		if c.Status == model.CourseStatusPublished {
			res = append(res, *c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *memRepo) CreateChapter(ctx context.Context, courseID int64, title string) (*model.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChapter++
	ch := &model.Chapter{ID: m.nextChapter, CourseID: courseID, Title: title, Position: int(m.nextChapter)}
	m.chapters[ch.ID] = ch
	cp := *ch
	return &cp, nil
}

func (m *memRepo) GetChapter(ctx context.Context, id int64) (*model.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.chapters[id]
	if !ok {
		return nil, repository.ErrChapterNotFound
	}
	cp := *ch
	return &cp, nil
}

func (m *memRepo) CreateLesson(ctx context.Context, chapterID int64, title, videoURL string) (*model.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.chapters[chapterID]
	if !ok {
		return nil, repository.ErrChapterNotFound
	}
	m.nextLesson++
	m.lessonCourse[m.nextLesson] = ch.CourseID
	return &model.Lesson{ID: m.nextLesson, ChapterID: chapterID, Title: title, VideoURL: videoURL, Position: 1}, nil
}

func (m *memRepo) ListChapters(ctx context.Context, courseID int64) ([]model.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Chapter
	for _, ch := range m.chapters {
		if ch.CourseID == courseID {
			res = append(res, *ch)
		}
	}
	return res, nil
}

func (m *memRepo) LessonInCourse(ctx context.Context, lessonID, courseID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.lessonCourse[lessonID]
	return ok && c == courseID, nil
}

func (m *memRepo) CreateEnrollment(ctx context.Context, e *model.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveExists(e.UserID, e.CourseID, "") {
		return repository.ErrEnrollmentExists
	}
	e.CreatedAt, e.UpdatedAt = testNow, testNow
	cp := *e
	m.enrollments[e.ID] = &cp
	return nil
}

func (m *memRepo) HasLiveEnrollment(ctx context.Context, userID, courseID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideLive {
		return false, nil
	}
	return m.liveExists(userID, courseID, ""), nil
}

func (m *memRepo) IsEnrolled(ctx context.Context, userID, courseID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.UserID == userID && e.CourseID == courseID && e.Status == model.EnrollmentStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) GetEnrollment(ctx context.Context, id string) (*model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, repository.ErrEnrollmentNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memRepo) SetEnrollmentCheckoutSession(ctx context.Context, id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setSessionErr != nil {
		return m.setSessionErr
	}
	e, ok := m.enrollments[id]
	if !ok {
		return repository.ErrEnrollmentNotFound
	}
	e.CheckoutSessionID = sessionID
	return nil
}

func (m *memRepo) ActivateEnrollment(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activateErr != nil {
		return false, m.activateErr
	}
	e, ok := m.enrollments[id]
	if !ok || e.Status == model.EnrollmentStatusActive {
		return false, nil
	}
	if m.liveExists(e.UserID, e.CourseID, e.ID) {
		return false, repository.ErrEnrollmentExists
	}
	e.Status = model.EnrollmentStatusActive
	m.activations++
	return true, nil
}

func (m *memRepo) CancelEnrollment(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || e.Status != model.EnrollmentStatusPending {
		return false, nil
	}
	e.Status = model.EnrollmentStatusCancelled
	return true, nil
}

func (m *memRepo) ListStalePendingEnrollments(ctx context.Context, createdBefore time.Time, limit int) ([]model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.Enrollment
	for _, e := range m.enrollments {
		if e.Status == model.EnrollmentStatusPending && e.CreatedAt.Before(createdBefore) {
			res = append(res, *e)
		}
	}
	sweepKey := func(e model.Enrollment) time.Time {
		if at, ok := m.sweptAt[e.ID]; ok {
			return at
		}
		return e.CreatedAt
	}
	sort.Slice(res, func(i, j int) bool {
		ki, kj := sweepKey(res[i]), sweepKey(res[j])
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *memRepo) MarkEnrollmentSwept(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.enrollments[id]; ok && e.Status == model.EnrollmentStatusPending {
		m.sweptAt[id] = at
	}
	return nil
}

func (m *memRepo) progressFor(e *model.Enrollment) model.EnrollmentProgress {
	p := model.EnrollmentProgress{Enrollment: *e}
	if c, ok := m.courses[e.CourseID]; ok {
		p.CourseTitle, p.CourseSlug = c.Title, c.Slug
	}
	for lessonID, courseID := range m.lessonCourse {
		if courseID != e.CourseID {
			continue
		}
		p.TotalLessons++
		if lp, ok := m.progress[progressKey{e.ID, lessonID}]; ok && lp.Completed {
			p.CompletedLessons++
		}
	}
	return p
}

func (m *memRepo) GetUserEnrollments(ctx context.Context, userID int64) ([]model.EnrollmentProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.EnrollmentProgress
	for _, e := range m.enrollments {
		if e.UserID == userID && e.Status == model.EnrollmentStatusActive {
			res = append(res, m.progressFor(e))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Enrollment.CourseID < res[j].Enrollment.CourseID })
	return res, nil
}

func (m *memRepo) GetEnrollmentProgress(ctx context.Context, userID, courseID int64) (*model.EnrollmentProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.UserID == userID && e.CourseID == courseID && e.Status == model.EnrollmentStatusActive {
			p := m.progressFor(e)
			return &p, nil
		}
	}
	return nil, repository.ErrEnrollmentNotFound
}

func (m *memRepo) UpsertLessonProgress(ctx context.Context, p *model.LessonProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := progressKey{p.EnrollmentID, p.LessonID}
	existing, ok := m.progress[key]
	if !ok {
		cp := *p
		m.progress[key] = &cp
		return nil
	}
	existing.Completed = existing.Completed || p.Completed
	if p.LastWatchedAt.After(existing.LastWatchedAt) {
		existing.LastWatchedAt = p.LastWatchedAt
	}
	*p = *existing
	return nil
}

func (m *memRepo) ListLessonProgress(ctx context.Context, enrollmentID string) ([]model.LessonProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.LessonProgress
	for k, p := range m.progress {
		if k.enrollmentID == enrollmentID {
			res = append(res, *p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].LessonID < res[j].LessonID })
	return res, nil
}

func (m *memRepo) RecordPaymentEvent(ctx context.Context, id, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordEventErr != nil {
		return m.recordEventErr
	}
	m.events[id] = eventType
	return nil
}

func (m *memRepo) PaymentEventProcessed(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[id]
	return ok, nil
}

func (m *memRepo) CreateInstructorApplication(ctx context.Context, userID int64, motivation string) (*model.InstructorApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.apps {
		if a.UserID == userID && a.Status == model.ApplicationStatusPending {
			return nil, repository.ErrApplicationExists
		}
	}
	m.nextApp++
	a := &model.InstructorApplication{ID: m.nextApp, UserID: userID, Motivation: motivation, Status: model.ApplicationStatusPending}
	m.apps[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *memRepo) ListInstructorApplications(ctx context.Context, status model.ApplicationStatus) ([]model.InstructorApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []model.InstructorApplication
	for _, a := range m.apps {
		if a.Status == status {
			res = append(res, *a)
		}
	}
	return res, nil
}

func (m *memRepo) ReviewInstructorApplication(ctx context.Context, id, reviewerID int64, approve bool) (*model.InstructorApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, repository.ErrApplicationNotFound
	}
	if a.Status != model.ApplicationStatusPending {
		return nil, repository.ErrApplicationReviewed
	}
	a.Status = model.ApplicationStatusRejected
	if approve {
		a.Status = model.ApplicationStatusApproved
		if u, ok := m.users[a.UserID]; ok && u.Role == model.RoleStudent {
			u.Role = model.RoleInstructor
		}
	}
	a.ReviewedBy = &reviewerID
	cp := *a
	return &cp, nil
}

// fakeProvider имитирует платёжного провайдера и хранит созданные сессии.
type fakeProvider struct {
	mu sync.Mutex

	sessions     map[string]*payment.CheckoutSession
	nextSession  int
	customers    int
	lastCheckout payment.CheckoutParams

	createErr error
	getErr    error
	block     bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{sessions: make(map[string]*payment.CheckoutSession)}
}

func (p *fakeProvider) CreateCustomer(ctx context.Context, params payment.CustomerParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers++
	return "cus_" + strconv.FormatInt(params.UserID, 10), nil
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, params payment.CheckoutParams) (*payment.CheckoutSession, error) {
	if p.block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", payment.ErrRequestFailed, ctx.Err())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCheckout = params
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.nextSession++
	s := &payment.CheckoutSession{
		ID:                "cs_" + strconv.Itoa(p.nextSession),
		URL:               "https://pay.example.com/cs_" + strconv.Itoa(p.nextSession),
		Status:            payment.SessionStatusOpen,
		PaymentStatus:     payment.PaymentStatusUnpaid,
		ClientReferenceID: params.ReferenceID,
		Customer:          params.CustomerID,
		AmountTotal:       params.Amount,
		Currency:          params.Currency,
		Metadata:          params.Metadata,
	}
	p.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (p *fakeProvider) GetCheckoutSession(ctx context.Context, id string) (*payment.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	s, ok := p.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such session", payment.ErrRequestFailed)
	}
	cp := *s
	return &cp, nil
}

func (p *fakeProvider) setSession(id string, status payment.SessionStatus, paid payment.PaymentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[id].Status = status
	p.sessions[id].PaymentStatus = paid
}

func (p *fakeProvider) session(id string) payment.CheckoutSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.sessions[id]
}

func newTestService(t *testing.T, repo *memRepo, provider *fakeProvider) *Service {
	t.Helper()

	var pp PaymentProvider
	if provider != nil {
		pp = provider
	}

	s := NewService(repo, pp, payment.NewWebhookVerifier(testWebhookSecret), zap.NewNop(), Options{
		Currency:       "usd",
		PublicURL:      "http://app.test/",
		PaymentTimeout: time.Second,
		PendingTTL:     time.Hour,
		AdminLogin:     "root",
	})
	s.now = func() time.Time { return testNow }
	return s
}
