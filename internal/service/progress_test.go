package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/courseplatform/internal/model"
	"github.com/mmeshcher/courseplatform/internal/repository"
)

func activeEnrollment(t *testing.T, repo *memRepo, svc *Service, lessons int) (int64, model.Enrollment, []int64) {
	t.Helper()

	userID := repo.addUser(model.RoleStudent)
	courseID := repo.addCourse(99, 0, model.CourseStatusPublished)

	ids := make([]int64, 0, lessons)
	for i := 0; i < lessons; i++ {
		ids = append(ids, repo.addLesson(courseID))
	}

	res, err := svc.Enroll(context.Background(), userID, courseID)
	require.NoError(t, err)

	return userID, res.Enrollment, ids
}

func TestRecordProgress_SingleRowLatestWatch(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	userID, e, lessons := activeEnrollment(t, repo, svc, 1)

	later := testNow.Add(time.Hour)
	svc.now = func() time.Time { return later }
	_, err := svc.RecordProgress(ctx, userID, e.ID, lessons[0])
	require.NoError(t, err)

	svc.now = func() time.Time { return testNow }
	p, err := svc.RecordProgress(ctx, userID, e.ID, lessons[0])
	require.NoError(t, err)

	assert.Len(t, repo.progress, 1)
	assert.Equal(t, later, p.LastWatchedAt)
	assert.False(t, p.Completed)
}

func TestMarkComplete_IsSticky(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	userID, e, lessons := activeEnrollment(t, repo, svc, 2)

	p, err := svc.MarkComplete(ctx, userID, e.ID, lessons[0])
	require.NoError(t, err)
	assert.True(t, p.Completed)

	p, err = svc.RecordProgress(ctx, userID, e.ID, lessons[0])
	require.NoError(t, err)
	assert.True(t, p.Completed, "watching again must not reset completion")

	progress, err := svc.GetCourseProgress(ctx, userID, e.CourseID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.TotalLessons)
	assert.Equal(t, 1, progress.CompletedLessons)
	assert.Equal(t, 50, progress.Percent)
	assert.Len(t, progress.Lessons, 1)
}

func TestSaveProgress_Guards(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc := newTestService(t, repo, provider)
	ctx := context.Background()

	userID, e, lessons := activeEnrollment(t, repo, svc, 1)
	otherCourse := repo.addCourse(99, 0, model.CourseStatusPublished)
	foreignLesson := repo.addLesson(otherCourse)
	strangerID := repo.addUser(model.RoleStudent)

	pendingUser, pending, _ := paidEnrollment(t, repo, provider, svc)
	pendingLesson := repo.addLesson(pending.CourseID)

	tests := []struct {
		name         string
		userID       int64
		enrollmentID string
		lessonID     int64
		want         error
	}{
		{name: "malformed enrollment id", userID: userID, enrollmentID: "abc", lessonID: lessons[0], want: repository.ErrEnrollmentNotFound},
		{name: "unknown enrollment", userID: userID, enrollmentID: "5c8f7d2a-1b2c-4d3e-8f90-a1b2c3d4e5f6", lessonID: lessons[0], want: repository.ErrEnrollmentNotFound},
		{name: "enrollment of another user", userID: strangerID, enrollmentID: e.ID, lessonID: lessons[0], want: repository.ErrEnrollmentNotFound},
		{name: "pending enrollment", userID: pendingUser, enrollmentID: pending.ID, lessonID: pendingLesson, want: ErrEnrollmentNotActive},
		{name: "lesson from another course", userID: userID, enrollmentID: e.ID, lessonID: foreignLesson, want: ErrLessonNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.MarkComplete(ctx, tt.userID, tt.enrollmentID, tt.lessonID)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, repo.progress)
}

func TestGetUserEnrollments_Percent(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	userID, e, lessons := activeEnrollment(t, repo, svc, 4)
	for _, id := range lessons[:2] {
		_, err := svc.MarkComplete(ctx, userID, e.ID, id)
		require.NoError(t, err)
	}

	emptyCourse := repo.addCourse(99, 0, model.CourseStatusPublished)
	_, err := svc.Enroll(ctx, userID, emptyCourse)
	require.NoError(t, err)

	list, err := svc.GetUserEnrollments(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, 50, list[0].Percent)
	assert.Equal(t, 0, list[1].TotalLessons)
	assert.Equal(t, 0, list[1].Percent)
}

func TestGetCourseProgress_RequiresActiveEnrollment(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, nil)

	userID := repo.addUser(model.RoleStudent)
	courseID := repo.addCourse(99, 0, model.CourseStatusPublished)

	_, err := svc.GetCourseProgress(context.Background(), userID, courseID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
