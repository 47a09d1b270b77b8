package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dbconfig "coursechat/pkg/database"
	"coursechat/pkg/interfaces"
	"coursechat/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	config.RetryDelay = 0

	manager, err := NewManager(config, nil)
	require.NoError(t, err)
	require.NoError(t, dbconfig.NewMigrationManager(manager.GetDB(), config.MigrationsFS()).ApplyMigrations())
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func createUser(t *testing.T, m *Manager, username string, role types.Role) *types.User {
	t.Helper()
	user := &types.User{Username: username, Role: role, PasswordHash: "x"}
	require.NoError(t, m.CreateUser(context.Background(), user))
	return user
}

func createCourse(t *testing.T, m *Manager, teacherID int64, enrolled ...int64) *types.Course {
	t.Helper()
	course := &types.Course{Title: "Distributed Systems", TeacherID: teacherID, EnrolledIDs: enrolled}
	require.NoError(t, m.CreateCourse(context.Background(), course))
	return course
}

func TestManager_HealthCheck(t *testing.T) {
	m := setupTestDB(t)
	require.NoError(t, m.HealthCheck(context.Background()))
}

func TestManager_Users(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := setupTestDB(t)

	alice := createUser(t, m, "alice", types.RoleStudent)
	req.Positive(alice.ID)

	got, err := m.GetUser(ctx, alice.ID)
	req.NoError(err)
	req.Equal("alice", got.Username)
	req.Equal(types.RoleStudent, got.Role)

	got, err = m.GetUserByUsername(ctx, "alice")
	req.NoError(err)
	req.Equal(alice.ID, got.ID)

	_, err = m.GetUser(ctx, 999)
	req.ErrorIs(err, interfaces.ErrNotFound)

	err = m.CreateUser(ctx, &types.User{Username: "alice", Role: types.RoleStudent, PasswordHash: "y"})
	req.ErrorIs(err, interfaces.ErrConflict)
}

func TestManager_CourseMembership(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := setupTestDB(t)

	teacher := createUser(t, m, "prof", types.RoleTeacher)
	alice := createUser(t, m, "alice", types.RoleStudent)
	bob := createUser(t, m, "bob", types.RoleStudent)
	course := createCourse(t, m, teacher.ID, alice.ID)

	req.NoError(m.AddEnrollment(ctx, course.ID, bob.ID))
	req.NoError(m.AddEnrollment(ctx, course.ID, bob.ID), "enrolling twice is a no-op")

	got, err := m.GetCourse(ctx, course.ID)
	req.NoError(err)
	req.Equal([]int64{alice.ID, bob.ID}, got.EnrolledIDs)
	req.Empty(got.BlockedIDs)

	// Blocking drops the enrollment
	req.NoError(m.BlockUser(ctx, course.ID, bob.ID))
	got, err = m.GetCourse(ctx, course.ID)
	req.NoError(err)
	req.Equal([]int64{alice.ID}, got.EnrolledIDs)
	req.Equal([]int64{bob.ID}, got.BlockedIDs)

	req.ErrorIs(m.AddEnrollment(ctx, course.ID, bob.ID), interfaces.ErrConflict)

	req.NoError(m.UnblockUser(ctx, course.ID, bob.ID))
	req.ErrorIs(m.UnblockUser(ctx, course.ID, bob.ID), interfaces.ErrNotFound)

	req.NoError(m.RemoveEnrollment(ctx, course.ID, alice.ID))
	req.ErrorIs(m.RemoveEnrollment(ctx, course.ID, alice.ID), interfaces.ErrNotFound)

	_, err = m.GetCourse(ctx, 404)
	req.ErrorIs(err, interfaces.ErrNotFound)

	courses, err := m.ListCourses(ctx)
	req.NoError(err)
	req.Len(courses, 1)
}

func TestManager_GetCourseNeverSeesHalfABlock(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := setupTestDB(t)

	teacher := createUser(t, m, "prof", types.RoleTeacher)
	alice := createUser(t, m, "alice", types.RoleStudent)
	course := createCourse(t, m, teacher.ID, alice.ID)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := m.BlockUser(ctx, course.ID, alice.ID); err != nil {
				t.Error(err)
				return
			}
			if err := m.UnblockUser(ctx, course.ID, alice.ID); err != nil {
				t.Error(err)
				return
			}
			if err := m.AddEnrollment(ctx, course.ID, alice.ID); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < 300; i++ {
		got, err := m.GetCourse(ctx, course.ID)
		req.NoError(err)
		req.False(got.IsEnrolled(alice.ID) && got.IsBlocked(alice.ID), "enrolled and blocked at read %d", i)
	}
	close(stop)
	wg.Wait()
}

func TestManager_AppendAndHistory(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := setupTestDB(t)

	teacher := createUser(t, m, "prof", types.RoleTeacher)
	alice := createUser(t, m, "alice", types.RoleStudent)
	course := createCourse(t, m, teacher.ID, alice.ID)
	other := createCourse(t, m, teacher.ID)

	first := &types.ChatMessage{CourseID: course.ID, SenderID: alice.ID, Message: "hello"}
	req.NoError(m.Append(ctx, first))
	req.Positive(first.ID)
	req.False(first.Timestamp.IsZero())

	req.NoError(m.Append(ctx, &types.ChatMessage{CourseID: course.ID, SenderID: teacher.ID, Message: ""}))
	req.NoError(m.Append(ctx, &types.ChatMessage{CourseID: other.ID, SenderID: teacher.ID, Message: "elsewhere"}))

	history, err := m.History(ctx, course.ID)
	req.NoError(err)
	req.Len(history, 2)
	req.Equal("hello", history[0].Message)
	req.Equal("alice", history[0].Sender)
	req.Equal("", history[1].Message)
	req.Equal("prof", history[1].Sender)
	req.Less(history[0].ID, history[1].ID)
	req.False(history[1].Timestamp.Before(history[0].Timestamp))

	empty, err := m.History(ctx, 404)
	req.NoError(err)
	req.Empty(empty)
}

func TestManager_AppendUnknownCourseFails(t *testing.T) {
	m := setupTestDB(t)
	user := createUser(t, m, "alice", types.RoleStudent)

	err := m.Append(context.Background(), &types.ChatMessage{CourseID: 404, SenderID: user.ID, Message: "x"})
	require.Error(t, err)
}

func TestManager_ConcurrentAppendsKeepOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := setupTestDB(t)

	teacher := createUser(t, m, "prof", types.RoleTeacher)
	course := createCourse(t, m, teacher.ID)

	const writers, perWriter = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := m.Append(ctx, &types.ChatMessage{CourseID: course.ID, SenderID: teacher.ID, Message: "m"}); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	history, err := m.History(ctx, course.ID)
	req.NoError(err)
	req.Len(history, writers*perWriter)
	for i := 1; i < len(history); i++ {
		req.Greater(history[i].ID, history[i-1].ID)
		req.False(history[i].Timestamp.Before(history[i-1].Timestamp))
	}
}

func TestManager_Feed(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := setupTestDB(t)

	teacher := createUser(t, m, "prof", types.RoleTeacher)
	alice := createUser(t, m, "alice", types.RoleStudent)
	course := createCourse(t, m, teacher.ID, alice.ID)

	older := &types.Notification{UserID: alice.ID, Message: "first", CreatedAt: time.Now().UTC().Add(-time.Minute)}
	req.NoError(m.CreateNotification(ctx, older))
	req.NoError(m.CreateNotification(ctx, &types.Notification{UserID: alice.ID, Message: "second"}))

	feed, err := m.ListNotifications(ctx, alice.ID)
	req.NoError(err)
	req.Len(feed, 2)
	req.Equal("second", feed[0].Message)

	req.NoError(m.MarkNotificationRead(ctx, alice.ID, older.ID))
	req.ErrorIs(m.MarkNotificationRead(ctx, teacher.ID, older.ID), interfaces.ErrNotFound)
	feed, err = m.ListNotifications(ctx, alice.ID)
	req.NoError(err)
	req.True(feed[1].IsRead)

	req.NoError(m.CreateFeedback(ctx, &types.Feedback{CourseID: course.ID, StudentID: alice.ID, Comment: "great"}))
	feedback, err := m.ListFeedback(ctx, course.ID)
	req.NoError(err)
	req.Len(feedback, 1)

	req.NoError(m.CreateMaterial(ctx, &types.Material{ID: "mat-1", CourseID: course.ID, Title: "Slides", URL: "/files/slides.pdf"}))
	req.ErrorIs(m.CreateMaterial(ctx, &types.Material{ID: "mat-1", CourseID: course.ID, Title: "Dup", URL: "/x"}), interfaces.ErrConflict)
	materials, err := m.ListMaterials(ctx, course.ID)
	req.NoError(err)
	req.Len(materials, 1)
}

func TestManager_CloseRejectsWrites(t *testing.T) {
	m := setupTestDB(t)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err := m.CreateUser(context.Background(), &types.User{Username: "late", Role: types.RoleStudent})
	require.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_SearchUpdateDeleteUsers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := setupTestDB(t)

	teacher := createUser(t, m, "prof", types.RoleTeacher)
	alice := &types.User{Username: "alice", RealName: "Alice Liddell", Role: types.RoleStudent, PasswordHash: "x"}
	req.NoError(m.CreateUser(ctx, alice))
	createUser(t, m, "bob_100", types.RoleStudent)

	users, err := m.ListUsers(ctx)
	req.NoError(err)
	req.Len(users, 3)
	req.Equal(teacher.ID, users[0].ID)

	// Username and real name both match, case-insensitively
	found, err := m.SearchUsers(ctx, "LIDDELL")
	req.NoError(err)
	req.Len(found, 1)
	req.Equal("alice", found[0].Username)

	found, err = m.SearchUsers(ctx, "_1")
	req.NoError(err)
	req.Len(found, 1, "underscore is not a wildcard")
	req.Equal("bob_100", found[0].Username)

	found, err = m.SearchUsers(ctx, "%")
	req.NoError(err)
	req.Empty(found)

	alice.RealName = "Alice Pleasance Liddell"
	alice.PasswordHash = "y"
	req.NoError(m.UpdateUser(ctx, alice))
	got, err := m.GetUser(ctx, alice.ID)
	req.NoError(err)
	req.Equal("Alice Pleasance Liddell", got.RealName)
	req.Equal("y", got.PasswordHash)
	req.ErrorIs(m.UpdateUser(ctx, &types.User{ID: 999}), interfaces.ErrNotFound)

	// Deleting the teacher takes the course and its chat with it
	course := createCourse(t, m, teacher.ID, alice.ID)
	req.NoError(m.Append(ctx, &types.ChatMessage{CourseID: course.ID, SenderID: alice.ID, Message: "hi"}))
	req.NoError(m.DeleteUser(ctx, teacher.ID))

	_, err = m.GetCourse(ctx, course.ID)
	req.ErrorIs(err, interfaces.ErrNotFound)
	history, err := m.History(ctx, course.ID)
	req.NoError(err)
	req.Empty(history)
	req.ErrorIs(m.DeleteUser(ctx, teacher.ID), interfaces.ErrNotFound)
}

func TestManager_StatusUpdates(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := setupTestDB(t)
	alice := createUser(t, m, "alice", types.RoleStudent)
	bob := createUser(t, m, "bob", types.RoleStudent)

	base := time.Now().UTC()
	for i, text := range []string{"first", "second", "third"} {
		st := &types.StatusUpdate{UserID: alice.ID, Content: text, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		req.NoError(m.CreateStatus(ctx, st))
		req.Positive(st.ID)
	}
	req.NoError(m.CreateStatus(ctx, &types.StatusUpdate{UserID: bob.ID, Content: "bob's"}))

	statuses, err := m.ListStatuses(ctx, alice.ID)
	req.NoError(err)
	req.Len(statuses, 3)
	req.Equal("third", statuses[0].Content)
	req.Equal("first", statuses[2].Content)

	statuses, err = m.ListStatuses(ctx, 999)
	req.NoError(err)
	req.Empty(statuses)

	err = m.CreateStatus(ctx, &types.StatusUpdate{UserID: 999, Content: "ghost"})
	req.ErrorIs(err, interfaces.ErrNotFound)
}
