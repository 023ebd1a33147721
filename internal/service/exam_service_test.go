package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestExamServiceCreateValidatesSchedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	teacher := env.createAccount(t, models.RoleTeacher, "t@example.com", "password123")

	base := dto.ExamCreateRequest{
		Title:           "Algebra",
		Subject:         "math",
		Description:     "<p>Linear equations</p><script>alert(1)</script>",
		DurationMinutes: 45,
		StartTime:       testEpoch.Add(time.Hour).Format(time.RFC3339),
		EndTime:         testEpoch.Add(3 * time.Hour).Format(time.RFC3339),
		TotalMarks:      20,
		PassingMarks:    intPtr(10),
	}

	created, err := env.examS.Create(ctx, identityOf(teacher), base)
	require.NoError(t, err)
	require.Equal(t, 1, created.MaxAttempts)
	require.Equal(t, []models.Role{models.RoleStudent}, created.AllowedRoles)
	require.True(t, created.IsActive)
	require.Equal(t, teacher.ID, created.CreatedBy)
	require.NotContains(t, created.Description, "script")

	reversed := base
	reversed.EndTime = testEpoch.Format(time.RFC3339)
	_, err = env.examS.Create(ctx, identityOf(teacher), reversed)
	requireValidationField(t, err, "end_time")

	tooHigh := base
	tooHigh.PassingMarks = intPtr(21)
	_, err = env.examS.Create(ctx, identityOf(teacher), tooHigh)
	requireValidationField(t, err, "passing_marks")

	missing := base
	missing.PassingMarks = nil
	_, err = env.examS.Create(ctx, identityOf(teacher), missing)
	requireValidationField(t, err, "passing_marks")

	student := env.createAccount(t, models.RoleStudent, "s@example.com", "password123")
	_, err = env.examS.Create(ctx, identityOf(student), base)
	require.ErrorIs(t, err, apperror.ErrInsufficientRole)
}

func TestExamServiceImmutableAfterStart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	teacher := env.createAccount(t, models.RoleTeacher, "t@example.com", "password123")
	admin := env.createAccount(t, models.RoleAdmin, "a@example.com", "password123")
	question := env.createQuestion(t, teacher, "physics", "42", 5)

	exam := env.createExam(t, teacher, examFixture{total: 10, passing: 5})

	_, err := env.examS.Update(ctx, identityOf(teacher), exam.ID, dto.ExamUpdateRequest{Title: strPtr("Updated quiz")})
	require.NoError(t, err)

	env.clock.Set(exam.StartTime)

	_, err = env.examS.Update(ctx, identityOf(teacher), exam.ID, dto.ExamUpdateRequest{Title: strPtr("Too late")})
	require.ErrorIs(t, err, authz.ErrExamAlreadyStarted)

	_, err = env.examS.AddQuestions(ctx, identityOf(teacher), exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{question.ID}})
	require.ErrorIs(t, err, authz.ErrExamAlreadyStarted)

	_, err = env.examS.Update(ctx, identityOf(admin), exam.ID, dto.ExamUpdateRequest{Title: strPtr("Admin edit")})
	require.ErrorIs(t, err, authz.ErrExamAlreadyStarted)

	require.ErrorIs(t, env.examS.Delete(ctx, identityOf(teacher), exam.ID), authz.ErrExamAlreadyStarted)
	require.NoError(t, env.examS.Delete(ctx, identityOf(admin), exam.ID))

	stored, err := env.exams.GetByID(ctx, exam.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)
}

func TestExamServiceOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createAccount(t, models.RoleTeacher, "owner@example.com", "password123")
	other := env.createAccount(t, models.RoleTeacher, "other@example.com", "password123")

	exam := env.createExam(t, owner, examFixture{total: 10, passing: 5})

	_, err := env.examS.Update(ctx, identityOf(other), exam.ID, dto.ExamUpdateRequest{Title: strPtr("Hijack")})
	require.ErrorIs(t, err, authz.ErrNotExamOwner)

	_, err = env.examS.Get(ctx, identityOf(other), exam.ID)
	require.ErrorIs(t, err, authz.ErrNotExamOwner)

	list, err := env.examS.List(ctx, identityOf(other), dto.ExamListRequest{})
	require.NoError(t, err)
	require.Empty(t, list.Items)

	list, err = env.examS.List(ctx, identityOf(owner), dto.ExamListRequest{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, int64(1), list.Pagination.TotalItems)
}

func TestExamServiceQuestionManagement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	teacher := env.createAccount(t, models.RoleTeacher, "t@example.com", "password123")
	actor := identityOf(teacher)

	q1 := env.createQuestion(t, teacher, "physics", "a", 3)
	q2 := env.createQuestion(t, teacher, "Physics", "b", 3)
	q3 := env.createQuestion(t, teacher, "physics", "c", 3)
	chemistry := env.createQuestion(t, teacher, "chemistry", "d", 1)
	heavy := env.createQuestion(t, teacher, "physics", "e", 5)

	exam := env.createExam(t, teacher, examFixture{total: 10, passing: 5, questionIDs: []uint{q1.ID}})
	require.Equal(t, 1, exam.QuestionCount)

	updated, err := env.examS.AddQuestions(ctx, actor, exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{q2.ID, q3.ID}})
	require.NoError(t, err)
	require.Equal(t, []uint{q1.ID, q2.ID, q3.ID}, responseIDs(updated.Questions))

	_, err = env.examS.AddQuestions(ctx, actor, exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{q1.ID}})
	requireValidationField(t, err, "question_ids")

	_, err = env.examS.AddQuestions(ctx, actor, exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{chemistry.ID}})
	requireValidationField(t, err, "question_ids")

	_, err = env.examS.AddQuestions(ctx, actor, exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{heavy.ID}})
	requireValidationField(t, err, "question_ids")

	_, err = env.examS.AddQuestions(ctx, actor, exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{9999}})
	require.ErrorIs(t, err, apperror.ErrQuestionNotFound)

	reordered, err := env.examS.ReorderQuestions(ctx, actor, exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{q3.ID, q1.ID, q2.ID}})
	require.NoError(t, err)
	require.Equal(t, []uint{q3.ID, q1.ID, q2.ID}, responseIDs(reordered.Questions))

	_, err = env.examS.ReorderQuestions(ctx, actor, exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{q3.ID, q1.ID}})
	requireValidationField(t, err, "question_ids")

	removed, err := env.examS.RemoveQuestions(ctx, actor, exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{q1.ID}})
	require.NoError(t, err)
	require.Equal(t, []uint{q3.ID, q2.ID}, responseIDs(removed.Questions))

	_, err = env.examS.RemoveQuestions(ctx, actor, exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{q1.ID}})
	require.ErrorIs(t, err, apperror.ErrQuestionNotFound)

	fetched, err := env.examS.Get(ctx, actor, exam.ID)
	require.NoError(t, err)
	require.Equal(t, []uint{q3.ID, q2.ID}, responseIDs(fetched.Questions))
}

func TestExamServiceStudentView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	teacher := env.createAccount(t, models.RoleTeacher, "t@example.com", "password123")
	student := env.createAccount(t, models.RoleStudent, "s@example.com", "password123")
	question := env.createQuestion(t, teacher, "physics", "secret answer", 4)

	exam := env.createExam(t, teacher, examFixture{total: 10, passing: 5, questionIDs: []uint{question.ID}})
	hidden := env.createExam(t, teacher, examFixture{total: 10, passing: 5, allowedRoles: []string{"teacher"}})

	list, err := env.examS.List(ctx, identityOf(student), dto.ExamListRequest{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, exam.ID, list.Items[0].ID)

	_, err = env.examS.Get(ctx, identityOf(student), exam.ID)
	require.ErrorIs(t, err, authz.ErrExamTimeRestricted)

	_, err = env.examS.Get(ctx, identityOf(student), hidden.ID)
	require.ErrorIs(t, err, authz.ErrStudentNotAllowed)

	env.clock.Set(exam.StartTime.Add(time.Minute))
	view, err := env.examS.Get(ctx, identityOf(student), exam.ID)
	require.NoError(t, err)
	require.Empty(t, view.Questions)
	require.Len(t, view.Paper, 1)
	require.Equal(t, question.ID, view.Paper[0].ID)
	require.Equal(t, 1, view.QuestionCount)

	env.clock.Set(exam.EndTime.Add(time.Minute))
	list, err = env.examS.List(ctx, identityOf(student), dto.ExamListRequest{})
	require.NoError(t, err)
	require.Empty(t, list.Items)
}

func TestExamServiceClock(t *testing.T) {
	exam := models.Exam{ID: 3, StartTime: testEpoch, EndTime: testEpoch.Add(time.Hour), IsActive: true}

	frame := ClockFrame(exam, testEpoch.Add(-90*time.Second))
	require.Equal(t, ClockUpcoming, frame.State)
	require.Equal(t, int64(90), frame.StartsInSeconds)

	frame = ClockFrame(exam, testEpoch.Add(45*time.Minute))
	require.Equal(t, ClockOpen, frame.State)
	require.Equal(t, int64(15*60), frame.RemainingSeconds)

	frame = ClockFrame(exam, testEpoch.Add(time.Hour+time.Second))
	require.Equal(t, ClockClosed, frame.State)
	require.Zero(t, frame.RemainingSeconds)
}

func responseIDs(questions []dto.QuestionResponse) []uint {
	ids := make([]uint, 0, len(questions))
	for _, question := range questions {
		ids = append(ids, question.ID)
	}
	return ids
}

func requireValidationField(t *testing.T, err error, field string) {
	t.Helper()
	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperror.ErrValidation.Code, appErr.Code)
	require.Contains(t, appErr.Details, field)
}

func TestExamServiceAttachRequiresQuestionOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createAccount(t, models.RoleTeacher, "owner@example.com", "password123")
	other := env.createAccount(t, models.RoleTeacher, "other@example.com", "password123")
	admin := env.createAccount(t, models.RoleAdmin, "admin@example.com", "password123")

	foreign := env.createQuestion(t, owner, "physics", "secret-answer", 5)
	exam := env.createExam(t, other, examFixture{total: 10, passing: 5})

	_, err := env.examS.AddQuestions(ctx, identityOf(other), exam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{foreign.ID}})
	require.ErrorIs(t, err, authz.ErrNotQuestionOwner)

	start := env.clock.Now().Add(time.Hour)
	passing := 5
	_, err = env.examS.Create(ctx, identityOf(other), dto.ExamCreateRequest{
		Title:           "Borrowed",
		Subject:         "physics",
		DurationMinutes: 30,
		StartTime:       start.Format(time.RFC3339),
		EndTime:         start.Add(2 * time.Hour).Format(time.RFC3339),
		TotalMarks:      10,
		PassingMarks:    &passing,
		QuestionIDs:     []uint{foreign.ID},
	})
	require.ErrorIs(t, err, authz.ErrNotQuestionOwner)

	list, err := env.examS.List(ctx, identityOf(other), dto.ExamListRequest{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)

	fetched, err := env.examS.Get(ctx, identityOf(other), exam.ID)
	require.NoError(t, err)
	require.Empty(t, fetched.Questions)

	adminExam := env.createExam(t, admin, examFixture{total: 10, passing: 5})
	attached, err := env.examS.AddQuestions(ctx, identityOf(admin), adminExam.ID, dto.ExamQuestionsRequest{QuestionIDs: []uint{foreign.ID}})
	require.NoError(t, err)
	require.Equal(t, []uint{foreign.ID}, responseIDs(attached.Questions))
}

func TestExamServiceClockAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createAccount(t, models.RoleTeacher, "owner@example.com", "password123")
	other := env.createAccount(t, models.RoleTeacher, "other@example.com", "password123")
	student := env.createAccount(t, models.RoleStudent, "s@example.com", "password123")
	admin := env.createAccount(t, models.RoleAdmin, "a@example.com", "password123")

	exam := env.createExam(t, owner, examFixture{total: 10, passing: 5})
	hidden := env.createExam(t, owner, examFixture{total: 10, passing: 5, allowedRoles: []string{"teacher"}})

	frame, err := env.examS.Clock(ctx, identityOf(student), exam.ID)
	require.NoError(t, err)
	require.Equal(t, ClockUpcoming, frame.State)

	_, err = env.examS.Clock(ctx, identityOf(student), hidden.ID)
	require.ErrorIs(t, err, authz.ErrStudentNotAllowed)

	_, err = env.examS.Clock(ctx, identityOf(other), exam.ID)
	require.ErrorIs(t, err, authz.ErrNotExamOwner)

	_, err = env.examS.Clock(ctx, identityOf(owner), hidden.ID)
	require.NoError(t, err)
	_, err = env.examS.Clock(ctx, identityOf(admin), hidden.ID)
	require.NoError(t, err)

	require.NoError(t, env.examS.Delete(ctx, identityOf(owner), exam.ID))
	_, err = env.examS.Clock(ctx, identityOf(student), exam.ID)
	require.ErrorIs(t, err, authz.ErrExamInactive)
}
