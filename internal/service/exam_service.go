package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

// Exam clock states.
const (
	ClockUpcoming = "upcoming"
	ClockOpen     = "open"
	ClockClosed   = "closed"
)

// ExamService implements exam authoring, listing and the question list of each exam.
type ExamService interface {
	Create(ctx context.Context, actor authz.Identity, req dto.ExamCreateRequest) (dto.ExamResponse, error)
	Get(ctx context.Context, actor authz.Identity, id uint) (dto.ExamResponse, error)
	List(ctx context.Context, actor authz.Identity, req dto.ExamListRequest) (dto.ExamListResponse, error)
	Update(ctx context.Context, actor authz.Identity, id uint, req dto.ExamUpdateRequest) (dto.ExamResponse, error)
	Delete(ctx context.Context, actor authz.Identity, id uint) error
	AddQuestions(ctx context.Context, actor authz.Identity, id uint, req dto.ExamQuestionsRequest) (dto.ExamResponse, error)
	RemoveQuestions(ctx context.Context, actor authz.Identity, id uint, req dto.ExamQuestionsRequest) (dto.ExamResponse, error)
	ReorderQuestions(ctx context.Context, actor authz.Identity, id uint, req dto.ExamQuestionsRequest) (dto.ExamResponse, error)
	Clock(ctx context.Context, actor authz.Identity, id uint) (dto.ExamClockFrame, error)
}

type examService struct {
	exams     repository.ExamRepository
	questions repository.QuestionRepository
	gate      *authz.Gate
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewExamService constructs the exam service.
func NewExamService(exams repository.ExamRepository, questions repository.QuestionRepository, gate *authz.Gate, validate *validator.Validate, logger zerolog.Logger) ExamService {
	return &examService{
		exams:     exams,
		questions: questions,
		gate:      gate,
		validator: validate,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "exam_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-exam-api/internal/service/exam"),
		now:       time.Now,
	}
}

func (s *examService) Create(ctx context.Context, actor authz.Identity, req dto.ExamCreateRequest) (dto.ExamResponse, error) {
	ctx, span := s.tracer.Start(ctx, "exam.create")
	defer span.End()

	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionExamCreate, Now: s.now()}); err != nil {
		return dto.ExamResponse{}, err
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.ExamResponse{}, apperror.FromValidation(err)
	}

	start, err := dto.ParseTimestamp(req.StartTime)
	if err != nil {
		return dto.ExamResponse{}, apperror.Validation("start_time", "start_time must be RFC3339")
	}
	end, err := dto.ParseTimestamp(req.EndTime)
	if err != nil {
		return dto.ExamResponse{}, apperror.Validation("end_time", "end_time must be RFC3339")
	}

	roles, err := parseAllowedRoles(req.AllowedRoles)
	if err != nil {
		return dto.ExamResponse{}, err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	exam := models.Exam{
		Title:           strings.TrimSpace(req.Title),
		Subject:         strings.TrimSpace(req.Subject),
		Description:     strings.TrimSpace(s.sanitizer.Sanitize(req.Description)),
		DurationMinutes: req.DurationMinutes,
		StartTime:       start.UTC(),
		EndTime:         end.UTC(),
		TotalMarks:      req.TotalMarks,
		PassingMarks:    *req.PassingMarks,
		MaxAttempts:     maxAttempts,
		AllowedRoles:    roles,
		IsActive:        true,
		CreatedBy:       actor.ID,
	}
	if err := validateExam(exam); err != nil {
		return dto.ExamResponse{}, err
	}

	var questions []models.Question
	if len(req.QuestionIDs) > 0 {
		questions, err = s.loadQuestions(ctx, actor, exam, req.QuestionIDs, nil)
		if err != nil {
			return dto.ExamResponse{}, err
		}
	}

	if err := s.exams.Create(ctx, &exam, req.QuestionIDs); err != nil {
		span.RecordError(err)
		return dto.ExamResponse{}, err
	}

	span.SetAttributes(attribute.Int("exam.id", int(exam.ID)))
	s.logger.Info().Uint("exam_id", exam.ID).Uint("created_by", actor.ID).Time("start_time", exam.StartTime).Msg("exam created")

	return s.fullResponse(exam, orderByIDs(questions, req.QuestionIDs)), nil
}

// Get returns the full exam to its owner or an admin and the question paper to students.
func (s *examService) Get(ctx context.Context, actor authz.Identity, id uint) (dto.ExamResponse, error) {
	exam, err := s.load(ctx, id)
	if err != nil {
		return dto.ExamResponse{}, err
	}

	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionExamView, Now: s.now(), Exam: &exam}); err != nil {
		return dto.ExamResponse{}, err
	}

	questions, err := s.exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		return dto.ExamResponse{}, err
	}

	if actor.Role == models.RoleStudent {
		response := dto.NewExamResponse(exam)
		response.QuestionCount = len(questions)
		response.Paper = dto.NewQuestionPaper(questions)
		return response, nil
	}
	return s.fullResponse(exam, questions), nil
}

func (s *examService) List(ctx context.Context, actor authz.Identity, req dto.ExamListRequest) (dto.ExamListResponse, error) {
	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionExamList}); err != nil {
		return dto.ExamListResponse{}, err
	}

	page, pageSize := dto.NormalizePage(req.Page, req.PageSize)
	filter := repository.ExamFilter{Subject: req.Subject, Search: req.Search, Page: page, PageSize: pageSize}

	switch actor.Role {
	case models.RoleStudent:
		now := s.now()
		filter.ActiveOnly = true
		filter.AllowedRole = models.RoleStudent
		filter.EndsAfter = &now
	case models.RoleTeacher:
		owner := actor.ID
		filter.CreatedBy = &owner
	}

	exams, total, err := s.exams.List(ctx, filter)
	if err != nil {
		return dto.ExamListResponse{}, err
	}

	return dto.ExamListResponse{
		Items:      dto.NewExamResponseSlice(exams),
		Pagination: dto.NewPaginationMeta(page, pageSize, total),
	}, nil
}

func (s *examService) Update(ctx context.Context, actor authz.Identity, id uint, req dto.ExamUpdateRequest) (dto.ExamResponse, error) {
	ctx, span := s.tracer.Start(ctx, "exam.update")
	defer span.End()

	exam, err := s.load(ctx, id)
	if err != nil {
		return dto.ExamResponse{}, err
	}
	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionExamUpdate, Now: s.now(), Exam: &exam}); err != nil {
		return dto.ExamResponse{}, err
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.ExamResponse{}, apperror.FromValidation(err)
	}

	if req.Title != nil {
		exam.Title = strings.TrimSpace(*req.Title)
	}
	if req.Subject != nil {
		exam.Subject = strings.TrimSpace(*req.Subject)
	}
	if req.Description != nil {
		exam.Description = strings.TrimSpace(s.sanitizer.Sanitize(*req.Description))
	}
	if req.DurationMinutes != nil {
		exam.DurationMinutes = *req.DurationMinutes
	}
	if req.StartTime != nil {
		start, err := dto.ParseTimestamp(*req.StartTime)
		if err != nil {
			return dto.ExamResponse{}, apperror.Validation("start_time", "start_time must be RFC3339")
		}
		exam.StartTime = start.UTC()
	}
	if req.EndTime != nil {
		end, err := dto.ParseTimestamp(*req.EndTime)
		if err != nil {
			return dto.ExamResponse{}, apperror.Validation("end_time", "end_time must be RFC3339")
		}
		exam.EndTime = end.UTC()
	}
	if req.TotalMarks != nil {
		exam.TotalMarks = *req.TotalMarks
	}
	if req.PassingMarks != nil {
		exam.PassingMarks = *req.PassingMarks
	}
	if req.MaxAttempts != nil {
		exam.MaxAttempts = *req.MaxAttempts
	}
	if req.AllowedRoles != nil {
		roles, err := parseAllowedRoles(req.AllowedRoles)
		if err != nil {
			return dto.ExamResponse{}, err
		}
		exam.AllowedRoles = roles
	}

	if err := validateExam(exam); err != nil {
		return dto.ExamResponse{}, err
	}

	questions, err := s.exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		return dto.ExamResponse{}, err
	}
	if req.Subject != nil {
		for _, question := range questions {
			if !sameSubject(question.Subject, exam.Subject) {
				return dto.ExamResponse{}, apperror.Validation("subject", "attached questions belong to a different subject")
			}
		}
	}
	if sumMarks(questions) > exam.TotalMarks {
		return dto.ExamResponse{}, apperror.Validation("total_marks", "total_marks is lower than the marks of the attached questions")
	}

	if err := s.exams.Update(ctx, &exam); err != nil {
		span.RecordError(err)
		return dto.ExamResponse{}, err
	}

	s.logger.Info().Uint("exam_id", exam.ID).Uint("actor_id", actor.ID).Msg("exam updated")
	return s.fullResponse(exam, questions), nil
}

// Delete deactivates the exam; attempts and results keep referencing it.
func (s *examService) Delete(ctx context.Context, actor authz.Identity, id uint) error {
	exam, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionExamDelete, Now: s.now(), Exam: &exam}); err != nil {
		return err
	}

	if err := s.exams.SoftDelete(ctx, exam.ID); err != nil {
		return notFound(err, apperror.ErrExamNotFound)
	}

	s.logger.Info().Uint("exam_id", exam.ID).Uint("actor_id", actor.ID).Msg("exam deactivated")
	return nil
}

func (s *examService) AddQuestions(ctx context.Context, actor authz.Identity, id uint, req dto.ExamQuestionsRequest) (dto.ExamResponse, error) {
	exam, current, err := s.prepareQuestionChange(ctx, actor, id, req)
	if err != nil {
		return dto.ExamResponse{}, err
	}

	currentIDs := questionIDs(current)
	for _, questionID := range req.QuestionIDs {
		if containsID(currentIDs, questionID) {
			return dto.ExamResponse{}, apperror.Validation("question_ids", "question is already part of the exam").
				WithDetail("question_id", questionID)
		}
	}

	added, err := s.loadQuestions(ctx, actor, exam, req.QuestionIDs, current)
	if err != nil {
		return dto.ExamResponse{}, err
	}

	ordered := append(append([]uint{}, currentIDs...), req.QuestionIDs...)
	if err := s.exams.ReplaceQuestions(ctx, exam.ID, ordered); err != nil {
		return dto.ExamResponse{}, err
	}

	questions := append(current, orderByIDs(added, req.QuestionIDs)...)
	s.logger.Info().Uint("exam_id", exam.ID).Int("added", len(req.QuestionIDs)).Msg("questions added to exam")
	return s.fullResponse(exam, questions), nil
}

func (s *examService) RemoveQuestions(ctx context.Context, actor authz.Identity, id uint, req dto.ExamQuestionsRequest) (dto.ExamResponse, error) {
	exam, current, err := s.prepareQuestionChange(ctx, actor, id, req)
	if err != nil {
		return dto.ExamResponse{}, err
	}

	currentIDs := questionIDs(current)
	for _, questionID := range req.QuestionIDs {
		if !containsID(currentIDs, questionID) {
			return dto.ExamResponse{}, apperror.ErrQuestionNotFound.
				WithMessage("question is not part of the exam").
				WithDetail("question_id", questionID)
		}
	}

	remaining := make([]models.Question, 0, len(current))
	for _, question := range current {
		if !containsID(req.QuestionIDs, question.ID) {
			remaining = append(remaining, question)
		}
	}

	if err := s.exams.ReplaceQuestions(ctx, exam.ID, questionIDs(remaining)); err != nil {
		return dto.ExamResponse{}, err
	}

	s.logger.Info().Uint("exam_id", exam.ID).Int("removed", len(req.QuestionIDs)).Msg("questions removed from exam")
	return s.fullResponse(exam, remaining), nil
}

// ReorderQuestions accepts only a permutation of the current question list.
func (s *examService) ReorderQuestions(ctx context.Context, actor authz.Identity, id uint, req dto.ExamQuestionsRequest) (dto.ExamResponse, error) {
	exam, current, err := s.prepareQuestionChange(ctx, actor, id, req)
	if err != nil {
		return dto.ExamResponse{}, err
	}

	currentIDs := questionIDs(current)
	if len(req.QuestionIDs) != len(currentIDs) {
		return dto.ExamResponse{}, apperror.Validation("question_ids", "question_ids must list every exam question exactly once")
	}
	for _, questionID := range req.QuestionIDs {
		if !containsID(currentIDs, questionID) {
			return dto.ExamResponse{}, apperror.Validation("question_ids", "question_ids must list every exam question exactly once")
		}
	}

	if err := s.exams.ReplaceQuestions(ctx, exam.ID, req.QuestionIDs); err != nil {
		return dto.ExamResponse{}, err
	}

	return s.fullResponse(exam, orderByIDs(current, req.QuestionIDs)), nil
}

// Clock reports where the server clock stands relative to the exam window.
// Students may watch the countdown of any exam they could take; teachers only
// their own.
func (s *examService) Clock(ctx context.Context, actor authz.Identity, id uint) (dto.ExamClockFrame, error) {
	exam, err := s.load(ctx, id)
	if err != nil {
		return dto.ExamClockFrame{}, err
	}
	if !exam.IsActive {
		return dto.ExamClockFrame{}, authz.ErrExamInactive.WithDetail("exam_id", exam.ID)
	}
	now := s.now()
	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionExamClock, Now: now, Exam: &exam}); err != nil {
		return dto.ExamClockFrame{}, err
	}
	return ClockFrame(exam, now), nil
}

// ClockFrame computes the advisory countdown for an exam at the given instant.
func ClockFrame(exam models.Exam, now time.Time) dto.ExamClockFrame {
	frame := dto.ExamClockFrame{ExamID: exam.ID, ServerTime: now.UTC()}
	switch {
	case now.Before(exam.StartTime):
		frame.State = ClockUpcoming
		frame.StartsInSeconds = int64(exam.StartTime.Sub(now).Seconds())
		frame.RemainingSeconds = int64(exam.EndTime.Sub(now).Seconds())
	case exam.IsOpen(now):
		frame.State = ClockOpen
		frame.RemainingSeconds = int64(exam.EndTime.Sub(now).Seconds())
	default:
		frame.State = ClockClosed
	}
	return frame
}

func (s *examService) prepareQuestionChange(ctx context.Context, actor authz.Identity, id uint, req dto.ExamQuestionsRequest) (models.Exam, []models.Question, error) {
	exam, err := s.load(ctx, id)
	if err != nil {
		return models.Exam{}, nil, err
	}
	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionExamQuestions, Now: s.now(), Exam: &exam}); err != nil {
		return models.Exam{}, nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return models.Exam{}, nil, apperror.FromValidation(err)
	}

	current, err := s.exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		return models.Exam{}, nil, err
	}
	return exam, current, nil
}

// loadQuestions checks that every id exists, is readable by the actor, shares
// the exam subject and fits the exam's total marks.
func (s *examService) loadQuestions(ctx context.Context, actor authz.Identity, exam models.Exam, ids []uint, current []models.Question) ([]models.Question, error) {
	found, err := s.questions.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[uint]models.Question, len(found))
	for _, question := range found {
		byID[question.ID] = question
	}

	missing := make([]uint, 0)
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, apperror.ErrQuestionNotFound.WithDetail("question_ids", missing)
	}

	for _, question := range found {
		owner := question.CreatedBy
		if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionQuestionView, OwnerID: &owner}); err != nil {
			var appErr *apperror.Error
			if errors.As(err, &appErr) {
				return nil, appErr.WithDetail("question_id", question.ID)
			}
			return nil, err
		}
		if !sameSubject(question.Subject, exam.Subject) {
			return nil, apperror.Validation("question_ids", fmt.Sprintf("question %d does not belong to subject %q", question.ID, exam.Subject)).
				WithDetail("question_id", question.ID)
		}
	}

	if sumMarks(current)+sumMarks(found) > exam.TotalMarks {
		return nil, apperror.Validation("question_ids", "question marks exceed the exam total marks").
			WithDetail("total_marks", exam.TotalMarks)
	}

	return found, nil
}

func (s *examService) load(ctx context.Context, id uint) (models.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if err != nil {
		return models.Exam{}, notFound(err, apperror.ErrExamNotFound)
	}
	return exam, nil
}

func (s *examService) fullResponse(exam models.Exam, questions []models.Question) dto.ExamResponse {
	response := dto.NewExamResponse(exam)
	response.QuestionCount = len(questions)
	response.Questions = dto.NewQuestionResponseSlice(questions)
	return response
}

func validateExam(exam models.Exam) error {
	if exam.Title == "" {
		return apperror.Validation("title", "title is required")
	}
	if exam.Subject == "" {
		return apperror.Validation("subject", "subject is required")
	}
	if exam.Description == "" {
		return apperror.Validation("description", "description is required")
	}
	if !exam.StartTime.Before(exam.EndTime) {
		return apperror.Validation("end_time", "end_time must be after start_time")
	}
	if exam.PassingMarks > exam.TotalMarks {
		return apperror.Validation("passing_marks", "passing_marks cannot exceed total_marks")
	}
	if len(exam.AllowedRoles) == 0 {
		return apperror.Validation("allowed_roles", "at least one role must be allowed")
	}
	return nil
}

func parseAllowedRoles(values []string) ([]models.Role, error) {
	if len(values) == 0 {
		return []models.Role{models.RoleStudent}, nil
	}
	roles := make([]models.Role, 0, len(values))
	for _, value := range values {
		role, ok := models.ParseRole(value)
		if !ok {
			return nil, apperror.Validation("allowed_roles", fmt.Sprintf("unknown role %q", value))
		}
		if !containsRole(roles, role) {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func containsRole(roles []models.Role, role models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func sameSubject(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func sumMarks(questions []models.Question) int {
	total := 0
	for _, question := range questions {
		total += question.Marks
	}
	return total
}

func questionIDs(questions []models.Question) []uint {
	ids := make([]uint, 0, len(questions))
	for _, question := range questions {
		ids = append(ids, question.ID)
	}
	return ids
}

func containsID(ids []uint, id uint) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func orderByIDs(questions []models.Question, ids []uint) []models.Question {
	byID := make(map[uint]models.Question, len(questions))
	for _, question := range questions {
		byID[question.ID] = question
	}
	ordered := make([]models.Question, 0, len(ids))
	for _, id := range ids {
		if question, ok := byID[id]; ok {
			ordered = append(ordered, question)
		}
	}
	return ordered
}
