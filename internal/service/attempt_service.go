package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/grading"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

// AttemptService runs the exam-taking flow and exposes results.
type AttemptService interface {
	Start(ctx context.Context, actor authz.Identity, examID uint) (dto.AttemptResponse, error)
	Submit(ctx context.Context, actor authz.Identity, examID uint, req dto.SubmitAttemptRequest) (dto.ResultResponse, error)
	Abandon(ctx context.Context, actor authz.Identity, resultID uint) (dto.ResultResponse, error)
	GetResult(ctx context.Context, actor authz.Identity, resultID uint) (dto.ResultResponse, error)
	ListMine(ctx context.Context, actor authz.Identity, req dto.ResultListRequest) (dto.ResultListResponse, error)
	ListByExam(ctx context.Context, actor authz.Identity, examID uint, req dto.ResultListRequest) (dto.ResultListResponse, error)
	Summary(ctx context.Context, actor authz.Identity, examID uint) (dto.ResultSummaryResponse, error)
}

type attemptService struct {
	exams     repository.ExamRepository
	results   repository.ResultRepository
	gate      *authz.Gate
	events    ResultPublisher
	cache     *redis.Client
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewAttemptService constructs the attempt workflow. cache may be nil.
func NewAttemptService(
	exams repository.ExamRepository,
	results repository.ResultRepository,
	gate *authz.Gate,
	events ResultPublisher,
	cache *redis.Client,
	cacheTTL time.Duration,
	validate *validator.Validate,
	logger zerolog.Logger,
) AttemptService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &attemptService{
		exams:     exams,
		results:   results,
		gate:      gate,
		events:    events,
		cache:     cache,
		cacheTTL:  cacheTTL,
		validator: validate,
		logger:    logger.With().Str("component", "attempt_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-exam-api/internal/service/attempt"),
		now:       time.Now,
	}
}

// Start opens a new attempt or resumes the one already in progress.
func (s *attemptService) Start(ctx context.Context, actor authz.Identity, examID uint) (dto.AttemptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attempt.start")
	defer span.End()
	span.SetAttributes(attribute.Int("exam.id", int(examID)), attribute.Int("student.id", int(actor.ID)))

	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	now := s.now()
	if err := s.authorizeAttempt(ctx, actor, exam, now); err != nil {
		span.SetStatus(codes.Error, "attempt denied")
		return dto.AttemptResponse{}, err
	}

	result, resumed, err := s.openAttempt(ctx, actor.ID, exam, now)
	if err != nil {
		span.RecordError(err)
		return dto.AttemptResponse{}, err
	}

	questions, err := s.exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	examResponse := dto.NewExamResponse(exam)
	examResponse.QuestionCount = len(questions)

	return dto.AttemptResponse{
		Result:   dto.NewResultResponse(result),
		Exam:     examResponse,
		Paper:    dto.NewQuestionPaper(questions),
		Resumed:  resumed,
		Deadline: attemptDeadline(exam, result.StartedAt),
	}, nil
}

func (s *attemptService) openAttempt(ctx context.Context, studentID uint, exam models.Exam, now time.Time) (models.ExamResult, bool, error) {
	existing, err := s.results.GetInProgress(ctx, studentID, exam.ID)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ExamResult{}, false, err
	}

	attempts, err := s.results.CountAttempts(ctx, studentID, exam.ID)
	if err != nil {
		return models.ExamResult{}, false, err
	}

	result := models.ExamResult{
		StudentID:     studentID,
		ExamID:        exam.ID,
		AttemptNumber: int(attempts) + 1,
		Status:        models.ResultInProgress,
		TotalMarks:    exam.TotalMarks,
		StartedAt:     now.UTC(),
	}
	if err := s.results.Create(ctx, &result); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.ExamResult{}, false, err
		}
		// A concurrent start won the attempt number; hand back its attempt.
		existing, lookupErr := s.results.GetInProgress(ctx, studentID, exam.ID)
		if lookupErr != nil {
			return models.ExamResult{}, false, apperror.ErrAttemptAlreadySubmitted
		}
		return existing, true, nil
	}

	s.logger.Info().Uint("result_id", result.ID).Uint("exam_id", exam.ID).Uint("student_id", studentID).Int("attempt", result.AttemptNumber).Msg("attempt started")
	return result, false, nil
}

// Submit scores the answers. The exam window is re-checked here because the
// client countdown is advisory only.
func (s *attemptService) Submit(ctx context.Context, actor authz.Identity, examID uint, req dto.SubmitAttemptRequest) (dto.ResultResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attempt.submit")
	defer span.End()
	span.SetAttributes(attribute.Int("exam.id", int(examID)), attribute.Int("student.id", int(actor.ID)))

	if err := s.validator.Struct(req); err != nil {
		return dto.ResultResponse{}, apperror.FromValidation(err)
	}

	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return dto.ResultResponse{}, err
	}

	now := s.now()
	if err := s.authorizeAttempt(ctx, actor, exam, now); err != nil {
		span.SetStatus(codes.Error, "submission denied")
		return dto.ResultResponse{}, err
	}

	questions, err := s.exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		return dto.ResultResponse{}, err
	}

	scored := grading.Score(gradingQuestions(questions), exam.TotalMarks, exam.PassingMarks, gradingSubmissions(req.Answers))

	result, err := s.persistScore(ctx, actor.ID, exam, scored, now)
	if err != nil {
		span.RecordError(err)
		return dto.ResultResponse{}, err
	}

	observability.ExamSubmissions().WithLabelValues(string(models.ResultCompleted), strconv.FormatBool(result.IsPassed)).Inc()
	observability.ExamScores().Observe(result.Percentage)
	span.SetAttributes(attribute.Float64("result.percentage", result.Percentage), attribute.Bool("result.passed", result.IsPassed))

	s.invalidateSummary(ctx, exam.ID)
	s.publishCompleted(ctx, result)

	s.logger.Info().
		Uint("result_id", result.ID).
		Uint("exam_id", exam.ID).
		Uint("student_id", actor.ID).
		Int("marks_obtained", result.MarksObtained).
		Float64("percentage", result.Percentage).
		Bool("passed", result.IsPassed).
		Msg("attempt submitted")

	return dto.NewResultResponse(result), nil
}

// persistScore completes the in-progress attempt, or records a completed attempt
// directly when the student never called Start.
func (s *attemptService) persistScore(ctx context.Context, studentID uint, exam models.Exam, scored grading.Result, now time.Time) (models.ExamResult, error) {
	completedAt := now.UTC()
	result := models.ExamResult{
		StudentID:     studentID,
		ExamID:        exam.ID,
		Status:        models.ResultCompleted,
		TotalMarks:    scored.TotalMarks,
		MarksObtained: scored.MarksObtained,
		Percentage:    scored.Percentage,
		IsPassed:      scored.IsPassed,
		StartedAt:     completedAt,
		CompletedAt:   &completedAt,
		Answers:       resultAnswers(scored.Answers),
	}

	inProgress, err := s.results.GetInProgress(ctx, studentID, exam.ID)
	switch {
	case err == nil:
		result.ID = inProgress.ID
		result.AttemptNumber = inProgress.AttemptNumber
		result.StartedAt = inProgress.StartedAt
		result.DurationSeconds = int(completedAt.Sub(inProgress.StartedAt).Seconds())
		if err := s.results.Complete(ctx, &result); err != nil {
			if errors.Is(err, repository.ErrResultStateChanged) {
				return models.ExamResult{}, apperror.ErrAttemptAlreadySubmitted
			}
			return models.ExamResult{}, err
		}
		return result, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return models.ExamResult{}, err
	}

	attempts, err := s.results.CountAttempts(ctx, studentID, exam.ID)
	if err != nil {
		return models.ExamResult{}, err
	}
	result.AttemptNumber = int(attempts) + 1
	if err := s.results.Create(ctx, &result); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.ExamResult{}, apperror.ErrAttemptAlreadySubmitted
		}
		return models.ExamResult{}, err
	}
	return result, nil
}

// Abandon closes an in-progress attempt without scoring; it still counts toward max attempts.
func (s *attemptService) Abandon(ctx context.Context, actor authz.Identity, resultID uint) (dto.ResultResponse, error) {
	result, err := s.loadResult(ctx, resultID)
	if err != nil {
		return dto.ResultResponse{}, err
	}
	if result.StudentID != actor.ID {
		return dto.ResultResponse{}, authz.ErrNotResultOwner.WithDetail("result_id", result.ID)
	}
	if result.Status != models.ResultInProgress {
		return dto.ResultResponse{}, apperror.ErrAttemptNotInProgress.WithDetail("status", result.Status)
	}

	if err := s.results.Abandon(ctx, result.ID); err != nil {
		if errors.Is(err, repository.ErrResultStateChanged) {
			return dto.ResultResponse{}, apperror.ErrAttemptNotInProgress
		}
		return dto.ResultResponse{}, err
	}

	now := s.now().UTC()
	result.Status = models.ResultAbandoned
	result.DurationSeconds = int(now.Sub(result.StartedAt).Seconds())
	observability.ExamSubmissions().WithLabelValues(string(models.ResultAbandoned), "false").Inc()
	s.logger.Info().Uint("result_id", result.ID).Uint("student_id", actor.ID).Msg("attempt abandoned")

	return dto.NewResultResponse(result), nil
}

func (s *attemptService) GetResult(ctx context.Context, actor authz.Identity, resultID uint) (dto.ResultResponse, error) {
	result, err := s.loadResult(ctx, resultID)
	if err != nil {
		return dto.ResultResponse{}, err
	}

	exam, err := s.loadExam(ctx, result.ExamID)
	if err != nil {
		return dto.ResultResponse{}, err
	}

	owner := result.StudentID
	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionResultView, Now: s.now(), Exam: &exam, OwnerID: &owner}); err != nil {
		return dto.ResultResponse{}, err
	}

	return dto.NewResultResponse(result), nil
}

func (s *attemptService) ListMine(ctx context.Context, actor authz.Identity, req dto.ResultListRequest) (dto.ResultListResponse, error) {
	studentID := actor.ID
	return s.list(ctx, repository.ResultFilter{StudentID: &studentID}, req)
}

func (s *attemptService) ListByExam(ctx context.Context, actor authz.Identity, examID uint, req dto.ResultListRequest) (dto.ResultListResponse, error) {
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return dto.ResultListResponse{}, err
	}
	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionExamResults, Now: s.now(), Exam: &exam}); err != nil {
		return dto.ResultListResponse{}, err
	}

	id := exam.ID
	return s.list(ctx, repository.ResultFilter{ExamID: &id}, req)
}

func (s *attemptService) list(ctx context.Context, filter repository.ResultFilter, req dto.ResultListRequest) (dto.ResultListResponse, error) {
	page, pageSize := dto.NormalizePage(req.Page, req.PageSize)
	filter.Page = page
	filter.PageSize = pageSize

	if req.Status != "" {
		switch status := models.ResultStatus(req.Status); status {
		case models.ResultInProgress, models.ResultCompleted, models.ResultAbandoned:
			filter.Status = status
		default:
			return dto.ResultListResponse{}, apperror.Validation("status", "status must be in_progress, completed or abandoned")
		}
	}

	results, total, err := s.results.List(ctx, filter)
	if err != nil {
		return dto.ResultListResponse{}, err
	}

	return dto.ResultListResponse{
		Items:      dto.NewResultResponseSlice(results),
		Pagination: dto.NewPaginationMeta(page, pageSize, total),
	}, nil
}

// Summary aggregates completed attempts of an exam, served from redis when warm.
func (s *attemptService) Summary(ctx context.Context, actor authz.Identity, examID uint) (dto.ResultSummaryResponse, error) {
	exam, err := s.loadExam(ctx, examID)
	if err != nil {
		return dto.ResultSummaryResponse{}, err
	}
	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionExamResults, Now: s.now(), Exam: &exam}); err != nil {
		return dto.ResultSummaryResponse{}, err
	}

	cacheKey := summaryCacheKey(exam.ID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.ResultSummaryResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				response.CacheHit = true
				return response, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read result summary cache")
		}
	}

	summary, err := s.results.Summary(ctx, exam.ID)
	if err != nil {
		return dto.ResultSummaryResponse{}, err
	}

	response := dto.ResultSummaryResponse{
		ExamID:            exam.ID,
		Attempts:          summary.Attempts,
		Passed:            summary.Passed,
		AveragePercentage: grading.Round2(summary.AveragePercentage),
		HighestPercentage: summary.HighestPercentage,
		LowestPercentage:  summary.LowestPercentage,
	}
	if summary.Attempts > 0 {
		response.PassRate = grading.Percentage(int(summary.Passed), int(summary.Attempts))
	}

	if s.cache != nil {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store result summary cache")
			}
		}
	}

	return response, nil
}

// authorizeAttempt counts finished attempts and asks the gate. Completed and
// abandoned attempts both count; an in-progress attempt does not.
func (s *attemptService) authorizeAttempt(ctx context.Context, actor authz.Identity, exam models.Exam, now time.Time) error {
	finished, err := s.results.CountFinished(ctx, actor.ID, exam.ID)
	if err != nil {
		return err
	}

	err = s.gate.Authorize(authz.Request{
		Identity:      actor,
		Action:        authz.ActionExamAttempt,
		Now:           now,
		Exam:          &exam,
		PriorAttempts: int(finished),
	})
	if err != nil {
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			observability.AuthzDenials().WithLabelValues(string(authz.ActionExamAttempt), appErr.Code).Inc()
		}
		return err
	}
	return nil
}

func (s *attemptService) invalidateSummary(ctx context.Context, examID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, summaryCacheKey(examID)).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("exam_id", examID).Msg("failed to invalidate result summary cache")
	}
}

func (s *attemptService) publishCompleted(ctx context.Context, result models.ExamResult) {
	if s.events == nil {
		return
	}
	event := ResultCompletedEvent{
		ResultID:      result.ID,
		ExamID:        result.ExamID,
		StudentID:     result.StudentID,
		AttemptNumber: result.AttemptNumber,
		MarksObtained: result.MarksObtained,
		TotalMarks:    result.TotalMarks,
		Percentage:    result.Percentage,
		IsPassed:      result.IsPassed,
	}
	if result.CompletedAt != nil {
		event.CompletedAt = *result.CompletedAt
	}
	if err := s.events.PublishCompleted(ctx, event); err != nil {
		s.logger.Warn().Err(err).Uint("result_id", result.ID).Msg("failed to publish result event")
	}
}

func (s *attemptService) loadExam(ctx context.Context, id uint) (models.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if err != nil {
		return models.Exam{}, notFound(err, apperror.ErrExamNotFound)
	}
	return exam, nil
}

func (s *attemptService) loadResult(ctx context.Context, id uint) (models.ExamResult, error) {
	result, err := s.results.GetByID(ctx, id)
	if err != nil {
		return models.ExamResult{}, notFound(err, apperror.ErrResultNotFound)
	}
	return result, nil
}

func summaryCacheKey(examID uint) string {
	return fmt.Sprintf("exam:results:summary:%d", examID)
}

// attemptDeadline is the earlier of the exam end and the attempt's duration budget.
func attemptDeadline(exam models.Exam, startedAt time.Time) time.Time {
	deadline := startedAt.Add(time.Duration(exam.DurationMinutes) * time.Minute)
	if exam.EndTime.Before(deadline) {
		return exam.EndTime
	}
	return deadline
}

func gradingQuestions(questions []models.Question) []grading.Question {
	out := make([]grading.Question, 0, len(questions))
	for _, question := range questions {
		out = append(out, grading.Question{ID: question.ID, CorrectAnswer: question.CorrectAnswer, Marks: question.Marks})
	}
	return out
}

func gradingSubmissions(answers []dto.AnswerSubmission) []grading.Submission {
	out := make([]grading.Submission, 0, len(answers))
	for _, answer := range answers {
		out = append(out, grading.Submission{
			QuestionID:       answer.QuestionID,
			SelectedAnswer:   answer.SelectedAnswer,
			TimeSpentSeconds: answer.TimeSpentSeconds,
		})
	}
	return out
}

func resultAnswers(scored []grading.ScoredAnswer) []models.ResultAnswer {
	answers := make([]models.ResultAnswer, 0, len(scored))
	for _, answer := range scored {
		answers = append(answers, models.ResultAnswer{
			QuestionID:       answer.QuestionID,
			Position:         answer.Position,
			SelectedAnswer:   answer.SelectedAnswer,
			IsCorrect:        answer.IsCorrect,
			MarksObtained:    answer.MarksObtained,
			TimeSpentSeconds: answer.TimeSpentSeconds,
		})
	}
	return answers
}
