package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

// FileStorage abstracts the object store used for question images.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// QuestionService manages the question bank.
type QuestionService interface {
	Create(ctx context.Context, actor authz.Identity, req dto.QuestionCreateRequest) (dto.QuestionResponse, error)
	Get(ctx context.Context, actor authz.Identity, id uint) (dto.QuestionResponse, error)
	List(ctx context.Context, actor authz.Identity, req dto.QuestionListRequest) (dto.QuestionListResponse, error)
	Update(ctx context.Context, actor authz.Identity, id uint, req dto.QuestionUpdateRequest) (dto.QuestionResponse, error)
	Delete(ctx context.Context, actor authz.Identity, id uint) error
	UploadImage(ctx context.Context, actor authz.Identity, id uint, file *multipart.FileHeader) (dto.QuestionResponse, error)
}

type questionService struct {
	questions repository.QuestionRepository
	gate      *authz.Gate
	storage   FileStorage
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	maxUpload int64
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewQuestionService constructs the question bank service. A nil storage disables image uploads.
func NewQuestionService(questions repository.QuestionRepository, gate *authz.Gate, storage FileStorage, maxUploadMB int, validate *validator.Validate, logger zerolog.Logger) QuestionService {
	if maxUploadMB <= 0 {
		maxUploadMB = 5
	}
	return &questionService{
		questions: questions,
		gate:      gate,
		storage:   storage,
		validator: validate,
		sanitizer: bluemonday.UGCPolicy(),
		maxUpload: int64(maxUploadMB) * 1024 * 1024,
		logger:    logger.With().Str("component", "question_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-exam-api/internal/service/question"),
		now:       time.Now,
	}
}

func (s *questionService) Create(ctx context.Context, actor authz.Identity, req dto.QuestionCreateRequest) (dto.QuestionResponse, error) {
	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionQuestionCreate}); err != nil {
		return dto.QuestionResponse{}, err
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.QuestionResponse{}, apperror.FromValidation(err)
	}

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = "medium"
	}

	question := models.Question{
		Text:          strings.TrimSpace(s.sanitizer.Sanitize(req.Text)),
		Type:          models.QuestionType(req.Type),
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
		Marks:         req.Marks,
		Difficulty:    difficulty,
		Subject:       strings.TrimSpace(req.Subject),
		Explanation:   strings.TrimSpace(s.sanitizer.Sanitize(req.Explanation)),
		CreatedBy:     actor.ID,
	}
	if err := normalizeQuestion(&question); err != nil {
		return dto.QuestionResponse{}, err
	}

	if err := s.questions.Create(ctx, &question); err != nil {
		return dto.QuestionResponse{}, err
	}

	s.logger.Info().Uint("question_id", question.ID).Uint("created_by", actor.ID).Str("type", string(question.Type)).Msg("question created")
	return dto.NewQuestionResponse(question), nil
}

func (s *questionService) Get(ctx context.Context, actor authz.Identity, id uint) (dto.QuestionResponse, error) {
	question, err := s.load(ctx, id)
	if err != nil {
		return dto.QuestionResponse{}, err
	}
	if err := s.authorize(actor, authz.ActionQuestionView, question); err != nil {
		return dto.QuestionResponse{}, err
	}
	return dto.NewQuestionResponse(question), nil
}

func (s *questionService) List(ctx context.Context, actor authz.Identity, req dto.QuestionListRequest) (dto.QuestionListResponse, error) {
	if err := s.gate.Authorize(authz.Request{Identity: actor, Action: authz.ActionQuestionView, OwnerID: &actor.ID}); err != nil {
		return dto.QuestionListResponse{}, err
	}

	page, pageSize := dto.NormalizePage(req.Page, req.PageSize)
	filter := repository.QuestionFilter{
		Subject:    req.Subject,
		Type:       models.QuestionType(req.Type),
		Difficulty: req.Difficulty,
		Search:     req.Search,
		Page:       page,
		PageSize:   pageSize,
	}
	if actor.Role != models.RoleAdmin {
		owner := actor.ID
		filter.CreatedBy = &owner
	}

	questions, total, err := s.questions.List(ctx, filter)
	if err != nil {
		return dto.QuestionListResponse{}, err
	}

	return dto.QuestionListResponse{
		Items:      dto.NewQuestionResponseSlice(questions),
		Pagination: dto.NewPaginationMeta(page, pageSize, total),
	}, nil
}

func (s *questionService) Update(ctx context.Context, actor authz.Identity, id uint, req dto.QuestionUpdateRequest) (dto.QuestionResponse, error) {
	question, err := s.load(ctx, id)
	if err != nil {
		return dto.QuestionResponse{}, err
	}
	if err := s.authorize(actor, authz.ActionQuestionUpdate, question); err != nil {
		return dto.QuestionResponse{}, err
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.QuestionResponse{}, apperror.FromValidation(err)
	}
	if err := s.ensureNotInUse(ctx, question.ID); err != nil {
		return dto.QuestionResponse{}, err
	}
	previousMarks := question.Marks

	if req.Text != nil {
		question.Text = strings.TrimSpace(s.sanitizer.Sanitize(*req.Text))
	}
	if req.Type != nil {
		question.Type = models.QuestionType(*req.Type)
	}
	if req.Options != nil {
		question.Options = req.Options
	}
	if req.CorrectAnswer != nil {
		question.CorrectAnswer = *req.CorrectAnswer
	}
	if req.Marks != nil {
		question.Marks = *req.Marks
	}
	if req.Difficulty != nil {
		question.Difficulty = *req.Difficulty
	}
	if req.Subject != nil {
		question.Subject = strings.TrimSpace(*req.Subject)
	}
	if req.Explanation != nil {
		question.Explanation = strings.TrimSpace(s.sanitizer.Sanitize(*req.Explanation))
	}

	if err := normalizeQuestion(&question); err != nil {
		return dto.QuestionResponse{}, err
	}
	if err := s.ensureFitsExams(ctx, question, previousMarks); err != nil {
		return dto.QuestionResponse{}, err
	}
	if err := s.questions.Update(ctx, &question); err != nil {
		return dto.QuestionResponse{}, err
	}

	return dto.NewQuestionResponse(question), nil
}

// Delete removes the question permanently unless a started exam still uses it.
func (s *questionService) Delete(ctx context.Context, actor authz.Identity, id uint) error {
	question, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, authz.ActionQuestionDelete, question); err != nil {
		return err
	}
	if err := s.ensureNotInUse(ctx, question.ID); err != nil {
		return err
	}

	if err := s.questions.Delete(ctx, question.ID); err != nil {
		return notFound(err, apperror.ErrQuestionNotFound)
	}

	s.logger.Info().Uint("question_id", question.ID).Uint("actor_id", actor.ID).Msg("question deleted")
	return nil
}

func (s *questionService) UploadImage(ctx context.Context, actor authz.Identity, id uint, file *multipart.FileHeader) (dto.QuestionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "question.upload_image")
	defer span.End()

	if s.storage == nil {
		return dto.QuestionResponse{}, apperror.ErrUploadDisabled
	}

	question, err := s.load(ctx, id)
	if err != nil {
		return dto.QuestionResponse{}, err
	}
	if err := s.authorize(actor, authz.ActionQuestionUpdate, question); err != nil {
		return dto.QuestionResponse{}, err
	}

	if file == nil {
		return dto.QuestionResponse{}, apperror.Validation("file", "file is required")
	}
	span.SetAttributes(attribute.Int64("upload.request_size", file.Size), attribute.Int64("upload.max_bytes", s.maxUpload))
	if file.Size > s.maxUpload {
		observability.UploadRejected().WithLabelValues("size").Inc()
		return dto.QuestionResponse{}, apperror.ErrUploadTooLarge.WithDetail("max_bytes", s.maxUpload)
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		return dto.QuestionResponse{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxUpload+1)); err != nil {
		span.RecordError(err)
		return dto.QuestionResponse{}, err
	}
	if int64(buf.Len()) > s.maxUpload {
		observability.UploadRejected().WithLabelValues("size").Inc()
		return dto.QuestionResponse{}, apperror.ErrUploadTooLarge.WithDetail("max_bytes", s.maxUpload)
	}

	detected := mimetype.Detect(buf.Bytes())
	span.SetAttributes(attribute.String("upload.detected_mime", detected.String()))
	if !strings.HasPrefix(detected.String(), "image/") {
		observability.UploadRejected().WithLabelValues("type").Inc()
		return dto.QuestionResponse{}, apperror.ErrUploadNotAllowed.WithDetail("detected", detected.String())
	}

	name := imageFileName(question.ID, file.Filename, detected.Extension())
	url, err := s.storage.Upload(ctx, name, bytes.NewReader(buf.Bytes()))
	if err != nil {
		observability.UploadRejected().WithLabelValues("storage").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return dto.QuestionResponse{}, err
	}

	question.ImageURL = url
	if err := s.questions.Update(ctx, &question); err != nil {
		return dto.QuestionResponse{}, err
	}

	span.SetStatus(codes.Ok, "stored")
	return dto.NewQuestionResponse(question), nil
}

func (s *questionService) authorize(actor authz.Identity, action authz.Action, question models.Question) error {
	owner := question.CreatedBy
	return s.gate.Authorize(authz.Request{Identity: actor, Action: action, OwnerID: &owner, Now: s.now()})
}

func (s *questionService) ensureNotInUse(ctx context.Context, id uint) error {
	inUse, err := s.questions.UsedByStartedExam(ctx, id, s.now())
	if err != nil {
		return err
	}
	if inUse {
		return apperror.ErrQuestionInUse.WithDetail("question_id", id)
	}
	return nil
}

// ensureFitsExams keeps every exam holding the question consistent after an
// edit: same subject, and attached marks within the exam's total.
func (s *questionService) ensureFitsExams(ctx context.Context, question models.Question, previousMarks int) error {
	usages, err := s.questions.ExamsUsing(ctx, question.ID)
	if err != nil {
		return err
	}

	for _, usage := range usages {
		exam := usage.Exam
		if !sameSubject(question.Subject, exam.Subject) {
			return apperror.Validation("subject", fmt.Sprintf("question is used by exam %d with subject %q", exam.ID, exam.Subject)).
				WithDetail("exam_id", exam.ID)
		}
		if usage.AttachedMarks-previousMarks+question.Marks > exam.TotalMarks {
			return apperror.Validation("marks", "question marks would exceed the total marks of an exam using it").
				WithDetail("exam_id", exam.ID).
				WithDetail("total_marks", exam.TotalMarks)
		}
	}
	return nil
}

func (s *questionService) load(ctx context.Context, id uint) (models.Question, error) {
	question, err := s.questions.GetByID(ctx, id)
	if err != nil {
		return models.Question{}, notFound(err, apperror.ErrQuestionNotFound)
	}
	return question, nil
}

// normalizeQuestion enforces the per-type option and answer rules.
func normalizeQuestion(question *models.Question) error {
	if question.Text == "" {
		return apperror.Validation("text", "text is empty after sanitising")
	}
	if question.Marks < 1 {
		return apperror.Validation("marks", "marks must be at least 1")
	}

	switch question.Type {
	case models.QuestionMultipleChoice:
		seen := make(map[string]struct{}, len(question.Options))
		options := make([]string, 0, len(question.Options))
		for _, option := range question.Options {
			option = strings.TrimSpace(option)
			if option == "" {
				return apperror.Validation("options", "options cannot be empty")
			}
			if _, dup := seen[option]; dup {
				return apperror.Validation("options", fmt.Sprintf("option %q is duplicated", option))
			}
			seen[option] = struct{}{}
			options = append(options, option)
		}
		if len(options) < 2 {
			return apperror.Validation("options", "multiple choice questions need at least two options")
		}
		if _, ok := seen[question.CorrectAnswer]; !ok {
			return apperror.Validation("correct_answer", "correct_answer must be one of the options")
		}
		question.Options = options
	case models.QuestionTrueFalse:
		if question.CorrectAnswer != models.AnswerTrue && question.CorrectAnswer != models.AnswerFalse {
			return apperror.Validation("correct_answer", "correct_answer must be True or False")
		}
		question.Options = []string{models.AnswerTrue, models.AnswerFalse}
	case models.QuestionShortAnswer, models.QuestionEssay:
		question.Options = nil
	default:
		return apperror.Validation("type", "unsupported question type")
	}

	return nil
}

func imageFileName(questionID uint, original, extension string) string {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(original), filepath.Ext(original)))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = "image"
	}
	return fmt.Sprintf("question-%d-%s%s", questionID, base, extension)
}
