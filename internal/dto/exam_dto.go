package dto

import (
	"time"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

const isoLayout = time.RFC3339

// ExamCreateRequest describes the payload for scheduling a new exam.
type ExamCreateRequest struct {
	Title           string   `json:"title" validate:"required,min=3,max=255"`
	Subject         string   `json:"subject" validate:"required,max=128"`
	Description     string   `json:"description" validate:"required"`
	DurationMinutes int      `json:"duration_minutes" validate:"required,min=1"`
	StartTime       string   `json:"start_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	EndTime         string   `json:"end_time" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	TotalMarks      int      `json:"total_marks" validate:"required,min=1"`
	PassingMarks    *int     `json:"passing_marks" validate:"required,min=0"`
	MaxAttempts     int      `json:"max_attempts" validate:"omitempty,min=1,max=100"`
	AllowedRoles    []string `json:"allowed_roles" validate:"omitempty,dive,oneof=student teacher admin"`
	QuestionIDs     []uint   `json:"question_ids" validate:"omitempty,unique,dive,min=1"`
}

// ExamUpdateRequest describes a partial exam update.
type ExamUpdateRequest struct {
	Title           *string  `json:"title" validate:"omitempty,min=3,max=255"`
	Subject         *string  `json:"subject" validate:"omitempty,min=1,max=128"`
	Description     *string  `json:"description" validate:"omitempty,min=1"`
	DurationMinutes *int     `json:"duration_minutes" validate:"omitempty,min=1"`
	StartTime       *string  `json:"start_time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndTime         *string  `json:"end_time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	TotalMarks      *int     `json:"total_marks" validate:"omitempty,min=1"`
	PassingMarks    *int     `json:"passing_marks" validate:"omitempty,min=0"`
	MaxAttempts     *int     `json:"max_attempts" validate:"omitempty,min=1,max=100"`
	AllowedRoles    []string `json:"allowed_roles" validate:"omitempty,dive,oneof=student teacher admin"`
}

// ExamQuestionsRequest lists question ids for add, remove and reorder operations.
type ExamQuestionsRequest struct {
	QuestionIDs []uint `json:"question_ids" validate:"required,min=1,unique,dive,min=1"`
}

// ExamListRequest defines listing filters.
type ExamListRequest struct {
	Subject  string
	Search   string
	Page     int
	PageSize int
}

// ExamResponse is the serialized exam. Questions are only populated on detail views.
type ExamResponse struct {
	ID              uint                `json:"id"`
	Title           string              `json:"title"`
	Subject         string              `json:"subject"`
	Description     string              `json:"description"`
	DurationMinutes int                 `json:"duration_minutes"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         time.Time           `json:"end_time"`
	TotalMarks      int                 `json:"total_marks"`
	PassingMarks    int                 `json:"passing_marks"`
	MaxAttempts     int                 `json:"max_attempts"`
	AllowedRoles    []models.Role       `json:"allowed_roles"`
	IsActive        bool                `json:"is_active"`
	CreatedBy       uint                `json:"created_by"`
	QuestionCount   int                 `json:"question_count"`
	Questions       []QuestionResponse  `json:"questions,omitempty"`
	Paper           []QuestionPaperItem `json:"paper,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// ExamListResponse wraps a paginated exam listing.
type ExamListResponse struct {
	Items      []ExamResponse `json:"items"`
	Pagination PaginationMeta `json:"pagination"`
}

// NewExamResponse converts a model into a DTO without questions.
func NewExamResponse(model models.Exam) ExamResponse {
	roles := make([]models.Role, 0, len(model.AllowedRoles))
	roles = append(roles, model.AllowedRoles...)

	return ExamResponse{
		ID:              model.ID,
		Title:           model.Title,
		Subject:         model.Subject,
		Description:     model.Description,
		DurationMinutes: model.DurationMinutes,
		StartTime:       model.StartTime,
		EndTime:         model.EndTime,
		TotalMarks:      model.TotalMarks,
		PassingMarks:    model.PassingMarks,
		MaxAttempts:     model.MaxAttempts,
		AllowedRoles:    roles,
		IsActive:        model.IsActive,
		CreatedBy:       model.CreatedBy,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

// NewExamResponseSlice converts a slice of exams.
func NewExamResponseSlice(exams []models.Exam) []ExamResponse {
	responses := make([]ExamResponse, 0, len(exams))
	for _, exam := range exams {
		responses = append(responses, NewExamResponse(exam))
	}
	return responses
}

// ExamClockFrame is pushed over the exam clock websocket.
type ExamClockFrame struct {
	ExamID           uint      `json:"exam_id"`
	ServerTime       time.Time `json:"server_time"`
	State            string    `json:"state"`
	StartsInSeconds  int64     `json:"starts_in_seconds"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// ParseTimestamp parses the RFC3339 timestamps accepted by exam payloads.
func ParseTimestamp(value string) (time.Time, error) {
	return time.Parse(isoLayout, value)
}
