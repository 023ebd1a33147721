package dto

import (
	"time"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// AnswerSubmission is one answer in a submitted attempt.
type AnswerSubmission struct {
	QuestionID       uint   `json:"question_id" validate:"required,min=1"`
	SelectedAnswer   string `json:"selected_answer" validate:"max=10000"`
	TimeSpentSeconds int    `json:"time_spent_seconds" validate:"min=0"`
}

// SubmitAttemptRequest carries the final answer set of an attempt.
type SubmitAttemptRequest struct {
	Answers []AnswerSubmission `json:"answers" validate:"max=500,dive"`
}

// ResultListRequest defines listing filters for results.
type ResultListRequest struct {
	Status   string
	Page     int
	PageSize int
}

// ResultAnswerResponse is a scored answer.
type ResultAnswerResponse struct {
	QuestionID       uint   `json:"question_id"`
	Position         int    `json:"position"`
	SelectedAnswer   string `json:"selected_answer"`
	IsCorrect        bool   `json:"is_correct"`
	MarksObtained    int    `json:"marks_obtained"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}

// ResultResponse is the serialized attempt.
type ResultResponse struct {
	ID              uint                   `json:"id"`
	ExamID          uint                   `json:"exam_id"`
	StudentID       uint                   `json:"student_id"`
	AttemptNumber   int                    `json:"attempt_number"`
	Status          models.ResultStatus    `json:"status"`
	TotalMarks      int                    `json:"total_marks"`
	MarksObtained   int                    `json:"marks_obtained"`
	Percentage      float64                `json:"percentage"`
	IsPassed        bool                   `json:"is_passed"`
	StartedAt       time.Time              `json:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	DurationSeconds int                    `json:"duration_seconds"`
	Answers         []ResultAnswerResponse `json:"answers,omitempty"`
}

// ResultListResponse wraps a paginated result listing.
type ResultListResponse struct {
	Items      []ResultResponse `json:"items"`
	Pagination PaginationMeta   `json:"pagination"`
}

// AttemptResponse is returned when an attempt is started or resumed.
type AttemptResponse struct {
	Result   ResultResponse      `json:"result"`
	Exam     ExamResponse        `json:"exam"`
	Paper    []QuestionPaperItem `json:"paper"`
	Resumed  bool                `json:"resumed"`
	Deadline time.Time           `json:"deadline"`
}

// ResultSummaryResponse aggregates completed attempts of an exam.
type ResultSummaryResponse struct {
	ExamID            uint    `json:"exam_id"`
	Attempts          int64   `json:"attempts"`
	Passed            int64   `json:"passed"`
	PassRate          float64 `json:"pass_rate"`
	AveragePercentage float64 `json:"average_percentage"`
	HighestPercentage float64 `json:"highest_percentage"`
	LowestPercentage  float64 `json:"lowest_percentage"`
	CacheHit          bool    `json:"cache_hit"`
}

// NewResultResponse converts a model into a DTO.
func NewResultResponse(model models.ExamResult) ResultResponse {
	response := ResultResponse{
		ID:              model.ID,
		ExamID:          model.ExamID,
		StudentID:       model.StudentID,
		AttemptNumber:   model.AttemptNumber,
		Status:          model.Status,
		TotalMarks:      model.TotalMarks,
		MarksObtained:   model.MarksObtained,
		Percentage:      model.Percentage,
		IsPassed:        model.IsPassed,
		StartedAt:       model.StartedAt,
		CompletedAt:     model.CompletedAt,
		DurationSeconds: model.DurationSeconds,
	}
	if len(model.Answers) > 0 {
		response.Answers = make([]ResultAnswerResponse, 0, len(model.Answers))
		for _, answer := range model.Answers {
			response.Answers = append(response.Answers, ResultAnswerResponse{
				QuestionID:       answer.QuestionID,
				Position:         answer.Position,
				SelectedAnswer:   answer.SelectedAnswer,
				IsCorrect:        answer.IsCorrect,
				MarksObtained:    answer.MarksObtained,
				TimeSpentSeconds: answer.TimeSpentSeconds,
			})
		}
	}
	return response
}

// NewResultResponseSlice converts a slice of results.
func NewResultResponseSlice(results []models.ExamResult) []ResultResponse {
	responses := make([]ResultResponse, 0, len(results))
	for _, result := range results {
		responses = append(responses, NewResultResponse(result))
	}
	return responses
}
