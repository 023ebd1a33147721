package dto

import (
	"time"

	"github.com/noah-isme/gema-exam-api/internal/models"
)

// QuestionCreateRequest describes a new question bank entry.
type QuestionCreateRequest struct {
	Text          string   `json:"text" validate:"required,min=3"`
	Type          string   `json:"type" validate:"required,oneof=multiple_choice true_false short_answer essay"`
	Options       []string `json:"options" validate:"omitempty,max=10"`
	CorrectAnswer string   `json:"correct_answer" validate:"required"`
	Marks         int      `json:"marks" validate:"required,min=1"`
	Difficulty    string   `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Subject       string   `json:"subject" validate:"required,max=128"`
	Explanation   string   `json:"explanation" validate:"omitempty,max=5000"`
}

// QuestionUpdateRequest describes a partial question update.
type QuestionUpdateRequest struct {
	Text          *string  `json:"text" validate:"omitempty,min=3"`
	Type          *string  `json:"type" validate:"omitempty,oneof=multiple_choice true_false short_answer essay"`
	Options       []string `json:"options" validate:"omitempty,max=10"`
	CorrectAnswer *string  `json:"correct_answer" validate:"omitempty,min=1"`
	Marks         *int     `json:"marks" validate:"omitempty,min=1"`
	Difficulty    *string  `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Subject       *string  `json:"subject" validate:"omitempty,min=1,max=128"`
	Explanation   *string  `json:"explanation" validate:"omitempty,max=5000"`
}

// QuestionListRequest defines question bank filters.
type QuestionListRequest struct {
	Subject    string
	Type       string
	Difficulty string
	Search     string
	Page       int
	PageSize   int
}

// QuestionResponse is the full question including its answer key.
type QuestionResponse struct {
	ID            uint                `json:"id"`
	Text          string              `json:"text"`
	Type          models.QuestionType `json:"type"`
	Options       []string            `json:"options"`
	CorrectAnswer string              `json:"correct_answer"`
	Marks         int                 `json:"marks"`
	Difficulty    string              `json:"difficulty"`
	Subject       string              `json:"subject"`
	Explanation   string              `json:"explanation,omitempty"`
	ImageURL      string              `json:"image_url,omitempty"`
	CreatedBy     uint                `json:"created_by"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// QuestionPaperItem is what a student sees while sitting an exam.
type QuestionPaperItem struct {
	ID       uint                `json:"id"`
	Position int                 `json:"position"`
	Text     string              `json:"text"`
	Type     models.QuestionType `json:"type"`
	Options  []string            `json:"options"`
	Marks    int                 `json:"marks"`
	ImageURL string              `json:"image_url,omitempty"`
}

// QuestionListResponse wraps a paginated question listing.
type QuestionListResponse struct {
	Items      []QuestionResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
}

// NewQuestionResponse converts a model into a DTO.
func NewQuestionResponse(model models.Question) QuestionResponse {
	options := make([]string, 0, len(model.Options))
	options = append(options, model.Options...)

	return QuestionResponse{
		ID:            model.ID,
		Text:          model.Text,
		Type:          model.Type,
		Options:       options,
		CorrectAnswer: model.CorrectAnswer,
		Marks:         model.Marks,
		Difficulty:    model.Difficulty,
		Subject:       model.Subject,
		Explanation:   model.Explanation,
		ImageURL:      model.ImageURL,
		CreatedBy:     model.CreatedBy,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

// NewQuestionResponseSlice converts a slice of questions.
func NewQuestionResponseSlice(questions []models.Question) []QuestionResponse {
	responses := make([]QuestionResponse, 0, len(questions))
	for _, question := range questions {
		responses = append(responses, NewQuestionResponse(question))
	}
	return responses
}

// NewQuestionPaper strips answer keys and explanations from ordered questions.
func NewQuestionPaper(questions []models.Question) []QuestionPaperItem {
	paper := make([]QuestionPaperItem, 0, len(questions))
	for position, question := range questions {
		options := make([]string, 0, len(question.Options))
		options = append(options, question.Options...)
		paper = append(paper, QuestionPaperItem{
			ID:       question.ID,
			Position: position,
			Text:     question.Text,
			Type:     question.Type,
			Options:  options,
			Marks:    question.Marks,
			ImageURL: question.ImageURL,
		})
	}
	return paper
}
