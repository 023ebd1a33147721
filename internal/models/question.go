package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuestionType enumerates supported answer formats.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionEssay          QuestionType = "essay"
)

// Answer values accepted by true/false questions.
const (
	AnswerTrue  = "True"
	AnswerFalse = "False"
)

// Question is a question bank entry that exams reference.
type Question struct {
	ID            uint                       `gorm:"primaryKey" json:"id"`
	Text          string                     `gorm:"type:text;not null" json:"text"`
	Type          QuestionType               `gorm:"size:32;not null;index" json:"type"`
	Options       datatypes.JSONSlice[string] `gorm:"type:json" json:"options"`
	CorrectAnswer string                     `gorm:"type:text;not null" json:"correct_answer"`
	Marks         int                        `gorm:"not null" json:"marks"`
	Difficulty    string                     `gorm:"size:16;not null;default:medium" json:"difficulty"`
	Subject       string                     `gorm:"size:128;not null;index" json:"subject"`
	Explanation   string                     `gorm:"type:text" json:"explanation"`
	ImageURL      string                     `gorm:"size:512" json:"image_url"`
	CreatedBy     uint                       `gorm:"not null;index" json:"created_by"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}
